// Copyright (c) MarginFlow Authors.
// Licensed under the MIT License.

/*
包 persistence 提供工作流检查点的持久化存储。

所有后端都实现 CheckpointStore（workflow.Checkpointer 加 Close/Ping），
保存的文档统一由 workflow.MarshalCheckpoint 编码。

# 版本比较

Save 只接受比已存版本大 1 的写入，否则返回 CHECKPOINT_CONFLICT：

  - Memory / File：进程内互斥锁
  - Redis：WATCH/MULTI，被并发修改时按 RetryConfig 重试
  - SQL：INSERT ... ON CONFLICT DO NOTHING 与 UPDATE ... WHERE version = n-1
  - Badger：事务内读写，ErrConflict 时重试
  - Mongo：InsertOne（_id 唯一）与带版本条件的 UpdateOne

# 使用方式

	store, err := persistence.NewCheckpointStore(config, logger)
	exec, err := escalation.New(opts, store)

Load 对不存在的线程返回 workflow.ErrCheckpointNotFound，文档无法解析时返回
CHECKPOINT_CORRUPT；关闭后的存储返回 ErrStoreClosed。
*/
package persistence
