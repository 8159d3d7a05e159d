// Copyright (c) MarginFlow Authors.
// Licensed under the MIT License.

/*
包 database 提供基于 GORM 的数据库连接池管理，供 SQL 检查点存储使用。

# 核心类型

  - PoolManager：持有 GORM DB 与底层 sql.DB，提供 DB()、Ping()、Stats()、Close()。
  - PoolConfig：最大空闲/打开连接数、连接生命周期与健康检查间隔。
  - Open / Dialector：按驱动名（postgres、mysql、sqlite）打开数据库，
    sqlite 走纯 Go 的 glebarez 实现。

# 事务

WithTransaction 执行单次事务；WithTransactionRetry 仅对死锁、序列化失败、
SQLite 忙等瞬时错误做指数退避重试，业务错误（例如版本冲突）直接返回。
*/
package database
