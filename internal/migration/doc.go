// Copyright (c) MarginFlow Authors.
// Licensed under the MIT License.

/*
包 migration 管理 SQL 检查点存储的表结构，基于 golang-migrate，
支持 PostgreSQL、MySQL 与 SQLite。

迁移文件通过 embed.FS 内嵌在 migrations/<dialect>/ 下。SQLite 走
纯 Go 的 glebarez/go-sqlite 驱动，与 gorm 侧共用同一个驱动注册。

# 核心类型

  - Migrator / DefaultMigrator：Up/Down/Force/Version/Status/Info/Close。
  - Config：数据库类型、DSN、版本表名与锁超时。
  - MigrationInfo：迁移进度，以及 checkpoints 表是否存在、线程数与最大版本。
  - CLI：marginflow migrate 子命令的格式化输出。

工厂函数 NewMigratorFromConfig 直接使用 config.DatabaseConfig.DSN()，
与 persistence.SQLCheckpointStore 连接同一个库。
*/
package migration
