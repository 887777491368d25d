// 版权所有 2024 AgentFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 migration 管理 CampusFlow 关系型存储的 Schema 版本，支持
PostgreSQL、MySQL 与 SQLite，基于 golang-migrate 实现。

# 概述

迁移文件以 embed.FS 内嵌在 migrations/<dialect>/ 下，依次创建
agents、tasks 与 agent_stats 三张表，列定义与 GORM 模型保持一致。
SQLite 以 "sqlite" 驱动名打开，由二进制链接的纯 Go 驱动提供。

# 核心类型

  - Migrator：Up/Down/Steps/Force/Version/Status/Info/Close。
  - DefaultMigrator：封装 golang-migrate 实例，ctx 结束时请求优雅停止。
  - Config：数据库类型、连接 URL、迁移表名与锁超时。
  - CLI：为 campusflow migrate 子命令输出格式化结果。
*/
package migration
