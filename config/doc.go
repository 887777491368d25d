// Package config 提供 CampusFlow 的配置管理功能。
//
// 配置按 默认值 → YAML 文件 → CAMPUSFLOW_ 前缀环境变量 的顺序叠加，
// 由 Validate 做统一校验。Reloader 监听配置文件并在变更后重新加载，
// 订阅者据此热更新治理规则与日志级别。
package config
