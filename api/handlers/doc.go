// Copyright (c) AgentFlow Authors.
// Licensed under the MIT License.

/*
Package handlers 提供 CampusFlow HTTP API 的请求处理器实现。

# 概述

handlers 包实现 Agent 注册、任务执行、任务查询与健康检查端点。
所有 Handler 均遵循标准 net/http 接口，路由使用 Go 1.22 ServeMux 模式
（"METHOD /path/{id}"），通过 Swagger 注解生成 API 文档。

# 核心类型

  - AgentHandler     — Agent 注册/启停/统计、任务执行与任务查询
  - AgentService     — Handler 依赖的编排服务接口（*orchestrator.Orchestrator 实现）
  - HealthHandler    — 服务健康检查（/health, /healthz, /ready）
  - Response         — 统一 JSON 响应结构（success + data + error + timestamp + request_id）
  - ErrorInfo        — 结构化错误信息，含 code、message、retryable 标记
  - HealthCheck      — 可插拔健康检查接口；database.PoolManager 直接实现

# 主要能力

  - 统一响应格式：WriteSuccess / WriteCreated / WriteError / WriteJSON
  - request_id 取自 RequestID 中间件预先写入的 X-Request-ID 响应头
  - 请求验证：DecodeJSONBody（1 MB 限制 + 严格模式）、ValidateContentType
  - ErrorCode → HTTP 状态码自动映射；错误 Cause 只进日志，不出响应
  - 执行结果映射：completed=200、blocked=403、failed=502、cancelled=408，
    非成功结果仍在 data 中携带完整 Result
  - 已认证调用者（JWT sub / X-User-ID）覆盖请求体中的 user_id
*/
package handlers
