// Package api 定义 CampusFlow HTTP API 的请求与响应类型。
//
// # API 概览
//
//   - POST /api/v1/agents                 注册或替换 Agent 定义
//   - GET  /api/v1/agents                 列出 Agent
//   - GET  /api/v1/agents/{id}            查询 Agent
//   - PUT  /api/v1/agents/{id}/enabled    启用或软禁用 Agent
//   - GET  /api/v1/agents/{id}/stats      性能快照
//   - POST /api/v1/agents/{id}/execute    执行任务
//   - GET  /api/v1/agents/{id}/tasks      最近任务（?limit=）
//   - GET  /api/v1/tasks/{id}             查询任务
//   - GET  /health, /healthz, /ready      健康检查
//
// # 认证
//
// 开启 JWT 时需携带 Authorization: Bearer <token>，sub 声明作为调用者 ID；
// 未开启时调用者 ID 取自 X-User-ID 头。
//
// # 响应格式
//
// 所有 /api 端点返回统一信封：
//
//	{"success": true, "data": {...}, "timestamp": "...", "request_id": "..."}
//	{"success": false, "error": {"code": "AGENT_NOT_FOUND", "message": "..."}, ...}
package api
