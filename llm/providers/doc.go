// Copyright 2026 AgentFlow Authors. All rights reserved.
// Use of this source code is governed by the project license.

/*
# 概述

包 providers 提供模型服务商适配的公共基础层：请求/响应转换与错误映射。
具体实现位于子包，当前为 openaicompat。

# 核心类型

  - BaseProviderConfig — Provider 共享配置（APIKey、BaseURL、Model、Timeout）
  - OpenAICompat* 系列 — OpenAI 兼容 API 的请求/响应结构体

# 核心函数

  - MapHTTPError — 将 HTTP 状态码映射为 llm.Error（含 Retryable 标记）
  - ReadErrorMessage — 解析上游错误消息
  - ToLLMChatResponse — OpenAI 兼容响应到 llm.ChatResponse 的转换
  - ChooseModel — 按优先级选择模型（请求 > 默认 > 兜底）
*/
package providers
