// 版权所有 2024 AgentFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 llm 提供统一的大语言模型接入层：Provider 抽象、调用器与计价。

# 概述

编排引擎只依赖 [ModelInvoker]：给定提示词与参数，在限定时间内
返回生成文本与 Token 用量。不同服务商的接口差异由 [Provider]
实现屏蔽（见子包 providers/openaicompat）。

# 核心接口

  - [Provider]：服务商适配接口，提供 Completion / HealthCheck / Name
  - [ModelInvoker]：引擎侧调用接口，提供 Generate

# 核心类型

  - [Invoker]：默认 ModelInvoker，负责路由、超时、重试、熔断与用量估算
  - [GenerateRequest] / [Generation]：一次调用的输入与结果
  - [ChatRequest] / [ChatResponse]：Provider 层请求与响应
  - [Error]：带错误码与可重试标记的模型错误
  - [PriceTable]：按模型前缀计价

# 错误语义

  - 超过调用时限返回 LLM_UPSTREAM_TIMEOUT；调用方取消返回 context.Canceled
  - 熔断打开时返回 LLM_MODEL_OVERLOADED
  - 客户端错误（鉴权、参数、配额）不重试，也不计入熔断

# 用量估算

Provider 未返回 Token 用量时，使用 tokenizer 子包按模型估算，
并设置 [Generation].UsageEstimated。
*/
package llm
