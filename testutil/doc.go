// Copyright 2026 AgentFlow Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license.

/*
Package testutil 提供 CampusFlow 测试的共享工具和辅助函数。

# 概述

testutil 包为各包的单元测试提供统一的辅助能力，
避免重复实现相似的测试基础设施。

# 核心能力

  - 上下文辅助: TestContext / TestContextWithTimeout / CancelledContext，
    自动注册 Cleanup 防止泄漏
  - 时钟: StepClock 每次读取前进固定步长，用于时间戳顺序断言
  - 断言工具: AssertJSONEqual / AssertContains / AssertEventuallyTrue
  - 等待工具: WaitFor / WaitForChannel
  - 数据工具: MustJSON / MustParseJSON

# 子包

  - testutil/mocks: MockInvoker（模型调用）、MockProvider（LLM Provider）、
    MockGovernanceGate / MockAlignmentGate（策略网关）、
    MockContextProvider（用户上下文），均支持 Builder 模式、错误注入与调用记录
  - testutil/fixtures: 测试数据工厂，提供预置 Agent 定义、任务输入与模型响应

# 使用示例

	ctx := testutil.TestContext(t)
	invoker := mocks.NewMockInvoker().WithResponse("low risk")
	gov := mocks.NewMockGovernanceGate().WithDeny("rate_limited", "too many requests")
*/
package testutil
