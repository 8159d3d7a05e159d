// Copyright (c) MarginFlow Authors.
// Licensed under the MIT License.

/*
Package testutil 提供 MarginFlow 测试的共享工具和辅助函数。

# 核心能力

  - 上下文辅助: TestContext / TestContextWithTimeout / CancelledContext，
    自动注册 Cleanup 防止泄漏
  - 断言工具: AssertMessagesEqual / AssertToolCallsEqual / AssertContains /
    AssertEventuallyTrue
  - 转录工具: ToolResults / CountAnswers / Speakers / MustJSON

# 子包

  - testutil/mocks: MockProvider（固定回复）、ScriptedProvider（按 Agent
    回放脚本）、MockToolExecutor
  - testutil/fixtures: 预置转录与检查点样例

# 使用示例

	ctx := testutil.TestContext(t)
	provider := mocks.NewScriptedProvider().
	    On("analyst", mocks.CallTool("c1", "fetch_margin_anomalies", nil), mocks.Final("FINAL: ok"))
*/
package testutil
