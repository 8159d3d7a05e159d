package escalation

// 角色指令，逐字发送给推理服务
const (
	AnalystInstruction = "You are a Data Analyst. Use tools to get margin anomalies. " +
		"If total_loss <= 500, conclude with 'FINAL:' and a brief summary. " +
		"If total_loss > 500, summarize and ask Finance to decide, do not use 'FINAL:' yet."

	FinanceInstruction = "You are a Finance Partner. If escalation is warranted, call raise_ticket with a short summary. " +
		"Then conclude with 'FINAL:' and what you did. If not, just respond with 'FINAL:' and your rationale."
)

// 演示默认值
const (
	DemoThread = "margin-demo-1"
	DemoPrompt = "Investigate margin anomalies for the last 30 days. " +
		"Escalate if total_loss exceeds 500."
)
