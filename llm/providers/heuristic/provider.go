package heuristic

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/BaSui01/marginflow/llm"
	"github.com/BaSui01/marginflow/tools/finance"
	"github.com/BaSui01/marginflow/types"
)

const providerName = "heuristic"

// Config 决策规则参数
type Config struct {
	// AnalystAgent / FinanceAgent 是 ChatRequest.Agent 的取值
	AnalystAgent string
	FinanceAgent string
	// Days / MinLoss 是 Analyst 发起查询时使用的参数
	Days    int
	MinLoss int
	// EscalationThreshold: total_loss 严格大于它时升级
	EscalationThreshold int
	// HighSeverityFactor: total_loss 超过阈值的该倍数时工单记为 high
	HighSeverityFactor int
}

// DefaultConfig 返回与默认演示一致的参数
func DefaultConfig() Config {
	return Config{
		AnalystAgent:        "analyst",
		FinanceAgent:        "finance",
		Days:                finance.DefaultDays,
		MinLoss:             0,
		EscalationThreshold: 500,
		HighSeverityFactor:  2,
	}
}

// Provider is a deterministic, offline stand-in for the reasoning service.
// It reads the transcript since the latest user message and answers as the
// Analyst or the Finance partner would.
type Provider struct {
	cfg    Config
	logger *zap.Logger
}

var _ llm.Provider = (*Provider)(nil)

// NewProvider 创建启发式 Provider；零值字段取 DefaultConfig 的值
func NewProvider(cfg Config, logger *zap.Logger) *Provider {
	if logger == nil {
		logger = zap.NewNop()
	}
	def := DefaultConfig()
	if cfg.AnalystAgent == "" {
		cfg.AnalystAgent = def.AnalystAgent
	}
	if cfg.FinanceAgent == "" {
		cfg.FinanceAgent = def.FinanceAgent
	}
	if cfg.Days <= 0 {
		cfg.Days = def.Days
	}
	if cfg.MinLoss < 0 {
		cfg.MinLoss = 0
	}
	if cfg.EscalationThreshold <= 0 {
		cfg.EscalationThreshold = def.EscalationThreshold
	}
	if cfg.HighSeverityFactor <= 0 {
		cfg.HighSeverityFactor = def.HighSeverityFactor
	}
	return &Provider{
		cfg:    cfg,
		logger: logger.With(zap.String("component", "heuristic_provider")),
	}
}

func (p *Provider) Name() string { return providerName }

// Completion implements llm.Provider.
func (p *Provider) Completion(ctx context.Context, req *llm.ChatRequest) (*llm.ChatResponse, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if req == nil {
		return nil, types.NewError(types.ErrInvalidRequest, "nil chat request")
	}

	var (
		msg types.Message
		err error
	)
	switch req.Agent {
	case p.cfg.AnalystAgent:
		msg, err = p.analyst(req)
	case p.cfg.FinanceAgent:
		msg, err = p.finance(req)
	default:
		return nil, fmt.Errorf("heuristic provider has no policy for agent %q", req.Agent)
	}
	if err != nil {
		return nil, err
	}

	p.logger.Debug("heuristic reply",
		zap.String("agent", req.Agent),
		zap.Int("tool_calls", len(msg.ToolCalls)),
		zap.Bool("final", msg.Final))

	finish := "stop"
	if msg.HasToolCalls() {
		finish = "tool_calls"
	}
	return &llm.ChatResponse{
		ID:        uuid.NewString(),
		Provider:  providerName,
		Model:     providerName,
		Choices:   []llm.ChatChoice{{Index: 0, FinishReason: finish, Message: msg}},
		CreatedAt: types.Now(),
	}, nil
}

// ====== Analyst ======

func (p *Provider) analyst(req *llm.ChatRequest) (types.Message, error) {
	turn := currentTurn(req.Messages)
	tail, _ := last(turn)

	// Finance 把控制交还时直接收尾
	if tail.Role == types.RoleAgent && tail.Name == p.cfg.FinanceAgent {
		return final("FINAL: Finance has reviewed the anomalies; no further analysis needed."), nil
	}

	res, ok := latestToolResult(turn, finance.ToolFetchAnomalies)
	if !ok {
		if !offers(req.Tools, finance.ToolFetchAnomalies) {
			return final("FINAL: anomaly data is not available to me, nothing to report."), nil
		}
		args, err := json.Marshal(map[string]int{"days": p.cfg.Days, "min_loss": p.cfg.MinLoss})
		if err != nil {
			return types.Message{}, err
		}
		return call(finance.ToolFetchAnomalies, args), nil
	}
	if res.ErrorKind != "" {
		return final(fmt.Sprintf("FINAL: could not retrieve margin anomalies (%s): %s", res.ErrorKind, res.Content)), nil
	}

	var report finance.AnomalyReport
	if err := json.Unmarshal([]byte(res.Content), &report); err != nil {
		return final("FINAL: the anomaly report was unreadable, nothing to escalate."), nil
	}
	if report.TotalLoss <= p.cfg.EscalationThreshold {
		return final(fmt.Sprintf("FINAL: total_loss=%d across %d SKU(s) in the last %d days is within the %d threshold; no escalation needed.",
			report.TotalLoss, report.Count, report.Days, p.cfg.EscalationThreshold)), nil
	}
	return say(fmt.Sprintf("Summary: %d SKU(s) lost %d in the last %d days (%s). total_loss=%d exceeds %d. Finance, please decide whether to escalate.",
		report.Count, report.TotalLoss, report.Days, describeItems(report.Items), report.TotalLoss, p.cfg.EscalationThreshold)), nil
}

// ====== Finance ======

func (p *Provider) finance(req *llm.ChatRequest) (types.Message, error) {
	turn := currentTurn(req.Messages)
	tail, _ := last(turn)

	if tail.Role == types.RoleTool && tail.Name == finance.ToolRaiseTicket {
		if tail.ErrorKind != "" {
			return final(fmt.Sprintf("FINAL: escalation warranted but the ticket could not be raised (%s): %s", tail.ErrorKind, tail.Content)), nil
		}
		var t finance.Ticket
		if err := json.Unmarshal([]byte(tail.Content), &t); err != nil {
			return final("FINAL: ticket raised; " + tail.Content), nil
		}
		return final(fmt.Sprintf("FINAL: raised %s (severity %s): %s", t.ID, t.Severity, t.Summary)), nil
	}

	res, ok := latestToolResult(turn, finance.ToolFetchAnomalies)
	if !ok || res.ErrorKind != "" {
		return final("FINAL: no anomaly figures were shared, so there is nothing to escalate."), nil
	}
	var report finance.AnomalyReport
	if err := json.Unmarshal([]byte(res.Content), &report); err != nil || report.TotalLoss <= p.cfg.EscalationThreshold {
		return final("FINAL: losses are within tolerance; no ticket needed."), nil
	}
	if !offers(req.Tools, finance.ToolRaiseTicket) {
		return final("FINAL: escalation warranted but I cannot raise tickets; please escalate manually."), nil
	}

	severity := finance.SeverityMedium
	if report.TotalLoss > p.cfg.EscalationThreshold*p.cfg.HighSeverityFactor {
		severity = finance.SeverityHigh
	}
	args, err := json.Marshal(map[string]string{
		"summary": fmt.Sprintf("Margin loss of %d across %d SKU(s) in %s over the last %d days",
			report.TotalLoss, report.Count, categories(report.Items), report.Days),
		"severity": string(severity),
	})
	if err != nil {
		return types.Message{}, err
	}
	return call(finance.ToolRaiseTicket, args), nil
}

// ====== helpers ======

// currentTurn 返回最近一条用户消息之后（含）的转录
func currentTurn(msgs []types.Message) []types.Message {
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role == types.RoleUser {
			return msgs[i:]
		}
	}
	return msgs
}

func last(msgs []types.Message) (types.Message, bool) {
	if len(msgs) == 0 {
		return types.Message{}, false
	}
	return msgs[len(msgs)-1], true
}

func latestToolResult(msgs []types.Message, tool string) (types.Message, bool) {
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role == types.RoleTool && msgs[i].Name == tool {
			return msgs[i], true
		}
	}
	return types.Message{}, false
}

func offers(schemas []types.ToolSchema, name string) bool {
	for _, s := range schemas {
		if s.Name == name {
			return true
		}
	}
	return false
}

func describeItems(items []finance.AnomalyItem) string {
	parts := make([]string, len(items))
	for i, it := range items {
		parts[i] = fmt.Sprintf("%s %s -%d", it.SKU, it.Category, it.Loss)
	}
	return strings.Join(parts, ", ")
}

func categories(items []finance.AnomalyItem) string {
	seen := map[string]struct{}{}
	var out []string
	for _, it := range items {
		if _, ok := seen[it.Category]; ok {
			continue
		}
		seen[it.Category] = struct{}{}
		out = append(out, it.Category)
	}
	sort.Strings(out)
	return strings.Join(out, "/")
}

func say(content string) types.Message {
	return types.Message{Role: types.RoleAgent, Content: content}
}

func final(content string) types.Message {
	return types.Message{Role: types.RoleAgent, Content: content, Final: true}
}

func call(tool string, args json.RawMessage) types.Message {
	return types.Message{
		Role: types.RoleAgent,
		ToolCalls: []types.ToolCall{{
			ID:        "call_" + uuid.NewString(),
			Name:      tool,
			Arguments: args,
		}},
	}
}
