package finance

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/BaSui01/marginflow/llm/tools"
	"github.com/BaSui01/marginflow/types"
)

// ToolRaiseTicket is the registered name of the ticket tool.
const ToolRaiseTicket = "raise_ticket"

// Severity 工单严重级别
type Severity string

const (
	SeverityLow    Severity = "low"
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
)

// Ticket is an issued ticket.
type Ticket struct {
	ID        string    `json:"ticket_id"`
	Severity  Severity  `json:"severity"`
	Summary   string    `json:"summary"`
	CreatedAt time.Time `json:"-"`
}

// NewTicketID returns "TKT-" followed by six uppercase hex characters.
func NewTicketID() string {
	id := uuid.New()
	return "TKT-" + strings.ToUpper(fmt.Sprintf("%x", id[:3]))
}

// TicketLog is the in-memory ticket backend.
type TicketLog struct {
	mu      sync.Mutex
	tickets []Ticket
}

func NewTicketLog() *TicketLog {
	return &TicketLog{}
}

// Raise issues a new ticket.
func (l *TicketLog) Raise(summary string, severity Severity) Ticket {
	t := Ticket{
		ID:        NewTicketID(),
		Severity:  severity,
		Summary:   summary,
		CreatedAt: types.Now(),
	}
	l.mu.Lock()
	l.tickets = append(l.tickets, t)
	l.mu.Unlock()
	return t
}

// Tickets returns a copy of all issued tickets in issue order.
func (l *TicketLog) Tickets() []Ticket {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]Ticket(nil), l.tickets...)
}

type raiseTicketArgs struct {
	Summary  string   `json:"summary"`
	Severity Severity `json:"severity,omitempty"`
}

// TicketToolConfig configures the ticket tool.
type TicketToolConfig struct {
	Log       *TicketLog
	Timeout   time.Duration
	RateLimit *tools.RateLimitConfig
}

// NewTicketTool creates the ticket ToolFunc.
func NewTicketTool(config TicketToolConfig, logger *zap.Logger) (tools.ToolFunc, tools.ToolMetadata) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if config.Log == nil {
		config.Log = NewTicketLog()
	}

	fn := func(ctx context.Context, args json.RawMessage) (json.RawMessage, error) {
		var params raiseTicketArgs
		if err := json.Unmarshal(args, &params); err != nil {
			return nil, fmt.Errorf("invalid %s arguments: %w", ToolRaiseTicket, err)
		}
		if strings.TrimSpace(params.Summary) == "" {
			return nil, fmt.Errorf("summary is required")
		}
		if params.Severity == "" {
			params.Severity = SeverityMedium
		}

		t := config.Log.Raise(params.Summary, params.Severity)
		logger.Info("ticket raised",
			zap.String("ticket_id", t.ID),
			zap.String("severity", string(t.Severity)))
		return json.Marshal(t)
	}

	metadata := tools.ToolMetadata{
		Schema: types.ToolSchema{
			Name:        ToolRaiseTicket,
			Description: "Open a ticket in the Ops/Finance system. Returns the ticket ID.",
			Parameters: json.RawMessage(`{
				"type": "object",
				"properties": {
					"summary": {
						"type": "string",
						"minLength": 1,
						"description": "Short description of the issue"
					},
					"severity": {
						"type": "string",
						"enum": ["low", "medium", "high"],
						"description": "Ticket severity (default: medium)",
						"default": "medium"
					}
				},
				"required": ["summary"],
				"additionalProperties": false
			}`),
		},
		Timeout:   config.Timeout,
		RateLimit: config.RateLimit,
	}
	return fn, metadata
}
