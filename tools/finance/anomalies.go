package finance

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/marginflow/llm/tools"
	"github.com/BaSui01/marginflow/types"
)

// ToolFetchAnomalies is the registered name of the anomaly query.
const ToolFetchAnomalies = "fetch_margin_anomalies"

const (
	DefaultDays    = 30
	DefaultMinLoss = 500
)

// AnomalyQuery is the input of the anomaly query.
type AnomalyQuery struct {
	Days    *int `json:"days,omitempty"`
	MinLoss *int `json:"min_loss,omitempty"`
}

// AnomalyItem is one loss-making SKU.
type AnomalyItem struct {
	SKU      string `json:"sku"`
	Loss     int    `json:"loss"`
	Qty      int    `json:"qty"`
	Category string `json:"category"`
}

// AnomalyReport is the output of the anomaly query.
type AnomalyReport struct {
	Days      int           `json:"days"`
	MinLoss   int           `json:"min_loss"`
	Count     int           `json:"count"`
	TotalLoss int           `json:"total_loss"`
	Items     []AnomalyItem `json:"items"`
}

// FindAnomalies selects records with negative profit whose loss is at least
// minLoss, keeping record order.
func FindAnomalies(records []Record, days, minLoss int) AnomalyReport {
	report := AnomalyReport{Days: days, MinLoss: minLoss, Items: []AnomalyItem{}}
	for _, r := range records {
		profit := r.Profit()
		if profit >= 0 || -profit < minLoss {
			continue
		}
		report.Items = append(report.Items, AnomalyItem{
			SKU:      r.SKU,
			Loss:     -profit,
			Qty:      r.Qty,
			Category: r.Category,
		})
		report.TotalLoss += -profit
	}
	report.Count = len(report.Items)
	return report
}

// AnomalyToolConfig configures the anomaly query tool.
type AnomalyToolConfig struct {
	Source    RecordSource
	Timeout   time.Duration
	RateLimit *tools.RateLimitConfig
}

// NewAnomalyTool creates the anomaly query ToolFunc.
func NewAnomalyTool(config AnomalyToolConfig, logger *zap.Logger) (tools.ToolFunc, tools.ToolMetadata) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if config.Source == nil {
		config.Source = NewStaticSource(DefaultRecords())
	}

	fn := func(ctx context.Context, args json.RawMessage) (json.RawMessage, error) {
		var q AnomalyQuery
		if err := json.Unmarshal(args, &q); err != nil {
			return nil, fmt.Errorf("invalid %s arguments: %w", ToolFetchAnomalies, err)
		}
		days, minLoss := DefaultDays, DefaultMinLoss
		if q.Days != nil {
			days = *q.Days
		}
		if q.MinLoss != nil {
			minLoss = *q.MinLoss
		}

		records, err := config.Source.Records(ctx, days)
		if err != nil {
			return nil, fmt.Errorf("load records: %w", err)
		}
		report := FindAnomalies(records, days, minLoss)

		logger.Info("margin anomalies fetched",
			zap.Int("days", days),
			zap.Int("min_loss", minLoss),
			zap.Int("count", report.Count),
			zap.Int("total_loss", report.TotalLoss))
		return json.Marshal(report)
	}

	metadata := tools.ToolMetadata{
		Schema: types.ToolSchema{
			Name:        ToolFetchAnomalies,
			Description: "Return SKUs with negative profit whose absolute loss >= min_loss in the last `days`.",
			Parameters: json.RawMessage(`{
				"type": "object",
				"properties": {
					"days": {
						"type": "integer",
						"minimum": 0,
						"description": "Look-back window in days (default: 30)",
						"default": 30
					},
					"min_loss": {
						"type": "integer",
						"minimum": 0,
						"description": "Minimum absolute loss for a SKU to be reported (default: 500)",
						"default": 500
					}
				},
				"additionalProperties": false
			}`),
		},
		Timeout:   config.Timeout,
		RateLimit: config.RateLimit,
	}
	return fn, metadata
}
