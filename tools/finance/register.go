package finance

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/BaSui01/marginflow/llm/tools"
)

// Config bundles the backends of both finance tools.
type Config struct {
	Anomalies AnomalyToolConfig
	Tickets   TicketToolConfig
}

// Register adds fetch_margin_anomalies and raise_ticket to registry.
func Register(registry tools.ToolRegistry, config Config, logger *zap.Logger) error {
	fn, meta := NewAnomalyTool(config.Anomalies, logger)
	if err := registry.Register(ToolFetchAnomalies, fn, meta); err != nil {
		return fmt.Errorf("register %s: %w", ToolFetchAnomalies, err)
	}
	fn, meta = NewTicketTool(config.Tickets, logger)
	if err := registry.Register(ToolRaiseTicket, fn, meta); err != nil {
		return fmt.Errorf("register %s: %w", ToolRaiseTicket, err)
	}
	return nil
}
