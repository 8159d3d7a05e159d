package finance

import "context"

// Record is one line of the sales history.
type Record struct {
	SKU      string `json:"sku"`
	Revenue  int    `json:"revenue"`
	COGS     int    `json:"cogs"`
	Qty      int    `json:"qty"`
	Category string `json:"category"`
}

// Profit returns revenue minus cost of goods sold.
func (r Record) Profit() int {
	return r.Revenue - r.COGS
}

// RecordSource provides the history scanned by the anomaly query.
type RecordSource interface {
	Records(ctx context.Context, days int) ([]Record, error)
}

// StaticSource serves a fixed dataset regardless of the window.
type StaticSource struct {
	records []Record
}

// NewStaticSource creates a source over records. The slice is copied.
func NewStaticSource(records []Record) *StaticSource {
	return &StaticSource{records: append([]Record(nil), records...)}
}

func (s *StaticSource) Records(ctx context.Context, _ int) ([]Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return append([]Record(nil), s.records...), nil
}

// DefaultRecords is the demo dataset.
func DefaultRecords() []Record {
	return []Record{
		{SKU: "A-101", Revenue: 900, COGS: 1200, Qty: 18, Category: "Apparel"},
		{SKU: "B-202", Revenue: 1600, COGS: 1400, Qty: 25, Category: "Apparel"},
		{SKU: "C-303", Revenue: 700, COGS: 950, Qty: 10, Category: "Accessories"},
		{SKU: "D-404", Revenue: 3000, COGS: 2900, Qty: 60, Category: "Footwear"},
	}
}
