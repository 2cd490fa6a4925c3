package writer

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
)

// WriterConfig configures a batch writer.
type WriterConfig struct {
	BatchSize     int           // Flush when this many rows are pending
	FlushInterval time.Duration // Flush at least this often
	BufferSize    int           // Input queue capacity; ticks beyond it are dropped
}

// DefaultWriterConfig returns sensible defaults.
func DefaultWriterConfig() WriterConfig {
	return WriterConfig{
		BatchSize:     1000,
		FlushInterval: time.Second,
		BufferSize:    10000,
	}
}

// WriterMetrics holds writer counters.
type WriterMetrics struct {
	Received  int64 // Ticks accepted into the input queue
	Dropped   int64 // Ticks rejected by a full input queue
	Inserts   int64
	Conflicts int64 // Rows already present
	Errors    int64 // Failed batch inserts
	Flushes   int64
}

// BatchSender sends a pgx batch. *pgxpool.Pool satisfies it.
type BatchSender interface {
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
}

// tickRow is one row of the ticks table.
type tickRow struct {
	Segment      string
	SecurityID   string
	Kind         string
	ExchangeTs   int64 // Unix micros, 0 when the packet has no trade time
	ReceivedAt   int64 // Unix micros
	LTP          decimal.NullDecimal
	LTQ          *int32
	ATP          decimal.NullDecimal
	Volume       *int64
	TotalBuyQty  *int64
	TotalSellQty *int64
	Open         decimal.NullDecimal
	High         decimal.NullDecimal
	Low          decimal.NullDecimal
	Close        decimal.NullDecimal
	OI           *int64
	PrevClose    decimal.NullDecimal
}
