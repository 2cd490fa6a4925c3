package writer

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/rickgao/tickhub/internal/metrics"
	"github.com/rickgao/tickhub/internal/model"
	"github.com/rickgao/tickhub/internal/router"
)

const insertTick = `
	INSERT INTO ticks (exchange_segment, security_id, kind, exchange_ts, received_at,
		ltp, ltq, atp, volume, total_buy_qty, total_sell_qty,
		open, high, low, close, oi, prev_close)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
	ON CONFLICT (exchange_segment, security_id, kind, received_at) DO NOTHING
`

// TickWriter archives ticks into the ticks table. It is a router.Sink: Accept
// only enqueues, a consumer goroutine batches and flushes.
type TickWriter struct {
	cfg     WriterConfig
	logger  *zap.Logger
	metrics *metrics.Metrics

	// Input from the router
	input *router.Queue[model.Tick]

	// Database
	db BatchSender

	// Batching
	batch       []tickRow
	batchMu     sync.Mutex
	flushTicker *time.Ticker

	// Lifecycle
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	// Metrics
	stats    WriterMetrics
	received atomic.Int64
	dropped  atomic.Int64
}

// NewTickWriter creates a TickWriter. m may be nil.
func NewTickWriter(cfg WriterConfig, db BatchSender, m *metrics.Metrics, logger *zap.Logger) *TickWriter {
	d := DefaultWriterConfig()
	if cfg.BatchSize < 1 {
		cfg.BatchSize = d.BatchSize
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = d.FlushInterval
	}
	if cfg.BufferSize < 1 {
		cfg.BufferSize = d.BufferSize
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TickWriter{
		cfg:     cfg,
		input:   router.NewQueue[model.Tick](cfg.BufferSize),
		db:      db,
		metrics: m,
		logger:  logger,
		batch:   make([]tickRow, 0, cfg.BatchSize),
	}
}

// Accept enqueues a tick. Never blocks.
func (w *TickWriter) Accept(_ model.ConsumerID, tick model.Tick) router.AcceptResult {
	if !w.input.TrySend(tick) {
		w.dropped.Add(1)
		return router.Dropped
	}
	w.received.Add(1)
	return router.Delivered
}

// Start begins consuming ticks and writing to the database.
func (w *TickWriter) Start(ctx context.Context) error {
	w.ctx, w.cancel = context.WithCancel(ctx)
	w.flushTicker = time.NewTicker(w.cfg.FlushInterval)

	// Consumer goroutine
	w.wg.Add(1)
	go w.consumeLoop()

	// Flush ticker goroutine
	w.wg.Add(1)
	go w.flushLoop()

	w.logger.Info("tick writer started",
		zap.Int("batch_size", w.cfg.BatchSize),
		zap.Duration("flush_interval", w.cfg.FlushInterval),
	)
	return nil
}

// Stop drains the input queue, flushes what is left within ctx and stops.
func (w *TickWriter) Stop(ctx context.Context) error {
	w.logger.Info("stopping tick writer")

	if w.cancel != nil {
		w.cancel()
	}

	if w.flushTicker != nil {
		w.flushTicker.Stop()
	}

	// Wait for goroutines
	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		w.logger.Warn("tick writer stop timed out")
	}

	// Final flush, including whatever is still queued
	w.input.Close()
	for _, tick := range w.input.DrainTo(0) {
		w.append(tick)
	}
	w.flush(ctx)

	w.logger.Info("tick writer stopped")
	return nil
}

// Stats returns current metrics.
func (w *TickWriter) Stats() WriterMetrics {
	w.batchMu.Lock()
	defer w.batchMu.Unlock()
	stats := w.stats
	stats.Received = w.received.Load()
	stats.Dropped = w.dropped.Load()
	return stats
}

// consumeLoop reads from the input queue and accumulates batches.
func (w *TickWriter) consumeLoop() {
	defer w.wg.Done()

	for {
		tick, ok := w.input.ReceiveContext(w.ctx)
		if !ok {
			return
		}
		if w.append(tick) {
			w.flush(w.ctx)
		}
	}
}

// flushLoop periodically flushes the batch.
func (w *TickWriter) flushLoop() {
	defer w.wg.Done()

	for {
		select {
		case <-w.ctx.Done():
			return
		case <-w.flushTicker.C:
			w.flush(w.ctx)
		}
	}
}

// append adds a tick to the batch. Returns true when the batch is full.
func (w *TickWriter) append(tick model.Tick) bool {
	row := transform(tick)

	w.batchMu.Lock()
	defer w.batchMu.Unlock()
	w.batch = append(w.batch, row)
	return len(w.batch) >= w.cfg.BatchSize
}

// transform converts a tick to a row, leaving columns the packet kind does
// not carry NULL.
func transform(tick model.Tick) tickRow {
	row := tickRow{
		Segment:    string(tick.Key.Segment),
		SecurityID: tick.Key.SecurityID,
		Kind:       string(tick.Kind),
		ReceivedAt: tick.ReceivedAt.UnixMicro(),
	}
	if !tick.LTT.IsZero() {
		row.ExchangeTs = tick.LTT.UnixMicro()
	}

	switch tick.Kind {
	case model.TickKindTicker:
		row.LTP = dec(tick.LTP)
	case model.TickKindQuote, model.TickKindFull:
		row.LTP = dec(tick.LTP)
		row.LTQ = &tick.LTQ
		row.ATP = dec(tick.ATP)
		row.Volume = &tick.Volume
		row.TotalBuyQty = &tick.TotalBuyQty
		row.TotalSellQty = &tick.TotalSellQty
		row.Open = dec(tick.Open)
		row.High = dec(tick.High)
		row.Low = dec(tick.Low)
		row.Close = dec(tick.Close)
		if tick.Kind == model.TickKindFull {
			row.OI = &tick.OI
		}
	case model.TickKindOI:
		row.OI = &tick.OI
	case model.TickKindPrevClose:
		row.PrevClose = dec(tick.PrevClose)
		row.OI = &tick.OI
	}
	return row
}

func dec(d decimal.Decimal) decimal.NullDecimal {
	return decimal.NullDecimal{Decimal: d, Valid: true}
}

// flush writes the current batch to the database.
func (w *TickWriter) flush(ctx context.Context) {
	w.batchMu.Lock()
	if len(w.batch) == 0 {
		w.batchMu.Unlock()
		return
	}

	// Take ownership of current batch
	batch := w.batch
	w.batch = make([]tickRow, 0, w.cfg.BatchSize)
	w.batchMu.Unlock()

	start := time.Now()

	conflicts, err := w.batchInsert(ctx, batch)
	if err != nil {
		w.metrics.WriterFlush(0, 0, len(batch), err)
		w.logger.Error("batch insert failed", zap.Error(err), zap.Int("count", len(batch)))
		w.batchMu.Lock()
		w.stats.Errors++
		w.batchMu.Unlock()
		return
	}

	w.metrics.WriterFlush(len(batch)-conflicts, conflicts, 0, nil)

	w.batchMu.Lock()
	w.stats.Inserts += int64(len(batch) - conflicts)
	w.stats.Conflicts += int64(conflicts)
	w.stats.Flushes++
	w.batchMu.Unlock()

	w.logger.Debug("flushed ticks",
		zap.Int("count", len(batch)),
		zap.Int("conflicts", conflicts),
		zap.Duration("duration", time.Since(start)),
	)
}

// batchInsert inserts rows using pgx.Batch with ON CONFLICT DO NOTHING.
func (w *TickWriter) batchInsert(ctx context.Context, rows []tickRow) (conflicts int, err error) {
	batch := &pgx.Batch{}
	for _, r := range rows {
		batch.Queue(insertTick,
			r.Segment, r.SecurityID, r.Kind, r.ExchangeTs, r.ReceivedAt,
			r.LTP, r.LTQ, r.ATP, r.Volume, r.TotalBuyQty, r.TotalSellQty,
			r.Open, r.High, r.Low, r.Close, r.OI, r.PrevClose,
		)
	}

	results := w.db.SendBatch(ctx, batch)
	defer results.Close()

	for range rows {
		ct, err := results.Exec()
		if err != nil {
			return 0, err
		}
		if ct.RowsAffected() == 0 {
			conflicts++
		}
	}

	return conflicts, nil
}
