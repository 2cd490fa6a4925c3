// Package writer archives ticks to PostgreSQL.
//
// TickWriter is a router.Sink. Accept never blocks: ticks go into a bounded
// queue and are dropped when it is full. A consumer goroutine batches rows
// and flushes on size or interval with pgx.Batch.
//
// Inserts are append-only with ON CONFLICT DO NOTHING, so a replayed tick is
// counted as a conflict rather than an error.
package writer
