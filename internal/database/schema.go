package database

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
)

// Execer is the subset of pgxpool.Pool used for schema setup.
type Execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// schema is the tick archive. Prices are NUMERIC; timestamps are unix
// microseconds. The primary key makes replays idempotent.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS ticks (
		exchange_segment TEXT    NOT NULL,
		security_id      TEXT    NOT NULL,
		kind             TEXT    NOT NULL,
		exchange_ts      BIGINT  NOT NULL,
		received_at      BIGINT  NOT NULL,
		ltp              NUMERIC,
		ltq              INTEGER,
		atp              NUMERIC,
		volume           BIGINT,
		total_buy_qty    BIGINT,
		total_sell_qty   BIGINT,
		open             NUMERIC,
		high             NUMERIC,
		low              NUMERIC,
		close            NUMERIC,
		oi               BIGINT,
		prev_close       NUMERIC,
		PRIMARY KEY (exchange_segment, security_id, kind, received_at)
	)`,
	`CREATE INDEX IF NOT EXISTS ticks_instrument_ts_idx
		ON ticks (exchange_segment, security_id, exchange_ts DESC)`,
}

// EnsureSchema creates the archive tables if they do not exist.
func EnsureSchema(ctx context.Context, db Execer) error {
	for i, stmt := range schema {
		if _, err := db.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("schema statement %d: %w", i, err)
		}
	}
	return nil
}
