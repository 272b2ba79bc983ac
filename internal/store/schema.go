package store

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// EnsureSchema creates the tracker's tables and indexes if they do not
// exist. Timestamps are µs since epoch throughout.
func EnsureSchema(ctx context.Context, db *pgxpool.Pool) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS price_history (
			ticker    TEXT             NOT NULL,
			trade_id  TEXT             NOT NULL,
			price     DOUBLE PRECISION NOT NULL,
			size      INTEGER          NOT NULL,
			side      TEXT             NOT NULL,
			notional  DOUBLE PRECISION NOT NULL,
			ts        BIGINT           NOT NULL,
			PRIMARY KEY (ticker, trade_id)
		)`,
		`CREATE INDEX IF NOT EXISTS price_history_ts_idx ON price_history (ts)`,
		`CREATE INDEX IF NOT EXISTS price_history_ticker_ts_idx ON price_history (ticker, ts)`,
		`CREATE TABLE IF NOT EXISTS subscribers (
			id            BIGINT           PRIMARY KEY,
			enabled       BOOLEAN          NOT NULL DEFAULT TRUE,
			threshold_usd DOUBLE PRECISION NOT NULL DEFAULT 5000,
			topic         TEXT             NOT NULL DEFAULT 'all',
			timezone      TEXT             NOT NULL DEFAULT 'America/New_York'
		)`,
	}

	for _, stmt := range stmts {
		if _, err := db.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}
