package store

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/arshiaxbt/Valshi/internal/model"
)

// HistoryStore is the append-only price history backed by Postgres.
// (ticker, trade_id) is the primary key; re-inserting an observed
// trade is a silent no-op so replays and reconnect overlap cannot
// duplicate history.
type HistoryStore struct {
	db *pgxpool.Pool
}

// NewHistoryStore creates a history store on an existing pool.
func NewHistoryStore(db *pgxpool.Pool) *HistoryStore {
	return &HistoryStore{db: db}
}

// AppendPricePoint records one trade. Returns false when the point
// was already present.
func (s *HistoryStore) AppendPricePoint(ctx context.Context, p model.PricePoint) (bool, error) {
	ct, err := s.db.Exec(ctx, `
		INSERT INTO price_history (ticker, trade_id, price, size, side, notional, ts)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (ticker, trade_id) DO NOTHING
	`, p.Ticker, p.TradeID, p.Price, p.Size, p.Side, p.Notional, p.TS)
	if err != nil {
		return false, fmt.Errorf("append price point: %w", err)
	}
	return ct.RowsAffected() > 0, nil
}

// ReadPriceHistory returns one market's points at or after since,
// oldest first.
func (s *HistoryStore) ReadPriceHistory(ctx context.Context, ticker string, since int64) ([]model.PricePoint, error) {
	rows, err := s.db.Query(ctx, `
		SELECT ticker, trade_id, price, size, side, notional, ts
		FROM price_history
		WHERE ticker = $1 AND ts >= $2
		ORDER BY ts ASC
	`, ticker, since)
	if err != nil {
		return nil, fmt.Errorf("read price history: %w", err)
	}
	return scanPoints(rows)
}

// ReadWindow returns all points at or after since across markets,
// oldest first.
func (s *HistoryStore) ReadWindow(ctx context.Context, since int64) ([]model.PricePoint, error) {
	rows, err := s.db.Query(ctx, `
		SELECT ticker, trade_id, price, size, side, notional, ts
		FROM price_history
		WHERE ts >= $1
		ORDER BY ts ASC
	`, since)
	if err != nil {
		return nil, fmt.Errorf("read history window: %w", err)
	}
	return scanPoints(rows)
}

// RecentPrints returns the newest points first, up to limit.
func (s *HistoryStore) RecentPrints(ctx context.Context, limit int) ([]model.PricePoint, error) {
	rows, err := s.db.Query(ctx, `
		SELECT ticker, trade_id, price, size, side, notional, ts
		FROM price_history
		ORDER BY ts DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("read recent prints: %w", err)
	}
	return scanPoints(rows)
}

// TopPrints returns the largest points by notional at or after since.
func (s *HistoryStore) TopPrints(ctx context.Context, since int64, limit int) ([]model.PricePoint, error) {
	rows, err := s.db.Query(ctx, `
		SELECT ticker, trade_id, price, size, side, notional, ts
		FROM price_history
		WHERE ts >= $1
		ORDER BY notional DESC
		LIMIT $2
	`, since, limit)
	if err != nil {
		return nil, fmt.Errorf("read top prints: %w", err)
	}
	return scanPoints(rows)
}

// Trim deletes points older than cutoff and reports how many went.
func (s *HistoryStore) Trim(ctx context.Context, cutoff int64) (int64, error) {
	ct, err := s.db.Exec(ctx, `DELETE FROM price_history WHERE ts < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("trim price history: %w", err)
	}
	return ct.RowsAffected(), nil
}

func scanPoints(rows pgx.Rows) ([]model.PricePoint, error) {
	defer rows.Close()

	var points []model.PricePoint
	for rows.Next() {
		var p model.PricePoint
		if err := rows.Scan(&p.Ticker, &p.TradeID, &p.Price, &p.Size, &p.Side, &p.Notional, &p.TS); err != nil {
			return nil, fmt.Errorf("scan price point: %w", err)
		}
		points = append(points, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate price points: %w", err)
	}
	return points, nil
}
