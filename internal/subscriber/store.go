// Package subscriber reads alert subscriber profiles from Postgres.
package subscriber

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/arshiaxbt/Valshi/internal/model"
)

// Store reads subscriber profiles. Profiles are owned externally and
// re-fetched at alert-evaluation time so settings changes take effect
// on the next qualifying trade.
type Store struct {
	db *pgxpool.Pool
}

// NewStore creates a subscriber store on an existing pool.
func NewStore(db *pgxpool.Pool) *Store {
	return &Store{db: db}
}

// ListEnabled returns all enabled profiles.
func (s *Store) ListEnabled(ctx context.Context) ([]model.SubscriberProfile, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, enabled, threshold_usd, topic, timezone
		FROM subscribers
		WHERE enabled
	`)
	if err != nil {
		return nil, fmt.Errorf("list subscribers: %w", err)
	}
	defer rows.Close()

	var profiles []model.SubscriberProfile
	for rows.Next() {
		var p model.SubscriberProfile
		if err := rows.Scan(&p.ID, &p.Enabled, &p.ThresholdUSD, &p.Topic, &p.Timezone); err != nil {
			return nil, fmt.Errorf("scan subscriber: %w", err)
		}
		profiles = append(profiles, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate subscribers: %w", err)
	}
	return profiles, nil
}

// Get returns one profile by id.
func (s *Store) Get(ctx context.Context, id int64) (model.SubscriberProfile, error) {
	var p model.SubscriberProfile
	err := s.db.QueryRow(ctx, `
		SELECT id, enabled, threshold_usd, topic, timezone
		FROM subscribers
		WHERE id = $1
	`, id).Scan(&p.ID, &p.Enabled, &p.ThresholdUSD, &p.Topic, &p.Timezone)
	if err != nil {
		return model.SubscriberProfile{}, fmt.Errorf("get subscriber %d: %w", id, err)
	}
	return p, nil
}
