package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/arshiaxbt/Valshi/internal/config"
	"github.com/arshiaxbt/Valshi/internal/model"
)

// SnapshotStore keeps per-market snapshots in Redis so a restart or a
// stream outage can serve recent state without hitting the REST API.
type SnapshotStore struct {
	client *redis.Client
	ttl    time.Duration
}

// NewSnapshotStore connects to Redis and verifies it with a ping.
func NewSnapshotStore(ctx context.Context, cfg config.RedisConfig) (*SnapshotStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}

	return &SnapshotStore{client: client, ttl: cfg.SnapshotTTL}, nil
}

func snapshotKey(ticker string) string {
	return "market:" + ticker
}

// ReadMarketSnapshot returns the stored snapshot for a ticker.
// A missing key is not an error.
func (s *SnapshotStore) ReadMarketSnapshot(ctx context.Context, ticker string) (model.Market, bool, error) {
	data, err := s.client.Get(ctx, snapshotKey(ticker)).Bytes()
	if errors.Is(err, redis.Nil) {
		return model.Market{}, false, nil
	}
	if err != nil {
		return model.Market{}, false, fmt.Errorf("read snapshot: %w", err)
	}

	var m model.Market
	if err := json.Unmarshal(data, &m); err != nil {
		return model.Market{}, false, fmt.Errorf("decode snapshot: %w", err)
	}
	return m, true, nil
}

// UpsertMarketSnapshot stores a snapshot with the configured TTL.
func (s *SnapshotStore) UpsertMarketSnapshot(ctx context.Context, m model.Market) error {
	data, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}
	if err := s.client.Set(ctx, snapshotKey(m.Ticker), data, s.ttl).Err(); err != nil {
		return fmt.Errorf("write snapshot: %w", err)
	}
	return nil
}

// Ping verifies the Redis connection is healthy.
func (s *SnapshotStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close releases the Redis client.
func (s *SnapshotStore) Close() error {
	return s.client.Close()
}
