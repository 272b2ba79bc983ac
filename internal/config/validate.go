package config

import (
	"errors"
	"fmt"
	"time"
)

// Validate checks that all required fields are set and values are valid.
func (c *AppConfig) Validate() error {
	if c.Instance.ID == "" {
		return errors.New("instance.id is required")
	}

	if c.API.APIKey == "" {
		return errors.New("api.api_key is required")
	}
	if c.API.PrivateKeyPath == "" {
		return errors.New("api.private_key_path is required")
	}

	if err := c.Database.Postgres.validate("database.postgres"); err != nil {
		return err
	}

	for _, ch := range c.Stream.Channels {
		switch ch {
		case "trade", "ticker", "orderbook_delta":
		default:
			return fmt.Errorf("stream.channels: unknown channel %q", ch)
		}
	}

	if c.Ingest.MinNotionalUSD < 0 {
		return errors.New("ingest.min_notional_usd must be >= 0")
	}
	if c.Ingest.DedupWindow < 1 {
		return errors.New("ingest.dedup_window must be >= 1")
	}
	if c.Ingest.BufferSize < 1 {
		return errors.New("ingest.buffer_size must be >= 1")
	}

	if _, err := time.LoadLocation(c.Trend.Timezone); err != nil {
		return fmt.Errorf("trend.timezone: %w", err)
	}
	if c.Trend.TopN < 1 {
		return errors.New("trend.top_n must be >= 1")
	}

	if c.History.Retention < c.History.TrimInterval {
		return errors.New("history.retention must be >= history.trim_interval")
	}

	if c.Health.Port < 1 || c.Health.Port > 65535 {
		return fmt.Errorf("health.port must be between 1 and 65535, got %d", c.Health.Port)
	}

	return nil
}

func (db *DBConfig) validate(prefix string) error {
	if db.Host == "" {
		return fmt.Errorf("%s.host is required", prefix)
	}
	if db.Name == "" {
		return fmt.Errorf("%s.name is required", prefix)
	}
	if db.User == "" {
		return fmt.Errorf("%s.user is required", prefix)
	}
	if db.Password == "" {
		return fmt.Errorf("%s.password is required", prefix)
	}
	if db.MaxConns < 1 {
		return fmt.Errorf("%s.max_conns must be >= 1", prefix)
	}
	if db.MinConns < 0 {
		return fmt.Errorf("%s.min_conns must be >= 0", prefix)
	}
	if db.MinConns > db.MaxConns {
		return fmt.Errorf("%s.min_conns (%d) cannot exceed max_conns (%d)", prefix, db.MinConns, db.MaxConns)
	}
	return nil
}
