package config

import "time"

// Default values for optional configuration fields.
const (
	DefaultRestURL            = "https://api.elections.kalshi.com/trade-api/v2"
	DefaultWSURL              = "wss://api.elections.kalshi.com"
	DefaultAPITimeout         = 30 * time.Second
	DefaultMaxRetries         = 3
	DefaultDBPort             = 5432
	DefaultDBSSLMode          = "prefer"
	DefaultMaxConns           = 10
	DefaultMinConns           = 2
	DefaultRedisAddr          = "localhost:6379"
	DefaultSnapshotTTL        = 6 * time.Hour
	DefaultPingInterval       = 15 * time.Second
	DefaultPingTimeout        = 60 * time.Second
	DefaultCommandTimeout     = 10 * time.Second
	DefaultReconnectBaseDelay = 1 * time.Second
	DefaultReconnectMaxDelay  = 60 * time.Second
	DefaultStreamBufferSize   = 10000
	DefaultOutputBufferSize   = 100000
	DefaultMinNotionalUSD     = 500.0
	DefaultDedupWindow        = 8192
	DefaultIngestBufferSize   = 10000
	DefaultTrendTimezone      = "America/New_York"
	DefaultTrendWindow        = 24 * time.Hour
	DefaultTrendTopN          = 10
	DefaultHistoryRetention   = 7 * 24 * time.Hour
	DefaultTrimInterval       = 1 * time.Hour
	DefaultHealthPort         = 8080
	DefaultHealthPath         = "/health"
)

func (c *AppConfig) applyDefaults() {
	// API defaults
	if c.API.RestURL == "" {
		c.API.RestURL = DefaultRestURL
	}
	if c.API.WSURL == "" {
		c.API.WSURL = DefaultWSURL
	}
	if c.API.Timeout == 0 {
		c.API.Timeout = DefaultAPITimeout
	}
	if c.API.MaxRetries == 0 {
		c.API.MaxRetries = DefaultMaxRetries
	}

	// Database defaults
	applyDBDefaults(&c.Database.Postgres)

	// Redis defaults
	if c.Redis.Addr == "" {
		c.Redis.Addr = DefaultRedisAddr
	}
	if c.Redis.SnapshotTTL == 0 {
		c.Redis.SnapshotTTL = DefaultSnapshotTTL
	}

	// Stream defaults
	if len(c.Stream.Channels) == 0 {
		c.Stream.Channels = []string{"trade", "ticker"}
	}
	if c.Stream.PingInterval == 0 {
		c.Stream.PingInterval = DefaultPingInterval
	}
	if c.Stream.PingTimeout == 0 {
		c.Stream.PingTimeout = DefaultPingTimeout
	}
	if c.Stream.CommandTimeout == 0 {
		c.Stream.CommandTimeout = DefaultCommandTimeout
	}
	if c.Stream.ReconnectBaseDelay == 0 {
		c.Stream.ReconnectBaseDelay = DefaultReconnectBaseDelay
	}
	if c.Stream.ReconnectMaxDelay == 0 {
		c.Stream.ReconnectMaxDelay = DefaultReconnectMaxDelay
	}
	if c.Stream.BufferSize == 0 {
		c.Stream.BufferSize = DefaultStreamBufferSize
	}
	if c.Stream.OutputBufferSize == 0 {
		c.Stream.OutputBufferSize = DefaultOutputBufferSize
	}

	// Ingest defaults
	if c.Ingest.MinNotionalUSD == 0 {
		c.Ingest.MinNotionalUSD = DefaultMinNotionalUSD
	}
	if c.Ingest.DedupWindow == 0 {
		c.Ingest.DedupWindow = DefaultDedupWindow
	}
	if c.Ingest.BufferSize == 0 {
		c.Ingest.BufferSize = DefaultIngestBufferSize
	}

	// Trend defaults
	if c.Trend.Timezone == "" {
		c.Trend.Timezone = DefaultTrendTimezone
	}
	if c.Trend.Window == 0 {
		c.Trend.Window = DefaultTrendWindow
	}
	if c.Trend.TopN == 0 {
		c.Trend.TopN = DefaultTrendTopN
	}

	// History defaults
	if c.History.Retention == 0 {
		c.History.Retention = DefaultHistoryRetention
	}
	if c.History.TrimInterval == 0 {
		c.History.TrimInterval = DefaultTrimInterval
	}

	// Health defaults
	if c.Health.Port == 0 {
		c.Health.Port = DefaultHealthPort
	}
	if c.Health.Path == "" {
		c.Health.Path = DefaultHealthPath
	}
}

func applyDBDefaults(db *DBConfig) {
	if db.Port == 0 {
		db.Port = DefaultDBPort
	}
	if db.SSLMode == "" {
		db.SSLMode = DefaultDBSSLMode
	}
	if db.MaxConns == 0 {
		db.MaxConns = DefaultMaxConns
	}
	if db.MinConns == 0 {
		db.MinConns = DefaultMinConns
	}
}
