package config

import "time"

// AppConfig is the root configuration for a tracker instance.
type AppConfig struct {
	Instance InstanceConfig `yaml:"instance"`
	API      APIConfig      `yaml:"api"`
	Database DatabaseConfig `yaml:"database"`
	Redis    RedisConfig    `yaml:"redis"`
	Stream   StreamConfig   `yaml:"stream"`
	Ingest   IngestConfig   `yaml:"ingest"`
	Trend    TrendConfig    `yaml:"trend"`
	History  HistoryConfig  `yaml:"history"`
	Health   HealthConfig   `yaml:"health"`
}

// InstanceConfig identifies this tracker.
type InstanceConfig struct {
	ID string `yaml:"id"`
}

// APIConfig holds Kalshi API settings.
type APIConfig struct {
	RestURL        string        `yaml:"rest_url"`
	WSURL          string        `yaml:"ws_url"`
	APIKey         string        `yaml:"api_key"`          // API key ID (for KALSHI-ACCESS-KEY header)
	PrivateKeyPath string        `yaml:"private_key_path"` // Path to RSA private key PEM file
	Timeout        time.Duration `yaml:"timeout"`
	MaxRetries     int           `yaml:"max_retries"`
}

// DatabaseConfig holds the Postgres connection for price history,
// prints, and subscriber profiles.
type DatabaseConfig struct {
	Postgres DBConfig `yaml:"postgres"`
}

// DBConfig holds a single database connection.
type DBConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Name     string `yaml:"name"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	SSLMode  string `yaml:"ssl_mode"`
	MaxConns int    `yaml:"max_conns"`
	MinConns int    `yaml:"min_conns"`
}

// RedisConfig holds the market snapshot cache connection.
type RedisConfig struct {
	Addr        string        `yaml:"addr"`
	Password    string        `yaml:"password"`
	DB          int           `yaml:"db"`
	SnapshotTTL time.Duration `yaml:"snapshot_ttl"`
}

// StreamConfig holds WebSocket stream settings.
type StreamConfig struct {
	Channels           []string      `yaml:"channels"`
	Tickers            []string      `yaml:"tickers"` // Empty means feed-wide subscriptions
	PingInterval       time.Duration `yaml:"ping_interval"`
	PingTimeout        time.Duration `yaml:"ping_timeout"`
	CommandTimeout     time.Duration `yaml:"command_timeout"`
	ReconnectBaseDelay time.Duration `yaml:"reconnect_base_delay"`
	ReconnectMaxDelay  time.Duration `yaml:"reconnect_max_delay"`
	BufferSize         int           `yaml:"buffer_size"`
	OutputBufferSize   int           `yaml:"output_buffer_size"`
}

// IngestConfig holds trade ingest settings.
type IngestConfig struct {
	MinNotionalUSD float64 `yaml:"min_notional_usd"` // Floor below which trades are not recorded
	DedupWindow    int     `yaml:"dedup_window"`     // Trade ids remembered across reconnects
	BufferSize     int     `yaml:"buffer_size"`
}

// TrendConfig holds trend aggregation settings.
type TrendConfig struct {
	Timezone string        `yaml:"timezone"` // IANA zone for daily summaries
	Window   time.Duration `yaml:"window"`   // Lookback for movers and activity
	TopN     int           `yaml:"top_n"`
}

// HistoryConfig holds price-history retention settings.
type HistoryConfig struct {
	Retention    time.Duration `yaml:"retention"`
	TrimInterval time.Duration `yaml:"trim_interval"`
}

// HealthConfig holds the HTTP health endpoint settings.
type HealthConfig struct {
	Port int    `yaml:"port"`
	Path string `yaml:"path"`
}
