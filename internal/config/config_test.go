package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

const validConfig = `
instance:
  id: tracker-1
api:
  api_key: test-key-id
  private_key_path: /etc/valshi/key.pem
database:
  postgres:
    host: localhost
    name: valshi
    user: valshi
    password: secret
`

func TestLoadAndValidate_Minimal(t *testing.T) {
	path := writeConfig(t, validConfig)

	cfg, err := LoadAndValidate(path)
	if err != nil {
		t.Fatalf("LoadAndValidate failed: %v", err)
	}

	if cfg.Instance.ID != "tracker-1" {
		t.Errorf("Instance.ID = %s", cfg.Instance.ID)
	}

	// Defaults filled in.
	if cfg.API.RestURL != DefaultRestURL {
		t.Errorf("RestURL = %s, want default", cfg.API.RestURL)
	}
	if cfg.Database.Postgres.Port != 5432 {
		t.Errorf("Port = %d, want 5432", cfg.Database.Postgres.Port)
	}
	if cfg.Database.Postgres.SSLMode != "prefer" {
		t.Errorf("SSLMode = %s, want prefer", cfg.Database.Postgres.SSLMode)
	}
	if cfg.Ingest.MinNotionalUSD != 500 {
		t.Errorf("MinNotionalUSD = %v, want 500", cfg.Ingest.MinNotionalUSD)
	}
	if cfg.Trend.Timezone != "America/New_York" {
		t.Errorf("Timezone = %s", cfg.Trend.Timezone)
	}
	if cfg.Stream.ReconnectMaxDelay != 60*time.Second {
		t.Errorf("ReconnectMaxDelay = %v", cfg.Stream.ReconnectMaxDelay)
	}
	if len(cfg.Stream.Channels) != 2 {
		t.Errorf("Channels = %v, want [trade ticker]", cfg.Stream.Channels)
	}
}

func TestLoad_ExpandsEnvVars(t *testing.T) {
	t.Setenv("VALSHI_DB_PASSWORD", "p@ss/word")

	path := writeConfig(t, strings.Replace(validConfig, "password: secret", "password: ${VALSHI_DB_PASSWORD}", 1))

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Database.Postgres.Password != "p@ss/word" {
		t.Errorf("Password = %s, env var not expanded", cfg.Database.Postgres.Password)
	}
}

func TestValidate_Failures(t *testing.T) {
	cases := []struct {
		name    string
		mutate  func(*AppConfig)
		wantErr string
	}{
		{
			name:    "missing instance id",
			mutate:  func(c *AppConfig) { c.Instance.ID = "" },
			wantErr: "instance.id",
		},
		{
			name:    "missing api key",
			mutate:  func(c *AppConfig) { c.API.APIKey = "" },
			wantErr: "api.api_key",
		},
		{
			name:    "missing db host",
			mutate:  func(c *AppConfig) { c.Database.Postgres.Host = "" },
			wantErr: "database.postgres.host",
		},
		{
			name:    "unknown stream channel",
			mutate:  func(c *AppConfig) { c.Stream.Channels = []string{"fills"} },
			wantErr: "stream.channels",
		},
		{
			name:    "bad timezone",
			mutate:  func(c *AppConfig) { c.Trend.Timezone = "Mars/Olympus" },
			wantErr: "trend.timezone",
		},
		{
			name:    "min_conns above max_conns",
			mutate:  func(c *AppConfig) { c.Database.Postgres.MinConns = 20 },
			wantErr: "min_conns",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg, err := LoadWithDefaults(writeConfig(t, validConfig))
			if err != nil {
				t.Fatalf("load: %v", err)
			}
			tc.mutate(cfg)

			err = cfg.Validate()
			if err == nil {
				t.Fatal("Validate passed, want error")
			}
			if !strings.Contains(err.Error(), tc.wantErr) {
				t.Errorf("error = %q, want mention of %q", err, tc.wantErr)
			}
		})
	}
}
