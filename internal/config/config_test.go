package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	collyfetcher "github.com/JakeFAU/listing-crawler/internal/fetcher/colly"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Server.Port != 8080 || cfg.Server.ScrapeRatePerMinute != 6 {
		t.Fatalf("unexpected server defaults: %+v", cfg.Server)
	}
	if cfg.Crawler.MaxListings != 8 || cfg.Crawler.EnrichMode != "enrich_or_shallow" || cfg.Crawler.FallbackDataset {
		t.Fatalf("unexpected crawler defaults: %+v", cfg.Crawler)
	}
	if cfg.Storage.Provider != StorageFile || cfg.PubSub.Provider != PubSubNone {
		t.Fatalf("unexpected provider defaults: %s / %s", cfg.Storage.Provider, cfg.PubSub.Provider)
	}
	if len(cfg.HTTP.UserAgents) != len(collyfetcher.DefaultUserAgents) {
		t.Fatalf("expected default user agents, got %v", cfg.HTTP.UserAgents)
	}
	if cfg.Delay() != 2*time.Second || cfg.FetchTimeout() != 30*time.Second {
		t.Fatalf("unexpected durations: %v %v", cfg.Delay(), cfg.FetchTimeout())
	}
	if cfg.Uploads.DiskWarningBytes != 500<<20 {
		t.Fatalf("unexpected disk warning: %d", cfg.Uploads.DiskWarningBytes)
	}
}

func TestLoadWithFileOverrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	configYAML := `
server:
  port: 9090
  cors_origin: https://app.example
crawler:
  max_listings: 5
  delay_ms: 0
  enrich_mode: enrich
  fallback_dataset: true
  block_markers: ["captcha", "press and hold"]
http:
  user_agents:
    - "Agent/1.0 (X11, Linux)"
  requests_per_second: 2
storage:
  provider: postgres
db:
  dsn: postgres://localhost/listings
pubsub:
  provider: pubsub
  project_id: demo
logging:
  development: false
`
	if err := os.WriteFile(path, []byte(configYAML), 0o600); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Port != 9090 || cfg.Server.CORSOrigin != "https://app.example" {
		t.Fatalf("expected server overrides, got %+v", cfg.Server)
	}
	if cfg.Crawler.MaxListings != 5 || cfg.Crawler.EnrichMode != "enrich" || !cfg.Crawler.FallbackDataset {
		t.Fatalf("expected crawler overrides, got %+v", cfg.Crawler)
	}
	if len(cfg.Crawler.BlockMarkers) != 2 || cfg.Crawler.BlockMarkers[1] != "press and hold" {
		t.Fatalf("expected block markers override, got %v", cfg.Crawler.BlockMarkers)
	}
	if len(cfg.HTTP.UserAgents) != 1 || cfg.HTTP.UserAgents[0] != "Agent/1.0 (X11, Linux)" {
		t.Fatalf("expected single user agent, got %v", cfg.HTTP.UserAgents)
	}
	if cfg.Storage.Provider != StoragePostgres || cfg.DB.Table != "properties" {
		t.Fatalf("expected postgres storage with default table, got %+v %+v", cfg.Storage, cfg.DB)
	}
	if cfg.PubSub.TopicName != "crawl-runs" {
		t.Fatalf("expected default topic, got %q", cfg.PubSub.TopicName)
	}
	if cfg.Logging.Development {
		t.Fatalf("expected production logging")
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("LISTING_SERVER_PORT", "7070")
	t.Setenv("LISTING_CRAWLER_ENRICH_MODE", "shallow")
	t.Setenv("LISTING_HTTP_USER_AGENTS", "Agent/1 (A, B)|Agent/2 (C, D)")
	t.Setenv("LISTING_STORAGE_PROVIDER", "memory")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Server.Port != 7070 {
		t.Fatalf("expected env port, got %d", cfg.Server.Port)
	}
	if cfg.Crawler.EnrichMode != "shallow" || cfg.Storage.Provider != StorageMemory {
		t.Fatalf("expected env overrides, got %s %s", cfg.Crawler.EnrichMode, cfg.Storage.Provider)
	}
	if len(cfg.HTTP.UserAgents) != 2 || cfg.HTTP.UserAgents[1] != "Agent/2 (C, D)" {
		t.Fatalf("expected pipe-separated agents, got %v", cfg.HTTP.UserAgents)
	}
}

func TestLoadDotEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	if err := os.WriteFile(path, []byte("LISTING_DOTENV_PROBE=from-file\n"), 0o600); err != nil {
		t.Fatalf("write .env: %v", err)
	}
	t.Setenv("LISTING_DOTENV_PROBE", "")
	if err := os.Unsetenv("LISTING_DOTENV_PROBE"); err != nil {
		t.Fatalf("unset: %v", err)
	}

	if err := LoadDotEnv(path, filepath.Join(dir, "missing.env")); err != nil {
		t.Fatalf("LoadDotEnv() error = %v", err)
	}
	if got := os.Getenv("LISTING_DOTENV_PROBE"); got != "from-file" {
		t.Fatalf("expected value from .env, got %q", got)
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()

	base, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{name: "valid", mutate: func(*Config) {}},
		{name: "max listings too high", mutate: func(c *Config) { c.Crawler.MaxListings = 11 }, wantErr: "max_listings"},
		{name: "max listings zero", mutate: func(c *Config) { c.Crawler.MaxListings = 0 }, wantErr: "max_listings"},
		{name: "bad enrich mode", mutate: func(c *Config) { c.Crawler.EnrichMode = "deep" }, wantErr: "enrich_mode"},
		{name: "unknown storage", mutate: func(c *Config) { c.Storage.Provider = "s3" }, wantErr: "storage.provider"},
		{name: "gcs without bucket", mutate: func(c *Config) { c.Storage.Provider = StorageGCS }, wantErr: "gcs_bucket"},
		{name: "redis without addr", mutate: func(c *Config) { c.Storage.Provider = StorageRedis }, wantErr: "redis.addr"},
		{name: "pubsub without project", mutate: func(c *Config) { c.PubSub.Provider = PubSubGCP }, wantErr: "project_id"},
		{name: "zero port", mutate: func(c *Config) { c.Server.Port = 0 }, wantErr: "server.port"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := base
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("Validate() error = %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("Validate() error = %v, want %q", err, tt.wantErr)
			}
		})
	}
}
