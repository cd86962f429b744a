// Package config loads and validates crawler configuration via Viper.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	collyfetcher "github.com/JakeFAU/listing-crawler/internal/fetcher/colly"
	"github.com/JakeFAU/listing-crawler/internal/island"
	"github.com/JakeFAU/listing-crawler/internal/pipeline"
)

// EnvPrefix prefixes every environment override, e.g. LISTING_SERVER_PORT.
const EnvPrefix = "LISTING"

// listSeparator splits list values given as a single string. Identity
// strings contain commas, so commas cannot be used.
const listSeparator = "|"

// Storage providers.
const (
	StorageMemory   = "memory"
	StorageFile     = "file"
	StorageGCS      = "gcs"
	StoragePostgres = "postgres"
	StorageRedis    = "redis"
)

// Publisher providers.
const (
	PubSubNone   = "none"
	PubSubMemory = "memory"
	PubSubGCP    = "pubsub"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Crawler  CrawlerConfig  `mapstructure:"crawler"`
	HTTP     HTTPConfig     `mapstructure:"http"`
	Headless HeadlessConfig `mapstructure:"headless"`
	Storage  StorageConfig  `mapstructure:"storage"`
	DB       DBConfig       `mapstructure:"db"`
	Redis    RedisConfig    `mapstructure:"redis"`
	PubSub   PubSubConfig   `mapstructure:"pubsub"`
	Uploads  UploadsConfig  `mapstructure:"uploads"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port                  int    `mapstructure:"port"`
	ScrapeRatePerMinute   int    `mapstructure:"scrape_rate_per_minute"`
	CORSOrigin            string `mapstructure:"cors_origin"`
	RequestTimeoutSeconds int    `mapstructure:"request_timeout_seconds"`
}

// CrawlerConfig governs the crawl run.
type CrawlerConfig struct {
	SearchURL           string   `mapstructure:"search_url"`
	Origin              string   `mapstructure:"origin"`
	DefaultCity         string   `mapstructure:"default_city"`
	DefaultState        string   `mapstructure:"default_state"`
	DefaultPropertyType string   `mapstructure:"default_property_type"`
	MaxListings         int      `mapstructure:"max_listings"`
	DelayMs             int      `mapstructure:"delay_ms"`
	EnrichMode          string   `mapstructure:"enrich_mode"`
	FallbackDataset     bool     `mapstructure:"fallback_dataset"`
	MaxImages           int      `mapstructure:"max_images"`
	BlockMarkers        []string `mapstructure:"block_markers"`
}

// HTTPConfig configures outbound requests and retry behavior.
type HTTPConfig struct {
	UserAgents        []string `mapstructure:"user_agents"`
	TimeoutSeconds    int      `mapstructure:"timeout_seconds"`
	MaxRetries        int      `mapstructure:"max_retries"`
	BackoffInitialMs  int      `mapstructure:"backoff_initial_ms"`
	BackoffMaxMs      int      `mapstructure:"backoff_max_ms"`
	RequestsPerSecond float64  `mapstructure:"requests_per_second"`
	MaxBodyBytes      int      `mapstructure:"max_body_bytes"`
}

// HeadlessConfig switches fetching to headless Chrome.
type HeadlessConfig struct {
	Enabled       bool `mapstructure:"enabled"`
	NavTimeoutSec int  `mapstructure:"nav_timeout_seconds"`
}

// StorageConfig selects and configures the property store.
type StorageConfig struct {
	Provider       string `mapstructure:"provider"`
	DataDir        string `mapstructure:"data_dir"`
	GCSBucket      string `mapstructure:"gcs_bucket"`
	GCSObject      string `mapstructure:"gcs_object"`
	MaxCASAttempts int    `mapstructure:"max_cas_attempts"`
}

// DBConfig controls access to the relational database.
type DBConfig struct {
	DSN      string `mapstructure:"dsn"`
	Table    string `mapstructure:"table"`
	MaxConns int    `mapstructure:"max_conns"`
}

// RedisConfig locates the Redis key holding the collection.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	Key      string `mapstructure:"key"`
}

// PubSubConfig holds metadata for crawl-run notifications.
type PubSubConfig struct {
	Provider  string `mapstructure:"provider"`
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// UploadsConfig locates the static upload root.
type UploadsConfig struct {
	Dir              string `mapstructure:"dir"`
	DiskWarningBytes int64  `mapstructure:"disk_warning_bytes"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// LoadDotEnv loads KEY=VALUE pairs from the given files into the process
// environment. Missing files are skipped and existing variables win.
func LoadDotEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, file := range files {
		if _, err := os.Stat(file); errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err := godotenv.Load(file); err != nil {
			return fmt.Errorf("load %s: %w", file, err)
		}
	}
	return nil
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	hook := viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(listSeparator),
	))
	if err := v.Unmarshal(&cfg, hook); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.scrape_rate_per_minute", 6)
	v.SetDefault("server.cors_origin", "*")
	v.SetDefault("server.request_timeout_seconds", 300)
	v.SetDefault("crawler.search_url", "https://www.zillow.com/homes/for_sale/Cincinnati-OH/multi-family_type/")
	v.SetDefault("crawler.origin", "https://www.zillow.com")
	v.SetDefault("crawler.default_city", "Cincinnati")
	v.SetDefault("crawler.default_state", "OH")
	v.SetDefault("crawler.default_property_type", "Multi-Family")
	v.SetDefault("crawler.max_listings", pipeline.DefaultMaxListings)
	v.SetDefault("crawler.delay_ms", 2000)
	// Blocked detail pages degrade to search-card data instead of dropping the item.
	v.SetDefault("crawler.enrich_mode", string(pipeline.ModeEnrichOrShallow))
	v.SetDefault("crawler.fallback_dataset", false)
	v.SetDefault("crawler.max_images", 5)
	v.SetDefault("crawler.block_markers", island.DefaultBlockMarkers)
	v.SetDefault("http.user_agents", collyfetcher.DefaultUserAgents)
	v.SetDefault("http.timeout_seconds", 30)
	v.SetDefault("http.max_retries", 1)
	v.SetDefault("http.backoff_initial_ms", 500)
	v.SetDefault("http.backoff_max_ms", 5000)
	v.SetDefault("http.requests_per_second", 0.5)
	v.SetDefault("http.max_body_bytes", 10<<20)
	v.SetDefault("headless.enabled", false)
	v.SetDefault("headless.nav_timeout_seconds", 45)
	v.SetDefault("storage.provider", StorageFile)
	v.SetDefault("storage.data_dir", "./data")
	v.SetDefault("storage.gcs_bucket", "")
	v.SetDefault("storage.gcs_object", "properties.json")
	v.SetDefault("storage.max_cas_attempts", 5)
	v.SetDefault("db.dsn", "")
	v.SetDefault("db.table", "properties")
	v.SetDefault("db.max_conns", 4)
	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.key", "listing-crawler:properties")
	v.SetDefault("pubsub.provider", PubSubNone)
	v.SetDefault("pubsub.project_id", "")
	v.SetDefault("pubsub.topic_name", "crawl-runs")
	v.SetDefault("uploads.dir", "./uploads")
	v.SetDefault("uploads.disk_warning_bytes", 500<<20)
	v.SetDefault("logging.development", true)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if strings.TrimSpace(c.Crawler.SearchURL) == "" {
		return fmt.Errorf("crawler.search_url is required")
	}
	if c.Crawler.MaxListings < 1 || c.Crawler.MaxListings > pipeline.MaxListingsLimit {
		return fmt.Errorf("crawler.max_listings must be between 1 and %d", pipeline.MaxListingsLimit)
	}
	if c.Crawler.DelayMs < 0 {
		return fmt.Errorf("crawler.delay_ms must be >= 0")
	}
	if _, err := pipeline.ParseEnrichMode(c.Crawler.EnrichMode); err != nil {
		return fmt.Errorf("crawler.enrich_mode: %w", err)
	}
	if c.HTTP.TimeoutSeconds <= 0 {
		return fmt.Errorf("http.timeout_seconds must be > 0")
	}
	if c.HTTP.MaxRetries < 0 {
		return fmt.Errorf("http.max_retries must be >= 0")
	}
	if c.HTTP.RequestsPerSecond < 0 {
		return fmt.Errorf("http.requests_per_second must be >= 0")
	}
	if c.Headless.Enabled && c.Headless.NavTimeoutSec <= 0 {
		return fmt.Errorf("headless.nav_timeout_seconds must be > 0 when headless is enabled")
	}
	switch c.Storage.Provider {
	case StorageMemory:
	case StorageFile:
		if c.Storage.DataDir == "" {
			return fmt.Errorf("storage.data_dir is required for the file provider")
		}
	case StorageGCS:
		if c.Storage.GCSBucket == "" {
			return fmt.Errorf("storage.gcs_bucket is required for the gcs provider")
		}
	case StoragePostgres:
		if c.DB.DSN == "" {
			return fmt.Errorf("db.dsn is required for the postgres provider")
		}
	case StorageRedis:
		if c.Redis.Addr == "" {
			return fmt.Errorf("redis.addr is required for the redis provider")
		}
	default:
		return fmt.Errorf("unknown storage.provider %q", c.Storage.Provider)
	}
	switch c.PubSub.Provider {
	case PubSubNone, PubSubMemory:
	case PubSubGCP:
		if c.PubSub.ProjectID == "" || c.PubSub.TopicName == "" {
			return fmt.Errorf("pubsub.project_id and pubsub.topic_name are required for the pubsub provider")
		}
	default:
		return fmt.Errorf("unknown pubsub.provider %q", c.PubSub.Provider)
	}
	if c.Uploads.Dir == "" {
		return fmt.Errorf("uploads.dir is required")
	}
	return nil
}

// Delay is the pause inserted after every listing.
func (c Config) Delay() time.Duration {
	return time.Duration(c.Crawler.DelayMs) * time.Millisecond
}

// FetchTimeout bounds one outbound request.
func (c Config) FetchTimeout() time.Duration {
	return time.Duration(c.HTTP.TimeoutSeconds) * time.Second
}

// RequestTimeout bounds one API request, scrape runs included.
func (c Config) RequestTimeout() time.Duration {
	return time.Duration(c.Server.RequestTimeoutSeconds) * time.Second
}
