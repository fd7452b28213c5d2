// Package config loads and validates harvester configuration via Viper.
package config

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Fetcher modes.
const (
	FetcherColly    = "colly"
	FetcherHeadless = "headless"
	// FetcherAuto fetches with colly and renders headless only when the
	// response carries no review markup.
	FetcherAuto = "auto"
)

// Storage backends for handoff exports.
const (
	StorageNone   = "none"
	StorageMemory = "memory"
	StorageLocal  = "local"
	StorageGCS    = "gcs"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Crawler  CrawlerConfig  `mapstructure:"crawler"`
	HTTP     HTTPConfig     `mapstructure:"http"`
	Fetcher  FetcherConfig  `mapstructure:"fetcher"`
	Headless HeadlessConfig `mapstructure:"headless"`
	DB       DBConfig       `mapstructure:"db"`
	Storage  StorageConfig  `mapstructure:"storage"`
	PubSub   PubSubConfig   `mapstructure:"pubsub"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port                   int    `mapstructure:"port"`
	APIKey                 string `mapstructure:"api_key"`
	ShutdownTimeoutSeconds int    `mapstructure:"shutdown_timeout_seconds"`
	RequestTimeoutSeconds  int    `mapstructure:"request_timeout_seconds"`
}

// CrawlerConfig governs the harvest controller and worker pool.
type CrawlerConfig struct {
	BaseURL        string   `mapstructure:"base_url"`
	Concurrency    int      `mapstructure:"concurrency"`
	QueueDepth     int      `mapstructure:"queue_depth"`
	MaxFetches     int      `mapstructure:"max_fetches"`
	MaxInFlight    int      `mapstructure:"max_in_flight"`
	UserAgents     []string `mapstructure:"user_agents"`
	AcceptLanguage string   `mapstructure:"accept_language"`
}

// HTTPConfig configures outbound request behavior.
type HTTPConfig struct {
	TimeoutSeconds    int     `mapstructure:"timeout_seconds"`
	RequestsPerSecond float64 `mapstructure:"requests_per_second"`
	Burst             int     `mapstructure:"burst"`
	ProxyURL          string  `mapstructure:"proxy_url"`
	RespectRobots     bool    `mapstructure:"respect_robots"`
}

// FetcherConfig selects the page transport.
type FetcherConfig struct {
	Mode string `mapstructure:"mode"`
}

// HeadlessConfig configures the chromedp fetcher.
type HeadlessConfig struct {
	NavTimeoutSec int    `mapstructure:"nav_timeout_seconds"`
	WaitSelector  string `mapstructure:"wait_selector"`
	SettleDelayMs int    `mapstructure:"settle_delay_ms"`
}

// DBConfig controls access to Postgres. An empty DSN selects the in-memory stores.
type DBConfig struct {
	DSN                    string `mapstructure:"dsn"`
	ReviewsTable           string `mapstructure:"reviews_table"`
	JobsTable              string `mapstructure:"jobs_table"`
	MaxConns               int32  `mapstructure:"max_conns"`
	MinConns               int32  `mapstructure:"min_conns"`
	MaxConnLifetimeMinutes int    `mapstructure:"max_conn_lifetime_minutes"`
}

// StorageConfig selects where handoff exports are written.
type StorageConfig struct {
	Backend  string `mapstructure:"backend"`
	Bucket   string `mapstructure:"bucket"`
	Prefix   string `mapstructure:"prefix"`
	LocalDir string `mapstructure:"local_dir"`
}

// PubSubConfig holds the handoff notification topic. An empty project uses the
// in-memory publisher.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// Load builds a Config from disk/environment. With an empty path the usual
// locations are searched and a missing file is not an error.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("HARVESTER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	} else {
		v.SetConfigName("config")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/review-harvester/")
		v.AddConfigPath("$HOME/.review-harvester")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return Config{}, fmt.Errorf("read config: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	// Keys without a default are invisible to AutomaticEnv during Unmarshal,
	// so every field gets one, even when empty.
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.api_key", "")
	v.SetDefault("server.shutdown_timeout_seconds", 15)
	v.SetDefault("server.request_timeout_seconds", 30)
	v.SetDefault("crawler.base_url", "https://www.amazon.com")
	v.SetDefault("crawler.concurrency", 2)
	v.SetDefault("crawler.queue_depth", 64)
	v.SetDefault("crawler.max_fetches", 200)
	v.SetDefault("crawler.max_in_flight", 1)
	v.SetDefault("crawler.user_agents", defaultUserAgents)
	v.SetDefault("crawler.accept_language", "en-US,en;q=0.9")
	v.SetDefault("http.timeout_seconds", 15)
	v.SetDefault("http.requests_per_second", 0.5)
	v.SetDefault("http.burst", 1)
	v.SetDefault("http.proxy_url", "")
	v.SetDefault("http.respect_robots", false)
	v.SetDefault("fetcher.mode", FetcherColly)
	v.SetDefault("headless.nav_timeout_seconds", 25)
	v.SetDefault("headless.wait_selector", "#cm_cr-review_list")
	v.SetDefault("headless.settle_delay_ms", 500)
	v.SetDefault("db.dsn", "")
	v.SetDefault("db.reviews_table", "reviews")
	v.SetDefault("db.jobs_table", "harvest_jobs")
	v.SetDefault("db.max_conns", 4)
	v.SetDefault("db.min_conns", 0)
	v.SetDefault("db.max_conn_lifetime_minutes", 30)
	v.SetDefault("storage.backend", StorageNone)
	v.SetDefault("storage.bucket", "")
	v.SetDefault("storage.prefix", "reviews")
	v.SetDefault("storage.local_dir", "data/exports")
	v.SetDefault("pubsub.project_id", "")
	v.SetDefault("pubsub.topic_name", "reviews-harvested")
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "")
}

var defaultUserAgents = []string{
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 14_4) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.4 Safari/605.1.15",
	"Mozilla/5.0 (X11; Linux x86_64; rv:125.0) Gecko/20100101 Firefox/125.0",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:125.0) Gecko/20100101 Firefox/125.0",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36",
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Crawler.BaseURL == "" {
		return fmt.Errorf("crawler.base_url is required")
	}
	if c.Crawler.Concurrency <= 0 {
		return fmt.Errorf("crawler.concurrency must be > 0")
	}
	if c.Crawler.QueueDepth <= 0 {
		return fmt.Errorf("crawler.queue_depth must be > 0")
	}
	if c.Crawler.MaxFetches <= 0 || c.Crawler.MaxFetches > 200 {
		return fmt.Errorf("crawler.max_fetches must be between 1 and 200")
	}
	if c.Crawler.MaxInFlight <= 0 {
		return fmt.Errorf("crawler.max_in_flight must be > 0")
	}
	if c.HTTP.TimeoutSeconds <= 0 {
		return fmt.Errorf("http.timeout_seconds must be > 0")
	}
	switch c.Fetcher.Mode {
	case FetcherColly, FetcherHeadless, FetcherAuto:
	default:
		return fmt.Errorf("fetcher.mode must be %q, %q or %q", FetcherColly, FetcherHeadless, FetcherAuto)
	}
	switch c.Storage.Backend {
	case StorageNone, StorageMemory:
	case StorageLocal:
		if c.Storage.LocalDir == "" {
			return fmt.Errorf("storage.local_dir must be set for the local backend")
		}
	case StorageGCS:
		if c.Storage.Bucket == "" {
			return fmt.Errorf("storage.bucket must be set for the gcs backend")
		}
	default:
		return fmt.Errorf("unknown storage.backend %q", c.Storage.Backend)
	}
	if c.PubSub.ProjectID != "" && c.PubSub.TopicName == "" {
		return fmt.Errorf("pubsub.topic_name must be set when pubsub.project_id is set")
	}
	return nil
}

// FetchTimeout returns the per-request deadline.
func (c Config) FetchTimeout() time.Duration {
	return time.Duration(c.HTTP.TimeoutSeconds) * time.Second
}

// RequestHeaders returns the static headers sent with every listing request.
func (c Config) RequestHeaders() http.Header {
	h := http.Header{}
	h.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	if c.Crawler.AcceptLanguage != "" {
		h.Set("Accept-Language", c.Crawler.AcceptLanguage)
	}
	return h
}

// HandoffEnabled reports whether finished harvests are exported.
func (c Config) HandoffEnabled() bool {
	return c.Storage.Backend != StorageNone
}
