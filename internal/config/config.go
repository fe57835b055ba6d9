// Package config loads and validates crawler and sanitizer configuration via Viper.
package config

import (
	"fmt"
	"math"
	"net/url"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/JakeFAU/game-reviews-crawler/internal/crawler"
	"github.com/JakeFAU/game-reviews-crawler/internal/dataset"
	"github.com/JakeFAU/game-reviews-crawler/internal/sanitizer"
)

// EnvPrefix namespaces environment overrides, e.g. GAMECRAWL_HTTP_MAX_RETRIES.
const EnvPrefix = "GAMECRAWL"

// Storage backends accepted by storage.backend.
const (
	BackendLocal  = "local"
	BackendGCS    = "gcs"
	BackendMemory = "memory"
)

// Fetcher modes accepted by fetcher.mode.
const (
	FetcherColly    = "colly"
	FetcherHeadless = "headless"
)

// Config captures all configuration knobs loaded via Viper.
type Config struct {
	Crawler   CrawlerConfig   `mapstructure:"crawler"`
	HTTP      HTTPConfig      `mapstructure:"http"`
	Fetcher   FetcherConfig   `mapstructure:"fetcher"`
	Data      DataConfig      `mapstructure:"data"`
	Sanitizer SanitizerConfig `mapstructure:"sanitizer"`
	Storage   StorageConfig   `mapstructure:"storage"`
	DB        DBConfig        `mapstructure:"db"`
	PubSub    PubSubConfig    `mapstructure:"pubsub"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

// CrawlerConfig governs the pagination loop.
type CrawlerConfig struct {
	BaseURL           string        `mapstructure:"base_url"`
	ListingPath       string        `mapstructure:"listing_path"`
	ReviewsSuffix     string        `mapstructure:"reviews_suffix"`
	UserAgent         string        `mapstructure:"user_agent"`
	StartPage         int           `mapstructure:"start_page"`
	MaxPages          int           `mapstructure:"max_pages"`
	SubpageDelay      time.Duration `mapstructure:"subpage_delay"`
	RequestsPerSecond float64       `mapstructure:"requests_per_second"`
	Burst             int           `mapstructure:"burst"`
}

// HTTPConfig configures HTTP client retry behavior.
type HTTPConfig struct {
	TimeoutSeconds   int   `mapstructure:"timeout_seconds"`
	MaxRetries       int   `mapstructure:"max_retries"`
	BackoffInitialMs int   `mapstructure:"backoff_initial_ms"`
	BackoffMaxMs     int   `mapstructure:"backoff_max_ms"`
	RetryStatuses    []int `mapstructure:"retry_statuses"`
	CloudflareBypass bool  `mapstructure:"cloudflare_bypass"`
}

// FetcherConfig selects the fetch backend.
type FetcherConfig struct {
	Mode          string        `mapstructure:"mode"`
	NavTimeoutSec int           `mapstructure:"nav_timeout_seconds"`
	SettleDelay   time.Duration `mapstructure:"settle_delay"`
}

// DataConfig locates the on-disk datasets.
type DataConfig struct {
	Dir     string `mapstructure:"dir"`
	Raw     string `mapstructure:"raw"`
	Refined string `mapstructure:"refined"`
}

// SanitizerConfig tunes the raw to refined transform.
type SanitizerConfig struct {
	CrawlIfMissing bool `mapstructure:"crawl_if_missing"`
	GenreThreshold int  `mapstructure:"genre_threshold"`
	CriticSentinel int  `mapstructure:"critic_sentinel"`
}

// StorageConfig selects where the refined Parquet file is written.
type StorageConfig struct {
	Backend   string `mapstructure:"backend"`
	GCSBucket string `mapstructure:"gcs_bucket"`
	Prefix    string `mapstructure:"prefix"`
}

// DBConfig controls the optional Postgres mirror of the refined rows.
type DBConfig struct {
	DSN             string        `mapstructure:"dsn"`
	Table           string        `mapstructure:"table"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
}

// PubSubConfig holds metadata for the dataset refreshed notification.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// MetricsConfig controls batch export of Prometheus metrics.
type MetricsConfig struct {
	Textfile       string `mapstructure:"textfile"`
	PushgatewayURL string `mapstructure:"pushgateway_url"`
	Job            string `mapstructure:"job"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	return LoadWithOverrides(path, nil)
}

// LoadWithOverrides is Load with explicit key overrides (typically command
// line flags) taking precedence over the file and environment.
func LoadWithOverrides(path string, overrides map[string]any) (Config, error) {
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
	for key, value := range overrides {
		v.Set(key, value)
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
	v.SetDefault("crawler.base_url", "https://www.metacritic.com")
	v.SetDefault("crawler.listing_path", "/browse/games/score/metascore/all")
	v.SetDefault("crawler.reviews_suffix", "/critic-reviews")
	v.SetDefault("crawler.user_agent", "Edge")
	v.SetDefault("crawler.start_page", 0)
	v.SetDefault("crawler.max_pages", 0)
	v.SetDefault("crawler.subpage_delay", "2s")
	v.SetDefault("crawler.requests_per_second", 0)
	v.SetDefault("crawler.burst", 1)
	v.SetDefault("http.timeout_seconds", 15)
	v.SetDefault("http.max_retries", 5)
	v.SetDefault("http.backoff_initial_ms", 1000)
	v.SetDefault("http.backoff_max_ms", 30000)
	v.SetDefault("http.retry_statuses", []int{429, 404})
	v.SetDefault("http.cloudflare_bypass", false)
	v.SetDefault("fetcher.mode", FetcherColly)
	v.SetDefault("fetcher.nav_timeout_seconds", 45)
	v.SetDefault("fetcher.settle_delay", "500ms")
	v.SetDefault("data.dir", "data")
	v.SetDefault("data.raw", "raw.csv")
	v.SetDefault("data.refined", "refined.parquet")
	v.SetDefault("sanitizer.crawl_if_missing", true)
	v.SetDefault("sanitizer.genre_threshold", 85)
	v.SetDefault("sanitizer.critic_sentinel", -1)
	v.SetDefault("storage.backend", BackendLocal)
	v.SetDefault("storage.gcs_bucket", "")
	v.SetDefault("storage.prefix", "")
	v.SetDefault("db.dsn", "")
	v.SetDefault("db.table", "refined_games")
	v.SetDefault("db.max_conns", 0)
	v.SetDefault("db.min_conns", 0)
	v.SetDefault("db.max_conn_lifetime", "0s")
	v.SetDefault("pubsub.project_id", "")
	v.SetDefault("pubsub.topic_name", "")
	v.SetDefault("metrics.textfile", "")
	v.SetDefault("metrics.pushgateway_url", "")
	v.SetDefault("metrics.job", "gamecrawl")
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "info")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if _, err := url.ParseRequestURI(c.Crawler.BaseURL); err != nil {
		return fmt.Errorf("crawler.base_url is invalid: %w", err)
	}
	if c.Crawler.StartPage < 0 {
		return fmt.Errorf("crawler.start_page must be >= 0")
	}
	if c.Crawler.MaxPages < 0 {
		return fmt.Errorf("crawler.max_pages must be >= 0")
	}
	if c.Crawler.SubpageDelay < 0 {
		return fmt.Errorf("crawler.subpage_delay must be >= 0")
	}
	if c.Crawler.RequestsPerSecond < 0 {
		return fmt.Errorf("crawler.requests_per_second must be >= 0")
	}
	if c.HTTP.TimeoutSeconds <= 0 {
		return fmt.Errorf("http.timeout_seconds must be > 0")
	}
	if c.HTTP.MaxRetries < 0 {
		return fmt.Errorf("http.max_retries must be >= 0")
	}
	switch c.Fetcher.Mode {
	case FetcherColly:
	case FetcherHeadless:
		if c.Fetcher.NavTimeoutSec <= 0 {
			return fmt.Errorf("fetcher.nav_timeout_seconds must be > 0 when fetcher.mode is headless")
		}
		if c.Fetcher.SettleDelay < 0 {
			return fmt.Errorf("fetcher.settle_delay must be >= 0")
		}
	default:
		return fmt.Errorf("fetcher.mode %q is not one of colly, headless", c.Fetcher.Mode)
	}
	if strings.TrimSpace(c.Data.Dir) == "" {
		return fmt.Errorf("data.dir must be set")
	}
	if strings.TrimSpace(c.Data.Raw) == "" || strings.TrimSpace(c.Data.Refined) == "" {
		return fmt.Errorf("data.raw and data.refined must be set")
	}
	if c.Sanitizer.GenreThreshold < 0 {
		return fmt.Errorf("sanitizer.genre_threshold must be >= 0")
	}
	if c.Sanitizer.CriticSentinel < math.MinInt8 || c.Sanitizer.CriticSentinel >= 0 {
		return fmt.Errorf("sanitizer.critic_sentinel must be between %d and -1", math.MinInt8)
	}
	switch c.Storage.Backend {
	case BackendLocal, BackendMemory:
	case BackendGCS:
		if c.Storage.GCSBucket == "" {
			return fmt.Errorf("storage.gcs_bucket must be set when storage.backend is gcs")
		}
	default:
		return fmt.Errorf("storage.backend %q is not one of local, gcs, memory", c.Storage.Backend)
	}
	if c.PubSub.TopicName != "" && c.PubSub.ProjectID == "" {
		return fmt.Errorf("pubsub.project_id must be set when pubsub.topic_name is set")
	}
	return nil
}

// RawPath is the pipe-delimited raw dataset under data.dir.
func (c Config) RawPath() string {
	return filepath.Join(c.Data.Dir, c.Data.Raw)
}

// CheckpointPath is the resume cursor stored next to the raw dataset.
func (c Config) CheckpointPath() string {
	return dataset.CheckpointPath(c.RawPath())
}

// LockPath guards the raw dataset against concurrent crawls.
func (c Config) LockPath() string {
	return filepath.Join(c.Data.Dir, ".crawl.lock")
}

// CrawlerSettings converts the crawler section into engine configuration.
func (c Config) CrawlerSettings() crawler.Config {
	return crawler.Config{
		BaseURL:       c.Crawler.BaseURL,
		ListingPath:   c.Crawler.ListingPath,
		ReviewsSuffix: c.Crawler.ReviewsSuffix,
		StartPage:     c.Crawler.StartPage,
		MaxPages:      c.Crawler.MaxPages,
		SubpageDelay:  c.Crawler.SubpageDelay,
	}
}

// RetrySettings converts the http section into a retry policy configuration.
func (c Config) RetrySettings() crawler.RetryConfig {
	return crawler.RetryConfig{
		MaxRetries:    c.HTTP.MaxRetries,
		BaseDelay:     time.Duration(c.HTTP.BackoffInitialMs) * time.Millisecond,
		MaxDelay:      time.Duration(c.HTTP.BackoffMaxMs) * time.Millisecond,
		RetryStatuses: c.HTTP.RetryStatuses,
	}
}

// RequestTimeout is the per-request HTTP budget.
func (c Config) RequestTimeout() time.Duration {
	return time.Duration(c.HTTP.TimeoutSeconds) * time.Second
}

// SanitizerOptions converts the sanitizer section into transform options.
func (c Config) SanitizerOptions() sanitizer.Options {
	return sanitizer.Options{
		GenreThreshold: c.Sanitizer.GenreThreshold,
		Sentinel:       int8(c.Sanitizer.CriticSentinel),
	}
}
