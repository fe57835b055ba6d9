package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "https://www.metacritic.com", cfg.Crawler.BaseURL)
	assert.Equal(t, "Edge", cfg.Crawler.UserAgent)
	assert.Equal(t, 2*time.Second, cfg.Crawler.SubpageDelay)
	assert.Equal(t, 5, cfg.HTTP.MaxRetries)
	assert.Equal(t, []int{429, 404}, cfg.HTTP.RetryStatuses)
	assert.Equal(t, FetcherColly, cfg.Fetcher.Mode)
	assert.Equal(t, BackendLocal, cfg.Storage.Backend)
	assert.True(t, cfg.Sanitizer.CrawlIfMissing)
	assert.Equal(t, 85, cfg.Sanitizer.GenreThreshold)
	assert.Equal(t, -1, cfg.Sanitizer.CriticSentinel)
	assert.Equal(t, 500*time.Millisecond, cfg.Fetcher.SettleDelay)

	assert.Equal(t, filepath.Join("data", "raw.csv"), cfg.RawPath())
	assert.Equal(t, filepath.Join("data", "raw.checkpoint.json"), cfg.CheckpointPath())
	assert.Equal(t, filepath.Join("data", ".crawl.lock"), cfg.LockPath())
	assert.Equal(t, "https://www.metacritic.com/browse/games/score/metascore/all?page=3",
		cfg.CrawlerSettings().ListingURL(3))
}

func TestLoadWithFileOverrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	configYAML := `
crawler:
  base_url: http://localhost:8081
  user_agent: test-agent
  start_page: 4
  max_pages: 2
  subpage_delay: 250ms
  requests_per_second: 1.5
http:
  timeout_seconds: 45
  max_retries: 3
  backoff_initial_ms: 100
  backoff_max_ms: 500
  retry_statuses: [429, 503]
fetcher:
  mode: headless
  settle_delay: 1500ms
data:
  dir: /tmp/games
sanitizer:
  genre_threshold: 10
  critic_sentinel: -2
storage:
  backend: gcs
  gcs_bucket: refined-bucket
  prefix: datasets
pubsub:
  project_id: proj
  topic_name: refreshed
logging:
  development: false
  level: debug
`
	require.NoError(t, os.WriteFile(path, []byte(configYAML), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "test-agent", cfg.Crawler.UserAgent)
	assert.Equal(t, 250*time.Millisecond, cfg.Crawler.SubpageDelay)
	assert.InDelta(t, 1.5, cfg.Crawler.RequestsPerSecond, 1e-9)
	assert.Equal(t, 45*time.Second, cfg.RequestTimeout())
	assert.Equal(t, FetcherHeadless, cfg.Fetcher.Mode)
	assert.Equal(t, 1500*time.Millisecond, cfg.Fetcher.SettleDelay)
	assert.Equal(t, "/tmp/games/raw.csv", cfg.RawPath())
	assert.Equal(t, "refined-bucket", cfg.Storage.GCSBucket)
	assert.False(t, cfg.Logging.Development)
	assert.Equal(t, "debug", cfg.Logging.Level)

	crawl := cfg.CrawlerSettings()
	assert.Equal(t, 4, crawl.StartPage)
	assert.Equal(t, 2, crawl.MaxPages)

	retry := cfg.RetrySettings()
	assert.Equal(t, 3, retry.MaxRetries)
	assert.Equal(t, 100*time.Millisecond, retry.BaseDelay)
	assert.Equal(t, 500*time.Millisecond, retry.MaxDelay)
	assert.Equal(t, []int{429, 503}, retry.RetryStatuses)

	opts := cfg.SanitizerOptions()
	assert.Equal(t, 10, opts.GenreThreshold)
	assert.Equal(t, int8(-2), opts.Sentinel)
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("GAMECRAWL_CRAWLER_USER_AGENT", "env-agent")
	t.Setenv("GAMECRAWL_HTTP_MAX_RETRIES", "7")
	t.Setenv("GAMECRAWL_SANITIZER_CRAWL_IF_MISSING", "false")
	t.Setenv("GAMECRAWL_DB_DSN", "postgres://u@localhost/games")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "env-agent", cfg.Crawler.UserAgent)
	assert.Equal(t, 7, cfg.HTTP.MaxRetries)
	assert.False(t, cfg.Sanitizer.CrawlIfMissing)
	assert.Equal(t, "postgres://u@localhost/games", cfg.DB.DSN)
}

func TestLoadWithOverridesBeatsEnv(t *testing.T) {
	t.Setenv("GAMECRAWL_CRAWLER_START_PAGE", "3")

	cfg, err := LoadWithOverrides("", map[string]any{
		"crawler.start_page":        "9",
		"sanitizer.genre_threshold": 12,
		"data.dir":                  "/srv/games",
	})
	require.NoError(t, err)
	assert.Equal(t, 9, cfg.Crawler.StartPage)
	assert.Equal(t, 12, cfg.Sanitizer.GenreThreshold)
	assert.Equal(t, "/srv/games/raw.csv", cfg.RawPath())
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}

func TestValidate(t *testing.T) {
	base, err := Load("")
	require.NoError(t, err)

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"bad base url", func(c *Config) { c.Crawler.BaseURL = "not a url" }},
		{"negative start page", func(c *Config) { c.Crawler.StartPage = -1 }},
		{"negative max pages", func(c *Config) { c.Crawler.MaxPages = -1 }},
		{"negative delay", func(c *Config) { c.Crawler.SubpageDelay = -time.Second }},
		{"negative rps", func(c *Config) { c.Crawler.RequestsPerSecond = -1 }},
		{"zero timeout", func(c *Config) { c.HTTP.TimeoutSeconds = 0 }},
		{"negative retries", func(c *Config) { c.HTTP.MaxRetries = -1 }},
		{"unknown fetcher", func(c *Config) { c.Fetcher.Mode = "curl" }},
		{"headless without nav timeout", func(c *Config) {
			c.Fetcher.Mode = FetcherHeadless
			c.Fetcher.NavTimeoutSec = 0
		}},
		{"negative settle delay", func(c *Config) {
			c.Fetcher.Mode = FetcherHeadless
			c.Fetcher.SettleDelay = -time.Millisecond
		}},
		{"empty data dir", func(c *Config) { c.Data.Dir = " " }},
		{"empty raw name", func(c *Config) { c.Data.Raw = "" }},
		{"negative threshold", func(c *Config) { c.Sanitizer.GenreThreshold = -1 }},
		{"sentinel overflow", func(c *Config) { c.Sanitizer.CriticSentinel = -200 }},
		{"sentinel zero", func(c *Config) { c.Sanitizer.CriticSentinel = 0 }},
		{"sentinel inside score range", func(c *Config) { c.Sanitizer.CriticSentinel = 90 }},
		{"gcs without bucket", func(c *Config) { c.Storage.Backend = BackendGCS }},
		{"unknown backend", func(c *Config) { c.Storage.Backend = "s3" }},
		{"topic without project", func(c *Config) { c.PubSub.TopicName = "refreshed" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base
			tt.mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}

	assert.NoError(t, base.Validate())

	lowest := base
	lowest.Sanitizer.CriticSentinel = -128
	assert.NoError(t, lowest.Validate())
}
