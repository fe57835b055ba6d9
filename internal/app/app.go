// Package app initializes and holds the long-lived services shared by the
// crawl and sanitize commands, acting as a small dependency injection container.
package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/gofrs/flock"
	"go.uber.org/zap"

	"github.com/JakeFAU/game-reviews-crawler/internal/config"
	"github.com/JakeFAU/game-reviews-crawler/internal/crawler"
	"github.com/JakeFAU/game-reviews-crawler/internal/dataset"
	"github.com/JakeFAU/game-reviews-crawler/internal/extract"
	collyfetcher "github.com/JakeFAU/game-reviews-crawler/internal/fetcher/colly"
	headlessfetcher "github.com/JakeFAU/game-reviews-crawler/internal/fetcher/headless"
	pubsubpublisher "github.com/JakeFAU/game-reviews-crawler/internal/publisher/pubsub"
	"github.com/JakeFAU/game-reviews-crawler/internal/sanitizer"
	"github.com/JakeFAU/game-reviews-crawler/internal/storage/gcs"
	"github.com/JakeFAU/game-reviews-crawler/internal/storage/local"
	"github.com/JakeFAU/game-reviews-crawler/internal/storage/memory"
	"github.com/JakeFAU/game-reviews-crawler/internal/storage/postgres"
)

// ErrLocked is returned when another crawl holds the data directory lock.
var ErrLocked = errors.New("another crawl is already running")

// App holds configuration, the logger and any clients opened on behalf of a
// command. Close releases them.
type App struct {
	cfg     config.Config
	logger  *zap.Logger
	closers []func() error
}

// New creates an App. Clients are opened lazily by the builders below.
func New(cfg config.Config, logger *zap.Logger) *App {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &App{cfg: cfg, logger: logger}
}

// Config returns the loaded configuration.
func (a *App) Config() config.Config {
	return a.cfg
}

// Logger returns the shared zap logger.
func (a *App) Logger() *zap.Logger {
	return a.logger
}

// NewFetcher builds the configured fetch backend wrapped with retries and
// the optional request-rate ceiling.
func (a *App) NewFetcher() (crawler.Fetcher, error) {
	var base crawler.Fetcher
	switch a.cfg.Fetcher.Mode {
	case config.FetcherHeadless:
		f := headlessfetcher.NewChromedp(headlessfetcher.Config{
			UserAgent:         a.cfg.Crawler.UserAgent,
			NavigationTimeout: time.Duration(a.cfg.Fetcher.NavTimeoutSec) * time.Second,
			SettleDelay:       a.cfg.Fetcher.SettleDelay,
		})
		a.onClose(func() error {
			f.Close()
			return nil
		})
		base = f
	default:
		base = collyfetcher.New(collyfetcher.Config{
			UserAgent:        a.cfg.Crawler.UserAgent,
			Timeout:          a.cfg.RequestTimeout(),
			CloudflareBypass: a.cfg.HTTP.CloudflareBypass,
		})
	}
	policy := crawler.NewExponentialRetryPolicy(a.cfg.RetrySettings())
	limiter := crawler.NewHostLimiter(a.cfg.Crawler.RequestsPerSecond, a.cfg.Crawler.Burst)
	return crawler.NewRetryingFetcher(base, policy, limiter, &crawler.TimerPauser{}, a.logger.Named("fetch")), nil
}

// NewEngine wires a crawl engine writing to the configured raw dataset.
func (a *App) NewEngine(settings crawler.Config) (*crawler.Engine, error) {
	fetcher, err := a.NewFetcher()
	if err != nil {
		return nil, err
	}
	return crawler.NewEngine(
		settings,
		fetcher,
		extract.New(),
		dataset.NewRawFile(a.cfg.RawPath()),
		dataset.NewCheckpointFile(a.cfg.CheckpointPath()),
		&crawler.TimerPauser{},
		nil,
		a.logger.Named("crawler"),
	), nil
}

// Crawl runs one crawl while holding the data directory lock.
func (a *App) Crawl(ctx context.Context, settings crawler.Config) (crawler.RunResult, error) {
	if err := os.MkdirAll(a.cfg.Data.Dir, 0o755); err != nil {
		return crawler.RunResult{}, fmt.Errorf("create data dir: %w", err)
	}
	lock := flock.New(a.cfg.LockPath())
	ok, err := lock.TryLock()
	if err != nil {
		return crawler.RunResult{}, fmt.Errorf("acquire crawl lock: %w", err)
	}
	if !ok {
		return crawler.RunResult{}, fmt.Errorf("%w (lock %s)", ErrLocked, a.cfg.LockPath())
	}
	defer func() {
		if err := lock.Unlock(); err != nil {
			a.logger.Warn("release crawl lock", zap.Error(err))
		}
	}()

	engine, err := a.NewEngine(settings)
	if err != nil {
		return crawler.RunResult{}, err
	}
	return engine.Run(ctx)
}

// NewBlobStore opens the configured refined output backend.
func (a *App) NewBlobStore(ctx context.Context) (sanitizer.BlobStore, error) {
	switch a.cfg.Storage.Backend {
	case config.BackendGCS:
		store, err := gcs.Open(ctx, gcs.Config{Bucket: a.cfg.Storage.GCSBucket, Prefix: a.cfg.Storage.Prefix})
		if err != nil {
			return nil, fmt.Errorf("open gcs store: %w", err)
		}
		a.onClose(store.Close)
		return store, nil
	case config.BackendMemory:
		return memory.NewBlobStore(), nil
	default:
		store, err := local.New(local.Config{BaseDir: a.cfg.Data.Dir})
		if err != nil {
			return nil, fmt.Errorf("open local store: %w", err)
		}
		return store, nil
	}
}

// NewSanitizer wires the sanitize service with its output store and the
// optional Postgres mirror and Pub/Sub notification.
func (a *App) NewSanitizer(ctx context.Context) (*sanitizer.Service, error) {
	store, err := a.NewBlobStore(ctx)
	if err != nil {
		return nil, err
	}
	opts := []sanitizer.Option{
		sanitizer.WithCrawl(func(ctx context.Context) error {
			_, err := a.Crawl(ctx, a.cfg.CrawlerSettings())
			return err
		}),
	}
	if a.cfg.DB.DSN != "" {
		loader, err := postgres.NewRefinedStore(ctx, postgres.RefinedStoreConfig{
			DSN:             a.cfg.DB.DSN,
			Table:           a.cfg.DB.Table,
			MaxConns:        a.cfg.DB.MaxConns,
			MinConns:        a.cfg.DB.MinConns,
			MaxConnLifetime: a.cfg.DB.MaxConnLifetime,
		})
		if err != nil {
			return nil, fmt.Errorf("open refined store: %w", err)
		}
		a.onClose(func() error {
			loader.Close()
			return nil
		})
		opts = append(opts, sanitizer.WithLoader(loader))
	}
	if a.cfg.PubSub.TopicName != "" {
		pub, err := pubsubpublisher.Open(ctx, a.cfg.PubSub.ProjectID)
		if err != nil {
			return nil, fmt.Errorf("open publisher: %w", err)
		}
		a.onClose(pub.Close)
		opts = append(opts, sanitizer.WithPublisher(pub))
	}

	svcCfg := sanitizer.Config{
		ObjectPath:     a.cfg.Data.Refined,
		CrawlIfMissing: a.cfg.Sanitizer.CrawlIfMissing,
		Topic:          a.cfg.PubSub.TopicName,
		Options:        a.cfg.SanitizerOptions(),
	}
	return sanitizer.NewService(svcCfg, dataset.NewRawFile(a.cfg.RawPath()), store, a.logger.Named("sanitizer"), opts...)
}

func (a *App) onClose(fn func() error) {
	a.closers = append(a.closers, fn)
}

// Close shuts down every client opened by the builders, newest first.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.logger.Warn("error closing service", zap.Error(err))
		}
	}
	a.closers = nil
}
