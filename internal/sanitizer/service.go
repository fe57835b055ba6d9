package sanitizer

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/game-reviews-crawler/internal/columnar"
	"github.com/JakeFAU/game-reviews-crawler/internal/dataset"
	"github.com/JakeFAU/game-reviews-crawler/internal/metrics"
)

// ErrRawMissing is returned when there is no raw file and no crawl could produce one.
var ErrRawMissing = errors.New("raw dataset not found")

// BlobStore persists encoded output.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, r io.Reader) (string, error)
}

// RowLoader mirrors refined rows into a queryable store.
type RowLoader interface {
	LoadRefined(ctx context.Context, refined dataset.Refined) (int, error)
}

// Publisher announces a refreshed dataset.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// CrawlFunc produces the raw file when it is missing.
type CrawlFunc func(ctx context.Context) error

// Config wires a Service.
type Config struct {
	ObjectPath     string
	CrawlIfMissing bool
	Topic          string
	Options        Options
}

// Event is the payload published after a successful run.
type Event struct {
	Object      string         `json:"object"`
	SHA256      string         `json:"sha256"`
	Rows        int            `json:"rows"`
	Dropped     int            `json:"dropped"`
	Columns     map[string]int `json:"columns"`
	RefreshedAt time.Time      `json:"refreshed_at"`
}

// Report summarizes a sanitize run.
type Report struct {
	RawPath   string
	OutputURI string
	Crawled   bool
	Stats     Stats
	Columns   map[string]int
	Bytes     int
	SHA256    string
	Loaded    int
	MessageID string
	Duration  time.Duration
}

// Service reads the raw file, refines it and writes the Parquet output.
type Service struct {
	cfg       Config
	raw       *dataset.RawFile
	store     BlobStore
	crawl     CrawlFunc
	loader    RowLoader
	publisher Publisher
	logger    *zap.Logger
	now       func() time.Time
}

// Option customizes a Service.
type Option func(*Service)

// WithCrawl sets the function used when the raw file is missing.
func WithCrawl(fn CrawlFunc) Option {
	return func(s *Service) { s.crawl = fn }
}

// WithLoader mirrors rows into a RowLoader after the output is stored.
func WithLoader(loader RowLoader) Option {
	return func(s *Service) { s.loader = loader }
}

// WithPublisher announces each refresh on cfg.Topic.
func WithPublisher(p Publisher) Option {
	return func(s *Service) { s.publisher = p }
}

// WithClock overrides the event timestamp source.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// NewService builds a Service.
func NewService(cfg Config, raw *dataset.RawFile, store BlobStore, logger *zap.Logger, opts ...Option) (*Service, error) {
	if raw == nil {
		return nil, fmt.Errorf("raw file is required")
	}
	if store == nil {
		return nil, fmt.Errorf("blob store is required")
	}
	if cfg.ObjectPath == "" {
		return nil, fmt.Errorf("object path is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Service{
		cfg:    cfg,
		raw:    raw,
		store:  store,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Run executes one sanitize pass.
func (s *Service) Run(ctx context.Context) (Report, error) {
	start := time.Now()
	report := Report{RawPath: s.raw.Path()}

	crawled, err := s.ensureRaw(ctx)
	if err != nil {
		return report, err
	}
	report.Crawled = crawled

	rows, malformed, err := s.raw.ReadRows()
	if err != nil {
		return report, fmt.Errorf("read raw dataset: %w", err)
	}
	refined, stats := Refine(rows, s.cfg.Options)
	if malformed > 0 {
		stats.Input += malformed
		stats.Dropped += malformed
		stats.Reasons[DropMalformedRow] += malformed
	}
	report.Stats = stats
	report.Columns = refined.ColumnCounts()

	var buf bytes.Buffer
	if err := columnar.Encode(&buf, refined); err != nil {
		return report, fmt.Errorf("encode refined dataset: %w", err)
	}
	report.Bytes = buf.Len()
	sum := sha256.Sum256(buf.Bytes())
	report.SHA256 = hex.EncodeToString(sum[:])
	uri, err := s.store.PutObject(ctx, s.cfg.ObjectPath, columnar.ContentType, &buf)
	if err != nil {
		return report, fmt.Errorf("store refined dataset: %w", err)
	}
	report.OutputURI = uri

	if s.loader != nil {
		n, err := s.loader.LoadRefined(ctx, refined)
		if err != nil {
			return report, fmt.Errorf("load refined rows: %w", err)
		}
		report.Loaded = n
	}
	if s.publisher != nil && s.cfg.Topic != "" {
		id, err := s.publisher.Publish(ctx, s.cfg.Topic, Event{
			Object:      uri,
			SHA256:      report.SHA256,
			Rows:        stats.Kept,
			Dropped:     stats.Dropped,
			Columns:     report.Columns,
			RefreshedAt: s.now(),
		})
		if err != nil {
			return report, fmt.Errorf("publish refresh event: %w", err)
		}
		report.MessageID = id
	}

	report.Duration = time.Since(start)
	metrics.ObserveSanitize(stats.Kept, stats.Dropped, report.Columns, report.Duration)
	s.logger.Info("sanitize finished",
		zap.String("raw", report.RawPath),
		zap.String("output", uri),
		zap.String("sha256", report.SHA256),
		zap.Int("rows_in", stats.Input),
		zap.Int("rows_kept", stats.Kept),
		zap.Int("rows_dropped", stats.Dropped),
		zap.Int("genre_columns", report.Columns[dataset.GroupGenres]),
		zap.Int("critic_columns", report.Columns[dataset.GroupCritics]),
		zap.Duration("duration", report.Duration),
	)
	return report, nil
}

func (s *Service) ensureRaw(ctx context.Context) (bool, error) {
	exists, err := s.raw.Exists()
	if err != nil {
		return false, err
	}
	if exists {
		return false, nil
	}
	if !s.cfg.CrawlIfMissing || s.crawl == nil {
		return false, fmt.Errorf("%w at %s", ErrRawMissing, s.raw.Path())
	}
	s.logger.Info("raw dataset missing; crawling first", zap.String("raw", s.raw.Path()))
	crawlErr := s.crawl(ctx)
	exists, err = s.raw.Exists()
	if err != nil {
		return true, err
	}
	if !exists {
		if crawlErr != nil {
			return true, fmt.Errorf("crawl for missing raw dataset: %w", crawlErr)
		}
		return true, fmt.Errorf("%w at %s after crawl", ErrRawMissing, s.raw.Path())
	}
	if crawlErr != nil {
		// a partial crawl still flushed rows; refine what we have
		s.logger.Warn("crawl ended with an error; sanitizing partial raw dataset", zap.Error(crawlErr))
	}
	return true, nil
}
