// Package crawler walks the paginated game listing, visits each game's detail
// and critic review pages, and accumulates one Item per game. Results are
// flushed to an ItemSink exactly once per run, on success or on the first
// unrecoverable error, together with a resume Checkpoint.
package crawler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/game-reviews-crawler/internal/metrics"
)

// ErrCrawlAborted wraps the error that stopped a crawl after partial results were flushed.
var ErrCrawlAborted = errors.New("crawl aborted")

// RunResult summarizes one Engine.Run.
type RunResult struct {
	RunID     string
	StartPage int
	NextPage  int
	Pages     int
	Items     int
	NotFound  int
	Complete  bool
}

// Engine runs the sequential pagination and extraction loop.
type Engine struct {
	cfg         Config
	fetcher     Fetcher
	extractor   Extractor
	sink        ItemSink
	checkpoints CheckpointStore
	pauser      Pauser
	clock       Clock
	logger      *zap.Logger
}

// NewEngine wires an Engine. checkpoints, pauser and clock may be nil.
func NewEngine(
	cfg Config,
	fetcher Fetcher,
	extractor Extractor,
	sink ItemSink,
	checkpoints CheckpointStore,
	pauser Pauser,
	clock Clock,
	logger *zap.Logger,
) *Engine {
	if pauser == nil {
		pauser = &TimerPauser{}
	}
	if clock == nil {
		clock = systemClock{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		cfg:         cfg,
		fetcher:     fetcher,
		extractor:   extractor,
		sink:        sink,
		checkpoints: checkpoints,
		pauser:      pauser,
		clock:       clock,
		logger:      logger,
	}
}

// Run crawls from the configured (or checkpointed) page until a listing page
// comes back empty, MaxPages is reached, or an error occurs. A non-nil error
// always wraps ErrCrawlAborted and is returned only after the flush.
func (e *Engine) Run(ctx context.Context) (RunResult, error) {
	if err := e.cfg.Validate(); err != nil {
		return RunResult{}, err
	}
	runID, err := uuid.NewV7()
	if err != nil {
		return RunResult{}, fmt.Errorf("generate run id: %w", err)
	}
	result := RunResult{RunID: runID.String(), StartPage: e.cfg.StartPage}
	logger := e.logger.With(zap.String("run_id", result.RunID))

	start, appendMode, baseRows, done, err := e.prepare(logger)
	if err != nil {
		return result, err
	}
	if done {
		result.Complete = true
		result.NextPage = start
		return result, nil
	}
	result.StartPage = start
	logger.Info("crawl started",
		zap.Int("start_page", start),
		zap.Bool("append", appendMode),
		zap.Int("existing_rows", baseRows),
	)

	var (
		items     []Item
		completed int
		page      = start
		runErr    error
	)
	for e.cfg.MaxPages == 0 || result.Pages < e.cfg.MaxPages {
		entries, err := e.scrapeListing(ctx, page)
		if err != nil {
			runErr = err
			break
		}
		if len(entries) == 0 {
			logger.Info("listing exhausted", zap.Int("page", page))
			result.Complete = true
			break
		}
		for _, entry := range entries {
			item, missing, err := e.scrapeItem(ctx, logger, entry)
			if err != nil {
				runErr = fmt.Errorf("scrape %q: %w", entry.Title, err)
				break
			}
			result.NotFound += missing
			items = append(items, item)
			metrics.ObserveItem()
		}
		if runErr != nil {
			break
		}
		completed = len(items)
		result.Pages++
		page++
		logger.Info("listing page complete",
			zap.Int("page", page-1),
			zap.Int("entries", len(entries)),
			zap.Int("items_total", len(items)),
		)
	}
	result.NextPage = page
	result.Items = len(items)

	flushCtx := context.WithoutCancel(ctx)
	if err := e.flush(flushCtx, items, appendMode); err != nil {
		if runErr != nil {
			return result, fmt.Errorf("%w: %w (flush failed: %v)", ErrCrawlAborted, runErr, err)
		}
		return result, fmt.Errorf("flush items: %w", err)
	}
	cp := Checkpoint{
		RunID:     result.RunID,
		NextPage:  page,
		Rows:      baseRows + completed,
		Complete:  result.Complete,
		UpdatedAt: e.clock.Now(),
	}
	if runErr != nil {
		cp.Error = runErr.Error()
	}
	e.saveCheckpoint(logger, cp)

	if runErr != nil {
		metrics.ObserveRun("failed")
		logger.Error("crawl aborted; partial results flushed",
			zap.Int("items_flushed", len(items)),
			zap.Int("resume_page", page),
			zap.Int("resume_rows", cp.Rows),
			zap.Error(runErr),
		)
		return result, fmt.Errorf("%w at page %d: %w", ErrCrawlAborted, page, runErr)
	}
	metrics.ObserveRun("succeeded")
	logger.Info("crawl finished",
		zap.Int("pages", result.Pages),
		zap.Int("items", result.Items),
		zap.Int("not_found_substitutions", result.NotFound),
	)
	return result, nil
}

// prepare resolves the start page and write mode, truncating a partially
// written trailing page when resuming from a checkpoint.
func (e *Engine) prepare(logger *zap.Logger) (start int, appendMode bool, baseRows int, done bool, err error) {
	start = e.cfg.StartPage
	appendMode = e.cfg.Append
	if e.cfg.Resume {
		cp, ok, err := e.loadCheckpoint()
		if err != nil {
			return 0, false, 0, false, fmt.Errorf("load checkpoint: %w", err)
		}
		if !ok {
			// Rows already on disk are kept; a resume never replaces the raw file.
			appendMode = true
			logger.Warn("no checkpoint found; appending from configured page", zap.Int("start_page", start))
		} else {
			if cp.Complete {
				logger.Info("previous crawl completed; nothing to resume", zap.String("previous_run_id", cp.RunID))
				return cp.NextPage, true, cp.Rows, true, nil
			}
			if err := e.sink.TruncateRows(cp.Rows); err != nil {
				return 0, false, 0, false, fmt.Errorf("trim raw rows to checkpoint: %w", err)
			}
			logger.Info("resuming from checkpoint",
				zap.String("previous_run_id", cp.RunID),
				zap.Int("next_page", cp.NextPage),
				zap.Int("rows", cp.Rows),
			)
			return cp.NextPage, true, cp.Rows, false, nil
		}
	}
	if appendMode {
		baseRows, err = e.sink.CountRows()
		if err != nil {
			return 0, false, 0, false, fmt.Errorf("count existing rows: %w", err)
		}
	}
	return start, appendMode, baseRows, false, nil
}

func (e *Engine) scrapeListing(ctx context.Context, page int) ([]ListingEntry, error) {
	pageURL := e.cfg.ListingURL(page)
	resp, err := e.fetcher.Fetch(ctx, FetchRequest{URL: pageURL, Kind: PageListing})
	if err != nil {
		return nil, fmt.Errorf("fetch listing page %d: %w", page, err)
	}
	entries, err := e.extractor.ParseListing(resp.Body, pageURL)
	if err != nil {
		return nil, fmt.Errorf("parse listing page %d: %w", page, err)
	}
	return entries, nil
}

// scrapeItem fetches both sub-pages for entry. missing counts sub-pages that
// were substituted with empty values.
func (e *Engine) scrapeItem(ctx context.Context, logger *zap.Logger, entry ListingEntry) (Item, int, error) {
	item := Item{
		Title:     entry.Title,
		Platform:  entry.Platform,
		Metascore: entry.Metascore,
		Userscore: entry.Userscore,
		Genres:    []string{},
		Critics:   map[string]int{},
	}
	missing := 0

	body, found, err := e.fetchSubpage(ctx, PageDetail, entry.DetailURL)
	if err != nil {
		return Item{}, missing, err
	}
	if found {
		detail, err := e.extractor.ParseDetail(body)
		if err != nil {
			return Item{}, missing, fmt.Errorf("parse detail page: %w", err)
		}
		item.Genres = append(item.Genres, detail.Genres...)
		item.ReleaseDate = detail.ReleaseDate
	} else {
		missing++
		logger.Warn("detail page missing; using empty genres and release date",
			zap.String("title", entry.Title),
			zap.String("url", entry.DetailURL),
		)
	}

	reviewsURL := ""
	if entry.DetailURL != "" {
		reviewsURL = e.cfg.ReviewsURL(entry.DetailURL)
	}
	body, found, err = e.fetchSubpage(ctx, PageReviews, reviewsURL)
	if err != nil {
		return Item{}, missing, err
	}
	if found {
		critics, err := e.extractor.ParseReviews(body)
		if err != nil {
			return Item{}, missing, fmt.Errorf("parse reviews page: %w", err)
		}
		for name, score := range critics {
			item.Critics[name] = score
		}
	} else {
		missing++
		logger.Warn("reviews page missing; using empty critic scores",
			zap.String("title", entry.Title),
			zap.String("url", reviewsURL),
		)
	}

	logger.Debug("item scraped",
		zap.String("title", item.Title),
		zap.String("platform", item.Platform),
		zap.Int("genres", len(item.Genres)),
		zap.Int("critics", len(item.Critics)),
	)
	return item, missing, nil
}

// fetchSubpage fetches a detail or reviews page and then waits the fixed
// sub-page delay. found is false when the page does not exist.
func (e *Engine) fetchSubpage(ctx context.Context, kind PageKind, pageURL string) ([]byte, bool, error) {
	if pageURL == "" {
		metrics.ObserveSubstitution(string(kind))
		return nil, false, nil
	}
	resp, err := e.fetcher.Fetch(ctx, FetchRequest{URL: pageURL, Kind: kind})
	e.pauser.Pause(ctx, e.cfg.SubpageDelay)
	if err != nil {
		if IsNotFound(err) {
			metrics.ObserveSubstitution(string(kind))
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("fetch %s page: %w", kind, err)
	}
	return resp.Body, true, nil
}

func (e *Engine) flush(ctx context.Context, items []Item, appendMode bool) error {
	for i := range items {
		items[i].Genres = DedupeGenres(items[i].Genres)
	}
	if err := e.sink.WriteItems(ctx, items, appendMode); err != nil {
		return err
	}
	metrics.ObserveRowsFlushed(len(items))
	return nil
}

func (e *Engine) loadCheckpoint() (Checkpoint, bool, error) {
	if e.checkpoints == nil {
		return Checkpoint{}, false, nil
	}
	return e.checkpoints.Load()
}

func (e *Engine) saveCheckpoint(logger *zap.Logger, cp Checkpoint) {
	if e.checkpoints == nil {
		return
	}
	if err := e.checkpoints.Save(cp); err != nil {
		logger.Error("failed to save checkpoint", zap.Error(err))
	}
}

type systemClock struct{}

func (systemClock) Now() time.Time {
	return time.Now().UTC()
}
