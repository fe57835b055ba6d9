package app

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/gofrs/flock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/game-reviews-crawler/internal/config"
	"github.com/JakeFAU/game-reviews-crawler/internal/dataset"
	"github.com/JakeFAU/game-reviews-crawler/internal/storage/memory"
)

const listingPage = `<html><body><table class="clamp-list"><tr>
<td class="clamp-summary-wrap">
  <a href="/game/pc/game-a" class="title"><h3>Game A</h3></a>
  <div class="clamp-details"><div class="platform"><span class="data">PC</span></div></div>
  <div class="clamp-metascore"><div class="metascore_w">85</div></div>
  <div class="clamp-userscore"><div class="metascore_w user">7.5</div></div>
</td></tr></table></body></html>`

const emptyListingPage = `<html><body><p class="no_data">No results found.</p></body></html>`

const detailPage = `<html><body><div class="left"><ul class="summary_details">
<li class="summary_detail release_data"><span class="data">Jan 1, 2020</span></li>
<li class="summary_detail product_genre"><span class="data">Action</span><span class="data">RPG</span></li>
</ul></div></body></html>`

const reviewsPage = `<html><body><div class="body product_reviews"><ol class="reviews critic_reviews">
<li><div class="review_critic"><div class="source">IGN</div></div><div class="review_grade"><div class="metascore_w">90</div></div></li>
<li><div class="review_critic"><div class="source">GameSpot</div></div><div class="review_grade"><div class="metascore_w">80</div></div></li>
</ol></div></body></html>`

func newFakeSite(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/browse/games/score/metascore/all", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("page") == "0" {
			fmt.Fprint(w, listingPage)
			return
		}
		fmt.Fprint(w, emptyListingPage)
	})
	mux.HandleFunc("/game/pc/game-a", func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, detailPage)
	})
	mux.HandleFunc("/game/pc/game-a/critic-reviews", func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, reviewsPage)
	})
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return server
}

func testConfig(t *testing.T, baseURL string) config.Config {
	t.Helper()
	cfg, err := config.Load("")
	require.NoError(t, err)
	cfg.Crawler.BaseURL = baseURL
	cfg.Crawler.SubpageDelay = 0
	cfg.HTTP.MaxRetries = 0
	cfg.HTTP.TimeoutSeconds = 5
	cfg.Data.Dir = t.TempDir()
	cfg.Sanitizer.GenreThreshold = 0
	return cfg
}

func TestCrawlWritesRawAndCheckpoint(t *testing.T) {
	site := newFakeSite(t)
	cfg := testConfig(t, site.URL)
	a := New(cfg, zap.NewNop())
	defer a.Close()

	result, err := a.Crawl(context.Background(), cfg.CrawlerSettings())
	require.NoError(t, err)
	assert.True(t, result.Complete)
	assert.Equal(t, 1, result.Items)
	assert.Equal(t, 1, result.NextPage)

	rows, malformed, err := dataset.NewRawFile(cfg.RawPath()).ReadRows()
	require.NoError(t, err)
	assert.Zero(t, malformed)
	require.Len(t, rows, 1)
	assert.Equal(t, "Game A", rows[0].Title)
	assert.Equal(t, "Jan 1, 2020", rows[0].ReleaseDate)

	cp, ok, err := dataset.NewCheckpointFile(cfg.CheckpointPath()).Load()
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, cp.Complete)
	assert.Equal(t, 1, cp.Rows)
}

func TestCrawlRefusesWhenLocked(t *testing.T) {
	cfg := testConfig(t, "http://127.0.0.1:1")
	held := flock.New(cfg.LockPath())
	ok, err := held.TryLock()
	require.NoError(t, err)
	require.True(t, ok)
	defer func() { _ = held.Unlock() }()

	_, err = New(cfg, nil).Crawl(context.Background(), cfg.CrawlerSettings())
	require.ErrorIs(t, err, ErrLocked)
}

func TestSanitizeCrawlsMissingRaw(t *testing.T) {
	site := newFakeSite(t)
	cfg := testConfig(t, site.URL)
	a := New(cfg, zap.NewNop())
	defer a.Close()

	svc, err := a.NewSanitizer(context.Background())
	require.NoError(t, err)

	report, err := svc.Run(context.Background())
	require.NoError(t, err)
	assert.True(t, report.Crawled)
	assert.Equal(t, 1, report.Stats.Kept)
	assert.Equal(t, 2, report.Columns[dataset.GroupGenres])
	assert.Equal(t, 2, report.Columns[dataset.GroupCritics])

	out, err := os.ReadFile(filepath.Join(cfg.Data.Dir, cfg.Data.Refined))
	require.NoError(t, err)
	assert.Equal(t, "PAR1", string(out[:4]))
}

func TestSanitizeWithoutRawWhenCrawlDisabled(t *testing.T) {
	cfg := testConfig(t, "http://127.0.0.1:1")
	cfg.Sanitizer.CrawlIfMissing = false

	svc, err := New(cfg, nil).NewSanitizer(context.Background())
	require.NoError(t, err)
	_, err = svc.Run(context.Background())
	require.Error(t, err)
}

func TestNewBlobStoreBackends(t *testing.T) {
	cfg := testConfig(t, "http://127.0.0.1:1")

	cfg.Storage.Backend = config.BackendMemory
	store, err := New(cfg, nil).NewBlobStore(context.Background())
	require.NoError(t, err)
	assert.IsType(t, &memory.BlobStore{}, store)

	cfg.Storage.Backend = config.BackendLocal
	store, err = New(cfg, nil).NewBlobStore(context.Background())
	require.NoError(t, err)
	assert.NotNil(t, store)
}

func TestNewFetcherHeadlessRegistersCloser(t *testing.T) {
	cfg := testConfig(t, "http://127.0.0.1:1")
	cfg.Fetcher.Mode = config.FetcherHeadless

	a := New(cfg, nil)
	f, err := a.NewFetcher()
	require.NoError(t, err)
	assert.NotNil(t, f)
	assert.Len(t, a.closers, 1)
	a.Close()
	assert.Empty(t, a.closers)
}
