package sanitizer

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/game-reviews-crawler/internal/crawler"
	"github.com/JakeFAU/game-reviews-crawler/internal/dataset"
	pubmemory "github.com/JakeFAU/game-reviews-crawler/internal/publisher/memory"
	"github.com/JakeFAU/game-reviews-crawler/internal/storage/memory"
)

const rawFixture = `title|platform|release_date|metascore|userscore|genres|critics
Game A|PC|Jan 1, 2020|85|7.5|['Action','RPG']|{'IGN':90,'GameSpot':80}
Game B|Switch|Jun 15, 2021|72|tbd|["Action"]|{"Polygon":70}
Broken|PC
`

type countingLoader struct {
	calls int
	rows  int
	err   error
}

func (l *countingLoader) LoadRefined(_ context.Context, refined dataset.Refined) (int, error) {
	l.calls++
	if l.err != nil {
		return 0, l.err
	}
	l.rows = len(refined.Rows)
	return l.rows, nil
}

func writeFixture(t *testing.T) *dataset.RawFile {
	t.Helper()
	path := filepath.Join(t.TempDir(), "raw.csv")
	require.NoError(t, os.WriteFile(path, []byte(rawFixture), 0o600))
	return dataset.NewRawFile(path)
}

func TestServiceRun(t *testing.T) {
	// Arrange
	raw := writeFixture(t)
	store := memory.NewBlobStore()
	publisher := pubmemory.New()
	loader := &countingLoader{}
	now := time.Date(2024, 2, 2, 0, 0, 0, 0, time.UTC)
	svc, err := NewService(Config{
		ObjectPath: "refined.parquet",
		Topic:      "datasets",
		Options:    DefaultOptions(),
	}, raw, store, zap.NewNop(),
		WithLoader(loader),
		WithPublisher(publisher),
		WithClock(func() time.Time { return now }),
	)
	require.NoError(t, err)

	// Act
	report, err := svc.Run(context.Background())

	// Assert
	require.NoError(t, err)
	assert.Equal(t, "memory://refined.parquet", report.OutputURI)
	assert.False(t, report.Crawled)
	assert.Equal(t, 3, report.Stats.Input)
	assert.Equal(t, 1, report.Stats.Kept)
	assert.Equal(t, 2, report.Stats.Dropped)
	assert.Equal(t, 1, report.Stats.Reasons[DropMalformedRow])
	assert.Equal(t, 1, report.Stats.Reasons[DropUserscore])
	assert.Equal(t, map[string]int{dataset.GroupGeneral: 5, dataset.GroupGenres: 0, dataset.GroupCritics: 2}, report.Columns)

	data, ok := store.Get("refined.parquet")
	require.True(t, ok)
	assert.Equal(t, report.Bytes, len(data))
	assert.Equal(t, []byte("PAR1"), data[:4])
	sum := sha256.Sum256(data)
	assert.Equal(t, hex.EncodeToString(sum[:]), report.SHA256)

	assert.Equal(t, 1, loader.rows)
	require.Len(t, publisher.Messages(), 1)
	msg := publisher.Messages()[0]
	assert.Equal(t, "datasets", msg.Topic)
	assert.Equal(t, Event{
		Object:      "memory://refined.parquet",
		SHA256:      report.SHA256,
		Rows:        1,
		Dropped:     2,
		Columns:     report.Columns,
		RefreshedAt: now,
	}, msg.Payload)
	assert.Equal(t, "memory-1", report.MessageID)
}

func TestServiceRunIsIdempotent(t *testing.T) {
	raw := writeFixture(t)
	store := memory.NewBlobStore()
	svc, err := NewService(Config{ObjectPath: "out.parquet", Options: DefaultOptions()}, raw, store, nil)
	require.NoError(t, err)

	_, err = svc.Run(context.Background())
	require.NoError(t, err)
	first, _ := store.Get("out.parquet")

	_, err = svc.Run(context.Background())
	require.NoError(t, err)
	second, _ := store.Get("out.parquet")

	assert.Equal(t, first, second)
}

func TestServiceCrawlsWhenRawMissing(t *testing.T) {
	path := filepath.Join(t.TempDir(), "raw.csv")
	raw := dataset.NewRawFile(path)
	crawled := 0
	crawl := func(ctx context.Context) error {
		crawled++
		return raw.WriteItems(ctx, []crawler.Item{{
			Title: "Game A", Platform: "PC", ReleaseDate: "Jan 1, 2020",
			Metascore: "85", Userscore: "7.5",
			Genres: []string{"Action"}, Critics: map[string]int{"IGN": 90},
		}}, false)
	}
	svc, err := NewService(Config{ObjectPath: "out.parquet", CrawlIfMissing: true, Options: DefaultOptions()},
		raw, memory.NewBlobStore(), nil, WithCrawl(crawl))
	require.NoError(t, err)

	report, err := svc.Run(context.Background())

	require.NoError(t, err)
	assert.Equal(t, 1, crawled)
	assert.True(t, report.Crawled)
	assert.Equal(t, 1, report.Stats.Kept)
}

func TestServiceRefinesPartialCrawl(t *testing.T) {
	raw := dataset.NewRawFile(filepath.Join(t.TempDir(), "raw.csv"))
	crawl := func(ctx context.Context) error {
		if err := raw.WriteItems(ctx, nil, false); err != nil {
			return err
		}
		return crawler.ErrCrawlAborted
	}
	svc, err := NewService(Config{ObjectPath: "out.parquet", CrawlIfMissing: true, Options: DefaultOptions()},
		raw, memory.NewBlobStore(), nil, WithCrawl(crawl))
	require.NoError(t, err)

	report, err := svc.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, report.Stats.Input)
}

func TestServiceRawMissing(t *testing.T) {
	raw := dataset.NewRawFile(filepath.Join(t.TempDir(), "raw.csv"))

	svc, err := NewService(Config{ObjectPath: "out.parquet"}, raw, memory.NewBlobStore(), nil)
	require.NoError(t, err)
	_, err = svc.Run(context.Background())
	require.ErrorIs(t, err, ErrRawMissing)

	failing := func(context.Context) error { return errors.New("site down") }
	svc, err = NewService(Config{ObjectPath: "out.parquet", CrawlIfMissing: true}, raw, memory.NewBlobStore(), nil, WithCrawl(failing))
	require.NoError(t, err)
	_, err = svc.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "site down")
}

func TestServiceLoaderError(t *testing.T) {
	loader := &countingLoader{err: errors.New("db unavailable")}
	svc, err := NewService(Config{ObjectPath: "out.parquet", Options: DefaultOptions()},
		writeFixture(t), memory.NewBlobStore(), nil, WithLoader(loader))
	require.NoError(t, err)

	report, err := svc.Run(context.Background())
	require.Error(t, err)
	assert.NotEmpty(t, report.OutputURI, "output is stored before loading")
}

func TestNewServiceValidates(t *testing.T) {
	raw := dataset.NewRawFile("raw.csv")
	_, err := NewService(Config{ObjectPath: "x"}, nil, memory.NewBlobStore(), nil)
	require.Error(t, err)
	_, err = NewService(Config{ObjectPath: "x"}, raw, nil, nil)
	require.Error(t, err)
	_, err = NewService(Config{}, raw, memory.NewBlobStore(), nil)
	require.Error(t, err)
}
