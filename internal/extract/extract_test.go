package extract

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/game-reviews-crawler/internal/crawler"
)

func readFixture(t *testing.T, name string) []byte {
	t.Helper()
	// #nosec G304 -- fixtures live in the package testdata directory.
	data, err := os.ReadFile(filepath.Join("testdata", name))
	require.NoError(t, err)
	return data
}

func TestParseListing(t *testing.T) {
	t.Parallel()

	entries, err := New().ParseListing(readFixture(t, "listing.html"),
		"https://www.metacritic.com/browse/games/score/metascore/all?page=0")
	require.NoError(t, err)
	require.Len(t, entries, 2)

	assert.Equal(t, crawler.ListingEntry{
		Title:     "Game A",
		Platform:  "PC",
		Metascore: "85",
		Userscore: "7.5",
		DetailURL: "https://www.metacritic.com/game/pc/game-a",
	}, entries[0])
	assert.Equal(t, "Game B", entries[1].Title)
	assert.Equal(t, "Switch", entries[1].Platform)
	assert.Equal(t, "tbd", entries[1].Userscore)
	assert.Equal(t, "https://www.metacritic.com/game/switch/game-b", entries[1].DetailURL)
}

func TestParseListingEmptyPage(t *testing.T) {
	t.Parallel()

	entries, err := New().ParseListing(readFixture(t, "listing_empty.html"), "https://www.metacritic.com/browse")
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestParseDetailIsScoped(t *testing.T) {
	t.Parallel()

	detail, err := New().ParseDetail(readFixture(t, "detail.html"))
	require.NoError(t, err)
	assert.Equal(t, []string{"Action", "RPG", "Action"}, detail.Genres)
	assert.Equal(t, "Jan 1, 2020", detail.ReleaseDate)
}

func TestParseDetailMissingBlock(t *testing.T) {
	t.Parallel()

	detail, err := New().ParseDetail([]byte("<html><body><p>gone</p></body></html>"))
	require.NoError(t, err)
	assert.Empty(t, detail.Genres)
	assert.NotNil(t, detail.Genres)
	assert.Equal(t, "", detail.ReleaseDate)
}

func TestParseReviewsPairsSourcesWithGrades(t *testing.T) {
	t.Parallel()

	scores, err := New().ParseReviews(readFixture(t, "reviews.html"))
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"IGN": 90, "GameSpot": 80}, scores)
}

func TestParseReviewsWithoutList(t *testing.T) {
	t.Parallel()

	scores, err := New().ParseReviews([]byte("<html><body></body></html>"))
	require.NoError(t, err)
	assert.Empty(t, scores)
}

func TestParseListingBadPageURL(t *testing.T) {
	t.Parallel()

	_, err := New().ParseListing([]byte("<html></html>"), "http://%zz")
	require.Error(t, err)
}
