package metrics

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSanitizeSite(t *testing.T) {
	testCases := []struct {
		name     string
		input    string
		expected string
	}{
		{"standard https", "https://www.Metacritic.com/game/x", "www.metacritic.com"},
		{"no scheme", "metacritic.com/browse", "metacritic.com"},
		{"host with port", "127.0.0.1:8080", "127.0.0.1"},
		{"invalid url", "http://%", "unknown"},
		{"empty string", "", "unknown"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.expected, SanitizeSite(tc.input))
		})
	}
}

func TestObserveFetchLabels(t *testing.T) {
	Init()
	before := testutil.ToFloat64(crawlerFetchesTotal.WithLabelValues("detail", "404"))
	ObserveFetch("detail", 404, errors.New("not found"), 0)
	after := testutil.ToFloat64(crawlerFetchesTotal.WithLabelValues("detail", "404"))
	assert.Equal(t, before+1, after)

	beforeErr := testutil.ToFloat64(crawlerFetchesTotal.WithLabelValues("listing", "error"))
	ObserveFetch("listing", 0, errors.New("dial tcp"), 0)
	assert.Equal(t, beforeErr+1, testutil.ToFloat64(crawlerFetchesTotal.WithLabelValues("listing", "error")))
}

func TestObserveSanitizeSetsColumnGauges(t *testing.T) {
	ObserveSanitize(3, 1, map[string]int{"general": 5, "genres": 2, "critics": 4}, 0)
	assert.Equal(t, float64(2), testutil.ToFloat64(sanitizerColumns.WithLabelValues("genres")))
	assert.Equal(t, float64(4), testutil.ToFloat64(sanitizerColumns.WithLabelValues("critics")))
}

func TestWriteTextfile(t *testing.T) {
	ObserveItem()
	path := filepath.Join(t.TempDir(), "gamecrawl.prom")
	require.NoError(t, WriteTextfile(path))

	// #nosec G304 -- test reads from the controlled temp directory.
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "crawler_items_total")
}

func TestPush(t *testing.T) {
	var gotPath string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	ObserveRun("succeeded")
	require.NoError(t, Push(context.Background(), server.URL, "gamecrawl"))
	assert.True(t, strings.HasPrefix(gotPath, "/metrics/job/gamecrawl"), gotPath)
}

func FuzzSanitizeSite(f *testing.F) {
	for _, tc := range []string{"https://www.metacritic.com", "ftp://example.com", ""} {
		f.Add(tc)
	}
	f.Fuzz(func(t *testing.T, orig string) {
		if SanitizeSite(orig) == "" {
			t.Errorf("SanitizeSite(%q) returned an empty string", orig)
		}
	})
}
