package crawler

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// PageKind labels which of the three page types a fetch targets.
type PageKind string

// Page kinds requested during a crawl.
const (
	PageListing PageKind = "listing"
	PageDetail  PageKind = "detail"
	PageReviews PageKind = "reviews"
)

// Item is one scraped game as it will be written to the raw dataset.
// Scores are kept as scraped text; casting is the sanitizer's job.
type Item struct {
	Title       string
	Platform    string
	ReleaseDate string
	Metascore   string
	Userscore   string
	Genres      []string
	Critics     map[string]int
}

// ListingEntry is a single row of the paginated listing page.
type ListingEntry struct {
	Title     string
	Platform  string
	Metascore string
	Userscore string
	DetailURL string
}

// Detail holds the fields extracted from an item's detail page.
type Detail struct {
	Genres      []string
	ReleaseDate string
}

// FetchRequest captures everything needed to fetch a URL.
type FetchRequest struct {
	RunID   string
	URL     string
	Kind    PageKind
	Headers http.Header
}

// FetchResponse is the result returned by a Fetcher implementation.
type FetchResponse struct {
	URL          string
	StatusCode   int
	Headers      http.Header
	Body         []byte
	Duration     time.Duration
	UsedHeadless bool
}

// HTTPStatusError reports a non-2xx response from the site.
type HTTPStatusError struct {
	URL        string
	StatusCode int
	RetryAfter time.Duration
}

func (e *HTTPStatusError) Error() string {
	if e == nil {
		return "http status error"
	}
	return fmt.Sprintf("HTTP %d fetching %s", e.StatusCode, e.URL)
}

// StatusCodeOf extracts the HTTP status carried by err, or 0.
func StatusCodeOf(err error) int {
	var statusErr *HTTPStatusError
	if errors.As(err, &statusErr) {
		return statusErr.StatusCode
	}
	return 0
}

// IsNotFound reports whether err is a 404 (or 410) response.
func IsNotFound(err error) bool {
	code := StatusCodeOf(err)
	return code == http.StatusNotFound || code == http.StatusGone
}

// ParseRetryAfter converts a Retry-After header (seconds or HTTP date) to a delay.
func ParseRetryAfter(value string, now time.Time) time.Duration {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0
	}
	if secs, err := strconv.Atoi(value); err == nil {
		if secs < 0 {
			return 0
		}
		return time.Duration(secs) * time.Second
	}
	if at, err := http.ParseTime(value); err == nil {
		if d := at.Sub(now); d > 0 {
			return d
		}
	}
	return 0
}

// DedupeGenres removes repeated labels while keeping first-seen order.
func DedupeGenres(genres []string) []string {
	out := make([]string, 0, len(genres))
	seen := make(map[string]struct{}, len(genres))
	for _, g := range genres {
		if _, ok := seen[g]; ok {
			continue
		}
		seen[g] = struct{}{}
		out = append(out, g)
	}
	return out
}
