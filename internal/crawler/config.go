package crawler

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Config captures every knob that influences a crawl run.
// It is decoupled from Viper so the engine can be tested in isolation.
type Config struct {
	BaseURL       string
	ListingPath   string
	ReviewsSuffix string
	StartPage     int
	MaxPages      int
	SubpageDelay  time.Duration
	Append        bool
	Resume        bool
}

// Validate checks for obviously bad configuration combinations.
func (c Config) Validate() error {
	if strings.TrimSpace(c.BaseURL) == "" {
		return fmt.Errorf("crawler.base_url must be set")
	}
	if _, err := url.Parse(c.BaseURL); err != nil {
		return fmt.Errorf("crawler.base_url is invalid: %w", err)
	}
	if c.StartPage < 0 {
		return fmt.Errorf("crawler.start_page must be >= 0")
	}
	if c.MaxPages < 0 {
		return fmt.Errorf("crawler.max_pages must be >= 0")
	}
	if c.SubpageDelay < 0 {
		return fmt.Errorf("crawler.subpage_delay must be >= 0")
	}
	return nil
}

// ListingURL builds the URL of listing page n.
func (c Config) ListingURL(page int) string {
	base := strings.TrimRight(c.BaseURL, "/")
	path := "/" + strings.TrimLeft(c.ListingPath, "/")
	return base + path + "?page=" + strconv.Itoa(page)
}

// ReviewsURL derives the critic reviews URL from a detail page URL.
func (c Config) ReviewsURL(detailURL string) string {
	suffix := c.ReviewsSuffix
	if suffix == "" {
		suffix = "/critic-reviews"
	}
	return strings.TrimRight(detailURL, "/") + suffix
}
