// Package extract parses Metacritic listing, detail and critic review pages
// with scoped goquery selectors.
package extract

import (
	"bytes"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/game-reviews-crawler/internal/crawler"
)

// Selectors groups the CSS selectors used against each page type.
type Selectors struct {
	ListingCell   string
	ListingTitle  string
	ListingPlat   string
	ListingMeta   string
	ListingUser   string
	DetailScope   string
	DetailGenre   string
	DetailRelease string
	ReviewsScope  string
	ReviewSource  string
	ReviewGrade   string
}

// DefaultSelectors matches the Metacritic "browse games" markup.
func DefaultSelectors() Selectors {
	return Selectors{
		ListingCell:   "td.clamp-summary-wrap",
		ListingTitle:  "a.title",
		ListingPlat:   ".platform span.data",
		ListingMeta:   ".clamp-metascore div",
		ListingUser:   ".clamp-userscore div",
		DetailScope:   "div.left",
		DetailGenre:   "li.summary_detail.product_genre .data",
		DetailRelease: "li.summary_detail.release_data .data",
		ReviewsScope:  "div.body.product_reviews ol.reviews.critic_reviews",
		ReviewSource:  "div.review_critic div.source",
		ReviewGrade:   "div.review_grade",
	}
}

// Metacritic implements crawler.Extractor.
type Metacritic struct {
	sel Selectors
}

// New returns an extractor using DefaultSelectors.
func New() *Metacritic {
	return &Metacritic{sel: DefaultSelectors()}
}

// NewWithSelectors returns an extractor with custom selectors.
func NewWithSelectors(sel Selectors) *Metacritic {
	return &Metacritic{sel: sel}
}

// ParseListing returns one entry per summary cell. Detail URLs are resolved
// against pageURL.
func (m *Metacritic) ParseListing(body []byte, pageURL string) ([]crawler.ListingEntry, error) {
	doc, err := parse(body)
	if err != nil {
		return nil, err
	}
	base, err := url.Parse(pageURL)
	if err != nil {
		return nil, fmt.Errorf("parse page url: %w", err)
	}

	var entries []crawler.ListingEntry
	doc.Find(m.sel.ListingCell).Each(func(_ int, cell *goquery.Selection) {
		link := cell.Find(m.sel.ListingTitle).First()
		if link.Length() == 0 {
			return
		}
		entry := crawler.ListingEntry{
			Title:     text(link),
			Platform:  text(cell.Find(m.sel.ListingPlat).First()),
			Metascore: text(cell.Find(m.sel.ListingMeta).First()),
			Userscore: text(cell.Find(m.sel.ListingUser).First()),
		}
		if href, ok := link.Attr("href"); ok && strings.TrimSpace(href) != "" {
			entry.DetailURL = resolve(base, href)
		}
		entries = append(entries, entry)
	})
	return entries, nil
}

// ParseDetail extracts genre labels and the release date text.
func (m *Metacritic) ParseDetail(body []byte) (crawler.Detail, error) {
	doc, err := parse(body)
	if err != nil {
		return crawler.Detail{}, err
	}
	scope := doc.Find(m.sel.DetailScope)
	detail := crawler.Detail{Genres: []string{}}
	scope.Find(m.sel.DetailGenre).Each(func(_ int, s *goquery.Selection) {
		detail.Genres = append(detail.Genres, text(s))
	})
	detail.ReleaseDate = text(scope.Find(m.sel.DetailRelease).First())
	return detail, nil
}

// ParseReviews pairs each critic source with the grade that follows it.
// Reviews without a numeric grade are skipped; a repeated critic keeps its
// last score. Critic names are used verbatim apart from outer whitespace.
func (m *Metacritic) ParseReviews(body []byte) (map[string]int, error) {
	doc, err := parse(body)
	if err != nil {
		return nil, err
	}
	scores := map[string]int{}
	list := doc.Find(m.sel.ReviewsScope).First()
	pending := ""
	havePending := false
	list.Find(m.sel.ReviewSource + ", " + m.sel.ReviewGrade).Each(func(_ int, s *goquery.Selection) {
		if s.Is(m.sel.ReviewSource) {
			pending = text(s)
			havePending = true
			return
		}
		if !havePending {
			return
		}
		havePending = false
		score, err := strconv.Atoi(text(s))
		if err != nil {
			return
		}
		scores[pending] = score
	})
	return scores, nil
}

func parse(body []byte) (*goquery.Document, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}
	return doc, nil
}

func text(s *goquery.Selection) string {
	return strings.TrimSpace(s.Text())
}

func resolve(base *url.URL, href string) string {
	ref, err := url.Parse(strings.TrimSpace(href))
	if err != nil {
		return ""
	}
	return base.ResolveReference(ref).String()
}
