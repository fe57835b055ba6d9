// Package sanitizer turns the raw crawl export into the typed, wide refined
// dataset and publishes it.
package sanitizer

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/JakeFAU/game-reviews-crawler/internal/dataset"
)

// Reasons a raw row is dropped.
const (
	DropEmptyField   = "empty_field"
	DropMetascore    = "metascore"
	DropUserscore    = "userscore"
	DropReleaseDate  = "release_date"
	DropGenres       = "genres"
	DropCritics      = "critics"
	DropCriticRange  = "critic_range"
	DropMalformedRow = "malformed"
)

// Options tunes Refine.
type Options struct {
	// GenreThreshold is exclusive: a genre needs more rows than this to get a column.
	GenreThreshold int
	Sentinel       int8
}

// DefaultOptions returns the stock threshold and sentinel.
func DefaultOptions() Options {
	return Options{GenreThreshold: 85, Sentinel: -1}
}

// Stats counts what happened to the input rows.
type Stats struct {
	Input   int
	Kept    int
	Dropped int
	Reasons map[string]int
}

type castRow struct {
	general dataset.General
	genres  []string
	critics map[string]int
}

// Refine casts, filters and widens raw rows. Row order is preserved.
func Refine(rows []dataset.RawRow, opts Options) (dataset.Refined, Stats) {
	stats := Stats{Input: len(rows), Reasons: map[string]int{}}
	kept := make([]castRow, 0, len(rows))
	for _, raw := range rows {
		row, reason := cast(raw)
		if reason != "" {
			stats.Dropped++
			stats.Reasons[reason]++
			continue
		}
		kept = append(kept, row)
	}
	stats.Kept = len(kept)

	genreCols := frequentGenres(kept, opts.GenreThreshold)
	criticCols := criticNames(kept)
	genreIdx := indexOf(genreCols)
	criticIdx := indexOf(criticCols)

	refined := dataset.Refined{
		Platforms:     platforms(kept),
		GenreColumns:  genreCols,
		CriticColumns: criticCols,
		Rows:          make([]dataset.RefinedRow, 0, len(kept)),
		Sentinel:      opts.Sentinel,
	}
	for _, row := range kept {
		out := dataset.RefinedRow{
			General: row.general,
			Genres:  make([]bool, len(genreCols)),
			Critics: make([]int8, len(criticCols)),
		}
		for _, g := range row.genres {
			if j, ok := genreIdx[g]; ok {
				out.Genres[j] = true
			}
		}
		for j := range out.Critics {
			out.Critics[j] = opts.Sentinel
		}
		for name, score := range row.critics {
			out.Critics[criticIdx[name]] = int8(score)
		}
		refined.Rows = append(refined.Rows, out)
	}
	return refined, stats
}

func cast(raw dataset.RawRow) (castRow, string) {
	for _, field := range []string{raw.Title, raw.Platform, raw.ReleaseDate, raw.Metascore, raw.Userscore, raw.Genres, raw.Critics} {
		if strings.TrimSpace(field) == "" {
			return castRow{}, DropEmptyField
		}
	}
	metascore, err := strconv.ParseInt(strings.TrimSpace(raw.Metascore), 10, 8)
	if err != nil {
		return castRow{}, DropMetascore
	}
	userscore, err := strconv.ParseFloat(strings.TrimSpace(raw.Userscore), 64)
	if err != nil || math.IsNaN(userscore) || math.IsInf(userscore, 0) {
		return castRow{}, DropUserscore
	}
	released, err := time.Parse(dataset.DateLayout, strings.TrimSpace(raw.ReleaseDate))
	if err != nil {
		return castRow{}, DropReleaseDate
	}
	genres, err := dataset.DecodeGenres(raw.Genres)
	if err != nil {
		return castRow{}, DropGenres
	}
	critics, err := dataset.DecodeCritics(raw.Critics)
	if err != nil {
		return castRow{}, DropCritics
	}
	for _, score := range critics {
		if score < math.MinInt8 || score > math.MaxInt8 {
			return castRow{}, DropCriticRange
		}
	}
	return castRow{
		general: dataset.General{
			Title:       raw.Title,
			Platform:    raw.Platform,
			ReleaseDate: released,
			Metascore:   int8(metascore),
			Userscore:   userscore,
		},
		genres:  genres,
		critics: critics,
	}, ""
}

// frequentGenres counts each label once per row and keeps those above threshold.
func frequentGenres(rows []castRow, threshold int) []string {
	counts := map[string]int{}
	for _, row := range rows {
		seen := map[string]struct{}{}
		for _, g := range row.genres {
			if strings.TrimSpace(g) == "" {
				continue
			}
			if _, ok := seen[g]; ok {
				continue
			}
			seen[g] = struct{}{}
			counts[g]++
		}
	}
	var out []string
	for g, n := range counts {
		if n > threshold {
			out = append(out, g)
		}
	}
	sort.Strings(out)
	return out
}

func criticNames(rows []castRow) []string {
	set := map[string]struct{}{}
	for _, row := range rows {
		for name := range row.critics {
			set[name] = struct{}{}
		}
	}
	return sortedKeys(set)
}

func platforms(rows []castRow) []string {
	set := map[string]struct{}{}
	for _, row := range rows {
		set[row.general.Platform] = struct{}{}
	}
	return sortedKeys(set)
}

func sortedKeys(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func indexOf(cols []string) map[string]int {
	idx := make(map[string]int, len(cols))
	for i, c := range cols {
		idx[c] = i
	}
	return idx
}

// String renders stats for logs.
func (s Stats) String() string {
	return fmt.Sprintf("input=%d kept=%d dropped=%d", s.Input, s.Kept, s.Dropped)
}
