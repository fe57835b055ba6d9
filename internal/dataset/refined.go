package dataset

import "time"

// Column groups of the refined table.
const (
	GroupGeneral = "general"
	GroupGenres  = "genres"
	GroupCritics = "critics"
)

// General column names, in output order.
var GeneralColumns = []string{ColTitle, ColPlatform, ColReleaseDate, ColMetascore, ColUserscore}

// DateLayout is the release date format shown on detail pages ("Jan 1, 2020").
const DateLayout = "Jan 2, 2006"

// General holds the typed scalar fields of one game.
type General struct {
	Title       string
	Platform    string
	ReleaseDate time.Time
	Metascore   int8
	Userscore   float64
}

// RefinedRow is one game in the refined table. Genres and Critics are
// positional and line up with Refined.GenreColumns and Refined.CriticColumns.
type RefinedRow struct {
	General General
	Genres  []bool
	Critics []int8
}

// Refined is the wide, grouped table produced by the sanitizer.
type Refined struct {
	// Platforms lists the distinct platform categories in sorted order.
	Platforms     []string
	GenreColumns  []string
	CriticColumns []string
	Rows          []RefinedRow
	// Sentinel marks a critic that did not review a game.
	Sentinel int8
}

// ColumnCounts reports the number of columns in each group.
func (r Refined) ColumnCounts() map[string]int {
	return map[string]int{
		GroupGeneral: len(GeneralColumns),
		GroupGenres:  len(r.GenreColumns),
		GroupCritics: len(r.CriticColumns),
	}
}

// GenresOf returns the genre labels set for row i.
func (r Refined) GenresOf(i int) []string {
	var out []string
	for j, set := range r.Rows[i].Genres {
		if set {
			out = append(out, r.GenreColumns[j])
		}
	}
	return out
}

// CriticsOf returns the critic scores of row i, skipping sentinel cells.
func (r Refined) CriticsOf(i int) map[string]int {
	out := make(map[string]int)
	for j, score := range r.Rows[i].Critics {
		if score != r.Sentinel {
			out[r.CriticColumns[j]] = int(score)
		}
	}
	return out
}
