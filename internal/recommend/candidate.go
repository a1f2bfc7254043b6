package recommend

import (
	"strings"

	"bookrec/internal/catalog"
)

// Source tells where a candidate came from.
type Source string

const (
	// SourceCatalog candidates were suggested by the model and matched to a catalog book.
	SourceCatalog Source = "catalog"
	// SourceRecommendation candidates were suggested by the model but are not in the catalog.
	SourceRecommendation Source = "recommendation"
	// SourceFallback candidates come from the top-rated fallback.
	SourceFallback Source = "fallback"
)

// DefaultLimit is the number of recommendations returned when Options.Limit is unset.
const DefaultLimit = 5

// Candidate is one recommendation returned to the caller.
type Candidate struct {
	ID            string   `json:"id"`
	Title         string   `json:"title"`
	Author        string   `json:"author"`
	Genres        []string `json:"genres"`
	Year          *int     `json:"year,omitempty"`
	Reason        string   `json:"reason"`
	Description   string   `json:"description"`
	CoverImage    string   `json:"coverImage"`
	AverageRating float64  `json:"averageRating"`
	ReviewCount   int      `json:"reviewCount"`
	Source        Source   `json:"source"`
}

// HasGenre reports whether the candidate is tagged with genre, ignoring case.
func (c *Candidate) HasGenre(genre string) bool {
	for _, g := range c.Genres {
		if strings.EqualFold(g, genre) {
			return true
		}
	}
	return false
}

func fromBook(b *catalog.Book, reason string, source Source) Candidate {
	genres := make([]string, len(b.Genres))
	copy(genres, b.Genres)
	return Candidate{
		ID:            b.ID,
		Title:         b.Title,
		Author:        b.Author,
		Genres:        genres,
		Year:          b.PublishedYear,
		Reason:        reason,
		Description:   b.Description,
		CoverImage:    b.CoverImage,
		AverageRating: b.AverageRating,
		ReviewCount:   b.ReviewCount,
		Source:        source,
	}
}

// Suggestion is a book as the model described it, before reconciliation.
type Suggestion struct {
	Title  string
	Author string
	Genres []string
	Year   *int
	Reason string
}

// Options tune a Recommend call.
type Options struct {
	// Limit caps the number of results; values <= 0 mean DefaultLimit.
	Limit int
	// Genre, when set, keeps only candidates tagged with it (case-insensitive).
	Genre string
	// ForceRefresh skips the cached result and regenerates.
	ForceRefresh bool
}

func (o Options) normalized() Options {
	if o.Limit <= 0 {
		o.Limit = DefaultLimit
	}
	o.Genre = strings.TrimSpace(o.Genre)
	return o
}

// filterCandidates applies the genre filter and limit to list without
// modifying it.
func filterCandidates(list []Candidate, genre string, limit int) []Candidate {
	out := make([]Candidate, 0, min(len(list), limit))
	for i := range list {
		if len(out) == limit {
			break
		}
		if genre != "" && !list[i].HasGenre(genre) {
			continue
		}
		out = append(out, list[i])
	}
	return out
}
