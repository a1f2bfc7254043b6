package recommend

import (
	"sort"

	"bookrec/internal/catalog"
)

const fallbackReason = "A highly rated book from our catalog that readers love."

// topRated returns up to limit books, best average rating first, optionally
// restricted to genre. Equal ratings keep catalog order.
func topRated(books []catalog.Book, genre string, limit int) []Candidate {
	pool := make([]*catalog.Book, 0, len(books))
	for i := range books {
		if genre != "" && !books[i].HasGenre(genre) {
			continue
		}
		pool = append(pool, &books[i])
	}

	sort.SliceStable(pool, func(i, j int) bool {
		return pool[i].AverageRating > pool[j].AverageRating
	})

	if len(pool) > limit {
		pool = pool[:limit]
	}

	out := make([]Candidate, 0, len(pool))
	for _, b := range pool {
		out = append(out, fromBook(b, fallbackReason, SourceFallback))
	}
	return out
}
