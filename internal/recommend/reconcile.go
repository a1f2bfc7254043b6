package recommend

import (
	"strings"

	"github.com/google/uuid"

	"bookrec/internal/catalog"
)

// Reconciler matches suggestions against a snapshot of the catalog. A
// Reconciler is used for a single response and is not safe for concurrent use.
type Reconciler struct {
	books []catalog.Book
	newID func() string

	seenBooks map[string]bool
	seenNew   map[string]bool
}

// NewReconciler returns a reconciler over books. newID generates ids for
// suggestions that match nothing; nil means random UUIDs.
func NewReconciler(books []catalog.Book, newID func() string) *Reconciler {
	if newID == nil {
		newID = uuid.NewString
	}
	return &Reconciler{
		books:     books,
		newID:     newID,
		seenBooks: make(map[string]bool),
		seenNew:   make(map[string]bool),
	}
}

// ReconcileAll reconciles suggestions in order. Suggestions resolving to a
// book (or a new title) already returned are dropped.
func (r *Reconciler) ReconcileAll(suggestions []Suggestion) []Candidate {
	out := make([]Candidate, 0, len(suggestions))
	for _, s := range suggestions {
		if c, ok := r.Reconcile(s); ok {
			out = append(out, c)
		}
	}
	return out
}

// Reconcile turns one suggestion into a candidate. Matches copy the catalog
// record and keep only the model's reason; anything else becomes a new
// record built from the suggestion. ok is false for duplicates and
// suggestions without a title.
func (r *Reconciler) Reconcile(s Suggestion) (Candidate, bool) {
	if strings.TrimSpace(s.Title) == "" {
		return Candidate{}, false
	}

	if book := r.Match(s.Title, s.Author); book != nil {
		if r.seenBooks[book.ID] {
			return Candidate{}, false
		}
		r.seenBooks[book.ID] = true
		return fromBook(book, s.Reason, SourceCatalog), true
	}

	key := normalize(s.Title) + "\x00" + normalize(s.Author)
	if r.seenNew[key] {
		return Candidate{}, false
	}
	r.seenNew[key] = true

	genres := s.Genres
	if genres == nil {
		genres = []string{}
	}
	return Candidate{
		ID:          r.newID(),
		Title:       strings.TrimSpace(s.Title),
		Author:      strings.TrimSpace(s.Author),
		Genres:      genres,
		Year:        s.Year,
		Reason:      s.Reason,
		Description: "",
		CoverImage:  "",
		Source:      SourceRecommendation,
	}, true
}

// Match finds the catalog book for a title and author:
//  1. exact title and author, ignoring case;
//  2. otherwise the only book whose title contains, or is contained in, title;
//  3. with several such books, the first whose author contains, or is
//     contained in, author.
//
// It returns nil when nothing qualifies.
func (r *Reconciler) Match(title, author string) *catalog.Book {
	t, a := normalize(title), normalize(author)
	if t == "" {
		return nil
	}

	for i := range r.books {
		b := &r.books[i]
		if normalize(b.Title) == t && normalize(b.Author) == a {
			return b
		}
	}

	var hits []*catalog.Book
	for i := range r.books {
		b := &r.books[i]
		if containsEither(normalize(b.Title), t) {
			hits = append(hits, b)
		}
	}

	switch len(hits) {
	case 0:
		return nil
	case 1:
		return hits[0]
	}

	if a == "" {
		return nil
	}
	for _, b := range hits {
		if containsEither(normalize(b.Author), a) {
			return b
		}
	}
	return nil
}

func normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// containsEither reports whether either string contains the other. Empty
// strings never match.
func containsEither(x, y string) bool {
	if x == "" || y == "" {
		return false
	}
	return strings.Contains(x, y) || strings.Contains(y, x)
}
