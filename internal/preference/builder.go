// Package preference turns a user's reviews and favorites into a weighted
// preference profile.
package preference

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"bookrec/internal/catalog"
)

// Builder computes profiles from the catalog stores.
type Builder struct {
	users   catalog.UserStore
	reviews catalog.ReviewStore
	books   catalog.BookStore
	logger  *zap.Logger
}

func NewBuilder(users catalog.UserStore, reviews catalog.ReviewStore, books catalog.BookStore, logger *zap.Logger) *Builder {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Builder{
		users:   users,
		reviews: reviews,
		books:   books,
		logger:  logger.Named("preference"),
	}
}

// Build computes the profile for userID. It returns an error wrapping
// catalog.ErrNotFound when the user does not exist. Reviews and favorites
// pointing at books that no longer exist are skipped.
func (b *Builder) Build(ctx context.Context, userID string) (*Profile, error) {
	user, err := b.users.FindByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("preference: load user %q: %w", userID, err)
	}

	reviews, err := b.reviews.FindByUserID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("preference: load reviews for %q: %w", userID, err)
	}

	resolved := make(map[string]*catalog.Book)
	lookup := func(id string) (*catalog.Book, error) {
		if book, ok := resolved[id]; ok {
			return book, nil
		}
		book, err := b.books.FindByID(ctx, id)
		if errors.Is(err, catalog.ErrNotFound) {
			b.logger.Debug("skipping missing book",
				zap.String("user_id", userID),
				zap.String("book_id", id),
			)
			resolved[id] = nil
			return nil, nil
		}
		if err != nil {
			return nil, fmt.Errorf("preference: load book %q: %w", id, err)
		}
		resolved[id] = book
		return book, nil
	}

	genres, authors, themes := newTally(), newTally(), newTally()
	var eras EraCounts

	apply := func(book *catalog.Book, weight, eraWeight float64) {
		for _, g := range book.Genres {
			genres.add(g, weight)
			for _, theme := range themesFor(g) {
				themes.add(theme, weight)
			}
		}
		authors.add(book.Author, weight)
		if book.PublishedYear != nil {
			if era, ok := EraOf(*book.PublishedYear); ok {
				eras.add(era, eraWeight)
			}
		}
	}

	ratings := make([]int, 0, len(reviews))
	for _, r := range reviews {
		ratings = append(ratings, r.Rating)

		book, err := lookup(r.BookID)
		if err != nil {
			return nil, err
		}
		if book == nil {
			continue
		}
		apply(book, ReviewWeight(r.Rating), 1)
	}

	for _, id := range user.Favorites {
		book, err := lookup(id)
		if err != nil {
			return nil, err
		}
		if book == nil {
			continue
		}
		apply(book, FavoriteWeight, 2)
	}

	p := &Profile{
		UserID:        userID,
		GenreScores:   genres.sorted(),
		AuthorScores:  authors.sorted(),
		ThemeScores:   themes.sorted(),
		RatingPattern: ratingPattern(ratings),
		PublicationEra: PublicationEra{
			Counts:    eras,
			Preferred: eras.preferred(),
		},
		ReviewCount:   len(reviews),
		FavoriteCount: len(user.Favorites),
	}

	b.logger.Debug("built preference profile",
		zap.String("user_id", userID),
		zap.Int("reviews", p.ReviewCount),
		zap.Int("favorites", p.FavoriteCount),
		zap.Strings("top_genres", Top(p.GenreScores, 3)),
		zap.String("rating_bias", string(p.RatingPattern.Bias)),
		zap.String("preferred_era", string(p.PublicationEra.Preferred)),
	)

	return p, nil
}
