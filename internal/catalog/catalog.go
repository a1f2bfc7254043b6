// Package catalog holds the book, user and review records the recommendation
// pipeline reads, and the store interfaces it reads them through.
package catalog

import (
	"context"
	"errors"
	"strings"
	"time"
)

// ErrNotFound is returned by stores when a record does not exist.
var ErrNotFound = errors.New("not found")

type Book struct {
	ID            string   `json:"id" yaml:"id"`
	Title         string   `json:"title" yaml:"title"`
	Author        string   `json:"author" yaml:"author"`
	Genres        []string `json:"genres" yaml:"genres"`
	PublishedYear *int     `json:"publishedYear,omitempty" yaml:"published_year,omitempty"`
	AverageRating float64  `json:"averageRating" yaml:"average_rating"`
	ReviewCount   int      `json:"reviewCount" yaml:"review_count"`
	Description   string   `json:"description" yaml:"description"`
	CoverImage    string   `json:"coverImage" yaml:"cover_image"`
}

// HasGenre reports whether the book is tagged with genre, ignoring case.
func (b *Book) HasGenre(genre string) bool {
	for _, g := range b.Genres {
		if strings.EqualFold(g, genre) {
			return true
		}
	}
	return false
}

type User struct {
	ID        string   `json:"id" yaml:"id"`
	Name      string   `json:"name" yaml:"name"`
	Favorites []string `json:"favorites" yaml:"favorites"`
}

type Review struct {
	ID        string    `json:"id" yaml:"id"`
	UserID    string    `json:"userId" yaml:"user_id"`
	BookID    string    `json:"bookId" yaml:"book_id"`
	Rating    int       `json:"rating" yaml:"rating"`
	Text      string    `json:"text" yaml:"text"`
	Timestamp time.Time `json:"timestamp" yaml:"timestamp"`
}

// BookStore reads the book catalog. FindByID returns ErrNotFound for unknown ids.
type BookStore interface {
	FindByID(ctx context.Context, id string) (*Book, error)
	FindAll(ctx context.Context) ([]Book, error)
}

// UserStore returns ErrNotFound for unknown users.
type UserStore interface {
	FindByID(ctx context.Context, id string) (*User, error)
}

// ReviewStore lists a user's reviews in the order they were written.
type ReviewStore interface {
	FindByUserID(ctx context.Context, userID string) ([]Review, error)
}
