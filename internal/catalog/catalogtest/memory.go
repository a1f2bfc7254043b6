// Package catalogtest provides in-memory catalog stores for tests.
package catalogtest

import (
	"context"
	"fmt"
	"sync"

	"bookrec/internal/catalog"
)

// Store implements catalog.BookStore, catalog.UserStore and
// catalog.ReviewStore. Books keep insertion order in FindAll.
type Store struct {
	mu      sync.Mutex
	books   []catalog.Book
	users   map[string]catalog.User
	reviews []catalog.Review

	findAllErr   error
	findAllCalls int
}

func New() *Store {
	return &Store{users: make(map[string]catalog.User)}
}

// Books is the BookStore view. It exists because BookStore and UserStore
// share the FindByID name.
func (s *Store) Books() catalog.BookStore { return bookView{s} }

// Users is the UserStore view.
func (s *Store) Users() catalog.UserStore { return userView{s} }

// Reviews is the ReviewStore view.
func (s *Store) Reviews() catalog.ReviewStore { return reviewView{s} }

func (s *Store) AddBook(b catalog.Book) *Store {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.books = append(s.books, b)
	return s
}

func (s *Store) AddUser(u catalog.User) *Store {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[u.ID] = u
	return s
}

func (s *Store) AddReview(r catalog.Review) *Store {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reviews = append(s.reviews, r)
	return s
}

// FailFindAll makes FindAll return err until cleared with nil.
func (s *Store) FailFindAll(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.findAllErr = err
}

// FindAllCalls counts FindAll invocations.
func (s *Store) FindAllCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.findAllCalls
}

// DeleteBook removes a book, leaving dangling review and favorite references.
func (s *Store) DeleteBook(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	kept := s.books[:0]
	for _, b := range s.books {
		if b.ID != id {
			kept = append(kept, b)
		}
	}
	s.books = kept
}

type bookView struct{ s *Store }

func (v bookView) FindByID(_ context.Context, id string) (*catalog.Book, error) {
	v.s.mu.Lock()
	defer v.s.mu.Unlock()
	for _, b := range v.s.books {
		if b.ID == id {
			out := b
			return &out, nil
		}
	}
	return nil, fmt.Errorf("book %q: %w", id, catalog.ErrNotFound)
}

func (v bookView) FindAll(context.Context) ([]catalog.Book, error) {
	v.s.mu.Lock()
	defer v.s.mu.Unlock()
	v.s.findAllCalls++
	if v.s.findAllErr != nil {
		return nil, v.s.findAllErr
	}
	out := make([]catalog.Book, len(v.s.books))
	copy(out, v.s.books)
	return out, nil
}

type userView struct{ s *Store }

func (v userView) FindByID(_ context.Context, id string) (*catalog.User, error) {
	v.s.mu.Lock()
	defer v.s.mu.Unlock()
	u, ok := v.s.users[id]
	if !ok {
		return nil, fmt.Errorf("user %q: %w", id, catalog.ErrNotFound)
	}
	return &u, nil
}

type reviewView struct{ s *Store }

func (v reviewView) FindByUserID(_ context.Context, userID string) ([]catalog.Review, error) {
	v.s.mu.Lock()
	defer v.s.mu.Unlock()
	var out []catalog.Review
	for _, r := range v.s.reviews {
		if r.UserID == userID {
			out = append(out, r)
		}
	}
	return out, nil
}

// Year returns a pointer to y, for Book.PublishedYear literals.
func Year(y int) *int { return &y }
