package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"bookrec/internal/catalog"
)

// BookRepository implements catalog.BookStore.
type BookRepository struct {
	db *DB
}

func NewBookRepository(db *DB) *BookRepository {
	return &BookRepository{db: db}
}

const bookColumns = `id, title, author, genres, published_year, average_rating, review_count, description, cover_image`

// Save inserts or replaces a book.
func (r *BookRepository) Save(ctx context.Context, b *catalog.Book) error {
	return saveBook(ctx, r.db.conn, b)
}

func saveBook(ctx context.Context, e execer, b *catalog.Book) error {
	if b.ID == "" {
		return errors.New("store: book id is required")
	}

	genres := b.Genres
	if genres == nil {
		genres = []string{}
	}
	genresJSON, err := json.Marshal(genres)
	if err != nil {
		return fmt.Errorf("store: marshal genres: %w", err)
	}

	var year sql.NullInt64
	if b.PublishedYear != nil {
		year = sql.NullInt64{Int64: int64(*b.PublishedYear), Valid: true}
	}

	query := `
	INSERT INTO books (` + bookColumns + `)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		title = excluded.title,
		author = excluded.author,
		genres = excluded.genres,
		published_year = excluded.published_year,
		average_rating = excluded.average_rating,
		review_count = excluded.review_count,
		description = excluded.description,
		cover_image = excluded.cover_image
	`

	_, err = e.ExecContext(ctx, query,
		b.ID,
		b.Title,
		b.Author,
		string(genresJSON),
		year,
		b.AverageRating,
		b.ReviewCount,
		b.Description,
		b.CoverImage,
	)
	if err != nil {
		return fmt.Errorf("store: save book %q: %w", b.ID, err)
	}
	return nil
}

// Delete removes a book. Reviews and favorites referencing it are kept.
func (r *BookRepository) Delete(ctx context.Context, id string) error {
	res, err := r.db.conn.ExecContext(ctx, `DELETE FROM books WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("store: delete book %q: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("store: book %q: %w", id, catalog.ErrNotFound)
	}
	return nil
}

func (r *BookRepository) FindByID(ctx context.Context, id string) (*catalog.Book, error) {
	row := r.db.conn.QueryRowContext(ctx, `SELECT `+bookColumns+` FROM books WHERE id = ?`, id)

	b, err := scanBook(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("store: book %q: %w", id, catalog.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("store: get book %q: %w", id, err)
	}
	return b, nil
}

// FindAll returns every book ordered by insertion.
func (r *BookRepository) FindAll(ctx context.Context) ([]catalog.Book, error) {
	rows, err := r.db.conn.QueryContext(ctx, `SELECT `+bookColumns+` FROM books ORDER BY rowid`)
	if err != nil {
		return nil, fmt.Errorf("store: list books: %w", err)
	}
	defer rows.Close()

	var books []catalog.Book
	for rows.Next() {
		b, err := scanBook(rows)
		if err != nil {
			return nil, fmt.Errorf("store: scan book: %w", err)
		}
		books = append(books, *b)
	}
	return books, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanBook(s rowScanner) (*catalog.Book, error) {
	b := &catalog.Book{}
	var genresJSON string
	var year sql.NullInt64

	err := s.Scan(
		&b.ID,
		&b.Title,
		&b.Author,
		&genresJSON,
		&year,
		&b.AverageRating,
		&b.ReviewCount,
		&b.Description,
		&b.CoverImage,
	)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(genresJSON), &b.Genres); err != nil {
		return nil, fmt.Errorf("unmarshal genres: %w", err)
	}
	if b.Genres == nil {
		b.Genres = []string{}
	}
	if year.Valid {
		y := int(year.Int64)
		b.PublishedYear = &y
	}
	return b, nil
}
