package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"bookrec/internal/catalog"
)

// ReviewRepository implements catalog.ReviewStore.
type ReviewRepository struct {
	db *DB
}

func NewReviewRepository(db *DB) *ReviewRepository {
	return &ReviewRepository{db: db}
}

// Save inserts or replaces a review. A missing ID is generated and a zero
// Timestamp is set to now.
func (r *ReviewRepository) Save(ctx context.Context, rv *catalog.Review) error {
	return saveReview(ctx, r.db.conn, rv)
}

func saveReview(ctx context.Context, e execer, rv *catalog.Review) error {
	if rv.ID == "" {
		rv.ID = uuid.NewString()
	}
	if rv.Timestamp.IsZero() {
		rv.Timestamp = time.Now().UTC()
	}

	_, err := e.ExecContext(ctx, `
	INSERT INTO reviews (id, user_id, book_id, rating, text, created_at)
	VALUES (?, ?, ?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		user_id = excluded.user_id,
		book_id = excluded.book_id,
		rating = excluded.rating,
		text = excluded.text,
		created_at = excluded.created_at
	`, rv.ID, rv.UserID, rv.BookID, rv.Rating, rv.Text, rv.Timestamp)
	if err != nil {
		return fmt.Errorf("store: save review %q: %w", rv.ID, err)
	}
	return nil
}

// FindByUserID lists a user's reviews, oldest first.
func (r *ReviewRepository) FindByUserID(ctx context.Context, userID string) ([]catalog.Review, error) {
	rows, err := r.db.conn.QueryContext(ctx, `
	SELECT id, user_id, book_id, rating, text, created_at
	FROM reviews WHERE user_id = ?
	ORDER BY created_at, rowid
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("store: list reviews for %q: %w", userID, err)
	}
	defer rows.Close()

	var reviews []catalog.Review
	for rows.Next() {
		var rv catalog.Review
		if err := rows.Scan(&rv.ID, &rv.UserID, &rv.BookID, &rv.Rating, &rv.Text, &rv.Timestamp); err != nil {
			return nil, fmt.Errorf("store: scan review: %w", err)
		}
		reviews = append(reviews, rv)
	}
	return reviews, rows.Err()
}
