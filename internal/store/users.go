package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"bookrec/internal/catalog"
)

// UserRepository implements catalog.UserStore. Favorites keep their list order.
type UserRepository struct {
	db *DB
}

func NewUserRepository(db *DB) *UserRepository {
	return &UserRepository{db: db}
}

// Save inserts or replaces a user and their favorites list.
func (r *UserRepository) Save(ctx context.Context, u *catalog.User) error {
	return r.db.tx(ctx, func(tx *sql.Tx) error {
		return saveUser(ctx, tx, u)
	})
}

func saveUser(ctx context.Context, e execer, u *catalog.User) error {
	if u.ID == "" {
		return errors.New("store: user id is required")
	}

	_, err := e.ExecContext(ctx, `
	INSERT INTO users (id, name) VALUES (?, ?)
	ON CONFLICT(id) DO UPDATE SET name = excluded.name
	`, u.ID, u.Name)
	if err != nil {
		return fmt.Errorf("store: save user %q: %w", u.ID, err)
	}

	if _, err := e.ExecContext(ctx, `DELETE FROM favorites WHERE user_id = ?`, u.ID); err != nil {
		return fmt.Errorf("store: clear favorites for %q: %w", u.ID, err)
	}
	for i, bookID := range u.Favorites {
		_, err := e.ExecContext(ctx,
			`INSERT OR IGNORE INTO favorites (user_id, book_id, position) VALUES (?, ?, ?)`,
			u.ID, bookID, i,
		)
		if err != nil {
			return fmt.Errorf("store: save favorite %q for %q: %w", bookID, u.ID, err)
		}
	}
	return nil
}

func (r *UserRepository) FindByID(ctx context.Context, id string) (*catalog.User, error) {
	u := &catalog.User{}
	err := r.db.conn.QueryRowContext(ctx, `SELECT id, name FROM users WHERE id = ?`, id).Scan(&u.ID, &u.Name)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("store: user %q: %w", id, catalog.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("store: get user %q: %w", id, err)
	}

	rows, err := r.db.conn.QueryContext(ctx,
		`SELECT book_id FROM favorites WHERE user_id = ? ORDER BY position`, id)
	if err != nil {
		return nil, fmt.Errorf("store: list favorites for %q: %w", id, err)
	}
	defer rows.Close()

	u.Favorites = []string{}
	for rows.Next() {
		var bookID string
		if err := rows.Scan(&bookID); err != nil {
			return nil, fmt.Errorf("store: scan favorite: %w", err)
		}
		u.Favorites = append(u.Favorites, bookID)
	}
	return u, rows.Err()
}
