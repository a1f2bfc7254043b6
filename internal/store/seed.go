package store

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"bookrec/internal/catalog"
)

// SeedFile is the YAML layout accepted by Seed.
//
//	books:
//	  - id: dune
//	    title: Dune
//	    author: Frank Herbert
//	    genres: [Science Fiction]
//	    published_year: 1965
//	    average_rating: 4.3
//	users:
//	  - id: alice
//	    favorites: [dune]
//	reviews:
//	  - user_id: alice
//	    book_id: dune
//	    rating: 5
type SeedFile struct {
	Books   []catalog.Book   `yaml:"books"`
	Users   []catalog.User   `yaml:"users"`
	Reviews []catalog.Review `yaml:"reviews"`
}

// SeedStats counts the records written by Seed.
type SeedStats struct {
	Books   int
	Users   int
	Reviews int
}

// ParseSeed decodes a seed document. Unknown fields are rejected.
func ParseSeed(r io.Reader) (*SeedFile, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	var f SeedFile
	if err := dec.Decode(&f); err != nil && err != io.EOF {
		return nil, fmt.Errorf("store: parse seed: %w", err)
	}
	return &f, nil
}

// SeedFromFile loads the YAML seed at path into db.
func SeedFromFile(ctx context.Context, db *DB, path string) (SeedStats, error) {
	fh, err := os.Open(path)
	if err != nil {
		return SeedStats{}, fmt.Errorf("store: open seed: %w", err)
	}
	defer fh.Close()

	f, err := ParseSeed(fh)
	if err != nil {
		return SeedStats{}, err
	}
	return Seed(ctx, db, f)
}

// Seed upserts every record of f in a single transaction.
func Seed(ctx context.Context, db *DB, f *SeedFile) (SeedStats, error) {
	var stats SeedStats

	err := db.tx(ctx, func(tx *sql.Tx) error {
		for i := range f.Books {
			if err := saveBook(ctx, tx, &f.Books[i]); err != nil {
				return err
			}
			stats.Books++
		}
		for i := range f.Users {
			if err := saveUser(ctx, tx, &f.Users[i]); err != nil {
				return err
			}
			stats.Users++
		}
		for i := range f.Reviews {
			if err := saveReview(ctx, tx, &f.Reviews[i]); err != nil {
				return err
			}
			stats.Reviews++
		}
		return nil
	})
	if err != nil {
		return SeedStats{}, err
	}
	return stats, nil
}
