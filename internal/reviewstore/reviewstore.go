// Package reviewstore archives raw reviews in SQLite so daily batches can
// be re-read without scraping again.
package reviewstore

import (
	"context"
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"

	"github.com/feedlens/feedlens/pkg/feedlens"
)

// Store is the SQLite-backed review archive.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) the archive with WAL mode enabled.
func Open(ctx context.Context, path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}

	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, err
	}
	if err := initSchema(ctx, db); err != nil {
		db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func initSchema(ctx context.Context, db *sql.DB) error {
	schema := `
CREATE TABLE IF NOT EXISTS reviews (
	id TEXT PRIMARY KEY,
	app_package TEXT NOT NULL,
	text TEXT NOT NULL,
	rating INTEGER NOT NULL,
	date TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_reviews_date ON reviews(app_package, date);
`
	_, err := db.ExecContext(ctx, schema)
	return err
}

// Upsert stores a batch of reviews. Already-archived ids are overwritten,
// so re-scraping a day is safe.
func (s *Store) Upsert(ctx context.Context, appPackage string, reviews []feedlens.Review) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO reviews (id, app_package, text, rating, date)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET text=excluded.text, rating=excluded.rating, date=excluded.date`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, r := range reviews {
		if r.ID == "" {
			return fmt.Errorf("review with empty id (date %s)", r.Date)
		}
		if _, err := stmt.ExecContext(ctx, r.ID, appPackage, r.Text, r.Rating, r.Date); err != nil {
			return fmt.Errorf("upsert review %s: %w", r.ID, err)
		}
	}

	return tx.Commit()
}

// ByDate returns the archived reviews for one day, ordered by id.
func (s *Store) ByDate(ctx context.Context, appPackage, date string) ([]feedlens.Review, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, text, rating, date FROM reviews
		WHERE app_package = ? AND date = ?
		ORDER BY id`, appPackage, date)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []feedlens.Review
	for rows.Next() {
		var r feedlens.Review
		if err := rows.Scan(&r.ID, &r.Text, &r.Rating, &r.Date); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// Dates lists the distinct dates with archived reviews, ascending.
func (s *Store) Dates(ctx context.Context, appPackage string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT DISTINCT date FROM reviews
		WHERE app_package = ?
		ORDER BY date`, appPackage)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var d string
		if err := rows.Scan(&d); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// Count returns the number of archived reviews for an app.
func (s *Store) Count(ctx context.Context, appPackage string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM reviews WHERE app_package = ?`, appPackage).Scan(&n)
	return n, err
}
