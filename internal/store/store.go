// Package store persists profiles, posts, replies and their metrics in SQLite.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/ibeckermayer/profilepulse/internal/types"
)

// ErrNotFound is returned when a lookup matches no row
var ErrNotFound = errors.New("not found")

// Store handles all database operations
type Store struct {
	db *sql.DB
}

// Open creates the database file if needed and applies migrations
func Open(dbPath string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0700); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", dbPath+"?_pragma=busy_timeout(5000)&_time_format=sqlite")
	if err != nil {
		return nil, err
	}
	// Single writer. Callers must drain rows before issuing the next query.
	db.SetMaxOpenConns(1)

	if _, err := runMigrations(db); err != nil {
		db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

// DB exposes the handle for maintenance tooling and tests
func (s *Store) DB() *sql.DB {
	return s.db
}

// withTx runs fn in a transaction, rolling back on any error
func (s *Store) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

// Timestamps are always written in UTC so that text comparison in SQLite
// orders them correctly.
func utc(t time.Time) time.Time {
	return t.UTC()
}

func nullableTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC()
}

func nullableString(s *string) any {
	if s == nil {
		return nil
	}
	return *s
}

var (
	scoreColumnList  = strings.Join(types.ScoreColumns, ", ")
	scorePlaceholder = strings.TrimSuffix(strings.Repeat("?, ", len(types.ScoreColumns)), ", ")
	scoreUpdateList  = buildScoreUpdates()
)

func buildScoreUpdates() string {
	parts := make([]string, len(types.ScoreColumns))
	for i, c := range types.ScoreColumns {
		parts[i] = c + " = excluded." + c
	}
	return strings.Join(parts, ", ")
}

func scoreArgs(sc *types.Scores) []any {
	fields := sc.Fields()
	args := make([]any, len(fields))
	for i, f := range fields {
		args[i] = *f
	}
	return args
}

func scoreDest(sc *types.Scores) []any {
	fields := sc.Fields()
	dest := make([]any, len(fields))
	for i, f := range fields {
		dest[i] = f
	}
	return dest
}
