package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/ibeckermayer/profilepulse/internal/types"
)

// EnsureUser creates the user row if missing and marks it as a tracked profile
func (s *Store) EnsureUser(ctx context.Context, username string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (username, tracked) VALUES (?, 1)
		ON CONFLICT(username) DO UPDATE SET tracked = 1
	`, username)
	return err
}

// SetUserLocation stores a profile location, creating an untracked user row if needed
func (s *Store) SetUserLocation(ctx context.Context, username, location string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (username, location) VALUES (?, ?)
		ON CONFLICT(username) DO UPDATE SET location = excluded.location
	`, username, location)
	return err
}

// GetUser loads a user by username
func (s *Store) GetUser(ctx context.Context, username string) (*types.User, error) {
	var (
		u   types.User
		loc sql.NullString
	)
	err := s.db.QueryRowContext(ctx, `SELECT username, location FROM users WHERE username = ?`, username).
		Scan(&u.Username, &loc)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if loc.Valid {
		u.Location = &loc.String
	}
	return &u, nil
}

// TrackedUsernames lists every profile that has been requested for crawling
func (s *Store) TrackedUsernames(ctx context.Context) ([]string, error) {
	return s.queryIDs(ctx, `SELECT username FROM users WHERE tracked = 1 ORDER BY username`)
}

// ReplyAuthorsWithoutLocation lists reply authors whose location is unknown
func (s *Store) ReplyAuthorsWithoutLocation(ctx context.Context) ([]string, error) {
	return s.queryIDs(ctx, `
		SELECT DISTINCT r.author_handle FROM replies r
		LEFT JOIN users u ON u.username = r.author_handle
		WHERE r.author_handle != '' AND u.location IS NULL
		ORDER BY r.author_handle
	`)
}

// cascadeSteps are run in order inside one transaction
var cascadeSteps = []struct {
	table string
	query string
}{
	{"post_analyses", `DELETE FROM post_analyses WHERE post_id IN (SELECT id FROM posts WHERE profile_handle = ?)`},
	{"replies", `DELETE FROM replies WHERE post_id IN (SELECT id FROM posts WHERE profile_handle = ?)`},
	{"post_metrics", `DELETE FROM post_metrics WHERE post_id IN (SELECT id FROM posts WHERE profile_handle = ?)`},
	{"posts", `DELETE FROM posts WHERE profile_handle = ?`},
	{"user_metrics", `DELETE FROM user_metrics WHERE username = ?`},
	{"users", `DELETE FROM users WHERE username = ?`},
}

// DeleteUser removes a profile and every dependent row atomically. It returns
// the number of dependent rows removed, not counting the user row itself.
func (s *Store) DeleteUser(ctx context.Context, username string) (int64, error) {
	var removed int64
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		removed = 0
		for _, step := range cascadeSteps {
			res, err := tx.ExecContext(ctx, step.query, username)
			if err != nil {
				return fmt.Errorf("delete %s for %s: %w", step.table, username, err)
			}
			if step.table == "users" {
				continue
			}
			n, err := res.RowsAffected()
			if err != nil {
				return err
			}
			removed += n
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return removed, nil
}
