package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/ibeckermayer/profilepulse/internal/types"
)

const postColumns = `id, profile_handle, author_handle, text, retweets, likes, views, timestamp, scraped_at`

// SavePost upserts a post and replaces its replies in one transaction.
// A nil text or timestamp never overwrites a stored value.
func (s *Store) SavePost(ctx context.Context, p *types.Post) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO posts (`+postColumns+`)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				author_handle = CASE WHEN excluded.author_handle != '' THEN excluded.author_handle ELSE posts.author_handle END,
				text = COALESCE(excluded.text, posts.text),
				retweets = excluded.retweets,
				likes = excluded.likes,
				views = excluded.views,
				timestamp = COALESCE(excluded.timestamp, posts.timestamp),
				scraped_at = excluded.scraped_at
		`,
			p.ID, p.ProfileHandle, p.AuthorHandle, nullableString(p.Text),
			p.Retweets, p.Likes, p.Views, nullableTime(p.Timestamp), utc(p.ScrapedAt),
		)
		if err != nil {
			return fmt.Errorf("upsert post %s: %w", p.ID, err)
		}

		if _, err := tx.ExecContext(ctx, `DELETE FROM replies WHERE post_id = ?`, p.ID); err != nil {
			return fmt.Errorf("clear replies for %s: %w", p.ID, err)
		}
		for _, r := range p.Replies {
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO replies (post_id, author_handle, text) VALUES (?, ?, ?)`,
				p.ID, r.AuthorHandle, r.Text,
			); err != nil {
				return fmt.Errorf("insert reply for %s: %w", p.ID, err)
			}
		}
		return nil
	})
}

// PostExists checks if a post has already been stored
func (s *Store) PostExists(ctx context.Context, id string) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM posts WHERE id = ?)`, id).Scan(&exists)
	return exists, err
}

// GetPost loads a post with its replies
func (s *Store) GetPost(ctx context.Context, id string) (*types.Post, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+postColumns+` FROM posts WHERE id = ?`, id)
	p, err := scanPost(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT post_id, author_handle, text FROM replies WHERE post_id = ? ORDER BY id`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var r types.Reply
		if err := rows.Scan(&r.PostID, &r.AuthorHandle, &r.Text); err != nil {
			return nil, err
		}
		p.Replies = append(p.Replies, r)
	}
	return p, rows.Err()
}

// LatestPost returns the newest timestamped post for a profile
func (s *Store) LatestPost(ctx context.Context, profile string) (*types.Post, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+postColumns+` FROM posts
		WHERE profile_handle = ? AND timestamp IS NOT NULL
		ORDER BY timestamp DESC
		LIMIT 1
	`, profile)
	p, err := scanPost(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return p, err
}

// PostIDsForProfile returns every stored post id for a profile
func (s *Store) PostIDsForProfile(ctx context.Context, profile string) ([]string, error) {
	return s.queryIDs(ctx, `SELECT id FROM posts WHERE profile_handle = ?`, profile)
}

// PostsWithSuspectDates returns posts whose timestamp is missing, before floor
// or after ceil. An empty profile matches every profile.
func (s *Store) PostsWithSuspectDates(ctx context.Context, profile string, floor, ceil time.Time) ([]types.Post, error) {
	return s.queryPosts(ctx, `
		SELECT `+postColumns+` FROM posts
		WHERE (? = '' OR profile_handle = ?)
		  AND (timestamp IS NULL OR timestamp < ? OR timestamp > ?)
		ORDER BY id
	`, profile, profile, utc(floor), utc(ceil))
}

// UpdatePostTimestamp sets a recovered timestamp
func (s *Store) UpdatePostTimestamp(ctx context.Context, id string, ts time.Time) error {
	res, err := s.db.ExecContext(ctx, `UPDATE posts SET timestamp = ? WHERE id = ?`, utc(ts), id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// PostsMissingText returns posts stored without text. An empty profile matches every profile.
func (s *Store) PostsMissingText(ctx context.Context, profile string) ([]types.Post, error) {
	return s.queryPosts(ctx, `
		SELECT `+postColumns+` FROM posts
		WHERE (? = '' OR profile_handle = ?) AND text IS NULL
		ORDER BY id
	`, profile, profile)
}

// PostIDsNewestFirst lists every post id, newest first, undated last
func (s *Store) PostIDsNewestFirst(ctx context.Context) ([]string, error) {
	return s.queryIDs(ctx, `
		SELECT id FROM posts
		ORDER BY timestamp IS NULL, timestamp DESC, id
	`)
}

// UnscoredPostIDs returns up to limit posts without a metrics row, with ids
// greater than afterID. Keyset paging keeps the cursor stable while rows gain metrics.
func (s *Store) UnscoredPostIDs(ctx context.Context, afterID string, limit int) ([]string, error) {
	return s.queryIDs(ctx, `
		SELECT p.id FROM posts p
		LEFT JOIN post_metrics m ON m.post_id = p.id
		WHERE m.post_id IS NULL AND p.id > ?
		ORDER BY p.id
		LIMIT ?
	`, afterID, limit)
}

func (s *Store) queryIDs(ctx context.Context, query string, args ...any) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (s *Store) queryPosts(ctx context.Context, query string, args ...any) ([]types.Post, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var posts []types.Post
	for rows.Next() {
		p, err := scanPost(rows)
		if err != nil {
			return nil, err
		}
		posts = append(posts, *p)
	}
	return posts, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanPost(row scanner) (*types.Post, error) {
	var (
		p  types.Post
		tx sql.NullString
		ts sql.NullTime
	)
	err := row.Scan(&p.ID, &p.ProfileHandle, &p.AuthorHandle, &tx,
		&p.Retweets, &p.Likes, &p.Views, &ts, &p.ScrapedAt)
	if err != nil {
		return nil, err
	}
	if tx.Valid {
		text := tx.String
		p.Text = &text
	}
	if ts.Valid {
		t := ts.Time
		p.Timestamp = &t
	}
	return &p, nil
}
