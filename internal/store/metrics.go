package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/ibeckermayer/profilepulse/internal/types"
)

// UpsertPostMetrics writes the score row for a post, replacing any previous one
func (s *Store) UpsertPostMetrics(ctx context.Context, m types.PostMetrics) error {
	args := append([]any{m.PostID}, scoreArgs(&m.Scores)...)
	args = append(args, utc(m.AnalyzedAt))

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO post_metrics (post_id, `+scoreColumnList+`, analyzed_at)
		VALUES (?, `+scorePlaceholder+`, ?)
		ON CONFLICT(post_id) DO UPDATE SET `+scoreUpdateList+`, analyzed_at = excluded.analyzed_at
	`, args...)
	if err != nil {
		return fmt.Errorf("upsert metrics for %s: %w", m.PostID, err)
	}
	return nil
}

// GetPostMetrics loads the score row for a post
func (s *Store) GetPostMetrics(ctx context.Context, postID string) (*types.PostMetrics, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT post_id, analyzed_at, `+scoreColumnList+` FROM post_metrics WHERE post_id = ?`, postID)
	m, err := scanPostMetrics(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return m, err
}

// ScoredMetricsForProfile returns the metrics rows of every scored post on a profile
func (s *Store) ScoredMetricsForProfile(ctx context.Context, profile string) ([]types.PostMetrics, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT m.post_id, m.analyzed_at, `+prefixed("m.")+`
		FROM post_metrics m
		JOIN posts p ON p.id = m.post_id
		WHERE p.profile_handle = ?
		ORDER BY m.post_id
	`, profile)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []types.PostMetrics
	for rows.Next() {
		m, err := scanPostMetrics(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *m)
	}
	return out, rows.Err()
}

// UpsertUserMetrics replaces the aggregate row for a user
func (s *Store) UpsertUserMetrics(ctx context.Context, m types.UserMetrics) error {
	args := append([]any{m.Username, m.PostsScored}, scoreArgs(&m.Scores)...)
	args = append(args, utc(m.UpdatedAt))

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO user_metrics (username, posts_scored, `+scoreColumnList+`, updated_at)
		VALUES (?, ?, `+scorePlaceholder+`, ?)
		ON CONFLICT(username) DO UPDATE SET
			posts_scored = excluded.posts_scored, `+scoreUpdateList+`, updated_at = excluded.updated_at
	`, args...)
	if err != nil {
		return fmt.Errorf("upsert user metrics for %s: %w", m.Username, err)
	}
	return nil
}

// GetUserMetrics loads the aggregate row for a user
func (s *Store) GetUserMetrics(ctx context.Context, username string) (*types.UserMetrics, error) {
	var m types.UserMetrics
	dest := append([]any{&m.Username, &m.PostsScored, &m.UpdatedAt}, scoreDest(&m.Scores)...)
	err := s.db.QueryRowContext(ctx,
		`SELECT username, posts_scored, updated_at, `+scoreColumnList+` FROM user_metrics WHERE username = ?`,
		username).Scan(dest...)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &m, nil
}

// SaveAnalysisRecord keeps the latest raw model response for a post
func (s *Store) SaveAnalysisRecord(ctx context.Context, r types.AnalysisRecord) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO post_analyses (post_id, model, response, parsed, analyzed_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(post_id) DO UPDATE SET
			model = excluded.model, response = excluded.response,
			parsed = excluded.parsed, analyzed_at = excluded.analyzed_at
	`, r.PostID, r.Model, r.Response, r.Parsed, utc(r.AnalyzedAt))
	return err
}

func scanPostMetrics(row scanner) (*types.PostMetrics, error) {
	var m types.PostMetrics
	dest := append([]any{&m.PostID, &m.AnalyzedAt}, scoreDest(&m.Scores)...)
	if err := row.Scan(dest...); err != nil {
		return nil, err
	}
	return &m, nil
}

func prefixed(prefix string) string {
	out := ""
	for i, c := range types.ScoreColumns {
		if i > 0 {
			out += ", "
		}
		out += prefix + c
	}
	return out
}
