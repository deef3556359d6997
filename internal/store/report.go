package store

import (
	"context"

	"github.com/ibeckermayer/profilepulse/internal/types"
)

// ProfileReport loads every post of a profile, newest first, with replies,
// metrics and the stored analysis record attached.
func (s *Store) ProfileReport(ctx context.Context, profile string) ([]types.PostReport, error) {
	posts, err := s.queryPosts(ctx, `
		SELECT `+postColumns+` FROM posts
		WHERE profile_handle = ?
		ORDER BY timestamp IS NULL, timestamp DESC, id
	`, profile)
	if err != nil {
		return nil, err
	}

	replies, err := s.repliesForProfile(ctx, profile)
	if err != nil {
		return nil, err
	}

	scored, err := s.ScoredMetricsForProfile(ctx, profile)
	if err != nil {
		return nil, err
	}
	metrics := make(map[string]*types.PostMetrics, len(scored))
	for i := range scored {
		metrics[scored[i].PostID] = &scored[i]
	}

	analyses, err := s.analysesForProfile(ctx, profile)
	if err != nil {
		return nil, err
	}

	out := make([]types.PostReport, len(posts))
	for i, p := range posts {
		p.Replies = replies[p.ID]
		out[i] = types.PostReport{
			Post:     p,
			Metrics:  metrics[p.ID],
			Analysis: analyses[p.ID],
		}
	}
	return out, nil
}

func (s *Store) repliesForProfile(ctx context.Context, profile string) (map[string][]types.Reply, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT r.post_id, r.author_handle, r.text FROM replies r
		JOIN posts p ON p.id = r.post_id
		WHERE p.profile_handle = ?
		ORDER BY r.id
	`, profile)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string][]types.Reply)
	for rows.Next() {
		var r types.Reply
		if err := rows.Scan(&r.PostID, &r.AuthorHandle, &r.Text); err != nil {
			return nil, err
		}
		out[r.PostID] = append(out[r.PostID], r)
	}
	return out, rows.Err()
}

func (s *Store) analysesForProfile(ctx context.Context, profile string) (map[string]*types.AnalysisRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT a.post_id, a.model, a.response, a.parsed, a.analyzed_at FROM post_analyses a
		JOIN posts p ON p.id = a.post_id
		WHERE p.profile_handle = ?
	`, profile)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]*types.AnalysisRecord)
	for rows.Next() {
		var r types.AnalysisRecord
		if err := rows.Scan(&r.PostID, &r.Model, &r.Response, &r.Parsed, &r.AnalyzedAt); err != nil {
			return nil, err
		}
		out[r.PostID] = &r
	}
	return out, rows.Err()
}
