package store

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ibeckermayer/profilepulse/internal/types"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func strPtr(s string) *string { return &s }

func timePtr(t time.Time) *time.Time { return &t }

func countRows(t *testing.T, s *Store, table string) int {
	t.Helper()
	var n int
	require.NoError(t, s.DB().QueryRow(`SELECT COUNT(*) FROM `+table).Scan(&n))
	return n
}

func TestOpenIsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "pp.db")

	s, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, s.Close())

	s, err = Open(path)
	require.NoError(t, err)
	require.NoError(t, s.Close())
}

func TestSavePostAndGetPost(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	ts := time.Date(2024, 3, 4, 5, 6, 7, 0, time.UTC)

	require.NoError(t, s.SavePost(ctx, &types.Post{
		ID:            "100",
		ProfileHandle: "alice",
		AuthorHandle:  "alice",
		Text:          strPtr("hello"),
		Likes:         12,
		Timestamp:     &ts,
		ScrapedAt:     time.Now(),
		Replies: []types.Reply{
			{AuthorHandle: "bob", Text: "hi"},
			{AuthorHandle: "carol", Text: "yo"},
		},
	}))

	got, err := s.GetPost(ctx, "100")
	require.NoError(t, err)
	require.NotNil(t, got.Text)
	assert.Equal(t, "hello", *got.Text)
	assert.Equal(t, 12, got.Likes)
	require.NotNil(t, got.Timestamp)
	assert.True(t, ts.Equal(*got.Timestamp))
	require.Len(t, got.Replies, 2)
	assert.Equal(t, "bob", got.Replies[0].AuthorHandle)
	assert.Equal(t, "100", got.Replies[0].PostID)

	// Re-saving without text or timestamp keeps them; replies are replaced
	require.NoError(t, s.SavePost(ctx, &types.Post{
		ID:            "100",
		ProfileHandle: "alice",
		Likes:         15,
		ScrapedAt:     time.Now(),
		Replies:       []types.Reply{{AuthorHandle: "dave", Text: "late"}},
	}))

	got, err = s.GetPost(ctx, "100")
	require.NoError(t, err)
	assert.Equal(t, "hello", *got.Text)
	assert.Equal(t, "alice", got.AuthorHandle)
	assert.Equal(t, 15, got.Likes)
	assert.True(t, ts.Equal(*got.Timestamp))
	require.Len(t, got.Replies, 1)
	assert.Equal(t, "dave", got.Replies[0].AuthorHandle)
	assert.Equal(t, 1, countRows(t, s, "posts"))

	_, err = s.GetPost(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestLatestPost(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	_, err := s.LatestPost(ctx, "alice")
	assert.ErrorIs(t, err, ErrNotFound)

	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	for i, ts := range []*time.Time{timePtr(base), timePtr(base.Add(48 * time.Hour)), nil, timePtr(base.Add(24 * time.Hour))} {
		require.NoError(t, s.SavePost(ctx, &types.Post{
			ID: fmt.Sprintf("%d", i+1), ProfileHandle: "alice", Timestamp: ts, ScrapedAt: base,
		}))
	}
	require.NoError(t, s.SavePost(ctx, &types.Post{
		ID: "99", ProfileHandle: "bob", Timestamp: timePtr(base.Add(96 * time.Hour)), ScrapedAt: base,
	}))

	latest, err := s.LatestPost(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, "2", latest.ID)

	ids, err := s.PostIDsForProfile(ctx, "alice")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"1", "2", "3", "4"}, ids)
}

func TestPostsWithSuspectDates(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	now := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	floor := now.AddDate(-25, 0, 0)

	posts := map[string]*time.Time{
		"1": nil,
		"2": timePtr(time.Unix(0, 0)),
		"3": timePtr(now.Add(48 * time.Hour)),
		"4": timePtr(now.Add(-time.Hour)),
	}
	for id, ts := range posts {
		require.NoError(t, s.SavePost(ctx, &types.Post{ID: id, ProfileHandle: "alice", Timestamp: ts, ScrapedAt: now}))
	}

	suspect, err := s.PostsWithSuspectDates(ctx, "", floor, now)
	require.NoError(t, err)

	var ids []string
	for _, p := range suspect {
		ids = append(ids, p.ID)
	}
	assert.Equal(t, []string{"1", "2", "3"}, ids)

	suspect, err = s.PostsWithSuspectDates(ctx, "bob", floor, now)
	require.NoError(t, err)
	assert.Empty(t, suspect)

	require.NoError(t, s.UpdatePostTimestamp(ctx, "1", now.Add(-2*time.Hour)))
	assert.ErrorIs(t, s.UpdatePostTimestamp(ctx, "nope", now), ErrNotFound)

	suspect, err = s.PostsWithSuspectDates(ctx, "alice", floor, now)
	require.NoError(t, err)
	assert.Len(t, suspect, 2)
}

func TestUnscoredPostIDsPaging(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	now := time.Now()

	for i := 1; i <= 5; i++ {
		require.NoError(t, s.SavePost(ctx, &types.Post{ID: fmt.Sprintf("p%d", i), ProfileHandle: "alice", ScrapedAt: now}))
	}
	require.NoError(t, s.UpsertPostMetrics(ctx, types.PostMetrics{PostID: "p2", AnalyzedAt: now}))

	page, err := s.UnscoredPostIDs(ctx, "", 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"p1", "p3"}, page)

	page, err = s.UnscoredPostIDs(ctx, "p3", 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"p4", "p5"}, page)

	page, err = s.UnscoredPostIDs(ctx, "p5", 2)
	require.NoError(t, err)
	assert.Empty(t, page)
}

func TestPostIDsNewestFirst(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	require.NoError(t, s.SavePost(ctx, &types.Post{ID: "old", ProfileHandle: "a", Timestamp: timePtr(base), ScrapedAt: base}))
	require.NoError(t, s.SavePost(ctx, &types.Post{ID: "undated", ProfileHandle: "a", ScrapedAt: base}))
	require.NoError(t, s.SavePost(ctx, &types.Post{ID: "new", ProfileHandle: "a", Timestamp: timePtr(base.Add(time.Hour)), ScrapedAt: base}))

	ids, err := s.PostIDsNewestFirst(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"new", "old", "undated"}, ids)
}

func TestMetricsRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	now := time.Now()

	require.NoError(t, s.SavePost(ctx, &types.Post{ID: "1", ProfileHandle: "bob", ScrapedAt: now}))
	require.NoError(t, s.SavePost(ctx, &types.Post{ID: "2", ProfileHandle: "bob", ScrapedAt: now}))
	require.NoError(t, s.SavePost(ctx, &types.Post{ID: "3", ProfileHandle: "eve", ScrapedAt: now}))

	require.NoError(t, s.UpsertPostMetrics(ctx, types.PostMetrics{PostID: "1", AnalyzedAt: now, Scores: types.Scores{LikeRatio: 10, Timeliness: 5}}))
	require.NoError(t, s.UpsertPostMetrics(ctx, types.PostMetrics{PostID: "1", AnalyzedAt: now, Scores: types.Scores{LikeRatio: 40, Timeliness: 7}}))
	require.NoError(t, s.UpsertPostMetrics(ctx, types.PostMetrics{PostID: "3", AnalyzedAt: now, Scores: types.Scores{LikeRatio: 99}}))

	m, err := s.GetPostMetrics(ctx, "1")
	require.NoError(t, err)
	assert.Equal(t, 40.0, m.LikeRatio)
	assert.Equal(t, 7.0, m.Timeliness)
	assert.Equal(t, 2, countRows(t, s, "post_metrics"))

	_, err = s.GetPostMetrics(ctx, "2")
	assert.ErrorIs(t, err, ErrNotFound)

	scored, err := s.ScoredMetricsForProfile(ctx, "bob")
	require.NoError(t, err)
	require.Len(t, scored, 1)
	assert.Equal(t, "1", scored[0].PostID)

	require.NoError(t, s.UpsertUserMetrics(ctx, types.UserMetrics{Username: "bob", PostsScored: 1, UpdatedAt: now, Scores: types.Scores{Clarity: 55}}))
	um, err := s.GetUserMetrics(ctx, "bob")
	require.NoError(t, err)
	assert.Equal(t, 55.0, um.Clarity)
	assert.Equal(t, 1, um.PostsScored)

	_, err = s.GetUserMetrics(ctx, "eve")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestUsersAndReplyAuthors(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	require.NoError(t, s.EnsureUser(ctx, "alice"))
	require.NoError(t, s.EnsureUser(ctx, "alice"))
	require.NoError(t, s.SavePost(ctx, &types.Post{
		ID: "1", ProfileHandle: "alice", ScrapedAt: time.Now(),
		Replies: []types.Reply{{AuthorHandle: "bob"}, {AuthorHandle: "carol"}, {AuthorHandle: "bob"}},
	}))
	require.NoError(t, s.SetUserLocation(ctx, "carol", "Lisbon"))

	authors, err := s.ReplyAuthorsWithoutLocation(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"bob"}, authors)

	tracked, err := s.TrackedUsernames(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"alice"}, tracked)

	u, err := s.GetUser(ctx, "carol")
	require.NoError(t, err)
	require.NotNil(t, u.Location)
	assert.Equal(t, "Lisbon", *u.Location)

	_, err = s.GetUser(ctx, "zed")
	assert.ErrorIs(t, err, ErrNotFound)
}

// seedUser stores 5 posts with 8 replies and 5 metrics rows for username
func seedUser(t *testing.T, s *Store, username string) {
	t.Helper()
	ctx := context.Background()
	now := time.Now()

	require.NoError(t, s.EnsureUser(ctx, username))
	for i := 0; i < 5; i++ {
		var replies []types.Reply
		n := 1
		if i < 3 {
			n = 2
		}
		for j := 0; j < n; j++ {
			replies = append(replies, types.Reply{AuthorHandle: fmt.Sprintf("r%d", j), Text: "reply"})
		}
		id := fmt.Sprintf("%s-%d", username, i)
		require.NoError(t, s.SavePost(ctx, &types.Post{ID: id, ProfileHandle: username, Text: strPtr("t"), ScrapedAt: now, Replies: replies}))
		require.NoError(t, s.UpsertPostMetrics(ctx, types.PostMetrics{PostID: id, AnalyzedAt: now}))
	}
}

func TestDeleteUserRemovesEverything(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	seedUser(t, s, "alice")
	seedUser(t, s, "bob")

	removed, err := s.DeleteUser(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, int64(18), removed)

	assert.Equal(t, 5, countRows(t, s, "posts"))
	assert.Equal(t, 8, countRows(t, s, "replies"))
	assert.Equal(t, 5, countRows(t, s, "post_metrics"))

	_, err = s.GetUser(ctx, "alice")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDeleteUserRollsBackOnFailure(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	seedUser(t, s, "alice")

	_, err := s.DB().Exec(`
		CREATE TRIGGER fail_metrics_delete BEFORE DELETE ON post_metrics
		BEGIN SELECT RAISE(ABORT, 'metrics delete failed'); END;
	`)
	require.NoError(t, err)

	_, err = s.DeleteUser(ctx, "alice")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "post_metrics")

	assert.Equal(t, 5, countRows(t, s, "posts"))
	assert.Equal(t, 8, countRows(t, s, "replies"))
	assert.Equal(t, 5, countRows(t, s, "post_metrics"))
	assert.Equal(t, 1, countRows(t, s, "users"))
}

func TestProfileReport(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	base := time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC)

	require.NoError(t, s.SavePost(ctx, &types.Post{ID: "1", ProfileHandle: "alice", Timestamp: timePtr(base), ScrapedAt: base,
		Replies: []types.Reply{{AuthorHandle: "bob", Text: "a"}}}))
	require.NoError(t, s.SavePost(ctx, &types.Post{ID: "2", ProfileHandle: "alice", Timestamp: timePtr(base.Add(time.Hour)), ScrapedAt: base}))
	require.NoError(t, s.UpsertPostMetrics(ctx, types.PostMetrics{PostID: "1", AnalyzedAt: base}))
	require.NoError(t, s.SaveAnalysisRecord(ctx, types.AnalysisRecord{PostID: "2", Model: "m", Response: "garbage", AnalyzedAt: base}))

	report, err := s.ProfileReport(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, report, 2)

	assert.Equal(t, "2", report[0].ID)
	assert.Nil(t, report[0].Metrics)
	require.NotNil(t, report[0].Analysis)
	assert.False(t, report[0].Analysis.Parsed)

	assert.Equal(t, "1", report[1].ID)
	assert.NotNil(t, report[1].Metrics)
	assert.Len(t, report[1].Replies, 1)
}

func TestSaveLLMExchange(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "llm")
	path, err := SaveLLMExchange(dir, LLMExchange{
		Timestamp: time.Date(2025, 1, 2, 3, 4, 5, 6, time.UTC),
		PostID:    "42",
		Prompt:    "p",
		Response:  "r",
	})
	require.NoError(t, err)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"post_id": "42"`)
	assert.Contains(t, filepath.Base(path), "2025-01-02T03-04-05-42-")
}
