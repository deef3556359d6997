// Package analyzer scores stored posts through a language model and keeps
// per-user aggregates of those scores.
package analyzer

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/ibeckermayer/profilepulse/internal/analyzer/providers"
	"github.com/ibeckermayer/profilepulse/internal/config"
	"github.com/ibeckermayer/profilepulse/internal/metrics"
	"github.com/ibeckermayer/profilepulse/internal/store"
	"github.com/ibeckermayer/profilepulse/internal/types"
)

const (
	backlogPageSize = 20
	allPageSize     = 100
)

// Scorer sends a prompt to an analysis service and returns its raw answer.
// The answer is untrusted text.
type Scorer interface {
	Score(ctx context.Context, prompt string) (string, error)
	Model() string
}

// Store is the persistence the pipeline needs
type Store interface {
	GetPost(ctx context.Context, id string) (*types.Post, error)
	PostIDsNewestFirst(ctx context.Context) ([]string, error)
	UnscoredPostIDs(ctx context.Context, afterID string, limit int) ([]string, error)
	UpsertPostMetrics(ctx context.Context, m types.PostMetrics) error
	SaveAnalysisRecord(ctx context.Context, r types.AnalysisRecord) error
	ScoredMetricsForProfile(ctx context.Context, profile string) ([]types.PostMetrics, error)
	UpsertUserMetrics(ctx context.Context, m types.UserMetrics) error
}

// NewScorer creates the scorer for the configured provider
func NewScorer(cfg config.AnalysisConfig) (Scorer, error) {
	switch cfg.Provider {
	case config.ProviderAnthropic:
		return providers.NewAnthropic(providers.AnthropicOptions{
			APIKey:            cfg.APIKey,
			Model:             cfg.Model,
			MaxTokens:         cfg.MaxTokens,
			RequestsPerMinute: cfg.RequestsPerMinute,
		}), nil
	default:
		return nil, fmt.Errorf("unknown analysis provider: %s", cfg.Provider)
	}
}

// Pipeline turns stored posts into metrics rows
type Pipeline struct {
	scorer Scorer
	store  Store
	logger zerolog.Logger
	now    func() time.Time

	// exchangeDir receives prompt/response dumps. Empty disables them.
	exchangeDir string
}

// New creates a pipeline. exchangeDir may be empty.
func New(scorer Scorer, st Store, exchangeDir string, logger zerolog.Logger) *Pipeline {
	return &Pipeline{
		scorer:      scorer,
		store:       st,
		logger:      logger.With().Str("component", "analyzer").Logger(),
		now:         time.Now,
		exchangeDir: exchangeDir,
	}
}

// ExchangeDir is where prompt/response dumps go under the cache directory
func ExchangeDir(cacheDir string) string {
	return filepath.Join(cacheDir, "llm")
}

// AnalyzeOne scores a single post. Missing text, service failures and
// unparseable answers are logged and leave no metrics row, so the post is
// picked up again by the next backlog run.
func (p *Pipeline) AnalyzeOne(ctx context.Context, postID string) error {
	log := p.logger.With().Str("post_id", postID).Logger()

	post, err := p.store.GetPost(ctx, postID)
	if errors.Is(err, store.ErrNotFound) {
		log.Warn().Msg("Post not found, skipping analysis")
		return nil
	}
	if err != nil {
		return fmt.Errorf("load post %s: %w", postID, err)
	}
	if !post.HasText() {
		log.Info().Msg("Post has no text, skipping analysis")
		return nil
	}

	model := p.scorer.Model()
	prompt := BuildPrompt(post)

	start := time.Now()
	raw, err := p.scorer.Score(ctx, prompt)
	elapsed := time.Since(start)
	p.dumpExchange(postID, model, prompt, raw, err)

	if err != nil {
		metrics.ObserveAnalysis(model, "error", elapsed)
		log.Error().Err(err).Msg("Analysis request failed")
		return nil
	}

	analyzedAt := p.now()
	scores, parseErr := ParseScores(raw)

	record := types.AnalysisRecord{
		PostID:     postID,
		Model:      model,
		Response:   raw,
		Parsed:     parseErr == nil,
		AnalyzedAt: analyzedAt,
	}
	if err := p.store.SaveAnalysisRecord(ctx, record); err != nil {
		log.Warn().Err(err).Msg("Failed to save analysis response")
	}

	if parseErr != nil {
		metrics.ObserveAnalysis(model, "unparseable", elapsed)
		log.Warn().Err(parseErr).Str("response", truncate(raw, 300)).Msg("Unparseable analysis response")
		return nil
	}

	if err := p.store.UpsertPostMetrics(ctx, types.PostMetrics{
		PostID:     postID,
		AnalyzedAt: analyzedAt,
		Scores:     scores,
	}); err != nil {
		metrics.ObserveAnalysis(model, "error", elapsed)
		return fmt.Errorf("store metrics for %s: %w", postID, err)
	}

	metrics.ObserveAnalysis(model, "ok", elapsed)
	log.Debug().Dur("elapsed", elapsed).Msg("Post analyzed")
	return nil
}

// AnalyzeBatch analyzes posts in chunks of chunkSize. Members of a chunk run
// concurrently and the next chunk starts only after the whole chunk finished.
// Per-post errors are logged and do not stop the batch.
func (p *Pipeline) AnalyzeBatch(ctx context.Context, postIDs []string, chunkSize int) error {
	if chunkSize < 1 {
		chunkSize = 1
	}

	for start := 0; start < len(postIDs); start += chunkSize {
		if err := ctx.Err(); err != nil {
			return err
		}

		chunk := postIDs[start:min(start+chunkSize, len(postIDs))]

		var g errgroup.Group
		g.SetLimit(chunkSize)
		for _, id := range chunk {
			g.Go(func() error {
				if err := p.AnalyzeOne(ctx, id); err != nil {
					p.logger.Error().Err(err).Str("post_id", id).Msg("Analysis failed")
				}
				return nil
			})
		}
		_ = g.Wait()
	}

	return ctx.Err()
}

// AnalyzeBacklog scores every post that has no metrics row yet and returns
// how many posts were attempted
func (p *Pipeline) AnalyzeBacklog(ctx context.Context, batchSize int) (int, error) {
	attempted := 0
	after := ""

	for {
		ids, err := p.store.UnscoredPostIDs(ctx, after, backlogPageSize)
		if err != nil {
			return attempted, fmt.Errorf("list unscored posts: %w", err)
		}
		if len(ids) == 0 {
			break
		}

		if err := p.AnalyzeBatch(ctx, ids, batchSize); err != nil {
			return attempted, err
		}
		attempted += len(ids)
		after = ids[len(ids)-1]

		p.logger.Info().Int("processed", attempted).Msg("Backlog page analyzed")
	}

	p.logger.Info().Int("processed", attempted).Msg("Backlog analysis finished")
	return attempted, nil
}

// AnalyzeAll rescores every post stored when it starts, newest first, and
// returns how many posts were attempted. Posts stored or re-dated during the
// run do not shift the work list.
func (p *Pipeline) AnalyzeAll(ctx context.Context, batchSize int) (int, error) {
	all, err := p.store.PostIDsNewestFirst(ctx)
	if err != nil {
		return 0, fmt.Errorf("list posts: %w", err)
	}
	total := len(all)
	p.logger.Info().Int("total", total).Msg("Analyzing all posts")

	attempted := 0
	for start := 0; start < total; start += allPageSize {
		ids := all[start:min(start+allPageSize, total)]

		if err := p.AnalyzeBatch(ctx, ids, batchSize); err != nil {
			return attempted, err
		}
		attempted += len(ids)

		p.logger.Info().Msgf("Processed %d out of %d posts", attempted, total)
	}

	return attempted, nil
}

// RecomputeUserAggregate averages the scores of every scored post of a
// profile into its UserMetrics row. Profiles without scored posts are left
// untouched.
func (p *Pipeline) RecomputeUserAggregate(ctx context.Context, username string) error {
	rows, err := p.store.ScoredMetricsForProfile(ctx, username)
	if err != nil {
		return fmt.Errorf("load metrics for %s: %w", username, err)
	}
	if len(rows) == 0 {
		p.logger.Info().Str("username", username).Msg("No scored posts, skipping user metrics")
		return nil
	}

	all := make([]types.Scores, len(rows))
	for i := range rows {
		all[i] = rows[i].Scores
	}

	if err := p.store.UpsertUserMetrics(ctx, types.UserMetrics{
		Username:    username,
		PostsScored: len(rows),
		UpdatedAt:   p.now(),
		Scores:      types.Mean(all),
	}); err != nil {
		return fmt.Errorf("store user metrics for %s: %w", username, err)
	}

	p.logger.Info().Str("username", username).Int("posts_scored", len(rows)).Msg("User metrics updated")
	return nil
}

func (p *Pipeline) dumpExchange(postID, model, prompt, response string, scoreErr error) {
	if p.exchangeDir == "" {
		return
	}

	provider := ""
	if named, ok := p.scorer.(interface{ Provider() string }); ok {
		provider = named.Provider()
	}

	ex := store.LLMExchange{
		Timestamp: p.now(),
		Provider:  provider,
		Model:     model,
		PostID:    postID,
		Prompt:    prompt,
		Response:  response,
	}
	if scoreErr != nil {
		ex.Error = scoreErr.Error()
	}

	path, err := store.SaveLLMExchange(p.exchangeDir, ex)
	if err != nil {
		p.logger.Warn().Err(err).Msg("Failed to cache LLM exchange")
		return
	}
	p.logger.Debug().Str("path", path).Msg("Cached LLM exchange")
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
