// Package api exposes crawl, analysis and maintenance operations over HTTP.
package api

import (
	"context"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	chi "github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/ibeckermayer/profilepulse/internal/metrics"
	"github.com/ibeckermayer/profilepulse/internal/queue"
	"github.com/ibeckermayer/profilepulse/internal/scheduler"
	"github.com/ibeckermayer/profilepulse/internal/types"
)

// AdminTokenHeader carries the shared secret for destructive endpoints
const AdminTokenHeader = "X-Admin-Token"

var handlePattern = regexp.MustCompile(`^[A-Za-z0-9_]{1,15}$`)

// Queue accepts scrape jobs
type Queue interface {
	Enqueue(username string) *queue.Job
	PositionOf(username string) int
	Snapshot() queue.Status
}

// Store is the read and delete side of persistence the API needs
type Store interface {
	GetUser(ctx context.Context, username string) (*types.User, error)
	ProfileReport(ctx context.Context, profile string) ([]types.PostReport, error)
	GetUserMetrics(ctx context.Context, username string) (*types.UserMetrics, error)
	GetPostMetrics(ctx context.Context, postID string) (*types.PostMetrics, error)
	DeleteUser(ctx context.Context, username string) (int64, error)
}

// Analyzer runs analysis jobs
type Analyzer interface {
	RecomputeUserAggregate(ctx context.Context, username string) error
	AnalyzeAll(ctx context.Context, batchSize int) (int, error)
	AnalyzeBacklog(ctx context.Context, batchSize int) (int, error)
}

// Schedule lists periodic jobs
type Schedule interface {
	ListJobs() []scheduler.JobInfo
}

// Options configures the server
type Options struct {
	// AdminToken guards DELETE /api/user. Empty disables the endpoint.
	AdminToken string
	// BatchSize is the analysis chunk size used when a request gives none
	BatchSize int
	// Background outlives requests and bounds bulk analysis runs
	Background context.Context
	// Schedule is optional
	Schedule Schedule
}

// Server handles the HTTP API
type Server struct {
	queue    Queue
	store    Store
	analyzer Analyzer
	opts     Options
	log      zerolog.Logger

	bulkRunning atomic.Bool
	bulk        sync.WaitGroup
}

// NewServer creates the API server
func NewServer(q Queue, st Store, an Analyzer, opts Options, logger zerolog.Logger) *Server {
	if opts.Background == nil {
		opts.Background = context.Background()
	}
	if opts.BatchSize < 1 {
		opts.BatchSize = 10
	}
	return &Server{
		queue:    q,
		store:    st,
		analyzer: an,
		opts:     opts,
		log:      logger.With().Str("component", "api").Logger(),
	}
}

// Router builds the chi router with the shared middlewares
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(s.observe)

	r.Get("/health", s.handleHealth)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	// The progress stream lives as long as the crawl, so it skips the timeout
	r.Get("/api/scrape/{username}", s.handleScrape)

	r.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(60 * time.Second))

		r.Post("/api/rescrape/{username}", s.handleRescrape)
		r.Get("/api/queue", s.handleQueue)
		r.Get("/api/analysis/{username}", s.handleAnalysis)
		r.Get("/api/user-metrics/{username}", s.handleUserMetrics)
		r.Get("/api/post-metrics/{postID}", s.handlePostMetrics)
		r.Post("/api/analyze-all", s.handleAnalyzeAll)
		r.Post("/api/analyze-backlog", s.handleAnalyzeBacklog)
		r.Delete("/api/user/{username}", s.handleDeleteUser)
	})

	return r
}

// Wait blocks until background analysis runs started by the API finished
func (s *Server) Wait() {
	s.bulk.Wait()
}

// observe logs each request and counts it by route pattern
func (s *Server) observe(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()

		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		metrics.HTTPRequests.WithLabelValues(route, strconv.Itoa(status)).Inc()

		s.log.Debug().
			Str("request_id", middleware.GetReqID(r.Context())).
			Str("method", r.Method).
			Str("route", route).
			Int("status", status).
			Dur("elapsed", time.Since(start)).
			Msg("Request handled")
	})
}

// usernameParam reads and validates the {username} path parameter. Handles
// are lower-cased to match how crawls store them.
func usernameParam(r *http.Request) (string, bool) {
	name := strings.TrimPrefix(chi.URLParam(r, "username"), "@")
	return strings.ToLower(name), handlePattern.MatchString(name)
}
