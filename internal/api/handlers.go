package api

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	chi "github.com/go-chi/chi/v5"

	"github.com/ibeckermayer/profilepulse/internal/stats"
	"github.com/ibeckermayer/profilepulse/internal/store"
	"github.com/ibeckermayer/profilepulse/internal/types"
)

const topRepliers = 5

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

type messageResponse struct {
	Message string `json:"message"`
}

type rescrapeResponse struct {
	Message  string `json:"message"`
	JobID    string `json:"job_id"`
	Position int    `json:"position"`
}

type queueResponse struct {
	Length   int                   `json:"length"`
	Active   any                   `json:"active"`
	Pending  any                   `json:"pending"`
	Schedule []scheduleJobResponse `json:"schedule,omitempty"`
}

type scheduleJobResponse struct {
	Name    string `json:"name"`
	NextRun string `json:"next_run"`
}

type analysisResponse struct {
	Username     string             `json:"username"`
	User         *types.User        `json:"user,omitempty"`
	MonthlyStats []stats.Month      `json:"monthly_stats"`
	TopRepliers  []stats.Replier    `json:"top_repliers"`
	Posts        []types.PostReport `json:"posts"`
}

type deleteResponse struct {
	Message     string `json:"message"`
	DeletedRows int64  `json:"deleted_rows"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleRescrape(w http.ResponseWriter, r *http.Request) {
	username, ok := usernameParam(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid_username", "invalid username")
		return
	}

	job := s.queue.Enqueue(username)
	writeJSON(w, http.StatusAccepted, rescrapeResponse{
		Message:  "Scrape queued",
		JobID:    job.ID,
		Position: s.queue.PositionOf(username),
	})
}

func (s *Server) handleQueue(w http.ResponseWriter, r *http.Request) {
	st := s.queue.Snapshot()
	resp := queueResponse{
		Length:  len(st.Pending),
		Active:  st.Active,
		Pending: st.Pending,
	}
	if s.opts.Schedule != nil {
		for _, j := range s.opts.Schedule.ListJobs() {
			resp.Schedule = append(resp.Schedule, scheduleJobResponse{
				Name:    j.Name,
				NextRun: j.NextRun.UTC().Format("2006-01-02T15:04:05Z"),
			})
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleAnalysis(w http.ResponseWriter, r *http.Request) {
	username, ok := usernameParam(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid_username", "invalid username")
		return
	}

	reports, err := s.store.ProfileReport(r.Context(), username)
	if err != nil {
		s.internalError(w, err, "load profile report")
		return
	}

	user, err := s.store.GetUser(r.Context(), username)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		s.internalError(w, err, "load user")
		return
	}

	posts := make([]types.Post, len(reports))
	for i := range reports {
		posts[i] = reports[i].Post
	}

	writeJSON(w, http.StatusOK, analysisResponse{
		Username:     username,
		User:         user,
		MonthlyStats: stats.Monthly(username, posts),
		TopRepliers:  stats.TopRepliers(username, posts, topRepliers),
		Posts:        reports,
	})
}

func (s *Server) handleUserMetrics(w http.ResponseWriter, r *http.Request) {
	username, ok := usernameParam(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid_username", "invalid username")
		return
	}

	m, err := s.store.GetUserMetrics(r.Context(), username)
	if errors.Is(err, store.ErrNotFound) {
		if err := s.analyzer.RecomputeUserAggregate(r.Context(), username); err != nil {
			s.internalError(w, err, "compute user metrics")
			return
		}
		m, err = s.store.GetUserMetrics(r.Context(), username)
	}
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "no_metrics", "no metrics available for this user, they might not have any scored posts")
		return
	}
	if err != nil {
		s.internalError(w, err, "load user metrics")
		return
	}

	writeJSON(w, http.StatusOK, m)
}

func (s *Server) handlePostMetrics(w http.ResponseWriter, r *http.Request) {
	postID := chi.URLParam(r, "postID")
	if _, err := strconv.ParseUint(postID, 10, 64); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_post_id", "invalid post id")
		return
	}

	m, err := s.store.GetPostMetrics(r.Context(), postID)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "not_found", "post has no metrics")
		return
	}
	if err != nil {
		s.internalError(w, err, "load post metrics")
		return
	}

	writeJSON(w, http.StatusOK, m)
}

func (s *Server) handleAnalyzeAll(w http.ResponseWriter, r *http.Request) {
	s.startBulk(w, r, "analyze-all", s.analyzer.AnalyzeAll)
}

func (s *Server) handleAnalyzeBacklog(w http.ResponseWriter, r *http.Request) {
	s.startBulk(w, r, "analyze-backlog", s.analyzer.AnalyzeBacklog)
}

// startBulk runs a bulk analysis in the background. Only one runs at a time.
func (s *Server) startBulk(w http.ResponseWriter, r *http.Request, name string, run func(ctx context.Context, batchSize int) (int, error)) {
	batchSize := s.opts.BatchSize
	if v := r.URL.Query().Get("batch_size"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > 100 {
			writeError(w, http.StatusBadRequest, "invalid_batch_size", "batch_size must be between 1 and 100")
			return
		}
		batchSize = n
	}

	if !s.bulkRunning.CompareAndSwap(false, true) {
		writeError(w, http.StatusConflict, "busy", "a bulk analysis is already running")
		return
	}

	s.bulk.Add(1)
	go func() {
		defer s.bulk.Done()
		defer s.bulkRunning.Store(false)

		n, err := run(s.opts.Background, batchSize)
		if err != nil {
			s.log.Error().Err(err).Str("job", name).Int("processed", n).Msg("Bulk analysis failed")
			return
		}
		s.log.Info().Str("job", name).Int("processed", n).Msg("Bulk analysis completed")
	}()

	writeJSON(w, http.StatusAccepted, messageResponse{
		Message: fmt.Sprintf("Bulk analysis %s started. Check server logs for progress.", name),
	})
}

func (s *Server) handleDeleteUser(w http.ResponseWriter, r *http.Request) {
	if s.opts.AdminToken == "" {
		writeError(w, http.StatusForbidden, "disabled", "user deletion is disabled")
		return
	}
	token := r.Header.Get(AdminTokenHeader)
	if subtle.ConstantTimeCompare([]byte(token), []byte(s.opts.AdminToken)) != 1 {
		writeError(w, http.StatusUnauthorized, "unauthorized", "unauthorized")
		return
	}

	username, ok := usernameParam(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid_username", "invalid username")
		return
	}

	if _, err := s.store.GetUser(r.Context(), username); errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "not_found", "user not found")
		return
	} else if err != nil {
		s.internalError(w, err, "load user")
		return
	}

	n, err := s.store.DeleteUser(r.Context(), username)
	if err != nil {
		s.internalError(w, err, "delete user")
		return
	}

	s.log.Info().Str("username", username).Int64("rows", n).Msg("User deleted")
	writeJSON(w, http.StatusOK, deleteResponse{
		Message:     fmt.Sprintf("User %s and all associated data deleted successfully.", username),
		DeletedRows: n,
	})
}

func (s *Server) internalError(w http.ResponseWriter, err error, action string) {
	s.log.Error().Err(err).Msg(action)
	writeError(w, http.StatusInternalServerError, "internal_error", "an error occurred while processing the request")
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorResponse{Error: message, Code: code})
}
