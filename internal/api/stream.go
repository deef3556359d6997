package api

import (
	"encoding/json"
	"fmt"
	"net/http"
)

type streamMessage struct {
	Message string `json:"message"`
}

// handleScrape queues a crawl and streams its progress as server-sent events.
// The stream ends with a "complete" or "failed" event. A client that
// disconnects stops receiving updates; the crawl itself keeps running.
func (s *Server) handleScrape(w http.ResponseWriter, r *http.Request) {
	username, ok := usernameParam(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid_username", "invalid username")
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming_unsupported", "streaming unsupported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	job := s.queue.Enqueue(username)
	s.log.Info().Str("username", username).Str("job_id", job.ID).Msg("Streaming scrape progress")

	for {
		select {
		case msg, ok := <-job.Updates():
			if !ok {
				<-job.Done()
				if err := job.Err(); err != nil {
					writeEvent(w, "failed", err.Error())
				} else {
					writeEvent(w, "complete", "Complete")
				}
				flusher.Flush()
				return
			}
			writeEvent(w, "", msg)
			flusher.Flush()
		case <-r.Context().Done():
			return
		}
	}
}

func writeEvent(w http.ResponseWriter, event, msg string) {
	data, _ := json.Marshal(streamMessage{Message: msg})
	if event != "" {
		fmt.Fprintf(w, "event: %s\n", event)
	}
	fmt.Fprintf(w, "data: %s\n\n", data)
}
