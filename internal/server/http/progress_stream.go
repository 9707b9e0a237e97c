package httpserver

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/helixir/review-pipeline-service/internal/domain"
	"github.com/helixir/review-pipeline-service/internal/observability"
)

const (
	sseQueryInterval = 2 * time.Second
	sseMaxDuration   = 4 * time.Hour
)

// sseEvent is the data line of one server-sent event. EventType doubles as
// the SSE event name.
type sseEvent struct {
	EventType  string               `json:"event_type"`
	TrackingID string               `json:"tracking_id"`
	Status     string               `json:"status"`
	Stage      string               `json:"stage"`
	Percent    int                  `json:"percent"`
	Error      *errorDetailResponse `json:"error,omitempty"`
	Message    string               `json:"message"`
	Timestamp  time.Time            `json:"timestamp"`
}

type sseWriter struct {
	w http.ResponseWriter
	f http.Flusher
}

func (s sseWriter) send(ev sseEvent) {
	data, err := json.Marshal(ev)
	if err != nil {
		return
	}
	fmt.Fprintf(s.w, "event: %s\ndata: %s\n\n", ev.EventType, data)
	s.f.Flush()
}

// streamProgress serves GET /reviews/{trackingID}/progress. It polls the
// job row and emits an event whenever stage or percent moves, then closes
// after the terminal event.
func (s *Server) streamProgress(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := UserIDFromContext(ctx)

	trackingID, ok := parseUUID(w, chi.URLParam(r, "trackingID"), "tracking_id")
	if !ok {
		return
	}

	job, err := s.reviews.Get(ctx, userID, trackingID)
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}

	f, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}
	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	out := sseWriter{w: w, f: f}

	if job.Status.IsTerminal() {
		out.send(terminalEvent(job))
		return
	}
	out.send(jobEvent(job, "stream_started", "progress stream started"))

	logger := observability.LoggerFromContext(ctx, s.logger)
	deadline := time.After(sseMaxDuration)
	poll := time.NewTicker(s.pollInterval)
	defer poll.Stop()

	last := job
	for {
		select {
		case <-ctx.Done():
			return
		case <-deadline:
			out.send(sseEvent{
				EventType:  "timeout",
				TrackingID: trackingID.String(),
				Message:    "stream max duration exceeded",
				Timestamp:  time.Now(),
			})
			return
		case <-poll.C:
		}

		cur, err := s.reviews.Get(ctx, userID, trackingID)
		switch {
		case err != nil:
			logger.Error().Err(err).Msg("progress poll failed")
		case cur.Status.IsTerminal():
			out.send(terminalEvent(cur))
			return
		case cur.Stage != last.Stage || cur.Percent != last.Percent:
			last = cur
			out.send(jobEvent(cur, "progress_update", "stage: "+string(cur.Stage)))
		}
	}
}

func jobEvent(j *domain.ReviewJob, eventType, message string) sseEvent {
	ev := sseEvent{
		EventType:  eventType,
		TrackingID: j.TrackingID.String(),
		Status:     string(j.Status),
		Stage:      string(j.Stage),
		Percent:    j.Percent,
		Message:    message,
		Timestamp:  time.Now(),
	}
	if j.Error != nil {
		ev.Error = &errorDetailResponse{Kind: string(j.Error.Kind), Stage: string(j.Error.Stage), Message: j.Error.Message}
	}
	return ev
}

// terminalEvent is named completed, failed or cancelled after the job status.
func terminalEvent(j *domain.ReviewJob) sseEvent {
	name := map[domain.JobStatus]string{
		domain.JobStatusFailed:    "failed",
		domain.JobStatusCancelled: "cancelled",
	}[j.Status]
	if name == "" {
		name = "completed"
	}
	return jobEvent(j, name, "review finished with status: "+string(j.Status))
}
