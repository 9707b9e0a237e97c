package httpserver

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/helixir/review-pipeline-service/internal/domain"
	"github.com/helixir/review-pipeline-service/internal/export"
	"github.com/helixir/review-pipeline-service/internal/observability"
	"github.com/helixir/review-pipeline-service/internal/repository"
	"github.com/helixir/review-pipeline-service/internal/service"
	"github.com/helixir/review-pipeline-service/internal/temporal"
)

const maxRequestBodySize = 1 << 20

type submitReviewRequest struct {
	Topic  string `json:"topic" validate:"required,max=500"`
	Prompt string `json:"prompt,omitempty" validate:"max=10000"`
}

type cancelReviewRequest struct {
	Reason string `json:"reason,omitempty" validate:"max=500"`
}

// decodeBody reads at most maxRequestBodySize bytes of JSON into dst. An
// empty body is accepted when optional is set.
func decodeBody(r *http.Request, dst any, optional bool) error {
	if r.Body == nil {
		if optional {
			return nil
		}
		return errEmptyBody
	}
	defer r.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBodySize))
	switch {
	case err != nil:
		return errUnreadableBody
	case len(bytes.TrimSpace(raw)) == 0 && optional:
		return nil
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return errInvalidJSON
	}
	return nil
}

var (
	errEmptyBody      = errors.New("request body is required")
	errUnreadableBody = errors.New("failed to read request body")
	errInvalidJSON    = errors.New("invalid JSON request body")
)

// POST /reviews
func (s *Server) submitReview(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req submitReviewRequest
	if err := decodeBody(r, &req, false); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	req.Topic, req.Prompt = strings.TrimSpace(req.Topic), strings.TrimSpace(req.Prompt)
	if err := s.validate.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, validationMessage(err))
		return
	}

	job, err := s.reviews.Submit(ctx, service.SubmitRequest{
		UserID: UserIDFromContext(ctx),
		Topic:  req.Topic,
		Prompt: req.Prompt,
	})
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}

	w.Header().Set("Location", "/api/v1/reviews/"+job.TrackingID.String())
	writeJSON(w, http.StatusCreated, domainJobToSubmitResponse(job, "review submitted"))
}

// GET /reviews?status=a,b&created_after=&created_before=&page_size=&page_token=
func (s *Server) listReviews(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	q := r.URL.Query()
	pg := pageFromQuery(q)

	filter := repository.JobFilter{UserID: UserIDFromContext(ctx), Limit: pg.size, Offset: pg.offset}

	if raw := q.Get("status"); raw != "" {
		for _, part := range strings.Split(raw, ",") {
			st := domain.JobStatus(strings.TrimSpace(part))
			if !domain.IsValidJobStatus(st) {
				writeError(w, http.StatusBadRequest, "unsupported status filter")
				return
			}
			filter.Status = append(filter.Status, st)
		}
	}

	var err error
	if filter.CreatedAfter, err = timeParam(q, "created_after"); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if filter.CreatedBefore, err = timeParam(q, "created_before"); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	jobs, total, err := s.reviews.List(ctx, filter)
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}

	resp := listReviewsResponse{
		Reviews:       make([]reviewSummaryResponse, 0, len(jobs)),
		NextPageToken: pg.nextToken(int(total)),
		TotalCount:    int(total),
	}
	for _, j := range jobs {
		resp.Reviews = append(resp.Reviews, domainJobToSummary(j))
	}
	writeJSON(w, http.StatusOK, resp)
}

// timeParam parses an optional RFC 3339 query parameter.
func timeParam(q url.Values, key string) (*time.Time, error) {
	raw := q.Get(key)
	if raw == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return nil, fmt.Errorf("%s must be an RFC 3339 timestamp", key)
	}
	return &t, nil
}

// GET /reviews/{trackingID}
func (s *Server) getReview(w http.ResponseWriter, r *http.Request) {
	trackingID, ok := parseUUID(w, chi.URLParam(r, "trackingID"), "tracking_id")
	if !ok {
		return
	}

	job, err := s.reviews.Get(r.Context(), UserIDFromContext(r.Context()), trackingID)
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, domainJobToStatusResponse(job))
}

// GET /reviews/{trackingID}/result
func (s *Server) getReviewResult(w http.ResponseWriter, r *http.Request) {
	trackingID, ok := parseUUID(w, chi.URLParam(r, "trackingID"), "tracking_id")
	if !ok {
		return
	}

	doc, err := s.reviews.Document(r.Context(), UserIDFromContext(r.Context()), trackingID)
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, doc)
}

// GET /reviews/{trackingID}/export?format=pdf|docx
func (s *Server) exportReview(w http.ResponseWriter, r *http.Request) {
	trackingID, ok := parseUUID(w, chi.URLParam(r, "trackingID"), "tracking_id")
	if !ok {
		return
	}

	format, err := export.ParseFormat(r.URL.Query().Get("format"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "format must be pdf or docx")
		return
	}

	doc, err := s.reviews.Document(r.Context(), UserIDFromContext(r.Context()), trackingID)
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}

	artifact, err := s.exporter.Render(r.Context(), doc, format)
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}

	w.Header().Set("Content-Type", artifact.ContentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", artifact.Filename))
	w.Header().Set("Content-Length", strconv.Itoa(len(artifact.Data)))
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(artifact.Data); err != nil {
		s.logger.Warn().Err(err).Str(observability.FieldTrackingID, trackingID.String()).Msg("failed to write export")
	}
}

// GET /reviews/{trackingID}/items?stage=
func (s *Server) listReviewItems(w http.ResponseWriter, r *http.Request) {
	trackingID, ok := parseUUID(w, chi.URLParam(r, "trackingID"), "tracking_id")
	if !ok {
		return
	}
	stage := domain.Stage(r.URL.Query().Get("stage"))

	items, err := s.reviews.Items(r.Context(), UserIDFromContext(r.Context()), trackingID, stage)
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}

	resp := listItemsResponse{Stage: string(stage), Items: make([]itemResponse, len(items))}
	for i, it := range items {
		resp.Items[i] = domainItemToResponse(it)
	}
	writeJSON(w, http.StatusOK, resp)
}

// POST /reviews/{trackingID}/cancel answers 202, or 409 once the job is
// terminal.
func (s *Server) cancelReview(w http.ResponseWriter, r *http.Request) {
	trackingID, ok := parseUUID(w, chi.URLParam(r, "trackingID"), "tracking_id")
	if !ok {
		return
	}

	// The reason is optional; an unparsable body is treated as none.
	var cancelReq cancelReviewRequest
	if err := decodeBody(r, &cancelReq, true); err != nil {
		cancelReq = cancelReviewRequest{}
	}
	if err := s.validate.Struct(cancelReq); err != nil {
		writeError(w, http.StatusBadRequest, validationMessage(err))
		return
	}

	if err := s.reviews.Cancel(r.Context(), UserIDFromContext(r.Context()), trackingID, cancelReq.Reason); err != nil {
		s.writeFailure(w, r, err)
		return
	}

	writeJSON(w, http.StatusAccepted, cancelReviewResponse{
		Success: true,
		Message: "cancellation requested",
	})
}

// POST /reviews/{trackingID}/retry
func (s *Server) retryReview(w http.ResponseWriter, r *http.Request) {
	trackingID, ok := parseUUID(w, chi.URLParam(r, "trackingID"), "tracking_id")
	if !ok {
		return
	}

	job, err := s.reviews.Retry(r.Context(), UserIDFromContext(r.Context()), trackingID)
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}

	resp := domainJobToSubmitResponse(job, "review resubmitted")
	resp.RetriedFrom = trackingID.String()
	w.Header().Set("Location", "/api/v1/reviews/"+job.TrackingID.String())
	writeJSON(w, http.StatusCreated, resp)
}

// writeFailure logs unexpected errors before mapping them to a response.
func (s *Server) writeFailure(w http.ResponseWriter, r *http.Request, err error) {
	if statusForError(err) >= http.StatusInternalServerError {
		logger := observability.LoggerFromContext(r.Context(), s.logger)
		logger.Error().
			Err(err).
			Str("path", r.URL.Path).
			Msg("request failed")
	}
	writeDomainError(w, err)
}

// statusForError maps domain and temporal errors to HTTP status codes.
func statusForError(err error) int {
	switch {
	case errors.Is(err, domain.ErrNotFound), errors.Is(err, temporal.ErrWorkflowNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrTooManyPendingJobs), errors.Is(err, domain.ErrRateLimited):
		return http.StatusTooManyRequests
	case errors.Is(err, domain.ErrNotReady),
		errors.Is(err, domain.ErrInvalidTransition),
		errors.Is(err, domain.ErrAlreadyExists),
		errors.Is(err, domain.ErrCancelled),
		errors.Is(err, temporal.ErrWorkflowAlreadyStarted):
		return http.StatusConflict
	case errors.Is(err, domain.ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, domain.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, domain.ErrServiceUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// writeDomainError answers with the status of err. Only validation messages
// reach the client verbatim; 5xx bodies are always generic.
func writeDomainError(w http.ResponseWriter, err error) {
	if err == nil {
		return
	}

	status := statusForError(err)
	switch {
	case errors.Is(err, domain.ErrInvalidInput):
		var ve *domain.ValidationError
		if errors.As(err, &ve) {
			writeError(w, status, ve.Error())
		} else {
			writeError(w, status, "invalid input")
		}
	case errors.Is(err, domain.ErrTooManyPendingJobs):
		writeError(w, status, "too many pending reviews")
	case errors.Is(err, domain.ErrNotReady):
		writeError(w, status, "review has no result yet")
	case errors.Is(err, domain.ErrInvalidTransition):
		writeError(w, status, "review is already in a terminal state")
	case status == http.StatusNotFound:
		writeError(w, status, "resource not found")
	case status == http.StatusInternalServerError:
		writeError(w, status, "internal server error")
	default:
		writeError(w, status, strings.ToLower(http.StatusText(status)))
	}
}

// validationMessage turns validator errors into a client-facing message.
func validationMessage(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return "invalid input"
	}
	fe := verrs[0]
	field := strings.ToLower(fe.Field())
	switch fe.Tag() {
	case "required":
		return field + " is required"
	case "max":
		return fmt.Sprintf("%s must be at most %s characters", field, fe.Param())
	default:
		return field + " is invalid"
	}
}

// parseUUID answers 400 without echoing the rejected value.
func parseUUID(w http.ResponseWriter, s, fieldName string) (uuid.UUID, bool) {
	id, err := uuid.Parse(s)
	if err != nil {
		writeError(w, http.StatusBadRequest, fieldName+" must be a valid UUID")
		return uuid.Nil, false
	}
	return id, true
}
