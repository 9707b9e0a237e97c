package httpserver

import (
	"time"

	"github.com/helixir/review-pipeline-service/internal/domain"
)

// Review response types for JSON serialization.

type submitReviewResponse struct {
	TrackingID  string    `json:"tracking_id"`
	Status      string    `json:"status"`
	Stage       string    `json:"stage"`
	CreatedAt   time.Time `json:"created_at"`
	RetriedFrom string    `json:"retried_from,omitempty"`
	Message     string    `json:"message"`
}

type reviewStatusResponse struct {
	TrackingID      string               `json:"tracking_id"`
	Topic           string               `json:"topic"`
	Prompt          string               `json:"prompt,omitempty"`
	Status          string               `json:"status"`
	Stage           string               `json:"stage"`
	Percent         int                  `json:"percent"`
	CancelRequested bool                 `json:"cancel_requested"`
	Error           *errorDetailResponse `json:"error,omitempty"`
	StageCounts     []stageCountResponse `json:"stage_counts,omitempty"`
	CreatedAt       time.Time            `json:"created_at"`
	StartedAt       *time.Time           `json:"started_at,omitempty"`
	CompletedAt     *time.Time           `json:"completed_at,omitempty"`
	Duration        string               `json:"duration,omitempty"`
}

type errorDetailResponse struct {
	Kind    string `json:"kind"`
	Stage   string `json:"stage"`
	Message string `json:"message"`
}

type stageCountResponse struct {
	Stage     string `json:"stage"`
	Attempted int    `json:"attempted"`
	Succeeded int    `json:"succeeded"`
	Failed    int    `json:"failed"`
}

type reviewSummaryResponse struct {
	TrackingID  string     `json:"tracking_id"`
	Topic       string     `json:"topic"`
	Status      string     `json:"status"`
	Stage       string     `json:"stage"`
	Percent     int        `json:"percent"`
	CreatedAt   time.Time  `json:"created_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	Duration    string     `json:"duration,omitempty"`
}

type listReviewsResponse struct {
	Reviews       []reviewSummaryResponse `json:"reviews"`
	NextPageToken string                  `json:"next_page_token,omitempty"`
	TotalCount    int                     `json:"total_count"`
}

type cancelReviewResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

type itemResponse struct {
	ItemKey     string    `json:"item_key"`
	Title       string    `json:"title,omitempty"`
	Outcome     string    `json:"outcome"`
	FailureKind string    `json:"failure_kind,omitempty"`
	Reason      string    `json:"reason,omitempty"`
	Attempts    int       `json:"attempts"`
	UpdatedAt   time.Time `json:"updated_at"`
}

type listItemsResponse struct {
	Stage string         `json:"stage"`
	Items []itemResponse `json:"items"`
}

// Converter functions

func domainJobToStatusResponse(j *domain.ReviewJob) reviewStatusResponse {
	resp := reviewStatusResponse{
		TrackingID:      j.TrackingID.String(),
		Topic:           j.Topic,
		Prompt:          j.Prompt,
		Status:          string(j.Status),
		Stage:           string(j.Stage),
		Percent:         j.Percent,
		CancelRequested: j.CancelRequested,
		CreatedAt:       j.CreatedAt,
		StartedAt:       j.StartedAt,
		CompletedAt:     j.CompletedAt,
	}
	if j.Error != nil {
		resp.Error = &errorDetailResponse{
			Kind:    string(j.Error.Kind),
			Stage:   string(j.Error.Stage),
			Message: j.Error.Message,
		}
	}
	for _, c := range j.StageCounts {
		resp.StageCounts = append(resp.StageCounts, stageCountResponse{
			Stage:     string(c.Stage),
			Attempted: c.Attempted,
			Succeeded: c.Succeeded,
			Failed:    c.Failed(),
		})
	}
	if d := j.Duration(); d > 0 {
		resp.Duration = d.String()
	}
	return resp
}

func domainJobToSummary(j *domain.ReviewJob) reviewSummaryResponse {
	resp := reviewSummaryResponse{
		TrackingID:  j.TrackingID.String(),
		Topic:       j.Topic,
		Status:      string(j.Status),
		Stage:       string(j.Stage),
		Percent:     j.Percent,
		CreatedAt:   j.CreatedAt,
		CompletedAt: j.CompletedAt,
	}
	if d := j.Duration(); d > 0 {
		resp.Duration = d.String()
	}
	return resp
}

func domainJobToSubmitResponse(j *domain.ReviewJob, message string) submitReviewResponse {
	return submitReviewResponse{
		TrackingID: j.TrackingID.String(),
		Status:     string(j.Status),
		Stage:      string(j.Stage),
		CreatedAt:  j.CreatedAt,
		Message:    message,
	}
}

func domainItemToResponse(it domain.ItemRecord) itemResponse {
	return itemResponse{
		ItemKey:     it.ItemKey,
		Title:       it.Title,
		Outcome:     string(it.Outcome),
		FailureKind: string(it.FailureKind),
		Reason:      it.Reason,
		Attempts:    it.Attempts,
		UpdatedAt:   it.UpdatedAt,
	}
}
