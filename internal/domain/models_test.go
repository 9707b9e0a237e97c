package domain

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCanTransition(t *testing.T) {
	tests := []struct {
		name string
		from Stage
		to   Stage
		want bool
	}{
		{"pending to searching", StagePending, StageSearching, true},
		{"pending to cancelled", StagePending, StageCancelled, true},
		{"pending skips to acquiring", StagePending, StageAcquiring, false},
		{"searching to acquiring", StageSearching, StageAcquiring, true},
		{"searching skips extracting", StageSearching, StageExtracting, false},
		{"acquiring to extracting", StageAcquiring, StageExtracting, true},
		{"extracting to summarizing", StageExtracting, StageSummarizing, true},
		{"summarizing to synthesizing", StageSummarizing, StageSynthesizing, true},
		{"synthesizing to succeeded", StageSynthesizing, StageSucceeded, true},
		{"summarizing cannot succeed directly", StageSummarizing, StageSucceeded, false},
		{"acquiring back to searching", StageAcquiring, StageSearching, false},
		{"every working stage can fail", StageExtracting, StageFailed, true},
		{"every working stage can be cancelled", StageSynthesizing, StageCancelled, true},
		{"succeeded is final", StageSucceeded, StageFailed, false},
		{"cancelled is final", StageCancelled, StageSearching, false},
		{"failed is final", StageFailed, StageSucceeded, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, CanTransition(tt.from, tt.to))
		})
	}
}

func TestValidateTransition(t *testing.T) {
	require.NoError(t, ValidateTransition(StageSearching, StageAcquiring))

	err := ValidateTransition(StageSearching, StageSynthesizing)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalidTransition))
	assert.Contains(t, err.Error(), "searching -> synthesizing")
}

func TestWorkingStages_VisitOrderMatchesTransitionTable(t *testing.T) {
	prev := StagePending
	for _, s := range WorkingStages {
		assert.True(t, CanTransition(prev, s), "%s -> %s", prev, s)
		assert.True(t, s.IsWorking())
		prev = s
	}
	assert.True(t, CanTransition(prev, StageSucceeded))
}

func TestStage_Predicates(t *testing.T) {
	assert.True(t, StageAcquiring.IsItemized())
	assert.True(t, StageExtracting.IsItemized())
	assert.True(t, StageSummarizing.IsItemized())
	assert.False(t, StageSearching.IsItemized())
	assert.False(t, StageSynthesizing.IsItemized())

	assert.True(t, StageSucceeded.IsTerminal())
	assert.False(t, StagePending.IsTerminal())
	assert.False(t, StagePending.IsWorking())

	assert.True(t, IsValidStage(StageCancelled))
	assert.False(t, IsValidStage(Stage("expanding")))
}

func TestStage_Order(t *testing.T) {
	assert.Equal(t, -1, StagePending.Order())
	assert.Equal(t, 0, StageSearching.Order())
	assert.Equal(t, 4, StageSynthesizing.Order())
	assert.Equal(t, 5, StageFailed.Order())
	assert.Less(t, StageAcquiring.Order(), StageSummarizing.Order())
}

func TestStatusForStage(t *testing.T) {
	tests := []struct {
		stage Stage
		want  JobStatus
	}{
		{StagePending, JobStatusPending},
		{StageSearching, JobStatusRunning},
		{StageSynthesizing, JobStatusRunning},
		{StageSucceeded, JobStatusSucceeded},
		{StageFailed, JobStatusFailed},
		{StageCancelled, JobStatusCancelled},
	}

	for _, tt := range tests {
		t.Run(string(tt.stage), func(t *testing.T) {
			assert.Equal(t, tt.want, StatusForStage(tt.stage))
		})
	}
}

func TestJobStatus_IsTerminal(t *testing.T) {
	assert.False(t, JobStatusPending.IsTerminal())
	assert.False(t, JobStatusRunning.IsTerminal())
	assert.True(t, JobStatusSucceeded.IsTerminal())
	assert.True(t, JobStatusFailed.IsTerminal())
	assert.True(t, JobStatusCancelled.IsTerminal())
	assert.False(t, IsValidJobStatus(JobStatus("partial")))
}

func TestNewReviewJob(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	job := NewReviewJob("user-1", "CRISPR delivery", "focus on vectors", now)

	assert.NotEqual(t, uuid.Nil, job.TrackingID)
	assert.Equal(t, StagePending, job.Stage)
	assert.Equal(t, JobStatusPending, job.Status)
	assert.Equal(t, 0, job.Percent)
	assert.True(t, job.IsActive())
	assert.Equal(t, time.Duration(0), job.Duration())
}

func TestReviewJob_Duration(t *testing.T) {
	start := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	end := start.Add(90 * time.Second)
	job := &ReviewJob{StartedAt: &start, CompletedAt: &end, Status: JobStatusSucceeded}

	assert.Equal(t, 90*time.Second, job.Duration())
	assert.False(t, job.IsActive())
}

func TestStageCount_Failed(t *testing.T) {
	c := StageCount{Stage: StageAcquiring, Attempted: 10, Succeeded: 8}
	assert.Equal(t, 2, c.Failed())
}

func TestGenerateCanonicalID(t *testing.T) {
	tests := []struct {
		name string
		ids  PaperIdentifiers
		want string
	}{
		{"doi wins and is lowercased", PaperIdentifiers{DOI: "10.1000/ABC", OpenAlexID: "W1"}, "doi:10.1000/abc"},
		{"arxiv before pubmed", PaperIdentifiers{ArXivID: "2101.00001", PubMedID: "123"}, "arxiv:2101.00001"},
		{"pubmed before openalex", PaperIdentifiers{PubMedID: "123", OpenAlexID: "W1"}, "pubmed:123"},
		{"openalex fallback", PaperIdentifiers{OpenAlexID: "W42"}, "openalex:W42"},
		{"whitespace only", PaperIdentifiers{DOI: "   "}, ""},
		{"none", PaperIdentifiers{}, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, GenerateCanonicalID(tt.ids))
		})
	}
}

func TestPaperCandidate_InTextCitation(t *testing.T) {
	tests := []struct {
		name string
		c    PaperCandidate
		want string
	}{
		{
			name: "multiple authors",
			c:    PaperCandidate{Authors: []Author{{Name: "Jane Smith"}, {Name: "Li Wei"}}, Year: 2021},
			want: "(Smith et al., 2021)",
		},
		{
			name: "single author",
			c:    PaperCandidate{Authors: []Author{{Name: "Ada Lovelace"}}, Year: 1843},
			want: "(Lovelace, 1843)",
		},
		{
			name: "no authors and no year",
			c:    PaperCandidate{},
			want: "(Unknown, n.d.)",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.c.InTextCitation())
		})
	}
}

func TestPaperCandidate_Reference(t *testing.T) {
	c := PaperCandidate{
		Title:   "Base editing in vivo.",
		Authors: []Author{{Name: "Jane Smith"}, {Name: "Li Wei"}},
		Year:    2022,
		Venue:   "Nature",
		DOI:     "10.1038/xyz",
	}
	assert.Equal(t, "Jane Smith, Li Wei (2022). Base editing in vivo. Nature. https://doi.org/10.1038/xyz", c.Reference())

	many := PaperCandidate{Title: "T"}
	for i := 0; i < 8; i++ {
		many.Authors = append(many.Authors, Author{Name: fmt.Sprintf("A%d", i)})
	}
	assert.Contains(t, many.Reference(), "A5, et al. (n.d.). T.")
}

func TestPaperCandidate_ItemKey(t *testing.T) {
	assert.Equal(t, "doi:10.1/x", PaperCandidate{ExternalID: "doi:10.1/x", DiscoveryRank: 3}.ItemKey())
	assert.Equal(t, "rank:3", PaperCandidate{DiscoveryRank: 3}.ItemKey())
}

func TestNewItemRecord(t *testing.T) {
	id := uuid.New()
	now := time.Now()
	c := PaperCandidate{ExternalID: "doi:10.1/x", Title: "X"}

	ok := NewItemRecord(id, StageAcquiring, c, 1, nil, now)
	assert.Equal(t, ItemOutcomeSucceeded, ok.Outcome)
	assert.Empty(t, ok.FailureKind)

	failed := NewItemRecord(id, StageAcquiring, c, 3, NewItemFailure(StageAcquiring, FailureTransient, "timeout"), now)
	assert.Equal(t, ItemOutcomeFailed, failed.Outcome)
	assert.Equal(t, FailureTransient, failed.FailureKind)
	assert.Equal(t, "timeout", failed.Reason)
	assert.Equal(t, 3, failed.Attempts)
}

func TestFatalError(t *testing.T) {
	cause := errors.New("connection refused")
	err := NewFatalError(FatalDiscoveryUnavailable, StageSearching, cause)

	assert.Equal(t, "discovery_unavailable during searching: connection refused", err.Error())
	assert.True(t, errors.Is(err, cause))

	wrapped := fmt.Errorf("run: %w", err)
	je := JobErrorFrom(wrapped)
	require.NotNil(t, je)
	assert.Equal(t, FatalDiscoveryUnavailable, je.Kind)
	assert.Equal(t, StageSearching, je.Stage)

	other := JobErrorFrom(errors.New("boom"))
	assert.Equal(t, FatalInternal, other.Kind)
	assert.Nil(t, JobErrorFrom(nil))
}

func TestErrorTypes_Unwrap(t *testing.T) {
	assert.True(t, errors.Is(NewNotFoundError("review_job", "x"), ErrNotFound))
	assert.True(t, errors.Is(NewValidationError("topic", "required"), ErrInvalidInput))
	assert.True(t, errors.Is(NewRateLimitError("openalex", time.Second), ErrRateLimited))

	cause := errors.New("eof")
	apiErr := NewExternalAPIError("openalex", 503, "unavailable", cause)
	assert.True(t, errors.Is(apiErr, cause))
	assert.True(t, apiErr.IsTransient())
	assert.False(t, NewExternalAPIError("openalex", 404, "missing", nil).IsTransient())
	assert.True(t, NewExternalAPIError("openalex", 0, "no response", nil).IsTransient())
}

func TestNewEvent(t *testing.T) {
	id := uuid.New()
	ev, err := NewEvent(EventTypeReviewFailed, id, ReviewFailedPayload{TrackingID: id, Kind: FatalNoExtractableText})
	require.NoError(t, err)

	assert.Equal(t, id.String(), ev.AggregateID)
	assert.Equal(t, AggregateTypeReviewJob, ev.AggregateType)
	assert.Equal(t, 1, ev.EventVersion)
	assert.Contains(t, string(ev.Payload), `"kind":"no_extractable_text"`)
}
