package activities

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/testsuite"

	"github.com/helixir/review-pipeline-service/internal/domain"
)

func runPublish(t *testing.T, pub *recordingPublisher, in PublishEventInput) error {
	t.Helper()
	var ts testsuite.WorkflowTestSuite
	env := ts.NewTestActivityEnvironment()

	act := NewEventActivities(pub)
	env.RegisterActivity(act.PublishEvent)

	_, err := env.ExecuteActivity(act.PublishEvent, in)
	return err
}

func TestPublishEvent_Delivers(t *testing.T) {
	pub := &recordingPublisher{}
	id := uuid.New()
	payload, err := json.Marshal(domain.ReviewStartedPayload{TrackingID: id, Topic: "soil carbon"})
	require.NoError(t, err)

	require.NoError(t, runPublish(t, pub, PublishEventInput{
		EventType:  domain.EventTypeReviewStarted,
		TrackingID: id,
		Payload:    payload,
	}))

	require.Len(t, pub.events, 1)
	ev := pub.events[0]
	assert.Equal(t, domain.EventTypeReviewStarted, ev.EventType)
	assert.Equal(t, domain.AggregateTypeReviewJob, ev.AggregateType)
	assert.Equal(t, id.String(), ev.AggregateID)
	assert.JSONEq(t, string(payload), string(ev.Payload))
}

func TestPublishEvent_PublisherFailureIsRetryable(t *testing.T) {
	err := runPublish(t, &recordingPublisher{err: errors.New("kafka: leader not available")}, PublishEventInput{
		EventType:  domain.EventTypeReviewFailed,
		TrackingID: uuid.New(),
		Payload:    json.RawMessage(`{}`),
	})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "leader not available")

	var appErr *temporal.ApplicationError
	if errors.As(err, &appErr) {
		assert.False(t, appErr.NonRetryable())
	}
}

func TestPublishEvent_BadPayload(t *testing.T) {
	// Invalid JSON cannot cross the activity boundary, so call the method
	// directly; it fails before touching the activity context.
	pub := &recordingPublisher{}
	err := NewEventActivities(pub).PublishEvent(context.Background(), PublishEventInput{
		EventType:  domain.EventTypeReviewSucceeded,
		TrackingID: uuid.New(),
		Payload:    json.RawMessage(`{"broken":`),
	})

	var appErr *temporal.ApplicationError
	require.ErrorAs(t, err, &appErr)
	assert.True(t, appErr.NonRetryable())
	assert.Equal(t, "InvalidEvent", appErr.Type())
	assert.Empty(t, pub.events)
}
