package activities

import (
	"context"
	"fmt"

	"go.temporal.io/sdk/activity"
	"go.temporal.io/sdk/temporal"

	"github.com/helixir/review-pipeline-service/internal/domain"
	"github.com/helixir/review-pipeline-service/internal/events"
)

// EventActivities hands workflow lifecycle events to a publisher. The
// workflow schedules them without waiting, so a lost event never fails a
// review.
type EventActivities struct {
	publisher events.Publisher
}

func NewEventActivities(publisher events.Publisher) *EventActivities {
	return &EventActivities{publisher: publisher}
}

// PublishEvent delivers one event. A payload that is not valid JSON is
// rejected without retry.
func (a *EventActivities) PublishEvent(ctx context.Context, in PublishEventInput) error {
	ev, err := domain.NewEvent(in.EventType, in.TrackingID, in.Payload)
	if err != nil {
		return temporal.NewNonRetryableApplicationError(
			fmt.Sprintf("encode %s payload: %v", in.EventType, err), "InvalidEvent", err)
	}

	if err := a.publisher.Publish(ctx, ev); err != nil {
		activity.GetLogger(ctx).Warn("event not delivered",
			"event_type", in.EventType,
			"tracking_id", in.TrackingID.String(),
			"attempt", activity.GetInfo(ctx).Attempt,
			"error", err,
		)
		return fmt.Errorf("publish %s: %w", in.EventType, err)
	}
	return nil
}
