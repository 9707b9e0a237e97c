package observability

import (
	"bytes"
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

func TestContextValues(t *testing.T) {
	ctx := context.Background()
	assert.Empty(t, RequestIDFromContext(ctx))
	assert.Empty(t, TrackingIDFromContext(ctx))
	assert.Empty(t, UserIDFromContext(ctx))

	ctx = WithRequestID(ctx, "req-1")
	ctx = WithTrackingID(ctx, "job-1")
	ctx = WithUserID(ctx, "user-1")
	assert.Equal(t, "req-1", RequestIDFromContext(ctx))
	assert.Equal(t, "job-1", TrackingIDFromContext(ctx))
	assert.Equal(t, "user-1", UserIDFromContext(ctx))

	ctx = WithRequestID(ctx, "req-2")
	assert.Equal(t, "req-2", RequestIDFromContext(ctx), "later values shadow earlier ones")
}

func TestContextValues_IgnoresForeignKeys(t *testing.T) {
	// A plain string key with the same text must not collide.
	ctx := context.WithValue(context.Background(), "request_id", "spoofed") //nolint:staticcheck
	assert.Empty(t, RequestIDFromContext(ctx))
}

func TestLoggerFromContext(t *testing.T) {
	t.Run("adds the fields that are set", func(t *testing.T) {
		var buf bytes.Buffer
		ctx := WithTrackingID(WithRequestID(context.Background(), "req-9"), "job-9")

		logger := LoggerFromContext(ctx, zerolog.New(&buf))
		logger.Info().Msg("x")

		entry := decodeLine(t, &buf)
		assert.Equal(t, "req-9", entry["request_id"])
		assert.Equal(t, "job-9", entry["tracking_id"])
		assert.NotContains(t, entry, "user_id")
	})

	t.Run("empty context leaves the logger unchanged", func(t *testing.T) {
		var buf bytes.Buffer
		logger := LoggerFromContext(context.Background(), zerolog.New(&buf))
		logger.Info().Msg("x")

		entry := decodeLine(t, &buf)
		assert.Len(t, entry, 2)
	})
}
