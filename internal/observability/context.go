package observability

import (
	"context"

	"github.com/rs/zerolog"
)

type contextKey int

const (
	requestIDKey contextKey = iota
	trackingIDKey
	userIDKey
)

// WithRequestID stores the request correlation ID in ctx.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDKey, requestID)
}

// RequestIDFromContext returns the correlation ID, or "" when none is set.
func RequestIDFromContext(ctx context.Context) string {
	return stringValue(ctx, requestIDKey)
}

// WithTrackingID stores the review job being served in ctx.
func WithTrackingID(ctx context.Context, trackingID string) context.Context {
	return context.WithValue(ctx, trackingIDKey, trackingID)
}

// TrackingIDFromContext returns the tracking ID, or "" when none is set.
func TrackingIDFromContext(ctx context.Context) string {
	return stringValue(ctx, trackingIDKey)
}

// WithUserID stores the authenticated user in ctx.
func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, userIDKey, userID)
}

// UserIDFromContext returns the authenticated user, or "" when none is set.
func UserIDFromContext(ctx context.Context) string {
	return stringValue(ctx, userIDKey)
}

func stringValue(ctx context.Context, key contextKey) string {
	s, _ := ctx.Value(key).(string)
	return s
}

// LoggerFromContext returns base with the request, job and user fields found
// in ctx. Fields that are not set are omitted.
func LoggerFromContext(ctx context.Context, base zerolog.Logger) zerolog.Logger {
	lc := base.With()
	if v := RequestIDFromContext(ctx); v != "" {
		lc = lc.Str(FieldRequestID, v)
	}
	if v := TrackingIDFromContext(ctx); v != "" {
		lc = lc.Str(FieldTrackingID, v)
	}
	if v := UserIDFromContext(ctx); v != "" {
		lc = lc.Str(FieldUserID, v)
	}
	return lc.Logger()
}
