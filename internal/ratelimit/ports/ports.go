// Package ports defines shared interfaces for the ratelimit module.
// Interfaces are placed here when consumed by multiple services to avoid duplication.
package ports

import (
	"context"
	"log/slog"
	"time"

	"gatehouse/internal/ratelimit/models"
	"gatehouse/pkg/requestcontext"
)

// CounterStore holds fixed-window counters keyed by string. Increment must be
// atomic per key: concurrent callers each observe a distinct count.
type CounterStore interface {
	// Increment adds one hit, starting a new window of the given length when
	// none is active, and returns the window after the hit.
	Increment(ctx context.Context, key string, window time.Duration) (*models.Window, error)

	// Peek returns the active window without counting a hit, or nil.
	Peek(ctx context.Context, key string) (*models.Window, error)

	// Release takes back one hit counted by Increment. A window whose count
	// drops to zero is discarded, so the next hit opens a fresh one.
	Release(ctx context.Context, key string) error

	// Reset discards the window for key.
	Reset(ctx context.Context, key string) error
}

// LogAudit is a shared helper for logging audit events across ratelimit services.
func LogAudit(ctx context.Context, logger *slog.Logger, event string, attrs ...any) {
	if logger == nil {
		return
	}
	if requestID := requestcontext.RequestID(ctx); requestID != "" {
		attrs = append(attrs, "request_id", requestID)
	}
	args := append(attrs, "event", event, "log_type", "audit")
	logger.InfoContext(ctx, event, args...)
}
