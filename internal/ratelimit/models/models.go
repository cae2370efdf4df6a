package models

import (
	"time"
)

// Tier selects which fixed-window ceiling applies to a request.
type Tier string

const (
	// TierPublic is keyed by client IP.
	TierPublic Tier = "public"
	// TierAPIKey is keyed by the presented key id of an organization key.
	TierAPIKey Tier = "api_key"
)

func (t Tier) String() string {
	return string(t)
}

// Window is one fixed-window counter as seen by the store. The window starts
// on its first hit and is discarded entirely at ResetAt.
type Window struct {
	Key     string    `json:"key"`
	Count   int       `json:"count"`
	ResetAt time.Time `json:"reset_at"`
	// Degraded marks a window served by a local fallback because the shared
	// store was unavailable.
	Degraded bool `json:"degraded,omitempty"`
}

// ExpiredAt reports whether the window has ended as of now.
func (w *Window) ExpiredAt(now time.Time) bool {
	return w == nil || !now.Before(w.ResetAt)
}

// RetryAfter returns whole seconds until the window resets, at least one.
func (w *Window) RetryAfter(now time.Time) int {
	if w == nil {
		return 1
	}
	d := w.ResetAt.Sub(now)
	secs := int((d + time.Second - 1) / time.Second)
	return max(secs, 1)
}

// RateLimitResult represents the outcome of a rate limit check.
type RateLimitResult struct {
	Allowed    bool      `json:"allowed"`
	Tier       Tier      `json:"tier"`
	Limit      int       `json:"limit"`
	Remaining  int       `json:"remaining"`
	ResetAt    time.Time `json:"reset_at"`
	RetryAfter int       `json:"retry_after,omitempty"` // seconds, only set when not allowed
	// Degraded is set when the shared store was unavailable and the check ran
	// against the local fallback.
	Degraded bool `json:"degraded,omitempty"`
}

// SlowDownResult is the speed limiter's verdict for one request.
type SlowDownResult struct {
	Hits     int           `json:"hits"`
	Delay    time.Duration `json:"delay"`
	ResetAt  time.Time     `json:"reset_at"`
	Exempt   bool          `json:"exempt,omitempty"`
	Degraded bool          `json:"degraded,omitempty"`
}

// LockoutStatus is the brute-force guard's view of one scope and IP.
type LockoutStatus struct {
	Locked     bool      `json:"locked"`
	Failures   int       `json:"failures"`
	ResetAt    time.Time `json:"reset_at,omitempty"`
	RetryAfter int       `json:"retry_after,omitempty"`
	Degraded   bool      `json:"degraded,omitempty"`
}
