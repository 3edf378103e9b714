// Package ratelimit provides per-user sliding-window rate limiting for the
// lightweight filter. Two backends implement the same Store interface: an
// in-process lock-striped store and a Redis-backed store for multi-replica
// deployments.
package ratelimit

import (
	"context"
	"time"
)

// Result is the outcome of a rate-limit check.
type Result struct {
	Allowed bool

	// RetryAfter is how long until the oldest event falls out of the window.
	// Only set when Allowed is false.
	RetryAfter time.Duration
}

// Store checks and records events against a sliding window of width Window
// with at most MaxEvents events per user.
type Store interface {
	// CheckAndRecord records an event for userID at now and reports whether
	// it is within the limit. The (N+1)th event inside the window is denied.
	CheckAndRecord(ctx context.Context, userID string, now time.Time) (Result, error)

	// ActiveUsers returns the number of users with at least one event still
	// inside the window.
	ActiveUsers(ctx context.Context) (int, error)
}

// Config holds sliding-window parameters.
type Config struct {
	Window    time.Duration // default 60s
	MaxEvents int           // default 10
}

// DefaultConfig returns the standard window parameters.
func DefaultConfig() Config {
	return Config{
		Window:    60 * time.Second,
		MaxEvents: 10,
	}
}
