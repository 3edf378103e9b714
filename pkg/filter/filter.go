// Package filter implements the deterministic pre-LLM screen: rate limiting
// plus pattern matching. It is both a cost control (obvious cases skip the
// LLM) and a safety net (a verdict exists even when the LLM is down).
package filter

import (
	"context"
	"log/slog"
	"time"

	"github.com/streamguard/streamguard/pkg/models"
	"github.com/streamguard/streamguard/pkg/patterns"
	"github.com/streamguard/streamguard/pkg/ratelimit"
)

// Service combines the rate-limit store and pattern matcher into a single
// evaluate operation.
type Service struct {
	limiter ratelimit.Store
	matcher *patterns.Matcher
	enabled bool
	logger  *slog.Logger
}

// NewService creates a filter service. A nil limiter disables rate limiting.
func NewService(limiter ratelimit.Store, matcher *patterns.Matcher, enabled bool) *Service {
	return &Service{
		limiter: limiter,
		matcher: matcher,
		enabled: enabled,
		logger:  slog.Default().With("component", "filter"),
	}
}

// Evaluate runs the filter policy against one message:
//
//  1. Rate limit exceeded → rate_limited, should_process=false.
//  2. Banned word or toxic pattern → flagged, should_process=false
//     (the LLM is not invoked for hard pattern hits).
//  3. Spam or PII only → flagged, should_process=true (LLM adjudicates
//     severity).
//  4. Otherwise → pass.
//
// Matcher-engine faults fail open to pass so the system prefers LLM
// adjudication over silent blocks. Evaluate never returns an error.
func (s *Service) Evaluate(ctx context.Context, msg *models.IncomingMessage) models.FilterOutcome {
	start := time.Now()

	if !s.enabled {
		return models.FilterOutcome{
			ShouldProcess: true,
			Decision:      models.FilterPass,
			Latency:       time.Since(start),
		}
	}

	if s.limiter != nil {
		res, err := s.limiter.CheckAndRecord(ctx, msg.UserID, msg.Timestamp)
		if err != nil {
			// Rate limiting is best-effort; a store fault must not block chat.
			s.logger.Warn("Rate limit check failed, treating as allowed",
				"user_id", msg.UserID, "error", err)
		} else if !res.Allowed {
			return models.FilterOutcome{
				ShouldProcess: false,
				Decision:      models.FilterRateLimited,
				Confidence:    1.0,
				RetryAfter:    res.RetryAfter,
				Latency:       time.Since(start),
			}
		}
	}

	match, err := s.matcher.Match(msg.Body)
	if err != nil {
		s.logger.Error("Pattern matcher fault, failing open",
			"message_id", msg.MessageID, "error", err)
		return models.FilterOutcome{
			ShouldProcess: true,
			Decision:      models.FilterPass,
			Latency:       time.Since(start),
		}
	}

	if !match.Matched {
		return models.FilterOutcome{
			ShouldProcess: true,
			Decision:      models.FilterPass,
			Latency:       time.Since(start),
		}
	}

	// Terminal hit: hard flag, skip the LLM.
	if match.Terminal != "" {
		return models.FilterOutcome{
			ShouldProcess:   false,
			Decision:        models.FilterFlagged,
			Confidence:      0.95,
			MatchedPatterns: match.PatternIDs,
			PatternType:     match.Terminal,
			Latency:         time.Since(start),
		}
	}

	// Spam/PII only: flagged but still processed by the LLM.
	return models.FilterOutcome{
		ShouldProcess:   true,
		Decision:        models.FilterFlagged,
		Confidence:      0.6,
		MatchedPatterns: match.PatternIDs,
		PatternType:     match.Categories[0],
		Latency:         time.Since(start),
	}
}

// PatternStats exposes the active rule-set sizes for the stats endpoint.
func (s *Service) PatternStats() patterns.Stats {
	return s.matcher.Stats()
}

// ActiveRateLimitedUsers reports how many users currently have rate-limit
// state inside the window.
func (s *Service) ActiveRateLimitedUsers(ctx context.Context) int {
	if s.limiter == nil {
		return 0
	}
	n, err := s.limiter.ActiveUsers(ctx)
	if err != nil {
		s.logger.Warn("Failed to count active rate-limited users", "error", err)
		return 0
	}
	return n
}
