// Package policy maps (verdict, filter outcome, user history) to an
// enforcement action. The engine is pure: no I/O, deterministic for fixed
// inputs.
package policy

import (
	"fmt"
	"time"

	"github.com/streamguard/streamguard/pkg/models"
)

// Enforcement durations.
const (
	RateLimitTimeout = 60 * time.Second
	SpamTimeout      = 300 * time.Second
	ToxicTimeout     = 600 * time.Second
)

// Thresholds used by the decision table.
const (
	highConfidence = 0.9
	midConfidence  = 0.7

	spamRepeatThreshold     = 3
	criticalRepeatThreshold = 2
)

// Engine evaluates the decision table.
type Engine struct{}

// NewEngine creates a policy engine.
func NewEngine() *Engine {
	return &Engine{}
}

// Decide evaluates the decision table top-down; the first matching row wins.
//
//	Non-Toxic + filter pass                                  → allow
//	Unknown verdict                                          → log (needs_review)
//	filter rate_limited                                      → timeout 60s
//	PII with confidence ≥ 0.7                                → flag, notify
//	Spam with ≥ 3 spam violations in 24h                     → timeout 300s
//	Toxic/Harassment ≥ 0.9 with ≥ 2 critical in 30d          → ban
//	Toxic/Harassment ≥ 0.9                                   → timeout 600s, notify
//	Toxic/Harassment ≥ 0.7                                   → flag, notify
//	otherwise                                                → log
func (e *Engine) Decide(verdict *models.ModerationVerdict, filterOutcome *models.FilterOutcome, history *models.HistoryCounts) models.Action {
	toxicLike := verdict.Decision == models.VerdictToxic || verdict.Decision == models.VerdictHarassment

	switch {
	case verdict.Decision == models.VerdictNonToxic && filterOutcome.Decision == models.FilterPass:
		return models.Action{
			Kind:     models.ActionAllow,
			Severity: models.SeverityLow,
		}

	case verdict.Decision == models.VerdictUnknown:
		return models.Action{
			Kind:        models.ActionLog,
			Severity:    models.SeverityLow,
			NeedsReview: true,
			Reason:      verdict.Reasoning,
		}

	case filterOutcome.Decision == models.FilterRateLimited:
		return models.Action{
			Kind:            models.ActionTimeout,
			Severity:        models.SeverityHigh,
			Reason:          "message rate limit exceeded",
			TimeoutDuration: RateLimitTimeout,
		}

	case verdict.Decision == models.VerdictPII && verdict.Confidence >= midConfidence:
		return models.Action{
			Kind:             models.ActionFlag,
			Severity:         models.SeverityMedium,
			Reason:           reasonFor(verdict, "personal information shared"),
			NotifyModerators: true,
		}

	case verdict.Decision == models.VerdictSpam && history.Spam24h >= spamRepeatThreshold:
		return models.Action{
			Kind:            models.ActionTimeout,
			Severity:        models.SeverityHigh,
			Reason:          fmt.Sprintf("repeated spam (%d in 24h)", history.Spam24h),
			TimeoutDuration: SpamTimeout,
		}

	case toxicLike && verdict.Confidence >= highConfidence && history.Critical30d >= criticalRepeatThreshold:
		return models.Action{
			Kind:             models.ActionBan,
			Severity:         models.SeverityCritical,
			Reason:           fmt.Sprintf("repeat critical offender (%d in 30d)", history.Critical30d),
			NotifyModerators: true,
		}

	case toxicLike && verdict.Confidence >= highConfidence:
		return models.Action{
			Kind:             models.ActionTimeout,
			Severity:         models.SeverityHigh,
			Reason:           reasonFor(verdict, "toxic content"),
			NotifyModerators: true,
			TimeoutDuration:  ToxicTimeout,
		}

	case toxicLike && verdict.Confidence >= midConfidence:
		return models.Action{
			Kind:             models.ActionFlag,
			Severity:         models.SeverityMedium,
			Reason:           reasonFor(verdict, "likely toxic content"),
			NotifyModerators: true,
		}

	default:
		return models.Action{
			Kind:     models.ActionLog,
			Severity: models.SeverityLow,
			Reason:   verdict.Reasoning,
		}
	}
}

func reasonFor(verdict *models.ModerationVerdict, fallback string) string {
	if verdict.Reasoning != "" {
		return verdict.Reasoning
	}
	return fallback
}
