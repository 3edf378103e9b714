package models

import "time"

// FilterDecision is the outcome category of the lightweight filter.
type FilterDecision string

const (
	FilterPass        FilterDecision = "pass"
	FilterFlagged     FilterDecision = "flagged"
	FilterRateLimited FilterDecision = "rate_limited"
	FilterBlocked     FilterDecision = "blocked"
)

// PatternType identifies which rule set produced a match.
type PatternType string

const (
	PatternBannedWord PatternType = "banned_word"
	PatternToxic      PatternType = "toxic"
	PatternSpam       PatternType = "spam"
	PatternPII        PatternType = "pii"
)

// FilterOutcome is the result of the deterministic pre-LLM check.
//
// Invariant: ShouldProcess is true iff Decision is FilterPass, with one
// exception: PII-only and spam-only matches keep ShouldProcess true so the
// LLM still adjudicates severity.
type FilterOutcome struct {
	ShouldProcess   bool           `json:"should_process"`
	Decision        FilterDecision `json:"decision"`
	Confidence      float64        `json:"confidence"`
	MatchedPatterns []string       `json:"matched_patterns,omitempty"`
	PatternType     PatternType    `json:"pattern_type,omitempty"`
	RetryAfter      time.Duration  `json:"retry_after,omitempty"`
	Latency         time.Duration  `json:"latency_ns"`
}
