package models

import "time"

// UserViolation is a persisted record of a non-benign moderation outcome.
// Indexed by (user_id, created_at desc) in storage.
type UserViolation struct {
	ViolationID string          `json:"violation_id"`
	MessageID   string          `json:"message_id"`
	UserID      string          `json:"user_id"`
	ChannelID   string          `json:"channel_id"`
	Decision    VerdictDecision `json:"decision"`
	Severity    Severity        `json:"severity"`
	ActionKind  ActionKind      `json:"action_kind"`
	Reason      string          `json:"reason,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
	ExpiresAt   *time.Time      `json:"expires_at,omitempty"`
}

// HistoryCounts summarizes a user's recent violation history for the policy
// engine.
type HistoryCounts struct {
	Total      int              `json:"total"`
	BySeverity map[Severity]int `json:"by_severity"`

	// Spam24h is the count of Spam violations in the last 24 hours.
	Spam24h int `json:"spam_24h"`

	// Critical30d is the count of critical-severity violations in the last
	// 30 days.
	Critical30d int `json:"critical_30d"`
}
