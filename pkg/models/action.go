package models

import "time"

// ActionKind is the enforcement outcome applied to a message/user.
type ActionKind string

const (
	ActionAllow    ActionKind = "allow"
	ActionLog      ActionKind = "log"
	ActionFlag     ActionKind = "flag"
	ActionEscalate ActionKind = "escalate"
	ActionTimeout  ActionKind = "timeout"
	ActionBan      ActionKind = "ban"
)

// Severity is the enforcement intensity derived from the action kind.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// severityRank orders severities for comparisons.
var severityRank = map[Severity]int{
	SeverityLow:      0,
	SeverityMedium:   1,
	SeverityHigh:     2,
	SeverityCritical: 3,
}

// AtLeast reports whether s is at least as severe as other.
func (s Severity) AtLeast(other Severity) bool {
	return severityRank[s] >= severityRank[other]
}

// Action is the policy engine's output for one verdict.
//
// Invariant: Kind == ActionTimeout implies TimeoutDuration > 0.
type Action struct {
	Kind             ActionKind    `json:"kind"`
	Severity         Severity      `json:"severity"`
	Reason           string        `json:"reason,omitempty"`
	NotifyModerators bool          `json:"notify_moderators"`
	NeedsReview      bool          `json:"needs_review,omitempty"`
	TimeoutDuration  time.Duration `json:"timeout_duration,omitempty"`
	ExpiresAt        *time.Time    `json:"expires_at,omitempty"`
}
