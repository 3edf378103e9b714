package models

import "time"

// VerdictDecision is the moderation label produced by the LLM (or synthesized
// from the filter outcome when the LLM is skipped).
type VerdictDecision string

const (
	VerdictToxic       VerdictDecision = "Toxic"
	VerdictNonToxic    VerdictDecision = "Non-Toxic"
	VerdictSpam        VerdictDecision = "Spam"
	VerdictPII         VerdictDecision = "PII"
	VerdictHarassment  VerdictDecision = "Harassment"
	VerdictRateLimited VerdictDecision = "RateLimited"
	VerdictUnknown     VerdictDecision = "Unknown"
)

// FilterTemplateVersion marks verdicts synthesized from the filter without an
// LLM call.
const FilterTemplateVersion = "filter"

// ModerationVerdict is the structured moderation result for one message.
//
// Invariant: Confidence == 0 and Decision == VerdictUnknown when the upstream
// LLM failed and the fallback path was taken; Reasoning then carries the
// failure kind.
type ModerationVerdict struct {
	Decision        VerdictDecision `json:"decision"`
	Confidence      float64         `json:"confidence"`
	Reasoning       string          `json:"reasoning,omitempty"` // ≤ 1 KiB
	TemplateVersion string          `json:"template_version,omitempty"`
	Processing      time.Duration   `json:"processing_ns"`
	Categories      []string        `json:"categories,omitempty"`
}

// ParseVerdictDecision maps a free-form upstream label to a VerdictDecision.
// Unrecognized labels map to VerdictUnknown.
func ParseVerdictDecision(s string) VerdictDecision {
	switch VerdictDecision(s) {
	case VerdictToxic, VerdictNonToxic, VerdictSpam, VerdictPII,
		VerdictHarassment, VerdictRateLimited, VerdictUnknown:
		return VerdictDecision(s)
	}
	return VerdictUnknown
}
