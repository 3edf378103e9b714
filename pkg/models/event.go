package models

import "time"

// EventTypeChatMessage is the outbound session-channel event type for
// processed chat messages.
const EventTypeChatMessage = "chat_message"

// ProcessedEvent is the pipeline's final per-message record, published once
// per message to session subscribers. Ordering is preserved per channel.
type ProcessedEvent struct {
	Type          string            `json:"type"`
	MessageID     string            `json:"message_id"`
	ChannelID     string            `json:"channel_id"`
	Message       IncomingMessage   `json:"message"`
	FilterOutcome FilterOutcome     `json:"filter_outcome"`
	Verdict       ModerationVerdict `json:"verdict"`
	Action        Action            `json:"action"`
	TotalLatency  time.Duration     `json:"total_latency_ns"`

	// PersistenceFailure marks events whose violation write failed; the
	// action has been downgraded to log and the event still published.
	PersistenceFailure bool `json:"persistence_failure,omitempty"`
}
