// Package models defines the shared domain types flowing through the
// moderation pipeline.
package models

import "time"

const (
	// MaxBodyBytes is the maximum accepted message body size. Longer bodies
	// are truncated by the orchestrator with TruncationMarker appended.
	MaxBodyBytes = 4 * 1024

	// MaxMetadataEntries bounds the metadata map on an incoming message.
	MaxMetadataEntries = 32

	// TruncationMarker is appended to bodies cut at MaxBodyBytes.
	TruncationMarker = "…[truncated]"
)

// IncomingMessage is a single chat message entering the pipeline.
// Immutable once created; downstream records reference it by MessageID.
type IncomingMessage struct {
	MessageID string            `json:"message_id"` // ULID
	UserID    string            `json:"user_id"`
	Username  string            `json:"username,omitempty"`
	ChannelID string            `json:"channel_id"`
	Body      string            `json:"body"`
	Timestamp time.Time         `json:"timestamp"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}
