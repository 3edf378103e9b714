package api

import "github.com/streamguard/streamguard/pkg/models"

// ModerateRequest is the body of POST /api/v1/moderate and /api/v1/filter.
type ModerateRequest struct {
	MessageID string            `json:"message_id,omitempty"`
	UserID    string            `json:"user_id"`
	Username  string            `json:"username,omitempty"`
	ChannelID string            `json:"channel_id"`
	Body      string            `json:"body"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

func (r *ModerateRequest) toMessage() models.IncomingMessage {
	return models.IncomingMessage{
		MessageID: r.MessageID,
		UserID:    r.UserID,
		Username:  r.Username,
		ChannelID: r.ChannelID,
		Body:      r.Body,
		Metadata:  r.Metadata,
	}
}

// DecideRequest is the body of POST /api/v1/decide: a dry run of the policy
// engine against caller-supplied inputs. Nothing is persisted or published.
type DecideRequest struct {
	Verdict models.ModerationVerdict `json:"verdict"`
	Filter  models.FilterOutcome     `json:"filter_outcome"`
	History models.HistoryCounts     `json:"history"`
}

// SimulateRequest is the body of POST /api/v1/simulate/start and /stop.
type SimulateRequest struct {
	ChannelID string `json:"channel_id"`
}
