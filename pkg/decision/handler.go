// Package decision turns a moderation verdict into an enforced, persisted,
// published outcome.
package decision

import (
	"context"
	"log/slog"
	"time"

	"github.com/streamguard/streamguard/pkg/hub"
	"github.com/streamguard/streamguard/pkg/metrics"
	"github.com/streamguard/streamguard/pkg/models"
	"github.com/streamguard/streamguard/pkg/notify"
	"github.com/streamguard/streamguard/pkg/policy"
)

// HistoryStore is the violation persistence surface the handler needs.
type HistoryStore interface {
	Counts(ctx context.Context, userID string) (*models.HistoryCounts, error)
	Record(ctx context.Context, v models.UserViolation) (models.UserViolation, error)
}

// Publisher fans the final event out to session subscribers.
type Publisher interface {
	Publish(event *models.ProcessedEvent)
}

// Handler applies the policy engine's decision: persist the violation when
// warranted, publish the processed event, and alert moderators when asked.
type Handler struct {
	engine   *policy.Engine
	store    HistoryStore
	pub      Publisher
	notifier *notify.Service
	metrics  *metrics.Metrics
	logger   *slog.Logger
}

// NewHandler wires the decision stage. notifier may be nil (notifications
// off); metrics may be nil in tests.
func NewHandler(engine *policy.Engine, store HistoryStore, pub Publisher, notifier *notify.Service, m *metrics.Metrics) *Handler {
	return &Handler{
		engine:   engine,
		store:    store,
		pub:      pub,
		notifier: notifier,
		metrics:  m,
		logger:   slog.Default().With("component", "decision"),
	}
}

var _ Publisher = (*hub.Hub)(nil)

// History loads the policy inputs for a user. A storage failure degrades to
// empty history so a database blip cannot stall moderation; the miss is
// logged.
func (h *Handler) History(ctx context.Context, userID string) *models.HistoryCounts {
	counts, err := h.store.Counts(ctx, userID)
	if err != nil {
		h.logger.Warn("History lookup failed, using empty history",
			"user_id", userID,
			"error", err)
		return &models.HistoryCounts{BySeverity: map[models.Severity]int{}}
	}
	return counts
}

// Apply runs the decision table and carries out the outcome. The returned
// event is always published exactly once, even when persistence fails; in
// that case the action is downgraded to log and the event carries the
// persistence_failure marker.
func (h *Handler) Apply(ctx context.Context, msg models.IncomingMessage, filterOutcome models.FilterOutcome, verdict models.ModerationVerdict, history *models.HistoryCounts) *models.ProcessedEvent {
	action := h.engine.Decide(&verdict, &filterOutcome, history)

	if action.Kind == models.ActionTimeout && action.TimeoutDuration > 0 {
		expires := time.Now().UTC().Add(action.TimeoutDuration)
		action.ExpiresAt = &expires
	}

	event := &models.ProcessedEvent{
		Type:          models.EventTypeChatMessage,
		MessageID:     msg.MessageID,
		ChannelID:     msg.ChannelID,
		Message:       msg,
		FilterOutcome: filterOutcome,
		Verdict:       verdict,
		Action:        action,
	}

	if h.shouldPersist(action) {
		if err := h.persist(ctx, msg, verdict, action); err != nil {
			h.logger.Error("Violation persistence failed, downgrading action",
				"message_id", msg.MessageID,
				"user_id", msg.UserID,
				"action", action.Kind,
				"error", err)
			if h.metrics != nil {
				h.metrics.PersistenceErrors.Inc()
			}
			event.PersistenceFailure = true
			event.Action.Kind = models.ActionLog
			event.Action.TimeoutDuration = 0
			event.Action.ExpiresAt = nil
		}
	}

	if h.metrics != nil {
		h.metrics.ActionsTaken.WithLabelValues(string(event.Action.Kind)).Inc()
		h.metrics.MessagesProcessed.WithLabelValues(string(verdict.Decision)).Inc()
	}

	h.pub.Publish(event)

	if event.Action.NotifyModerators {
		h.notifier.NotifyModerators(ctx, notify.Alert{
			Action:    event.Action.Kind,
			Severity:  event.Action.Severity,
			UserID:    msg.UserID,
			ChannelID: msg.ChannelID,
			MessageID: msg.MessageID,
			Reason:    event.Action.Reason,
		})
	}

	return event
}

// shouldPersist reports whether the action warrants a durable violation
// record. Allow and plain log outcomes are not violations.
func (h *Handler) shouldPersist(action models.Action) bool {
	switch action.Kind {
	case models.ActionFlag, models.ActionEscalate, models.ActionTimeout, models.ActionBan:
		return true
	}
	return false
}

func (h *Handler) persist(ctx context.Context, msg models.IncomingMessage, verdict models.ModerationVerdict, action models.Action) error {
	_, err := h.store.Record(ctx, models.UserViolation{
		MessageID:  msg.MessageID,
		UserID:     msg.UserID,
		ChannelID:  msg.ChannelID,
		Decision:   verdict.Decision,
		Severity:   action.Severity,
		ActionKind: action.Kind,
		Reason:     action.Reason,
		ExpiresAt:  action.ExpiresAt,
	})
	if err != nil {
		return err
	}
	if h.metrics != nil {
		h.metrics.ViolationsRecorded.WithLabelValues(string(action.Severity)).Inc()
	}
	return nil
}
