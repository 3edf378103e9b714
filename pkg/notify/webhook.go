// Package notify posts moderator alerts to a configured webhook. The service
// is fail-open: a nil service or delivery failure never blocks the pipeline.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/streamguard/streamguard/pkg/models"
)

// Config holds webhook notification settings.
type Config struct {
	Enabled    bool          `yaml:"enabled"`
	WebhookURL string        `yaml:"webhook_url"`
	Timeout    time.Duration `yaml:"timeout"`
}

// Alert is the payload posted to the moderator webhook.
type Alert struct {
	Action    models.ActionKind `json:"action"`
	Severity  models.Severity   `json:"severity"`
	UserID    string            `json:"user_id"`
	ChannelID string            `json:"channel_id"`
	MessageID string            `json:"message_id"`
	Reason    string            `json:"reason,omitempty"`
	Timestamp time.Time         `json:"timestamp"`
}

// Service delivers moderator alerts. All methods are nil-safe.
type Service struct {
	cfg    Config
	http   *http.Client
	logger *slog.Logger
}

// NewService creates a notification service, or nil when disabled or not
// configured. Callers keep the nil and call through it; every method treats
// nil as "notifications off".
func NewService(cfg Config) *Service {
	logger := slog.Default().With("component", "notify")
	if !cfg.Enabled || cfg.WebhookURL == "" {
		logger.Info("Moderator notifications disabled")
		return nil
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	return &Service{
		cfg:    cfg,
		http:   &http.Client{Timeout: cfg.Timeout},
		logger: logger,
	}
}

// NotifyModerators posts the alert to the webhook. Failures are logged and
// swallowed so enforcement is never blocked on notification delivery.
func (s *Service) NotifyModerators(ctx context.Context, alert Alert) {
	if s == nil {
		return
	}
	if alert.Timestamp.IsZero() {
		alert.Timestamp = time.Now().UTC()
	}

	if err := s.post(ctx, alert); err != nil {
		s.logger.Warn("Moderator notification failed",
			"error", err,
			"message_id", alert.MessageID,
			"action", alert.Action)
		return
	}
	s.logger.Debug("Moderator notification sent",
		"message_id", alert.MessageID,
		"action", alert.Action,
		"severity", alert.Severity)
}

func (s *Service) post(ctx context.Context, alert Alert) error {
	body, err := json.Marshal(alert)
	if err != nil {
		return fmt.Errorf("failed to marshal alert: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.cfg.WebhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.http.Do(req)
	if err != nil {
		return fmt.Errorf("failed to post alert: %w", err)
	}
	defer func() {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		_ = resp.Body.Close()
	}()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return nil
}
