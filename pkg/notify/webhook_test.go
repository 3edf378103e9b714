package notify

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/streamguard/streamguard/pkg/models"
)

func TestNewService_DisabledReturnsNil(t *testing.T) {
	assert.Nil(t, NewService(Config{Enabled: false, WebhookURL: "http://example.com"}))
	assert.Nil(t, NewService(Config{Enabled: true, WebhookURL: ""}))
}

func TestService_NilIsSafe(t *testing.T) {
	var s *Service
	s.NotifyModerators(context.Background(), Alert{MessageID: "msg-1"})
}

func TestService_NotifyModerators(t *testing.T) {
	var got atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		var alert Alert
		require.NoError(t, json.NewDecoder(r.Body).Decode(&alert))
		got.Store(alert)
	}))
	defer srv.Close()

	s := NewService(Config{Enabled: true, WebhookURL: srv.URL, Timeout: time.Second})
	require.NotNil(t, s)

	s.NotifyModerators(context.Background(), Alert{
		Action:    models.ActionTimeout,
		Severity:  models.SeverityHigh,
		UserID:    "user-1",
		ChannelID: "chan-1",
		MessageID: "msg-1",
		Reason:    "toxic content",
	})

	alert, ok := got.Load().(Alert)
	require.True(t, ok, "webhook not called")
	assert.Equal(t, models.ActionTimeout, alert.Action)
	assert.Equal(t, "user-1", alert.UserID)
	assert.False(t, alert.Timestamp.IsZero())
}

func TestService_FailureIsSwallowed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	s := NewService(Config{Enabled: true, WebhookURL: srv.URL, Timeout: time.Second})
	require.NotNil(t, s)

	// Must not panic or propagate the error.
	s.NotifyModerators(context.Background(), Alert{MessageID: "msg-1"})
}
