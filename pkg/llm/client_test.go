package llm

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
)

func verdictResponse(t *testing.T, content string) string {
	t.Helper()
	body, err := json.Marshal(map[string]any{
		"choices": []map[string]any{
			{"message": map[string]string{"content": content}},
		},
	})
	require.NoError(t, err)
	return string(body)
}

func testConfig(endpoint string) Config {
	cfg := DefaultConfig(endpoint, "test-model")
	cfg.RetryBase = time.Millisecond
	cfg.Breaker.Cooldown = 50 * time.Millisecond
	cfg.Breaker.MaxCooldown = 500 * time.Millisecond
	return cfg
}

func TestClient_Complete(t *testing.T) {
	t.Run("success returns content and duration", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, http.MethodPost, r.Method)
			_, _ = w.Write([]byte(verdictResponse(t, `{"decision":"Non-Toxic","confidence":0.98}`)))
		}))
		defer srv.Close()

		client := NewClient(testConfig(srv.URL), nil)
		completion, err := client.Complete(context.Background(), "classify this", CompleteOptions{})
		require.NoError(t, err)
		assert.Contains(t, completion.Text, "Non-Toxic")
		assert.Greater(t, completion.Duration, time.Duration(0))
	})

	t.Run("bearer token sent when configured", func(t *testing.T) {
		var gotAuth atomic.Value
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			gotAuth.Store(r.Header.Get("Authorization"))
			_, _ = w.Write([]byte(verdictResponse(t, "ok")))
		}))
		defer srv.Close()

		cfg := testConfig(srv.URL)
		cfg.APIKey = "sk-test"
		client := NewClient(cfg, nil)
		_, err := client.Complete(context.Background(), "x", CompleteOptions{})
		require.NoError(t, err)
		assert.Equal(t, "Bearer sk-test", gotAuth.Load())
	})

	t.Run("transient 503 retried until success", func(t *testing.T) {
		var calls atomic.Int32
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if calls.Add(1) <= 2 {
				w.WriteHeader(http.StatusServiceUnavailable)
				return
			}
			_, _ = w.Write([]byte(verdictResponse(t, "ok")))
		}))
		defer srv.Close()

		client := NewClient(testConfig(srv.URL), nil)
		_, err := client.Complete(context.Background(), "x", CompleteOptions{})
		require.NoError(t, err)
		assert.Equal(t, int32(3), calls.Load())
	})

	t.Run("retries exhausted surfaces transient error", func(t *testing.T) {
		var calls atomic.Int32
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			calls.Add(1)
			w.WriteHeader(http.StatusBadGateway)
		}))
		defer srv.Close()

		cfg := testConfig(srv.URL)
		cfg.MaxRetries = 2
		client := NewClient(cfg, nil)
		_, err := client.Complete(context.Background(), "x", CompleteOptions{})
		assert.ErrorIs(t, err, ErrTransient)
		assert.Equal(t, int32(3), calls.Load(), "initial attempt plus two retries")
	})

	t.Run("400 is not retried", func(t *testing.T) {
		var calls atomic.Int32
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			calls.Add(1)
			w.WriteHeader(http.StatusBadRequest)
		}))
		defer srv.Close()

		client := NewClient(testConfig(srv.URL), nil)
		_, err := client.Complete(context.Background(), "x", CompleteOptions{})
		assert.ErrorIs(t, err, ErrBadRequest)
		assert.Equal(t, int32(1), calls.Load())
	})

	t.Run("stalled upstream hits deadline", func(t *testing.T) {
		release := make(chan struct{})
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			<-release
		}))
		defer srv.Close()
		defer close(release)

		client := NewClient(testConfig(srv.URL), nil)
		ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
		defer cancel()

		start := time.Now()
		_, err := client.Complete(ctx, "x", CompleteOptions{})
		assert.ErrorIs(t, err, ErrDeadlineExceeded)
		assert.Less(t, time.Since(start), 500*time.Millisecond)
	})

	t.Run("slow first attempt retried within overall budget", func(t *testing.T) {
		var calls atomic.Int32
		release := make(chan struct{})
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if calls.Add(1) == 1 {
				<-release
				return
			}
			_, _ = w.Write([]byte(verdictResponse(t, "ok")))
		}))
		defer srv.Close()
		defer close(release)

		cfg := testConfig(srv.URL)
		cfg.Timeout = 50 * time.Millisecond
		client := NewClient(cfg, nil)

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		// The per-attempt cap aborts the stalled first call; the outer
		// deadline still has budget, so the second attempt runs and succeeds.
		completion, err := client.Complete(ctx, "x", CompleteOptions{})
		require.NoError(t, err)
		assert.Contains(t, completion.Text, "ok")
		assert.Equal(t, int32(2), calls.Load())
	})

	t.Run("invalid envelope is an upstream error", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`{}`))
		}))
		defer srv.Close()

		client := NewClient(testConfig(srv.URL), nil)
		_, err := client.Complete(context.Background(), "x", CompleteOptions{})
		assert.ErrorIs(t, err, ErrUpstream)
	})
}

func TestClient_CircuitBreaker(t *testing.T) {
	t.Run("trips after consecutive failures and blocks traffic", func(t *testing.T) {
		var calls atomic.Int32
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			calls.Add(1)
			w.WriteHeader(http.StatusServiceUnavailable)
		}))
		defer srv.Close()

		cfg := testConfig(srv.URL)
		cfg.MaxRetries = 0
		client := NewClient(cfg, nil)

		// Five consecutive failures trip the breaker.
		for i := 0; i < 5; i++ {
			_, err := client.Complete(context.Background(), "x", CompleteOptions{})
			require.ErrorIs(t, err, ErrTransient)
		}
		assert.Equal(t, "open", client.BreakerState())

		// Open circuit rejects without HTTP traffic.
		before := calls.Load()
		for i := 0; i < 10; i++ {
			_, err := client.Complete(context.Background(), "x", CompleteOptions{})
			assert.ErrorIs(t, err, ErrCircuitOpen)
		}
		assert.Equal(t, before, calls.Load(), "no HTTP calls while open")
	})

	t.Run("half-open probes close the circuit on success", func(t *testing.T) {
		var failing atomic.Bool
		failing.Store(true)
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if failing.Load() {
				w.WriteHeader(http.StatusServiceUnavailable)
				return
			}
			_, _ = w.Write([]byte(verdictResponse(t, "ok")))
		}))
		defer srv.Close()

		cfg := testConfig(srv.URL)
		cfg.MaxRetries = 0
		client := NewClient(cfg, nil)

		for i := 0; i < 5; i++ {
			_, _ = client.Complete(context.Background(), "x", CompleteOptions{})
		}
		require.Equal(t, "open", client.BreakerState())

		failing.Store(false)
		time.Sleep(cfg.Breaker.Cooldown + 20*time.Millisecond)

		// All probes succeed; circuit closes.
		for i := 0; i < int(cfg.Breaker.ProbeMax); i++ {
			_, err := client.Complete(context.Background(), "x", CompleteOptions{})
			require.NoError(t, err, "probe %d", i+1)
		}
		assert.Equal(t, "closed", client.BreakerState())
	})
}

func TestClient_BuildRequestBody(t *testing.T) {
	t.Run("standard style keeps system role", func(t *testing.T) {
		cfg := DefaultConfig("http://x", "m")
		client := NewClient(cfg, nil)
		body, err := client.buildRequestBody("classify", CompleteOptions{SystemHint: "be strict"})
		require.NoError(t, err)

		var req struct {
			Messages []chatMessage `json:"messages"`
		}
		require.NoError(t, json.Unmarshal(body, &req))
		require.Len(t, req.Messages, 2)
		assert.Equal(t, "system", req.Messages[0].Role)
		assert.Equal(t, "user", req.Messages[1].Role)
	})

	t.Run("mistral style collapses system into user turn", func(t *testing.T) {
		cfg := DefaultConfig("http://x", "m")
		cfg.ModelStyle = "mistral"
		client := NewClient(cfg, nil)
		body, err := client.buildRequestBody("classify", CompleteOptions{SystemHint: "be strict"})
		require.NoError(t, err)

		var req struct {
			Messages []chatMessage `json:"messages"`
		}
		require.NoError(t, json.Unmarshal(body, &req))
		require.Len(t, req.Messages, 1)
		assert.Equal(t, "user", req.Messages[0].Role)
		assert.Contains(t, req.Messages[0].Content, "be strict")
		assert.Contains(t, req.Messages[0].Content, "classify")
	})
}
