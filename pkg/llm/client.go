// Package llm provides the bounded HTTP client for the upstream moderation
// oracle: per-request deadlines, jittered retries, a circuit breaker with
// cooldown doubling, overload-aware backoff, and a tolerant response parser.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"net/http"
	"strings"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/streamguard/streamguard/pkg/version"
)

// Config holds LLM client configuration.
type Config struct {
	Endpoint    string        // chat-completions URL
	Model       string        // model name sent upstream
	APIKey      string        // bearer token; empty disables auth
	ModelStyle  string        // "standard" or "mistral" message shaping
	Timeout     time.Duration // hard cap per HTTP attempt (default 30s)
	MaxRetries  int           // retries for transient errors (default 3)
	RetryBase   time.Duration // backoff base (default 1s)
	Concurrency int64         // semaphore permits (default 8)

	// SlowThreshold feeds the overload tracker's p95 signal (default 10s).
	SlowThreshold time.Duration

	Temperature float64
	MaxTokens   int

	Breaker BreakerConfig
}

// DefaultConfig returns the standard client parameters for an endpoint.
func DefaultConfig(endpoint, model string) Config {
	return Config{
		Endpoint:      endpoint,
		Model:         model,
		ModelStyle:    "standard",
		Timeout:       30 * time.Second,
		MaxRetries:    3,
		RetryBase:     time.Second,
		Concurrency:   8,
		SlowThreshold: 10 * time.Second,
		Temperature:   0.1,
		MaxTokens:     512,
		Breaker:       DefaultBreakerConfig(),
	}
}

// Completion is a successful upstream response.
type Completion struct {
	Text     string
	Duration time.Duration
}

// CompleteOptions overrides per-call generation parameters.
type CompleteOptions struct {
	Temperature *float64
	MaxTokens   int
	SystemHint  string // optional system prompt prepended to the request
}

// Client is the upstream LLM client. Safe for concurrent use.
type Client struct {
	cfg      Config
	http     *http.Client
	sem      *semaphore.Weighted
	breaker  *Breaker
	pressure *pressureTracker
	logger   *slog.Logger
}

// NewClient creates a client. A nil httpClient uses a default with no
// client-level timeout; per-attempt timeouts come from the request context.
func NewClient(cfg Config, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return &Client{
		cfg:      cfg,
		http:     httpClient,
		sem:      semaphore.NewWeighted(cfg.Concurrency),
		breaker:  NewBreaker(cfg.Breaker),
		pressure: newPressureTracker(cfg.SlowThreshold),
		logger:   slog.Default().With("component", "llm-client"),
	}
}

// BreakerState exposes the circuit state for health and metrics.
func (c *Client) BreakerState() string {
	return c.breaker.State()
}

// Complete sends the prompt upstream and returns the response text.
//
// The call respects the deadline on ctx: the per-attempt HTTP timeout is
// min(deadline remaining, Config.Timeout), retries consume the same overall
// deadline, and cancellation aborts the in-flight request without leaking
// permits.
func (c *Client) Complete(ctx context.Context, prompt string, opts CompleteOptions) (*Completion, error) {
	// While pressured, each call weighs double, halving effective concurrency.
	weight := int64(1)
	if c.pressure.pressured() {
		weight = 2
		if weight > c.cfg.Concurrency {
			weight = c.cfg.Concurrency
		}
	}
	if err := c.sem.Acquire(ctx, weight); err != nil {
		return nil, fmt.Errorf("%w: waiting for permit: %v", ErrDeadlineExceeded, err)
	}
	defer c.sem.Release(weight)

	if delay := c.pressure.delay(); delay > 0 {
		c.logger.Debug("Injecting overload delay", "delay", delay)
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: %v", ErrDeadlineExceeded, ctx.Err())
		}
	}

	body, err := c.buildRequestBody(prompt, opts)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadRequest, err)
	}

	var lastErr error
	for attempt := 0; attempt <= c.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			if err := c.sleepBackoff(ctx, attempt-1); err != nil {
				return nil, err
			}
		}

		completion, err := c.attemptThroughBreaker(ctx, body)
		if err == nil {
			return completion, nil
		}
		lastErr = err

		// Only transient failures are retried; deadline, breaker, and
		// bad-request errors end the loop immediately.
		if !errors.Is(err, ErrTransient) {
			return nil, err
		}
		if ctx.Err() != nil {
			return nil, fmt.Errorf("%w: %v", ErrDeadlineExceeded, ctx.Err())
		}
	}
	return nil, lastErr
}

// attemptThroughBreaker runs one HTTP attempt inside the circuit breaker.
// Bad-request errors bypass the breaker's failure accounting: they indicate
// a caller bug, not upstream health.
func (c *Client) attemptThroughBreaker(ctx context.Context, body []byte) (*Completion, error) {
	var badRequestErr error
	res, err := c.breaker.Execute(func() (any, error) {
		completion, attemptErr := c.attempt(ctx, body)
		if attemptErr != nil && errors.Is(attemptErr, ErrBadRequest) {
			badRequestErr = attemptErr
			return nil, nil
		}
		return completion, attemptErr
	})
	if badRequestErr != nil {
		return nil, badRequestErr
	}
	if err != nil {
		return nil, err
	}
	return res.(*Completion), nil
}

// attempt performs a single HTTP round trip with the per-attempt timeout.
func (c *Client) attempt(ctx context.Context, body []byte) (*Completion, error) {
	timeout := c.cfg.Timeout
	if deadline, ok := ctx.Deadline(); ok {
		if remaining := time.Until(deadline); remaining < timeout {
			timeout = remaining
		}
	}
	if timeout <= 0 {
		return nil, fmt.Errorf("%w: no time remaining", ErrDeadlineExceeded)
	}
	attemptCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(attemptCtx, http.MethodPost, c.cfg.Endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadRequest, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", version.Full())
	if c.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	latency := time.Since(start)
	if err != nil {
		c.pressure.observe(latency, false)
		if ctx.Err() != nil {
			return nil, fmt.Errorf("%w: %v", ErrDeadlineExceeded, err)
		}
		if attemptCtx.Err() != nil {
			// The per-attempt cap fired with overall budget left; a stalled
			// attempt is retryable like any other transient failure.
			return nil, fmt.Errorf("%w: attempt timed out: %v", ErrTransient, err)
		}
		return nil, fmt.Errorf("%w: %v", ErrTransient, err)
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		c.pressure.observe(latency, false)
		return nil, fmt.Errorf("%w: reading response: %v", ErrTransient, err)
	}

	overloaded := resp.StatusCode == http.StatusTooManyRequests ||
		resp.StatusCode == http.StatusServiceUnavailable ||
		strings.Contains(string(respBody), pendingQueueMarker)
	c.pressure.observe(latency, overloaded)

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode >= 500,
		resp.StatusCode == http.StatusTooManyRequests,
		resp.StatusCode == http.StatusRequestTimeout,
		resp.StatusCode == http.StatusTooEarly:
		return nil, fmt.Errorf("%w: upstream status %d", ErrTransient, resp.StatusCode)
	case resp.StatusCode >= 400:
		return nil, fmt.Errorf("%w: upstream status %d", ErrBadRequest, resp.StatusCode)
	default:
		return nil, fmt.Errorf("%w: unexpected status %d", ErrUpstream, resp.StatusCode)
	}

	text, err := extractContent(respBody)
	if err != nil {
		return nil, err
	}
	return &Completion{Text: text, Duration: latency}, nil
}

func (c *Client) sleepBackoff(ctx context.Context, retry int) error {
	// base × 2^k, jittered ±25%.
	d := c.cfg.RetryBase << uint(retry)
	jitter := time.Duration(rand.Int63n(int64(d)/2+1)) - d/4
	d += jitter

	select {
	case <-time.After(d):
		return nil
	case <-ctx.Done():
		return fmt.Errorf("%w: %v", ErrDeadlineExceeded, ctx.Err())
	}
}

// chatMessage is one entry in the upstream messages array.
type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// buildRequestBody shapes the request per the configured model style.
// Mistral-style models perform better with the system prompt collapsed into
// the user turn.
func (c *Client) buildRequestBody(prompt string, opts CompleteOptions) ([]byte, error) {
	temperature := c.cfg.Temperature
	if opts.Temperature != nil {
		temperature = *opts.Temperature
	}
	maxTokens := c.cfg.MaxTokens
	if opts.MaxTokens > 0 {
		maxTokens = opts.MaxTokens
	}

	var messages []chatMessage
	switch {
	case opts.SystemHint == "":
		messages = []chatMessage{{Role: "user", Content: prompt}}
	case c.cfg.ModelStyle == "mistral":
		messages = []chatMessage{{Role: "user", Content: opts.SystemHint + "\n\n" + prompt}}
	default:
		messages = []chatMessage{
			{Role: "system", Content: opts.SystemHint},
			{Role: "user", Content: prompt},
		}
	}

	return json.Marshal(map[string]any{
		"model":       c.cfg.Model,
		"messages":    messages,
		"temperature": temperature,
		"max_tokens":  maxTokens,
	})
}

// extractContent pulls the response text from the upstream envelope.
// Canonical path is choices[0].message.content; alternative paths are
// accepted because backends differ.
func extractContent(body []byte) (string, error) {
	var envelope struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
			Text string `json:"text"`
		} `json:"choices"`
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
		Response string `json:"response"`
		Content  string `json:"content"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return "", fmt.Errorf("%w: invalid response envelope: %v", ErrUpstream, err)
	}

	if len(envelope.Choices) > 0 {
		if envelope.Choices[0].Message.Content != "" {
			return envelope.Choices[0].Message.Content, nil
		}
		if envelope.Choices[0].Text != "" {
			return envelope.Choices[0].Text, nil
		}
	}
	if envelope.Message.Content != "" {
		return envelope.Message.Content, nil
	}
	if envelope.Response != "" {
		return envelope.Response, nil
	}
	if envelope.Content != "" {
		return envelope.Content, nil
	}
	return "", fmt.Errorf("%w: no content in response envelope", ErrUpstream)
}
