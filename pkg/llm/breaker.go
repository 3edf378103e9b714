package llm

import (
	"log/slog"
	"sync"
	"time"

	"github.com/sony/gobreaker"
)

// BreakerConfig holds circuit-breaker tuning.
type BreakerConfig struct {
	FailureRatio        float64       // trip when ratio > this with MinSamples (default 0.5)
	MinSamples          uint32        // minimum rolling-window samples for the ratio trip (default 20)
	ConsecutiveFailures uint32        // trip on this many consecutive failures (default 5)
	Window              time.Duration // rolling count window (default 30s)
	Cooldown            time.Duration // initial open duration (default 15s)
	MaxCooldown         time.Duration // ceiling for cooldown doubling (default 4m)
	ProbeMax            uint32        // concurrent half-open probes (default 3)
}

// DefaultBreakerConfig returns the standard breaker parameters.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		FailureRatio:        0.5,
		MinSamples:          20,
		ConsecutiveFailures: 5,
		Window:              30 * time.Second,
		Cooldown:            15 * time.Second,
		MaxCooldown:         4 * time.Minute,
		ProbeMax:            3,
	}
}

// Breaker wraps gobreaker with cooldown doubling: every HalfOpen→Open
// transition doubles the open duration up to MaxCooldown, and a successful
// close resets it. The extra gate (notBefore) rejects calls locally during
// the extended cooldown so no HTTP traffic is generated while open.
type Breaker struct {
	cfg BreakerConfig
	cb  *gobreaker.CircuitBreaker

	mu        sync.Mutex
	cooldown  time.Duration
	notBefore time.Time
}

// NewBreaker creates a breaker with the given configuration.
func NewBreaker(cfg BreakerConfig) *Breaker {
	b := &Breaker{cfg: cfg, cooldown: cfg.Cooldown}

	b.cb = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "llm",
		MaxRequests: cfg.ProbeMax,
		Interval:    cfg.Window,
		Timeout:     cfg.Cooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.ConsecutiveFailures >= cfg.ConsecutiveFailures {
				return true
			}
			if counts.Requests < cfg.MinSamples {
				return false
			}
			ratio := float64(counts.TotalFailures) / float64(counts.Requests)
			return ratio > cfg.FailureRatio
		},
		OnStateChange: b.onStateChange,
	})

	return b
}

func (b *Breaker) onStateChange(_ string, from, to gobreaker.State) {
	b.mu.Lock()
	switch to {
	case gobreaker.StateOpen:
		if from == gobreaker.StateHalfOpen {
			b.cooldown = min(b.cooldown*2, b.cfg.MaxCooldown)
		}
		b.notBefore = time.Now().Add(b.cooldown)
	case gobreaker.StateClosed:
		b.cooldown = b.cfg.Cooldown
		b.notBefore = time.Time{}
	}
	cooldown := b.cooldown
	b.mu.Unlock()

	slog.Info("LLM circuit state changed",
		"from", from.String(), "to", to.String(), "cooldown", cooldown)
}

// Execute runs fn through the breaker. Returns ErrCircuitOpen without
// invoking fn while the breaker is open or the extended cooldown has not
// elapsed, and when half-open probe capacity is exhausted.
func (b *Breaker) Execute(fn func() (any, error)) (any, error) {
	b.mu.Lock()
	blocked := time.Now().Before(b.notBefore)
	b.mu.Unlock()
	if blocked {
		return nil, ErrCircuitOpen
	}

	res, err := b.cb.Execute(fn)
	if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
		return nil, ErrCircuitOpen
	}
	return res, err
}

// State returns the current breaker state name for health and metrics.
func (b *Breaker) State() string {
	b.mu.Lock()
	blocked := time.Now().Before(b.notBefore)
	b.mu.Unlock()
	if blocked {
		return gobreaker.StateOpen.String()
	}
	return b.cb.State().String()
}
