package violation

import (
	"context"
	"log/slog"
	"time"
)

// RetentionConfig controls the periodic purge of aged violation records.
type RetentionConfig struct {
	Enabled  bool
	Interval time.Duration
	MaxAge   time.Duration
}

// DefaultRetentionConfig keeps 90 days of history and purges hourly.
func DefaultRetentionConfig() RetentionConfig {
	return RetentionConfig{
		Enabled:  true,
		Interval: time.Hour,
		MaxAge:   90 * 24 * time.Hour,
	}
}

// Retention periodically deletes violation records older than MaxAge.
type Retention struct {
	store  *Store
	cfg    RetentionConfig
	logger *slog.Logger

	cancel context.CancelFunc
	done   chan struct{}
}

// NewRetention creates a retention service around the store.
func NewRetention(store *Store, cfg RetentionConfig) *Retention {
	return &Retention{
		store:  store,
		cfg:    cfg,
		logger: slog.Default().With("component", "violation.retention"),
	}
}

// Start launches the background purge loop. No-op when disabled.
func (r *Retention) Start(ctx context.Context) {
	if !r.cfg.Enabled {
		r.logger.Info("Violation retention disabled")
		return
	}

	ctx, r.cancel = context.WithCancel(ctx)
	r.done = make(chan struct{})

	go r.run(ctx)
	r.logger.Info("Violation retention started",
		"interval", r.cfg.Interval,
		"max_age", r.cfg.MaxAge)
}

// Stop cancels the loop and waits for the in-flight purge to finish.
func (r *Retention) Stop() {
	if r.cancel == nil {
		return
	}
	r.cancel()
	<-r.done
	r.logger.Info("Violation retention stopped")
}

func (r *Retention) run(ctx context.Context) {
	defer close(r.done)

	ticker := time.NewTicker(r.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.purgeOnce(ctx)
		}
	}
}

func (r *Retention) purgeOnce(ctx context.Context) {
	purgeCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	n, err := r.store.PurgeAged(purgeCtx, r.cfg.MaxAge)
	if err != nil {
		r.logger.Error("Violation purge failed", "error", err)
		return
	}
	if n > 0 {
		r.logger.Info("Purged violations", "count", n)
	}
}
