package llm

import (
	"sort"
	"sync"
	"time"
)

// Overload-pressure defaults. The tracker watches three upstream signals:
// sustained p95 latency, 429/503 frequency, and a pending-queue marker in
// response bodies. While pressured, the client injects a bounded per-request
// delay and doubles the semaphore weight of each call, halving effective
// concurrency.
const (
	pressureSamples      = 64
	pressureWindow       = 30 * time.Second
	pressureOverloadHits = 5
	maxPressureDelay     = 2 * time.Second
	delayPerHit          = 250 * time.Millisecond
)

// pendingQueueMarker is the substring upstream includes in responses while
// its request queue is saturated.
const pendingQueueMarker = "pending_queue"

type pressureTracker struct {
	mu            sync.Mutex
	slowThreshold time.Duration
	latencies     []time.Duration // ring buffer
	next          int
	overloadAt    []time.Time // 429/503/queue-marker observations
}

func newPressureTracker(slowThreshold time.Duration) *pressureTracker {
	return &pressureTracker{slowThreshold: slowThreshold}
}

// observe records the outcome of one upstream attempt.
func (p *pressureTracker) observe(latency time.Duration, overloaded bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(p.latencies) < pressureSamples {
		p.latencies = append(p.latencies, latency)
	} else {
		p.latencies[p.next] = latency
		p.next = (p.next + 1) % pressureSamples
	}

	now := time.Now()
	if overloaded {
		p.overloadAt = append(p.overloadAt, now)
	}
	cutoff := now.Add(-pressureWindow)
	valid := 0
	for _, t := range p.overloadAt {
		if t.After(cutoff) {
			p.overloadAt[valid] = t
			valid++
		}
	}
	p.overloadAt = p.overloadAt[:valid]
}

// pressured reports whether the upstream currently shows overload signals.
func (p *pressureTracker) pressured() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.recentOverloadsLocked() >= pressureOverloadHits || p.p95Locked() > p.slowThreshold
}

// delay returns the additional per-request delay to inject, bounded by
// maxPressureDelay. Zero when not pressured.
func (p *pressureTracker) delay() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()

	hits := p.recentOverloadsLocked()
	if hits < pressureOverloadHits && p.p95Locked() <= p.slowThreshold {
		return 0
	}
	d := time.Duration(hits) * delayPerHit
	if d < delayPerHit {
		d = delayPerHit
	}
	if d > maxPressureDelay {
		d = maxPressureDelay
	}
	return d
}

func (p *pressureTracker) recentOverloadsLocked() int {
	cutoff := time.Now().Add(-pressureWindow)
	n := 0
	for _, t := range p.overloadAt {
		if t.After(cutoff) {
			n++
		}
	}
	return n
}

func (p *pressureTracker) p95Locked() time.Duration {
	if len(p.latencies) < pressureSamples/4 {
		return 0
	}
	sorted := make([]time.Duration, len(p.latencies))
	copy(sorted, p.latencies)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	return sorted[len(sorted)*95/100]
}
