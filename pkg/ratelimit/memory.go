package ratelimit

import (
	"context"
	"hash/fnv"
	"sync"
	"time"
)

// stripeCount is the number of lock stripes. Power of two so the modulo
// compiles to a mask.
const stripeCount = 64

// MemoryStore is an in-process sliding-window store. State resets on process
// restart; rate limits are best-effort, not security-critical.
type MemoryStore struct {
	cfg     Config
	stripes [stripeCount]*stripe
}

type stripe struct {
	mu    sync.Mutex
	users map[string][]time.Time
}

// NewMemoryStore creates an in-process store with the given window parameters.
func NewMemoryStore(cfg Config) *MemoryStore {
	s := &MemoryStore{cfg: cfg}
	for i := range s.stripes {
		s.stripes[i] = &stripe{users: make(map[string][]time.Time)}
	}
	return s
}

func (s *MemoryStore) stripeFor(userID string) *stripe {
	h := fnv.New32a()
	_, _ = h.Write([]byte(userID))
	return s.stripes[h.Sum32()%stripeCount]
}

// CheckAndRecord implements Store.
func (s *MemoryStore) CheckAndRecord(_ context.Context, userID string, now time.Time) (Result, error) {
	st := s.stripeFor(userID)
	st.mu.Lock()
	defer st.mu.Unlock()

	cutoff := now.Add(-s.cfg.Window)
	events := st.users[userID]

	// Drop expired entries in place.
	valid := 0
	for _, t := range events {
		if t.After(cutoff) {
			events[valid] = t
			valid++
		}
	}
	events = events[:valid]

	if len(events) >= s.cfg.MaxEvents {
		retryAfter := events[0].Add(s.cfg.Window).Sub(now)
		if retryAfter < 0 {
			retryAfter = 0
		}
		st.users[userID] = events
		return Result{Allowed: false, RetryAfter: retryAfter}, nil
	}

	st.users[userID] = append(events, now)
	return Result{Allowed: true}, nil
}

// ActiveUsers implements Store. Expired users are pruned as a side effect.
func (s *MemoryStore) ActiveUsers(_ context.Context) (int, error) {
	now := time.Now()
	cutoff := now.Add(-s.cfg.Window)
	total := 0
	for _, st := range s.stripes {
		st.mu.Lock()
		for user, events := range st.users {
			active := false
			for _, t := range events {
				if t.After(cutoff) {
					active = true
					break
				}
			}
			if active {
				total++
			} else {
				delete(st.users, user)
			}
		}
		st.mu.Unlock()
	}
	return total, nil
}
