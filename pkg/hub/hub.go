// Package hub fans processed events out to per-channel subscribers. Each
// subscriber owns a bounded queue; slow consumers lose their oldest events
// rather than stalling the pipeline.
package hub

import (
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/streamguard/streamguard/pkg/metrics"
	"github.com/streamguard/streamguard/pkg/models"
)

// DefaultQueueSize is the per-subscriber queue capacity used when the hub is
// created without an explicit size. When a queue is full, the oldest queued
// event is dropped to make room for the newest.
const DefaultQueueSize = 64

// AllChannels subscribes a consumer to every channel's events.
const AllChannels = "all"

// Subscription is one consumer's view of a channel's event stream.
type Subscription struct {
	ID        string
	ChannelID string

	mu     sync.Mutex // serializes deliveries against close
	events chan *models.ProcessedEvent
	lag    atomic.Int64
	done   bool
}

// Events returns the receive side of the subscription queue. The channel is
// closed on Unsubscribe.
func (s *Subscription) Events() <-chan *models.ProcessedEvent {
	return s.events
}

// Lag returns the number of events dropped from this subscription's queue
// because the consumer fell behind.
func (s *Subscription) Lag() int64 {
	return s.lag.Load()
}

func (s *Subscription) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.done {
		return
	}
	s.done = true
	close(s.events)
}

// Hub routes processed events to channel subscribers.
type Hub struct {
	queueSize int
	metrics   *metrics.Metrics // nil disables instrumentation

	mu     sync.RWMutex
	subs   map[string]map[string]*Subscription // channelID -> subID -> sub
	logger *slog.Logger

	published atomic.Int64
	dropped   atomic.Int64
}

// NewHub creates an empty hub. queueSize <= 0 selects DefaultQueueSize; m may
// be nil.
func NewHub(queueSize int, m *metrics.Metrics) *Hub {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	return &Hub{
		queueSize: queueSize,
		metrics:   m,
		subs:      make(map[string]map[string]*Subscription),
		logger:    slog.Default().With("component", "hub"),
	}
}

// Subscribe registers a consumer for one channel's event stream.
func (h *Hub) Subscribe(channelID string) *Subscription {
	sub := &Subscription{
		ID:        uuid.NewString(),
		ChannelID: channelID,
		events:    make(chan *models.ProcessedEvent, h.queueSize),
	}

	h.mu.Lock()
	if h.subs[channelID] == nil {
		h.subs[channelID] = make(map[string]*Subscription)
	}
	h.subs[channelID][sub.ID] = sub
	h.mu.Unlock()

	if h.metrics != nil {
		h.metrics.HubSubscribers.Inc()
	}
	h.logger.Debug("Subscriber added", "channel_id", channelID, "subscription_id", sub.ID)
	return sub
}

// Unsubscribe removes the subscription and closes its event channel.
func (h *Hub) Unsubscribe(sub *Subscription) {
	if sub == nil {
		return
	}

	removed := false
	h.mu.Lock()
	if chanSubs, ok := h.subs[sub.ChannelID]; ok {
		if _, ok := chanSubs[sub.ID]; ok {
			removed = true
			delete(chanSubs, sub.ID)
			if len(chanSubs) == 0 {
				delete(h.subs, sub.ChannelID)
			}
		}
	}
	h.mu.Unlock()

	sub.close()
	if removed && h.metrics != nil {
		h.metrics.HubSubscribers.Dec()
	}
	h.logger.Debug("Subscriber removed", "channel_id", sub.ChannelID, "subscription_id", sub.ID)
}

// Publish delivers the event to every subscriber of its channel, plus the
// AllChannels bus. Publish never blocks: a full subscriber queue drops its
// oldest event first. Delivery order within a channel matches publish order
// for consumers that keep up.
func (h *Hub) Publish(event *models.ProcessedEvent) {
	h.mu.RLock()
	chanSubs := h.subs[event.ChannelID]
	allSubs := h.subs[AllChannels]
	snapshot := make([]*Subscription, 0, len(chanSubs)+len(allSubs))
	for _, sub := range chanSubs {
		snapshot = append(snapshot, sub)
	}
	if event.ChannelID != AllChannels {
		for _, sub := range allSubs {
			snapshot = append(snapshot, sub)
		}
	}
	h.mu.RUnlock()

	h.published.Add(1)
	for _, sub := range snapshot {
		h.deliver(sub, event)
	}
}

func (h *Hub) deliver(sub *Subscription, event *models.ProcessedEvent) {
	sub.mu.Lock()
	defer sub.mu.Unlock()
	if sub.done {
		return
	}

	for {
		select {
		case sub.events <- event:
			return
		default:
		}
		// Queue full: evict the oldest event and count the loss.
		select {
		case <-sub.events:
			sub.lag.Add(1)
			h.dropped.Add(1)
			if h.metrics != nil {
				h.metrics.HubDropped.Inc()
			}
		default:
		}
	}
}

// SubscriberCount returns the number of active subscriptions for a channel.
func (h *Hub) SubscriberCount(channelID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[channelID])
}

// Stats reports hub-wide delivery counters.
type Stats struct {
	Channels    int   `json:"channels"`
	Subscribers int   `json:"subscribers"`
	Published   int64 `json:"published"`
	Dropped     int64 `json:"dropped"`
}

// Stats returns a snapshot of delivery counters.
func (h *Hub) Stats() Stats {
	h.mu.RLock()
	defer h.mu.RUnlock()

	total := 0
	for _, chanSubs := range h.subs {
		total += len(chanSubs)
	}
	return Stats{
		Channels:    len(h.subs),
		Subscribers: total,
		Published:   h.published.Load(),
		Dropped:     h.dropped.Load(),
	}
}

// Close unsubscribes everything; used during shutdown.
func (h *Hub) Close() {
	h.mu.Lock()
	subs := make([]*Subscription, 0)
	for _, chanSubs := range h.subs {
		for _, sub := range chanSubs {
			subs = append(subs, sub)
		}
	}
	h.subs = make(map[string]map[string]*Subscription)
	h.mu.Unlock()

	for _, sub := range subs {
		sub.close()
	}
	if h.metrics != nil {
		h.metrics.HubSubscribers.Sub(float64(len(subs)))
	}
}
