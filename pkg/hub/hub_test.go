package hub

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/streamguard/streamguard/pkg/metrics"
	"github.com/streamguard/streamguard/pkg/models"
)

func event(channelID, messageID string) *models.ProcessedEvent {
	return &models.ProcessedEvent{
		Type:      models.EventTypeChatMessage,
		MessageID: messageID,
		ChannelID: channelID,
	}
}

func TestHub_PublishToSubscribers(t *testing.T) {
	h := NewHub(0, nil)
	sub1 := h.Subscribe("chan-1")
	sub2 := h.Subscribe("chan-1")
	other := h.Subscribe("chan-2")

	h.Publish(event("chan-1", "msg-1"))

	for _, sub := range []*Subscription{sub1, sub2} {
		select {
		case ev := <-sub.Events():
			assert.Equal(t, "msg-1", ev.MessageID)
		case <-time.After(time.Second):
			t.Fatal("expected event")
		}
	}

	select {
	case <-other.Events():
		t.Fatal("event leaked to other channel")
	default:
	}
}

func TestHub_AllChannelsBus(t *testing.T) {
	h := NewHub(0, nil)
	all := h.Subscribe(AllChannels)
	direct := h.Subscribe("chan-1")

	h.Publish(event("chan-1", "msg-1"))
	h.Publish(event("chan-2", "msg-2"))

	for _, want := range []string{"msg-1", "msg-2"} {
		select {
		case ev := <-all.Events():
			assert.Equal(t, want, ev.MessageID)
		case <-time.After(time.Second):
			t.Fatalf("all bus missed %s", want)
		}
	}

	ev := <-direct.Events()
	assert.Equal(t, "msg-1", ev.MessageID)
	select {
	case <-direct.Events():
		t.Fatal("direct subscriber received another channel's event")
	default:
	}
}

func TestHub_PerChannelOrdering(t *testing.T) {
	h := NewHub(0, nil)
	sub := h.Subscribe("chan-1")

	for i := 0; i < 10; i++ {
		h.Publish(event("chan-1", fmt.Sprintf("msg-%d", i)))
	}

	for i := 0; i < 10; i++ {
		ev := <-sub.Events()
		assert.Equal(t, fmt.Sprintf("msg-%d", i), ev.MessageID)
	}
}

func TestHub_SlowConsumerDropsOldest(t *testing.T) {
	h := NewHub(0, nil)
	sub := h.Subscribe("chan-1")

	total := DefaultQueueSize + 10
	for i := 0; i < total; i++ {
		h.Publish(event("chan-1", fmt.Sprintf("msg-%d", i)))
	}

	assert.Equal(t, int64(10), sub.Lag())

	// The oldest 10 were evicted; the first received event is msg-10.
	ev := <-sub.Events()
	assert.Equal(t, "msg-10", ev.MessageID)

	// The newest event survived.
	var last *models.ProcessedEvent
	for i := 0; i < DefaultQueueSize-1; i++ {
		last = <-sub.Events()
	}
	assert.Equal(t, fmt.Sprintf("msg-%d", total-1), last.MessageID)
}

func TestHub_UnsubscribeClosesEvents(t *testing.T) {
	h := NewHub(0, nil)
	sub := h.Subscribe("chan-1")
	require.Equal(t, 1, h.SubscriberCount("chan-1"))

	h.Unsubscribe(sub)
	assert.Equal(t, 0, h.SubscriberCount("chan-1"))

	_, open := <-sub.Events()
	assert.False(t, open)

	// Publishing after unsubscribe must not panic.
	h.Publish(event("chan-1", "msg-after"))
}

func TestHub_PublishAfterUnsubscribeConcurrent(t *testing.T) {
	h := NewHub(0, nil)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		sub := h.Subscribe("chan-1")
		wg.Add(2)
		go func() {
			defer wg.Done()
			for range sub.Events() {
			}
		}()
		go func() {
			defer wg.Done()
			h.Unsubscribe(sub)
		}()
	}
	for i := 0; i < 200; i++ {
		h.Publish(event("chan-1", fmt.Sprintf("msg-%d", i)))
	}
	wg.Wait()
}

func TestHub_Stats(t *testing.T) {
	h := NewHub(0, nil)
	h.Subscribe("chan-1")
	h.Subscribe("chan-1")
	h.Subscribe("chan-2")

	h.Publish(event("chan-1", "msg-1"))
	h.Publish(event("chan-2", "msg-2"))

	stats := h.Stats()
	assert.Equal(t, 2, stats.Channels)
	assert.Equal(t, 3, stats.Subscribers)
	assert.Equal(t, int64(2), stats.Published)
	assert.Equal(t, int64(0), stats.Dropped)
}

func TestHub_CustomQueueSize(t *testing.T) {
	h := NewHub(2, nil)
	sub := h.Subscribe("chan-1")

	for i := 0; i < 5; i++ {
		h.Publish(event("chan-1", fmt.Sprintf("msg-%d", i)))
	}

	assert.Equal(t, int64(3), sub.Lag())
	ev := <-sub.Events()
	assert.Equal(t, "msg-3", ev.MessageID)
	ev = <-sub.Events()
	assert.Equal(t, "msg-4", ev.MessageID)
}

func TestHub_MetricsInstrumentation(t *testing.T) {
	m := metrics.New(prometheus.NewRegistry())
	h := NewHub(2, m)

	sub1 := h.Subscribe("chan-1")
	h.Subscribe("chan-2")
	assert.Equal(t, float64(2), testutil.ToFloat64(m.HubSubscribers))

	// Overflow a size-2 queue by one; the drop shows up on the counter.
	for i := 0; i < 3; i++ {
		h.Publish(event("chan-1", fmt.Sprintf("msg-%d", i)))
	}
	assert.Equal(t, float64(1), testutil.ToFloat64(m.HubDropped))

	h.Unsubscribe(sub1)
	// Double unsubscribe must not decrement twice.
	h.Unsubscribe(sub1)
	assert.Equal(t, float64(1), testutil.ToFloat64(m.HubSubscribers))

	h.Close()
	assert.Equal(t, float64(0), testutil.ToFloat64(m.HubSubscribers))
}

func TestHub_Close(t *testing.T) {
	h := NewHub(0, nil)
	sub := h.Subscribe("chan-1")
	h.Close()

	_, open := <-sub.Events()
	assert.False(t, open)
	assert.Equal(t, 0, h.SubscriberCount("chan-1"))
}
