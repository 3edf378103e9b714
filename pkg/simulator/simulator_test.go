package simulator

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/streamguard/streamguard/pkg/models"
)

type captureSink struct {
	mu   sync.Mutex
	msgs []models.IncomingMessage
}

func (c *captureSink) Process(ctx context.Context, msg models.IncomingMessage) (*models.ProcessedEvent, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.msgs = append(c.msgs, msg)
	return &models.ProcessedEvent{MessageID: msg.MessageID, ChannelID: msg.ChannelID}, nil
}

func (c *captureSink) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.msgs)
}

func TestManager_StartStop(t *testing.T) {
	sink := &captureSink{}
	m := NewManager(Config{Interval: 5 * time.Millisecond, Users: 3}, sink)

	require.True(t, m.Start(context.Background(), "chan-1"))
	assert.False(t, m.Start(context.Background(), "chan-1"), "double start is a no-op")

	assert.Eventually(t, func() bool { return sink.count() >= 3 },
		time.Second, 5*time.Millisecond)

	require.True(t, m.Stop("chan-1"))
	assert.False(t, m.Stop("chan-1"), "double stop reports not running")

	n := sink.count()
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, n, sink.count(), "no traffic after stop")
}

func TestManager_GeneratedMessagesAreWellFormed(t *testing.T) {
	sink := &captureSink{}
	m := NewManager(Config{Interval: time.Millisecond, Users: 2}, sink)

	m.Start(context.Background(), "chan-7")
	assert.Eventually(t, func() bool { return sink.count() >= 5 },
		time.Second, time.Millisecond)
	m.Stop("chan-7")

	sink.mu.Lock()
	defer sink.mu.Unlock()
	for _, msg := range sink.msgs {
		assert.Equal(t, "chan-7", msg.ChannelID)
		assert.NotEmpty(t, msg.UserID)
		assert.NotEmpty(t, msg.Body)
		assert.Equal(t, "simulator", msg.Metadata["source"])
	}
}

func TestManager_Running(t *testing.T) {
	m := NewManager(DefaultConfig(), &captureSink{})
	m.Start(context.Background(), "a")
	m.Start(context.Background(), "b")

	assert.ElementsMatch(t, []string{"a", "b"}, m.Running())

	m.StopAll()
	assert.Empty(t, m.Running())
}
