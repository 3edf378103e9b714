// Package simulator generates synthetic chat traffic per channel for load
// and demo purposes. Generated messages flow through the full moderation
// pipeline like real traffic.
package simulator

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"github.com/streamguard/streamguard/pkg/models"
)

// Sink receives generated messages; in production it is the orchestrator.
type Sink interface {
	Process(ctx context.Context, msg models.IncomingMessage) (*models.ProcessedEvent, error)
}

// Config controls the traffic generator.
type Config struct {
	Interval time.Duration // delay between generated messages per channel
	Users    int           // size of the synthetic user pool per channel
}

// DefaultConfig generates one message per 500ms from 12 synthetic users.
func DefaultConfig() Config {
	return Config{
		Interval: 500 * time.Millisecond,
		Users:    12,
	}
}

// Sample message pools. Mostly clean traffic with occasional toxic, spam and
// PII messages so every pipeline path gets exercised.
var (
	normalMessages = []string{
		"great play!",
		"hello everyone",
		"what game is this?",
		"lol that was close",
		"gg wp",
		"anyone know the song playing?",
		"first time here, this is fun",
		"that boss fight was intense",
	}
	toxicMessages = []string{
		"kys loser",
		"i will find you",
		"go back to your country",
	}
	spamMessages = []string{
		"FREE MONEY click here https://spam.example.com",
		"pump this coin to the moon!!!",
		"aaaaaaaaaaaaaaaaaaaa",
	}
	piiMessages = []string{
		"my email is viewer@example.com",
		"call me at +1 415 555 0134",
		"i live at 12 Oak Street",
	}
)

type runner struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// Manager runs one generator goroutine per started channel.
type Manager struct {
	cfg    Config
	sink   Sink
	logger *slog.Logger

	mu      sync.Mutex
	running map[string]*runner
}

// NewManager creates a simulation manager feeding the sink.
func NewManager(cfg Config, sink Sink) *Manager {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultConfig().Interval
	}
	if cfg.Users <= 0 {
		cfg.Users = DefaultConfig().Users
	}
	return &Manager{
		cfg:     cfg,
		sink:    sink,
		logger:  slog.Default().With("component", "simulator"),
		running: make(map[string]*runner),
	}
}

// Start begins generating traffic for the channel. Starting an already
// running channel is a no-op.
func (m *Manager) Start(ctx context.Context, channelID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.running[channelID]; ok {
		return false
	}

	runCtx, cancel := context.WithCancel(ctx)
	r := &runner{cancel: cancel, done: make(chan struct{})}
	m.running[channelID] = r

	go m.run(runCtx, channelID, r)
	m.logger.Info("Simulation started", "channel_id", channelID)
	return true
}

// Stop halts the channel's generator and waits for it to exit. Returns false
// when no simulation was running.
func (m *Manager) Stop(channelID string) bool {
	m.mu.Lock()
	r, ok := m.running[channelID]
	if ok {
		delete(m.running, channelID)
	}
	m.mu.Unlock()

	if !ok {
		return false
	}
	r.cancel()
	<-r.done
	m.logger.Info("Simulation stopped", "channel_id", channelID)
	return true
}

// StopAll halts every running simulation; used during shutdown.
func (m *Manager) StopAll() {
	m.mu.Lock()
	runners := make(map[string]*runner, len(m.running))
	for id, r := range m.running {
		runners[id] = r
	}
	m.running = make(map[string]*runner)
	m.mu.Unlock()

	for id, r := range runners {
		r.cancel()
		<-r.done
		m.logger.Info("Simulation stopped", "channel_id", id)
	}
}

// Running lists channels with an active simulation.
func (m *Manager) Running() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]string, 0, len(m.running))
	for id := range m.running {
		out = append(out, id)
	}
	return out
}

func (m *Manager) run(ctx context.Context, channelID string, r *runner) {
	defer close(r.done)

	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	ticker := time.NewTicker(m.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			msg := m.generate(rng, channelID)
			if _, err := m.sink.Process(ctx, msg); err != nil {
				m.logger.Warn("Simulated message rejected",
					"channel_id", channelID, "error", err)
			}
		}
	}
}

// generate picks a message: ~85% clean, 5% each toxic/spam/PII.
func (m *Manager) generate(rng *rand.Rand, channelID string) models.IncomingMessage {
	var body string
	switch roll := rng.Intn(100); {
	case roll < 85:
		body = normalMessages[rng.Intn(len(normalMessages))]
	case roll < 90:
		body = toxicMessages[rng.Intn(len(toxicMessages))]
	case roll < 95:
		body = spamMessages[rng.Intn(len(spamMessages))]
	default:
		body = piiMessages[rng.Intn(len(piiMessages))]
	}

	userN := rng.Intn(m.cfg.Users)
	return models.IncomingMessage{
		UserID:    fmt.Sprintf("sim-user-%d", userN),
		Username:  fmt.Sprintf("viewer_%d", userN),
		ChannelID: channelID,
		Body:      body,
		Timestamp: time.Now().UTC(),
		Metadata:  map[string]string{"source": "simulator"},
	}
}
