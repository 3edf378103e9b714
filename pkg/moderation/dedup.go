package moderation

import (
	"sync"
	"time"

	"github.com/streamguard/streamguard/pkg/models"
)

// dedupMaxEntries bounds the cache; beyond it the oldest entries are pruned.
const dedupMaxEntries = 8192

type dedupEntry struct {
	event   *models.ProcessedEvent
	expires time.Time
}

// dedupCache remembers processed events by message ID for a TTL so a
// redelivered message returns its original outcome instead of being
// moderated twice.
type dedupCache struct {
	mu      sync.Mutex
	ttl     time.Duration
	entries map[string]dedupEntry
}

func newDedupCache(ttl time.Duration) *dedupCache {
	return &dedupCache{
		ttl:     ttl,
		entries: make(map[string]dedupEntry),
	}
}

func (c *dedupCache) get(messageID string) (*models.ProcessedEvent, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[messageID]
	if !ok {
		return nil, false
	}
	if time.Now().After(entry.expires) {
		delete(c.entries, messageID)
		return nil, false
	}
	return entry.event, true
}

func (c *dedupCache) put(messageID string, event *models.ProcessedEvent) {
	now := time.Now()

	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.entries) >= dedupMaxEntries {
		c.pruneLocked(now)
	}
	c.entries[messageID] = dedupEntry{event: event, expires: now.Add(c.ttl)}
}

// pruneLocked drops expired entries; if still over the cap, drops the
// soonest-to-expire entries until under it.
func (c *dedupCache) pruneLocked(now time.Time) {
	for id, entry := range c.entries {
		if now.After(entry.expires) {
			delete(c.entries, id)
		}
	}
	for len(c.entries) >= dedupMaxEntries {
		var oldestID string
		var oldest time.Time
		for id, entry := range c.entries {
			if oldestID == "" || entry.expires.Before(oldest) {
				oldestID = id
				oldest = entry.expires
			}
		}
		delete(c.entries, oldestID)
	}
}
