package gatehouse

import (
	"context"
	"sync"
	"time"

	"github.com/gatehouse-dev/gatehouse/discord"
)

// MessageDedupeTTL is how long a message ID is remembered for duplicate
// suppression. Gateway redeliveries arrive well within this window.
const MessageDedupeTTL = 2 * time.Minute

func dedupeKeyMessage(messageID discord.Snowflake) string {
	return "message:" + messageID.String()
}

// DedupeProvider suppresses duplicate processing of a key. Deduplicate
// returns false when the key was already seen within its TTL.
type DedupeProvider interface {
	Deduplicate(ctx context.Context, key string, ttl time.Duration) bool
	Release(ctx context.Context, key string)
}

// noopDedupeProvider always allows processing. Useful when a single
// consumer downstream already deduplicates.
type noopDedupeProvider struct{}

func NewNoopDedupeProvider() *noopDedupeProvider {
	return &noopDedupeProvider{}
}

func (n *noopDedupeProvider) Deduplicate(_ context.Context, _ string, _ time.Duration) bool {
	return true
}

func (n *noopDedupeProvider) Release(_ context.Context, _ string) {}

// inMemoryDedupeProvider tracks keys and expirations in a map, with a
// background sweep so the map cannot grow unbounded under load.
type inMemoryDedupeProvider struct {
	keys map[string]time.Time
	mu   sync.RWMutex
}

func NewInMemoryDedupeProvider() *inMemoryDedupeProvider {
	p := &inMemoryDedupeProvider{
		keys: make(map[string]time.Time),
	}

	go func() {
		ticker := time.NewTicker(15 * time.Second)
		defer ticker.Stop()

		for range ticker.C {
			p.Cleanup()
		}
	}()

	return p
}

func (d *inMemoryDedupeProvider) Deduplicate(_ context.Context, key string, ttl time.Duration) bool {
	now := time.Now()
	expiration := now.Add(ttl)

	d.mu.Lock()
	existingTime, exists := d.keys[key]

	if exists && existingTime.After(now) {
		d.mu.Unlock()

		return false
	}

	d.keys[key] = expiration
	d.mu.Unlock()

	return true
}

func (d *inMemoryDedupeProvider) Release(_ context.Context, key string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	delete(d.keys, key)
}

func (d *inMemoryDedupeProvider) Cleanup() {
	now := time.Now()

	d.mu.Lock()
	for key, expiration := range d.keys {
		if expiration.Before(now) {
			delete(d.keys, key)
		}
	}
	d.mu.Unlock()
}
