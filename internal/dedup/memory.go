package dedup

import (
	"context"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// Memory is an in-process store. Entries expire after the window; when the
// capacity is reached the oldest entry is evicted even if it has not expired.
// Eviction can only turn a would-be duplicate into FirstSeen, never the reverse.
type Memory struct {
	// mu makes Peek followed by Add a single step.
	mu      sync.Mutex
	cfg     Config
	entries *expirable.LRU[string, time.Time]
	now     func() time.Time
}

func NewMemory(cfg Config) *Memory {
	cfg = cfg.withDefaults()
	return &Memory{
		cfg:     cfg,
		entries: expirable.NewLRU[string, time.Time](cfg.Capacity, nil, cfg.Window),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// WithClock replaces the time source, for tests.
func (m *Memory) WithClock(now func() time.Time) *Memory {
	m.now = now
	return m
}

func (m *Memory) CheckAndRecord(_ context.Context, key Key) (Result, error) {
	if err := key.Validate(); err != nil {
		return FirstSeen, err
	}
	k := key.String()
	now := m.now()

	m.mu.Lock()
	defer m.mu.Unlock()

	m.pruneExpiredLocked(now)

	if recorded, ok := m.entries.Peek(k); ok && m.live(recorded, now) {
		return DuplicateWithinWindow, nil
	}

	// Peek leaves the recency order alone, so the LRU order is the order in
	// which keys were recorded and Add evicts the oldest record when full.
	m.entries.Add(k, now)
	return FirstSeen, nil
}

// Len reports the number of live entries.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pruneExpiredLocked(m.now())
	return m.entries.Len()
}

func (m *Memory) live(recorded, now time.Time) bool {
	return now.Before(recorded.Add(m.cfg.Window))
}

// pruneExpiredLocked walks from the oldest entry and stops at the first live one.
func (m *Memory) pruneExpiredLocked(now time.Time) {
	for {
		_, recorded, ok := m.entries.GetOldest()
		if !ok || m.live(recorded, now) {
			return
		}
		m.entries.RemoveOldest()
	}
}
