package store

import (
	"context"
	"sync"
	"time"

	"github.com/nhalm/staffkit/clock"
)

type memoryEntry struct {
	count      int64
	expiration time.Time
}

// Memory is an in-memory implementation of Store using a map with mutex protection.
//
// WARNING: This implementation is NOT suitable for distributed deployments.
// Each instance keeps its own counters, so a client spreading requests across
// replicas can exceed the intended limit. Use Memory for local development,
// tests, and single-instance deployments only.
type Memory struct {
	mu      sync.RWMutex
	entries map[string]*memoryEntry
	clock   clock.Clock
	stopCh  chan struct{}
}

// MemoryOption configures a Memory store.
type MemoryOption func(*Memory)

// MemoryWithClock sets the clock used to decide whether an entry has expired.
func MemoryWithClock(c clock.Clock) MemoryOption {
	return func(m *Memory) {
		m.clock = c
	}
}

// NewMemory creates a new in-memory store with automatic cleanup of expired entries.
// A background goroutine runs every minute to remove expired entries.
//
// Important: You must call Close() when done to stop the cleanup goroutine.
func NewMemory(opts ...MemoryOption) *Memory {
	m := &Memory{
		entries: make(map[string]*memoryEntry),
		clock:   clock.Real(),
		stopCh:  make(chan struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}

	go m.cleanup()
	return m
}

// Increment increments the counter for key and moves its expiry to expireAt.
// An entry whose expiry has passed starts again from 1. An expiry that is
// already in the past removes the entry after counting, matching EXPIREAT.
func (m *Memory) Increment(_ context.Context, key string, expireAt time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.clock.Now()
	entry, exists := m.entries[key]
	if !exists || !now.Before(entry.expiration) {
		entry = &memoryEntry{}
		m.entries[key] = entry
	}

	entry.count++
	entry.expiration = expireAt
	count := entry.count

	if !now.Before(expireAt) {
		delete(m.entries, key)
	}
	return count, nil
}

// Get retrieves the current count for key without incrementing.
func (m *Memory) Get(_ context.Context, key string) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	entry, exists := m.entries[key]
	if !exists || !m.clock.Now().Before(entry.expiration) {
		return 0, nil
	}
	return entry.count, nil
}

// Reset removes the counter for key.
func (m *Memory) Reset(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.entries, key)
	return nil
}

// Close stops the background cleanup goroutine.
func (m *Memory) Close() error {
	close(m.stopCh)
	return nil
}

// runCleanup removes all expired entries in a single pass.
func (m *Memory) runCleanup() {
	now := m.clock.Now()
	var expiredKeys []string

	m.mu.RLock()
	for key, entry := range m.entries {
		if !now.Before(entry.expiration) {
			expiredKeys = append(expiredKeys, key)
		}
	}
	m.mu.RUnlock()

	if len(expiredKeys) == 0 {
		return
	}

	m.mu.Lock()
	now = m.clock.Now()
	for _, key := range expiredKeys {
		if entry, exists := m.entries[key]; exists && !now.Before(entry.expiration) {
			delete(m.entries, key)
		}
	}
	m.mu.Unlock()
}

func (m *Memory) cleanup() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.runCleanup()
		case <-m.stopCh:
			return
		}
	}
}
