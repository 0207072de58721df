// Package ratelimit bounds how often an organization may trigger deployments.
package ratelimit

import (
	"context"
	"sync"
	"time"
)

// Decision is the outcome of one Allow call.
type Decision struct {
	Allowed bool
	Count   int
	ResetAt time.Time
}

// Limiter counts requests per key within a fixed window.
type Limiter interface {
	Allow(ctx context.Context, key string) Decision
	Close() error
}

const pruneThreshold = 1024

// Memory is a process-local fixed-window limiter.
type Memory struct {
	limit  int
	window time.Duration
	now    func() time.Time

	mu      sync.Mutex
	entries map[string]windowState
}

type windowState struct {
	count int
	end   time.Time
}

var _ Limiter = (*Memory)(nil)

// NewMemory returns a limiter allowing limit calls per window. A limit of
// zero disables limiting.
func NewMemory(limit int, window time.Duration) *Memory {
	if window <= 0 {
		window = time.Minute
	}
	return &Memory{
		limit:   limit,
		window:  window,
		now:     time.Now,
		entries: make(map[string]windowState),
	}
}

func (m *Memory) Allow(_ context.Context, key string) Decision {
	if m.limit <= 0 {
		return Decision{Allowed: true}
	}
	now := m.now()
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.entries) > pruneThreshold {
		for k, st := range m.entries {
			if now.After(st.end) {
				delete(m.entries, k)
			}
		}
	}

	st, ok := m.entries[key]
	if !ok || now.After(st.end) {
		st = windowState{count: 1, end: now.Add(m.window)}
		m.entries[key] = st
		return Decision{Allowed: true, Count: 1, ResetAt: st.end}
	}
	if st.count >= m.limit {
		return Decision{Allowed: false, Count: st.count, ResetAt: st.end}
	}
	st.count++
	m.entries[key] = st
	return Decision{Allowed: true, Count: st.count, ResetAt: st.end}
}

func (m *Memory) Close() error {
	return nil
}
