package logging

import (
	"sort"
	"sync"
	"sync/atomic"
)

// Metrics is a set of named counters shared across components and exposed on
// the diagnostics endpoint. The zero value is ready to use.
type Metrics struct {
	mu       sync.RWMutex
	counters map[string]*atomic.Uint64
}

func (m *Metrics) counter(key string) *atomic.Uint64 {
	m.mu.RLock()
	c, ok := m.counters[key]
	m.mu.RUnlock()
	if ok {
		return c
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.counters == nil {
		m.counters = make(map[string]*atomic.Uint64)
	}
	if c, ok = m.counters[key]; !ok {
		c = new(atomic.Uint64)
		m.counters[key] = c
	}
	return c
}

func (m *Metrics) TelemetryAdd(key string, delta uint64) {
	m.counter(key).Add(delta)
}

func (m *Metrics) TelemetryStore(key string, value uint64) {
	m.counter(key).Store(value)
}

// Snapshot copies every counter value.
func (m *Metrics) Snapshot() map[string]uint64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]uint64, len(m.counters))
	for k, c := range m.counters {
		out[k] = c.Load()
	}
	return out
}

// Keys lists counter names in sorted order.
func (m *Metrics) Keys() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	keys := make([]string, 0, len(m.counters))
	for k := range m.counters {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
