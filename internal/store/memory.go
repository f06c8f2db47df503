package store

import (
	"context"
	"sync"
)

// Memory is a process-local Store for tests and ephemeral runs. FailWrites
// makes every subsequent Write return the given error.
type Memory struct {
	mu       sync.Mutex
	data     []byte
	written  bool
	writes   int
	failWith error
}

func NewMemory() *Memory {
	return &Memory{}
}

// NewMemoryWith seeds the store with an existing document.
func NewMemoryWith(data []byte) *Memory {
	m := &Memory{}
	m.data = append([]byte(nil), data...)
	m.written = true
	return m
}

func (m *Memory) Backend() string {
	return BackendMemory
}

func (m *Memory) Read(ctx context.Context) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.written {
		return nil, ErrNotExist
	}
	return append([]byte(nil), m.data...), nil
}

func (m *Memory) Write(ctx context.Context, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failWith != nil {
		return m.failWith
	}
	m.data = append(m.data[:0], data...)
	m.written = true
	m.writes++
	return nil
}

// FailWrites toggles write failures; pass nil to restore normal behaviour.
func (m *Memory) FailWrites(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failWith = err
}

// Writes reports how many writes succeeded.
func (m *Memory) Writes() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.writes
}

func (m *Memory) Close() error {
	return nil
}
