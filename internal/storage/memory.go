package storage

import (
	"context"
	"sync"
)

// Memory keeps the value in process memory. It lasts as long as the process.
type Memory struct {
	mu    sync.Mutex
	data  []byte
	saved bool
	saves int
}

func NewMemory() *Memory {
	return &Memory{}
}

// NewMemoryWith starts with data already saved.
func NewMemoryWith(data []byte) *Memory {
	return &Memory{data: append([]byte(nil), data...), saved: true}
}

func (m *Memory) Load(_ context.Context) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.saved {
		return nil, ErrNotFound
	}
	return append([]byte(nil), m.data...), nil
}

func (m *Memory) Save(_ context.Context, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data = append([]byte(nil), data...)
	m.saved = true
	m.saves++
	return nil
}

// Saves reports how many writes were made.
func (m *Memory) Saves() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saves
}
