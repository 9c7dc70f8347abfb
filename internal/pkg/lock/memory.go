package lock

import (
	"context"
	"fmt"
	"sync"
)

// Memory is a Locker for a single process.
type Memory struct {
	mu    sync.Mutex
	locks map[string]*entry
}

type entry struct {
	ch   chan struct{} // holds one token while the key is free
	refs int
}

func NewMemory() *Memory {
	return &Memory{locks: make(map[string]*entry)}
}

func (m *Memory) acquireEntry(key string) *entry {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.locks[key]
	if !ok {
		e = &entry{ch: make(chan struct{}, 1)}
		e.ch <- struct{}{}
		m.locks[key] = e
	}
	e.refs++
	return e
}

func (m *Memory) releaseEntry(key string, e *entry) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e.refs--
	if e.refs == 0 {
		delete(m.locks, key)
	}
}

func (m *Memory) Lock(ctx context.Context, key string) (func(), error) {
	e := m.acquireEntry(key)

	select {
	case <-e.ch:
	case <-ctx.Done():
		m.releaseEntry(key, e)
		return nil, fmt.Errorf("acquire lock %s: %w", key, ctx.Err())
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			e.ch <- struct{}{}
			m.releaseEntry(key, e)
		})
	}, nil
}
