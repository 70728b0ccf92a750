package lock

import (
	"context"
	"errors"
	"sync"
)

var ErrLockFailed = errors.New("failed to acquire lock")

// Locker serializes work per key. The engine takes one lock per provider ref
// so webhook, reconciler and the chat front-end never mutate the same order
// concurrently.
type Locker interface {
	// Acquire blocks until the key lock is held or ctx is done. The returned
	// release func must be called exactly once.
	Acquire(ctx context.Context, key string) (release func(), err error)
}

// KeyedMutex is an in-process Locker. Sufficient for the single-writer
// deployment this service assumes; the Redis locker exists for setups where
// the webhook listener runs as a separate process.
type KeyedMutex struct {
	mu    sync.Mutex
	locks map[string]*entry
}

type entry struct {
	mu   sync.Mutex
	refs int
}

func NewKeyedMutex() *KeyedMutex {
	return &KeyedMutex{locks: make(map[string]*entry)}
}

func (m *KeyedMutex) Acquire(ctx context.Context, key string) (func(), error) {
	m.mu.Lock()
	e, ok := m.locks[key]
	if !ok {
		e = &entry{}
		m.locks[key] = e
	}
	e.refs++
	m.mu.Unlock()

	acquired := make(chan struct{})
	go func() {
		e.mu.Lock()
		close(acquired)
	}()

	select {
	case <-acquired:
	case <-ctx.Done():
		// The goroutine still takes the mutex eventually; hand it straight
		// back so the entry can be reclaimed.
		go func() {
			<-acquired
			m.release(key, e)
		}()
		return nil, ctx.Err()
	}

	var once sync.Once
	return func() {
		once.Do(func() { m.release(key, e) })
	}, nil
}

func (m *KeyedMutex) release(key string, e *entry) {
	e.mu.Unlock()
	m.mu.Lock()
	e.refs--
	if e.refs == 0 {
		delete(m.locks, key)
	}
	m.mu.Unlock()
}
