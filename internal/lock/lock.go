// Package lock provides keyed exclusive locks with bounded waiting.
//
// The engine takes one lock per collection for the lifetime of a write
// transaction. Waiting is bounded so that lock cycles between transactions
// resolve as timeouts instead of deadlocks.
package lock

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"
)

// DefaultTimeout bounds the wait for a held lock.
const DefaultTimeout = 60 * time.Second

// ErrTimeout is returned when a lock could not be acquired in time.
var ErrTimeout = errors.New("lock: wait timeout")

// Manager hands out exclusive locks keyed by name.
type Manager struct {
	timeout time.Duration

	mu    sync.Mutex
	locks map[string]*entry
}

type entry struct {
	sem  *semaphore.Weighted
	refs int // holders and waiters
}

// NewManager creates a lock manager. A non-positive timeout selects
// DefaultTimeout.
func NewManager(timeout time.Duration) *Manager {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Manager{
		timeout: timeout,
		locks:   make(map[string]*entry),
	}
}

// Timeout returns the configured wait bound.
func (m *Manager) Timeout() time.Duration { return m.timeout }

// Lock acquires the lock for key. The returned release function must be
// called exactly once. If ctx ends first its error is returned, if the wait
// bound passes first ErrTimeout is returned.
func (m *Manager) Lock(ctx context.Context, key string) (func(), error) {
	m.mu.Lock()
	e, ok := m.locks[key]
	if !ok {
		e = &entry{sem: semaphore.NewWeighted(1)}
		m.locks[key] = e
	}
	e.refs++
	m.mu.Unlock()

	if !e.sem.TryAcquire(1) {
		wctx, cancel := context.WithTimeout(ctx, m.timeout)
		err := e.sem.Acquire(wctx, 1)
		cancel()
		if err != nil {
			m.unref(key, e)
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			return nil, fmt.Errorf("%w: %q after %s", ErrTimeout, key, m.timeout)
		}
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			e.sem.Release(1)
			m.unref(key, e)
		})
	}, nil
}

func (m *Manager) unref(key string, e *entry) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e.refs--
	if e.refs == 0 {
		delete(m.locks, key)
	}
}

// Len returns the number of keys that are held or waited on.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.locks)
}
