package sqlite

import (
	"context"
	"sync"
)

// fairMutex is a FIFO mutex. The UnlockDb hand-off depends on strict grant
// order: the worker unlocks and immediately relocks, and the external
// lock_handle waiter that queued up first must win that race. Go's sync.Mutex
// does not promise FIFO grants, so the queue is explicit.
type fairMutex struct {
	mu      sync.Mutex
	locked  bool
	waiters []chan struct{}
}

// enqueue joins the wait queue and returns the grant channel. If the mutex is
// free and nobody is waiting, the grant is immediate.
func (m *fairMutex) enqueue() <-chan struct{} {
	m.mu.Lock()
	defer m.mu.Unlock()

	ch := make(chan struct{}, 1)
	if !m.locked && len(m.waiters) == 0 {
		m.locked = true
		ch <- struct{}{}
	} else {
		m.waiters = append(m.waiters, ch)
	}
	return ch
}

// Lock blocks until the mutex is granted in FIFO order.
func (m *fairMutex) Lock(ctx context.Context) error {
	ch := m.enqueue()
	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		// The grant may already be in flight; hand it back when it
		// arrives so the queue keeps moving.
		go func() {
			<-ch
			m.Unlock()
		}()
		return ctx.Err()
	}
}

// TryLock grants the mutex only when it is free and the queue is empty.
func (m *fairMutex) TryLock() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.locked || len(m.waiters) > 0 {
		return false
	}
	m.locked = true
	return true
}

// Unlock grants the mutex to the longest waiter, or frees it.
func (m *fairMutex) Unlock() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.waiters) > 0 {
		next := m.waiters[0]
		m.waiters = m.waiters[1:]
		next <- struct{}{}
		return
	}
	m.locked = false
}
