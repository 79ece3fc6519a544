package sqlite

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFairMutexGrantsInFIFOOrder(t *testing.T) {
	var m fairMutex
	require.True(t, m.TryLock())

	first := m.enqueue()
	second := m.enqueue()

	select {
	case <-first:
		t.Fatal("grant arrived while the mutex was held")
	case <-time.After(10 * time.Millisecond):
	}

	// The hand-off must reach the longest waiter, not the unlocker
	// relocking immediately: that is what keeps lock_handle fair.
	m.Unlock()
	select {
	case <-first:
	case <-time.After(time.Second):
		t.Fatal("first waiter was not granted the lock")
	}
	select {
	case <-second:
		t.Fatal("second waiter overtook the first")
	default:
	}

	m.Unlock()
	select {
	case <-second:
	case <-time.After(time.Second):
		t.Fatal("second waiter was not granted the lock")
	}
	m.Unlock()

	assert.True(t, m.TryLock())
	m.Unlock()
}

func TestFairMutexTryLockRespectsQueue(t *testing.T) {
	var m fairMutex
	require.True(t, m.TryLock())

	waiter := m.enqueue()
	m.Unlock()
	<-waiter

	// The lock is now held by the waiter; TryLock must fail.
	assert.False(t, m.TryLock())
	m.Unlock()
}

func TestFairMutexLockWithContext(t *testing.T) {
	var m fairMutex
	require.NoError(t, m.Lock(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := m.Lock(ctx)
	require.Error(t, err)

	// The abandoned waiter hands its grant back; the mutex stays usable.
	m.Unlock()
	require.Eventually(t, func() bool { return m.TryLock() }, time.Second, time.Millisecond)
	m.Unlock()
}
