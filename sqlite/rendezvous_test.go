package sqlite

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRendezvousDeliveredAndAcked(t *testing.T) {
	rv := newRendezvous[int]()
	sent := make(chan bool, 1)

	go func() { sent <- rv.Send(42) }()

	v, err := rv.Recv(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, 42, v)
	assert.True(t, <-sent)
}

func TestRendezvousAbandonedBeforeSend(t *testing.T) {
	rv := newRendezvous[int]()
	rv.Abandon()
	assert.False(t, rv.Send(42))
}

func TestRendezvousReceiverCancelled(t *testing.T) {
	rv := newRendezvous[int]()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := rv.Recv(ctx, nil)
	require.Error(t, err)

	// The sender observes the cancellation as a failed send.
	assert.False(t, rv.Send(42))
}

func TestRendezvousSendBlocksUntilReceipt(t *testing.T) {
	rv := newRendezvous[int]()
	done := make(chan bool, 1)

	go func() { done <- rv.Send(7) }()

	// The send cannot complete before the receiver shows up.
	select {
	case <-done:
		t.Fatal("send completed without a receiver")
	case <-time.After(20 * time.Millisecond):
	}

	_, err := rv.Recv(context.Background(), nil)
	require.NoError(t, err)
	assert.True(t, <-done)
}

func TestRendezvousWorkerCrashSignal(t *testing.T) {
	rv := newRendezvous[int]()
	crashed := make(chan struct{})
	close(crashed)

	_, err := rv.Recv(context.Background(), crashed)
	assert.ErrorIs(t, err, ErrWorkerCrashed)
}
