package activity

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChan_EmitReachesSubscribers(t *testing.T) {
	src := NewChan()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	events, err := src.Subscribe(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, src.Subscribers())

	src.Emit(Event{Kind: KeyPress})

	select {
	case ev := <-events:
		assert.Equal(t, KeyPress, ev.Kind)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
	}
}

func TestChan_CancelClosesSubscription(t *testing.T) {
	src := NewChan()
	ctx, cancel := context.WithCancel(context.Background())

	events, err := src.Subscribe(ctx)
	require.NoError(t, err)
	cancel()

	select {
	case _, ok := <-events:
		assert.False(t, ok, "channel should be closed")
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for close")
	}
	require.Eventually(t, func() bool { return src.Subscribers() == 0 }, 2*time.Second, 10*time.Millisecond)

	// Emitting with no subscribers must not panic.
	src.Emit(Event{Kind: Click})
}

func TestChan_EmitDoesNotBlockWhenFull(t *testing.T) {
	src := NewChan()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	_, err := src.Subscribe(ctx)
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		for i := 0; i < subscriberBuffer*4; i++ {
			src.Emit(Event{Kind: PointerMove})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Emit blocked on a full subscriber")
	}
}

func TestChan_FailSubscribe(t *testing.T) {
	src := NewChan()
	boom := errors.New("no display")
	src.FailSubscribe(boom)

	_, err := src.Subscribe(context.Background())
	require.ErrorIs(t, err, boom)
	assert.Equal(t, 0, src.Subscribers())

	src.FailSubscribe(nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	_, err = src.Subscribe(ctx)
	assert.NoError(t, err)
}

func TestKindString(t *testing.T) {
	assert.Equal(t, "pointer-move", PointerMove.String())
	assert.Equal(t, "click", Click.String())
	assert.Equal(t, "scroll", Scroll.String())
	assert.Equal(t, "key-press", KeyPress.String())
	assert.Equal(t, "unknown", Kind(42).String())
}
