package tracker

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/coder/quartz"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newNotifier(t *testing.T, interval time.Duration) (*AliveNotifier, *quartz.Mock, *atomic.Int32, context.Context) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	t.Cleanup(cancel)
	clock := quartz.NewMock(t)
	var sent atomic.Int32
	n := NewAliveNotifier(clock, interval, func() { sent.Add(1) })
	return n, clock, &sent, ctx
}

func TestAliveNotifier_StartSendsImmediately(t *testing.T) {
	n, clock, sent, _ := newNotifier(t, 5*time.Second)

	n.Start()

	assert.Equal(t, int32(1), sent.Load())
	assert.True(t, n.Armed())
	next, ok := clock.Peek()
	require.True(t, ok)
	assert.Equal(t, 5*time.Second, next)
}

func TestAliveNotifier_TicksAtInterval(t *testing.T) {
	n, clock, sent, ctx := newNotifier(t, 5*time.Second)
	n.Start()

	for i := 0; i < 3; i++ {
		d, w := clock.AdvanceNext()
		w.MustWait(ctx)
		assert.Equal(t, 5*time.Second, d)
	}
	assert.Equal(t, int32(4), sent.Load())
}

func TestAliveNotifier_StopEndsChain(t *testing.T) {
	n, clock, sent, _ := newNotifier(t, 5*time.Second)
	n.Start()
	n.Stop()

	assert.False(t, n.Armed())
	_, ok := clock.Peek()
	assert.False(t, ok, "pending tick should be cancelled")
	assert.Equal(t, int32(1), sent.Load())
}

func TestAliveNotifier_StopWithoutStart(t *testing.T) {
	n, _, sent, _ := newNotifier(t, 5*time.Second)
	n.Stop()
	assert.Equal(t, int32(0), sent.Load())
	assert.False(t, n.Armed())
}

func TestAliveNotifier_SetIntervalAppliesToNextReschedule(t *testing.T) {
	n, clock, sent, ctx := newNotifier(t, 5*time.Second)
	n.Start()

	n.SetInterval(20 * time.Second)
	assert.Equal(t, 20*time.Second, n.Interval())

	d, w := clock.AdvanceNext()
	w.MustWait(ctx)
	assert.Equal(t, 5*time.Second, d, "pending tick keeps the old interval")

	next, ok := clock.Peek()
	require.True(t, ok)
	assert.Equal(t, 20*time.Second, next)
	assert.Equal(t, int32(2), sent.Load())
}

func TestAliveNotifier_RestartDoesNotDoubleTick(t *testing.T) {
	n, clock, sent, ctx := newNotifier(t, 5*time.Second)
	n.Start()
	clock.Advance(2 * time.Second).MustWait(ctx)
	n.Stop()
	n.Start()

	// Only the new chain remains: one tick 5s after the restart.
	d, w := clock.AdvanceNext()
	w.MustWait(ctx)
	assert.Equal(t, 5*time.Second, d)
	assert.Equal(t, int32(3), sent.Load())
}

func TestAliveNotifier_ZeroIntervalSendsOnce(t *testing.T) {
	n, clock, sent, _ := newNotifier(t, 0)
	n.Start()

	assert.Equal(t, int32(1), sent.Load())
	_, ok := clock.Peek()
	assert.False(t, ok)
}
