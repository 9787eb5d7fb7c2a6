package applier

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuelReschke/PayBridge/internal/pkg/bridge"
)

func TestSweepOnce_RecoversAfterRestart(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)

	// confirmed, but the process died before the event was consumed
	lost := e.confirm(t, "abc123", 42)

	restarted := bridge.New(8, 10*time.Millisecond)
	sweeper := NewSweeper(SweeperOptions{
		Transactions: e.txs,
		Publisher:    restarted,
		Grace:        func() time.Duration { return time.Second },
		VIPDuration:  func() time.Duration { return 24 * time.Hour },
		Now:          func() time.Time { return time.Now().Add(time.Minute) },
	})

	n, err := sweeper.SweepOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	ev, err := restarted.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, lost.TransactionID, ev.TransactionID)
	assert.True(t, ev.Recovered)
	assert.Equal(t, 24*time.Hour, ev.VIPDuration)

	require.NoError(t, e.applier.Apply(ctx, ev))

	n, err = sweeper.SweepOnce(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Equal(t, 1, e.notifier.userCalls)
}

func TestSweepOnce_SkipsRowsInsideGrace(t *testing.T) {
	e := newEnv(t)
	e.confirm(t, "fresh", 42)

	b := bridge.New(8, 10*time.Millisecond)
	sweeper := NewSweeper(SweeperOptions{
		Transactions: e.txs,
		Publisher:    b,
		Grace:        func() time.Duration { return time.Hour },
	})

	n, err := sweeper.SweepOnce(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Zero(t, b.Len())
}

func TestSweepOnce_StopsWhenSaturated(t *testing.T) {
	e := newEnv(t)
	e.confirm(t, "one", 1)
	e.confirm(t, "two", 2)
	e.confirm(t, "three", 3)

	b := bridge.New(2, 5*time.Millisecond)
	sweeper := NewSweeper(SweeperOptions{
		Transactions: e.txs,
		Publisher:    b,
		Now:          func() time.Time { return time.Now().Add(time.Hour) },
	})

	n, err := sweeper.SweepOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, 2, b.Len())
}
