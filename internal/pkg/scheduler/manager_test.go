package scheduler

import (
	"context"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuelReschke/PayBridge/app/repository"
	"github.com/ManuelReschke/PayBridge/internal/pkg/applier"
	"github.com/ManuelReschke/PayBridge/internal/pkg/bridge"
	"github.com/ManuelReschke/PayBridge/internal/pkg/database"
)

type countingNotifier struct {
	mu    sync.Mutex
	users []int64
}

func (n *countingNotifier) NotifyUser(_ context.Context, userID int64, _ string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.users = append(n.users, userID)
	return nil
}

func (n *countingNotifier) NotifyAdmin(context.Context, string) error { return nil }

func (n *countingNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.users)
}

type countingFlusher struct{ calls atomic.Int32 }

func (f *countingFlusher) Flush(context.Context) (int, error) {
	f.calls.Add(1)
	return 0, nil
}

func TestManager_RecoversOnStartAndDrainsOnStop(t *testing.T) {
	ctx := context.Background()
	db, err := database.OpenSQLite(filepath.Join(t.TempDir(), "sched.db"))
	require.NoError(t, err)
	require.NoError(t, database.AutoMigrate(db))
	t.Cleanup(func() { _ = database.Close(db) })

	txs := repository.NewTransactionRepository(db)
	users := repository.NewUserRepository(db)

	// confirmed before the "restart", never applied
	res, err := txs.RecordIfNew(ctx, "oxapay", "abc123", 42, repository.PaymentAmount{Amount: decimal.NewFromInt(10), Currency: "USD"})
	require.NoError(t, err)
	require.True(t, res.Inserted)

	b := bridge.New(16, 50*time.Millisecond)
	notifier := &countingNotifier{}
	flusher := &countingFlusher{}
	m := NewManager(Options{
		Bridge: b,
		Applier: applier.New(applier.Options{
			Transactions: txs,
			Users:        users,
			Notifier:     notifier,
		}),
		Sweeper: applier.NewSweeper(applier.SweeperOptions{
			Transactions: txs,
			Publisher:    b,
			Grace:        func() time.Duration { return 0 },
			Now:          func() time.Time { return time.Now().Add(time.Second) },
		}),
		SweepInterval: func() time.Duration { return time.Hour },
		DrainTimeout:  func() time.Duration { return 2 * time.Second },
		Counter:       flusher,
	})

	require.NoError(t, m.Start())
	assert.True(t, m.IsRunning())
	require.NoError(t, m.Start())

	require.Eventually(t, func() bool { return notifier.count() == 1 }, 5*time.Second, 10*time.Millisecond)

	tx, err := txs.GetByID(ctx, res.Transaction.ID)
	require.NoError(t, err)
	assert.NotNil(t, tx.NotifiedAt)

	n, err := m.TriggerSweep(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	m.Stop()
	assert.False(t, m.IsRunning())
	assert.GreaterOrEqual(t, flusher.calls.Load(), int32(1))
	assert.Equal(t, 1, notifier.count())
	m.Stop()
}

func TestManager_RefreshScheduleFollowsSweepInterval(t *testing.T) {
	ctx := context.Background()
	db, err := database.OpenSQLite(filepath.Join(t.TempDir(), "resched.db"))
	require.NoError(t, err)
	require.NoError(t, database.AutoMigrate(db))
	t.Cleanup(func() { _ = database.Close(db) })

	txs := repository.NewTransactionRepository(db)
	b := bridge.New(16, 50*time.Millisecond)
	notifier := &countingNotifier{}

	var interval atomic.Int64
	interval.Store(int64(time.Hour))
	m := NewManager(Options{
		Bridge: b,
		Applier: applier.New(applier.Options{
			Transactions: txs,
			Users:        repository.NewUserRepository(db),
			Notifier:     notifier,
		}),
		Sweeper: applier.NewSweeper(applier.SweeperOptions{
			Transactions: txs,
			Publisher:    b,
			Grace:        func() time.Duration { return 0 },
			Now:          func() time.Time { return time.Now().Add(time.Second) },
		}),
		SweepInterval: func() time.Duration { return time.Duration(interval.Load()) },
		DrainTimeout:  func() time.Duration { return 2 * time.Second },
	})
	require.NoError(t, m.Start())
	t.Cleanup(m.Stop)

	changed, err := m.RefreshSchedule()
	require.NoError(t, err)
	assert.False(t, changed)

	// let the start-up sweep pass before storing a row only a later sweep can find
	time.Sleep(100 * time.Millisecond)
	_, err = txs.RecordIfNew(ctx, "oxapay", "late-1", 42, repository.PaymentAmount{Amount: decimal.NewFromInt(5), Currency: "USD"})
	require.NoError(t, err)

	interval.Store(int64(50 * time.Millisecond))
	changed, err = m.RefreshSchedule()
	require.NoError(t, err)
	assert.True(t, changed)

	require.Eventually(t, func() bool { return notifier.count() == 1 }, 5*time.Second, 10*time.Millisecond)

	changed, err = m.RefreshSchedule()
	require.NoError(t, err)
	assert.False(t, changed)
}
