package applier

import (
	"context"
	"errors"
	"time"

	"github.com/gofiber/fiber/v2/log"

	"github.com/ManuelReschke/PayBridge/app/repository"
	"github.com/ManuelReschke/PayBridge/internal/pkg/bridge"
)

const sweepBatch = 100

// Publisher is the producer side of the bridge.
type Publisher interface {
	Publish(ctx context.Context, ev bridge.Event) error
}

type SweeperOptions struct {
	Transactions repository.TransactionRepository
	Publisher    Publisher
	// Grace skips rows confirmed so recently that their live event may still
	// sit in the bridge.
	Grace       func() time.Duration
	VIPDuration func() time.Duration
	Now         func() time.Time
}

// Sweeper re-enqueues confirmed transactions that were never applied.
type Sweeper struct {
	txs         repository.TransactionRepository
	publisher   Publisher
	grace       func() time.Duration
	vipDuration func() time.Duration
	now         func() time.Time
}

func NewSweeper(opts SweeperOptions) *Sweeper {
	s := &Sweeper{
		txs:         opts.Transactions,
		publisher:   opts.Publisher,
		grace:       opts.Grace,
		vipDuration: opts.VIPDuration,
		now:         opts.Now,
	}
	if s.grace == nil {
		s.grace = func() time.Duration { return 30 * time.Second }
	}
	if s.vipDuration == nil {
		s.vipDuration = func() time.Duration { return 30 * 24 * time.Hour }
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s
}

// SweepOnce publishes one batch of confirmed-but-unnotified transactions and
// returns how many were enqueued. It stops early when the bridge is saturated;
// the remaining rows wait for the next run.
func (s *Sweeper) SweepOnce(ctx context.Context) (int, error) {
	cutoff := s.now().Add(-s.grace())
	txs, err := s.txs.ListConfirmedUnnotified(ctx, cutoff, sweepBatch)
	if err != nil {
		return 0, err
	}
	if len(txs) == 0 {
		return 0, nil
	}

	duration := s.vipDuration()
	enqueued := 0
	for _, t := range txs {
		err := s.publisher.Publish(ctx, bridge.Event{
			TransactionID: t.ID,
			UserID:        t.UserID,
			Gateway:       t.Gateway,
			Amount:        t.Amount,
			Currency:      t.Currency,
			VIPDuration:   duration,
			Recovered:     true,
		})
		if err != nil {
			if errors.Is(err, bridge.ErrSaturatedQueue) {
				log.Warnf("[Sweep] Bridge saturated after %d of %d transactions", enqueued, len(txs))
				return enqueued, nil
			}
			return enqueued, err
		}
		enqueued++
	}
	log.Infof("[Sweep] Re-enqueued %d unnotified transactions", enqueued)
	return enqueued, nil
}
