// Package bridge hands confirmed payments from webhook handlers to the single
// applier loop.
package bridge

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"github.com/shopspring/decimal"
)

var (
	// ErrSaturatedQueue is returned when the buffer stayed full for the
	// whole publish timeout. The transaction remains for the sweep.
	ErrSaturatedQueue = errors.New("event bridge saturated")
	// ErrClosed is returned by Publish after Close, and by Next once the
	// buffer is drained after Close.
	ErrClosed = errors.New("event bridge closed")
)

// Event is a confirmed transaction waiting to be applied. It is passed by
// value, so the consumer never sees a partially built event.
type Event struct {
	TransactionID uint
	UserID        int64
	Gateway       string
	Amount        decimal.Decimal
	Currency      string
	VIPDuration   time.Duration
	Recovered     bool
}

// Bridge is a bounded FIFO with many producers and one consumer. Events from
// one producer keep their order, so one user's events are applied in the
// order they were published.
type Bridge struct {
	ch             chan Event
	publishTimeout time.Duration

	mu     sync.RWMutex
	closed bool
}

// New creates a bridge holding up to capacity events.
func New(capacity int, publishTimeout time.Duration) *Bridge {
	if capacity < 1 {
		capacity = 1
	}
	if publishTimeout <= 0 {
		publishTimeout = time.Second
	}
	return &Bridge{
		ch:             make(chan Event, capacity),
		publishTimeout: publishTimeout,
	}
}

// Publish enqueues ev. With a full buffer it blocks up to the publish
// timeout and then returns ErrSaturatedQueue; events are never dropped
// silently.
func (b *Bridge) Publish(ctx context.Context, ev Event) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return ErrClosed
	}

	select {
	case b.ch <- ev:
		return nil
	default:
	}

	timer := time.NewTimer(b.publishTimeout)
	defer timer.Stop()

	select {
	case b.ch <- ev:
		return nil
	case <-timer.C:
		log.Warnf("[Bridge] Queue full (%d), deferring tx %d to sweep", cap(b.ch), ev.TransactionID)
		return ErrSaturatedQueue
	case <-ctx.Done():
		return errors.Join(ErrSaturatedQueue, ctx.Err())
	}
}

// Next blocks until an event is available. After Close it keeps returning
// buffered events and then ErrClosed.
func (b *Bridge) Next(ctx context.Context) (Event, error) {
	select {
	case ev, ok := <-b.ch:
		if !ok {
			return Event{}, ErrClosed
		}
		return ev, nil
	case <-ctx.Done():
		return Event{}, ctx.Err()
	}
}

// Close stops accepting events. It waits for publishers blocked on a full
// buffer, which return within the publish timeout. Safe to call twice.
func (b *Bridge) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	close(b.ch)
}

// Len returns the number of buffered events.
func (b *Bridge) Len() int {
	return len(b.ch)
}

// Cap returns the buffer capacity.
func (b *Bridge) Cap() int {
	return cap(b.ch)
}
