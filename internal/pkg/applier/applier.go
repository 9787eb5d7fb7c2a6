// Package applier consumes bridged payment events on the bot side, grants
// VIP and notifies the buyer.
package applier

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2/log"

	"github.com/ManuelReschke/PayBridge/app/models"
	"github.com/ManuelReschke/PayBridge/app/repository"
	"github.com/ManuelReschke/PayBridge/internal/pkg/bridge"
)

var (
	// ErrNotificationDeliveryExhausted means every notify attempt failed. The
	// grant stands.
	ErrNotificationDeliveryExhausted = errors.New("notification delivery exhausted")
	// ErrRecipientUnreachable is returned by a Notifier when retrying cannot
	// help, e.g. the user blocked the bot.
	ErrRecipientUnreachable = errors.New("recipient unreachable")
)

// Notifier is the outbound transport of the bot front-end.
type Notifier interface {
	NotifyUser(ctx context.Context, userID int64, text string) error
	NotifyAdmin(ctx context.Context, text string) error
}

// EventSource is the consumer side of the bridge.
type EventSource interface {
	Next(ctx context.Context) (bridge.Event, error)
}

type Options struct {
	Transactions repository.TransactionRepository
	Users        repository.UserRepository
	Notifier     Notifier
	Policy       func() RetryPolicy
	Now          func() time.Time
	Sleep        func(ctx context.Context, d time.Duration) error
}

// Applier is the single consumer of the bridge. Apply must not run
// concurrently for the same transaction.
type Applier struct {
	txs      repository.TransactionRepository
	users    repository.UserRepository
	notifier Notifier
	policy   func() RetryPolicy
	now      func() time.Time
	sleep    func(ctx context.Context, d time.Duration) error
}

func New(opts Options) *Applier {
	a := &Applier{
		txs:      opts.Transactions,
		users:    opts.Users,
		notifier: opts.Notifier,
		policy:   opts.Policy,
		now:      opts.Now,
		sleep:    opts.Sleep,
	}
	if a.policy == nil {
		a.policy = DefaultRetryPolicy
	}
	if a.now == nil {
		a.now = time.Now
	}
	if a.sleep == nil {
		a.sleep = sleepCtx
	}
	return a
}

// Run consumes events until the source is closed and drained or ctx ends.
func (a *Applier) Run(ctx context.Context, src EventSource) error {
	log.Info("[Applier] Consumer loop started")
	for {
		ev, err := src.Next(ctx)
		if err != nil {
			if errors.Is(err, bridge.ErrClosed) {
				log.Info("[Applier] Bridge closed and drained, consumer loop stopped")
				return nil
			}
			return err
		}
		if err := a.Apply(ctx, ev); err != nil {
			log.Errorf("[Applier] tx %d left for sweep: %v", ev.TransactionID, err)
		}
	}
}

// Apply grants VIP for one confirmed transaction, marks it notified and then
// tries to tell the user. A returned error means the transaction is still
// unnotified and the sweep will hand it over again.
func (a *Applier) Apply(ctx context.Context, ev bridge.Event) error {
	tx, err := a.txs.GetByID(ctx, ev.TransactionID)
	if err != nil {
		return fmt.Errorf("load transaction: %w", err)
	}
	if !tx.AwaitsApplication() {
		log.Debugf("[Applier] tx %d already settled (status %s), skipping", tx.ID, tx.Status)
		return nil
	}

	grant, applied, err := a.users.ApplyVIPGrant(ctx, repository.GrantRequest{
		TransactionID: tx.ID,
		UserID:        tx.UserID,
		Duration:      ev.VIPDuration,
		Now:           a.now(),
	})
	if err != nil {
		return fmt.Errorf("apply vip grant: %w", err)
	}
	if err := a.txs.MarkNotified(ctx, tx.ID); err != nil {
		return fmt.Errorf("mark notified: %w", err)
	}
	if !applied {
		// a previous run granted but crashed before MarkNotified
		log.Infof("[Applier] tx %d grant already present, settled without new extension", tx.ID)
	} else {
		log.Infof("[Applier] tx %d: VIP for user %d until %s", tx.ID, tx.UserID, grant.NewExpiry.Format(time.RFC3339))
	}

	if err := a.deliver(ctx, tx, func(ctx context.Context) error {
		return a.notifier.NotifyUser(ctx, tx.UserID, userMessage(grant))
	}); err != nil {
		log.Errorf("[Applier] tx %d: user %d was not notified: %v", tx.ID, tx.UserID, err)
	}
	if applied {
		if err := a.deliver(ctx, tx, func(ctx context.Context) error {
			return a.notifier.NotifyAdmin(ctx, adminMessage(tx, grant))
		}); err != nil {
			log.Warnf("[Applier] tx %d: admin sale notice failed: %v", tx.ID, err)
		}
	}
	return nil
}

func (a *Applier) deliver(ctx context.Context, tx *models.Transaction, send func(context.Context) error) error {
	policy := a.policy()
	attempts := policy.attempts()
	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err = send(ctx); err == nil {
			return nil
		}
		if errors.Is(err, ErrRecipientUnreachable) {
			return err
		}
		if attempt == attempts {
			break
		}
		d := policy.Delay(attempt)
		log.Warnf("[Applier] tx %d: delivery attempt %d/%d failed, retrying in %s: %v", tx.ID, attempt, attempts, d, err)
		if serr := a.sleep(ctx, d); serr != nil {
			return errors.Join(ErrNotificationDeliveryExhausted, err, serr)
		}
	}
	return fmt.Errorf("%w after %d attempts: %w", ErrNotificationDeliveryExhausted, attempts, err)
}

func userMessage(grant *models.VIPGrant) string {
	return fmt.Sprintf("Payment received. Your VIP access is active until %s UTC.",
		grant.NewExpiry.UTC().Format("2006-01-02 15:04"))
}

func adminMessage(tx *models.Transaction, grant *models.VIPGrant) string {
	return fmt.Sprintf("New sale: %s %s via %s (%s), user %d, VIP until %s",
		tx.Amount.StringFixed(2), tx.Currency, tx.Gateway, tx.GatewayTxID, tx.UserID,
		grant.NewExpiry.UTC().Format("2006-01-02"))
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
