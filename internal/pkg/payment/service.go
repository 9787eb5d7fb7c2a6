// Package payment runs the intake pipeline: verify, record once, hand over
// to the applier.
package payment

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"github.com/shopspring/decimal"

	"github.com/ManuelReschke/PayBridge/app/models"
	"github.com/ManuelReschke/PayBridge/app/repository"
	"github.com/ManuelReschke/PayBridge/internal/pkg/bridge"
	"github.com/ManuelReschke/PayBridge/internal/pkg/gateway"
)

const (
	StarsCurrency   = "XTR"
	storageAttempts = 3
)

var starsChargeID = regexp.MustCompile(`^[\x21-\x7e]{1,191}$`)

// Publisher accepts confirmed transactions for application.
type Publisher interface {
	Publish(ctx context.Context, ev bridge.Event) error
}

// OutcomeRecorder counts intake outcomes.
type OutcomeRecorder interface {
	RecordOutcome(ctx context.Context, gateway, outcome string) error
}

// Options wires a Service. Audit and Recorder are optional.
type Options struct {
	Verifier     *gateway.Verifier
	Transactions repository.TransactionRepository
	Audit        repository.WebhookEventRepository
	Publisher    Publisher
	Recorder     OutcomeRecorder
	VIPDuration  func() time.Duration
	RetryDelay   time.Duration
}

// Service is safe for concurrent use by many webhook handlers.
type Service struct {
	verifier     *gateway.Verifier
	transactions repository.TransactionRepository
	audit        repository.WebhookEventRepository
	publisher    Publisher
	recorder     OutcomeRecorder
	vipDuration  func() time.Duration
	retryDelay   time.Duration
}

func NewService(opts Options) *Service {
	vip := opts.VIPDuration
	if vip == nil {
		vip = func() time.Duration { return 30 * 24 * time.Hour }
	}
	delay := opts.RetryDelay
	if delay <= 0 {
		delay = 100 * time.Millisecond
	}
	return &Service{
		verifier:     opts.Verifier,
		transactions: opts.Transactions,
		audit:        opts.Audit,
		publisher:    opts.Publisher,
		recorder:     opts.Recorder,
		vipDuration:  vip,
		retryDelay:   delay,
	}
}

// StarsPayment is a successful Telegram Stars charge.
type StarsPayment struct {
	ChargeID       string
	UserID         int64
	Amount         int64
	Currency       string
	InvoicePayload string
}

// HandleWebhook runs one HTTP delivery through the pipeline.
func (s *Service) HandleWebhook(ctx context.Context, n gateway.Notification) Result {
	res := s.handleWebhook(ctx, n)
	s.record(ctx, n.Gateway, n.RawPayload, n.SourceIP, res)
	return res
}

func (s *Service) handleWebhook(ctx context.Context, n gateway.Notification) Result {
	verdict := s.verifier.Verify(n)
	switch verdict {
	case gateway.Forged:
		log.Warnf("[Webhook] %s: rejected forged notification from %s", n.Gateway, n.SourceIP)
		return Result{Outcome: OutcomeForged, Verdict: verdict}
	case gateway.Malformed:
		log.Warnf("[Webhook] %s: rejected malformed notification from %s", n.Gateway, n.SourceIP)
		return Result{Outcome: OutcomeMalformed, Verdict: verdict}
	}

	claim, err := gateway.ExtractClaim(n.Gateway, n.RawPayload)
	if err != nil {
		log.Warnf("[Webhook] %s: authentic payload failed validation: %v", n.Gateway, err)
		return Result{Outcome: OutcomeMalformed, Verdict: verdict, Detail: err.Error()}
	}

	switch claim.Class() {
	case gateway.StatusFailed:
		var rejected bool
		err := s.withStorageRetry(ctx, func() error {
			var rerr error
			rejected, rerr = s.transactions.Reject(ctx, n.Gateway.String(), claim.GatewayTxID)
			return rerr
		})
		if err != nil {
			log.Errorf("[Webhook] %s: reject %s failed: %v", n.Gateway, claim.GatewayTxID, err)
			return Result{Outcome: OutcomeTransientFailure, Verdict: verdict, GatewayTxID: claim.GatewayTxID, Detail: err.Error()}
		}
		log.Infof("[Webhook] %s: %s reported %q (intent rejected: %t)", n.Gateway, claim.GatewayTxID, claim.Status, rejected)
		return Result{Outcome: OutcomeIgnored, Verdict: verdict, GatewayTxID: claim.GatewayTxID, Detail: "status " + claim.Status}
	case gateway.StatusInProgress:
		log.Debugf("[Webhook] %s: %s in progress (%s)", n.Gateway, claim.GatewayTxID, claim.Status)
		return Result{Outcome: OutcomeIgnored, Verdict: verdict, GatewayTxID: claim.GatewayTxID, Detail: "status " + claim.Status}
	}

	res := s.confirm(ctx, n.Gateway, claim.GatewayTxID, claim.UserID, repository.PaymentAmount{
		Amount:   claim.Amount,
		Currency: claim.Currency,
	})
	res.Verdict = verdict
	return res
}

// HandleStarsPayment feeds a Stars charge into the pipeline. Signature checks
// do not apply; deduplication by charge id does.
func (s *Service) HandleStarsPayment(ctx context.Context, p StarsPayment) Result {
	res := s.handleStars(ctx, p)
	s.record(ctx, gateway.Stars, []byte(p.ChargeID+"|"+p.InvoicePayload), "", res)
	return res
}

func (s *Service) handleStars(ctx context.Context, p StarsPayment) Result {
	chargeID := strings.TrimSpace(p.ChargeID)
	switch {
	case !starsChargeID.MatchString(chargeID):
		return Result{Outcome: OutcomeMalformed, Verdict: gateway.Malformed, Detail: "invalid charge id"}
	case p.UserID <= 0 || p.UserID > 9999999999:
		return Result{Outcome: OutcomeMalformed, Verdict: gateway.Malformed, GatewayTxID: chargeID, Detail: "invalid user id"}
	case !strings.EqualFold(p.Currency, StarsCurrency):
		return Result{Outcome: OutcomeMalformed, Verdict: gateway.Malformed, GatewayTxID: chargeID, Detail: "currency " + p.Currency}
	case p.Amount <= 0:
		return Result{Outcome: OutcomeMalformed, Verdict: gateway.Malformed, GatewayTxID: chargeID, Detail: "non-positive amount"}
	}

	res := s.confirm(ctx, gateway.Stars, chargeID, p.UserID, repository.PaymentAmount{
		Amount:   decimal.NewFromInt(p.Amount),
		Currency: StarsCurrency,
	})
	res.Verdict = gateway.Authentic
	return res
}

// RegisterInvoice records a pending intent for an order the bot front-end
// created, so a later webhook can be matched to the user. When the payment
// already arrived without an owner, the call claims it and queues it.
func (s *Service) RegisterInvoice(ctx context.Context, g gateway.Gateway, orderID string, userID int64, amount decimal.Decimal, currency string) (bool, error) {
	if !g.HasWebhook() {
		return false, fmt.Errorf("gateway %q has no webhook", g)
	}
	currency = strings.ToUpper(strings.TrimSpace(currency))
	claim := gateway.Claim{Gateway: g, GatewayTxID: orderID, UserID: userID, Amount: amount, Currency: currency}
	if err := claim.Validate(); err != nil {
		return false, err
	}
	if userID <= 0 {
		return false, errors.New("user id is required")
	}
	created, err := s.transactions.RegisterPending(ctx, g.String(), orderID, userID, repository.PaymentAmount{Amount: amount, Currency: currency})
	if err != nil || created {
		return created, err
	}

	t, claimed, err := s.transactions.ClaimUnassigned(ctx, g.String(), orderID, userID)
	if err != nil || !claimed {
		return false, err
	}
	log.Infof("[Webhook] %s: unassigned tx %d (%s) claimed by user %d", g, t.ID, t.GatewayTxID, userID)
	if err := s.publisher.Publish(ctx, s.eventFor(t)); err != nil {
		log.Warnf("[Webhook] %s: claimed tx %d not queued, left for sweep: %v", g, t.ID, err)
	}
	return true, nil
}

func (s *Service) eventFor(t *models.Transaction) bridge.Event {
	return bridge.Event{
		TransactionID: t.ID,
		UserID:        t.UserID,
		Gateway:       t.Gateway,
		Amount:        t.Amount,
		Currency:      t.Currency,
		VIPDuration:   s.vipDuration(),
	}
}

func (s *Service) confirm(ctx context.Context, g gateway.Gateway, txID string, userID int64, amount repository.PaymentAmount) Result {
	var rec repository.RecordResult
	err := s.withStorageRetry(ctx, func() error {
		var rerr error
		rec, rerr = s.transactions.RecordIfNew(ctx, g.String(), txID, userID, amount)
		return rerr
	})
	if err != nil {
		log.Errorf("[Webhook] %s: storing %s failed: %v", g, txID, err)
		return Result{Outcome: OutcomeTransientFailure, GatewayTxID: txID, Detail: err.Error()}
	}

	if !rec.Inserted {
		log.Infof("[Webhook] %s: duplicate delivery for %s (status %s)", g, txID, rec.ExistingStatus)
		return Result{
			Outcome:        OutcomeDuplicate,
			GatewayTxID:    txID,
			TransactionID:  rec.Transaction.ID,
			ExistingStatus: rec.ExistingStatus,
		}
	}

	t := rec.Transaction
	if t.IsUnassigned() {
		log.Warnf("[Webhook] %s: tx %d (%s) confirmed without an owner, waiting for a claim", g, t.ID, txID)
		return Result{Outcome: OutcomeUnassigned, GatewayTxID: txID, TransactionID: t.ID, Detail: "no owner"}
	}
	if err := s.publisher.Publish(ctx, s.eventFor(t)); err != nil {
		log.Warnf("[Webhook] %s: tx %d confirmed but not queued, left for sweep: %v", g, t.ID, err)
		return Result{Outcome: OutcomeDeferred, GatewayTxID: txID, TransactionID: t.ID, Detail: err.Error()}
	}

	log.Infof("[Webhook] %s: tx %d (%s) confirmed for user %d", g, t.ID, txID, t.UserID)
	return Result{Outcome: OutcomeAccepted, GatewayTxID: txID, TransactionID: t.ID}
}

// withStorageRetry retries transient storage failures a few times within
// the request before the gateway is asked to redeliver.
func (s *Service) withStorageRetry(ctx context.Context, op func() error) error {
	delay := s.retryDelay
	var err error
	for attempt := 1; attempt <= storageAttempts; attempt++ {
		err = op()
		if err == nil || !errors.Is(err, repository.ErrTransientStorage) {
			return err
		}
		if attempt == storageAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return errors.Join(err, ctx.Err())
		case <-time.After(delay):
		}
		delay *= 2
	}
	return err
}

func (s *Service) record(ctx context.Context, g gateway.Gateway, payload []byte, sourceIP string, res Result) {
	if s.recorder != nil {
		if err := s.recorder.RecordOutcome(ctx, g.String(), res.Outcome.String()); err != nil {
			log.Debugf("[Webhook] outcome counter unavailable: %v", err)
		}
	}
	if s.audit == nil {
		return
	}
	sum := sha256.Sum256(payload)
	event := &models.WebhookEvent{
		Gateway:     g.String(),
		GatewayTxID: res.GatewayTxID,
		PayloadHash: hex.EncodeToString(sum[:]),
		Verdict:     res.Verdict.String(),
		Outcome:     res.Outcome.String(),
		SourceIP:    sourceIP,
		Detail:      truncate(res.Detail, 500),
	}
	if err := s.audit.Create(ctx, event); err != nil {
		log.Warnf("[Webhook] audit write failed: %v", err)
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
