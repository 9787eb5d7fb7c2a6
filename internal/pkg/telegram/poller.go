package telegram

import (
	"context"
	"fmt"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/gofiber/fiber/v2/log"

	"github.com/ManuelReschke/PayBridge/app/models"
	"github.com/ManuelReschke/PayBridge/internal/pkg/payment"
)

const (
	VIPPayloadPrefix = "vip"
	updateTimeout    = 60
)

// StarsHandler takes successful Stars charges into the payment pipeline.
type StarsHandler interface {
	HandleStarsPayment(ctx context.Context, p payment.StarsPayment) payment.Result
}

// UserLookup answers /start and /vip.
type UserLookup interface {
	GetByTelegramID(ctx context.Context, telegramID int64) (*models.User, error)
	EnsureUser(ctx context.Context, telegramID int64, username string) (*models.User, error)
}

// Poller long-polls bot updates and handles the payment related ones.
type Poller struct {
	bot   BotAPI
	stars StarsHandler
	users UserLookup
	now   func() time.Time
}

func NewPoller(bot BotAPI, stars StarsHandler, users UserLookup) *Poller {
	return &Poller{bot: bot, stars: stars, users: users, now: time.Now}
}

// Run blocks until ctx is cancelled or the update channel closes.
func (p *Poller) Run(ctx context.Context) {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = updateTimeout
	u.AllowedUpdates = []string{"message", "pre_checkout_query"}
	updates := p.bot.GetUpdatesChan(u)

	log.Info("[Telegram] Update poller started")
	for {
		select {
		case <-ctx.Done():
			p.bot.StopReceivingUpdates()
			log.Info("[Telegram] Update poller stopped")
			return
		case update, ok := <-updates:
			if !ok {
				return
			}
			p.handle(ctx, update)
		}
	}
}

func (p *Poller) handle(ctx context.Context, update tgbotapi.Update) {
	switch {
	case update.PreCheckoutQuery != nil:
		p.answerPreCheckout(update.PreCheckoutQuery)
	case update.Message != nil && update.Message.SuccessfulPayment != nil:
		p.handleSuccessfulPayment(ctx, update.Message)
	case update.Message != nil && update.Message.IsCommand():
		switch update.Message.Command() {
		case "start":
			p.registerUser(ctx, update.Message)
		case "vip":
			p.replyVIPStatus(ctx, update.Message)
		}
	}
}

func (p *Poller) answerPreCheckout(q *tgbotapi.PreCheckoutQuery) {
	answer := tgbotapi.PreCheckoutConfig{PreCheckoutQueryID: q.ID, OK: true}
	switch {
	case !strings.EqualFold(q.Currency, payment.StarsCurrency):
		answer.OK = false
		answer.ErrorMessage = "Only Telegram Stars are accepted."
	case !strings.HasPrefix(q.InvoicePayload, VIPPayloadPrefix):
		answer.OK = false
		answer.ErrorMessage = "Unknown product."
	}
	if _, err := p.bot.Request(answer); err != nil {
		log.Errorf("[Telegram] answering pre-checkout %s failed: %v", q.ID, err)
	}
}

func (p *Poller) handleSuccessfulPayment(ctx context.Context, m *tgbotapi.Message) {
	sp := m.SuccessfulPayment
	var userID int64
	if m.From != nil {
		userID = m.From.ID
	}
	res := p.stars.HandleStarsPayment(ctx, payment.StarsPayment{
		ChargeID:       sp.TelegramPaymentChargeID,
		UserID:         userID,
		Amount:         int64(sp.TotalAmount),
		Currency:       sp.Currency,
		InvoicePayload: sp.InvoicePayload,
	})
	switch res.Outcome {
	case payment.OutcomeAccepted, payment.OutcomeDuplicate, payment.OutcomeDeferred:
		log.Infof("[Telegram] Stars charge %s from user %d: %s", sp.TelegramPaymentChargeID, userID, res.Outcome)
	default:
		log.Errorf("[Telegram] Stars charge %s from user %d not recorded: %s (%s)",
			sp.TelegramPaymentChargeID, userID, res.Outcome, res.Detail)
	}
}

func (p *Poller) registerUser(ctx context.Context, m *tgbotapi.Message) {
	if m.From == nil || p.users == nil {
		return
	}
	if _, err := p.users.EnsureUser(ctx, m.From.ID, m.From.UserName); err != nil {
		log.Errorf("[Telegram] registering user %d failed: %v", m.From.ID, err)
		return
	}
	p.reply(m, "Welcome! Use /vip to check your VIP status.")
}

func (p *Poller) reply(m *tgbotapi.Message, text string) {
	if _, err := p.bot.Send(tgbotapi.NewMessage(m.Chat.ID, text)); err != nil {
		log.Warnf("[Telegram] reply to %d failed: %v", m.Chat.ID, err)
	}
}

func (p *Poller) replyVIPStatus(ctx context.Context, m *tgbotapi.Message) {
	if m.From == nil || p.users == nil {
		return
	}
	text := "You have no active VIP."
	user, err := p.users.GetByTelegramID(ctx, m.From.ID)
	if err == nil && user.IsVIP(p.now()) {
		text = fmt.Sprintf("VIP active until %s UTC.", user.VIPExpiry.UTC().Format("2006-01-02 15:04"))
	}
	p.reply(m, text)
}
