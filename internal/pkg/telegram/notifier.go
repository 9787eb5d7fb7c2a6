// Package telegram is the bot transport: outbound notices and the Stars
// payment update loop.
package telegram

import (
	"context"
	"errors"
	"fmt"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/gofiber/fiber/v2/log"
	"github.com/sony/gobreaker/v2"

	"github.com/ManuelReschke/PayBridge/internal/pkg/applier"
)

// BotAPI is the subset of *tgbotapi.BotAPI used here.
type BotAPI interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
	GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
	StopReceivingUpdates()
}

// NewBot connects with the bot token.
func NewBot(token string, debug bool) (*tgbotapi.BotAPI, error) {
	if token == "" {
		return nil, errors.New("TELEGRAM_BOT_TOKEN is not set")
	}
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("telegram login: %w", err)
	}
	bot.Debug = debug
	log.Infof("[Telegram] Authorized as @%s", bot.Self.UserName)
	return bot, nil
}

// Notifier sends messages through a circuit breaker so a Telegram outage
// fails fast instead of stalling the applier on every retry.
type Notifier struct {
	bot     BotAPI
	adminID int64
	cb      *gobreaker.CircuitBreaker[tgbotapi.Message]
}

func NewNotifier(bot BotAPI, adminID int64) *Notifier {
	return &Notifier{
		bot:     bot,
		adminID: adminID,
		cb:      newBreaker("telegram-send"),
	}
}

func newBreaker(name string) *gobreaker.CircuitBreaker[tgbotapi.Message] {
	var st gobreaker.Settings
	st.Name = name
	st.ReadyToTrip = func(counts gobreaker.Counts) bool {
		failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
		return counts.Requests >= 3 && failureRatio >= 0.6
	}
	// a blocked user is not a transport failure
	st.IsSuccessful = func(err error) bool {
		return err == nil || errors.Is(err, applier.ErrRecipientUnreachable)
	}
	st.OnStateChange = func(name string, from, to gobreaker.State) {
		log.Warnf("[Telegram] Circuit %s: %s -> %s", name, from, to)
	}
	return gobreaker.NewCircuitBreaker[tgbotapi.Message](st)
}

func (n *Notifier) NotifyUser(ctx context.Context, userID int64, text string) error {
	return n.send(ctx, userID, text)
}

// NotifyAdmin is a no-op without ADMIN_ID.
func (n *Notifier) NotifyAdmin(ctx context.Context, text string) error {
	if n.adminID == 0 {
		return nil
	}
	return n.send(ctx, n.adminID, text)
}

func (n *Notifier) send(ctx context.Context, chatID int64, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	_, err := n.cb.Execute(func() (tgbotapi.Message, error) {
		msg, err := n.bot.Send(tgbotapi.NewMessage(chatID, text))
		return msg, classify(err)
	})
	return err
}

// classify maps permanent Telegram refusals to ErrRecipientUnreachable.
func classify(err error) error {
	if err == nil {
		return nil
	}
	var apiErr *tgbotapi.Error
	if errors.As(err, &apiErr) && apiErr.Code == 403 {
		return fmt.Errorf("%w: %s", applier.ErrRecipientUnreachable, apiErr.Message)
	}
	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "chat not found") || strings.Contains(msg, "bot was blocked") ||
		strings.Contains(msg, "user is deactivated") {
		return fmt.Errorf("%w: %v", applier.ErrRecipientUnreachable, err)
	}
	return err
}
