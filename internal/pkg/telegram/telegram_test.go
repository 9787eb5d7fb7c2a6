package telegram

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/sony/gobreaker/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuelReschke/PayBridge/app/models"
	"github.com/ManuelReschke/PayBridge/internal/pkg/applier"
	"github.com/ManuelReschke/PayBridge/internal/pkg/payment"
)

type fakeBot struct {
	mu       sync.Mutex
	sendErr  error
	sent     []tgbotapi.MessageConfig
	requests []tgbotapi.Chattable
	updates  chan tgbotapi.Update
	stopped  bool
}

func newFakeBot() *fakeBot {
	return &fakeBot{updates: make(chan tgbotapi.Update, 8)}
}

func (b *fakeBot) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.sendErr != nil {
		return tgbotapi.Message{}, b.sendErr
	}
	if m, ok := c.(tgbotapi.MessageConfig); ok {
		b.sent = append(b.sent, m)
	}
	return tgbotapi.Message{MessageID: len(b.sent)}, nil
}

func (b *fakeBot) Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.requests = append(b.requests, c)
	return &tgbotapi.APIResponse{Ok: true}, nil
}

func (b *fakeBot) GetUpdatesChan(tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel {
	return b.updates
}

func (b *fakeBot) StopReceivingUpdates() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.stopped = true
}

func TestNotifier_SendsToUserAndAdmin(t *testing.T) {
	bot := newFakeBot()
	n := NewNotifier(bot, 99)

	require.NoError(t, n.NotifyUser(context.Background(), 42, "hello"))
	require.NoError(t, n.NotifyAdmin(context.Background(), "sale"))

	require.Len(t, bot.sent, 2)
	assert.Equal(t, int64(42), bot.sent[0].ChatID)
	assert.Equal(t, "hello", bot.sent[0].Text)
	assert.Equal(t, int64(99), bot.sent[1].ChatID)
}

func TestNotifier_AdminDisabledWithoutID(t *testing.T) {
	bot := newFakeBot()
	require.NoError(t, NewNotifier(bot, 0).NotifyAdmin(context.Background(), "sale"))
	assert.Empty(t, bot.sent)
}

func TestNotifier_BlockedUserIsUnreachable(t *testing.T) {
	bot := newFakeBot()
	bot.sendErr = &tgbotapi.Error{Code: 403, Message: "Forbidden: bot was blocked by the user"}
	n := NewNotifier(bot, 0)

	for i := 0; i < 5; i++ {
		err := n.NotifyUser(context.Background(), 42, "hello")
		assert.ErrorIs(t, err, applier.ErrRecipientUnreachable)
	}
	// blocked users do not trip the breaker
	assert.Equal(t, gobreaker.StateClosed, n.cb.State())
}

func TestNotifier_BreakerOpensOnOutage(t *testing.T) {
	bot := newFakeBot()
	bot.sendErr = errors.New("dial tcp: i/o timeout")
	n := NewNotifier(bot, 0)

	for i := 0; i < 3; i++ {
		assert.Error(t, n.NotifyUser(context.Background(), 42, "hello"))
	}
	err := n.NotifyUser(context.Background(), 42, "hello")
	assert.ErrorIs(t, err, gobreaker.ErrOpenState)
}

func TestClassify(t *testing.T) {
	assert.NoError(t, classify(nil))
	assert.ErrorIs(t, classify(errors.New("Bad Request: chat not found")), applier.ErrRecipientUnreachable)
	plain := errors.New("Too Many Requests: retry after 5")
	assert.Equal(t, plain, classify(plain))
}

type fakeStars struct {
	mu       sync.Mutex
	payments []payment.StarsPayment
}

func (f *fakeStars) HandleStarsPayment(_ context.Context, p payment.StarsPayment) payment.Result {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.payments = append(f.payments, p)
	return payment.Result{Outcome: payment.OutcomeAccepted}
}

func (f *fakeStars) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.payments)
}

type fakeUsers struct {
	user    *models.User
	ensured *[]int64
}

func (f fakeUsers) EnsureUser(_ context.Context, telegramID int64, username string) (*models.User, error) {
	if f.ensured != nil {
		*f.ensured = append(*f.ensured, telegramID)
	}
	return &models.User{TelegramID: telegramID, Username: username}, nil
}

func (f fakeUsers) GetByTelegramID(context.Context, int64) (*models.User, error) {
	if f.user == nil {
		return nil, errors.New("not found")
	}
	return f.user, nil
}

func TestPoller_PreCheckout(t *testing.T) {
	cases := []struct {
		name     string
		currency string
		payload  string
		ok       bool
	}{
		{"stars vip", "XTR", "vip_42_30d", true},
		{"wrong currency", "USD", "vip_42_30d", false},
		{"unknown product", "XTR", "gift", false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			bot := newFakeBot()
			p := NewPoller(bot, &fakeStars{}, nil)
			p.handle(context.Background(), tgbotapi.Update{PreCheckoutQuery: &tgbotapi.PreCheckoutQuery{
				ID: "q1", Currency: tc.currency, InvoicePayload: tc.payload, TotalAmount: 500,
			}})

			require.Len(t, bot.requests, 1)
			answer, ok := bot.requests[0].(tgbotapi.PreCheckoutConfig)
			require.True(t, ok)
			assert.Equal(t, "q1", answer.PreCheckoutQueryID)
			assert.Equal(t, tc.ok, answer.OK)
		})
	}
}

func TestPoller_RunFeedsSuccessfulPayments(t *testing.T) {
	bot := newFakeBot()
	stars := &fakeStars{}
	p := NewPoller(bot, stars, nil)

	bot.updates <- tgbotapi.Update{Message: &tgbotapi.Message{
		From: &tgbotapi.User{ID: 42},
		Chat: &tgbotapi.Chat{ID: 42},
		SuccessfulPayment: &tgbotapi.SuccessfulPayment{
			Currency:                "XTR",
			TotalAmount:             500,
			InvoicePayload:          "vip_42_30d",
			TelegramPaymentChargeID: "stxCharge-1",
		},
	}}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		p.Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool { return stars.count() == 1 }, time.Second, 5*time.Millisecond)
	cancel()
	<-done

	assert.Equal(t, payment.StarsPayment{
		ChargeID: "stxCharge-1", UserID: 42, Amount: 500, Currency: "XTR", InvoicePayload: "vip_42_30d",
	}, stars.payments[0])
	assert.True(t, bot.stopped)
}

func TestPoller_VIPCommand(t *testing.T) {
	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	expiry := now.Add(48 * time.Hour)
	bot := newFakeBot()
	p := NewPoller(bot, &fakeStars{}, fakeUsers{user: &models.User{TelegramID: 42, VIPExpiry: &expiry}})
	p.now = func() time.Time { return now }

	p.handle(context.Background(), tgbotapi.Update{Message: &tgbotapi.Message{
		From:     &tgbotapi.User{ID: 42},
		Chat:     &tgbotapi.Chat{ID: 42},
		Text:     "/vip",
		Entities: []tgbotapi.MessageEntity{{Type: "bot_command", Offset: 0, Length: 4}},
	}})

	require.Len(t, bot.sent, 1)
	assert.Contains(t, bot.sent[0].Text, "2026-03-03")
}

func TestPoller_StartRegistersUser(t *testing.T) {
	var ensured []int64
	bot := newFakeBot()
	p := NewPoller(bot, &fakeStars{}, fakeUsers{ensured: &ensured})

	p.handle(context.Background(), tgbotapi.Update{Message: &tgbotapi.Message{
		From:     &tgbotapi.User{ID: 77, UserName: "bob"},
		Chat:     &tgbotapi.Chat{ID: 77},
		Text:     "/start",
		Entities: []tgbotapi.MessageEntity{{Type: "bot_command", Offset: 0, Length: 6}},
	}})

	assert.Equal(t, []int64{77}, ensured)
	require.Len(t, bot.sent, 1)
	assert.Contains(t, bot.sent[0].Text, "/vip")
}
