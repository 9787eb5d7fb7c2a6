package gateway

import (
	"strings"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractClaim(t *testing.T) {
	tests := []struct {
		name     string
		gateway  Gateway
		payload  string
		txID     string
		userID   int64
		amount   string
		currency string
		class    StatusClass
	}{
		{
			name:    "oxapay minimal confirmation",
			gateway: OxaPay,
			payload: `{"txId":"abc123","amount":"10.00"}`,
			txID:    "abc123",
			amount:  "10",
			class:   StatusPaid,
		},
		{
			name:     "oxapay order id with user",
			gateway:  OxaPay,
			payload:  `{"trackId":"vip_715520483_9F2A","orderId":"vip_715520483_9F2A","status":"Paid","amount":10.0,"currency":"USD"}`,
			txID:     "vip_715520483_9F2A",
			userID:   715520483,
			amount:   "10",
			currency: "USD",
			class:    StatusPaid,
		},
		{
			name:     "nowpayments numeric fields",
			gateway:  NOWPayments,
			payload:  `{"payment_id":5077125051,"order_id":"order_1700000000000_ABCD1234","payment_status":"finished","price_amount":9.99,"price_currency":"usd","user_id":"42"}`,
			txID:     "order_1700000000000_ABCD1234",
			userID:   42,
			amount:   "9.99",
			currency: "USD",
			class:    StatusPaid,
		},
		{
			name:    "cryptomus waiting status",
			gateway: Cryptomus,
			payload: `{"order_id":"vip_1_x","status":"confirm_check","amount":"10.00"}`,
			txID:    "vip_1_x",
			userID:  1,
			amount:  "10",
			class:   StatusInProgress,
		},
		{
			name:    "expired without amount",
			gateway: OxaPay,
			payload: `{"orderId":"order_9","status":"Expired"}`,
			txID:    "order_9",
			amount:  "0",
			class:   StatusFailed,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			claim, err := ExtractClaim(tc.gateway, []byte(tc.payload))
			require.NoError(t, err)
			assert.Equal(t, tc.gateway, claim.Gateway)
			assert.Equal(t, tc.txID, claim.GatewayTxID)
			assert.Equal(t, tc.userID, claim.UserID)
			assert.True(t, decimal.RequireFromString(tc.amount).Equal(claim.Amount), "amount %s", claim.Amount)
			assert.Equal(t, tc.currency, claim.Currency)
			assert.Equal(t, tc.class, claim.Class())
		})
	}
}

func TestExtractClaimRejectsInvalidPayloads(t *testing.T) {
	tests := []struct {
		name    string
		payload string
	}{
		{"not json", `txId=abc`},
		{"no id field", `{"amount":"10.00"}`},
		{"id with spaces", `{"txId":"abc 123","amount":"10.00"}`},
		{"id too long", `{"txId":"` + strings.Repeat("a", 65) + `","amount":"10.00"}`},
		{"zero amount", `{"txId":"abc","amount":"0"}`},
		{"negative amount", `{"txId":"abc","amount":"-5"}`},
		{"amount above limit", `{"txId":"abc","amount":"10000.01"}`},
		{"three decimals", `{"txId":"abc","amount":"10.001"}`},
		{"amount not a number", `{"txId":"abc","amount":"ten"}`},
		{"user id not a number", `{"txId":"abc","amount":"10","user_id":"bob"}`},
		{"user id too large", `{"txId":"abc","amount":"10","user_id":"99999999999"}`},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := ExtractClaim(OxaPay, []byte(tc.payload))
			assert.Error(t, err)
		})
	}
}

func TestClassifyStatus(t *testing.T) {
	tests := map[string]StatusClass{
		"":               StatusPaid,
		"Paid":           StatusPaid,
		"paid_over":      StatusPaid,
		"finished":       StatusPaid,
		"waiting":        StatusInProgress,
		"confirming":     StatusInProgress,
		"partially_paid": StatusInProgress,
		"Expired":        StatusFailed,
		"cancel":         StatusFailed,
		"refunded":       StatusFailed,
	}
	for in, want := range tests {
		assert.Equal(t, want, ClassifyStatus(in), in)
	}
}
