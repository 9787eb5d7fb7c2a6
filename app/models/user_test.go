package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestUserExtendVIP(t *testing.T) {
	now := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	month := 30 * 24 * time.Hour
	running := now.Add(10 * 24 * time.Hour)
	lapsed := now.Add(-time.Hour)

	tests := []struct {
		name   string
		expiry *time.Time
		want   time.Time
	}{
		{name: "never vip starts now", expiry: nil, want: now.Add(month)},
		{name: "running period is extended", expiry: &running, want: running.Add(month)},
		{name: "lapsed period restarts now", expiry: &lapsed, want: now.Add(month)},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			u := &User{TelegramID: 1, VIPExpiry: tc.expiry}
			assert.Equal(t, tc.want, u.ExtendVIP(now, month))
		})
	}
}

func TestUserIsVIP(t *testing.T) {
	now := time.Now()
	future := now.Add(time.Minute)
	past := now.Add(-time.Minute)

	assert.False(t, (&User{}).IsVIP(now))
	assert.True(t, (&User{VIPExpiry: &future}).IsVIP(now))
	assert.False(t, (&User{VIPExpiry: &past}).IsVIP(now))
}

func TestUserValidate(t *testing.T) {
	assert.NoError(t, (&User{TelegramID: 715520483}).Validate())
	assert.Error(t, (&User{TelegramID: 0}).Validate())
	assert.Error(t, (&User{TelegramID: 10000000000}).Validate())
}

func TestTransactionAwaitsApplication(t *testing.T) {
	now := time.Now()
	tx := &Transaction{Status: TransactionStatusConfirmed, UserID: 42}
	assert.True(t, tx.AwaitsApplication())
	assert.False(t, tx.IsSettled())

	tx.NotifiedAt = &now
	assert.False(t, tx.AwaitsApplication())
	assert.True(t, tx.IsSettled())

	assert.False(t, (&Transaction{Status: TransactionStatusPending, UserID: 42}).AwaitsApplication())

	unassigned := &Transaction{Status: TransactionStatusConfirmed}
	assert.True(t, unassigned.IsUnassigned())
	assert.False(t, unassigned.AwaitsApplication())
}
