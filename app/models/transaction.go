package models

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	TransactionStatusPending   = "pending"
	TransactionStatusConfirmed = "confirmed"
	TransactionStatusFailed    = "failed"
	// TransactionStatusDuplicate is never stored. It is the status reported
	// for a delivery whose idempotency key already exists.
	TransactionStatusDuplicate = "duplicate"

	// UnassignedUserID marks an authentic payment whose owner is not known
	// yet. Such a row is never applied until it is claimed.
	UnassignedUserID int64 = 0
)

// Transaction is one payment keyed by (gateway, gateway_tx_id). The unique
// index is the idempotency boundary for webhook deliveries.
type Transaction struct {
	ID          uint            `gorm:"primaryKey" json:"id"`
	Gateway     string          `gorm:"type:varchar(20);not null;index:ux_transactions_gateway_tx,unique,priority:1;index" json:"gateway"`
	GatewayTxID string          `gorm:"column:gateway_tx_id;type:varchar(191);not null;index:ux_transactions_gateway_tx,unique,priority:2" json:"gateway_tx_id"`
	UserID      int64           `gorm:"not null;index" json:"user_id"`
	Amount      decimal.Decimal `gorm:"type:decimal(12,2);not null" json:"amount"`
	Currency    string          `gorm:"type:varchar(10);not null;default:'USD'" json:"currency"`
	Status      string          `gorm:"type:varchar(20);not null;default:'pending';index:idx_transactions_status_notified,priority:1" json:"status"`
	Metadata    string          `gorm:"type:text" json:"metadata,omitempty"`
	ConfirmedAt *time.Time      `gorm:"default:null" json:"confirmed_at,omitempty"`
	NotifiedAt  *time.Time      `gorm:"default:null;index:idx_transactions_status_notified,priority:2" json:"notified_at,omitempty"`
	CreatedAt   time.Time       `gorm:"autoCreateTime;index" json:"created_at"`
	UpdatedAt   time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

// IsSettled reports whether the VIP grant for this payment has been made durable.
func (t *Transaction) IsSettled() bool {
	return t.NotifiedAt != nil
}

// IsUnassigned reports whether the payment still needs an owner.
func (t *Transaction) IsUnassigned() bool {
	return t.UserID == UnassignedUserID
}

// AwaitsApplication is true for confirmed, owned payments that were not
// applied yet.
func (t *Transaction) AwaitsApplication() bool {
	return t.Status == TransactionStatusConfirmed && t.NotifiedAt == nil && !t.IsUnassigned()
}
