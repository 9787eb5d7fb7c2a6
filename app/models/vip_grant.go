package models

import "time"

// VIPGrant is the ledger entry written when a confirmed payment is turned
// into VIP time. One row per transaction.
type VIPGrant struct {
	ID             uint       `gorm:"primaryKey" json:"id"`
	TransactionID  uint       `gorm:"uniqueIndex;not null" json:"transaction_id"`
	UserID         int64      `gorm:"not null;index" json:"user_id"`
	DurationHours  int        `gorm:"not null" json:"duration_hours"`
	PreviousExpiry *time.Time `gorm:"default:null" json:"previous_expiry,omitempty"`
	NewExpiry      time.Time  `gorm:"not null" json:"new_expiry"`
	CreatedAt      time.Time  `gorm:"autoCreateTime" json:"created_at"`
}
