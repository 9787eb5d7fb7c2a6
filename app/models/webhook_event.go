package models

import "time"

// WebhookEvent is the audit trail of every webhook intake, including rejected
// ones. It is never used for deduplication; that is the transactions table.
type WebhookEvent struct {
	ID          uint      `gorm:"primaryKey" json:"id"`
	Gateway     string    `gorm:"type:varchar(20);not null;index" json:"gateway"`
	GatewayTxID string    `gorm:"column:gateway_tx_id;type:varchar(191);not null;default:'';index" json:"gateway_tx_id"`
	PayloadHash string    `gorm:"type:varchar(64);not null;index" json:"payload_hash"`
	Verdict     string    `gorm:"type:varchar(20);not null" json:"verdict"`
	Outcome     string    `gorm:"type:varchar(20);not null;index" json:"outcome"`
	SourceIP    string    `gorm:"column:source_ip;type:varchar(45);default:null" json:"source_ip"`
	Detail      string    `gorm:"type:text" json:"detail,omitempty"`
	CreatedAt   time.Time `gorm:"autoCreateTime;index" json:"created_at"`
}
