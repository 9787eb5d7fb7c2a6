package apiv1

import "time"

// Pong defines model for Pong.
type Pong struct {
	Ping string `json:"ping"`
}

// BridgeStats defines model for BridgeStats.
type BridgeStats struct {
	Depth    int `json:"depth"`
	Capacity int `json:"capacity"`
}

// StatsResponse defines model for StatsResponse.
type StatsResponse struct {
	Transactions map[string]int64            `json:"transactions"`
	ActiveVIP    int64                       `json:"active_vip"`
	Bridge       BridgeStats                 `json:"bridge"`
	Today        map[string]map[string]int64 `json:"today"`
	Scheduler    bool                        `json:"scheduler_running"`
	GeneratedAt  time.Time                   `json:"generated_at"`
}

// SweepResponse defines model for SweepResponse.
type SweepResponse struct {
	Enqueued int `json:"enqueued"`
}

// InvoiceRequest defines model for InvoiceRequest.
type InvoiceRequest struct {
	Gateway  string `json:"gateway"`
	OrderID  string `json:"order_id"`
	UserID   int64  `json:"user_id"`
	Amount   string `json:"amount"`
	Currency string `json:"currency"`
}

// InvoiceResponse defines model for InvoiceResponse.
type InvoiceResponse struct {
	Created bool `json:"created"`
}

// WebhookEvent defines model for WebhookEvent.
type WebhookEvent struct {
	ID          uint      `json:"id"`
	Gateway     string    `json:"gateway"`
	GatewayTxID string    `json:"gateway_tx_id"`
	Verdict     string    `json:"verdict"`
	Outcome     string    `json:"outcome"`
	SourceIP    string    `json:"source_ip,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// GetEventsParams defines parameters for GetEvents.
type GetEventsParams struct {
	Limit *int `json:"limit,omitempty"`
}
