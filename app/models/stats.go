package models

// GatewayDailyStat counts webhook outcomes per gateway and day.
type GatewayDailyStat struct {
	ID      uint   `gorm:"primaryKey" json:"id"`
	Day     string `gorm:"type:varchar(10);not null;index:ux_gateway_daily_stats,unique,priority:1" json:"day"`
	Gateway string `gorm:"type:varchar(20);not null;index:ux_gateway_daily_stats,unique,priority:2" json:"gateway"`
	Outcome string `gorm:"type:varchar(20);not null;index:ux_gateway_daily_stats,unique,priority:3" json:"outcome"`
	Total   int64  `gorm:"not null;default:0" json:"total"`
}

