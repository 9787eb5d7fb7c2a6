package models

import (
	"time"

	"github.com/go-playground/validator/v10"
)

// User is the bot user as far as VIP state goes. TelegramID is the chat id
// used for notifications.
type User struct {
	ID         uint       `gorm:"primaryKey" json:"id"`
	TelegramID int64      `gorm:"uniqueIndex;not null" json:"telegram_id" validate:"required,gt=0,lte=9999999999"`
	Username   string     `gorm:"type:varchar(64);default:null" json:"username" validate:"max=64"`
	VIPExpiry  *time.Time `gorm:"column:vip_expiry;default:null;index" json:"vip_expiry,omitempty"`
	CreatedAt  time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt  time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

func (u *User) Validate() error {
	v := validator.New()

	return v.Struct(u)
}

// IsVIP reports whether the VIP period is still running at now.
func (u *User) IsVIP(now time.Time) bool {
	return u.VIPExpiry != nil && u.VIPExpiry.After(now)
}

// ExtendVIP returns the expiry after adding d. Running VIP periods are
// extended from their current end, lapsed ones from now.
func (u *User) ExtendVIP(now time.Time, d time.Duration) time.Time {
	base := now
	if u.VIPExpiry != nil && u.VIPExpiry.After(now) {
		base = *u.VIPExpiry
	}
	return base.Add(d)
}
