package models

import (
	"encoding/json"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"gorm.io/gorm"
)

// Setting represents a system setting
type Setting struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	Key       string    `gorm:"column:setting_key;size:255;not null;uniqueIndex" json:"key" validate:"required,min=1,max=255"`
	Value     string    `gorm:"type:text" json:"value"`
	Type      string    `gorm:"size:50;not null" json:"type" validate:"required"` // string, boolean, integer, float
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// AppSettings holds the runtime tunables of the payment pipeline.
type AppSettings struct {
	BridgeCapacity        int `json:"bridge_capacity" validate:"min=1,max=100000"`
	PublishTimeoutMillis  int `json:"publish_timeout_millis" validate:"min=1,max=60000"`
	SweepIntervalSeconds  int `json:"sweep_interval_seconds" validate:"min=5,max=86400"`
	SweepGraceSeconds     int `json:"sweep_grace_seconds" validate:"min=0,max=3600"`
	VIPDurationDays       int `json:"vip_duration_days" validate:"min=1,max=3650"`
	NotifyBaseDelayMillis int `json:"notify_base_delay_millis" validate:"min=1"`
	NotifyMaxDelayMillis  int `json:"notify_max_delay_millis" validate:"min=1,gtefield=NotifyBaseDelayMillis"`
	NotifyMaxAttempts     int `json:"notify_max_attempts" validate:"min=1,max=50"`
	DrainTimeoutSeconds   int `json:"drain_timeout_seconds" validate:"min=1,max=600"`
	mu                    sync.RWMutex
}

// Global settings instance
var (
	appSettings *AppSettings
	settingsMu  sync.RWMutex
)

// DefaultAppSettings returns the built-in defaults.
func DefaultAppSettings() *AppSettings {
	return &AppSettings{
		BridgeCapacity:        256,
		PublishTimeoutMillis:  2000,
		SweepIntervalSeconds:  60,
		SweepGraceSeconds:     30,
		VIPDurationDays:       30,
		NotifyBaseDelayMillis: 1000,
		NotifyMaxDelayMillis:  30000,
		NotifyMaxAttempts:     5,
		DrainTimeoutSeconds:   10,
	}
}

// GetAppSettings returns the current application settings
func GetAppSettings() *AppSettings {
	settingsMu.RLock()
	defer settingsMu.RUnlock()
	return appSettings
}

// LoadSettings loads settings from database into memory. Values missing from
// the database fall back to defaults, which callers may pre-seed (e.g. from env).
func LoadSettings(db *gorm.DB, defaults *AppSettings) error {
	settingsMu.Lock()
	defer settingsMu.Unlock()

	if defaults == nil {
		defaults = DefaultAppSettings()
	}
	loaded := defaults.clone()

	var settings []Setting
	if err := db.Find(&settings).Error; err != nil {
		return fmt.Errorf("failed to load settings: %w", err)
	}

	for _, setting := range settings {
		target := loaded.field(setting.Key)
		if target == nil {
			continue
		}
		v, err := strconv.Atoi(setting.Value)
		if err != nil {
			return fmt.Errorf("setting %s: %w", setting.Key, err)
		}
		*target = v
	}

	if err := loaded.Validate(); err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}

	appSettings = loaded
	return nil
}

// SaveSettings saves current settings to database
func SaveSettings(db *gorm.DB, settings *AppSettings) error {
	settingsMu.Lock()
	defer settingsMu.Unlock()

	if err := settings.Validate(); err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}

	for key, value := range settings.toMap() {
		var setting Setting
		result := db.Where("setting_key = ?", key).First(&setting)

		if result.Error != nil {
			if result.Error == gorm.ErrRecordNotFound {
				setting = Setting{
					Key:   key,
					Value: strconv.Itoa(value),
					Type:  "integer",
				}
				if err := db.Create(&setting).Error; err != nil {
					return fmt.Errorf("failed to create setting %s: %w", key, err)
				}
			} else {
				return fmt.Errorf("failed to query setting %s: %w", key, result.Error)
			}
		} else {
			setting.Value = strconv.Itoa(value)
			if err := db.Save(&setting).Error; err != nil {
				return fmt.Errorf("failed to update setting %s: %w", key, err)
			}
		}
	}

	appSettings = settings
	return nil
}

func (s *AppSettings) field(key string) *int {
	switch key {
	case "bridge_capacity":
		return &s.BridgeCapacity
	case "publish_timeout_millis":
		return &s.PublishTimeoutMillis
	case "sweep_interval_seconds":
		return &s.SweepIntervalSeconds
	case "sweep_grace_seconds":
		return &s.SweepGraceSeconds
	case "vip_duration_days":
		return &s.VIPDurationDays
	case "notify_base_delay_millis":
		return &s.NotifyBaseDelayMillis
	case "notify_max_delay_millis":
		return &s.NotifyMaxDelayMillis
	case "notify_max_attempts":
		return &s.NotifyMaxAttempts
	case "drain_timeout_seconds":
		return &s.DrainTimeoutSeconds
	}
	return nil
}

func (s *AppSettings) toMap() map[string]int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return map[string]int{
		"bridge_capacity":          s.BridgeCapacity,
		"publish_timeout_millis":   s.PublishTimeoutMillis,
		"sweep_interval_seconds":   s.SweepIntervalSeconds,
		"sweep_grace_seconds":      s.SweepGraceSeconds,
		"vip_duration_days":        s.VIPDurationDays,
		"notify_base_delay_millis": s.NotifyBaseDelayMillis,
		"notify_max_delay_millis":  s.NotifyMaxDelayMillis,
		"notify_max_attempts":      s.NotifyMaxAttempts,
		"drain_timeout_seconds":    s.DrainTimeoutSeconds,
	}
}

func (s *AppSettings) clone() *AppSettings {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return &AppSettings{
		BridgeCapacity:        s.BridgeCapacity,
		PublishTimeoutMillis:  s.PublishTimeoutMillis,
		SweepIntervalSeconds:  s.SweepIntervalSeconds,
		SweepGraceSeconds:     s.SweepGraceSeconds,
		VIPDurationDays:       s.VIPDurationDays,
		NotifyBaseDelayMillis: s.NotifyBaseDelayMillis,
		NotifyMaxDelayMillis:  s.NotifyMaxDelayMillis,
		NotifyMaxAttempts:     s.NotifyMaxAttempts,
		DrainTimeoutSeconds:   s.DrainTimeoutSeconds,
	}
}

// Validate validates the settings
func (s *AppSettings) Validate() error {
	validate := validator.New()
	return validate.Struct(s)
}

// ToJSON converts settings to JSON
func (s *AppSettings) ToJSON() ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return json.Marshal(s)
}

// GetBridgeCapacity returns the event bridge buffer size
func (s *AppSettings) GetBridgeCapacity() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.BridgeCapacity
}

// GetPublishTimeout returns how long a webhook waits on a full bridge
func (s *AppSettings) GetPublishTimeout() time.Duration {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return time.Duration(s.PublishTimeoutMillis) * time.Millisecond
}

// GetSweepInterval returns the recovery sweep period
func (s *AppSettings) GetSweepInterval() time.Duration {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return time.Duration(s.SweepIntervalSeconds) * time.Second
}

// GetSweepGrace returns the minimum age of a confirmed transaction before
// the periodic sweep picks it up
func (s *AppSettings) GetSweepGrace() time.Duration {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return time.Duration(s.SweepGraceSeconds) * time.Second
}

// GetVIPDuration returns the VIP time granted per payment
func (s *AppSettings) GetVIPDuration() time.Duration {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return time.Duration(s.VIPDurationDays) * 24 * time.Hour
}

// GetNotifyBaseDelay returns the first notification retry delay
func (s *AppSettings) GetNotifyBaseDelay() time.Duration {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return time.Duration(s.NotifyBaseDelayMillis) * time.Millisecond
}

// GetNotifyMaxDelay returns the notification retry delay cap
func (s *AppSettings) GetNotifyMaxDelay() time.Duration {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return time.Duration(s.NotifyMaxDelayMillis) * time.Millisecond
}

// GetNotifyMaxAttempts returns the notification attempt limit
func (s *AppSettings) GetNotifyMaxAttempts() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.NotifyMaxAttempts
}

// GetDrainTimeout returns how long shutdown waits for queued events
func (s *AppSettings) GetDrainTimeout() time.Duration {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return time.Duration(s.DrainTimeoutSeconds) * time.Second
}
