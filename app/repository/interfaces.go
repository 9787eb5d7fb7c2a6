package repository

import (
	"context"
	"errors"
	"time"

	"github.com/ManuelReschke/PayBridge/app/models"
	"gorm.io/gorm"
)

var (
	// ErrTransientStorage marks storage I/O failures the caller may retry.
	ErrTransientStorage = errors.New("transient storage failure")
	// ErrTransactionNotFound is returned for lookups by id that miss.
	ErrTransactionNotFound = errors.New("transaction not found")
)

// RecordResult is the outcome of TransactionRepository.RecordIfNew.
// Inserted is true only for the one caller that moved the row to confirmed.
type RecordResult struct {
	Inserted       bool
	ExistingStatus string
	Transaction    *models.Transaction
}

// TransactionRepository is the durable, concurrency-safe payment store.
type TransactionRepository interface {
	RecordIfNew(ctx context.Context, gateway, gatewayTxID string, userID int64, amount PaymentAmount) (RecordResult, error)
	RegisterPending(ctx context.Context, gateway, gatewayTxID string, userID int64, amount PaymentAmount) (bool, error)
	ClaimUnassigned(ctx context.Context, gateway, gatewayTxID string, userID int64) (*models.Transaction, bool, error)
	Reject(ctx context.Context, gateway, gatewayTxID string) (bool, error)
	MarkNotified(ctx context.Context, id uint) error
	ListConfirmedUnnotified(ctx context.Context, confirmedBefore time.Time, limit int) ([]models.Transaction, error)
	GetByID(ctx context.Context, id uint) (*models.Transaction, error)
	GetByGatewayTxID(ctx context.Context, gateway, gatewayTxID string) (*models.Transaction, error)
	CountByStatus(ctx context.Context) (map[string]int64, error)
}

// GrantRequest describes one VIP extension derived from a transaction.
type GrantRequest struct {
	TransactionID uint
	UserID        int64
	Duration      time.Duration
	Now           time.Time
}

// UserRepository owns VIP state. ApplyVIPGrant is the only mutator of
// vip_expiry and is idempotent per transaction.
type UserRepository interface {
	GetByTelegramID(ctx context.Context, telegramID int64) (*models.User, error)
	EnsureUser(ctx context.Context, telegramID int64, username string) (*models.User, error)
	ApplyVIPGrant(ctx context.Context, req GrantRequest) (*models.VIPGrant, bool, error)
	CountActiveVIP(ctx context.Context, now time.Time) (int64, error)
}

// WebhookEventRepository stores the intake audit trail.
type WebhookEventRepository interface {
	Create(ctx context.Context, event *models.WebhookEvent) error
	ListRecent(ctx context.Context, limit int) ([]models.WebhookEvent, error)
}

// SettingRepository defines the interface for setting-related database operations
type SettingRepository interface {
	Get() (*models.AppSettings, error)
	Save(settings *models.AppSettings) error
}

// Repositories holds all repository instances
type Repositories struct {
	Transaction  TransactionRepository
	User         UserRepository
	WebhookEvent WebhookEventRepository
	Setting      SettingRepository
}

// NewRepositories creates a new instance of all repositories
func NewRepositories(db *gorm.DB) *Repositories {
	return &Repositories{
		Transaction:  NewTransactionRepository(db),
		User:         NewUserRepository(db),
		WebhookEvent: NewWebhookEventRepository(db),
		Setting:      NewSettingRepository(db),
	}
}
