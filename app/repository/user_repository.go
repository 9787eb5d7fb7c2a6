package repository

import (
	"context"
	"errors"
	"time"

	"github.com/go-playground/validator/v10"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/ManuelReschke/PayBridge/app/models"
)

// ErrUserNotFound is returned when no user has the telegram id.
var ErrUserNotFound = errors.New("user not found")

type userRepository struct {
	db *gorm.DB
}

// NewUserRepository creates a new user repository instance
func NewUserRepository(db *gorm.DB) UserRepository {
	return &userRepository{db: db}
}

func (r *userRepository) GetByTelegramID(ctx context.Context, telegramID int64) (*models.User, error) {
	var user models.User
	if err := r.db.WithContext(ctx).Where("telegram_id = ?", telegramID).First(&user).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, transient(err)
	}
	return &user, nil
}

// EnsureUser returns the user with telegramID, creating it when missing.
func (r *userRepository) EnsureUser(ctx context.Context, telegramID int64, username string) (*models.User, error) {
	return ensureUser(r.db.WithContext(ctx), telegramID, username)
}

func ensureUser(db *gorm.DB, telegramID int64, username string) (*models.User, error) {
	candidate := &models.User{TelegramID: telegramID, Username: username}
	if err := candidate.Validate(); err != nil {
		return nil, err
	}
	if err := db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "telegram_id"}},
		DoNothing: true,
	}).Create(candidate).Error; err != nil {
		return nil, transient(err)
	}
	var user models.User
	if err := db.Where("telegram_id = ?", telegramID).First(&user).Error; err != nil {
		return nil, transient(err)
	}
	return &user, nil
}

// ApplyVIPGrant extends the user's VIP period for one transaction. The ledger
// row and the new expiry are written in one database transaction; the unique
// index on vip_grants.transaction_id makes a second call for the same
// transaction return the existing grant with applied == false.
func (r *userRepository) ApplyVIPGrant(ctx context.Context, req GrantRequest) (*models.VIPGrant, bool, error) {
	if req.Now.IsZero() {
		req.Now = time.Now()
	}
	req.Now = req.Now.UTC()

	var (
		grant   *models.VIPGrant
		applied bool
	)
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing models.VIPGrant
		err := tx.Where("transaction_id = ?", req.TransactionID).First(&existing).Error
		if err == nil {
			grant = &existing
			return nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}

		user, err := ensureUser(tx, req.UserID, "")
		if err != nil {
			return err
		}

		newExpiry := user.ExtendVIP(req.Now, req.Duration).UTC()
		candidate := &models.VIPGrant{
			TransactionID:  req.TransactionID,
			UserID:         req.UserID,
			DurationHours:  int(req.Duration / time.Hour),
			PreviousExpiry: user.VIPExpiry,
			NewExpiry:      newExpiry,
		}
		res := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "transaction_id"}},
			DoNothing: true,
		}).Create(candidate)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			if err := tx.Where("transaction_id = ?", req.TransactionID).First(&existing).Error; err != nil {
				return err
			}
			grant = &existing
			return nil
		}

		if err := tx.Model(&models.User{}).
			Where("id = ?", user.ID).
			Update("vip_expiry", newExpiry).Error; err != nil {
			return err
		}
		grant = candidate
		applied = true
		return nil
	})
	if err != nil {
		var verrs validator.ValidationErrors
		if errors.Is(err, ErrTransientStorage) || errors.As(err, &verrs) {
			return nil, false, err
		}
		return nil, false, transient(err)
	}
	return grant, applied, nil
}

// CountActiveVIP returns the number of users whose VIP runs past now.
func (r *userRepository) CountActiveVIP(ctx context.Context, now time.Time) (int64, error) {
	var count int64
	if err := r.db.WithContext(ctx).Model(&models.User{}).
		Where("vip_expiry > ?", now.UTC()).
		Count(&count).Error; err != nil {
		return 0, transient(err)
	}
	return count, nil
}
