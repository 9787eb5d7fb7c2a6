package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/ManuelReschke/PayBridge/app/models"
)

// PaymentAmount is the amount/currency pair claimed for a payment.
type PaymentAmount struct {
	Amount   decimal.Decimal
	Currency string
}

type transactionRepository struct {
	db  *gorm.DB
	now func() time.Time
}

// NewTransactionRepository creates a new transaction repository instance
func NewTransactionRepository(db *gorm.DB) TransactionRepository {
	return &transactionRepository{db: db, now: time.Now}
}

func transient(err error) error {
	return fmt.Errorf("%w: %v", ErrTransientStorage, err)
}

func normalizeKey(gateway, gatewayTxID string) (string, string) {
	return strings.ToLower(strings.TrimSpace(gateway)), strings.TrimSpace(gatewayTxID)
}

// RecordIfNew confirms a payment exactly once per (gateway, gateway_tx_id).
//
// A confirmed row is inserted with ON CONFLICT DO NOTHING. When the key
// already exists, a pending (or previously failed) intent is promoted with a
// conditional UPDATE. Both statements are atomic on their own, so of any
// number of concurrent deliveries exactly one sees Inserted. With userID == 0
// and no intent, the payment is stored confirmed but unassigned; the caller
// must not apply it until ClaimUnassigned gives it an owner.
func (r *transactionRepository) RecordIfNew(ctx context.Context, gateway, gatewayTxID string, userID int64, amount PaymentAmount) (RecordResult, error) {
	gateway, gatewayTxID = normalizeKey(gateway, gatewayTxID)
	now := r.now().UTC()
	db := r.db.WithContext(ctx)

	if userID < 0 {
		userID = models.UnassignedUserID
	}
	candidate := &models.Transaction{
		Gateway:     gateway,
		GatewayTxID: gatewayTxID,
		UserID:      userID,
		Amount:      amount.Amount,
		Currency:    currencyOrDefault(amount.Currency),
		Status:      models.TransactionStatusConfirmed,
		ConfirmedAt: &now,
	}
	tx := db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "gateway"}, {Name: "gateway_tx_id"}},
		DoNothing: true,
	}).Create(candidate)
	if tx.Error != nil {
		return RecordResult{}, transient(tx.Error)
	}
	if tx.RowsAffected > 0 {
		return RecordResult{Inserted: true, Transaction: candidate}, nil
	}

	promote := db.Model(&models.Transaction{}).
		Where("gateway = ? AND gateway_tx_id = ? AND status IN ?", gateway, gatewayTxID,
			[]string{models.TransactionStatusPending, models.TransactionStatusFailed}).
		Updates(map[string]any{
			"status":       models.TransactionStatusConfirmed,
			"confirmed_at": now,
		})
	if promote.Error != nil {
		return RecordResult{}, transient(promote.Error)
	}

	stored, err := r.GetByGatewayTxID(ctx, gateway, gatewayTxID)
	if err != nil {
		return RecordResult{}, err
	}
	if promote.RowsAffected > 0 {
		return RecordResult{Inserted: true, Transaction: stored}, nil
	}
	return RecordResult{Inserted: false, ExistingStatus: stored.Status, Transaction: stored}, nil
}

// RegisterPending stores an invoice intent. It returns false when the key
// already exists, whatever its status.
func (r *transactionRepository) RegisterPending(ctx context.Context, gateway, gatewayTxID string, userID int64, amount PaymentAmount) (bool, error) {
	gateway, gatewayTxID = normalizeKey(gateway, gatewayTxID)
	if userID <= 0 {
		return false, errors.New("user id is required")
	}
	tx := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "gateway"}, {Name: "gateway_tx_id"}},
		DoNothing: true,
	}).Create(&models.Transaction{
		Gateway:     gateway,
		GatewayTxID: gatewayTxID,
		UserID:      userID,
		Amount:      amount.Amount,
		Currency:    currencyOrDefault(amount.Currency),
		Status:      models.TransactionStatusPending,
	})
	if tx.Error != nil {
		return false, transient(tx.Error)
	}
	return tx.RowsAffected > 0, nil
}

// ClaimUnassigned gives a confirmed, unassigned payment its owner. Only the
// first claim wins; it returns the updated row and true.
func (r *transactionRepository) ClaimUnassigned(ctx context.Context, gateway, gatewayTxID string, userID int64) (*models.Transaction, bool, error) {
	gateway, gatewayTxID = normalizeKey(gateway, gatewayTxID)
	if userID <= 0 {
		return nil, false, errors.New("user id is required")
	}
	tx := r.db.WithContext(ctx).Model(&models.Transaction{}).
		Where("gateway = ? AND gateway_tx_id = ? AND status = ? AND user_id = ? AND notified_at IS NULL",
			gateway, gatewayTxID, models.TransactionStatusConfirmed, models.UnassignedUserID).
		Update("user_id", userID)
	if tx.Error != nil {
		return nil, false, transient(tx.Error)
	}
	if tx.RowsAffected == 0 {
		return nil, false, nil
	}
	stored, err := r.GetByGatewayTxID(ctx, gateway, gatewayTxID)
	if err != nil {
		return nil, false, err
	}
	return stored, true, nil
}

// Reject moves a pending intent to failed. Confirmed rows are never touched.
func (r *transactionRepository) Reject(ctx context.Context, gateway, gatewayTxID string) (bool, error) {
	gateway, gatewayTxID = normalizeKey(gateway, gatewayTxID)
	tx := r.db.WithContext(ctx).Model(&models.Transaction{}).
		Where("gateway = ? AND gateway_tx_id = ? AND status = ?", gateway, gatewayTxID, models.TransactionStatusPending).
		Update("status", models.TransactionStatusFailed)
	if tx.Error != nil {
		return false, transient(tx.Error)
	}
	return tx.RowsAffected > 0, nil
}

// MarkNotified flags a confirmed transaction as settled. Calling it again is a no-op.
func (r *transactionRepository) MarkNotified(ctx context.Context, id uint) error {
	tx := r.db.WithContext(ctx).Model(&models.Transaction{}).
		Where("id = ? AND notified_at IS NULL", id).
		Update("notified_at", r.now().UTC())
	if tx.Error != nil {
		return transient(tx.Error)
	}
	if tx.RowsAffected > 0 {
		return nil
	}
	var count int64
	if err := r.db.WithContext(ctx).Model(&models.Transaction{}).Where("id = ?", id).Count(&count).Error; err != nil {
		return transient(err)
	}
	if count == 0 {
		return ErrTransactionNotFound
	}
	return nil
}

// ListConfirmedUnnotified returns confirmed rows without the settled flag,
// oldest first, confirmed at or before confirmedBefore.
func (r *transactionRepository) ListConfirmedUnnotified(ctx context.Context, confirmedBefore time.Time, limit int) ([]models.Transaction, error) {
	if limit <= 0 {
		limit = 100
	}
	var txs []models.Transaction
	err := r.db.WithContext(ctx).
		Where("status = ? AND notified_at IS NULL AND user_id <> ? AND confirmed_at <= ?",
			models.TransactionStatusConfirmed, models.UnassignedUserID, confirmedBefore.UTC()).
		Order("confirmed_at ASC, id ASC").
		Limit(limit).
		Find(&txs).Error
	if err != nil {
		return nil, transient(err)
	}
	return txs, nil
}

func (r *transactionRepository) GetByID(ctx context.Context, id uint) (*models.Transaction, error) {
	var t models.Transaction
	if err := r.db.WithContext(ctx).First(&t, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrTransactionNotFound
		}
		return nil, transient(err)
	}
	return &t, nil
}

func (r *transactionRepository) GetByGatewayTxID(ctx context.Context, gateway, gatewayTxID string) (*models.Transaction, error) {
	gateway, gatewayTxID = normalizeKey(gateway, gatewayTxID)
	var t models.Transaction
	err := r.db.WithContext(ctx).
		Where("gateway = ? AND gateway_tx_id = ?", gateway, gatewayTxID).
		First(&t).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrTransactionNotFound
		}
		return nil, transient(err)
	}
	return &t, nil
}

// CountByStatus returns the number of transactions per status.
func (r *transactionRepository) CountByStatus(ctx context.Context) (map[string]int64, error) {
	var rows []struct {
		Status string
		Total  int64
	}
	err := r.db.WithContext(ctx).Model(&models.Transaction{}).
		Select("status, COUNT(*) AS total").
		Group("status").
		Scan(&rows).Error
	if err != nil {
		return nil, transient(err)
	}
	out := make(map[string]int64, len(rows))
	for _, row := range rows {
		out[row.Status] = row.Total
	}
	return out, nil
}

func currencyOrDefault(c string) string {
	c = strings.ToUpper(strings.TrimSpace(c))
	if c == "" {
		return "USD"
	}
	return c
}
