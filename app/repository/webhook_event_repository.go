package repository

import (
	"context"

	"gorm.io/gorm"

	"github.com/ManuelReschke/PayBridge/app/models"
)

type webhookEventRepository struct {
	db *gorm.DB
}

// NewWebhookEventRepository creates a new webhook audit repository instance
func NewWebhookEventRepository(db *gorm.DB) WebhookEventRepository {
	return &webhookEventRepository{db: db}
}

func (r *webhookEventRepository) Create(ctx context.Context, event *models.WebhookEvent) error {
	if err := r.db.WithContext(ctx).Create(event).Error; err != nil {
		return transient(err)
	}
	return nil
}

// ListRecent returns the newest audit rows first.
func (r *webhookEventRepository) ListRecent(ctx context.Context, limit int) ([]models.WebhookEvent, error) {
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	var events []models.WebhookEvent
	if err := r.db.WithContext(ctx).Order("id DESC").Limit(limit).Find(&events).Error; err != nil {
		return nil, transient(err)
	}
	return events, nil
}
