package repository

import (
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/wavecrate/wavecrate/app/models"
)

type webhookEventRepository struct {
	db *gorm.DB
}

// NewWebhookEventRepository creates a webhook event repository backed by GORM.
func NewWebhookEventRepository(db *gorm.DB) WebhookEventRepository {
	return &webhookEventRepository{db: db}
}

func (r *webhookEventRepository) CreateIfNotExists(event *models.PaymentWebhookEvent) (bool, *models.PaymentWebhookEvent, error) {
	tx := r.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "provider_event_id"}},
		DoNothing: true,
	}).Create(event)
	if tx.Error != nil {
		return false, nil, tx.Error
	}

	created := tx.RowsAffected > 0
	var stored models.PaymentWebhookEvent
	if err := r.db.Where("provider_event_id = ?", event.ProviderEventID).
		First(&stored).Error; err != nil {
		return false, nil, err
	}
	return created, &stored, nil
}

func (r *webhookEventRepository) MarkProcessed(id uint, processingError string) error {
	now := time.Now()
	updates := map[string]interface{}{
		"processed_at":     &now,
		"processing_error": processingError,
	}
	return r.db.Model(&models.PaymentWebhookEvent{}).Where("id = ?", id).Updates(updates).Error
}
