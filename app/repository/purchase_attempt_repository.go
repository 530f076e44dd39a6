package repository

import (
	"time"

	"gorm.io/gorm"

	"github.com/wavecrate/wavecrate/app/models"
)

type purchaseAttemptRepository struct {
	db *gorm.DB
}

// NewPurchaseAttemptRepository creates a purchase attempt repository backed by GORM.
func NewPurchaseAttemptRepository(db *gorm.DB) PurchaseAttemptRepository {
	return &purchaseAttemptRepository{db: db}
}

func (r *purchaseAttemptRepository) Create(a *models.PurchaseAttempt) error {
	return r.db.Create(a).Error
}

func (r *purchaseAttemptRepository) UpdateStep(attemptID, step string) error {
	return r.db.Model(&models.PurchaseAttempt{}).
		Where("attempt_id = ?", attemptID).
		Update("step", step).Error
}

func (r *purchaseAttemptRepository) MarkFailed(attemptID, failedStep, message string) error {
	updates := map[string]interface{}{
		"step":          models.PurchaseStepFailed,
		"failed_step":   failedStep,
		"failure_error": message,
	}
	return r.db.Model(&models.PurchaseAttempt{}).
		Where("attempt_id = ?", attemptID).
		Updates(updates).Error
}

func (r *purchaseAttemptRepository) GetByAttemptID(attemptID string) (*models.PurchaseAttempt, error) {
	var a models.PurchaseAttempt
	if err := r.db.Where("attempt_id = ?", attemptID).First(&a).Error; err != nil {
		return nil, err
	}
	return &a, nil
}

func (r *purchaseAttemptRepository) ListStaleNonTerminal(olderThan time.Time, limit int) ([]models.PurchaseAttempt, error) {
	var attempts []models.PurchaseAttempt
	err := r.db.
		Where("step NOT IN ? AND updated_at < ?", []string{models.PurchaseStepCommitted, models.PurchaseStepFailed}, olderThan).
		Order("updated_at ASC").
		Limit(limit).
		Find(&attempts).Error
	return attempts, err
}
