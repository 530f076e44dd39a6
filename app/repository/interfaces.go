package repository

import (
	"time"

	"gorm.io/gorm"

	"github.com/wavecrate/wavecrate/app/models"
)

// PurchaseAttemptRepository persists the step markers of spend-credits
// sequences so partial writes against the Content Store stay discoverable.
type PurchaseAttemptRepository interface {
	Create(a *models.PurchaseAttempt) error
	UpdateStep(attemptID, step string) error
	MarkFailed(attemptID, failedStep, message string) error
	GetByAttemptID(attemptID string) (*models.PurchaseAttempt, error)
	ListStaleNonTerminal(olderThan time.Time, limit int) ([]models.PurchaseAttempt, error)
}

// WebhookEventRepository stores gateway webhook payloads idempotently.
type WebhookEventRepository interface {
	CreateIfNotExists(event *models.PaymentWebhookEvent) (bool, *models.PaymentWebhookEvent, error)
	MarkProcessed(id uint, processingError string) error
}

// TrackStatRepository reads locally aggregated track counters.
type TrackStatRepository interface {
	GetByTrackID(trackID string) (*models.TrackStat, error)
}

// Repositories bundles all repository implementations.
type Repositories struct {
	PurchaseAttempt PurchaseAttemptRepository
	WebhookEvent    WebhookEventRepository
	TrackStat       TrackStatRepository
}

// NewRepositories creates all repositories backed by the given DB handle.
func NewRepositories(db *gorm.DB) *Repositories {
	return &Repositories{
		PurchaseAttempt: NewPurchaseAttemptRepository(db),
		WebhookEvent:    NewWebhookEventRepository(db),
		TrackStat:       NewTrackStatRepository(db),
	}
}
