package repository

import (
	"sync"

	"gorm.io/gorm"

	"github.com/wavecrate/wavecrate/internal/pkg/database"
)

// Factory manages repository instances and ensures they are singletons
type Factory struct {
	db    *gorm.DB
	repos *Repositories
	once  sync.Once
}

// NewFactory creates a new repository factory
func NewFactory(db *gorm.DB) *Factory {
	return &Factory{
		db: db,
	}
}

// GetRepositories returns a singleton instance of all repositories
func (f *Factory) GetRepositories() *Repositories {
	f.once.Do(func() {
		f.repos = NewRepositories(f.db)
	})
	return f.repos
}

// GetPurchaseAttemptRepository returns the purchase attempt repository instance
func (f *Factory) GetPurchaseAttemptRepository() PurchaseAttemptRepository {
	return f.GetRepositories().PurchaseAttempt
}

// GetWebhookEventRepository returns the webhook event repository instance
func (f *Factory) GetWebhookEventRepository() WebhookEventRepository {
	return f.GetRepositories().WebhookEvent
}

// GetTrackStatRepository returns the track stat repository instance
func (f *Factory) GetTrackStatRepository() TrackStatRepository {
	return f.GetRepositories().TrackStat
}

var (
	globalFactory     *Factory
	globalFactoryOnce sync.Once
)

// GetGlobalFactory returns the process-wide factory bound to the shared DB.
func GetGlobalFactory() *Factory {
	globalFactoryOnce.Do(func() {
		globalFactory = NewFactory(database.GetDB())
	})
	return globalFactory
}
