package repository

import (
	"gorm.io/gorm"

	"github.com/wavecrate/wavecrate/app/models"
)

type trackStatRepository struct {
	db *gorm.DB
}

// NewTrackStatRepository creates a track stat repository backed by GORM.
func NewTrackStatRepository(db *gorm.DB) TrackStatRepository {
	return &trackStatRepository{db: db}
}

func (r *trackStatRepository) GetByTrackID(trackID string) (*models.TrackStat, error) {
	var s models.TrackStat
	if err := r.db.Where("track_id = ?", trackID).First(&s).Error; err != nil {
		return nil, err
	}
	return &s, nil
}
