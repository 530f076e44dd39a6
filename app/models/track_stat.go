package models

import "time"

// TrackStat holds locally aggregated counters per Content Store track.
// Counters are buffered in Redis and flushed in batches (see
// internal/pkg/metrics/counter), so this row is eventually consistent.
type TrackStat struct {
	ID            uint      `gorm:"primaryKey" json:"id"`
	TrackID       string    `gorm:"type:varchar(64);not null;uniqueIndex" json:"track_id"`
	DownloadCount int64     `gorm:"not null;default:0" json:"download_count"`
	SaleCount     int64     `gorm:"not null;default:0" json:"sale_count"`
	CreatedAt     time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt     time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}
