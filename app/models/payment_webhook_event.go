package models

import "time"

// PaymentWebhookEvent stores Payment Gateway webhook payloads with
// deduplication metadata. The gateway only sees a 200 once the signature
// checked out; everything that goes wrong afterwards lands here instead of
// in the HTTP response, so poison events are never retried forever.
type PaymentWebhookEvent struct {
	ID              uint       `gorm:"primaryKey" json:"id"`
	ProviderEventID string     `gorm:"type:varchar(191);not null;default:'';uniqueIndex" json:"provider_event_id"`
	EventType       string     `gorm:"type:varchar(100);not null;index" json:"event_type"`
	PayloadJSON     string     `gorm:"type:longtext;not null" json:"payload_json"`
	SignatureValid  bool       `gorm:"default:false;index" json:"signature_valid"`
	ProcessedAt     *time.Time `gorm:"type:timestamp;default:null" json:"processed_at,omitempty"`
	ProcessingError string     `gorm:"type:text" json:"processing_error"`
	CreatedAt       time.Time  `gorm:"autoCreateTime;index" json:"created_at"`
	UpdatedAt       time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}
