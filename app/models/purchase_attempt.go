package models

import "time"

// Purchase attempt steps, in write order. The step column always names the
// last external write that completed, so a reconciliation pass can tell
// exactly how far a broken sequence got.
const (
	PurchaseStepPending      = "pending"
	PurchaseStepDebitCreated = "debit_created"
	PurchaseStepBuyerUpdated = "buyer_updated"
	PurchaseStepSaleCreated  = "sale_created"
	PurchaseStepCommitted    = "committed"
	PurchaseStepFailed       = "failed"
)

// PurchaseAttempt is the persisted step marker for one spend-credits
// sequence against the Content Store. The store offers no multi-step
// transaction, so each attempt records which writes completed; partial
// writes are repaired manually, guided by these rows.
type PurchaseAttempt struct {
	ID           uint      `gorm:"primaryKey" json:"id"`
	AttemptID    string    `gorm:"type:varchar(36);not null;uniqueIndex" json:"attempt_id"`
	UserID       string    `gorm:"type:varchar(64);not null;index:idx_purchase_attempts_user_step,priority:1" json:"user_id"`
	TrackID      string    `gorm:"type:varchar(64);not null;index" json:"track_id"`
	ProducerID   string    `gorm:"type:varchar(64);not null;default:''" json:"producer_id"`
	Amount       int       `gorm:"not null" json:"amount"`
	SubCredits   int       `gorm:"not null;default:0" json:"sub_credits"`
	RegCredits   int       `gorm:"not null;default:0" json:"reg_credits"`
	Step         string    `gorm:"type:varchar(32);not null;default:'pending';index:idx_purchase_attempts_user_step,priority:2;index" json:"step"`
	FailedStep   string    `gorm:"type:varchar(32);not null;default:''" json:"failed_step"`
	FailureError string    `gorm:"type:text" json:"failure_error"`
	CreatedAt    time.Time `gorm:"autoCreateTime;index" json:"created_at"`
	UpdatedAt    time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// IsTerminal reports whether the attempt reached a final state.
func (a *PurchaseAttempt) IsTerminal() bool {
	return a.Step == PurchaseStepCommitted || a.Step == PurchaseStepFailed
}
