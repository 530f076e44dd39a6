package purchase

import (
	"errors"
	"fmt"
)

var (
	// ErrInsufficientCredits is detected before any write happens.
	ErrInsufficientCredits = errors.New("insufficient credits")
	// ErrPurchaseInProgress means another spend sequence holds the
	// per-user lease; the caller should retry shortly.
	ErrPurchaseInProgress = errors.New("another purchase is already in progress for this user")
	// ErrTrackAlreadyOwned rejects producers buying their own track.
	ErrTrackAlreadyOwned = errors.New("track is owned by the buyer")
	// ErrTrackAlreadyPurchased rejects re-buying the full bundle.
	ErrTrackAlreadyPurchased = errors.New("track is already fully purchased")
)

// Step names used in step-tagged errors and attempt markers. They identify
// exactly which external write failed, for manual reconciliation.
const (
	StepLoadUser        = "load_user"
	StepLoadTrack       = "load_track"
	StepCreateDebit     = "create_debit_transaction"
	StepUpdateBuyer     = "update_buyer_credits"
	StepCreateSale      = "create_sale_transaction"
	StepUpdateEarnings  = "update_track_earnings"
	StepInsufficient    = "insufficient_credits"
	StepEntitlementDeny = "entitlement_denied"
)

// StepError tags an upstream failure with the write step it happened in.
// Earlier completed steps are NOT rolled back: the Content Store offers no
// multi-step transaction, so the error names the exact break point instead
// of hiding it.
type StepError struct {
	Step string
	Err  error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("purchase step %s failed: %v", e.Step, e.Err)
}

func (e *StepError) Unwrap() error { return e.Err }

func stepErr(step string, err error) error {
	return &StepError{Step: step, Err: err}
}
