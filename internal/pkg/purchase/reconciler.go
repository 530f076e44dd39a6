package purchase

import (
	"context"
	"fmt"
	"log"
	"math"
	"time"

	"github.com/wavecrate/wavecrate/app/models"
	"github.com/wavecrate/wavecrate/app/repository"
)

const (
	// staleAfter is how long a non-terminal attempt may sit before the
	// reconciler treats the sequence as broken. Comfortably above the
	// lease TTL so in-flight sequences are never touched.
	staleAfter = 5 * time.Minute

	reconcileBatchSize = 100

	// timestampSlack matches ledger entries to an attempt by approximate
	// write time, since the store assigns its own timestamps.
	timestampSlack = 2 * time.Minute
)

// Reconciler finds spend sequences that stopped between steps and reports
// what the ledger actually contains for each. Repair is manual by design:
// the Content Store offers no compensation primitive, so the job's output
// is a precise diagnosis, not an automatic rollback.
type Reconciler struct {
	store    contentAPI
	attempts repository.PurchaseAttemptRepository
}

// NewReconciler creates a reconciler from injected collaborators.
func NewReconciler(store contentAPI, attempts repository.PurchaseAttemptRepository) *Reconciler {
	return &Reconciler{store: store, attempts: attempts}
}

// Run processes one batch of stale attempts and returns how many were
// classified. Intended to be called periodically.
func (r *Reconciler) Run(ctx context.Context) (int, error) {
	stale, err := r.attempts.ListStaleNonTerminal(time.Now().Add(-staleAfter), reconcileBatchSize)
	if err != nil {
		return 0, fmt.Errorf("failed to list stale attempts: %w", err)
	}

	for i := range stale {
		attempt := &stale[i]
		diagnosis := r.classify(ctx, attempt)
		log.Printf("purchase attempt %s (user=%s track=%s step=%s): %s",
			attempt.AttemptID, attempt.UserID, attempt.TrackID, attempt.Step, diagnosis)
		if err := r.attempts.MarkFailed(attempt.AttemptID, attempt.Step, diagnosis); err != nil {
			return i, fmt.Errorf("failed to mark attempt %s: %w", attempt.AttemptID, err)
		}
	}
	return len(stale), nil
}

// classify re-reads the buyer's ledger and names the manual repair the
// partial sequence needs, keyed by user, track and approximate timestamp.
func (r *Reconciler) classify(ctx context.Context, attempt *models.PurchaseAttempt) string {
	txs, err := r.store.ListTransactionsByUser(ctx, "", attempt.UserID)
	if err != nil {
		return fmt.Sprintf("ledger unavailable (%v); re-run reconciliation", err)
	}

	debitFound := false
	for _, tx := range txs {
		if !tx.Track.Matches(attempt.TrackID) {
			continue
		}
		if math.Abs(tx.Amount+float64(attempt.Amount)) > 1e-9 {
			continue
		}
		delta := tx.Timestamp.Sub(attempt.CreatedAt)
		if delta < -timestampSlack || delta > timestampSlack {
			continue
		}
		debitFound = true
		break
	}

	switch attempt.Step {
	case models.PurchaseStepPending:
		if debitFound {
			return "debit exists but step marker was not advanced; verify buyer balance and seller credit manually"
		}
		return "no writes completed; safe to discard"
	case models.PurchaseStepDebitCreated:
		return "debit written but buyer balance not updated; refund the debit or replay the balance update"
	case models.PurchaseStepBuyerUpdated:
		return "buyer debited but seller not credited; create the missing sale transaction"
	case models.PurchaseStepSaleCreated:
		return "both ledger entries exist but track earnings were not incremented; replay the earnings update"
	default:
		return "unexpected step marker; inspect manually"
	}
}
