package purchase

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/wavecrate/wavecrate/app/models"
	"github.com/wavecrate/wavecrate/app/repository"
	"github.com/wavecrate/wavecrate/internal/pkg/contentstore"
	"github.com/wavecrate/wavecrate/internal/pkg/credits"
	"github.com/wavecrate/wavecrate/internal/pkg/entitlements"
	"github.com/wavecrate/wavecrate/internal/pkg/metrics/counter"
)

type contentAPI interface {
	GetUser(ctx context.Context, token, id string) (*contentstore.User, error)
	GetTrack(ctx context.Context, token, id string) (*contentstore.Track, error)
	UpdateUserCredits(ctx context.Context, token, id string, regular, sub int, purchased []contentstore.Ref) error
	UpdateTrackEarnings(ctx context.Context, token, id string, creditsEarned float64) error
	CreateTransaction(ctx context.Context, token string, tx *contentstore.CreditTransaction) (*contentstore.CreditTransaction, error)
	ListTransactionsByUser(ctx context.Context, token, userID string) ([]contentstore.CreditTransaction, error)
}

type assetSigner interface {
	DownloadURL(ctx context.Context, track *contentstore.Track, withStems bool) (string, error)
}

// countSale is indirected so tests run without a Redis backend.
var countSale = counter.AddTrackSale

// Result is the outcome of a committed spend sequence.
type Result struct {
	AttemptID      string `json:"attempt_id"`
	AmountSpent    int    `json:"amount_spent"`
	RegularCredits int    `json:"regular_credits"`
	SubCredits     int    `json:"sub_credits"`
	TotalCredits   int    `json:"total_credits"`
	AssetURL       string `json:"asset_url,omitempty"`
}

// Service runs the multi-step spend-credits workflow against the
// non-transactional Content Store. Steps execute in a fixed order, each
// gated on the previous one; no step is retried and no completed step is
// rolled back. The persisted attempt row names the last completed write so
// partial sequences stay visible for reconciliation.
type Service struct {
	store    contentAPI
	attempts repository.PurchaseAttemptRepository
	locker   Locker
	signer   assetSigner
}

// NewService creates a purchase service from injected collaborators.
func NewService(store contentAPI, attempts repository.PurchaseAttemptRepository, locker Locker, signer assetSigner) *Service {
	return &Service{store: store, attempts: attempts, locker: locker, signer: signer}
}

// NewServiceFromDB wires the service with env-configured clients.
func NewServiceFromDB(db *gorm.DB, signer assetSigner) *Service {
	return NewService(
		contentstore.NewClientFromEnv(),
		repository.NewPurchaseAttemptRepository(db),
		NewRedisLocker(),
		signer,
	)
}

// SpendCredits debits the buyer, credits the producer and records both
// sides in the transaction ledger. Calls for the same user are serialized
// through a Redis lease held for the duration of the sequence; a busy
// lease surfaces ErrPurchaseInProgress instead of risking a double spend.
func (s *Service) SpendCredits(ctx context.Context, token, userID, trackID string, amount int) (*Result, error) {
	if amount <= 0 {
		return nil, errors.New("amount must be positive")
	}
	if userID == "" || trackID == "" {
		return nil, errors.New("user id and track id are required")
	}

	release, acquired, err := s.locker.Acquire(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to acquire purchase lease: %w", err)
	}
	if !acquired {
		return nil, ErrPurchaseInProgress
	}
	defer release()

	// Balances must reflect the latest state, never a cached copy.
	user, err := s.store.GetUser(ctx, token, userID)
	if err != nil {
		return nil, stepErr(StepLoadUser, err)
	}
	track, err := s.store.GetTrack(ctx, token, trackID)
	if err != nil {
		return nil, stepErr(StepLoadTrack, err)
	}

	tier := s.currentTier(ctx, token, user, track)
	if entitlements.IsOwner(track, user) {
		return nil, ErrTrackAlreadyOwned
	}
	if tier.HasAudio && tier.HasStems {
		return nil, ErrTrackAlreadyPurchased
	}

	usage := credits.CalculateUsage(user, amount)
	if !usage.Sufficient {
		return nil, ErrInsufficientCredits
	}

	// A prior audio tier makes this purchase the stems upgrade.
	buyingStems := tier.HasAudio
	details := entitlements.PurchaseDetails(buyingStems)

	producerID := producerRef(track)
	attempt := &models.PurchaseAttempt{
		AttemptID:  uuid.NewString(),
		UserID:     userID,
		TrackID:    trackID,
		ProducerID: producerID,
		Amount:     amount,
		SubCredits: usage.SubCreditsToUse,
		RegCredits: usage.RegularCreditsToUse,
		Step:       models.PurchaseStepPending,
	}
	if err := s.attempts.Create(attempt); err != nil {
		return nil, fmt.Errorf("failed to record purchase attempt: %w", err)
	}

	now := time.Now().UTC()

	// Buyer-side debit entry.
	debit := &contentstore.CreditTransaction{
		User:      contentstore.Ref{ID: userID},
		Track:     contentstore.Ref{ID: trackID},
		Amount:    -float64(amount),
		Type:      contentstore.TransactionTypePurchase,
		Status:    contentstore.TransactionStatusCompleted,
		Details:   details,
		Timestamp: now,
	}
	if _, err := s.store.CreateTransaction(ctx, token, debit); err != nil {
		return nil, s.fail(attempt, StepCreateDebit, fmt.Errorf("failed to create debit transaction: %w", err))
	}
	s.advance(attempt, models.PurchaseStepDebitCreated)

	// Post-debit balances plus the purchased-tracks record.
	newRegular := user.RegularCredits - usage.RegularCreditsToUse
	newSub := user.SubCredits - usage.SubCreditsToUse
	purchased := append(append([]contentstore.Ref(nil), user.PurchasedTracks...), contentstore.Ref{ID: trackID})
	if err := s.store.UpdateUserCredits(ctx, token, userID, newRegular, newSub, purchased); err != nil {
		return nil, s.fail(attempt, StepUpdateBuyer, fmt.Errorf("failed to update credits: %w", err))
	}
	s.advance(attempt, models.PurchaseStepBuyerUpdated)

	// Seller-side credit entry, addressed to the track's producer. Written
	// with the service token; the buyer's token has no write access to the
	// seller's records.
	sale := &contentstore.CreditTransaction{
		User:      contentstore.Ref{ID: producerID},
		Track:     contentstore.Ref{ID: trackID},
		Amount:    float64(amount),
		Type:      contentstore.TransactionTypeSale,
		Status:    contentstore.TransactionStatusCompleted,
		Details:   details,
		Timestamp: now,
	}
	if _, err := s.store.CreateTransaction(ctx, "", sale); err != nil {
		return nil, s.fail(attempt, StepCreateSale, fmt.Errorf("failed to create sale transaction: %w", err))
	}
	s.advance(attempt, models.PurchaseStepSaleCreated)

	if err := s.store.UpdateTrackEarnings(ctx, "", trackID, track.CreditsEarned+float64(amount)); err != nil {
		return nil, s.fail(attempt, StepUpdateEarnings, fmt.Errorf("failed to update track earnings: %w", err))
	}
	s.advance(attempt, models.PurchaseStepCommitted)

	if err := countSale(trackID); err != nil {
		log.Printf("failed to count sale for track %s: %v", trackID, err)
	}

	result := &Result{
		AttemptID:      attempt.AttemptID,
		AmountSpent:    amount,
		RegularCredits: newRegular,
		SubCredits:     newSub,
	}
	updated := *user
	updated.RegularCredits = newRegular
	updated.SubCredits = newSub
	result.TotalCredits = credits.TotalCredits(&updated)

	if s.signer != nil {
		url, err := s.signer.DownloadURL(ctx, track, buyingStems)
		if err != nil {
			log.Printf("failed to issue asset URL for track %s: %v", trackID, err)
		} else {
			result.AssetURL = url
		}
	}
	return result, nil
}

// producerRef resolves the seller id across the reference shapes the store
// delivers: the direct producer reference or the first producer-list entry.
func producerRef(track *contentstore.Track) string {
	if track.Producer.ID != "" {
		return track.Producer.ID
	}
	for _, p := range track.Producers {
		if p.ID != "" {
			return p.ID
		}
	}
	return ""
}

// currentTier derives the buyer's existing purchase tier. When the
// transaction history cannot be loaded, validation falls back to the
// legacy purchased-track signal on the user record (audio tier only).
func (s *Service) currentTier(ctx context.Context, token string, user *contentstore.User, track *contentstore.Track) entitlements.Tier {
	txs, err := s.store.ListTransactionsByUser(ctx, token, user.ID.String())
	if err != nil {
		log.Printf("failed to load transaction history for user %s: %v", user.ID, err)
		legacy := entitlements.ResolveLegacy(track, user)
		return entitlements.Tier{HasAudio: legacy.HasAudioPurchased, HasStems: legacy.HasStemsPurchased}
	}
	return entitlements.PurchaseTier(txs, track.ID.String())
}

func (s *Service) advance(attempt *models.PurchaseAttempt, step string) {
	attempt.Step = step
	if err := s.attempts.UpdateStep(attempt.AttemptID, step); err != nil {
		log.Printf("failed to advance attempt %s to %s: %v", attempt.AttemptID, step, err)
	}
}

func (s *Service) fail(attempt *models.PurchaseAttempt, step string, err error) error {
	if markErr := s.attempts.MarkFailed(attempt.AttemptID, step, err.Error()); markErr != nil {
		log.Printf("failed to mark attempt %s as failed: %v", attempt.AttemptID, markErr)
	}
	return stepErr(step, err)
}
