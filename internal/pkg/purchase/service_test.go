package purchase

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wavecrate/wavecrate/app/models"
	"github.com/wavecrate/wavecrate/internal/pkg/contentstore"
	"github.com/wavecrate/wavecrate/internal/pkg/entitlements"
)

func TestMain(m *testing.M) {
	countSale = func(string) error { return nil }
	m.Run()
}

// fakeStore is an in-memory Content Store double; its mutation methods
// apply writes so sequential spends observe each other's effects.
type fakeStore struct {
	mu    sync.Mutex
	user  *contentstore.User
	track *contentstore.Track
	txs   []contentstore.CreditTransaction

	failOn  string
	created []contentstore.CreditTransaction
}

func (f *fakeStore) GetUser(_ context.Context, _, id string) (*contentstore.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failOn == StepLoadUser {
		return nil, errors.New("store down")
	}
	u := *f.user
	return &u, nil
}

func (f *fakeStore) GetTrack(_ context.Context, _, id string) (*contentstore.Track, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failOn == StepLoadTrack {
		return nil, errors.New("store down")
	}
	t := *f.track
	return &t, nil
}

func (f *fakeStore) UpdateUserCredits(_ context.Context, _, id string, regular, sub int, purchased []contentstore.Ref) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failOn == StepUpdateBuyer {
		return errors.New("store down")
	}
	f.user.RegularCredits = regular
	f.user.SubCredits = sub
	f.user.PurchasedTracks = purchased
	return nil
}

func (f *fakeStore) UpdateTrackEarnings(_ context.Context, _, id string, creditsEarned float64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failOn == StepUpdateEarnings {
		return errors.New("store down")
	}
	f.track.CreditsEarned = creditsEarned
	return nil
}

func (f *fakeStore) CreateTransaction(_ context.Context, _ string, tx *contentstore.CreditTransaction) (*contentstore.CreditTransaction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failOn == StepCreateDebit && tx.Type == contentstore.TransactionTypePurchase {
		return nil, errors.New("store down")
	}
	if f.failOn == StepCreateSale && tx.Type == contentstore.TransactionTypeSale {
		return nil, errors.New("store down")
	}
	f.txs = append(f.txs, *tx)
	f.created = append(f.created, *tx)
	return tx, nil
}

func (f *fakeStore) ListTransactionsByUser(_ context.Context, _, userID string) ([]contentstore.CreditTransaction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failOn == "list_transactions" {
		return nil, errors.New("store down")
	}
	out := make([]contentstore.CreditTransaction, 0, len(f.txs))
	for _, tx := range f.txs {
		if tx.User.Matches(userID) {
			out = append(out, tx)
		}
	}
	return out, nil
}

// fakeAttempts records state transitions in memory.
type fakeAttempts struct {
	mu       sync.Mutex
	attempts map[string]*models.PurchaseAttempt
}

func newFakeAttempts() *fakeAttempts {
	return &fakeAttempts{attempts: map[string]*models.PurchaseAttempt{}}
}

func (f *fakeAttempts) Create(a *models.PurchaseAttempt) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *a
	cp.CreatedAt = time.Now()
	f.attempts[a.AttemptID] = &cp
	return nil
}

func (f *fakeAttempts) UpdateStep(attemptID, step string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if a, ok := f.attempts[attemptID]; ok {
		a.Step = step
	}
	return nil
}

func (f *fakeAttempts) MarkFailed(attemptID, failedStep, message string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if a, ok := f.attempts[attemptID]; ok {
		a.Step = models.PurchaseStepFailed
		a.FailedStep = failedStep
		a.FailureError = message
	}
	return nil
}

func (f *fakeAttempts) GetByAttemptID(attemptID string) (*models.PurchaseAttempt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if a, ok := f.attempts[attemptID]; ok {
		cp := *a
		return &cp, nil
	}
	return nil, errors.New("not found")
}

func (f *fakeAttempts) ListStaleNonTerminal(_ time.Time, _ int) ([]models.PurchaseAttempt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.PurchaseAttempt
	for _, a := range f.attempts {
		if !a.IsTerminal() {
			out = append(out, *a)
		}
	}
	return out, nil
}

func (f *fakeAttempts) byStep(step string) *models.PurchaseAttempt {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, a := range f.attempts {
		if a.Step == step {
			cp := *a
			return &cp
		}
	}
	return nil
}

// memoryLocker enforces per-user mutual exclusion in process, in place of
// the Redis lease.
type memoryLocker struct {
	mu   sync.Mutex
	held map[string]bool
	busy bool
}

func newMemoryLocker() *memoryLocker {
	return &memoryLocker{held: map[string]bool{}}
}

func (l *memoryLocker) Acquire(_ context.Context, userID string) (func(), bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.busy || l.held[userID] {
		return nil, false, nil
	}
	l.held[userID] = true
	release := func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		delete(l.held, userID)
	}
	return release, true, nil
}

type fakeSigner struct{}

func (fakeSigner) DownloadURL(_ context.Context, track *contentstore.Track, withStems bool) (string, error) {
	if withStems {
		return "https://assets.test/" + track.ID.String() + "/stems", nil
	}
	return "https://assets.test/" + track.ID.String() + "/audio", nil
}

func newTestService(store *fakeStore, attempts *fakeAttempts) *Service {
	return NewService(store, attempts, newMemoryLocker(), fakeSigner{})
}

func storeWith(regular, sub int, active bool) *fakeStore {
	status := contentstore.SubscriptionStatusActive
	if !active {
		status = contentstore.SubscriptionStatusCanceled
	}
	return &fakeStore{
		user: &contentstore.User{
			ID:                 "7",
			Email:              "buyer@example.com",
			RegularCredits:     regular,
			SubCredits:         sub,
			IsSubscribed:       true,
			SubscriptionStatus: status,
		},
		track: &contentstore.Track{
			ID:            "42",
			Producer:      contentstore.Ref{ID: "99"},
			CreditsEarned: 20,
			AudioKey:      "tracks/42/audio.wav",
			StemsKey:      "tracks/42/stems.zip",
		},
	}
}

func TestSpendCreditsHappyPath(t *testing.T) {
	store := storeWith(2, 8, true)
	attempts := newFakeAttempts()
	svc := newTestService(store, attempts)

	result, err := svc.SpendCredits(context.Background(), "tok", "7", "42", 7)
	require.NoError(t, err)

	// Sub credits first: 7 of 8 sub credits, no regular credits.
	assert.Equal(t, 7, result.AmountSpent)
	assert.Equal(t, 2, result.RegularCredits)
	assert.Equal(t, 1, result.SubCredits)
	assert.Equal(t, 3, result.TotalCredits)
	assert.Equal(t, "https://assets.test/42/audio", result.AssetURL)

	require.Len(t, store.created, 2)
	debit, sale := store.created[0], store.created[1]
	assert.Equal(t, -7.0, debit.Amount)
	assert.Equal(t, contentstore.TransactionTypePurchase, debit.Type)
	assert.Equal(t, "audio", debit.Details)
	assert.True(t, debit.User.Matches("7"))
	assert.Equal(t, 7.0, sale.Amount)
	assert.Equal(t, contentstore.TransactionTypeSale, sale.Type)
	assert.True(t, sale.User.Matches("99"))

	assert.Equal(t, 27.0, store.track.CreditsEarned)
	require.Len(t, store.user.PurchasedTracks, 1)
	assert.True(t, store.user.PurchasedTracks[0].Matches("42"))

	committed := attempts.byStep(models.PurchaseStepCommitted)
	require.NotNil(t, committed)
	assert.Equal(t, 7, committed.SubCredits)
	assert.Equal(t, 0, committed.RegCredits)
}

func TestSpendCreditsInsufficientMakesNoWrites(t *testing.T) {
	store := storeWith(3, 2, true)
	attempts := newFakeAttempts()
	svc := newTestService(store, attempts)

	_, err := svc.SpendCredits(context.Background(), "tok", "7", "42", 6)
	assert.ErrorIs(t, err, ErrInsufficientCredits)
	assert.Empty(t, store.created)
	assert.Equal(t, 3, store.user.RegularCredits)
	assert.Empty(t, attempts.attempts)
}

func TestSpendCreditsCanceledSubscriptionLosesSubCredits(t *testing.T) {
	store := storeWith(2, 8, false)
	svc := newTestService(store, newFakeAttempts())

	_, err := svc.SpendCredits(context.Background(), "tok", "7", "42", 7)
	assert.ErrorIs(t, err, ErrInsufficientCredits)
}

func TestSpendCreditsRejectsOwner(t *testing.T) {
	store := storeWith(10, 0, true)
	store.track.Producer = contentstore.Ref{ID: "7"}
	svc := newTestService(store, newFakeAttempts())

	_, err := svc.SpendCredits(context.Background(), "tok", "7", "42", 5)
	assert.ErrorIs(t, err, ErrTrackAlreadyOwned)
	assert.Empty(t, store.created)
}

func TestSpendCreditsRejectsFullyPurchased(t *testing.T) {
	store := storeWith(10, 0, true)
	store.txs = []contentstore.CreditTransaction{{
		User:      contentstore.Ref{ID: "7"},
		Track:     contentstore.Ref{ID: "42"},
		Amount:    -7.5,
		Details:   "audio+stems",
		Timestamp: time.Now(),
	}}
	svc := newTestService(store, newFakeAttempts())

	_, err := svc.SpendCredits(context.Background(), "tok", "7", "42", 5)
	assert.ErrorIs(t, err, ErrTrackAlreadyPurchased)
}

func TestSpendCreditsStemsUpgradeTagging(t *testing.T) {
	store := storeWith(10, 0, true)
	store.txs = []contentstore.CreditTransaction{{
		User:      contentstore.Ref{ID: "7"},
		Track:     contentstore.Ref{ID: "42"},
		Amount:    -2.5,
		Details:   "audio",
		Timestamp: time.Now(),
	}}
	svc := newTestService(store, newFakeAttempts())

	result, err := svc.SpendCredits(context.Background(), "tok", "7", "42", 5)
	require.NoError(t, err)
	assert.Equal(t, "https://assets.test/42/stems", result.AssetURL)
	require.NotEmpty(t, store.created)
	assert.Equal(t, entitlements.PurchaseDetails(true), store.created[0].Details)
	assert.Equal(t, "audio+stems", store.created[0].Details)
}

func TestSpendCreditsResolvesProducerFromList(t *testing.T) {
	store := storeWith(10, 0, true)
	// The store sometimes delivers the seller only as a producer list.
	store.track.Producer = contentstore.Ref{}
	store.track.Producers = []contentstore.Ref{{ID: "99"}, {ID: "100"}}
	attempts := newFakeAttempts()
	svc := newTestService(store, attempts)

	_, err := svc.SpendCredits(context.Background(), "tok", "7", "42", 5)
	require.NoError(t, err)

	var sale *contentstore.CreditTransaction
	for i := range store.created {
		if store.created[i].Type == contentstore.TransactionTypeSale {
			sale = &store.created[i]
		}
	}
	require.NotNil(t, sale)
	assert.Equal(t, "99", sale.User.ID)

	attempt := attempts.byStep(models.PurchaseStepCommitted)
	require.NotNil(t, attempt)
	assert.Equal(t, "99", attempt.ProducerID)
}

func TestSpendCreditsStepFailureIsTaggedAndRecorded(t *testing.T) {
	store := storeWith(10, 0, true)
	store.failOn = StepUpdateBuyer
	attempts := newFakeAttempts()
	svc := newTestService(store, attempts)

	_, err := svc.SpendCredits(context.Background(), "tok", "7", "42", 5)
	require.Error(t, err)

	var stepError *StepError
	require.ErrorAs(t, err, &stepError)
	assert.Equal(t, StepUpdateBuyer, stepError.Step)

	// The debit went through; nothing after the failed step ran.
	require.Len(t, store.created, 1)
	assert.Equal(t, contentstore.TransactionTypePurchase, store.created[0].Type)
	assert.Equal(t, 20.0, store.track.CreditsEarned)

	failed := attempts.byStep(models.PurchaseStepFailed)
	require.NotNil(t, failed)
	assert.Equal(t, StepUpdateBuyer, failed.FailedStep)
}

func TestSpendCreditsBusyLease(t *testing.T) {
	store := storeWith(10, 0, true)
	locker := newMemoryLocker()
	locker.busy = true
	svc := NewService(store, newFakeAttempts(), locker, fakeSigner{})

	_, err := svc.SpendCredits(context.Background(), "tok", "7", "42", 5)
	assert.ErrorIs(t, err, ErrPurchaseInProgress)
}

func TestSpendCreditsSerializedDoubleSpend(t *testing.T) {
	// Two sequential spends of the full balance: exactly one succeeds.
	// The lease guarantees sequences for one user never interleave, so
	// back-to-back execution is the adversarial schedule.
	store := storeWith(10, 0, true)
	attempts := newFakeAttempts()
	svc := newTestService(store, attempts)

	_, err := svc.SpendCredits(context.Background(), "tok", "7", "42", 10)
	require.NoError(t, err)

	_, err = svc.SpendCredits(context.Background(), "tok", "7", "43", 10)
	assert.ErrorIs(t, err, ErrInsufficientCredits)
}

func TestReconcilerClassifiesPartialWrites(t *testing.T) {
	store := storeWith(10, 0, true)
	attempts := newFakeAttempts()

	stuck := &models.PurchaseAttempt{
		AttemptID: "a-1",
		UserID:    "7",
		TrackID:   "42",
		Amount:    5,
		Step:      models.PurchaseStepDebitCreated,
	}
	require.NoError(t, attempts.Create(stuck))

	rec := NewReconciler(store, attempts)
	n, err := rec.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, err := attempts.GetByAttemptID("a-1")
	require.NoError(t, err)
	assert.Equal(t, models.PurchaseStepFailed, got.Step)
	assert.Contains(t, got.FailureError, "buyer balance not updated")
}

func TestSpendCreditsValidation(t *testing.T) {
	svc := newTestService(storeWith(10, 0, true), newFakeAttempts())

	if _, err := svc.SpendCredits(context.Background(), "tok", "7", "42", 0); err == nil {
		t.Fatal("expected zero amount to be rejected")
	}
	if _, err := svc.SpendCredits(context.Background(), "tok", "", "42", 5); err == nil {
		t.Fatal("expected missing user id to be rejected")
	}
	if _, err := svc.SpendCredits(context.Background(), "tok", "7", "", 5); err == nil {
		t.Fatal("expected missing track id to be rejected")
	}
}
