package payment

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wavecrate/wavecrate/internal/pkg/contentstore"
)

type fakeGateway struct {
	invoices      map[string]*Invoice
	subscriptions map[string]*Subscription
	finalized     []string
	paid          []string
}

func (f *fakeGateway) GetInvoice(_ context.Context, id string) (*Invoice, error) {
	if inv, ok := f.invoices[id]; ok {
		return inv, nil
	}
	return nil, errors.New("invoice not found")
}

func (f *fakeGateway) GetSubscription(_ context.Context, id string) (*Subscription, error) {
	if sub, ok := f.subscriptions[id]; ok {
		return sub, nil
	}
	return nil, errors.New("subscription not found")
}

func (f *fakeGateway) FinalizeInvoice(_ context.Context, id string) (*Invoice, error) {
	f.finalized = append(f.finalized, id)
	return &Invoice{ID: id, Status: "open"}, nil
}

func (f *fakeGateway) PayInvoice(_ context.Context, id string) (*Invoice, error) {
	f.paid = append(f.paid, id)
	return &Invoice{ID: id, Status: "paid"}, nil
}

type subscriptionWrite struct {
	userID       string
	till         time.Time
	status       string
	isSubscribed bool
}

type fakeStore struct {
	usersByEmail map[string]*contentstore.User
	writes       []subscriptionWrite
}

func (f *fakeStore) FindUserByEmail(_ context.Context, email string) (*contentstore.User, error) {
	if u, ok := f.usersByEmail[email]; ok {
		return u, nil
	}
	return nil, contentstore.ErrNotFound
}

func (f *fakeStore) UpdateUserSubscription(_ context.Context, id string, till time.Time, status string, isSubscribed bool) error {
	f.writes = append(f.writes, subscriptionWrite{userID: id, till: till, status: status, isSubscribed: isSubscribed})
	return nil
}

func eventWith(t *testing.T, eventType string, object interface{}) *Event {
	t.Helper()
	raw, err := json.Marshal(object)
	require.NoError(t, err)
	event := &Event{ID: "evt_test", Type: eventType}
	event.Data.Object = raw
	return event
}

func newTestBridge(gw *fakeGateway, store *fakeStore) *Bridge {
	return NewBridge(gw, store, nil)
}

func TestReconcileSubscriptionRenewal(t *testing.T) {
	periodEnd := time.Now().Add(30 * 24 * time.Hour).Unix()
	gw := &fakeGateway{
		subscriptions: map[string]*Subscription{
			"sub_1": {ID: "sub_1", Status: "active", CurrentPeriodEnd: periodEnd},
		},
	}
	store := &fakeStore{
		usersByEmail: map[string]*contentstore.User{
			"buyer@example.com": {ID: "7", Email: "buyer@example.com"},
		},
	}
	bridge := newTestBridge(gw, store)

	for _, reason := range []string{BillingReasonSubscriptionCreate, BillingReasonSubscriptionCycle} {
		store.writes = nil
		event := eventWith(t, EventInvoicePaymentSucceed, Invoice{
			ID:            "in_1",
			BillingReason: reason,
			CustomerEmail: "buyer@example.com",
			Subscription:  "sub_1",
		})
		require.NoError(t, bridge.Reconcile(context.Background(), event))
		require.Len(t, store.writes, 1)
		assert.Equal(t, "7", store.writes[0].userID)
		assert.Equal(t, contentstore.SubscriptionStatusActive, store.writes[0].status)
		assert.True(t, store.writes[0].isSubscribed)
		assert.Equal(t, time.Unix(periodEnd, 0).UTC(), store.writes[0].till)
	}
}

func TestReconcileIgnoresNonSubscriptionInvoices(t *testing.T) {
	bridge := newTestBridge(&fakeGateway{}, &fakeStore{})
	event := eventWith(t, EventInvoicePaymentSucceed, Invoice{
		ID:            "in_1",
		BillingReason: "manual",
		CustomerEmail: "buyer@example.com",
	})
	assert.NoError(t, bridge.Reconcile(context.Background(), event))
}

func TestReconcilePaymentFailureLapsesAccess(t *testing.T) {
	store := &fakeStore{
		usersByEmail: map[string]*contentstore.User{
			"buyer@example.com": {ID: "7", Email: "buyer@example.com"},
		},
	}
	bridge := newTestBridge(&fakeGateway{}, store)

	event := eventWith(t, EventInvoicePaymentFailed, Invoice{
		ID:       "in_2",
		Metadata: map[string]string{BuyerEmailMetadataKey: "buyer@example.com"},
	})
	require.NoError(t, bridge.Reconcile(context.Background(), event))
	require.Len(t, store.writes, 1)
	assert.Equal(t, contentstore.SubscriptionStatusPastDue, store.writes[0].status)
	assert.True(t, store.writes[0].till.Before(time.Now().Add(-23*time.Hour)))
}

func TestReconcileDraftInvoiceIsFinalizedAndPaid(t *testing.T) {
	gw := &fakeGateway{}
	bridge := newTestBridge(gw, &fakeStore{})

	event := eventWith(t, EventInvoiceCreated, Invoice{ID: "in_3", Status: "draft"})
	require.NoError(t, bridge.Reconcile(context.Background(), event))
	assert.Equal(t, []string{"in_3"}, gw.finalized)
	assert.Equal(t, []string{"in_3"}, gw.paid)

	// Non-draft invoices are left alone.
	gw.finalized, gw.paid = nil, nil
	event = eventWith(t, EventInvoiceCreated, Invoice{ID: "in_4", Status: "open"})
	require.NoError(t, bridge.Reconcile(context.Background(), event))
	assert.Empty(t, gw.finalized)
	assert.Empty(t, gw.paid)
}

func TestReconcileUnknownEventIsNoOp(t *testing.T) {
	bridge := newTestBridge(&fakeGateway{}, &fakeStore{})
	event := &Event{ID: "evt_x", Type: "customer.updated"}
	assert.NoError(t, bridge.Reconcile(context.Background(), event))
}

func TestReconcileCheckoutCompletedLooksUpInvoice(t *testing.T) {
	gw := &fakeGateway{invoices: map[string]*Invoice{"in_5": {ID: "in_5", Status: "paid"}}}
	bridge := newTestBridge(gw, &fakeStore{})

	event := eventWith(t, EventCheckoutCompleted, CheckoutSession{ID: "cs_1", Invoice: "in_5"})
	assert.NoError(t, bridge.Reconcile(context.Background(), event))

	// Missing invoice is an internal reconciliation failure, never a panic.
	event = eventWith(t, EventCheckoutCompleted, CheckoutSession{ID: "cs_2", Invoice: "in_unknown"})
	assert.Error(t, bridge.Reconcile(context.Background(), event))
}

func TestReconcileSubscriptionRenewalUnknownEmail(t *testing.T) {
	gw := &fakeGateway{
		subscriptions: map[string]*Subscription{"sub_1": {ID: "sub_1", CurrentPeriodEnd: time.Now().Unix()}},
	}
	bridge := newTestBridge(gw, &fakeStore{usersByEmail: map[string]*contentstore.User{}})

	event := eventWith(t, EventInvoicePaymentSucceed, Invoice{
		ID:            "in_6",
		BillingReason: BillingReasonSubscriptionCreate,
		CustomerEmail: "ghost@example.com",
		Subscription:  "sub_1",
	})
	err := bridge.Reconcile(context.Background(), event)
	assert.ErrorIs(t, err, contentstore.ErrNotFound)
}
