package payment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/wavecrate/wavecrate/app/models"
	"github.com/wavecrate/wavecrate/app/repository"
	"github.com/wavecrate/wavecrate/internal/pkg/contentstore"
)

// BuyerEmailMetadataKey tags checkout sessions with the buyer identity so
// later gateway events can be reconciled back to a Content Store user.
const BuyerEmailMetadataKey = "buyer_email"

// invoiceStatusDraft is the only invoice state the bridge advances itself.
const invoiceStatusDraft = "draft"

type gatewayAPI interface {
	GetInvoice(ctx context.Context, id string) (*Invoice, error)
	GetSubscription(ctx context.Context, id string) (*Subscription, error)
	FinalizeInvoice(ctx context.Context, id string) (*Invoice, error)
	PayInvoice(ctx context.Context, id string) (*Invoice, error)
}

type subscriberStore interface {
	FindUserByEmail(ctx context.Context, email string) (*contentstore.User, error)
	UpdateUserSubscription(ctx context.Context, id string, till time.Time, status string, isSubscribed bool) error
}

// Bridge reconciles asynchronous Payment Gateway lifecycle events into the
// Content Store's subscription state. Processing is fire-and-forget from
// the gateway's point of view: events are acknowledged once persisted and
// failures land in the audit table, never in the HTTP response.
type Bridge struct {
	gateway gatewayAPI
	store   subscriberStore
	repo    repository.WebhookEventRepository
}

// NewBridge creates a bridge from its collaborators.
func NewBridge(gateway gatewayAPI, store subscriberStore, repo repository.WebhookEventRepository) *Bridge {
	return &Bridge{gateway: gateway, store: store, repo: repo}
}

// NewBridgeFromDB wires the bridge with env-configured clients and a GORM
// backed audit repository.
func NewBridgeFromDB(db *gorm.DB) *Bridge {
	return NewBridge(NewGatewayFromEnv(), contentstore.NewClientFromEnv(), repository.NewWebhookEventRepository(db))
}

// RecordEvent persists a webhook event idempotently and reports whether it
// was seen for the first time.
func (b *Bridge) RecordEvent(event *Event, payload []byte, signatureValid bool) (bool, *models.PaymentWebhookEvent, error) {
	stored := &models.PaymentWebhookEvent{
		ProviderEventID: strings.TrimSpace(event.ID),
		EventType:       strings.TrimSpace(event.Type),
		PayloadJSON:     string(payload),
		SignatureValid:  signatureValid,
	}
	if stored.ProviderEventID == "" {
		return false, nil, errors.New("event id is required")
	}
	return b.repo.CreateIfNotExists(stored)
}

// MarkProcessed records the processing outcome for an audit row.
func (b *Bridge) MarkProcessed(eventID uint, processingErr error) error {
	if eventID == 0 {
		return errors.New("webhook event id is required")
	}
	errMsg := ""
	if processingErr != nil {
		errMsg = processingErr.Error()
	}
	return b.repo.MarkProcessed(eventID, errMsg)
}

// Reconcile runs the event state machine. Unrecognized event types are a
// deliberate no-op; every returned error is an internal reconciliation
// failure that the caller logs and audits without changing the HTTP ack.
func (b *Bridge) Reconcile(ctx context.Context, event *Event) error {
	switch event.Type {
	case EventCheckoutCompleted:
		return b.reconcileCheckoutCompleted(ctx, event)
	case EventInvoicePaymentSucceed:
		return b.reconcileInvoicePaid(ctx, event)
	case EventInvoicePaymentFailed:
		return b.reconcileInvoiceFailed(ctx, event)
	case EventInvoiceCreated:
		return b.reconcileInvoiceCreated(ctx, event)
	default:
		return nil
	}
}

func (b *Bridge) reconcileCheckoutCompleted(ctx context.Context, event *Event) error {
	var session CheckoutSession
	if err := json.Unmarshal(event.Data.Object, &session); err != nil {
		return fmt.Errorf("invalid checkout session payload: %w", err)
	}
	if session.Invoice == "" {
		log.Printf("checkout session %s completed without invoice", session.ID)
		return nil
	}
	invoice, err := b.gateway.GetInvoice(ctx, session.Invoice)
	if err != nil {
		return fmt.Errorf("failed to look up invoice %s: %w", session.Invoice, err)
	}
	log.Printf("checkout session %s completed, invoice %s status=%s", session.ID, invoice.ID, invoice.Status)
	return nil
}

func (b *Bridge) reconcileInvoicePaid(ctx context.Context, event *Event) error {
	var invoice Invoice
	if err := json.Unmarshal(event.Data.Object, &invoice); err != nil {
		return fmt.Errorf("invalid invoice payload: %w", err)
	}
	if invoice.BillingReason != BillingReasonSubscriptionCreate && invoice.BillingReason != BillingReasonSubscriptionCycle {
		return nil
	}
	if invoice.Subscription == "" {
		return errors.New("subscription invoice carries no subscription id")
	}

	sub, err := b.gateway.GetSubscription(ctx, invoice.Subscription)
	if err != nil {
		return fmt.Errorf("failed to fetch subscription %s: %w", invoice.Subscription, err)
	}
	till := time.Unix(sub.CurrentPeriodEnd, 0).UTC()

	email := buyerEmail(invoice)
	if email == "" {
		return errors.New("invoice carries no billing email")
	}
	user, err := b.store.FindUserByEmail(ctx, email)
	if err != nil {
		return fmt.Errorf("no user record for billing email %s: %w", email, err)
	}
	if err := b.store.UpdateUserSubscription(ctx, user.ID.String(), till, contentstore.SubscriptionStatusActive, true); err != nil {
		return fmt.Errorf("failed to update subscription for user %s: %w", user.ID, err)
	}
	log.Printf("subscription for %s renewed until %s", email, till.Format(time.RFC3339))
	return nil
}

func (b *Bridge) reconcileInvoiceFailed(ctx context.Context, event *Event) error {
	var invoice Invoice
	if err := json.Unmarshal(event.Data.Object, &invoice); err != nil {
		return fmt.Errorf("invalid invoice payload: %w", err)
	}

	email := buyerEmail(invoice)
	if email == "" {
		return errors.New("invoice carries no billing email")
	}
	user, err := b.store.FindUserByEmail(ctx, email)
	if err != nil {
		return fmt.Errorf("no user record for billing email %s: %w", email, err)
	}

	// Lapse access immediately by backdating the renewal timestamp.
	lapsed := time.Now().Add(-24 * time.Hour).UTC()
	if err := b.store.UpdateUserSubscription(ctx, user.ID.String(), lapsed, contentstore.SubscriptionStatusPastDue, true); err != nil {
		return fmt.Errorf("failed to lapse subscription for user %s: %w", user.ID, err)
	}
	log.Printf("subscription for %s lapsed after failed payment of invoice %s", email, invoice.ID)
	return nil
}

func (b *Bridge) reconcileInvoiceCreated(ctx context.Context, event *Event) error {
	var invoice Invoice
	if err := json.Unmarshal(event.Data.Object, &invoice); err != nil {
		return fmt.Errorf("invalid invoice payload: %w", err)
	}
	if invoice.Status != invoiceStatusDraft {
		return nil
	}
	if _, err := b.gateway.FinalizeInvoice(ctx, invoice.ID); err != nil {
		return fmt.Errorf("failed to finalize invoice %s: %w", invoice.ID, err)
	}
	if _, err := b.gateway.PayInvoice(ctx, invoice.ID); err != nil {
		return fmt.Errorf("failed to pay invoice %s: %w", invoice.ID, err)
	}
	return nil
}

// buyerEmail resolves the billing identity of an invoice: the metadata tag
// set at checkout takes precedence, the customer email is the fallback.
func buyerEmail(invoice Invoice) string {
	if email := strings.TrimSpace(invoice.Metadata[BuyerEmailMetadataKey]); email != "" {
		return email
	}
	return strings.TrimSpace(invoice.CustomerEmail)
}
