package payment

import "encoding/json"

// Checkout session modes.
const (
	ModePayment      = "payment"
	ModeSubscription = "subscription"
)

// Gateway lifecycle event types the bridge reacts to. Anything else is
// acknowledged and ignored.
const (
	EventCheckoutCompleted     = "checkout.session.completed"
	EventInvoicePaymentSucceed = "invoice.payment_succeeded"
	EventInvoicePaymentFailed  = "invoice.payment_failed"
	EventInvoiceCreated        = "invoice.created"
)

// Invoice billing reasons that mark a subscription grant or renewal.
const (
	BillingReasonSubscriptionCreate = "subscription_create"
	BillingReasonSubscriptionCycle  = "subscription_cycle"
)

// CheckoutSession is a hosted payment session. The URL is handed to the
// client for redirect; the id is kept for reconciliation.
type CheckoutSession struct {
	ID                string            `json:"id"`
	URL               string            `json:"url"`
	Mode              string            `json:"mode"`
	Status            string            `json:"status"`
	CustomerEmail     string            `json:"customer_email"`
	ClientReferenceID string            `json:"client_reference_id"`
	Invoice           string            `json:"invoice"`
	Subscription      string            `json:"subscription"`
	Metadata          map[string]string `json:"metadata"`
}

// CheckoutSessionParams are the inputs for opening a hosted session.
type CheckoutSessionParams struct {
	PriceRef          string
	Mode              string
	SuccessURL        string
	CancelURL         string
	CustomerEmail     string
	ClientReferenceID string
	Metadata          map[string]string
}

// Invoice is a gateway invoice as delivered inside webhook events.
type Invoice struct {
	ID            string            `json:"id"`
	Status        string            `json:"status"`
	BillingReason string            `json:"billing_reason"`
	CustomerEmail string            `json:"customer_email"`
	Subscription  string            `json:"subscription"`
	AmountDue     int64             `json:"amount_due"`
	Metadata      map[string]string `json:"metadata"`
}

// Subscription carries the renewal timestamp the bridge pushes to the
// Content Store as subscribedTill.
type Subscription struct {
	ID                 string `json:"id"`
	Status             string `json:"status"`
	CurrentPeriodStart int64  `json:"current_period_start"`
	CurrentPeriodEnd   int64  `json:"current_period_end"`
}

// PaymentMethod is a stored payment instrument.
type PaymentMethod struct {
	ID       string `json:"id"`
	Type     string `json:"type"`
	Customer string `json:"customer"`
}

// Event is a gateway webhook event. Data.Object holds the raw payload of
// the event's subject (session, invoice, ...), decoded per event type.
type Event struct {
	ID   string `json:"id"`
	Type string `json:"type"`
	Data struct {
		Object json.RawMessage `json:"object"`
	} `json:"data"`
	Created int64 `json:"created"`
}
