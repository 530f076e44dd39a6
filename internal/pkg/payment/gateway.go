package payment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/wavecrate/wavecrate/internal/pkg/env"
)

const defaultGatewayBaseURL = "https://api.payment-gateway.example/v1"

// Gateway is the hosted checkout and billing provider client. Requests are
// form-encoded with secret-key bearer auth, matching the provider's API.
type Gateway struct {
	BaseURL   string
	SecretKey string

	HTTPClient *http.Client
}

// NewGatewayFromEnv builds a gateway client from PAYMENT_* env keys.
func NewGatewayFromEnv() *Gateway {
	return &Gateway{
		BaseURL:   strings.TrimRight(env.GetEnv("PAYMENT_GATEWAY_BASE_URL", defaultGatewayBaseURL), "/"),
		SecretKey: strings.TrimSpace(env.GetEnv("PAYMENT_SECRET_KEY", "")),
		HTTPClient: &http.Client{
			Timeout: 15 * time.Second,
		},
	}
}

// CreateCheckoutSession opens a hosted payment session for a one-time
// purchase or a recurring subscription and returns the redirect handle.
func (g *Gateway) CreateCheckoutSession(ctx context.Context, params CheckoutSessionParams) (*CheckoutSession, error) {
	if strings.TrimSpace(params.PriceRef) == "" {
		return nil, errors.New("price ref is required")
	}
	if params.Mode != ModePayment && params.Mode != ModeSubscription {
		return nil, fmt.Errorf("unsupported checkout mode: %s", params.Mode)
	}

	form := url.Values{}
	form.Set("mode", params.Mode)
	form.Set("line_items[0][price]", params.PriceRef)
	form.Set("line_items[0][quantity]", "1")
	form.Set("success_url", params.SuccessURL)
	form.Set("cancel_url", params.CancelURL)
	if params.CustomerEmail != "" {
		form.Set("customer_email", params.CustomerEmail)
	}
	if params.ClientReferenceID != "" {
		form.Set("client_reference_id", params.ClientReferenceID)
	}
	for k, v := range params.Metadata {
		form.Set("metadata["+k+"]", v)
	}

	var session CheckoutSession
	if err := g.do(ctx, http.MethodPost, "/checkout/sessions", form, &session); err != nil {
		return nil, err
	}
	if session.ID == "" || session.URL == "" {
		return nil, errors.New("gateway returned checkout session without id or url")
	}
	return &session, nil
}

// GetCheckoutSession retrieves a session by id.
func (g *Gateway) GetCheckoutSession(ctx context.Context, id string) (*CheckoutSession, error) {
	if strings.TrimSpace(id) == "" {
		return nil, errors.New("session id is required")
	}
	var session CheckoutSession
	if err := g.do(ctx, http.MethodGet, "/checkout/sessions/"+url.PathEscape(id), nil, &session); err != nil {
		return nil, err
	}
	return &session, nil
}

// GetInvoice retrieves an invoice by id.
func (g *Gateway) GetInvoice(ctx context.Context, id string) (*Invoice, error) {
	if strings.TrimSpace(id) == "" {
		return nil, errors.New("invoice id is required")
	}
	var invoice Invoice
	if err := g.do(ctx, http.MethodGet, "/invoices/"+url.PathEscape(id), nil, &invoice); err != nil {
		return nil, err
	}
	return &invoice, nil
}

// FinalizeInvoice moves a draft invoice into the open state.
func (g *Gateway) FinalizeInvoice(ctx context.Context, id string) (*Invoice, error) {
	if strings.TrimSpace(id) == "" {
		return nil, errors.New("invoice id is required")
	}
	var invoice Invoice
	if err := g.do(ctx, http.MethodPost, "/invoices/"+url.PathEscape(id)+"/finalize", url.Values{}, &invoice); err != nil {
		return nil, err
	}
	return &invoice, nil
}

// PayInvoice attempts payment of an open invoice with the stored method.
func (g *Gateway) PayInvoice(ctx context.Context, id string) (*Invoice, error) {
	if strings.TrimSpace(id) == "" {
		return nil, errors.New("invoice id is required")
	}
	var invoice Invoice
	if err := g.do(ctx, http.MethodPost, "/invoices/"+url.PathEscape(id)+"/pay", url.Values{}, &invoice); err != nil {
		return nil, err
	}
	return &invoice, nil
}

// GetSubscription retrieves a subscription by id.
func (g *Gateway) GetSubscription(ctx context.Context, id string) (*Subscription, error) {
	if strings.TrimSpace(id) == "" {
		return nil, errors.New("subscription id is required")
	}
	var sub Subscription
	if err := g.do(ctx, http.MethodGet, "/subscriptions/"+url.PathEscape(id), nil, &sub); err != nil {
		return nil, err
	}
	return &sub, nil
}

// CreatePaymentMethod registers a payment instrument.
func (g *Gateway) CreatePaymentMethod(ctx context.Context, pmType string, fields map[string]string) (*PaymentMethod, error) {
	if strings.TrimSpace(pmType) == "" {
		return nil, errors.New("payment method type is required")
	}
	form := url.Values{}
	form.Set("type", pmType)
	for k, v := range fields {
		form.Set(pmType+"["+k+"]", v)
	}
	var pm PaymentMethod
	if err := g.do(ctx, http.MethodPost, "/payment_methods", form, &pm); err != nil {
		return nil, err
	}
	return &pm, nil
}

// AttachPaymentMethod binds a payment method to a customer.
func (g *Gateway) AttachPaymentMethod(ctx context.Context, id, customerID string) (*PaymentMethod, error) {
	if strings.TrimSpace(id) == "" || strings.TrimSpace(customerID) == "" {
		return nil, errors.New("payment method id and customer id are required")
	}
	form := url.Values{}
	form.Set("customer", customerID)
	var pm PaymentMethod
	if err := g.do(ctx, http.MethodPost, "/payment_methods/"+url.PathEscape(id)+"/attach", form, &pm); err != nil {
		return nil, err
	}
	return &pm, nil
}

// ListPaymentMethods lists a customer's stored payment instruments.
func (g *Gateway) ListPaymentMethods(ctx context.Context, customerID, pmType string) ([]PaymentMethod, error) {
	if strings.TrimSpace(customerID) == "" {
		return nil, errors.New("customer id is required")
	}
	q := url.Values{}
	q.Set("customer", customerID)
	if pmType != "" {
		q.Set("type", pmType)
	}
	var out struct {
		Data []PaymentMethod `json:"data"`
	}
	if err := g.do(ctx, http.MethodGet, "/payment_methods?"+q.Encode(), nil, &out); err != nil {
		return nil, err
	}
	return out.Data, nil
}

func (g *Gateway) do(ctx context.Context, method, path string, form url.Values, out interface{}) error {
	if strings.TrimSpace(g.SecretKey) == "" {
		return errors.New("PAYMENT_SECRET_KEY is not configured")
	}

	var reader io.Reader
	if form != nil {
		reader = strings.NewReader(form.Encode())
	}

	req, err := http.NewRequestWithContext(ctx, method, g.BaseURL+path, reader)
	if err != nil {
		return err
	}
	if form != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+g.SecretKey)

	resp, err := g.httpClient().Do(req)
	if err != nil {
		return fmt.Errorf("payment gateway request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("payment gateway %s %s failed: status=%d body=%s", method, path, resp.StatusCode, string(raw))
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("payment gateway %s %s returned invalid JSON: %w", method, path, err)
	}
	return nil
}

func (g *Gateway) httpClient() *http.Client {
	if g.HTTPClient != nil {
		return g.HTTPClient
	}
	return http.DefaultClient
}
