package contentstore

import (
	"bytes"
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

const defaultContentStoreBaseURL = "http://localhost:1337/api"

// ErrNotFound is returned when the store answers 404 for a lookup.
var ErrNotFound = errors.New("content store: not found")

// IsNotFound reports whether err means the looked-up record does not exist.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// APIError carries the upstream status of a failed content store call so
// callers can map it onto their own response codes.
type APIError struct {
	StatusCode int
	Method     string
	Path       string
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("content store %s %s failed: status=%d body=%s", e.Method, e.Path, e.StatusCode, e.Body)
}

// Client talks to the external Content Store (users, tracks, transactions)
// over its REST API. User-scoped reads forward the caller's bearer token;
// webhook-driven writes fall back to the configured service token.
type Client struct {
	BaseURL      string
	ServiceToken string

	HTTPClient *http.Client
}

// NewClientFromEnv builds a client from CONTENT_STORE_* env keys.
func NewClientFromEnv() *Client {
	return &Client{
		BaseURL:      strings.TrimRight(env.GetEnv("CONTENT_STORE_BASE_URL", defaultContentStoreBaseURL), "/"),
		ServiceToken: strings.TrimSpace(env.GetEnv("CONTENT_STORE_API_TOKEN", "")),
		HTTPClient: &http.Client{
			Timeout: 15 * time.Second,
		},
	}
}

// GetMe resolves the caller's own user record from their bearer token.
func (c *Client) GetMe(ctx context.Context, token string) (*User, error) {
	if strings.TrimSpace(token) == "" {
		return nil, errors.New("bearer token is required")
	}
	var u User
	if err := c.do(ctx, http.MethodGet, "/users/me", token, nil, &u); err != nil {
		return nil, err
	}
	if u.ID == "" {
		return nil, errors.New("content store returned user without id")
	}
	return &u, nil
}

// GetUser fetches a user by id. Balances must always be read fresh through
// this call right before a debit; never reuse a cached record.
func (c *Client) GetUser(ctx context.Context, token, id string) (*User, error) {
	if strings.TrimSpace(id) == "" {
		return nil, errors.New("user id is required")
	}
	var u User
	if err := c.do(ctx, http.MethodGet, "/users/"+url.PathEscape(id), token, nil, &u); err != nil {
		return nil, err
	}
	return &u, nil
}

// FindUserByEmail looks up the user record for a billing email. Used by the
// checkout bridge to key subscription updates from gateway events.
func (c *Client) FindUserByEmail(ctx context.Context, email string) (*User, error) {
	e := strings.TrimSpace(email)
	if e == "" {
		return nil, errors.New("email is required")
	}
	var users []User
	path := "/users?email=" + url.QueryEscape(e)
	if err := c.do(ctx, http.MethodGet, path, "", nil, &users); err != nil {
		return nil, err
	}
	if len(users) == 0 {
		return nil, ErrNotFound
	}
	return &users[0], nil
}

// UpdateUserCredits writes post-debit balances and the purchased-track list.
func (c *Client) UpdateUserCredits(ctx context.Context, token, id string, regular, sub int, purchased []Ref) error {
	if strings.TrimSpace(id) == "" {
		return errors.New("user id is required")
	}
	body := map[string]interface{}{
		"regularCredits":  regular,
		"subCredits":      sub,
		"purchasedTracks": purchased,
	}
	return c.do(ctx, http.MethodPut, "/users/"+url.PathEscape(id), token, body, nil)
}

// UpdateUserSubscription pushes subscription state derived from gateway
// events onto the user record.
func (c *Client) UpdateUserSubscription(ctx context.Context, id string, till time.Time, status string, isSubscribed bool) error {
	if strings.TrimSpace(id) == "" {
		return errors.New("user id is required")
	}
	body := map[string]interface{}{
		"subscribedTill":     till.UTC().Format(time.RFC3339),
		"subscriptionStatus": status,
		"isSubscribed":       isSubscribed,
	}
	return c.do(ctx, http.MethodPut, "/users/"+url.PathEscape(id), "", body, nil)
}

// GetTrack fetches a track with its producer references.
func (c *Client) GetTrack(ctx context.Context, token, id string) (*Track, error) {
	if strings.TrimSpace(id) == "" {
		return nil, errors.New("track id is required")
	}
	var t Track
	if err := c.do(ctx, http.MethodGet, "/tracks/"+url.PathEscape(id), token, nil, &t); err != nil {
		return nil, err
	}
	return &t, nil
}

// UpdateTrackEarnings writes the track's lifetime earnings accumulator.
func (c *Client) UpdateTrackEarnings(ctx context.Context, token, id string, creditsEarned float64) error {
	if strings.TrimSpace(id) == "" {
		return errors.New("track id is required")
	}
	body := map[string]interface{}{
		"creditsEarned": creditsEarned,
	}
	return c.do(ctx, http.MethodPut, "/tracks/"+url.PathEscape(id), token, body, nil)
}

// CreateTransaction appends an immutable ledger entry.
func (c *Client) CreateTransaction(ctx context.Context, token string, tx *CreditTransaction) (*CreditTransaction, error) {
	if tx == nil {
		return nil, errors.New("transaction is required")
	}
	var created CreditTransaction
	if err := c.do(ctx, http.MethodPost, "/transactions", token, tx, &created); err != nil {
		return nil, err
	}
	return &created, nil
}

// ListTransactionsByUser returns the user's full ledger history.
func (c *Client) ListTransactionsByUser(ctx context.Context, token, userID string) ([]CreditTransaction, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, errors.New("user id is required")
	}
	var txs []CreditTransaction
	path := "/transactions?user=" + url.QueryEscape(userID)
	if err := c.do(ctx, http.MethodGet, path, token, nil, &txs); err != nil {
		return nil, err
	}
	return txs, nil
}

func (c *Client) do(ctx context.Context, method, path, token string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	auth := strings.TrimSpace(token)
	if auth == "" {
		auth = c.ServiceToken
	}
	if auth != "" {
		req.Header.Set("Authorization", "Bearer "+auth)
	}

	resp, err := c.httpClient().Do(req)
	if err != nil {
		return fmt.Errorf("content store request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 2<<20))
	if resp.StatusCode == http.StatusNotFound {
		return ErrNotFound
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &APIError{StatusCode: resp.StatusCode, Method: method, Path: path, Body: string(raw)}
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("content store %s %s returned invalid JSON: %w", method, path, err)
	}
	return nil
}

func (c *Client) httpClient() *http.Client {
	if c.HTTPClient != nil {
		return c.HTTPClient
	}
	return http.DefaultClient
}
