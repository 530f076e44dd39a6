package contentstore

import (
	"bytes"
	"encoding/json"
	"strings"
	"time"
)

// FlexID decodes an entity id that upstream may deliver as a JSON number or
// a string, into its canonical string form.
type FlexID string

func (f *FlexID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || string(data) == "null" {
		*f = ""
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*f = FlexID(strings.TrimSpace(s))
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	*f = FlexID(n.String())
	return nil
}

func (f FlexID) String() string { return string(f) }

// Ref is a reference to another Content Store entity. The store is not
// consistent about how it serializes relations: depending on endpoint and
// population depth the same reference arrives as a bare id, an id string,
// an object with an id field, or a data-envelope around such an object.
// Ref collapses that closed set of shapes into one canonical id.
type Ref struct {
	ID string
}

func (r *Ref) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || string(data) == "null" {
		r.ID = ""
		return nil
	}
	if data[0] != '{' {
		var id FlexID
		if err := json.Unmarshal(data, &id); err != nil {
			return err
		}
		r.ID = id.String()
		return nil
	}

	var obj struct {
		ID   FlexID `json:"id"`
		Data *struct {
			ID FlexID `json:"id"`
		} `json:"data"`
	}
	if err := json.Unmarshal(data, &obj); err != nil {
		return err
	}
	if obj.ID != "" {
		r.ID = obj.ID.String()
		return nil
	}
	if obj.Data != nil {
		r.ID = obj.Data.ID.String()
	}
	return nil
}

func (r Ref) MarshalJSON() ([]byte, error) {
	return json.Marshal(r.ID)
}

// Matches compares the reference against another id using string-normalized
// comparison, since ids arrive as numbers or strings from different sources.
func (r Ref) Matches(id string) bool {
	return r.ID != "" && r.ID == strings.TrimSpace(id)
}

const (
	SubscriptionStatusActive   = "active"
	SubscriptionStatusPastDue  = "past_due"
	SubscriptionStatusCanceled = "canceled"
)

// User is the Content Store user record carrying both credit balances and
// the subscription state mutated by the checkout bridge.
type User struct {
	ID                 FlexID     `json:"id"`
	Username           string     `json:"username"`
	Email              string     `json:"email"`
	RegularCredits     int        `json:"regularCredits"`
	SubCredits         int        `json:"subCredits"`
	IsSubscribed       bool       `json:"isSubscribed"`
	SubscriptionStatus string     `json:"subscriptionStatus"`
	SubscribedTill     *time.Time `json:"subscribedTill,omitempty"`
	// PurchasedTracks doubles as the legacy binary purchased signal for
	// entitlement fallback when transaction history is unavailable.
	PurchasedTracks []Ref `json:"purchasedTracks"`
	// Tracks lists the tracks this user produced.
	Tracks []Ref `json:"tracks"`
}

// SubscriptionActive reports whether sub credits are currently usable.
// Both the flag and the literal active status are required; a canceled or
// past-due subscription contributes nothing even with a nonzero counter.
func (u *User) SubscriptionActive() bool {
	return u != nil && u.IsSubscribed && u.SubscriptionStatus == SubscriptionStatusActive
}

// Track is a sample track owned by exactly one producer.
type Track struct {
	ID            FlexID  `json:"id"`
	Title         string  `json:"title"`
	Producer      Ref     `json:"producer"`
	Producers     []Ref   `json:"producers"`
	CreditsEarned float64 `json:"creditsEarned"`
	// S3 object keys for presigned delivery; the plain URLs are the
	// Content Store's direct asset fallback.
	AudioKey string `json:"audioKey"`
	StemsKey string `json:"stemsKey"`
	AudioURL string `json:"audioUrl"`
	StemsURL string `json:"stemsUrl"`
}

const (
	TransactionTypePurchase = "purchase"
	TransactionTypeSale     = "sale"

	TransactionStatusCompleted = "completed"
)

// CreditTransaction is an immutable ledger entry. Negative amounts are
// debits (spend), positive amounts are credits (earnings). Entries are
// append-only and the system of record for entitlement.
type CreditTransaction struct {
	ID        FlexID    `json:"id"`
	User      Ref       `json:"user"`
	Track     Ref       `json:"track"`
	Amount    float64   `json:"amount"`
	Type      string    `json:"type"`
	Status    string    `json:"status"`
	Details   string    `json:"details"`
	Timestamp time.Time `json:"timestamp"`
}
