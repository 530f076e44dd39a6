package payment

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// DefaultSignatureTolerance bounds how old a signed timestamp may be before
// the event is rejected as a possible replay.
const DefaultSignatureTolerance = 5 * time.Minute

var (
	ErrInvalidSignature   = errors.New("webhook signature verification failed")
	ErrSignatureExpired   = errors.New("webhook signature timestamp outside tolerance")
	ErrMalformedSignature = errors.New("malformed webhook signature header")
)

// VerifyWebhookSignature checks the gateway's signature header against the
// raw payload. The header carries "t=<unix>,v1=<hex>" where v1 is
// HMAC-SHA256 over "<t>.<payload>" with the shared signing secret.
func VerifyWebhookSignature(payload []byte, signatureHeader, secret string, tolerance time.Duration) error {
	header := strings.TrimSpace(signatureHeader)
	if header == "" || strings.TrimSpace(secret) == "" {
		return ErrInvalidSignature
	}

	var timestamp int64
	var signatures [][]byte
	for _, part := range strings.Split(header, ",") {
		kv := strings.SplitN(strings.TrimSpace(part), "=", 2)
		if len(kv) != 2 {
			continue
		}
		switch kv[0] {
		case "t":
			ts, err := strconv.ParseInt(kv[1], 10, 64)
			if err != nil {
				return ErrMalformedSignature
			}
			timestamp = ts
		case "v1":
			sig, err := hex.DecodeString(kv[1])
			if err != nil {
				return ErrMalformedSignature
			}
			signatures = append(signatures, sig)
		}
	}
	if timestamp == 0 || len(signatures) == 0 {
		return ErrMalformedSignature
	}

	if tolerance > 0 {
		age := time.Since(time.Unix(timestamp, 0))
		if age > tolerance || age < -tolerance {
			return ErrSignatureExpired
		}
	}

	mac := hmac.New(sha256.New, []byte(secret))
	fmt.Fprintf(mac, "%d.%s", timestamp, payload)
	expected := mac.Sum(nil)
	for _, sig := range signatures {
		if hmac.Equal(expected, sig) {
			return nil
		}
	}
	return ErrInvalidSignature
}

// ConstructEvent verifies the signature and parses the event payload.
// Verification is mandatory before any parsing happens.
func ConstructEvent(payload []byte, signatureHeader, secret string) (*Event, error) {
	if err := VerifyWebhookSignature(payload, signatureHeader, secret, DefaultSignatureTolerance); err != nil {
		return nil, err
	}
	var event Event
	if err := json.Unmarshal(payload, &event); err != nil {
		return nil, fmt.Errorf("invalid webhook payload: %w", err)
	}
	if event.Type == "" {
		return nil, errors.New("webhook payload missing event type")
	}
	return &event, nil
}

// SignPayload produces a valid signature header for a payload.
func SignPayload(payload []byte, secret string, at time.Time) string {
	mac := hmac.New(sha256.New, []byte(secret))
	fmt.Fprintf(mac, "%d.%s", at.Unix(), payload)
	return fmt.Sprintf("t=%d,v1=%s", at.Unix(), hex.EncodeToString(mac.Sum(nil)))
}
