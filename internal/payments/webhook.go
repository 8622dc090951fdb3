package payments

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
)

// EventCheckoutCompleted is the only event type this service acts on.
const EventCheckoutCompleted = "checkout.session.completed"

var ErrInvalidSignature = errors.New("webhook signature verification failed")

// Event is a payment processor webhook notification.
type Event struct {
	Type string    `json:"type"`
	Data EventData `json:"data"`
}

// EventData carries the checkout session the event refers to.
type EventData struct {
	ID       string            `json:"id"`
	Metadata map[string]string `json:"metadata"`
}

// Sign computes the hex HMAC-SHA256 signature the processor attaches to a
// webhook payload. Exposed so tests and the stub processor can produce
// valid deliveries.
func Sign(payload []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

// ParseEvent verifies the payload signature and decodes the event.
// Verification uses a constant-time compare; a payload that does not match
// its signature is rejected before any JSON parsing.
func ParseEvent(payload []byte, signature, secret string) (*Event, error) {
	expected := Sign(payload, secret)
	if !hmac.Equal([]byte(expected), []byte(signature)) {
		return nil, ErrInvalidSignature
	}

	var event Event
	if err := json.Unmarshal(payload, &event); err != nil {
		return nil, fmt.Errorf("parse webhook payload: %w", err)
	}
	return &event, nil
}
