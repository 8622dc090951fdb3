// Package payments integrates the external checkout processor that tops up
// the credit ledger. Only the contract matters here: a checkout session is
// created for a credit quantity, and a signed webhook later confirms payment.
// Crediting itself goes through credit.Ledger.AddCredits keyed by the
// checkout session id, which keeps webhook retries idempotent.
package payments

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"time"

	"github.com/ignite/leadclean/internal/pkg/httpretry"
)

// Config holds checkout processor settings.
type Config struct {
	BaseURL        string
	SecretKey      string
	WebhookSecret  string
	PricePerCredit float64 // USD per credit
	TimeoutSeconds int
}

// CheckoutSession is the processor's handle for a pending payment. The
// presentation layer redirects the buyer to URL; ID later arrives in the
// confirmation webhook.
type CheckoutSession struct {
	ID  string `json:"id"`
	URL string `json:"url"`
}

type createSessionRequest struct {
	AmountCents int               `json:"amount_cents"`
	Currency    string            `json:"currency"`
	Description string            `json:"description"`
	SuccessURL  string            `json:"success_url"`
	CancelURL   string            `json:"cancel_url"`
	Metadata    map[string]string `json:"metadata"`
}

// Client is the checkout processor API client.
type Client struct {
	baseURL        string
	secretKey      string
	pricePerCredit float64
	httpClient     httpretry.HTTPDoer
}

// NewClient creates a checkout client with the default retry policy
// (exponential backoff on 429/5xx and transport errors).
func NewClient(cfg Config) *Client {
	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		baseURL:        cfg.BaseURL,
		secretKey:      cfg.SecretKey,
		pricePerCredit: cfg.PricePerCredit,
		httpClient:     httpretry.NewRetryClient(&http.Client{Timeout: timeout}, 3),
	}
}

// SetHTTPClient sets a custom HTTP client (useful for testing).
func (c *Client) SetHTTPClient(client httpretry.HTTPDoer) {
	c.httpClient = client
}

// CreateSession opens a checkout session for the given credit quantity.
// identityKey travels in the metadata so the webhook can credit the right
// ledger document.
func (c *Client) CreateSession(ctx context.Context, identityKey string, credits int, successURL, cancelURL string) (*CheckoutSession, error) {
	if credits <= 0 {
		return nil, fmt.Errorf("credit quantity must be positive, got %d", credits)
	}

	amount := int(math.Round(float64(credits) * c.pricePerCredit * 100))
	payload := createSessionRequest{
		AmountCents: amount,
		Currency:    "usd",
		Description: fmt.Sprintf("%d email verification credits", credits),
		SuccessURL:  successURL,
		CancelURL:   cancelURL,
		Metadata: map[string]string{
			"credits":  fmt.Sprintf("%d", credits),
			"identity": identityKey,
		},
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal checkout request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/v1/checkout/sessions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create checkout request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.secretKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("checkout request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read checkout response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("checkout API error (status %d): %s", resp.StatusCode, string(respBody))
	}

	var session CheckoutSession
	if err := json.Unmarshal(respBody, &session); err != nil {
		return nil, fmt.Errorf("parse checkout response: %w", err)
	}
	return &session, nil
}
