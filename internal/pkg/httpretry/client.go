// Package httpretry provides an HTTP client with automatic retry logic
// for resilient external API calls. The default policy uses exponential
// backoff with jitter on transient failures; callers can narrow the
// retryable status set or switch to a fixed inter-attempt delay when the
// upstream contract demands it (e.g. rate limiters that ask for a pause).
package httpretry

import (
	"fmt"
	"io"
	"math"
	"math/rand"
	"net/http"
	"time"

	"github.com/ignite/leadclean/internal/pkg/logger"
)

// HTTPDoer is the interface for executing HTTP requests.
// Both *http.Client and *RetryClient satisfy this interface.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// RetryClient wraps an HTTPDoer with retry logic.
type RetryClient struct {
	client         HTTPDoer
	maxRetries     int
	baseDelay      time.Duration
	maxDelay       time.Duration
	fixedDelay     time.Duration // when set, overrides exponential backoff
	retryStatuses  map[int]bool
	retryNetErrors bool
}

// Option customizes a RetryClient.
type Option func(*RetryClient)

// WithFixedDelay replaces the exponential backoff with a constant delay
// between attempts.
func WithFixedDelay(d time.Duration) Option {
	return func(rc *RetryClient) { rc.fixedDelay = d }
}

// WithRetryStatuses narrows the set of HTTP status codes that trigger a retry.
func WithRetryStatuses(codes ...int) Option {
	return func(rc *RetryClient) {
		rc.retryStatuses = make(map[int]bool, len(codes))
		for _, c := range codes {
			rc.retryStatuses[c] = true
		}
	}
}

// WithoutNetworkRetry disables retries on transport errors. Timeouts and
// connection failures are then returned to the caller on first occurrence.
func WithoutNetworkRetry() Option {
	return func(rc *RetryClient) { rc.retryNetErrors = false }
}

// NewRetryClient creates a RetryClient wrapping the given HTTPDoer.
// If client is nil, a default http.Client with 30s timeout is used.
// maxRetries is the number of retry attempts after the initial request (default 3).
func NewRetryClient(client HTTPDoer, maxRetries int, opts ...Option) *RetryClient {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	if maxRetries <= 0 {
		maxRetries = 3
	}
	rc := &RetryClient{
		client:     client,
		maxRetries: maxRetries,
		baseDelay:  1 * time.Second,
		maxDelay:   30 * time.Second,
		retryStatuses: map[int]bool{
			http.StatusTooManyRequests:     true,
			http.StatusInternalServerError: true,
			http.StatusBadGateway:          true,
			http.StatusServiceUnavailable:  true,
			http.StatusGatewayTimeout:      true,
		},
		retryNetErrors: true,
	}
	for _, opt := range opts {
		opt(rc)
	}
	return rc
}

// Do executes the HTTP request with retry logic.
// It retries on retryable status codes and, unless disabled, on transient
// network/timeout errors. It does NOT retry on other status codes or on
// context cancellation. On the final attempt a retryable status is returned
// as-is so the caller can inspect the status code and body.
func (rc *RetryClient) Do(req *http.Request) (*http.Response, error) {
	var lastErr error

	for attempt := 0; attempt <= rc.maxRetries; attempt++ {
		if req.Context().Err() != nil {
			if lastErr != nil {
				return nil, lastErr
			}
			return nil, req.Context().Err()
		}

		if attempt > 0 {
			// Reset request body for retry if applicable
			if req.GetBody != nil {
				body, err := req.GetBody()
				if err != nil {
					return nil, fmt.Errorf("httpretry: failed to reset request body: %w", err)
				}
				req.Body = body
			}

			delay := rc.delayFor(attempt)
			logger.Debug("httpretry: retrying request",
				"attempt", fmt.Sprintf("%d/%d", attempt, rc.maxRetries),
				"method", req.Method,
				"host", req.URL.Host,
				"wait", delay.String())

			timer := time.NewTimer(delay)
			select {
			case <-timer.C:
			case <-req.Context().Done():
				timer.Stop()
				if lastErr != nil {
					return nil, lastErr
				}
				return nil, req.Context().Err()
			}
		}

		resp, err := rc.client.Do(req)
		if err != nil {
			lastErr = err
			if req.Context().Err() != nil {
				return nil, err
			}
			if !rc.retryNetErrors {
				return nil, err
			}
			continue
		}

		// Non-retryable status — return immediately (success or hard failure)
		if !rc.retryStatuses[resp.StatusCode] {
			return resp, nil
		}

		// Last attempt: hand the retryable response back so the caller can
		// read the body and decide what the exhausted retry means.
		if attempt == rc.maxRetries {
			return resp, nil
		}

		// Drain body for connection reuse, then retry
		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
		lastErr = fmt.Errorf("httpretry: server returned retryable status %d", resp.StatusCode)
	}

	return nil, lastErr
}

// delayFor returns the wait before the given retry attempt.
func (rc *RetryClient) delayFor(attempt int) time.Duration {
	if rc.fixedDelay > 0 {
		return rc.fixedDelay
	}

	// Exponential backoff capped at maxDelay, with full jitter
	expDelay := float64(rc.baseDelay) * math.Pow(2, float64(attempt-1))
	if expDelay > float64(rc.maxDelay) {
		expDelay = float64(rc.maxDelay)
	}
	jittered := time.Duration(rand.Float64() * expDelay)
	if jittered < 100*time.Millisecond {
		jittered = 100 * time.Millisecond
	}
	return jittered
}
