// Package verifier is the client for the remote email verification oracle.
// It turns a candidate address list into one verdict per address while
// bounding concurrency, absorbing rate limits and per-address failures, and
// reporting incremental progress.
package verifier

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/ignite/leadclean/internal/pkg/httpretry"
	"github.com/ignite/leadclean/internal/pkg/logger"
)

const (
	DefaultTimeout    = 10 * time.Second
	DefaultMaxRetries = 3
	DefaultRetryDelay = 2 * time.Second
	DefaultBatchSize  = 10
	DefaultBatchDelay = 500 * time.Millisecond
)

// Config holds verification client settings.
type Config struct {
	BaseURL    string
	Timeout    time.Duration // per-call budget, applied to every attempt
	MaxRetries int           // extra attempts after a 429
	RetryDelay time.Duration // fixed wait between rate-limited attempts
	BatchSize  int           // concurrent in-flight calls per batch
	BatchDelay time.Duration // pause between batches
}

// ProgressFunc receives a completion percentage in [0,100]. Invocations are
// strictly ordered and non-decreasing within a session.
type ProgressFunc func(percent float64)

// Gate is a prerequisite check invoked immediately before an address is
// submitted to the oracle. A non-nil error stops further submissions; the
// address it rejected is never submitted.
type Gate func(ctx context.Context, email string) error

// Client calls the verification oracle one address per request.
type Client struct {
	baseURL    string
	batchSize  int
	batchDelay time.Duration
	httpClient httpretry.HTTPDoer

	// sleep is swapped out in tests to avoid real inter-batch waits.
	sleep func(ctx context.Context, d time.Duration)
}

// NewClient creates a verification client. Only 429 responses are retried,
// with a fixed delay, per the oracle's rate-limit contract; timeouts and
// transport errors surface immediately and degrade to a fallback verdict.
func NewClient(cfg Config) *Client {
	if cfg.Timeout == 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = DefaultMaxRetries
	}
	if cfg.RetryDelay == 0 {
		cfg.RetryDelay = DefaultRetryDelay
	}
	if cfg.BatchSize == 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.BatchDelay == 0 {
		cfg.BatchDelay = DefaultBatchDelay
	}

	return &Client{
		baseURL:    cfg.BaseURL,
		batchSize:  cfg.BatchSize,
		batchDelay: cfg.BatchDelay,
		httpClient: httpretry.NewRetryClient(
			&http.Client{Timeout: cfg.Timeout},
			cfg.MaxRetries,
			httpretry.WithRetryStatuses(http.StatusTooManyRequests),
			httpretry.WithFixedDelay(cfg.RetryDelay),
			httpretry.WithoutNetworkRetry(),
		),
		sleep: sleepCtx,
	}
}

// SetHTTPClient sets a custom HTTP client (useful for testing).
func (c *Client) SetHTTPClient(client httpretry.HTTPDoer) {
	c.httpClient = client
}

func sleepCtx(ctx context.Context, d time.Duration) {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-ctx.Done():
	}
}

// Verify resolves a verdict for every address in emails. Addresses are
// processed in fixed-size batches; within a batch all calls are issued
// concurrently and the whole batch is awaited before the next one starts,
// with a pause between batches to ease rate-limit pressure. A failed call
// never aborts the batch: the address gets FallbackVerdict. The returned
// map is complete (one entry per unique input address) unless ctx is
// cancelled between batches, in which case the partial map and the context
// error are returned. In-flight calls of the current batch are always
// awaited.
func (c *Client) Verify(ctx context.Context, emails []string, onProgress ProgressFunc) (map[string]Verdict, error) {
	return c.verifyBatches(ctx, emails, nil, onProgress)
}

// VerifyWithGate runs batched verification with a per-address prerequisite:
// inside the batch, gate runs immediately before each address's network
// call, so a mid-batch gate failure stops that submission before it is
// paid for. The first gate error halts all later batches; verdicts already
// obtained are returned alongside the error.
func (c *Client) VerifyWithGate(ctx context.Context, emails []string, gate Gate, onProgress ProgressFunc) (map[string]Verdict, error) {
	return c.verifyBatches(ctx, emails, gate, onProgress)
}

func (c *Client) verifyBatches(ctx context.Context, emails []string, gate Gate, onProgress ProgressFunc) (map[string]Verdict, error) {
	results := make(map[string]Verdict, len(emails))
	total := len(emails)
	if total == 0 {
		if onProgress != nil {
			onProgress(100)
		}
		return results, nil
	}

	var (
		mu      sync.Mutex
		gateErr error
	)
	processed := 0

	for start := 0; start < total; start += c.batchSize {
		end := start + c.batchSize
		if end > total {
			end = total
		}
		batch := emails[start:end]

		var wg sync.WaitGroup
		for _, email := range batch {
			mu.Lock()
			_, done := results[email]
			if !done {
				results[email] = Verdict{} // reserve so batch-internal dupes skip
			}
			mu.Unlock()
			if done {
				continue // duplicate input; already resolved, never re-verify
			}

			wg.Add(1)
			go func(email string) {
				defer wg.Done()

				if gate != nil {
					if err := gate(ctx, email); err != nil {
						mu.Lock()
						if gateErr == nil {
							gateErr = err
						}
						delete(results, email)
						mu.Unlock()
						return
					}
				}

				verdict := c.verifyOne(ctx, email)
				mu.Lock()
				results[email] = verdict
				mu.Unlock()
			}(email)
		}
		wg.Wait()

		if gateErr != nil {
			return results, gateErr
		}

		processed += len(batch)
		if onProgress != nil {
			onProgress(percentDone(processed, total))
		}

		if end < total {
			if ctx.Err() != nil {
				return results, ctx.Err()
			}
			c.sleep(ctx, c.batchDelay)
			if ctx.Err() != nil {
				return results, ctx.Err()
			}
		}
	}

	return results, nil
}

// VerifyGated resolves verdicts strictly sequentially, invoking gate
// immediately before each address's network call. When the gate fails,
// no further addresses are submitted and the verdicts obtained so far are
// returned together with the gate error. This is the correctness-baseline
// mode for per-address credit consumption: a stop mid-list has paid only
// for the calls actually issued.
func (c *Client) VerifyGated(ctx context.Context, emails []string, gate Gate, onProgress ProgressFunc) (map[string]Verdict, error) {
	results := make(map[string]Verdict, len(emails))
	total := len(emails)
	if total == 0 {
		if onProgress != nil {
			onProgress(100)
		}
		return results, nil
	}

	for i, email := range emails {
		if _, done := results[email]; !done {
			if err := ctx.Err(); err != nil {
				return results, err
			}
			if err := gate(ctx, email); err != nil {
				return results, err
			}
			results[email] = c.verifyOne(ctx, email)
		}

		if onProgress != nil {
			onProgress(percentDone(i+1, total))
		}
	}

	return results, nil
}

// verifyOne issues a single oracle call and maps every failure mode to the
// conservative fallback verdict. Failures are isolated to the address.
func (c *Client) verifyOne(ctx context.Context, email string) Verdict {
	verdict, err := c.callOracle(ctx, email)
	if err != nil {
		logger.Warn("verification failed, recording fallback verdict",
			"email", email,
			"error", err.Error())
		return FallbackVerdict(email)
	}
	return verdict
}

func (c *Client) callOracle(ctx context.Context, email string) (Verdict, error) {
	body, err := json.Marshal(verifyRequest{Email: email})
	if err != nil {
		return Verdict{}, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/verify", bytes.NewReader(body))
	if err != nil {
		return Verdict{}, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Verdict{}, fmt.Errorf("oracle call: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return Verdict{}, fmt.Errorf("rate limited after retries")
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		io.Copy(io.Discard, resp.Body)
		return Verdict{}, fmt.Errorf("oracle returned status %d", resp.StatusCode)
	}

	var parsed verifyResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return Verdict{}, fmt.Errorf("parse response: %w", err)
	}
	if parsed.Result.Email == "" {
		parsed.Result.Email = email
	}
	return parsed.Result, nil
}

// percentDone computes min(100, 100*processed/total).
func percentDone(processed, total int) float64 {
	pct := float64(processed) / float64(total) * 100
	if pct > 100 {
		pct = 100
	}
	return pct
}
