// Package cleaner orchestrates one list-cleaning session: extract candidate
// addresses from parsed CSV records, meter them through the credit gate,
// verify them against the remote oracle, and filter the original rows down
// to those with at least one verified address.
//
// Sessions are ephemeral by policy. Rows, candidates and verdicts live only
// in this process's memory and are discarded once the result is delivered.
package cleaner

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/ignite/leadclean/internal/credit"
	"github.com/ignite/leadclean/internal/extractor"
	"github.com/ignite/leadclean/internal/verifier"
)

// GatePolicy selects how credit consumption is interleaved with verification.
type GatePolicy string

const (
	// GatePerAddress is the correctness baseline: strictly sequential
	// verification, one atomic consume immediately before each call, halting
	// the session the moment a consume fails.
	GatePerAddress GatePolicy = "per_address"

	// GatePreflight rejects a session up front when the balance cannot cover
	// the candidate count, then runs batched concurrent verification. The
	// up-front check is advisory only — the balance can change between the
	// check and the work — so every call is still individually gated by an
	// atomic consume during execution.
	GatePreflight GatePolicy = "preflight"
)

// Verifier is the slice of the verification client a session needs.
type Verifier interface {
	VerifyGated(ctx context.Context, emails []string, gate verifier.Gate, onProgress verifier.ProgressFunc) (map[string]verifier.Verdict, error)
	VerifyWithGate(ctx context.Context, emails []string, gate verifier.Gate, onProgress verifier.ProgressFunc) (map[string]verifier.Verdict, error)
}

// Result summarizes a completed (or halted) session.
type Result struct {
	// Rows is header + kept rows; nil when the session halted before
	// filtering or no rows qualified.
	Rows [][]string

	Candidates        int // unique candidate addresses extracted
	VerifiedAddresses int // candidates the oracle verified
	CreditsUsed       int // atomic consumes that succeeded
	KeptRows          int // data rows in the output (excludes header)
}

// Cleaner runs cleaning sessions against a shared ledger and oracle client.
type Cleaner struct {
	verifier Verifier
	ledger   credit.Ledger
	policy   GatePolicy
}

// New creates a Cleaner. An empty policy defaults to GatePerAddress.
func New(v Verifier, ledger credit.Ledger, policy GatePolicy) *Cleaner {
	if policy == "" {
		policy = GatePerAddress
	}
	return &Cleaner{verifier: v, ledger: ledger, policy: policy}
}

// Clean processes one uploaded file. records must include the header row.
// On a credit halt the returned error wraps credit.ErrInsufficientCredit and
// the Result still reports the credits actually consumed; verdicts obtained
// before the halt are counted but no output rows are produced.
func (c *Cleaner) Clean(ctx context.Context, id credit.Identity, records [][]string, onProgress verifier.ProgressFunc) (*Result, error) {
	if len(records) < 2 {
		return nil, extractor.ErrEmptyInput
	}

	ext, err := extractor.Extract(records[0], records[1:])
	if err != nil {
		return nil, err
	}

	res := &Result{Candidates: len(ext.Candidates)}

	var creditsUsed atomic.Int64
	gate := func(ctx context.Context, email string) error {
		if err := c.ledger.ConsumeOne(ctx, id); err != nil {
			return err
		}
		creditsUsed.Add(1)
		return nil
	}

	var verdicts map[string]verifier.Verdict
	switch c.policy {
	case GatePreflight:
		balance, err := c.ledger.Balance(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("checking balance: %w", err)
		}
		if balance < len(ext.Candidates) {
			return res, fmt.Errorf("balance %d cannot cover %d addresses: %w",
				balance, len(ext.Candidates), credit.ErrInsufficientCredit)
		}
		verdicts, err = c.verifier.VerifyWithGate(ctx, ext.Candidates, gate, onProgress)
		if err != nil {
			res.CreditsUsed = int(creditsUsed.Load())
			res.VerifiedAddresses = countVerified(verdicts)
			return res, err
		}
	default:
		verdicts, err = c.verifier.VerifyGated(ctx, ext.Candidates, gate, onProgress)
		if err != nil {
			res.CreditsUsed = int(creditsUsed.Load())
			res.VerifiedAddresses = countVerified(verdicts)
			return res, err
		}
	}

	res.CreditsUsed = int(creditsUsed.Load())
	res.VerifiedAddresses = countVerified(verdicts)

	rows, err := FilterRows(records, ext.EmailColumns, verdicts)
	if err != nil {
		return res, err
	}
	res.Rows = rows
	res.KeptRows = len(rows) - 1
	return res, nil
}

func countVerified(verdicts map[string]verifier.Verdict) int {
	n := 0
	for _, v := range verdicts {
		if v.Verified {
			n++
		}
	}
	return n
}
