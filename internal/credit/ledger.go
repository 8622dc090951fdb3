// Package credit enforces the metering contract: one credit per address
// actually submitted to the verification oracle, atomic under concurrent
// sessions for the same identity.
package credit

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	// ErrInsufficientCredit is returned by ConsumeOne when the balance is zero.
	// The balance is left unchanged.
	ErrInsufficientCredit = errors.New("insufficient credit")
)

// IdentityKind distinguishes authenticated accounts from anonymous callers.
type IdentityKind string

const (
	IdentityAccount IdentityKind = "account"
	IdentityIP      IdentityKind = "ip"
)

// Identity is a ledger key: an authenticated account id, or the caller's
// network address when no account is present.
type Identity struct {
	Kind IdentityKind
	ID   string
}

// AccountIdentity builds an identity for an authenticated account id.
func AccountIdentity(id string) Identity { return Identity{Kind: IdentityAccount, ID: id} }

// IPIdentity builds an identity for an anonymous caller's address.
func IPIdentity(addr string) Identity { return Identity{Kind: IdentityIP, ID: addr} }

// Key returns the ledger document key for this identity.
func (i Identity) Key() string { return string(i.Kind) + ":" + i.ID }

// ParseKey reverses Key. It is used when an identity round-trips through an
// external system, such as checkout session metadata.
func ParseKey(key string) (Identity, error) {
	kind, id, ok := strings.Cut(key, ":")
	if !ok || id == "" {
		return Identity{}, fmt.Errorf("malformed identity key %q", key)
	}
	switch IdentityKind(kind) {
	case IdentityAccount, IdentityIP:
		return Identity{Kind: IdentityKind(kind), ID: id}, nil
	}
	return Identity{}, fmt.Errorf("unknown identity kind %q", kind)
}

// Account is the per-identity ledger document.
type Account struct {
	Credits      int       `json:"credits"`
	CreatedAt    time.Time `json:"created_at"`
	LastUsed     time.Time `json:"last_used,omitempty"`
	TotalUsed    int       `json:"total_used"`
	LastPurchase time.Time `json:"last_purchase,omitempty"`
}

// Config holds starting balances granted on first contact.
type Config struct {
	AccountCredits int // default balance for authenticated accounts
	IPCredits      int // default balance for anonymous network addresses
}

// DefaultConfig mirrors the product policy: signed-in users start with 3
// credits, anonymous callers with 1.
func DefaultConfig() Config {
	return Config{AccountCredits: 3, IPCredits: 1}
}

func (c Config) startingBalance(id Identity) int {
	if id.Kind == IdentityAccount {
		return c.AccountCredits
	}
	return c.IPCredits
}

// Ledger is the credit store. Implementations must make ConsumeOne
// transactionally atomic against concurrent calls for the same identity:
// no interleaving may drive the balance negative or lose an update.
type Ledger interface {
	// Balance returns the current balance, creating a default-balance
	// account on first-ever contact. Concurrent first contacts must not
	// double-grant the starting balance.
	Balance(ctx context.Context, id Identity) (int, error)

	// ConsumeOne atomically decrements the balance by one and records
	// usage metadata. Returns ErrInsufficientCredit (and changes nothing)
	// when the balance is zero.
	ConsumeOne(ctx context.Context, id Identity) error

	// AddCredits adds n credits, idempotently keyed by paymentID so that
	// webhook retries never double-credit. Returns false when the payment
	// was already applied.
	AddCredits(ctx context.Context, id Identity, n int, paymentID string) (bool, error)
}
