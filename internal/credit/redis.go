package credit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// paymentMarkerTTL bounds how long applied-payment markers are kept for
// webhook dedup. Payment processors stop retrying well inside this window.
const paymentMarkerTTL = 30 * 24 * time.Hour

// RedisLedger stores one hash per identity under credits:{kind}:{id} with
// fields credits/created_at/last_used/total_used/last_purchase. All mutations
// run as Lua scripts so check-and-decrement is atomic across processes.
type RedisLedger struct {
	client *redis.Client
	cfg    Config
}

// NewRedisLedger creates a Redis-backed credit ledger.
func NewRedisLedger(client *redis.Client, cfg Config) *RedisLedger {
	return &RedisLedger{client: client, cfg: cfg}
}

func (l *RedisLedger) accountKey(id Identity) string { return "credits:" + id.Key() }

func paymentKey(paymentID string) string { return "credits:payment:" + paymentID }

// ensureScript creates the account document with the starting balance if it
// does not exist yet, and returns the current balance. SETNX-style existence
// check and grant happen in one script, so racing first contacts grant once.
var ensureScript = redis.NewScript(`
if redis.call("EXISTS", KEYS[1]) == 0 then
	redis.call("HSET", KEYS[1], "credits", ARGV[1], "created_at", ARGV[2], "total_used", 0)
	return tonumber(ARGV[1])
end
return tonumber(redis.call("HGET", KEYS[1], "credits") or "0")
`)

// consumeScript decrements only when the balance is positive. Returns the
// new balance, or -1 when the caller cannot afford the call.
var consumeScript = redis.NewScript(`
local credits = tonumber(redis.call("HGET", KEYS[1], "credits") or "0")
if credits <= 0 then
	return -1
end
redis.call("HINCRBY", KEYS[1], "credits", -1)
redis.call("HINCRBY", KEYS[1], "total_used", 1)
redis.call("HSET", KEYS[1], "last_used", ARGV[1])
return credits - 1
`)

// addScript applies a purchase exactly once per payment id. The SETNX marker
// and the balance increment run in the same script, so a webhook retry that
// loses the SETNX race cannot credit again.
var addScript = redis.NewScript(`
if redis.call("SETNX", KEYS[2], ARGV[2]) == 0 then
	return -1
end
redis.call("EXPIRE", KEYS[2], ARGV[3])
redis.call("HINCRBY", KEYS[1], "credits", ARGV[1])
redis.call("HSET", KEYS[1], "last_purchase", ARGV[2])
return tonumber(redis.call("HGET", KEYS[1], "credits"))
`)

// Balance returns the current balance, lazily creating the account.
func (l *RedisLedger) Balance(ctx context.Context, id Identity) (int, error) {
	now := time.Now().UTC().Format(time.RFC3339)
	res, err := ensureScript.Run(ctx, l.client,
		[]string{l.accountKey(id)},
		l.cfg.startingBalance(id), now).Int()
	if err != nil {
		return 0, fmt.Errorf("ensure account %s: %w", id.Key(), err)
	}
	return res, nil
}

// ConsumeOne atomically spends a single credit.
func (l *RedisLedger) ConsumeOne(ctx context.Context, id Identity) error {
	// Lazily create so a brand-new identity can spend its starting grant.
	if _, err := l.Balance(ctx, id); err != nil {
		return err
	}

	now := time.Now().UTC().Format(time.RFC3339)
	res, err := consumeScript.Run(ctx, l.client, []string{l.accountKey(id)}, now).Int()
	if err != nil {
		return fmt.Errorf("consume credit for %s: %w", id.Key(), err)
	}
	if res < 0 {
		return ErrInsufficientCredit
	}
	return nil
}

// AddCredits applies a purchase idempotently by payment id.
func (l *RedisLedger) AddCredits(ctx context.Context, id Identity, n int, paymentID string) (bool, error) {
	if _, err := l.Balance(ctx, id); err != nil {
		return false, err
	}

	now := time.Now().UTC().Format(time.RFC3339)
	res, err := addScript.Run(ctx, l.client,
		[]string{l.accountKey(id), paymentKey(paymentID)},
		n, now, int(paymentMarkerTTL.Seconds())).Int()
	if err != nil {
		return false, fmt.Errorf("add credits for %s: %w", id.Key(), err)
	}
	if res < 0 {
		return false, nil // payment already applied
	}
	return true, nil
}

// AccountInfo returns the full ledger document for an identity.
func (l *RedisLedger) AccountInfo(ctx context.Context, id Identity) (*Account, error) {
	if _, err := l.Balance(ctx, id); err != nil {
		return nil, err
	}
	fields, err := l.client.HGetAll(ctx, l.accountKey(id)).Result()
	if err != nil {
		return nil, fmt.Errorf("read account %s: %w", id.Key(), err)
	}

	acct := &Account{}
	fmt.Sscanf(fields["credits"], "%d", &acct.Credits)
	fmt.Sscanf(fields["total_used"], "%d", &acct.TotalUsed)
	if t, err := time.Parse(time.RFC3339, fields["created_at"]); err == nil {
		acct.CreatedAt = t
	}
	if t, err := time.Parse(time.RFC3339, fields["last_used"]); err == nil {
		acct.LastUsed = t
	}
	if t, err := time.Parse(time.RFC3339, fields["last_purchase"]); err == nil {
		acct.LastPurchase = t
	}
	return acct, nil
}
