package credit

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func setupRedisLedger(t *testing.T) (*RedisLedger, *miniredis.Miniredis) {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("Failed to start miniredis: %v", err)
	}
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	return NewRedisLedger(client, DefaultConfig()), mr
}

func TestRedisBalanceGrantsStartingCredits(t *testing.T) {
	ledger, _ := setupRedisLedger(t)
	ctx := context.Background()

	balance, err := ledger.Balance(ctx, AccountIdentity("acct-1"))
	if err != nil {
		t.Fatalf("Balance failed: %v", err)
	}
	if balance != 3 {
		t.Errorf("account starting balance = %d, want 3", balance)
	}

	balance, err = ledger.Balance(ctx, IPIdentity("203.0.113.9"))
	if err != nil {
		t.Fatalf("Balance failed: %v", err)
	}
	if balance != 1 {
		t.Errorf("ip starting balance = %d, want 1", balance)
	}
}

func TestRedisBalanceGrantsOnlyOnce(t *testing.T) {
	ledger, _ := setupRedisLedger(t)
	ctx := context.Background()
	id := AccountIdentity("acct-repeat")

	if _, err := ledger.Balance(ctx, id); err != nil {
		t.Fatalf("Balance failed: %v", err)
	}
	if err := ledger.ConsumeOne(ctx, id); err != nil {
		t.Fatalf("ConsumeOne failed: %v", err)
	}

	// Re-reading must not re-grant the starting balance.
	balance, err := ledger.Balance(ctx, id)
	if err != nil {
		t.Fatalf("Balance failed: %v", err)
	}
	if balance != 2 {
		t.Errorf("balance after one consume = %d, want 2", balance)
	}
}

func TestRedisConsumeToZero(t *testing.T) {
	ledger, _ := setupRedisLedger(t)
	ctx := context.Background()
	id := IPIdentity("203.0.113.10") // starts with 1 credit

	if err := ledger.ConsumeOne(ctx, id); err != nil {
		t.Fatalf("first consume failed: %v", err)
	}
	err := ledger.ConsumeOne(ctx, id)
	if !errors.Is(err, ErrInsufficientCredit) {
		t.Fatalf("expected ErrInsufficientCredit, got %v", err)
	}

	balance, err := ledger.Balance(ctx, id)
	if err != nil {
		t.Fatalf("Balance failed: %v", err)
	}
	if balance != 0 {
		t.Errorf("balance = %d, want 0 (failed consume must not change it)", balance)
	}
}

func TestRedisConcurrentConsumesNeverOverspend(t *testing.T) {
	ledger, _ := setupRedisLedger(t)
	ctx := context.Background()
	id := AccountIdentity("acct-concurrent") // starts with 3 credits

	const attempts = 20
	var wg sync.WaitGroup
	var mu sync.Mutex
	succeeded := 0

	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := ledger.ConsumeOne(ctx, id); err == nil {
				mu.Lock()
				succeeded++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if succeeded != 3 {
		t.Errorf("%d consumes succeeded, want exactly 3", succeeded)
	}
	balance, err := ledger.Balance(ctx, id)
	if err != nil {
		t.Fatalf("Balance failed: %v", err)
	}
	if balance != 0 {
		t.Errorf("final balance = %d, want 0", balance)
	}
}

func TestRedisAddCreditsIdempotent(t *testing.T) {
	ledger, _ := setupRedisLedger(t)
	ctx := context.Background()
	id := AccountIdentity("acct-topup")

	applied, err := ledger.AddCredits(ctx, id, 100, "pay_123")
	if err != nil {
		t.Fatalf("AddCredits failed: %v", err)
	}
	if !applied {
		t.Fatal("first application should succeed")
	}

	// Webhook retry with the same payment id.
	applied, err = ledger.AddCredits(ctx, id, 100, "pay_123")
	if err != nil {
		t.Fatalf("AddCredits retry failed: %v", err)
	}
	if applied {
		t.Error("duplicate payment must not be applied")
	}

	balance, err := ledger.Balance(ctx, id)
	if err != nil {
		t.Fatalf("Balance failed: %v", err)
	}
	if balance != 103 {
		t.Errorf("balance = %d, want 103 (3 starting + 100 once)", balance)
	}
}

func TestRedisAccountInfoTracksUsage(t *testing.T) {
	ledger, _ := setupRedisLedger(t)
	ctx := context.Background()
	id := AccountIdentity("acct-meta")

	if err := ledger.ConsumeOne(ctx, id); err != nil {
		t.Fatalf("ConsumeOne failed: %v", err)
	}
	if err := ledger.ConsumeOne(ctx, id); err != nil {
		t.Fatalf("ConsumeOne failed: %v", err)
	}

	acct, err := ledger.AccountInfo(ctx, id)
	if err != nil {
		t.Fatalf("AccountInfo failed: %v", err)
	}
	if acct.Credits != 1 {
		t.Errorf("credits = %d, want 1", acct.Credits)
	}
	if acct.TotalUsed != 2 {
		t.Errorf("total_used = %d, want 2", acct.TotalUsed)
	}
	if acct.CreatedAt.IsZero() {
		t.Error("created_at should be set")
	}
	if acct.LastUsed.IsZero() {
		t.Error("last_used should be set after a consume")
	}
}

func TestIdentityKeyRoundTrip(t *testing.T) {
	ids := []Identity{
		AccountIdentity("user-42"),
		IPIdentity("198.51.100.7"),
	}
	for _, id := range ids {
		parsed, err := ParseKey(id.Key())
		if err != nil {
			t.Fatalf("ParseKey(%q) failed: %v", id.Key(), err)
		}
		if parsed != id {
			t.Errorf("round trip %q → %+v, want %+v", id.Key(), parsed, id)
		}
	}

	for _, bad := range []string{"", "account", "kind:", "mystery:id"} {
		if _, err := ParseKey(bad); err == nil {
			t.Errorf("ParseKey(%q) should fail", bad)
		}
	}
}
