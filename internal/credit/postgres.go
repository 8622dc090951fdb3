package credit

import (
	"context"
	"database/sql"
	"fmt"
)

// PostgresLedger is the SQL fallback when Redis is not deployed. Atomicity
// comes from single-statement conditional updates: the decrement carries
// `AND credits > 0`, so two racing sessions can never both spend the last
// credit, and Postgres row locking serializes the read-modify-write.
type PostgresLedger struct {
	db  *sql.DB
	cfg Config
}

// NewPostgresLedger creates a Postgres-backed credit ledger.
func NewPostgresLedger(db *sql.DB, cfg Config) *PostgresLedger {
	return &PostgresLedger{db: db, cfg: cfg}
}

// InitSchema creates the ledger tables if they do not exist.
func (l *PostgresLedger) InitSchema(ctx context.Context) error {
	_, err := l.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS credit_accounts (
			identity      TEXT PRIMARY KEY,
			credits       INTEGER NOT NULL CHECK (credits >= 0),
			created_at    TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			last_used     TIMESTAMPTZ,
			total_used    INTEGER NOT NULL DEFAULT 0,
			last_purchase TIMESTAMPTZ
		);
		CREATE TABLE IF NOT EXISTS credit_payments (
			payment_id TEXT PRIMARY KEY,
			identity   TEXT NOT NULL,
			credits    INTEGER NOT NULL,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`)
	if err != nil {
		return fmt.Errorf("init credit schema: %w", err)
	}
	return nil
}

// ensure creates the account row with the starting balance on first contact.
// ON CONFLICT DO NOTHING makes racing first contacts grant exactly once.
func (l *PostgresLedger) ensure(ctx context.Context, id Identity) error {
	_, err := l.db.ExecContext(ctx,
		`INSERT INTO credit_accounts (identity, credits) VALUES ($1, $2)
		 ON CONFLICT (identity) DO NOTHING`,
		id.Key(), l.cfg.startingBalance(id))
	if err != nil {
		return fmt.Errorf("ensure account %s: %w", id.Key(), err)
	}
	return nil
}

// Balance returns the current balance, lazily creating the account.
func (l *PostgresLedger) Balance(ctx context.Context, id Identity) (int, error) {
	if err := l.ensure(ctx, id); err != nil {
		return 0, err
	}
	var credits int
	err := l.db.QueryRowContext(ctx,
		`SELECT credits FROM credit_accounts WHERE identity = $1`, id.Key()).Scan(&credits)
	if err != nil {
		return 0, fmt.Errorf("read balance %s: %w", id.Key(), err)
	}
	return credits, nil
}

// ConsumeOne atomically spends a single credit.
func (l *PostgresLedger) ConsumeOne(ctx context.Context, id Identity) error {
	if err := l.ensure(ctx, id); err != nil {
		return err
	}
	res, err := l.db.ExecContext(ctx,
		`UPDATE credit_accounts
		 SET credits = credits - 1, total_used = total_used + 1, last_used = NOW()
		 WHERE identity = $1 AND credits > 0`,
		id.Key())
	if err != nil {
		return fmt.Errorf("consume credit for %s: %w", id.Key(), err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("consume credit for %s: %w", id.Key(), err)
	}
	if affected == 0 {
		return ErrInsufficientCredit
	}
	return nil
}

// AddCredits applies a purchase idempotently by payment id. The payment
// marker insert and the balance increment share one transaction, so a
// webhook retry either sees the marker and stops or replays atomically.
func (l *PostgresLedger) AddCredits(ctx context.Context, id Identity, n int, paymentID string) (bool, error) {
	if err := l.ensure(ctx, id); err != nil {
		return false, err
	}

	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("begin add credits: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		`INSERT INTO credit_payments (payment_id, identity, credits) VALUES ($1, $2, $3)
		 ON CONFLICT (payment_id) DO NOTHING`,
		paymentID, id.Key(), n)
	if err != nil {
		return false, fmt.Errorf("record payment %s: %w", paymentID, err)
	}
	inserted, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("record payment %s: %w", paymentID, err)
	}
	if inserted == 0 {
		return false, nil // already applied
	}

	_, err = tx.ExecContext(ctx,
		`UPDATE credit_accounts SET credits = credits + $1, last_purchase = NOW()
		 WHERE identity = $2`,
		n, id.Key())
	if err != nil {
		return false, fmt.Errorf("apply payment %s: %w", paymentID, err)
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("commit payment %s: %w", paymentID, err)
	}
	return true, nil
}
