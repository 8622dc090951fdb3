package credit

import (
	"context"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
)

func setupPostgresLedger(t *testing.T) (*PostgresLedger, sqlmock.Sqlmock) {
	t.Helper()

	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("Failed to create sqlmock: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	return NewPostgresLedger(db, DefaultConfig()), mock
}

func expectEnsure(mock sqlmock.Sqlmock, key string, starting int) {
	mock.ExpectExec("INSERT INTO credit_accounts").
		WithArgs(key, starting).
		WillReturnResult(sqlmock.NewResult(0, 1))
}

func TestPostgresBalance(t *testing.T) {
	ledger, mock := setupPostgresLedger(t)
	id := AccountIdentity("acct-1")

	expectEnsure(mock, "account:acct-1", 3)
	mock.ExpectQuery("SELECT credits FROM credit_accounts").
		WithArgs("account:acct-1").
		WillReturnRows(sqlmock.NewRows([]string{"credits"}).AddRow(3))

	balance, err := ledger.Balance(context.Background(), id)
	if err != nil {
		t.Fatalf("Balance failed: %v", err)
	}
	if balance != 3 {
		t.Errorf("balance = %d, want 3", balance)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestPostgresConsumeOne(t *testing.T) {
	ledger, mock := setupPostgresLedger(t)
	id := IPIdentity("203.0.113.5")

	expectEnsure(mock, "ip:203.0.113.5", 1)
	mock.ExpectExec("UPDATE credit_accounts").
		WithArgs("ip:203.0.113.5").
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := ledger.ConsumeOne(context.Background(), id); err != nil {
		t.Fatalf("ConsumeOne failed: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestPostgresConsumeOneInsufficient(t *testing.T) {
	ledger, mock := setupPostgresLedger(t)
	id := IPIdentity("203.0.113.5")

	expectEnsure(mock, "ip:203.0.113.5", 1)
	// zero rows affected: the conditional update found no positive balance
	mock.ExpectExec("UPDATE credit_accounts").
		WithArgs("ip:203.0.113.5").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := ledger.ConsumeOne(context.Background(), id)
	if !errors.Is(err, ErrInsufficientCredit) {
		t.Fatalf("expected ErrInsufficientCredit, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestPostgresAddCredits(t *testing.T) {
	ledger, mock := setupPostgresLedger(t)
	id := AccountIdentity("acct-topup")

	expectEnsure(mock, "account:acct-topup", 3)
	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO credit_payments").
		WithArgs("pay_9", "account:acct-topup", 50).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE credit_accounts").
		WithArgs(50, "account:acct-topup").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	applied, err := ledger.AddCredits(context.Background(), id, 50, "pay_9")
	if err != nil {
		t.Fatalf("AddCredits failed: %v", err)
	}
	if !applied {
		t.Error("expected payment to apply")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestPostgresAddCreditsDuplicate(t *testing.T) {
	ledger, mock := setupPostgresLedger(t)
	id := AccountIdentity("acct-topup")

	expectEnsure(mock, "account:acct-topup", 3)
	mock.ExpectBegin()
	// ON CONFLICT DO NOTHING: marker row already exists
	mock.ExpectExec("INSERT INTO credit_payments").
		WithArgs("pay_9", "account:acct-topup", 50).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	applied, err := ledger.AddCredits(context.Background(), id, 50, "pay_9")
	if err != nil {
		t.Fatalf("AddCredits failed: %v", err)
	}
	if applied {
		t.Error("duplicate payment must not apply")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}
