package store

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/hainguyen99-cdm/xscan-sub002/internal/models"
	"github.com/hainguyen99-cdm/xscan-sub002/pkg/logging"
)

func sampleTransaction() *models.BankTransaction {
	return &models.BankTransaction{
		TenantID:        "tenant-1",
		Reference:       "FT123",
		Description:     "NGUYEN VAN A ck ung ho",
		Amount:          50000,
		Currency:        models.CurrencyVND,
		TransactionDate: time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC),
	}
}

func TestTransactionInsert_New(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create sqlmock: %v", err)
	}
	defer db.Close()

	store := NewTransactionStore(db, logging.NewLogger())
	tx := sampleTransaction()

	mock.ExpectExec("INSERT INTO bank_transactions").
		WithArgs(tx.TenantID, tx.Reference, tx.Description, tx.Amount, tx.Currency, tx.TransactionDate, nil).
		WillReturnResult(sqlmock.NewResult(0, 1))

	inserted, err := store.Insert(context.Background(), tx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !inserted {
		t.Fatal("expected insert to report a new row")
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestTransactionInsert_ConflictIsNotAnError(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create sqlmock: %v", err)
	}
	defer db.Close()

	store := NewTransactionStore(db, logging.NewLogger())
	tx := sampleTransaction()

	// ON CONFLICT DO NOTHING: zero rows affected, no error.
	mock.ExpectExec("INSERT INTO bank_transactions").
		WithArgs(tx.TenantID, tx.Reference, tx.Description, tx.Amount, tx.Currency, tx.TransactionDate, nil).
		WillReturnResult(sqlmock.NewResult(0, 0))

	inserted, err := store.Insert(context.Background(), tx)
	if err != nil {
		t.Fatalf("duplicate insert must not error: %v", err)
	}
	if inserted {
		t.Fatal("duplicate insert must report false")
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestTransactionExists(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create sqlmock: %v", err)
	}
	defer db.Close()

	store := NewTransactionStore(db, logging.NewLogger())

	mock.ExpectQuery("SELECT EXISTS").
		WithArgs("tenant-1", "FT123").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))

	exists, err := store.Exists(context.Background(), "tenant-1", "FT123")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !exists {
		t.Fatal("expected transaction to exist")
	}
}

func TestRecentByTenant(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create sqlmock: %v", err)
	}
	defer db.Close()

	store := NewTransactionStore(db, logging.NewLogger())
	now := time.Now()

	rows := sqlmock.NewRows([]string{"id", "tenant_id", "reference", "description", "amount", "currency", "transaction_date", "created_at"}).
		AddRow("id-2", "tenant-1", "FT124", "desc", int64(10000), "VND", now, now).
		AddRow("id-1", "tenant-1", "FT123", "desc", int64(50000), "VND", now, now.Add(-time.Minute))

	mock.ExpectQuery("SELECT id, tenant_id, reference").
		WithArgs("tenant-1", 20).
		WillReturnRows(rows)

	transactions, err := store.RecentByTenant(context.Background(), "tenant-1", 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(transactions) != 2 {
		t.Fatalf("expected 2 transactions, got %d", len(transactions))
	}
	if transactions[0].Reference != "FT124" {
		t.Fatalf("expected newest first, got %s", transactions[0].Reference)
	}
}

func TestTotalAmount_NoRowsIsZero(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create sqlmock: %v", err)
	}
	defer db.Close()

	store := NewTransactionStore(db, logging.NewLogger())

	mock.ExpectQuery(`SELECT SUM\(amount\) FROM bank_transactions`).
		WithArgs("tenant-1", "VND", time.Time{}).
		WillReturnRows(sqlmock.NewRows([]string{"sum"}).AddRow(nil))

	total, err := store.TotalAmount(context.Background(), "tenant-1", "VND", time.Time{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if total != 0 {
		t.Fatalf("NULL sum should read as 0, got %d", total)
	}
}
