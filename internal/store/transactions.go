package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/hainguyen99-cdm/xscan-sub002/internal/models"
	"github.com/hainguyen99-cdm/xscan-sub002/pkg/logging"
)

// TransactionStore persists observed bank transactions. The unique index on
// (tenant_id, reference) is the authoritative dedup barrier: a race between
// two poll cycles discovering the same reference is settled by the insert,
// not by application state.
type TransactionStore struct {
	db     *sql.DB
	logger logging.Logger
}

// NewTransactionStore creates a transaction store backed by Postgres
func NewTransactionStore(db *sql.DB, logger logging.Logger) *TransactionStore {
	return &TransactionStore{db: db, logger: logger}
}

// Insert persists a new transaction. Returns false (and no error) when a
// record with the same (tenant_id, reference) already exists.
func (s *TransactionStore) Insert(ctx context.Context, tx *models.BankTransaction) (bool, error) {
	var raw interface{}
	if len(tx.RawPayload) > 0 {
		raw = []byte(tx.RawPayload)
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO bank_transactions (tenant_id, reference, description, amount, currency, transaction_date, raw_payload)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (tenant_id, reference) DO NOTHING
	`, tx.TenantID, tx.Reference, tx.Description, tx.Amount, tx.Currency, tx.TransactionDate, raw)
	if err != nil {
		return false, fmt.Errorf("failed to insert transaction: %w", err)
	}

	inserted, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read insert result: %w", err)
	}
	return inserted == 1, nil
}

// Exists reports whether a transaction with this reference was already
// observed for the tenant.
func (s *TransactionStore) Exists(ctx context.Context, tenantID, reference string) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM bank_transactions WHERE tenant_id = $1 AND reference = $2
		)
	`, tenantID, reference).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check transaction existence: %w", err)
	}
	return exists, nil
}

// RecentByTenant returns the most recently observed transactions for a tenant,
// newest first.
func (s *TransactionStore) RecentByTenant(ctx context.Context, tenantID string, limit int) ([]models.BankTransaction, error) {
	if limit <= 0 {
		limit = 20
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, tenant_id, reference, description, amount, currency, transaction_date, created_at
		FROM bank_transactions
		WHERE tenant_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`, tenantID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query recent transactions: %w", err)
	}
	defer rows.Close()

	var transactions []models.BankTransaction
	for rows.Next() {
		var tx models.BankTransaction
		if err := rows.Scan(&tx.ID, &tx.TenantID, &tx.Reference, &tx.Description,
			&tx.Amount, &tx.Currency, &tx.TransactionDate, &tx.CreatedAt); err != nil {
			s.logger.WithError(err).Error("Error scanning transaction row")
			continue
		}
		transactions = append(transactions, tx)
	}
	return transactions, rows.Err()
}

// TotalAmount returns the aggregate donated amount for a tenant in the given
// currency since the cutoff time. A zero cutoff means all time.
func (s *TransactionStore) TotalAmount(ctx context.Context, tenantID, currency string, since time.Time) (int64, error) {
	var total sql.NullInt64
	err := s.db.QueryRowContext(ctx, `
		SELECT SUM(amount) FROM bank_transactions
		WHERE tenant_id = $1 AND currency = $2 AND created_at >= $3
	`, tenantID, currency, since).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("failed to compute donation total: %w", err)
	}
	return total.Int64, nil
}
