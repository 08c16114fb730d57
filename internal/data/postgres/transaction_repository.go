package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"

	"github.com/open-banking-archiver/internal/domain/transaction"
	"github.com/open-banking-archiver/internal/platform/persistence"
)

const upsertTransactionQuery = `
		INSERT INTO transactions (id, account_id, booking_time, sequence_number, remittance_info,
			transaction_code, currency, source_currency, source_amount, amount, exchange_rate,
			source_data, state)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (id) DO UPDATE SET
			account_id = EXCLUDED.account_id,
			booking_time = EXCLUDED.booking_time,
			sequence_number = EXCLUDED.sequence_number,
			remittance_info = EXCLUDED.remittance_info,
			transaction_code = EXCLUDED.transaction_code,
			currency = EXCLUDED.currency,
			source_currency = EXCLUDED.source_currency,
			source_amount = EXCLUDED.source_amount,
			amount = EXCLUDED.amount,
			exchange_rate = EXCLUDED.exchange_rate,
			source_data = EXCLUDED.source_data,
			state = EXCLUDED.state
	`

// TransactionRepository implements the transaction.Repository interface for
// PostgreSQL
type TransactionRepository struct {
	querier  persistence.Querier    // Can be *pgxpool.Pool or pgx.Tx
	beginner persistence.TxBeginner // nil when already inside a transaction
	logger   *slog.Logger
}

// NewTransactionRepository creates a new PostgreSQL transaction repository.
// It expects db.Pool() to satisfy persistence.Querier.
func NewTransactionRepository(logger *slog.Logger, db *persistence.PostgresDB) transaction.Repository {
	return &TransactionRepository{
		querier:  db.Pool(),
		beginner: db.Pool(),
		logger:   logger,
	}
}

// WithTx binds the repository to an open transaction; UpsertBatch uses it
// to make a batch all-or-nothing.
func (r *TransactionRepository) WithTx(tx pgx.Tx) transaction.Repository {
	return &TransactionRepository{
		querier: tx,
		logger:  r.logger,
	}
}

// Upsert inserts or updates a single transaction keyed on its
// provider-assigned id. On conflict every mutable field is overwritten,
// which is what makes repeated syncs of the same upstream window a no-op
// and makes pending records finalize in place.
func (r *TransactionRepository) Upsert(ctx context.Context, txn *transaction.Transaction) error {
	_, err := r.querier.Exec(ctx, upsertTransactionQuery, upsertArgs(txn)...)
	if err != nil {
		r.logger.Error("Failed to upsert transaction", "id", txn.ID, "error", err)
		return fmt.Errorf("failed to upsert transaction %s: %w", txn.ID, err)
	}

	return nil
}

// UpsertBatch applies a batch of upserts inside one database transaction.
// A batch is all-or-nothing; callers that need per-record isolation retry
// a failed batch record by record with Upsert.
func (r *TransactionRepository) UpsertBatch(ctx context.Context, txns []*transaction.Transaction) error {
	if len(txns) == 0 {
		return nil
	}
	if r.beginner == nil {
		return errors.New("UpsertBatch requires a pool-backed repository")
	}

	return persistence.ExecuteTx(ctx, r.beginner, func(tx pgx.Tx) error {
		batch := r.WithTx(tx)
		for _, txn := range txns {
			if err := batch.Upsert(ctx, txn); err != nil {
				return err
			}
		}
		return nil
	})
}

// GetByID retrieves a transaction by its provider-assigned id
func (r *TransactionRepository) GetByID(ctx context.Context, id string) (*transaction.Transaction, error) {
	query := `
		SELECT id, account_id, booking_time, sequence_number, remittance_info,
			transaction_code, currency, source_currency, source_amount, amount, exchange_rate,
			source_data, state
		FROM transactions
		WHERE id = $1
	`

	txn, err := scanTransaction(r.querier.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, transaction.ErrTransactionNotFound{ID: id}
		}
		r.logger.Error("Failed to get transaction", "id", id, "error", err)
		return nil, fmt.Errorf("failed to get transaction: %w", err)
	}

	return txn, nil
}

// ListByAccount returns every stored transaction for an account, ordered by
// booking time then sequence number
func (r *TransactionRepository) ListByAccount(ctx context.Context, accountID int64) ([]*transaction.Transaction, error) {
	query := `
		SELECT id, account_id, booking_time, sequence_number, remittance_info,
			transaction_code, currency, source_currency, source_amount, amount, exchange_rate,
			source_data, state
		FROM transactions
		WHERE account_id = $1
		ORDER BY booking_time, sequence_number
	`

	rows, err := r.querier.Query(ctx, query, accountID)
	if err != nil {
		r.logger.Error("Failed to list transactions", "account_id", accountID, "error", err)
		return nil, fmt.Errorf("failed to list transactions: %w", err)
	}
	defer rows.Close()

	var txns []*transaction.Transaction
	for rows.Next() {
		txn, err := scanTransaction(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan transaction: %w", err)
		}
		txns = append(txns, txn)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read transactions: %w", err)
	}

	return txns, nil
}

func upsertArgs(txn *transaction.Transaction) []interface{} {
	return []interface{}{
		txn.ID,
		txn.AccountID,
		txn.BookingTime,
		txn.SequenceNumber,
		txn.RemittanceInfo,
		txn.TransactionCode,
		txn.Currency,
		txn.SourceCurrency,
		txn.SourceAmount,
		txn.Amount,
		txn.ExchangeRate,
		txn.SourceData,
		string(txn.State),
	}
}

func scanTransaction(row pgx.Row) (*transaction.Transaction, error) {
	var txn transaction.Transaction
	var state string
	err := row.Scan(
		&txn.ID,
		&txn.AccountID,
		&txn.BookingTime,
		&txn.SequenceNumber,
		&txn.RemittanceInfo,
		&txn.TransactionCode,
		&txn.Currency,
		&txn.SourceCurrency,
		&txn.SourceAmount,
		&txn.Amount,
		&txn.ExchangeRate,
		&txn.SourceData,
		&state,
	)
	if err != nil {
		return nil, err
	}
	txn.State = transaction.State(state)
	return &txn, nil
}
