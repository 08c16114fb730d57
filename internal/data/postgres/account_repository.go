package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"

	"github.com/open-banking-archiver/internal/domain/account"
	"github.com/open-banking-archiver/internal/platform/persistence"
)

// AccountRepository implements the account.Repository interface for PostgreSQL
type AccountRepository struct {
	querier persistence.Querier
	logger  *slog.Logger
}

// NewAccountRepository creates a new PostgreSQL account repository.
// It expects db.Pool() to satisfy persistence.Querier.
func NewAccountRepository(logger *slog.Logger, db *persistence.PostgresDB) account.Repository {
	return &AccountRepository{
		querier: db.Pool(),
		logger:  logger,
	}
}

// Upsert inserts or updates an account keyed on (bank id, external id) and
// returns the persisted row including its internal id. Only the display
// name is mutable once the account exists.
func (r *AccountRepository) Upsert(ctx context.Context, acc *account.Account) (*account.Account, error) {
	query := `
		INSERT INTO accounts (bank_id, external_id, name)
		VALUES ($1, $2, $3)
		ON CONFLICT (bank_id, external_id) DO UPDATE
		SET name = EXCLUDED.name
		RETURNING id, bank_id, name, external_id
	`

	var persisted account.Account
	err := r.querier.QueryRow(ctx, query, acc.BankID, acc.ExternalID, acc.Name).Scan(
		&persisted.ID,
		&persisted.BankID,
		&persisted.Name,
		&persisted.ExternalID,
	)
	if err != nil {
		if isUniqueViolation(err) {
			externalID := ""
			if acc.ExternalID != nil {
				externalID = *acc.ExternalID
			}
			return nil, account.ErrDuplicateAccount{BankID: acc.BankID, ExternalID: externalID}
		}
		r.logger.Error("Failed to upsert account", "bank_id", acc.BankID, "error", err)
		return nil, fmt.Errorf("failed to upsert account: %w", err)
	}

	return &persisted, nil
}

// GetByExternalID retrieves an account by its owning bank and external id.
// Returns nil, nil when the account is not yet known.
func (r *AccountRepository) GetByExternalID(ctx context.Context, bankID int64, externalID string) (*account.Account, error) {
	query := `
		SELECT id, bank_id, name, external_id
		FROM accounts
		WHERE bank_id = $1 AND external_id = $2
	`

	var acc account.Account
	err := r.querier.QueryRow(ctx, query, bankID, externalID).Scan(
		&acc.ID,
		&acc.BankID,
		&acc.Name,
		&acc.ExternalID,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil // Not yet known for this bank
		}
		r.logger.Error("Failed to get account by external ID", "bank_id", bankID, "external_id", externalID, "error", err)
		return nil, fmt.Errorf("failed to get account by external ID: %w", err)
	}

	return &acc, nil
}

// List returns all accounts. Callers must not depend on ordering.
func (r *AccountRepository) List(ctx context.Context) ([]*account.Account, error) {
	query := `
		SELECT id, bank_id, name, external_id
		FROM accounts
	`

	rows, err := r.querier.Query(ctx, query)
	if err != nil {
		r.logger.Error("Failed to list accounts", "error", err)
		return nil, fmt.Errorf("failed to list accounts: %w", err)
	}
	defer rows.Close()

	var accounts []*account.Account
	for rows.Next() {
		var acc account.Account
		if err := rows.Scan(&acc.ID, &acc.BankID, &acc.Name, &acc.ExternalID); err != nil {
			return nil, fmt.Errorf("failed to scan account: %w", err)
		}
		accounts = append(accounts, &acc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read accounts: %w", err)
	}

	return accounts, nil
}
