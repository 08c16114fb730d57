// Package postgres provides PostgreSQL implementations of the domain
// repositories. All writes are conflict-keyed upserts so repeated sync runs
// are idempotent; uniqueness and foreign-key contracts live in the schema
// and surface here as typed errors.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/open-banking-archiver/internal/domain/bank"
	"github.com/open-banking-archiver/internal/platform/persistence"
)

// pgUniqueViolation is the SQLSTATE for unique constraint violations
const pgUniqueViolation = "23505"

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation
}

// BankRepository implements the bank.Repository interface for PostgreSQL
type BankRepository struct {
	querier persistence.Querier
	logger  *slog.Logger
}

// NewBankRepository creates a new PostgreSQL bank repository.
// It expects db.Pool() to satisfy persistence.Querier.
func NewBankRepository(logger *slog.Logger, db *persistence.PostgresDB) bank.Repository {
	return &BankRepository{
		querier: db.Pool(),
		logger:  logger,
	}
}

// Upsert inserts or updates banks keyed on external id. Name and provider
// type track the upstream catalogue; requisition state is left untouched.
func (r *BankRepository) Upsert(ctx context.Context, banks []*bank.Bank) error {
	query := `
		INSERT INTO banks (name, external_id, provider_type)
		VALUES ($1, $2, $3)
		ON CONFLICT (external_id) DO UPDATE
		SET name = EXCLUDED.name, provider_type = EXCLUDED.provider_type
	`

	for _, b := range banks {
		_, err := r.querier.Exec(ctx, query, b.Name, b.ExternalID, string(b.ProviderType))
		if err != nil {
			if isUniqueViolation(err) {
				return bank.ErrDuplicateExternalID{ExternalID: b.ExternalID}
			}
			r.logger.Error("Failed to upsert bank", "external_id", b.ExternalID, "error", err)
			return fmt.Errorf("failed to upsert bank: %w", err)
		}
	}

	return nil
}

// List returns all banks. Callers must not depend on ordering.
func (r *BankRepository) List(ctx context.Context) ([]*bank.Bank, error) {
	query := `
		SELECT id, name, external_id, provider_type, active_requisition_id, activation_email_sent
		FROM banks
	`

	rows, err := r.querier.Query(ctx, query)
	if err != nil {
		r.logger.Error("Failed to list banks", "error", err)
		return nil, fmt.Errorf("failed to list banks: %w", err)
	}
	defer rows.Close()

	var banks []*bank.Bank
	for rows.Next() {
		var b bank.Bank
		var providerType string
		if err := rows.Scan(&b.ID, &b.Name, &b.ExternalID, &providerType, &b.ActiveRequisitionID, &b.ActivationEmailSent); err != nil {
			return nil, fmt.Errorf("failed to scan bank: %w", err)
		}
		b.ProviderType = bank.ProviderType(providerType)
		banks = append(banks, &b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read banks: %w", err)
	}

	return banks, nil
}

// GetByName retrieves a bank by its display name
func (r *BankRepository) GetByName(ctx context.Context, name string) (*bank.Bank, error) {
	query := `
		SELECT id, name, external_id, provider_type, active_requisition_id, activation_email_sent
		FROM banks
		WHERE name = $1
	`

	var b bank.Bank
	var providerType string
	err := r.querier.QueryRow(ctx, query, name).Scan(
		&b.ID,
		&b.Name,
		&b.ExternalID,
		&providerType,
		&b.ActiveRequisitionID,
		&b.ActivationEmailSent,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, bank.ErrBankNotFound{Name: name}
		}
		r.logger.Error("Failed to get bank by name", "name", name, "error", err)
		return nil, fmt.Errorf("failed to get bank by name: %w", err)
	}
	b.ProviderType = bank.ProviderType(providerType)

	return &b, nil
}

// SetActiveRequisition records the bank's current consent session id.
// Passing nil clears the link.
func (r *BankRepository) SetActiveRequisition(ctx context.Context, bankID int64, requisitionID *string) error {
	query := `
		UPDATE banks
		SET active_requisition_id = $1
		WHERE id = $2
	`

	result, err := r.querier.Exec(ctx, query, requisitionID, bankID)
	if err != nil {
		r.logger.Error("Failed to set active requisition", "bank_id", bankID, "error", err)
		return fmt.Errorf("failed to set active requisition: %w", err)
	}
	if result.RowsAffected() == 0 {
		return fmt.Errorf("no bank with id %d", bankID)
	}

	return nil
}

// SetActivationEmailSent updates the duplicate-notification guard flag
func (r *BankRepository) SetActivationEmailSent(ctx context.Context, bankID int64, sent bool) error {
	query := `
		UPDATE banks
		SET activation_email_sent = $1
		WHERE id = $2
	`

	result, err := r.querier.Exec(ctx, query, sent, bankID)
	if err != nil {
		r.logger.Error("Failed to set activation email flag", "bank_id", bankID, "error", err)
		return fmt.Errorf("failed to set activation email flag: %w", err)
	}
	if result.RowsAffected() == 0 {
		return fmt.Errorf("no bank with id %d", bankID)
	}

	return nil
}

// ClearRequisitionByID removes a requisition reference from whichever bank
// holds it. Clearing an unknown id is a no-op.
func (r *BankRepository) ClearRequisitionByID(ctx context.Context, requisitionID string) error {
	query := `
		UPDATE banks
		SET active_requisition_id = NULL
		WHERE active_requisition_id = $1
	`

	_, err := r.querier.Exec(ctx, query, requisitionID)
	if err != nil {
		r.logger.Error("Failed to clear requisition", "requisition_id", requisitionID, "error", err)
		return fmt.Errorf("failed to clear requisition: %w", err)
	}

	return nil
}
