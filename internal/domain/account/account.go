// Package account defines the financial account entity owned by a bank.
package account

import (
	"context"
	"fmt"
)

// Account represents a financial account belonging to a bank. The external
// id is assigned by the provider and may be absent until first resolved.
type Account struct {
	ID         int64   `json:"id"`
	BankID     int64   `json:"bank_id"`
	Name       string  `json:"name"`
	ExternalID *string `json:"external_id,omitempty"`
}

// Repository defines account persistence operations
type Repository interface {
	// Upsert inserts or updates an account keyed on (bank id, external id)
	// and returns the persisted row including its internal id
	Upsert(ctx context.Context, acc *Account) (*Account, error)

	GetByExternalID(ctx context.Context, bankID int64, externalID string) (*Account, error)

	// List returns all accounts in no guaranteed order
	List(ctx context.Context) ([]*Account, error)
}

// ErrDuplicateAccount indicates the (bank id, external id) uniqueness
// constraint fired
type ErrDuplicateAccount struct {
	BankID     int64
	ExternalID string
}

func (e ErrDuplicateAccount) Error() string {
	return fmt.Sprintf("account with external ID %s already exists for bank %d", e.ExternalID, e.BankID)
}
