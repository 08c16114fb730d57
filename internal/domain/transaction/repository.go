package transaction

import (
	"context"

	"github.com/jackc/pgx/v5"
)

// Repository defines transaction persistence operations
type Repository interface {
	// Upsert inserts or updates a single transaction keyed on id. All
	// mutable fields are overwritten on conflict; the primary key never
	// changes.
	Upsert(ctx context.Context, txn *Transaction) error

	// UpsertBatch applies a batch of upserts inside one database
	// transaction. Either the whole batch commits or none of it does;
	// callers that need per-record isolation retry failed batches with
	// Upsert.
	UpsertBatch(ctx context.Context, txns []*Transaction) error

	GetByID(ctx context.Context, id string) (*Transaction, error)

	// ListByAccount returns every stored transaction for an account,
	// ordered by booking time then sequence number
	ListByAccount(ctx context.Context, accountID int64) ([]*Transaction, error)

	WithTx(tx pgx.Tx) Repository
}
