package syncer

import (
	"context"

	"github.com/open-banking-archiver/internal/domain/account"
	"github.com/open-banking-archiver/internal/domain/bank"
	"github.com/open-banking-archiver/internal/domain/syncrun"
	"github.com/open-banking-archiver/internal/domain/transaction"
	"github.com/open-banking-archiver/internal/openbanking"
)

// BankStore is the pipeline's view of bank persistence
type BankStore interface {
	List(ctx context.Context) ([]*bank.Bank, error)
	SetActiveRequisition(ctx context.Context, bankID int64, requisitionID *string) error
	SetActivationEmailSent(ctx context.Context, bankID int64, sent bool) error
}

// AccountStore is the pipeline's view of account persistence
type AccountStore interface {
	Upsert(ctx context.Context, acc *account.Account) (*account.Account, error)
}

// TransactionStore is the pipeline's view of transaction persistence
type TransactionStore interface {
	Upsert(ctx context.Context, txn *transaction.Transaction) error
	UpsertBatch(ctx context.Context, txns []*transaction.Transaction) error
	ListByAccount(ctx context.Context, accountID int64) ([]*transaction.Transaction, error)
}

// AggregatorClient is the pipeline's view of the external data client
type AggregatorClient interface {
	Requisition(ctx context.Context, id string) (*openbanking.Requisition, error)
	CreateRequisition(ctx context.Context, institutionID string) (*openbanking.Requisition, error)
	AccountDetails(ctx context.Context, accountID string) (*openbanking.AccountDetails, error)
	AccountTransactions(ctx context.Context, accountID string) (*openbanking.TransactionPage, error)
}

// ActivationNotifier sends consent activation links
type ActivationNotifier interface {
	SendActivationLink(b *bank.Bank, link string) error
}

// RunRecorder appends audit records for completed bank syncs
type RunRecorder interface {
	Append(ctx context.Context, record *syncrun.Record) error
}
