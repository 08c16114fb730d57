// Package syncrun defines the audit record written after each bank is
// processed by a sync cycle.
package syncrun

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Status classifies the outcome of syncing one bank in one run
type Status string

const (
	StatusSynced        Status = "synced"
	StatusAwaitingLink  Status = "awaiting_link"
	StatusPartialFailed Status = "partial_failure"
	StatusFailed        Status = "failed"
)

// Record captures what one sync cycle did for one bank. Records are
// append-only; failures listed here were logged and skipped, never retried
// within the run.
type Record struct {
	RunID               uuid.UUID `json:"run_id" bson:"run_id"`
	BankID              int64     `json:"bank_id" bson:"bank_id"`
	BankName            string    `json:"bank_name" bson:"bank_name"`
	Status              Status    `json:"status" bson:"status"`
	AccountsSynced      int       `json:"accounts_synced" bson:"accounts_synced"`
	TransactionsSynced  int       `json:"transactions_synced" bson:"transactions_synced"`
	TransactionsSkipped int       `json:"transactions_skipped" bson:"transactions_skipped"`
	Failures            []string  `json:"failures,omitempty" bson:"failures,omitempty"`
	StartedAt           time.Time `json:"started_at" bson:"started_at"`
	FinishedAt          time.Time `json:"finished_at" bson:"finished_at"`
}

// Repository defines audit log persistence operations
type Repository interface {
	Append(ctx context.Context, record *Record) error

	// LatestForBank returns the most recent record for a bank, or nil when
	// the bank has never been synced
	LatestForBank(ctx context.Context, bankID int64) (*Record, error)
}
