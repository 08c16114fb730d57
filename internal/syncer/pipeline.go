// Package syncer implements the transaction synchronization pipeline: one
// sequential pass over every registered bank that reconciles the
// aggregator's view of accounts and transactions into the relational store.
//
// Failure isolation is the organizing principle. No error while processing
// one bank, account, or transaction aborts its siblings; only losing the
// store connection itself fails the run.
package syncer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/open-banking-archiver/internal/domain/account"
	"github.com/open-banking-archiver/internal/domain/bank"
	"github.com/open-banking-archiver/internal/domain/syncrun"
	"github.com/open-banking-archiver/internal/domain/transaction"
	"github.com/open-banking-archiver/internal/openbanking"
	"github.com/open-banking-archiver/internal/platform/persistence"
)

// Pipeline drives one complete sync cycle across all registered banks
type Pipeline struct {
	banks        BankStore
	accounts     AccountStore
	transactions TransactionStore
	client       AggregatorClient
	notifier     ActivationNotifier
	recorder     RunRecorder // May be nil when the audit log is disabled
	batchSize    int
	logger       *slog.Logger
}

// NewPipeline wires the pipeline from its collaborators. batchSize bounds
// how many transaction upserts are committed together.
func NewPipeline(
	banks BankStore,
	accounts AccountStore,
	transactions TransactionStore,
	client AggregatorClient,
	notifier ActivationNotifier,
	recorder RunRecorder,
	batchSize int,
	logger *slog.Logger,
) *Pipeline {
	if batchSize <= 0 {
		batchSize = 100
	}
	return &Pipeline{
		banks:        banks,
		accounts:     accounts,
		transactions: transactions,
		client:       client,
		notifier:     notifier,
		recorder:     recorder,
		batchSize:    batchSize,
		logger:       logger,
	}
}

// Run executes one sync cycle. It returns an error only when the bank set
// cannot be read or the store connection is lost mid-run; every other
// failure is logged, recorded in the audit log, and isolated to the entity
// it occurred on.
func (p *Pipeline) Run(ctx context.Context) error {
	runID := uuid.New()
	logger := p.logger.With("run_id", runID.String())

	banks, err := p.banks.List(ctx)
	if err != nil {
		return fmt.Errorf("failed to list banks: %w", err)
	}

	logger.Info("Starting sync cycle", "banks", len(banks))

	for _, b := range banks {
		if !b.ProviderType.RequiresConsent() {
			logger.Debug("Skipping bank without consent flow", "bank", b.Name, "provider", string(b.ProviderType))
			continue
		}

		record, err := p.syncBank(ctx, runID, logger, b)
		p.record(ctx, logger, record)
		if err != nil {
			logger.Error("Store connection lost, aborting sync cycle", "bank", b.Name, "error", err)
			return fmt.Errorf("store connection lost while syncing %s: %w", b.Name, err)
		}
	}

	logger.Info("Sync cycle finished")
	return nil
}

// syncBank processes a single bank and always returns an audit record,
// whatever the outcome. The returned error is non-nil only for store
// connection failures, which abort the run.
func (p *Pipeline) syncBank(ctx context.Context, runID uuid.UUID, logger *slog.Logger, b *bank.Bank) (*syncrun.Record, error) {
	record := &syncrun.Record{
		RunID:     runID,
		BankID:    b.ID,
		BankName:  b.Name,
		StartedAt: time.Now(),
	}
	defer func() {
		record.FinishedAt = time.Now()
	}()

	logger = logger.With("bank", b.Name)

	if b.ActiveRequisitionID == nil {
		logger.Info("Bank has no requisition, creating one")
		return record, p.renewRequisition(ctx, logger, b, record, false)
	}

	req, err := p.client.Requisition(ctx, *b.ActiveRequisitionID)
	if err != nil {
		if errors.Is(err, openbanking.ErrRequisitionNotFound) {
			logger.Warn("Requisition no longer exists upstream, creating a new one",
				"requisition_id", *b.ActiveRequisitionID)
			return record, p.renewRequisition(ctx, logger, b, record, true)
		}
		logger.Error("Failed to fetch requisition status, skipping bank", "error", err)
		record.Status = syncrun.StatusFailed
		record.Failures = append(record.Failures, err.Error())
		return record, nil
	}

	switch {
	case req.Status == openbanking.StatusLinked:
		return record, p.syncLinkedBank(ctx, logger, b, req, record)

	case req.Status.Dead():
		logger.Info("Requisition is no longer usable, creating a new one", "status", string(req.Status))
		return record, p.renewRequisition(ctx, logger, b, record, true)

	default:
		// Consent flow still in progress. Nudge the user once per
		// requisition lifecycle, then wait for a later cycle.
		record.Status = syncrun.StatusAwaitingLink
		if !b.ActivationEmailSent {
			return record, p.notifyActivation(ctx, logger, b, req.Link, record)
		}
	}

	return record, nil
}

// renewRequisition creates a fresh consent session for the bank, persists
// its id, and notifies the user. resetSent marks the start of a new
// requisition lifecycle, re-arming the one-email-per-lifecycle guard. The
// returned error is non-nil only for store connection failures.
func (p *Pipeline) renewRequisition(ctx context.Context, logger *slog.Logger, b *bank.Bank, record *syncrun.Record, resetSent bool) error {
	record.Status = syncrun.StatusAwaitingLink

	req, err := p.client.CreateRequisition(ctx, b.ExternalID)
	if err != nil {
		logger.Error("Failed to create requisition", "error", err)
		record.Status = syncrun.StatusFailed
		record.Failures = append(record.Failures, err.Error())
		return nil
	}

	if err := p.banks.SetActiveRequisition(ctx, b.ID, &req.ID); err != nil {
		logger.Error("Failed to persist new requisition id", "requisition_id", req.ID, "error", err)
		record.Status = syncrun.StatusFailed
		record.Failures = append(record.Failures, err.Error())
		if persistence.ConnectionFailure(err) {
			return err
		}
		return nil
	}

	if resetSent && b.ActivationEmailSent {
		if err := p.banks.SetActivationEmailSent(ctx, b.ID, false); err != nil {
			logger.Error("Failed to reset activation email flag", "error", err)
			record.Failures = append(record.Failures, err.Error())
			if persistence.ConnectionFailure(err) {
				record.Status = syncrun.StatusFailed
				return err
			}
			return nil
		}
		b.ActivationEmailSent = false
	}

	if !b.ActivationEmailSent {
		return p.notifyActivation(ctx, logger, b, req.Link, record)
	}
	return nil
}

// notifyActivation sends the consent link and marks the bank notified so
// later cycles stay quiet until the requisition lifecycle turns over. A
// send failure leaves the flag unset, so the next cycle retries.
func (p *Pipeline) notifyActivation(ctx context.Context, logger *slog.Logger, b *bank.Bank, link string, record *syncrun.Record) error {
	if err := p.notifier.SendActivationLink(b, link); err != nil {
		logger.Error("Failed to send activation email", "error", err)
		record.Failures = append(record.Failures, err.Error())
		return nil
	}

	if err := p.banks.SetActivationEmailSent(ctx, b.ID, true); err != nil {
		logger.Error("Failed to mark activation email sent", "error", err)
		record.Failures = append(record.Failures, err.Error())
		if persistence.ConnectionFailure(err) {
			record.Status = syncrun.StatusFailed
			return err
		}
		return nil
	}
	b.ActivationEmailSent = true

	logger.Info("Sent activation email")
	return nil
}

// syncLinkedBank fetches and persists accounts and transactions for a bank
// whose requisition is active. Account failures are isolated from one
// another; a store connection failure aborts immediately and is returned.
func (p *Pipeline) syncLinkedBank(ctx context.Context, logger *slog.Logger, b *bank.Bank, req *openbanking.Requisition, record *syncrun.Record) error {
	// A linked requisition starts a fresh notification lifecycle: if this
	// link later dies, the user should hear about it again
	if b.ActivationEmailSent {
		if err := p.banks.SetActivationEmailSent(ctx, b.ID, false); err != nil {
			logger.Error("Failed to reset activation email flag", "error", err)
			record.Failures = append(record.Failures, err.Error())
			if persistence.ConnectionFailure(err) {
				record.Status = syncrun.StatusFailed
				return err
			}
		} else {
			b.ActivationEmailSent = false
		}
	}

	for _, providerAccountID := range req.Accounts {
		if err := p.syncAccount(ctx, logger, b, providerAccountID, record); err != nil {
			record.Failures = append(record.Failures, err.Error())
			if persistence.ConnectionFailure(err) {
				record.Status = syncrun.StatusFailed
				return err
			}
			logger.Error("Failed to sync account, continuing with remaining accounts",
				"provider_account_id", providerAccountID,
				"error", err)
		}
	}

	if len(record.Failures) > 0 {
		record.Status = syncrun.StatusPartialFailed
	} else {
		record.Status = syncrun.StatusSynced
	}
	return nil
}

// syncAccount resolves one provider account, then fetches, maps,
// reconciles, and persists its transaction window. Batches commit
// incrementally; a failing batch is retried record by record so a single
// bad transaction cannot sink its neighbours.
func (p *Pipeline) syncAccount(ctx context.Context, logger *slog.Logger, b *bank.Bank, providerAccountID string, record *syncrun.Record) error {
	details, err := p.client.AccountDetails(ctx, providerAccountID)
	if err != nil {
		return fmt.Errorf("failed to fetch details for account %s: %w", providerAccountID, err)
	}

	// The resource id is the account's identity across syncs; a null
	// external id never matches the store's conflict key
	if details.ResourceID == "" {
		return fmt.Errorf("account %s has no resource id", providerAccountID)
	}

	acc := &account.Account{
		BankID:     b.ID,
		Name:       accountDisplayName(details),
		ExternalID: &details.ResourceID,
	}

	acc, err = p.accounts.Upsert(ctx, acc)
	if err != nil {
		return fmt.Errorf("failed to upsert account %s: %w", providerAccountID, err)
	}
	record.AccountsSynced++

	logger.Debug("Requesting transactions", "account", acc.Name, "provider_account_id", providerAccountID)

	page, err := p.client.AccountTransactions(ctx, providerAccountID)
	if err != nil {
		return fmt.Errorf("failed to fetch transactions for account %s: %w", providerAccountID, err)
	}

	mapped, mapErrs := MapTransactions(acc.ID, page)
	for _, mapErr := range mapErrs {
		logger.Warn("Skipping unmappable transaction", "error", mapErr)
		record.Failures = append(record.Failures, mapErr.Error())
		record.TransactionsSkipped++
	}

	changed, err := p.reconcileAgainstStore(ctx, acc.ID, mapped)
	if err != nil {
		return err
	}

	synced, err := p.persistTransactions(ctx, logger, changed, record)
	if err != nil {
		return err
	}

	logger.Info("Synced transactions",
		"account", acc.Name,
		"fetched", len(mapped),
		"written", synced,
		"unchanged", len(mapped)-len(changed))

	return nil
}

// reconcileAgainstStore drops records whose stored version already matches
// the fetched one, so an unchanged upstream window becomes a no-op run.
func (p *Pipeline) reconcileAgainstStore(ctx context.Context, accountID int64, mapped []*transaction.Transaction) ([]*transaction.Transaction, error) {
	existing, err := p.transactions.ListByAccount(ctx, accountID)
	if err != nil {
		return nil, fmt.Errorf("failed to load stored transactions for account %d: %w", accountID, err)
	}

	stored := make(map[string]*transaction.Transaction, len(existing))
	for _, txn := range existing {
		stored[txn.ID] = txn
	}

	var changed []*transaction.Transaction
	for _, txn := range mapped {
		if Reconcile(stored[txn.ID], txn) == ActionNoop {
			continue
		}
		changed = append(changed, txn)
	}

	return changed, nil
}

// persistTransactions writes changed records in incrementally-committed
// batches, falling back to per-record upserts when a batch fails. Returns
// the number of records written; the error is non-nil only when the store
// connection is lost, in which case the per-record fallback is pointless.
func (p *Pipeline) persistTransactions(ctx context.Context, logger *slog.Logger, txns []*transaction.Transaction, record *syncrun.Record) (int, error) {
	synced := 0

	for start := 0; start < len(txns); start += p.batchSize {
		end := start + p.batchSize
		if end > len(txns) {
			end = len(txns)
		}
		batch := txns[start:end]

		err := p.transactions.UpsertBatch(ctx, batch)
		if err == nil {
			synced += len(batch)
			record.TransactionsSynced += len(batch)
			continue
		}
		if persistence.ConnectionFailure(err) {
			return synced, err
		}
		logger.Warn("Batch upsert failed, retrying record by record", "batch_size", len(batch), "error", err)

		for _, txn := range batch {
			if err := p.transactions.Upsert(ctx, txn); err != nil {
				if persistence.ConnectionFailure(err) {
					return synced, err
				}
				logger.Error("Failed to persist transaction, skipping", "id", txn.ID, "error", err)
				record.Failures = append(record.Failures, err.Error())
				record.TransactionsSkipped++
				continue
			}
			synced++
			record.TransactionsSynced++
		}
	}

	return synced, nil
}

// record appends the bank's audit record. The audit log is best-effort and
// never blocks the sync.
func (p *Pipeline) record(ctx context.Context, logger *slog.Logger, rec *syncrun.Record) {
	if p.recorder == nil {
		return
	}
	if err := p.recorder.Append(ctx, rec); err != nil {
		logger.Error("Failed to append sync audit record", "bank", rec.BankName, "error", err)
	}
}

func accountDisplayName(details *openbanking.AccountDetails) string {
	if details.Details != "" {
		return details.Details
	}
	if details.Name != "" {
		return details.Name
	}
	return details.ResourceID
}
