package main

import (
	"errors"
	"time"

	"github.com/spf13/cobra"

	"github.com/open-banking-archiver/internal/domain/account"
	"github.com/open-banking-archiver/internal/domain/bank"
	"github.com/open-banking-archiver/internal/openbanking"
	"github.com/open-banking-archiver/internal/syncer"
)

func (a *app) syncCommand() *cobra.Command {
	syncCmd := &cobra.Command{
		Use:   "sync",
		Short: "Synchronize data from the aggregator into the archive",
	}

	syncCmd.AddCommand(
		a.syncBanksCommand(),
		a.syncAccountsCommand(),
		a.syncTransactionsCommand(),
	)

	return syncCmd
}

// syncBanksCommand refreshes the institution catalogue
func (a *app) syncBanksCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "banks",
		Short: "Fetch the institution catalogue and upsert it into the archive",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			bankRepo, err := a.bankRepo(ctx)
			if err != nil {
				return err
			}

			a.log.Debug("Retrieving institution catalogue from the aggregator")
			institutions, err := a.client().Institutions(ctx)
			if err != nil {
				return err
			}

			banks := make([]*bank.Bank, 0, len(institutions))
			for _, inst := range institutions {
				banks = append(banks, &bank.Bank{
					Name:         inst.Name,
					ExternalID:   inst.ID,
					ProviderType: bank.ProviderOpenBanking,
				})
			}

			if err := bankRepo.Upsert(ctx, banks); err != nil {
				return err
			}

			a.log.Info("Synced banks to the database", "count", len(banks))
			return nil
		},
	}
}

// syncAccountsCommand resolves accounts for every linked bank without
// touching transactions
func (a *app) syncAccountsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "accounts",
		Short: "Resolve and upsert accounts for every linked bank",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			bankRepo, err := a.bankRepo(ctx)
			if err != nil {
				return err
			}
			accountRepo, err := a.accountRepo(ctx)
			if err != nil {
				return err
			}
			client := a.client()

			banks, err := bankRepo.List(ctx)
			if err != nil {
				return err
			}

			count := 0
			for _, b := range banks {
				if b.ActiveRequisitionID == nil {
					continue
				}

				req, err := client.Requisition(ctx, *b.ActiveRequisitionID)
				if err != nil {
					a.log.Error("Failed to fetch requisition, skipping bank", "bank", b.Name, "error", err)
					continue
				}
				if req.Status != openbanking.StatusLinked {
					continue
				}

				for _, providerAccountID := range req.Accounts {
					details, err := client.AccountDetails(ctx, providerAccountID)
					if err != nil {
						a.log.Error("Failed to fetch account details, skipping",
							"bank", b.Name,
							"provider_account_id", providerAccountID,
							"error", err)
						continue
					}

					acc, err := newAccountFromDetails(b.ID, details)
					if err != nil {
						a.log.Error("Skipping account",
							"bank", b.Name,
							"provider_account_id", providerAccountID,
							"error", err)
						continue
					}
					if _, err := accountRepo.Upsert(ctx, acc); err != nil {
						a.log.Error("Failed to upsert account, skipping", "bank", b.Name, "error", err)
						continue
					}
					count++
				}
			}

			a.log.Info("Synced accounts to the database", "count", count)
			return nil
		},
	}
}

// syncTransactionsCommand runs the full pipeline, optionally polling
func (a *app) syncTransactionsCommand() *cobra.Command {
	var pollInterval time.Duration

	cmd := &cobra.Command{
		Use:   "transactions",
		Short: "Run a full sync cycle across all registered banks",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			bankRepo, err := a.bankRepo(ctx)
			if err != nil {
				return err
			}
			accountRepo, err := a.accountRepo(ctx)
			if err != nil {
				return err
			}
			transactionRepo, err := a.transactionRepo(ctx)
			if err != nil {
				return err
			}

			pipeline := syncer.NewPipeline(
				bankRepo,
				accountRepo,
				transactionRepo,
				a.client(),
				a.emailSender(),
				a.syncRunRepo(ctx),
				a.cfg.Sync.BatchSize,
				a.log,
			)

			if pollInterval == 0 {
				pollInterval = a.cfg.Sync.PollInterval
			}

			for {
				if err := pipeline.Run(ctx); err != nil {
					return err
				}

				if pollInterval <= 0 {
					return nil
				}

				a.log.Debug("Sleeping until next cycle", "interval", pollInterval.String())
				select {
				case <-ctx.Done():
					return ctx.Err()
				case <-time.After(pollInterval):
				}
			}
		},
	}

	cmd.Flags().DurationVar(&pollInterval, "poll-interval", 0,
		"interval between sync cycles; run once and exit when 0")

	return cmd
}

// newAccountFromDetails builds the domain account from a provider detail
// record. The resource id keys the account across syncs, so a record
// without one is rejected.
func newAccountFromDetails(bankID int64, details *openbanking.AccountDetails) (*account.Account, error) {
	if details.ResourceID == "" {
		return nil, errors.New("account detail record has no resource id")
	}
	acc := &account.Account{
		BankID:     bankID,
		Name:       details.Details,
		ExternalID: &details.ResourceID,
	}
	if acc.Name == "" {
		acc.Name = details.Name
	}
	return acc, nil
}
