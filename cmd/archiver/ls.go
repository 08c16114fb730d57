package main

import (
	"os"
	"sort"
	"strconv"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/open-banking-archiver/internal/domain/bank"
)

func (a *app) lsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ls",
		Short: "List archived entities",
	}
	cmd.AddCommand(a.lsBanksCommand(), a.lsAccountsCommand())
	return cmd
}

func (a *app) lsBanksCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "banks",
		Short: "List known banks",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			bankRepo, err := a.bankRepo(ctx)
			if err != nil {
				return err
			}
			banks, err := bankRepo.List(ctx)
			if err != nil {
				return err
			}
			sort.Slice(banks, func(i, j int) bool { return banks[i].Name < banks[j].Name })

			table := tablewriter.NewWriter(os.Stdout)
			table.SetHeader([]string{"ID", "Name", "External ID", "Active Requisition ID", "Provider Type"})
			for _, b := range banks {
				requisitionID := ""
				if b.ActiveRequisitionID != nil {
					requisitionID = *b.ActiveRequisitionID
				}
				table.Append([]string{
					strconv.FormatInt(b.ID, 10),
					b.Name,
					b.ExternalID,
					requisitionID,
					string(b.ProviderType),
				})
			}
			table.Render()
			return nil
		},
	}
}

func (a *app) lsAccountsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "accounts",
		Short: "List archived accounts",
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

			banks, err := bankRepo.List(ctx)
			if err != nil {
				return err
			}
			banksByID := make(map[int64]*bank.Bank, len(banks))
			for _, b := range banks {
				banksByID[b.ID] = b
			}

			accounts, err := accountRepo.List(ctx)
			if err != nil {
				return err
			}
			sort.Slice(accounts, func(i, j int) bool { return accounts[i].ID < accounts[j].ID })

			table := tablewriter.NewWriter(os.Stdout)
			table.SetHeader([]string{"ID", "Name", "External ID", "Bank Name"})
			for _, acc := range accounts {
				externalID := ""
				if acc.ExternalID != nil {
					externalID = *acc.ExternalID
				}
				bankName := "Not Found"
				if b, ok := banksByID[acc.BankID]; ok {
					bankName = b.Name
				}
				table.Append([]string{
					strconv.FormatInt(acc.ID, 10),
					acc.Name,
					externalID,
					bankName,
				})
			}
			table.Render()
			return nil
		},
	}
}
