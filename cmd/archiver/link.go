package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/open-banking-archiver/internal/openbanking"
)

// resolveRequisition fetches the bank's current requisition, treating an
// upstream 404 as "no requisition" rather than an error
func (a *app) resolveRequisition(ctx context.Context, client *openbanking.Client, requisitionID *string) (*openbanking.Requisition, error) {
	if requisitionID == nil {
		return nil, nil
	}
	req, err := client.Requisition(ctx, *requisitionID)
	if err != nil {
		if errors.Is(err, openbanking.ErrRequisitionNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return req, nil
}

func (a *app) linkCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "link <bank-name>",
		Short: "Create a consent session with a bank and print its activation link",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			bankName := args[0]

			bankRepo, err := a.bankRepo(ctx)
			if err != nil {
				return err
			}
			b, err := bankRepo.GetByName(ctx, bankName)
			if err != nil {
				return err
			}

			client := a.client()
			req, err := a.resolveRequisition(ctx, client, b.ActiveRequisitionID)
			if err != nil {
				return err
			}

			if req != nil {
				if req.Status == openbanking.StatusLinked {
					a.log.Info("Link already active", "bank", bankName, "link", req.Link)
				} else {
					a.log.Info("Link exists but is not active, unlink it first",
						"bank", bankName,
						"status", string(req.Status))
				}
				return nil
			}

			created, err := client.CreateRequisition(ctx, b.ExternalID)
			if err != nil {
				return err
			}
			if err := bankRepo.SetActiveRequisition(ctx, b.ID, &created.ID); err != nil {
				return err
			}

			a.log.Info("Created link", "bank", bankName, "link", created.Link)
			fmt.Println(created.Link)
			return nil
		},
	}
}

func (a *app) unlinkCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "unlink <bank-name>",
		Short: "Remove a bank's consent session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			bankName := args[0]

			bankRepo, err := a.bankRepo(ctx)
			if err != nil {
				return err
			}
			b, err := bankRepo.GetByName(ctx, bankName)
			if err != nil {
				return err
			}

			req, err := a.resolveRequisition(ctx, a.client(), b.ActiveRequisitionID)
			if err != nil {
				return err
			}

			if req == nil {
				a.log.Info("No link currently exists", "bank", bankName)
				return nil
			}

			if err := bankRepo.SetActiveRequisition(ctx, b.ID, nil); err != nil {
				return err
			}
			a.log.Info("Link removed", "bank", bankName)
			return nil
		},
	}
}

func (a *app) statusCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "status <bank-name>",
		Short: "Report the state of a bank's consent session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			bankName := args[0]

			bankRepo, err := a.bankRepo(ctx)
			if err != nil {
				return err
			}
			b, err := bankRepo.GetByName(ctx, bankName)
			if err != nil {
				return err
			}

			req, err := a.resolveRequisition(ctx, a.client(), b.ActiveRequisitionID)
			if err != nil {
				return err
			}

			switch {
			case req == nil:
				fmt.Printf("Link with %s: INACTIVE\n", bankName)
			case req.Status == openbanking.StatusLinked:
				fmt.Printf("Link with %s: ACTIVE\n", bankName)
			default:
				fmt.Printf("Link with %s: %s\n", bankName, req.Status)
			}

			if recorder := a.syncRunRepo(ctx); recorder != nil {
				record, err := recorder.LatestForBank(ctx, b.ID)
				if err != nil {
					a.log.Warn("Failed to read last sync record", "bank", bankName, "error", err)
				} else if record != nil {
					fmt.Printf("Last sync: %s at %s (%d transactions)\n",
						record.Status, record.FinishedAt.Format(time.RFC3339), record.TransactionsSynced)
				}
			}
			return nil
		},
	}
}

func (a *app) pruneCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "prune",
		Short: "Delete dead or unreferenced requisitions and clear orphaned links",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			bankRepo, err := a.bankRepo(ctx)
			if err != nil {
				return err
			}
			client := a.client()

			banks, err := bankRepo.List(ctx)
			if err != nil {
				return err
			}
			known := make(map[string]bool)
			for _, b := range banks {
				if b.ActiveRequisitionID != nil {
					known[*b.ActiveRequisitionID] = true
				}
			}

			requisitions, err := client.Requisitions(ctx)
			if err != nil {
				return err
			}

			upstream := make(map[string]bool, len(requisitions))
			for _, req := range requisitions {
				upstream[req.ID] = true
				if req.Status == openbanking.StatusLinked && known[req.ID] {
					continue
				}
				a.log.Info("Deleting requisition", "requisition_id", req.ID, "status", string(req.Status))
				if err := client.DeleteRequisition(ctx, req.ID); err != nil {
					a.log.Error("Failed to delete requisition, continuing", "requisition_id", req.ID, "error", err)
				}
			}

			// Clear references to requisitions the aggregator no longer knows
			for id := range known {
				if upstream[id] {
					continue
				}
				a.log.Info("Clearing orphaned requisition reference", "requisition_id", id)
				if err := bankRepo.ClearRequisitionByID(ctx, id); err != nil {
					return err
				}
			}

			return nil
		},
	}
}
