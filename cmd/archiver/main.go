// Command archiver is the Open Banking archiver CLI. It archives account
// and transaction data from an aggregation API into PostgreSQL and manages
// the consent sessions the data flows through.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/open-banking-archiver/internal/config"
	"github.com/open-banking-archiver/internal/data/mongo"
	"github.com/open-banking-archiver/internal/data/postgres"
	"github.com/open-banking-archiver/internal/domain/account"
	"github.com/open-banking-archiver/internal/domain/bank"
	"github.com/open-banking-archiver/internal/domain/syncrun"
	"github.com/open-banking-archiver/internal/domain/transaction"
	"github.com/open-banking-archiver/internal/logger"
	"github.com/open-banking-archiver/internal/notifier"
	"github.com/open-banking-archiver/internal/openbanking"
	"github.com/open-banking-archiver/internal/platform/persistence"
)

// app carries configuration and lazily-connected resources shared by the
// subcommands
type app struct {
	cfg *config.Config
	log *slog.Logger

	logLevel  string
	logFormat string

	postgresDB *persistence.PostgresDB
	mongoDB    *persistence.MongoDB
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a := &app{}
	root := a.rootCommand()

	if err := root.ExecuteContext(ctx); err != nil {
		// Cobra already printed the error; the exit code is what the
		// scheduler watches
		os.Exit(1)
	}
}

func (a *app) rootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:           "archiver",
		Short:         "Archive Open Banking transaction data to PostgreSQL",
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfig("archiver")
			if err != nil {
				return fmt.Errorf("failed to load configuration: %w", err)
			}
			if a.logLevel != "" {
				cfg.Logging.Level = a.logLevel
			}
			if a.logFormat != "" {
				cfg.Logging.Format = a.logFormat
			}
			a.cfg = cfg
			a.log = logger.NewLogger(cfg)
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			a.close(cmd.Context())
		},
	}

	root.PersistentFlags().StringVar(&a.logLevel, "log-level", "", "log level (debug, info, warn, error)")
	root.PersistentFlags().StringVar(&a.logFormat, "log-format", "", "log format (json, text)")

	root.AddCommand(
		a.syncCommand(),
		a.linkCommand(),
		a.unlinkCommand(),
		a.statusCommand(),
		a.pruneCommand(),
		a.lsCommand(),
	)

	return root
}

// postgres connects the relational store on first use, running migrations
func (a *app) postgres(ctx context.Context) (*persistence.PostgresDB, error) {
	if a.postgresDB != nil {
		return a.postgresDB, nil
	}
	db, err := persistence.NewPostgresDB(ctx, a.log, &a.cfg.Postgres)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize PostgreSQL: %w", err)
	}
	a.postgresDB = db
	return db, nil
}

func (a *app) bankRepo(ctx context.Context) (bank.Repository, error) {
	db, err := a.postgres(ctx)
	if err != nil {
		return nil, err
	}
	return postgres.NewBankRepository(a.log, db), nil
}

func (a *app) accountRepo(ctx context.Context) (account.Repository, error) {
	db, err := a.postgres(ctx)
	if err != nil {
		return nil, err
	}
	return postgres.NewAccountRepository(a.log, db), nil
}

func (a *app) transactionRepo(ctx context.Context) (transaction.Repository, error) {
	db, err := a.postgres(ctx)
	if err != nil {
		return nil, err
	}
	return postgres.NewTransactionRepository(a.log, db), nil
}

// syncRunRepo connects the audit log. The audit log is best-effort: when
// Mongo is unreachable the sync proceeds without it.
func (a *app) syncRunRepo(ctx context.Context) syncrun.Repository {
	if a.mongoDB == nil {
		db, err := persistence.NewMongoDB(ctx, a.log, &a.cfg.MongoDB)
		if err != nil {
			a.log.Warn("Audit log unavailable, continuing without it", "error", err)
			return nil
		}
		a.mongoDB = db
	}
	return mongo.NewSyncRunRepository(a.log, a.mongoDB.Database())
}

func (a *app) client() *openbanking.Client {
	return openbanking.NewClient(a.log, &a.cfg.OpenBanking)
}

func (a *app) emailSender() *notifier.EmailSender {
	return notifier.NewEmailSender(a.log, &a.cfg.SMTP)
}

func (a *app) close(ctx context.Context) {
	if a.postgresDB != nil {
		a.postgresDB.Close()
		a.postgresDB = nil
	}
	if a.mongoDB != nil {
		if err := a.mongoDB.Close(ctx); err != nil {
			a.log.Error("Error closing MongoDB connection", "error", err)
		}
		a.mongoDB = nil
	}
}
