// Package mongo provides the MongoDB implementation of the sync audit log.
package mongo

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/open-banking-archiver/internal/domain/syncrun"
)

const (
	// SyncRunCollectionName is the name of the sync run collection in MongoDB
	SyncRunCollectionName = "sync_runs"
)

// SyncRunRepository implements the syncrun.Repository interface for MongoDB
type SyncRunRepository struct {
	db     *mongo.Database
	logger *slog.Logger
}

// NewSyncRunRepository creates a new MongoDB sync run repository
func NewSyncRunRepository(logger *slog.Logger, db *mongo.Database) syncrun.Repository {
	return &SyncRunRepository{
		db:     db,
		logger: logger,
	}
}

// Append stores a new sync run record. Records are append-only and a write
// failure here never blocks the pipeline; callers log and move on.
func (r *SyncRunRepository) Append(ctx context.Context, record *syncrun.Record) error {
	collection := r.db.Collection(SyncRunCollectionName)

	_, err := collection.InsertOne(ctx, record)
	if err != nil {
		r.logger.Error("Failed to append sync run record",
			"run_id", record.RunID.String(),
			"bank_id", record.BankID,
			"error", err)
		return fmt.Errorf("failed to append sync run record: %w", err)
	}

	return nil
}

// LatestForBank retrieves the most recent sync record for a bank.
// Returns nil when the bank has never been synced.
func (r *SyncRunRepository) LatestForBank(ctx context.Context, bankID int64) (*syncrun.Record, error) {
	collection := r.db.Collection(SyncRunCollectionName)

	filter := bson.M{"bank_id": bankID}
	opts := options.FindOne().SetSort(bson.M{"started_at": -1})

	var record syncrun.Record
	err := collection.FindOne(ctx, filter, opts).Decode(&record)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, nil // Bank has never been synced
		}
		r.logger.Error("Failed to get latest sync run record",
			"bank_id", bankID,
			"error", err)
		return nil, fmt.Errorf("failed to get latest sync run record: %w", err)
	}

	return &record, nil
}
