package mongo

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/open-banking-archiver/internal/domain/syncrun"
)

type MockSyncRunRepository struct {
	mock.Mock
}

func (m *MockSyncRunRepository) Append(ctx context.Context, record *syncrun.Record) error {
	args := m.Called(ctx, record)
	return args.Error(0)
}

func (m *MockSyncRunRepository) LatestForBank(ctx context.Context, bankID int64) (*syncrun.Record, error) {
	args := m.Called(ctx, bankID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*syncrun.Record), args.Error(1)
}

func TestNewSyncRunRepository(t *testing.T) {
	db := &mongo.Database{}
	logger := slog.Default()

	repo := NewSyncRunRepository(logger, db)

	assert.NotNil(t, repo)
	assert.IsType(t, &SyncRunRepository{}, repo)
}

func TestSyncRunRepository_Append(t *testing.T) {
	record := &syncrun.Record{
		RunID:              uuid.New(),
		BankID:             1,
		BankName:           "Acme Bank",
		Status:             syncrun.StatusSynced,
		AccountsSynced:     2,
		TransactionsSynced: 14,
		StartedAt:          time.Now(),
		FinishedAt:         time.Now(),
	}

	tests := []struct {
		name          string
		setupMocks    func(m *MockSyncRunRepository)
		expectedError error
	}{
		{
			name: "successful append",
			setupMocks: func(m *MockSyncRunRepository) {
				m.On("Append", mock.Anything, record).Return(nil)
			},
		},
		{
			name: "database error",
			setupMocks: func(m *MockSyncRunRepository) {
				m.On("Append", mock.Anything, record).Return(errors.New("db error"))
			},
			expectedError: errors.New("db error"),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mockRepo := &MockSyncRunRepository{}
			tt.setupMocks(mockRepo)

			err := mockRepo.Append(context.Background(), record)

			if tt.expectedError != nil {
				assert.Error(t, err)
				assert.Contains(t, err.Error(), tt.expectedError.Error())
			} else {
				assert.NoError(t, err)
			}

			mockRepo.AssertExpectations(t)
		})
	}
}

func TestSyncRunRepository_LatestForBank(t *testing.T) {
	record := &syncrun.Record{
		RunID:    uuid.New(),
		BankID:   1,
		BankName: "Acme Bank",
		Status:   syncrun.StatusAwaitingLink,
	}

	t.Run("latest record returned", func(t *testing.T) {
		mockRepo := &MockSyncRunRepository{}
		mockRepo.On("LatestForBank", mock.Anything, int64(1)).Return(record, nil)

		got, err := mockRepo.LatestForBank(context.Background(), 1)
		assert.NoError(t, err)
		assert.Equal(t, record, got)
		mockRepo.AssertExpectations(t)
	})

	t.Run("never synced yields nil without error", func(t *testing.T) {
		mockRepo := &MockSyncRunRepository{}
		mockRepo.On("LatestForBank", mock.Anything, int64(2)).Return(nil, nil)

		got, err := mockRepo.LatestForBank(context.Background(), 2)
		assert.NoError(t, err)
		assert.Nil(t, got)
		mockRepo.AssertExpectations(t)
	})
}
