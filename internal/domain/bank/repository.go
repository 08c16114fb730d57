package bank

import "context"

// Repository defines bank persistence operations
type Repository interface {
	// Upsert inserts or updates banks keyed on external id. Name and
	// provider type follow the upstream catalogue; requisition state is
	// never touched by an upsert.
	Upsert(ctx context.Context, banks []*Bank) error

	// List returns all banks in no guaranteed order
	List(ctx context.Context) ([]*Bank, error)

	GetByName(ctx context.Context, name string) (*Bank, error)

	// SetActiveRequisition records the bank's current consent session.
	// A nil id clears the link.
	SetActiveRequisition(ctx context.Context, bankID int64, requisitionID *string) error

	SetActivationEmailSent(ctx context.Context, bankID int64, sent bool) error

	// ClearRequisitionByID removes a requisition reference from whichever
	// bank holds it, used when the aggregator no longer knows the session
	ClearRequisitionByID(ctx context.Context, requisitionID string) error
}
