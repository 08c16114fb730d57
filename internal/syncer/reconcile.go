package syncer

import "github.com/open-banking-archiver/internal/domain/transaction"

// Action is the write decision for one re-fetched transaction
type Action int

const (
	// ActionNoop means the stored record already matches the fetched one
	ActionNoop Action = iota
	// ActionInsert means the transaction has never been stored
	ActionInsert
	// ActionUpdate means the stored record differs and must be overwritten
	// in place, keeping its primary key
	ActionUpdate
)

func (a Action) String() string {
	switch a {
	case ActionNoop:
		return "noop"
	case ActionInsert:
		return "insert"
	case ActionUpdate:
		return "update"
	default:
		return "unknown"
	}
}

// Reconcile decides what to do with a re-fetched transaction given the
// currently stored version (nil when the id has never been seen). The
// provider re-sends its full visible window on every poll, so most records
// reconcile to noop; a pending record finalizing as booked reconciles to
// update.
func Reconcile(stored, fetched *transaction.Transaction) Action {
	if fetched == nil {
		return ActionNoop
	}
	if stored == nil {
		return ActionInsert
	}
	if stored.Equal(fetched) {
		return ActionNoop
	}
	return ActionUpdate
}
