// Package transaction defines the archived financial movement entity.
// Transaction identity is owned by the aggregator: the id is the primary
// key and the same id can reappear across sync runs with changed content,
// most commonly a pending record finalizing as booked.
package transaction

import (
	"time"

	"github.com/shopspring/decimal"
)

// State is the settlement state of a transaction
type State string

const (
	StatePending State = "pending"
	StateBooked  State = "booked"
)

// Transaction represents a single financial movement within an account's
// stream. Amounts are exact decimals; the raw provider payload is preserved
// verbatim for auditability.
type Transaction struct {
	ID              string              `json:"id"` // Provider-assigned, primary key
	AccountID       int64               `json:"account_id"`
	BookingTime     time.Time           `json:"booking_time"`
	SequenceNumber  int                 `json:"sequence_number"` // Position within the booking timestamp
	RemittanceInfo  string              `json:"remittance_info"`
	TransactionCode *string             `json:"transaction_code,omitempty"`
	Amount          decimal.Decimal     `json:"amount"`
	Currency        string              `json:"currency"`
	SourceAmount    decimal.NullDecimal `json:"source_amount,omitempty"` // Instructed amount for cross-currency movements
	SourceCurrency  *string             `json:"source_currency,omitempty"`
	ExchangeRate    decimal.NullDecimal `json:"exchange_rate,omitempty"`
	State           State               `json:"state"`
	SourceData      []byte              `json:"source_data"` // Raw provider payload, stored as JSONB
}

// Equal reports whether two transactions carry the same persisted content.
// Used to decide whether a re-fetched record needs a write at all.
func (t *Transaction) Equal(other *Transaction) bool {
	if t == nil || other == nil {
		return t == other
	}
	return t.ID == other.ID &&
		t.AccountID == other.AccountID &&
		t.BookingTime.Equal(other.BookingTime) &&
		t.SequenceNumber == other.SequenceNumber &&
		t.RemittanceInfo == other.RemittanceInfo &&
		equalStringPtr(t.TransactionCode, other.TransactionCode) &&
		t.Amount.Equal(other.Amount) &&
		t.Currency == other.Currency &&
		equalNullDecimal(t.SourceAmount, other.SourceAmount) &&
		equalStringPtr(t.SourceCurrency, other.SourceCurrency) &&
		equalNullDecimal(t.ExchangeRate, other.ExchangeRate) &&
		t.State == other.State &&
		string(t.SourceData) == string(other.SourceData)
}

func equalStringPtr(a, b *string) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func equalNullDecimal(a, b decimal.NullDecimal) bool {
	if !a.Valid || !b.Valid {
		return a.Valid == b.Valid
	}
	return a.Decimal.Equal(b.Decimal)
}

// ErrTransactionNotFound indicates a lookup by id matched no transaction
type ErrTransactionNotFound struct {
	ID string
}

func (e ErrTransactionNotFound) Error() string {
	return "transaction not found: " + e.ID
}
