package syncer

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/open-banking-archiver/internal/domain/transaction"
	"github.com/open-banking-archiver/internal/openbanking"
)

// MappingError indicates a single provider record could not be translated
// into a transaction. The pipeline skips the record and continues.
type MappingError struct {
	TransactionID string // Empty when the id itself is missing
	Field         string
	Err           error
}

func (e MappingError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("failed to map transaction %q: bad field %s: %v", e.TransactionID, e.Field, e.Err)
	}
	return fmt.Sprintf("failed to map transaction %q: missing field %s", e.TransactionID, e.Field)
}

func (e MappingError) Unwrap() error {
	return e.Err
}

// providerTransaction is the subset of the provider payload the archiver
// extracts into columns. The full payload is stored verbatim regardless.
type providerTransaction struct {
	TransactionID                     string `json:"transactionId"`
	BookingDateTime                   string `json:"bookingDateTime"`
	RemittanceInformationUnstructured string `json:"remittanceInformationUnstructured"`
	ProprietaryBankTransactionCode    string `json:"proprietaryBankTransactionCode"`
	TransactionAmount                 struct {
		Amount   string `json:"amount"`
		Currency string `json:"currency"`
	} `json:"transactionAmount"`
	CurrencyExchange struct {
		SourceCurrency   string `json:"sourceCurrency"`
		ExchangeRate     string `json:"exchangeRate"`
		InstructedAmount struct {
			Amount   string `json:"amount"`
			Currency string `json:"currency"`
		} `json:"instructedAmount"`
	} `json:"currencyExchange"`
}

// bookingTimeLayouts covers the timestamp shapes providers emit. Most send
// RFC 3339; a few omit the zone offset.
var bookingTimeLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02",
}

func parseBookingTime(value string) (time.Time, error) {
	for _, layout := range bookingTimeLayouts {
		if t, err := time.Parse(layout, value); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp %q", value)
}

// MapTransactions translates one account's transaction window into domain
// records. Provider entries arrive newest first; iteration is reversed so
// sequence numbers count upward through each booking timestamp, restarting
// at 1 whenever the timestamp changes. Booked entries are sequenced before
// pending ones, matching the stream order the provider finalizes them in.
//
// Unmappable entries yield a MappingError in the returned slice and do not
// advance sequencing.
func MapTransactions(accountID int64, page *openbanking.TransactionPage) ([]*transaction.Transaction, []error) {
	var results []*transaction.Transaction
	var errs []error

	currentBookingTime := time.Time{}
	sequenceNumber := 0

	for _, group := range []struct {
		entries []json.RawMessage
		state   transaction.State
	}{
		{page.Booked, transaction.StateBooked},
		{page.Pending, transaction.StatePending},
	} {
		for i := len(group.entries) - 1; i >= 0; i-- {
			txn, err := mapTransaction(accountID, group.entries[i], group.state)
			if err != nil {
				errs = append(errs, err)
				continue
			}

			if txn.BookingTime.Equal(currentBookingTime) {
				sequenceNumber++
			} else {
				sequenceNumber = 1
				currentBookingTime = txn.BookingTime
			}
			txn.SequenceNumber = sequenceNumber

			results = append(results, txn)
		}
	}

	return results, errs
}

// mapTransaction translates a single raw provider entry. Pure: no I/O, no
// mutation of the input.
func mapTransaction(accountID int64, raw json.RawMessage, state transaction.State) (*transaction.Transaction, error) {
	var payload providerTransaction
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, MappingError{Field: "payload", Err: err}
	}

	if payload.TransactionID == "" {
		return nil, MappingError{Field: "transactionId"}
	}
	if payload.BookingDateTime == "" {
		return nil, MappingError{TransactionID: payload.TransactionID, Field: "bookingDateTime"}
	}
	bookingTime, err := parseBookingTime(payload.BookingDateTime)
	if err != nil {
		return nil, MappingError{TransactionID: payload.TransactionID, Field: "bookingDateTime", Err: err}
	}

	if payload.TransactionAmount.Amount == "" {
		return nil, MappingError{TransactionID: payload.TransactionID, Field: "transactionAmount.amount"}
	}
	amount, err := decimal.NewFromString(payload.TransactionAmount.Amount)
	if err != nil {
		return nil, MappingError{TransactionID: payload.TransactionID, Field: "transactionAmount.amount", Err: err}
	}
	if payload.TransactionAmount.Currency == "" {
		return nil, MappingError{TransactionID: payload.TransactionID, Field: "transactionAmount.currency"}
	}

	txn := &transaction.Transaction{
		ID:             payload.TransactionID,
		AccountID:      accountID,
		BookingTime:    bookingTime,
		RemittanceInfo: payload.RemittanceInformationUnstructured,
		Amount:         amount,
		Currency:       payload.TransactionAmount.Currency,
		State:          state,
		SourceData:     append([]byte(nil), raw...),
	}

	if payload.ProprietaryBankTransactionCode != "" {
		code := payload.ProprietaryBankTransactionCode
		txn.TransactionCode = &code
	}

	// The currency exchange block is optional and only present on
	// cross-currency movements
	if payload.CurrencyExchange.SourceCurrency != "" {
		sourceCurrency := payload.CurrencyExchange.SourceCurrency
		txn.SourceCurrency = &sourceCurrency
	}
	if payload.CurrencyExchange.InstructedAmount.Amount != "" {
		sourceAmount, err := decimal.NewFromString(payload.CurrencyExchange.InstructedAmount.Amount)
		if err != nil {
			return nil, MappingError{TransactionID: payload.TransactionID, Field: "currencyExchange.instructedAmount.amount", Err: err}
		}
		txn.SourceAmount = decimal.NewNullDecimal(sourceAmount)
	}
	if payload.CurrencyExchange.ExchangeRate != "" {
		rate, err := decimal.NewFromString(payload.CurrencyExchange.ExchangeRate)
		if err != nil {
			return nil, MappingError{TransactionID: payload.TransactionID, Field: "currencyExchange.exchangeRate", Err: err}
		}
		txn.ExchangeRate = decimal.NewNullDecimal(rate)
	}

	return txn, nil
}
