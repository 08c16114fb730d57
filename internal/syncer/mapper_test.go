package syncer

import (
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/open-banking-archiver/internal/domain/transaction"
	"github.com/open-banking-archiver/internal/openbanking"
)

func rawEntry(id, bookingTime, amount string) json.RawMessage {
	return json.RawMessage(fmt.Sprintf(
		`{"transactionId":%q,"bookingDateTime":%q,"transactionAmount":{"amount":%q,"currency":"GBP"}}`,
		id, bookingTime, amount,
	))
}

func TestMapTransactions_SequenceNumbering(t *testing.T) {
	// Provider entries arrive newest first; the mapper walks them in
	// reverse so sequence numbers count upward through each timestamp.
	page := &openbanking.TransactionPage{
		Booked: []json.RawMessage{
			rawEntry("txn-3", "2024-03-02T09:00:00Z", "-10.00"),
			rawEntry("txn-2", "2024-03-01T10:30:00Z", "-5.00"),
			rawEntry("txn-1", "2024-03-01T10:30:00Z", "-3.50"),
		},
		Pending: []json.RawMessage{
			rawEntry("txn-4", "2024-03-02T09:00:00Z", "-1.00"),
		},
	}

	mapped, errs := MapTransactions(7, page)
	require.Empty(t, errs)
	require.Len(t, mapped, 4)

	byID := make(map[string]*transaction.Transaction, len(mapped))
	for _, txn := range mapped {
		byID[txn.ID] = txn
	}

	assert.Equal(t, 1, byID["txn-1"].SequenceNumber)
	assert.Equal(t, 2, byID["txn-2"].SequenceNumber)
	assert.Equal(t, 1, byID["txn-3"].SequenceNumber)
	// Pending continues the booked stream: same timestamp, next slot
	assert.Equal(t, 2, byID["txn-4"].SequenceNumber)

	assert.Equal(t, transaction.StateBooked, byID["txn-3"].State)
	assert.Equal(t, transaction.StatePending, byID["txn-4"].State)
	for _, txn := range mapped {
		assert.Equal(t, int64(7), txn.AccountID)
	}
}

func TestMapTransactions_FieldExtraction(t *testing.T) {
	raw := json.RawMessage(`{
		"transactionId": "txn-fx",
		"bookingDateTime": "2024-03-01T10:30:00Z",
		"remittanceInformationUnstructured": "AIRLINE TICKETS",
		"proprietaryBankTransactionCode": "CARD_PAYMENT",
		"transactionAmount": {"amount": "-120.40", "currency": "GBP"},
		"currencyExchange": {
			"sourceCurrency": "USD",
			"exchangeRate": "0.79",
			"instructedAmount": {"amount": "-152.41", "currency": "USD"}
		}
	}`)

	mapped, errs := MapTransactions(7, &openbanking.TransactionPage{Booked: []json.RawMessage{raw}})
	require.Empty(t, errs)
	require.Len(t, mapped, 1)

	txn := mapped[0]
	assert.Equal(t, "txn-fx", txn.ID)
	assert.True(t, txn.BookingTime.Equal(time.Date(2024, 3, 1, 10, 30, 0, 0, time.UTC)))
	assert.Equal(t, "AIRLINE TICKETS", txn.RemittanceInfo)
	require.NotNil(t, txn.TransactionCode)
	assert.Equal(t, "CARD_PAYMENT", *txn.TransactionCode)
	assert.True(t, txn.Amount.Equal(decimal.RequireFromString("-120.40")))
	assert.Equal(t, "GBP", txn.Currency)
	require.NotNil(t, txn.SourceCurrency)
	assert.Equal(t, "USD", *txn.SourceCurrency)
	require.True(t, txn.SourceAmount.Valid)
	assert.True(t, txn.SourceAmount.Decimal.Equal(decimal.RequireFromString("-152.41")))
	require.True(t, txn.ExchangeRate.Valid)
	assert.True(t, txn.ExchangeRate.Decimal.Equal(decimal.RequireFromString("0.79")))
	assert.JSONEq(t, string(raw), string(txn.SourceData))
}

func TestMapTransactions_OptionalFieldsAbsent(t *testing.T) {
	mapped, errs := MapTransactions(7, &openbanking.TransactionPage{
		Booked: []json.RawMessage{rawEntry("txn-1", "2024-03-01T10:30:00Z", "-3.50")},
	})
	require.Empty(t, errs)
	require.Len(t, mapped, 1)

	txn := mapped[0]
	assert.Nil(t, txn.TransactionCode)
	assert.Nil(t, txn.SourceCurrency)
	assert.False(t, txn.SourceAmount.Valid)
	assert.False(t, txn.ExchangeRate.Valid)
	assert.Empty(t, txn.RemittanceInfo)
}

func TestMapTransactions_TimestampShapes(t *testing.T) {
	page := &openbanking.TransactionPage{
		Booked: []json.RawMessage{
			rawEntry("txn-offset", "2024-03-01T10:30:00+01:00", "-1.00"),
			rawEntry("txn-nozone", "2024-03-01T10:30:00", "-1.00"),
			rawEntry("txn-dateonly", "2024-03-01", "-1.00"),
		},
	}

	mapped, errs := MapTransactions(7, page)
	require.Empty(t, errs)
	require.Len(t, mapped, 3)

	byID := make(map[string]*transaction.Transaction, len(mapped))
	for _, txn := range mapped {
		byID[txn.ID] = txn
	}
	assert.True(t, byID["txn-dateonly"].BookingTime.Equal(time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)))
	assert.True(t, byID["txn-offset"].BookingTime.Equal(time.Date(2024, 3, 1, 9, 30, 0, 0, time.UTC)))
}

func TestMapTransactions_UnmappableEntries(t *testing.T) {
	cases := []struct {
		name  string
		raw   string
		field string
	}{
		{"malformed payload", `{not json`, "payload"},
		{"missing id", `{"bookingDateTime":"2024-03-01","transactionAmount":{"amount":"-1.00","currency":"GBP"}}`, "transactionId"},
		{"missing booking time", `{"transactionId":"txn-x","transactionAmount":{"amount":"-1.00","currency":"GBP"}}`, "bookingDateTime"},
		{"unparseable booking time", `{"transactionId":"txn-x","bookingDateTime":"yesterday","transactionAmount":{"amount":"-1.00","currency":"GBP"}}`, "bookingDateTime"},
		{"missing amount", `{"transactionId":"txn-x","bookingDateTime":"2024-03-01","transactionAmount":{"currency":"GBP"}}`, "transactionAmount.amount"},
		{"unparseable amount", `{"transactionId":"txn-x","bookingDateTime":"2024-03-01","transactionAmount":{"amount":"lots","currency":"GBP"}}`, "transactionAmount.amount"},
		{"missing currency", `{"transactionId":"txn-x","bookingDateTime":"2024-03-01","transactionAmount":{"amount":"-1.00"}}`, "transactionAmount.currency"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			page := &openbanking.TransactionPage{Booked: []json.RawMessage{json.RawMessage(tc.raw)}}

			mapped, errs := MapTransactions(7, page)
			assert.Empty(t, mapped)
			require.Len(t, errs, 1)

			var mapErr MappingError
			require.ErrorAs(t, errs[0], &mapErr)
			assert.Equal(t, tc.field, mapErr.Field)
		})
	}
}

func TestMapTransactions_BadEntryDoesNotAdvanceSequencing(t *testing.T) {
	page := &openbanking.TransactionPage{
		Booked: []json.RawMessage{
			rawEntry("txn-2", "2024-03-01T10:30:00Z", "-5.00"),
			json.RawMessage(`{"bookingDateTime":"2024-03-01T10:30:00Z"}`),
			rawEntry("txn-1", "2024-03-01T10:30:00Z", "-3.50"),
		},
	}

	mapped, errs := MapTransactions(7, page)
	require.Len(t, errs, 1)
	require.Len(t, mapped, 2)

	assert.Equal(t, "txn-1", mapped[0].ID)
	assert.Equal(t, 1, mapped[0].SequenceNumber)
	assert.Equal(t, "txn-2", mapped[1].ID)
	assert.Equal(t, 2, mapped[1].SequenceNumber)
}
