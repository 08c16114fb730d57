package openbanking

import (
	"encoding/json"
	"fmt"
)

// RequisitionStatus is the lifecycle state of a consent session, decoded
// from the provider's two-letter status codes.
type RequisitionStatus string

const (
	StatusCreated           RequisitionStatus = "created"
	StatusGivingConsent     RequisitionStatus = "giving_consent"
	StatusUndergoingAuth    RequisitionStatus = "undergoing_authentication"
	StatusSelectingAccounts RequisitionStatus = "selecting_accounts"
	StatusGrantingAccess    RequisitionStatus = "granting_access"
	StatusLinked            RequisitionStatus = "linked"
	StatusExpired           RequisitionStatus = "expired"
	StatusRejected          RequisitionStatus = "rejected"
	StatusSuspended         RequisitionStatus = "suspended"
	StatusUnknown           RequisitionStatus = "unknown"
)

// statusFromCode decodes the provider's wire codes. Unrecognized codes map
// to StatusUnknown rather than failing the fetch.
func statusFromCode(code string) RequisitionStatus {
	switch code {
	case "CR":
		return StatusCreated
	case "GC":
		return StatusGivingConsent
	case "UA":
		return StatusUndergoingAuth
	case "SA":
		return StatusSelectingAccounts
	case "GA":
		return StatusGrantingAccess
	case "LN":
		return StatusLinked
	case "EX":
		return StatusExpired
	case "RJ":
		return StatusRejected
	case "SU":
		return StatusSuspended
	default:
		return StatusUnknown
	}
}

// Dead reports whether the consent session can never become linked again
// and a new requisition is required.
func (s RequisitionStatus) Dead() bool {
	return s == StatusExpired || s == StatusRejected || s == StatusSuspended
}

// Institution is a bank reachable through the aggregator
type Institution struct {
	ID        string   `json:"id"`
	Name      string   `json:"name"`
	BIC       string   `json:"bic"`
	Countries []string `json:"countries"`
}

// Requisition is a consent session with a single institution
type Requisition struct {
	ID            string
	Status        RequisitionStatus
	Link          string   // Consent URL the user must visit
	InstitutionID string
	Accounts      []string // Provider account ids accessible through this session
}

type requisitionWire struct {
	ID            string   `json:"id"`
	Status        string   `json:"status"`
	Link          string   `json:"link"`
	InstitutionID string   `json:"institution_id"`
	Accounts      []string `json:"accounts"`
}

func (w *requisitionWire) toRequisition() *Requisition {
	return &Requisition{
		ID:            w.ID,
		Status:        statusFromCode(w.Status),
		Link:          w.Link,
		InstitutionID: w.InstitutionID,
		Accounts:      w.Accounts,
	}
}

// AccountDetails is the provider's detail record for a single account
type AccountDetails struct {
	ResourceID string `json:"resourceId"`
	Name       string `json:"name"`
	Details    string `json:"details"`
	Currency   string `json:"currency"`
}

// TransactionPage holds one account's full visible transaction window.
// Entries are kept as raw JSON: the mapper owns field extraction and the
// verbatim payload is persisted for audit.
type TransactionPage struct {
	Booked  []json.RawMessage
	Pending []json.RawMessage
}

// APIError is a non-2xx response from the aggregator
type APIError struct {
	StatusCode int
	Summary    string `json:"summary"`
	Detail     string `json:"detail"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("aggregator API error (status %d): %s", e.StatusCode, e.Detail)
}
