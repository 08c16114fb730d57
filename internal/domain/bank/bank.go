// Package bank defines the connected financial institution entity and its
// persistence contract. A bank row is created once per institution and its
// requisition fields mutate as the consent lifecycle progresses; the
// archiver never deletes banks.
package bank

// ProviderType identifies the aggregator a bank is reached through
type ProviderType string

const (
	ProviderOpenBanking ProviderType = "open_banking"
	ProviderMonzo       ProviderType = "monzo"
)

// RequiresConsent reports whether banks of this provider need an active
// requisition before account data becomes accessible.
func (p ProviderType) RequiresConsent() bool {
	return p == ProviderOpenBanking
}

// Bank represents a connected financial institution
type Bank struct {
	ID                  int64        `json:"id"`
	Name                string       `json:"name"`
	ExternalID          string       `json:"external_id"` // Provider-assigned, globally unique
	ProviderType        ProviderType `json:"provider_type"`
	ActiveRequisitionID *string      `json:"active_requisition_id,omitempty"` // Current consent session, nil when never linked
	ActivationEmailSent bool         `json:"activation_email_sent"`           // Guards against duplicate notifications per requisition
}

// ErrBankNotFound indicates a lookup by name matched no bank
type ErrBankNotFound struct {
	Name string
}

func (e ErrBankNotFound) Error() string {
	return "bank not found: " + e.Name
}

// ErrDuplicateExternalID indicates the external id uniqueness constraint fired
type ErrDuplicateExternalID struct {
	ExternalID string
}

func (e ErrDuplicateExternalID) Error() string {
	return "bank with external ID already exists: " + e.ExternalID
}
