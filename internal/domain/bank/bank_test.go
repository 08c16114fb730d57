package bank

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestProviderType_RequiresConsent(t *testing.T) {
	assert.True(t, ProviderOpenBanking.RequiresConsent())
	assert.False(t, ProviderMonzo.RequiresConsent())
	assert.False(t, ProviderType("cash").RequiresConsent())
}

func TestErrorMessages(t *testing.T) {
	assert.Equal(t, "bank not found: Acme Bank", ErrBankNotFound{Name: "Acme Bank"}.Error())
	assert.Equal(t, "bank with external ID already exists: ACME_GB", ErrDuplicateExternalID{ExternalID: "ACME_GB"}.Error())
}
