package impl

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/corpusvault/corpusvault/crypto"
	"github.com/corpusvault/corpusvault/models"
)

func activeCustomer(t *testing.T, password string) *models.Customer {
	hash, err := crypto.HashPassword(password, 4)
	require.NoError(t, err)
	return &models.Customer{
		ID:            uuid.New(),
		Email:         "tenant@example.com",
		PasswordHash:  hash,
		EmailVerified: true,
		Status:        models.CustomerStatusActive,
	}
}

func TestLoginGuard(t *testing.T) {
	customer := activeCustomer(t, "Abcd1234!")

	assert.NoError(t, loginGuard(customer, "Abcd1234!"))

	err := loginGuard(customer, "WrongPass1!")
	require.Error(t, err)
	apiErr := models.AsAPIError(err)
	assert.Equal(t, models.ErrAuth, apiErr.Kind)
}

func TestLoginGuard_Order(t *testing.T) {
	// Unverified wins over everything else, active over the password check.
	customer := activeCustomer(t, "Abcd1234!")
	customer.EmailVerified = false
	err := loginGuard(customer, "Abcd1234!")
	assert.Equal(t, models.ErrForbidden, models.AsAPIError(err).Kind)

	customer = activeCustomer(t, "Abcd1234!")
	customer.Status = models.CustomerStatusSuspended
	err = loginGuard(customer, "WrongPass1!")
	require.Error(t, err)
	apiErr := models.AsAPIError(err)
	assert.Equal(t, models.ErrForbidden, apiErr.Kind)
	assert.Equal(t, "Account is not active", apiErr.Message)
}

func TestSigningSecretSize(t *testing.T) {
	access, err := crypto.GenerateSecret(jwtSecretBytes)
	require.NoError(t, err)
	refresh, err := crypto.GenerateSecret(jwtSecretBytes)
	require.NoError(t, err)

	assert.Len(t, access, 64)
	assert.Len(t, refresh, 64)
	assert.NotEqual(t, access, refresh)
}

func TestResendRetryAfter(t *testing.T) {
	now := time.Now()

	// Oldest attempt 20 minutes ago leaves 40 minutes of the window.
	retry := resendRetryAfter(now.Add(-20*time.Minute), now)
	assert.InDelta(t, 40*60, retry, 1)

	// An attempt that already aged out still reports a positive wait.
	assert.Equal(t, 1, resendRetryAfter(now.Add(-2*time.Hour), now))
}

func TestVerifyOutcome(t *testing.T) {
	now := time.Now()
	used := now.Add(-time.Minute)

	fresh := &models.EmailVerification{ExpiresAt: now.Add(time.Hour)}
	proceed, err := verifyOutcome(fresh, false, now)
	require.NoError(t, err)
	assert.True(t, proceed)

	// Token already consumed: no-op success.
	consumed := &models.EmailVerification{ExpiresAt: now.Add(time.Hour), VerifiedAt: &used}
	proceed, err = verifyOutcome(consumed, false, now)
	require.NoError(t, err)
	assert.False(t, proceed)

	// Tenant verified through another token: even an expired spare token
	// succeeds as a no-op.
	spare := &models.EmailVerification{ExpiresAt: now.Add(-time.Hour)}
	proceed, err = verifyOutcome(spare, true, now)
	require.NoError(t, err)
	assert.False(t, proceed)

	// Expired and the tenant still unverified.
	proceed, err = verifyOutcome(spare, false, now)
	require.Error(t, err)
	assert.False(t, proceed)
	assert.Equal(t, models.ErrValidation, models.AsAPIError(err).Kind)
}
