package impl

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func signTestToken(t *testing.T, secret []byte, sub uuid.UUID, email string, ttl time.Duration) string {
	claims := Claims{
		Email: email,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   sub.String(),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(ttl)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
	require.NoError(t, err)
	return signed
}

func TestExtractSubject(t *testing.T) {
	sub := uuid.New()
	token := signTestToken(t, []byte("secret"), sub, "a@x.com", time.Hour)

	got, err := extractSubject(token)
	require.NoError(t, err)
	assert.Equal(t, sub, got)
}

func TestExtractSubject_Malformed(t *testing.T) {
	_, err := extractSubject("not-a-token")
	assert.Error(t, err)

	_, err = extractSubject("a.b")
	assert.Error(t, err)

	_, err = extractSubject("a.!!!.c")
	assert.Error(t, err)
}

func TestVerifyWithSecret(t *testing.T) {
	secret := []byte("tenant-secret-material")
	sub := uuid.New()
	token := signTestToken(t, secret, sub, "a@x.com", time.Hour)

	claims, err := verifyWithSecret(token, secret, sub)
	require.NoError(t, err)
	assert.Equal(t, sub.String(), claims.Subject)
	assert.Equal(t, "a@x.com", claims.Email)
}

func TestVerifyWithSecret_WrongSecret(t *testing.T) {
	sub := uuid.New()
	token := signTestToken(t, []byte("tenant-a-secret"), sub, "a@x.com", time.Hour)

	_, err := verifyWithSecret(token, []byte("tenant-b-secret"), sub)
	assert.Error(t, err)
}

func TestVerifyWithSecret_Expired(t *testing.T) {
	secret := []byte("secret")
	sub := uuid.New()
	token := signTestToken(t, secret, sub, "a@x.com", -time.Minute)

	_, err := verifyWithSecret(token, secret, sub)
	assert.Error(t, err)
}

// A token signed for tenant A must not verify when checked against tenant
// B's identity, even if B's secret were somehow used with A's sub claim.
func TestVerifyWithSecret_SubjectMismatch(t *testing.T) {
	secret := []byte("shared-by-accident")
	tenantA := uuid.New()
	tenantB := uuid.New()
	token := signTestToken(t, secret, tenantA, "a@x.com", time.Hour)

	_, err := verifyWithSecret(token, secret, tenantB)
	assert.Error(t, err)
}
