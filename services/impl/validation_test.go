package impl

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/corpusvault/corpusvault/models"
	"github.com/corpusvault/corpusvault/services"
)

func TestValidatePassword(t *testing.T) {
	assert.Empty(t, ValidatePassword("Abcd1234!"))

	violations := ValidatePassword("short")
	assert.NotEmpty(t, violations)

	// Every missing class is reported, not just the first.
	violations = ValidatePassword("alllower")
	assert.Len(t, violations, 3)

	assert.NotEmpty(t, ValidatePassword("NoDigits!"))
	assert.NotEmpty(t, ValidatePassword("NoSymbol1"))
	assert.NotEmpty(t, ValidatePassword("nosymbol1!"))
}

func TestValidateEmail(t *testing.T) {
	assert.True(t, ValidateEmail("a@example.com"))
	assert.True(t, ValidateEmail("first.last+tag@sub.example.org"))

	assert.False(t, ValidateEmail(""))
	assert.False(t, ValidateEmail("not-an-email"))
	assert.False(t, ValidateEmail("A B <a@example.com>"))
}

func TestValidateVerificationToken(t *testing.T) {
	valid := "0123456789abcdef0123456789abcdef0123456789abcdef0123456789abcdef"
	assert.True(t, ValidateVerificationToken(valid))

	assert.False(t, ValidateVerificationToken(""))
	assert.False(t, ValidateVerificationToken("short"))
	assert.False(t, ValidateVerificationToken(valid[:63]+"G"))
	assert.False(t, ValidateVerificationToken(valid+"0"))
}

func TestValidateSearchParams(t *testing.T) {
	req := &services.SearchParams{Query: "hello"}
	require.Nil(t, ValidateSearchParams(req))
	assert.Equal(t, 10, req.Limit)

	req = &services.SearchParams{Query: "hello", Limit: 200, ContextChunks: 9}
	require.Nil(t, ValidateSearchParams(req))
	assert.Equal(t, 50, req.Limit)
	assert.Equal(t, 3, req.ContextChunks)

	err := ValidateSearchParams(&services.SearchParams{})
	require.NotNil(t, err)
	assert.Equal(t, models.ErrValidation, err.Kind)

	err = ValidateSearchParams(&services.SearchParams{Query: "q", MinScore: 1.5})
	require.NotNil(t, err)
}
