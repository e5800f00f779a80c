package impl

import (
	"net/mail"
	"regexp"
	"unicode"

	"github.com/corpusvault/corpusvault/models"
	"github.com/corpusvault/corpusvault/services"
)

var verificationTokenPattern = regexp.MustCompile(`^[0-9a-f]{64}$`)

// ValidatePassword enforces the signup password rules: min 8 chars, at least
// one upper, one lower, one digit and one symbol. Returns the full list of
// violations for the errors[] response array.
func ValidatePassword(password string) []string {
	var violations []string

	if len(password) < 8 {
		violations = append(violations, "password must be at least 8 characters")
	}

	var hasUpper, hasLower, hasDigit, hasSymbol bool
	for _, r := range password {
		switch {
		case unicode.IsUpper(r):
			hasUpper = true
		case unicode.IsLower(r):
			hasLower = true
		case unicode.IsDigit(r):
			hasDigit = true
		case unicode.IsPunct(r) || unicode.IsSymbol(r):
			hasSymbol = true
		}
	}

	if !hasUpper {
		violations = append(violations, "password must contain an uppercase letter")
	}
	if !hasLower {
		violations = append(violations, "password must contain a lowercase letter")
	}
	if !hasDigit {
		violations = append(violations, "password must contain a digit")
	}
	if !hasSymbol {
		violations = append(violations, "password must contain a symbol")
	}

	return violations
}

// ValidateEmail checks RFC 5322 address syntax.
func ValidateEmail(email string) bool {
	addr, err := mail.ParseAddress(email)
	return err == nil && addr.Address == email
}

// ValidateVerificationToken checks the 64-hex token format before any
// database lookup.
func ValidateVerificationToken(token string) bool {
	return verificationTokenPattern.MatchString(token)
}

// ValidateSearchParams normalizes and bounds-checks the search surface
// shared by REST and MCP.
func ValidateSearchParams(params *services.SearchParams) *models.APIError {
	if params.Query == "" {
		return models.NewValidationError("query is required")
	}
	if params.Limit <= 0 {
		params.Limit = 10
	}
	if params.Limit > 50 {
		params.Limit = 50
	}
	if params.MinScore < 0 || params.MinScore > 1 {
		return models.NewValidationError("min_score must be between 0 and 1")
	}
	if params.ContextChunks < 0 {
		params.ContextChunks = 0
	}
	if params.ContextChunks > 3 {
		params.ContextChunks = 3
	}
	return nil
}
