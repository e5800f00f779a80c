package services

import (
	"context"

	"github.com/google/uuid"

	"github.com/corpusvault/corpusvault/models"
)

// CustomerService owns the tenant lifecycle: signup, email verification,
// login, profile and API-key management.
type CustomerService interface {
	Signup(ctx context.Context, req models.SignupRequest, issuerIP, issuerAgent string) (*models.Customer, error)
	Login(ctx context.Context, req models.LoginRequest) (*models.LoginResponse, error)

	VerifyEmail(ctx context.Context, token string) error
	ResendVerification(ctx context.Context, email, issuerIP, issuerAgent string) error

	GetCustomer(ctx context.Context, id uuid.UUID) (*models.Customer, error)
	GetCustomerByAPIKey(ctx context.Context, apiKey string) (*models.Customer, error)
	GetConfig(ctx context.Context, customerID uuid.UUID) (*models.CustomerConfig, error)

	// Embedder key management. The key is AEAD-encrypted at rest and never
	// returned after it is set.
	SetEmbedderKey(ctx context.Context, customerID uuid.UUID, apiKey string) error
	RemoveEmbedderKey(ctx context.Context, customerID uuid.UUID) error
	GetEmbedderKeyStatus(ctx context.Context, customerID uuid.UUID) (*models.EmbedderKeyStatus, error)
	// GetEmbedderKey decrypts the customer key, or returns "" when unset so
	// callers fall back to the platform key.
	GetEmbedderKey(ctx context.Context, customerID uuid.UUID) (string, error)

	RegenerateAPIKey(ctx context.Context, customerID uuid.UUID) (string, error)
}

// TokenService issues and verifies per-customer JWT pairs. Every customer has
// independent access and refresh signing secrets, so verification always
// loads the tenant's secret by the unverified sub claim first.
type TokenService interface {
	IssuePair(ctx context.Context, customer *models.Customer) (*models.TokenPair, error)

	// VerifyAccessToken returns the customer the token was signed for, or an
	// auth error for any signature, expiry or tenant-mismatch failure.
	VerifyAccessToken(ctx context.Context, token string) (*models.Customer, error)

	// Refresh rotates the presented refresh token: the stored hash row is
	// revoked and a fresh pair is issued in one transaction.
	Refresh(ctx context.Context, refreshToken string) (*models.TokenPair, error)

	RevokeOne(ctx context.Context, refreshToken string) error
	RevokeAll(ctx context.Context, customerID uuid.UUID) error

	// SweepExpired deletes refresh rows whose expiry has passed.
	SweepExpired(ctx context.Context) (int64, error)
}

// EmailSender is the opaque transactional-email sink. Send failures never
// fail the user action that triggered them.
type EmailSender interface {
	SendVerification(ctx context.Context, to, verifyURL string) error
}
