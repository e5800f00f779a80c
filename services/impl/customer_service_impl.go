package impl

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/corpusvault/corpusvault/config"
	"github.com/corpusvault/corpusvault/crypto"
	"github.com/corpusvault/corpusvault/models"
	"github.com/corpusvault/corpusvault/services"
)

const (
	jwtSecretBytes = 64
	apiKeyBytes    = 32
	verifyTokBytes = 32
)

type customerServiceImpl struct {
	db     *gorm.DB
	box    *crypto.Box
	email  services.EmailSender
	tokens services.TokenService
	cfg    *config.Config
}

func NewCustomerService(db *gorm.DB, box *crypto.Box, email services.EmailSender, tokens services.TokenService, cfg *config.Config) services.CustomerService {
	return &customerServiceImpl{
		db:     db,
		box:    box,
		email:  email,
		tokens: tokens,
		cfg:    cfg,
	}
}

func (s *customerServiceImpl) Signup(ctx context.Context, req models.SignupRequest, issuerIP, issuerAgent string) (*models.Customer, error) {
	email := strings.ToLower(strings.TrimSpace(req.Email))
	if !ValidateEmail(email) {
		return nil, models.NewValidationError("invalid email address")
	}
	if violations := ValidatePassword(req.Password); len(violations) > 0 {
		return nil, models.NewValidationError("password does not meet requirements", violations...)
	}

	passwordHash, err := crypto.HashPassword(req.Password, s.cfg.Auth.BcryptCost)
	if err != nil {
		return nil, models.NewInternalError(fmt.Errorf("failed to hash password: %w", err))
	}

	accessSecret, err := crypto.GenerateSecret(jwtSecretBytes)
	if err != nil {
		return nil, models.NewInternalError(err)
	}
	refreshSecret, err := crypto.GenerateSecret(jwtSecretBytes)
	if err != nil {
		return nil, models.NewInternalError(err)
	}
	accessEnc, err := s.box.Encrypt(accessSecret)
	if err != nil {
		return nil, models.NewInternalError(err)
	}
	refreshEnc, err := s.box.Encrypt(refreshSecret)
	if err != nil {
		return nil, models.NewInternalError(err)
	}
	apiKey, err := crypto.GenerateToken(apiKeyBytes)
	if err != nil {
		return nil, models.NewInternalError(err)
	}
	verifyToken, err := crypto.GenerateToken(verifyTokBytes)
	if err != nil {
		return nil, models.NewInternalError(err)
	}

	customer := &models.Customer{
		ID:                        uuid.New(),
		Email:                     email,
		PasswordHash:              passwordHash,
		CompanyName:               strings.TrimSpace(req.CompanyName),
		JWTSecretEncrypted:        accessEnc,
		JWTRefreshSecretEncrypted: refreshEnc,
		APIKey:                    apiKey,
		Status:                    models.CustomerStatusPendingVerification,
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&models.Customer{}).
			Where("email = ? AND deleted_at IS NULL", email).
			Count(&count).Error; err != nil {
			return fmt.Errorf("failed to check existing email: %w", err)
		}
		if count > 0 {
			return models.NewConflictError("An account with this email already exists")
		}

		if err := tx.Create(customer).Error; err != nil {
			// The partial unique index on email catches signups that raced
			// past the count above.
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				return models.NewConflictError("An account with this email already exists")
			}
			return fmt.Errorf("failed to create customer: %w", err)
		}

		cfg := &models.CustomerConfig{
			CustomerID:         customer.ID,
			RateLimitPerMinute: s.cfg.Limits.RateLimitPerMinute,
			RateLimitPerDay:    s.cfg.Limits.RateLimitPerDay,
			MaxDocuments:       s.cfg.Limits.MaxDocuments,
			MaxFileSizeMB:      s.cfg.Limits.MaxFileSizeMB,
			ChunkSize:          1000,
			ChunkOverlap:       200,
			EmbeddingModel:     s.cfg.Embedder.DefaultModel,
			MonthlyBudgetUSD:   100,
		}
		if err := tx.Create(cfg).Error; err != nil {
			return fmt.Errorf("failed to create customer config: %w", err)
		}
		customer.Config = cfg

		verification := &models.EmailVerification{
			ID:          uuid.New(),
			CustomerID:  customer.ID,
			Token:       verifyToken,
			ExpiresAt:   time.Now().Add(s.cfg.Auth.VerificationTokenTTL),
			IssuerIP:    issuerIP,
			IssuerAgent: issuerAgent,
		}
		if err := tx.Create(verification).Error; err != nil {
			return fmt.Errorf("failed to create email verification: %w", err)
		}

		return nil
	})
	if err != nil {
		var apiErr *models.APIError
		if errors.As(err, &apiErr) {
			return nil, apiErr
		}
		return nil, models.NewInternalError(err)
	}

	// Email delivery is best effort; the verification token stays valid and
	// can be resent.
	verifyURL := fmt.Sprintf("%s/verify-email?token=%s", strings.TrimRight(s.cfg.Auth.FrontendURL, "/"), verifyToken)
	if err := s.email.SendVerification(ctx, customer.Email, verifyURL); err != nil {
		log.Printf("Failed to send verification email to %s: %v", customer.Email, err)
	}

	return customer, nil
}

func (s *customerServiceImpl) Login(ctx context.Context, req models.LoginRequest) (*models.LoginResponse, error) {
	email := strings.ToLower(strings.TrimSpace(req.Email))

	var customer models.Customer
	if err := s.db.WithContext(ctx).
		Preload("Config").
		Where("email = ? AND deleted_at IS NULL", email).
		First(&customer).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, models.NewAuthError("Invalid email or password")
		}
		return nil, models.NewInternalError(fmt.Errorf("failed to load customer: %w", err))
	}

	if err := loginGuard(&customer, req.Password); err != nil {
		return nil, err
	}

	pair, err := s.tokens.IssuePair(ctx, &customer)
	if err != nil {
		return nil, err
	}

	return &models.LoginResponse{
		Customer:     &customer,
		AccessToken:  pair.AccessToken,
		RefreshToken: pair.RefreshToken,
		ExpiresIn:    pair.ExpiresIn,
	}, nil
}

// loginGuard runs the post-lookup login checks in order: verified first,
// active second, password last.
func loginGuard(customer *models.Customer, password string) error {
	if !customer.EmailVerified {
		return models.NewForbiddenError("Email address not verified")
	}
	if customer.Status != models.CustomerStatusActive {
		return models.NewForbiddenError("Account is not active")
	}
	if !crypto.VerifyPassword(password, customer.PasswordHash) {
		return models.NewAuthError("Invalid email or password")
	}
	return nil
}

func (s *customerServiceImpl) VerifyEmail(ctx context.Context, token string) error {
	if !ValidateVerificationToken(token) {
		return models.NewValidationError("invalid verification token")
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var verification models.EmailVerification
		if err := tx.Where("token = ?", token).First(&verification).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return models.NewNotFoundError("Verification token not found")
			}
			return fmt.Errorf("failed to load verification: %w", err)
		}

		var customer models.Customer
		if err := tx.Where("id = ? AND deleted_at IS NULL", verification.CustomerID).
			First(&customer).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return models.NewNotFoundError("Verification token not found")
			}
			return fmt.Errorf("failed to load customer: %w", err)
		}

		now := time.Now()
		proceed, err := verifyOutcome(&verification, customer.EmailVerified, now)
		if err != nil {
			return err
		}
		if !proceed {
			return nil
		}

		if err := tx.Model(&verification).Update("verified_at", now).Error; err != nil {
			return fmt.Errorf("failed to mark verification: %w", err)
		}

		if err := tx.Model(&models.Customer{}).
			Where("id = ? AND deleted_at IS NULL", verification.CustomerID).
			Updates(map[string]interface{}{
				"email_verified": true,
				"status":         models.CustomerStatusActive,
			}).Error; err != nil {
			return fmt.Errorf("failed to activate customer: %w", err)
		}

		return nil
	})
	if err != nil {
		var apiErr *models.APIError
		if errors.As(err, &apiErr) {
			return apiErr
		}
		return models.NewInternalError(err)
	}
	return nil
}

// verifyOutcome decides whether a verification attempt is a no-op success
// (token already used, or the tenant verified through another token), an
// expiry failure, or should proceed to activate the tenant.
func verifyOutcome(v *models.EmailVerification, customerVerified bool, now time.Time) (bool, error) {
	if v.VerifiedAt != nil || customerVerified {
		return false, nil
	}
	if now.After(v.ExpiresAt) {
		return false, models.NewValidationError("verification token has expired")
	}
	return true, nil
}

func (s *customerServiceImpl) ResendVerification(ctx context.Context, email, issuerIP, issuerAgent string) error {
	email = strings.ToLower(strings.TrimSpace(email))

	var customer models.Customer
	if err := s.db.WithContext(ctx).
		Where("email = ? AND deleted_at IS NULL", email).
		First(&customer).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			// Do not leak account existence; the caller sees success either way.
			return nil
		}
		return models.NewInternalError(fmt.Errorf("failed to load customer: %w", err))
	}

	if customer.EmailVerified {
		return nil
	}

	now := time.Now()
	var attempts []time.Time
	if err := s.db.WithContext(ctx).
		Model(&models.EmailVerification{}).
		Where("customer_id = ? AND created_at > ?", customer.ID, now.Add(-time.Hour)).
		Order("created_at ASC").
		Pluck("created_at", &attempts).Error; err != nil {
		return models.NewInternalError(fmt.Errorf("failed to load recent verifications: %w", err))
	}
	if len(attempts) >= s.cfg.Auth.EmailResendPerHour {
		return models.NewRateLimitedError("Too many verification emails requested, try again later",
			resendRetryAfter(attempts[0], now))
	}

	token, err := crypto.GenerateToken(verifyTokBytes)
	if err != nil {
		return models.NewInternalError(err)
	}

	verification := &models.EmailVerification{
		ID:          uuid.New(),
		CustomerID:  customer.ID,
		Token:       token,
		ExpiresAt:   time.Now().Add(s.cfg.Auth.VerificationTokenTTL),
		IssuerIP:    issuerIP,
		IssuerAgent: issuerAgent,
	}
	if err := s.db.WithContext(ctx).Create(verification).Error; err != nil {
		return models.NewInternalError(fmt.Errorf("failed to create verification: %w", err))
	}

	verifyURL := fmt.Sprintf("%s/verify-email?token=%s", strings.TrimRight(s.cfg.Auth.FrontendURL, "/"), token)
	if err := s.email.SendVerification(ctx, customer.Email, verifyURL); err != nil {
		log.Printf("Failed to send verification email to %s: %v", customer.Email, err)
	}

	return nil
}

// resendRetryAfter is the number of seconds until the oldest attempt inside
// the rolling hour ages out and frees a slot.
func resendRetryAfter(oldest, now time.Time) int {
	retry := int(oldest.Add(time.Hour).Sub(now).Seconds())
	if retry < 1 {
		retry = 1
	}
	return retry
}

func (s *customerServiceImpl) GetCustomer(ctx context.Context, id uuid.UUID) (*models.Customer, error) {
	var customer models.Customer
	if err := s.db.WithContext(ctx).
		Preload("Config").
		Where("id = ? AND deleted_at IS NULL", id).
		First(&customer).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, models.NewNotFoundError("Customer not found")
		}
		return nil, models.NewInternalError(fmt.Errorf("failed to load customer: %w", err))
	}
	return &customer, nil
}

func (s *customerServiceImpl) GetCustomerByAPIKey(ctx context.Context, apiKey string) (*models.Customer, error) {
	if apiKey == "" {
		return nil, models.NewAuthError("API key required")
	}

	var customer models.Customer
	if err := s.db.WithContext(ctx).
		Preload("Config").
		Where("api_key = ? AND deleted_at IS NULL", apiKey).
		First(&customer).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, models.NewAuthError("Invalid API key")
		}
		return nil, models.NewInternalError(fmt.Errorf("failed to load customer: %w", err))
	}

	if customer.Status != models.CustomerStatusActive {
		return nil, models.NewForbiddenError("Account is not active")
	}

	return &customer, nil
}

func (s *customerServiceImpl) GetConfig(ctx context.Context, customerID uuid.UUID) (*models.CustomerConfig, error) {
	var cfg models.CustomerConfig
	if err := s.db.WithContext(ctx).
		Where("customer_id = ?", customerID).
		First(&cfg).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, models.NewNotFoundError("Customer config not found")
		}
		return nil, models.NewInternalError(fmt.Errorf("failed to load config: %w", err))
	}
	return &cfg, nil
}

func (s *customerServiceImpl) SetEmbedderKey(ctx context.Context, customerID uuid.UUID, apiKey string) error {
	apiKey = strings.TrimSpace(apiKey)
	if apiKey == "" {
		return models.NewValidationError("api key is required")
	}

	encrypted, err := s.box.Encrypt([]byte(apiKey))
	if err != nil {
		return models.NewInternalError(err)
	}

	result := s.db.WithContext(ctx).
		Model(&models.Customer{}).
		Where("id = ? AND deleted_at IS NULL", customerID).
		Update("embedder_key_encrypted", encrypted)
	if result.Error != nil {
		return models.NewInternalError(fmt.Errorf("failed to store embedder key: %w", result.Error))
	}
	if result.RowsAffected == 0 {
		return models.NewNotFoundError("Customer not found")
	}
	return nil
}

func (s *customerServiceImpl) RemoveEmbedderKey(ctx context.Context, customerID uuid.UUID) error {
	result := s.db.WithContext(ctx).
		Model(&models.Customer{}).
		Where("id = ? AND deleted_at IS NULL", customerID).
		Update("embedder_key_encrypted", "")
	if result.Error != nil {
		return models.NewInternalError(fmt.Errorf("failed to remove embedder key: %w", result.Error))
	}
	if result.RowsAffected == 0 {
		return models.NewNotFoundError("Customer not found")
	}
	return nil
}

func (s *customerServiceImpl) GetEmbedderKeyStatus(ctx context.Context, customerID uuid.UUID) (*models.EmbedderKeyStatus, error) {
	key, err := s.GetEmbedderKey(ctx, customerID)
	if err != nil {
		return nil, err
	}
	if key == "" {
		return &models.EmbedderKeyStatus{Configured: false}, nil
	}

	lastFour := key
	if len(lastFour) > 4 {
		lastFour = lastFour[len(lastFour)-4:]
	}
	return &models.EmbedderKeyStatus{Configured: true, LastFour: lastFour}, nil
}

func (s *customerServiceImpl) GetEmbedderKey(ctx context.Context, customerID uuid.UUID) (string, error) {
	customer, err := s.GetCustomer(ctx, customerID)
	if err != nil {
		return "", err
	}
	if customer.EmbedderKeyEncrypted == "" {
		return "", nil
	}

	key, err := s.box.Decrypt(customer.EmbedderKeyEncrypted)
	if err != nil {
		return "", models.NewInternalError(fmt.Errorf("failed to decrypt embedder key: %w", err))
	}
	return string(key), nil
}

func (s *customerServiceImpl) RegenerateAPIKey(ctx context.Context, customerID uuid.UUID) (string, error) {
	apiKey, err := crypto.GenerateToken(apiKeyBytes)
	if err != nil {
		return "", models.NewInternalError(err)
	}

	result := s.db.WithContext(ctx).
		Model(&models.Customer{}).
		Where("id = ? AND deleted_at IS NULL", customerID).
		Update("api_key", apiKey)
	if result.Error != nil {
		return "", models.NewInternalError(fmt.Errorf("failed to rotate api key: %w", result.Error))
	}
	if result.RowsAffected == 0 {
		return "", models.NewNotFoundError("Customer not found")
	}
	return apiKey, nil
}
