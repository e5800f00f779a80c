package impl

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/corpusvault/corpusvault/crypto"
	"github.com/corpusvault/corpusvault/models"
	"github.com/corpusvault/corpusvault/services"
)

// Claims are the token claims issued for both access and refresh tokens.
type Claims struct {
	Email string `json:"email"`
	jwt.RegisteredClaims
}

type tokenServiceImpl struct {
	db         *gorm.DB
	box        *crypto.Box
	accessTTL  time.Duration
	refreshTTL time.Duration
}

func NewTokenService(db *gorm.DB, box *crypto.Box, accessTTL, refreshTTL time.Duration) services.TokenService {
	return &tokenServiceImpl{
		db:         db,
		box:        box,
		accessTTL:  accessTTL,
		refreshTTL: refreshTTL,
	}
}

func (s *tokenServiceImpl) IssuePair(ctx context.Context, customer *models.Customer) (*models.TokenPair, error) {
	accessSecret, err := s.box.Decrypt(customer.JWTSecretEncrypted)
	if err != nil {
		return nil, models.NewInternalError(fmt.Errorf("decrypt access secret: %w", err))
	}
	refreshSecret, err := s.box.Decrypt(customer.JWTRefreshSecretEncrypted)
	if err != nil {
		return nil, models.NewInternalError(fmt.Errorf("decrypt refresh secret: %w", err))
	}

	now := time.Now()

	accessToken, err := s.sign(customer, accessSecret, now, s.accessTTL)
	if err != nil {
		return nil, models.NewInternalError(err)
	}
	refreshToken, err := s.sign(customer, refreshSecret, now, s.refreshTTL)
	if err != nil {
		return nil, models.NewInternalError(err)
	}

	row := &models.RefreshToken{
		ID:         uuid.New(),
		CustomerID: customer.ID,
		TokenHash:  crypto.HashSHA256([]byte(refreshToken)),
		ExpiresAt:  now.Add(s.refreshTTL),
	}
	if err := s.db.WithContext(ctx).Create(row).Error; err != nil {
		return nil, models.NewInternalError(fmt.Errorf("failed to store refresh token: %w", err))
	}

	return &models.TokenPair{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		ExpiresIn:    int(s.accessTTL.Seconds()),
	}, nil
}

func (s *tokenServiceImpl) sign(customer *models.Customer, secret []byte, now time.Time, ttl time.Duration) (string, error) {
	claims := Claims{
		Email: customer.Email,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   customer.ID.String(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}

// extractSubject decodes the payload without verifying the signature. The
// sub claim only selects which tenant secret to verify against; nothing else
// from the unverified payload is trusted.
func extractSubject(tokenString string) (uuid.UUID, error) {
	parts := strings.Split(tokenString, ".")
	if len(parts) != 3 {
		return uuid.Nil, errors.New("malformed token")
	}

	payload, err := base64.RawURLEncoding.DecodeString(parts[1])
	if err != nil {
		return uuid.Nil, errors.New("malformed token payload")
	}

	var claims struct {
		Sub string `json:"sub"`
	}
	if err := json.Unmarshal(payload, &claims); err != nil {
		return uuid.Nil, errors.New("malformed token claims")
	}

	id, err := uuid.Parse(claims.Sub)
	if err != nil {
		return uuid.Nil, errors.New("malformed subject claim")
	}
	return id, nil
}

// verifyWithSecret parses and verifies a token against one tenant secret.
// The subject must match the tenant the secret belongs to, so a forged sub
// claim cannot borrow another tenant's signing material.
func verifyWithSecret(tokenString string, secret []byte, expectedSub uuid.UUID) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return secret, nil
	})
	if err != nil {
		return nil, err
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, errors.New("invalid token claims")
	}
	if claims.Subject != expectedSub.String() {
		return nil, errors.New("subject mismatch")
	}

	return claims, nil
}

func (s *tokenServiceImpl) VerifyAccessToken(ctx context.Context, tokenString string) (*models.Customer, error) {
	customer, secretBlob, err := s.loadTokenCustomer(ctx, tokenString, false)
	if err != nil {
		return nil, err
	}

	secret, err := s.box.Decrypt(secretBlob)
	if err != nil {
		return nil, models.NewInternalError(fmt.Errorf("decrypt access secret: %w", err))
	}

	if _, err := verifyWithSecret(tokenString, secret, customer.ID); err != nil {
		return nil, models.NewAuthError("Invalid or expired token")
	}

	return customer, nil
}

// loadTokenCustomer resolves the tenant named by the (unverified) sub claim
// and returns the relevant encrypted secret.
func (s *tokenServiceImpl) loadTokenCustomer(ctx context.Context, tokenString string, refresh bool) (*models.Customer, string, error) {
	sub, err := extractSubject(tokenString)
	if err != nil {
		return nil, "", models.NewAuthError("Invalid or expired token")
	}

	var customer models.Customer
	if err := s.db.WithContext(ctx).
		Where("id = ? AND deleted_at IS NULL", sub).
		First(&customer).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, "", models.NewAuthError("Invalid or expired token")
		}
		return nil, "", models.NewInternalError(fmt.Errorf("failed to load customer: %w", err))
	}

	if refresh {
		return &customer, customer.JWTRefreshSecretEncrypted, nil
	}
	return &customer, customer.JWTSecretEncrypted, nil
}

func (s *tokenServiceImpl) Refresh(ctx context.Context, refreshToken string) (*models.TokenPair, error) {
	customer, secretBlob, err := s.loadTokenCustomer(ctx, refreshToken, true)
	if err != nil {
		return nil, err
	}

	secret, err := s.box.Decrypt(secretBlob)
	if err != nil {
		return nil, models.NewInternalError(fmt.Errorf("decrypt refresh secret: %w", err))
	}

	if _, err := verifyWithSecret(refreshToken, secret, customer.ID); err != nil {
		return nil, models.NewAuthError("Invalid or expired refresh token")
	}

	accessSecret, err := s.box.Decrypt(customer.JWTSecretEncrypted)
	if err != nil {
		return nil, models.NewInternalError(fmt.Errorf("decrypt access secret: %w", err))
	}

	tokenHash := crypto.HashSHA256([]byte(refreshToken))
	now := time.Now()

	var pair *models.TokenPair
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// Row lock serializes concurrent refresh attempts with the same
		// token; the second caller sees revoked=true and is rejected.
		var row models.RefreshToken
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("token_hash = ? AND customer_id = ?", tokenHash, customer.ID).
			First(&row).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return models.NewAuthError("Invalid or expired refresh token")
			}
			return fmt.Errorf("failed to load refresh token: %w", err)
		}

		if row.Revoked || now.After(row.ExpiresAt) {
			return models.NewAuthError("Invalid or expired refresh token")
		}

		if err := tx.Model(&row).Update("revoked", true).Error; err != nil {
			return fmt.Errorf("failed to revoke refresh token: %w", err)
		}

		accessToken, err := s.sign(customer, accessSecret, now, s.accessTTL)
		if err != nil {
			return err
		}
		newRefresh, err := s.sign(customer, secret, now, s.refreshTTL)
		if err != nil {
			return err
		}

		newRow := &models.RefreshToken{
			ID:         uuid.New(),
			CustomerID: customer.ID,
			TokenHash:  crypto.HashSHA256([]byte(newRefresh)),
			ExpiresAt:  now.Add(s.refreshTTL),
		}
		if err := tx.Create(newRow).Error; err != nil {
			return fmt.Errorf("failed to store rotated refresh token: %w", err)
		}

		pair = &models.TokenPair{
			AccessToken:  accessToken,
			RefreshToken: newRefresh,
			ExpiresIn:    int(s.accessTTL.Seconds()),
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

	return pair, nil
}

func (s *tokenServiceImpl) RevokeOne(ctx context.Context, refreshToken string) error {
	tokenHash := crypto.HashSHA256([]byte(refreshToken))

	result := s.db.WithContext(ctx).
		Model(&models.RefreshToken{}).
		Where("token_hash = ?", tokenHash).
		Update("revoked", true)
	if result.Error != nil {
		return models.NewInternalError(fmt.Errorf("failed to revoke token: %w", result.Error))
	}
	return nil
}

func (s *tokenServiceImpl) RevokeAll(ctx context.Context, customerID uuid.UUID) error {
	result := s.db.WithContext(ctx).
		Model(&models.RefreshToken{}).
		Where("customer_id = ? AND revoked = false", customerID).
		Update("revoked", true)
	if result.Error != nil {
		return models.NewInternalError(fmt.Errorf("failed to revoke tokens: %w", result.Error))
	}
	return nil
}

func (s *tokenServiceImpl) SweepExpired(ctx context.Context) (int64, error) {
	result := s.db.WithContext(ctx).
		Where("expires_at < ?", time.Now()).
		Delete(&models.RefreshToken{})
	if result.Error != nil {
		return 0, fmt.Errorf("failed to sweep refresh tokens: %w", result.Error)
	}
	return result.RowsAffected, nil
}
