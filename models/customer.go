package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

type CustomerStatus string

const (
	CustomerStatusPendingVerification CustomerStatus = "pending_verification"
	CustomerStatusActive              CustomerStatus = "active"
	CustomerStatusSuspended           CustomerStatus = "suspended"
	CustomerStatusDeleted             CustomerStatus = "deleted"
)

type Customer struct {
	ID           uuid.UUID `json:"id" gorm:"type:uuid;primary_key;default:gen_random_uuid()"`
	Email        string    `json:"email" gorm:"type:varchar(255);not null;index"`
	PasswordHash string    `json:"-" gorm:"type:varchar(255);not null"`
	CompanyName  string    `json:"company_name,omitempty" gorm:"type:varchar(255)"`

	// AEAD-encrypted secret material, never stored plaintext
	JWTSecretEncrypted        string `json:"-" gorm:"type:text;not null"`
	JWTRefreshSecretEncrypted string `json:"-" gorm:"type:text;not null"`
	EmbedderKeyEncrypted      string `json:"-" gorm:"type:text"`

	// Opaque API key for MCP clients (random 32-byte hex)
	APIKey string `json:"-" gorm:"type:varchar(64);not null;uniqueIndex"`

	Status        CustomerStatus `json:"status" gorm:"type:varchar(50);not null;default:'pending_verification'"`
	EmailVerified bool           `json:"email_verified" gorm:"default:false"`

	Config *CustomerConfig `json:"config,omitempty" gorm:"foreignKey:CustomerID"`

	CreatedAt time.Time  `json:"created_at" gorm:"not null;default:now()"`
	UpdatedAt time.Time  `json:"updated_at" gorm:"not null;default:now()"`
	DeletedAt *time.Time `json:"deleted_at,omitempty" gorm:"index"`
}

func (Customer) TableName() string {
	return "customers"
}

type CustomerConfig struct {
	CustomerID uuid.UUID `json:"customer_id" gorm:"type:uuid;primary_key"`

	RateLimitPerMinute int `json:"rate_limit_per_minute" gorm:"default:60"`
	RateLimitPerDay    int `json:"rate_limit_per_day" gorm:"default:10000"`

	MaxDocuments    int            `json:"max_documents" gorm:"default:10000"`
	MaxFileSizeMB   int            `json:"max_file_size_mb" gorm:"default:50"`
	AllowedDocTypes datatypes.JSON `json:"allowed_doc_types" gorm:"type:jsonb;default:'[\"pdf\",\"txt\",\"html\",\"md\"]'"`

	ChunkSize    int `json:"chunk_size" gorm:"default:1000"`
	ChunkOverlap int `json:"chunk_overlap" gorm:"default:200"`

	EmbeddingModel   string  `json:"embedding_model" gorm:"type:varchar(100);default:'text-embedding-3-small'"`
	MonthlyBudgetUSD float64 `json:"monthly_budget_usd" gorm:"type:decimal(10,2);default:100"`

	CreatedAt time.Time `json:"created_at" gorm:"not null;default:now()"`
	UpdatedAt time.Time `json:"updated_at" gorm:"not null;default:now()"`
}

func (CustomerConfig) TableName() string {
	return "customer_config"
}

// RefreshToken stores only the sha256 hash of the issued token.
type RefreshToken struct {
	ID         uuid.UUID `json:"id" gorm:"type:uuid;primary_key;default:gen_random_uuid()"`
	CustomerID uuid.UUID `json:"customer_id" gorm:"type:uuid;not null;index"`
	TokenHash  string    `json:"-" gorm:"type:varchar(64);not null;uniqueIndex"`
	ExpiresAt  time.Time `json:"expires_at" gorm:"not null;index"`
	Revoked    bool      `json:"revoked" gorm:"default:false"`
	CreatedAt  time.Time `json:"created_at" gorm:"not null;default:now()"`
}

func (RefreshToken) TableName() string {
	return "refresh_tokens"
}

type EmailVerification struct {
	ID          uuid.UUID  `json:"id" gorm:"type:uuid;primary_key;default:gen_random_uuid()"`
	CustomerID  uuid.UUID  `json:"customer_id" gorm:"type:uuid;not null;index"`
	Token       string     `json:"-" gorm:"type:varchar(64);not null;uniqueIndex"`
	ExpiresAt   time.Time  `json:"expires_at" gorm:"not null"`
	VerifiedAt  *time.Time `json:"verified_at,omitempty"`
	IssuerIP    string     `json:"issuer_ip,omitempty" gorm:"type:varchar(64)"`
	IssuerAgent string     `json:"issuer_agent,omitempty" gorm:"type:varchar(255)"`
	CreatedAt   time.Time  `json:"created_at" gorm:"not null;default:now()"`
}

func (EmailVerification) TableName() string {
	return "email_verifications"
}

type SignupRequest struct {
	Email       string `json:"email" binding:"required,email"`
	Password    string `json:"password" binding:"required"`
	CompanyName string `json:"company_name"`
}

type LoginRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required"`
}

type RefreshRequest struct {
	RefreshToken string `json:"refreshToken" binding:"required"`
}

type LogoutRequest struct {
	RefreshToken string `json:"refreshToken" binding:"required"`
}

type ResendVerificationRequest struct {
	Email string `json:"email" binding:"required,email"`
}

// TokenPair is the issued access/refresh pair.
type TokenPair struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
	// ExpiresIn is the access token lifetime in seconds
	ExpiresIn int `json:"expiresIn"`
}

type LoginResponse struct {
	Customer     *Customer `json:"customer"`
	AccessToken  string    `json:"accessToken"`
	RefreshToken string    `json:"refreshToken"`
	ExpiresIn    int       `json:"expiresIn"`
}

type SignupResponse struct {
	Customer *Customer `json:"customer"`
	Message  string    `json:"message"`
}

// EmbedderKeyStatus reports whether a customer has a private embedder key
// without exposing it.
type EmbedderKeyStatus struct {
	Configured bool   `json:"configured"`
	LastFour   string `json:"last_four,omitempty"`
}
