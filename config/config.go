package config

import (
	"encoding/hex"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Server   ServerConfig   `json:"server"`
	Database DatabaseConfig `json:"database"`
	Redis    RedisConfig    `json:"redis"`
	Blob     BlobConfig     `json:"blob"`
	Auth     AuthConfig     `json:"auth"`
	Limits   LimitsConfig   `json:"limits"`
	Embedder EmbedderConfig `json:"embedder"`
	Worker   WorkerConfig   `json:"worker"`
	Email    EmailConfig    `json:"email"`
}

type ServerConfig struct {
	Host           string   `json:"host"`
	Port           int      `json:"port"`
	ReadTimeout    int      `json:"read_timeout"`
	WriteTimeout   int      `json:"write_timeout"`
	IdleTimeout    int      `json:"idle_timeout"`
	AllowedOrigins []string `json:"allowed_origins"`
}

type DatabaseConfig struct {
	Host         string `json:"host"`
	Port         int    `json:"port"`
	User         string `json:"user"`
	Password     string `json:"password"`
	Name         string `json:"name"`
	SSLMode      string `json:"ssl_mode"`
	MaxOpenConns int    `json:"max_open_conns"`
	MaxIdleConns int    `json:"max_idle_conns"`
	MaxLifetime  int    `json:"max_lifetime"`
}

type RedisConfig struct {
	Host     string `json:"host"`
	Port     int    `json:"port"`
	Password string `json:"password"`
	DB       int    `json:"db"`
	// TTL for cached usage summaries in seconds
	UsageCacheTTL int `json:"usage_cache_ttl"`
}

// BlobConfig holds configuration for the S3-compatible object store
type BlobConfig struct {
	Endpoint       string `json:"endpoint"`
	Region         string `json:"region"`
	AccessKey      string `json:"access_key"`
	SecretKey      string `json:"secret_key"`
	Bucket         string `json:"bucket"`
	UseSSL         bool   `json:"use_ssl"`
	ForcePathStyle bool   `json:"force_path_style"`
}

type AuthConfig struct {
	// MasterKey is the 32-byte hex AEAD key protecting per-customer secrets
	MasterKey            string        `json:"-"`
	AccessTokenTTL       time.Duration `json:"access_token_ttl"`
	RefreshTokenTTL      time.Duration `json:"refresh_token_ttl"`
	BcryptCost           int           `json:"bcrypt_cost"`
	EmailResendPerHour   int           `json:"email_resend_per_hour"`
	VerificationTokenTTL time.Duration `json:"verification_token_ttl"`
	FrontendURL          string        `json:"frontend_url"`
}

type LimitsConfig struct {
	RateLimitPerMinute int `json:"rate_limit_per_minute"`
	RateLimitPerDay    int `json:"rate_limit_per_day"`
	MaxDocuments       int `json:"max_documents"`
	MaxFileSizeMB      int `json:"max_file_size_mb"`
}

// EmbedderConfig holds configuration for the external embedding provider
type EmbedderConfig struct {
	BaseURL      string `json:"base_url"`
	APIKey       string `json:"api_key"`
	DefaultModel string `json:"default_model"`
	Timeout      int    `json:"timeout"`
	MaxBatchSize int    `json:"max_batch_size"`
}

type WorkerConfig struct {
	Concurrency int     `json:"concurrency"`
	JobsPerSec  float64 `json:"jobs_per_sec"`
	MaxAttempts int     `json:"max_attempts"`
}

type EmailConfig struct {
	FromAddress string `json:"from_address"`
}

func LoadConfig() (*Config, error) {
	config := &Config{
		Server: ServerConfig{
			Host:           getEnv("SERVER_HOST", "0.0.0.0"),
			Port:           getEnvAsInt("PORT", 8080),
			ReadTimeout:    getEnvAsInt("SERVER_READ_TIMEOUT", 30),
			WriteTimeout:   getEnvAsInt("SERVER_WRITE_TIMEOUT", 30),
			IdleTimeout:    getEnvAsInt("SERVER_IDLE_TIMEOUT", 60),
			AllowedOrigins: getEnvAsSlice("ALLOWED_ORIGINS", []string{"http://localhost:3000"}),
		},
		Database: DatabaseConfig{
			Host:         getEnv("DB_HOST", "localhost"),
			Port:         getEnvAsInt("DB_PORT", 5432),
			User:         getEnv("DB_USER", "corpusvault"),
			Password:     getEnv("DB_PASSWORD", ""),
			Name:         getEnv("DB_NAME", "corpusvault"),
			SSLMode:      getEnv("DB_SSL_MODE", "disable"),
			MaxOpenConns: getEnvAsInt("DB_MAX_OPEN_CONNS", 20),
			MaxIdleConns: getEnvAsInt("DB_MAX_IDLE_CONNS", 5),
			MaxLifetime:  getEnvAsInt("DB_MAX_LIFETIME", 300),
		},
		Redis: RedisConfig{
			Host:          getEnv("REDIS_HOST", "localhost"),
			Port:          getEnvAsInt("REDIS_PORT", 6379),
			Password:      getEnv("REDIS_PASSWORD", ""),
			DB:            getEnvAsInt("REDIS_DB", 0),
			UsageCacheTTL: getEnvAsInt("REDIS_USAGE_CACHE_TTL", 60),
		},
		Blob: BlobConfig{
			Endpoint:       getEnv("BLOB_ENDPOINT", "http://localhost:9000"),
			Region:         getEnv("BLOB_REGION", "us-east-1"),
			AccessKey:      getEnv("BLOB_ACCESS_KEY", ""),
			SecretKey:      getEnv("BLOB_SECRET_KEY", ""),
			Bucket:         getEnv("BLOB_BUCKET", "corpusvault-documents"),
			UseSSL:         getEnvAsBool("BLOB_USE_SSL", false),
			ForcePathStyle: getEnvAsBool("BLOB_FORCE_PATH_STYLE", true),
		},
		Auth: AuthConfig{
			MasterKey:            getEnv("MASTER_ENCRYPTION_KEY", ""),
			AccessTokenTTL:       getEnvAsDuration("ACCESS_TOKEN_TTL", 24*time.Hour),
			RefreshTokenTTL:      getEnvAsDuration("REFRESH_TOKEN_TTL", 7*24*time.Hour),
			BcryptCost:           getEnvAsInt("BCRYPT_COST", 12),
			EmailResendPerHour:   getEnvAsInt("EMAIL_RESEND_LIMIT_PER_HOUR", 3),
			VerificationTokenTTL: getEnvAsDuration("VERIFICATION_TOKEN_TTL", 24*time.Hour),
			FrontendURL:          getEnv("FRONTEND_URL", "http://localhost:3000"),
		},
		Limits: LimitsConfig{
			RateLimitPerMinute: getEnvAsInt("DEFAULT_RATE_LIMIT_PER_MINUTE", 60),
			RateLimitPerDay:    getEnvAsInt("DEFAULT_RATE_LIMIT_PER_DAY", 10000),
			MaxDocuments:       getEnvAsInt("DEFAULT_MAX_DOCUMENTS", 10000),
			MaxFileSizeMB:      getEnvAsInt("DEFAULT_MAX_FILE_SIZE_MB", 50),
		},
		Embedder: EmbedderConfig{
			BaseURL:      getEnv("EMBEDDER_BASE_URL", "https://api.openai.com/v1"),
			APIKey:       getEnv("EMBEDDER_API_KEY", ""),
			DefaultModel: getEnv("EMBEDDER_DEFAULT_MODEL", "text-embedding-3-small"),
			Timeout:      getEnvAsInt("EMBEDDER_TIMEOUT", 30),
			MaxBatchSize: getEnvAsInt("EMBEDDER_MAX_BATCH_SIZE", 256),
		},
		Worker: WorkerConfig{
			Concurrency: getEnvAsInt("WORKER_CONCURRENCY", 5),
			JobsPerSec:  float64(getEnvAsInt("WORKER_JOBS_PER_SEC", 10)),
			MaxAttempts: getEnvAsInt("WORKER_MAX_ATTEMPTS", 3),
		},
		Email: EmailConfig{
			FromAddress: getEnv("EMAIL_FROM_ADDRESS", "no-reply@corpusvault.io"),
		},
	}

	if err := validateConfig(config); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return config, nil
}

func (c *Config) GetDatabaseDSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Database.Host,
		c.Database.Port,
		c.Database.User,
		c.Database.Password,
		c.Database.Name,
		c.Database.SSLMode,
	)
}

func (c *Config) GetServerAddress() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

func (c *Config) GetRedisAddress() string {
	return fmt.Sprintf("%s:%d", c.Redis.Host, c.Redis.Port)
}

// MasterKeyBytes decodes the AEAD master key. validateConfig has already
// checked the length and encoding.
func (c *Config) MasterKeyBytes() []byte {
	key, _ := hex.DecodeString(c.Auth.MasterKey)
	return key
}

func validateConfig(config *Config) error {
	if config.Database.Password == "" {
		return fmt.Errorf("database password is required (DB_PASSWORD)")
	}

	key, err := hex.DecodeString(config.Auth.MasterKey)
	if err != nil {
		return fmt.Errorf("master encryption key must be hex (MASTER_ENCRYPTION_KEY)")
	}
	if len(key) != 32 {
		return fmt.Errorf("master encryption key must be 32 bytes, got %d (MASTER_ENCRYPTION_KEY)", len(key))
	}

	if config.Limits.MaxFileSizeMB < 1 {
		return fmt.Errorf("max file size must be at least 1 MB (DEFAULT_MAX_FILE_SIZE_MB)")
	}

	if config.Worker.Concurrency < 1 {
		return fmt.Errorf("worker concurrency must be at least 1 (WORKER_CONCURRENCY)")
	}

	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func getEnvAsSlice(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		return strings.Split(value, ",")
	}
	return defaultValue
}
