package models

import (
	"database/sql/driver"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

type MetricType string

const (
	MetricAPICall           MetricType = "api_call"
	MetricEmbeddingTokens   MetricType = "embedding_tokens"
	MetricStorageBytes      MetricType = "storage_bytes"
	MetricDocumentProcessed MetricType = "document_processed"
	MetricSearchQuery       MetricType = "search_query"
)

type MetricMetadata map[string]any

func (m MetricMetadata) Value() (driver.Value, error) {
	return json.Marshal(m)
}

func (m *MetricMetadata) Scan(value interface{}) error {
	if value == nil {
		*m = make(MetricMetadata)
		return nil
	}

	bytes, ok := value.([]byte)
	if !ok {
		return json.Unmarshal([]byte(value.(string)), m)
	}

	return json.Unmarshal(bytes, m)
}

// UsageMetric is append-only.
type UsageMetric struct {
	ID         uuid.UUID  `json:"id" gorm:"type:uuid;primary_key;default:gen_random_uuid()"`
	CustomerID uuid.UUID  `json:"customer_id" gorm:"type:uuid;not null;index:idx_usage_customer_time"`
	DocumentID *uuid.UUID `json:"document_id,omitempty" gorm:"type:uuid;index"`

	Type     MetricType     `json:"type" gorm:"type:varchar(50);not null"`
	Value    float64        `json:"value" gorm:"not null"`
	CostUSD  float64        `json:"cost_usd" gorm:"type:decimal(10,6);default:0"`
	Metadata MetricMetadata `json:"metadata,omitempty" gorm:"type:jsonb;default:'{}'"`

	CreatedAt time.Time `json:"created_at" gorm:"not null;default:now();index:idx_usage_customer_time"`
}

func (UsageMetric) TableName() string {
	return "usage_metrics"
}

// RateLimitWindow is a minute-aligned request counter bucket. Write-heavy;
// rows older than 24h are pruned periodically.
type RateLimitWindow struct {
	ID         uuid.UUID `json:"id" gorm:"type:uuid;primary_key;default:gen_random_uuid()"`
	CustomerID uuid.UUID `json:"customer_id" gorm:"type:uuid;not null;uniqueIndex:idx_ratelimit_bucket"`
	Endpoint   string    `json:"endpoint" gorm:"type:varchar(255);not null;uniqueIndex:idx_ratelimit_bucket"`

	WindowStart  time.Time `json:"window_start" gorm:"not null;uniqueIndex:idx_ratelimit_bucket"`
	WindowEnd    time.Time `json:"window_end" gorm:"not null;index"`
	RequestCount int       `json:"request_count" gorm:"default:0"`
}

func (RateLimitWindow) TableName() string {
	return "rate_limit_tracker"
}

// UsageSummary aggregates metrics for the usage endpoint.
type UsageSummary struct {
	CustomerID uuid.UUID `json:"customer_id"`

	APICalls           int64   `json:"api_calls"`
	SearchQueries      int64   `json:"search_queries"`
	DocumentsProcessed int64   `json:"documents_processed"`
	EmbeddingTokens    int64   `json:"embedding_tokens"`
	StorageBytes       int64   `json:"storage_bytes"`
	TotalCostUSD       float64 `json:"total_cost_usd"`

	PeriodStart time.Time `json:"period_start"`
	PeriodEnd   time.Time `json:"period_end"`
}

// RateLimitDecision is the outcome of a rate-limit check, including header
// material for the response.
type RateLimitDecision struct {
	Allowed    bool  `json:"allowed"`
	Remaining  int   `json:"remaining"`
	ResetEpoch int64 `json:"reset_epoch"`
	RetryAfter int   `json:"retry_after"`
}
