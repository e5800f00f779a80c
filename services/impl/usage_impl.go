package impl

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"github.com/corpusvault/corpusvault/models"
	"github.com/corpusvault/corpusvault/services"
)

type usageTrackerImpl struct {
	db       *gorm.DB
	rdb      *redis.Client
	cacheTTL time.Duration
}

// NewUsageTracker builds the metrics sink. Summaries are cached in redis for
// a short TTL since the usage endpoint aggregates a write-heavy table.
func NewUsageTracker(db *gorm.DB, rdb *redis.Client, cacheTTL time.Duration) services.UsageTracker {
	if cacheTTL <= 0 {
		cacheTTL = time.Minute
	}
	return &usageTrackerImpl{db: db, rdb: rdb, cacheTTL: cacheTTL}
}

func (u *usageTrackerImpl) Record(ctx context.Context, metric *models.UsageMetric) error {
	if metric.ID == uuid.Nil {
		metric.ID = uuid.New()
	}
	if err := u.db.WithContext(ctx).Create(metric).Error; err != nil {
		return fmt.Errorf("failed to record usage metric: %w", err)
	}
	return nil
}

func usageCacheKey(customerID uuid.UUID, from, to time.Time) string {
	return fmt.Sprintf("usage:summary:%s:%d:%d", customerID, from.Unix(), to.Unix())
}

func (u *usageTrackerImpl) Summary(ctx context.Context, customerID uuid.UUID, from, to time.Time) (*models.UsageSummary, error) {
	cacheKey := usageCacheKey(customerID, from, to)
	// Cache misses and redis hiccups both fall through to the DB.
	if u.rdb != nil {
		if cached, err := u.rdb.Get(ctx, cacheKey).Result(); err == nil {
			var summary models.UsageSummary
			if err := json.Unmarshal([]byte(cached), &summary); err == nil {
				return &summary, nil
			}
		}
	}

	summary := &models.UsageSummary{
		CustomerID:  customerID,
		PeriodStart: from,
		PeriodEnd:   to,
	}

	type aggregate struct {
		Type  models.MetricType
		Total float64
		Cost  float64
	}
	var rows []aggregate
	if err := u.db.WithContext(ctx).
		Model(&models.UsageMetric{}).
		Select("type, SUM(value) AS total, SUM(cost_usd) AS cost").
		Where("customer_id = ? AND created_at >= ? AND created_at < ?", customerID, from, to).
		Group("type").
		Scan(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to aggregate usage: %w", err)
	}

	for _, row := range rows {
		summary.TotalCostUSD += row.Cost
		switch row.Type {
		case models.MetricAPICall:
			summary.APICalls = int64(row.Total)
		case models.MetricSearchQuery:
			summary.SearchQueries = int64(row.Total)
		case models.MetricDocumentProcessed:
			summary.DocumentsProcessed = int64(row.Total)
		case models.MetricEmbeddingTokens:
			summary.EmbeddingTokens = int64(row.Total)
		case models.MetricStorageBytes:
			summary.StorageBytes = int64(row.Total)
		}
	}

	if u.rdb != nil {
		if payload, err := json.Marshal(summary); err == nil {
			_ = u.rdb.Set(ctx, cacheKey, payload, u.cacheTTL).Err()
		}
	}

	return summary, nil
}

func (u *usageTrackerImpl) Metrics(ctx context.Context, customerID uuid.UUID, metricType models.MetricType, from, to time.Time) ([]models.UsageMetric, error) {
	var metrics []models.UsageMetric
	if err := u.db.WithContext(ctx).
		Where("customer_id = ? AND type = ? AND created_at >= ? AND created_at < ?", customerID, metricType, from, to).
		Order("created_at DESC").
		Limit(1000).
		Find(&metrics).Error; err != nil {
		return nil, fmt.Errorf("failed to load usage metrics: %w", err)
	}
	return metrics, nil
}
