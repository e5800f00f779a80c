package impl

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/corpusvault/corpusvault/models"
	"github.com/corpusvault/corpusvault/services"
)

type rateLimiterImpl struct {
	db *gorm.DB
}

// NewRateLimiter builds the catalog-backed limiter. Counts live in
// minute-aligned buckets so both the 60s and 24h windows are sums over the
// same rows.
func NewRateLimiter(db *gorm.DB) services.RateLimiter {
	return &rateLimiterImpl{db: db}
}

func (r *rateLimiterImpl) Check(ctx context.Context, customerID uuid.UUID, endpoint string, perMinute, perDay int) (*models.RateLimitDecision, error) {
	now := time.Now()
	windowStart := now.Truncate(time.Minute)
	windowEnd := windowStart.Add(time.Minute)

	minuteSum, err := r.sumSince(ctx, customerID, endpoint, now.Add(-time.Minute))
	if err != nil {
		return nil, err
	}
	daySum, err := r.sumSince(ctx, customerID, endpoint, now.Add(-24*time.Hour))
	if err != nil {
		return nil, err
	}

	if perMinute > 0 && minuteSum >= int64(perMinute) {
		return &models.RateLimitDecision{
			Allowed:    false,
			Remaining:  0,
			ResetEpoch: windowEnd.Unix(),
			RetryAfter: int(time.Until(windowEnd).Seconds()) + 1,
		}, nil
	}
	if perDay > 0 && daySum >= int64(perDay) {
		reset := now.Add(24 * time.Hour).Truncate(time.Minute)
		return &models.RateLimitDecision{
			Allowed:    false,
			Remaining:  0,
			ResetEpoch: reset.Unix(),
			RetryAfter: 3600,
		}, nil
	}

	bucket := models.RateLimitWindow{
		ID:           uuid.New(),
		CustomerID:   customerID,
		Endpoint:     endpoint,
		WindowStart:  windowStart,
		WindowEnd:    windowEnd,
		RequestCount: 1,
	}
	if err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "customer_id"}, {Name: "endpoint"}, {Name: "window_start"}},
		DoUpdates: clause.Assignments(map[string]interface{}{
			"request_count": gorm.Expr("rate_limit_tracker.request_count + 1"),
		}),
	}).Create(&bucket).Error; err != nil {
		return nil, fmt.Errorf("failed to record rate limit bucket: %w", err)
	}

	remaining := perMinute - int(minuteSum) - 1
	if remaining < 0 {
		remaining = 0
	}
	return &models.RateLimitDecision{
		Allowed:    true,
		Remaining:  remaining,
		ResetEpoch: windowEnd.Unix(),
	}, nil
}

func (r *rateLimiterImpl) sumSince(ctx context.Context, customerID uuid.UUID, endpoint string, since time.Time) (int64, error) {
	var sum *int64
	if err := r.db.WithContext(ctx).
		Model(&models.RateLimitWindow{}).
		Select("SUM(request_count)").
		Where("customer_id = ? AND endpoint = ? AND window_end > ?", customerID, endpoint, since).
		Scan(&sum).Error; err != nil {
		return 0, fmt.Errorf("failed to sum rate limit windows: %w", err)
	}
	if sum == nil {
		return 0, nil
	}
	return *sum, nil
}

func (r *rateLimiterImpl) Prune(ctx context.Context, olderThan time.Duration) (int64, error) {
	cutoff := time.Now().Add(-olderThan)
	result := r.db.WithContext(ctx).
		Where("window_end < ?", cutoff).
		Delete(&models.RateLimitWindow{})
	if result.Error != nil {
		return 0, fmt.Errorf("failed to prune rate limit windows: %w", result.Error)
	}
	return result.RowsAffected, nil
}
