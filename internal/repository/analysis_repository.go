package repository

import (
	"context"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/example/mushroom-check/internal/retry"
)

// AnalysisLog represents one persisted mushroom analysis.
type AnalysisLog struct {
	ID                  uint      `gorm:"primaryKey"`
	RequestID           string    `gorm:"column:request_id;uniqueIndex;size:64"`
	UserID              string    `gorm:"column:user_id;index;size:64"`
	AnalysisMethod      string    `gorm:"column:analysis_method;index;size:32"`
	Edible              bool      `gorm:"column:edible"`
	EdibilityConfidence float64   `gorm:"column:edibility_confidence"`
	Species             string    `gorm:"column:species;size:128"`
	SpeciesConfidence   float64   `gorm:"column:species_confidence"`
	Warnings            []string  `gorm:"column:warnings;serializer:json"`
	Width               int       `gorm:"column:width"`
	Height              int       `gorm:"column:height"`
	ColorMode           string    `gorm:"column:color_mode;size:16"`
	SHA1Hash            string    `gorm:"column:sha1_hash;index;size:40"`
	ProcessingLatencyMs float64   `gorm:"column:processing_latency_ms"`
	CreatedAt           time.Time `gorm:"column:created_at;index"`
}

// TableName overrides the default table name.
func (AnalysisLog) TableName() string {
	return "analysis_logs"
}

// MethodCount is the number of analyses produced by one tier.
type MethodCount struct {
	AnalysisMethod string `gorm:"column:analysis_method"`
	Count          int64  `gorm:"column:count"`
}

// MetricsAggregation holds the raw aggregates behind the metrics summary.
type MetricsAggregation struct {
	TotalCount                 int64
	EdibleCount                int64
	AverageEdibilityConfidence float64
	AverageProcessingLatencyMs float64
	ByMethod                   []MethodCount
}

// AnalysisRepository provides persistence APIs for analysis logs.
type AnalysisRepository struct {
	db             *gorm.DB
	logger         *zap.Logger
	retryAttempts  int
	initialBackoff time.Duration
	maxBackoff     time.Duration
}

// NewAnalysisRepository creates a new repository instance.
func NewAnalysisRepository(db *gorm.DB, logger *zap.Logger) *AnalysisRepository {
	policy := retry.DefaultPolicy()
	return &AnalysisRepository{
		db:             db,
		logger:         logger.Named("analysis_repository"),
		retryAttempts:  policy.Attempts,
		initialBackoff: policy.InitialBackoff,
		maxBackoff:     policy.MaxBackoff,
	}
}

// AutoMigrate ensures the schema is available.
func (r *AnalysisRepository) AutoMigrate(ctx context.Context) error {
	return r.executeWithRetry(ctx, "repository.auto_migrate", "", func() error {
		return r.db.WithContext(ctx).AutoMigrate(&AnalysisLog{})
	})
}

// SaveLog persists an analysis log entry.
func (r *AnalysisRepository) SaveLog(ctx context.Context, log *AnalysisLog) error {
	return r.executeWithRetry(ctx, "repository.save_log", log.RequestID, func() error {
		return r.db.WithContext(ctx).Create(log).Error
	})
}

// FindByRequestIDAndUser retrieves an analysis log matching the request and owner.
func (r *AnalysisRepository) FindByRequestIDAndUser(ctx context.Context, requestID, userID string) (*AnalysisLog, error) {
	var log AnalysisLog
	err := r.executeWithRetry(ctx, "repository.find_by_request", requestID, func() error {
		return r.db.WithContext(ctx).First(&log, "request_id = ? AND user_id = ?", requestID, userID).Error
	})
	if err != nil {
		return nil, err
	}
	return &log, nil
}

// ListByUser returns the most recent analyses of a user, newest first.
func (r *AnalysisRepository) ListByUser(ctx context.Context, userID string, limit int) ([]*AnalysisLog, error) {
	var logs []*AnalysisLog
	err := r.executeWithRetry(ctx, "repository.list_by_user", "", func() error {
		return r.db.WithContext(ctx).
			Where("user_id = ?", userID).
			Order("created_at DESC").
			Limit(limit).
			Find(&logs).Error
	})
	if err != nil {
		return nil, err
	}
	return logs, nil
}

// AggregateMetrics computes totals across all persisted analyses.
func (r *AnalysisRepository) AggregateMetrics(ctx context.Context) (*MetricsAggregation, error) {
	var totals struct {
		TotalCount                 int64
		EdibleCount                int64
		AverageEdibilityConfidence float64
		AverageProcessingLatencyMs float64
	}
	var byMethod []MethodCount

	err := r.executeWithRetry(ctx, "repository.aggregate_metrics", "", func() error {
		db := r.db.WithContext(ctx).Model(&AnalysisLog{})
		if err := db.Select(
			"COUNT(*) AS total_count, " +
				"COALESCE(SUM(CASE WHEN edible THEN 1 ELSE 0 END), 0) AS edible_count, " +
				"COALESCE(AVG(edibility_confidence), 0) AS average_edibility_confidence, " +
				"COALESCE(AVG(processing_latency_ms), 0) AS average_processing_latency_ms",
		).Scan(&totals).Error; err != nil {
			return err
		}
		byMethod = byMethod[:0]
		return r.db.WithContext(ctx).Model(&AnalysisLog{}).
			Select("analysis_method, COUNT(*) AS count").
			Group("analysis_method").
			Scan(&byMethod).Error
	})
	if err != nil {
		return nil, err
	}

	return &MetricsAggregation{
		TotalCount:                 totals.TotalCount,
		EdibleCount:                totals.EdibleCount,
		AverageEdibilityConfidence: totals.AverageEdibilityConfidence,
		AverageProcessingLatencyMs: totals.AverageProcessingLatencyMs,
		ByMethod:                   byMethod,
	}, nil
}

func (r *AnalysisRepository) executeWithRetry(ctx context.Context, operation, requestID string, fn func() error) error {
	policy := retry.Policy{
		Attempts:       r.retryAttempts,
		InitialBackoff: r.initialBackoff,
		MaxBackoff:     r.maxBackoff,
	}
	return retry.Do(ctx, r.logger, policy, operation, requestID, fn)
}
