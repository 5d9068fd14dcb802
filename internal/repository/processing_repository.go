package repository

import (
	"context"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/example/face-blur/internal/retry"
)

// ProcessingLog records the outcome of one pipeline invocation.
type ProcessingLog struct {
	ID           uint      `gorm:"primaryKey"`
	InvocationID string    `gorm:"column:invocation_id;uniqueIndex;size:64"`
	Container    string    `gorm:"column:container;size:63;index:idx_processing_blob"`
	BlobKey      string    `gorm:"column:blob_key;size:1024;index:idx_processing_blob"`
	Status       string    `gorm:"column:status;size:32"`
	Faces        int       `gorm:"column:faces"`
	InputBytes   int       `gorm:"column:input_bytes"`
	OutputBytes  int       `gorm:"column:output_bytes"`
	DurationMs   int64     `gorm:"column:duration_ms"`
	Error        string    `gorm:"column:error;type:text"`
	CreatedAt    time.Time `gorm:"column:created_at;index"`
}

// TableName overrides the default table name.
func (ProcessingLog) TableName() string {
	return "processing_logs"
}

// MetricsAggregation is the raw aggregate computed over all processing logs.
type MetricsAggregation struct {
	TotalCount       int64
	BlurredCount     int64
	PassthroughCount int64
	FailedCount      int64
	AverageFaces     float64
	AverageLatencyMs float64
}

// ProcessingRepository provides persistence APIs for processing logs.
type ProcessingRepository struct {
	db             *gorm.DB
	logger         *zap.Logger
	retryAttempts  int
	initialBackoff time.Duration
	maxBackoff     time.Duration
}

// NewProcessingRepository creates a new repository instance.
func NewProcessingRepository(db *gorm.DB, logger *zap.Logger) *ProcessingRepository {
	return &ProcessingRepository{
		db:             db,
		logger:         logger.Named("processing_repository"),
		retryAttempts:  retry.DefaultPolicy.Attempts,
		initialBackoff: retry.DefaultPolicy.InitialBackoff,
		maxBackoff:     retry.DefaultPolicy.MaxBackoff,
	}
}

// AutoMigrate ensures the schema is available.
func (r *ProcessingRepository) AutoMigrate(ctx context.Context) error {
	return r.db.WithContext(ctx).AutoMigrate(&ProcessingLog{})
}

// SaveLog persists a processing log entry.
func (r *ProcessingRepository) SaveLog(ctx context.Context, log *ProcessingLog) error {
	return r.executeWithRetry(ctx, "repository.save_log", log.InvocationID, func() error {
		return r.db.WithContext(ctx).Create(log).Error
	})
}

// FindLatest returns the most recent log for a blob.
func (r *ProcessingRepository) FindLatest(ctx context.Context, container, key string) (*ProcessingLog, error) {
	var log ProcessingLog
	err := r.executeWithRetry(ctx, "repository.find_latest", "", func() error {
		return r.db.WithContext(ctx).
			Where("container = ? AND blob_key = ?", container, key).
			Order("created_at DESC").
			First(&log).Error
	})
	if err != nil {
		return nil, err
	}
	return &log, nil
}

// AggregateMetrics summarises every stored log.
func (r *ProcessingRepository) AggregateMetrics(ctx context.Context) (*MetricsAggregation, error) {
	var row struct {
		TotalCount       int64
		BlurredCount     int64
		PassthroughCount int64
		FailedCount      int64
		AverageFaces     float64
		AverageLatencyMs float64
	}
	err := r.executeWithRetry(ctx, "repository.aggregate_metrics", "", func() error {
		return r.db.WithContext(ctx).Model(&ProcessingLog{}).Select(
			"COUNT(*) AS total_count, " +
				"COALESCE(SUM(CASE WHEN status = 'blurred' THEN 1 ELSE 0 END), 0) AS blurred_count, " +
				"COALESCE(SUM(CASE WHEN status = 'passthrough' THEN 1 ELSE 0 END), 0) AS passthrough_count, " +
				"COALESCE(SUM(CASE WHEN status = 'failed' THEN 1 ELSE 0 END), 0) AS failed_count, " +
				"COALESCE(AVG(faces), 0) AS average_faces, " +
				"COALESCE(AVG(duration_ms), 0) AS average_latency_ms",
		).Scan(&row).Error
	})
	if err != nil {
		return nil, err
	}
	return &MetricsAggregation{
		TotalCount:       row.TotalCount,
		BlurredCount:     row.BlurredCount,
		PassthroughCount: row.PassthroughCount,
		FailedCount:      row.FailedCount,
		AverageFaces:     row.AverageFaces,
		AverageLatencyMs: row.AverageLatencyMs,
	}, nil
}

func (r *ProcessingRepository) executeWithRetry(ctx context.Context, operation, invocationID string, fn func() error) error {
	policy := retry.Policy{
		Attempts:       r.retryAttempts,
		InitialBackoff: r.initialBackoff,
		MaxBackoff:     r.maxBackoff,
	}
	return policy.WithExpected(gorm.ErrRecordNotFound).Do(ctx, r.logger, operation, invocationID, fn)
}
