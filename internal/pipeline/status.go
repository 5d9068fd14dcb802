package pipeline

import (
	"context"
	"errors"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/example/face-blur/internal/faces"
	"github.com/example/face-blur/internal/logging"
	"github.com/example/face-blur/internal/repository"
)

// ErrStatusNotFound is returned when neither the cache nor the repository
// know about a blob.
var ErrStatusNotFound = errors.New("status not found")

// StatusRecord is the last known state of a source blob.
type StatusRecord struct {
	InvocationID string    `json:"invocation_id"`
	Container    string    `json:"container"`
	Key          string    `json:"key"`
	Status       string    `json:"status"`
	Faces        int       `json:"faces"`
	Error        string    `json:"error,omitempty"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// MetricsSummary represents aggregated processing insights.
type MetricsSummary struct {
	TotalInvocations int64   `json:"total_invocations"`
	Blurred          int64   `json:"blurred"`
	Passthrough      int64   `json:"passthrough"`
	Failed           int64   `json:"failed"`
	FailureRate      float64 `json:"failure_rate"`
	AverageFaces     float64 `json:"average_faces"`
	AverageLatencyMs float64 `json:"average_latency_ms"`
}

// Status returns the last recorded state of a source blob, from the cache
// when possible and the repository otherwise.
func (p *Processor) Status(ctx context.Context, ref faces.BlobRef) (*StatusRecord, error) {
	if p.cache != nil {
		var cached string
		err := p.retry.WithExpected(redis.Nil).Do(ctx, p.logger, "cache.get.status", "", func() error {
			value, err := p.cache.Get(ctx, statusKey(ref))
			if err != nil {
				return err
			}
			cached = value
			return nil
		})
		switch {
		case err == nil:
			if record, err := decodeStatus(cached); err == nil {
				return record, nil
			}
			p.logger.Warn("failed to decode cached status", zap.String("key", ref.Key))
		case !errors.Is(err, redis.Nil):
			p.logger.Warn("failed to read status cache", zap.Error(err))
		}
	}

	if p.repo == nil {
		return nil, ErrStatusNotFound
	}
	log, err := p.repo.FindLatest(ctx, ref.Container, ref.Key)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrStatusNotFound
		}
		return nil, err
	}
	return &StatusRecord{
		InvocationID: log.InvocationID,
		Container:    log.Container,
		Key:          log.BlobKey,
		Status:       log.Status,
		Faces:        log.Faces,
		Error:        log.Error,
		UpdatedAt:    log.CreatedAt,
	}, nil
}

// Metrics aggregates processing metrics from persisted logs.
func (p *Processor) Metrics(ctx context.Context) (*MetricsSummary, error) {
	if p.repo == nil {
		return &MetricsSummary{}, nil
	}
	aggregation, err := p.repo.AggregateMetrics(ctx)
	if err != nil {
		return nil, err
	}

	summary := &MetricsSummary{
		TotalInvocations: aggregation.TotalCount,
		Blurred:          aggregation.BlurredCount,
		Passthrough:      aggregation.PassthroughCount,
		Failed:           aggregation.FailedCount,
		AverageFaces:     aggregation.AverageFaces,
		AverageLatencyMs: aggregation.AverageLatencyMs,
	}
	if aggregation.TotalCount > 0 {
		summary.FailureRate = float64(aggregation.FailedCount) / float64(aggregation.TotalCount)
	}
	return summary, nil
}

// recordStatus is best effort: a cache outage never changes the outcome.
func (p *Processor) recordStatus(ctx context.Context, outcome *Outcome, failure error) {
	if p.cache == nil {
		return
	}
	record := StatusRecord{
		InvocationID: outcome.InvocationID,
		Container:    outcome.Ref.Container,
		Key:          outcome.Ref.Key,
		Status:       outcome.Status,
		Faces:        outcome.Faces,
		UpdatedAt:    time.Now().UTC(),
	}
	if failure != nil {
		record.Error = failure.Error()
	}
	serialized, err := encodeStatus(record)
	if err != nil {
		p.logger.Warn("failed to serialize status", zap.Error(err))
		return
	}
	if err := p.retry.Do(ctx, p.logger, "cache.set.status", outcome.InvocationID, func() error {
		return p.cache.Set(ctx, statusKey(outcome.Ref), serialized, p.statusTTL)
	}); err != nil {
		logging.WithOperation(p.logger, "cache.set.status", outcome.InvocationID).Warn("failed to cache status", zap.Error(err))
	}
}

// saveLog is best effort, like recordStatus.
func (p *Processor) saveLog(ctx context.Context, outcome *Outcome, start time.Time, inputBytes int, failure error) {
	if p.repo == nil {
		return
	}
	log := &repository.ProcessingLog{
		InvocationID: outcome.InvocationID,
		Container:    outcome.Ref.Container,
		BlobKey:      outcome.Ref.Key,
		Status:       outcome.Status,
		Faces:        outcome.Faces,
		InputBytes:   inputBytes,
		OutputBytes:  outcome.Bytes,
		DurationMs:   time.Since(start).Milliseconds(),
		CreatedAt:    time.Now().UTC(),
	}
	if failure != nil {
		log.Error = failure.Error()
	}
	if err := p.repo.SaveLog(ctx, log); err != nil {
		logging.WithOperation(p.logger, "repository.save_log", outcome.InvocationID).Warn("failed to persist processing log", zap.Error(err))
	}
}
