// Package retry re-runs operations that fail with transient errors.
package retry

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/example/face-blur/internal/logging"
)

// Policy bounds the number of attempts and the exponential backoff between them.
type Policy struct {
	Attempts       int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	// Expected lists sentinels that mean "nothing there" rather than a
	// failure, such as a cache miss. They return at once and are not logged
	// as errors.
	Expected []error
}

// DefaultPolicy is used by the cache and repository adapters.
var DefaultPolicy = Policy{
	Attempts:       3,
	InitialBackoff: 50 * time.Millisecond,
	MaxBackoff:     time.Second,
}

// Do runs fn until it succeeds, fails permanently, or runs out of attempts.
// Errors come back as *logging.OperationError tagged with operation.
func (p Policy) Do(ctx context.Context, logger *zap.Logger, operation, invocationID string, fn func() error) error {
	if p.Attempts <= 1 {
		return logging.NewOperationError(operation, invocationID, fn())
	}

	backoff := p.InitialBackoff
	opLogger := logging.WithOperation(logger, operation, invocationID)
	var err error
	for attempt := 0; attempt < p.Attempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return logging.NewOperationError(operation, invocationID, ctx.Err())
			case <-time.After(backoff):
			}
			if next := backoff * 2; next <= p.MaxBackoff {
				backoff = next
			}
		}

		err = fn()
		if err == nil {
			if attempt > 0 {
				opLogger.Info("operation succeeded after retry", zap.Int("attempt", attempt+1))
			}
			return nil
		}
		if p.isExpected(err) {
			opLogger.Debug("operation found nothing", zap.Error(err))
			return logging.NewOperationError(operation, invocationID, err)
		}

		if !IsTransient(err) || attempt == p.Attempts-1 {
			opLogger.Error("operation failed", zap.Error(err), zap.Int("attempt", attempt+1))
			return logging.NewOperationError(operation, invocationID, err)
		}

		opLogger.Warn("transient error", zap.Error(err), zap.Int("attempt", attempt+1))
	}
	return logging.NewOperationError(operation, invocationID, err)
}

func (p Policy) isExpected(err error) bool {
	for _, sentinel := range p.Expected {
		if errors.Is(err, sentinel) {
			return true
		}
	}
	return false
}

// WithExpected returns a copy of p that treats sentinels as expected outcomes.
func (p Policy) WithExpected(sentinels ...error) Policy {
	p.Expected = append(append([]error(nil), p.Expected...), sentinels...)
	return p
}

// IsTransient reports whether err looks like a timeout or temporary failure.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var netErr interface{ Timeout() bool }
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	var temporary interface{ Temporary() bool }
	if errors.As(err, &temporary) && temporary.Temporary() {
		return true
	}

	return false
}
