package vision

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/example/face-blur/internal/faces"
)

// Locator turns detector answers into a FaceSet. It never fails: any
// detector error is logged and reported as "no faces", so an outage still
// lets the unmodified image through.
type Locator struct {
	detector Detector
	timeout  time.Duration
	logger   *zap.Logger
}

// NewLocator wraps detector. A non-positive timeout disables the per-call deadline.
func NewLocator(detector Detector, timeout time.Duration, logger *zap.Logger) *Locator {
	return &Locator{
		detector: detector,
		timeout:  timeout,
		logger:   logger.Named("face_locator"),
	}
}

// Locate returns the faces found in src, or an empty set on any failure.
func (l *Locator) Locate(ctx context.Context, src Source) faces.FaceSet {
	logger := l.logger.With(zap.String("container", src.Ref.Container), zap.String("key", src.Ref.Key))
	set, err := l.detect(ctx, src)
	if err != nil {
		logger.Warn("face detection failed, continuing without faces", zap.String("stage", "detect"), zap.Error(err))
		return faces.FaceSet{}
	}
	logger.Info("faces located", zap.Int("faces", len(set)))
	return set
}

func (l *Locator) detect(ctx context.Context, src Source) (set faces.FaceSet, err error) {
	defer func() {
		if r := recover(); r != nil {
			set, err = nil, fmt.Errorf("vision: detector panic: %v", r)
		}
	}()

	if l.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, l.timeout)
		defer cancel()
	}
	analysis, err := l.detector.Detect(ctx, src)
	if err != nil {
		return nil, err
	}
	return Normalize(analysis)
}
