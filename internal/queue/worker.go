package queue

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/example/face-blur/internal/pipeline"
)

// Handler processes every event carried by one raw queue message.
type Handler interface {
	HandleBatch(ctx context.Context, payload []byte) ([]*pipeline.Outcome, error)
}

// WorkerConfig tunes polling and redelivery.
type WorkerConfig struct {
	Concurrency     int
	MaxDequeueCount int64
	Visibility      time.Duration
	PollInterval    time.Duration
}

func (c *WorkerConfig) ensureDefaults() {
	if c.Concurrency <= 0 {
		c.Concurrency = 1
	}
	if c.MaxDequeueCount <= 0 {
		c.MaxDequeueCount = 5
	}
	if c.Visibility <= 0 {
		c.Visibility = 5 * time.Minute
	}
	if c.PollInterval <= 0 {
		c.PollInterval = 2 * time.Second
	}
}

// Worker polls a queue and runs the handler for each message with bounded
// concurrency. A message is deleted once the handler returns without error;
// on error it stays hidden until the visibility timeout lapses and is then
// redelivered.
type Worker struct {
	source  Receiver
	poison  Sender
	handler Handler
	cfg     WorkerConfig
	logger  *zap.Logger
}

// NewWorker builds a worker. poison may be nil, in which case exhausted
// messages are logged and dropped.
func NewWorker(source Receiver, poison Sender, handler Handler, cfg WorkerConfig, logger *zap.Logger) *Worker {
	cfg.ensureDefaults()
	return &Worker{
		source:  source,
		poison:  poison,
		handler: handler,
		cfg:     cfg,
		logger:  logger.Named("queue"),
	}
}

// Run polls until ctx is cancelled. Messages already handed to the handler
// keep running, bounded by the visibility timeout, and Run returns once
// they finish.
func (w *Worker) Run(ctx context.Context) error {
	w.logger.Info("queue worker started",
		zap.Int("concurrency", w.cfg.Concurrency),
		zap.Int64("max_dequeue_count", w.cfg.MaxDequeueCount),
	)
	for {
		n, err := w.Poll(ctx)
		if ctx.Err() != nil {
			w.logger.Info("queue worker stopped")
			return nil
		}
		if err != nil {
			w.logger.Warn("failed to receive messages", zap.Error(err))
		}
		if n > 0 && err == nil {
			continue
		}
		select {
		case <-ctx.Done():
			w.logger.Info("queue worker stopped")
			return nil
		case <-time.After(w.cfg.PollInterval):
		}
	}
}

// Poll receives one batch and processes it. It returns the number of
// messages received.
func (w *Worker) Poll(ctx context.Context) (int, error) {
	batch := int32(w.cfg.Concurrency)
	if batch > MaxBatch {
		batch = MaxBatch
	}
	messages, err := w.source.Receive(ctx, batch, w.cfg.Visibility)
	if err != nil {
		return 0, err
	}

	var g errgroup.Group
	g.SetLimit(w.cfg.Concurrency)
	for _, msg := range messages {
		msg := msg
		g.Go(func() error {
			w.dispatch(ctx, msg)
			return nil
		})
	}
	_ = g.Wait()
	return len(messages), nil
}

func (w *Worker) dispatch(parent context.Context, msg Message) {
	// Survives shutdown; bounded by the visibility timeout, after which the
	// message is visible again anyway.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(parent), w.cfg.Visibility)
	defer cancel()

	msgLogger := w.logger.With(
		zap.String("message_id", msg.ID),
		zap.Int64("dequeue_count", msg.DequeueCount),
	)

	if msg.DequeueCount > w.cfg.MaxDequeueCount {
		w.quarantine(ctx, msgLogger, msg)
		return
	}

	outcomes, err := w.handler.HandleBatch(ctx, []byte(msg.Text))
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			msgLogger.Warn("message processing exceeded visibility timeout, leaving for redelivery", zap.Error(err))
			return
		}
		msgLogger.Error("message processing failed, leaving for redelivery", zap.Error(err))
		return
	}

	if err := w.source.Delete(ctx, msg); err != nil {
		msgLogger.Warn("failed to delete processed message", zap.Error(err))
		return
	}
	for _, outcome := range outcomes {
		msgLogger.Info("message completed",
			zap.String("invocation_id", outcome.InvocationID),
			zap.String("status", outcome.Status),
		)
	}
}

func (w *Worker) quarantine(ctx context.Context, msgLogger *zap.Logger, msg Message) {
	if w.poison != nil {
		if err := w.poison.Send(ctx, msg.Text); err != nil {
			msgLogger.Error("failed to move message to poison queue", zap.Error(err))
			return
		}
	}
	if err := w.source.Delete(ctx, msg); err != nil {
		msgLogger.Warn("failed to delete poisoned message", zap.Error(err))
		return
	}
	msgLogger.Warn("message exceeded max dequeue count, moved to poison queue")
}
