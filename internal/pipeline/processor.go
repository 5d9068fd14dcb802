package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/example/face-blur/internal/blur"
	"github.com/example/face-blur/internal/faces"
	"github.com/example/face-blur/internal/logging"
	"github.com/example/face-blur/internal/notification"
	"github.com/example/face-blur/internal/repository"
	"github.com/example/face-blur/internal/retry"
	"github.com/example/face-blur/internal/storage"
	"github.com/example/face-blur/internal/vision"
)

// Stage sentinels for the I/O steps. Decode, encode and region failures
// surface the blur package sentinels instead.
var (
	ErrFetch = errors.New("fetch source image")
	ErrWrite = errors.New("write destination image")
)

// Pipeline stages, as reported in logs and OperationError.Stage.
const (
	StageParse  = "parse"
	StageFetch  = "fetch"
	StageDecode = "decode"
	StageRegion = "region"
	StageEncode = "encode"
	StageWrite  = "write"
)

// Status values recorded for an invocation.
const (
	StatusSkipped     = "skipped"
	StatusIgnored     = "ignored"
	StatusProcessing  = "processing"
	StatusBlurred     = "blurred"
	StatusPassthrough = "passthrough"
	StatusFailed      = "failed"
)

// Locator finds faces. Implementations never fail; see vision.Locator.
type Locator interface {
	Locate(ctx context.Context, src vision.Source) faces.FaceSet
}

// Blurrer blurs the given boxes of an encoded image.
type Blurrer interface {
	Apply(data []byte, set faces.FaceSet) ([]byte, error)
}

// URLResolver maps a blob to a URL the vision service can fetch.
type URLResolver interface {
	URL(ref faces.BlobRef) string
}

// Repository defines the persistence operations needed by the processor.
type Repository interface {
	SaveLog(ctx context.Context, log *repository.ProcessingLog) error
	FindLatest(ctx context.Context, container, key string) (*repository.ProcessingLog, error)
	AggregateMetrics(ctx context.Context) (*repository.MetricsAggregation, error)
}

// Outcome describes what one invocation did.
type Outcome struct {
	InvocationID string
	Ref          faces.BlobRef
	Destination  faces.BlobRef
	Status       string
	Faces        int
	Bytes        int
}

// Options configures a Processor. Cache, Repository and URLs may be nil.
type Options struct {
	SourceContainer      string
	DestinationContainer string
	// SendURL hands the vision service a blob URL instead of the downloaded bytes.
	SendURL    bool
	URLs       URLResolver
	Cache      Cache
	Repository Repository
	StatusTTL  time.Duration
}

// Processor runs the parse, fetch, locate, blur and write steps for one
// notification at a time. It holds no per-invocation state, so one instance
// serves concurrent invocations.
type Processor struct {
	parser      *notification.Parser
	store       storage.Store
	locator     Locator
	blurrer     Blurrer
	destination string
	sendURL     bool
	urls        URLResolver
	cache       Cache
	repo        Repository
	statusTTL   time.Duration
	retry       retry.Policy
	logger      *zap.Logger
}

// NewProcessor wires the collaborators into a processor.
func NewProcessor(store storage.Store, locator Locator, blurrer Blurrer, opts Options, logger *zap.Logger) *Processor {
	ttl := opts.StatusTTL
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Processor{
		parser:      notification.NewParser(opts.SourceContainer),
		store:       store,
		locator:     locator,
		blurrer:     blurrer,
		destination: opts.DestinationContainer,
		sendURL:     opts.SendURL,
		urls:        opts.URLs,
		cache:       opts.Cache,
		repo:        opts.Repository,
		statusTTL:   ttl,
		retry:       retry.DefaultPolicy,
		logger:      logger.Named("processor"),
	}
}

// Handle processes one raw notification payload. Payloads that cannot be
// parsed or point outside the source container end cleanly with no write.
func (p *Processor) Handle(ctx context.Context, payload []byte) (*Outcome, error) {
	invocationID := uuid.NewString()
	ref, err := p.parser.Parse(payload)
	return p.route(ctx, invocationID, ref, err)
}

// HandleBatch processes every event of a payload in order and stops at the
// first failure. A payload that does not decode yields one skipped outcome.
func (p *Processor) HandleBatch(ctx context.Context, payload []byte) ([]*Outcome, error) {
	events, err := notification.DecodeBatch(payload)
	if err != nil {
		outcome, err := p.route(ctx, uuid.NewString(), faces.BlobRef{}, err)
		return []*Outcome{outcome}, err
	}
	if len(events) > 1 {
		p.logger.Info("processing event batch", zap.Int("events", len(events)))
	}

	outcomes := make([]*Outcome, 0, len(events))
	for _, ev := range events {
		outcome, err := p.HandleEvent(ctx, ev)
		if err != nil {
			return outcomes, err
		}
		outcomes = append(outcomes, outcome)
	}
	return outcomes, nil
}

// HandleEvent processes an already decoded event.
func (p *Processor) HandleEvent(ctx context.Context, ev notification.Event) (*Outcome, error) {
	invocationID := uuid.NewString()
	ref, err := p.parser.Resolve(ev)
	return p.route(ctx, invocationID, ref, err)
}

func (p *Processor) route(ctx context.Context, invocationID string, ref faces.BlobRef, parseErr error) (*Outcome, error) {
	if parseErr == nil {
		return p.process(ctx, invocationID, ref)
	}

	opLogger := logging.WithOperation(p.logger, "pipeline."+StageParse, invocationID)
	outcome := &Outcome{InvocationID: invocationID, Ref: ref, Status: StatusSkipped}
	if errors.Is(parseErr, notification.ErrNotSourceContainer) {
		outcome.Status = StatusIgnored
		opLogger.Info("skipping blob outside source container",
			zap.String("container", ref.Container),
			zap.String("key", ref.Key),
		)
		return outcome, nil
	}
	opLogger.Info("skipping notification", zap.String("reason", parseErr.Error()))
	return outcome, nil
}

func (p *Processor) process(ctx context.Context, invocationID string, ref faces.BlobRef) (*Outcome, error) {
	start := time.Now()
	opLogger := logging.WithBlob(logging.WithOperation(p.logger, "pipeline.process", invocationID), ref.Container, ref.Key)
	outcome := &Outcome{
		InvocationID: invocationID,
		Ref:          ref,
		Destination:  faces.BlobRef{Container: p.destination, Key: ref.Key},
		Status:       StatusProcessing,
	}
	p.recordStatus(ctx, outcome, nil)
	opLogger.Info("processing blob")

	data, err := p.store.Fetch(ctx, ref)
	if err != nil {
		return nil, p.fail(ctx, opLogger, outcome, start, 0, StageFetch, fmt.Errorf("%w: %w", ErrFetch, err))
	}

	src := vision.Source{Data: data, Ref: ref}
	if p.sendURL && p.urls != nil {
		src.URL = p.urls.URL(ref)
	}
	set := p.locator.Locate(ctx, src)
	outcome.Faces = len(set)

	out, err := p.blurrer.Apply(data, set)
	if err != nil {
		return nil, p.fail(ctx, opLogger, outcome, start, len(data), blurStage(err), err)
	}

	if err := p.store.Put(ctx, outcome.Destination, out, faces.ContentTypeJPEG); err != nil {
		return nil, p.fail(ctx, opLogger, outcome, start, len(data), StageWrite, fmt.Errorf("%w: %w", ErrWrite, err))
	}

	outcome.Bytes = len(out)
	if set.Empty() {
		outcome.Status = StatusPassthrough
		opLogger.Info("no faces detected, uploaded original image", zap.Int("bytes", len(out)))
	} else {
		outcome.Status = StatusBlurred
		opLogger.Info("uploaded blurred image", zap.Int("faces", len(set)), zap.Int("bytes", len(out)))
	}
	p.recordStatus(ctx, outcome, nil)
	p.saveLog(ctx, outcome, start, len(data), nil)
	return outcome, nil
}

func (p *Processor) fail(ctx context.Context, opLogger *zap.Logger, outcome *Outcome, start time.Time, inputBytes int, stage string, err error) error {
	wrapped := logging.NewStageError(stage, outcome.InvocationID, outcome.Ref.Container, outcome.Ref.Key, err)
	opLogger.Error("pipeline stage failed", zap.String("stage", stage), zap.Error(err))
	outcome.Status = StatusFailed
	p.recordStatus(ctx, outcome, wrapped)
	p.saveLog(ctx, outcome, start, inputBytes, wrapped)
	return wrapped
}

func blurStage(err error) string {
	switch {
	case errors.Is(err, blur.ErrDecode):
		return StageDecode
	case errors.Is(err, blur.ErrEncode):
		return StageEncode
	default:
		return StageRegion
	}
}
