package capture

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"river-monitor/internal/models"
	"river-monitor/internal/observability"
)

var (
	// ErrCaptureInFlight is returned when a trigger arrives while a cycle runs
	ErrCaptureInFlight = errors.New("capture already in flight")
	// ErrFrameUnavailable is returned when the camera produced no frame
	ErrFrameUnavailable = errors.New("camera frame unavailable")
	// ErrUploadFailed marks a failed primary delivery
	ErrUploadFailed = errors.New("primary upload failed")
	// ErrFallbackFailed marks a failed fallback publish
	ErrFallbackFailed = errors.New("fallback publish failed")
)

// DefaultMaxUploadDuration caps a whole primary delivery attempt. The
// uploader's own inactivity bound normally ends a stalled attempt first.
const DefaultMaxUploadDuration = 2 * time.Minute

// State of the capture pipeline
type State int32

const (
	StateIdle State = iota
	StateCapturing
	StateDeliveringPrimary
	StateDeliveringFallback
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateCapturing:
		return "capturing"
	case StateDeliveringPrimary:
		return "delivering_primary"
	case StateDeliveringFallback:
		return "delivering_fallback"
	default:
		return "unknown"
	}
}

// Camera acquires single frames. Every acquired artifact is handed back
// through Release exactly once.
type Camera interface {
	AcquireFrame(ctx context.Context) (*models.Artifact, error)
	Release(a *models.Artifact)
}

// Uploader performs the primary delivery
type Uploader interface {
	Upload(ctx context.Context, a *models.Artifact) error
}

// FallbackPublisher performs the side-channel delivery
type FallbackPublisher interface {
	PublishImage(data []byte) error
}

// Result describes one completed capture-deliver cycle
type Result struct {
	CycleID     string
	Outcome     models.DeliveryOutcome
	SizeBytes   int
	PrimaryErr  error
	FallbackErr error
}

// Config holds pipeline settings
type Config struct {
	MaxUploadDuration time.Duration
}

// Pipeline is the capture and two-tier delivery state machine. At most one
// artifact exists at a time; triggers arriving while a cycle runs are dropped.
type Pipeline struct {
	camera   Camera
	uploader Uploader
	fallback FallbackPublisher
	metrics  *observability.CaptureMetrics
	logger   *zap.Logger

	maxUploadDuration time.Duration

	state    atomic.Int32
	requests chan struct{}
}

// NewPipeline creates an idle pipeline. metrics may be nil.
func NewPipeline(
	camera Camera,
	uploader Uploader,
	fallback FallbackPublisher,
	config Config,
	metrics *observability.CaptureMetrics,
	logger *zap.Logger,
) *Pipeline {
	maxUpload := config.MaxUploadDuration
	if maxUpload <= 0 {
		maxUpload = DefaultMaxUploadDuration
	}

	return &Pipeline{
		camera:            camera,
		uploader:          uploader,
		fallback:          fallback,
		metrics:           metrics,
		logger:            logger,
		maxUploadDuration: maxUpload,
		requests:          make(chan struct{}, 1),
	}
}

// State returns the current pipeline state
func (p *Pipeline) State() State {
	return State(p.state.Load())
}

// Trigger requests one capture cycle, to be run by Start. It returns false
// and has no other effect when a cycle is already pending or running.
func (p *Pipeline) Trigger() bool {
	if p.metrics != nil {
		p.metrics.TriggersReceived.Inc()
	}

	if !p.state.CompareAndSwap(int32(StateIdle), int32(StateCapturing)) {
		p.dropped()
		return false
	}

	select {
	case p.requests <- struct{}{}:
		return true
	default:
		p.state.Store(int32(StateIdle))
		p.dropped()
		return false
	}
}

func (p *Pipeline) dropped() {
	if p.metrics != nil {
		p.metrics.TriggersDropped.Inc()
	}
	p.logger.Warn("Dropping capture trigger, pipeline busy", zap.Stringer("state", p.State()))
}

// Start runs triggered cycles until ctx is cancelled. A cycle that has
// started always runs to its terminal outcome.
func (p *Pipeline) Start(ctx context.Context) {
	p.logger.Info("Capture pipeline: Starting...")

	for {
		select {
		case <-ctx.Done():
			p.logger.Info("Capture pipeline: Shutting down...")
			return
		case <-p.requests:
			// Detached from ctx so shutdown does not abort a running cycle
			_, _ = p.run(context.WithoutCancel(ctx))
		}
	}
}

// Capture runs one cycle synchronously. It returns ErrCaptureInFlight when
// a cycle is pending or running.
func (p *Pipeline) Capture(ctx context.Context) (Result, error) {
	if !p.state.CompareAndSwap(int32(StateIdle), int32(StateCapturing)) {
		p.dropped()
		return Result{}, ErrCaptureInFlight
	}
	return p.run(ctx)
}

// run executes a cycle. The caller has moved the state to Capturing.
func (p *Pipeline) run(ctx context.Context) (Result, error) {
	defer p.state.Store(int32(StateIdle))

	result := Result{CycleID: uuid.NewString()}
	log := p.logger.With(zap.String("cycle_id", result.CycleID))

	artifact, err := p.camera.AcquireFrame(ctx)
	if err == nil && artifact.Len() == 0 {
		if artifact != nil {
			p.camera.Release(artifact)
		}
		err = errors.New("empty frame")
	}
	if err != nil {
		if p.metrics != nil {
			p.metrics.CaptureFailures.Inc()
		}
		log.Error("Capture failed", zap.Error(err))
		return result, fmt.Errorf("%w: %w", ErrFrameUnavailable, err)
	}
	defer p.camera.Release(artifact)

	if artifact.ID == "" {
		artifact.ID = result.CycleID
	}
	result.SizeBytes = artifact.Len()
	log.Info("Frame captured", zap.Int("bytes", result.SizeBytes))

	p.state.Store(int32(StateDeliveringPrimary))
	result.PrimaryErr = p.deliverPrimary(ctx, artifact)
	if result.PrimaryErr == nil {
		result.Outcome = models.PrimarySucceeded
		p.finish(log, result)
		return result, nil
	}
	log.Warn("Primary delivery failed, falling back", zap.Error(result.PrimaryErr))

	p.state.Store(int32(StateDeliveringFallback))
	if err := p.fallback.PublishImage(artifact.Data); err != nil {
		result.FallbackErr = fmt.Errorf("%w: %w", ErrFallbackFailed, err)
		result.Outcome = models.BothFailed
	} else {
		result.Outcome = models.FallbackSucceeded
	}

	p.finish(log, result)
	return result, nil
}

func (p *Pipeline) deliverPrimary(ctx context.Context, artifact *models.Artifact) error {
	uploadCtx, cancel := context.WithTimeout(ctx, p.maxUploadDuration)
	defer cancel()

	start := time.Now()
	err := p.uploader.Upload(uploadCtx, artifact)
	if p.metrics != nil {
		p.metrics.UploadLatency.Observe(time.Since(start).Seconds())
	}

	if err != nil && !errors.Is(err, ErrUploadFailed) {
		err = fmt.Errorf("%w: %w", ErrUploadFailed, err)
	}
	return err
}

func (p *Pipeline) finish(log *zap.Logger, result Result) {
	if p.metrics != nil {
		p.metrics.Outcomes.WithLabelValues(result.Outcome.String()).Inc()
	}

	fields := []zap.Field{
		zap.Stringer("outcome", result.Outcome),
		zap.Int("bytes", result.SizeBytes),
	}
	if result.Outcome == models.BothFailed {
		log.Error("Delivery failed on both paths", append(fields, zap.Error(result.FallbackErr))...)
		return
	}
	log.Info("Delivery complete", fields...)
}
