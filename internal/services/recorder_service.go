package services

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
	"river-monitor/internal/aggregator"
	"river-monitor/internal/cache"
	"river-monitor/internal/models"
	"river-monitor/internal/observability"
)

// RecordStore persists recorder output
type RecordStore interface {
	SaveTelemetry(ctx context.Context, record *models.TelemetryRecord) error
	SaveAlertImage(ctx context.Context, image *models.AlertImage) error
	SavePrediction(ctx context.Context, prediction *models.Prediction) error
}

// LatestStore keeps the most recent accepted record
type LatestStore interface {
	SetLatest(ctx context.Context, record *models.TelemetryRecord) error
}

// LatestReader returns the most recently cached record
type LatestReader interface {
	GetLatest(ctx context.Context) (*models.TelemetryRecord, error)
}

// LevelHistory returns the water level of the last stored record
type LevelHistory interface {
	LastWaterLevel(ctx context.Context) (float64, bool, error)
}

// Predictor labels an accepted record
type Predictor interface {
	Predict(record *models.TelemetryRecord) *models.Prediction
}

// RecorderServiceConfig holds configuration for the recorder service
type RecorderServiceConfig struct {
	BaselineCM       float64
	Ranges           aggregator.Ranges
	TelemetryBufSize int
	ImageBufSize     int
	StoreTimeout     time.Duration
}

// DefaultRecorderServiceConfig returns default configuration
func DefaultRecorderServiceConfig(baselineCM float64) RecorderServiceConfig {
	return RecorderServiceConfig{
		BaselineCM:       baselineCM,
		Ranges:           aggregator.DefaultRanges(),
		TelemetryBufSize: 100,
		ImageBufSize:     10, // images are large
		StoreTimeout:     5 * time.Second,
	}
}

// RecorderService filters, enriches and persists telemetry and fallback
// images observed on the bus
type RecorderService struct {
	filter    *aggregator.TelemetryFilter
	store     RecordStore
	latest    LatestStore
	predictor Predictor
	metrics   *observability.RecorderMetrics
	logger    *zap.Logger

	storeTimeout time.Duration

	// Input channels from MQTT subscriber
	TelemetryChan chan *models.Telemetry
	ImageChan     chan *models.ReceivedImage

	now func() time.Time
}

// NewRecorderService creates a new recorder service. latest, predictor and
// metrics may be nil.
func NewRecorderService(
	store RecordStore,
	latest LatestStore,
	predictor Predictor,
	config RecorderServiceConfig,
	metrics *observability.RecorderMetrics,
	logger *zap.Logger,
) *RecorderService {
	timeout := config.StoreTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}

	return &RecorderService{
		filter:        aggregator.NewTelemetryFilter(config.Ranges, config.BaselineCM),
		store:         store,
		latest:        latest,
		predictor:     predictor,
		metrics:       metrics,
		logger:        logger,
		storeTimeout:  timeout,
		TelemetryChan: make(chan *models.Telemetry, config.TelemetryBufSize),
		ImageChan:     make(chan *models.ReceivedImage, config.ImageBufSize),
		now:           time.Now,
	}
}

// SeedRiseRate sets the water level the first rise rate is computed against
func (s *RecorderService) SeedRiseRate(levelCM float64) {
	s.filter.Seed(levelCM)
}

// RestoreReference seeds the rise-rate reference after a restart, preferring
// the cached latest record over the last stored row. Either source may be
// nil. It reports whether a reference was found.
func (s *RecorderService) RestoreReference(ctx context.Context, cached LatestReader, history LevelHistory) bool {
	if cached != nil {
		record, err := cached.GetLatest(ctx)
		if err == nil {
			s.SeedRiseRate(record.WaterLevelCM)
			s.logger.Info("Rise-rate reference restored from cache", zap.Float64("water_level_cm", record.WaterLevelCM))
			return true
		}
		if !errors.Is(err, cache.ErrCacheMiss) {
			s.logger.Warn("Could not read cached latest record", zap.Error(err))
		}
	}

	if history == nil {
		return false
	}
	level, ok, err := history.LastWaterLevel(ctx)
	if err != nil {
		s.logger.Warn("Could not read last stored water level", zap.Error(err))
		return false
	}
	if !ok {
		return false
	}
	s.SeedRiseRate(level)
	s.logger.Info("Rise-rate reference restored from storage", zap.Float64("water_level_cm", level))
	return true
}

// Start processes both channels until ctx is cancelled. It returns once
// both loops have finished their current message.
func (s *RecorderService) Start(ctx context.Context) {
	s.logger.Info("RecorderService: Starting...")

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		s.processImageLoop(ctx)
	}()
	s.processTelemetryLoop(ctx)
	wg.Wait()

	s.logger.Info("RecorderService: Shutting down...")
}

func (s *RecorderService) processTelemetryLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case t, ok := <-s.TelemetryChan:
			if !ok {
				return
			}
			s.ProcessTelemetry(ctx, t)
		}
	}
}

func (s *RecorderService) processImageLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case img, ok := <-s.ImageChan:
			if !ok {
				return
			}
			s.ProcessImage(ctx, img)
		}
	}
}

// ProcessTelemetry handles a single telemetry message. It returns the stored
// record, or nil when the message was rejected or could not be stored.
func (s *RecorderService) ProcessTelemetry(ctx context.Context, t *models.Telemetry) *models.TelemetryRecord {
	record, err := s.filter.Accept(t, s.now())
	if err != nil {
		reason := "unknown"
		var reject *aggregator.RejectError
		if errors.As(err, &reject) {
			reason = reject.Field
		}
		if s.metrics != nil {
			s.metrics.Rejected.WithLabelValues(reason).Inc()
		}
		s.logger.Warn("Rejected telemetry", zap.Int64("timestamp", t.Timestamp), zap.Error(err))
		return nil
	}

	storeCtx, cancel := context.WithTimeout(ctx, s.storeTimeout)
	defer cancel()

	if err := s.store.SaveTelemetry(storeCtx, record); err != nil {
		s.logger.Error("Error saving telemetry", zap.Error(err))
		return nil
	}
	if s.metrics != nil {
		s.metrics.Stored.Inc()
	}
	s.logger.Debug("Saved telemetry",
		zap.Float64("water_level_cm", record.WaterLevelCM),
		zap.Float64("water_rise_rate", record.WaterRiseRate),
		zap.Int("danger_level", record.DangerLevel),
	)

	// Best effort: the cache only serves dashboards
	if s.latest != nil {
		if err := s.latest.SetLatest(storeCtx, record); err != nil {
			s.logger.Warn("Error caching latest telemetry", zap.Error(err))
		}
	}

	if s.predictor != nil {
		s.predict(storeCtx, record)
	}

	return record
}

func (s *RecorderService) predict(ctx context.Context, record *models.TelemetryRecord) {
	prediction := s.predictor.Predict(record)
	if s.metrics != nil {
		s.metrics.Predictions.WithLabelValues(prediction.Label).Inc()
	}

	switch {
	case prediction.ForcedAlarm:
		s.logger.Error("ALARM: extreme temperature, forcing alarm",
			zap.Float64p("temperature_c", record.TemperatureC),
			zap.Float64("water_level_cm", record.WaterLevelCM),
		)
	case prediction.Label == models.LabelDanger:
		s.logger.Warn("Model predicts danger",
			zap.Float64("score", prediction.Score),
			zap.Float64("water_level_cm", record.WaterLevelCM),
		)
	default:
		s.logger.Debug("Model prediction", zap.String("label", prediction.Label), zap.Float64("score", prediction.Score))
	}

	if err := s.store.SavePrediction(ctx, prediction); err != nil {
		s.logger.Error("Error saving prediction", zap.Error(err))
	}
}

// ProcessImage stores the metadata of a fallback image
func (s *RecorderService) ProcessImage(ctx context.Context, img *models.ReceivedImage) *models.AlertImage {
	meta := &models.AlertImage{
		ReceivedAt: img.ReceivedAt,
		SizeBytes:  len(img.Data),
		SHA256:     aggregator.ComputeHash(img.Data),
	}

	storeCtx, cancel := context.WithTimeout(ctx, s.storeTimeout)
	defer cancel()

	if err := s.store.SaveAlertImage(storeCtx, meta); err != nil {
		s.logger.Error("Error saving alert image", zap.Error(err))
		return nil
	}
	if s.metrics != nil {
		s.metrics.Images.Inc()
	}

	s.logger.Info("Saved alert image",
		zap.Int("bytes", meta.SizeBytes),
		zap.String("sha256", meta.SHA256[:12]),
	)
	return meta
}
