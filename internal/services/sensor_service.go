package services

import (
	"context"
	"math"
	"time"

	"go.uber.org/zap"
	"river-monitor/internal/alerting"
	"river-monitor/internal/models"
	"river-monitor/internal/observability"
	"river-monitor/internal/sensors"
)

// TelemetryPublisher is the bus side of the sensor node
type TelemetryPublisher interface {
	PublishTelemetry(t models.Telemetry) error
	PublishCaptureTrigger() error
}

// SensorServiceConfig holds configuration for the sensor service
type SensorServiceConfig struct {
	BaselineCM      float64
	SampleInterval  time.Duration
	TrendInterval   time.Duration
	AlertCooldown   time.Duration
	DangerRiseMinCM float64
}

// DefaultSensorServiceConfig returns default configuration
func DefaultSensorServiceConfig() SensorServiceConfig {
	return SensorServiceConfig{
		BaselineCM:      50.0,
		SampleInterval:  5 * time.Second,
		TrendInterval:   alerting.DefaultTrendInterval,
		AlertCooldown:   alerting.DefaultCooldown,
		DangerRiseMinCM: alerting.DefaultDangerRiseMin,
	}
}

// SensorService is the sensor node control loop. It owns the alert and
// trend state; both are only touched from the Start goroutine.
type SensorService struct {
	distance  sensors.DistanceSensor
	climate   sensors.ClimateSensor
	rain      sensors.RainSensor
	publisher TelemetryPublisher
	metrics   *observability.SensorMetrics
	logger    *zap.Logger

	config     SensorServiceConfig
	alertState *models.AlertState
	trendState *models.TrendState

	now func() time.Time
}

// NewSensorService creates a new sensor service. metrics may be nil.
func NewSensorService(
	distance sensors.DistanceSensor,
	climate sensors.ClimateSensor,
	rain sensors.RainSensor,
	publisher TelemetryPublisher,
	config SensorServiceConfig,
	metrics *observability.SensorMetrics,
	logger *zap.Logger,
) *SensorService {
	return &SensorService{
		distance:   distance,
		climate:    climate,
		rain:       rain,
		publisher:  publisher,
		metrics:    metrics,
		logger:     logger,
		config:     config,
		alertState: alerting.NewAlertState(config.AlertCooldown),
		trendState: &models.TrendState{},
		now:        time.Now,
	}
}

// Start runs the sampling and trend ticks until ctx is cancelled. The first
// sample and the trend baseline are taken immediately.
func (s *SensorService) Start(ctx context.Context) {
	s.logger.Info("SensorService: Starting...",
		zap.Duration("sample_interval", s.config.SampleInterval),
		zap.Duration("trend_interval", s.config.TrendInterval),
		zap.Duration("cooldown", s.config.AlertCooldown),
		zap.Float64("baseline_cm", s.config.BaselineCM),
	)

	sampleTicker := time.NewTicker(s.config.SampleInterval)
	defer sampleTicker.Stop()
	trendTicker := time.NewTicker(s.config.TrendInterval)
	defer trendTicker.Stop()

	s.SampleTick(ctx)
	s.TrendTick(ctx)

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("SensorService: Shutting down...")
			return
		case <-sampleTicker.C:
			s.SampleTick(ctx)
		case <-trendTicker.C:
			s.TrendTick(ctx)
		}
	}
}

// SampleTick takes one sample, publishes its telemetry and emits a capture
// trigger when the debouncer allows it. It returns nil when the distance
// reading was invalid and the tick was skipped.
func (s *SensorService) SampleTick(ctx context.Context) *models.Sample {
	now := s.now()

	distance, err := s.distance.Measure(ctx).Get()
	if err != nil {
		s.invalid("distance")
		s.logger.Warn("Skipping sample, distance reading invalid", zap.Error(err))
		return nil
	}

	temperature, humidity := s.climate.Read(ctx)
	if !temperature.Valid {
		s.invalid("temperature")
	}
	if !humidity.Valid {
		s.invalid("humidity")
	}

	rain := models.RainDry
	if raw, err := s.rain.ReadRaw(ctx); err != nil {
		s.invalid("rain")
		s.logger.Warn("Rain sensor read failed, assuming dry", zap.Error(err))
	} else {
		rain = sensors.RainCodeFromRaw(raw)
	}

	sample := &models.Sample{
		Timestamp:   now,
		DistanceCM:  distance,
		Temperature: temperature.Ptr(),
		Humidity:    humidity.Ptr(),
		Rain:        rain,
	}
	level := alerting.Classify(sample.DistanceCM, s.config.BaselineCM)

	if s.metrics != nil {
		s.metrics.Samples.Inc()
		s.metrics.WaterLevel.Set(distance)
		s.metrics.Danger.Set(float64(level))
	}

	if err := s.publisher.PublishTelemetry(NewTelemetry(sample, level)); err != nil {
		s.logger.Error("Failed to publish telemetry", zap.Error(err))
	}

	if alerting.OnSample(level, now, s.alertState) {
		s.emitTrigger(models.TriggerThreshold,
			zap.Stringer("danger_level", level),
			zap.Float64("distance_cm", distance),
		)
	} else if level >= models.DangerWatch {
		if s.metrics != nil {
			s.metrics.Suppressed.Inc()
		}
		s.logger.Debug("Capture trigger suppressed by cooldown",
			zap.Stringer("danger_level", level),
			zap.Time("last_alert", *s.alertState.LastAlertTime),
		)
	}

	return sample
}

// TrendTick takes a fresh distance reading for the trend monitor and emits
// a trigger when the rise since the previous tick exceeds the threshold.
// Trend triggers bypass the cooldown.
func (s *SensorService) TrendTick(ctx context.Context) {
	now := s.now()

	distance, err := s.distance.Measure(ctx).Get()
	if err != nil {
		s.invalid("distance")
		s.logger.Warn("Skipping trend check, distance reading invalid", zap.Error(err))
		return
	}

	rise, ok := alerting.OnTrendTick(distance, s.trendState, now)
	if !ok {
		s.logger.Info("Trend baseline set", zap.Float64("distance_cm", distance))
		return
	}

	if s.metrics != nil {
		s.metrics.TrendRise.Set(rise)
	}
	s.logger.Debug("Trend check", zap.Float64("rise_cm", rise), zap.Float64("distance_cm", distance))

	if alerting.TrendExceeded(rise, s.config.DangerRiseMinCM) {
		s.emitTrigger(models.TriggerTrend,
			zap.Float64("rise_cm", rise),
			zap.Float64("distance_cm", distance),
		)
	}
}

func (s *SensorService) emitTrigger(path models.TriggerPath, fields ...zap.Field) {
	fields = append(fields, zap.String("path", string(path)))

	if err := s.publisher.PublishCaptureTrigger(); err != nil {
		s.logger.Error("Failed to publish capture trigger", append(fields, zap.Error(err))...)
		return
	}

	if s.metrics != nil {
		s.metrics.Triggers.WithLabelValues(string(path)).Inc()
	}
	s.logger.Info("Capture trigger emitted", fields...)
}

func (s *SensorService) invalid(sensor string) {
	if s.metrics != nil {
		s.metrics.Invalid.WithLabelValues(sensor).Inc()
	}
}

// NewTelemetry builds the wire payload for a sample, rounding measurements
// to two decimals
func NewTelemetry(sample *models.Sample, level models.DangerLevel) models.Telemetry {
	return models.Telemetry{
		Timestamp:    sample.Timestamp.UnixMilli(),
		WaterLevelCM: round2(sample.DistanceCM),
		TemperatureC: round2Ptr(sample.Temperature),
		HumidityPct:  round2Ptr(sample.Humidity),
		DangerLevel:  int(level),
		RainLevel:    int(sample.Rain),
	}
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

func round2Ptr(v *float64) *float64 {
	if v == nil {
		return nil
	}
	r := round2(*v)
	return &r
}
