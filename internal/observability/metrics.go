package observability

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// SensorMetrics covers the sensor node
type SensorMetrics struct {
	Samples    prometheus.Counter
	Invalid    *prometheus.CounterVec // by sensor
	Triggers   *prometheus.CounterVec // by path
	Suppressed prometheus.Counter
	WaterLevel prometheus.Gauge
	Danger     prometheus.Gauge
	TrendRise  prometheus.Gauge
}

// NewSensorMetrics registers the sensor node metrics on reg
func NewSensorMetrics(reg prometheus.Registerer) *SensorMetrics {
	m := &SensorMetrics{
		Samples: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "river_samples_total",
			Help: "Sampling ticks that produced a valid distance.",
		}),
		Invalid: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "river_invalid_readings_total",
			Help: "Sensor reads that returned no usable value.",
		}, []string{"sensor"}),
		Triggers: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "river_capture_triggers_total",
			Help: "Capture triggers published, by decision path.",
		}, []string{"path"}),
		Suppressed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "river_capture_triggers_suppressed_total",
			Help: "Watch-level samples whose trigger was suppressed by the cooldown.",
		}),
		WaterLevel: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "river_distance_cm",
			Help: "Last measured sensor-to-surface distance.",
		}),
		Danger: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "river_danger_level",
			Help: "Last danger level (0-3).",
		}),
		TrendRise: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "river_trend_rise_cm",
			Help: "Rise measured over the last trend interval.",
		}),
	}
	reg.MustRegister(m.Samples, m.Invalid, m.Triggers, m.Suppressed, m.WaterLevel, m.Danger, m.TrendRise)
	return m
}

// CaptureMetrics covers the capture node
type CaptureMetrics struct {
	TriggersReceived prometheus.Counter
	TriggersDropped  prometheus.Counter
	CaptureFailures  prometheus.Counter
	Outcomes         *prometheus.CounterVec // by outcome
	UploadLatency    prometheus.Histogram
}

// NewCaptureMetrics registers the capture node metrics on reg
func NewCaptureMetrics(reg prometheus.Registerer) *CaptureMetrics {
	m := &CaptureMetrics{
		TriggersReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "river_capture_triggers_received_total",
			Help: "CAPTURE commands received from the bus.",
		}),
		TriggersDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "river_capture_triggers_dropped_total",
			Help: "CAPTURE commands dropped because a capture was in flight.",
		}),
		CaptureFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "river_capture_failures_total",
			Help: "Capture cycles aborted because no frame was available.",
		}),
		Outcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "river_delivery_outcomes_total",
			Help: "Completed delivery cycles by outcome.",
		}, []string{"outcome"}),
		UploadLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "river_upload_duration_seconds",
			Help:    "Duration of primary upload attempts.",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 10),
		}),
	}
	reg.MustRegister(m.TriggersReceived, m.TriggersDropped, m.CaptureFailures, m.Outcomes, m.UploadLatency)
	return m
}

// RecorderMetrics covers the telemetry recorder
type RecorderMetrics struct {
	Stored      prometheus.Counter
	Rejected    *prometheus.CounterVec // by reason
	Images      prometheus.Counter
	Predictions *prometheus.CounterVec // by label
}

// NewRecorderMetrics registers the recorder metrics on reg
func NewRecorderMetrics(reg prometheus.Registerer) *RecorderMetrics {
	m := &RecorderMetrics{
		Stored: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "river_telemetry_stored_total",
			Help: "Telemetry records persisted.",
		}),
		Rejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "river_telemetry_rejected_total",
			Help: "Telemetry messages rejected, by reason.",
		}, []string{"reason"}),
		Images: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "river_alert_images_total",
			Help: "Fallback images received and recorded.",
		}),
		Predictions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "river_predictions_total",
			Help: "Advisory model predictions, by label.",
		}, []string{"label"}),
	}
	reg.MustRegister(m.Stored, m.Rejected, m.Images, m.Predictions)
	return m
}

// Handler exposes /metrics and /readyz. ready may be nil, in which case
// the process always reports ready.
func Handler(gatherer prometheus.Gatherer, ready func() bool) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	mux.HandleFunc("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if ready != nil && !ready() {
			http.Error(w, "not ready", http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte("ok"))
	})
	return mux
}

// Serve runs the metrics and readiness endpoint until ctx is cancelled. An
// empty addr disables it.
func Serve(ctx context.Context, addr string, gatherer prometheus.Gatherer, ready func() bool, logger *zap.Logger) {
	if addr == "" {
		return
	}

	srv := &http.Server{Addr: addr, Handler: Handler(gatherer, ready), ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.Info("Metrics endpoint listening", zap.String("addr", addr))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("Metrics endpoint failed", zap.Error(err))
	}
}
