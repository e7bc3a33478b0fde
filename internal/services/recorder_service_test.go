package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"river-monitor/internal/aggregator"
	"river-monitor/internal/cache"
	"river-monitor/internal/ml"
	"river-monitor/internal/models"
	"river-monitor/internal/observability"
)

type fakeStore struct {
	mu          sync.Mutex
	telemetry   []*models.TelemetryRecord
	images      []*models.AlertImage
	predictions []*models.Prediction
	err         error

	// imageGate, when set, holds SaveAlertImage until closed
	imageGate    chan struct{}
	imageEntered chan struct{}
}

func (s *fakeStore) SaveTelemetry(ctx context.Context, record *models.TelemetryRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.telemetry = append(s.telemetry, record)
	return nil
}

func (s *fakeStore) SaveAlertImage(ctx context.Context, image *models.AlertImage) error {
	if s.imageEntered != nil {
		s.imageEntered <- struct{}{}
	}
	if s.imageGate != nil {
		<-s.imageGate
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.images = append(s.images, image)
	return nil
}

func (s *fakeStore) SavePrediction(ctx context.Context, prediction *models.Prediction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.predictions = append(s.predictions, prediction)
	return nil
}

func (s *fakeStore) counts() (int, int, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.telemetry), len(s.images), len(s.predictions)
}

func fptr(v float64) *float64 { return &v }

func newTestRecorder(t *testing.T) (*RecorderService, *fakeStore, *cache.LatestCache, *observability.RecorderMetrics) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := cache.NewRedisClient(cache.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	latest := cache.NewLatestCache(client, time.Minute)

	predictor, err := ml.NewPredictor(ml.SampleModel(), zap.NewNop())
	require.NoError(t, err)

	store := &fakeStore{}
	metrics := observability.NewRecorderMetrics(prometheus.NewRegistry())
	svc := NewRecorderService(store, latest, predictor, DefaultRecorderServiceConfig(50), metrics, zap.NewNop())
	svc.now = func() time.Time { return time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC) }
	return svc, store, latest, metrics
}

func TestRecorder_StoresAcceptedTelemetry(t *testing.T) {
	svc, store, latest, metrics := newTestRecorder(t)
	ctx := context.Background()

	first := svc.ProcessTelemetry(ctx, &models.Telemetry{
		Timestamp:    1717243200000,
		WaterLevelCM: 45,
		TemperatureC: fptr(26),
		HumidityPct:  fptr(80),
		RainLevel:    1,
	})
	require.NotNil(t, first)
	assert.InDelta(t, 0.9, first.WaterLevelNorm, 1e-9)
	assert.True(t, first.Rain)

	second := svc.ProcessTelemetry(ctx, &models.Telemetry{Timestamp: 1717243205000, WaterLevelCM: 35, HumidityPct: fptr(80)})
	require.NotNil(t, second)
	assert.InDelta(t, -10.0, second.WaterRiseRate, 1e-9)

	telemetry, _, predictions := store.counts()
	assert.Equal(t, 2, telemetry)
	assert.Equal(t, 2, predictions)
	// norm 0.9, raining, humidity 80: 10 - 9 + 1 + 0.8
	assert.Equal(t, models.LabelAlert, store.predictions[0].Label)
	// norm 0.7, rise -10, humidity 80: 10 - 7 + 5 + 0.8
	assert.Equal(t, models.LabelDanger, store.predictions[1].Label)

	cached, err := latest.GetLatest(ctx)
	require.NoError(t, err)
	assert.Equal(t, 35.0, cached.WaterLevelCM)

	assert.Equal(t, 2.0, testutil.ToFloat64(metrics.Stored))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.Predictions.WithLabelValues("danger")))
}

func TestRecorder_RejectsOutOfRange(t *testing.T) {
	svc, store, latest, metrics := newTestRecorder(t)
	ctx := context.Background()

	assert.Nil(t, svc.ProcessTelemetry(ctx, &models.Telemetry{WaterLevelCM: -1}))
	assert.Nil(t, svc.ProcessTelemetry(ctx, &models.Telemetry{WaterLevelCM: 40, HumidityPct: fptr(140)}))

	telemetry, _, predictions := store.counts()
	assert.Zero(t, telemetry)
	assert.Zero(t, predictions)

	_, err := latest.GetLatest(ctx)
	assert.ErrorIs(t, err, cache.ErrCacheMiss)

	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.Rejected.WithLabelValues("water_level_cm")))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.Rejected.WithLabelValues("humidity_pct")))
}

func TestRecorder_ForcedAlarmOnHighTemperature(t *testing.T) {
	svc, store, _, _ := newTestRecorder(t)

	require.NotNil(t, svc.ProcessTelemetry(context.Background(), &models.Telemetry{
		WaterLevelCM: 50,
		TemperatureC: fptr(75),
	}))

	require.Len(t, store.predictions, 1)
	assert.True(t, store.predictions[0].ForcedAlarm)
	assert.Equal(t, models.LabelDanger, store.predictions[0].Label)
}

func TestRecorder_StoreFailureSkipsCacheAndPrediction(t *testing.T) {
	svc, store, latest, metrics := newTestRecorder(t)
	store.err = errors.New("clickhouse down")

	assert.Nil(t, svc.ProcessTelemetry(context.Background(), &models.Telemetry{WaterLevelCM: 40}))

	_, err := latest.GetLatest(context.Background())
	assert.ErrorIs(t, err, cache.ErrCacheMiss)
	assert.Zero(t, testutil.ToFloat64(metrics.Stored))
}

func TestRecorder_SeedRiseRate(t *testing.T) {
	svc, _, _, _ := newTestRecorder(t)
	svc.SeedRiseRate(42)

	record := svc.ProcessTelemetry(context.Background(), &models.Telemetry{WaterLevelCM: 40})
	require.NotNil(t, record)
	assert.InDelta(t, -2.0, record.WaterRiseRate, 1e-9)
}

func TestRecorder_WithoutOptionalCollaborators(t *testing.T) {
	store := &fakeStore{}
	svc := NewRecorderService(store, nil, nil, DefaultRecorderServiceConfig(50), nil, zap.NewNop())

	require.NotNil(t, svc.ProcessTelemetry(context.Background(), &models.Telemetry{WaterLevelCM: 40}))
	require.Nil(t, svc.ProcessTelemetry(context.Background(), &models.Telemetry{WaterLevelCM: 4000}))

	telemetry, _, predictions := store.counts()
	assert.Equal(t, 1, telemetry)
	assert.Zero(t, predictions)
}

func TestRecorder_ProcessImage(t *testing.T) {
	svc, store, _, metrics := newTestRecorder(t)
	received := time.Date(2024, 6, 1, 12, 30, 0, 0, time.UTC)

	meta := svc.ProcessImage(context.Background(), &models.ReceivedImage{ReceivedAt: received, Data: []byte("abc")})
	require.NotNil(t, meta)

	assert.Equal(t, received, meta.ReceivedAt)
	assert.Equal(t, 3, meta.SizeBytes)
	assert.Equal(t, aggregator.ComputeHash([]byte("abc")), meta.SHA256)
	assert.Len(t, store.images, 1)
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.Images))
}

func TestRecorder_StartConsumesChannels(t *testing.T) {
	store := &fakeStore{}
	svc := NewRecorderService(store, nil, nil, DefaultRecorderServiceConfig(50), nil, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		svc.Start(ctx)
		close(done)
	}()

	svc.TelemetryChan <- &models.Telemetry{WaterLevelCM: 40}
	svc.ImageChan <- &models.ReceivedImage{ReceivedAt: time.Now(), Data: []byte{0xFF, 0xD8}}

	require.Eventually(t, func() bool {
		telemetry, images, _ := store.counts()
		return telemetry == 1 && images == 1
	}, 2*time.Second, 5*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("recorder did not stop")
	}
}

func TestRecorder_StartWaitsForImageLoop(t *testing.T) {
	store := &fakeStore{
		imageGate:    make(chan struct{}),
		imageEntered: make(chan struct{}, 1),
	}
	svc := NewRecorderService(store, nil, nil, DefaultRecorderServiceConfig(50), nil, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		svc.Start(ctx)
		close(done)
	}()

	svc.ImageChan <- &models.ReceivedImage{ReceivedAt: time.Now(), Data: []byte{0xFF, 0xD8}}
	select {
	case <-store.imageEntered:
	case <-time.After(time.Second):
		t.Fatal("image was not saved")
	}

	cancel()
	select {
	case <-done:
		t.Fatal("Start returned while an image save was in progress")
	case <-time.After(100 * time.Millisecond):
	}

	close(store.imageGate)
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("recorder did not stop")
	}
	_, images, _ := store.counts()
	assert.Equal(t, 1, images)
}

type fakeHistory struct {
	level float64
	ok    bool
	err   error
	calls int
}

func (h *fakeHistory) LastWaterLevel(ctx context.Context) (float64, bool, error) {
	h.calls++
	return h.level, h.ok, h.err
}

func TestRecorder_RestoreReference(t *testing.T) {
	ctx := context.Background()

	t.Run("prefers cache", func(t *testing.T) {
		svc, _, latest, _ := newTestRecorder(t)
		require.NoError(t, latest.SetLatest(ctx, &models.TelemetryRecord{WaterLevelCM: 33}))
		history := &fakeHistory{level: 20, ok: true}

		require.True(t, svc.RestoreReference(ctx, latest, history))
		assert.Zero(t, history.calls)

		record := svc.ProcessTelemetry(ctx, &models.Telemetry{WaterLevelCM: 30})
		require.NotNil(t, record)
		assert.InDelta(t, -3.0, record.WaterRiseRate, 1e-9)
	})

	t.Run("cache miss falls back to storage", func(t *testing.T) {
		svc, _, latest, _ := newTestRecorder(t)
		history := &fakeHistory{level: 20, ok: true}

		require.True(t, svc.RestoreReference(ctx, latest, history))
		assert.Equal(t, 1, history.calls)

		record := svc.ProcessTelemetry(ctx, &models.Telemetry{WaterLevelCM: 30})
		require.NotNil(t, record)
		assert.InDelta(t, 10.0, record.WaterRiseRate, 1e-9)
	})

	t.Run("nothing to restore", func(t *testing.T) {
		svc, _, _, _ := newTestRecorder(t)
		assert.False(t, svc.RestoreReference(ctx, nil, &fakeHistory{err: errors.New("clickhouse down")}))
		assert.False(t, svc.RestoreReference(ctx, nil, nil))

		record := svc.ProcessTelemetry(ctx, &models.Telemetry{WaterLevelCM: 30})
		require.NotNil(t, record)
		assert.Zero(t, record.WaterRiseRate)
	})
}
