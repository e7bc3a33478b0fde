package capture

import (
	"context"
	"encoding/base64"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"river-monitor/internal/models"
	"river-monitor/internal/mqtt"
	"river-monitor/internal/observability"
)

var testJPEG = []byte{0xFF, 0xD8, 0xFF, 0xDB, 0x00, 0x43, 0x00, 0x08, 0x06, 0x06, 0x07, 0xFF, 0xD9}

// fakeCamera tracks outstanding artifacts. gate, when set, blocks
// AcquireFrame until it is closed.
type fakeCamera struct {
	mu          sync.Mutex
	acquired    int
	released    int
	outstanding int
	maxAlive    int
	err         error
	gate        chan struct{}
	entered     chan struct{}
}

func (c *fakeCamera) AcquireFrame(ctx context.Context) (*models.Artifact, error) {
	if c.entered != nil {
		c.entered <- struct{}{}
	}
	if c.gate != nil {
		<-c.gate
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return nil, c.err
	}
	c.acquired++
	c.outstanding++
	if c.outstanding > c.maxAlive {
		c.maxAlive = c.outstanding
	}
	data := make([]byte, len(testJPEG))
	copy(data, testJPEG)
	return &models.Artifact{CapturedAt: time.Now(), Data: data}, nil
}

func (c *fakeCamera) Release(a *models.Artifact) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if a.Data == nil {
		panic("artifact released twice")
	}
	a.Data = nil
	c.released++
	c.outstanding--
}

type fakeUploader struct {
	mu    sync.Mutex
	calls int
	err   error
	block bool
	done  chan struct{}
}

func (u *fakeUploader) Upload(ctx context.Context, a *models.Artifact) error {
	u.mu.Lock()
	u.calls++
	u.mu.Unlock()
	if u.done != nil {
		defer func() { u.done <- struct{}{} }()
	}

	if u.block {
		<-ctx.Done()
		return ctx.Err()
	}
	return u.err
}

type fakeFallback struct {
	mu       sync.Mutex
	payloads [][]byte
	err      error
}

func (f *fakeFallback) PublishImage(data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := make([]byte, len(data))
	copy(cp, data)
	f.payloads = append(f.payloads, cp)
	return f.err
}

func newTestPipeline(cam Camera, up Uploader, fb FallbackPublisher) (*Pipeline, *observability.CaptureMetrics) {
	metrics := observability.NewCaptureMetrics(prometheus.NewRegistry())
	return NewPipeline(cam, up, fb, Config{MaxUploadDuration: 100 * time.Millisecond}, metrics, zap.NewNop()), metrics
}

func TestPipeline_PrimarySucceeded(t *testing.T) {
	cam := &fakeCamera{}
	up := &fakeUploader{}
	fb := &fakeFallback{}
	p, metrics := newTestPipeline(cam, up, fb)

	result, err := p.Capture(context.Background())
	require.NoError(t, err)

	assert.Equal(t, models.PrimarySucceeded, result.Outcome)
	assert.NotEmpty(t, result.CycleID)
	assert.Equal(t, len(testJPEG), result.SizeBytes)
	assert.Equal(t, 1, up.calls)
	assert.Empty(t, fb.payloads)
	assert.Equal(t, 1, cam.released)
	assert.Equal(t, 0, cam.outstanding)
	assert.Equal(t, StateIdle, p.State())
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.Outcomes.WithLabelValues("primary_succeeded")))
}

func TestPipeline_FallbackOnConnectRefused(t *testing.T) {
	// A closed server gives a refused connection on its old address
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	uploader, err := NewHTTPUploader(UploaderConfig{URL: url, Timeout: time.Second}, zap.NewNop())
	require.NoError(t, err)

	bus := &recordingBus{}
	publisher := mqtt.NewPublisher(bus, mqtt.PublisherConfig{ImageTopic: "river/alert/image"}, zap.NewNop())

	cam := &fakeCamera{}
	p, _ := newTestPipeline(cam, uploader, publisher)

	result, err := p.Capture(context.Background())
	require.NoError(t, err)

	assert.Equal(t, models.FallbackSucceeded, result.Outcome)
	assert.ErrorIs(t, result.PrimaryErr, ErrUploadFailed)

	require.Len(t, bus.payloads, 1)
	assert.Equal(t, "river/alert/image", bus.topics[0])
	decoded, err := base64.StdEncoding.DecodeString(string(bus.payloads[0]))
	require.NoError(t, err)
	assert.Equal(t, testJPEG, decoded)
	assert.Equal(t, 1, cam.released)
}

func TestPipeline_UploadCapFallsBack(t *testing.T) {
	cam := &fakeCamera{}
	up := &fakeUploader{block: true}
	fb := &fakeFallback{}
	p, _ := newTestPipeline(cam, up, fb)

	start := time.Now()
	result, err := p.Capture(context.Background())
	require.NoError(t, err)

	assert.Less(t, time.Since(start), 2*time.Second)
	assert.Equal(t, models.FallbackSucceeded, result.Outcome)
	assert.ErrorIs(t, result.PrimaryErr, context.DeadlineExceeded)
	assert.ErrorIs(t, result.PrimaryErr, ErrUploadFailed)
	assert.Len(t, fb.payloads, 1)
}

func TestPipeline_BothFailed(t *testing.T) {
	cam := &fakeCamera{}
	up := &fakeUploader{err: errors.New("status 503")}
	fb := &fakeFallback{err: errors.New("broker unreachable")}
	p, metrics := newTestPipeline(cam, up, fb)

	result, err := p.Capture(context.Background())
	require.NoError(t, err)

	assert.Equal(t, models.BothFailed, result.Outcome)
	assert.ErrorIs(t, result.FallbackErr, ErrFallbackFailed)
	assert.Equal(t, 1, up.calls)
	assert.Len(t, fb.payloads, 1)
	assert.Equal(t, 1, cam.released)
	assert.Equal(t, StateIdle, p.State())
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.Outcomes.WithLabelValues("both_failed")))
}

func TestPipeline_CaptureFailureAbortsCycle(t *testing.T) {
	cam := &fakeCamera{err: errors.New("no frame buffer")}
	up := &fakeUploader{}
	fb := &fakeFallback{}
	p, metrics := newTestPipeline(cam, up, fb)

	_, err := p.Capture(context.Background())
	require.ErrorIs(t, err, ErrFrameUnavailable)

	assert.Zero(t, up.calls)
	assert.Empty(t, fb.payloads)
	assert.Zero(t, cam.released)
	assert.Equal(t, StateIdle, p.State())
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.CaptureFailures))
}

func TestPipeline_TriggerWhileBusyIsDropped(t *testing.T) {
	cam := &fakeCamera{gate: make(chan struct{}), entered: make(chan struct{}, 1)}
	up := &fakeUploader{}
	fb := &fakeFallback{}
	p, metrics := newTestPipeline(cam, up, fb)

	done := make(chan Result, 1)
	go func() {
		result, err := p.Capture(context.Background())
		assert.NoError(t, err)
		done <- result
	}()

	<-cam.entered
	assert.Equal(t, StateCapturing, p.State())

	assert.False(t, p.Trigger())
	_, err := p.Capture(context.Background())
	assert.ErrorIs(t, err, ErrCaptureInFlight)

	close(cam.gate)
	result := <-done

	assert.Equal(t, models.PrimarySucceeded, result.Outcome)
	assert.Equal(t, 1, cam.acquired)
	assert.Equal(t, 1, cam.released)
	assert.Equal(t, 1, cam.maxAlive)
	assert.Equal(t, 1, up.calls)
	assert.Equal(t, 2.0, testutil.ToFloat64(metrics.TriggersDropped))
	assert.Equal(t, StateIdle, p.State())
}

func TestPipeline_TriggerRunsOnStartLoop(t *testing.T) {
	cam := &fakeCamera{}
	up := &fakeUploader{done: make(chan struct{}, 1)}
	fb := &fakeFallback{}
	p, _ := newTestPipeline(cam, up, fb)

	require.True(t, p.Trigger())
	// Still pending: the second trigger is dropped
	assert.False(t, p.Trigger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go p.Start(ctx)

	select {
	case <-up.done:
	case <-time.After(2 * time.Second):
		t.Fatal("capture cycle did not run")
	}

	require.Eventually(t, func() bool { return p.State() == StateIdle }, time.Second, 5*time.Millisecond)
	assert.True(t, p.Trigger())
}

type recordingBus struct {
	mu       sync.Mutex
	topics   []string
	payloads [][]byte
}

func (b *recordingBus) Publish(topic string, qos byte, retained bool, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.topics = append(b.topics, topic)
	b.payloads = append(b.payloads, payload)
	return nil
}
