package mqtt

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"
	"river-monitor/internal/models"
)

// Subscriber routes bus messages to the local consumers
type Subscriber struct {
	client *Client
	logger *zap.Logger

	// OnCapture is called for every CAPTURE command (capture node)
	OnCapture func()

	// Output channels (recorder)
	TelemetryChan chan *models.Telemetry
	ImageChan     chan *models.ReceivedImage

	camTopic   string
	dataTopic  string
	imageTopic string

	now func() time.Time
}

// SubscriberConfig holds the topics to subscribe. Empty topics are skipped.
type SubscriberConfig struct {
	CamTopic   string // e.g., "river/alert/cam"
	DataTopic  string // e.g., "river/monitoring/data"
	ImageTopic string // e.g., "river/alert/image"
}

// NewSubscriber creates a subscriber. client may be nil in tests that drive
// the handlers directly.
func NewSubscriber(client *Client, config SubscriberConfig, logger *zap.Logger) *Subscriber {
	return &Subscriber{
		client:     client,
		logger:     logger,
		camTopic:   config.CamTopic,
		dataTopic:  config.DataTopic,
		imageTopic: config.ImageTopic,
		now:        time.Now,
	}
}

// SubscribeAll subscribes to all configured topics
func (s *Subscriber) SubscribeAll() error {
	if s.camTopic != "" {
		if err := s.client.Subscribe(s.camTopic, 1, s.handleCapture); err != nil {
			return fmt.Errorf("failed to subscribe to capture topic: %w", err)
		}
	}

	if s.dataTopic != "" {
		if err := s.client.Subscribe(s.dataTopic, 0, s.handleTelemetry); err != nil {
			return fmt.Errorf("failed to subscribe to telemetry topic: %w", err)
		}
	}

	if s.imageTopic != "" {
		if err := s.client.Subscribe(s.imageTopic, 0, s.handleImage); err != nil {
			return fmt.Errorf("failed to subscribe to image topic: %w", err)
		}
	}

	return nil
}

// handleCapture forwards CAPTURE commands; any other payload is ignored
func (s *Subscriber) handleCapture(topic string, payload []byte) {
	if string(bytes.TrimSpace(payload)) != models.CaptureCommand {
		s.logger.Debug("Ignoring non-capture payload", zap.String("topic", topic), zap.Int("bytes", len(payload)))
		return
	}

	if s.OnCapture == nil {
		s.logger.Warn("Capture command received but no handler is set")
		return
	}
	s.OnCapture()
}

// rawTelemetry tolerates missing fields
type rawTelemetry struct {
	Timestamp    *int64   `json:"timestamp"`
	WaterLevelCM *float64 `json:"water_level_cm"`
	TemperatureC *float64 `json:"temperature_c"`
	HumidityPct  *float64 `json:"humidity_pct"`
	DangerLevel  *int     `json:"danger_level"`
	RainLevel    *int     `json:"rain_level"`
}

// ParseTelemetry decodes a telemetry payload. A missing timestamp becomes
// now, a missing water level becomes -1, missing levels become 0.
func ParseTelemetry(payload []byte, now time.Time) (*models.Telemetry, error) {
	var raw rawTelemetry
	if err := json.Unmarshal(payload, &raw); err != nil {
		return nil, fmt.Errorf("failed to unmarshal telemetry: %w", err)
	}

	t := &models.Telemetry{
		Timestamp:    now.UnixMilli(),
		WaterLevelCM: -1,
		TemperatureC: raw.TemperatureC,
		HumidityPct:  raw.HumidityPct,
	}
	if raw.Timestamp != nil {
		t.Timestamp = *raw.Timestamp
	}
	if raw.WaterLevelCM != nil {
		t.WaterLevelCM = *raw.WaterLevelCM
	}
	if raw.DangerLevel != nil {
		t.DangerLevel = *raw.DangerLevel
	}
	if raw.RainLevel != nil {
		t.RainLevel = *raw.RainLevel
	}
	return t, nil
}

// handleTelemetry parses telemetry messages and writes them to TelemetryChan
func (s *Subscriber) handleTelemetry(topic string, payload []byte) {
	t, err := ParseTelemetry(payload, s.now())
	if err != nil {
		s.logger.Warn("Dropping malformed telemetry", zap.String("topic", topic), zap.Error(err))
		return
	}

	select {
	case s.TelemetryChan <- t:
	case <-time.After(1 * time.Second):
		s.logger.Warn("Telemetry channel full, dropping message", zap.Int64("timestamp", t.Timestamp))
	}
}

// handleImage decodes fallback images and writes them to ImageChan
func (s *Subscriber) handleImage(topic string, payload []byte) {
	data, err := base64.StdEncoding.DecodeString(string(bytes.TrimSpace(payload)))
	if err != nil {
		s.logger.Warn("Dropping image with invalid base64", zap.String("topic", topic), zap.Error(err))
		return
	}

	img := &models.ReceivedImage{ReceivedAt: s.now(), Data: data}

	// Longer timeout for images
	select {
	case s.ImageChan <- img:
	case <-time.After(2 * time.Second):
		s.logger.Warn("Image channel full, dropping image", zap.Int("bytes", len(data)))
	}
}
