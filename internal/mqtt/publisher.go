package mqtt

import (
	"encoding/base64"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"
	"river-monitor/internal/models"
)

// Publisher publishes the river monitoring messages
type Publisher struct {
	bus    Bus
	logger *zap.Logger

	dataTopic  string
	camTopic   string
	imageTopic string
}

// PublisherConfig holds the topics the publisher writes to
type PublisherConfig struct {
	DataTopic  string // e.g., "river/monitoring/data"
	CamTopic   string // e.g., "river/alert/cam"
	ImageTopic string // e.g., "river/alert/image"
}

// NewPublisher creates a publisher on top of bus
func NewPublisher(bus Bus, config PublisherConfig, logger *zap.Logger) *Publisher {
	return &Publisher{
		bus:        bus,
		logger:     logger,
		dataTopic:  config.DataTopic,
		camTopic:   config.CamTopic,
		imageTopic: config.ImageTopic,
	}
}

// PublishTelemetry publishes one telemetry sample as JSON
func (p *Publisher) PublishTelemetry(t models.Telemetry) error {
	payload, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("failed to marshal telemetry: %w", err)
	}

	if err := p.bus.Publish(p.dataTopic, 0, false, payload); err != nil {
		return fmt.Errorf("failed to publish telemetry: %w", err)
	}
	return nil
}

// PublishCaptureTrigger asks the capture node for one image
func (p *Publisher) PublishCaptureTrigger() error {
	if err := p.bus.Publish(p.camTopic, 1, false, []byte(models.CaptureCommand)); err != nil {
		return fmt.Errorf("failed to publish capture trigger: %w", err)
	}

	p.logger.Info("Published capture trigger", zap.String("topic", p.camTopic))
	return nil
}

// PublishImage publishes a JPEG as a single base64 message. Large frames
// may exceed the broker's message size limit; there is no chunking.
func (p *Publisher) PublishImage(data []byte) error {
	payload := make([]byte, base64.StdEncoding.EncodedLen(len(data)))
	base64.StdEncoding.Encode(payload, data)

	if err := p.bus.Publish(p.imageTopic, 0, false, payload); err != nil {
		return fmt.Errorf("failed to publish image: %w", err)
	}

	p.logger.Info("Published image on fallback topic",
		zap.String("topic", p.imageTopic),
		zap.Int("bytes", len(data)),
		zap.Int("encoded_bytes", len(payload)),
	)
	return nil
}
