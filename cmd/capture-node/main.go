package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"river-monitor/internal/capture"
	"river-monitor/internal/logger"
	"river-monitor/internal/mqtt"
	"river-monitor/internal/observability"
	"river-monitor/pkg/config"
)

const serviceName = "capture-node"

func main() {
	cfg := config.Load(serviceName)

	zlog, err := logger.New(cfg.LogLevel, cfg.LogFormat, serviceName)
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer zlog.Sync()

	if err := run(cfg, zlog); err != nil {
		zlog.Fatal("Capture node failed", zap.Error(err))
	}
}

func newCamera(cfg *config.Config, zlog *zap.Logger) (capture.Camera, error) {
	switch cfg.CameraSource {
	case "file":
		return capture.NewFileCamera(cfg.CameraSnapshotPath), nil
	case "http":
		if cfg.CameraSnapshotURL == "" {
			return nil, fmt.Errorf("CAMERA_SNAPSHOT_URL is required for the http camera")
		}
		return capture.NewHTTPCamera(cfg.CameraSnapshotURL, cfg.CameraTimeout, zlog), nil
	default:
		return nil, fmt.Errorf("unsupported CAMERA_SOURCE %q", cfg.CameraSource)
	}
}

func run(cfg *config.Config, zlog *zap.Logger) error {
	zlog.Info("Starting river capture node...")

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if cfg.UploadURL == "" {
		zlog.Warn("UPLOAD_URL not set, every capture will use the fallback topic")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	registry := prometheus.NewRegistry()
	metrics := observability.NewCaptureMetrics(registry)

	camera, err := newCamera(cfg, zlog)
	if err != nil {
		return err
	}

	uploader, err := capture.NewHTTPUploader(capture.UploaderConfig{
		URL:      cfg.UploadURL,
		Token:    cfg.UploadToken,
		Field:    cfg.UploadField,
		CAFile:   cfg.UploadCAFile,
		Insecure: cfg.UploadInsecure,
		Timeout:  cfg.UploadTimeout,
	}, zlog)
	if err != nil {
		return fmt.Errorf("failed to initialize uploader: %w", err)
	}

	// === MQTT ===
	mqttClient, err := mqtt.NewClient(mqtt.ClientConfig{
		Broker:            cfg.MQTTBroker,
		ClientID:          cfg.MQTTClientID,
		Username:          cfg.MQTTUsername,
		Password:          cfg.MQTTPassword,
		CAFile:            cfg.MQTTCAFile,
		Insecure:          cfg.MQTTInsecure,
		ReconnectInterval: cfg.MQTTReconnectInterval,
	}, zlog)
	if err != nil {
		return fmt.Errorf("failed to initialize MQTT client: %w", err)
	}
	go observability.Serve(ctx, cfg.MetricsAddr, registry, mqttClient.IsConnected, zlog)

	publisher := mqtt.NewPublisher(mqttClient, mqtt.PublisherConfig{
		ImageTopic: cfg.TopicAlertImage,
	}, zlog)

	// === Capture Pipeline ===
	pipeline := capture.NewPipeline(camera, uploader, publisher, capture.Config{
		MaxUploadDuration: cfg.UploadMaxTotal,
	}, metrics, zlog)

	subscriber := mqtt.NewSubscriber(mqttClient, mqtt.SubscriberConfig{
		CamTopic: cfg.TopicAlertCam,
	}, zlog)
	subscriber.OnCapture = func() { pipeline.Trigger() }

	// Routes are registered before connecting so they are restored on reconnect
	if err := subscriber.SubscribeAll(); err != nil {
		return fmt.Errorf("failed to subscribe to MQTT topics: %w", err)
	}
	if err := mqttClient.Connect(); err != nil {
		return err
	}
	defer mqttClient.Close()

	done := make(chan struct{})
	go func() {
		pipeline.Start(ctx)
		close(done)
	}()

	zlog.Info("=== River capture node is running ===",
		zap.String("trigger_topic", cfg.TopicAlertCam),
		zap.String("fallback_topic", cfg.TopicAlertImage),
		zap.String("camera", cfg.CameraSource),
		zap.Duration("upload_idle_timeout", cfg.UploadTimeout),
		zap.Duration("camera_timeout", cfg.CameraTimeout),
	)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	zlog.Info("Shutdown signal received, stopping services...",
		zap.Bool("mqtt_connected", mqttClient.IsConnected()))
	cancel()
	<-done

	zlog.Info("Shutdown complete")
	return nil
}
