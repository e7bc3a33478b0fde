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
	"river-monitor/internal/logger"
	"river-monitor/internal/mqtt"
	"river-monitor/internal/observability"
	"river-monitor/internal/sensors"
	"river-monitor/internal/services"
	"river-monitor/pkg/config"
)

const serviceName = "sensor-node"

func main() {
	cfg := config.Load(serviceName)

	zlog, err := logger.New(cfg.LogLevel, cfg.LogFormat, serviceName)
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer zlog.Sync()

	if err := run(cfg, zlog); err != nil {
		zlog.Fatal("Sensor node failed", zap.Error(err))
	}
}

func run(cfg *config.Config, zlog *zap.Logger) error {
	zlog.Info("Starting river sensor node...")

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	registry := prometheus.NewRegistry()
	metrics := observability.NewSensorMetrics(registry)

	// === Sensors ===
	if cfg.SensorSource != "sim" {
		return fmt.Errorf("unsupported SENSOR_SOURCE %q", cfg.SensorSource)
	}
	simConfig := sensors.DefaultSimulatorConfig(cfg.BaselineDistanceCM)
	simConfig.RisePerSample = cfg.SimRisePerSample
	sim := sensors.NewSimulator(simConfig)
	zlog.Info("Using simulated sensors", zap.Float64("rise_per_sample_cm", cfg.SimRisePerSample))

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
	if err := mqttClient.Connect(); err != nil {
		return err
	}
	defer mqttClient.Close()

	publisher := mqtt.NewPublisher(mqttClient, mqtt.PublisherConfig{
		DataTopic: cfg.TopicData,
		CamTopic:  cfg.TopicAlertCam,
	}, zlog)

	// === Sensor Service ===
	sensorService := services.NewSensorService(sim, sim, sim, publisher, services.SensorServiceConfig{
		BaselineCM:      cfg.BaselineDistanceCM,
		SampleInterval:  cfg.SampleInterval,
		TrendInterval:   cfg.TrendInterval,
		AlertCooldown:   cfg.AlertCooldown,
		DangerRiseMinCM: cfg.DangerRiseMinCM,
	}, metrics, zlog)

	done := make(chan struct{})
	go func() {
		sensorService.Start(ctx)
		close(done)
	}()

	zlog.Info("=== River sensor node is running ===",
		zap.String("telemetry_topic", cfg.TopicData),
		zap.String("trigger_topic", cfg.TopicAlertCam),
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
