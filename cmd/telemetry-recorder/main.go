package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"river-monitor/internal/cache"
	"river-monitor/internal/database"
	"river-monitor/internal/logger"
	"river-monitor/internal/ml"
	"river-monitor/internal/mqtt"
	"river-monitor/internal/observability"
	"river-monitor/internal/services"
	"river-monitor/pkg/config"
)

const serviceName = "recorder"

func main() {
	cfg := config.Load(serviceName)

	zlog, err := logger.New(cfg.LogLevel, cfg.LogFormat, serviceName)
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer zlog.Sync()

	if err := run(cfg, zlog); err != nil {
		zlog.Fatal("Telemetry recorder failed", zap.Error(err))
	}
}

func run(cfg *config.Config, zlog *zap.Logger) error {
	zlog.Info("Starting river telemetry recorder...")

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	registry := prometheus.NewRegistry()
	metrics := observability.NewRecorderMetrics(registry)

	// === Storage ===
	db, err := database.NewClickHouseDB(ctx, database.Options{
		Addr:     cfg.ClickHouseAddr,
		Database: cfg.ClickHouseDB,
		Username: cfg.ClickHouseUser,
		Password: cfg.ClickHousePass,
	}, zlog)
	if err != nil {
		return fmt.Errorf("failed to initialize ClickHouse: %w", err)
	}
	defer db.Close()

	// The latest-reading cache is optional; the recorder keeps storing
	// telemetry without it
	var (
		latest services.LatestStore
		cached services.LatestReader
	)
	latestCache := cache.NewLatestCache(cache.NewRedisClient(cache.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	}), cfg.LatestTTL)
	defer latestCache.Close()

	pingCtx, pingCancel := context.WithTimeout(ctx, 3*time.Second)
	if err := latestCache.Ping(pingCtx); err != nil {
		zlog.Warn("Redis unavailable, latest-reading cache disabled", zap.String("addr", cfg.RedisAddr), zap.Error(err))
	} else {
		latest = latestCache
		cached = latestCache
	}
	pingCancel()

	predictor, err := ml.LoadPredictor(cfg.ModelPath, zlog)
	if err != nil {
		return fmt.Errorf("failed to load model: %w", err)
	}

	// === Recorder Service ===
	recorder := services.NewRecorderService(db, latest, predictor,
		services.DefaultRecorderServiceConfig(cfg.BaselineDistanceCM), metrics, zlog)

	recorder.RestoreReference(ctx, cached, db)

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

	subscriber := mqtt.NewSubscriber(mqttClient, mqtt.SubscriberConfig{
		DataTopic:  cfg.TopicData,
		ImageTopic: cfg.TopicAlertImage,
	}, zlog)

	// Connect subscriber outputs to recorder inputs
	subscriber.TelemetryChan = recorder.TelemetryChan
	subscriber.ImageChan = recorder.ImageChan

	if err := subscriber.SubscribeAll(); err != nil {
		return fmt.Errorf("failed to subscribe to MQTT topics: %w", err)
	}
	if err := mqttClient.Connect(); err != nil {
		return err
	}
	defer mqttClient.Close()

	done := make(chan struct{})
	go func() {
		recorder.Start(ctx)
		close(done)
	}()

	zlog.Info("=== River telemetry recorder is running ===",
		zap.String("telemetry_topic", cfg.TopicData),
		zap.String("image_topic", cfg.TopicAlertImage),
		zap.String("model", cfg.ModelPath),
		zap.Bool("latest_cache", latest != nil),
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
