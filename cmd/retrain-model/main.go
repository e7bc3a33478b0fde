package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"go.uber.org/zap"
	"river-monitor/internal/database"
	"river-monitor/internal/logger"
	"river-monitor/internal/ml"
	"river-monitor/pkg/config"
)

const serviceName = "retrain-model"

// holdoutEvery sets one record in five aside to report accuracy
const holdoutEvery = 5

func main() {
	cfg := config.Load(serviceName)

	zlog, err := logger.New(cfg.LogLevel, cfg.LogFormat, serviceName)
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer zlog.Sync()

	if err := run(cfg, zlog); err != nil {
		zlog.Fatal("Retraining failed", zap.Error(err))
	}
}

func run(cfg *config.Config, zlog *zap.Logger) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

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

	var since time.Time
	if cfg.RetrainWindow > 0 {
		since = time.Now().Add(-cfg.RetrainWindow)
	}

	records, err := db.TelemetrySince(ctx, since)
	if err != nil {
		return err
	}
	zlog.Info("Loaded telemetry history", zap.Int("records", len(records)), zap.Time("since", since))

	train, holdout := ml.SplitHoldout(records, holdoutEvery)
	model, err := ml.Train(train)
	if errors.Is(err, ml.ErrNotEnoughData) {
		// Keep serving the current model until more data is recorded
		zlog.Warn("Not enough data for retraining, model left unchanged", zap.Error(err))
		return nil
	}
	if err != nil {
		return err
	}

	accuracy, scored := ml.Evaluate(model, holdout)
	zlog.Info("Model retrained",
		zap.String("version", model.Version),
		zap.Int("training_records", len(train)),
		zap.Int("holdout_records", scored),
		zap.Float64("holdout_accuracy", accuracy),
		zap.Float64("alert_threshold", model.Thresholds.Alert),
		zap.Float64("danger_threshold", model.Thresholds.Danger),
	)

	if err := ml.WriteModel(cfg.ModelPath, model); err != nil {
		return err
	}
	zlog.Info("Model saved", zap.String("path", cfg.ModelPath))
	return nil
}
