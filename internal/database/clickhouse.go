package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"go.uber.org/zap"
	"river-monitor/internal/models"
)

const (
	insertTelemetrySQL = `
		INSERT INTO river_telemetry (timestamp, received_at, water_level_cm, temperature_c, humidity_pct,
			danger_level, rain_level, water_level_norm, water_rise_rate, rain)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	insertAlertImageSQL = `
		INSERT INTO alert_images (received_at, size_bytes, sha256)
		VALUES (?, ?, ?)
	`

	insertPredictionSQL = `
		INSERT INTO predictions (timestamp, label, score, forced_alarm, model_version)
		VALUES (?, ?, ?, ?, ?)
	`

	lastWaterLevelSQL = `
		SELECT water_level_cm
		FROM river_telemetry
		ORDER BY timestamp DESC
		LIMIT 1
	`

	telemetrySinceSQL = `
		SELECT timestamp, received_at, water_level_cm, temperature_c, humidity_pct,
			danger_level, rain_level, water_level_norm, water_rise_rate, rain
		FROM river_telemetry
		WHERE timestamp >= ?
		ORDER BY timestamp
	`
)

// Options holds the ClickHouse connection settings
type Options struct {
	Addr     string
	Database string
	Username string
	Password string
}

type ClickHouseDB struct {
	conn   driver.Conn
	logger *zap.Logger
}

// NewClickHouseDB creates a new ClickHouse database connection and
// initializes the schema
func NewClickHouseDB(ctx context.Context, opts Options, logger *zap.Logger) (*ClickHouseDB, error) {
	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: []string{opts.Addr},
		Auth: clickhouse.Auth{
			Database: opts.Database,
			Username: opts.Username,
			Password: opts.Password,
		},
		Settings: clickhouse.Settings{
			"max_execution_time": 60,
		},
		DialTimeout: 5 * time.Second,
		Compression: &clickhouse.Compression{
			Method: clickhouse.CompressionLZ4,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to ClickHouse: %w", err)
	}

	if err := conn.Ping(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping ClickHouse: %w", err)
	}

	logger.Info("Connected to ClickHouse", zap.String("addr", opts.Addr), zap.String("database", opts.Database))

	db := &ClickHouseDB{conn: conn, logger: logger}
	if err := db.InitSchema(ctx); err != nil {
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return db, nil
}

// InitSchema creates the necessary tables if they don't exist
func (db *ClickHouseDB) InitSchema(ctx context.Context) error {
	for _, tableSQL := range AllTables() {
		if err := db.conn.Exec(ctx, tableSQL); err != nil {
			return fmt.Errorf("failed to create table: %w", err)
		}
	}

	db.logger.Info("Database schema initialized")
	return nil
}

// SaveTelemetry saves a filtered telemetry record
func (db *ClickHouseDB) SaveTelemetry(ctx context.Context, record *models.TelemetryRecord) error {
	err := db.conn.Exec(ctx, insertTelemetrySQL,
		record.Timestamp,
		record.ReceivedAt,
		record.WaterLevelCM,
		record.TemperatureC,
		record.HumidityPct,
		uint8(record.DangerLevel),
		uint8(record.RainLevel),
		record.WaterLevelNorm,
		record.WaterRiseRate,
		record.Rain,
	)
	if err != nil {
		return fmt.Errorf("failed to insert telemetry: %w", err)
	}
	return nil
}

// SaveAlertImage saves fallback image metadata (not the image itself)
func (db *ClickHouseDB) SaveAlertImage(ctx context.Context, image *models.AlertImage) error {
	err := db.conn.Exec(ctx, insertAlertImageSQL,
		image.ReceivedAt,
		uint32(image.SizeBytes),
		image.SHA256,
	)
	if err != nil {
		return fmt.Errorf("failed to insert alert image: %w", err)
	}
	return nil
}

// SavePrediction saves an advisory model prediction
func (db *ClickHouseDB) SavePrediction(ctx context.Context, prediction *models.Prediction) error {
	err := db.conn.Exec(ctx, insertPredictionSQL,
		prediction.Timestamp,
		prediction.Label,
		prediction.Score,
		prediction.ForcedAlarm,
		prediction.ModelVersion,
	)
	if err != nil {
		return fmt.Errorf("failed to insert prediction: %w", err)
	}
	return nil
}

// LastWaterLevel returns the most recently stored water level. ok is false
// when the table is empty.
func (db *ClickHouseDB) LastWaterLevel(ctx context.Context) (float64, bool, error) {
	var level float64
	row := db.conn.QueryRow(ctx, lastWaterLevelSQL)
	if err := row.Scan(&level); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, false, nil
		}
		return 0, false, fmt.Errorf("failed to query last water level: %w", err)
	}
	return level, true, nil
}

// TelemetrySince returns the stored records from since onwards, oldest first
func (db *ClickHouseDB) TelemetrySince(ctx context.Context, since time.Time) ([]models.TelemetryRecord, error) {
	rows, err := db.conn.Query(ctx, telemetrySinceSQL, since)
	if err != nil {
		return nil, fmt.Errorf("failed to query telemetry: %w", err)
	}
	defer rows.Close()

	var records []models.TelemetryRecord
	for rows.Next() {
		var (
			r           models.TelemetryRecord
			dangerLevel uint8
			rainLevel   uint8
		)
		if err := rows.Scan(
			&r.Timestamp,
			&r.ReceivedAt,
			&r.WaterLevelCM,
			&r.TemperatureC,
			&r.HumidityPct,
			&dangerLevel,
			&rainLevel,
			&r.WaterLevelNorm,
			&r.WaterRiseRate,
			&r.Rain,
		); err != nil {
			return nil, fmt.Errorf("failed to scan telemetry row: %w", err)
		}
		r.DangerLevel = int(dangerLevel)
		r.RainLevel = int(rainLevel)
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read telemetry rows: %w", err)
	}

	return records, nil
}

// Close closes the ClickHouse connection
func (db *ClickHouseDB) Close() error {
	if db.conn != nil {
		if err := db.conn.Close(); err != nil {
			return fmt.Errorf("failed to close ClickHouse connection: %w", err)
		}
		db.logger.Info("ClickHouse connection closed")
	}
	return nil
}
