package database

// SQL schemas for all ClickHouse tables

const (
	// RiverTelemetryTableSQL creates the river_telemetry table
	RiverTelemetryTableSQL = `
		CREATE TABLE IF NOT EXISTS river_telemetry (
			timestamp DateTime64(3),
			received_at DateTime64(3),
			water_level_cm Float64,
			temperature_c Nullable(Float64),
			humidity_pct Nullable(Float64),
			danger_level UInt8,
			rain_level UInt8,
			water_level_norm Float64,
			water_rise_rate Float64,
			rain Bool
		) ENGINE = MergeTree()
		ORDER BY timestamp
		PARTITION BY toYYYYMM(timestamp)
	`

	// AlertImagesTableSQL creates the alert_images table (metadata only)
	AlertImagesTableSQL = `
		CREATE TABLE IF NOT EXISTS alert_images (
			received_at DateTime64(3),
			size_bytes UInt32,
			sha256 String
		) ENGINE = MergeTree()
		ORDER BY received_at
		PARTITION BY toYYYYMM(received_at)
	`

	// PredictionsTableSQL creates the predictions table
	PredictionsTableSQL = `
		CREATE TABLE IF NOT EXISTS predictions (
			timestamp DateTime64(3),
			label LowCardinality(String),
			score Float64,
			forced_alarm Bool,
			model_version String
		) ENGINE = MergeTree()
		ORDER BY timestamp
		PARTITION BY toYYYYMM(timestamp)
	`
)

// AllTables returns all table creation SQL statements
func AllTables() []string {
	return []string{
		RiverTelemetryTableSQL,
		AlertImagesTableSQL,
		PredictionsTableSQL,
	}
}
