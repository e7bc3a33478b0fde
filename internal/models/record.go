package models

import "time"

// TelemetryRecord is a received telemetry message after range filtering,
// enriched with the derived features used by the advisory model.
// Temperature and humidity stay nil when the node had no climate reading.
type TelemetryRecord struct {
	Timestamp      time.Time `json:"timestamp"`
	ReceivedAt     time.Time `json:"received_at"`
	WaterLevelCM   float64   `json:"water_level_cm"`
	TemperatureC   *float64  `json:"temperature_c"`
	HumidityPct    *float64  `json:"humidity_pct"`
	DangerLevel    int       `json:"danger_level"`
	RainLevel      int       `json:"rain_level"`
	WaterLevelNorm float64   `json:"water_level_norm"`
	WaterRiseRate  float64   `json:"water_rise_rate"`
	Rain           bool      `json:"rain"`
}

// AlertImage is metadata of an image received through the fallback channel
type AlertImage struct {
	ReceivedAt time.Time `json:"received_at"`
	SizeBytes  int       `json:"size_bytes"`
	SHA256     string    `json:"sha256"`
}

// Prediction labels produced by the advisory model
const (
	LabelSafe   = "safe"
	LabelAlert  = "alert"
	LabelDanger = "danger"
)

// Prediction is the advisory model output for one telemetry record
type Prediction struct {
	Timestamp    time.Time `json:"timestamp"`
	Label        string    `json:"label"`
	Score        float64   `json:"score"`
	ForcedAlarm  bool      `json:"forced_alarm"`
	ModelVersion string    `json:"model_version"`
}

// ReceivedImage is a decoded image taken off the fallback topic
type ReceivedImage struct {
	ReceivedAt time.Time
	Data       []byte
}
