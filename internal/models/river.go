package models

import "time"

// RainCode is the 4-level rain classification derived from the raw rain sensor
type RainCode int

const (
	RainDry RainCode = iota
	RainDrizzle
	RainModerate
	RainHeavy
)

func (r RainCode) String() string {
	switch r {
	case RainDry:
		return "dry"
	case RainDrizzle:
		return "drizzle"
	case RainModerate:
		return "moderate"
	case RainHeavy:
		return "heavy"
	default:
		return "unknown"
	}
}

// DangerLevel is the ordered danger classification of a sample
type DangerLevel int

const (
	DangerNone DangerLevel = iota
	DangerAdvisory
	DangerWatch
	DangerCritical
)

func (d DangerLevel) String() string {
	switch d {
	case DangerNone:
		return "none"
	case DangerAdvisory:
		return "advisory"
	case DangerWatch:
		return "watch"
	case DangerCritical:
		return "critical"
	default:
		return "unknown"
	}
}

// Sample is one sampling tick of the sensor node.
// Temperature and humidity are nil when the climate sensor failed.
type Sample struct {
	Timestamp   time.Time
	DistanceCM  float64
	Temperature *float64
	Humidity    *float64
	Rain        RainCode
}

// Telemetry is the JSON payload published on the monitoring data topic
type Telemetry struct {
	Timestamp    int64    `json:"timestamp"`      // Unix milliseconds
	WaterLevelCM float64  `json:"water_level_cm"` // distance from sensor to surface
	TemperatureC *float64 `json:"temperature_c"`
	HumidityPct  *float64 `json:"humidity_pct"`
	DangerLevel  int      `json:"danger_level"` // 0-3
	RainLevel    int      `json:"rain_level"`   // 0-3
}

// AlertState tracks the last emitted threshold trigger
type AlertState struct {
	LastAlertTime *time.Time
	Cooldown      time.Duration
}

// TrendState holds the single-step baseline of the trend monitor
type TrendState struct {
	BaselineLevel *float64
	LastCheckTime time.Time
}

// TriggerPath identifies which decision path emitted a trigger
type TriggerPath string

const (
	TriggerThreshold TriggerPath = "threshold"
	TriggerTrend     TriggerPath = "trend"
)

// CaptureCommand is the only payload the capture node acts on
const CaptureCommand = "CAPTURE"
