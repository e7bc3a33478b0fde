package aggregator

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"
	"time"

	"river-monitor/internal/models"
)

// ErrOutOfRange is returned for telemetry rejected by the range filter
var ErrOutOfRange = errors.New("telemetry out of range")

// Range is an inclusive interval of plausible values
type Range struct {
	Min float64
	Max float64
}

// Contains reports whether v lies within the range
func (r Range) Contains(v float64) bool {
	return v >= r.Min && v <= r.Max
}

// Ranges holds the plausible interval per field
type Ranges struct {
	WaterLevelCM Range
	TemperatureC Range
	HumidityPct  Range
}

// DefaultRanges returns the noise filter bounds for the river station
func DefaultRanges() Ranges {
	return Ranges{
		WaterLevelCM: Range{Min: 0, Max: 1000},
		TemperatureC: Range{Min: -10, Max: 80},
		HumidityPct:  Range{Min: 0, Max: 100},
	}
}

// RejectError names the field that failed the range filter
type RejectError struct {
	Field string
	Value float64
}

func (e *RejectError) Error() string {
	return fmt.Sprintf("%s=%.2f outside plausible range", e.Field, e.Value)
}

func (e *RejectError) Unwrap() error {
	return ErrOutOfRange
}

// TelemetryFilter range-checks incoming telemetry and derives the model
// features. It remembers the last accepted water level for the rise rate.
type TelemetryFilter struct {
	ranges     Ranges
	baselineCM float64

	mu        sync.Mutex
	lastLevel *float64
}

// NewTelemetryFilter creates a filter. baselineCM normalizes water levels.
func NewTelemetryFilter(ranges Ranges, baselineCM float64) *TelemetryFilter {
	return &TelemetryFilter{
		ranges:     ranges,
		baselineCM: baselineCM,
	}
}

// Accept validates t and returns the enriched record. Rejected telemetry
// does not move the rise-rate reference. Absent climate readings are kept
// as nil and are not range-checked.
func (f *TelemetryFilter) Accept(t *models.Telemetry, receivedAt time.Time) (*models.TelemetryRecord, error) {
	if !f.ranges.WaterLevelCM.Contains(t.WaterLevelCM) {
		return nil, &RejectError{Field: "water_level_cm", Value: t.WaterLevelCM}
	}
	if t.TemperatureC != nil && !f.ranges.TemperatureC.Contains(*t.TemperatureC) {
		return nil, &RejectError{Field: "temperature_c", Value: *t.TemperatureC}
	}
	if t.HumidityPct != nil && !f.ranges.HumidityPct.Contains(*t.HumidityPct) {
		return nil, &RejectError{Field: "humidity_pct", Value: *t.HumidityPct}
	}

	record := &models.TelemetryRecord{
		Timestamp:    time.UnixMilli(t.Timestamp).UTC(),
		ReceivedAt:   receivedAt,
		WaterLevelCM: t.WaterLevelCM,
		TemperatureC: t.TemperatureC,
		HumidityPct:  t.HumidityPct,
		DangerLevel:  t.DangerLevel,
		RainLevel:    t.RainLevel,
		Rain:         t.RainLevel > 0,
	}
	if f.baselineCM > 0 {
		record.WaterLevelNorm = t.WaterLevelCM / f.baselineCM
	}

	f.mu.Lock()
	if f.lastLevel != nil {
		record.WaterRiseRate = t.WaterLevelCM - *f.lastLevel
	}
	level := t.WaterLevelCM
	f.lastLevel = &level
	f.mu.Unlock()

	return record, nil
}

// Seed sets the rise-rate reference, e.g. from the last stored record
func (f *TelemetryFilter) Seed(levelCM float64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastLevel = &levelCM
}

// ComputeHash computes the SHA256 hash of an image for reference
func ComputeHash(data []byte) string {
	hash := sha256.Sum256(data)
	return hex.EncodeToString(hash[:])
}
