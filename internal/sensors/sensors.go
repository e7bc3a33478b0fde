package sensors

import (
	"context"
	"errors"
	"math"

	"river-monitor/internal/models"
)

// ErrInvalidReading is returned when a sensor produced no usable value
var ErrInvalidReading = errors.New("invalid sensor reading")

// Reading is a single sensor value that may be invalid (failed read, NaN)
type Reading struct {
	Value float64
	Valid bool
}

// NewReading wraps a raw value, marking NaN and infinities invalid
func NewReading(v float64) Reading {
	return Reading{Value: v, Valid: !math.IsNaN(v) && !math.IsInf(v, 0)}
}

// Invalid returns a reading without a value
func Invalid() Reading {
	return Reading{}
}

// Get returns the value or ErrInvalidReading
func (r Reading) Get() (float64, error) {
	if !r.Valid {
		return 0, ErrInvalidReading
	}
	return r.Value, nil
}

// Ptr returns a pointer to the value, or nil when invalid
func (r Reading) Ptr() *float64 {
	if !r.Valid {
		return nil
	}
	v := r.Value
	return &v
}

// DistanceSensor measures the sensor-to-surface distance in centimeters.
// An echo timeout yields whatever the driver reports; only non-finite values
// are invalid.
type DistanceSensor interface {
	Measure(ctx context.Context) Reading
}

// ClimateSensor reads air temperature (°C) and relative humidity (%)
type ClimateSensor interface {
	Read(ctx context.Context) (temperature Reading, humidity Reading)
}

// RainSensor returns the raw 12-bit analog value of the rain plate
type RainSensor interface {
	ReadRaw(ctx context.Context) (int, error)
}

// Rain breakpoints on the raw ADC value. A dry plate reads 4095.
const (
	RainDrizzleBelow  = 3000
	RainModerateBelow = 2000
	RainHeavyBelow    = 1000
)

// RainCodeFromRaw maps a raw analog rain reading to a rain level
func RainCodeFromRaw(raw int) models.RainCode {
	switch {
	case raw < RainHeavyBelow:
		return models.RainHeavy
	case raw < RainModerateBelow:
		return models.RainModerate
	case raw < RainDrizzleBelow:
		return models.RainDrizzle
	default:
		return models.RainDry
	}
}
