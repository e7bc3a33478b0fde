package alerting

import (
	"time"

	"river-monitor/internal/models"
)

// Trend monitor defaults
const (
	DefaultTrendInterval = 60 * time.Second
	DefaultDangerRiseMin = 15.0
)

// OnTrendTick compares the current distance with the previous tick's
// distance. The first tick only seeds the baseline and returns ok=false.
// Every tick replaces the baseline with the current distance.
func OnTrendTick(currentDistanceCM float64, state *models.TrendState, now time.Time) (rise float64, ok bool) {
	current := currentDistanceCM
	previous := state.BaselineLevel

	state.BaselineLevel = &current
	state.LastCheckTime = now

	if previous == nil {
		return 0, false
	}
	return *previous - current, true
}

// TrendExceeded reports whether a per-interval rise is steep enough to
// trigger a capture on its own
func TrendExceeded(rise, dangerRiseMin float64) bool {
	return rise > dangerRiseMin
}
