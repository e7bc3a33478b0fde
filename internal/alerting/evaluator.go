package alerting

import "river-monitor/internal/models"

// Rise thresholds in centimeters. Each band is open on the lower bound and
// closed on the upper bound.
const (
	AdvisoryRiseCM = 5.0
	WatchRiseCM    = 10.0
	CriticalRiseCM = 20.0
)

// Classify maps a measured distance to a danger level relative to the
// baseline distance. The sensor looks down at the water, so a rising river
// shortens the distance and rise = baseline - distance.
func Classify(distanceCM, baselineCM float64) models.DangerLevel {
	rise := baselineCM - distanceCM

	switch {
	case rise > CriticalRiseCM:
		return models.DangerCritical
	case rise > WatchRiseCM:
		return models.DangerWatch
	case rise > AdvisoryRiseCM:
		return models.DangerAdvisory
	default:
		return models.DangerNone
	}
}
