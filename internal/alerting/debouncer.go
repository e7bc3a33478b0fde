package alerting

import (
	"time"

	"river-monitor/internal/models"
)

// DefaultCooldown is the minimum time between two threshold triggers
const DefaultCooldown = 300 * time.Second

// NewAlertState returns an AlertState that has never alerted
func NewAlertState(cooldown time.Duration) *models.AlertState {
	if cooldown <= 0 {
		cooldown = DefaultCooldown
	}
	return &models.AlertState{Cooldown: cooldown}
}

// OnSample reports whether a capture trigger should be emitted for a sample
// classified at level. On emission the state records now as the last alert.
// Telemetry is never suppressed here, only the trigger side effect.
func OnSample(level models.DangerLevel, now time.Time, state *models.AlertState) bool {
	if level < models.DangerWatch {
		return false
	}

	cooldown := state.Cooldown
	if cooldown <= 0 {
		cooldown = DefaultCooldown
	}

	if state.LastAlertTime != nil && now.Sub(*state.LastAlertTime) < cooldown {
		return false
	}

	t := now
	state.LastAlertTime = &t
	return true
}
