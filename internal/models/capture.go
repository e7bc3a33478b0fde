package models

import "time"

// Artifact is a single captured image owned by the capture pipeline
type Artifact struct {
	ID         string
	CapturedAt time.Time
	Data       []byte // JPEG bytes
}

// Len returns the artifact size in bytes
func (a *Artifact) Len() int {
	if a == nil {
		return 0
	}
	return len(a.Data)
}

// DeliveryOutcome is the result of one capture-deliver cycle
type DeliveryOutcome int

const (
	PrimarySucceeded DeliveryOutcome = iota
	FallbackSucceeded
	BothFailed
)

func (o DeliveryOutcome) String() string {
	switch o {
	case PrimarySucceeded:
		return "primary_succeeded"
	case FallbackSucceeded:
		return "fallback_succeeded"
	case BothFailed:
		return "both_failed"
	default:
		return "unknown"
	}
}
