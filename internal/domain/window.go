package domain

import "time"

// WindowPhase is where "now" falls relative to an event's check-in/out
// window.
type WindowPhase string

const (
	WindowNotYetOpen  WindowPhase = "not_yet_open"
	WindowCheckInOpen WindowPhase = "check_in_open"
	WindowInProgress  WindowPhase = "in_progress"
	WindowEnded       WindowPhase = "ended"
)

// EventWindow is an event's window resolved to absolute instants.
type EventWindow struct {
	// StartsAt and EndsAt bound the event itself.
	StartsAt time.Time
	EndsAt   time.Time
	// OpensAt is when automatic check-in monitoring begins.
	OpensAt time.Time
	// EarlyOpensAt is when manual check-in is first accepted.
	EarlyOpensAt time.Time
}

// Phase classifies the given instant against the window.
func (w EventWindow) Phase(now time.Time) WindowPhase {
	switch {
	case now.Before(w.OpensAt):
		return WindowNotYetOpen
	case now.Before(w.StartsAt):
		return WindowCheckInOpen
	case now.Before(w.EndsAt):
		return WindowInProgress
	default:
		return WindowEnded
	}
}
