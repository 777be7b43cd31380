package domain

import (
	"errors"
	"fmt"
	"time"
)

// Sentinel errors shared across services and repositories.
var (
	ErrNotFound       = errors.New("not found")
	ErrForbidden      = errors.New("forbidden")
	ErrUnauthorized   = errors.New("unauthorized")
	ErrInvalidInput   = errors.New("invalid input")
	ErrDuplicateEmail = errors.New("email already in use")

	// ErrConflict is returned by compare-and-set repository updates when the
	// record moved underneath the caller. Callers re-read and re-decide.
	ErrConflict = errors.New("concurrent update conflict")

	// Engine error taxonomy.
	ErrOutsideGeofence     = errors.New("outside geofence")
	ErrWindowNotOpen       = errors.New("check-in window not open")
	ErrLocationUnavailable = errors.New("location unavailable")
	ErrInvalidGeometry     = errors.New("invalid coordinates")
)

// OutsideGeofenceError reports how far outside the geofence a check-in
// attempt was. It unwraps to ErrOutsideGeofence.
type OutsideGeofenceError struct {
	DistanceM float64
	RadiusM   float64
}

func (e *OutsideGeofenceError) Error() string {
	return fmt.Sprintf("you are %.0fm from the venue, outside the %.0fm radius", e.DistanceM, e.RadiusM)
}

func (e *OutsideGeofenceError) Unwrap() error { return ErrOutsideGeofence }

// WindowNotOpenError reports why a check-in attempt was out of window.
// It unwraps to ErrWindowNotOpen.
type WindowNotOpenError struct {
	OpensAt time.Time
	Now     time.Time
	Ended   bool
}

func (e *WindowNotOpenError) Error() string {
	if e.Ended {
		return "the event has already ended"
	}
	wait := e.OpensAt.Sub(e.Now).Round(time.Minute)
	return fmt.Sprintf("check-in opens in %s", wait)
}

func (e *WindowNotOpenError) Unwrap() error { return ErrWindowNotOpen }
