package domain

import (
	"context"
	"time"
)

// DefaultGeofenceRadiusM is applied when an event is created without an
// explicit geofence radius.
const DefaultGeofenceRadiusM = 100.0

// EventStatus is derived from the current time against the event window.
type EventStatus string

const (
	EventUpcoming  EventStatus = "upcoming"
	EventActive    EventStatus = "active"
	EventCompleted EventStatus = "completed"
)

// Event represents an event with a geofenced venue and a local-time window.
// Date and time-of-day fields are kept in the event's own timezone; StartsAt
// and EndsAt are the resolved UTC instants, recomputed whenever the window
// fields change.
// swagger:model Event
type Event struct {
	ID          string `json:"id"`
	OwnerID     string `json:"owner_id"`
	Name        string `json:"name"`
	Description string `json:"description"`

	// Date is the first (possibly only) day of the event, "2006-01-02".
	Date string `json:"date"`
	// EndDate is set for multi-day events, "2006-01-02".
	EndDate string `json:"end_date,omitempty"`
	// StartTime and EndTime are local times of day, "15:04". EndTime may be
	// empty, in which case a default duration applies.
	StartTime string `json:"start_time"`
	EndTime   string `json:"end_time,omitempty"`
	// Timezone is the IANA zone the date/time fields are expressed in.
	Timezone string `json:"timezone"`

	// Geofence center and radius.
	Lat     float64 `json:"lat"`
	Lon     float64 `json:"lon"`
	RadiusM float64 `json:"radius_m"`

	// MaxOutsideSeconds is the longest continuous absence from the geofence
	// a checked-in participant is allowed before being marked absent.
	MaxOutsideSeconds int `json:"max_outside_seconds"`

	// StartsAt and EndsAt are the window fields resolved to UTC.
	StartsAt time.Time `json:"starts_at"`
	EndsAt   time.Time `json:"ends_at"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Status derives the display status of the event at the given instant.
func (e *Event) Status(now time.Time) EventStatus {
	switch {
	case now.Before(e.StartsAt):
		return EventUpcoming
	case now.Before(e.EndsAt):
		return EventActive
	default:
		return EventCompleted
	}
}

// EventRepository defines storage operations for events (the event catalog).
type EventRepository interface {
	Create(ctx context.Context, event *Event) error
	GetByID(ctx context.Context, id string) (*Event, error)
	ListByOwnerID(ctx context.Context, ownerID string) ([]*Event, error)
	// ListMonitorable returns events whose check-in window could be open at
	// the given instant: starts_at - lead <= now < ends_at.
	ListMonitorable(ctx context.Context, now time.Time, lead time.Duration) ([]*Event, error)
}

// EventService defines organizer- and attendee-facing event operations.
type EventService interface {
	CreateEvent(ctx context.Context, event *Event) (*Event, error)
	GetEvent(ctx context.Context, eventID string) (*Event, error)
	ListMyEvents(ctx context.Context, ownerID string) ([]*Event, error)
	// RegisterForEvent is idempotent; created is false when the user was
	// already registered.
	RegisterForEvent(ctx context.Context, eventID, userID string) (reg *EventRegistration, created bool, err error)
	ListMyRegisteredEvents(ctx context.Context, userID string) ([]*EventRegistrationWithEvent, error)
	// ListAttendance returns the event's attendance records for the
	// organizer. Absent and checked-out records are reported with their own
	// states, never folded together.
	ListAttendance(ctx context.Context, eventID, ownerID string) ([]*AttendanceRecord, error)
}
