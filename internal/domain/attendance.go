package domain

import (
	"context"
	"time"
)

// State is the lifecycle state of an attendance record. The "registered"
// stage has no record row; a record is created by the first successful
// check-in.
type State string

const (
	StateCheckedInInside  State = "checked_in_inside"
	StateCheckedInOutside State = "checked_in_outside"
	StateCheckedInWarning State = "checked_in_warning"
	StateCheckedOut       State = "checked_out"
	StateAbsent           State = "absent"
)

// Terminal reports whether no further transitions are allowed.
func (s State) Terminal() bool {
	return s == StateCheckedOut || s == StateAbsent
}

// CheckedIn reports whether the participant is currently checked in.
func (s State) CheckedIn() bool {
	return s == StateCheckedInInside || s == StateCheckedInOutside || s == StateCheckedInWarning
}

// CheckOutReason distinguishes explicit check-outs from engine-forced ones.
type CheckOutReason string

const (
	CheckOutManual CheckOutReason = "manual"
	CheckOutAuto   CheckOutReason = "auto"
)

// AlertType classifies alerts attached to an attendance record.
type AlertType string

const (
	AlertWarning       AlertType = "warning"
	AlertExceededLimit AlertType = "exceeded_limit"
	AlertAbsent        AlertType = "absent"
)

// Alert is an append-only escalation notice on an attendance record.
// swagger:model Alert
type Alert struct {
	ID           string    `json:"id"`
	RecordID     string    `json:"record_id"`
	Type         AlertType `json:"type"`
	Message      string    `json:"message"`
	CreatedAt    time.Time `json:"created_at"`
	Acknowledged bool      `json:"acknowledged"`
}

// LocationSample is a single position report for a participant at an event.
// Samples are ephemeral; only the latest is retained on the record.
type LocationSample struct {
	EventID   string    `json:"event_id"`
	UserID    string    `json:"user_id"`
	Lat       float64   `json:"lat"`
	Lon       float64   `json:"lon"`
	AccuracyM float64   `json:"accuracy_m"`
	Timestamp time.Time `json:"timestamp"`
}

// AttendanceRecord tracks one participant's presence at one event.
// Mutated only through the attendance service's serialized transitions.
// swagger:model AttendanceRecord
type AttendanceRecord struct {
	ID      string `json:"id"`
	EventID string `json:"event_id"`
	UserID  string `json:"user_id"`

	State State `json:"state"`

	CheckedInAt    time.Time      `json:"checked_in_at"`
	CheckedOutAt   *time.Time     `json:"checked_out_at,omitempty"`
	CheckOutReason CheckOutReason `json:"check_out_reason,omitempty"`

	// Latest retained location sample.
	LastLat       float64   `json:"last_lat"`
	LastLon       float64   `json:"last_lon"`
	LastAccuracyM float64   `json:"last_accuracy_m"`
	LastSeenAt    time.Time `json:"last_seen_at"`

	// OutsideSince marks the start of the current uninterrupted outside
	// episode; nil while inside.
	OutsideSince *time.Time `json:"outside_since,omitempty"`
	// OutsideSeconds accumulates closed outside episodes. It never decreases.
	OutsideSeconds int64 `json:"outside_seconds"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// StatusSnapshot is the read model returned by the status endpoint.
// swagger:model StatusSnapshot
type StatusSnapshot struct {
	RecordID           string    `json:"record_id"`
	EventID            string    `json:"event_id"`
	UserID             string    `json:"user_id"`
	State              State     `json:"state"`
	IsInside           bool      `json:"is_inside"`
	DistanceM          float64   `json:"distance_m"`
	TimeOutsideSeconds int64     `json:"time_outside_seconds"`
	CheckedInAt        time.Time `json:"checked_in_at"`
	LastSeenAt         time.Time `json:"last_seen_at"`
}

// AttendanceRepository defines storage operations for attendance records.
// UpdateStateFrom is the compare-and-set primitive: it persists the record's
// current field values only if the stored state still equals expected, and
// returns ErrConflict otherwise.
type AttendanceRepository interface {
	Create(ctx context.Context, rec *AttendanceRecord) error
	GetByID(ctx context.Context, id string) (*AttendanceRecord, error)
	GetByEventAndUser(ctx context.Context, eventID, userID string) (*AttendanceRecord, error)
	ListByEventID(ctx context.Context, eventID string) ([]*AttendanceRecord, error)
	UpdateStateFrom(ctx context.Context, rec *AttendanceRecord, expected State) error
	AppendAlert(ctx context.Context, alert *Alert) error
	ListAlertsByRecordID(ctx context.Context, recordID string) ([]*Alert, error)
	// ListOpenEndedBefore returns records still in a checked-in state whose
	// event window ended at or before the given instant. Feeds the sweep job.
	ListOpenEndedBefore(ctx context.Context, now time.Time) ([]*AttendanceRecord, error)
}

// AttendanceService is the geofence attendance engine. All record mutations
// go through it; transitions for one record are applied serially.
type AttendanceService interface {
	// CheckIn creates an attendance record for the participant if the sample
	// is inside the geofence and the window allows it. manual check-ins use
	// the shorter early-check-in allowance; automatic ones the monitoring
	// window. Idempotent: an existing open record is returned unchanged.
	CheckIn(ctx context.Context, eventID, userID string, sample LocationSample, manual bool) (*AttendanceRecord, error)
	// CheckOut closes an open record. Calling it on a terminal record is a
	// no-op returning the record as-is.
	CheckOut(ctx context.Context, recordID string, reason CheckOutReason) (*AttendanceRecord, error)
	// ProcessSample applies a location sample to the participant's open
	// record, driving inside/outside transitions and escalation. Samples for
	// terminal records are discarded.
	ProcessSample(ctx context.Context, sample LocationSample) error
	// Reevaluate re-runs escalation and window checks for a record using its
	// last known location. Called by the heartbeat when samples stop coming.
	Reevaluate(ctx context.Context, recordID string) error
	// CurrentStatus returns the live status snapshot for a record.
	CurrentStatus(ctx context.Context, recordID string) (*StatusSnapshot, error)
}
