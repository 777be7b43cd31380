package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"geoattend/internal/domain"
	"geoattend/internal/geo"
	"geoattend/internal/metrics"
)

// casRetries bounds re-application of a transition after a cross-process
// compare-and-set conflict.
const casRetries = 3

// AttendanceEngine is the geofence attendance state machine. It owns every
// mutation of attendance records: transitions are serialized per record by an
// in-process keyed lock, and persisted through the repository's
// compare-and-set so a concurrent writer in another process loses cleanly.
type AttendanceEngine struct {
	attendanceRepo domain.AttendanceRepository
	eventRepo      domain.EventRepository
	regRepo        domain.EventRegistrationRepository
	window         *WindowCalculator
	tracker        *EscalationTracker
	clock          domain.Clock
	sink           domain.NotificationSink
	source         domain.LocationSource
	logger         *slog.Logger

	locationTimeout time.Duration
	notifyAfter     int

	heartbeat *Heartbeat
	locks     *keyedMutex

	failMu   sync.Mutex
	failures map[string]int
}

// NewAttendanceEngine wires the engine. source may be nil when no live
// location backend exists (heartbeats then re-evaluate from the last known
// sample only).
func NewAttendanceEngine(
	attendanceRepo domain.AttendanceRepository,
	eventRepo domain.EventRepository,
	regRepo domain.EventRegistrationRepository,
	window *WindowCalculator,
	tracker *EscalationTracker,
	clock domain.Clock,
	sink domain.NotificationSink,
	source domain.LocationSource,
	heartbeatInterval time.Duration,
	locationTimeout time.Duration,
	notifyAfter int,
	logger *slog.Logger,
) *AttendanceEngine {
	e := &AttendanceEngine{
		attendanceRepo:  attendanceRepo,
		eventRepo:       eventRepo,
		regRepo:         regRepo,
		window:          window,
		tracker:         tracker,
		clock:           clock,
		sink:            sink,
		source:          source,
		logger:          logger,
		locationTimeout: locationTimeout,
		notifyAfter:     notifyAfter,
		locks:           newKeyedMutex(),
		failures:        make(map[string]int),
	}
	e.heartbeat = NewHeartbeat(heartbeatInterval, e.heartbeatTick, logger)
	return e
}

var _ domain.AttendanceService = (*AttendanceEngine)(nil)

// CheckIn creates the attendance record for a registered participant whose
// sample classifies inside the geofence while the window allows it.
func (e *AttendanceEngine) CheckIn(ctx context.Context, eventID, userID string, sample domain.LocationSample, manual bool) (*domain.AttendanceRecord, error) {
	if !geo.ValidCoordinates(sample.Lat, sample.Lon) {
		return nil, domain.ErrInvalidGeometry
	}

	event, err := e.eventRepo.GetByID(ctx, eventID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("get event: %w", err)
	}

	// Check-in requires an eligible relationship to the event.
	if _, err := e.regRepo.GetByEventAndUser(ctx, eventID, userID); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, domain.ErrForbidden
		}
		return nil, fmt.Errorf("get event registration: %w", err)
	}

	unlock := e.locks.lock(eventID + ":" + userID)
	defer unlock()

	// Idempotent under repeated polling: an existing record, open or
	// terminal, is returned unchanged.
	if existing, err := e.attendanceRepo.GetByEventAndUser(ctx, eventID, userID); err == nil {
		return existing, nil
	} else if !errors.Is(err, domain.ErrNotFound) {
		return nil, fmt.Errorf("get attendance record: %w", err)
	}

	now := e.clock.Now()
	if err := e.window.CheckInWindowError(event, now, manual); err != nil {
		return nil, err
	}

	cls, err := geo.Classify(sample, event)
	if err != nil {
		return nil, err
	}
	if !cls.Inside {
		return nil, &domain.OutsideGeofenceError{DistanceM: cls.DistanceM, RadiusM: event.RadiusM}
	}

	seenAt := sample.Timestamp
	if seenAt.IsZero() {
		seenAt = now
	}
	rec := &domain.AttendanceRecord{
		EventID:       eventID,
		UserID:        userID,
		State:         domain.StateCheckedInInside,
		CheckedInAt:   now,
		LastLat:       sample.Lat,
		LastLon:       sample.Lon,
		LastAccuracyM: sample.AccuracyM,
		LastSeenAt:    seenAt,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := e.attendanceRepo.Create(ctx, rec); err != nil {
		return nil, fmt.Errorf("create attendance record: %w", err)
	}

	metrics.Transitions.WithLabelValues(string(rec.State)).Inc()
	e.heartbeat.Track(rec.ID)
	e.notify(ctx, domain.Notification{
		Type:      domain.NotifyCheckedIn,
		UserID:    userID,
		EventID:   eventID,
		RecordID:  rec.ID,
		Title:     "Checked in",
		Message:   fmt.Sprintf("Checked in to %s", event.Name),
		CreatedAt: now,
	})

	e.logger.Info("participant checked in",
		"record_id", rec.ID, "event_id", eventID, "user_id", userID,
		"distance_m", cls.DistanceM, "manual", manual)
	return rec, nil
}

// CheckOut closes an open record. Terminal records are returned unchanged so
// retries and the sweep stay idempotent.
func (e *AttendanceEngine) CheckOut(ctx context.Context, recordID string, reason domain.CheckOutReason) (*domain.AttendanceRecord, error) {
	unlock := e.locks.lock(recordID)
	defer unlock()

	rec, err := e.attendanceRepo.GetByID(ctx, recordID)
	if err != nil {
		return nil, err
	}
	if rec.State.Terminal() {
		return rec, nil
	}

	event, err := e.eventRepo.GetByID(ctx, rec.EventID)
	if err != nil {
		return nil, fmt.Errorf("get event: %w", err)
	}

	now := e.clock.Now()
	checkedOutAt := now
	if reason == domain.CheckOutAuto {
		// Automatic check-out is attributed to the event end, not to
		// whenever the sweep or monitor got around to it.
		if w, werr := e.window.Resolve(event); werr == nil && now.After(w.EndsAt) {
			checkedOutAt = w.EndsAt
		}
	}

	prev := rec.State
	e.closeOutsideEpisode(rec, checkedOutAt)
	rec.State = domain.StateCheckedOut
	rec.CheckedOutAt = &checkedOutAt
	rec.CheckOutReason = reason
	rec.UpdatedAt = now

	if err := e.applyTransition(ctx, rec, prev); err != nil {
		if errors.Is(err, domain.ErrConflict) {
			// Lost to another writer; re-read and report the settled state.
			return e.attendanceRepo.GetByID(ctx, recordID)
		}
		return nil, err
	}

	e.heartbeat.Stop(rec.ID)
	e.clearFailures(rec.ID)
	e.notify(ctx, domain.Notification{
		Type:      domain.NotifyCheckedOut,
		UserID:    rec.UserID,
		EventID:   rec.EventID,
		RecordID:  rec.ID,
		Title:     "Checked out",
		Message:   fmt.Sprintf("Checked out of %s (%s)", event.Name, reason),
		CreatedAt: now,
	})
	e.logger.Info("participant checked out",
		"record_id", rec.ID, "event_id", rec.EventID, "reason", reason)
	return rec, nil
}

// ProcessSample applies one location sample to the participant's record.
// Samples for unknown or terminal records are discarded without error.
func (e *AttendanceEngine) ProcessSample(ctx context.Context, sample domain.LocationSample) error {
	if !geo.ValidCoordinates(sample.Lat, sample.Lon) {
		return domain.ErrInvalidGeometry
	}

	rec, err := e.attendanceRepo.GetByEventAndUser(ctx, sample.EventID, sample.UserID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return domain.ErrNotFound
		}
		return fmt.Errorf("get attendance record: %w", err)
	}

	unlock := e.locks.lock(rec.ID)
	defer unlock()
	return e.evaluateLocked(ctx, rec.ID, &sample)
}

// Reevaluate re-runs window and escalation checks from the record's last
// known position. This is the heartbeat entry point.
func (e *AttendanceEngine) Reevaluate(ctx context.Context, recordID string) error {
	unlock := e.locks.lock(recordID)
	defer unlock()
	return e.evaluateLocked(ctx, recordID, nil)
}

// evaluateLocked applies one evaluation pass under the record lock. sample
// is nil for heartbeat passes. The terminal check happens on the fresh read,
// before any transition is attempted.
func (e *AttendanceEngine) evaluateLocked(ctx context.Context, recordID string, sample *domain.LocationSample) error {
	for attempt := 0; attempt < casRetries; attempt++ {
		rec, err := e.attendanceRepo.GetByID(ctx, recordID)
		if err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				return domain.ErrNotFound
			}
			return fmt.Errorf("get attendance record: %w", err)
		}
		if rec.State.Terminal() {
			e.heartbeat.Stop(rec.ID)
			return nil
		}

		event, err := e.eventRepo.GetByID(ctx, rec.EventID)
		if err != nil {
			return fmt.Errorf("get event: %w", err)
		}

		err = e.stepLocked(ctx, rec, event, sample)
		if !errors.Is(err, domain.ErrConflict) {
			return err
		}
		// Another process moved the record; retry from a fresh read.
	}
	return domain.ErrConflict
}

// stepLocked computes and persists a single transition for the record.
func (e *AttendanceEngine) stepLocked(ctx context.Context, rec *domain.AttendanceRecord, event *domain.Event, sample *domain.LocationSample) error {
	now := e.clock.Now()
	prev := rec.State

	w, err := e.window.Resolve(event)
	if err != nil {
		return err
	}

	// Window end overrides everything else: the record is auto
	// checked-out with the event end as its check-out time.
	if w.Phase(now) == domain.WindowEnded {
		e.closeOutsideEpisode(rec, w.EndsAt)
		rec.State = domain.StateCheckedOut
		rec.CheckedOutAt = &w.EndsAt
		rec.CheckOutReason = domain.CheckOutAuto
		rec.UpdatedAt = now
		if err := e.applyTransition(ctx, rec, prev); err != nil {
			return err
		}
		e.heartbeat.Stop(rec.ID)
		e.clearFailures(rec.ID)
		e.notify(ctx, domain.Notification{
			Type:      domain.NotifyCheckedOut,
			UserID:    rec.UserID,
			EventID:   rec.EventID,
			RecordID:  rec.ID,
			Title:     "Checked out",
			Message:   fmt.Sprintf("%s has ended, you were checked out automatically", event.Name),
			CreatedAt: now,
		})
		return nil
	}

	if sample != nil {
		cls, err := geo.Classify(*sample, event)
		if err != nil {
			return err
		}
		rec.LastLat = sample.Lat
		rec.LastLon = sample.Lon
		rec.LastAccuracyM = sample.AccuracyM
		rec.LastSeenAt = sample.Timestamp
		if rec.LastSeenAt.IsZero() {
			rec.LastSeenAt = now
		}

		if cls.Inside {
			if rec.OutsideSince != nil {
				// Close the episode; the cumulative counter keeps what was
				// accumulated and is never reset.
				e.closeOutsideEpisode(rec, now)
			}
			rec.State = domain.StateCheckedInInside
			rec.UpdatedAt = now
			return e.persistStep(ctx, rec, prev, nil)
		}

		if rec.OutsideSince == nil {
			outsideAt := now
			rec.OutsideSince = &outsideAt
			rec.State = domain.StateCheckedInOutside
		}
	}

	// Escalation runs on every pass, sample or heartbeat, so a participant
	// who stops transmitting while outside still progresses to absent.
	var alerts []domain.AlertType
	switch e.tracker.Evaluate(rec, event, now) {
	case EscalationWarning:
		if rec.State == domain.StateCheckedInOutside {
			rec.State = domain.StateCheckedInWarning
			alerts = append(alerts, domain.AlertWarning)
		}
	case EscalationAbsent:
		e.closeOutsideEpisode(rec, now)
		rec.State = domain.StateAbsent
		rec.CheckedOutAt = &now
		rec.CheckOutReason = domain.CheckOutAuto
		alerts = append(alerts, domain.AlertExceededLimit, domain.AlertAbsent)
	}

	if rec.State == prev && len(alerts) == 0 {
		// Nothing moved; persist only the refreshed location sample.
		if sample == nil {
			return nil
		}
		rec.UpdatedAt = now
		return e.attendanceRepo.UpdateStateFrom(ctx, rec, prev)
	}

	rec.UpdatedAt = now
	return e.persistStep(ctx, rec, prev, alerts)
}

// persistStep writes the transition, appends alerts, and emits side effects.
func (e *AttendanceEngine) persistStep(ctx context.Context, rec *domain.AttendanceRecord, prev domain.State, alerts []domain.AlertType) error {
	if err := e.applyTransition(ctx, rec, prev); err != nil {
		return err
	}

	now := rec.UpdatedAt
	for _, at := range alerts {
		alert := &domain.Alert{
			ID:        uuid.NewString(),
			RecordID:  rec.ID,
			Type:      at,
			Message:   alertMessage(at, rec),
			CreatedAt: now,
		}
		if err := e.attendanceRepo.AppendAlert(ctx, alert); err != nil {
			e.logger.Error("failed to append alert", "record_id", rec.ID, "type", at, "err", err)
			continue
		}
		metrics.Alerts.WithLabelValues(string(at)).Inc()
	}

	switch rec.State {
	case domain.StateCheckedInWarning:
		e.notify(ctx, domain.Notification{
			Type:      domain.NotifyWarning,
			UserID:    rec.UserID,
			EventID:   rec.EventID,
			RecordID:  rec.ID,
			Title:     "Outside the event area",
			Message:   "You have been outside the event area for a while. Return soon or you will be marked absent.",
			CreatedAt: now,
		})
	case domain.StateAbsent:
		e.heartbeat.Stop(rec.ID)
		e.clearFailures(rec.ID)
		e.notify(ctx, domain.Notification{
			Type:      domain.NotifyAbsent,
			UserID:    rec.UserID,
			EventID:   rec.EventID,
			RecordID:  rec.ID,
			Title:     "Marked absent",
			Message:   "You exceeded the allowed time outside the event area and were marked absent.",
			CreatedAt: now,
		})
	}
	return nil
}

// applyTransition persists the record through the compare-and-set update and
// records the transition metric on success.
func (e *AttendanceEngine) applyTransition(ctx context.Context, rec *domain.AttendanceRecord, prev domain.State) error {
	if err := e.attendanceRepo.UpdateStateFrom(ctx, rec, prev); err != nil {
		return err
	}
	if rec.State != prev {
		metrics.Transitions.WithLabelValues(string(rec.State)).Inc()
	}
	return nil
}

// closeOutsideEpisode folds the running outside episode into the cumulative
// counter. The counter is monotone: episodes only ever add to it.
func (e *AttendanceEngine) closeOutsideEpisode(rec *domain.AttendanceRecord, until time.Time) {
	if rec.OutsideSince == nil {
		return
	}
	if elapsed := until.Sub(*rec.OutsideSince); elapsed > 0 {
		rec.OutsideSeconds += int64(elapsed.Seconds())
	}
	rec.OutsideSince = nil
}

// CurrentStatus returns the live snapshot for a record, including the time
// outside accrued in the episode still in progress.
func (e *AttendanceEngine) CurrentStatus(ctx context.Context, recordID string) (*domain.StatusSnapshot, error) {
	rec, err := e.attendanceRepo.GetByID(ctx, recordID)
	if err != nil {
		return nil, err
	}
	event, err := e.eventRepo.GetByID(ctx, rec.EventID)
	if err != nil {
		return nil, fmt.Errorf("get event: %w", err)
	}

	now := e.clock.Now()
	outside := rec.OutsideSeconds
	if rec.OutsideSince != nil {
		if live := now.Sub(*rec.OutsideSince); live > 0 {
			outside += int64(live.Seconds())
		}
	}

	snapshot := &domain.StatusSnapshot{
		RecordID:           rec.ID,
		EventID:            rec.EventID,
		UserID:             rec.UserID,
		State:              rec.State,
		TimeOutsideSeconds: outside,
		CheckedInAt:        rec.CheckedInAt,
		LastSeenAt:         rec.LastSeenAt,
	}
	if geo.ValidCoordinates(rec.LastLat, rec.LastLon) && !rec.LastSeenAt.IsZero() {
		cls, cerr := geo.Classify(domain.LocationSample{Lat: rec.LastLat, Lon: rec.LastLon}, event)
		if cerr == nil {
			snapshot.IsInside = cls.Inside
			snapshot.DistanceM = cls.DistanceM
		}
	}
	return snapshot, nil
}

// ResumeTracking restarts heartbeat timers for records that were open when
// the process last stopped. Called once at startup.
func (e *AttendanceEngine) ResumeTracking(ctx context.Context, eventIDs []string) {
	for _, eventID := range eventIDs {
		recs, err := e.attendanceRepo.ListByEventID(ctx, eventID)
		if err != nil {
			e.logger.Error("failed to list records for tracking resume", "event_id", eventID, "err", err)
			continue
		}
		for _, rec := range recs {
			if rec.State.CheckedIn() {
				e.heartbeat.Track(rec.ID)
			}
		}
	}
}

// Close stops all heartbeat timers. Required cleanup path on teardown.
func (e *AttendanceEngine) Close() {
	e.heartbeat.StopAll()
}

// heartbeatTick is the per-record timer body: refresh the location if a
// source is available, then re-evaluate. Returns true once the record is
// terminal so the timer is released.
func (e *AttendanceEngine) heartbeatTick(ctx context.Context, recordID string) bool {
	rec, err := e.attendanceRepo.GetByID(ctx, recordID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return true
		}
		e.logger.Error("heartbeat read failed", "record_id", recordID, "err", err)
		return false
	}
	if rec.State.Terminal() {
		return true
	}

	if e.source != nil {
		fixCtx, cancel := context.WithTimeout(ctx, e.locationTimeout)
		sample, err := e.source.Current(fixCtx, rec.EventID, rec.UserID)
		cancel()
		switch {
		case err == nil:
			if perr := e.ProcessSample(ctx, *sample); perr != nil && !errors.Is(perr, domain.ErrNotFound) {
				e.logger.Error("heartbeat sample processing failed", "record_id", recordID, "err", perr)
			}
		default:
			// Never infer presence from a failed fix; count it, surface it
			// after repeated failures, and fall through to re-evaluation
			// from the last known position.
			metrics.LocationFailures.Inc()
			if e.recordFailure(rec.ID) == e.notifyAfter {
				e.notify(ctx, domain.Notification{
					Type:      domain.NotifyLocationFailure,
					UserID:    rec.UserID,
					EventID:   rec.EventID,
					RecordID:  rec.ID,
					Title:     "Location unavailable",
					Message:   "We can't read your location. Attendance monitoring may mark you absent if this persists.",
					CreatedAt: e.clock.Now(),
				})
			}
		}
	}

	if err := e.Reevaluate(ctx, recordID); err != nil && !errors.Is(err, domain.ErrNotFound) {
		e.logger.Error("heartbeat re-evaluation failed", "record_id", recordID, "err", err)
	}

	rec, err = e.attendanceRepo.GetByID(ctx, recordID)
	if err != nil {
		return errors.Is(err, domain.ErrNotFound)
	}
	return rec.State.Terminal()
}

func (e *AttendanceEngine) recordFailure(recordID string) int {
	e.failMu.Lock()
	defer e.failMu.Unlock()
	e.failures[recordID]++
	return e.failures[recordID]
}

func (e *AttendanceEngine) clearFailures(recordID string) {
	e.failMu.Lock()
	defer e.failMu.Unlock()
	delete(e.failures, recordID)
}

// notify forwards to the sink; sink failures never propagate into the state
// machine.
func (e *AttendanceEngine) notify(ctx context.Context, n domain.Notification) {
	if e.sink == nil {
		return
	}
	if err := e.sink.Notify(ctx, n); err != nil {
		e.logger.Error("notification failed", "type", n.Type, "record_id", n.RecordID, "err", err)
	}
}

func alertMessage(t domain.AlertType, rec *domain.AttendanceRecord) string {
	switch t {
	case domain.AlertWarning:
		return "participant has been outside the geofence beyond the warning threshold"
	case domain.AlertExceededLimit:
		return fmt.Sprintf("participant exceeded the allowed time outside (%ds accumulated)", rec.OutsideSeconds)
	case domain.AlertAbsent:
		return "participant marked absent"
	default:
		return string(t)
	}
}
