package services

import (
	"fmt"
	"time"

	"geoattend/internal/domain"
)

// Window timing defaults. The automatic monitoring window opens earlier than
// manual check-in is allowed; both constants exist on purpose and must not be
// merged.
const (
	DefaultCheckInOpenLead  = 60 * time.Minute
	DefaultEarlyCheckInLead = 30 * time.Minute
	DefaultEventDuration    = 3 * time.Hour

	dateLayout = "2006-01-02"
	timeLayout = "15:04"
)

// WindowCalculator resolves an event's local date/time window into absolute
// instants and classifies "now" against it. All arithmetic goes through the
// event's own IANA timezone; local wall-clock strings are never compared
// against UTC directly.
type WindowCalculator struct {
	openLead        time.Duration
	earlyLead       time.Duration
	defaultDuration time.Duration
}

// NewWindowCalculator builds a calculator with the given leads. Non-positive
// values fall back to the defaults.
func NewWindowCalculator(openLead, earlyLead, defaultDuration time.Duration) *WindowCalculator {
	if openLead <= 0 {
		openLead = DefaultCheckInOpenLead
	}
	if earlyLead <= 0 {
		earlyLead = DefaultEarlyCheckInLead
	}
	if defaultDuration <= 0 {
		defaultDuration = DefaultEventDuration
	}
	return &WindowCalculator{openLead: openLead, earlyLead: earlyLead, defaultDuration: defaultDuration}
}

// Resolve computes the event's absolute window from its local fields.
func (c *WindowCalculator) Resolve(event *domain.Event) (domain.EventWindow, error) {
	loc, err := time.LoadLocation(event.Timezone)
	if err != nil {
		return domain.EventWindow{}, fmt.Errorf("load timezone %q: %w", event.Timezone, err)
	}

	startDay, err := time.ParseInLocation(dateLayout, event.Date, loc)
	if err != nil {
		return domain.EventWindow{}, fmt.Errorf("parse event date %q: %w", event.Date, err)
	}
	startTOD, err := time.Parse(timeLayout, event.StartTime)
	if err != nil {
		return domain.EventWindow{}, fmt.Errorf("parse start time %q: %w", event.StartTime, err)
	}
	start := time.Date(startDay.Year(), startDay.Month(), startDay.Day(),
		startTOD.Hour(), startTOD.Minute(), 0, 0, loc)

	endDay := startDay
	if event.EndDate != "" {
		endDay, err = time.ParseInLocation(dateLayout, event.EndDate, loc)
		if err != nil {
			return domain.EventWindow{}, fmt.Errorf("parse event end date %q: %w", event.EndDate, err)
		}
	}

	var end time.Time
	if event.EndTime != "" {
		endTOD, err := time.Parse(timeLayout, event.EndTime)
		if err != nil {
			return domain.EventWindow{}, fmt.Errorf("parse end time %q: %w", event.EndTime, err)
		}
		end = time.Date(endDay.Year(), endDay.Month(), endDay.Day(),
			endTOD.Hour(), endTOD.Minute(), 0, 0, loc)
	} else {
		// No configured end: assume the default duration from the start of
		// the last day.
		end = time.Date(endDay.Year(), endDay.Month(), endDay.Day(),
			startTOD.Hour(), startTOD.Minute(), 0, 0, loc).Add(c.defaultDuration)
	}

	if !end.After(start) {
		return domain.EventWindow{}, fmt.Errorf("event end %s is not after start %s: %w", end, start, domain.ErrInvalidInput)
	}

	return domain.EventWindow{
		StartsAt:     start.UTC(),
		EndsAt:       end.UTC(),
		OpensAt:      start.Add(-c.openLead).UTC(),
		EarlyOpensAt: start.Add(-c.earlyLead).UTC(),
	}, nil
}

// Phase resolves the event window and classifies the given instant.
func (c *WindowCalculator) Phase(event *domain.Event, now time.Time) (domain.WindowPhase, error) {
	w, err := c.Resolve(event)
	if err != nil {
		return "", err
	}
	return w.Phase(now), nil
}

// CheckInWindowError validates that a check-in at the given instant is in
// window. It returns nil when allowed, or a *domain.WindowNotOpenError
// explaining when the window opens (or that the event ended). Manual
// check-ins are held to the shorter early allowance; automatic ones may start
// as soon as monitoring opens.
func (c *WindowCalculator) CheckInWindowError(event *domain.Event, now time.Time, manual bool) error {
	w, err := c.Resolve(event)
	if err != nil {
		return err
	}
	if !now.Before(w.EndsAt) {
		return &domain.WindowNotOpenError{Now: now, Ended: true}
	}
	opensAt := w.OpensAt
	if manual {
		opensAt = w.EarlyOpensAt
	}
	if now.Before(opensAt) {
		return &domain.WindowNotOpenError{OpensAt: opensAt, Now: now}
	}
	return nil
}
