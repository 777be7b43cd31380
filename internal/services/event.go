package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"geoattend/internal/domain"
	"geoattend/internal/geo"
)

type eventService struct {
	eventRepo      domain.EventRepository
	regRepo        domain.EventRegistrationRepository
	attendanceRepo domain.AttendanceRepository
	window         *WindowCalculator
	contextTimeout time.Duration
}

func NewEventService(
	eventRepo domain.EventRepository,
	regRepo domain.EventRegistrationRepository,
	attendanceRepo domain.AttendanceRepository,
	window *WindowCalculator,
	timeout time.Duration,
) domain.EventService {
	return &eventService{
		eventRepo:      eventRepo,
		regRepo:        regRepo,
		attendanceRepo: attendanceRepo,
		window:         window,
		contextTimeout: timeout,
	}
}

func (s *eventService) CreateEvent(ctx context.Context, event *domain.Event) (*domain.Event, error) {
	ctx, cancel := context.WithTimeout(ctx, s.contextTimeout)
	defer cancel()

	if event.OwnerID == "" {
		return nil, fmt.Errorf("event owner is required: %w", domain.ErrInvalidInput)
	}
	event.Name = strings.TrimSpace(event.Name)
	if event.Name == "" {
		return nil, fmt.Errorf("event name is required: %w", domain.ErrInvalidInput)
	}
	if !geo.ValidCoordinates(event.Lat, event.Lon) {
		return nil, fmt.Errorf("venue coordinates: %w", domain.ErrInvalidGeometry)
	}
	if event.RadiusM < 0 {
		return nil, fmt.Errorf("geofence radius must not be negative: %w", domain.ErrInvalidGeometry)
	}
	if event.RadiusM == 0 {
		event.RadiusM = domain.DefaultGeofenceRadiusM
	}
	if event.MaxOutsideSeconds < 0 {
		return nil, fmt.Errorf("max outside seconds must not be negative: %w", domain.ErrInvalidInput)
	}

	// Resolving the window validates timezone, date and time formats in one go.
	w, err := s.window.Resolve(event)
	if err != nil {
		return nil, err
	}
	event.StartsAt = w.StartsAt
	event.EndsAt = w.EndsAt

	now := time.Now()
	event.CreatedAt = now
	event.UpdatedAt = now

	if err := s.eventRepo.Create(ctx, event); err != nil {
		return nil, fmt.Errorf("create event: %w", err)
	}
	return event, nil
}

func (s *eventService) GetEvent(ctx context.Context, eventID string) (*domain.Event, error) {
	ctx, cancel := context.WithTimeout(ctx, s.contextTimeout)
	defer cancel()

	event, err := s.eventRepo.GetByID(ctx, eventID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("get event: %w", err)
	}
	return event, nil
}

func (s *eventService) ListMyEvents(ctx context.Context, ownerID string) ([]*domain.Event, error) {
	ctx, cancel := context.WithTimeout(ctx, s.contextTimeout)
	defer cancel()

	events, err := s.eventRepo.ListByOwnerID(ctx, ownerID)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	if events == nil {
		events = []*domain.Event{}
	}
	return events, nil
}

func (s *eventService) RegisterForEvent(ctx context.Context, eventID, userID string) (*domain.EventRegistration, bool, error) {
	ctx, cancel := context.WithTimeout(ctx, s.contextTimeout)
	defer cancel()

	if _, err := s.eventRepo.GetByID(ctx, eventID); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, false, domain.ErrNotFound
		}
		return nil, false, fmt.Errorf("get event: %w", err)
	}

	existing, err := s.regRepo.GetByEventAndUser(ctx, eventID, userID)
	if err == nil {
		return existing, false, nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return nil, false, fmt.Errorf("get registration: %w", err)
	}

	now := time.Now()
	reg := domain.NewEventRegistration(eventID, userID, now, now)
	if err := s.regRepo.Create(ctx, reg); err != nil {
		// Raced with a concurrent registration for the same pair.
		if errors.Is(err, domain.ErrConflict) {
			if existing, getErr := s.regRepo.GetByEventAndUser(ctx, eventID, userID); getErr == nil {
				return existing, false, nil
			}
		}
		return nil, false, fmt.Errorf("create registration: %w", err)
	}
	return reg, true, nil
}

func (s *eventService) ListMyRegisteredEvents(ctx context.Context, userID string) ([]*domain.EventRegistrationWithEvent, error) {
	ctx, cancel := context.WithTimeout(ctx, s.contextTimeout)
	defer cancel()

	regs, err := s.regRepo.ListByUserID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list registrations: %w", err)
	}

	out := make([]*domain.EventRegistrationWithEvent, 0, len(regs))
	for _, reg := range regs {
		event, err := s.eventRepo.GetByID(ctx, reg.EventID)
		if err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				continue
			}
			return nil, fmt.Errorf("get event %s: %w", reg.EventID, err)
		}
		out = append(out, &domain.EventRegistrationWithEvent{Registration: reg, Event: event})
	}
	return out, nil
}

func (s *eventService) ListAttendance(ctx context.Context, eventID, ownerID string) ([]*domain.AttendanceRecord, error) {
	ctx, cancel := context.WithTimeout(ctx, s.contextTimeout)
	defer cancel()

	event, err := s.eventRepo.GetByID(ctx, eventID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("get event: %w", err)
	}
	if event.OwnerID != ownerID {
		return nil, domain.ErrForbidden
	}

	records, err := s.attendanceRepo.ListByEventID(ctx, eventID)
	if err != nil {
		return nil, fmt.Errorf("list attendance records: %w", err)
	}
	if records == nil {
		records = []*domain.AttendanceRecord{}
	}
	return records, nil
}
