package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"geoattend/internal/domain"
)

func newEventFixture(t *testing.T) (domain.EventService, *memEventRepo, *memRegRepo) {
	t.Helper()
	events := newMemEventRepo()
	regs := newMemRegRepo()
	recs := newMemAttendanceRepo(events)
	svc := NewEventService(events, regs, recs, NewWindowCalculator(0, 0, 0), 2*time.Second)
	return svc, events, regs
}

func validEvent() *domain.Event {
	return &domain.Event{
		OwnerID:           "owner-1",
		Name:              "Go Meetup",
		Date:              "2025-06-15",
		StartTime:         "09:00",
		EndTime:           "17:00",
		Timezone:          "Europe/Berlin",
		Lat:               52.52,
		Lon:               13.405,
		RadiusM:           150,
		MaxOutsideSeconds: 1200,
	}
}

func TestEventService_CreateEvent(t *testing.T) {
	ctx := context.Background()

	t.Run("resolves the window on create", func(t *testing.T) {
		svc, _, _ := newEventFixture(t)
		event, err := svc.CreateEvent(ctx, validEvent())
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		// 09:00 Berlin summer time is 07:00 UTC.
		want := time.Date(2025, 6, 15, 7, 0, 0, 0, time.UTC)
		if !event.StartsAt.Equal(want) {
			t.Errorf("starts_at = %s, want %s", event.StartsAt, want)
		}
		if !event.EndsAt.Equal(want.Add(8 * time.Hour)) {
			t.Errorf("ends_at = %s, want %s", event.EndsAt, want.Add(8*time.Hour))
		}
	})

	t.Run("defaults the geofence radius", func(t *testing.T) {
		svc, _, _ := newEventFixture(t)
		in := validEvent()
		in.RadiusM = 0
		event, err := svc.CreateEvent(ctx, in)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if event.RadiusM != domain.DefaultGeofenceRadiusM {
			t.Errorf("radius = %.0f, want default %.0f", event.RadiusM, domain.DefaultGeofenceRadiusM)
		}
	})

	t.Run("rejects bad input", func(t *testing.T) {
		tests := []struct {
			name    string
			mutate  func(*domain.Event)
			wantErr error
		}{
			{"missing owner", func(e *domain.Event) { e.OwnerID = "" }, domain.ErrInvalidInput},
			{"missing name", func(e *domain.Event) { e.Name = "  " }, domain.ErrInvalidInput},
			{"latitude out of range", func(e *domain.Event) { e.Lat = 95 }, domain.ErrInvalidGeometry},
			{"negative radius", func(e *domain.Event) { e.RadiusM = -1 }, domain.ErrInvalidGeometry},
			{"negative outside limit", func(e *domain.Event) { e.MaxOutsideSeconds = -1 }, domain.ErrInvalidInput},
			{"end before start", func(e *domain.Event) { e.StartTime = "17:00"; e.EndTime = "09:00" }, domain.ErrInvalidInput},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				svc, _, _ := newEventFixture(t)
				in := validEvent()
				tt.mutate(in)
				_, err := svc.CreateEvent(ctx, in)
				if !errors.Is(err, tt.wantErr) {
					t.Errorf("error = %v, want %v", err, tt.wantErr)
				}
			})
		}
	})

	t.Run("unknown timezone", func(t *testing.T) {
		svc, _, _ := newEventFixture(t)
		in := validEvent()
		in.Timezone = "Mars/Olympus"
		if _, err := svc.CreateEvent(ctx, in); err == nil {
			t.Error("expected error for unknown timezone")
		}
	})
}

func TestEventService_RegisterForEvent(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := newEventFixture(t)
	event, err := svc.CreateEvent(ctx, validEvent())
	if err != nil {
		t.Fatalf("create event: %v", err)
	}

	reg, created, err := svc.RegisterForEvent(ctx, event.ID, "user-1")
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if !created {
		t.Error("first registration should report created")
	}

	again, created, err := svc.RegisterForEvent(ctx, event.ID, "user-1")
	if err != nil {
		t.Fatalf("repeat register: %v", err)
	}
	if created {
		t.Error("repeat registration must not report created")
	}
	if again.ID != reg.ID {
		t.Errorf("repeat registration returned %s, want %s", again.ID, reg.ID)
	}

	if _, _, err := svc.RegisterForEvent(ctx, "missing", "user-1"); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("error = %v, want ErrNotFound", err)
	}
}

func TestEventService_ListAttendance(t *testing.T) {
	ctx := context.Background()
	events := newMemEventRepo()
	regs := newMemRegRepo()
	recs := newMemAttendanceRepo(events)
	svc := NewEventService(events, regs, recs, NewWindowCalculator(0, 0, 0), 2*time.Second)

	event, err := svc.CreateEvent(ctx, validEvent())
	if err != nil {
		t.Fatalf("create event: %v", err)
	}
	if err := recs.Create(ctx, &domain.AttendanceRecord{EventID: event.ID, UserID: "user-1", State: domain.StateCheckedInInside}); err != nil {
		t.Fatalf("seed record: %v", err)
	}
	if err := recs.Create(ctx, &domain.AttendanceRecord{EventID: event.ID, UserID: "user-2", State: domain.StateAbsent}); err != nil {
		t.Fatalf("seed record: %v", err)
	}

	records, err := svc.ListAttendance(ctx, event.ID, "owner-1")
	if err != nil {
		t.Fatalf("list attendance: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("records = %d, want 2", len(records))
	}
	// Absent stays distinct from checked-out in the organizer view.
	states := map[domain.State]bool{}
	for _, rec := range records {
		states[rec.State] = true
	}
	if !states[domain.StateAbsent] || !states[domain.StateCheckedInInside] {
		t.Errorf("states = %v, want absent and checked_in_inside reported verbatim", states)
	}

	if _, err := svc.ListAttendance(ctx, event.ID, "somebody-else"); !errors.Is(err, domain.ErrForbidden) {
		t.Errorf("error = %v, want ErrForbidden", err)
	}
}
