package services

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"geoattend/internal/domain"
)

func mustLoc(t *testing.T, name string) *time.Location {
	t.Helper()
	loc, err := time.LoadLocation(name)
	require.NoError(t, err)
	return loc
}

func TestWindowCalculator_Resolve(t *testing.T) {
	calc := NewWindowCalculator(0, 0, 0)
	ny := mustLoc(t, "America/New_York")

	t.Run("single day with explicit end", func(t *testing.T) {
		event := &domain.Event{
			Date: "2025-06-15", StartTime: "09:00", EndTime: "17:00",
			Timezone: "America/New_York",
		}
		w, err := calc.Resolve(event)
		require.NoError(t, err)

		assert.True(t, w.StartsAt.Equal(time.Date(2025, 6, 15, 9, 0, 0, 0, ny)))
		assert.True(t, w.EndsAt.Equal(time.Date(2025, 6, 15, 17, 0, 0, 0, ny)))
		assert.True(t, w.OpensAt.Equal(time.Date(2025, 6, 15, 8, 0, 0, 0, ny)), "monitoring opens 60 minutes before start")
		assert.True(t, w.EarlyOpensAt.Equal(time.Date(2025, 6, 15, 8, 30, 0, 0, ny)), "manual check-in opens 30 minutes before start")
		assert.Equal(t, time.UTC, w.StartsAt.Location())
	})

	t.Run("missing end time defaults to three hours", func(t *testing.T) {
		event := &domain.Event{
			Date: "2025-06-15", StartTime: "09:00",
			Timezone: "America/New_York",
		}
		w, err := calc.Resolve(event)
		require.NoError(t, err)
		assert.True(t, w.EndsAt.Equal(time.Date(2025, 6, 15, 12, 0, 0, 0, ny)))
	})

	t.Run("multi-day event ends on the last day", func(t *testing.T) {
		event := &domain.Event{
			Date: "2025-06-15", EndDate: "2025-06-17",
			StartTime: "09:00", EndTime: "17:00",
			Timezone: "America/New_York",
		}
		w, err := calc.Resolve(event)
		require.NoError(t, err)
		assert.True(t, w.StartsAt.Equal(time.Date(2025, 6, 15, 9, 0, 0, 0, ny)))
		assert.True(t, w.EndsAt.Equal(time.Date(2025, 6, 17, 17, 0, 0, 0, ny)))
	})

	t.Run("multi-day without end time falls back from the last day's start", func(t *testing.T) {
		event := &domain.Event{
			Date: "2025-06-15", EndDate: "2025-06-16",
			StartTime: "09:00",
			Timezone:  "America/New_York",
		}
		w, err := calc.Resolve(event)
		require.NoError(t, err)
		assert.True(t, w.EndsAt.Equal(time.Date(2025, 6, 16, 12, 0, 0, 0, ny)))
	})

	t.Run("bad inputs", func(t *testing.T) {
		tests := []struct {
			name  string
			event *domain.Event
		}{
			{"unknown timezone", &domain.Event{Date: "2025-06-15", StartTime: "09:00", Timezone: "Mars/Olympus"}},
			{"bad date", &domain.Event{Date: "15-06-2025", StartTime: "09:00", Timezone: "UTC"}},
			{"bad start time", &domain.Event{Date: "2025-06-15", StartTime: "9am", Timezone: "UTC"}},
			{"end before start", &domain.Event{Date: "2025-06-15", StartTime: "17:00", EndTime: "09:00", Timezone: "UTC"}},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				_, err := calc.Resolve(tt.event)
				assert.Error(t, err)
			})
		}
	})
}

func TestWindowCalculator_Phase(t *testing.T) {
	calc := NewWindowCalculator(0, 0, 0)
	event := &domain.Event{
		Date: "2025-06-15", StartTime: "09:00", EndTime: "17:00",
		Timezone: "America/New_York",
	}
	ny := mustLoc(t, "America/New_York")

	tests := []struct {
		name string
		now  time.Time
		want domain.WindowPhase
	}{
		{"before monitoring opens", time.Date(2025, 6, 15, 7, 59, 0, 0, ny), domain.WindowNotYetOpen},
		{"monitoring open", time.Date(2025, 6, 15, 8, 0, 0, 0, ny), domain.WindowCheckInOpen},
		{"in progress", time.Date(2025, 6, 15, 12, 0, 0, 0, ny), domain.WindowInProgress},
		{"ended", time.Date(2025, 6, 15, 17, 0, 0, 0, ny), domain.WindowEnded},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			phase, err := calc.Phase(event, tt.now)
			require.NoError(t, err)
			assert.Equal(t, tt.want, phase)
		})
	}
}

func TestWindowCalculator_CheckInWindowError(t *testing.T) {
	calc := NewWindowCalculator(0, 0, 0)
	event := &domain.Event{
		Date: "2025-06-15", StartTime: "09:00", EndTime: "17:00",
		Timezone: "America/New_York",
	}
	ny := mustLoc(t, "America/New_York")

	t.Run("too early reports when the window opens", func(t *testing.T) {
		err := calc.CheckInWindowError(event, time.Date(2025, 6, 15, 7, 0, 0, 0, ny), true)
		require.Error(t, err)
		var wne *domain.WindowNotOpenError
		require.ErrorAs(t, err, &wne)
		assert.True(t, errors.Is(err, domain.ErrWindowNotOpen))
		assert.True(t, wne.OpensAt.Equal(time.Date(2025, 6, 15, 8, 30, 0, 0, ny)))
		assert.False(t, wne.Ended)
	})

	t.Run("automatic opens earlier than manual", func(t *testing.T) {
		at := time.Date(2025, 6, 15, 8, 10, 0, 0, ny)
		assert.NoError(t, calc.CheckInWindowError(event, at, false))
		assert.Error(t, calc.CheckInWindowError(event, at, true))
	})

	t.Run("ended event", func(t *testing.T) {
		err := calc.CheckInWindowError(event, time.Date(2025, 6, 15, 17, 1, 0, 0, ny), true)
		require.Error(t, err)
		var wne *domain.WindowNotOpenError
		require.ErrorAs(t, err, &wne)
		assert.True(t, wne.Ended)
	})
}
