package postgres

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"

	"geoattend/internal/domain"
)

var eventCols = []string{
	"id", "owner_id", "name", "description", "date", "end_date", "start_time", "end_time",
	"timezone", "lat", "lon", "radius_m", "max_outside_seconds", "starts_at", "ends_at",
	"created_at", "updated_at",
}

func eventRow(id string) []driver.Value {
	at := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	return []driver.Value{
		id, "owner-1", "Go Meetup", "", "2025-06-15", nil, "09:00", "17:00",
		"UTC", 40.0, -74.0, 100.0, 1200,
		time.Date(2025, 6, 15, 9, 0, 0, 0, time.UTC),
		time.Date(2025, 6, 15, 17, 0, 0, 0, time.UTC),
		at, at,
	}
}

func TestEventRepository_Create(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name    string
		mock    func(mock sqlmock.Sqlmock)
		wantID  string
		wantErr bool
	}{
		{
			name: "success",
			mock: func(mock sqlmock.Sqlmock) {
				mock.ExpectQuery(`INSERT INTO events`).
					WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("ev-1"))
			},
			wantID: "ev-1",
		},
		{
			name: "db error",
			mock: func(mock sqlmock.Sqlmock) {
				mock.ExpectQuery(`INSERT INTO events`).
					WillReturnError(sql.ErrConnDone)
			},
			wantErr: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db, mock, err := sqlmock.New()
			require.NoError(t, err)
			defer db.Close()

			tt.mock(mock)
			event := &domain.Event{
				OwnerID: "owner-1", Name: "Go Meetup",
				Date: "2025-06-15", StartTime: "09:00", EndTime: "17:00", Timezone: "UTC",
				Lat: 40.0, Lon: -74.0, RadiusM: 100, MaxOutsideSeconds: 1200,
			}
			repo := NewEventRepository(db)
			err = repo.Create(ctx, event)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tt.wantID, event.ID)
			require.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestEventRepository_GetByID(t *testing.T) {
	ctx := context.Background()

	t.Run("success", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		require.NoError(t, err)
		defer db.Close()

		mock.ExpectQuery(`SELECT id, owner_id, name, description`).
			WithArgs("ev-1").
			WillReturnRows(sqlmock.NewRows(eventCols).AddRow(eventRow("ev-1")...))

		repo := NewEventRepository(db)
		event, err := repo.GetByID(ctx, "ev-1")
		require.NoError(t, err)
		require.Equal(t, "ev-1", event.ID)
		require.Equal(t, "UTC", event.Timezone)
		require.Equal(t, 100.0, event.RadiusM)
		require.Empty(t, event.EndDate)
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("not found", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		require.NoError(t, err)
		defer db.Close()

		mock.ExpectQuery(`SELECT id, owner_id, name, description`).
			WithArgs("missing").
			WillReturnError(sql.ErrNoRows)

		repo := NewEventRepository(db)
		_, err = repo.GetByID(ctx, "missing")
		require.ErrorIs(t, err, domain.ErrNotFound)
	})
}

func TestEventRepository_ListMonitorable(t *testing.T) {
	ctx := context.Background()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	now := time.Date(2025, 6, 15, 8, 30, 0, 0, time.UTC)
	mock.ExpectQuery(`WHERE starts_at - make_interval\(secs => \$2\) <= \$1 AND \$1 < ends_at`).
		WithArgs(now, time.Hour.Seconds()).
		WillReturnRows(sqlmock.NewRows(eventCols).AddRow(eventRow("ev-1")...))

	repo := NewEventRepository(db)
	events, err := repo.ListMonitorable(ctx, now, time.Hour)
	require.NoError(t, err)
	require.Len(t, events, 1)
	require.Equal(t, "ev-1", events[0].ID)
	require.NoError(t, mock.ExpectationsWereMet())
}
