package postgres

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/require"

	"geoattend/internal/domain"
)

func TestEventRegistrationRepository_Create(t *testing.T) {
	ctx := context.Background()
	at := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	reg := domain.NewEventRegistration("ev-1", "user-1", at, at)

	t.Run("success", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		require.NoError(t, err)
		defer db.Close()

		mock.ExpectQuery(`INSERT INTO event_registrations`).
			WithArgs("ev-1", "user-1", at, at).
			WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("reg-1"))

		repo := NewEventRegistrationRepository(db)
		require.NoError(t, repo.Create(ctx, reg))
		require.Equal(t, "reg-1", reg.ID)
	})

	t.Run("duplicate pair maps to conflict", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		require.NoError(t, err)
		defer db.Close()

		mock.ExpectQuery(`INSERT INTO event_registrations`).
			WillReturnError(&pq.Error{Code: uniqueViolation})

		repo := NewEventRegistrationRepository(db)
		err = repo.Create(ctx, reg)
		require.ErrorIs(t, err, domain.ErrConflict)
	})
}

func TestEventRegistrationRepository_GetByEventAndUser(t *testing.T) {
	ctx := context.Background()

	t.Run("success", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		require.NoError(t, err)
		defer db.Close()

		at := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
		mock.ExpectQuery(`SELECT id, event_id, user_id, created_at, updated_at`).
			WithArgs("ev-1", "user-1").
			WillReturnRows(sqlmock.NewRows([]string{"id", "event_id", "user_id", "created_at", "updated_at"}).
				AddRow("reg-1", "ev-1", "user-1", at, at))

		repo := NewEventRegistrationRepository(db)
		reg, err := repo.GetByEventAndUser(ctx, "ev-1", "user-1")
		require.NoError(t, err)
		require.Equal(t, "reg-1", reg.ID)
	})

	t.Run("not found", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		require.NoError(t, err)
		defer db.Close()

		mock.ExpectQuery(`SELECT id, event_id, user_id, created_at, updated_at`).
			WithArgs("ev-1", "nobody").
			WillReturnError(sql.ErrNoRows)

		repo := NewEventRegistrationRepository(db)
		_, err = repo.GetByEventAndUser(ctx, "ev-1", "nobody")
		require.ErrorIs(t, err, domain.ErrNotFound)
	})
}

func TestEventRegistrationRepository_ListByEventID(t *testing.T) {
	ctx := context.Background()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	at := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	mock.ExpectQuery(`FROM event_registrations\s+WHERE event_id = \$1`).
		WithArgs("ev-1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "event_id", "user_id", "created_at", "updated_at"}).
			AddRow("reg-1", "ev-1", "user-1", at, at).
			AddRow("reg-2", "ev-1", "user-2", at, at))

	repo := NewEventRegistrationRepository(db)
	regs, err := repo.ListByEventID(ctx, "ev-1")
	require.NoError(t, err)
	require.Len(t, regs, 2)
}
