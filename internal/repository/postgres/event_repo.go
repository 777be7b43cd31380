package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"geoattend/internal/domain"
)

const eventColumns = `id, owner_id, name, description, date, end_date, start_time, end_time,
		timezone, lat, lon, radius_m, max_outside_seconds, starts_at, ends_at, created_at, updated_at`

type eventRepository struct {
	DB *sql.DB
}

func NewEventRepository(db *sql.DB) domain.EventRepository {
	return &eventRepository{DB: db}
}

func (r *eventRepository) Create(ctx context.Context, e *domain.Event) error {
	query := `
		INSERT INTO events (owner_id, name, description, date, end_date, start_time, end_time,
			timezone, lat, lon, radius_m, max_outside_seconds, starts_at, ends_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
		RETURNING id
	`
	return r.DB.QueryRowContext(ctx, query,
		e.OwnerID, e.Name, e.Description, e.Date, nullString(e.EndDate), e.StartTime, nullString(e.EndTime),
		e.Timezone, e.Lat, e.Lon, e.RadiusM, e.MaxOutsideSeconds, e.StartsAt, e.EndsAt, e.CreatedAt, e.UpdatedAt,
	).Scan(&e.ID)
}

func (r *eventRepository) GetByID(ctx context.Context, id string) (*domain.Event, error) {
	query := `SELECT ` + eventColumns + ` FROM events WHERE id = $1`
	e, err := scanEvent(r.DB.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	return e, nil
}

func (r *eventRepository) ListByOwnerID(ctx context.Context, ownerID string) ([]*domain.Event, error) {
	query := `SELECT ` + eventColumns + ` FROM events WHERE owner_id = $1 ORDER BY starts_at DESC`
	return r.list(ctx, query, ownerID)
}

func (r *eventRepository) ListMonitorable(ctx context.Context, now time.Time, lead time.Duration) ([]*domain.Event, error) {
	// make_interval takes the lead in seconds; Go duration strings such as
	// "1h30m0s" are not valid postgres interval input.
	query := `SELECT ` + eventColumns + `
		FROM events
		WHERE starts_at - make_interval(secs => $2) <= $1 AND $1 < ends_at
		ORDER BY starts_at
	`
	return r.list(ctx, query, now, lead.Seconds())
}

func (r *eventRepository) list(ctx context.Context, query string, args ...any) ([]*domain.Event, error) {
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	events := make([]*domain.Event, 0)
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEvent(row rowScanner) (*domain.Event, error) {
	e := &domain.Event{}
	var endDate, endTime sql.NullString
	err := row.Scan(
		&e.ID, &e.OwnerID, &e.Name, &e.Description, &e.Date, &endDate, &e.StartTime, &endTime,
		&e.Timezone, &e.Lat, &e.Lon, &e.RadiusM, &e.MaxOutsideSeconds, &e.StartsAt, &e.EndsAt,
		&e.CreatedAt, &e.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	e.EndDate = endDate.String
	e.EndTime = endTime.String
	return e, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
