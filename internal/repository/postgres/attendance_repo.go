package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"geoattend/internal/domain"
)

const attendanceColumns = `id, event_id, user_id, state, checked_in_at, checked_out_at, check_out_reason,
		last_lat, last_lon, last_accuracy_m, last_seen_at, outside_since, outside_seconds, created_at, updated_at`

type attendanceRepository struct {
	DB *sql.DB
}

func NewAttendanceRepository(db *sql.DB) domain.AttendanceRepository {
	return &attendanceRepository{DB: db}
}

func (r *attendanceRepository) Create(ctx context.Context, rec *domain.AttendanceRecord) error {
	query := `
		INSERT INTO attendance_records (event_id, user_id, state, checked_in_at,
			last_lat, last_lon, last_accuracy_m, last_seen_at, outside_seconds, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING id
	`
	return r.DB.QueryRowContext(ctx, query,
		rec.EventID, rec.UserID, rec.State, rec.CheckedInAt,
		rec.LastLat, rec.LastLon, rec.LastAccuracyM, rec.LastSeenAt,
		rec.OutsideSeconds, rec.CreatedAt, rec.UpdatedAt,
	).Scan(&rec.ID)
}

func (r *attendanceRepository) GetByID(ctx context.Context, id string) (*domain.AttendanceRecord, error) {
	query := `SELECT ` + attendanceColumns + ` FROM attendance_records WHERE id = $1`
	rec, err := scanAttendanceRecord(r.DB.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	return rec, nil
}

func (r *attendanceRepository) GetByEventAndUser(ctx context.Context, eventID, userID string) (*domain.AttendanceRecord, error) {
	query := `SELECT ` + attendanceColumns + ` FROM attendance_records WHERE event_id = $1 AND user_id = $2`
	rec, err := scanAttendanceRecord(r.DB.QueryRowContext(ctx, query, eventID, userID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	return rec, nil
}

func (r *attendanceRepository) ListByEventID(ctx context.Context, eventID string) ([]*domain.AttendanceRecord, error) {
	query := `SELECT ` + attendanceColumns + ` FROM attendance_records WHERE event_id = $1 ORDER BY checked_in_at`
	return r.list(ctx, query, eventID)
}

// UpdateStateFrom persists the record only while its stored state still equals
// expected. Zero rows affected means another writer moved the record first;
// callers treat the ErrConflict by re-reading.
func (r *attendanceRepository) UpdateStateFrom(ctx context.Context, rec *domain.AttendanceRecord, expected domain.State) error {
	query := `
		UPDATE attendance_records
		SET state = $3, checked_out_at = $4, check_out_reason = $5,
			last_lat = $6, last_lon = $7, last_accuracy_m = $8, last_seen_at = $9,
			outside_since = $10, outside_seconds = $11, updated_at = $12
		WHERE id = $1 AND state = $2
	`
	result, err := r.DB.ExecContext(ctx, query,
		rec.ID, expected, rec.State, rec.CheckedOutAt, nullString(string(rec.CheckOutReason)),
		rec.LastLat, rec.LastLon, rec.LastAccuracyM, rec.LastSeenAt,
		rec.OutsideSince, rec.OutsideSeconds, rec.UpdatedAt,
	)
	if err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return domain.ErrConflict
	}
	return nil
}

func (r *attendanceRepository) AppendAlert(ctx context.Context, alert *domain.Alert) error {
	query := `
		INSERT INTO attendance_alerts (id, record_id, type, message, created_at, acknowledged)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	_, err := r.DB.ExecContext(ctx, query,
		alert.ID, alert.RecordID, alert.Type, alert.Message, alert.CreatedAt, alert.Acknowledged)
	return err
}

func (r *attendanceRepository) ListAlertsByRecordID(ctx context.Context, recordID string) ([]*domain.Alert, error) {
	query := `
		SELECT id, record_id, type, message, created_at, acknowledged
		FROM attendance_alerts
		WHERE record_id = $1
		ORDER BY created_at
	`
	rows, err := r.DB.QueryContext(ctx, query, recordID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	alerts := make([]*domain.Alert, 0)
	for rows.Next() {
		alert := &domain.Alert{}
		if err := rows.Scan(&alert.ID, &alert.RecordID, &alert.Type, &alert.Message, &alert.CreatedAt, &alert.Acknowledged); err != nil {
			return nil, err
		}
		alerts = append(alerts, alert)
	}
	return alerts, rows.Err()
}

func (r *attendanceRepository) ListOpenEndedBefore(ctx context.Context, now time.Time) ([]*domain.AttendanceRecord, error) {
	query := `
		SELECT r.id, r.event_id, r.user_id, r.state, r.checked_in_at, r.checked_out_at, r.check_out_reason,
			r.last_lat, r.last_lon, r.last_accuracy_m, r.last_seen_at, r.outside_since, r.outside_seconds,
			r.created_at, r.updated_at
		FROM attendance_records r
		JOIN events e ON e.id = r.event_id
		WHERE r.state IN ($2, $3, $4) AND e.ends_at <= $1
		ORDER BY e.ends_at
	`
	return r.list(ctx, query, now,
		domain.StateCheckedInInside, domain.StateCheckedInOutside, domain.StateCheckedInWarning)
}

func (r *attendanceRepository) list(ctx context.Context, query string, args ...any) ([]*domain.AttendanceRecord, error) {
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	recs := make([]*domain.AttendanceRecord, 0)
	for rows.Next() {
		rec, err := scanAttendanceRecord(rows)
		if err != nil {
			return nil, err
		}
		recs = append(recs, rec)
	}
	return recs, rows.Err()
}

func scanAttendanceRecord(row rowScanner) (*domain.AttendanceRecord, error) {
	rec := &domain.AttendanceRecord{}
	var checkedOutAt, outsideSince sql.NullTime
	var reason sql.NullString
	err := row.Scan(
		&rec.ID, &rec.EventID, &rec.UserID, &rec.State, &rec.CheckedInAt, &checkedOutAt, &reason,
		&rec.LastLat, &rec.LastLon, &rec.LastAccuracyM, &rec.LastSeenAt,
		&outsideSince, &rec.OutsideSeconds, &rec.CreatedAt, &rec.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if checkedOutAt.Valid {
		rec.CheckedOutAt = &checkedOutAt.Time
	}
	if outsideSince.Valid {
		rec.OutsideSince = &outsideSince.Time
	}
	rec.CheckOutReason = domain.CheckOutReason(reason.String)
	return rec, nil
}
