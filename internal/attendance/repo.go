package attendance

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

const dateLayout = "2006-01-02"

// PostgresRepository persists windows and schedule records in Postgres.
type PostgresRepository struct {
	db *sql.DB
}

// NewPostgresRepository creates a repo.
func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// FindOpenWindow returns the open window covering day.
func (r *PostgresRepository) FindOpenWindow(ctx context.Context, day time.Time) (*OpenWindow, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, start_day, end_day, status_id, time_in_s, time_out_s, time_in_c, time_out_c
		FROM open_attendances
		WHERE start_day <= $1::date AND end_day >= $1::date AND status_id = $2
		ORDER BY start_day DESC
		LIMIT 1
	`, day.Format(dateLayout), OpenStatusID)
	var w OpenWindow
	if err := row.Scan(&w.ID, &w.StartDay, &w.EndDay, &w.StatusID, &w.MorningIn, &w.MorningOut, &w.AfternoonIn, &w.AfternoonOut); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &w, nil
}

// FindSchedule returns the user's record for day and session.
func (r *PostgresRepository) FindSchedule(ctx context.Context, userID string, day time.Time, s Session) (*ScheduleRecord, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, user_id, date, session, attendance, checkin_time, checkout_time
		FROM oncall_schedules
		WHERE user_id = $1 AND date = $2::date AND session = $3
		LIMIT 1
	`, userID, day.Format(dateLayout), string(s))
	var (
		rec      ScheduleRecord
		session  string
		checkIn  sql.NullTime
		checkOut sql.NullTime
	)
	if err := row.Scan(&rec.ID, &rec.UserID, &rec.Date, &session, &rec.Attendance, &checkIn, &checkOut); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	rec.Session = Session(session)
	if checkIn.Valid {
		rec.CheckInTime = &checkIn.Time
	}
	if checkOut.Valid {
		rec.CheckOutTime = &checkOut.Time
	}
	return &rec, nil
}

// MarkCheckIn flips attendance to true when it is still false.
func (r *PostgresRepository) MarkCheckIn(ctx context.Context, recordID string, at time.Time) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE oncall_schedules
		SET attendance = TRUE, checkin_time = $2
		WHERE id = $1 AND attendance = FALSE
	`, recordID, at)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n == 1, err
}

// MarkCheckOut overwrites checkout_time on an attended record.
func (r *PostgresRepository) MarkCheckOut(ctx context.Context, recordID string, at time.Time) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE oncall_schedules
		SET checkout_time = $2
		WHERE id = $1 AND attendance = TRUE
	`, recordID, at)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n == 1, err
}

// FindUser returns a user by id.
func (r *PostgresRepository) FindUser(ctx context.Context, userID string) (*User, error) {
	var u User
	err := r.db.QueryRowContext(ctx, `SELECT id, full_name FROM users WHERE id = $1`, userID).Scan(&u.ID, &u.FullName)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &u, nil
}
