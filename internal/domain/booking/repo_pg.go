package booking

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/clinic/booking/internal/platform/db"
)

const pgUniqueViolation = "23505"

type queryable interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

type appointmentRepoPG struct{ pool *pgxpool.Pool }

func NewAppointmentRepoPG(pool *pgxpool.Pool) AppointmentRepository {
	return &appointmentRepoPG{pool: pool}
}

func (r *appointmentRepoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return r.pool
}

const apptCols = `id, doctor_id, patient_id, doctor_name, doctor_email,
	patient_name, patient_email, patient_phone, appt_date, appt_time, duration, starts_at,
	status, reason, notes, cancellation_reason,
	payment_status, payment_method, payment_transaction_id, payment_paid_at,
	patient_reminder_sent, doctor_reminder_sent, created_at, updated_at`

func (r *appointmentRepoPG) scanAppt(row pgx.Row) (*Appointment, error) {
	var a Appointment
	err := row.Scan(&a.ID, &a.DoctorID, &a.PatientID, &a.DoctorName, &a.DoctorEmail,
		&a.PatientName, &a.PatientEmail, &a.PatientPhone, &a.Date, &a.Time, &a.Duration, &a.StartsAt,
		&a.Status, &a.Reason, &a.Notes, &a.CancellationReason,
		&a.Payment.Status, &a.Payment.Method, &a.Payment.TransactionID, &a.Payment.PaidAt,
		&a.PatientReminderSent, &a.DoctorReminderSent, &a.CreatedAt, &a.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &a, nil
}

func (r *appointmentRepoPG) scanMany(rows pgx.Rows) ([]*Appointment, error) {
	defer rows.Close()
	var items []*Appointment
	for rows.Next() {
		a, err := r.scanAppt(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, a)
	}
	return items, rows.Err()
}

// translate maps a unique index violation to ErrSlotTaken.
func translate(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
		return ErrSlotTaken
	}
	return err
}

func (r *appointmentRepoPG) Create(ctx context.Context, a *Appointment) error {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO appointments (id, doctor_id, patient_id, doctor_name, doctor_email,
			patient_name, patient_email, patient_phone, appt_date, appt_time, duration, starts_at,
			status, reason, notes, payment_status, payment_method, payment_transaction_id, payment_paid_at,
			patient_reminder_sent, doctor_reminder_sent)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21)
		RETURNING created_at, updated_at`,
		a.ID, a.DoctorID, a.PatientID, a.DoctorName, a.DoctorEmail,
		a.PatientName, a.PatientEmail, a.PatientPhone, a.Date, a.Time, a.Duration, a.StartsAt,
		a.Status, a.Reason, a.Notes, a.Payment.Status, a.Payment.Method, a.Payment.TransactionID, a.Payment.PaidAt,
		a.PatientReminderSent, a.DoctorReminderSent,
	).Scan(&a.CreatedAt, &a.UpdatedAt)
	return translate(err)
}

func (r *appointmentRepoPG) GetByID(ctx context.Context, id string) (*Appointment, error) {
	return r.scanAppt(r.conn(ctx).QueryRow(ctx, `SELECT `+apptCols+` FROM appointments WHERE id = $1`, id))
}

func (r *appointmentRepoPG) FindActiveAt(ctx context.Context, doctorID, date, t string) (*Appointment, error) {
	a, err := r.scanAppt(r.conn(ctx).QueryRow(ctx, `
		SELECT `+apptCols+` FROM appointments
		WHERE doctor_id = $1 AND appt_date = $2 AND appt_time = $3 AND status <> 'cancelled'
		LIMIT 1`, doctorID, date, t))
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	return a, err
}

func (r *appointmentRepoPG) BookedTimes(ctx context.Context, doctorID, date string) ([]string, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT appt_time FROM appointments
		WHERE doctor_id = $1 AND appt_date = $2 AND status <> 'cancelled'
		ORDER BY appt_time`, doctorID, date)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var times []string
	for rows.Next() {
		var t string
		if err := rows.Scan(&t); err != nil {
			return nil, err
		}
		times = append(times, t)
	}
	return times, rows.Err()
}

func (r *appointmentRepoPG) UpdateStatus(ctx context.Context, id string, status Status, upd StatusUpdate) (*Appointment, error) {
	a, err := r.scanAppt(r.conn(ctx).QueryRow(ctx, `
		UPDATE appointments SET status = $2,
			notes = CASE WHEN $3::text <> '' THEN $3::text ELSE notes END,
			cancellation_reason = CASE WHEN $4::text <> '' THEN $4::text ELSE cancellation_reason END,
			updated_at = NOW()
		WHERE id = $1
		RETURNING `+apptCols, id, status, upd.Notes, upd.CancellationReason))
	return a, translate(err)
}

func (r *appointmentRepoPG) Reschedule(ctx context.Context, id, date, t string, startsAt time.Time) (*Appointment, error) {
	a, err := r.scanAppt(r.conn(ctx).QueryRow(ctx, `
		UPDATE appointments SET appt_date = $2, appt_time = $3, starts_at = $4,
			patient_reminder_sent = FALSE, doctor_reminder_sent = FALSE, updated_at = NOW()
		WHERE id = $1
		RETURNING `+apptCols, id, date, t, startsAt))
	return a, translate(err)
}

func (r *appointmentRepoPG) UpdatePayment(ctx context.Context, id string, p Payment) (*Appointment, error) {
	return r.scanAppt(r.conn(ctx).QueryRow(ctx, `
		UPDATE appointments SET payment_status = $2, payment_method = $3,
			payment_transaction_id = $4, payment_paid_at = $5, updated_at = NOW()
		WHERE id = $1
		RETURNING `+apptCols, id, p.Status, p.Method, p.TransactionID, p.PaidAt))
}

func (r *appointmentRepoPG) ListByDoctor(ctx context.Context, doctorID string, limit, offset int) ([]*Appointment, int, error) {
	return r.listBy(ctx, "doctor_id", doctorID, limit, offset)
}

func (r *appointmentRepoPG) ListByPatient(ctx context.Context, patientID string, limit, offset int) ([]*Appointment, int, error) {
	return r.listBy(ctx, "patient_id", patientID, limit, offset)
}

// listBy is shared by the two paged listings; column is never user input.
func (r *appointmentRepoPG) listBy(ctx context.Context, column, value string, limit, offset int) ([]*Appointment, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM appointments WHERE `+column+` = $1`, value).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+apptCols+` FROM appointments WHERE `+column+` = $1
		ORDER BY appt_date DESC, appt_time DESC LIMIT $2 OFFSET $3`, value, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	items, err := r.scanMany(rows)
	if err != nil {
		return nil, 0, err
	}
	return items, total, nil
}

func (r *appointmentRepoPG) ListByDateRange(ctx context.Context, doctorID, start, end string) ([]*Appointment, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT `+apptCols+` FROM appointments
		WHERE doctor_id = $1 AND appt_date BETWEEN $2 AND $3
		ORDER BY appt_date, appt_time`, doctorID, start, end)
	if err != nil {
		return nil, err
	}
	return r.scanMany(rows)
}

func (r *appointmentRepoPG) CountByDateRange(ctx context.Context, doctorID, start, end string) (int, error) {
	var n int
	err := r.conn(ctx).QueryRow(ctx, `
		SELECT COUNT(*) FROM appointments
		WHERE doctor_id = $1 AND appt_date BETWEEN $2 AND $3`, doctorID, start, end).Scan(&n)
	return n, err
}

func (r *appointmentRepoPG) ListByDate(ctx context.Context, date string, statuses ...Status) ([]*Appointment, error) {
	query := `SELECT ` + apptCols + ` FROM appointments WHERE appt_date = $1`
	args := []interface{}{date}
	if len(statuses) > 0 {
		names := make([]string, len(statuses))
		for i, s := range statuses {
			names[i] = string(s)
		}
		query += ` AND status = ANY($2)`
		args = append(args, names)
	}
	rows, err := r.conn(ctx).Query(ctx, query+` ORDER BY appt_time`, args...)
	if err != nil {
		return nil, err
	}
	return r.scanMany(rows)
}

func (r *appointmentRepoPG) MarkReminderSent(ctx context.Context, id string, kind ReminderKind) (bool, error) {
	var column string
	switch kind {
	case ReminderPatient:
		column = "patient_reminder_sent"
	case ReminderDoctor:
		column = "doctor_reminder_sent"
	default:
		return false, fmt.Errorf("unknown reminder kind %q", kind)
	}
	tag, err := r.conn(ctx).Exec(ctx, `UPDATE appointments SET `+column+` = TRUE, updated_at = NOW()
		WHERE id = $1 AND `+column+` = FALSE`, id)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}
