package booking

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type PgRepository struct {
	pool *pgxpool.Pool
}

func NewPgRepository(pool *pgxpool.Pool) *PgRepository {
	return &PgRepository{pool: pool}
}

// Helpers

func scanPatient(row pgx.Row) (*Patient, error) {
	var p Patient
	var email *string

	err := row.Scan(
		&p.ID,
		&p.Name,
		&email,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrPatientNotFound
		}
		return nil, err
	}

	p.Email = email
	return &p, nil
}

func scanDoctor(row pgx.Row) (*Doctor, error) {
	var d Doctor
	var specialty *string

	err := row.Scan(
		&d.ID,
		&d.Name,
		&specialty,
		&d.Fee,
		&d.Available,
		&d.CreatedAt,
		&d.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrDoctorNotFound
		}
		return nil, err
	}

	d.Specialty = specialty
	return &d, nil
}

func scanAppointment(row pgx.Row) (*Appointment, error) {
	var a Appointment

	err := row.Scan(
		&a.ID,
		&a.PatientID,
		&a.DoctorID,
		&a.SlotDate,
		&a.SlotTime,
		&a.Amount,
		&a.Status,
		&a.Paid,
		&a.CreatedAt,
		&a.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAppointmentNotFound
		}
		return nil, err
	}

	return &a, nil
}

const appointmentColumns = `id, patient_id, doctor_id, slot_date, slot_time, amount, status, paid, created_at, updated_at`

// Interface methods

func (r *PgRepository) GetPatientByID(ctx context.Context, id uuid.UUID) (*Patient, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT id, name, email, created_at, updated_at
		FROM patients
		WHERE id = $1
	`, id)
	return scanPatient(row)
}

func (r *PgRepository) GetDoctorByID(ctx context.Context, id uuid.UUID) (*Doctor, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT id, name, specialty, fee, available, created_at, updated_at
		FROM doctors
		WHERE id = $1
	`, id)
	return scanDoctor(row)
}

func (r *PgRepository) ListAvailableDoctors(ctx context.Context) ([]Doctor, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, name, specialty, fee, available, created_at, updated_at
		FROM doctors
		WHERE available
		ORDER BY name
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []Doctor
	for rows.Next() {
		d, err := scanDoctor(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *d)
	}

	return result, rows.Err()
}

func (r *PgRepository) SetDoctorAvailability(ctx context.Context, id uuid.UUID, available bool) (*Doctor, error) {
	row := r.pool.QueryRow(ctx, `
		UPDATE doctors
		SET available = $2,
		    updated_at = now()
		WHERE id = $1
		RETURNING id, name, specialty, fee, available, created_at, updated_at
	`, id, available)
	return scanDoctor(row)
}

// ClaimSlot relies on the UNIQUE (doctor_id, slot_date, slot_time) constraint:
// the insert either commits the claim or touches nothing. This is the only
// place where two concurrent bookers for the same slot are decided.
func (r *PgRepository) ClaimSlot(ctx context.Context, slot Slot, appointmentID uuid.UUID) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
		INSERT INTO doctor_slots (doctor_id, slot_date, slot_time, appointment_id, created_at)
		VALUES ($1, $2, $3, $4, now())
		ON CONFLICT (doctor_id, slot_date, slot_time) DO NOTHING
	`, slot.DoctorID, slot.Date, slot.Time, appointmentID)
	if err != nil {
		return false, fmt.Errorf("claim slot: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (r *PgRepository) ReleaseSlot(ctx context.Context, slot Slot) error {
	_, err := r.pool.Exec(ctx, `
		DELETE FROM doctor_slots
		WHERE doctor_id = $1 AND slot_date = $2 AND slot_time = $3
	`, slot.DoctorID, slot.Date, slot.Time)
	if err != nil {
		return fmt.Errorf("release slot: %w", err)
	}
	return nil
}

func (r *PgRepository) IsSlotFree(ctx context.Context, slot Slot) (bool, error) {
	var taken bool
	err := r.pool.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM doctor_slots
			WHERE doctor_id = $1 AND slot_date = $2 AND slot_time = $3
		)
	`, slot.DoctorID, slot.Date, slot.Time).Scan(&taken)
	if err != nil {
		return false, err
	}
	return !taken, nil
}

func (r *PgRepository) CreateAppointment(ctx context.Context, appt *Appointment) (*Appointment, error) {
	row := r.pool.QueryRow(ctx, `
		INSERT INTO appointments (id, patient_id, doctor_id, slot_date, slot_time, amount, status, paid, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, 'pending', false, now(), now())
		RETURNING `+appointmentColumns+`
	`, appt.ID, appt.PatientID, appt.DoctorID, appt.SlotDate, appt.SlotTime, appt.Amount)

	return scanAppointment(row)
}

func (r *PgRepository) GetAppointmentByID(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE id = $1
	`, id)
	return scanAppointment(row)
}

func (r *PgRepository) GetAppointmentDetail(ctx context.Context, id uuid.UUID) (*AppointmentDetail, error) {
	appt, err := r.GetAppointmentByID(ctx, id)
	if err != nil {
		return nil, err
	}

	patient, err := r.GetPatientByID(ctx, appt.PatientID)
	if err != nil {
		return nil, err
	}
	doctor, err := r.GetDoctorByID(ctx, appt.DoctorID)
	if err != nil {
		return nil, err
	}

	return &AppointmentDetail{Appointment: *appt, Patient: patient, Doctor: doctor}, nil
}

func (r *PgRepository) listAppointments(ctx context.Context, where string, who uuid.UUID, limit, offset int) ([]AppointmentDetail, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT a.id, a.patient_id, a.doctor_id, a.slot_date, a.slot_time, a.amount, a.status, a.paid, a.created_at, a.updated_at,
		       p.id, p.name, p.email, p.created_at, p.updated_at,
		       d.id, d.name, d.specialty, d.fee, d.available, d.created_at, d.updated_at
		FROM appointments a
		JOIN patients p ON p.id = a.patient_id
		JOIN doctors d ON d.id = a.doctor_id
		WHERE `+where+` = $1
		ORDER BY a.created_at DESC
		LIMIT $2 OFFSET $3
	`, who, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []AppointmentDetail
	for rows.Next() {
		var detail AppointmentDetail
		var patient Patient
		var doctor Doctor

		err := rows.Scan(
			&detail.ID, &detail.PatientID, &detail.DoctorID,
			&detail.SlotDate, &detail.SlotTime, &detail.Amount,
			&detail.Status, &detail.Paid, &detail.CreatedAt, &detail.UpdatedAt,
			&patient.ID, &patient.Name, &patient.Email, &patient.CreatedAt, &patient.UpdatedAt,
			&doctor.ID, &doctor.Name, &doctor.Specialty, &doctor.Fee, &doctor.Available, &doctor.CreatedAt, &doctor.UpdatedAt,
		)
		if err != nil {
			return nil, err
		}

		detail.Patient = &patient
		detail.Doctor = &doctor
		result = append(result, detail)
	}

	return result, rows.Err()
}

func (r *PgRepository) ListAppointmentsByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]AppointmentDetail, error) {
	return r.listAppointments(ctx, "a.patient_id", patientID, limit, offset)
}

func (r *PgRepository) ListAppointmentsByDoctor(ctx context.Context, doctorID uuid.UUID, limit, offset int) ([]AppointmentDetail, error) {
	return r.listAppointments(ctx, "a.doctor_id", doctorID, limit, offset)
}

func (r *PgRepository) UpdateAppointmentStatus(ctx context.Context, id uuid.UUID, from, to AppointmentStatus) (*Appointment, error) {
	row := r.pool.QueryRow(ctx, `
		UPDATE appointments
		SET status = $2,
		    updated_at = now()
		WHERE id = $1
		  AND status = $3
		RETURNING `+appointmentColumns+`
	`, id, to, from)

	return scanAppointment(row)
}

// MarkAppointmentPaid is the idempotent settlement write. The WHERE clause is
// the whole conflict policy: a confirmation only commits while the lifecycle
// has not reached cancelled, and only the first delivery changes the row.
func (r *PgRepository) MarkAppointmentPaid(ctx context.Context, id uuid.UUID) (*Appointment, bool, error) {
	row := r.pool.QueryRow(ctx, `
		UPDATE appointments
		SET paid = true,
		    updated_at = now()
		WHERE id = $1
		  AND paid = false
		  AND status <> 'cancelled'
		RETURNING `+appointmentColumns+`
	`, id)

	appt, err := scanAppointment(row)
	if err == nil {
		return appt, true, nil
	}
	if !errors.Is(err, ErrAppointmentNotFound) {
		return nil, false, err
	}

	// Nothing changed: either missing, already paid, or cancelled. Let the
	// caller look at the current row and classify.
	appt, err = r.GetAppointmentByID(ctx, id)
	if err != nil {
		return nil, false, err
	}
	return appt, false, nil
}

func (r *PgRepository) GetDoctorDashboard(ctx context.Context, doctorID uuid.UUID) (*DoctorDashboard, error) {
	var dash DoctorDashboard
	err := r.pool.QueryRow(ctx, `
		SELECT COALESCE(SUM(amount) FILTER (WHERE status = 'completed' OR paid), 0),
		       COUNT(*),
		       COUNT(DISTINCT patient_id)
		FROM appointments
		WHERE doctor_id = $1
	`, doctorID).Scan(&dash.Earnings, &dash.Appointments, &dash.Patients)
	if err != nil {
		return nil, err
	}
	return &dash, nil
}

func (r *PgRepository) InsertEvent(ctx context.Context, ev EventLog) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO appointment_events (event_type, appointment_id, payload, created_at)
		VALUES ($1, $2, $3, COALESCE($4, now()))
	`, ev.EventType, ev.AppointmentID, ev.Payload, nullableTime(ev.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert event log: %w", err)
	}

	return nil
}

func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
