package booking

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

var (
	ErrPatientNotFound     = errors.New("patient not found")
	ErrDoctorNotFound      = errors.New("doctor not found")
	ErrAppointmentNotFound = errors.New("appointment not found")
)

// Repository contains all DB interactions needed by the service.
type Repository interface {
	GetPatientByID(ctx context.Context, id uuid.UUID) (*Patient, error)
	GetDoctorByID(ctx context.Context, id uuid.UUID) (*Doctor, error)
	ListAvailableDoctors(ctx context.Context) ([]Doctor, error)
	SetDoctorAvailability(ctx context.Context, id uuid.UUID, available bool) (*Doctor, error)

	// Availability store. ClaimSlot commits atomically and reports false when
	// the slot is already held; ReleaseSlot is idempotent.
	ClaimSlot(ctx context.Context, slot Slot, appointmentID uuid.UUID) (bool, error)
	ReleaseSlot(ctx context.Context, slot Slot) error
	IsSlotFree(ctx context.Context, slot Slot) (bool, error)

	// Appointment records
	CreateAppointment(ctx context.Context, appt *Appointment) (*Appointment, error)
	GetAppointmentByID(ctx context.Context, id uuid.UUID) (*Appointment, error)
	GetAppointmentDetail(ctx context.Context, id uuid.UUID) (*AppointmentDetail, error)
	ListAppointmentsByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]AppointmentDetail, error)
	ListAppointmentsByDoctor(ctx context.Context, doctorID uuid.UUID, limit, offset int) ([]AppointmentDetail, error)

	// UpdateAppointmentStatus moves the lifecycle from -> to as a single
	// compare-and-set; ErrAppointmentNotFound when the precondition fails.
	UpdateAppointmentStatus(ctx context.Context, id uuid.UUID, from, to AppointmentStatus) (*Appointment, error)

	// MarkAppointmentPaid flips paid false -> true unless the appointment was
	// cancelled. Reports whether this call did the flip; a redelivered
	// confirmation finds paid already true and changes nothing.
	MarkAppointmentPaid(ctx context.Context, id uuid.UUID) (*Appointment, bool, error)

	// Dashboard aggregates
	GetDoctorDashboard(ctx context.Context, doctorID uuid.UUID) (*DoctorDashboard, error)

	// Event logging
	InsertEvent(ctx context.Context, ev EventLog) error
}
