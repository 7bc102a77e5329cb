package booking

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

type AppointmentStatus string

const (
	StatusPending   AppointmentStatus = "pending"
	StatusCancelled AppointmentStatus = "cancelled"
	StatusCompleted AppointmentStatus = "completed"
)

// Actor identifies who triggered a lifecycle transition. The notification
// collaborator uses it to word the outgoing message; the transition itself
// is the same either way.
type Actor string

const (
	ActorDoctor  Actor = "doctor"
	ActorPatient Actor = "patient"
)

type Patient struct {
	ID        uuid.UUID
	Name      string
	Email     *string
	CreatedAt time.Time
	UpdatedAt time.Time
}

type Doctor struct {
	ID        uuid.UUID
	Name      string
	Specialty *string
	Fee       int64 // consultation fee in whole currency units
	Available bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Slot is the reservation key: one bookable consultation unit.
// Dates and times are opaque labels ("2024-06-01", "10:00"); no timezone
// arithmetic is done on them.
type Slot struct {
	DoctorID uuid.UUID
	Date     string
	Time     string
}

// Key returns the lock key for this slot.
func (s Slot) Key() string {
	return fmt.Sprintf("slot:%s:%s:%s", s.DoctorID, s.Date, s.Time)
}

type Appointment struct {
	ID        uuid.UUID
	PatientID uuid.UUID
	DoctorID  uuid.UUID
	SlotDate  string
	SlotTime  string
	Amount    int64 // fee snapshotted at booking time
	Status    AppointmentStatus
	Paid      bool // independent axis from Status, false -> true only
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Slot returns the reservation key the appointment holds.
func (a *Appointment) Slot() Slot {
	return Slot{DoctorID: a.DoctorID, Date: a.SlotDate, Time: a.SlotTime}
}

// Finalized reports whether the lifecycle left pending. No transition leaves
// cancelled or completed.
func (a *Appointment) Finalized() bool {
	return a.Status != StatusPending
}

type EventLog struct {
	ID            int64
	EventType     string
	AppointmentID *uuid.UUID
	Payload       []byte
	CreatedAt     time.Time
}

// AppointmentDetail is an appointment hydrated with its patient and doctor,
// as the API and the notifier want it.
type AppointmentDetail struct {
	Appointment
	Patient *Patient
	Doctor  *Doctor
}

// DoctorDashboard aggregates a doctor's appointment history. Earnings count
// appointments that were completed or paid, matching how the clinic settles.
type DoctorDashboard struct {
	Earnings     int64
	Appointments int
	Patients     int
}
