package booking

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	redisclient "github.com/clinicore/booking-engine/internal/redis"
)

const (
	EventAppointmentBooked    = "APPOINTMENT_BOOKED"
	EventAppointmentDeclined  = "APPOINTMENT_DECLINED"
	EventAppointmentCompleted = "APPOINTMENT_COMPLETED"
)

var (
	ErrDoctorUnavailable = errors.New("doctor is not accepting bookings")
	ErrSlotTaken         = errors.New("slot already claimed")
	ErrSlotBeingBooked   = errors.New("slot is currently being booked, please retry")
	ErrAppointmentBusy   = errors.New("appointment is being updated, please retry")
	ErrForbidden         = errors.New("appointment belongs to someone else")
	ErrAlreadyFinalized  = errors.New("appointment already finalized")
)

// Outcome is what the notification collaborator is told about a transition.
type Outcome string

const (
	OutcomeConfirmed Outcome = "confirmed"
	OutcomeDeclined  Outcome = "declined"
)

// Notifier is the outbound notification collaborator. Calls are
// fire-and-forget: the service never blocks on or retries its failures.
type Notifier interface {
	AppointmentOutcome(ctx context.Context, detail *AppointmentDetail, outcome Outcome, actor Actor) error
}

type Service struct {
	repo     Repository
	locker   redisclient.Locker
	notifier Notifier // may be nil when email is not configured
}

func NewService(repo Repository, locker redisclient.Locker, notifier Notifier) *Service {
	return &Service{
		repo:     repo,
		locker:   locker,
		notifier: notifier,
	}
}

// Book reserves a slot for a patient and creates the pending appointment.
// The per-slot lock plus the unique constraint behind ClaimSlot guarantee
// that two concurrent bookers for the same slot see one success and one
// ErrSlotTaken. The doctor's current fee is snapshotted into the
// appointment; later fee changes do not touch existing records.
func (s *Service) Book(ctx context.Context, patientID, doctorID uuid.UUID, slotDate, slotTime string) (*Appointment, error) {
	if _, err := s.repo.GetPatientByID(ctx, patientID); err != nil {
		if errors.Is(err, ErrPatientNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("load patient: %w", err)
	}

	doctor, err := s.repo.GetDoctorByID(ctx, doctorID)
	if err != nil {
		if errors.Is(err, ErrDoctorNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("load doctor: %w", err)
	}
	if !doctor.Available {
		return nil, ErrDoctorUnavailable
	}

	slot := Slot{DoctorID: doctorID, Date: slotDate, Time: slotTime}
	var created *Appointment

	err = s.locker.WithLock(ctx, slot.Key(), func(lockCtx context.Context) error {
		apptID := uuid.New()

		claimed, err := s.repo.ClaimSlot(lockCtx, slot, apptID)
		if err != nil {
			return fmt.Errorf("claim slot: %w", err)
		}
		if !claimed {
			return ErrSlotTaken
		}

		appt, err := s.repo.CreateAppointment(lockCtx, &Appointment{
			ID:        apptID,
			PatientID: patientID,
			DoctorID:  doctorID,
			SlotDate:  slotDate,
			SlotTime:  slotTime,
			Amount:    doctor.Fee,
		})
		if err != nil {
			// Compensating action: the claim committed but the record did
			// not, so the hold must be undone or the slot is lost forever.
			// Release on a fresh context so a cancelled request cannot
			// leave the phantom hold behind.
			releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(lockCtx), 5*time.Second)
			defer cancel()
			if relErr := s.repo.ReleaseSlot(releaseCtx, slot); relErr != nil {
				log.Printf("compensating release failed for %s: %v", slot.Key(), relErr)
			}
			return fmt.Errorf("create appointment: %w", err)
		}

		created = appt

		s.logEvent(lockCtx, appt.ID, EventAppointmentBooked, map[string]any{
			"patient_id": patientID.String(),
			"doctor_id":  doctorID.String(),
			"slot_date":  slotDate,
			"slot_time":  slotTime,
			"amount":     doctor.Fee,
		})

		return nil
	})

	if err != nil {
		if errors.Is(err, redisclient.ErrLockNotAcquired) {
			return nil, ErrSlotBeingBooked
		}
		return nil, err
	}

	return created, nil
}

// Decline is the doctor turning a pending appointment down. The slot is
// released so another patient can take it.
func (s *Service) Decline(ctx context.Context, apptID, doctorID uuid.UUID) (*Appointment, error) {
	return s.cancel(ctx, apptID, doctorID, ActorDoctor)
}

// CancelByPatient is the same lifecycle transition as Decline, triggered by
// the patient who owns the appointment. The actor is carried in the emitted
// event so the notifier can word the message.
func (s *Service) CancelByPatient(ctx context.Context, apptID, patientID uuid.UUID) (*Appointment, error) {
	return s.cancel(ctx, apptID, patientID, ActorPatient)
}

func (s *Service) cancel(ctx context.Context, apptID, callerID uuid.UUID, actor Actor) (*Appointment, error) {
	var updated *Appointment

	err := s.withAppointmentLock(ctx, apptID, func(lockCtx context.Context) error {
		appt, err := s.repo.GetAppointmentByID(lockCtx, apptID)
		if err != nil {
			return err
		}

		owner := appt.DoctorID
		if actor == ActorPatient {
			owner = appt.PatientID
		}
		if owner != callerID {
			return ErrForbidden
		}
		if appt.Finalized() {
			return ErrAlreadyFinalized
		}

		updated, err = s.repo.UpdateAppointmentStatus(lockCtx, apptID, StatusPending, StatusCancelled)
		if err != nil {
			if errors.Is(err, ErrAppointmentNotFound) {
				// Lost the CAS race to another transition.
				return ErrAlreadyFinalized
			}
			return fmt.Errorf("cancel appointment: %w", err)
		}

		if err := s.repo.ReleaseSlot(lockCtx, appt.Slot()); err != nil {
			log.Printf("release slot after cancel of %s: %v", apptID, err)
		}

		s.logEvent(lockCtx, apptID, EventAppointmentDeclined, map[string]any{
			"actor": string(actor),
		})

		return nil
	})
	if err != nil {
		return nil, err
	}

	s.notify(apptID, OutcomeDeclined, actor)
	return updated, nil
}

// Complete is the doctor approving a pending appointment as done. The slot
// stays consumed: the consultation happened.
func (s *Service) Complete(ctx context.Context, apptID, doctorID uuid.UUID) (*Appointment, error) {
	var updated *Appointment

	err := s.withAppointmentLock(ctx, apptID, func(lockCtx context.Context) error {
		appt, err := s.repo.GetAppointmentByID(lockCtx, apptID)
		if err != nil {
			return err
		}
		if appt.DoctorID != doctorID {
			return ErrForbidden
		}
		if appt.Finalized() {
			return ErrAlreadyFinalized
		}

		updated, err = s.repo.UpdateAppointmentStatus(lockCtx, apptID, StatusPending, StatusCompleted)
		if err != nil {
			if errors.Is(err, ErrAppointmentNotFound) {
				return ErrAlreadyFinalized
			}
			return fmt.Errorf("complete appointment: %w", err)
		}

		s.logEvent(lockCtx, apptID, EventAppointmentCompleted, map[string]any{
			"actor": string(ActorDoctor),
		})

		return nil
	})
	if err != nil {
		return nil, err
	}

	s.notify(apptID, OutcomeConfirmed, ActorDoctor)
	return updated, nil
}

// withAppointmentLock serializes lifecycle transitions against payment
// reconciliation on the same appointment.
func (s *Service) withAppointmentLock(ctx context.Context, apptID uuid.UUID, fn func(ctx context.Context) error) error {
	err := s.locker.WithLock(ctx, "appointment:"+apptID.String(), fn)
	if errors.Is(err, redisclient.ErrLockNotAcquired) {
		return ErrAppointmentBusy
	}
	return err
}

// GetAppointment retrieves a fully hydrated appointment by ID
func (s *Service) GetAppointment(ctx context.Context, id uuid.UUID) (*AppointmentDetail, error) {
	detail, err := s.repo.GetAppointmentDetail(ctx, id)
	if err != nil {
		return nil, err
	}
	return detail, nil
}

// ListAppointmentsByPatient retrieves appointments for a specific patient
func (s *Service) ListAppointmentsByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]AppointmentDetail, error) {
	limit, offset = clampPage(limit, offset)
	appointments, err := s.repo.ListAppointmentsByPatient(ctx, patientID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list appointments by patient: %w", err)
	}
	return appointments, nil
}

// ListAppointmentsByDoctor retrieves appointments for a doctor's panel
func (s *Service) ListAppointmentsByDoctor(ctx context.Context, doctorID uuid.UUID, limit, offset int) ([]AppointmentDetail, error) {
	limit, offset = clampPage(limit, offset)
	appointments, err := s.repo.ListAppointmentsByDoctor(ctx, doctorID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list appointments by doctor: %w", err)
	}
	return appointments, nil
}

func clampPage(limit, offset int) (int, int) {
	if limit <= 0 {
		limit = 20 // default
	}
	if limit > 100 {
		limit = 100 // max
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}

// ListAvailableDoctors returns doctors currently accepting bookings
func (s *Service) ListAvailableDoctors(ctx context.Context) ([]Doctor, error) {
	doctors, err := s.repo.ListAvailableDoctors(ctx)
	if err != nil {
		return nil, fmt.Errorf("list doctors: %w", err)
	}
	return doctors, nil
}

// SetDoctorAvailability toggles whether a doctor accepts new bookings.
// Existing appointments and claimed slots are untouched.
func (s *Service) SetDoctorAvailability(ctx context.Context, doctorID uuid.UUID, available bool) (*Doctor, error) {
	return s.repo.SetDoctorAvailability(ctx, doctorID, available)
}

// DoctorDashboard aggregates a doctor's earnings and patient counts
func (s *Service) DoctorDashboard(ctx context.Context, doctorID uuid.UUID) (*DoctorDashboard, error) {
	if _, err := s.repo.GetDoctorByID(ctx, doctorID); err != nil {
		return nil, err
	}
	return s.repo.GetDoctorDashboard(ctx, doctorID)
}

func (s *Service) notify(apptID uuid.UUID, outcome Outcome, actor Actor) {
	if s.notifier == nil {
		return
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()

		detail, err := s.repo.GetAppointmentDetail(ctx, apptID)
		if err != nil {
			log.Printf("load appointment %s for notification: %v", apptID, err)
			return
		}
		if err := s.notifier.AppointmentOutcome(ctx, detail, outcome, actor); err != nil {
			log.Printf("notify %s for appointment %s: %v", outcome, apptID, err)
		}
	}()
}

func (s *Service) logEvent(ctx context.Context, appointmentID uuid.UUID, eventType string, payload map[string]any) {
	data, err := json.Marshal(payload)
	if err != nil {
		log.Printf("failed to marshal event payload for %s: %v", eventType, err)
		data = nil
	}

	apptID := appointmentID

	ev := EventLog{
		EventType:     eventType,
		AppointmentID: &apptID,
		Payload:       data,
		CreatedAt:     time.Now(),
	}

	if err := s.repo.InsertEvent(ctx, ev); err != nil {
		log.Printf("failed to insert event log %s for appointment %s: %v", eventType, appointmentID, err)
	}
}
