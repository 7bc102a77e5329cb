package api

import (
	"time"

	"github.com/google/uuid"

	"github.com/clinicore/booking-engine/internal/booking"
)

type BookAppointmentRequest struct {
	PatientID string `json:"patient_id"`
	DoctorID  string `json:"doctor_id"`
	SlotDate  string `json:"slot_date"`
	SlotTime  string `json:"slot_time"`
}

type PatientActionRequest struct {
	PatientID string `json:"patient_id"`
}

type DoctorActionRequest struct {
	DoctorID string `json:"doctor_id"`
}

type AvailabilityRequest struct {
	Available bool `json:"available"`
}

type AppointmentResponse struct {
	ID        uuid.UUID `json:"id"`
	PatientID uuid.UUID `json:"patient_id"`
	DoctorID  uuid.UUID `json:"doctor_id"`
	SlotDate  string    `json:"slot_date"`
	SlotTime  string    `json:"slot_time"`
	Amount    int64     `json:"amount"`
	Status    string    `json:"status"`
	Paid      bool      `json:"paid"`
	CreatedAt time.Time `json:"created_at"`
}

func toAppointmentResponse(a *booking.Appointment) AppointmentResponse {
	return AppointmentResponse{
		ID:        a.ID,
		PatientID: a.PatientID,
		DoctorID:  a.DoctorID,
		SlotDate:  a.SlotDate,
		SlotTime:  a.SlotTime,
		Amount:    a.Amount,
		Status:    string(a.Status),
		Paid:      a.Paid,
		CreatedAt: a.CreatedAt,
	}
}

type AppointmentDetailResponse struct {
	AppointmentResponse
	PatientName string `json:"patient_name"`
	DoctorName  string `json:"doctor_name"`
	Specialty   string `json:"specialty,omitempty"`
}

func toDetailResponse(d *booking.AppointmentDetail) AppointmentDetailResponse {
	resp := AppointmentDetailResponse{
		AppointmentResponse: toAppointmentResponse(&d.Appointment),
		PatientName:         d.Patient.Name,
		DoctorName:          d.Doctor.Name,
	}
	if d.Doctor.Specialty != nil {
		resp.Specialty = *d.Doctor.Specialty
	}
	return resp
}

type DoctorResponse struct {
	ID        uuid.UUID `json:"id"`
	Name      string    `json:"name"`
	Specialty string    `json:"specialty,omitempty"`
	Fee       int64     `json:"fee"`
	Available bool      `json:"available"`
}

func toDoctorResponse(d *booking.Doctor) DoctorResponse {
	resp := DoctorResponse{
		ID:        d.ID,
		Name:      d.Name,
		Fee:       d.Fee,
		Available: d.Available,
	}
	if d.Specialty != nil {
		resp.Specialty = *d.Specialty
	}
	return resp
}

type DashboardResponse struct {
	Earnings     int64 `json:"earnings"`
	Appointments int   `json:"appointments"`
	Patients     int   `json:"patients"`
}

func toDashboardResponse(d *booking.DoctorDashboard) DashboardResponse {
	return DashboardResponse{
		Earnings:     d.Earnings,
		Appointments: d.Appointments,
		Patients:     d.Patients,
	}
}

type CreateOrderRequest struct {
	AppointmentID string `json:"appointment_id"`
}

type OrderResponse struct {
	OrderID     string `json:"order_id"`
	AmountMinor int64  `json:"amount"`
	Currency    string `json:"currency"`
	Status      string `json:"status"`
}

type VerifyOrderRequest struct {
	OrderID string `json:"order_id"`
}

type CreateSessionRequest struct {
	AppointmentID string `json:"appointment_id"`
	SuccessURL    string `json:"success_url"`
	CancelURL     string `json:"cancel_url"`
}

type SessionResponse struct {
	SessionURL string `json:"session_url"`
}

type VerifySessionRequest struct {
	AppointmentID string `json:"appointment_id"`
	Succeeded     bool   `json:"succeeded"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}
