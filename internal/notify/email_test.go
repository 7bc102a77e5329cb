package notify

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/clinicore/booking-engine/internal/booking"
)

func testDetail(email *string) *booking.AppointmentDetail {
	return &booking.AppointmentDetail{
		Appointment: booking.Appointment{SlotDate: "2024-06-01", SlotTime: "10:00"},
		Patient:     &booking.Patient{Name: "Alice", Email: email},
		Doctor:      &booking.Doctor{Name: "Bob"},
	}
}

func TestAppointmentOutcomeSendsEmail(t *testing.T) {
	var got brevoPayload

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("api-key") != "test-key" {
			t.Errorf("api-key header = %q", r.Header.Get("api-key"))
		}
		_ = json.NewDecoder(r.Body).Decode(&got)
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	n := NewEmailNotifier("test-key", "clinic@example.com", "Clinic")
	n.endpoint = srv.URL

	email := "alice@example.com"
	if err := n.AppointmentOutcome(context.Background(), testDetail(&email), booking.OutcomeConfirmed, booking.ActorDoctor); err != nil {
		t.Fatalf("AppointmentOutcome: %v", err)
	}

	if len(got.To) != 1 || got.To[0]["email"] != email {
		t.Errorf("recipient = %+v, want %s", got.To, email)
	}
	if !strings.Contains(got.Subject, "confirmed") {
		t.Errorf("subject = %q, want confirmation wording", got.Subject)
	}
}

func TestDeclinedWordingByActor(t *testing.T) {
	email := "alice@example.com"

	_, doctorBody := composeOutcome(testDetail(&email), booking.OutcomeDeclined, booking.ActorDoctor)
	if !strings.Contains(doctorBody, "declined") {
		t.Errorf("doctor decline body lacks decline wording: %q", doctorBody)
	}

	_, patientBody := composeOutcome(testDetail(&email), booking.OutcomeDeclined, booking.ActorPatient)
	if !strings.Contains(patientBody, "at your request") {
		t.Errorf("patient cancel body lacks self-service wording: %q", patientBody)
	}
}

func TestAppointmentOutcomeNoEmailOnFile(t *testing.T) {
	n := NewEmailNotifier("test-key", "clinic@example.com", "Clinic")

	err := n.AppointmentOutcome(context.Background(), testDetail(nil), booking.OutcomeDeclined, booking.ActorDoctor)
	if err == nil {
		t.Fatal("expected error when the patient has no email")
	}
}

func TestAppointmentOutcomeProviderError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"message":"invalid sender"}`, http.StatusUnauthorized)
	}))
	defer srv.Close()

	n := NewEmailNotifier("bad-key", "clinic@example.com", "Clinic")
	n.endpoint = srv.URL

	email := "alice@example.com"
	if err := n.AppointmentOutcome(context.Background(), testDetail(&email), booking.OutcomeConfirmed, booking.ActorDoctor); err == nil {
		t.Fatal("expected error on provider rejection")
	}
}
