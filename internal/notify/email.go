package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/clinicore/booking-engine/internal/booking"
)

const brevoEndpoint = "https://api.brevo.com/v3/smtp/email"

// EmailNotifier sends appointment outcome emails through the Brevo
// transactional API. It implements booking.Notifier; the booking service
// calls it fire-and-forget and never retries.
type EmailNotifier struct {
	apiKey      string
	senderEmail string
	senderName  string
	endpoint    string
	http        *http.Client
}

func NewEmailNotifier(apiKey, senderEmail, senderName string) *EmailNotifier {
	return &EmailNotifier{
		apiKey:      apiKey,
		senderEmail: senderEmail,
		senderName:  senderName,
		endpoint:    brevoEndpoint,
		http:        &http.Client{Timeout: 10 * time.Second},
	}
}

type brevoPayload struct {
	Sender      map[string]string   `json:"sender"`
	To          []map[string]string `json:"to"`
	Subject     string              `json:"subject"`
	HTMLContent string              `json:"htmlContent"`
}

func (n *EmailNotifier) AppointmentOutcome(ctx context.Context, detail *booking.AppointmentDetail, outcome booking.Outcome, actor booking.Actor) error {
	if detail.Patient.Email == nil {
		return fmt.Errorf("patient %s has no email on file", detail.PatientID)
	}

	subject, body := composeOutcome(detail, outcome, actor)

	payload := brevoPayload{
		Sender:      map[string]string{"name": n.senderName, "email": n.senderEmail},
		To:          []map[string]string{{"email": *detail.Patient.Email, "name": detail.Patient.Name}},
		Subject:     subject,
		HTMLContent: body,
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal email payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.endpoint, bytes.NewReader(raw))
	if err != nil {
		return fmt.Errorf("create email request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("api-key", n.apiKey)

	resp, err := n.http.Do(req)
	if err != nil {
		return fmt.Errorf("send email: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("email provider returned %d: %s", resp.StatusCode, raw)
	}

	return nil
}

// composeOutcome words the message per outcome. A patient-initiated cancel
// uses the same declined wording as a doctor decline; the actor only changes
// who the message says made the call.
func composeOutcome(detail *booking.AppointmentDetail, outcome booking.Outcome, actor booking.Actor) (subject, body string) {
	doctor := detail.Doctor.Name

	if outcome == booking.OutcomeConfirmed {
		subject = fmt.Sprintf("Your appointment with Dr. %s is confirmed", doctor)
		body = fmt.Sprintf(
			"<p>Dear %s,</p><p>Your appointment with Dr. %s has been accepted and is now confirmed.</p><p>Date: %s<br>Time: %s</p><p>Please be available at the scheduled time.</p>",
			detail.Patient.Name, doctor, detail.SlotDate, detail.SlotTime,
		)
		return subject, body
	}

	subject = fmt.Sprintf("Your appointment with Dr. %s was cancelled", doctor)
	who := fmt.Sprintf("Dr. %s has declined your appointment request", doctor)
	if actor == booking.ActorPatient {
		who = "your appointment was cancelled at your request"
	}
	body = fmt.Sprintf(
		"<p>Dear %s,</p><p>We are writing to confirm that %s for the following schedule:</p><p>Date: %s<br>Time: %s</p><p>The slot has been released; you can book another doctor or time.</p>",
		detail.Patient.Name, who, detail.SlotDate, detail.SlotTime,
	)
	return subject, body
}
