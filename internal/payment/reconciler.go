package payment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/clinicore/booking-engine/internal/booking"
	redisclient "github.com/clinicore/booking-engine/internal/redis"
)

const EventPaymentReconciled = "PAYMENT_RECONCILED"

var (
	// ErrPaymentNotConfirmed means the gateway did not report the order as
	// settled: pending, failed, timed out, or unknown. The true outcome may
	// still be positive; the client retries the check.
	ErrPaymentNotConfirmed = errors.New("payment not confirmed")

	// ErrReconciliationConflict means a confirmation arrived for an
	// appointment that is missing or already cancelled. The payment state is
	// not rolled back; the anomaly is surfaced for review.
	ErrReconciliationConflict = errors.New("payment confirmed for cancelled or unknown appointment")

	// ErrGatewayNotConfigured is returned when a payment path is requested
	// but the corresponding gateway credentials were not supplied.
	ErrGatewayNotConfigured = errors.New("payment gateway not configured")
)

// Store is the slice of persistence the reconciler needs.
type Store interface {
	GetAppointmentByID(ctx context.Context, id uuid.UUID) (*booking.Appointment, error)
	MarkAppointmentPaid(ctx context.Context, id uuid.UUID) (*booking.Appointment, bool, error)
	InsertEvent(ctx context.Context, ev booking.EventLog) error
}

// ReceiptGenerator renders the paid receipt document for an appointment.
type ReceiptGenerator interface {
	Generate(ctx context.Context, appointmentID uuid.UUID) (string, error)
}

// Reconciler normalizes confirmations from both gateways into one idempotent
// mark-paid path. Which gateway produced a confirmation never matters past
// this point.
type Reconciler struct {
	store    Store
	locker   redisclient.Locker
	pull     PullGateway
	push     PushGateway
	receipts ReceiptGenerator
	currency string
}

func NewReconciler(store Store, locker redisclient.Locker, pull PullGateway, push PushGateway, receipts ReceiptGenerator, currency string) *Reconciler {
	return &Reconciler{
		store:    store,
		locker:   locker,
		pull:     pull,
		push:     push,
		receipts: receipts,
		currency: currency,
	}
}

// CreatePullOrder opens a pull-gateway order for an appointment's snapshotted
// amount. The appointment ID rides along as the order receipt so the later
// status check can find its way back.
func (r *Reconciler) CreatePullOrder(ctx context.Context, apptID uuid.UUID) (*Order, error) {
	if r.pull == nil {
		return nil, ErrGatewayNotConfigured
	}

	appt, err := r.loadPayable(ctx, apptID)
	if err != nil {
		return nil, err
	}

	return r.pull.CreateOrder(ctx, appt.Amount*100, r.currency, appt.ID.String())
}

// CreatePushSession opens a hosted checkout session for an appointment.
func (r *Reconciler) CreatePushSession(ctx context.Context, apptID uuid.UUID, successURL, cancelURL string) (string, error) {
	if r.push == nil {
		return "", ErrGatewayNotConfigured
	}

	appt, err := r.loadPayable(ctx, apptID)
	if err != nil {
		return "", err
	}

	return r.push.CreateCheckoutSession(ctx, appt.Amount*100, r.currency, "Consultation Fee", successURL, cancelURL)
}

func (r *Reconciler) loadPayable(ctx context.Context, apptID uuid.UUID) (*booking.Appointment, error) {
	appt, err := r.store.GetAppointmentByID(ctx, apptID)
	if err != nil {
		return nil, err
	}
	if appt.Status == booking.StatusCancelled {
		return nil, ErrReconciliationConflict
	}
	return appt, nil
}

// Reconcile applies a gateway confirmation to an appointment exactly once.
// Redelivered confirmations find the flag already set and change nothing; a
// confirmation for a cancelled or missing appointment surfaces
// ErrReconciliationConflict instead of silently marking payment.
func (r *Reconciler) Reconcile(ctx context.Context, apptID uuid.UUID, confirmed bool) (*booking.Appointment, error) {
	if !confirmed {
		return nil, ErrPaymentNotConfirmed
	}

	var result *booking.Appointment

	err := r.locker.WithLock(ctx, "appointment:"+apptID.String(), func(lockCtx context.Context) error {
		appt, changed, err := r.store.MarkAppointmentPaid(lockCtx, apptID)
		if err != nil {
			if errors.Is(err, booking.ErrAppointmentNotFound) {
				return ErrReconciliationConflict
			}
			return fmt.Errorf("mark paid: %w", err)
		}

		result = appt

		if !changed {
			if appt.Paid {
				// Redelivery. Same end state, no second receipt.
				return nil
			}
			return ErrReconciliationConflict
		}

		r.logEvent(lockCtx, appt.ID)

		// First and only confirmation for this appointment: render the
		// receipt now. A rendering failure does not unwind the payment,
		// the receipt endpoint reports it missing until regenerated.
		if r.receipts != nil {
			if _, err := r.receipts.Generate(lockCtx, appt.ID); err != nil {
				log.Printf("generate receipt for %s: %v", appt.ID, err)
			}
		}

		return nil
	})
	if err != nil {
		if errors.Is(err, redisclient.ErrLockNotAcquired) {
			return nil, booking.ErrAppointmentBusy
		}
		return nil, err
	}

	return result, nil
}

// CheckAndReconcile is the pull path: ask the gateway for the authoritative
// order status, then reconcile. Only a status of exactly "paid" confirms;
// pending, failed, unknown, and transport errors (including timeouts) all
// read as not-confirmed, never as a negative outcome.
func (r *Reconciler) CheckAndReconcile(ctx context.Context, orderID string) (*booking.Appointment, error) {
	if r.pull == nil {
		return nil, ErrGatewayNotConfigured
	}

	order, err := r.pull.FetchOrder(ctx, orderID)
	if err != nil {
		log.Printf("fetch order %s: %v", orderID, err)
		return nil, ErrPaymentNotConfirmed
	}

	if order.Status != StatusPaid {
		return nil, ErrPaymentNotConfirmed
	}

	apptID, err := uuid.Parse(order.Receipt)
	if err != nil {
		return nil, fmt.Errorf("order %s carries no appointment reference: %w", orderID, ErrReconciliationConflict)
	}

	return r.Reconcile(ctx, apptID, true)
}

func (r *Reconciler) logEvent(ctx context.Context, apptID uuid.UUID) {
	payload, _ := json.Marshal(map[string]any{"paid": true})

	id := apptID
	ev := booking.EventLog{
		EventType:     EventPaymentReconciled,
		AppointmentID: &id,
		Payload:       payload,
		CreatedAt:     time.Now(),
	}

	if err := r.store.InsertEvent(ctx, ev); err != nil {
		log.Printf("failed to insert event log %s for appointment %s: %v", EventPaymentReconciled, apptID, err)
	}
}
