package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/google/uuid"

	"github.com/clinicore/booking-engine/internal/payment"
)

func createPullOrderHandler(rec *payment.Reconciler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req CreateOrderRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}

		apptID, err := uuid.Parse(req.AppointmentID)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_appointment_id", "appointment_id must be a valid UUID")
			return
		}

		order, err := rec.CreatePullOrder(r.Context(), apptID)
		if err != nil {
			handlePaymentError(w, err)
			return
		}

		writeJSON(w, http.StatusCreated, OrderResponse{
			OrderID:     order.ID,
			AmountMinor: order.AmountMinor,
			Currency:    order.Currency,
			Status:      string(order.Status),
		})
	}
}

func verifyPullOrderHandler(rec *payment.Reconciler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req VerifyOrderRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}
		if req.OrderID == "" {
			writeError(w, http.StatusBadRequest, "invalid_order_id", "order_id is required")
			return
		}

		appt, err := rec.CheckAndReconcile(r.Context(), req.OrderID)
		if err != nil {
			handlePaymentError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, toAppointmentResponse(appt))
	}
}

func createPushSessionHandler(rec *payment.Reconciler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req CreateSessionRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}

		apptID, err := uuid.Parse(req.AppointmentID)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_appointment_id", "appointment_id must be a valid UUID")
			return
		}
		if req.SuccessURL == "" || req.CancelURL == "" {
			writeError(w, http.StatusBadRequest, "invalid_urls", "success_url and cancel_url are required")
			return
		}

		sessionURL, err := rec.CreatePushSession(r.Context(), apptID, req.SuccessURL, req.CancelURL)
		if err != nil {
			handlePaymentError(w, err)
			return
		}

		writeJSON(w, http.StatusCreated, SessionResponse{SessionURL: sessionURL})
	}
}

func verifyPushSessionHandler(rec *payment.Reconciler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req VerifySessionRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}

		apptID, err := uuid.Parse(req.AppointmentID)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_appointment_id", "appointment_id must be a valid UUID")
			return
		}

		appt, err := rec.Reconcile(r.Context(), apptID, req.Succeeded)
		if err != nil {
			handlePaymentError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, toAppointmentResponse(appt))
	}
}

func handlePaymentError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, payment.ErrPaymentNotConfirmed):
		writeError(w, http.StatusConflict, "payment_not_confirmed", err.Error())
	case errors.Is(err, payment.ErrReconciliationConflict):
		writeError(w, http.StatusConflict, "reconciliation_conflict", err.Error())
	case errors.Is(err, payment.ErrGatewayNotConfigured):
		writeError(w, http.StatusServiceUnavailable, "gateway_not_configured", err.Error())
	default:
		handleBookingError(w, err)
	}
}
