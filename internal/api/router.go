package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/clinicore/booking-engine/internal/booking"
	"github.com/clinicore/booking-engine/internal/payment"
)

type RouterConfig struct {
	Service    *booking.Service
	Reconciler *payment.Reconciler
	Receipts   ReceiptLocator
	PgPool     *pgxpool.Pool
	Redis      *redis.Client
	Env        string
	Version    string
}

func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	// Apply middleware
	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware)

	// Health endpoints
	health := NewHealthHandler(cfg.PgPool, cfg.Redis, cfg.Env, cfg.Version)
	r.Get("/health/live", health.Liveness)
	r.Get("/health/ready", health.Readiness)

	// Appointment endpoints
	r.Post("/appointments", bookAppointmentHandler(cfg.Service))
	r.Get("/appointments", listAppointmentsHandler(cfg.Service))
	r.Get("/appointments/{id}", getAppointmentHandler(cfg.Service))
	r.Post("/appointments/{id}/cancel", cancelAppointmentHandler(cfg.Service))
	r.Post("/appointments/{id}/decline", declineAppointmentHandler(cfg.Service))
	r.Post("/appointments/{id}/complete", completeAppointmentHandler(cfg.Service))
	r.Get("/appointments/{id}/receipt", downloadReceiptHandler(cfg.Receipts))

	// Doctor endpoints
	r.Get("/doctors", listDoctorsHandler(cfg.Service))
	r.Post("/doctors/{id}/availability", setAvailabilityHandler(cfg.Service))
	r.Get("/doctors/{id}/dashboard", doctorDashboardHandler(cfg.Service))

	// Payment endpoints
	r.Post("/payments/razorpay", createPullOrderHandler(cfg.Reconciler))
	r.Post("/payments/razorpay/verify", verifyPullOrderHandler(cfg.Reconciler))
	r.Post("/payments/stripe", createPushSessionHandler(cfg.Reconciler))
	r.Post("/payments/stripe/verify", verifyPushSessionHandler(cfg.Reconciler))

	return r
}
