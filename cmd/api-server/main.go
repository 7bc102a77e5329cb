package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/clinicore/booking-engine/internal/api"
	"github.com/clinicore/booking-engine/internal/booking"
	"github.com/clinicore/booking-engine/internal/config"
	"github.com/clinicore/booking-engine/internal/db"
	"github.com/clinicore/booking-engine/internal/notify"
	"github.com/clinicore/booking-engine/internal/payment"
	"github.com/clinicore/booking-engine/internal/receipt"
	redisclient "github.com/clinicore/booking-engine/internal/redis"
)

const version = "0.3.0"

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)
	log.Println("api-server starting up")

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config load error: %v", err)
	}

	log.Printf("running in env=%s http_port=%s", cfg.Env, cfg.HTTPPort)

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Connect Postgres
	pgCtx, cancelPg := context.WithTimeout(rootCtx, 10*time.Second)
	pgPool, err := db.ConnectPostgres(pgCtx, cfg.PostgresDSN)
	cancelPg()
	if err != nil {
		log.Fatalf("postgres connection error: %v", err)
	}
	defer pgPool.Close()
	log.Println("connected to Postgres")

	// Connect Redis
	rdb, err := redisclient.NewRedisClient(cfg.RedisAddr, cfg.RedisUsername, cfg.RedisPassword)
	if err != nil {
		log.Fatalf("redis connection error: %v", err)
	}
	defer func() {
		if err := rdb.Close(); err != nil {
			log.Printf("error closing redis: %v", err)
		}
	}()
	log.Println("connected to Redis")

	repo := booking.NewPgRepository(pgPool)
	locker := redisclient.NewRedisLocker(rdb, cfg.LockTTL)

	var notifier booking.Notifier
	if cfg.BrevoAPIKey != "" {
		notifier = notify.NewEmailNotifier(cfg.BrevoAPIKey, cfg.SenderEmail, cfg.SenderName)
		log.Println("email notifications enabled")
	} else {
		log.Println("BREVO_API_KEY not set, outcome emails disabled")
	}

	svc := booking.NewService(repo, locker, notifier)

	receipts, err := receipt.NewGenerator(repo, cfg.ReceiptDir)
	if err != nil {
		log.Fatalf("receipt generator error: %v", err)
	}

	var pull payment.PullGateway
	if cfg.RazorpayKeyID != "" {
		pull = payment.NewRazorpayClient(cfg.RazorpayBaseURL, cfg.RazorpayKeyID, cfg.RazorpayKeySecret, cfg.GatewayTimeout)
	} else {
		log.Println("RAZORPAY_KEY_ID not set, pull gateway disabled")
	}

	var push payment.PushGateway
	if cfg.StripeSecretKey != "" {
		push = payment.NewStripeClient(cfg.StripeBaseURL, cfg.StripeSecretKey, cfg.GatewayTimeout)
	} else {
		log.Println("STRIPE_SECRET_KEY not set, push gateway disabled")
	}

	reconciler := payment.NewReconciler(repo, locker, pull, push, receipts, cfg.Currency)

	router := api.NewRouter(api.RouterConfig{
		Service:    svc,
		Reconciler: reconciler,
		Receipts:   receipts,
		PgPool:     pgPool,
		Redis:      rdb,
		Env:        cfg.Env,
		Version:    version,
	})

	srv := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		log.Printf("listening on :%s", cfg.HTTPPort)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("http server error: %v", err)
		}
	}()

	<-rootCtx.Done()
	log.Println("shutting down api-server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("graceful shutdown error: %v", err)
	}
}
