// simulate hammers the booking endpoint with many workers competing for a
// small set of slots, then audits the database: every contended slot must end
// up with at most one non-cancelled appointment, no matter how hard it was
// raced.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"math/rand"
	"net/http"
	"os"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/clinicore/booking-engine/internal/db"
)

type simConfig struct {
	apiBaseURL string
	workers    int
	duration   time.Duration
	slotCount  int
}

type metrics struct {
	total    int64
	success  int64
	conflict int64
	errored  int64

	mu        sync.Mutex
	latencies []time.Duration
}

func (m *metrics) record(latency time.Duration, status int) {
	atomic.AddInt64(&m.total, 1)
	switch {
	case status == http.StatusCreated:
		atomic.AddInt64(&m.success, 1)
	case status == http.StatusConflict:
		atomic.AddInt64(&m.conflict, 1)
	default:
		atomic.AddInt64(&m.errored, 1)
	}

	m.mu.Lock()
	m.latencies = append(m.latencies, latency)
	m.mu.Unlock()
}

func (m *metrics) percentile(p int) time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.latencies) == 0 {
		return 0
	}
	sorted := make([]time.Duration, len(m.latencies))
	copy(sorted, m.latencies)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	idx := len(sorted) * p / 100
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)

	cfg := simConfig{}
	flag.StringVar(&cfg.apiBaseURL, "api", "http://127.0.0.1:8080", "API base URL")
	flag.IntVar(&cfg.workers, "workers", 32, "concurrent workers")
	flag.DurationVar(&cfg.duration, "duration", 30*time.Second, "how long to run")
	flag.IntVar(&cfg.slotCount, "slots", 10, "number of contended slots")
	flag.Parse()

	dsn := os.Getenv("POSTGRES_DSN")
	if dsn == "" {
		log.Fatal("POSTGRES_DSN is required")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	pool, err := db.ConnectPostgres(ctx, dsn)
	cancel()
	if err != nil {
		log.Fatalf("connect postgres: %v", err)
	}
	defer pool.Close()

	doctors, patients, err := loadPool(context.Background(), pool)
	if err != nil {
		log.Fatalf("load data pool: %v", err)
	}
	if len(doctors) == 0 || len(patients) == 0 {
		log.Fatal("run cmd/seed first, no doctors or patients found")
	}

	// A small fixed set of slots so workers collide constantly.
	type slot struct {
		doctorID uuid.UUID
		date     string
		time     string
	}
	slots := make([]slot, 0, cfg.slotCount)
	day := time.Now().AddDate(0, 0, 1)
	for i := 0; i < cfg.slotCount; i++ {
		slots = append(slots, slot{
			doctorID: doctors[rand.Intn(len(doctors))],
			date:     day.AddDate(0, 0, gofakeit.Number(0, 6)).Format("2006-01-02"),
			time:     fmt.Sprintf("%02d:00", gofakeit.Number(9, 17)),
		})
	}

	log.Printf("simulating %d workers against %d slots for %s", cfg.workers, len(slots), cfg.duration)

	var m metrics
	client := &http.Client{Timeout: 10 * time.Second}
	deadline := time.Now().Add(cfg.duration)

	var wg sync.WaitGroup
	for w := 0; w < cfg.workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for time.Now().Before(deadline) {
				s := slots[rand.Intn(len(slots))]
				patient := patients[rand.Intn(len(patients))]

				body, _ := json.Marshal(map[string]string{
					"patient_id": patient.String(),
					"doctor_id":  s.doctorID.String(),
					"slot_date":  s.date,
					"slot_time":  s.time,
				})

				start := time.Now()
				resp, err := client.Post(cfg.apiBaseURL+"/appointments", "application/json", bytes.NewReader(body))
				if err != nil {
					m.record(time.Since(start), 0)
					continue
				}
				_, _ = io.Copy(io.Discard, resp.Body)
				resp.Body.Close()
				m.record(time.Since(start), resp.StatusCode)
			}
		}()
	}
	wg.Wait()

	log.Printf("requests=%d success=%d conflict=%d errors=%d p50=%s p95=%s",
		m.total, m.success, m.conflict, m.errored, m.percentile(50), m.percentile(95))

	violations, err := auditDoubleBookings(context.Background(), pool)
	if err != nil {
		log.Fatalf("audit: %v", err)
	}
	if violations > 0 {
		log.Fatalf("AUDIT FAILED: %d slots hold more than one live appointment", violations)
	}
	log.Println("audit passed: no slot holds more than one live appointment")
}

func loadPool(ctx context.Context, pool *pgxpool.Pool) (doctors, patients []uuid.UUID, err error) {
	rows, err := pool.Query(ctx, `SELECT id FROM doctors WHERE available LIMIT 50`)
	if err != nil {
		return nil, nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, nil, err
		}
		doctors = append(doctors, id)
	}
	if err := rows.Err(); err != nil {
		return nil, nil, err
	}

	prows, err := pool.Query(ctx, `SELECT id FROM patients LIMIT 500`)
	if err != nil {
		return nil, nil, err
	}
	defer prows.Close()
	for prows.Next() {
		var id uuid.UUID
		if err := prows.Scan(&id); err != nil {
			return nil, nil, err
		}
		patients = append(patients, id)
	}
	return doctors, patients, prows.Err()
}

func auditDoubleBookings(ctx context.Context, pool *pgxpool.Pool) (int, error) {
	var violations int
	err := pool.QueryRow(ctx, `
		SELECT COUNT(*)
		FROM (
			SELECT doctor_id, slot_date, slot_time
			FROM appointments
			WHERE status <> 'cancelled'
			GROUP BY doctor_id, slot_date, slot_time
			HAVING COUNT(*) > 1
		) dupes
	`).Scan(&violations)
	return violations, err
}
