package booking

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
)

// -- Mocks --

// memLocker serializes callers per key with a plain mutex, standing in for
// the Redis locker.
type memLocker struct {
	mu   sync.Mutex
	keys map[string]*sync.Mutex
}

func newMemLocker() *memLocker {
	return &memLocker{keys: make(map[string]*sync.Mutex)}
}

func (l *memLocker) WithLock(ctx context.Context, key string, fn func(ctx context.Context) error) error {
	l.mu.Lock()
	m, ok := l.keys[key]
	if !ok {
		m = &sync.Mutex{}
		l.keys[key] = m
	}
	l.mu.Unlock()

	m.Lock()
	defer m.Unlock()
	return fn(ctx)
}

type mockRepo struct {
	mu       sync.Mutex
	patients map[uuid.UUID]*Patient
	doctors  map[uuid.UUID]*Doctor
	slots    map[string]uuid.UUID // slot key -> appointment id
	appts    map[uuid.UUID]*Appointment
	events   []EventLog

	failCreate bool // next CreateAppointment returns an error
}

func newMockRepo() *mockRepo {
	return &mockRepo{
		patients: make(map[uuid.UUID]*Patient),
		doctors:  make(map[uuid.UUID]*Doctor),
		slots:    make(map[string]uuid.UUID),
		appts:    make(map[uuid.UUID]*Appointment),
	}
}

func (m *mockRepo) addPatient(name string) uuid.UUID {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := uuid.New()
	email := name + "@example.com"
	m.patients[id] = &Patient{ID: id, Name: name, Email: &email}
	return id
}

func (m *mockRepo) addDoctor(name string, fee int64, available bool) uuid.UUID {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := uuid.New()
	m.doctors[id] = &Doctor{ID: id, Name: name, Fee: fee, Available: available}
	return id
}

func (m *mockRepo) GetPatientByID(_ context.Context, id uuid.UUID) (*Patient, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.patients[id]
	if !ok {
		return nil, ErrPatientNotFound
	}
	cp := *p
	return &cp, nil
}

func (m *mockRepo) GetDoctorByID(_ context.Context, id uuid.UUID) (*Doctor, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.doctors[id]
	if !ok {
		return nil, ErrDoctorNotFound
	}
	cp := *d
	return &cp, nil
}

func (m *mockRepo) ListAvailableDoctors(_ context.Context) ([]Doctor, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Doctor
	for _, d := range m.doctors {
		if d.Available {
			out = append(out, *d)
		}
	}
	return out, nil
}

func (m *mockRepo) SetDoctorAvailability(_ context.Context, id uuid.UUID, available bool) (*Doctor, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.doctors[id]
	if !ok {
		return nil, ErrDoctorNotFound
	}
	d.Available = available
	cp := *d
	return &cp, nil
}

func (m *mockRepo) ClaimSlot(_ context.Context, slot Slot, appointmentID uuid.UUID) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, taken := m.slots[slot.Key()]; taken {
		return false, nil
	}
	m.slots[slot.Key()] = appointmentID
	return true, nil
}

func (m *mockRepo) ReleaseSlot(_ context.Context, slot Slot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.slots, slot.Key())
	return nil
}

func (m *mockRepo) IsSlotFree(_ context.Context, slot Slot) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, taken := m.slots[slot.Key()]
	return !taken, nil
}

func (m *mockRepo) CreateAppointment(_ context.Context, appt *Appointment) (*Appointment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failCreate {
		return nil, errors.New("store unavailable")
	}
	cp := *appt
	cp.Status = StatusPending
	cp.Paid = false
	cp.CreatedAt = time.Now()
	cp.UpdatedAt = cp.CreatedAt
	m.appts[cp.ID] = &cp
	out := cp
	return &out, nil
}

func (m *mockRepo) GetAppointmentByID(_ context.Context, id uuid.UUID) (*Appointment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.appts[id]
	if !ok {
		return nil, ErrAppointmentNotFound
	}
	cp := *a
	return &cp, nil
}

func (m *mockRepo) GetAppointmentDetail(ctx context.Context, id uuid.UUID) (*AppointmentDetail, error) {
	appt, err := m.GetAppointmentByID(ctx, id)
	if err != nil {
		return nil, err
	}
	patient, err := m.GetPatientByID(ctx, appt.PatientID)
	if err != nil {
		return nil, err
	}
	doctor, err := m.GetDoctorByID(ctx, appt.DoctorID)
	if err != nil {
		return nil, err
	}
	return &AppointmentDetail{Appointment: *appt, Patient: patient, Doctor: doctor}, nil
}

func (m *mockRepo) ListAppointmentsByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]AppointmentDetail, error) {
	m.mu.Lock()
	var ids []uuid.UUID
	for id, a := range m.appts {
		if a.PatientID == patientID {
			ids = append(ids, id)
		}
	}
	m.mu.Unlock()

	var out []AppointmentDetail
	for _, id := range ids {
		d, err := m.GetAppointmentDetail(ctx, id)
		if err != nil {
			return nil, err
		}
		out = append(out, *d)
	}
	return out, nil
}

func (m *mockRepo) ListAppointmentsByDoctor(ctx context.Context, doctorID uuid.UUID, limit, offset int) ([]AppointmentDetail, error) {
	m.mu.Lock()
	var ids []uuid.UUID
	for id, a := range m.appts {
		if a.DoctorID == doctorID {
			ids = append(ids, id)
		}
	}
	m.mu.Unlock()

	var out []AppointmentDetail
	for _, id := range ids {
		d, err := m.GetAppointmentDetail(ctx, id)
		if err != nil {
			return nil, err
		}
		out = append(out, *d)
	}
	return out, nil
}

func (m *mockRepo) UpdateAppointmentStatus(_ context.Context, id uuid.UUID, from, to AppointmentStatus) (*Appointment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.appts[id]
	if !ok || a.Status != from {
		return nil, ErrAppointmentNotFound
	}
	a.Status = to
	a.UpdatedAt = time.Now()
	cp := *a
	return &cp, nil
}

func (m *mockRepo) MarkAppointmentPaid(_ context.Context, id uuid.UUID) (*Appointment, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.appts[id]
	if !ok {
		return nil, false, ErrAppointmentNotFound
	}
	if a.Paid || a.Status == StatusCancelled {
		cp := *a
		return &cp, false, nil
	}
	a.Paid = true
	a.UpdatedAt = time.Now()
	cp := *a
	return &cp, true, nil
}

func (m *mockRepo) GetDoctorDashboard(_ context.Context, doctorID uuid.UUID) (*DoctorDashboard, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	dash := &DoctorDashboard{}
	seen := make(map[uuid.UUID]bool)
	for _, a := range m.appts {
		if a.DoctorID != doctorID {
			continue
		}
		dash.Appointments++
		if a.Status == StatusCompleted || a.Paid {
			dash.Earnings += a.Amount
		}
		if !seen[a.PatientID] {
			seen[a.PatientID] = true
			dash.Patients++
		}
	}
	return dash, nil
}

func (m *mockRepo) InsertEvent(_ context.Context, ev EventLog) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, ev)
	return nil
}

func (m *mockRepo) slotCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.slots)
}

func newTestService(repo *mockRepo) *Service {
	return NewService(repo, newMemLocker(), nil)
}

// -- Tests --

func TestBookCreatesPendingUnpaidAppointment(t *testing.T) {
	repo := newMockRepo()
	svc := newTestService(repo)

	patientID := repo.addPatient("alice")
	doctorID := repo.addDoctor("bob", 500, true)

	appt, err := svc.Book(context.Background(), patientID, doctorID, "2024-06-01", "10:00")
	if err != nil {
		t.Fatalf("Book: %v", err)
	}

	if appt.Status != StatusPending {
		t.Errorf("status = %s, want pending", appt.Status)
	}
	if appt.Paid {
		t.Error("new appointment must be unpaid")
	}
	if appt.Amount != 500 {
		t.Errorf("amount = %d, want 500", appt.Amount)
	}

	free, _ := repo.IsSlotFree(context.Background(), appt.Slot())
	if free {
		t.Error("slot should be claimed after booking")
	}
}

func TestBookSnapshotsFee(t *testing.T) {
	repo := newMockRepo()
	svc := newTestService(repo)

	patientID := repo.addPatient("alice")
	doctorID := repo.addDoctor("bob", 500, true)

	appt, err := svc.Book(context.Background(), patientID, doctorID, "2024-06-01", "10:00")
	if err != nil {
		t.Fatalf("Book: %v", err)
	}

	// Fee change after booking must not touch the snapshot.
	repo.mu.Lock()
	repo.doctors[doctorID].Fee = 900
	repo.mu.Unlock()

	stored, err := repo.GetAppointmentByID(context.Background(), appt.ID)
	if err != nil {
		t.Fatalf("GetAppointmentByID: %v", err)
	}
	if stored.Amount != 500 {
		t.Errorf("amount = %d after fee change, want 500", stored.Amount)
	}
}

func TestBookDoctorUnavailable(t *testing.T) {
	repo := newMockRepo()
	svc := newTestService(repo)

	patientID := repo.addPatient("alice")
	doctorID := repo.addDoctor("bob", 500, false)

	_, err := svc.Book(context.Background(), patientID, doctorID, "2024-06-01", "10:00")
	if !errors.Is(err, ErrDoctorUnavailable) {
		t.Fatalf("err = %v, want ErrDoctorUnavailable", err)
	}
	if repo.slotCount() != 0 {
		t.Error("no slot may be claimed for an unavailable doctor")
	}
}

func TestBookSlotTaken(t *testing.T) {
	repo := newMockRepo()
	svc := newTestService(repo)

	p1 := repo.addPatient("alice")
	p2 := repo.addPatient("carol")
	doctorID := repo.addDoctor("bob", 500, true)

	if _, err := svc.Book(context.Background(), p1, doctorID, "2024-06-01", "10:00"); err != nil {
		t.Fatalf("first Book: %v", err)
	}

	_, err := svc.Book(context.Background(), p2, doctorID, "2024-06-01", "10:00")
	if !errors.Is(err, ErrSlotTaken) {
		t.Fatalf("err = %v, want ErrSlotTaken", err)
	}

	// A different time with the same doctor is unaffected.
	if _, err := svc.Book(context.Background(), p2, doctorID, "2024-06-01", "11:00"); err != nil {
		t.Fatalf("different slot: %v", err)
	}
}

func TestConcurrentBookingSingleWinner(t *testing.T) {
	repo := newMockRepo()
	svc := newTestService(repo)

	doctorID := repo.addDoctor("bob", 500, true)

	const n = 25
	patients := make([]uuid.UUID, n)
	for i := range patients {
		patients[i] = repo.addPatient("patient")
	}

	var wg sync.WaitGroup
	results := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, results[i] = svc.Book(context.Background(), patients[i], doctorID, "2024-06-01", "10:00")
		}(i)
	}
	wg.Wait()

	var wins, taken int
	for _, err := range results {
		switch {
		case err == nil:
			wins++
		case errors.Is(err, ErrSlotTaken):
			taken++
		default:
			t.Errorf("unexpected error: %v", err)
		}
	}

	if wins != 1 || taken != n-1 {
		t.Fatalf("wins = %d taken = %d, want 1 and %d", wins, taken, n-1)
	}
}

func TestBookRollsBackClaimOnPersistFailure(t *testing.T) {
	repo := newMockRepo()
	svc := newTestService(repo)

	patientID := repo.addPatient("alice")
	doctorID := repo.addDoctor("bob", 500, true)

	repo.mu.Lock()
	repo.failCreate = true
	repo.mu.Unlock()

	if _, err := svc.Book(context.Background(), patientID, doctorID, "2024-06-01", "10:00"); err == nil {
		t.Fatal("Book should fail when persistence fails")
	}

	if repo.slotCount() != 0 {
		t.Fatal("claim must be released when the appointment record fails to persist")
	}

	// The slot is bookable again.
	repo.mu.Lock()
	repo.failCreate = false
	repo.mu.Unlock()

	if _, err := svc.Book(context.Background(), patientID, doctorID, "2024-06-01", "10:00"); err != nil {
		t.Fatalf("rebooking after rollback: %v", err)
	}
}

func TestReleaseSlotIdempotent(t *testing.T) {
	repo := newMockRepo()
	ctx := context.Background()

	slot := Slot{DoctorID: uuid.New(), Date: "2024-06-01", Time: "10:00"}
	if _, err := repo.ClaimSlot(ctx, slot, uuid.New()); err != nil {
		t.Fatalf("ClaimSlot: %v", err)
	}

	if err := repo.ReleaseSlot(ctx, slot); err != nil {
		t.Fatalf("first release: %v", err)
	}
	if err := repo.ReleaseSlot(ctx, slot); err != nil {
		t.Fatalf("second release must be a no-op, got %v", err)
	}

	free, _ := repo.IsSlotFree(ctx, slot)
	if !free {
		t.Error("slot should be free after release")
	}
}

func TestDeclineReleasesSlot(t *testing.T) {
	repo := newMockRepo()
	svc := newTestService(repo)
	ctx := context.Background()

	patientID := repo.addPatient("alice")
	doctorID := repo.addDoctor("bob", 500, true)

	appt, err := svc.Book(ctx, patientID, doctorID, "2024-06-01", "10:00")
	if err != nil {
		t.Fatalf("Book: %v", err)
	}

	updated, err := svc.Decline(ctx, appt.ID, doctorID)
	if err != nil {
		t.Fatalf("Decline: %v", err)
	}
	if updated.Status != StatusCancelled {
		t.Errorf("status = %s, want cancelled", updated.Status)
	}

	free, _ := repo.IsSlotFree(ctx, appt.Slot())
	if !free {
		t.Error("slot must be released on decline")
	}
}

func TestDeclineForbiddenForOtherDoctor(t *testing.T) {
	repo := newMockRepo()
	svc := newTestService(repo)
	ctx := context.Background()

	patientID := repo.addPatient("alice")
	doctorID := repo.addDoctor("bob", 500, true)
	otherDoctor := repo.addDoctor("mallory", 700, true)

	appt, err := svc.Book(ctx, patientID, doctorID, "2024-06-01", "10:00")
	if err != nil {
		t.Fatalf("Book: %v", err)
	}

	if _, err := svc.Decline(ctx, appt.ID, otherDoctor); !errors.Is(err, ErrForbidden) {
		t.Fatalf("err = %v, want ErrForbidden", err)
	}
}

func TestDeclineUnknownAppointment(t *testing.T) {
	repo := newMockRepo()
	svc := newTestService(repo)

	_, err := svc.Decline(context.Background(), uuid.New(), uuid.New())
	if !errors.Is(err, ErrAppointmentNotFound) {
		t.Fatalf("err = %v, want ErrAppointmentNotFound", err)
	}
}

func TestFinalizedAppointmentRejectsAllTransitions(t *testing.T) {
	repo := newMockRepo()
	svc := newTestService(repo)
	ctx := context.Background()

	patientID := repo.addPatient("alice")
	doctorID := repo.addDoctor("bob", 500, true)

	appt, err := svc.Book(ctx, patientID, doctorID, "2024-06-01", "10:00")
	if err != nil {
		t.Fatalf("Book: %v", err)
	}

	if _, err := svc.Decline(ctx, appt.ID, doctorID); err != nil {
		t.Fatalf("Decline: %v", err)
	}

	// Second transition of any kind must surface AlreadyFinalized, never
	// silently succeed: the notification fires once per outcome.
	if _, err := svc.Complete(ctx, appt.ID, doctorID); !errors.Is(err, ErrAlreadyFinalized) {
		t.Errorf("Complete after decline: err = %v, want ErrAlreadyFinalized", err)
	}
	if _, err := svc.Decline(ctx, appt.ID, doctorID); !errors.Is(err, ErrAlreadyFinalized) {
		t.Errorf("second Decline: err = %v, want ErrAlreadyFinalized", err)
	}
	if _, err := svc.CancelByPatient(ctx, appt.ID, patientID); !errors.Is(err, ErrAlreadyFinalized) {
		t.Errorf("CancelByPatient after decline: err = %v, want ErrAlreadyFinalized", err)
	}
}

func TestCompleteKeepsSlotConsumed(t *testing.T) {
	repo := newMockRepo()
	svc := newTestService(repo)
	ctx := context.Background()

	patientID := repo.addPatient("alice")
	doctorID := repo.addDoctor("bob", 500, true)

	appt, err := svc.Book(ctx, patientID, doctorID, "2024-06-01", "10:00")
	if err != nil {
		t.Fatalf("Book: %v", err)
	}

	updated, err := svc.Complete(ctx, appt.ID, doctorID)
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if updated.Status != StatusCompleted {
		t.Errorf("status = %s, want completed", updated.Status)
	}

	// The appointment happened; the slot stays claimed.
	free, _ := repo.IsSlotFree(ctx, appt.Slot())
	if free {
		t.Error("slot must stay consumed after completion")
	}

	if _, err := svc.Complete(ctx, appt.ID, doctorID); !errors.Is(err, ErrAlreadyFinalized) {
		t.Errorf("second Complete: err = %v, want ErrAlreadyFinalized", err)
	}
}

func TestCancelByPatientChecksOwnership(t *testing.T) {
	repo := newMockRepo()
	svc := newTestService(repo)
	ctx := context.Background()

	patientID := repo.addPatient("alice")
	stranger := repo.addPatient("carol")
	doctorID := repo.addDoctor("bob", 500, true)

	appt, err := svc.Book(ctx, patientID, doctorID, "2024-06-01", "10:00")
	if err != nil {
		t.Fatalf("Book: %v", err)
	}

	if _, err := svc.CancelByPatient(ctx, appt.ID, stranger); !errors.Is(err, ErrForbidden) {
		t.Fatalf("stranger cancel: err = %v, want ErrForbidden", err)
	}

	updated, err := svc.CancelByPatient(ctx, appt.ID, patientID)
	if err != nil {
		t.Fatalf("CancelByPatient: %v", err)
	}
	if updated.Status != StatusCancelled {
		t.Errorf("status = %s, want cancelled", updated.Status)
	}
	free, _ := repo.IsSlotFree(ctx, appt.Slot())
	if !free {
		t.Error("slot must be released on patient cancel")
	}
}

// Payment and lifecycle are independent axes: settling the payment never
// finalizes the lifecycle, and a pending-but-paid appointment can still be
// declined (the paid flag survives, flagging the anomaly for review).
func TestPaymentDoesNotFinalizeLifecycle(t *testing.T) {
	repo := newMockRepo()
	svc := newTestService(repo)
	ctx := context.Background()

	patientID := repo.addPatient("alice")
	doctorID := repo.addDoctor("bob", 500, true)

	appt, err := svc.Book(ctx, patientID, doctorID, "2024-06-01", "10:00")
	if err != nil {
		t.Fatalf("Book: %v", err)
	}

	paid, changed, err := repo.MarkAppointmentPaid(ctx, appt.ID)
	if err != nil || !changed {
		t.Fatalf("MarkAppointmentPaid: changed=%v err=%v", changed, err)
	}
	if paid.Status != StatusPending {
		t.Fatalf("status = %s after payment, want pending", paid.Status)
	}

	updated, err := svc.Decline(ctx, appt.ID, doctorID)
	if err != nil {
		t.Fatalf("Decline of paid-but-pending appointment: %v", err)
	}
	if updated.Status != StatusCancelled || !updated.Paid {
		t.Errorf("got status=%s paid=%v, want cancelled and still paid", updated.Status, updated.Paid)
	}
}

func TestDoctorDashboardCountsCompletedOrPaid(t *testing.T) {
	repo := newMockRepo()
	svc := newTestService(repo)
	ctx := context.Background()

	doctorID := repo.addDoctor("bob", 500, true)
	p1 := repo.addPatient("alice")
	p2 := repo.addPatient("carol")

	a1, err := svc.Book(ctx, p1, doctorID, "2024-06-01", "10:00")
	if err != nil {
		t.Fatalf("Book: %v", err)
	}
	if _, err := svc.Complete(ctx, a1.ID, doctorID); err != nil {
		t.Fatalf("Complete: %v", err)
	}

	a2, err := svc.Book(ctx, p2, doctorID, "2024-06-01", "11:00")
	if err != nil {
		t.Fatalf("Book: %v", err)
	}
	if _, _, err := repo.MarkAppointmentPaid(ctx, a2.ID); err != nil {
		t.Fatalf("MarkAppointmentPaid: %v", err)
	}

	if _, err := svc.Book(ctx, p2, doctorID, "2024-06-01", "12:00"); err != nil {
		t.Fatalf("Book: %v", err)
	}

	dash, err := svc.DoctorDashboard(ctx, doctorID)
	if err != nil {
		t.Fatalf("DoctorDashboard: %v", err)
	}
	if dash.Earnings != 1000 {
		t.Errorf("earnings = %d, want 1000", dash.Earnings)
	}
	if dash.Appointments != 3 {
		t.Errorf("appointments = %d, want 3", dash.Appointments)
	}
	if dash.Patients != 2 {
		t.Errorf("patients = %d, want 2", dash.Patients)
	}
}

func TestSetDoctorAvailability(t *testing.T) {
	repo := newMockRepo()
	svc := newTestService(repo)
	ctx := context.Background()

	patientID := repo.addPatient("alice")
	doctorID := repo.addDoctor("bob", 500, true)

	if _, err := svc.SetDoctorAvailability(ctx, doctorID, false); err != nil {
		t.Fatalf("SetDoctorAvailability: %v", err)
	}

	if _, err := svc.Book(ctx, patientID, doctorID, "2024-06-01", "10:00"); !errors.Is(err, ErrDoctorUnavailable) {
		t.Fatalf("err = %v, want ErrDoctorUnavailable", err)
	}

	if _, err := svc.SetDoctorAvailability(ctx, doctorID, true); err != nil {
		t.Fatalf("SetDoctorAvailability: %v", err)
	}
	if _, err := svc.Book(ctx, patientID, doctorID, "2024-06-01", "10:00"); err != nil {
		t.Fatalf("Book after re-enable: %v", err)
	}
}
