package booking

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/clinic/booking/internal/platform/notification"
)

// =========== Mock Repository ===========

// memRepo enforces the same active-slot uniqueness as the real stores.
type memRepo struct {
	mu    sync.Mutex
	items map[string]*Appointment
	seq   int
	// failNext, when set, is returned by the next call.
	failNext error
}

func newMemRepo() *memRepo {
	return &memRepo{items: make(map[string]*Appointment)}
}

func (m *memRepo) fail() error {
	err := m.failNext
	m.failNext = nil
	return err
}

func (m *memRepo) slotHolder(doctorID, date, t, except string) *Appointment {
	for _, a := range m.items {
		if a.ID != except && a.DoctorID == doctorID && a.Date == date && a.Time == t && a.Status.Active() {
			return a
		}
	}
	return nil
}

func cp(a *Appointment) *Appointment {
	c := *a
	return &c
}

func (m *memRepo) Create(_ context.Context, a *Appointment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail(); err != nil {
		return err
	}
	if a.Status.Active() && m.slotHolder(a.DoctorID, a.Date, a.Time, "") != nil {
		return ErrSlotTaken
	}
	if a.ID == "" {
		m.seq++
		a.ID = fmt.Sprintf("appt-%d", m.seq)
	}
	a.CreatedAt = time.Now()
	a.UpdatedAt = a.CreatedAt
	m.items[a.ID] = cp(a)
	return nil
}

func (m *memRepo) GetByID(_ context.Context, id string) (*Appointment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail(); err != nil {
		return nil, err
	}
	a, ok := m.items[id]
	if !ok {
		return nil, ErrNotFound
	}
	return cp(a), nil
}

func (m *memRepo) FindActiveAt(_ context.Context, doctorID, date, t string) (*Appointment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail(); err != nil {
		return nil, err
	}
	if a := m.slotHolder(doctorID, date, t, ""); a != nil {
		return cp(a), nil
	}
	return nil, nil
}

func (m *memRepo) BookedTimes(_ context.Context, doctorID, date string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail(); err != nil {
		return nil, err
	}
	var out []string
	for _, a := range m.items {
		if a.DoctorID == doctorID && a.Date == date && a.Status.Active() {
			out = append(out, a.Time)
		}
	}
	sort.Strings(out)
	return out, nil
}

func (m *memRepo) UpdateStatus(_ context.Context, id string, status Status, upd StatusUpdate) (*Appointment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.items[id]
	if !ok {
		return nil, ErrNotFound
	}
	if status.Active() && !a.Status.Active() && m.slotHolder(a.DoctorID, a.Date, a.Time, id) != nil {
		return nil, ErrSlotTaken
	}
	a.Status = status
	if upd.Notes != "" {
		a.Notes = upd.Notes
	}
	if upd.CancellationReason != "" {
		a.CancellationReason = upd.CancellationReason
	}
	return cp(a), nil
}

func (m *memRepo) Reschedule(_ context.Context, id, date, t string, startsAt time.Time) (*Appointment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.items[id]
	if !ok {
		return nil, ErrNotFound
	}
	if m.slotHolder(a.DoctorID, date, t, id) != nil {
		return nil, ErrSlotTaken
	}
	a.Date, a.Time, a.StartsAt = date, t, startsAt
	a.PatientReminderSent, a.DoctorReminderSent = false, false
	return cp(a), nil
}

func (m *memRepo) UpdatePayment(_ context.Context, id string, p Payment) (*Appointment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.items[id]
	if !ok {
		return nil, ErrNotFound
	}
	a.Payment = p
	return cp(a), nil
}

func (m *memRepo) list(match func(*Appointment) bool) []*Appointment {
	var out []*Appointment
	for _, a := range m.items {
		if match(a) {
			out = append(out, cp(a))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Date != out[j].Date {
			return out[i].Date < out[j].Date
		}
		return out[i].Time < out[j].Time
	})
	return out
}

func page(items []*Appointment, limit, offset int) []*Appointment {
	if offset >= len(items) {
		return nil
	}
	end := offset + limit
	if end > len(items) {
		end = len(items)
	}
	return items[offset:end]
}

func (m *memRepo) ListByDoctor(_ context.Context, doctorID string, limit, offset int) ([]*Appointment, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	all := m.list(func(a *Appointment) bool { return a.DoctorID == doctorID })
	return page(all, limit, offset), len(all), nil
}

func (m *memRepo) ListByPatient(_ context.Context, patientID string, limit, offset int) ([]*Appointment, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	all := m.list(func(a *Appointment) bool { return a.PatientID == patientID })
	return page(all, limit, offset), len(all), nil
}

func (m *memRepo) ListByDateRange(_ context.Context, doctorID, start, end string) ([]*Appointment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.list(func(a *Appointment) bool {
		return a.DoctorID == doctorID && a.Date >= start && a.Date <= end
	}), nil
}

func (m *memRepo) CountByDateRange(ctx context.Context, doctorID, start, end string) (int, error) {
	items, err := m.ListByDateRange(ctx, doctorID, start, end)
	return len(items), err
}

func (m *memRepo) ListByDate(_ context.Context, date string, statuses ...Status) ([]*Appointment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail(); err != nil {
		return nil, err
	}
	return m.list(func(a *Appointment) bool {
		if a.Date != date {
			return false
		}
		if len(statuses) == 0 {
			return true
		}
		for _, s := range statuses {
			if a.Status == s {
				return true
			}
		}
		return false
	}), nil
}

func (m *memRepo) MarkReminderSent(_ context.Context, id string, kind ReminderKind) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.items[id]
	if !ok {
		return false, ErrNotFound
	}
	switch kind {
	case ReminderPatient:
		if a.PatientReminderSent {
			return false, nil
		}
		a.PatientReminderSent = true
	case ReminderDoctor:
		if a.DoctorReminderSent {
			return false, nil
		}
		a.DoctorReminderSent = true
	}
	return true, nil
}

// =========== Mock Notifier ===========

type sentNotice struct {
	Template string
	Notice   notification.Notice
}

type mockNotifier struct {
	mu   sync.Mutex
	sent []sentNotice
	err  error
}

func (m *mockNotifier) NotifyFromTemplate(_ context.Context, templateID string, _ map[string]string, n notification.Notice) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, sentNotice{templateID, n})
	return m.err
}

// =========== Helpers ===========

func newTestService(repo AppointmentRepository, notifier Notifier) *Service {
	opts := Options{
		Clock:    fixedClock(testNow),
		Location: time.UTC,
		Logger:   zerolog.Nop(),
	}
	if notifier != nil {
		opts.Notifier = notifier
	}
	return NewService(repo, opts)
}

func mustBook(t *testing.T, svc *Service, req BookingRequest) *Appointment {
	t.Helper()
	res, err := svc.Book(context.Background(), req)
	if err != nil {
		t.Fatalf("Book: %v", err)
	}
	if !res.CanBook {
		t.Fatalf("Book not accepted: %+v", res)
	}
	return res.Appointment
}

func req(doctor, patient, date, tm string) BookingRequest {
	return BookingRequest{DoctorID: doctor, PatientID: patient, Date: date, Time: tm}
}

// =========== Slot Tests ===========

func TestService_AvailableSlots(t *testing.T) {
	svc := newTestService(newMemRepo(), nil)
	mustBook(t, svc, req("d1", "p1", "2025-06-11", "10:00"))
	mustBook(t, svc, req("d2", "p2", "2025-06-11", "11:00"))

	slots, err := svc.AvailableSlots(context.Background(), "d1", "2025-06-11")
	if err != nil {
		t.Fatalf("AvailableSlots: %v", err)
	}
	if len(slots) != 16 {
		t.Fatalf("expected 16 slots, got %d", len(slots))
	}
	for _, s := range slots {
		want := s.Time != "10:00"
		if s.Available != want {
			t.Errorf("slot %s available = %v, want %v", s.Time, s.Available, want)
		}
	}
}

func TestService_AvailableSlots_CancelledFreesSlot(t *testing.T) {
	svc := newTestService(newMemRepo(), nil)
	a := mustBook(t, svc, req("d1", "p1", "2025-06-11", "10:00"))
	if _, err := svc.UpdateAppointmentStatus(context.Background(), a.ID, StatusCancelled, StatusUpdate{}); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	slots, _ := svc.AvailableSlots(context.Background(), "d1", "2025-06-11")
	for _, s := range slots {
		if !s.Available {
			t.Errorf("slot %s should be free after cancellation", s.Time)
		}
	}
}

func TestService_AvailableSlots_StoreError(t *testing.T) {
	repo := newMemRepo()
	repo.failNext = errors.New("connection refused")
	svc := newTestService(repo, nil)
	if _, err := svc.AvailableSlots(context.Background(), "d1", "2025-06-11"); err == nil {
		t.Fatal("expected infrastructure error to propagate")
	}
}

func TestService_CheckSlotAvailability(t *testing.T) {
	svc := newTestService(newMemRepo(), nil)
	a := mustBook(t, svc, req("d1", "p1", "2025-06-11", "10:00"))
	ctx := context.Background()

	check, err := svc.CheckSlotAvailability(ctx, "d1", "2025-06-11", "10:00 AM")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if check.Available || check.Conflict == nil || check.Conflict.ID != a.ID {
		t.Errorf("expected conflict with %s, got %+v", a.ID, check)
	}

	check, _ = svc.CheckSlotAvailability(ctx, "d1", "2025-06-11", "10:30")
	if !check.Available || check.Conflict != nil {
		t.Errorf("expected free slot, got %+v", check)
	}
	check, _ = svc.CheckSlotAvailability(ctx, "d2", "2025-06-11", "10:00")
	if !check.Available {
		t.Error("another doctor's slot must not conflict")
	}
}

func TestService_CheckSlotAvailability_CancelledIsFree(t *testing.T) {
	svc := newTestService(newMemRepo(), nil)
	ctx := context.Background()
	a := mustBook(t, svc, req("d1", "p1", "2025-06-11", "10:00"))
	if _, err := svc.UpdateAppointmentStatus(ctx, a.ID, StatusCancelled, StatusUpdate{CancellationReason: "travel"}); err != nil {
		t.Fatalf("cancel: %v", err)
	}

	check, err := svc.CheckSlotAvailability(ctx, "d1", "2025-06-11", "10:00")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !check.Available || check.Conflict != nil {
		t.Errorf("slot held only by a cancelled appointment must be free, got %+v", check)
	}
}

func TestService_NextAvailableSlots(t *testing.T) {
	svc := newTestService(newMemRepo(), nil)
	for _, tm := range []string{"10:00", "10:30", "11:00"} {
		mustBook(t, svc, req("d1", "p-"+tm, "2025-06-11", tm))
	}

	got, err := svc.NextAvailableSlots(context.Background(), "d1", "2025-06-11", "10:30", 3)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var times []string
	for _, s := range got {
		times = append(times, s.Time)
	}
	want := []string{"09:30", "11:30", "09:00"}
	if fmt.Sprint(times) != fmt.Sprint(want) {
		t.Errorf("suggestions = %v, want %v", times, want)
	}
}

func TestService_NextAvailableSlots_SkipsPastToday(t *testing.T) {
	svc := newTestService(newMemRepo(), nil)
	// testNow is 10:00 on 2025-06-10.
	got, err := svc.NextAvailableSlots(context.Background(), "d1", "2025-06-10", "09:00", 2)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 2 || got[0].Time != "10:30" || got[1].Time != "11:00" {
		t.Errorf("unexpected suggestions %+v", got)
	}
}

func TestService_NextAvailableSlots_FullDay(t *testing.T) {
	svc := newTestService(newMemRepo(), nil)
	for _, s := range GenerateSlots("2025-06-11", 9, 17, 30) {
		mustBook(t, svc, req("d1", "p", "2025-06-11", s.Time))
	}
	got, err := svc.NextAvailableSlots(context.Background(), "d1", "2025-06-11", "10:00", 3)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("expected no suggestions on a full day, got %d", len(got))
	}
}

// =========== Booking Tests ===========

func TestService_Book_Success(t *testing.T) {
	notifier := &mockNotifier{}
	svc := newTestService(newMemRepo(), notifier)

	res, err := svc.Book(context.Background(), BookingRequest{
		DoctorID: "d1", PatientID: "p1", Date: "2025-06-11", Time: "14:30",
		PatientEmail: "p1@example.com",
	})
	if err != nil {
		t.Fatalf("Book: %v", err)
	}
	if !res.CanBook || res.Conflict || res.Appointment == nil {
		t.Fatalf("unexpected result %+v", res)
	}
	a := res.Appointment
	if a.Status != StatusScheduled || a.Duration != DefaultDuration || a.Payment.Status != PaymentPending {
		t.Errorf("defaults not applied: %+v", a)
	}
	if a.PatientReminderSent || a.DoctorReminderSent {
		t.Error("reminder flags must start false")
	}
	if want := time.Date(2025, 6, 11, 14, 30, 0, 0, time.UTC); !a.StartsAt.Equal(want) {
		t.Errorf("StartsAt = %v, want %v", a.StartsAt, want)
	}
	if len(notifier.sent) != 2 {
		t.Fatalf("expected doctor and patient notices, got %d", len(notifier.sent))
	}
	if notifier.sent[0].Notice.UserID != "d1" || notifier.sent[1].Notice.UserID != "p1" {
		t.Errorf("unexpected recipients %+v", notifier.sent)
	}
	if notifier.sent[1].Template != notification.TemplateAppointmentBooked {
		t.Errorf("unexpected template %q", notifier.sent[1].Template)
	}
}

func TestService_Book_PendingStatus(t *testing.T) {
	svc := newTestService(newMemRepo(), nil)
	r := req("d1", "p1", "2025-06-11", "09:00")
	r.Status = StatusPending
	a := mustBook(t, svc, r)
	if a.Status != StatusPending {
		t.Errorf("expected pending, got %s", a.Status)
	}

	r = req("d1", "p1", "2025-06-11", "09:30")
	r.Status = StatusCompleted
	a = mustBook(t, svc, r)
	if a.Status != StatusScheduled {
		t.Errorf("new bookings may only start scheduled or pending, got %s", a.Status)
	}
}

func TestService_Book_ValidationFailure(t *testing.T) {
	repo := newMemRepo()
	svc := newTestService(repo, nil)

	res, err := svc.Book(context.Background(), req("", "p1", "2025-06-09", "09:00"))
	if err != nil {
		t.Fatalf("validation failures are results, got error %v", err)
	}
	if res.CanBook || res.Validation == nil || res.Validation.Valid {
		t.Fatalf("expected validation result, got %+v", res)
	}
	if len(res.Validation.Errors) != 2 {
		t.Errorf("expected 2 errors, got %q", res.Validation.Errors)
	}
	if len(repo.items) != 0 {
		t.Error("nothing should be stored")
	}
}

func TestService_Book_Conflict(t *testing.T) {
	svc := newTestService(newMemRepo(), nil)
	mustBook(t, svc, req("d1", "p1", "2025-06-11", "10:00"))

	res, err := svc.Book(context.Background(), req("d1", "p2", "2025-06-11", "10:00"))
	if err != nil {
		t.Fatalf("conflict must not be an error: %v", err)
	}
	if res.CanBook || !res.Conflict {
		t.Fatalf("expected conflict, got %+v", res)
	}
	if len(res.Suggestions) != DefaultSuggestions {
		t.Fatalf("expected %d suggestions, got %d", DefaultSuggestions, len(res.Suggestions))
	}
	for _, s := range res.Suggestions {
		if s.Time == "10:00" || !s.Available {
			t.Errorf("bad suggestion %+v", s)
		}
	}
}

func TestService_Book_NotifierFailureIgnored(t *testing.T) {
	svc := newTestService(newMemRepo(), &mockNotifier{err: errors.New("smtp down")})
	if _, err := svc.Book(context.Background(), req("d1", "p1", "2025-06-11", "10:00")); err != nil {
		t.Fatalf("notification failure must not fail the booking: %v", err)
	}
}

func TestService_Book_StoreError(t *testing.T) {
	repo := newMemRepo()
	svc := newTestService(repo, nil)
	repo.failNext = errors.New("store unreachable")
	if _, err := svc.Book(context.Background(), req("d1", "p1", "2025-06-11", "10:00")); err == nil {
		t.Fatal("expected infrastructure error")
	}
}

func TestService_CreateAppointment_NormalizesTime(t *testing.T) {
	svc := newTestService(newMemRepo(), nil)
	res, err := svc.CreateAppointment(context.Background(), &Appointment{
		DoctorID: "d1", PatientID: "p1", Date: "2025-06-11", Time: "2:30 PM",
	})
	if err != nil {
		t.Fatalf("CreateAppointment: %v", err)
	}
	if res.Appointment.Time != "14:30" {
		t.Errorf("expected canonical 14:30, got %q", res.Appointment.Time)
	}

	res, _ = svc.CreateAppointment(context.Background(), &Appointment{
		DoctorID: "d1", PatientID: "p2", Date: "2025-06-11", Time: "14:30",
	})
	if !res.Conflict {
		t.Error("12-hour and 24-hour forms of one time must collide")
	}
}

func TestService_ConcurrentBooking_ExactlyOneWins(t *testing.T) {
	svc := newTestService(newMemRepo(), nil)
	const n = 20

	var wg sync.WaitGroup
	results := make([]BookingResult, n)
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = svc.Book(context.Background(), req("D", fmt.Sprintf("p%d", i), "2025-06-11", "10:00"))
		}(i)
	}
	wg.Wait()

	booked, conflicts := 0, 0
	for i := range results {
		if errs[i] != nil {
			t.Fatalf("unexpected error: %v", errs[i])
		}
		if results[i].CanBook {
			booked++
		}
		if results[i].Conflict {
			conflicts++
		}
	}
	if booked != 1 || conflicts != n-1 {
		t.Errorf("booked=%d conflicts=%d, want 1 and %d", booked, conflicts, n-1)
	}
}

// =========== Status / Reschedule / Payment Tests ===========

func TestService_UpdateAppointmentStatus(t *testing.T) {
	notifier := &mockNotifier{}
	svc := newTestService(newMemRepo(), notifier)
	a := mustBook(t, svc, req("d1", "p1", "2025-06-11", "10:00"))
	notifier.sent = nil

	got, err := svc.UpdateAppointmentStatus(context.Background(), a.ID, StatusConfirmed, StatusUpdate{Notes: "bring reports"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Status != StatusConfirmed || got.Notes != "bring reports" {
		t.Errorf("unexpected appointment %+v", got)
	}
	if len(notifier.sent) != 1 || notifier.sent[0].Template != notification.TemplateAppointmentStatus {
		t.Errorf("expected one status notice, got %+v", notifier.sent)
	}
}

func TestService_UpdateAppointmentStatus_UnknownID(t *testing.T) {
	svc := newTestService(newMemRepo(), nil)
	got, err := svc.UpdateAppointmentStatus(context.Background(), "nope", StatusCancelled, StatusUpdate{})
	if err != nil || got != nil {
		t.Errorf("expected (nil, nil), got (%v, %v)", got, err)
	}
}

func TestService_UpdateAppointmentStatus_InvalidStatus(t *testing.T) {
	svc := newTestService(newMemRepo(), nil)
	a := mustBook(t, svc, req("d1", "p1", "2025-06-11", "10:00"))
	_, err := svc.UpdateAppointmentStatus(context.Background(), a.ID, Status("archived"), StatusUpdate{})
	if !errors.Is(err, ErrInvalidStatus) {
		t.Errorf("expected ErrInvalidStatus, got %v", err)
	}
}

func TestService_UpdateAppointmentStatus_ReactivateIntoTakenSlot(t *testing.T) {
	svc := newTestService(newMemRepo(), nil)
	ctx := context.Background()
	first := mustBook(t, svc, req("d1", "p1", "2025-06-11", "10:00"))
	if _, err := svc.UpdateAppointmentStatus(ctx, first.ID, StatusCancelled, StatusUpdate{CancellationReason: "sick"}); err != nil {
		t.Fatal(err)
	}
	mustBook(t, svc, req("d1", "p2", "2025-06-11", "10:00"))

	_, err := svc.UpdateAppointmentStatus(ctx, first.ID, StatusScheduled, StatusUpdate{})
	if !errors.Is(err, ErrSlotTaken) {
		t.Errorf("expected ErrSlotTaken, got %v", err)
	}
}

func TestService_Reschedule_ResetsReminderFlags(t *testing.T) {
	repo := newMemRepo()
	svc := newTestService(repo, nil)
	ctx := context.Background()
	a := mustBook(t, svc, req("d1", "p1", "2025-06-11", "10:00"))
	repo.MarkReminderSent(ctx, a.ID, ReminderPatient)
	repo.MarkReminderSent(ctx, a.ID, ReminderDoctor)

	res, err := svc.RescheduleAppointment(ctx, a.ID, "2025-06-12", "11:30")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !res.CanBook {
		t.Fatalf("expected reschedule accepted, got %+v", res)
	}
	got := res.Appointment
	if got.Date != "2025-06-12" || got.Time != "11:30" {
		t.Errorf("not moved: %+v", got)
	}
	if got.PatientReminderSent || got.DoctorReminderSent {
		t.Error("reminder flags must be reset on reschedule")
	}
	if want := time.Date(2025, 6, 12, 11, 30, 0, 0, time.UTC); !got.StartsAt.Equal(want) {
		t.Errorf("StartsAt = %v", got.StartsAt)
	}
}

func TestService_Reschedule_Conflict(t *testing.T) {
	svc := newTestService(newMemRepo(), nil)
	ctx := context.Background()
	a := mustBook(t, svc, req("d1", "p1", "2025-06-11", "10:00"))
	mustBook(t, svc, req("d1", "p2", "2025-06-11", "11:00"))

	res, err := svc.RescheduleAppointment(ctx, a.ID, "2025-06-11", "11:00")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !res.Conflict || len(res.Suggestions) == 0 {
		t.Errorf("expected conflict with suggestions, got %+v", res)
	}
}

func TestService_Reschedule_Rejections(t *testing.T) {
	svc := newTestService(newMemRepo(), nil)
	ctx := context.Background()

	if _, err := svc.RescheduleAppointment(ctx, "missing", "2025-06-12", "10:00"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}

	a := mustBook(t, svc, req("d1", "p1", "2025-06-11", "10:00"))
	res, err := svc.RescheduleAppointment(ctx, a.ID, "2025-06-01", "10:00")
	if err != nil || res.Validation == nil {
		t.Errorf("expected validation result for a past date, got %+v / %v", res, err)
	}

	svc.UpdateAppointmentStatus(ctx, a.ID, StatusCancelled, StatusUpdate{})
	if _, err := svc.RescheduleAppointment(ctx, a.ID, "2025-06-12", "10:00"); !errors.Is(err, ErrInvalidStatus) {
		t.Errorf("expected ErrInvalidStatus for cancelled appointment, got %v", err)
	}
}

func TestService_UpdatePayment(t *testing.T) {
	svc := newTestService(newMemRepo(), nil)
	ctx := context.Background()
	a := mustBook(t, svc, req("d1", "p1", "2025-06-11", "10:00"))

	got, err := svc.UpdatePayment(ctx, a.ID, Payment{Status: PaymentPaid, Method: "card", TransactionID: "tx-1"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Payment.Status != PaymentPaid || got.Payment.PaidAt == nil || !got.Payment.PaidAt.Equal(testNow) {
		t.Errorf("unexpected payment %+v", got.Payment)
	}

	if _, err := svc.UpdatePayment(ctx, a.ID, Payment{Status: "refunded"}); err == nil {
		t.Error("expected error for unknown payment status")
	}
	if _, err := svc.UpdatePayment(ctx, "missing", Payment{Status: PaymentFailed}); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

// =========== Read Tests ===========

func TestService_DoctorSchedule(t *testing.T) {
	svc := newTestService(newMemRepo(), nil)
	mustBook(t, svc, req("d1", "p1", "2025-06-12", "11:00"))
	mustBook(t, svc, req("d1", "p2", "2025-06-11", "15:00"))
	mustBook(t, svc, req("d1", "p3", "2025-06-11", "09:00"))
	mustBook(t, svc, req("d1", "p4", "2025-06-20", "09:00"))
	mustBook(t, svc, req("d2", "p5", "2025-06-11", "09:00"))

	days, err := svc.DoctorSchedule(context.Background(), "d1", "2025-06-11", "2025-06-13")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(days) != 2 {
		t.Fatalf("expected 2 days, got %d", len(days))
	}
	if days[0].Date != "2025-06-11" || len(days[0].Appointments) != 2 || days[0].Appointments[0].Time != "09:00" {
		t.Errorf("unexpected first day %+v", days[0])
	}
	if days[1].Date != "2025-06-12" || len(days[1].Appointments) != 1 {
		t.Errorf("unexpected second day %+v", days[1])
	}

	n, err := svc.CountAppointmentsByDateRange(context.Background(), "d1", "2025-06-11", "2025-06-20")
	if err != nil || n != 4 {
		t.Errorf("count = %d, %v; want 4", n, err)
	}
}

func TestService_InvalidRange(t *testing.T) {
	svc := newTestService(newMemRepo(), nil)
	ctx := context.Background()
	if _, err := svc.DoctorSchedule(ctx, "d1", "2025-06-12", "2025-06-11"); !errors.Is(err, ErrInvalidRange) {
		t.Errorf("expected ErrInvalidRange, got %v", err)
	}
	if _, err := svc.CountAppointmentsByDateRange(ctx, "d1", "bad", "2025-06-11"); !errors.Is(err, ErrInvalidRange) {
		t.Errorf("expected ErrInvalidRange, got %v", err)
	}
}

func TestService_TodayAppointments(t *testing.T) {
	repo := newMemRepo()
	svc := newTestService(repo, nil)
	ctx := context.Background()
	keep := mustBook(t, svc, req("d1", "p1", "2025-06-10", "11:00"))
	drop := mustBook(t, svc, req("d2", "p2", "2025-06-10", "12:00"))
	mustBook(t, svc, req("d1", "p3", "2025-06-11", "11:00"))
	svc.UpdateAppointmentStatus(ctx, drop.ID, StatusCancelled, StatusUpdate{})

	items, err := svc.TodayAppointments(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(items) != 1 || items[0].ID != keep.ID {
		t.Errorf("unexpected today list %+v", items)
	}
}

func TestService_AppointmentsByPatient(t *testing.T) {
	svc := newTestService(newMemRepo(), nil)
	for _, tm := range []string{"09:00", "09:30", "10:00"} {
		mustBook(t, svc, req("d1", "p1", "2025-06-11", tm))
	}
	items, total, err := svc.AppointmentsByPatient(context.Background(), "p1", 2, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if total != 3 || len(items) != 2 {
		t.Errorf("total=%d len=%d", total, len(items))
	}
}
