package booking

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"github.com/clinic/booking/internal/platform/notification"
)

// DefaultSuggestions is how many alternatives a conflict result carries.
const DefaultSuggestions = 3

// Notifier delivers a templated notice. *notification.Dispatcher satisfies it.
type Notifier interface {
	NotifyFromTemplate(ctx context.Context, templateID string, data map[string]string, n notification.Notice) error
}

// Options configures a Service. Zero values fall back to UTC, the system clock,
// DefaultSlotConfig and no notifications.
type Options struct {
	Clock       Clock
	Location    *time.Location
	Slots       SlotConfig
	Suggestions int
	Notifier    Notifier
	Logger      zerolog.Logger
}

// Service is the appointment store accessor: every read and write of the
// appointment collection goes through it.
type Service struct {
	repo        AppointmentRepository
	validator   *Validator
	clock       Clock
	loc         *time.Location
	slots       SlotConfig
	suggestions int
	notifier    Notifier
	logger      zerolog.Logger
}

func NewService(repo AppointmentRepository, opts Options) *Service {
	if opts.Clock == nil {
		opts.Clock = SystemClock()
	}
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	if opts.Slots.IntervalMinutes <= 0 {
		opts.Slots = DefaultSlotConfig
	}
	if opts.Suggestions <= 0 {
		opts.Suggestions = DefaultSuggestions
	}
	v := NewValidator(opts.Clock, opts.Location)
	v.WorkStartHour, v.WorkEndHour = opts.Slots.StartHour, opts.Slots.EndHour
	return &Service{
		repo:        repo,
		validator:   v,
		clock:       opts.Clock,
		loc:         opts.Location,
		slots:       opts.Slots,
		suggestions: opts.Suggestions,
		notifier:    opts.Notifier,
		logger:      opts.Logger,
	}
}

func (s *Service) today() string { return DateOf(s.clock.Now(), s.loc) }

// -- Slots --

// AvailableSlots returns the day's slots with availability computed from the
// doctor's non-cancelled appointments on date.
func (s *Service) AvailableSlots(ctx context.Context, doctorID, date string) ([]Slot, error) {
	if !IsValidDate(date) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidRange, date)
	}
	booked, err := s.repo.BookedTimes(ctx, doctorID, date)
	if err != nil {
		return nil, fmt.Errorf("load booked times: %w", err)
	}
	slots := GenerateSlots(date, s.slots.StartHour, s.slots.EndHour, s.slots.IntervalMinutes)
	return FilterAvailability(slots, booked), nil
}

// CheckSlotAvailability reports whether (doctor, date, time) is free and, if
// not, which appointment holds it.
func (s *Service) CheckSlotAvailability(ctx context.Context, doctorID, date, t string) (SlotCheck, error) {
	norm, err := NormalizeTime(t)
	if err != nil {
		return SlotCheck{}, err
	}
	existing, err := s.repo.FindActiveAt(ctx, doctorID, date, norm)
	if err != nil {
		return SlotCheck{}, fmt.Errorf("check slot: %w", err)
	}
	if existing != nil {
		return SlotCheck{Available: false, Conflict: existing}, nil
	}
	return SlotCheck{Available: true}, nil
}

// NextAvailableSlots returns up to n open slots on date nearest to t, nearest
// first and earlier first on ties. t itself and slots already started today
// are never suggested.
func (s *Service) NextAvailableSlots(ctx context.Context, doctorID, date, t string, n int) ([]Slot, error) {
	if n <= 0 {
		return []Slot{}, nil
	}
	target, err := ParseClock(t)
	if err != nil {
		return nil, err
	}
	slots, err := s.AvailableSlots(ctx, doctorID, date)
	if err != nil {
		return nil, err
	}

	now := s.clock.Now().In(s.loc)
	isToday := date == now.Format(dateLayout)
	nowMin := now.Hour()*60 + now.Minute()

	type candidate struct {
		slot Slot
		min  int
	}
	var open []candidate
	for _, sl := range slots {
		m, _ := ParseClock(sl.Time)
		if !sl.Available || m == target || (isToday && m <= nowMin) {
			continue
		}
		open = append(open, candidate{sl, m})
	}
	sort.SliceStable(open, func(i, j int) bool {
		di, dj := abs(open[i].min-target), abs(open[j].min-target)
		if di != dj {
			return di < dj
		}
		return open[i].min < open[j].min
	})

	if len(open) > n {
		open = open[:n]
	}
	out := make([]Slot, len(open))
	for i, c := range open {
		out[i] = c.slot
	}
	return out, nil
}

func abs(x int) int {
	if x < 0 {
		return -x
	}
	return x
}

func (s *Service) conflict(ctx context.Context, doctorID, date, t string) (BookingResult, error) {
	sugg, err := s.NextAvailableSlots(ctx, doctorID, date, t, s.suggestions)
	if err != nil {
		return BookingResult{}, fmt.Errorf("suggest slots: %w", err)
	}
	return BookingResult{CanBook: false, Conflict: true, Suggestions: sugg}, nil
}

// -- Appointments --

// CreateAppointment inserts a as a single guarded write. A taken slot is
// reported as a conflict result carrying suggestions.
func (s *Service) CreateAppointment(ctx context.Context, a *Appointment) (BookingResult, error) {
	norm, err := NormalizeTime(a.Time)
	if err != nil {
		return BookingResult{}, err
	}
	a.Time = norm
	if a.Duration <= 0 {
		a.Duration = DefaultDuration
	}
	if a.Status == "" {
		a.Status = StatusScheduled
	}
	if !a.Status.Valid() {
		return BookingResult{}, ErrInvalidStatus
	}
	if a.Payment.Status == "" {
		a.Payment.Status = PaymentPending
	}
	startsAt, err := CombineDateTime(a.Date, a.Time, s.loc)
	if err != nil {
		return BookingResult{}, err
	}
	a.StartsAt = startsAt.UTC()
	a.PatientReminderSent, a.DoctorReminderSent = false, false

	err = s.repo.Create(ctx, a)
	if errors.Is(err, ErrSlotTaken) {
		return s.conflict(ctx, a.DoctorID, a.Date, a.Time)
	}
	if err != nil {
		return BookingResult{}, fmt.Errorf("create appointment: %w", err)
	}
	return BookingResult{CanBook: true, Appointment: a}, nil
}

// Book validates req, creates the appointment and notifies both parties.
func (s *Service) Book(ctx context.Context, req BookingRequest) (BookingResult, error) {
	vr := s.validator.Validate(req)
	if !vr.Valid {
		return BookingResult{Validation: &vr}, nil
	}

	status := StatusScheduled
	if req.Status == StatusPending {
		status = StatusPending
	}
	a := &Appointment{
		DoctorID:     req.DoctorID,
		PatientID:    req.PatientID,
		DoctorName:   req.DoctorName,
		DoctorEmail:  req.DoctorEmail,
		PatientName:  req.PatientName,
		PatientEmail: req.PatientEmail,
		PatientPhone: req.PatientPhone,
		Date:         req.Date,
		Time:         req.Time,
		Duration:     req.Duration,
		Status:       status,
		Reason:       req.Reason,
		Notes:        req.Notes,
	}
	res, err := s.CreateAppointment(ctx, a)
	if err != nil || !res.CanBook {
		return res, err
	}

	data := templateData(a)
	s.notify(ctx, notification.TemplateAppointmentBooked, data, notification.Notice{
		UserID: a.DoctorID, Role: "doctor", Type: notification.TypeBooking,
		RelatedID: a.ID, Email: a.DoctorEmail,
	})
	s.notify(ctx, notification.TemplateAppointmentBooked, data, notification.Notice{
		UserID: a.PatientID, Role: "patient", Type: notification.TypeBooking,
		RelatedID: a.ID, Email: a.PatientEmail, Phone: a.PatientPhone,
	})
	return res, nil
}

// UpdateAppointmentStatus moves an appointment to status, merging the
// non-empty fields of upd. An unknown id yields (nil, nil).
func (s *Service) UpdateAppointmentStatus(ctx context.Context, id string, status Status, upd StatusUpdate) (*Appointment, error) {
	if !status.Valid() {
		return nil, ErrInvalidStatus
	}
	a, err := s.repo.UpdateStatus(ctx, id, status, upd)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	data := templateData(a)
	data["status"] = string(a.Status)
	s.notify(ctx, notification.TemplateAppointmentStatus, data, notification.Notice{
		UserID: a.PatientID, Role: "patient", Type: notification.TypeStatus,
		RelatedID: a.ID, Email: a.PatientEmail,
	})
	return a, nil
}

// RescheduleAppointment moves an open appointment to a new date and time.
// Both reminder flags are cleared so the new slot gets its reminders.
func (s *Service) RescheduleAppointment(ctx context.Context, id, date, t string) (BookingResult, error) {
	existing, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return BookingResult{}, err
	}
	if !existing.Status.Active() || existing.Status == StatusCompleted {
		return BookingResult{}, ErrInvalidStatus
	}

	vr := s.validator.Validate(BookingRequest{
		DoctorID:  existing.DoctorID,
		PatientID: existing.PatientID,
		Date:      date,
		Time:      t,
	})
	if !vr.Valid {
		return BookingResult{Validation: &vr}, nil
	}
	startsAt, err := CombineDateTime(date, t, s.loc)
	if err != nil {
		return BookingResult{}, err
	}

	a, err := s.repo.Reschedule(ctx, id, date, t, startsAt.UTC())
	if errors.Is(err, ErrSlotTaken) {
		return s.conflict(ctx, existing.DoctorID, date, t)
	}
	if err != nil {
		return BookingResult{}, fmt.Errorf("reschedule appointment: %w", err)
	}
	return BookingResult{CanBook: true, Appointment: a}, nil
}

// UpdatePayment records the outcome reported by the checkout collaborator.
func (s *Service) UpdatePayment(ctx context.Context, id string, p Payment) (*Appointment, error) {
	switch p.Status {
	case PaymentPending, PaymentFailed:
	case PaymentPaid:
		if p.PaidAt == nil {
			now := s.clock.Now().UTC()
			p.PaidAt = &now
		}
	default:
		return nil, fmt.Errorf("invalid payment status %q", p.Status)
	}
	return s.repo.UpdatePayment(ctx, id, p)
}

func (s *Service) GetAppointment(ctx context.Context, id string) (*Appointment, error) {
	return s.repo.GetByID(ctx, id)
}

func (s *Service) AppointmentsByDoctor(ctx context.Context, doctorID string, limit, offset int) ([]*Appointment, int, error) {
	return s.repo.ListByDoctor(ctx, doctorID, limit, offset)
}

func (s *Service) AppointmentsByPatient(ctx context.Context, patientID string, limit, offset int) ([]*Appointment, int, error) {
	return s.repo.ListByPatient(ctx, patientID, limit, offset)
}

// TodayAppointments lists every non-cancelled appointment of the current day
// in the configured zone.
func (s *Service) TodayAppointments(ctx context.Context) ([]*Appointment, error) {
	return s.repo.ListByDate(ctx, s.today(),
		StatusScheduled, StatusConfirmed, StatusPending, StatusCompleted)
}

func validRange(start, end string) error {
	if !IsValidDate(start) || !IsValidDate(end) || end < start {
		return fmt.Errorf("%w: %q..%q", ErrInvalidRange, start, end)
	}
	return nil
}

// CountAppointmentsByDateRange counts the doctor's appointments with date in
// [start, end], both inclusive.
func (s *Service) CountAppointmentsByDateRange(ctx context.Context, doctorID, start, end string) (int, error) {
	if err := validRange(start, end); err != nil {
		return 0, err
	}
	return s.repo.CountByDateRange(ctx, doctorID, start, end)
}

// DoctorSchedule groups the doctor's appointments in [start, end] by date.
// Days without appointments are omitted.
func (s *Service) DoctorSchedule(ctx context.Context, doctorID, start, end string) ([]DaySchedule, error) {
	if err := validRange(start, end); err != nil {
		return nil, err
	}
	items, err := s.repo.ListByDateRange(ctx, doctorID, start, end)
	if err != nil {
		return nil, err
	}
	sort.SliceStable(items, func(i, j int) bool {
		if items[i].Date != items[j].Date {
			return items[i].Date < items[j].Date
		}
		return items[i].Time < items[j].Time
	})

	days := []DaySchedule{}
	for _, a := range items {
		if n := len(days); n == 0 || days[n-1].Date != a.Date {
			days = append(days, DaySchedule{Date: a.Date})
		}
		last := &days[len(days)-1]
		last.Appointments = append(last.Appointments, a)
	}
	return days, nil
}

// -- Notifications --

func templateData(a *Appointment) map[string]string {
	return map[string]string{
		"doctor_name":  fallback(a.DoctorName, "your doctor"),
		"patient_name": fallback(a.PatientName, "your patient"),
		"date":         a.Date,
		"time":         a.DisplayTime(),
	}
}

func fallback(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

// notify is best effort: the appointment is already committed.
func (s *Service) notify(ctx context.Context, templateID string, data map[string]string, n notification.Notice) {
	if s.notifier == nil {
		return
	}
	if err := s.notifier.NotifyFromTemplate(ctx, templateID, data, n); err != nil {
		s.logger.Warn().Err(err).
			Str("appointment_id", n.RelatedID).
			Str("user_id", n.UserID).
			Msg("appointment notification failed")
	}
}
