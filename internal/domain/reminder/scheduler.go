// Package reminder sends the one-shot patient and doctor reminders ahead of
// upcoming appointments.
package reminder

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/clinic/booking/internal/domain/booking"
	"github.com/clinic/booking/internal/platform/lease"
	"github.com/clinic/booking/internal/platform/notification"
)

const (
	DefaultInterval    = 5 * time.Minute
	DefaultPatientLead = 60 * time.Minute
	DefaultDoctorLead  = 15 * time.Minute

	leaseKey = "reminder-tick"
)

// Store is the part of the appointment repository the scheduler needs.
type Store interface {
	ListByDate(ctx context.Context, date string, statuses ...booking.Status) ([]*booking.Appointment, error)
	MarkReminderSent(ctx context.Context, id string, kind booking.ReminderKind) (bool, error)
}

type Options struct {
	Interval    time.Duration
	PatientLead time.Duration
	DoctorLead  time.Duration
	Location    *time.Location
	Clock       booking.Clock
	// Locker serializes ticks across processes. Nil means an in-process lease.
	Locker lease.Locker
	// LeaseTTL bounds how long one tick may hold the lease. Defaults to twice
	// Interval; a tick stops dispatching once it runs past the TTL.
	LeaseTTL time.Duration
	Logger   zerolog.Logger
}

// Report summarizes one tick.
type Report struct {
	Scanned     int  `json:"scanned"`
	PatientSent int  `json:"patient_sent"`
	DoctorSent  int  `json:"doctor_sent"`
	Failed      int  `json:"failed"`
	Skipped     bool `json:"skipped"`
	// LeaseExpired means the tick stopped early; the rest is left for the next one.
	LeaseExpired bool `json:"lease_expired,omitempty"`
}

type Scheduler struct {
	store    Store
	notifier booking.Notifier
	opts     Options
	logger   zerolog.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

func New(store Store, notifier booking.Notifier, opts Options) *Scheduler {
	if opts.Interval <= 0 {
		opts.Interval = DefaultInterval
	}
	if opts.PatientLead <= 0 {
		opts.PatientLead = DefaultPatientLead
	}
	if opts.DoctorLead <= 0 {
		opts.DoctorLead = DefaultDoctorLead
	}
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	if opts.Clock == nil {
		opts.Clock = booking.SystemClock()
	}
	if opts.Locker == nil {
		opts.Locker = lease.NewLocal()
	}
	if opts.LeaseTTL < opts.Interval {
		opts.LeaseTTL = 2 * opts.Interval
	}
	return &Scheduler{
		store:    store,
		notifier: notifier,
		opts:     opts,
		logger:   opts.Logger.With().Str("component", "reminder").Logger(),
	}
}

// Start launches the periodic loop. The first tick runs immediately. Calling
// Start on a running scheduler does nothing.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	s.cancel, s.done = cancel, done
	go s.run(ctx, done)
}

// Stop cancels the loop and waits for an in-flight tick to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel, s.done = nil, nil
	s.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}

func (s *Scheduler) run(ctx context.Context, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(s.opts.Interval)
	defer ticker.Stop()

	for {
		if _, err := s.Tick(ctx); err != nil && ctx.Err() == nil {
			s.logger.Error().Err(err).Msg("reminder tick failed")
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// Tick runs one scan. It returns an error only when the appointments cannot
// be loaded; per-appointment delivery failures are counted in the report.
func (s *Scheduler) Tick(ctx context.Context) (Report, error) {
	release, err := s.opts.Locker.TryAcquire(ctx, leaseKey, s.opts.LeaseTTL)
	if errors.Is(err, lease.ErrHeld) {
		s.logger.Debug().Msg("reminder tick skipped, lease held elsewhere")
		return Report{Skipped: true}, nil
	}
	if err != nil {
		return Report{}, err
	}
	defer func() {
		if err := release(context.Background()); err != nil {
			s.logger.Warn().Err(err).Msg("release reminder lease")
		}
	}()

	loc := s.opts.Location
	now := s.opts.Clock.Now().In(loc)
	patientBy := now.Add(s.opts.PatientLead)
	doctorBy := now.Add(s.opts.DoctorLead)
	leaseUntil := now.Add(s.opts.LeaseTTL)

	var rep Report
scan:
	for _, date := range datesBetween(now, patientBy) {
		items, err := s.store.ListByDate(ctx, date, booking.StatusScheduled, booking.StatusConfirmed)
		if err != nil {
			return rep, fmt.Errorf("load appointments for %s: %w", date, err)
		}
		for _, a := range items {
			rep.Scanned++
			start, err := booking.CombineDateTime(a.Date, a.Time, loc)
			if err != nil {
				s.logger.Warn().Err(err).Str("appointment_id", a.ID).Msg("unparseable appointment time")
				continue
			}
			if start.Before(now) {
				continue
			}
			if !a.PatientReminderSent && !start.After(patientBy) {
				if !s.opts.Clock.Now().Before(leaseUntil) {
					rep.LeaseExpired = true
					break scan
				}
				if s.send(ctx, a, booking.ReminderPatient) {
					rep.PatientSent++
				} else {
					rep.Failed++
				}
			}
			if !a.DoctorReminderSent && !start.After(doctorBy) {
				if !s.opts.Clock.Now().Before(leaseUntil) {
					rep.LeaseExpired = true
					break scan
				}
				if s.send(ctx, a, booking.ReminderDoctor) {
					rep.DoctorSent++
				} else {
					rep.Failed++
				}
			}
		}
	}

	s.logger.Info().
		Int("scanned", rep.Scanned).
		Int("patient_sent", rep.PatientSent).
		Int("doctor_sent", rep.DoctorSent).
		Int("failed", rep.Failed).
		Bool("lease_expired", rep.LeaseExpired).
		Msg("reminder tick")
	return rep, nil
}

// send dispatches one reminder and then sets its flag. The flag stays unset
// when delivery fails.
func (s *Scheduler) send(ctx context.Context, a *booking.Appointment, kind booking.ReminderKind) bool {
	templateID, n := noticeFor(a, kind)
	data := map[string]string{
		"doctor_name":  orDefault(a.DoctorName, "your doctor"),
		"patient_name": orDefault(a.PatientName, "your patient"),
		"date":         a.Date,
		"time":         a.DisplayTime(),
	}
	log := s.logger.With().Str("appointment_id", a.ID).Str("kind", string(kind)).Logger()

	if err := s.notifier.NotifyFromTemplate(ctx, templateID, data, n); err != nil {
		log.Error().Err(err).Msg("reminder dispatch failed")
		return false
	}
	marked, err := s.store.MarkReminderSent(ctx, a.ID, kind)
	if err != nil {
		log.Error().Err(err).Msg("mark reminder sent")
		return false
	}
	if !marked {
		log.Warn().Msg("reminder flag was already set")
	}
	return true
}

func noticeFor(a *booking.Appointment, kind booking.ReminderKind) (string, notification.Notice) {
	if kind == booking.ReminderDoctor {
		return notification.TemplateDoctorReminder, notification.Notice{
			UserID: a.DoctorID, Role: "doctor", Type: notification.TypeReminder,
			RelatedID: a.ID, Email: a.DoctorEmail,
		}
	}
	return notification.TemplatePatientReminder, notification.Notice{
		UserID: a.PatientID, Role: "patient", Type: notification.TypeReminder,
		RelatedID: a.ID, Email: a.PatientEmail, Phone: a.PatientPhone,
	}
}

// datesBetween lists the calendar dates of from..to as seen in from's zone.
func datesBetween(from, to time.Time) []string {
	to = to.In(from.Location())
	var out []string
	day := time.Date(from.Year(), from.Month(), from.Day(), 0, 0, 0, 0, from.Location())
	for !day.After(to) {
		out = append(out, day.Format("2006-01-02"))
		day = day.AddDate(0, 0, 1)
	}
	return out
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
