// Package notification delivers appointment notices: an in-app record that the
// recipient can list, plus best-effort email and SMS copies.
package notification

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

var (
	ErrNotFound         = errors.New("notification not found")
	ErrUnknownRecipient = errors.New("notice has no recipient")
)

// Type classifies an in-app notification.
type Type string

const (
	TypeReminder Type = "appointment_reminder"
	TypeBooking  Type = "appointment_booked"
	TypeStatus   Type = "appointment_status"
)

// Notification is the persisted in-app record.
type Notification struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Role      string    `json:"role,omitempty"`
	Type      Type      `json:"type"`
	Title     string    `json:"title"`
	Message   string    `json:"message"`
	RelatedID string    `json:"related_id,omitempty"`
	Read      bool      `json:"read"`
	CreatedAt time.Time `json:"created_at"`
}

// Notice is a request to notify one user. Email and Phone are optional
// delivery addresses for the out-of-band copies.
type Notice struct {
	UserID    string
	Role      string
	Type      Type
	Title     string
	Message   string
	RelatedID string
	Email     string
	Phone     string
}

// Store persists in-app notifications.
type Store interface {
	Create(ctx context.Context, n *Notification) error
	Get(ctx context.Context, id string) (*Notification, error)
	ListByUser(ctx context.Context, userID string, limit int) ([]*Notification, error)
	MarkRead(ctx context.Context, id string) error
}

// EmailSender sends one email message.
type EmailSender interface {
	SendEmail(ctx context.Context, to, subject, body string) error
}

// SMSSender sends one text message.
type SMSSender interface {
	SendSMS(ctx context.Context, to, body string) error
}

// ---------------------------------------------------------------------------
// Template Engine
// ---------------------------------------------------------------------------

// Template is a subject/body pair with {{key}} placeholders.
type Template struct {
	ID      string
	Subject string
	Body    string
}

const (
	TemplatePatientReminder   = "patient-reminder"
	TemplateDoctorReminder    = "doctor-reminder"
	TemplateAppointmentBooked = "appointment-booked"
	TemplateAppointmentStatus = "appointment-status"
)

// TemplateEngine renders registered templates.
type TemplateEngine struct {
	mu        sync.RWMutex
	templates map[string]*Template
}

// NewTemplateEngine creates a TemplateEngine with the appointment templates
// pre-registered.
func NewTemplateEngine() *TemplateEngine {
	e := &TemplateEngine{templates: make(map[string]*Template)}
	for _, t := range []Template{
		{
			ID:      TemplatePatientReminder,
			Subject: "Appointment Reminder",
			Body:    "Reminder: you have an appointment with {{doctor_name}} on {{date}} at {{time}}.",
		},
		{
			ID:      TemplateDoctorReminder,
			Subject: "Upcoming Appointment",
			Body:    "Reminder: appointment with {{patient_name}} on {{date}} at {{time}}.",
		},
		{
			ID:      TemplateAppointmentBooked,
			Subject: "Appointment Booked",
			Body:    "An appointment between {{doctor_name}} and {{patient_name}} is booked for {{date}} at {{time}}.",
		},
		{
			ID:      TemplateAppointmentStatus,
			Subject: "Appointment {{status}}",
			Body:    "Your appointment on {{date}} at {{time}} is now {{status}}.",
		},
	} {
		e.RegisterTemplate(t)
	}
	return e
}

// RegisterTemplate adds or replaces a template.
func (e *TemplateEngine) RegisterTemplate(t Template) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.templates[t.ID] = &t
}

// Render performs {{key}} replacement. Placeholders absent from data are left
// as-is.
func (e *TemplateEngine) Render(templateID string, data map[string]string) (subject, body string, err error) {
	e.mu.RLock()
	t, ok := e.templates[templateID]
	e.mu.RUnlock()
	if !ok {
		return "", "", fmt.Errorf("template %q not found", templateID)
	}

	subject, body = t.Subject, t.Body
	for k, v := range data {
		placeholder := "{{" + k + "}}"
		subject = strings.ReplaceAll(subject, placeholder, v)
		body = strings.ReplaceAll(body, placeholder, v)
	}
	return subject, body, nil
}

// ---------------------------------------------------------------------------
// Dispatcher
// ---------------------------------------------------------------------------

// Dispatcher records in-app notifications and fans them out to email and SMS.
// The in-app write is the delivery of record; email and SMS failures are only
// logged.
type Dispatcher struct {
	store     Store
	email     EmailSender
	sms       SMSSender
	templates *TemplateEngine
	logger    zerolog.Logger
	now       func() time.Time
}

// NewDispatcher wires a Dispatcher. email and sms may be nil to disable that
// channel.
func NewDispatcher(store Store, email EmailSender, sms SMSSender, tpl *TemplateEngine, logger zerolog.Logger) *Dispatcher {
	if tpl == nil {
		tpl = NewTemplateEngine()
	}
	return &Dispatcher{
		store:     store,
		email:     email,
		sms:       sms,
		templates: tpl,
		logger:    logger.With().Str("component", "notification").Logger(),
		now:       time.Now,
	}
}

// Notify stores n for its recipient and then attempts the out-of-band copies.
func (d *Dispatcher) Notify(ctx context.Context, n Notice) error {
	if n.UserID == "" {
		return ErrUnknownRecipient
	}
	rec := &Notification{
		ID:        uuid.New().String(),
		UserID:    n.UserID,
		Role:      n.Role,
		Type:      n.Type,
		Title:     n.Title,
		Message:   n.Message,
		RelatedID: n.RelatedID,
		CreatedAt: d.now().UTC(),
	}
	if err := d.store.Create(ctx, rec); err != nil {
		return fmt.Errorf("store notification: %w", err)
	}

	if d.email != nil && n.Email != "" {
		if err := d.email.SendEmail(ctx, n.Email, n.Title, n.Message); err != nil {
			d.logger.Warn().Err(err).Str("user_id", n.UserID).Msg("email delivery failed")
		}
	}
	if d.sms != nil && n.Phone != "" {
		if err := d.sms.SendSMS(ctx, n.Phone, n.Message); err != nil {
			d.logger.Warn().Err(err).Str("user_id", n.UserID).Msg("sms delivery failed")
		}
	}
	return nil
}

// NotifyFromTemplate renders templateID into the notice's title and message
// and then calls Notify.
func (d *Dispatcher) NotifyFromTemplate(ctx context.Context, templateID string, data map[string]string, n Notice) error {
	subject, body, err := d.templates.Render(templateID, data)
	if err != nil {
		return fmt.Errorf("render template: %w", err)
	}
	n.Title, n.Message = subject, body
	return d.Notify(ctx, n)
}

// ---------------------------------------------------------------------------
// In-memory store
// ---------------------------------------------------------------------------

// MemoryStore keeps notifications in process memory. It is used in development
// and when no database is configured for notifications.
type MemoryStore struct {
	mu    sync.RWMutex
	items map[string]*Notification
	order []string
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{items: make(map[string]*Notification)}
}

func (s *MemoryStore) Create(_ context.Context, n *Notification) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *n
	s.items[n.ID] = &cp
	s.order = append(s.order, n.ID)
	return nil
}

func (s *MemoryStore) Get(_ context.Context, id string) (*Notification, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n, ok := s.items[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *n
	return &cp, nil
}

// ListByUser returns the newest notifications first.
func (s *MemoryStore) ListByUser(_ context.Context, userID string, limit int) ([]*Notification, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*Notification
	for i := len(s.order) - 1; i >= 0; i-- {
		n := s.items[s.order[i]]
		if n.UserID != userID {
			continue
		}
		cp := *n
		out = append(out, &cp)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (s *MemoryStore) MarkRead(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := s.items[id]
	if !ok {
		return ErrNotFound
	}
	n.Read = true
	return nil
}
