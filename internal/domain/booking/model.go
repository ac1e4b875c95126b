package booking

import (
	"encoding/json"
	"errors"
	"time"
)

var (
	ErrNotFound      = errors.New("appointment not found")
	ErrSlotTaken     = errors.New("slot is already booked")
	ErrInvalidStatus = errors.New("invalid appointment status")
	ErrInvalidRange  = errors.New("invalid date range")
)

// Status is the lifecycle state of an appointment.
type Status string

const (
	StatusScheduled Status = "scheduled"
	StatusConfirmed Status = "confirmed"
	StatusCompleted Status = "completed"
	StatusCancelled Status = "cancelled"
	StatusPending   Status = "pending"
)

var validStatuses = map[Status]bool{
	StatusScheduled: true,
	StatusConfirmed: true,
	StatusCompleted: true,
	StatusCancelled: true,
	StatusPending:   true,
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool { return validStatuses[s] }

// Active reports whether an appointment in this status occupies its slot.
func (s Status) Active() bool { return s != StatusCancelled }

// DefaultDuration is the slot length used when an appointment carries none.
const DefaultDuration = 30

// PaymentStatus is written by the checkout collaborator.
type PaymentStatus string

const (
	PaymentPending PaymentStatus = "pending"
	PaymentPaid    PaymentStatus = "paid"
	PaymentFailed  PaymentStatus = "failed"
)

// Payment is the payment sub-record of an appointment.
type Payment struct {
	Status        PaymentStatus `json:"status" bson:"status"`
	Method        string        `json:"method,omitempty" bson:"method,omitempty"`
	TransactionID string        `json:"transaction_id,omitempty" bson:"transactionId,omitempty"`
	PaidAt        *time.Time    `json:"paid_at,omitempty" bson:"paidAt,omitempty"`
}

// Appointment is a booked (doctor, date, time) slot for a patient.
// Date is YYYY-MM-DD and Time is canonical 24-hour HH:MM, both in the service's
// configured time zone; StartsAt is the same moment as a UTC instant.
type Appointment struct {
	ID                  string    `json:"id" bson:"_id"`
	DoctorID            string    `json:"doctor_id" bson:"doctorId"`
	PatientID           string    `json:"patient_id" bson:"patientId"`
	DoctorName          string    `json:"doctor_name,omitempty" bson:"doctorName,omitempty"`
	DoctorEmail         string    `json:"doctor_email,omitempty" bson:"doctorEmail,omitempty"`
	PatientName         string    `json:"patient_name,omitempty" bson:"patientName,omitempty"`
	PatientEmail        string    `json:"patient_email,omitempty" bson:"patientEmail,omitempty"`
	PatientPhone        string    `json:"patient_phone,omitempty" bson:"patientPhone,omitempty"`
	Date                string    `json:"date" bson:"date"`
	Time                string    `json:"time" bson:"time"`
	Duration            int       `json:"duration" bson:"duration"`
	StartsAt            time.Time `json:"starts_at" bson:"startsAt"`
	Status              Status    `json:"status" bson:"status"`
	Reason              string    `json:"reason,omitempty" bson:"reason,omitempty"`
	Notes               string    `json:"notes,omitempty" bson:"notes,omitempty"`
	CancellationReason  string    `json:"cancellation_reason,omitempty" bson:"cancellationReason,omitempty"`
	Payment             Payment   `json:"payment" bson:"payment"`
	PatientReminderSent bool      `json:"patient_reminder_sent" bson:"patientReminderSent"`
	DoctorReminderSent  bool      `json:"doctor_reminder_sent" bson:"doctorReminderSent"`
	CreatedAt           time.Time `json:"created_at" bson:"createdAt"`
	UpdatedAt           time.Time `json:"updated_at" bson:"updatedAt"`
}

// DisplayTime returns the 12-hour rendering of the appointment time.
func (a *Appointment) DisplayTime() string { return To12Hour(a.Time) }

// EndTime returns the HH:MM at which the appointment ends.
func (a *Appointment) EndTime() string {
	d := a.Duration
	if d <= 0 {
		d = DefaultDuration
	}
	end, err := SlotEndTime(a.Time, d)
	if err != nil {
		return ""
	}
	return end
}

// MarshalJSON adds the derived end_time to the wire form.
func (a Appointment) MarshalJSON() ([]byte, error) {
	type plain Appointment
	return json.Marshal(struct {
		plain
		EndTime string `json:"end_time"`
	}{plain(a), a.EndTime()})
}

// ReminderKind identifies which of the two one-shot reminders is meant.
type ReminderKind string

const (
	ReminderPatient ReminderKind = "patient"
	ReminderDoctor  ReminderKind = "doctor"
)

// Slot is a computed (time, available) pair. It is never persisted.
type Slot struct {
	Time        string `json:"time"`
	EndTime     string `json:"end_time"`
	DisplayTime string `json:"display_time"`
	Available   bool   `json:"available"`
}

// BookingRequest is the typed input of a booking attempt.
type BookingRequest struct {
	DoctorID     string `json:"doctor_id"`
	PatientID    string `json:"patient_id"`
	DoctorName   string `json:"doctor_name,omitempty"`
	DoctorEmail  string `json:"doctor_email,omitempty"`
	PatientName  string `json:"patient_name,omitempty"`
	PatientEmail string `json:"patient_email,omitempty"`
	PatientPhone string `json:"patient_phone,omitempty"`
	Date         string `json:"date"`
	Time         string `json:"time"`
	Duration     int    `json:"duration,omitempty"`
	Status       Status `json:"status,omitempty"`
	Reason       string `json:"reason,omitempty"`
	Notes        string `json:"notes,omitempty"`
}

// ValidationResult lists every rule a booking request violates.
type ValidationResult struct {
	Valid  bool     `json:"valid"`
	Errors []string `json:"errors,omitempty"`
}

// SlotCheck is the answer to "is this slot free".
type SlotCheck struct {
	Available bool         `json:"available"`
	Conflict  *Appointment `json:"conflict,omitempty"`
}

// BookingResult is the outcome of a booking or reschedule. A taken slot and a
// rejected request are results, not errors.
type BookingResult struct {
	CanBook     bool              `json:"can_book"`
	Conflict    bool              `json:"conflict"`
	Validation  *ValidationResult `json:"validation,omitempty"`
	Suggestions []Slot            `json:"suggestions,omitempty"`
	Appointment *Appointment      `json:"appointment,omitempty"`
}

// StatusUpdate carries the optional fields merged into a status transition.
type StatusUpdate struct {
	Notes              string `json:"notes,omitempty"`
	CancellationReason string `json:"cancellation_reason,omitempty"`
}

// DaySchedule is one day of a doctor's schedule.
type DaySchedule struct {
	Date         string         `json:"date"`
	Appointments []*Appointment `json:"appointments"`
}
