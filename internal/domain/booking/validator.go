package booking

import (
	"strings"
	"time"
)

// Validator checks booking requests before they reach storage. It consults no
// store, only the clock.
type Validator struct {
	Clock         Clock
	Location      *time.Location
	WorkStartHour int
	WorkEndHour   int
}

// NewValidator returns a Validator with the default 09:00-17:00 window.
func NewValidator(clock Clock, loc *time.Location) *Validator {
	if clock == nil {
		clock = SystemClock()
	}
	if loc == nil {
		loc = time.UTC
	}
	return &Validator{
		Clock:         clock,
		Location:      loc,
		WorkStartHour: DefaultSlotConfig.StartHour,
		WorkEndHour:   DefaultSlotConfig.EndHour,
	}
}

// Validate runs every rule and reports all violations at once.
func (v *Validator) Validate(req BookingRequest) ValidationResult {
	var errs []string

	if strings.TrimSpace(req.DoctorID) == "" {
		errs = append(errs, "Doctor ID is required")
	}
	if strings.TrimSpace(req.PatientID) == "" {
		errs = append(errs, "Patient ID is required")
	}

	dateOK := false
	switch {
	case req.Date == "":
		errs = append(errs, "Date is required")
	case !datePattern.MatchString(req.Date):
		errs = append(errs, "Date must be in YYYY-MM-DD format")
	case !IsValidDate(req.Date):
		errs = append(errs, "Date is not a valid calendar date")
	default:
		dateOK = true
	}

	timeOK := req.Time != "" && IsValidTime(req.Time)

	if dateOK && v.inPast(req.Date, req.Time, timeOK) {
		errs = append(errs, "Appointment date and time cannot be in the past")
	}

	switch {
	case req.Time == "":
		errs = append(errs, "Time is required")
	case !timeOK:
		errs = append(errs, "Time must be in HH:MM format")
	case !WithinWorkingHours(req.Time, v.WorkStartHour, v.WorkEndHour):
		errs = append(errs, "Time must be within working hours ("+
			FormatClock(v.WorkStartHour*60)+" - "+FormatClock(v.WorkEndHour*60)+")")
	}

	return ValidationResult{Valid: len(errs) == 0, Errors: errs}
}

// inPast compares against the full instant when the time is usable, otherwise
// against the start of today.
func (v *Validator) inPast(date, t string, timeOK bool) bool {
	now := v.Clock.Now().In(v.Location)
	if timeOK {
		at, err := CombineDateTime(date, t, v.Location)
		if err != nil {
			return false
		}
		return at.Before(now)
	}
	return date < now.Format(dateLayout)
}
