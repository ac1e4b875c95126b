package booking

import (
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/clinic/booking/internal/platform/auth"
	"github.com/clinic/booking/pkg/pagination"
)

type Handler struct {
	svc    *Service
	logger zerolog.Logger
}

func NewHandler(svc *Service, logger zerolog.Logger) *Handler {
	return &Handler{svc: svc, logger: logger}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	// Read endpoints: any authenticated role
	readGroup := api.Group("", auth.RequireRole(auth.RolePatient, auth.RoleDoctor, auth.RoleAdmin))
	readGroup.GET("/doctors/:doctor_id/slots", h.ListSlots)
	readGroup.GET("/doctors/:doctor_id/availability", h.CheckAvailability)
	readGroup.GET("/doctors/:doctor_id/schedule", h.DoctorSchedule)
	readGroup.GET("/doctors/:doctor_id/appointments/count", h.CountAppointments)
	readGroup.GET("/doctors/:doctor_id/appointments", h.ListByDoctor)
	readGroup.GET("/patients/:patient_id/appointments", h.ListByPatient)
	readGroup.GET("/appointments/:id", h.GetAppointment)

	// Write endpoints
	bookGroup := api.Group("", auth.RequireRole(auth.RolePatient, auth.RoleDoctor, auth.RoleAdmin))
	bookGroup.POST("/appointments", h.Book)
	// Patients may only cancel; enforced in UpdateStatus.
	bookGroup.PATCH("/appointments/:id/status", h.UpdateStatus)

	staffGroup := api.Group("", auth.RequireRole(auth.RoleDoctor, auth.RoleAdmin))
	staffGroup.GET("/appointments/today", h.ListToday)
	staffGroup.PATCH("/appointments/:id/reschedule", h.Reschedule)

	adminGroup := api.Group("", auth.RequireRole(auth.RoleAdmin))
	adminGroup.PATCH("/appointments/:id/payment", h.UpdatePayment)
}

// internalError logs err and hides it behind a generic 500.
func (h *Handler) internalError(c echo.Context, err error) error {
	h.logger.Error().Err(err).
		Str("method", c.Request().Method).
		Str("path", c.Path()).
		Msg("booking request failed")
	return echo.NewHTTPError(http.StatusInternalServerError, "internal error")
}

func requireDate(c echo.Context, name string) (string, error) {
	v := c.QueryParam(name)
	if !IsValidDate(v) {
		return "", echo.NewHTTPError(http.StatusBadRequest, "query parameter "+name+" must be a YYYY-MM-DD date")
	}
	return v, nil
}

// -- Slots --

func (h *Handler) ListSlots(c echo.Context) error {
	date, err := requireDate(c, "date")
	if err != nil {
		return err
	}
	slots, err := h.svc.AvailableSlots(c.Request().Context(), c.Param("doctor_id"), date)
	if err != nil {
		return h.internalError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"doctor_id": c.Param("doctor_id"),
		"date":      date,
		"slots":     slots,
	})
}

type availabilityResponse struct {
	Available   bool         `json:"available"`
	Conflict    *Appointment `json:"conflict,omitempty"`
	Suggestions []Slot       `json:"suggestions,omitempty"`
}

func (h *Handler) CheckAvailability(c echo.Context) error {
	date, err := requireDate(c, "date")
	if err != nil {
		return err
	}
	t, err := NormalizeTime(c.QueryParam("time"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "query parameter time must be HH:MM")
	}
	ctx := c.Request().Context()
	doctorID := c.Param("doctor_id")

	check, err := h.svc.CheckSlotAvailability(ctx, doctorID, date, t)
	if err != nil {
		return h.internalError(c, err)
	}
	resp := availabilityResponse{Available: check.Available, Conflict: check.Conflict}
	// Patients only learn that the slot is taken, not by whom.
	if held := check.Conflict; held != nil && !auth.HasRole(ctx, auth.RoleDoctor) && held.PatientID != auth.UserIDFromContext(ctx) {
		resp.Conflict = nil
	}
	if !check.Available {
		resp.Suggestions, err = h.svc.NextAvailableSlots(ctx, doctorID, date, t, DefaultSuggestions)
		if err != nil {
			return h.internalError(c, err)
		}
	}
	return c.JSON(http.StatusOK, resp)
}

// -- Reads --

func (h *Handler) DoctorSchedule(c echo.Context) error {
	start, err := requireDate(c, "start")
	if err != nil {
		return err
	}
	end, err := requireDate(c, "end")
	if err != nil {
		return err
	}
	days, err := h.svc.DoctorSchedule(c.Request().Context(), c.Param("doctor_id"), start, end)
	if errors.Is(err, ErrInvalidRange) {
		return echo.NewHTTPError(http.StatusBadRequest, "end must not be before start")
	}
	if err != nil {
		return h.internalError(c, err)
	}
	return c.JSON(http.StatusOK, days)
}

func (h *Handler) CountAppointments(c echo.Context) error {
	start, err := requireDate(c, "start")
	if err != nil {
		return err
	}
	end, err := requireDate(c, "end")
	if err != nil {
		return err
	}
	n, err := h.svc.CountAppointmentsByDateRange(c.Request().Context(), c.Param("doctor_id"), start, end)
	if errors.Is(err, ErrInvalidRange) {
		return echo.NewHTTPError(http.StatusBadRequest, "end must not be before start")
	}
	if err != nil {
		return h.internalError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"count": n, "start": start, "end": end})
}

func (h *Handler) ListByDoctor(c echo.Context) error {
	pg := pagination.FromContext(c)
	items, total, err := h.svc.AppointmentsByDoctor(c.Request().Context(), c.Param("doctor_id"), pg.Limit, pg.Offset)
	if err != nil {
		return h.internalError(c, err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(nonNil(items), total, pg.Limit, pg.Offset).WithLinks(c.Request().URL.Path))
}

func (h *Handler) ListByPatient(c echo.Context) error {
	patientID := c.Param("patient_id")
	ctx := c.Request().Context()
	if !auth.HasRole(ctx, auth.RoleDoctor) && auth.UserIDFromContext(ctx) != patientID {
		return echo.NewHTTPError(http.StatusForbidden, "patients may only list their own appointments")
	}
	pg := pagination.FromContext(c)
	items, total, err := h.svc.AppointmentsByPatient(ctx, patientID, pg.Limit, pg.Offset)
	if err != nil {
		return h.internalError(c, err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(nonNil(items), total, pg.Limit, pg.Offset).WithLinks(c.Request().URL.Path))
}

func (h *Handler) ListToday(c echo.Context) error {
	items, err := h.svc.TodayAppointments(c.Request().Context())
	if err != nil {
		return h.internalError(c, err)
	}
	return c.JSON(http.StatusOK, nonNil(items))
}

func (h *Handler) GetAppointment(c echo.Context) error {
	ctx := c.Request().Context()
	a, err := h.svc.GetAppointment(ctx, c.Param("id"))
	if errors.Is(err, ErrNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, "appointment not found")
	}
	if err != nil {
		return h.internalError(c, err)
	}
	if !auth.HasRole(ctx, auth.RoleDoctor) && a.PatientID != auth.UserIDFromContext(ctx) {
		return echo.NewHTTPError(http.StatusForbidden, "not your appointment")
	}
	return c.JSON(http.StatusOK, a)
}

func nonNil(items []*Appointment) []*Appointment {
	if items == nil {
		return []*Appointment{}
	}
	return items
}

// -- Writes --

// bookingStatus maps a booking outcome to its HTTP status.
func bookingStatus(res BookingResult, okCode int) int {
	switch {
	case res.Validation != nil:
		return http.StatusUnprocessableEntity
	case res.Conflict:
		return http.StatusConflict
	default:
		return okCode
	}
}

func (h *Handler) Book(c echo.Context) error {
	var req BookingRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	ctx := c.Request().Context()
	if !auth.HasRole(ctx, auth.RoleDoctor) {
		uid := auth.UserIDFromContext(ctx)
		if req.PatientID == "" {
			req.PatientID = uid
		}
		if req.PatientID != uid {
			return echo.NewHTTPError(http.StatusForbidden, "patients may only book for themselves")
		}
	}

	res, err := h.svc.Book(ctx, req)
	if err != nil {
		return h.internalError(c, err)
	}
	return c.JSON(bookingStatus(res, http.StatusCreated), res)
}

type statusRequest struct {
	Status             Status `json:"status" validate:"required,oneof=scheduled confirmed completed cancelled pending"`
	Notes              string `json:"notes"`
	CancellationReason string `json:"cancellation_reason"`
}

func (h *Handler) UpdateStatus(c echo.Context) error {
	var req statusRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := c.Validate(&req); err != nil {
		return err
	}
	ctx := c.Request().Context()
	id := c.Param("id")

	if !auth.HasRole(ctx, auth.RoleDoctor) {
		if req.Status != StatusCancelled {
			return echo.NewHTTPError(http.StatusForbidden, "patients may only cancel appointments")
		}
		a, err := h.svc.GetAppointment(ctx, id)
		if errors.Is(err, ErrNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "appointment not found")
		}
		if err != nil {
			return h.internalError(c, err)
		}
		if a.PatientID != auth.UserIDFromContext(ctx) {
			return echo.NewHTTPError(http.StatusForbidden, "not your appointment")
		}
	}

	a, err := h.svc.UpdateAppointmentStatus(ctx, id, req.Status, StatusUpdate{
		Notes:              req.Notes,
		CancellationReason: req.CancellationReason,
	})
	switch {
	case errors.Is(err, ErrInvalidStatus):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case errors.Is(err, ErrSlotTaken):
		return echo.NewHTTPError(http.StatusConflict, "slot is already booked by another appointment")
	case err != nil:
		return h.internalError(c, err)
	case a == nil:
		return echo.NewHTTPError(http.StatusNotFound, "appointment not found")
	}
	return c.JSON(http.StatusOK, a)
}

type rescheduleRequest struct {
	Date string `json:"date" validate:"required"`
	Time string `json:"time" validate:"required"`
}

func (h *Handler) Reschedule(c echo.Context) error {
	var req rescheduleRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := c.Validate(&req); err != nil {
		return err
	}
	res, err := h.svc.RescheduleAppointment(c.Request().Context(), c.Param("id"), req.Date, req.Time)
	switch {
	case errors.Is(err, ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, "appointment not found")
	case errors.Is(err, ErrInvalidStatus):
		return echo.NewHTTPError(http.StatusConflict, "only open appointments can be rescheduled")
	case err != nil:
		return h.internalError(c, err)
	}
	return c.JSON(bookingStatus(res, http.StatusOK), res)
}

type paymentRequest struct {
	Status        PaymentStatus `json:"status" validate:"required,oneof=pending paid failed"`
	Method        string        `json:"method"`
	TransactionID string        `json:"transaction_id"`
	PaidAt        *time.Time    `json:"paid_at"`
}

func (h *Handler) UpdatePayment(c echo.Context) error {
	var req paymentRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := c.Validate(&req); err != nil {
		return err
	}
	a, err := h.svc.UpdatePayment(c.Request().Context(), c.Param("id"), Payment{
		Status:        req.Status,
		Method:        req.Method,
		TransactionID: req.TransactionID,
		PaidAt:        req.PaidAt,
	})
	if errors.Is(err, ErrNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, "appointment not found")
	}
	if err != nil {
		return h.internalError(c, err)
	}
	return c.JSON(http.StatusOK, a)
}
