package scheduling

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/teleclinic/teleclinic/internal/platform/auth"
	"github.com/teleclinic/teleclinic/internal/platform/timeslot"
	"github.com/teleclinic/teleclinic/pkg/pagination"
)

type Handler struct {
	engine    *Engine
	schedules *ScheduleService
	bookings  *BookingService
}

func NewHandler(engine *Engine, schedules *ScheduleService, bookings *BookingService) *Handler {
	return &Handler{engine: engine, schedules: schedules, bookings: bookings}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	// Read endpoints – any authenticated caller
	read := api.Group("", auth.RequireRole(auth.RolePatient, auth.RoleDoctor))
	read.GET("/doctors/:id/slots", h.GetSlots)
	read.GET("/doctors/:id/slots/check", h.CheckSlot)
	read.GET("/doctors/:id/schedule", h.ListSchedule)
	read.GET("/doctors/:id/unavailability", h.ListUnavailability)

	// Calendar management – the doctor themselves or an admin
	manage := api.Group("", auth.RequireRole(auth.RoleDoctor))
	manage.PUT("/doctors/:id/schedule/:day", h.PutScheduleEntry)
	manage.DELETE("/doctors/:id/schedule/:day", h.DeleteScheduleEntry)
	manage.POST("/doctors/:id/unavailability", h.AddUnavailability)
	manage.DELETE("/doctors/:id/unavailability/:windowId", h.DeleteUnavailability)

	// Appointments
	appts := api.Group("", auth.RequireRole(auth.RolePatient, auth.RoleDoctor))
	appts.POST("/appointments", h.Book)
	appts.GET("/appointments", h.ListAppointments)
	appts.GET("/appointments/:id", h.GetAppointment)
	appts.POST("/appointments/:id/cancel", h.CancelAppointment)
	api.PATCH("/appointments/:id/status", h.UpdateAppointmentStatus, auth.RequireRole(auth.RoleDoctor))
}

// httpError maps domain errors onto HTTP responses.
func httpError(err error) error {
	var cfgErr *ConfigError
	var storeErr *StoreError
	switch {
	case errors.Is(err, ErrDoctorNotFound), errors.Is(err, ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.Is(err, ErrSlotUnavailable), errors.Is(err, ErrSlotTaken), errors.Is(err, ErrInvalidTransition):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	case errors.Is(err, ErrInvalidRequest), errors.Is(err, ErrInvalidRange), errors.Is(err, ErrInvalidStatus):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case errors.As(err, &cfgErr):
		return echo.NewHTTPError(http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return err
	case errors.As(err, &storeErr):
		return echo.NewHTTPError(http.StatusServiceUnavailable, "scheduling store unavailable").SetInternal(err)
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, "internal server error").SetInternal(err)
	}
}

func pathID(c echo.Context, name string) (int64, error) {
	id, err := strconv.ParseInt(c.Param(name), 10, 64)
	if err != nil || id <= 0 {
		return 0, echo.NewHTTPError(http.StatusBadRequest, "invalid "+name)
	}
	return id, nil
}

func bindAndValidate(c echo.Context, req interface{}) error {
	if err := c.Bind(req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "malformed request body")
	}
	if err := c.Validate(req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return nil
}

// parseWeekday accepts 0-6 (Sunday first) or an English day name.
func parseWeekday(s string) (time.Weekday, bool) {
	if n, err := strconv.Atoi(s); err == nil {
		return time.Weekday(n), n >= 0 && n <= 6
	}
	for d := time.Sunday; d <= time.Saturday; d++ {
		if strings.EqualFold(s, d.String()) {
			return d, true
		}
	}
	return 0, false
}

// parseInstant accepts RFC 3339 or a bare YYYY-MM-DD (midnight in loc).
func parseInstant(s string, loc *time.Location) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	return timeslot.ParseDate(s, loc)
}

func (h *Handler) requireDoctorAccess(c echo.Context, doctorID int64) error {
	if !auth.CanActForDoctor(c.Request().Context(), doctorID) {
		return echo.NewHTTPError(http.StatusForbidden, "not allowed to manage this doctor's calendar")
	}
	return nil
}

// -- Slots --

type slotsResponse struct {
	DoctorID int64    `json:"doctor_id"`
	Date     string   `json:"date"`
	Timezone string   `json:"timezone"`
	View     string   `json:"view"`
	Slots    SlotList `json:"slots"`
}

func (h *Handler) GetSlots(c echo.Context) error {
	doctorID, err := pathID(c, "id")
	if err != nil {
		return err
	}
	loc := h.engine.Location()
	date, err := timeslot.ParseDate(c.QueryParam("date"), loc)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	view := c.QueryParam("view")
	if view == "" {
		view = "all"
	}
	if view != "all" && view != "free" {
		return echo.NewHTTPError(http.StatusBadRequest, "view must be all or free")
	}
	excludePast, _ := strconv.ParseBool(c.QueryParam("exclude_past"))

	ctx := c.Request().Context()
	if err := h.schedules.EnsureDoctor(ctx, doctorID); err != nil {
		return httpError(err)
	}
	slots, err := h.engine.Slots(ctx, Query{DoctorID: doctorID, Date: date, ExcludePast: excludePast})
	if err != nil {
		return httpError(err)
	}
	if view == "free" {
		slots = slots.Free()
	}
	return c.JSON(http.StatusOK, slotsResponse{
		DoctorID: doctorID,
		Date:     date.Format("2006-01-02"),
		Timezone: loc.String(),
		View:     view,
		Slots:    slots,
	})
}

func (h *Handler) CheckSlot(c echo.Context) error {
	doctorID, err := pathID(c, "id")
	if err != nil {
		return err
	}
	start, err := time.Parse(time.RFC3339, c.QueryParam("start"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "start must be an RFC 3339 timestamp")
	}
	end, err := time.Parse(time.RFC3339, c.QueryParam("end"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "end must be an RFC 3339 timestamp")
	}

	ctx := c.Request().Context()
	if err := h.schedules.EnsureDoctor(ctx, doctorID); err != nil {
		return httpError(err)
	}
	ok, err := h.engine.IsSlotAvailable(ctx, doctorID, start, end)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"doctor_id": doctorID,
		"start":     start,
		"end":       end,
		"available": ok,
	})
}

// -- Weekly schedule --

func (h *Handler) ListSchedule(c echo.Context) error {
	doctorID, err := pathID(c, "id")
	if err != nil {
		return err
	}
	entries, err := h.schedules.ListWeeklyEntries(c.Request().Context(), doctorID)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, entries)
}

type putScheduleEntryRequest struct {
	StartTime   string `json:"start_time" validate:"required,hhmm"`
	EndTime     string `json:"end_time" validate:"required,hhmm"`
	SlotMinutes *int   `json:"slot_minutes" validate:"omitempty,min=1,max=480"`
	IsAvailable *bool  `json:"is_available"`
}

func (h *Handler) PutScheduleEntry(c echo.Context) error {
	doctorID, err := pathID(c, "id")
	if err != nil {
		return err
	}
	if err := h.requireDoctorAccess(c, doctorID); err != nil {
		return err
	}
	day, ok := parseWeekday(c.Param("day"))
	if !ok {
		return echo.NewHTTPError(http.StatusBadRequest, "day must be 0-6 or a weekday name")
	}

	var req putScheduleEntryRequest
	if err := bindAndValidate(c, &req); err != nil {
		return err
	}

	draft := h.schedules.NewDraft(day).
		WithHours(timeslot.MustClock(req.StartTime), timeslot.MustClock(req.EndTime))
	if req.SlotMinutes != nil {
		draft = draft.WithSlotMinutes(*req.SlotMinutes)
	}
	if req.IsAvailable != nil {
		draft = draft.WithAvailability(*req.IsAvailable)
	}

	entry, err := h.schedules.PutWeeklyEntry(c.Request().Context(), doctorID, draft)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, entry)
}

func (h *Handler) DeleteScheduleEntry(c echo.Context) error {
	doctorID, err := pathID(c, "id")
	if err != nil {
		return err
	}
	if err := h.requireDoctorAccess(c, doctorID); err != nil {
		return err
	}
	day, ok := parseWeekday(c.Param("day"))
	if !ok {
		return echo.NewHTTPError(http.StatusBadRequest, "day must be 0-6 or a weekday name")
	}
	if err := h.schedules.DeleteWeeklyEntry(c.Request().Context(), doctorID, day); err != nil {
		return httpError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

// -- Unavailability --

type addUnavailabilityRequest struct {
	Start  time.Time `json:"start" validate:"required"`
	End    time.Time `json:"end" validate:"required,gtefield=Start"`
	Reason string    `json:"reason" validate:"max=500"`
}

func (h *Handler) AddUnavailability(c echo.Context) error {
	doctorID, err := pathID(c, "id")
	if err != nil {
		return err
	}
	if err := h.requireDoctorAccess(c, doctorID); err != nil {
		return err
	}
	var req addUnavailabilityRequest
	if err := bindAndValidate(c, &req); err != nil {
		return err
	}

	w := &UnavailabilityWindow{DoctorID: doctorID, Start: req.Start, End: req.End}
	if req.Reason != "" {
		w.Reason = &req.Reason
	}
	if err := h.schedules.AddUnavailability(c.Request().Context(), w); err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, w)
}

func (h *Handler) ListUnavailability(c echo.Context) error {
	doctorID, err := pathID(c, "id")
	if err != nil {
		return err
	}
	loc := h.engine.Location()

	from := timeslot.DayBounds(time.Now(), loc).Start
	if v := c.QueryParam("from"); v != "" {
		if from, err = parseInstant(v, loc); err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid from")
		}
	}
	to := from.AddDate(0, 0, 30)
	if v := c.QueryParam("to"); v != "" {
		if to, err = parseInstant(v, loc); err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid to")
		}
	}

	windows, err := h.schedules.ListUnavailability(c.Request().Context(), doctorID, from, to)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, windows)
}

func (h *Handler) DeleteUnavailability(c echo.Context) error {
	doctorID, err := pathID(c, "id")
	if err != nil {
		return err
	}
	if err := h.requireDoctorAccess(c, doctorID); err != nil {
		return err
	}
	windowID, err := pathID(c, "windowId")
	if err != nil {
		return err
	}
	if err := h.schedules.DeleteUnavailability(c.Request().Context(), doctorID, windowID); err != nil {
		return httpError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

// -- Appointments --

type bookRequest struct {
	DoctorID  int64     `json:"doctor_id" validate:"required,gt=0"`
	PatientID int64     `json:"patient_id" validate:"omitempty,gt=0"`
	Start     time.Time `json:"start" validate:"required"`
	End       time.Time `json:"end" validate:"required,gtfield=Start"`
	Reason    string    `json:"reason" validate:"max=500"`
}

func (h *Handler) Book(c echo.Context) error {
	var req bookRequest
	if err := bindAndValidate(c, &req); err != nil {
		return err
	}

	ctx := c.Request().Context()
	if req.PatientID == 0 {
		req.PatientID = auth.PatientIDFromContext(ctx)
	}
	if req.PatientID == 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "patient_id is required")
	}
	if !auth.CanActForPatient(ctx, req.PatientID) {
		return echo.NewHTTPError(http.StatusForbidden, "not allowed to book for this patient")
	}
	if err := h.schedules.EnsureDoctor(ctx, req.DoctorID); err != nil {
		return httpError(err)
	}

	appt, err := h.bookings.Book(ctx, BookingRequest{
		DoctorID:  req.DoctorID,
		PatientID: req.PatientID,
		Start:     req.Start,
		End:       req.End,
		Reason:    req.Reason,
	})
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, appt)
}

// loadVisible fetches an appointment the caller is allowed to see. Others
// get 404 so appointment IDs cannot be probed.
func (h *Handler) loadVisible(c echo.Context) (*Appointment, error) {
	id, err := pathID(c, "id")
	if err != nil {
		return nil, err
	}
	ctx := c.Request().Context()
	appt, err := h.bookings.Get(ctx, id)
	if err != nil {
		return nil, httpError(err)
	}
	if !auth.CanActForDoctor(ctx, appt.DoctorID) && !ownsAsPatient(ctx, appt.PatientID) {
		return nil, echo.NewHTTPError(http.StatusNotFound, ErrNotFound.Error())
	}
	return appt, nil
}

func ownsAsPatient(ctx context.Context, patientID int64) bool {
	return auth.HasRole(ctx, auth.RolePatient) && auth.PatientIDFromContext(ctx) == patientID
}

func (h *Handler) GetAppointment(c echo.Context) error {
	appt, err := h.loadVisible(c)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, appt)
}

func (h *Handler) ListAppointments(c echo.Context) error {
	ctx := c.Request().Context()
	loc := h.engine.Location()

	if v := c.QueryParam("doctor_id"); v != "" {
		doctorID, err := strconv.ParseInt(v, 10, 64)
		if err != nil || doctorID <= 0 {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid doctor_id")
		}
		if err := h.requireDoctorAccess(c, doctorID); err != nil {
			return err
		}
		from, err := parseInstant(c.QueryParam("from"), loc)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "from is required (RFC 3339 or YYYY-MM-DD)")
		}
		to := from.AddDate(0, 0, 1)
		if v := c.QueryParam("to"); v != "" {
			if to, err = parseInstant(v, loc); err != nil {
				return echo.NewHTTPError(http.StatusBadRequest, "invalid to")
			}
		}
		appts, err := h.bookings.ListByDoctor(ctx, doctorID, from, to)
		if err != nil {
			return httpError(err)
		}
		if appts == nil {
			appts = []*Appointment{}
		}
		return c.JSON(http.StatusOK, appts)
	}

	patientID := auth.PatientIDFromContext(ctx)
	if v := c.QueryParam("patient_id"); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil || id <= 0 {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid patient_id")
		}
		patientID = id
	}
	if patientID == 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "doctor_id or patient_id is required")
	}
	if !auth.CanActForPatient(ctx, patientID) {
		return echo.NewHTTPError(http.StatusForbidden, "not allowed to view this patient's appointments")
	}

	pg := pagination.FromContext(c)
	appts, total, err := h.bookings.ListByPatient(ctx, patientID, pg.Limit, pg.Offset)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(appts, total, pg, c.Request().URL))
}

type cancelRequest struct {
	Reason string `json:"reason" validate:"max=500"`
}

func (h *Handler) CancelAppointment(c echo.Context) error {
	appt, err := h.loadVisible(c)
	if err != nil {
		return err
	}
	var req cancelRequest
	if err := bindAndValidate(c, &req); err != nil {
		return err
	}
	updated, err := h.bookings.Cancel(c.Request().Context(), appt.ID, req.Reason)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, updated)
}

type statusRequest struct {
	Status string `json:"status" validate:"required,oneof=scheduled confirmed completed cancelled no_show"`
}

func (h *Handler) UpdateAppointmentStatus(c echo.Context) error {
	appt, err := h.loadVisible(c)
	if err != nil {
		return err
	}
	if err := h.requireDoctorAccess(c, appt.DoctorID); err != nil {
		return err
	}
	var req statusRequest
	if err := bindAndValidate(c, &req); err != nil {
		return err
	}
	updated, err := h.bookings.UpdateStatus(c.Request().Context(), appt.ID, AppointmentStatus(req.Status))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, updated)
}
