package http

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"medbook/backend/internal/calendar"
	"medbook/backend/internal/domain"
	"medbook/backend/internal/scheduling"
	"medbook/backend/internal/store"
)

type httpError struct {
	Code    string `json:"error_code"`
	Message string `json:"message"`
	Detail  any    `json:"detail,omitempty"`
}

func (s *Server) writeError(c *gin.Context, err error) {
	var vErr *scheduling.ValidationError
	if errors.As(err, &vErr) {
		c.JSON(http.StatusBadRequest, httpError{Code: "validation_error", Message: vErr.Error()})
		return
	}
	var pdErr *scheduling.PastDateError
	if errors.As(err, &pdErr) {
		c.JSON(http.StatusBadRequest, httpError{Code: "past_date", Message: pdErr.Error(), Detail: pdErr.Detail})
		return
	}
	var cErr *scheduling.ConflictError
	if errors.As(err, &cErr) {
		c.JSON(http.StatusConflict, httpError{Code: "schedule_conflict", Message: cErr.Error(), Detail: cErr.Detail})
		return
	}
	var tErr *scheduling.TransitionError
	if errors.As(err, &tErr) {
		c.JSON(http.StatusConflict, httpError{Code: "invalid_transition", Message: tErr.Error()})
		return
	}
	switch {
	case errors.Is(err, store.ErrNotFound):
		c.JSON(http.StatusNotFound, httpError{Code: "not_found", Message: "appointment not found"})
	case errors.Is(err, store.ErrUnavailable):
		c.JSON(http.StatusServiceUnavailable, httpError{Code: "store_unavailable", Message: "storage is unavailable, retry later"})
	case errors.Is(err, calendar.ErrAuthExpired):
		c.JSON(http.StatusUnauthorized, httpError{Code: "auth_expired", Message: "calendar credentials expired, reconnect the calendar"})
	case errors.Is(err, calendar.ErrInboundDisabled), errors.Is(err, calendar.ErrOutboundDisabled):
		c.JSON(http.StatusConflict, httpError{Code: "sync_direction_disabled", Message: err.Error()})
	case errors.Is(err, calendar.ErrProviderUnavailable):
		c.JSON(http.StatusBadGateway, httpError{Code: "provider_unavailable", Message: "calendar provider is unavailable"})
	default:
		s.log.Error("request failed", slog.Any("err", err), slog.String("path", c.FullPath()))
		c.JSON(http.StatusInternalServerError, httpError{Code: "internal", Message: "internal error"})
	}
}

func (s *Server) checkAvailability(c *gin.Context) {
	duration := 0
	if raw := c.Query("duration_minutes"); raw != "" {
		d, err := parseInt(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, httpError{Code: "validation_error", Message: "duration_minutes must be an integer"})
			return
		}
		duration = d
	}

	var excludeID uuid.UUID
	if raw := c.Query("exclude_id"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, httpError{Code: "validation_error", Message: "exclude_id must be a uuid"})
			return
		}
		excludeID = id
	}

	res, err := s.sched.CheckAvailability(c.Request.Context(), scheduling.AvailabilityInput{
		ProviderID:      c.Query("provider_id"),
		Date:            c.Query("date"),
		StartTime:       c.Query("start_time"),
		DurationMinutes: duration,
		ExcludeID:       excludeID,
	})
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"available": res.Available, "conflict": res.Conflict})
}

type createAppointmentRequest struct {
	ProviderID      string `json:"provider_id"`
	PatientID       string `json:"patient_id"`
	ClinicID        string `json:"clinic_id"`
	Date            string `json:"date"`
	StartTime       string `json:"start_time"`
	DurationMinutes int    `json:"duration_minutes"`
	Type            string `json:"type"`
	Title           string `json:"title"`
	Description     string `json:"description"`
	Location        string `json:"location"`
	Notes           string `json:"notes"`
	SyncEnabled     *bool  `json:"sync_enabled"`
}

func (s *Server) createAppointment(c *gin.Context) {
	var req createAppointmentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, httpError{Code: "validation_error", Message: err.Error()})
		return
	}

	appt, err := s.sched.Create(c.Request.Context(), scheduling.CreateInput{
		ProviderID:      req.ProviderID,
		PatientID:       req.PatientID,
		ClinicID:        req.ClinicID,
		Date:            req.Date,
		StartTime:       req.StartTime,
		DurationMinutes: req.DurationMinutes,
		Type:            domain.AppointmentType(req.Type),
		Title:           req.Title,
		Description:     req.Description,
		Location:        req.Location,
		Notes:           req.Notes,
		SyncEnabled:     req.SyncEnabled,
	})
	if err != nil {
		s.writeError(c, err)
		return
	}

	s.log.Info(
		"appointment created",
		slog.String("appointment_id", appt.ID.String()),
		slog.String("provider_id", appt.ProviderID),
		slog.String("date", appt.Date.Format(domain.DateLayout)),
		slog.String("start_time", appt.StartTime),
	)
	c.JSON(http.StatusCreated, gin.H{"appointment": appt})
}

type updateAppointmentRequest struct {
	Date            *string `json:"date"`
	StartTime       *string `json:"start_time"`
	DurationMinutes *int    `json:"duration_minutes"`
	Type            *string `json:"type"`
	Title           *string `json:"title"`
	Description     *string `json:"description"`
	Location        *string `json:"location"`
	Notes           *string `json:"notes"`
	SyncEnabled     *bool   `json:"sync_enabled"`
}

func (s *Server) updateAppointment(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, httpError{Code: "validation_error", Message: "id must be a uuid"})
		return
	}

	var req updateAppointmentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, httpError{Code: "validation_error", Message: err.Error()})
		return
	}

	in := scheduling.UpdateInput{
		Date:            req.Date,
		StartTime:       req.StartTime,
		DurationMinutes: req.DurationMinutes,
		Title:           req.Title,
		Description:     req.Description,
		Location:        req.Location,
		Notes:           req.Notes,
		SyncEnabled:     req.SyncEnabled,
	}
	if req.Type != nil {
		t := domain.AppointmentType(*req.Type)
		in.Type = &t
	}

	appt, err := s.sched.Update(c.Request.Context(), id, in)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"appointment": appt})
}

func (s *Server) listAppointments(c *gin.Context) {
	f := store.Filter{
		ProviderID: c.Query("provider_id"),
		PatientID:  c.Query("patient_id"),
		ClinicID:   c.Query("clinic_id"),
		TextSearch: c.Query("q"),
	}

	for _, q := range []struct {
		name string
		dst  **time.Time
	}{
		{"date_from", &f.DateFrom},
		{"date_to", &f.DateTo},
	} {
		raw := c.Query(q.name)
		if raw == "" {
			continue
		}
		t, err := time.ParseInLocation(domain.DateLayout, raw, time.UTC)
		if err != nil {
			c.JSON(http.StatusBadRequest, httpError{Code: "validation_error", Message: q.name + " must be YYYY-MM-DD"})
			return
		}
		*q.dst = &t
	}

	for _, raw := range splitCSV(c.Query("status")) {
		st := domain.Status(raw)
		if !st.Valid() {
			c.JSON(http.StatusBadRequest, httpError{Code: "validation_error", Message: "unknown status " + raw})
			return
		}
		f.Statuses = append(f.Statuses, st)
	}
	for _, raw := range splitCSV(c.Query("type")) {
		tp := domain.AppointmentType(raw)
		if !tp.Valid() {
			c.JSON(http.StatusBadRequest, httpError{Code: "validation_error", Message: "unknown type " + raw})
			return
		}
		f.Types = append(f.Types, tp)
	}

	appts, err := s.sched.Get(c.Request.Context(), f)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"appointments": appts})
}

type changeStatusRequest struct {
	Status string `json:"status"`
}

func (s *Server) changeStatus(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, httpError{Code: "validation_error", Message: "id must be a uuid"})
		return
	}

	var req changeStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, httpError{Code: "validation_error", Message: err.Error()})
		return
	}

	appt, err := s.sched.Transition(c.Request.Context(), id, domain.Status(req.Status))
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"appointment": appt})
}

type cancelRequest struct {
	CancelledBy string `json:"cancelled_by"`
}

func (s *Server) cancelAppointment(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, httpError{Code: "validation_error", Message: "id must be a uuid"})
		return
	}

	var req cancelRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, httpError{Code: "validation_error", Message: err.Error()})
		return
	}

	appt, err := s.sched.Cancel(c.Request.Context(), id, domain.CancelActor(req.CancelledBy))
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"appointment": appt})
}

func (s *Server) syncOutbound(c *gin.Context) {
	report, err := s.sync.SyncOutbound(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, syncReportResponse(report))
}

func (s *Server) syncInbound(c *gin.Context) {
	report, err := s.sync.SyncInbound(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, syncReportResponse(report))
}

func syncReportResponse(report calendar.SyncReport) gin.H {
	errs := make([]string, 0, len(report.Errors))
	for _, e := range report.Errors {
		errs = append(errs, e.Error())
	}
	return gin.H{
		"synced_count":   report.Synced,
		"removed_count":  report.Removed,
		"imported_count": report.Imported,
		"errors":         errs,
	}
}

func splitCSV(raw string) []string {
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func parseInt(raw string) (int, error) {
	return strconv.Atoi(raw)
}
