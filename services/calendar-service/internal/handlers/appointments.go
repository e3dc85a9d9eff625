package handlers

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/fitdesk/leadcal/libs/httpx"
	"github.com/fitdesk/leadcal/services/calendar-service/internal/availability"
	"github.com/fitdesk/leadcal/services/calendar-service/internal/calendar"
	"github.com/fitdesk/leadcal/services/calendar-service/internal/calsync"
	"github.com/fitdesk/leadcal/services/calendar-service/internal/ledger"
	"github.com/fitdesk/leadcal/services/calendar-service/internal/model"
	"github.com/fitdesk/leadcal/services/calendar-service/internal/storage"
)

type AppointmentHandler struct {
	svc    *calendar.Service
	logger *slog.Logger
}

func NewAppointmentHandler(svc *calendar.Service, logger *slog.Logger) *AppointmentHandler {
	return &AppointmentHandler{svc: svc, logger: logger}
}

// Register mounts the appointment routes on mux.
func (h *AppointmentHandler) Register(mux *http.ServeMux) {
	mux.HandleFunc("/api/v1/appointments", h.Collection)
	mux.HandleFunc("/api/v1/appointments/detail", h.Detail)
	mux.HandleFunc("/api/v1/appointments/update", h.Update)
	mux.HandleFunc("/api/v1/appointments/reschedule", h.Reschedule)
	mux.HandleFunc("/api/v1/appointments/confirm", h.Confirm)
	mux.HandleFunc("/api/v1/appointments/cancel", h.Cancel)
	mux.HandleFunc("/api/v1/appointments/complete", h.Complete)
	mux.HandleFunc("/api/v1/appointments/sync", h.Sync)
	mux.HandleFunc("/api/v1/appointments/upcoming", h.Upcoming)
	mux.HandleFunc("/api/v1/availability", h.Availability)
	mux.HandleFunc("/api/v1/reminders/sweep", h.Sweep)
}

type createAppointmentRequest struct {
	OwnerID     string `json:"owner_id"`
	LeadID      string `json:"lead_id"`
	LeadName    string `json:"lead_name"`
	LeadEmail   string `json:"lead_email"`
	LeadPhone   string `json:"lead_phone"`
	Title       string `json:"title"`
	Description string `json:"description"`
	Location    string `json:"location"`
	StartTime   string `json:"start_time"`
	EndTime     string `json:"end_time"`
	Type        string `json:"type"`
	CreatedBy   string `json:"created_by"`
}

type updateAppointmentRequest struct {
	ID           string  `json:"id"`
	LeadName     *string `json:"lead_name"`
	LeadEmail    *string `json:"lead_email"`
	LeadPhone    *string `json:"lead_phone"`
	Title        *string `json:"title"`
	Description  *string `json:"description"`
	Location     *string `json:"location"`
	StartTime    *string `json:"start_time"`
	EndTime      *string `json:"end_time"`
	Type         *string `json:"type"`
	Status       *string `json:"status"`
	CancelReason *string `json:"cancel_reason"`
}

type rescheduleRequest struct {
	ID        string `json:"id"`
	StartTime string `json:"start_time"`
	EndTime   string `json:"end_time"`
	Reason    string `json:"reason"`
}

type actionRequest struct {
	ID       string `json:"id"`
	Reason   string `json:"reason"`
	Provider string `json:"provider"`
}

type listResponse struct {
	Appointments []model.Appointment `json:"appointments"`
}

type syncResponse struct {
	AppointmentID      string `json:"appointment_id"`
	Provider           string `json:"provider"`
	ExternalCalendarID string `json:"external_calendar_id"`
}

type sweepResponse struct {
	RemindersSent int `json:"reminders_sent"`
}

// Collection serves POST (create) and GET (list) on /api/v1/appointments.
func (h *AppointmentHandler) Collection(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		h.Create(w, r)
	case http.MethodGet:
		h.List(w, r)
	default:
		httpx.WriteError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (h *AppointmentHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req createAppointmentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "invalid json body")
		return
	}
	if req.OwnerID == "" {
		req.OwnerID = ownerFrom(r)
	}

	start, err := parseTime(req.StartTime)
	if err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "invalid start_time")
		return
	}
	end, err := parseTime(req.EndTime)
	if err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "invalid end_time")
		return
	}

	appt, err := h.svc.CreateAppointment(r.Context(), ledger.CreateRequest{
		OwnerID:     strings.TrimSpace(req.OwnerID),
		LeadID:      strings.TrimSpace(req.LeadID),
		LeadName:    req.LeadName,
		LeadEmail:   req.LeadEmail,
		LeadPhone:   req.LeadPhone,
		Title:       req.Title,
		Description: req.Description,
		Location:    req.Location,
		StartTime:   start,
		EndTime:     end,
		Type:        model.Type(strings.ToLower(strings.TrimSpace(req.Type))),
		CreatedBy:   strings.TrimSpace(req.CreatedBy),
	})
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, appt)
}

// List filters by owner (header or owner_id), lead_id, from/to (RFC3339, on start time),
// status (comma separated) and limit.
func (h *AppointmentHandler) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := storage.Filter{
		OwnerID: ownerFrom(r),
		LeadID:  strings.TrimSpace(q.Get("lead_id")),
		Limit:   200,
	}
	if raw := strings.TrimSpace(q.Get("from")); raw != "" {
		t, err := parseTime(raw)
		if err != nil {
			httpx.WriteError(w, http.StatusBadRequest, "invalid from")
			return
		}
		f.StartFrom = t
	}
	if raw := strings.TrimSpace(q.Get("to")); raw != "" {
		t, err := parseTime(raw)
		if err != nil {
			httpx.WriteError(w, http.StatusBadRequest, "invalid to")
			return
		}
		f.StartTo = t
	}
	if raw := strings.TrimSpace(q.Get("status")); raw != "" {
		for _, s := range strings.Split(raw, ",") {
			st := model.Status(strings.TrimSpace(s))
			if !st.Valid() {
				httpx.WriteError(w, http.StatusBadRequest, "invalid status "+string(st))
				return
			}
			f.Statuses = append(f.Statuses, st)
		}
	}
	if raw := strings.TrimSpace(q.Get("limit")); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 && n <= 500 {
			f.Limit = n
		}
	}

	appts, err := h.svc.ListAppointments(r.Context(), f)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	if appts == nil {
		appts = []model.Appointment{}
	}
	httpx.WriteJSON(w, http.StatusOK, listResponse{Appointments: appts})
}

func (h *AppointmentHandler) Detail(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httpx.WriteError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	id := strings.TrimSpace(r.URL.Query().Get("id"))
	if id == "" {
		httpx.WriteError(w, http.StatusBadRequest, "id required")
		return
	}
	appt, err := h.svc.GetAppointment(r.Context(), id)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, appt)
}

func (h *AppointmentHandler) Update(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httpx.WriteError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var req updateAppointmentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "invalid json body")
		return
	}
	if strings.TrimSpace(req.ID) == "" {
		httpx.WriteError(w, http.StatusBadRequest, "id required")
		return
	}

	p := ledger.Patch{
		LeadName:     req.LeadName,
		LeadEmail:    req.LeadEmail,
		LeadPhone:    req.LeadPhone,
		Title:        req.Title,
		Description:  req.Description,
		Location:     req.Location,
		CancelReason: req.CancelReason,
	}
	if req.StartTime != nil {
		t, err := parseTime(*req.StartTime)
		if err != nil {
			httpx.WriteError(w, http.StatusBadRequest, "invalid start_time")
			return
		}
		p.StartTime = &t
	}
	if req.EndTime != nil {
		t, err := parseTime(*req.EndTime)
		if err != nil {
			httpx.WriteError(w, http.StatusBadRequest, "invalid end_time")
			return
		}
		p.EndTime = &t
	}
	if req.Type != nil {
		typ := model.Type(strings.ToLower(strings.TrimSpace(*req.Type)))
		p.Type = &typ
	}
	if req.Status != nil {
		st := model.Status(strings.ToLower(strings.TrimSpace(*req.Status)))
		p.Status = &st
	}

	appt, err := h.svc.UpdateAppointment(r.Context(), strings.TrimSpace(req.ID), p)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, appt)
}

func (h *AppointmentHandler) Reschedule(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httpx.WriteError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var req rescheduleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "invalid json body")
		return
	}
	if strings.TrimSpace(req.ID) == "" {
		httpx.WriteError(w, http.StatusBadRequest, "id required")
		return
	}
	start, err := parseTime(req.StartTime)
	if err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "invalid start_time")
		return
	}
	end, err := parseTime(req.EndTime)
	if err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "invalid end_time")
		return
	}

	appt, err := h.svc.RescheduleAppointment(r.Context(), strings.TrimSpace(req.ID), start, end, req.Reason)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, appt)
}

func (h *AppointmentHandler) Confirm(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeAction(w, r)
	if !ok {
		return
	}
	appt, err := h.svc.ConfirmAppointment(r.Context(), req.ID)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, appt)
}

func (h *AppointmentHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeAction(w, r)
	if !ok {
		return
	}
	appt, err := h.svc.CancelAppointment(r.Context(), req.ID, req.Reason)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, appt)
}

func (h *AppointmentHandler) Complete(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeAction(w, r)
	if !ok {
		return
	}
	appt, err := h.svc.CompleteAppointment(r.Context(), req.ID)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, appt)
}

func (h *AppointmentHandler) Sync(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeAction(w, r)
	if !ok {
		return
	}
	extID, err := h.svc.SyncExternal(r.Context(), req.ID, req.Provider)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	appt, err := h.svc.GetAppointment(r.Context(), req.ID)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, syncResponse{
		AppointmentID:      appt.ID,
		Provider:           appt.ExternalProvider,
		ExternalCalendarID: extID,
	})
}

func (h *AppointmentHandler) Upcoming(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httpx.WriteError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	owner := ownerFrom(r)
	if owner == "" {
		httpx.WriteError(w, http.StatusBadRequest, "owner_id required")
		return
	}
	appts, err := h.svc.UpcomingAppointments(r.Context(), owner, h.svc.Now())
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	if appts == nil {
		appts = []model.Appointment{}
	}
	httpx.WriteJSON(w, http.StatusOK, listResponse{Appointments: appts})
}

// Availability serves ?date=YYYY-MM-DD, or ?from=&to= for a range of days.
func (h *AppointmentHandler) Availability(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httpx.WriteError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	q := r.URL.Query()
	owner := ownerFrom(r)

	if raw := strings.TrimSpace(q.Get("date")); raw != "" {
		date, err := time.Parse(model.DateLayout, raw)
		if err != nil {
			httpx.WriteError(w, http.StatusBadRequest, "invalid date (YYYY-MM-DD)")
			return
		}
		avail, err := h.svc.GetAvailability(r.Context(), owner, date)
		if err != nil {
			h.writeServiceError(w, r, err)
			return
		}
		httpx.WriteJSON(w, http.StatusOK, avail)
		return
	}

	from, err := time.Parse(model.DateLayout, strings.TrimSpace(q.Get("from")))
	if err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "date or from/to (YYYY-MM-DD) required")
		return
	}
	to, err := time.Parse(model.DateLayout, strings.TrimSpace(q.Get("to")))
	if err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "invalid to (YYYY-MM-DD)")
		return
	}
	days, err := h.svc.GetAvailabilityRange(r.Context(), owner, from, to)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, days)
}

// Sweep runs the 24h reminder sweep now. Operators use it to recover after downtime.
func (h *AppointmentHandler) Sweep(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httpx.WriteError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	n, err := h.svc.RunReminderSweep(r.Context(), h.svc.Now())
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, sweepResponse{RemindersSent: n})
}

func decodeAction(w http.ResponseWriter, r *http.Request) (actionRequest, bool) {
	var req actionRequest
	if r.Method != http.MethodPost {
		httpx.WriteError(w, http.StatusMethodNotAllowed, "method not allowed")
		return req, false
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "invalid json body")
		return req, false
	}
	req.ID = strings.TrimSpace(req.ID)
	req.Reason = strings.TrimSpace(req.Reason)
	req.Provider = strings.TrimSpace(req.Provider)
	if req.ID == "" {
		httpx.WriteError(w, http.StatusBadRequest, "id required")
		return req, false
	}
	return req, true
}

func (h *AppointmentHandler) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		conflict   *ledger.ConflictError
		validation *ledger.ValidationError
		transition *ledger.InvalidTransitionError
		syncErr    *calsync.SyncError
	)
	switch {
	case errors.As(err, &validation):
		httpx.WriteError(w, http.StatusBadRequest, validation.Error())
	case errors.Is(err, availability.ErrRangeTooLarge), errors.Is(err, availability.ErrInvertedRange):
		httpx.WriteError(w, http.StatusBadRequest, err.Error())
	case ledger.IsNotFound(err):
		httpx.WriteError(w, http.StatusNotFound, "appointment not found")
	case errors.As(err, &conflict):
		httpx.WriteJSON(w, http.StatusConflict, map[string]any{
			"error":           "time slot already booked",
			"conflicting_ids": conflict.ConflictingIDs,
		})
	case errors.As(err, &transition):
		httpx.WriteError(w, http.StatusUnprocessableEntity, transition.Error())
	case errors.As(err, &syncErr):
		h.logger.Warn("external sync failed", "provider", syncErr.Provider, "appointment_id", syncErr.AppointmentID, "err", syncErr.Err)
		httpx.WriteError(w, http.StatusBadGateway, syncErr.Error())
	default:
		h.logger.Error("request failed", "path", r.URL.Path, "request_id", httpx.RequestIDFromContext(r.Context()), "err", err)
		httpx.WriteError(w, http.StatusInternalServerError, "internal error")
	}
}

func ownerFrom(r *http.Request) string {
	if owner := strings.TrimSpace(r.Header.Get(httpx.OwnerHeader)); owner != "" {
		return owner
	}
	return strings.TrimSpace(r.URL.Query().Get("owner_id"))
}

func parseTime(raw string) (time.Time, error) {
	return time.Parse(time.RFC3339, strings.TrimSpace(raw))
}
