package handlers

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/fitdesk/leadcal/libs/httpx"
	"github.com/fitdesk/leadcal/services/calendar-service/internal/hours"
)

type HoursSaver interface {
	Save(ctx context.Context, ownerID string, wh hours.WorkingHours) error
}

// HoursHandler reads and, when a saver is configured, overrides an owner's working hours.
type HoursHandler struct {
	provider hours.Provider
	saver    HoursSaver
	logger   *slog.Logger
}

func NewHoursHandler(provider hours.Provider, saver HoursSaver, logger *slog.Logger) *HoursHandler {
	return &HoursHandler{provider: provider, saver: saver, logger: logger}
}

func (h *HoursHandler) Register(mux *http.ServeMux) {
	mux.HandleFunc("/api/v1/working-hours", h.ServeHTTP)
}

func (h *HoursHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	owner := ownerFrom(r)
	if owner == "" {
		httpx.WriteError(w, http.StatusBadRequest, "owner_id required")
		return
	}

	switch r.Method {
	case http.MethodGet:
		wh, err := h.provider.WorkingHours(r.Context(), owner)
		if err != nil {
			h.logger.Error("working hours lookup failed", "owner_id", owner, "err", err)
			httpx.WriteError(w, http.StatusInternalServerError, "internal error")
			return
		}
		httpx.WriteJSON(w, http.StatusOK, wh)
	case http.MethodPut:
		if h.saver == nil {
			httpx.WriteError(w, http.StatusNotImplemented, "working hours overrides are not configured")
			return
		}
		wh := hours.Default()
		if err := json.NewDecoder(r.Body).Decode(&wh); err != nil {
			httpx.WriteError(w, http.StatusBadRequest, "invalid json body")
			return
		}
		if err := wh.Validate(); err != nil {
			httpx.WriteError(w, http.StatusBadRequest, err.Error())
			return
		}
		if err := h.saver.Save(r.Context(), owner, wh); err != nil {
			h.logger.Error("working hours save failed", "owner_id", owner, "err", err)
			httpx.WriteError(w, http.StatusInternalServerError, "internal error")
			return
		}
		httpx.WriteJSON(w, http.StatusOK, wh)
	default:
		httpx.WriteError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}
