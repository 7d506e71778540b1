package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/opensource-finance/condor/internal/domain"
)

// ListCalendar handles GET /calendar. An optional ?fiscal_year_id= filter
// narrows the listing to one year.
func (h *Handler) ListCalendar(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	user := GetCurrentUser(ctx)

	fyID := r.URL.Query().Get("fiscal_year_id")
	entries, err := h.repo.ListCalendarEntries(ctx, user.TenantID, user.UserID, fyID)
	if err != nil {
		slog.Error("failed to list calendar entries", "user_id", user.UserID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to list calendar entries",
		})
		return
	}
	if entries == nil {
		entries = []*domain.CalendarEntry{}
	}

	writeJSON(w, http.StatusOK, entries)
}

// CalendarUpdateRequest is the request body for PATCH /calendar/{id}.
type CalendarUpdateRequest struct {
	Status string `json:"status"`
}

// UpdateCalendarEntry handles PATCH /calendar/{id}. Only the status is
// mutable; the deadline itself is derived data owned by the worker.
func (h *Handler) UpdateCalendarEntry(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	user := GetCurrentUser(ctx)

	entryID := chi.URLParam(r, "id")

	var req CalendarUpdateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}
	if !domain.ValidCalendarStatus(req.Status) {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "status must be 'pending', 'completed' or 'dismissed'",
		})
		return
	}

	if err := h.repo.UpdateCalendarEntryStatus(ctx, user.TenantID, user.UserID, entryID, req.Status); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, map[string]string{
				"error": "Calendar entry not found",
			})
			return
		}
		if errors.Is(err, domain.ErrInvalidInput) {
			writeJSON(w, http.StatusBadRequest, map[string]string{
				"error": "invalid calendar status",
			})
			return
		}
		slog.Error("failed to update calendar entry", "id", entryID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to update calendar entry",
		})
		return
	}

	entries, err := h.repo.ListCalendarEntries(ctx, user.TenantID, user.UserID, "")
	if err == nil {
		for _, e := range entries {
			if e.ID == entryID {
				writeJSON(w, http.StatusOK, e)
				return
			}
		}
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"id":     entryID,
		"status": req.Status,
	})
}
