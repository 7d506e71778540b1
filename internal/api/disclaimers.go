package api

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/opensource-finance/condor/internal/domain"
)

// CurrentDisclaimer handles GET /disclaimers/current.
func (h *Handler) CurrentDisclaimer(w http.ResponseWriter, r *http.Request) {
	d, err := h.repo.GetCurrentDisclaimer(r.Context())
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, map[string]string{
				"error": "No active disclaimer found",
			})
			return
		}
		slog.Error("failed to load disclaimer", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to load disclaimer",
		})
		return
	}

	writeJSON(w, http.StatusOK, d)
}

// DisclaimerAcceptRequest is the request body for POST /disclaimers/accept.
// A zero version means the current one.
type DisclaimerAcceptRequest struct {
	Version int `json:"version"`
}

// AcceptDisclaimer handles POST /disclaimers/accept. Accepting the same
// version twice is a no-op that still reports success.
func (h *Handler) AcceptDisclaimer(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	user := GetCurrentUser(ctx)

	var req DisclaimerAcceptRequest
	if r.Body != nil {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
			writeJSON(w, http.StatusBadRequest, map[string]string{
				"error": "invalid JSON request body",
			})
			return
		}
	}

	version := req.Version
	if version == 0 {
		if d, err := h.repo.GetCurrentDisclaimer(ctx); err == nil {
			version = d.Version
		} else {
			version = domain.DefaultDisclaimerVersion
		}
	}

	if existing, err := h.repo.GetDisclaimerAcceptance(ctx, user.TenantID, user.UserID, version); err == nil {
		writeJSON(w, http.StatusCreated, map[string]any{
			"accepted":    true,
			"version":     existing.Version,
			"accepted_at": existing.AcceptedAt.UTC().Format(time.RFC3339),
		})
		return
	}

	acceptance := &domain.DisclaimerAcceptance{
		ID:         uuid.New().String(),
		UserID:     user.UserID,
		TenantID:   user.TenantID,
		Version:    version,
		AcceptedAt: time.Now().UTC(),
	}
	if err := h.repo.SaveDisclaimerAcceptance(ctx, user.TenantID, acceptance); err != nil {
		slog.Error("failed to save disclaimer acceptance", "user_id", user.UserID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to accept disclaimer",
		})
		return
	}

	writeJSON(w, http.StatusCreated, map[string]any{
		"accepted":    true,
		"version":     acceptance.Version,
		"accepted_at": acceptance.AcceptedAt.UTC().Format(time.RFC3339),
	})
}
