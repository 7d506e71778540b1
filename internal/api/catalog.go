package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/opensource-finance/condor/internal/domain"
)

// catalogTTL bounds staleness of the cached obligation catalog. Obligations
// change only through reseeding, so a short TTL is enough.
const catalogTTL = 10 * time.Minute

// ListObligations handles GET /obligations. Returns the active catalog in
// display order.
func (h *Handler) ListObligations(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	user := GetCurrentUser(ctx)

	obligations, err := h.resolveObligations(ctx, user.TenantID)
	if err != nil {
		slog.Error("failed to list obligations", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to list obligations",
		})
		return
	}
	if obligations == nil {
		obligations = []*domain.ObligationType{}
	}

	writeJSON(w, http.StatusOK, obligations)
}

// resolveObligations returns the active obligation catalog, serving from
// cache when warm. The evaluation path shares this read.
func (h *Handler) resolveObligations(ctx context.Context, tenantID string) ([]*domain.ObligationType, error) {
	if raw, err := h.cache.Get(ctx, tenantID, domain.ObligationCatalogKey); err == nil && raw != nil {
		var obligations []*domain.ObligationType
		if err := json.Unmarshal(raw, &obligations); err == nil {
			return obligations, nil
		}
	}
	h.cacheMissesSeen.Add(1)

	obligations, err := h.repo.ListObligationTypes(ctx, tenantID, true)
	if err != nil {
		return nil, err
	}
	if raw, err := json.Marshal(obligations); err == nil {
		if err := h.cache.Set(ctx, tenantID, domain.ObligationCatalogKey, raw, catalogTTL); err != nil {
			slog.Warn("failed to cache obligation catalog", "error", err)
		}
	}
	return obligations, nil
}

// GetObligation handles GET /obligations/{code}.
func (h *Handler) GetObligation(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	user := GetCurrentUser(ctx)

	code := chi.URLParam(r, "code")
	ob, err := h.repo.GetObligationTypeByCode(ctx, user.TenantID, code)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, map[string]string{
				"error": fmt.Sprintf("Obligation '%s' not found", code),
			})
			return
		}
		slog.Error("failed to load obligation", "code", code, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to load obligation",
		})
		return
	}

	writeJSON(w, http.StatusOK, ob)
}

// ListFiscalYears handles GET /fiscal-years. The endpoint is public so that
// onboarding flows can offer a year picker before login; only active years
// are listed, newest first.
func (h *Handler) ListFiscalYears(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	years, err := h.repo.ListFiscalYears(ctx, DefaultTenant)
	if err != nil {
		slog.Error("failed to list fiscal years", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to list fiscal years",
		})
		return
	}

	items := make([]map[string]any, 0, len(years))
	for _, fy := range years {
		if fy.Status != domain.FiscalYearActive {
			continue
		}
		items = append(items, map[string]any{
			"id":        fy.ID,
			"year":      fy.Year,
			"status":    fy.Status,
			"uvt_value": fy.UVTValue,
			"notes":     fy.Notes,
		})
	}

	writeJSON(w, http.StatusOK, items)
}
