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
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/opensource-finance/condor/internal/domain"
)

// FiscalYearCreateRequest is the request body for POST /admin/fiscal-years.
type FiscalYearCreateRequest struct {
	Year     int             `json:"year"`
	UVTValue decimal.Decimal `json:"uvt_value"`
	Notes    string          `json:"notes,omitempty"`
}

// ThresholdRequest is the request body for POST
// /admin/fiscal-years/{id}/thresholds. Posting an existing code replaces its
// values.
type ThresholdRequest struct {
	Code           string           `json:"code"`
	Label          string           `json:"label"`
	ValueUVT       *decimal.Decimal `json:"value_uvt,omitempty"`
	ValueCOP       *decimal.Decimal `json:"value_cop,omitempty"`
	Description    string           `json:"description,omitempty"`
	LegalReference string           `json:"legal_reference,omitempty"`
}

// FiscalYearStatusRequest is the request body for PATCH
// /admin/fiscal-years/{id}/status.
type FiscalYearStatusRequest struct {
	Status string `json:"status"`
}

// RuleSetCreateRequest is the request body for POST /admin/rule-sets. Rules
// may be supplied inline so a publishable draft can be built in one call.
type RuleSetCreateRequest struct {
	FiscalYearID string        `json:"fiscal_year_id"`
	Changelog    string        `json:"changelog,omitempty"`
	Rules        []RuleRequest `json:"rules,omitempty"`
}

// RuleRequest is the wire form of one rule inside a rule set creation.
type RuleRequest struct {
	ObligationTypeID string                 `json:"obligation_type_id"`
	Code             string                 `json:"code"`
	Name             string                 `json:"name"`
	Description      string                 `json:"description,omitempty"`
	LogicOperator    string                 `json:"logic_operator"`
	Priority         int                    `json:"priority"`
	ResultIfTrue     string                 `json:"result_if_true"`
	IsActive         *bool                  `json:"is_active,omitempty"`
	Conditions       []domain.RuleCondition `json:"conditions"`
}

// AdminListFiscalYears handles GET /admin/fiscal-years. Unlike the public
// listing it includes draft and archived years.
func (h *Handler) AdminListFiscalYears(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	user := GetCurrentUser(ctx)

	years, err := h.repo.ListFiscalYears(ctx, user.TenantID)
	if err != nil {
		slog.Error("failed to list fiscal years", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to list fiscal years",
		})
		return
	}
	if years == nil {
		years = []*domain.FiscalYear{}
	}

	writeJSON(w, http.StatusOK, years)
}

// AdminCreateFiscalYear handles POST /admin/fiscal-years. Years are unique;
// new years start as drafts until activated through the status endpoint.
func (h *Handler) AdminCreateFiscalYear(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	user := GetCurrentUser(ctx)

	var req FiscalYearCreateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}
	if req.Year < 2000 || !req.UVTValue.IsPositive() {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "year and a positive uvt_value are required",
		})
		return
	}

	if _, err := h.repo.GetFiscalYearByYear(ctx, user.TenantID, req.Year); err == nil {
		writeJSON(w, http.StatusConflict, map[string]string{
			"error": fmt.Sprintf("fiscal year %d already exists", req.Year),
		})
		return
	}

	fy := &domain.FiscalYear{
		ID:        uuid.New().String(),
		TenantID:  user.TenantID,
		Year:      req.Year,
		Status:    domain.FiscalYearDraft,
		UVTValue:  req.UVTValue,
		Notes:     req.Notes,
		CreatedAt: time.Now().UTC(),
	}
	if err := h.repo.SaveFiscalYear(ctx, user.TenantID, fy); err != nil {
		slog.Error("failed to save fiscal year", "year", req.Year, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to create fiscal year",
		})
		return
	}

	writeJSON(w, http.StatusCreated, fy)
}

// AdminUpdateFiscalYearStatus handles PATCH /admin/fiscal-years/{id}/status.
func (h *Handler) AdminUpdateFiscalYearStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	user := GetCurrentUser(ctx)

	fyID := chi.URLParam(r, "id")

	var req FiscalYearStatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}
	switch req.Status {
	case domain.FiscalYearDraft, domain.FiscalYearActive, domain.FiscalYearArchived:
	default:
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "status must be 'draft', 'active' or 'archived'",
		})
		return
	}

	fy, err := h.repo.GetFiscalYear(ctx, user.TenantID, fyID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, map[string]string{
				"error": "Fiscal year not found",
			})
			return
		}
		slog.Error("failed to load fiscal year", "id", fyID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to update fiscal year",
		})
		return
	}

	fy.Status = req.Status
	if err := h.repo.SaveFiscalYear(ctx, user.TenantID, fy); err != nil {
		slog.Error("failed to update fiscal year", "id", fyID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to update fiscal year",
		})
		return
	}

	writeJSON(w, http.StatusOK, fy)
}

// AdminListThresholds handles GET /admin/fiscal-years/{id}/thresholds.
func (h *Handler) AdminListThresholds(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	user := GetCurrentUser(ctx)

	fyID := chi.URLParam(r, "id")
	thresholds, err := h.repo.ListThresholds(ctx, user.TenantID, fyID)
	if err != nil {
		slog.Error("failed to list thresholds", "fiscal_year_id", fyID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to list thresholds",
		})
		return
	}
	if thresholds == nil {
		thresholds = []*domain.Threshold{}
	}

	writeJSON(w, http.StatusOK, thresholds)
}

// AdminUpsertThreshold handles POST /admin/fiscal-years/{id}/thresholds. The
// write invalidates the year's cached derived state and notifies other
// instances over the bus.
func (h *Handler) AdminUpsertThreshold(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	user := GetCurrentUser(ctx)

	fyID := chi.URLParam(r, "id")
	if _, err := h.repo.GetFiscalYear(ctx, user.TenantID, fyID); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, map[string]string{
				"error": "Fiscal year not found",
			})
			return
		}
		slog.Error("failed to load fiscal year", "id", fyID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to save threshold",
		})
		return
	}

	var req ThresholdRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}
	if req.Code == domain.UVTValueKey {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": fmt.Sprintf("threshold code '%s' is reserved", domain.UVTValueKey),
		})
		return
	}

	th := &domain.Threshold{
		ID:             uuid.New().String(),
		TenantID:       user.TenantID,
		FiscalYearID:   fyID,
		Code:           req.Code,
		Label:          req.Label,
		ValueUVT:       req.ValueUVT,
		ValueCOP:       req.ValueCOP,
		Description:    req.Description,
		LegalReference: req.LegalReference,
		CreatedAt:      time.Now().UTC(),
	}
	if err := th.Validate(); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "threshold requires a code and at least one of value_uvt or value_cop",
		})
		return
	}

	if err := h.repo.SaveThreshold(ctx, user.TenantID, th); err != nil {
		slog.Error("failed to save threshold", "code", req.Code, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to save threshold",
		})
		return
	}

	h.invalidateFiscalYear(ctx, user.TenantID, fyID)
	h.publishEvent(ctx, user.TenantID, domain.TopicThresholdUpdated, domain.ThresholdUpdatedEvent{
		ThresholdID:  th.ID,
		FiscalYearID: fyID,
		Code:         th.Code,
	})
	h.appendAudit(ctx, user, domain.AuditThresholdUpdated, "threshold", th.ID, map[string]any{
		"fiscal_year_id": fyID,
		"code":           th.Code,
	})

	writeJSON(w, http.StatusCreated, th)
}

// AdminListRuleSets handles GET /admin/rule-sets?fiscal_year_id=.
func (h *Handler) AdminListRuleSets(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	user := GetCurrentUser(ctx)

	fyID := r.URL.Query().Get("fiscal_year_id")
	if fyID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "fiscal_year_id query parameter is required",
		})
		return
	}

	sets, err := h.repo.ListRuleSets(ctx, user.TenantID, fyID)
	if err != nil {
		slog.Error("failed to list rule sets", "fiscal_year_id", fyID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to list rule sets",
		})
		return
	}
	if sets == nil {
		sets = []*domain.RuleSet{}
	}

	writeJSON(w, http.StatusOK, sets)
}

// AdminCreateRuleSet handles POST /admin/rule-sets. The draft gets the next
// version number for its fiscal year; inline rules are validated and stored
// with it.
func (h *Handler) AdminCreateRuleSet(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	user := GetCurrentUser(ctx)

	var req RuleSetCreateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}
	if req.FiscalYearID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "fiscal_year_id is required",
		})
		return
	}
	if _, err := h.repo.GetFiscalYear(ctx, user.TenantID, req.FiscalYearID); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, map[string]string{
				"error": "Fiscal year not found",
			})
			return
		}
		slog.Error("failed to load fiscal year", "id", req.FiscalYearID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to create rule set",
		})
		return
	}

	rs := &domain.RuleSet{
		ID:           uuid.New().String(),
		TenantID:     user.TenantID,
		FiscalYearID: req.FiscalYearID,
		Changelog:    req.Changelog,
		CreatedAt:    time.Now().UTC(),
	}
	if err := h.repo.SaveRuleSet(ctx, user.TenantID, rs); err != nil {
		slog.Error("failed to save rule set", "fiscal_year_id", req.FiscalYearID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to create rule set",
		})
		return
	}

	for i := range req.Rules {
		rr := &req.Rules[i]
		rule := &domain.Rule{
			ID:               uuid.New().String(),
			RuleSetID:        rs.ID,
			ObligationTypeID: rr.ObligationTypeID,
			Code:             rr.Code,
			Name:             rr.Name,
			Description:      rr.Description,
			LogicOperator:    rr.LogicOperator,
			Priority:         rr.Priority,
			ResultIfTrue:     rr.ResultIfTrue,
			IsActive:         true,
			Conditions:       rr.Conditions,
		}
		if rr.IsActive != nil {
			rule.IsActive = *rr.IsActive
		}
		if err := h.repo.SaveRule(ctx, user.TenantID, rule); err != nil {
			if errors.Is(err, domain.ErrInvalidInput) {
				writeJSON(w, http.StatusBadRequest, map[string]string{
					"error": fmt.Sprintf("invalid rule '%s'", rr.Code),
				})
				return
			}
			slog.Error("failed to save rule", "code", rr.Code, "error", err)
			writeJSON(w, http.StatusInternalServerError, map[string]string{
				"error": "failed to create rule set",
			})
			return
		}
	}

	h.appendAudit(ctx, user, domain.AuditRuleSetCreated, "rule_set", rs.ID, map[string]any{
		"fiscal_year_id": rs.FiscalYearID,
		"version":        rs.Version,
		"rule_count":     len(req.Rules),
	})

	created, err := h.repo.GetRuleSet(ctx, user.TenantID, rs.ID)
	if err != nil {
		writeJSON(w, http.StatusCreated, rs)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

// AdminPublishRuleSet handles POST /admin/rule-sets/{id}/publish. On success
// the previously active set of the fiscal year is deprecated in the same
// transaction; cached derived state for the year is dropped everywhere.
func (h *Handler) AdminPublishRuleSet(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	user := GetCurrentUser(ctx)

	rsID := chi.URLParam(r, "id")

	// Resolve the set being replaced before the transition so its
	// deprecation can be audited afterwards.
	var previous *domain.RuleSet
	if draft, err := h.repo.GetRuleSet(ctx, user.TenantID, rsID); err == nil {
		previous, _ = h.repo.GetActiveRuleSet(ctx, user.TenantID, draft.FiscalYearID)
	}

	published, err := h.repo.PublishRuleSet(ctx, user.TenantID, rsID)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrNotFound):
			writeJSON(w, http.StatusNotFound, map[string]string{
				"error": "Rule set not found",
			})
		case errors.Is(err, domain.ErrConflict):
			writeJSON(w, http.StatusConflict, map[string]string{
				"error": "only draft rule sets can be published",
			})
		case errors.Is(err, domain.ErrInvalidInput):
			writeJSON(w, http.StatusBadRequest, map[string]string{
				"error": "rule set has no rules",
			})
		default:
			slog.Error("failed to publish rule set", "id", rsID, "error", err)
			writeJSON(w, http.StatusInternalServerError, map[string]string{
				"error": "failed to publish rule set",
			})
		}
		return
	}

	h.invalidateFiscalYear(ctx, user.TenantID, published.FiscalYearID)
	h.publishEvent(ctx, user.TenantID, domain.TopicRuleSetPublished, domain.RuleSetPublishedEvent{
		RuleSetID:    published.ID,
		FiscalYearID: published.FiscalYearID,
		Version:      published.Version,
	})
	if previous != nil && previous.ID != published.ID {
		h.appendAudit(ctx, user, domain.AuditRuleSetDeprecated, "rule_set", previous.ID, map[string]any{
			"fiscal_year_id": previous.FiscalYearID,
			"version":        previous.Version,
			"replaced_by":    published.ID,
		})
	}
	h.appendAudit(ctx, user, domain.AuditRuleSetPublished, "rule_set", published.ID, map[string]any{
		"fiscal_year_id": published.FiscalYearID,
		"version":        published.Version,
	})

	writeJSON(w, http.StatusOK, published)
}

// invalidateFiscalYear drops the year's cached derived state on this
// instance. Other instances learn through the bus; the worker's handler is
// idempotent, so invalidating twice is harmless.
func (h *Handler) invalidateFiscalYear(ctx context.Context, tenantID, fyID string) {
	if err := h.cache.DeleteByPrefix(ctx, tenantID, domain.FiscalYearPrefix(fyID)); err != nil {
		slog.Warn("failed to invalidate fiscal year cache", "fiscal_year_id", fyID, "error", err)
	}
}

// publishEvent marshals and publishes a bus event. Delivery is best effort:
// failures are logged and never fail the request that triggered them.
func (h *Handler) publishEvent(ctx context.Context, tenantID, topic string, event any) {
	payload, err := json.Marshal(event)
	if err != nil {
		slog.Warn("failed to marshal event", "topic", topic, "error", err)
		return
	}
	if err := h.bus.Publish(ctx, tenantID, topic, payload); err != nil {
		slog.Warn("failed to publish event", "topic", topic, "error", err)
	}
}

// appendAudit records an admin mutation or evaluation run. Audit writes are
// logged on failure but never fail the request.
func (h *Handler) appendAudit(ctx context.Context, user *CurrentUser, action, entityType, entityID string, detail map[string]any) {
	raw, _ := json.Marshal(detail)
	entry := &domain.AuditEntry{
		ID:         uuid.New().String(),
		TenantID:   user.TenantID,
		ActorID:    user.UserID,
		Action:     action,
		EntityType: entityType,
		EntityID:   entityID,
		Detail:     raw,
		CreatedAt:  time.Now().UTC(),
	}
	if err := h.repo.AppendAudit(ctx, user.TenantID, entry); err != nil {
		slog.Warn("failed to append audit entry", "action", action, "error", err)
	}
}
