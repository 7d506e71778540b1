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
	"github.com/opensource-finance/condor/internal/engine"
)

// derivedStateTTL bounds staleness of cached per-year derived state, the
// resolved threshold map and the active rule set. Publishes and threshold
// updates invalidate eagerly; the TTL covers missed events.
const derivedStateTTL = 5 * time.Minute

// EvaluationRequest is the request body for POST /evaluations.
type EvaluationRequest struct {
	TaxProfileID string `json:"tax_profile_id"`
}

// CreateEvaluation handles POST /evaluations. It freezes the profile, runs
// the engine against the fiscal year's active rule set and persists the
// decision with its full condition trace.
func (h *Handler) CreateEvaluation(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	user := GetCurrentUser(ctx)

	if h.limiter != nil {
		allowed, err := h.limiter.AllowEvaluation(ctx, user.TenantID, user.UserID)
		if err != nil {
			slog.Warn("evaluation rate limit check failed", "error", err)
		}
		if !allowed {
			writeJSON(w, http.StatusTooManyRequests, map[string]string{
				"error": "evaluation rate limit exceeded",
			})
			return
		}
	}

	var req EvaluationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}
	if req.TaxProfileID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "tax_profile_id is required",
		})
		return
	}

	profile, err := h.repo.GetTaxProfile(ctx, user.TenantID, req.TaxProfileID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, map[string]string{
				"error": "Tax profile not found",
			})
			return
		}
		slog.Error("failed to load profile", "id", req.TaxProfileID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to run evaluation",
		})
		return
	}
	if profile.UserID != user.UserID {
		writeJSON(w, http.StatusForbidden, map[string]string{
			"error": "Profile does not belong to user",
		})
		return
	}

	fy, err := h.repo.GetFiscalYear(ctx, user.TenantID, profile.FiscalYearID)
	if err != nil {
		slog.Error("failed to load fiscal year", "id", profile.FiscalYearID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to run evaluation",
		})
		return
	}

	ruleSet, err := h.resolveActiveRuleSet(ctx, user.TenantID, fy.ID)
	if err != nil {
		if errors.Is(err, domain.ErrNoActiveRuleSet) {
			writeJSON(w, http.StatusConflict, map[string]string{
				"error": fmt.Sprintf("No active rule set for fiscal year %d", fy.Year),
			})
			return
		}
		slog.Error("failed to load active rule set", "fiscal_year_id", fy.ID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to run evaluation",
		})
		return
	}

	thresholdMap, err := h.resolveThresholds(ctx, user.TenantID, fy)
	if err != nil {
		slog.Error("failed to resolve thresholds", "fiscal_year_id", fy.ID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to run evaluation",
		})
		return
	}

	obligations, err := h.resolveObligations(ctx, user.TenantID)
	if err != nil {
		slog.Error("failed to list obligations", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to run evaluation",
		})
		return
	}

	periodicities, err := h.repo.ListPeriodicities(ctx, user.TenantID, fy.ID)
	if err != nil {
		slog.Error("failed to list periodicities", "fiscal_year_id", fy.ID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to run evaluation",
		})
		return
	}
	periodicityByType := make(map[string]string, len(periodicities))
	for _, p := range periodicities {
		periodicityByType[p.ObligationTypeID] = p.Frequency
	}

	results, err := h.engine.Evaluate(ctx, &engine.Input{
		Profile:       profile,
		FiscalYear:    fy,
		RuleSet:       ruleSet,
		Obligations:   obligations,
		Thresholds:    thresholdMap,
		Periodicities: periodicityByType,
	})
	if err != nil {
		slog.Error("engine evaluation failed", "profile_id", profile.ID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to run evaluation",
		})
		return
	}

	snapshot, err := profile.Snapshot()
	if err != nil {
		slog.Error("failed to snapshot profile", "profile_id", profile.ID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to run evaluation",
		})
		return
	}

	eval := &domain.Evaluation{
		ID:              uuid.New().String(),
		UserID:          user.UserID,
		TenantID:        user.TenantID,
		TaxProfileID:    profile.ID,
		RuleSetID:       ruleSet.ID,
		FiscalYearID:    fy.ID,
		Status:          domain.EvaluationCompleted,
		EvaluatedAt:     time.Now().UTC(),
		ProfileSnapshot: snapshot,
		Results:         results,
	}

	if err := h.repo.SaveEvaluation(ctx, user.TenantID, eval); err != nil {
		slog.Error("failed to save evaluation", "id", eval.ID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to run evaluation",
		})
		return
	}
	h.evaluationsRun.Add(1)

	summary := eval.Summarize()
	h.publishEvent(ctx, user.TenantID, domain.TopicEvaluationCompleted, domain.EvaluationCompletedEvent{
		EvaluationID: eval.ID,
		UserID:       user.UserID,
		FiscalYearID: fy.ID,
		RuleSetID:    ruleSet.ID,
		AppliesCount: summary.Applies,
	})
	h.appendAudit(ctx, user, domain.AuditEvaluationRun, "evaluation", eval.ID, map[string]any{
		"rule_set_id":   ruleSet.ID,
		"applies_count": summary.Applies,
	})

	version, text := h.currentDisclaimer(ctx)
	writeJSON(w, http.StatusCreated, eval.ToResponse(fy.Year, version, text))
}

// ListEvaluations handles GET /evaluations. Returns the caller's most recent
// evaluations as summaries, newest first.
func (h *Handler) ListEvaluations(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	user := GetCurrentUser(ctx)

	evals, err := h.repo.ListEvaluations(ctx, user.TenantID, user.UserID, 50)
	if err != nil {
		slog.Error("failed to list evaluations", "user_id", user.UserID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to list evaluations",
		})
		return
	}

	items := make([]map[string]any, 0, len(evals))
	for _, e := range evals {
		items = append(items, map[string]any{
			"id":             e.ID,
			"fiscal_year_id": e.FiscalYearID,
			"status":         e.Status,
			"evaluated_at":   e.EvaluatedAt.UTC().Format(time.RFC3339),
			"summary":        e.Summarize(),
		})
	}

	writeJSON(w, http.StatusOK, items)
}

// GetEvaluation handles GET /evaluations/{id}. Someone else's evaluation
// reads as not found.
func (h *Handler) GetEvaluation(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	user := GetCurrentUser(ctx)

	evalID := chi.URLParam(r, "id")
	eval, err := h.repo.GetEvaluation(ctx, user.TenantID, evalID)
	if err != nil || eval.UserID != user.UserID {
		if err != nil && !errors.Is(err, domain.ErrNotFound) {
			slog.Error("failed to load evaluation", "id", evalID, "error", err)
			writeJSON(w, http.StatusInternalServerError, map[string]string{
				"error": "failed to load evaluation",
			})
			return
		}
		writeJSON(w, http.StatusNotFound, map[string]string{
			"error": "Evaluation not found",
		})
		return
	}

	year := 0
	if fy, err := h.repo.GetFiscalYear(ctx, user.TenantID, eval.FiscalYearID); err == nil {
		year = fy.Year
	}

	version, text := h.currentDisclaimer(ctx)
	writeJSON(w, http.StatusOK, eval.ToResponse(year, version, text))
}

// resolveThresholds returns the fiscal year's resolved threshold map,
// serving from cache when warm and rebuilding from storage on a miss.
func (h *Handler) resolveThresholds(ctx context.Context, tenantID string, fy *domain.FiscalYear) (map[string]decimal.Decimal, error) {
	if cached, err := h.cache.GetThresholdMap(ctx, tenantID, fy.ID); err == nil && cached != nil {
		return cached, nil
	}
	h.cacheMissesSeen.Add(1)

	thresholds, err := h.repo.ListThresholds(ctx, tenantID, fy.ID)
	if err != nil {
		return nil, err
	}
	m := engine.BuildThresholdMap(fy, thresholds)

	if err := h.cache.SetThresholdMap(ctx, tenantID, fy.ID, m, derivedStateTTL); err != nil {
		slog.Warn("failed to cache threshold map", "fiscal_year_id", fy.ID, "error", err)
	}
	return m, nil
}

// resolveActiveRuleSet returns the fiscal year's active rule set, serving
// from cache when warm. Only positive lookups are cached: a year without an
// active set stays a repository read so a publish takes effect immediately.
func (h *Handler) resolveActiveRuleSet(ctx context.Context, tenantID string, fyID string) (*domain.RuleSet, error) {
	if raw, err := h.cache.Get(ctx, tenantID, domain.ActiveRuleSetKey(fyID)); err == nil && raw != nil {
		var rs domain.RuleSet
		if err := json.Unmarshal(raw, &rs); err == nil {
			return &rs, nil
		}
	}
	h.cacheMissesSeen.Add(1)

	rs, err := h.repo.GetActiveRuleSet(ctx, tenantID, fyID)
	if err != nil {
		return nil, err
	}
	if raw, err := json.Marshal(rs); err == nil {
		if err := h.cache.Set(ctx, tenantID, domain.ActiveRuleSetKey(fyID), raw, derivedStateTTL); err != nil {
			slog.Warn("failed to cache rule set", "fiscal_year_id", fyID, "error", err)
		}
	}
	return rs, nil
}

// currentDisclaimer returns the active disclaimer version and text, falling
// back to the built-in defaults when none has been seeded.
func (h *Handler) currentDisclaimer(ctx context.Context) (int, string) {
	d, err := h.repo.GetCurrentDisclaimer(ctx)
	if err != nil {
		return domain.DefaultDisclaimerVersion, domain.DisclaimerText
	}
	return d.Version, d.Text
}
