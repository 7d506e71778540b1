package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/opensource-finance/condor/internal/domain"
)

// ProfileRequest is the request body for POST /profiles. Monetary amounts
// may arrive as JSON numbers or strings; either way they parse to decimals
// and floats never enter a decision.
type ProfileRequest struct {
	FiscalYearID            string           `json:"fiscal_year_id"`
	PersonaType             string           `json:"persona_type"`
	Regime                  string           `json:"regime"`
	IsIVAResponsable        bool             `json:"is_iva_responsable"`
	IngresosBrutosCOP       decimal.Decimal  `json:"ingresos_brutos_cop"`
	PatrimonioBrutoCOP      *decimal.Decimal `json:"patrimonio_bruto_cop,omitempty"`
	ConsignacionesCOP       *decimal.Decimal `json:"consignaciones_cop,omitempty"`
	ComprasConsumosCOP      *decimal.Decimal `json:"compras_consumos_cop,omitempty"`
	HasEmployees            bool             `json:"has_employees"`
	EmployeeCount           int              `json:"employee_count"`
	EconomicActivityCIIU    string           `json:"economic_activity_ciiu,omitempty"`
	EconomicActivities      []string         `json:"economic_activities,omitempty"`
	City                    string           `json:"city,omitempty"`
	Department              string           `json:"department,omitempty"`
	HasRUT                  bool             `json:"has_rut"`
	HasComercioRegistration bool             `json:"has_comercio_registration"`
	NITLastDigit            *int             `json:"nit_last_digit,omitempty"`
	AdditionalData          map[string]any   `json:"additional_data,omitempty"`
}

// ProfileUpdateRequest is the request body for PUT /profiles/{id}. Absent
// fields keep their stored values.
type ProfileUpdateRequest struct {
	PersonaType             *string          `json:"persona_type,omitempty"`
	Regime                  *string          `json:"regime,omitempty"`
	IsIVAResponsable        *bool            `json:"is_iva_responsable,omitempty"`
	IngresosBrutosCOP       *decimal.Decimal `json:"ingresos_brutos_cop,omitempty"`
	PatrimonioBrutoCOP      *decimal.Decimal `json:"patrimonio_bruto_cop,omitempty"`
	ConsignacionesCOP       *decimal.Decimal `json:"consignaciones_cop,omitempty"`
	ComprasConsumosCOP      *decimal.Decimal `json:"compras_consumos_cop,omitempty"`
	HasEmployees            *bool            `json:"has_employees,omitempty"`
	EmployeeCount           *int             `json:"employee_count,omitempty"`
	EconomicActivityCIIU    *string          `json:"economic_activity_ciiu,omitempty"`
	EconomicActivities      []string         `json:"economic_activities,omitempty"`
	City                    *string          `json:"city,omitempty"`
	Department              *string          `json:"department,omitempty"`
	HasRUT                  *bool            `json:"has_rut,omitempty"`
	HasComercioRegistration *bool            `json:"has_comercio_registration,omitempty"`
	NITLastDigit            *int             `json:"nit_last_digit,omitempty"`
	AdditionalData          map[string]any   `json:"additional_data,omitempty"`
}

// CreateProfile handles POST /profiles. One profile exists per (user, fiscal
// year); posting again for the same year overwrites the declared data.
func (h *Handler) CreateProfile(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	user := GetCurrentUser(ctx)

	var req ProfileRequest
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
	if req.PersonaType != domain.PersonaNatural && req.PersonaType != domain.PersonaJuridica {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "persona_type must be 'natural' or 'juridica'",
		})
		return
	}

	if _, err := h.repo.GetFiscalYear(ctx, user.TenantID, req.FiscalYearID); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			writeJSON(w, http.StatusBadRequest, map[string]string{
				"error": "fiscal year not found",
			})
			return
		}
		slog.Error("failed to load fiscal year", "id", req.FiscalYearID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to create profile",
		})
		return
	}

	now := time.Now().UTC()
	profile := &domain.TaxProfile{
		ID:                      uuid.New().String(),
		UserID:                  user.UserID,
		TenantID:                user.TenantID,
		FiscalYearID:            req.FiscalYearID,
		PersonaType:             req.PersonaType,
		Regime:                  req.Regime,
		IsIVAResponsable:        req.IsIVAResponsable,
		IngresosBrutosCOP:       req.IngresosBrutosCOP,
		PatrimonioBrutoCOP:      req.PatrimonioBrutoCOP,
		ConsignacionesCOP:       req.ConsignacionesCOP,
		ComprasConsumosCOP:      req.ComprasConsumosCOP,
		HasEmployees:            req.HasEmployees,
		EmployeeCount:           req.EmployeeCount,
		EconomicActivityCIIU:    req.EconomicActivityCIIU,
		EconomicActivities:      req.EconomicActivities,
		City:                    req.City,
		Department:              req.Department,
		HasRUT:                  req.HasRUT,
		HasComercioRegistration: req.HasComercioRegistration,
		NITLastDigit:            req.NITLastDigit,
		AdditionalData:          req.AdditionalData,
		CreatedAt:               now,
		UpdatedAt:               now,
	}

	if err := profile.Validate(); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid profile data",
		})
		return
	}

	// The (user, fiscal year) pair is the natural key. If a profile already
	// exists for the year, keep its identity and overwrite the declared data.
	if existing, err := h.repo.GetTaxProfileByUserYear(ctx, user.TenantID, user.UserID, req.FiscalYearID); err == nil {
		profile.ID = existing.ID
		profile.CreatedAt = existing.CreatedAt
	}

	if err := h.repo.SaveTaxProfile(ctx, user.TenantID, profile); err != nil {
		slog.Error("failed to save profile", "user_id", user.UserID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to create profile",
		})
		return
	}

	writeJSON(w, http.StatusCreated, profile)
}

// ListProfiles handles GET /profiles.
func (h *Handler) ListProfiles(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	user := GetCurrentUser(ctx)

	profiles, err := h.repo.ListTaxProfiles(ctx, user.TenantID, user.UserID)
	if err != nil {
		slog.Error("failed to list profiles", "user_id", user.UserID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to list profiles",
		})
		return
	}
	if profiles == nil {
		profiles = []*domain.TaxProfile{}
	}

	writeJSON(w, http.StatusOK, profiles)
}

// GetProfile handles GET /profiles/{id}. A profile owned by someone else
// reads as not found.
func (h *Handler) GetProfile(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	user := GetCurrentUser(ctx)

	profile, ok := h.loadOwnedProfile(w, r, user)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, profile)
}

// UpdateProfile handles PUT /profiles/{id}.
func (h *Handler) UpdateProfile(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	user := GetCurrentUser(ctx)

	profile, ok := h.loadOwnedProfile(w, r, user)
	if !ok {
		return
	}

	var req ProfileUpdateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}

	applyProfileUpdate(profile, &req)
	profile.UpdatedAt = time.Now().UTC()

	if err := profile.Validate(); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid profile data",
		})
		return
	}

	if err := h.repo.SaveTaxProfile(ctx, user.TenantID, profile); err != nil {
		slog.Error("failed to update profile", "id", profile.ID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to update profile",
		})
		return
	}

	writeJSON(w, http.StatusOK, profile)
}

// DeleteProfile handles DELETE /profiles/{id}.
func (h *Handler) DeleteProfile(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	user := GetCurrentUser(ctx)

	profile, ok := h.loadOwnedProfile(w, r, user)
	if !ok {
		return
	}

	if err := h.repo.DeleteTaxProfile(ctx, user.TenantID, profile.ID); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, map[string]string{
				"error": "Profile not found",
			})
			return
		}
		slog.Error("failed to delete profile", "id", profile.ID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to delete profile",
		})
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// loadOwnedProfile fetches the path profile and enforces ownership. It
// writes the error response itself and reports success via ok.
func (h *Handler) loadOwnedProfile(w http.ResponseWriter, r *http.Request, user *CurrentUser) (*domain.TaxProfile, bool) {
	profileID := chi.URLParam(r, "id")
	if profileID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "profile id is required",
		})
		return nil, false
	}

	profile, err := h.repo.GetTaxProfile(r.Context(), user.TenantID, profileID)
	if err != nil || profile.UserID != user.UserID {
		if err != nil && !errors.Is(err, domain.ErrNotFound) {
			slog.Error("failed to load profile", "id", profileID, "error", err)
			writeJSON(w, http.StatusInternalServerError, map[string]string{
				"error": "failed to load profile",
			})
			return nil, false
		}
		writeJSON(w, http.StatusNotFound, map[string]string{
			"error": "Profile not found",
		})
		return nil, false
	}

	return profile, true
}

func applyProfileUpdate(p *domain.TaxProfile, req *ProfileUpdateRequest) {
	if req.PersonaType != nil {
		p.PersonaType = *req.PersonaType
	}
	if req.Regime != nil {
		p.Regime = *req.Regime
	}
	if req.IsIVAResponsable != nil {
		p.IsIVAResponsable = *req.IsIVAResponsable
	}
	if req.IngresosBrutosCOP != nil {
		p.IngresosBrutosCOP = *req.IngresosBrutosCOP
	}
	if req.PatrimonioBrutoCOP != nil {
		p.PatrimonioBrutoCOP = req.PatrimonioBrutoCOP
	}
	if req.ConsignacionesCOP != nil {
		p.ConsignacionesCOP = req.ConsignacionesCOP
	}
	if req.ComprasConsumosCOP != nil {
		p.ComprasConsumosCOP = req.ComprasConsumosCOP
	}
	if req.HasEmployees != nil {
		p.HasEmployees = *req.HasEmployees
	}
	if req.EmployeeCount != nil {
		p.EmployeeCount = *req.EmployeeCount
	}
	if req.EconomicActivityCIIU != nil {
		p.EconomicActivityCIIU = *req.EconomicActivityCIIU
	}
	if req.EconomicActivities != nil {
		p.EconomicActivities = req.EconomicActivities
	}
	if req.City != nil {
		p.City = *req.City
	}
	if req.Department != nil {
		p.Department = *req.Department
	}
	if req.HasRUT != nil {
		p.HasRUT = *req.HasRUT
	}
	if req.HasComercioRegistration != nil {
		p.HasComercioRegistration = *req.HasComercioRegistration
	}
	if req.NITLastDigit != nil {
		p.NITLastDigit = req.NITLastDigit
	}
	if req.AdditionalData != nil {
		p.AdditionalData = req.AdditionalData
	}
}
