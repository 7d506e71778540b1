//go:build integration
// +build integration

// Package integration provides end-to-end tests for the Condor decision engine.
//
// These tests run the COMPLETE pipeline over real HTTP:
//
//	Profile → Active Rule Set → Engine → Decision → Calendar
//
// Run with: go test -tags=integration -v ./tests/integration/...
//
// UNDERSTANDING THE DOMAIN:
//
// 1. FISCAL YEAR: One Colombian tax year with its UVT value. For 2025 one
//    UVT is 49,641 COP. Thresholds are written in UVT so yearly adjustments
//    never require editing rules.
//
// 2. OBLIGATION: A tax duty from the seeded catalog: renta, iva, ica,
//    retefuente, nomina_seguridad_social, exogena.
//
// 3. RULE: Versioned conditions over the declared profile. Rules resolve
//    threshold references against the fiscal year and decide one of:
//    applies / does_not_apply / conditional / needs_more_info.
//
// 4. EVALUATION: An immutable decision record with the full condition trace,
//    a plain-language explanation and legal references per obligation.
//
// 5. CALENDAR: The worker turns every applies decision into deadline entries.
//
// KEY 2025 THRESHOLDS (from the seeded corpus):
//
// | Threshold               | UVT    | COP           | Guards              |
// |-------------------------|--------|---------------|---------------------|
// | renta_pn_ingresos_tope  | 1,400  | 69,497,400    | income tax filing   |
// | iva_responsable_tope    | 3,500  | 173,743,500   | IVA responsibility  |
// | exogena_tope            | 2,016  | 100,076,256   | exogena reporting   |
// | retefuente_agente_tope  | 30,000 | 1,489,230,000 | withholding agent   |
//
// Every test builds its own database, seeds the 2025 corpus and starts the
// full stack in-process, so runs never depend on external state.
package integration

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/opensource-finance/condor/internal/api"
	"github.com/opensource-finance/condor/internal/bus"
	"github.com/opensource-finance/condor/internal/cache"
	"github.com/opensource-finance/condor/internal/domain"
	"github.com/opensource-finance/condor/internal/engine"
	"github.com/opensource-finance/condor/internal/repository"
	"github.com/opensource-finance/condor/internal/seed"
	"github.com/opensource-finance/condor/internal/worker"
)

// ============================================================================
// API Request/Response Types (matching Condor's API contract)
// ============================================================================

// TokenResponse is what the auth endpoints return.
type TokenResponse struct {
	AccessToken string `json:"access_token"`
	TenantID    string `json:"tenant_id"`
}

// FiscalYearInfo is one entry of GET /fiscal-years.
type FiscalYearInfo struct {
	ID   string `json:"id"`
	Year int    `json:"year"`
}

// ProfileRequest is the declared taxpayer situation sent to POST /profiles.
// Monetary amounts travel as decimal strings.
type ProfileRequest struct {
	FiscalYearID            string `json:"fiscal_year_id"`
	PersonaType             string `json:"persona_type"`
	Regime                  string `json:"regime,omitempty"`
	IsIVAResponsable        bool   `json:"is_iva_responsable,omitempty"`
	IngresosBrutosCOP       string `json:"ingresos_brutos_cop"`
	PatrimonioBrutoCOP      string `json:"patrimonio_bruto_cop,omitempty"`
	HasEmployees            bool   `json:"has_employees,omitempty"`
	EmployeeCount           int    `json:"employee_count,omitempty"`
	City                    string `json:"city,omitempty"`
	HasComercioRegistration bool   `json:"has_comercio_registration,omitempty"`
	HasRUT                  bool   `json:"has_rut,omitempty"`
}

// EvaluationResult is what POST /evaluations returns.
type EvaluationResult struct {
	ID          string               `json:"id"`
	EvaluatedAt string               `json:"evaluated_at"`
	FiscalYear  int                  `json:"fiscal_year"`
	Results     []ObligationDecision `json:"results"`
	Summary     DecisionSummary      `json:"summary"`
	Disclaimer  DisclaimerInfo       `json:"disclaimer"`
}

type ObligationDecision struct {
	Obligation struct {
		Code              string `json:"code"`
		Name              string `json:"name"`
		Category          string `json:"category"`
		ResponsibleEntity string `json:"responsible_entity"`
	} `json:"obligation"`
	Result              string           `json:"result"`
	Periodicity         string           `json:"periodicity"`
	Explanation         string           `json:"explanation"`
	LegalReferences     []string         `json:"legal_references"`
	ConditionsEvaluated []ConditionTrace `json:"conditions_evaluated"`
}

type ConditionTrace struct {
	Field          string `json:"field"`
	Operator       string `json:"operator"`
	ProfileValue   any    `json:"profile_value"`
	ThresholdCode  string `json:"threshold_code"`
	ThresholdValue any    `json:"threshold_value"`
	Passes         bool   `json:"passes"`
}

type DecisionSummary struct {
	TotalObligationsEvaluated int `json:"total_obligations_evaluated"`
	Applies                   int `json:"applies"`
	DoesNotApply              int `json:"does_not_apply"`
	Conditional               int `json:"conditional"`
	NeedsMoreInfo             int `json:"needs_more_info"`
}

type DisclaimerInfo struct {
	Version             int    `json:"version"`
	Text                string `json:"text"`
	IsInformationalOnly bool   `json:"is_informational_only"`
}

// RuleSetInfo is the admin wire form of a rule set.
type RuleSetInfo struct {
	ID           string `json:"id"`
	FiscalYearID string `json:"fiscal_year_id"`
	Version      int    `json:"version"`
	Status       string `json:"status"`
}

// CalendarEntryInfo is one materialized deadline from GET /calendar.
type CalendarEntryInfo struct {
	ID             string `json:"id"`
	EvaluationID   string `json:"evaluation_id"`
	ObligationCode string `json:"obligation_code"`
	Periodicity    string `json:"periodicity"`
	Status         string `json:"status"`
}

// ============================================================================
// Test Environment
// ============================================================================

// testEnv runs the whole stack: temp-file SQLite seeded with the 2025
// corpus, in-memory cache, channel bus, calendar worker and the HTTP server.
type testEnv struct {
	ts     *httptest.Server
	repo   domain.Repository
	client *http.Client
}

func startEnv(t *testing.T) *testEnv {
	t.Helper()

	repo, err := repository.New(domain.RepositoryConfig{
		Driver:     "sqlite",
		SQLitePath: filepath.Join(t.TempDir(), "condor-e2e.db"),
	})
	if err != nil {
		t.Fatalf("Failed to create repository: %v", err)
	}
	t.Cleanup(func() { repo.Close() })

	if err := seed.New(repo).Run(context.Background(), api.DefaultTenant); err != nil {
		t.Fatalf("Failed to seed corpus: %v", err)
	}

	c, err := cache.New(domain.CacheConfig{Type: "memory", LocalMaxSize: 512})
	if err != nil {
		t.Fatalf("Failed to create cache: %v", err)
	}
	t.Cleanup(func() { c.Close() })

	b := bus.NewChannelBus(64)
	t.Cleanup(func() { b.Close() })

	w := worker.NewWorker(b, repo, c)
	if err := w.Start(worker.Config{}); err != nil {
		t.Fatalf("Failed to start worker: %v", err)
	}
	t.Cleanup(func() { w.Stop() })

	cfg := domain.DefaultConfig()
	cfg.Auth.JWTSecret = "integration-secret"
	cfg.Auth.BcryptCost = bcrypt.MinCost

	server := api.NewServer(cfg, repo, c, b, engine.NewEngine(), nil, "integration")
	ts := httptest.NewServer(server.Router())
	t.Cleanup(ts.Close)

	return &testEnv{
		ts:     ts,
		repo:   repo,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

// do performs a JSON request and returns the response status and body.
func (e *testEnv) do(t *testing.T, method, path, token string, payload any) (int, []byte) {
	t.Helper()

	var body *bytes.Buffer
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			t.Fatalf("Failed to marshal request: %v", err)
		}
		body = bytes.NewBuffer(raw)
	} else {
		body = bytes.NewBuffer(nil)
	}

	req, err := http.NewRequest(method, e.ts.URL+path, body)
	if err != nil {
		t.Fatalf("Failed to create request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := e.client.Do(req)
	if err != nil {
		t.Fatalf("Request failed: %v", err)
	}
	defer resp.Body.Close()

	var buf bytes.Buffer
	if _, err := buf.ReadFrom(resp.Body); err != nil {
		t.Fatalf("Failed to read response: %v", err)
	}
	return resp.StatusCode, buf.Bytes()
}

// registerUser creates a fresh account and returns its access token.
func (e *testEnv) registerUser(t *testing.T, email string) string {
	t.Helper()

	status, body := e.do(t, "POST", "/api/v1/auth/register", "", map[string]string{
		"email":     email,
		"password":  "integration-password",
		"full_name": "Integration User",
	})
	if status != http.StatusCreated {
		t.Fatalf("Register failed with status %d: %s", status, body)
	}

	var tokens TokenResponse
	if err := json.Unmarshal(body, &tokens); err != nil {
		t.Fatalf("Failed to parse register response: %v", err)
	}
	return tokens.AccessToken
}

// adminToken seeds an admin account directly and logs in through the API.
func (e *testEnv) adminToken(t *testing.T) string {
	t.Helper()

	hash, err := api.HashPassword("admin-password", bcrypt.MinCost)
	if err != nil {
		t.Fatalf("Failed to hash password: %v", err)
	}
	admin := &domain.User{
		ID:           uuid.New().String(),
		TenantID:     api.DefaultTenant,
		Email:        "admin@condor.e2e",
		PasswordHash: hash,
		FullName:     "Admin",
		Role:         domain.RoleAdmin,
		IsActive:     true,
		CreatedAt:    time.Now().UTC(),
	}
	if err := e.repo.SaveUser(context.Background(), api.DefaultTenant, admin); err != nil {
		t.Fatalf("Failed to seed admin: %v", err)
	}

	status, body := e.do(t, "POST", "/api/v1/auth/login", "", map[string]string{
		"email":    admin.Email,
		"password": "admin-password",
	})
	if status != http.StatusOK {
		t.Fatalf("Admin login failed with status %d: %s", status, body)
	}

	var tokens TokenResponse
	if err := json.Unmarshal(body, &tokens); err != nil {
		t.Fatalf("Failed to parse login response: %v", err)
	}
	return tokens.AccessToken
}

// fiscalYearID resolves a year from the public catalog.
func (e *testEnv) fiscalYearID(t *testing.T, year int) string {
	t.Helper()

	status, body := e.do(t, "GET", "/api/v1/fiscal-years", "", nil)
	if status != http.StatusOK {
		t.Fatalf("Fiscal year listing failed with status %d: %s", status, body)
	}

	var years []FiscalYearInfo
	if err := json.Unmarshal(body, &years); err != nil {
		t.Fatalf("Failed to parse fiscal years: %v", err)
	}
	for _, fy := range years {
		if fy.Year == year {
			return fy.ID
		}
	}
	t.Fatalf("Fiscal year %d not found in catalog", year)
	return ""
}

// declareProfile posts a profile and returns its ID. Re-declaring for the
// same year keeps the ID and replaces the stored data.
func (e *testEnv) declareProfile(t *testing.T, token string, p ProfileRequest) string {
	t.Helper()

	status, body := e.do(t, "POST", "/api/v1/profiles", token, p)
	if status != http.StatusCreated {
		t.Fatalf("Profile declaration failed with status %d: %s", status, body)
	}

	var profile struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(body, &profile); err != nil {
		t.Fatalf("Failed to parse profile response: %v", err)
	}
	return profile.ID
}

// evaluate runs one evaluation against the profile's fiscal year.
func (e *testEnv) evaluate(t *testing.T, token, profileID string) EvaluationResult {
	t.Helper()

	status, body := e.do(t, "POST", "/api/v1/evaluations", token, map[string]string{
		"tax_profile_id": profileID,
	})
	if status != http.StatusCreated {
		t.Fatalf("Evaluation failed with status %d: %s", status, body)
	}

	var result EvaluationResult
	if err := json.Unmarshal(body, &result); err != nil {
		t.Fatalf("Failed to parse evaluation response: %v", err)
	}
	return result
}

// resultFor finds one obligation's decision in an evaluation.
func resultFor(t *testing.T, eval EvaluationResult, code string) ObligationDecision {
	t.Helper()
	for _, r := range eval.Results {
		if r.Obligation.Code == code {
			return r
		}
	}
	t.Fatalf("Obligation %q missing from evaluation results", code)
	return ObligationDecision{}
}

// waitFor polls cond until it holds or the deadline passes. The calendar is
// materialized asynchronously off the event bus, so assertions about it poll.
func waitFor(timeout time.Duration, cond func() bool) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(25 * time.Millisecond)
	}
	return cond()
}

// ============================================================================
// SCENARIO 1: High-Income Employer (Core Obligations Apply)
// ============================================================================

func TestHighIncomeEmployer_CoreObligationsApply(t *testing.T) {
	/*
	   SCENARIO: A Bogotá merchant in the ordinary regime with 500M COP gross
	   income and five employees.

	   EXPECTED DECISIONS (2025 corpus):
	   - renta:      500M ≥ 69,497,400 (1,400 UVT)        → applies
	   - iva:        ordinario AND 500M ≥ 173,743,500      → applies
	   - ica:        comercio registration AND city set    → applies
	   - retefuente: 500M < 1,489,230,000 (30,000 UVT)     → does_not_apply
	   - nomina:     has employees                         → applies
	   - exogena:    500M ≥ 100,076,256 (2,016 UVT)        → applies
	*/
	env := startEnv(t)
	token := env.registerUser(t, "comerciante@condor.e2e")
	fy2025 := env.fiscalYearID(t, 2025)

	profileID := env.declareProfile(t, token, ProfileRequest{
		FiscalYearID:            fy2025,
		PersonaType:             "natural",
		Regime:                  "ordinario",
		IngresosBrutosCOP:       "500000000",
		HasEmployees:            true,
		EmployeeCount:           5,
		City:                    "Bogotá",
		HasComercioRegistration: true,
		HasRUT:                  true,
	})

	eval := env.evaluate(t, token, profileID)

	expected := []struct {
		code string
		want string
	}{
		{"renta", "applies"},
		{"iva", "applies"},
		{"ica", "applies"},
		{"retefuente", "does_not_apply"},
		{"nomina_seguridad_social", "applies"},
		{"exogena", "applies"},
	}
	for _, tc := range expected {
		if got := resultFor(t, eval, tc.code).Result; got != tc.want {
			t.Errorf("Expected %s → %s, got %s", tc.code, tc.want, got)
		}
	}

	if eval.Summary.TotalObligationsEvaluated != 6 {
		t.Errorf("Expected 6 obligations evaluated, got %d", eval.Summary.TotalObligationsEvaluated)
	}
	if eval.Summary.Applies != 5 || eval.Summary.DoesNotApply != 1 {
		t.Errorf("Expected summary 5 applies / 1 does_not_apply, got %+v", eval.Summary)
	}
	if eval.FiscalYear != 2025 {
		t.Errorf("Expected fiscal year 2025, got %d", eval.FiscalYear)
	}

	// Periodicities ride along from the corpus
	if got := resultFor(t, eval, "renta").Periodicity; got != "anual" {
		t.Errorf("Expected renta periodicity anual, got %q", got)
	}
	if got := resultFor(t, eval, "iva").Periodicity; got != "bimestral" {
		t.Errorf("Expected iva periodicity bimestral, got %q", got)
	}

	t.Logf("✓ High-income employer: %d applies, %d does_not_apply",
		eval.Summary.Applies, eval.Summary.DoesNotApply)
}

// ============================================================================
// SCENARIO 2: Low-Income Freelancer (Nothing Applies)
// ============================================================================

func TestLowIncomeFreelancer_NothingApplies(t *testing.T) {
	/*
	   SCENARIO: A freelancer under the simple regime with 30M COP income, no
	   employees, no commercial registration and no declared patrimonio.

	   EXPECTED BEHAVIOR:
	   - Every threshold sits far above 30M, so no rule matches.
	   - Undeclared optional amounts (patrimonio, consignaciones) make their
	     conditions false; they do NOT force needs_more_info.

	   FINAL DECISIONS: all six obligations → does_not_apply
	*/
	env := startEnv(t)
	token := env.registerUser(t, "freelancer@condor.e2e")
	fy2025 := env.fiscalYearID(t, 2025)

	profileID := env.declareProfile(t, token, ProfileRequest{
		FiscalYearID:      fy2025,
		PersonaType:       "natural",
		Regime:            "simple",
		IngresosBrutosCOP: "30000000",
	})

	eval := env.evaluate(t, token, profileID)

	if eval.Summary.DoesNotApply != 6 {
		t.Errorf("Expected all 6 obligations does_not_apply, got %+v", eval.Summary)
	}
	for _, r := range eval.Results {
		if r.Result != "does_not_apply" {
			t.Errorf("Expected %s → does_not_apply, got %s", r.Obligation.Code, r.Result)
		}
		if r.Explanation == "" {
			t.Errorf("Expected an explanation for %s even when nothing applies", r.Obligation.Code)
		}
	}

	t.Logf("✓ Low-income freelancer: no obligations apply, all explained")
}

// ============================================================================
// SCENARIO 3: Renta Threshold Boundary (1,400 UVT Exactly)
// ============================================================================

func TestRentaIncomeBoundary(t *testing.T) {
	/*
	   SCENARIO: Income exactly at and one peso below the renta filing
	   threshold. 1,400 UVT × 49,641 COP = 69,497,400 COP.

	   EXPECTED BEHAVIOR:
	   - The corpus rule uses gte, so the exact boundary already applies.
	   - One peso below must not apply.

	   WHY THIS TEST:
	   Boundary semantics are where float arithmetic would betray us; amounts
	   stay decimal end to end, so the comparison is exact.
	*/
	env := startEnv(t)
	token := env.registerUser(t, "boundary@condor.e2e")
	fy2025 := env.fiscalYearID(t, 2025)

	profileID := env.declareProfile(t, token, ProfileRequest{
		FiscalYearID:      fy2025,
		PersonaType:       "natural",
		Regime:            "simple",
		IngresosBrutosCOP: "69497400",
	})

	eval := env.evaluate(t, token, profileID)
	if got := resultFor(t, eval, "renta").Result; got != "applies" {
		t.Errorf("Expected renta to apply at exactly 69,497,400 COP, got %s", got)
	}
	// 69.5M is still below the 2,016 UVT exogena threshold
	if got := resultFor(t, eval, "exogena").Result; got != "does_not_apply" {
		t.Errorf("Expected exogena not to apply at 69,497,400 COP, got %s", got)
	}

	// Re-declaring the year's profile replaces the stored amounts in place
	secondID := env.declareProfile(t, token, ProfileRequest{
		FiscalYearID:      fy2025,
		PersonaType:       "natural",
		Regime:            "simple",
		IngresosBrutosCOP: "69497399",
	})
	if secondID != profileID {
		t.Errorf("Expected re-declared profile to keep its ID (%s), got %s", profileID, secondID)
	}

	below := env.evaluate(t, token, profileID)
	if got := resultFor(t, below, "renta").Result; got != "does_not_apply" {
		t.Errorf("Expected renta not to apply one peso below the boundary, got %s", got)
	}

	t.Logf("✓ Boundary: 69,497,400 applies, 69,497,399 does not")
}

// ============================================================================
// SCENARIO 4: Withholding Agent (Conditional Result)
// ============================================================================

func TestWithholdingAgentAboveTope_Conditional(t *testing.T) {
	/*
	   SCENARIO: Ordinary-regime income of 1.6 billion COP, above the 30,000
	   UVT withholding agent threshold (1,489,230,000 COP).

	   EXPECTED BEHAVIOR:
	   - retefuente resolves to CONDITIONAL: agent status depends on facts a
	     profile cannot carry, so the corpus flags it for professional review
	     instead of asserting it.
	*/
	env := startEnv(t)
	token := env.registerUser(t, "agente@condor.e2e")
	fy2025 := env.fiscalYearID(t, 2025)

	profileID := env.declareProfile(t, token, ProfileRequest{
		FiscalYearID:      fy2025,
		PersonaType:       "juridica",
		Regime:            "ordinario",
		IngresosBrutosCOP: "1600000000",
	})

	eval := env.evaluate(t, token, profileID)

	retefuente := resultFor(t, eval, "retefuente")
	if retefuente.Result != "conditional" {
		t.Errorf("Expected retefuente → conditional above 30,000 UVT, got %s", retefuente.Result)
	}
	if retefuente.Explanation == "" {
		t.Error("Expected a conditional explanation for retefuente")
	}
	if eval.Summary.Conditional != 1 {
		t.Errorf("Expected exactly 1 conditional result, got %+v", eval.Summary)
	}

	t.Logf("✓ Withholding agent: retefuente → conditional, explanation=%q", retefuente.Explanation)
}

// ============================================================================
// SCENARIO 5: Missing Threshold (needs_more_info, Then Fixed by Admin)
// ============================================================================

func TestMissingThreshold_NeedsMoreInfo(t *testing.T) {
	/*
	   SCENARIO: An admin opens fiscal year 2026 and publishes a rule set
	   whose renta rule references renta_pn_ingresos_tope, but forgets to
	   load the 2026 threshold values.

	   EXPECTED BEHAVIOR:
	   - The engine cannot resolve the reference. It refuses to guess and
	     returns needs_more_info rather than silently using the 2025 value.
	   - Once the admin posts the missing threshold, the same profile gets a
	     real decision.
	*/
	env := startEnv(t)
	admin := env.adminToken(t)
	token := env.registerUser(t, "early-bird@condor.e2e")

	// Open fiscal year 2026
	status, body := env.do(t, "POST", "/api/v1/admin/fiscal-years", admin, map[string]any{
		"year":      2026,
		"uvt_value": "52374",
	})
	if status != http.StatusCreated {
		t.Fatalf("Fiscal year creation failed with status %d: %s", status, body)
	}
	var fy2026 struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(body, &fy2026); err != nil {
		t.Fatalf("Failed to parse fiscal year: %v", err)
	}

	status, body = env.do(t, "PATCH", "/api/v1/admin/fiscal-years/"+fy2026.ID+"/status", admin,
		map[string]string{"status": "active"})
	if status != http.StatusOK {
		t.Fatalf("Fiscal year activation failed with status %d: %s", status, body)
	}

	// Look up the renta obligation to bind the rule
	status, body = env.do(t, "GET", "/api/v1/obligations/renta", token, nil)
	if status != http.StatusOK {
		t.Fatalf("Obligation lookup failed with status %d: %s", status, body)
	}
	var renta struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(body, &renta); err != nil {
		t.Fatalf("Failed to parse obligation: %v", err)
	}

	// Publish a 2026 rule set that references a threshold nobody loaded
	status, body = env.do(t, "POST", "/api/v1/admin/rule-sets", admin, map[string]any{
		"fiscal_year_id": fy2026.ID,
		"changelog":      "Borrador inicial 2026",
		"rules": []map[string]any{{
			"obligation_type_id": renta.ID,
			"code":               "renta_pn_ingresos_brutos",
			"name":               "Ingresos brutos superiores al tope",
			"logic_operator":     "AND",
			"priority":           1,
			"result_if_true":     "applies",
			"conditions": []map[string]any{{
				"field":      "ingresos_brutos_cop",
				"operator":   "gte",
				"value_type": "threshold_ref",
				"value":      "renta_pn_ingresos_tope",
			}},
		}},
	})
	if status != http.StatusCreated {
		t.Fatalf("Rule set creation failed with status %d: %s", status, body)
	}
	var draft RuleSetInfo
	if err := json.Unmarshal(body, &draft); err != nil {
		t.Fatalf("Failed to parse rule set: %v", err)
	}

	status, body = env.do(t, "POST", "/api/v1/admin/rule-sets/"+draft.ID+"/publish", admin, nil)
	if status != http.StatusOK {
		t.Fatalf("Publish failed with status %d: %s", status, body)
	}

	profileID := env.declareProfile(t, token, ProfileRequest{
		FiscalYearID:      fy2026.ID,
		PersonaType:       "natural",
		Regime:            "simple",
		IngresosBrutosCOP: "200000000",
	})

	eval := env.evaluate(t, token, profileID)
	rentaResult := resultFor(t, eval, "renta")
	if rentaResult.Result != "needs_more_info" {
		t.Errorf("Expected renta → needs_more_info with the threshold missing, got %s", rentaResult.Result)
	}
	if rentaResult.Explanation == "" {
		t.Error("Expected an explanation naming the gap")
	}
	if eval.Summary.NeedsMoreInfo != 1 {
		t.Errorf("Expected 1 needs_more_info in summary, got %+v", eval.Summary)
	}

	// The admin loads the missing threshold; the decision becomes real
	status, body = env.do(t, "POST", "/api/v1/admin/fiscal-years/"+fy2026.ID+"/thresholds", admin,
		map[string]any{
			"code":      "renta_pn_ingresos_tope",
			"label":     "Tope de ingresos brutos para declarar renta",
			"value_uvt": "1400",
		})
	if status != http.StatusCreated {
		t.Fatalf("Threshold creation failed with status %d: %s", status, body)
	}

	// 200M ≥ 1,400 × 52,374 = 73,323,600
	fixed := env.evaluate(t, token, profileID)
	if got := resultFor(t, fixed, "renta").Result; got != "applies" {
		t.Errorf("Expected renta → applies after the threshold was loaded, got %s", got)
	}

	t.Logf("✓ Missing threshold surfaced as needs_more_info, resolved after admin fix")
}

// ============================================================================
// SCENARIO 6: Publishing a New Version (History Stays Frozen)
// ============================================================================

func TestPublishNewRuleSetVersion_HistoryStaysFrozen(t *testing.T) {
	/*
	   SCENARIO: An evaluation runs under corpus v1; then an admin publishes
	   v2 with a stricter renta rule (literal 100M floor).

	   EXPECTED BEHAVIOR:
	   - Publishing deprecates v1 atomically; exactly one set stays active.
	   - New evaluations use v2: the same 80M profile no longer triggers renta.
	   - The stored v1 evaluation never changes.
	*/
	env := startEnv(t)
	admin := env.adminToken(t)
	token := env.registerUser(t, "versioned@condor.e2e")
	fy2025 := env.fiscalYearID(t, 2025)

	profileID := env.declareProfile(t, token, ProfileRequest{
		FiscalYearID:      fy2025,
		PersonaType:       "natural",
		Regime:            "simple",
		IngresosBrutosCOP: "80000000",
	})

	before := env.evaluate(t, token, profileID)
	if got := resultFor(t, before, "renta").Result; got != "applies" {
		t.Fatalf("Expected renta → applies under corpus v1, got %s", got)
	}

	status, body := env.do(t, "GET", "/api/v1/obligations/renta", token, nil)
	if status != http.StatusOK {
		t.Fatalf("Obligation lookup failed with status %d: %s", status, body)
	}
	var renta struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(body, &renta); err != nil {
		t.Fatalf("Failed to parse obligation: %v", err)
	}

	status, body = env.do(t, "POST", "/api/v1/admin/rule-sets", admin, map[string]any{
		"fiscal_year_id": fy2025,
		"changelog":      "Tope de renta elevado a 100M para pruebas",
		"rules": []map[string]any{{
			"obligation_type_id": renta.ID,
			"code":               "renta_tope_literal",
			"name":               "Ingresos brutos superiores a 100M",
			"logic_operator":     "AND",
			"priority":           1,
			"result_if_true":     "applies",
			"conditions": []map[string]any{{
				"field":      "ingresos_brutos_cop",
				"operator":   "gte",
				"value_type": "literal",
				"value":      "100000000",
			}},
		}},
	})
	if status != http.StatusCreated {
		t.Fatalf("Rule set creation failed with status %d: %s", status, body)
	}
	var draft RuleSetInfo
	if err := json.Unmarshal(body, &draft); err != nil {
		t.Fatalf("Failed to parse rule set: %v", err)
	}
	if draft.Version != 2 {
		t.Errorf("Expected draft version 2, got %d", draft.Version)
	}

	status, body = env.do(t, "POST", "/api/v1/admin/rule-sets/"+draft.ID+"/publish", admin, nil)
	if status != http.StatusOK {
		t.Fatalf("Publish failed with status %d: %s", status, body)
	}

	// Exactly one active set per fiscal year
	status, body = env.do(t, "GET", "/api/v1/admin/rule-sets?fiscal_year_id="+fy2025, admin, nil)
	if status != http.StatusOK {
		t.Fatalf("Rule set listing failed with status %d: %s", status, body)
	}
	var sets []RuleSetInfo
	if err := json.Unmarshal(body, &sets); err != nil {
		t.Fatalf("Failed to parse rule sets: %v", err)
	}
	active := 0
	for _, rs := range sets {
		switch rs.Status {
		case "active":
			active++
			if rs.Version != 2 {
				t.Errorf("Expected version 2 to be active, got version %d", rs.Version)
			}
		case "deprecated":
			if rs.Version != 1 {
				t.Errorf("Expected version 1 to be deprecated, got version %d", rs.Version)
			}
		}
	}
	if active != 1 {
		t.Errorf("Expected exactly one active rule set, got %d", active)
	}

	// New evaluations follow v2
	after := env.evaluate(t, token, profileID)
	if got := resultFor(t, after, "renta").Result; got != "does_not_apply" {
		t.Errorf("Expected renta → does_not_apply under v2 (80M < 100M), got %s", got)
	}

	// The v1 evaluation is immutable history
	status, body = env.do(t, "GET", "/api/v1/evaluations/"+before.ID, token, nil)
	if status != http.StatusOK {
		t.Fatalf("Evaluation fetch failed with status %d: %s", status, body)
	}
	var frozen EvaluationResult
	if err := json.Unmarshal(body, &frozen); err != nil {
		t.Fatalf("Failed to parse stored evaluation: %v", err)
	}
	if got := resultFor(t, frozen, "renta").Result; got != "applies" {
		t.Errorf("Expected the stored v1 evaluation to keep renta → applies, got %s", got)
	}

	t.Logf("✓ Publish lifecycle: v1 deprecated, v2 active, history frozen")
}

// ============================================================================
// SCENARIO 7: Condition Traces and Legal References
// ============================================================================

func TestEvaluationTrace_FullConditionsAndLegalRefs(t *testing.T) {
	/*
	   SCENARIO: Verify the decision record carries enough to audit it: every
	   condition tried (even after one already settled the outcome), the
	   resolved threshold values and the legal references.

	   The renta rule is an OR over four amounts. A 500M income satisfies the
	   first condition, yet all four must appear in the trace.
	*/
	env := startEnv(t)
	token := env.registerUser(t, "auditor@condor.e2e")
	fy2025 := env.fiscalYearID(t, 2025)

	profileID := env.declareProfile(t, token, ProfileRequest{
		FiscalYearID:      fy2025,
		PersonaType:       "natural",
		Regime:            "ordinario",
		IngresosBrutosCOP: "500000000",
	})

	eval := env.evaluate(t, token, profileID)
	renta := resultFor(t, eval, "renta")

	if len(renta.ConditionsEvaluated) != 4 {
		t.Errorf("Expected all 4 renta conditions in the trace, got %d", len(renta.ConditionsEvaluated))
	}

	first := renta.ConditionsEvaluated[0]
	if first.Field != "ingresos_brutos_cop" || first.Operator != "gte" {
		t.Errorf("Unexpected first condition: %+v", first)
	}
	if !first.Passes {
		t.Error("Expected the income condition to pass at 500M")
	}
	if first.ThresholdCode != "renta_pn_ingresos_tope" {
		t.Errorf("Expected threshold code renta_pn_ingresos_tope, got %q", first.ThresholdCode)
	}
	if tv, ok := first.ThresholdValue.(float64); !ok || tv != 69497400 {
		t.Errorf("Expected resolved threshold 69,497,400, got %v", first.ThresholdValue)
	}

	if renta.Explanation == "" {
		t.Error("Expected a plain-language explanation")
	}
	if len(renta.LegalReferences) == 0 {
		t.Error("Expected legal references on the renta decision")
	}
	found := false
	for _, ref := range renta.LegalReferences {
		if strings.Contains(ref, "Estatuto Tributario") {
			found = true
		}
	}
	if !found {
		t.Errorf("Expected a reference to the Estatuto Tributario, got %v", renta.LegalReferences)
	}

	t.Logf("✓ Trace complete: 4 conditions, refs=%v", renta.LegalReferences)
}

// ============================================================================
// SCENARIO 8: Calendar Materialization
// ============================================================================

func TestCalendarMaterialization(t *testing.T) {
	/*
	   SCENARIO: After an evaluation, the worker consumes the completion event
	   and rebuilds the user's calendar from the applies decisions.

	   EXPECTED BEHAVIOR:
	   - One pending entry per applies obligation, carrying its periodicity.
	   - Entries can be marked completed.
	   - A later evaluation replaces the calendar; if nothing applies anymore,
	     the calendar empties.
	*/
	env := startEnv(t)
	token := env.registerUser(t, "calendario@condor.e2e")
	fy2025 := env.fiscalYearID(t, 2025)

	profileID := env.declareProfile(t, token, ProfileRequest{
		FiscalYearID:            fy2025,
		PersonaType:             "natural",
		Regime:                  "ordinario",
		IngresosBrutosCOP:       "500000000",
		HasEmployees:            true,
		EmployeeCount:           3,
		City:                    "Medellín",
		HasComercioRegistration: true,
	})

	eval := env.evaluate(t, token, profileID)
	if eval.Summary.Applies != 5 {
		t.Fatalf("Expected 5 applies decisions, got %+v", eval.Summary)
	}

	listCalendar := func() []CalendarEntryInfo {
		status, body := env.do(t, "GET", "/api/v1/calendar", token, nil)
		if status != http.StatusOK {
			t.Fatalf("Calendar listing failed with status %d: %s", status, body)
		}
		var entries []CalendarEntryInfo
		if err := json.Unmarshal(body, &entries); err != nil {
			t.Fatalf("Failed to parse calendar: %v", err)
		}
		return entries
	}

	// Materialization is asynchronous
	var entries []CalendarEntryInfo
	ok := waitFor(3*time.Second, func() bool {
		entries = listCalendar()
		return len(entries) == 5
	})
	if !ok {
		t.Fatalf("Expected 5 calendar entries, got %d", len(entries))
	}

	byCode := make(map[string]CalendarEntryInfo, len(entries))
	for _, entry := range entries {
		if entry.Status != "pending" {
			t.Errorf("Expected entry %s to be pending, got %s", entry.ObligationCode, entry.Status)
		}
		if entry.EvaluationID != eval.ID {
			t.Errorf("Expected entry to reference evaluation %s, got %s", eval.ID, entry.EvaluationID)
		}
		byCode[entry.ObligationCode] = entry
	}
	if _, ok := byCode["retefuente"]; ok {
		t.Error("retefuente did not apply; it must not appear in the calendar")
	}
	if got := byCode["renta"].Periodicity; got != "anual" {
		t.Errorf("Expected renta entry periodicity anual, got %q", got)
	}

	// Mark the renta filing done
	status, body := env.do(t, "PATCH", "/api/v1/calendar/"+byCode["renta"].ID, token,
		map[string]string{"status": "completed"})
	if status != http.StatusOK {
		t.Fatalf("Calendar update failed with status %d: %s", status, body)
	}
	for _, entry := range listCalendar() {
		if entry.ObligationCode == "renta" && entry.Status != "completed" {
			t.Errorf("Expected renta entry completed, got %s", entry.Status)
		}
	}

	// Income collapses; nothing applies; the calendar empties on re-evaluation
	env.declareProfile(t, token, ProfileRequest{
		FiscalYearID:      fy2025,
		PersonaType:       "natural",
		Regime:            "simple",
		IngresosBrutosCOP: "20000000",
	})
	env.evaluate(t, token, profileID)

	ok = waitFor(3*time.Second, func() bool {
		return len(listCalendar()) == 0
	})
	if !ok {
		t.Errorf("Expected the calendar to empty after nothing applies, got %d entries", len(listCalendar()))
	}

	t.Logf("✓ Calendar: 5 entries materialized, completion recorded, rebuilt on re-evaluation")
}

// ============================================================================
// SCENARIO 9: Disclaimer Consistency
// ============================================================================

func TestDisclaimerConsistency(t *testing.T) {
	/*
	   SCENARIO: Decisions are informational, never tax advice. The seeded
	   disclaimer must reach the user identically through both surfaces: the
	   disclaimers endpoint and every evaluation response.
	*/
	env := startEnv(t)
	token := env.registerUser(t, "cauteloso@condor.e2e")
	fy2025 := env.fiscalYearID(t, 2025)

	status, body := env.do(t, "GET", "/api/v1/disclaimers/current", token, nil)
	if status != http.StatusOK {
		t.Fatalf("Disclaimer fetch failed with status %d: %s", status, body)
	}
	var current struct {
		Version int    `json:"version"`
		Text    string `json:"text"`
	}
	if err := json.Unmarshal(body, &current); err != nil {
		t.Fatalf("Failed to parse disclaimer: %v", err)
	}
	if current.Version != 1 {
		t.Errorf("Expected seeded disclaimer version 1, got %d", current.Version)
	}
	if !strings.Contains(current.Text, "orientativo") {
		t.Errorf("Expected the informational wording, got %q", current.Text)
	}

	profileID := env.declareProfile(t, token, ProfileRequest{
		FiscalYearID:      fy2025,
		PersonaType:       "natural",
		IngresosBrutosCOP: "80000000",
	})
	eval := env.evaluate(t, token, profileID)

	if !eval.Disclaimer.IsInformationalOnly {
		t.Error("Expected is_informational_only on the evaluation disclaimer")
	}
	if eval.Disclaimer.Version != current.Version {
		t.Errorf("Expected evaluation disclaimer version %d, got %d", current.Version, eval.Disclaimer.Version)
	}
	if eval.Disclaimer.Text != current.Text {
		t.Error("Expected the evaluation to carry the current disclaimer text")
	}

	status, body = env.do(t, "POST", "/api/v1/disclaimers/accept", token, map[string]int{"version": 1})
	if status != http.StatusCreated {
		t.Fatalf("Disclaimer acceptance failed with status %d: %s", status, body)
	}
	var accepted struct {
		Accepted bool `json:"accepted"`
		Version  int  `json:"version"`
	}
	if err := json.Unmarshal(body, &accepted); err != nil {
		t.Fatalf("Failed to parse acceptance: %v", err)
	}
	if !accepted.Accepted || accepted.Version != 1 {
		t.Errorf("Expected acceptance of version 1, got %+v", accepted)
	}

	t.Logf("✓ Disclaimer v%d consistent across endpoints", current.Version)
}

// ============================================================================
// SCENARIO 10: Evaluation Requires an Active Rule Set
// ============================================================================

func TestEvaluationWithoutActiveRuleSet_Conflict(t *testing.T) {
	/*
	   SCENARIO: A fiscal year exists and is active, but no rule set has been
	   published for it yet.

	   EXPECTED: HTTP 409 naming the year. The engine never evaluates against
	   a draft corpus and never falls back to another year's rules.
	*/
	env := startEnv(t)
	admin := env.adminToken(t)
	token := env.registerUser(t, "impatient@condor.e2e")

	status, body := env.do(t, "POST", "/api/v1/admin/fiscal-years", admin, map[string]any{
		"year":      2027,
		"uvt_value": "55000",
	})
	if status != http.StatusCreated {
		t.Fatalf("Fiscal year creation failed with status %d: %s", status, body)
	}
	var fy2027 struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(body, &fy2027); err != nil {
		t.Fatalf("Failed to parse fiscal year: %v", err)
	}
	status, body = env.do(t, "PATCH", "/api/v1/admin/fiscal-years/"+fy2027.ID+"/status", admin,
		map[string]string{"status": "active"})
	if status != http.StatusOK {
		t.Fatalf("Activation failed with status %d: %s", status, body)
	}

	profileID := env.declareProfile(t, token, ProfileRequest{
		FiscalYearID:      fy2027.ID,
		PersonaType:       "natural",
		IngresosBrutosCOP: "90000000",
	})

	status, body = env.do(t, "POST", "/api/v1/evaluations", token, map[string]string{
		"tax_profile_id": profileID,
	})
	if status != http.StatusConflict {
		t.Fatalf("Expected 409 without an active rule set, got %d: %s", status, body)
	}
	var errResp struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(body, &errResp); err != nil {
		t.Fatalf("Failed to parse error: %v", err)
	}
	if want := fmt.Sprintf("No active rule set for fiscal year %d", 2027); errResp.Error != want {
		t.Errorf("Expected error %q, got %q", want, errResp.Error)
	}

	t.Logf("✓ Evaluation refused without a published corpus: %s", errResp.Error)
}
