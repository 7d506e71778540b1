package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"golang.org/x/crypto/bcrypt"

	"github.com/opensource-finance/condor/internal/bus"
	"github.com/opensource-finance/condor/internal/cache"
	"github.com/opensource-finance/condor/internal/domain"
	"github.com/opensource-finance/condor/internal/engine"
	"github.com/opensource-finance/condor/internal/ratelimit"
	"github.com/opensource-finance/condor/internal/repository"
)

// testCorpus holds the IDs of the minimal seeded fixture: one active fiscal
// year with one income threshold, one obligation and one published rule that
// triggers on income at or above the threshold.
type testCorpus struct {
	FiscalYearID     string
	ObligationTypeID string
	RuleSetID        string
}

// createTestServer builds a server over a temp-file SQLite store, in-memory
// cache and channel bus. No rate limiter, so tests never trip limits.
func createTestServer(t *testing.T) (*Server, domain.Repository) {
	t.Helper()

	repo, err := repository.New(domain.RepositoryConfig{
		Driver:     "sqlite",
		SQLitePath: filepath.Join(t.TempDir(), "condor-test.db"),
	})
	if err != nil {
		t.Fatalf("failed to create repository: %v", err)
	}
	t.Cleanup(func() { repo.Close() })

	c, err := cache.New(domain.CacheConfig{Type: "memory", LocalMaxSize: 256})
	if err != nil {
		t.Fatalf("failed to create cache: %v", err)
	}
	t.Cleanup(func() { c.Close() })

	b := bus.NewChannelBus(16)
	t.Cleanup(func() { b.Close() })

	cfg := domain.DefaultConfig()
	cfg.Auth.JWTSecret = "test-secret"
	cfg.Auth.BcryptCost = bcrypt.MinCost

	server := NewServer(cfg, repo, c, b, engine.NewEngine(), nil, "test-v1")
	return server, repo
}

// seedCorpus inserts the minimal decision corpus under the default tenant.
// The threshold is 1400 UVT at UVT 49,641 = 69,497,400 COP.
func seedCorpus(t *testing.T, repo domain.Repository) testCorpus {
	t.Helper()
	ctx := context.Background()

	fy := &domain.FiscalYear{
		ID:       uuid.New().String(),
		TenantID: DefaultTenant,
		Year:     2025,
		Status:   domain.FiscalYearActive,
		UVTValue: decimal.NewFromInt(49641),
	}
	if err := repo.SaveFiscalYear(ctx, DefaultTenant, fy); err != nil {
		t.Fatalf("failed to seed fiscal year: %v", err)
	}

	uvt1400 := decimal.NewFromInt(1400)
	th := &domain.Threshold{
		ID:           uuid.New().String(),
		TenantID:     DefaultTenant,
		FiscalYearID: fy.ID,
		Code:         "renta_income",
		Label:        "Tope de ingresos para declarar renta",
		ValueUVT:     &uvt1400,
	}
	if err := repo.SaveThreshold(ctx, DefaultTenant, th); err != nil {
		t.Fatalf("failed to seed threshold: %v", err)
	}

	ob := &domain.ObligationType{
		ID:                uuid.New().String(),
		TenantID:          DefaultTenant,
		Code:              "renta",
		Name:              "Declaración de renta",
		Category:          domain.CategoryNacional,
		ResponsibleEntity: "DIAN",
		IsActive:          true,
		DisplayOrder:      1,
	}
	if err := repo.SaveObligationType(ctx, DefaultTenant, ob); err != nil {
		t.Fatalf("failed to seed obligation: %v", err)
	}

	rs := &domain.RuleSet{
		ID:           uuid.New().String(),
		TenantID:     DefaultTenant,
		FiscalYearID: fy.ID,
	}
	if err := repo.SaveRuleSet(ctx, DefaultTenant, rs); err != nil {
		t.Fatalf("failed to seed rule set: %v", err)
	}

	rule := &domain.Rule{
		ID:               uuid.New().String(),
		RuleSetID:        rs.ID,
		ObligationTypeID: ob.ID,
		Code:             "renta-income",
		Name:             "Ingresos brutos iguales o superiores al tope",
		LogicOperator:    domain.LogicAND,
		Priority:         1,
		ResultIfTrue:     domain.ResultApplies,
		IsActive:         true,
		Conditions: []domain.RuleCondition{
			{
				Field:     "ingresos_brutos_cop",
				Operator:  domain.OpGTE,
				ValueType: domain.ValueThresholdRef,
				Value:     "renta_income",
			},
		},
	}
	if err := repo.SaveRule(ctx, DefaultTenant, rule); err != nil {
		t.Fatalf("failed to seed rule: %v", err)
	}
	if _, err := repo.PublishRuleSet(ctx, DefaultTenant, rs.ID); err != nil {
		t.Fatalf("failed to publish rule set: %v", err)
	}

	return testCorpus{FiscalYearID: fy.ID, ObligationTypeID: ob.ID, RuleSetID: rs.ID}
}

// registerUser registers a fresh account through the API and returns its
// token pair.
func registerUser(t *testing.T, server *Server, email string) TokenResponse {
	t.Helper()

	body, _ := json.Marshal(RegisterRequest{
		Email:    email,
		Password: "secret-password",
		FullName: "Test User",
	})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/register", bytes.NewBuffer(body))
	req.Header.Set("Content-Type", "application/json")

	rr := httptest.NewRecorder()
	server.Router().ServeHTTP(rr, req)
	if rr.Code != http.StatusCreated {
		t.Fatalf("register failed with status %d: %s", rr.Code, rr.Body.String())
	}

	var resp TokenResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to parse register response: %v", err)
	}
	return resp
}

// registerAdmin inserts an admin directly and logs in through the API.
func registerAdmin(t *testing.T, server *Server, repo domain.Repository) TokenResponse {
	t.Helper()

	hash, err := HashPassword("admin-password", bcrypt.MinCost)
	if err != nil {
		t.Fatalf("failed to hash password: %v", err)
	}
	admin := &domain.User{
		ID:           uuid.New().String(),
		TenantID:     DefaultTenant,
		Email:        "admin@condor.test",
		PasswordHash: hash,
		FullName:     "Admin",
		Role:         domain.RoleAdmin,
		IsActive:     true,
		CreatedAt:    time.Now().UTC(),
	}
	if err := repo.SaveUser(context.Background(), DefaultTenant, admin); err != nil {
		t.Fatalf("failed to seed admin: %v", err)
	}

	body, _ := json.Marshal(LoginRequest{Email: admin.Email, Password: "admin-password"})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", bytes.NewBuffer(body))
	req.Header.Set("Content-Type", "application/json")

	rr := httptest.NewRecorder()
	server.Router().ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("admin login failed with status %d: %s", rr.Code, rr.Body.String())
	}

	var resp TokenResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to parse login response: %v", err)
	}
	return resp
}

// doJSON performs a JSON request against the server, optionally with a
// bearer token.
func doJSON(server *Server, method, path, token string, payload any) *httptest.ResponseRecorder {
	var body *bytes.Buffer
	if payload != nil {
		raw, _ := json.Marshal(payload)
		body = bytes.NewBuffer(raw)
	} else {
		body = bytes.NewBuffer(nil)
	}

	req := httptest.NewRequest(method, path, body)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	rr := httptest.NewRecorder()
	server.Router().ServeHTTP(rr, req)
	return rr
}

// createProfile posts a profile with the given gross income and returns its ID.
func createProfile(t *testing.T, server *Server, token string, fyID string, income int64) string {
	t.Helper()

	rr := doJSON(server, http.MethodPost, "/api/v1/profiles", token, map[string]any{
		"fiscal_year_id":      fyID,
		"persona_type":        "natural",
		"ingresos_brutos_cop": income,
	})
	if rr.Code != http.StatusCreated {
		t.Fatalf("profile creation failed with status %d: %s", rr.Code, rr.Body.String())
	}

	var profile domain.TaxProfile
	if err := json.Unmarshal(rr.Body.Bytes(), &profile); err != nil {
		t.Fatalf("failed to parse profile response: %v", err)
	}
	return profile.ID
}

func TestAuthEndpoints(t *testing.T) {
	server, _ := createTestServer(t)

	t.Run("Register", func(t *testing.T) {
		resp := registerUser(t, server, "maria@condor.test")

		if resp.AccessToken == "" || resp.RefreshToken == "" {
			t.Error("expected both tokens in register response")
		}
		if resp.TenantID != DefaultTenant {
			t.Errorf("expected tenant '%s', got '%s'", DefaultTenant, resp.TenantID)
		}
		if resp.TokenType != "bearer" {
			t.Errorf("expected token_type 'bearer', got '%s'", resp.TokenType)
		}
	})

	t.Run("DuplicateEmail", func(t *testing.T) {
		rr := doJSON(server, http.MethodPost, "/api/v1/auth/register", "", RegisterRequest{
			Email:    "maria@condor.test",
			Password: "another-password",
			FullName: "Maria Again",
		})
		if rr.Code != http.StatusBadRequest {
			t.Errorf("expected status 400, got %d", rr.Code)
		}

		var resp map[string]string
		json.Unmarshal(rr.Body.Bytes(), &resp)
		if resp["error"] != "User with this email already exists" {
			t.Errorf("unexpected error message: %s", resp["error"])
		}
	})

	t.Run("ShortPassword", func(t *testing.T) {
		rr := doJSON(server, http.MethodPost, "/api/v1/auth/register", "", RegisterRequest{
			Email:    "short@condor.test",
			Password: "short",
			FullName: "Short",
		})
		if rr.Code != http.StatusBadRequest {
			t.Errorf("expected status 400, got %d", rr.Code)
		}
	})

	t.Run("Login", func(t *testing.T) {
		rr := doJSON(server, http.MethodPost, "/api/v1/auth/login", "", LoginRequest{
			Email:    "maria@condor.test",
			Password: "secret-password",
		})
		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
		}

		var resp TokenResponse
		if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
			t.Fatalf("failed to parse login response: %v", err)
		}
		if resp.AccessToken == "" {
			t.Error("expected access token after login")
		}
	})

	t.Run("WrongPassword", func(t *testing.T) {
		rr := doJSON(server, http.MethodPost, "/api/v1/auth/login", "", LoginRequest{
			Email:    "maria@condor.test",
			Password: "wrong-password",
		})
		if rr.Code != http.StatusUnauthorized {
			t.Errorf("expected status 401, got %d", rr.Code)
		}

		var resp map[string]string
		json.Unmarshal(rr.Body.Bytes(), &resp)
		if resp["error"] != "Invalid email or password" {
			t.Errorf("unexpected error message: %s", resp["error"])
		}
	})

	t.Run("UnknownEmail", func(t *testing.T) {
		rr := doJSON(server, http.MethodPost, "/api/v1/auth/login", "", LoginRequest{
			Email:    "nobody@condor.test",
			Password: "secret-password",
		})
		if rr.Code != http.StatusUnauthorized {
			t.Errorf("expected status 401, got %d", rr.Code)
		}
	})

	t.Run("Refresh", func(t *testing.T) {
		tokens := registerUser(t, server, "refresh@condor.test")

		rr := doJSON(server, http.MethodPost, "/api/v1/auth/refresh", "", RefreshRequest{
			RefreshToken: tokens.RefreshToken,
		})
		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
		}

		var resp RefreshResponse
		if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
			t.Fatalf("failed to parse refresh response: %v", err)
		}
		if resp.AccessToken == "" {
			t.Error("expected fresh access token")
		}
	})

	t.Run("RefreshRejectsAccessToken", func(t *testing.T) {
		tokens := registerUser(t, server, "refresh2@condor.test")

		rr := doJSON(server, http.MethodPost, "/api/v1/auth/refresh", "", RefreshRequest{
			RefreshToken: tokens.AccessToken,
		})
		if rr.Code != http.StatusUnauthorized {
			t.Errorf("expected status 401, got %d", rr.Code)
		}
	})

	t.Run("RefreshRejectsGarbage", func(t *testing.T) {
		rr := doJSON(server, http.MethodPost, "/api/v1/auth/refresh", "", RefreshRequest{
			RefreshToken: "not-a-token",
		})
		if rr.Code != http.StatusUnauthorized {
			t.Errorf("expected status 401, got %d", rr.Code)
		}
	})
}

func TestProfileEndpoints(t *testing.T) {
	server, repo := createTestServer(t)
	corpus := seedCorpus(t, repo)
	tokens := registerUser(t, server, "profiles@condor.test")

	t.Run("RequiresAuth", func(t *testing.T) {
		rr := doJSON(server, http.MethodGet, "/api/v1/profiles", "", nil)
		if rr.Code != http.StatusUnauthorized {
			t.Errorf("expected status 401, got %d", rr.Code)
		}
	})

	t.Run("Create", func(t *testing.T) {
		rr := doJSON(server, http.MethodPost, "/api/v1/profiles", tokens.AccessToken, map[string]any{
			"fiscal_year_id":      corpus.FiscalYearID,
			"persona_type":        "natural",
			"ingresos_brutos_cop": "80000000",
			"has_employees":       true,
			"employee_count":      2,
			"city":                "Bogotá",
		})
		if rr.Code != http.StatusCreated {
			t.Fatalf("expected status 201, got %d: %s", rr.Code, rr.Body.String())
		}

		var profile domain.TaxProfile
		if err := json.Unmarshal(rr.Body.Bytes(), &profile); err != nil {
			t.Fatalf("failed to parse profile: %v", err)
		}
		if !profile.IngresosBrutosCOP.Equal(decimal.NewFromInt(80000000)) {
			t.Errorf("expected income 80000000, got %s", profile.IngresosBrutosCOP)
		}
		if profile.EmployeeCount != 2 {
			t.Errorf("expected employee_count 2, got %d", profile.EmployeeCount)
		}
	})

	t.Run("CreateReplacesSameYear", func(t *testing.T) {
		first := doJSON(server, http.MethodPost, "/api/v1/profiles", tokens.AccessToken, map[string]any{
			"fiscal_year_id":      corpus.FiscalYearID,
			"persona_type":        "natural",
			"ingresos_brutos_cop": 50000000,
		})
		if first.Code != http.StatusCreated {
			t.Fatalf("expected status 201, got %d", first.Code)
		}

		rr := doJSON(server, http.MethodGet, "/api/v1/profiles", tokens.AccessToken, nil)
		var profiles []domain.TaxProfile
		if err := json.Unmarshal(rr.Body.Bytes(), &profiles); err != nil {
			t.Fatalf("failed to parse profiles: %v", err)
		}
		if len(profiles) != 1 {
			t.Errorf("expected 1 profile per fiscal year, got %d", len(profiles))
		}
	})

	t.Run("InvalidPersonaType", func(t *testing.T) {
		rr := doJSON(server, http.MethodPost, "/api/v1/profiles", tokens.AccessToken, map[string]any{
			"fiscal_year_id":      corpus.FiscalYearID,
			"persona_type":        "empresa",
			"ingresos_brutos_cop": 1000,
		})
		if rr.Code != http.StatusBadRequest {
			t.Errorf("expected status 400, got %d", rr.Code)
		}
	})

	t.Run("UnknownFiscalYear", func(t *testing.T) {
		rr := doJSON(server, http.MethodPost, "/api/v1/profiles", tokens.AccessToken, map[string]any{
			"fiscal_year_id":      uuid.New().String(),
			"persona_type":        "natural",
			"ingresos_brutos_cop": 1000,
		})
		if rr.Code != http.StatusBadRequest {
			t.Errorf("expected status 400, got %d", rr.Code)
		}
	})

	t.Run("Update", func(t *testing.T) {
		profileID := createProfile(t, server, tokens.AccessToken, corpus.FiscalYearID, 50000000)

		rr := doJSON(server, http.MethodPut, "/api/v1/profiles/"+profileID, tokens.AccessToken, map[string]any{
			"ingresos_brutos_cop": 90000000,
			"has_employees":       true,
		})
		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
		}

		var updated domain.TaxProfile
		if err := json.Unmarshal(rr.Body.Bytes(), &updated); err != nil {
			t.Fatalf("failed to parse profile: %v", err)
		}
		if !updated.IngresosBrutosCOP.Equal(decimal.NewFromInt(90000000)) {
			t.Errorf("expected updated income 90000000, got %s", updated.IngresosBrutosCOP)
		}
		if !updated.HasEmployees {
			t.Error("expected has_employees to be updated")
		}
		if updated.PersonaType != domain.PersonaNatural {
			t.Errorf("expected persona_type to survive partial update, got '%s'", updated.PersonaType)
		}
	})

	t.Run("OwnershipHidesForeignProfile", func(t *testing.T) {
		profileID := createProfile(t, server, tokens.AccessToken, corpus.FiscalYearID, 50000000)
		other := registerUser(t, server, "other@condor.test")

		rr := doJSON(server, http.MethodGet, "/api/v1/profiles/"+profileID, other.AccessToken, nil)
		if rr.Code != http.StatusNotFound {
			t.Errorf("expected status 404 for foreign profile, got %d", rr.Code)
		}

		var resp map[string]string
		json.Unmarshal(rr.Body.Bytes(), &resp)
		if resp["error"] != "Profile not found" {
			t.Errorf("unexpected error message: %s", resp["error"])
		}
	})

	t.Run("Delete", func(t *testing.T) {
		profileID := createProfile(t, server, tokens.AccessToken, corpus.FiscalYearID, 50000000)

		rr := doJSON(server, http.MethodDelete, "/api/v1/profiles/"+profileID, tokens.AccessToken, nil)
		if rr.Code != http.StatusNoContent {
			t.Fatalf("expected status 204, got %d", rr.Code)
		}

		rr = doJSON(server, http.MethodGet, "/api/v1/profiles/"+profileID, tokens.AccessToken, nil)
		if rr.Code != http.StatusNotFound {
			t.Errorf("expected status 404 after delete, got %d", rr.Code)
		}
	})
}

func TestEvaluationEndpoints(t *testing.T) {
	server, repo := createTestServer(t)
	corpus := seedCorpus(t, repo)
	tokens := registerUser(t, server, "evaluate@condor.test")

	t.Run("IncomeAboveThresholdApplies", func(t *testing.T) {
		profileID := createProfile(t, server, tokens.AccessToken, corpus.FiscalYearID, 80000000)

		rr := doJSON(server, http.MethodPost, "/api/v1/evaluations", tokens.AccessToken, map[string]string{
			"tax_profile_id": profileID,
		})
		if rr.Code != http.StatusCreated {
			t.Fatalf("expected status 201, got %d: %s", rr.Code, rr.Body.String())
		}

		var resp domain.EvaluationResponse
		if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
			t.Fatalf("failed to parse evaluation: %v", err)
		}
		if resp.ID == "" || resp.EvaluatedAt == "" {
			t.Error("expected id and evaluated_at in response")
		}
		if resp.FiscalYear != 2025 {
			t.Errorf("expected fiscal year 2025, got %d", resp.FiscalYear)
		}
		if len(resp.Results) != 1 {
			t.Fatalf("expected 1 result, got %d", len(resp.Results))
		}

		r := resp.Results[0]
		if r.Obligation.Code != "renta" {
			t.Errorf("expected obligation 'renta', got '%s'", r.Obligation.Code)
		}
		if r.Result != domain.ResultApplies {
			t.Errorf("expected result 'applies', got '%s'", r.Result)
		}
		if len(r.ConditionsEvaluated) != 1 {
			t.Errorf("expected 1 traced condition, got %d", len(r.ConditionsEvaluated))
		}
		if r.Explanation == "" {
			t.Error("expected a non-empty explanation")
		}
		if resp.Summary.Applies != 1 {
			t.Errorf("expected summary.applies 1, got %d", resp.Summary.Applies)
		}
		if !resp.Disclaimer.IsInformationalOnly {
			t.Error("expected disclaimer.is_informational_only true")
		}
	})

	t.Run("IncomeBelowThresholdDoesNotApply", func(t *testing.T) {
		profileID := createProfile(t, server, tokens.AccessToken, corpus.FiscalYearID, 10000000)

		rr := doJSON(server, http.MethodPost, "/api/v1/evaluations", tokens.AccessToken, map[string]string{
			"tax_profile_id": profileID,
		})
		if rr.Code != http.StatusCreated {
			t.Fatalf("expected status 201, got %d: %s", rr.Code, rr.Body.String())
		}

		var resp domain.EvaluationResponse
		json.Unmarshal(rr.Body.Bytes(), &resp)
		if resp.Results[0].Result != domain.ResultDoesNotApply {
			t.Errorf("expected 'does_not_apply', got '%s'", resp.Results[0].Result)
		}
		if resp.Summary.Applies != 0 {
			t.Errorf("expected summary.applies 0, got %d", resp.Summary.Applies)
		}
	})

	t.Run("ExactThresholdBoundaryApplies", func(t *testing.T) {
		// 1400 UVT * 49,641 = 69,497,400; gte includes the boundary.
		profileID := createProfile(t, server, tokens.AccessToken, corpus.FiscalYearID, 69497400)

		rr := doJSON(server, http.MethodPost, "/api/v1/evaluations", tokens.AccessToken, map[string]string{
			"tax_profile_id": profileID,
		})
		if rr.Code != http.StatusCreated {
			t.Fatalf("expected status 201, got %d", rr.Code)
		}

		var resp domain.EvaluationResponse
		json.Unmarshal(rr.Body.Bytes(), &resp)
		if resp.Results[0].Result != domain.ResultApplies {
			t.Errorf("expected boundary value to apply, got '%s'", resp.Results[0].Result)
		}
	})

	t.Run("UnknownProfile", func(t *testing.T) {
		rr := doJSON(server, http.MethodPost, "/api/v1/evaluations", tokens.AccessToken, map[string]string{
			"tax_profile_id": uuid.New().String(),
		})
		if rr.Code != http.StatusNotFound {
			t.Errorf("expected status 404, got %d", rr.Code)
		}

		var resp map[string]string
		json.Unmarshal(rr.Body.Bytes(), &resp)
		if resp["error"] != "Tax profile not found" {
			t.Errorf("unexpected error message: %s", resp["error"])
		}
	})

	t.Run("ForeignProfileForbidden", func(t *testing.T) {
		profileID := createProfile(t, server, tokens.AccessToken, corpus.FiscalYearID, 80000000)
		other := registerUser(t, server, "intruder@condor.test")

		rr := doJSON(server, http.MethodPost, "/api/v1/evaluations", other.AccessToken, map[string]string{
			"tax_profile_id": profileID,
		})
		if rr.Code != http.StatusForbidden {
			t.Errorf("expected status 403, got %d", rr.Code)
		}

		var resp map[string]string
		json.Unmarshal(rr.Body.Bytes(), &resp)
		if resp["error"] != "Profile does not belong to user" {
			t.Errorf("unexpected error message: %s", resp["error"])
		}
	})

	t.Run("NoActiveRuleSetConflicts", func(t *testing.T) {
		ctx := context.Background()
		bare := &domain.FiscalYear{
			ID:       uuid.New().String(),
			TenantID: DefaultTenant,
			Year:     2026,
			Status:   domain.FiscalYearActive,
			UVTValue: decimal.NewFromInt(52000),
		}
		if err := repo.SaveFiscalYear(ctx, DefaultTenant, bare); err != nil {
			t.Fatalf("failed to seed fiscal year: %v", err)
		}
		profileID := createProfile(t, server, tokens.AccessToken, bare.ID, 80000000)

		rr := doJSON(server, http.MethodPost, "/api/v1/evaluations", tokens.AccessToken, map[string]string{
			"tax_profile_id": profileID,
		})
		if rr.Code != http.StatusConflict {
			t.Fatalf("expected status 409, got %d: %s", rr.Code, rr.Body.String())
		}

		var resp map[string]string
		json.Unmarshal(rr.Body.Bytes(), &resp)
		if resp["error"] != "No active rule set for fiscal year 2026" {
			t.Errorf("unexpected error message: %s", resp["error"])
		}
	})

	t.Run("ListAndGet", func(t *testing.T) {
		rr := doJSON(server, http.MethodGet, "/api/v1/evaluations", tokens.AccessToken, nil)
		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d", rr.Code)
		}

		var items []map[string]any
		if err := json.Unmarshal(rr.Body.Bytes(), &items); err != nil {
			t.Fatalf("failed to parse evaluation list: %v", err)
		}
		if len(items) == 0 {
			t.Fatal("expected at least one evaluation in list")
		}

		id, _ := items[0]["id"].(string)
		rr = doJSON(server, http.MethodGet, "/api/v1/evaluations/"+id, tokens.AccessToken, nil)
		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d", rr.Code)
		}

		var resp domain.EvaluationResponse
		if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
			t.Fatalf("failed to parse evaluation: %v", err)
		}
		if resp.ID != id {
			t.Errorf("expected evaluation %s, got %s", id, resp.ID)
		}
		if len(resp.ProfileSummary) == 0 {
			t.Error("expected frozen profile snapshot in response")
		}
	})

	t.Run("ForeignEvaluationHidden", func(t *testing.T) {
		rr := doJSON(server, http.MethodGet, "/api/v1/evaluations", tokens.AccessToken, nil)
		var items []map[string]any
		json.Unmarshal(rr.Body.Bytes(), &items)
		id, _ := items[0]["id"].(string)

		other := registerUser(t, server, "snoop@condor.test")
		rr = doJSON(server, http.MethodGet, "/api/v1/evaluations/"+id, other.AccessToken, nil)
		if rr.Code != http.StatusNotFound {
			t.Errorf("expected status 404, got %d", rr.Code)
		}
	})
}

func TestAdminEndpoints(t *testing.T) {
	server, repo := createTestServer(t)
	admin := registerAdmin(t, server, repo)
	user := registerUser(t, server, "plain@condor.test")

	t.Run("RequiresAdminRole", func(t *testing.T) {
		rr := doJSON(server, http.MethodGet, "/api/v1/admin/fiscal-years", user.AccessToken, nil)
		if rr.Code != http.StatusForbidden {
			t.Fatalf("expected status 403, got %d", rr.Code)
		}

		var resp map[string]string
		json.Unmarshal(rr.Body.Bytes(), &resp)
		if resp["error"] != "Admin access required" {
			t.Errorf("unexpected error message: %s", resp["error"])
		}
	})

	var fyID string
	t.Run("CreateFiscalYear", func(t *testing.T) {
		rr := doJSON(server, http.MethodPost, "/api/v1/admin/fiscal-years", admin.AccessToken, map[string]any{
			"year":      2025,
			"uvt_value": "49641",
			"notes":     "Año gravable 2025",
		})
		if rr.Code != http.StatusCreated {
			t.Fatalf("expected status 201, got %d: %s", rr.Code, rr.Body.String())
		}

		var fy domain.FiscalYear
		if err := json.Unmarshal(rr.Body.Bytes(), &fy); err != nil {
			t.Fatalf("failed to parse fiscal year: %v", err)
		}
		if fy.Status != domain.FiscalYearDraft {
			t.Errorf("expected new year to start as draft, got '%s'", fy.Status)
		}
		fyID = fy.ID
	})

	t.Run("DuplicateYearConflicts", func(t *testing.T) {
		rr := doJSON(server, http.MethodPost, "/api/v1/admin/fiscal-years", admin.AccessToken, map[string]any{
			"year":      2025,
			"uvt_value": "50000",
		})
		if rr.Code != http.StatusConflict {
			t.Errorf("expected status 409, got %d", rr.Code)
		}
	})

	t.Run("ActivateFiscalYear", func(t *testing.T) {
		rr := doJSON(server, http.MethodPatch, "/api/v1/admin/fiscal-years/"+fyID+"/status", admin.AccessToken, map[string]string{
			"status": "active",
		})
		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
		}

		var fy domain.FiscalYear
		json.Unmarshal(rr.Body.Bytes(), &fy)
		if fy.Status != domain.FiscalYearActive {
			t.Errorf("expected status 'active', got '%s'", fy.Status)
		}
	})

	t.Run("InvalidStatusRejected", func(t *testing.T) {
		rr := doJSON(server, http.MethodPatch, "/api/v1/admin/fiscal-years/"+fyID+"/status", admin.AccessToken, map[string]string{
			"status": "frozen",
		})
		if rr.Code != http.StatusBadRequest {
			t.Errorf("expected status 400, got %d", rr.Code)
		}
	})

	t.Run("UpsertThreshold", func(t *testing.T) {
		rr := doJSON(server, http.MethodPost, "/api/v1/admin/fiscal-years/"+fyID+"/thresholds", admin.AccessToken, map[string]any{
			"code":      "renta_income",
			"label":     "Tope de ingresos",
			"value_uvt": "1400",
		})
		if rr.Code != http.StatusCreated {
			t.Fatalf("expected status 201, got %d: %s", rr.Code, rr.Body.String())
		}

		// Same code again replaces the value instead of duplicating it.
		rr = doJSON(server, http.MethodPost, "/api/v1/admin/fiscal-years/"+fyID+"/thresholds", admin.AccessToken, map[string]any{
			"code":      "renta_income",
			"label":     "Tope de ingresos",
			"value_uvt": "1500",
		})
		if rr.Code != http.StatusCreated {
			t.Fatalf("expected status 201 on upsert, got %d", rr.Code)
		}

		rr = doJSON(server, http.MethodGet, "/api/v1/admin/fiscal-years/"+fyID+"/thresholds", admin.AccessToken, nil)
		var thresholds []domain.Threshold
		if err := json.Unmarshal(rr.Body.Bytes(), &thresholds); err != nil {
			t.Fatalf("failed to parse thresholds: %v", err)
		}
		if len(thresholds) != 1 {
			t.Fatalf("expected 1 threshold after upsert, got %d", len(thresholds))
		}
		if !thresholds[0].ValueUVT.Equal(decimal.NewFromInt(1500)) {
			t.Errorf("expected upserted value 1500 UVT, got %s", thresholds[0].ValueUVT)
		}
	})

	t.Run("ReservedThresholdCodeRejected", func(t *testing.T) {
		rr := doJSON(server, http.MethodPost, "/api/v1/admin/fiscal-years/"+fyID+"/thresholds", admin.AccessToken, map[string]any{
			"code":      "uvt_value",
			"label":     "UVT",
			"value_cop": "49641",
		})
		if rr.Code != http.StatusBadRequest {
			t.Errorf("expected status 400 for reserved code, got %d", rr.Code)
		}
	})

	t.Run("ThresholdWithoutValuesRejected", func(t *testing.T) {
		rr := doJSON(server, http.MethodPost, "/api/v1/admin/fiscal-years/"+fyID+"/thresholds", admin.AccessToken, map[string]any{
			"code":  "empty",
			"label": "Sin valores",
		})
		if rr.Code != http.StatusBadRequest {
			t.Errorf("expected status 400, got %d", rr.Code)
		}
	})

	t.Run("RuleSetLifecycle", func(t *testing.T) {
		ob := &domain.ObligationType{
			ID:                uuid.New().String(),
			TenantID:          DefaultTenant,
			Code:              "renta",
			Name:              "Declaración de renta",
			Category:          domain.CategoryNacional,
			ResponsibleEntity: "DIAN",
			IsActive:          true,
			DisplayOrder:      1,
		}
		if err := repo.SaveObligationType(context.Background(), DefaultTenant, ob); err != nil {
			t.Fatalf("failed to seed obligation: %v", err)
		}

		rr := doJSON(server, http.MethodGet, "/api/v1/admin/rule-sets", admin.AccessToken, nil)
		if rr.Code != http.StatusBadRequest {
			t.Errorf("expected status 400 without fiscal_year_id, got %d", rr.Code)
		}

		rr = doJSON(server, http.MethodPost, "/api/v1/admin/rule-sets", admin.AccessToken, map[string]any{
			"fiscal_year_id": fyID,
			"changelog":      "Initial 2025 rules",
			"rules": []map[string]any{
				{
					"obligation_type_id": ob.ID,
					"code":               "renta-income",
					"name":               "Ingresos sobre el tope",
					"logic_operator":     "AND",
					"priority":           1,
					"result_if_true":     "applies",
					"conditions": []map[string]any{
						{
							"field":      "ingresos_brutos_cop",
							"operator":   "gte",
							"value_type": "threshold_ref",
							"value":      "renta_income",
						},
					},
				},
			},
		})
		if rr.Code != http.StatusCreated {
			t.Fatalf("expected status 201, got %d: %s", rr.Code, rr.Body.String())
		}

		var created domain.RuleSet
		if err := json.Unmarshal(rr.Body.Bytes(), &created); err != nil {
			t.Fatalf("failed to parse rule set: %v", err)
		}
		if created.Version != 1 {
			t.Errorf("expected version 1, got %d", created.Version)
		}
		if created.Status != domain.RuleSetDraft {
			t.Errorf("expected draft status, got '%s'", created.Status)
		}
		if len(created.Rules) != 1 {
			t.Errorf("expected 1 rule attached, got %d", len(created.Rules))
		}

		rr = doJSON(server, http.MethodPost, "/api/v1/admin/rule-sets/"+created.ID+"/publish", admin.AccessToken, nil)
		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
		}

		var published domain.RuleSet
		json.Unmarshal(rr.Body.Bytes(), &published)
		if published.Status != domain.RuleSetActive {
			t.Errorf("expected active status, got '%s'", published.Status)
		}
		if published.PublishedAt == nil {
			t.Error("expected published_at to be set")
		}

		// A published set cannot be published again.
		rr = doJSON(server, http.MethodPost, "/api/v1/admin/rule-sets/"+created.ID+"/publish", admin.AccessToken, nil)
		if rr.Code != http.StatusConflict {
			t.Errorf("expected status 409 on republish, got %d", rr.Code)
		}

		rr = doJSON(server, http.MethodGet, "/api/v1/admin/rule-sets?fiscal_year_id="+fyID, admin.AccessToken, nil)
		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d", rr.Code)
		}
		var sets []domain.RuleSet
		json.Unmarshal(rr.Body.Bytes(), &sets)
		if len(sets) != 1 {
			t.Errorf("expected 1 rule set, got %d", len(sets))
		}
	})

	t.Run("PublishEmptyRuleSetRejected", func(t *testing.T) {
		rr := doJSON(server, http.MethodPost, "/api/v1/admin/rule-sets", admin.AccessToken, map[string]any{
			"fiscal_year_id": fyID,
			"changelog":      "empty draft",
		})
		if rr.Code != http.StatusCreated {
			t.Fatalf("expected status 201, got %d", rr.Code)
		}
		var empty domain.RuleSet
		json.Unmarshal(rr.Body.Bytes(), &empty)

		rr = doJSON(server, http.MethodPost, "/api/v1/admin/rule-sets/"+empty.ID+"/publish", admin.AccessToken, nil)
		if rr.Code != http.StatusBadRequest {
			t.Errorf("expected status 400 for empty rule set, got %d", rr.Code)
		}
	})

	t.Run("PublishUnknownRuleSet", func(t *testing.T) {
		rr := doJSON(server, http.MethodPost, "/api/v1/admin/rule-sets/"+uuid.New().String()+"/publish", admin.AccessToken, nil)
		if rr.Code != http.StatusNotFound {
			t.Errorf("expected status 404, got %d", rr.Code)
		}
	})
}

func TestCatalogEndpoints(t *testing.T) {
	server, repo := createTestServer(t)
	seedCorpus(t, repo)
	tokens := registerUser(t, server, "catalog@condor.test")

	t.Run("PublicFiscalYears", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/fiscal-years", nil)
		rr := httptest.NewRecorder()
		server.Router().ServeHTTP(rr, req)

		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d", rr.Code)
		}

		var years []map[string]any
		if err := json.Unmarshal(rr.Body.Bytes(), &years); err != nil {
			t.Fatalf("failed to parse fiscal years: %v", err)
		}
		if len(years) != 1 {
			t.Fatalf("expected 1 active year, got %d", len(years))
		}
		if years[0]["year"] != float64(2025) {
			t.Errorf("expected year 2025, got %v", years[0]["year"])
		}
	})

	t.Run("ListObligations", func(t *testing.T) {
		rr := doJSON(server, http.MethodGet, "/api/v1/obligations", tokens.AccessToken, nil)
		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d", rr.Code)
		}

		var obligations []domain.ObligationType
		if err := json.Unmarshal(rr.Body.Bytes(), &obligations); err != nil {
			t.Fatalf("failed to parse obligations: %v", err)
		}
		if len(obligations) != 1 {
			t.Fatalf("expected 1 obligation, got %d", len(obligations))
		}
		if obligations[0].Code != "renta" {
			t.Errorf("expected code 'renta', got '%s'", obligations[0].Code)
		}
	})

	t.Run("GetObligationByCode", func(t *testing.T) {
		rr := doJSON(server, http.MethodGet, "/api/v1/obligations/renta", tokens.AccessToken, nil)
		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d", rr.Code)
		}
	})

	t.Run("UnknownObligation", func(t *testing.T) {
		rr := doJSON(server, http.MethodGet, "/api/v1/obligations/predial", tokens.AccessToken, nil)
		if rr.Code != http.StatusNotFound {
			t.Fatalf("expected status 404, got %d", rr.Code)
		}

		var resp map[string]string
		json.Unmarshal(rr.Body.Bytes(), &resp)
		if resp["error"] != "Obligation 'predial' not found" {
			t.Errorf("unexpected error message: %s", resp["error"])
		}
	})
}

func TestCalendarEndpoints(t *testing.T) {
	server, repo := createTestServer(t)
	corpus := seedCorpus(t, repo)
	tokens := registerUser(t, server, "calendar@condor.test")

	t.Run("EmptyList", func(t *testing.T) {
		rr := doJSON(server, http.MethodGet, "/api/v1/calendar", tokens.AccessToken, nil)
		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d", rr.Code)
		}

		var entries []domain.CalendarEntry
		if err := json.Unmarshal(rr.Body.Bytes(), &entries); err != nil {
			t.Fatalf("failed to parse calendar: %v", err)
		}
		if len(entries) != 0 {
			t.Errorf("expected empty calendar, got %d entries", len(entries))
		}
	})

	t.Run("MarkCompleted", func(t *testing.T) {
		entry := &domain.CalendarEntry{
			ID:               uuid.New().String(),
			UserID:           tokens.UserID,
			TenantID:         DefaultTenant,
			EvaluationID:     uuid.New().String(),
			ObligationTypeID: corpus.ObligationTypeID,
			ObligationCode:   "renta",
			ObligationName:   "Declaración de renta",
			FiscalYearID:     corpus.FiscalYearID,
			Periodicity:      domain.FrequencyAnual,
			Status:           domain.CalendarPending,
			CreatedAt:        time.Now().UTC(),
		}
		err := repo.ReplaceCalendarEntries(context.Background(), DefaultTenant, tokens.UserID, corpus.FiscalYearID, []*domain.CalendarEntry{entry})
		if err != nil {
			t.Fatalf("failed to seed calendar entry: %v", err)
		}

		rr := doJSON(server, http.MethodPatch, "/api/v1/calendar/"+entry.ID, tokens.AccessToken, map[string]string{
			"status": "completed",
		})
		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
		}

		var updated domain.CalendarEntry
		if err := json.Unmarshal(rr.Body.Bytes(), &updated); err != nil {
			t.Fatalf("failed to parse calendar entry: %v", err)
		}
		if updated.Status != domain.CalendarCompleted {
			t.Errorf("expected status 'completed', got '%s'", updated.Status)
		}
	})

	t.Run("FilterByFiscalYear", func(t *testing.T) {
		rr := doJSON(server, http.MethodGet, "/api/v1/calendar?fiscal_year_id="+corpus.FiscalYearID, tokens.AccessToken, nil)
		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d", rr.Code)
		}

		var entries []domain.CalendarEntry
		json.Unmarshal(rr.Body.Bytes(), &entries)
		if len(entries) != 1 {
			t.Errorf("expected 1 entry for fiscal year, got %d", len(entries))
		}
	})

	t.Run("InvalidStatus", func(t *testing.T) {
		rr := doJSON(server, http.MethodPatch, "/api/v1/calendar/"+uuid.New().String(), tokens.AccessToken, map[string]string{
			"status": "done",
		})
		if rr.Code != http.StatusBadRequest {
			t.Errorf("expected status 400, got %d", rr.Code)
		}
	})

	t.Run("UnknownEntry", func(t *testing.T) {
		rr := doJSON(server, http.MethodPatch, "/api/v1/calendar/"+uuid.New().String(), tokens.AccessToken, map[string]string{
			"status": "completed",
		})
		if rr.Code != http.StatusNotFound {
			t.Fatalf("expected status 404, got %d", rr.Code)
		}

		var resp map[string]string
		json.Unmarshal(rr.Body.Bytes(), &resp)
		if resp["error"] != "Calendar entry not found" {
			t.Errorf("unexpected error message: %s", resp["error"])
		}
	})
}

func TestDisclaimerEndpoints(t *testing.T) {
	server, repo := createTestServer(t)
	tokens := registerUser(t, server, "disclaimer@condor.test")

	t.Run("NoCurrentDisclaimer", func(t *testing.T) {
		rr := doJSON(server, http.MethodGet, "/api/v1/disclaimers/current", tokens.AccessToken, nil)
		if rr.Code != http.StatusNotFound {
			t.Fatalf("expected status 404, got %d", rr.Code)
		}

		var resp map[string]string
		json.Unmarshal(rr.Body.Bytes(), &resp)
		if resp["error"] != "No active disclaimer found" {
			t.Errorf("unexpected error message: %s", resp["error"])
		}
	})

	t.Run("CurrentAfterSeed", func(t *testing.T) {
		d := &domain.DisclaimerVersion{
			ID:        uuid.New().String(),
			Version:   1,
			Text:      domain.DisclaimerText,
			IsCurrent: true,
			CreatedAt: time.Now().UTC(),
		}
		if err := repo.SaveDisclaimer(context.Background(), d); err != nil {
			t.Fatalf("failed to seed disclaimer: %v", err)
		}

		rr := doJSON(server, http.MethodGet, "/api/v1/disclaimers/current", tokens.AccessToken, nil)
		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d", rr.Code)
		}

		var resp domain.DisclaimerVersion
		if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
			t.Fatalf("failed to parse disclaimer: %v", err)
		}
		if resp.Version != 1 || !resp.IsCurrent {
			t.Errorf("expected current version 1, got version %d current %v", resp.Version, resp.IsCurrent)
		}
	})

	t.Run("AcceptIsIdempotent", func(t *testing.T) {
		rr := doJSON(server, http.MethodPost, "/api/v1/disclaimers/accept", tokens.AccessToken, map[string]int{
			"version": 1,
		})
		if rr.Code != http.StatusCreated {
			t.Fatalf("expected status 201, got %d: %s", rr.Code, rr.Body.String())
		}

		var first map[string]any
		json.Unmarshal(rr.Body.Bytes(), &first)
		if first["accepted"] != true {
			t.Error("expected accepted true")
		}

		rr = doJSON(server, http.MethodPost, "/api/v1/disclaimers/accept", tokens.AccessToken, map[string]int{
			"version": 1,
		})
		if rr.Code != http.StatusCreated {
			t.Fatalf("expected status 201 on repeat accept, got %d", rr.Code)
		}

		var second map[string]any
		json.Unmarshal(rr.Body.Bytes(), &second)
		if second["accepted_at"] != first["accepted_at"] {
			t.Error("expected repeat accept to keep the original timestamp")
		}
	})
}

func TestHealthAndMetrics(t *testing.T) {
	server, _ := createTestServer(t)

	t.Run("Health", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/health", nil)
		rr := httptest.NewRecorder()
		server.Router().ServeHTTP(rr, req)

		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d", rr.Code)
		}

		var resp map[string]string
		json.Unmarshal(rr.Body.Bytes(), &resp)
		if resp["status"] != "healthy" {
			t.Errorf("expected status 'healthy', got '%s'", resp["status"])
		}
		if resp["version"] != "test-v1" {
			t.Errorf("expected version 'test-v1', got '%s'", resp["version"])
		}
	})

	t.Run("MetricsLite", func(t *testing.T) {
		// Serve one request first so the counter is non-zero.
		req := httptest.NewRequest(http.MethodGet, "/health", nil)
		server.Router().ServeHTTP(httptest.NewRecorder(), req)

		req = httptest.NewRequest(http.MethodGet, "/metrics-lite", nil)
		rr := httptest.NewRecorder()
		server.Router().ServeHTTP(rr, req)

		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d", rr.Code)
		}

		var resp map[string]any
		if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
			t.Fatalf("failed to parse metrics: %v", err)
		}
		for _, key := range []string{"uptime_seconds", "goroutines", "heap_alloc_bytes", "requests_served"} {
			if _, ok := resp[key]; !ok {
				t.Errorf("expected metric '%s' in response", key)
			}
		}
	})

	t.Run("ResponseHeaders", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/health", nil)
		rr := httptest.NewRecorder()
		server.Router().ServeHTTP(rr, req)

		if rr.Header().Get("X-Request-ID") == "" {
			t.Error("expected X-Request-ID header in response")
		}
		if rr.Header().Get("X-Trace-ID") == "" {
			t.Error("expected X-Trace-ID header in response")
		}
	})
}

func TestMiddleware(t *testing.T) {
	t.Run("AuthMiddlewareRejectsMissingToken", func(t *testing.T) {
		issuer := NewTokenIssuer(domain.AuthConfig{JWTSecret: "test-secret"})

		handler := AuthMiddleware(issuer)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
		}))

		req := httptest.NewRequest(http.MethodGet, "/", nil)
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)

		if rr.Code != http.StatusUnauthorized {
			t.Errorf("expected status 401, got %d", rr.Code)
		}
	})

	t.Run("AuthMiddlewarePopulatesUser", func(t *testing.T) {
		issuer := NewTokenIssuer(domain.AuthConfig{JWTSecret: "test-secret"})
		token, err := issuer.AccessToken(&domain.User{
			ID:       "user-1",
			TenantID: "tenant-1",
			Role:     domain.RoleAdmin,
		})
		if err != nil {
			t.Fatalf("failed to issue token: %v", err)
		}

		var captured *CurrentUser
		handler := AuthMiddleware(issuer)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			captured = GetCurrentUser(r.Context())
			w.WriteHeader(http.StatusOK)
		}))

		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("Authorization", "Bearer "+token)
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)

		if captured == nil {
			t.Fatal("expected current user in context")
		}
		if captured.UserID != "user-1" || captured.TenantID != "tenant-1" {
			t.Errorf("unexpected identity: %+v", captured)
		}
		if !captured.IsAdmin() {
			t.Error("expected admin role to carry through")
		}
	})

	t.Run("TracingMiddlewareSetsRequestID", func(t *testing.T) {
		var capturedRequestID string

		handler := TracingMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if v, ok := r.Context().Value(RequestIDKey).(string); ok {
				capturedRequestID = v
			}
			w.WriteHeader(http.StatusOK)
		}))

		req := httptest.NewRequest(http.MethodGet, "/", nil)
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)

		if capturedRequestID == "" {
			t.Error("expected request ID to be set")
		}
		if rr.Header().Get("X-Request-ID") == "" {
			t.Error("expected X-Request-ID response header")
		}
	})

	t.Run("RecoverMiddlewareHandlesPanic", func(t *testing.T) {
		handler := RecoverMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			panic("test panic")
		}))

		req := httptest.NewRequest(http.MethodGet, "/", nil)
		rr := httptest.NewRecorder()

		handler.ServeHTTP(rr, req)

		if rr.Code != http.StatusInternalServerError {
			t.Errorf("expected status 500, got %d", rr.Code)
		}
	})
}

func TestPasswordHelpers(t *testing.T) {
	t.Run("HashAndCheck", func(t *testing.T) {
		hash, err := HashPassword("hunter22", bcrypt.MinCost)
		if err != nil {
			t.Fatalf("failed to hash: %v", err)
		}
		if !CheckPassword(hash, "hunter22") {
			t.Error("expected matching password to verify")
		}
		if CheckPassword(hash, "hunter23") {
			t.Error("expected mismatched password to fail")
		}
	})

	t.Run("LongPasswordsTruncateConsistently", func(t *testing.T) {
		long := make([]byte, 100)
		for i := range long {
			long[i] = 'a'
		}
		password := string(long)

		hash, err := HashPassword(password, bcrypt.MinCost)
		if err != nil {
			t.Fatalf("failed to hash long password: %v", err)
		}
		if !CheckPassword(hash, password) {
			t.Error("expected long password to verify after truncation")
		}
		// Bytes beyond 72 do not participate in the hash.
		if !CheckPassword(hash, password[:72]+"different-tail") {
			t.Error("expected 72-byte truncation on comparison")
		}
	})
}

func TestTokenIssuer(t *testing.T) {
	issuer := NewTokenIssuer(domain.AuthConfig{
		JWTSecret:       "test-secret",
		AccessTokenTTL:  15,
		RefreshTokenTTL: 60 * 24,
	})
	user := &domain.User{ID: "u-1", TenantID: "t-1", Role: domain.RoleUser}

	t.Run("AccessTokenRoundTrip", func(t *testing.T) {
		token, err := issuer.AccessToken(user)
		if err != nil {
			t.Fatalf("failed to issue: %v", err)
		}

		current, err := issuer.Parse(token, TokenTypeAccess)
		if err != nil {
			t.Fatalf("failed to parse: %v", err)
		}
		if current.UserID != "u-1" || current.TenantID != "t-1" {
			t.Errorf("unexpected claims: %+v", current)
		}
	})

	t.Run("TypeMismatchRejected", func(t *testing.T) {
		token, _ := issuer.AccessToken(user)
		if _, err := issuer.Parse(token, TokenTypeRefresh); err == nil {
			t.Error("expected access token to fail refresh parse")
		}

		refresh, _ := issuer.RefreshToken(user)
		if _, err := issuer.Parse(refresh, TokenTypeAccess); err == nil {
			t.Error("expected refresh token to fail access parse")
		}
	})

	t.Run("WrongSecretRejected", func(t *testing.T) {
		token, _ := issuer.AccessToken(user)

		other := NewTokenIssuer(domain.AuthConfig{JWTSecret: "other-secret"})
		if _, err := other.Parse(token, TokenTypeAccess); err == nil {
			t.Error("expected token signed with different secret to fail")
		}
	})

	t.Run("RefreshTokenCarriesNoRole", func(t *testing.T) {
		adminUser := &domain.User{ID: "u-2", TenantID: "t-1", Role: domain.RoleAdmin}
		refresh, err := issuer.RefreshToken(adminUser)
		if err != nil {
			t.Fatalf("failed to issue refresh token: %v", err)
		}

		current, err := issuer.Parse(refresh, TokenTypeRefresh)
		if err != nil {
			t.Fatalf("failed to parse refresh token: %v", err)
		}
		if current.Role != domain.RoleUser {
			t.Errorf("expected role to default to user, got '%s'", current.Role)
		}
	})
}

func TestRateLimitedEvaluations(t *testing.T) {
	repo, err := repository.New(domain.RepositoryConfig{
		Driver:     "sqlite",
		SQLitePath: filepath.Join(t.TempDir(), "condor-rl.db"),
	})
	if err != nil {
		t.Fatalf("failed to create repository: %v", err)
	}
	t.Cleanup(func() { repo.Close() })

	c, err := cache.New(domain.CacheConfig{Type: "memory", LocalMaxSize: 256})
	if err != nil {
		t.Fatalf("failed to create cache: %v", err)
	}
	t.Cleanup(func() { c.Close() })

	b := bus.NewChannelBus(16)
	t.Cleanup(func() { b.Close() })

	cfg := domain.DefaultConfig()
	cfg.Auth.JWTSecret = "test-secret"
	cfg.Auth.BcryptCost = bcrypt.MinCost
	cfg.RateLimit.Enabled = true
	cfg.RateLimit.RequestsPerMinute = 1000
	cfg.RateLimit.EvaluationsPerMinute = 2

	limiter := ratelimit.NewLimiter(c, cfg.RateLimit)
	server := NewServer(cfg, repo, c, b, engine.NewEngine(), limiter, "test-v1")

	corpus := seedCorpus(t, repo)
	tokens := registerUser(t, server, "limited@condor.test")
	profileID := createProfile(t, server, tokens.AccessToken, corpus.FiscalYearID, 80000000)

	var last int
	for i := 0; i < 3; i++ {
		rr := doJSON(server, http.MethodPost, "/api/v1/evaluations", tokens.AccessToken, map[string]string{
			"tax_profile_id": profileID,
		})
		last = rr.Code
	}
	if last != http.StatusTooManyRequests {
		t.Errorf("expected third evaluation to hit 429, got %d", last)
	}
}
