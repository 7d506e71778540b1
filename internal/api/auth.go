package api

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/opensource-finance/condor/internal/domain"
)

// Token types carried in the "type" claim. Access tokens authenticate API
// calls; refresh tokens only mint new pairs.
const (
	TokenTypeAccess  = "access"
	TokenTypeRefresh = "refresh"
)

// DefaultTenant is the tenant slug used when registration or login does not
// name one.
const DefaultTenant = "default"

// CurrentUser is the authenticated caller, decoded from the access token.
type CurrentUser struct {
	UserID   string
	TenantID string
	Role     string
}

// IsAdmin reports whether the caller may use admin endpoints.
func (u *CurrentUser) IsAdmin() bool {
	return u.Role == domain.RoleAdmin || u.Role == domain.RoleSuperAdmin
}

// TokenIssuer mints and verifies the HMAC-signed JWT pair.
type TokenIssuer struct {
	secret     []byte
	accessTTL  time.Duration
	refreshTTL time.Duration
}

// NewTokenIssuer creates a token issuer from auth configuration.
func NewTokenIssuer(cfg domain.AuthConfig) *TokenIssuer {
	accessTTL := time.Duration(cfg.AccessTokenTTL) * time.Minute
	if accessTTL <= 0 {
		accessTTL = 15 * time.Minute
	}
	refreshTTL := time.Duration(cfg.RefreshTokenTTL) * time.Minute
	if refreshTTL <= 0 {
		refreshTTL = 7 * 24 * time.Hour
	}
	return &TokenIssuer{
		secret:     []byte(cfg.JWTSecret),
		accessTTL:  accessTTL,
		refreshTTL: refreshTTL,
	}
}

// AccessToken mints a short-lived token carrying the user's role.
func (t *TokenIssuer) AccessToken(user *domain.User) (string, error) {
	now := time.Now().UTC()
	claims := jwt.MapClaims{
		"sub":       user.ID,
		"tenant_id": user.TenantID,
		"role":      user.Role,
		"type":      TokenTypeAccess,
		"iat":       jwt.NewNumericDate(now),
		"exp":       jwt.NewNumericDate(now.Add(t.accessTTL)),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(t.secret)
}

// RefreshToken mints a long-lived token. It carries no role: the role is
// re-read from the user record when the token is redeemed.
func (t *TokenIssuer) RefreshToken(user *domain.User) (string, error) {
	now := time.Now().UTC()
	claims := jwt.MapClaims{
		"sub":       user.ID,
		"tenant_id": user.TenantID,
		"type":      TokenTypeRefresh,
		"iat":       jwt.NewNumericDate(now),
		"exp":       jwt.NewNumericDate(now.Add(t.refreshTTL)),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(t.secret)
}

// Parse verifies a token's signature, expiry and type claim and returns the
// identity it carries. Any failure reads as ErrUnauthorized; callers never
// learn why a token was rejected.
func (t *TokenIssuer) Parse(tokenString string, wantType string) (*CurrentUser, error) {
	token, err := jwt.Parse(tokenString, func(tok *jwt.Token) (any, error) {
		if _, ok := tok.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", tok.Header["alg"])
		}
		return t.secret, nil
	})
	if err != nil || !token.Valid {
		return nil, domain.ErrUnauthorized
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return nil, domain.ErrUnauthorized
	}
	if typ, _ := claims["type"].(string); typ != wantType {
		return nil, domain.ErrUnauthorized
	}

	sub, _ := claims["sub"].(string)
	tenantID, _ := claims["tenant_id"].(string)
	if sub == "" || tenantID == "" {
		return nil, domain.ErrUnauthorized
	}

	role, _ := claims["role"].(string)
	if role == "" {
		role = domain.RoleUser
	}

	return &CurrentUser{UserID: sub, TenantID: tenantID, Role: role}, nil
}

// bcrypt only reads the first 72 bytes; truncate so longer passphrases hash
// and verify consistently.
func truncatePassword(password string) []byte {
	b := []byte(password)
	if len(b) > 72 {
		b = b[:72]
	}
	return b
}

// HashPassword hashes a password with bcrypt at the configured cost.
func HashPassword(password string, cost int) (string, error) {
	if cost <= 0 {
		cost = bcrypt.DefaultCost
	}
	hash, err := bcrypt.GenerateFromPassword(truncatePassword(password), cost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// CheckPassword reports whether the password matches the stored hash.
func CheckPassword(hash string, password string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), truncatePassword(password)) == nil
}

// RegisterRequest is the request body for POST /auth/register.
type RegisterRequest struct {
	Email      string `json:"email"`
	Password   string `json:"password"`
	FullName   string `json:"full_name"`
	TenantSlug string `json:"tenant_slug,omitempty"`
}

// LoginRequest is the request body for POST /auth/login.
type LoginRequest struct {
	Email      string `json:"email"`
	Password   string `json:"password"`
	TenantSlug string `json:"tenant_slug,omitempty"`
}

// RefreshRequest is the request body for POST /auth/refresh.
type RefreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

// TokenResponse is the response for register and login.
type TokenResponse struct {
	UserID       string `json:"user_id"`
	Email        string `json:"email"`
	FullName     string `json:"full_name"`
	TenantID     string `json:"tenant_id"`
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
}

// RefreshResponse is the response for token refresh.
type RefreshResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
}

// Register handles POST /auth/register.
func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}

	req.Email = domain.NormalizeEmail(req.Email)
	if req.Email == "" || !strings.Contains(req.Email, "@") {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "a valid email is required",
		})
		return
	}
	if len(req.Password) < 8 {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "password must be at least 8 characters",
		})
		return
	}

	tenantID := req.TenantSlug
	if tenantID == "" {
		tenantID = DefaultTenant
	}

	if _, err := h.repo.GetUserByEmail(ctx, tenantID, req.Email); err == nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "User with this email already exists",
		})
		return
	}

	hash, err := HashPassword(req.Password, h.config.Auth.BcryptCost)
	if err != nil {
		slog.Error("failed to hash password", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to register user",
		})
		return
	}

	user := &domain.User{
		ID:           uuid.New().String(),
		TenantID:     tenantID,
		Email:        req.Email,
		PasswordHash: hash,
		FullName:     req.FullName,
		Role:         domain.RoleUser,
		IsActive:     true,
		CreatedAt:    time.Now().UTC(),
	}

	if err := h.repo.SaveUser(ctx, tenantID, user); err != nil {
		slog.Error("failed to save user", "email", req.Email, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to register user",
		})
		return
	}

	resp, err := h.tokenResponse(user)
	if err != nil {
		slog.Error("failed to issue tokens", "user_id", user.ID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to issue tokens",
		})
		return
	}

	slog.Info("user registered", "user_id", user.ID, "tenant_id", tenantID)
	writeJSON(w, http.StatusCreated, resp)
}

// Login handles POST /auth/login.
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}

	tenantID := req.TenantSlug
	if tenantID == "" {
		tenantID = DefaultTenant
	}

	user, err := h.repo.GetUserByEmail(ctx, tenantID, domain.NormalizeEmail(req.Email))
	if err != nil || !CheckPassword(user.PasswordHash, req.Password) {
		writeJSON(w, http.StatusUnauthorized, map[string]string{
			"error": "Invalid email or password",
		})
		return
	}
	if !user.IsActive {
		writeJSON(w, http.StatusUnauthorized, map[string]string{
			"error": "Account is disabled",
		})
		return
	}

	resp, err := h.tokenResponse(user)
	if err != nil {
		slog.Error("failed to issue tokens", "user_id", user.ID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to issue tokens",
		})
		return
	}

	writeJSON(w, http.StatusOK, resp)
}

// Refresh handles POST /auth/refresh. The refresh token is verified, the
// user re-loaded, and a fresh pair issued.
func (h *Handler) Refresh(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req RefreshRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}

	claims, err := h.tokens.Parse(req.RefreshToken, TokenTypeRefresh)
	if err != nil {
		writeJSON(w, http.StatusUnauthorized, map[string]string{
			"error": "Invalid refresh token",
		})
		return
	}

	user, err := h.repo.GetUser(ctx, claims.TenantID, claims.UserID)
	if err != nil || !user.IsActive {
		writeJSON(w, http.StatusUnauthorized, map[string]string{
			"error": "User not found",
		})
		return
	}

	accessToken, err := h.tokens.AccessToken(user)
	if err != nil {
		slog.Error("failed to issue access token", "user_id", user.ID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to issue tokens",
		})
		return
	}
	refreshToken, err := h.tokens.RefreshToken(user)
	if err != nil {
		slog.Error("failed to issue refresh token", "user_id", user.ID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to issue tokens",
		})
		return
	}

	h.tokensIssued.Add(1)
	writeJSON(w, http.StatusOK, RefreshResponse{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		TokenType:    "bearer",
	})
}

func (h *Handler) tokenResponse(user *domain.User) (*TokenResponse, error) {
	accessToken, err := h.tokens.AccessToken(user)
	if err != nil {
		return nil, err
	}
	refreshToken, err := h.tokens.RefreshToken(user)
	if err != nil {
		return nil, err
	}
	h.tokensIssued.Add(1)
	return &TokenResponse{
		UserID:       user.ID,
		Email:        user.Email,
		FullName:     user.FullName,
		TenantID:     user.TenantID,
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		TokenType:    "bearer",
	}, nil
}
