package httptransport

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"gatehouse/internal/identity"
	dErrors "gatehouse/pkg/domain-errors"
	"gatehouse/pkg/platform/httputil"
)

const maxAuthBodyBytes = 16 << 10

// Brute-force scopes of the guarded auth routes.
const (
	ScopeRegister      = "register"
	ScopeLogin         = "login"
	ScopeResetPassword = "reset-password"
)

type AuthService interface {
	Register(ctx context.Context, req *identity.RegisterRequest) (*identity.User, error)
	Login(ctx context.Context, req *identity.LoginRequest) (*identity.LoginResult, error)
	RequestPasswordReset(ctx context.Context, req *identity.ResetPasswordRequest) error
}

// Guard returns the brute-force middleware for a scope.
type Guard func(scope string) func(http.Handler) http.Handler

type AuthHandler struct {
	auth   AuthService
	logger *slog.Logger
}

func NewAuthHandler(auth AuthService, logger *slog.Logger) *AuthHandler {
	return &AuthHandler{auth: auth, logger: logger}
}

// Register mounts /auth/* on r, each route behind guard.
func (h *AuthHandler) Register(r chi.Router, guard Guard) {
	r.Route("/auth", func(r chi.Router) {
		r.With(guard(ScopeRegister)).Post("/register", h.handleRegister)
		r.With(guard(ScopeLogin)).Post("/login", h.handleLogin)
		r.With(guard(ScopeResetPassword)).Post("/reset-password", h.handleResetPassword)
	})
}

type userResponse struct {
	ID        string `json:"id"`
	Email     string `json:"email"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
}

func (h *AuthHandler) handleRegister(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req identity.RegisterRequest
	if !h.decode(w, r, &req) {
		return
	}

	u, err := h.auth.Register(ctx, &req)
	if err != nil {
		httputil.LogAndWriteError(ctx, w, h.logger, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, userResponse{
		ID:        u.ID.String(),
		Email:     u.Email,
		FirstName: u.FirstName,
		LastName:  u.LastName,
	})
}

func (h *AuthHandler) handleLogin(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req identity.LoginRequest
	if !h.decode(w, r, &req) {
		return
	}

	res, err := h.auth.Login(ctx, &req)
	if err != nil {
		httputil.LogAndWriteError(ctx, w, h.logger, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, res)
}

// handleResetPassword always answers 202 for a well-formed request so callers
// cannot discover which emails are registered.
func (h *AuthHandler) handleResetPassword(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req identity.ResetPasswordRequest
	if !h.decode(w, r, &req) {
		return
	}

	if err := h.auth.RequestPasswordReset(ctx, &req); err != nil {
		httputil.LogAndWriteError(ctx, w, h.logger, err)
		return
	}
	httputil.WriteJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
}

func (h *AuthHandler) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxAuthBodyBytes)).Decode(v); err != nil {
		httputil.LogAndWriteError(r.Context(), w, h.logger, dErrors.NewSafe(dErrors.CodeBadRequest, "invalid request body"))
		return false
	}
	return true
}
