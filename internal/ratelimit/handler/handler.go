package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"gatehouse/internal/ratelimit/models"
	dErrors "gatehouse/pkg/domain-errors"
	"gatehouse/pkg/platform/httputil"
)

const maxBodyBytes = 4 << 10

// Resetter clears abuse counters.
type Resetter interface {
	ResetCounter(ctx context.Context, req *models.ResetCounterRequest) error
}

type Handler struct {
	admin  Resetter
	logger *slog.Logger
}

func New(admin Resetter, logger *slog.Logger) *Handler {
	return &Handler{admin: admin, logger: logger}
}

// RegisterAdmin mounts the operator routes. Callers guard r with the admin
// token middleware.
func (h *Handler) RegisterAdmin(r chi.Router) {
	r.Post("/admin/ratelimit/reset", h.HandleResetCounter)
}

// HandleResetCounter clears one counter and answers 204.
func (h *Handler) HandleResetCounter(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req models.ResetCounterRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		httputil.LogAndWriteError(ctx, w, h.logger, dErrors.NewSafe(dErrors.CodeBadRequest, "invalid JSON body"))
		return
	}

	if err := h.admin.ResetCounter(ctx, &req); err != nil {
		httputil.LogAndWriteError(ctx, w, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
