// Package httputil holds the JSON response helpers shared by handlers and middleware.
package httputil

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	dErrors "gatehouse/pkg/domain-errors"
	"gatehouse/pkg/requestcontext"
)

// ErrorResponse is the wire shape of every rejection.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

// WriteJSON writes v as a JSON body with the given status.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(v)
}

// WriteError normalizes err and writes it. Internal detail is dropped.
func WriteError(w http.ResponseWriter, err error) {
	WriteNormalized(w, dErrors.Normalize(err))
}

// WriteNormalized writes an already normalized error.
func WriteNormalized(w http.ResponseWriter, n dErrors.NormalizedError) {
	WriteJSON(w, n.Status, ErrorResponse{Error: string(n.Code), Message: n.Message})
}

// LogAndWriteError normalizes err, logs the internal detail and writes the
// wire-safe body. Server errors log at error level, rejections at warn.
func LogAndWriteError(ctx context.Context, w http.ResponseWriter, logger *slog.Logger, err error) dErrors.NormalizedError {
	n := dErrors.Normalize(err)
	if logger != nil {
		level := slog.LevelWarn
		if n.Status >= http.StatusInternalServerError {
			level = slog.LevelError
		}
		logger.Log(ctx, level, "request rejected",
			"status", n.Status,
			"code", n.Code,
			"detail", n.Internal,
			"request_id", requestcontext.RequestID(ctx),
		)
	}
	WriteNormalized(w, n)
	return n
}
