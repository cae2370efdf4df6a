package httptransport

import (
	"net/http"

	"gatehouse/pkg/domain"
	"gatehouse/pkg/platform/httputil"
	"gatehouse/pkg/requestcontext"
)

type meResponse struct {
	User   *meUser              `json:"user,omitempty"`
	APIKey *domain.APIKeyRecord `json:"api_key,omitempty"`
}

type meUser struct {
	ID     string         `json:"id"`
	Claims map[string]any `json:"claims,omitempty"`
}

// handleMe echoes the identities the gate admitted the request with.
func handleMe(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var resp meResponse
	if c, ok := requestcontext.UserCaller(ctx); ok {
		resp.User = &meUser{ID: c.UserID.String(), Claims: c.Claims}
	}
	if c, ok := requestcontext.APIKeyCaller(ctx); ok {
		resp.APIKey = c.APIKey
	}
	httputil.WriteJSON(w, http.StatusOK, resp)
}
