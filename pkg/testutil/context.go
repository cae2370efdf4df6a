package testutil

import (
	"net/http"

	"gatehouse/pkg/domain"
	"gatehouse/pkg/requestcontext"
)

// WithUser attaches a user caller to the request context, as the auth gate
// would after verifying a login token. Invalid ids are silently ignored.
func WithUser(req *http.Request, userID string, claims map[string]any) *http.Request {
	id, err := domain.ParseUserID(userID)
	if err != nil {
		return req
	}
	ctx := requestcontext.WithUserCaller(req.Context(), domain.UserCaller(id, claims))
	return req.WithContext(ctx)
}

// WithAPIKey attaches an api-key caller to the request context.
func WithAPIKey(req *http.Request, record *domain.APIKeyRecord) *http.Request {
	ctx := requestcontext.WithAPIKeyCaller(req.Context(), domain.APIKeyCaller(record))
	return req.WithContext(ctx)
}

// WithClientIP simulates the client metadata middleware.
func WithClientIP(req *http.Request, ip string) *http.Request {
	ctx := requestcontext.WithClientMetadata(req.Context(), ip, req.UserAgent())
	return req.WithContext(ctx)
}
