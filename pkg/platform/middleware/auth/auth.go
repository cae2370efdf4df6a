package auth

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"gatehouse/pkg/domain"
	dErrors "gatehouse/pkg/domain-errors"
	"gatehouse/pkg/platform/httputil"
	"gatehouse/pkg/requestcontext"
)

// Credential headers. The alternates are accepted for clients written against
// older header names.
const (
	HeaderAPIKey          = "X-Api-Key"
	HeaderAPIKeyAlternate = "X-Api-Key-Id"
	HeaderSecret          = "X-Api-Secret"
	HeaderSecretAlternate = "X-Secret-Key"
	QueryAPIKey           = "key"
)

// Authenticator runs the authentication gate's decision procedure.
type Authenticator interface {
	Authenticate(ctx context.Context, creds domain.Credentials) (domain.Admission, error)
}

// PresentedAPIKey returns the key id or handle sent with the request, if any.
func PresentedAPIKey(r *http.Request) string {
	if v := strings.TrimSpace(r.Header.Get(HeaderAPIKey)); v != "" {
		return v
	}
	if v := strings.TrimSpace(r.Header.Get(HeaderAPIKeyAlternate)); v != "" {
		return v
	}
	return strings.TrimSpace(r.URL.Query().Get(QueryAPIKey))
}

// ExtractCredentials reads every credential input of r. Client IP and
// referrer come from the metadata middleware.
func ExtractCredentials(r *http.Request) domain.Credentials {
	secret := strings.TrimSpace(r.Header.Get(HeaderSecret))
	if secret == "" {
		secret = strings.TrimSpace(r.Header.Get(HeaderSecretAlternate))
	}
	ctx := r.Context()
	return domain.Credentials{
		Authorization: strings.TrimSpace(r.Header.Get("Authorization")),
		APIKey:        PresentedAPIKey(r),
		Secret:        secret,
		ClientIP:      requestcontext.ClientIP(ctx),
		Referrer:      requestcontext.Referrer(ctx),
	}
}

// RequireAuth rejects requests the gate does not admit and attaches the
// resolved identities otherwise.
func RequireAuth(gate Authenticator, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			adm, err := gate.Authenticate(ctx, ExtractCredentials(r))
			if err != nil {
				httputil.LogAndWriteError(ctx, w, logger, err)
				return
			}
			next.ServeHTTP(w, r.WithContext(attach(ctx, adm)))
		})
	}
}

// OptionalAuth attaches identities when credentials are valid and lets
// requests without credentials through. Presented credentials that fail are
// still rejected.
func OptionalAuth(gate Authenticator, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			adm, err := gate.Authenticate(ctx, ExtractCredentials(r))
			if err != nil {
				if dErrors.HasCode(err, dErrors.CodeMissingToken) {
					next.ServeHTTP(w, r)
					return
				}
				httputil.LogAndWriteError(ctx, w, logger, err)
				return
			}
			next.ServeHTTP(w, r.WithContext(attach(ctx, adm)))
		})
	}
}

func attach(ctx context.Context, adm domain.Admission) context.Context {
	if adm.User != nil {
		ctx = requestcontext.WithUserCaller(ctx, *adm.User)
	}
	if adm.APIKey != nil {
		ctx = requestcontext.WithAPIKeyCaller(ctx, *adm.APIKey)
	}
	return ctx
}
