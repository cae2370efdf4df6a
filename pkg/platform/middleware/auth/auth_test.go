package auth

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gatehouse/pkg/domain"
	dErrors "gatehouse/pkg/domain-errors"
	"gatehouse/pkg/platform/httputil"
	"gatehouse/pkg/requestcontext"
)

type stubGate struct {
	got domain.Credentials
	adm domain.Admission
	err error
}

func (s *stubGate) Authenticate(_ context.Context, creds domain.Credentials) (domain.Admission, error) {
	s.got = creds
	return s.adm, s.err
}

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

func echoCallers(w http.ResponseWriter, r *http.Request) {
	_, hasUser := requestcontext.UserCaller(r.Context())
	_, hasKey := requestcontext.APIKeyCaller(r.Context())
	httputil.WriteJSON(w, http.StatusOK, map[string]bool{"user": hasUser, "apiKey": hasKey})
}

func TestExtractCredentials(t *testing.T) {
	t.Run("primary headers", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("Authorization", "Bearer abc")
		req.Header.Set(HeaderAPIKey, " key-1 ")
		req.Header.Set(HeaderSecret, "secret")
		ctx := requestcontext.WithClientMetadata(req.Context(), "10.0.0.1", "ua")
		ctx = requestcontext.WithReferrer(ctx, "https://app.example.com")

		creds := ExtractCredentials(req.WithContext(ctx))
		assert.Equal(t, domain.Credentials{
			Authorization: "Bearer abc",
			APIKey:        "key-1",
			Secret:        "secret",
			ClientIP:      "10.0.0.1",
			Referrer:      "https://app.example.com",
		}, creds)
	})

	t.Run("alternate headers", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set(HeaderAPIKeyAlternate, "key-2")
		req.Header.Set(HeaderSecretAlternate, "other")
		creds := ExtractCredentials(req)
		assert.Equal(t, "key-2", creds.APIKey)
		assert.Equal(t, "other", creds.Secret)
	})

	t.Run("query parameter key", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/?key=key-3", nil)
		assert.Equal(t, "key-3", PresentedAPIKey(req))
	})
}

func TestRequireAuth(t *testing.T) {
	t.Run("rejection is normalized", func(t *testing.T) {
		gate := &stubGate{err: dErrors.New(dErrors.CodeMissingToken, "no credentials presented")}
		handler := RequireAuth(gate, discard)(http.HandlerFunc(echoCallers))

		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))

		assert.Equal(t, http.StatusUnprocessableEntity, rr.Code)
		var body httputil.ErrorResponse
		require.NoError(t, json.NewDecoder(rr.Body).Decode(&body))
		assert.Equal(t, "missing-token", body.Error)
	})

	t.Run("identities reach the handler", func(t *testing.T) {
		user := domain.UserCaller("user-1", nil)
		key := domain.APIKeyCaller(&domain.APIKeyRecord{ID: "key-1"})
		gate := &stubGate{adm: domain.Admission{User: &user, APIKey: &key}}
		handler := RequireAuth(gate, discard)(http.HandlerFunc(echoCallers))

		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))

		assert.Equal(t, http.StatusOK, rr.Code)
		assert.JSONEq(t, `{"user":true,"apiKey":true}`, rr.Body.String())
	})
}

func TestOptionalAuth(t *testing.T) {
	t.Run("missing credentials pass through", func(t *testing.T) {
		gate := &stubGate{err: dErrors.New(dErrors.CodeMissingToken, "no credentials presented")}
		handler := OptionalAuth(gate, discard)(http.HandlerFunc(echoCallers))

		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))

		assert.Equal(t, http.StatusOK, rr.Code)
		assert.JSONEq(t, `{"user":false,"apiKey":false}`, rr.Body.String())
	})

	t.Run("bad credentials are still rejected", func(t *testing.T) {
		gate := &stubGate{err: dErrors.New(dErrors.CodeInvalidAPIKeySecret, "invalid api key secret")}
		handler := OptionalAuth(gate, discard)(http.HandlerFunc(echoCallers))

		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))

		assert.Equal(t, http.StatusUnauthorized, rr.Code)
		assert.JSONEq(t, `{"error":"invalid-api-key-secret","message":"invalid api key secret"}`, rr.Body.String())
	})
}
