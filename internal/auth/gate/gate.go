// Package gate decides who a request is. It verifies bearer tokens against
// the login subject and authenticates API keys by id, secret and scope.
package gate

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"gatehouse/internal/apikey/scope"
	"gatehouse/internal/apikey/secrets"
	"gatehouse/pkg/domain"
	dErrors "gatehouse/pkg/domain-errors"
	"gatehouse/pkg/platform/privacy"
	"gatehouse/pkg/requestcontext"
)

// UserTokenVerifier verifies login tokens.
type UserTokenVerifier interface {
	VerifyUserToken(ctx context.Context, token string) (domain.CallerIdentity, error)
}

// KeyResolver looks up the record a presented key refers to.
type KeyResolver interface {
	Resolve(ctx context.Context, presented domain.PresentedKey) (*domain.APIKeyRecord, error)
}

// Outcome is the terminal state of one gate decision.
type Outcome string

const (
	OutcomeUnauthenticated Outcome = "unauthenticated"
	OutcomeUser            Outcome = "user"
	OutcomeAPIKey          Outcome = "api_key"
	OutcomeUserAndAPIKey   Outcome = "user_and_api_key"
	OutcomeRejected        Outcome = "rejected"
)

// OutcomeOf classifies the result of Authenticate.
func OutcomeOf(adm domain.Admission, err error) Outcome {
	switch {
	case dErrors.HasCode(err, dErrors.CodeMissingToken):
		return OutcomeUnauthenticated
	case err != nil:
		return OutcomeRejected
	case adm.User != nil && adm.APIKey != nil:
		return OutcomeUserAndAPIKey
	case adm.APIKey != nil:
		return OutcomeAPIKey
	case adm.User != nil:
		return OutcomeUser
	default:
		return OutcomeUnauthenticated
	}
}

type Gate struct {
	users        UserTokenVerifier
	keys         KeyResolver
	verifySecret func(secret, hash string) error
	logger       *slog.Logger
	registerer   prometheus.Registerer
	decisions    *prometheus.CounterVec
}

type Option func(*Gate)

func WithLogger(logger *slog.Logger) Option {
	return func(g *Gate) {
		g.logger = logger
	}
}

// WithSecretVerifier replaces the bcrypt comparison, mainly for tests.
func WithSecretVerifier(fn func(secret, hash string) error) Option {
	return func(g *Gate) {
		g.verifySecret = fn
	}
}

func WithMetrics(reg prometheus.Registerer) Option {
	return func(g *Gate) {
		g.registerer = reg
	}
}

func New(users UserTokenVerifier, keys KeyResolver, opts ...Option) (*Gate, error) {
	if users == nil {
		return nil, errors.New("user token verifier is required")
	}
	if keys == nil {
		return nil, errors.New("api key resolver is required")
	}
	g := &Gate{
		users:        users,
		keys:         keys,
		verifySecret: secrets.Verify,
		logger:       slog.Default(),
	}
	for _, opt := range opts {
		opt(g)
	}
	if g.registerer != nil {
		g.decisions = promauto.With(g.registerer).NewCounterVec(prometheus.CounterOpts{
			Name: "auth_gate_decisions_total",
			Help: "Authentication gate decisions by outcome and error code",
		}, []string{"outcome", "code"})
	}
	return g, nil
}

// Authenticate runs the decision procedure:
//
//  1. A bearer token is verified against the login subject. Success attaches a
//     user identity regardless of any key headers.
//  2. When a secret is supplied the API key is resolved, its secret compared and
//     its IP and referrer restrictions checked. Success attaches a key identity
//     next to any user identity; any failure rejects the request with the
//     failing step's code.
//  3. A request left without an identity is rejected with the bearer token's
//     error, invalid-api-key-secret for a key sent without its secret, or
//     missing-token when nothing was presented.
func (g *Gate) Authenticate(ctx context.Context, creds domain.Credentials) (domain.Admission, error) {
	adm, err := g.decide(ctx, creds)
	g.record(ctx, creds, adm, err)
	if err != nil {
		return domain.Admission{}, err
	}
	return adm, nil
}

func (g *Gate) decide(ctx context.Context, creds domain.Credentials) (domain.Admission, error) {
	var (
		adm      domain.Admission
		tokenErr error
	)

	if creds.Authorization != "" {
		token, ok := bearerToken(creds.Authorization)
		if !ok {
			tokenErr = dErrors.New(dErrors.CodeInvalidToken, "authorization header must use the Bearer scheme")
		} else if caller, err := g.users.VerifyUserToken(ctx, token); err != nil {
			tokenErr = err
		} else {
			adm.User = &caller
		}
	}

	switch {
	case creds.Secret != "":
		if creds.APIKey == "" {
			return adm, dErrors.New(dErrors.CodeInvalidAPIKey, "api key id is required with a secret")
		}
		caller, err := g.authenticateKey(ctx, creds)
		if err != nil {
			return adm, err
		}
		adm.APIKey = &caller
	case creds.APIKey != "" && adm.User == nil && tokenErr == nil:
		return adm, dErrors.New(dErrors.CodeInvalidAPIKeySecret, "api key secret is required")
	}

	if adm.Authenticated() {
		return adm, nil
	}
	if tokenErr != nil {
		return adm, tokenErr
	}
	return adm, dErrors.New(dErrors.CodeMissingToken, "no credentials presented")
}

func (g *Gate) authenticateKey(ctx context.Context, creds domain.Credentials) (domain.CallerIdentity, error) {
	rec, err := g.keys.Resolve(ctx, domain.ClassifyPresentedKey(creds.APIKey))
	if err != nil {
		return domain.CallerIdentity{}, err
	}
	if !requestcontext.KeySecretVerified(ctx, rec.ID, creds.Secret) {
		if err := g.verifySecret(creds.Secret, rec.SecretHash); err != nil {
			return domain.CallerIdentity{}, err
		}
	}
	if err := scope.Validate(rec, creds.ClientIP, creds.Referrer); err != nil {
		return domain.CallerIdentity{}, err
	}
	return domain.APIKeyCaller(rec), nil
}

func (g *Gate) record(ctx context.Context, creds domain.Credentials, adm domain.Admission, err error) {
	outcome := OutcomeOf(adm, err)
	code := ""
	if err != nil {
		code = string(dErrors.CodeOf(err))
	}
	if g.decisions != nil {
		g.decisions.WithLabelValues(string(outcome), code).Inc()
	}

	switch outcome {
	case OutcomeRejected:
		g.logger.WarnContext(ctx, "auth_rejected",
			"log_type", "audit",
			"code", code,
			"error", err,
			"api_key_present", creds.APIKey != "",
			"ip", privacy.AnonymizeIP(creds.ClientIP),
			"request_id", requestcontext.RequestID(ctx),
		)
	case OutcomeAPIKey, OutcomeUserAndAPIKey:
		g.logger.InfoContext(ctx, "auth_api_key_accepted",
			"log_type", "audit",
			"key_id", adm.APIKey.APIKey.ID,
			"organization_id", adm.APIKey.APIKey.OrganizationID,
			"ip", privacy.AnonymizeIP(creds.ClientIP),
			"request_id", requestcontext.RequestID(ctx),
		)
	}
}

func bearerToken(header string) (string, bool) {
	const prefix = "bearer "
	if len(header) <= len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		return "", false
	}
	token := strings.TrimSpace(header[len(prefix):])
	return token, token != ""
}
