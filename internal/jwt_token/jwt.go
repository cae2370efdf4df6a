package jwttoken

import (
	"context"
	"errors"
	"maps"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	dErrors "gatehouse/pkg/domain-errors"
	"gatehouse/pkg/requestcontext"
)

// Subject is the declared purpose of a token. A token verifies only under the
// subject it was signed with.
type Subject string

const (
	SubjectLogin           Subject = "auth"
	SubjectTwoFactor       Subject = "2fa"
	SubjectRefresh         Subject = "refresh"
	SubjectPasswordReset   Subject = "password-reset"
	SubjectEmailVerify     Subject = "email-verify"
	SubjectApproveLocation Subject = "approve-location"
	SubjectAPIKey          Subject = "api-key"
	SubjectAccessToken     Subject = "access-token"
)

var registeredClaims = []string{"sub", "iss", "jti", "iat", "exp", "nbf", "aud"}

// Claims is a verified token: registered claims plus the signed payload.
type Claims struct {
	Subject   Subject
	Issuer    string
	ID        string
	IssuedAt  time.Time
	ExpiresAt time.Time
	Payload   map[string]any
}

// String returns a string payload value, or "".
func (c *Claims) String(key string) string {
	v, _ := c.Payload[key].(string)
	return v
}

// JWTService signs and verifies HS256 tokens. Time is taken from the request
// context so a single request sees one clock; there is no skew leeway.
type JWTService struct {
	signingKey []byte
	issuer     string
	expiry     Expiry
}

type Option func(*JWTService)

func WithExpiry(e Expiry) Option {
	return func(s *JWTService) {
		s.expiry = e
	}
}

func NewJWTService(signingKey string, issuer string, opts ...Option) *JWTService {
	s := &JWTService{
		signingKey: []byte(signingKey),
		issuer:     issuer,
		expiry:     DefaultExpiry(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Sign embeds payload, the issuer, a random token id and exp = now + ttl.
// Registered claim names in payload are overwritten.
func (s *JWTService) Sign(ctx context.Context, payload map[string]any, ttl time.Duration, subject Subject) (string, error) {
	if subject == "" {
		return "", dErrors.New(dErrors.CodeInvalidInput, "token subject is required")
	}
	now := requestcontext.Now(ctx)

	claims := jwt.MapClaims{}
	maps.Copy(claims, payload)
	claims["sub"] = string(subject)
	claims["iss"] = s.issuer
	claims["jti"] = uuid.NewString()
	claims["iat"] = jwt.NewNumericDate(now)
	claims["exp"] = jwt.NewNumericDate(expiry(now, ttl))

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.signingKey)
	if err != nil {
		return "", dErrors.Wrap(err, dErrors.CodeInternal, "failed to sign token")
	}
	return signed, nil
}

// expiry rounds now+ttl up to the next whole second, the resolution of exp, so
// a token never dies before its full ttl has passed.
func expiry(now time.Time, ttl time.Duration) time.Time {
	at := now.Add(ttl)
	if whole := at.Truncate(time.Second); whole.Before(at) {
		return whole.Add(time.Second)
	}
	return at
}

// Verify checks signature, issuer, subject and expiry. Expiry alone yields
// expired-token; every other failure is invalid-token.
func (s *JWTService) Verify(ctx context.Context, tokenString string, subject Subject) (*Claims, error) {
	now := requestcontext.Now(ctx)
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(s.issuer),
		jwt.WithSubject(string(subject)),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(func() time.Time { return now }),
	)

	mc := jwt.MapClaims{}
	parsed, err := parser.ParseWithClaims(tokenString, mc, func(token *jwt.Token) (any, error) {
		return s.signingKey, nil
	})
	if err != nil {
		return nil, classify(err)
	}
	if !parsed.Valid {
		return nil, dErrors.New(dErrors.CodeInvalidToken, "invalid token")
	}

	claims := &Claims{
		Subject: subject,
		Issuer:  s.issuer,
		Payload: make(map[string]any, len(mc)),
	}
	claims.ID, _ = mc["jti"].(string)
	if exp, err := mc.GetExpirationTime(); err == nil && exp != nil {
		claims.ExpiresAt = exp.Time
	}
	if iat, err := mc.GetIssuedAt(); err == nil && iat != nil {
		claims.IssuedAt = iat.Time
	}
	maps.Copy(claims.Payload, mc)
	for _, name := range registeredClaims {
		delete(claims.Payload, name)
	}
	return claims, nil
}

// classify maps parser errors. A wrong subject, issuer or signature is
// reported as invalid even if the token is also expired.
func classify(err error) error {
	switch {
	case errors.Is(err, jwt.ErrTokenInvalidSubject),
		errors.Is(err, jwt.ErrTokenInvalidIssuer),
		errors.Is(err, jwt.ErrTokenSignatureInvalid),
		errors.Is(err, jwt.ErrTokenMalformed),
		errors.Is(err, jwt.ErrTokenUnverifiable):
		return dErrors.New(dErrors.CodeInvalidToken, "invalid token")
	case errors.Is(err, jwt.ErrTokenExpired):
		return dErrors.New(dErrors.CodeExpiredToken, "token has expired")
	default:
		return dErrors.New(dErrors.CodeInvalidToken, "invalid token")
	}
}
