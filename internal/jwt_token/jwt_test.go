package jwttoken

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"gatehouse/pkg/domain"
	dErrors "gatehouse/pkg/domain-errors"
	"gatehouse/pkg/requestcontext"
)

var allSubjects = []Subject{
	SubjectLogin, SubjectTwoFactor, SubjectRefresh, SubjectPasswordReset,
	SubjectEmailVerify, SubjectApproveLocation, SubjectAPIKey, SubjectAccessToken,
}

type JWTServiceSuite struct {
	suite.Suite
	svc      *JWTService
	signTime time.Time
	ctx      context.Context
}

func TestJWTServiceSuite(t *testing.T) {
	suite.Run(t, new(JWTServiceSuite))
}

func (s *JWTServiceSuite) SetupTest() {
	s.svc = NewJWTService("test-signing-key", "test-issuer")
	s.signTime = time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	s.ctx = requestcontext.WithTime(context.Background(), s.signTime)
}

func (s *JWTServiceSuite) at(t time.Time) context.Context {
	return requestcontext.WithTime(context.Background(), t)
}

func (s *JWTServiceSuite) TestSubjectBinding() {
	payload := map[string]any{"id": "user-1", "email": "a@example.com"}

	for _, signed := range allSubjects {
		token, err := s.svc.Sign(s.ctx, payload, time.Hour, signed)
		s.Require().NoError(err)

		for _, expected := range allSubjects {
			s.Run(string(signed)+" verified as "+string(expected), func() {
				claims, err := s.svc.Verify(s.ctx, token, expected)
				if signed == expected {
					s.Require().NoError(err)
					s.Equal(payload, claims.Payload)
					s.Equal(expected, claims.Subject)
					return
				}
				s.Require().Error(err)
				s.True(dErrors.HasCode(err, dErrors.CodeInvalidToken))
			})
		}
	}
}

func (s *JWTServiceSuite) TestExpiryBoundary() {
	ttl := 10 * time.Minute
	token, err := s.svc.Sign(s.ctx, map[string]any{"id": "user-1"}, ttl, SubjectLogin)
	s.Require().NoError(err)

	s.Run("just before expiry verifies", func() {
		_, err := s.svc.Verify(s.at(s.signTime.Add(ttl-time.Second)), token, SubjectLogin)
		s.NoError(err)
	})

	s.Run("just after expiry is expired-token", func() {
		_, err := s.svc.Verify(s.at(s.signTime.Add(ttl+time.Second)), token, SubjectLogin)
		s.Require().Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeExpiredToken))
	})

	s.Run("expired with wrong subject is invalid-token", func() {
		_, err := s.svc.Verify(s.at(s.signTime.Add(ttl+time.Second)), token, SubjectRefresh)
		s.Require().Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeInvalidToken))
	})
}

func (s *JWTServiceSuite) TestSubSecondSignTimeKeepsFullTTL() {
	signed := s.signTime.Add(600 * time.Millisecond)
	ttl := 10 * time.Minute
	token, err := s.svc.Sign(s.at(signed), map[string]any{"id": "user-1"}, ttl, SubjectLogin)
	s.Require().NoError(err)

	claims, err := s.svc.Verify(s.at(signed.Add(ttl-100*time.Millisecond)), token, SubjectLogin)
	s.Require().NoError(err)
	s.Equal(s.signTime.Add(ttl+time.Second), claims.ExpiresAt.UTC())

	_, err = s.svc.Verify(s.at(signed.Add(ttl+time.Second)), token, SubjectLogin)
	s.Require().Error(err)
	s.True(dErrors.HasCode(err, dErrors.CodeExpiredToken))
}

func (s *JWTServiceSuite) TestRegisteredClaims() {
	token, err := s.svc.Sign(s.ctx, map[string]any{"id": "user-1", "sub": "spoofed", "iss": "spoofed"}, time.Hour, SubjectLogin)
	s.Require().NoError(err)

	claims, err := s.svc.Verify(s.ctx, token, SubjectLogin)
	s.Require().NoError(err)
	s.Equal("test-issuer", claims.Issuer)
	s.NotEmpty(claims.ID)
	s.Equal(s.signTime.Add(time.Hour), claims.ExpiresAt.UTC())
	s.NotContains(claims.Payload, "sub")
	s.NotContains(claims.Payload, "iss")

	other, err := s.svc.Sign(s.ctx, map[string]any{"id": "user-1"}, time.Hour, SubjectLogin)
	s.Require().NoError(err)
	otherClaims, err := s.svc.Verify(s.ctx, other, SubjectLogin)
	s.Require().NoError(err)
	s.NotEqual(claims.ID, otherClaims.ID, "token ids must be unique")
}

func (s *JWTServiceSuite) TestRejections() {
	s.Run("garbage", func() {
		_, err := s.svc.Verify(s.ctx, "invalid-token-string", SubjectLogin)
		s.True(dErrors.HasCode(err, dErrors.CodeInvalidToken))
	})

	s.Run("wrong key", func() {
		other := NewJWTService("another-key", "test-issuer")
		token, err := other.Sign(s.ctx, map[string]any{"id": "u"}, time.Hour, SubjectLogin)
		s.Require().NoError(err)
		_, err = s.svc.Verify(s.ctx, token, SubjectLogin)
		s.True(dErrors.HasCode(err, dErrors.CodeInvalidToken))
	})

	s.Run("wrong issuer", func() {
		other := NewJWTService("test-signing-key", "someone-else")
		token, err := other.Sign(s.ctx, map[string]any{"id": "u"}, time.Hour, SubjectLogin)
		s.Require().NoError(err)
		_, err = s.svc.Verify(s.ctx, token, SubjectLogin)
		s.True(dErrors.HasCode(err, dErrors.CodeInvalidToken))
	})

	s.Run("empty subject cannot be signed", func() {
		_, err := s.svc.Sign(s.ctx, nil, time.Hour, "")
		s.True(dErrors.HasCode(err, dErrors.CodeInvalidInput))
	})
}

func TestTypedTokens(t *testing.T) {
	now := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	ctx := requestcontext.WithTime(context.Background(), now)
	svc := NewJWTService("k", "iss")
	adapter := NewGateAdapter(svc)

	t.Run("login token verifies as user caller", func(t *testing.T) {
		token, err := svc.LoginToken(ctx, "user-1", map[string]any{"role": "member"})
		require.NoError(t, err)

		caller, err := adapter.VerifyUserToken(ctx, token)
		require.NoError(t, err)
		assert.Equal(t, domain.CallerUser, caller.Kind)
		assert.Equal(t, domain.UserID("user-1"), caller.UserID)
		assert.Equal(t, "member", caller.Claims["role"])
	})

	t.Run("password reset token is not a login token", func(t *testing.T) {
		token, err := svc.PasswordResetToken(ctx, "user-1")
		require.NoError(t, err)
		_, err = adapter.VerifyUserToken(ctx, token)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidToken))
	})

	t.Run("approve location carries the address", func(t *testing.T) {
		token, err := svc.ApproveLocationToken(ctx, "user-1", "10.1.2.3")
		require.NoError(t, err)
		claims, err := svc.Verify(ctx, token, SubjectApproveLocation)
		require.NoError(t, err)
		assert.Equal(t, "10.1.2.3", claims.String("ipAddress"))
		assert.Equal(t, now.Add(10*time.Minute), claims.ExpiresAt.UTC())
	})

	t.Run("api key token names the key and expires with it", func(t *testing.T) {
		expires := now.Add(2 * time.Hour)
		record := &domain.APIKeyRecord{ID: "key-1", OrganizationID: "org-1", SecretHash: "never-embedded", ExpiresAt: &expires}
		token, err := svc.APIKeyToken(ctx, record)
		require.NoError(t, err)

		id, err := adapter.VerifyAPIKeyToken(ctx, token)
		require.NoError(t, err)
		assert.Equal(t, domain.APIKeyID("key-1"), id)

		claims, err := svc.Verify(ctx, token, SubjectAPIKey)
		require.NoError(t, err)
		assert.Equal(t, expires, claims.ExpiresAt.UTC())
		assert.NotContains(t, claims.Payload, "secretHash")
	})

	t.Run("expired api key cannot be tokenized", func(t *testing.T) {
		past := now.Add(-time.Minute)
		_, err := svc.APIKeyToken(ctx, &domain.APIKeyRecord{ID: "key-1", ExpiresAt: &past})
		assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidInput))
	})

	t.Run("access token without expiry uses the maximum", func(t *testing.T) {
		token, err := svc.AccessToken(ctx, "pat-1", nil)
		require.NoError(t, err)
		claims, err := svc.Verify(ctx, token, SubjectAccessToken)
		require.NoError(t, err)
		assert.Equal(t, now.Add(DefaultExpiry().APIKeyMax), claims.ExpiresAt.UTC())
	})
}
