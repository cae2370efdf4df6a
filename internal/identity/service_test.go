package identity_test

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/suite"
	"golang.org/x/crypto/bcrypt"

	"gatehouse/internal/identity"
	"gatehouse/internal/identity/store/user"
	jwttoken "gatehouse/internal/jwt_token"
	"gatehouse/pkg/domain"
	dErrors "gatehouse/pkg/domain-errors"
)

type recordingNotifier struct {
	sent map[domain.UserID]string
}

func (n *recordingNotifier) SendPasswordReset(_ context.Context, u *identity.User, token string) error {
	n.sent[u.ID] = token
	return nil
}

type ProviderSuite struct {
	suite.Suite
	ctx      context.Context
	jwt      *jwttoken.JWTService
	notifier *recordingNotifier
	provider *identity.Provider
}

func TestProviderSuite(t *testing.T) {
	suite.Run(t, new(ProviderSuite))
}

func (s *ProviderSuite) SetupTest() {
	s.ctx = context.Background()
	s.jwt = jwttoken.NewJWTService("test-signing-key", "test-issuer")
	s.notifier = &recordingNotifier{sent: map[domain.UserID]string{}}
	var err error
	s.provider, err = identity.New(user.New(), s.jwt,
		identity.WithBcryptCost(bcrypt.MinCost),
		identity.WithNotifier(s.notifier),
		identity.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	)
	s.Require().NoError(err)
}

func (s *ProviderSuite) register(email, password string) *identity.User {
	u, err := s.provider.Register(s.ctx, &identity.RegisterRequest{Email: email, Password: password})
	s.Require().NoError(err)
	return u
}

func (s *ProviderSuite) TestNew() {
	_, err := identity.New(nil, s.jwt)
	s.ErrorContains(err, "user store is required")
	_, err = identity.New(user.New(), nil)
	s.ErrorContains(err, "token issuer is required")
}

func (s *ProviderSuite) TestRegister() {
	s.Run("normalizes email and derives names", func() {
		u := s.register("  Jane.Doe@Example.com ", "correct horse")
		s.Equal("jane.doe@example.com", u.Email)
		s.Equal("Jane", u.FirstName)
		s.Equal("Doe", u.LastName)
		s.NotEmpty(u.ID)
		s.NoError(bcrypt.CompareHashAndPassword(u.PasswordHash, []byte("correct horse")))
	})

	s.Run("duplicate email is a conflict", func() {
		_, err := s.provider.Register(s.ctx, &identity.RegisterRequest{Email: "JANE.DOE@example.com", Password: "another pass"})
		s.True(dErrors.HasCode(err, dErrors.CodeConflict))
	})

	s.Run("input validation", func() {
		cases := map[string]identity.RegisterRequest{
			"missing email":      {Password: "long enough"},
			"invalid email":      {Email: "not-an-email", Password: "long enough"},
			"short password":     {Email: "a@example.com", Password: "short"},
			"oversized password": {Email: "a@example.com", Password: strings.Repeat("p", 73)},
		}
		for name, req := range cases {
			s.Run(name, func() {
				_, err := s.provider.Register(s.ctx, &req)
				s.True(dErrors.HasCode(err, dErrors.CodeInvalidInput), "got %v", err)
			})
		}
	})
}

func (s *ProviderSuite) TestLogin() {
	u := s.register("login@example.com", "correct horse")

	s.Run("valid credentials issue a login token", func() {
		res, err := s.provider.Login(s.ctx, &identity.LoginRequest{Email: "Login@example.com", Password: "correct horse"})
		s.Require().NoError(err)
		s.Equal(u.ID, res.UserID)

		claims, err := s.jwt.Verify(s.ctx, res.Token, jwttoken.SubjectLogin)
		s.Require().NoError(err)
		s.Equal("login@example.com", claims.String("email"))
	})

	s.Run("wrong password", func() {
		_, err := s.provider.Login(s.ctx, &identity.LoginRequest{Email: "login@example.com", Password: "wrong horse"})
		s.True(dErrors.HasCode(err, dErrors.CodeInvalidLogin))
	})

	s.Run("unknown email looks the same as a wrong password", func() {
		_, err := s.provider.Login(s.ctx, &identity.LoginRequest{Email: "nobody@example.com", Password: "correct horse"})
		s.True(dErrors.HasCode(err, dErrors.CodeInvalidLogin))
	})

	s.Run("missing password", func() {
		_, err := s.provider.Login(s.ctx, &identity.LoginRequest{Email: "login@example.com"})
		s.True(dErrors.HasCode(err, dErrors.CodeInvalidInput))
	})
}

func (s *ProviderSuite) TestRequestPasswordReset() {
	u := s.register("reset@example.com", "correct horse")

	s.Require().NoError(s.provider.RequestPasswordReset(s.ctx, &identity.ResetPasswordRequest{Email: "reset@example.com"}))
	token := s.notifier.sent[u.ID]
	s.Require().NotEmpty(token)

	claims, err := s.jwt.Verify(s.ctx, token, jwttoken.SubjectPasswordReset)
	s.Require().NoError(err)
	s.Equal(u.ID.String(), claims.String("id"))

	s.Run("unknown email succeeds without sending", func() {
		s.NoError(s.provider.RequestPasswordReset(s.ctx, &identity.ResetPasswordRequest{Email: "ghost@example.com"}))
		s.Len(s.notifier.sent, 1)
	})
}
