// Package identity is the thin user-account collaborator behind the
// brute-force guarded auth routes.
package identity

import (
	"context"
	"errors"
	"log/slog"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"gatehouse/pkg/domain"
	dErrors "gatehouse/pkg/domain-errors"
	"gatehouse/pkg/email"
	"gatehouse/pkg/platform/privacy"
	"gatehouse/pkg/platform/sentinel"
	"gatehouse/pkg/requestcontext"
)

type UserStore interface {
	Save(ctx context.Context, u *User) error
	FindByEmail(ctx context.Context, email string) (*User, error)
}

// TokenIssuer signs the tokens handed out by the provider.
type TokenIssuer interface {
	LoginToken(ctx context.Context, userID domain.UserID, extra map[string]any) (string, error)
	PasswordResetToken(ctx context.Context, userID domain.UserID) (string, error)
}

// ResetNotifier delivers a password-reset token to the account owner.
type ResetNotifier interface {
	SendPasswordReset(ctx context.Context, u *User, token string) error
}

type Provider struct {
	users     UserStore
	tokens    TokenIssuer
	notifier  ResetNotifier
	logger    *slog.Logger
	cost      int
	dummyHash []byte
}

type Option func(*Provider)

func WithLogger(logger *slog.Logger) Option {
	return func(p *Provider) {
		p.logger = logger
	}
}

func WithNotifier(n ResetNotifier) Option {
	return func(p *Provider) {
		p.notifier = n
	}
}

// WithBcryptCost overrides the password hashing cost. Tests use
// bcrypt.MinCost.
func WithBcryptCost(cost int) Option {
	return func(p *Provider) {
		p.cost = cost
	}
}

func New(users UserStore, tokens TokenIssuer, opts ...Option) (*Provider, error) {
	if users == nil {
		return nil, errors.New("user store is required")
	}
	if tokens == nil {
		return nil, errors.New("token issuer is required")
	}
	p := &Provider{
		users:  users,
		tokens: tokens,
		logger: slog.Default(),
		cost:   bcrypt.DefaultCost,
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.notifier == nil {
		p.notifier = LogNotifier{Logger: p.logger}
	}

	// Unknown emails still pay for one comparison.
	hash, err := bcrypt.GenerateFromPassword([]byte("gatehouse-dummy-password"), p.cost)
	if err != nil {
		return nil, err
	}
	p.dummyHash = hash
	return p, nil
}

// Register creates an account. Names default to ones derived from the email.
func (p *Provider) Register(ctx context.Context, req *RegisterRequest) (*User, error) {
	req.Normalize()
	if err := req.Validate(); err != nil {
		return nil, err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), p.cost)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to hash password")
	}

	first, last := req.FirstName, req.LastName
	if first == "" && last == "" {
		first, last = email.NamesFromAddress(req.Email)
	}

	u := &User{
		ID:           domain.UserID(uuid.NewString()),
		Email:        req.Email,
		FirstName:    first,
		LastName:     last,
		PasswordHash: hash,
		CreatedAt:    requestcontext.Now(ctx),
	}
	if err := p.users.Save(ctx, u); err != nil {
		if errors.Is(err, sentinel.ErrConflict) {
			return nil, dErrors.NewSafe(dErrors.CodeConflict, "email is already registered")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to save user")
	}

	p.logger.InfoContext(ctx, "user registered",
		"user_id", u.ID,
		"request_id", requestcontext.RequestID(ctx),
	)
	return u, nil
}

// Login checks the password and issues a login-subject token. Unknown email
// and wrong password are indistinguishable to the caller.
func (p *Provider) Login(ctx context.Context, req *LoginRequest) (*LoginResult, error) {
	req.Normalize()
	if err := req.Validate(); err != nil {
		return nil, err
	}

	u, err := p.users.FindByEmail(ctx, req.Email)
	if err != nil && !errors.Is(err, sentinel.ErrNotFound) {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to find user")
	}

	hash := p.dummyHash
	if u != nil {
		hash = u.PasswordHash
	}
	if cmpErr := bcrypt.CompareHashAndPassword(hash, []byte(req.Password)); cmpErr != nil || u == nil {
		p.logger.WarnContext(ctx, "login failed",
			"ip_prefix", privacy.AnonymizeIP(requestcontext.ClientIP(ctx)),
			"request_id", requestcontext.RequestID(ctx),
		)
		return nil, dErrors.NewSafe(dErrors.CodeInvalidLogin, "invalid email or password")
	}

	token, err := p.tokens.LoginToken(ctx, u.ID, map[string]any{"email": u.Email})
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to issue login token")
	}
	return &LoginResult{Token: token, UserID: u.ID}, nil
}

// RequestPasswordReset issues a reset token for a known email and hands it to
// the notifier. Unknown emails succeed silently.
func (p *Provider) RequestPasswordReset(ctx context.Context, req *ResetPasswordRequest) error {
	req.Normalize()
	if err := req.Validate(); err != nil {
		return err
	}

	u, err := p.users.FindByEmail(ctx, req.Email)
	if errors.Is(err, sentinel.ErrNotFound) {
		return nil
	}
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to find user")
	}

	token, err := p.tokens.PasswordResetToken(ctx, u.ID)
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to issue reset token")
	}
	if err := p.notifier.SendPasswordReset(ctx, u, token); err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to send reset token")
	}
	return nil
}

// LogNotifier records that a reset was issued. The token itself is not logged.
type LogNotifier struct {
	Logger *slog.Logger
}

func (n LogNotifier) SendPasswordReset(ctx context.Context, u *User, _ string) error {
	n.Logger.InfoContext(ctx, "password reset issued",
		"user_id", u.ID,
		"request_id", requestcontext.RequestID(ctx),
	)
	return nil
}
