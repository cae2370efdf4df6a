package jwttoken

import (
	"context"
	"time"

	"gatehouse/pkg/domain"
	dErrors "gatehouse/pkg/domain-errors"
	"gatehouse/pkg/requestcontext"
)

// Expiry is the lifetime of each token subject.
type Expiry struct {
	EmailVerification time.Duration
	PasswordReset     time.Duration
	Login             time.Duration
	ApproveLocation   time.Duration
	Refresh           time.Duration
	APIKeyMax         time.Duration
}

func DefaultExpiry() Expiry {
	return Expiry{
		EmailVerification: 7 * 24 * time.Hour,
		PasswordReset:     24 * time.Hour,
		Login:             24 * time.Hour,
		ApproveLocation:   10 * time.Minute,
		Refresh:           30 * 24 * time.Hour,
		APIKeyMax:         365 * 24 * time.Hour,
	}
}

// LoginToken issues the bearer token accepted by the authentication gate.
// Extra claims travel in the payload; "id" is always the user id.
func (s *JWTService) LoginToken(ctx context.Context, userID domain.UserID, extra map[string]any) (string, error) {
	payload := make(map[string]any, len(extra)+1)
	for k, v := range extra {
		payload[k] = v
	}
	payload["id"] = userID.String()
	return s.Sign(ctx, payload, s.expiry.Login, SubjectLogin)
}

func (s *JWTService) TwoFactorToken(ctx context.Context, userID domain.UserID) (string, error) {
	return s.Sign(ctx, map[string]any{"id": userID.String()}, s.expiry.Login, SubjectTwoFactor)
}

func (s *JWTService) RefreshToken(ctx context.Context, userID domain.UserID) (string, error) {
	return s.Sign(ctx, map[string]any{"id": userID.String()}, s.expiry.Refresh, SubjectRefresh)
}

func (s *JWTService) PasswordResetToken(ctx context.Context, userID domain.UserID) (string, error) {
	return s.Sign(ctx, map[string]any{"id": userID.String()}, s.expiry.PasswordReset, SubjectPasswordReset)
}

func (s *JWTService) EmailVerificationToken(ctx context.Context, userID domain.UserID) (string, error) {
	return s.Sign(ctx, map[string]any{"id": userID.String()}, s.expiry.EmailVerification, SubjectEmailVerify)
}

func (s *JWTService) ApproveLocationToken(ctx context.Context, userID domain.UserID, ip string) (string, error) {
	return s.Sign(ctx, map[string]any{"id": userID.String(), "ipAddress": ip}, s.expiry.ApproveLocation, SubjectApproveLocation)
}

// APIKeyToken issues a signed key handle. It embeds the key's scoping but never
// its secret; the resolver still looks the id up, so revocation takes effect.
func (s *JWTService) APIKeyToken(ctx context.Context, record *domain.APIKeyRecord) (string, error) {
	ttl, err := s.keyTTL(ctx, record.ExpiresAt)
	if err != nil {
		return "", err
	}
	payload := map[string]any{"id": record.ID.String()}
	if !record.OrganizationID.IsNil() {
		payload["organizationId"] = record.OrganizationID.String()
	}
	if len(record.Scopes) > 0 {
		payload["scopes"] = record.Scopes
	}
	if len(record.IPRestrictions) > 0 {
		payload["ipRestrictions"] = record.IPRestrictions
	}
	if len(record.ReferrerRestrictions) > 0 {
		payload["referrerRestrictions"] = record.ReferrerRestrictions
	}
	return s.Sign(ctx, payload, ttl, SubjectAPIKey)
}

// AccessToken issues a personal access token for id.
func (s *JWTService) AccessToken(ctx context.Context, id string, expiresAt *time.Time) (string, error) {
	ttl, err := s.keyTTL(ctx, expiresAt)
	if err != nil {
		return "", err
	}
	return s.Sign(ctx, map[string]any{"id": id}, ttl, SubjectAccessToken)
}

func (s *JWTService) keyTTL(ctx context.Context, expiresAt *time.Time) (time.Duration, error) {
	if expiresAt == nil {
		return s.expiry.APIKeyMax, nil
	}
	ttl := expiresAt.Sub(requestcontext.Now(ctx))
	if ttl <= 0 {
		return 0, dErrors.New(dErrors.CodeInvalidInput, "credential is already expired")
	}
	return min(ttl, s.expiry.APIKeyMax), nil
}
