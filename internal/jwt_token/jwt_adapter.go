package jwttoken

import (
	"context"

	"gatehouse/pkg/domain"
	dErrors "gatehouse/pkg/domain-errors"
)

// GateAdapter exposes the two verifications the admission layer needs without
// leaking JWT types into it.
type GateAdapter struct {
	jwt *JWTService
}

func NewGateAdapter(jwt *JWTService) *GateAdapter {
	return &GateAdapter{jwt: jwt}
}

// VerifyUserToken verifies a bearer token against the login subject.
func (a *GateAdapter) VerifyUserToken(ctx context.Context, token string) (domain.CallerIdentity, error) {
	claims, err := a.jwt.Verify(ctx, token, SubjectLogin)
	if err != nil {
		return domain.CallerIdentity{}, err
	}
	userID, err := domain.ParseUserID(claims.String("id"))
	if err != nil {
		return domain.CallerIdentity{}, dErrors.New(dErrors.CodeInvalidToken, "token carries no user id")
	}
	return domain.UserCaller(userID, claims.Payload), nil
}

// VerifyAPIKeyToken verifies a signed key handle and returns the key id it names.
func (a *GateAdapter) VerifyAPIKeyToken(ctx context.Context, token string) (domain.APIKeyID, error) {
	claims, err := a.jwt.Verify(ctx, token, SubjectAPIKey)
	if err != nil {
		return "", err
	}
	id, err := domain.ParseAPIKeyID(claims.String("id"))
	if err != nil {
		return "", dErrors.New(dErrors.CodeInvalidToken, "token carries no key id")
	}
	return id, nil
}
