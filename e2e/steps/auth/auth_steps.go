package auth

import (
	"context"
	"fmt"

	"github.com/cucumber/godog"
)

// TestContext interface defines the methods needed from the main test context
type TestContext interface {
	POST(path string, body any, headers map[string]string) error
	GET(path string, headers map[string]string) error
	GetResponseField(field string) (any, error)
	GetLastResponseStatus() int
	GetLoginToken() string
	SetLoginToken(token string)
}

// RegisterSteps registers authentication-related step definitions
func RegisterSteps(ctx *godog.ScenarioContext, tc TestContext) {
	steps := &authSteps{tc: tc}

	ctx.Step(`^I register with email "([^"]*)" and password "([^"]*)"$`, steps.register)
	ctx.Step(`^a user "([^"]*)" exists with password "([^"]*)"$`, steps.userExists)
	ctx.Step(`^I log in with email "([^"]*)" and password "([^"]*)"$`, steps.login)
	ctx.Step(`^I save the login token$`, steps.saveLoginToken)
	ctx.Step(`^I request my identity with the login token$`, steps.meWithToken)
	ctx.Step(`^I request my identity with token "([^"]*)"$`, steps.meWithInvalidToken)
	ctx.Step(`^I request my identity without credentials$`, steps.meWithoutCredentials)
	ctx.Step(`^I request a password reset for "([^"]*)"$`, steps.resetPassword)
}

type authSteps struct {
	tc TestContext
}

func (s *authSteps) register(ctx context.Context, email, password string) error {
	return s.tc.POST("/v1/auth/register", map[string]any{
		"email":    email,
		"password": password,
	}, nil)
}

// userExists registers the user and accepts a conflict from an earlier run.
func (s *authSteps) userExists(ctx context.Context, email, password string) error {
	if err := s.register(ctx, email, password); err != nil {
		return err
	}
	switch status := s.tc.GetLastResponseStatus(); status {
	case 201, 409:
		return nil
	default:
		return fmt.Errorf("registering %s: unexpected status %d", email, status)
	}
}

func (s *authSteps) login(ctx context.Context, email, password string) error {
	return s.tc.POST("/v1/auth/login", map[string]any{
		"email":    email,
		"password": password,
	}, nil)
}

func (s *authSteps) saveLoginToken(ctx context.Context) error {
	token, err := s.tc.GetResponseField("token")
	if err != nil {
		return err
	}
	str, ok := token.(string)
	if !ok || str == "" {
		return fmt.Errorf("login response has no token")
	}
	s.tc.SetLoginToken(str)
	return nil
}

func (s *authSteps) meWithToken(ctx context.Context) error {
	if s.tc.GetLoginToken() == "" {
		return fmt.Errorf("no login token saved")
	}
	return s.tc.GET("/v1/me", map[string]string{
		"Authorization": "Bearer " + s.tc.GetLoginToken(),
	})
}

func (s *authSteps) meWithInvalidToken(ctx context.Context, token string) error {
	return s.tc.GET("/v1/me", map[string]string{
		"Authorization": "Bearer " + token,
	})
}

func (s *authSteps) meWithoutCredentials(ctx context.Context) error {
	return s.tc.GET("/v1/me", nil)
}

func (s *authSteps) resetPassword(ctx context.Context, email string) error {
	return s.tc.POST("/v1/auth/reset-password", map[string]any{"email": email}, nil)
}
