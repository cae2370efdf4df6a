package ratelimit

import (
	"context"
	"fmt"
	"strconv"

	"github.com/cucumber/godog"
)

// TestContext interface defines the methods needed from the main test context
type TestContext interface {
	POST(path string, body any, headers map[string]string) error
	GET(path string, headers map[string]string) error
	GetResponseField(field string) (any, error)
	GetLastResponseStatus() int
	GetLastResponseHeader(name string) string
	GetClientIP() string
	GetAdminToken() string
}

// maxAttempts bounds the lockout loop; it sits above the default free retries.
const maxAttempts = 100

// RegisterSteps registers abuse-control step definitions
func RegisterSteps(ctx *godog.ScenarioContext, tc TestContext) {
	steps := &ratelimitSteps{tc: tc}

	// Brute-force guard
	ctx.Step(`^I fail to log in as "([^"]*)" until I am locked out$`, steps.failLoginUntilLocked)
	ctx.Step(`^the response should indicate lockout$`, steps.responseShouldIndicateLockout)
	ctx.Step(`^an operator resets the "([^"]*)" lockout for my IP$`, steps.operatorResetsLockout)

	// Generic errors prevent enumeration
	ctx.Step(`^I attempt login with unknown email "([^"]*)"$`, steps.attemptLoginUnknownEmail)
	ctx.Step(`^I remember the error message$`, steps.rememberErrorMessage)
	ctx.Step(`^I attempt login as "([^"]*)" with a wrong password$`, steps.attemptLoginWrongPassword)
	ctx.Step(`^the error message should match the remembered one$`, steps.errorMessageShouldMatch)

	// Request limits
	ctx.Step(`^the rate limit headers should be present$`, steps.rateLimitHeadersPresent)
	ctx.Step(`^the remaining request count should drop after another request to "([^"]*)"$`, steps.remainingShouldDrop)
}

type ratelimitSteps struct {
	tc              TestContext
	rememberedError string
	attempts        int
}

func (s *ratelimitSteps) failLoginUntilLocked(ctx context.Context, email string) error {
	for s.attempts = 1; s.attempts <= maxAttempts; s.attempts++ {
		if err := s.attemptLoginWrongPassword(ctx, email); err != nil {
			return err
		}
		switch status := s.tc.GetLastResponseStatus(); status {
		case 429:
			return nil
		case 401:
			continue
		default:
			return fmt.Errorf("attempt %d: unexpected status %d", s.attempts, status)
		}
	}
	return fmt.Errorf("not locked out after %d attempts", maxAttempts)
}

func (s *ratelimitSteps) responseShouldIndicateLockout(ctx context.Context) error {
	if status := s.tc.GetLastResponseStatus(); status != 429 {
		return fmt.Errorf("expected 429, got %d", status)
	}
	code, err := s.tc.GetResponseField("error")
	if err != nil {
		return err
	}
	if code != "too-many-attempts" {
		return fmt.Errorf("expected too-many-attempts, got %v", code)
	}
	retry, err := strconv.Atoi(s.tc.GetLastResponseHeader("Retry-After"))
	if err != nil || retry <= 0 {
		return fmt.Errorf("expected a positive Retry-After, got %q", s.tc.GetLastResponseHeader("Retry-After"))
	}
	return nil
}

func (s *ratelimitSteps) operatorResetsLockout(ctx context.Context, scope string) error {
	if s.tc.GetAdminToken() == "" {
		return godog.ErrSkip
	}
	err := s.tc.POST("/admin/ratelimit/reset", map[string]any{
		"kind":       "brute",
		"scope":      scope,
		"identifier": s.tc.GetClientIP(),
	}, map[string]string{"X-Admin-Token": s.tc.GetAdminToken()})
	if err != nil {
		return err
	}
	if status := s.tc.GetLastResponseStatus(); status != 204 {
		return fmt.Errorf("reset: expected 204, got %d", status)
	}
	return nil
}

func (s *ratelimitSteps) attemptLoginUnknownEmail(ctx context.Context, email string) error {
	return s.tc.POST("/v1/auth/login", map[string]any{
		"email":    email,
		"password": "definitely-wrong-1",
	}, nil)
}

func (s *ratelimitSteps) attemptLoginWrongPassword(ctx context.Context, email string) error {
	return s.tc.POST("/v1/auth/login", map[string]any{
		"email":    email,
		"password": "definitely-wrong-2",
	}, nil)
}

func (s *ratelimitSteps) rememberErrorMessage(ctx context.Context) error {
	msg, err := s.errorSignature()
	if err != nil {
		return err
	}
	s.rememberedError = msg
	return nil
}

func (s *ratelimitSteps) errorMessageShouldMatch(ctx context.Context) error {
	msg, err := s.errorSignature()
	if err != nil {
		return err
	}
	if msg != s.rememberedError {
		return fmt.Errorf("error differs: %q vs %q", msg, s.rememberedError)
	}
	return nil
}

func (s *ratelimitSteps) errorSignature() (string, error) {
	code, err := s.tc.GetResponseField("error")
	if err != nil {
		return "", err
	}
	msg, _ := s.tc.GetResponseField("message")
	return fmt.Sprintf("%d %v %v", s.tc.GetLastResponseStatus(), code, msg), nil
}

func (s *ratelimitSteps) rateLimitHeadersPresent(ctx context.Context) error {
	for _, h := range []string{"X-RateLimit-Limit", "X-RateLimit-Remaining", "X-RateLimit-Reset"} {
		if s.tc.GetLastResponseHeader(h) == "" {
			return fmt.Errorf("missing %s", h)
		}
	}
	return nil
}

func (s *ratelimitSteps) remainingShouldDrop(ctx context.Context, path string) error {
	before, err := strconv.Atoi(s.tc.GetLastResponseHeader("X-RateLimit-Remaining"))
	if err != nil {
		return fmt.Errorf("remaining header: %w", err)
	}
	if err := s.tc.GET(path, nil); err != nil {
		return err
	}
	after, err := strconv.Atoi(s.tc.GetLastResponseHeader("X-RateLimit-Remaining"))
	if err != nil {
		return fmt.Errorf("remaining header: %w", err)
	}
	if after != before-1 {
		return fmt.Errorf("expected remaining %d, got %d", before-1, after)
	}
	return nil
}
