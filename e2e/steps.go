package e2e

import (
	"github.com/cucumber/godog"

	"gatehouse/e2e/steps/auth"
	"gatehouse/e2e/steps/common"
	"gatehouse/e2e/steps/ratelimit"
)

// RegisterSteps registers all step definitions from modular packages
func RegisterSteps(ctx *godog.ScenarioContext, tc *TestContext) {
	// Background, generic requests and assertions
	common.RegisterSteps(ctx, tc)

	// Registration, login and the protected /me route
	auth.RegisterSteps(ctx, tc)

	// Brute-force guard and request limits
	ratelimit.RegisterSteps(ctx, tc)
}
