package models

import (
	"net/netip"
	"strings"

	dErrors "gatehouse/pkg/domain-errors"
)

// CounterKind names which limiter's counter an operator wants to clear.
type CounterKind string

const (
	CounterRate  CounterKind = "rate"
	CounterSpeed CounterKind = "speed"
	CounterBrute CounterKind = "brute"
)

func (k CounterKind) IsValid() bool {
	switch k {
	case CounterRate, CounterSpeed, CounterBrute:
		return true
	}
	return false
}

// ResetCounterRequest clears one abuse counter, typically to lift a lockout.
type ResetCounterRequest struct {
	Kind CounterKind `json:"kind"`
	// Identifier is a client IP, or a key id for the api-key rate tier.
	Identifier string `json:"identifier"`
	// Tier applies to rate counters; defaults to public.
	Tier Tier `json:"tier,omitempty"`
	// Scope applies to brute counters, e.g. "login".
	Scope string `json:"scope,omitempty"`
}

func (r *ResetCounterRequest) Normalize() {
	if r == nil {
		return
	}
	r.Kind = CounterKind(strings.TrimSpace(strings.ToLower(string(r.Kind))))
	r.Identifier = strings.TrimSpace(r.Identifier)
	r.Tier = Tier(strings.TrimSpace(strings.ToLower(string(r.Tier))))
	r.Scope = strings.TrimSpace(r.Scope)
	if r.Kind == CounterRate && r.Tier == "" {
		r.Tier = TierPublic
	}
}

// Follows validation order: Size -> Required -> Syntax -> Semantic.
func (r *ResetCounterRequest) Validate() error {
	if r == nil {
		return dErrors.New(dErrors.CodeBadRequest, "request is required")
	}

	if len(r.Identifier) > 255 {
		return dErrors.New(dErrors.CodeInvalidInput, "identifier must be 255 characters or less")
	}
	if len(r.Scope) > 64 {
		return dErrors.New(dErrors.CodeInvalidInput, "scope must be 64 characters or less")
	}

	if r.Kind == "" {
		return dErrors.New(dErrors.CodeInvalidInput, "kind is required")
	}
	if r.Identifier == "" {
		return dErrors.New(dErrors.CodeInvalidInput, "identifier is required")
	}

	if !r.Kind.IsValid() {
		return dErrors.New(dErrors.CodeInvalidInput, "kind must be 'rate', 'speed' or 'brute'")
	}
	if r.Kind == CounterBrute && r.Scope == "" {
		return dErrors.New(dErrors.CodeInvalidInput, "scope is required for brute counters")
	}

	if r.Kind == CounterRate && r.Tier != TierPublic && r.Tier != TierAPIKey {
		return dErrors.New(dErrors.CodeInvalidInput, "tier must be 'public' or 'api_key'")
	}
	ipKeyed := r.Kind != CounterRate || r.Tier == TierPublic
	if _, err := netip.ParseAddr(r.Identifier); ipKeyed && err != nil {
		return dErrors.New(dErrors.CodeInvalidInput, "identifier must be an ip address")
	}
	return nil
}

// Key returns the store key the request addresses. Call after Validate.
func (r *ResetCounterRequest) Key() string {
	switch r.Kind {
	case CounterSpeed:
		return NewSpeedLimitKey(r.Identifier)
	case CounterBrute:
		return NewBruteForceKey(r.Scope, r.Identifier)
	default:
		return NewRateLimitKey(r.Tier, r.Identifier)
	}
}
