// Package config holds the typed limits for the abuse-control trio.
package config

import "time"

// Limit is a fixed-window ceiling.
type Limit struct {
	RequestsPerWindow int
	Window            time.Duration
}

// SpeedLimitConfig drives progressive delay. Requests past DelayAfter within
// Window are delayed by Delay times the number of hits over the threshold.
type SpeedLimitConfig struct {
	Window     time.Duration
	DelayAfter int
	Delay      time.Duration
	// MaxDelay caps the delay; zero means uncapped.
	MaxDelay time.Duration
}

// DelayFor returns the delay owed by the hits-th request in the window.
func (c SpeedLimitConfig) DelayFor(hits int) time.Duration {
	over := hits - c.DelayAfter
	if over <= 0 || c.Delay <= 0 {
		return 0
	}
	d := time.Duration(over) * c.Delay
	if c.MaxDelay > 0 && d > c.MaxDelay {
		return c.MaxDelay
	}
	return d
}

// BruteForceConfig configures lockout on sensitive routes.
type BruteForceConfig struct {
	FreeRetries int
	Lifetime    time.Duration
	// ResetOnSuccess clears the failure counter after a successful attempt.
	ResetOnSuccess bool
}

// GlobalThrottleConfig is the per-instance token bucket in front of everything.
type GlobalThrottleConfig struct {
	RequestsPerSecond float64
	Burst             int
}

type Config struct {
	PublicTier     Limit
	APIKeyTier     Limit
	SpeedLimit     SpeedLimitConfig
	BruteForce     BruteForceConfig
	GlobalThrottle GlobalThrottleConfig
}

// DefaultConfig mirrors the production defaults.
func DefaultConfig() *Config {
	return &Config{
		PublicTier: Limit{RequestsPerWindow: 60, Window: time.Minute},
		APIKeyTier: Limit{RequestsPerWindow: 1000, Window: time.Minute},
		SpeedLimit: SpeedLimitConfig{
			Window:     10 * time.Minute,
			DelayAfter: 1000,
			Delay:      100 * time.Millisecond,
		},
		BruteForce: BruteForceConfig{
			FreeRetries: 50,
			Lifetime:    5 * time.Minute,
		},
		GlobalThrottle: GlobalThrottleConfig{
			RequestsPerSecond: 2000,
			Burst:             4000,
		},
	}
}
