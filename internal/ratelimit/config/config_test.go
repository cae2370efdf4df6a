package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestSpeedLimitConfig_DelayFor(t *testing.T) {
	cfg := SpeedLimitConfig{Window: time.Minute, DelayAfter: 3, Delay: 100 * time.Millisecond}

	assert.Zero(t, cfg.DelayFor(1))
	assert.Zero(t, cfg.DelayFor(3))
	assert.Equal(t, 100*time.Millisecond, cfg.DelayFor(4))
	assert.Equal(t, 300*time.Millisecond, cfg.DelayFor(6))

	cfg.MaxDelay = 200 * time.Millisecond
	assert.Equal(t, 200*time.Millisecond, cfg.DelayFor(10))
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, 60, cfg.PublicTier.RequestsPerWindow)
	assert.Equal(t, 1000, cfg.APIKeyTier.RequestsPerWindow)
	assert.Equal(t, 50, cfg.BruteForce.FreeRetries)
	assert.Equal(t, 5*time.Minute, cfg.BruteForce.Lifetime)
	assert.Equal(t, 10*time.Minute, cfg.SpeedLimit.Window)
}
