package globalthrottle

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"

	"gatehouse/internal/ratelimit/config"
	"gatehouse/internal/ratelimit/metrics"
)

func TestAllow(t *testing.T) {
	m := metrics.New(prometheus.NewRegistry())
	svc := New(config.GlobalThrottleConfig{RequestsPerSecond: 1, Burst: 2}, m)

	assert.True(t, svc.Allow())
	assert.True(t, svc.Allow())
	assert.False(t, svc.Allow())
	assert.Equal(t, 1.0, promtest.ToFloat64(m.ThrottledTotal))
}

func TestDisabled(t *testing.T) {
	svc := New(config.GlobalThrottleConfig{}, nil)
	assert.Nil(t, svc)
	assert.True(t, svc.Allow())
}
