package circuit

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type outcome struct {
	fail        bool
	usePrimary  bool // RecordSuccess result
	useFallback bool // RecordFailure result
	change      StateChange
	state       State
}

func TestBreakerSequences(t *testing.T) {
	tests := []struct {
		name  string
		opts  []Option
		steps []outcome
	}{
		{
			name: "opens on the third consecutive failure",
			opts: []Option{WithFailureThreshold(3)},
			steps: []outcome{
				{fail: true, state: StateClosed},
				{fail: true, state: StateClosed},
				{fail: true, useFallback: true, change: StateChange{Opened: true}, state: StateOpen},
				{fail: true, useFallback: true, state: StateOpen},
			},
		},
		{
			name: "a success in between restarts the failure count",
			opts: []Option{WithFailureThreshold(2)},
			steps: []outcome{
				{fail: true, state: StateClosed},
				{usePrimary: true, state: StateClosed},
				{fail: true, state: StateClosed},
				{fail: true, useFallback: true, change: StateChange{Opened: true}, state: StateOpen},
			},
		},
		{
			name: "closes after consecutive successes while open",
			opts: []Option{WithFailureThreshold(1), WithSuccessThreshold(2)},
			steps: []outcome{
				{fail: true, useFallback: true, change: StateChange{Opened: true}, state: StateOpen},
				{state: StateOpen},
				{usePrimary: true, change: StateChange{Closed: true}, state: StateClosed},
			},
		},
		{
			name: "a failure while probing resets the success count",
			opts: []Option{WithFailureThreshold(1), WithSuccessThreshold(2)},
			steps: []outcome{
				{fail: true, useFallback: true, change: StateChange{Opened: true}, state: StateOpen},
				{state: StateOpen},
				{fail: true, useFallback: true, state: StateOpen},
				{state: StateOpen},
				{usePrimary: true, change: StateChange{Closed: true}, state: StateClosed},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := New("redis-counters", tt.opts...)
			for i, step := range tt.steps {
				if step.fail {
					useFallback, change := b.RecordFailure()
					assert.Equal(t, step.useFallback, useFallback, "step %d fallback", i)
					assert.Equal(t, step.change, change, "step %d change", i)
				} else {
					usePrimary, change := b.RecordSuccess()
					assert.Equal(t, step.usePrimary, usePrimary, "step %d primary", i)
					assert.Equal(t, step.change, change, "step %d change", i)
				}
				require.Equal(t, step.state, b.State(), "step %d state", i)
			}
		})
	}
}

func TestBreakerDefaults(t *testing.T) {
	b := New("redis-counters", WithFailureThreshold(0), WithSuccessThreshold(-1))
	assert.Equal(t, "redis-counters", b.Name())
	assert.Equal(t, "closed", b.State().String())
	for range 4 {
		b.RecordFailure()
	}
	assert.False(t, b.IsOpen(), "non-positive thresholds keep the default of 5")
	b.RecordFailure()
	assert.True(t, b.IsOpen())
	assert.Equal(t, "open", b.State().String())

	b.Reset()
	assert.False(t, b.IsOpen())
}

func TestBreakerConcurrentFailuresOpenOnce(t *testing.T) {
	b := New("redis-counters", WithFailureThreshold(10))

	var (
		wg     sync.WaitGroup
		mu     sync.Mutex
		opened int
	)
	for range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, change := b.RecordFailure(); change.Opened {
				mu.Lock()
				opened++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, opened)
	assert.True(t, b.IsOpen())
}
