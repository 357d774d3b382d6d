// internal/pacing/pacing_test.go
package pacing

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDelayStaysWithinBounds(t *testing.T) {
	s := NewSeededSampler(1)
	min, max := 2*time.Second, 5*time.Second

	for i := 0; i < 10_000; i++ {
		d := s.Delay(min, max)
		assert.GreaterOrEqual(t, d, min)
		assert.LessOrEqual(t, d, max)
	}
}

func TestDelayBoundsAreInclusive(t *testing.T) {
	s := NewSeededSampler(7)
	min, max := time.Duration(0), 3*time.Nanosecond

	seen := map[time.Duration]bool{}
	for i := 0; i < 1000; i++ {
		seen[s.Delay(min, max)] = true
	}
	assert.True(t, seen[min], "lower bound never sampled")
	assert.True(t, seen[max], "upper bound never sampled")
}

func TestDelayEqualBounds(t *testing.T) {
	s := NewSeededSampler(1)
	assert.Equal(t, 4*time.Second, s.Delay(4*time.Second, 4*time.Second))
}

func TestDelayIsResampled(t *testing.T) {
	s := NewSeededSampler(42)
	min, max := time.Second, time.Hour

	first := s.Delay(min, max)
	varied := false
	for i := 0; i < 50; i++ {
		if s.Delay(min, max) != first {
			varied = true
			break
		}
	}
	assert.True(t, varied, "sampler returned a fixed cadence")
}

func TestDelaySeconds(t *testing.T) {
	s := NewSeededSampler(3)
	d := s.DelaySeconds(1, 3)
	assert.GreaterOrEqual(t, d, time.Second)
	assert.LessOrEqual(t, d, 3*time.Second)
}
