// internal/pacing/pacing.go
package pacing

import (
	"math/rand/v2"
	"sync"
	"time"
)

// Sampler produces the randomized wait before each unit of work. Every
// delay is sampled independently so the action stream carries no fixed
// cadence.
type Sampler struct {
	mu  sync.Mutex
	rng *rand.Rand
}

// NewSampler returns a sampler seeded from the system source.
func NewSampler() *Sampler {
	return &Sampler{rng: rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))}
}

// NewSeededSampler returns a sampler with a fixed seed, for tests.
func NewSeededSampler(seed uint64) *Sampler {
	return &Sampler{rng: rand.New(rand.NewPCG(seed, seed))}
}

// Delay returns a uniformly distributed duration in [min, max], inclusive.
// min > max is a task-creation-time validation concern; here it is clamped
// so the loop always makes progress.
func (s *Sampler) Delay(min, max time.Duration) time.Duration {
	if max <= min {
		return min
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return min + time.Duration(s.rng.Int64N(int64(max-min)+1))
}

// DelaySeconds samples per a task policy expressed in whole seconds.
func (s *Sampler) DelaySeconds(minSec, maxSec int) time.Duration {
	return s.Delay(time.Duration(minSec)*time.Second, time.Duration(maxSec)*time.Second)
}
