package node

import (
	"math"
	"math/rand"
	"time"

	"github.com/devrev/voicelink/pkg/config"
)

// Backoff computes reconnect delays. The delay for attempt n is
// base*2^n scaled by a random factor in [1, 1+jitter], capped at max.
// With jitter <= 1 the sequence never decreases.
type Backoff struct {
	Base   time.Duration
	Max    time.Duration
	Jitter float64

	// Rand returns a value in [0, 1). Defaults to math/rand.
	Rand func() float64
}

// NewBackoff builds a Backoff from configuration.
func NewBackoff(cfg config.BackoffConfig) Backoff {
	return Backoff{Base: cfg.Base, Max: cfg.Max, Jitter: cfg.JitterFactor()}
}

// Delay returns the wait before reconnect attempt n (zero based).
func (b Backoff) Delay(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	if b.Base <= 0 {
		return 0
	}

	d := b.Base
	for i := 0; i < attempt; i++ {
		if b.Max > 0 && d >= b.Max {
			return b.Max
		}
		if d > math.MaxInt64/2 {
			break
		}
		d *= 2
	}

	r := rand.Float64
	if b.Rand != nil {
		r = b.Rand
	}
	jittered := time.Duration(float64(d) * (1 + b.Jitter*r()))
	if b.Max > 0 && jittered > b.Max {
		return b.Max
	}
	return jittered
}
