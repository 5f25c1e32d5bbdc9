package runtime

import (
	"math"
	"math/rand/v2"
	"time"
)

// Backoff computes reconnect delays: base * 2^attempt plus up to half a
// base of jitter, capped at max.
type Backoff struct {
	base    time.Duration
	max     time.Duration
	attempt int
	jitter  func() float64
}

func NewBackoff(base, max time.Duration) *Backoff {
	if base <= 0 {
		base = 500 * time.Millisecond
	}
	if max < base {
		max = base
	}
	return &Backoff{base: base, max: max, jitter: rand.Float64}
}

func (b *Backoff) Next() time.Duration {
	jitter := b.jitter() * float64(b.base) * 0.5
	delay := math.Min(float64(b.base)*math.Pow(2, float64(b.attempt))+jitter, float64(b.max))
	b.attempt++
	return time.Duration(delay)
}

func (b *Backoff) Attempt() int { return b.attempt }
