package supervisor

import (
	"math"
	"math/rand"
	"time"
)

// Backoff computes delay(n) = min(initial * multiplier^n + jitter, max), where
// jitter is drawn uniformly from [0, 0.2*delay). The source left the jitter
// distribution unspecified; uniform-below-20%-of-delay is the choice made here.
func Backoff(n int, initial time.Duration, multiplier float64, max time.Duration) time.Duration {
	raw := float64(initial) * math.Pow(multiplier, float64(n))
	if raw > float64(max) {
		raw = float64(max)
	}
	jitter := rand.Float64() * 0.2 * raw
	d := time.Duration(raw + jitter)
	if d > max {
		d = max
	}
	return d
}
