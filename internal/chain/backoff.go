package chain

import (
	"math"
	"time"
)

// Backoff computes exponentially growing delays with optional jitter.
type Backoff struct {
	Initial    time.Duration
	Multiplier float64
	Jitter     float64
	Max        time.Duration
}

// Delay returns the wait before retry number attempt (0-based). rng is in [0,1).
func (b Backoff) Delay(attempt int, rng float64) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	base := float64(b.Initial)
	if base <= 0 {
		base = float64(250 * time.Millisecond)
	}
	multiplier := b.Multiplier
	if multiplier <= 1 {
		multiplier = 2
	}
	delay := base * math.Pow(multiplier, float64(attempt))
	if b.Jitter > 0 {
		j := math.Min(b.Jitter, 1)
		delay = delay * (1 + (rng*2-1)*j)
	}
	if b.Max > 0 && delay > float64(b.Max) {
		delay = float64(b.Max)
	}
	return time.Duration(delay)
}
