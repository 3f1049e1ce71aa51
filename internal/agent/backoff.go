package agent

import (
	"math"
	"math/rand"
	"time"
)

// backoff tracks the uplink's reconnect delay: exponential with jitter,
// reset on successful auth, advanced on every scheduled reconnect attempt
// (§4.2.1, §9).
type backoff struct {
	attempt      int
	initialDelay time.Duration
	maxDelay     time.Duration
}

func newBackoff(maxDelay time.Duration) *backoff {
	return &backoff{initialDelay: time.Second, maxDelay: maxDelay}
}

// Next returns the delay for the current attempt and advances the
// counter. delay = min(maxDelay, initialDelay * 2^attempt) * (1 ± 10%).
func (b *backoff) Next() time.Duration {
	exp := math.Pow(2, float64(b.attempt))
	delay := time.Duration(float64(b.initialDelay) * exp)
	if delay > b.maxDelay || delay <= 0 {
		delay = b.maxDelay
	}
	b.attempt++

	jitter := 1 + (rand.Float64()*0.2 - 0.1) // ±10%
	return time.Duration(float64(delay) * jitter)
}

// Reset zeroes the attempt counter. Called only on successful auth.
func (b *backoff) Reset() {
	b.attempt = 0
}

// Bump advances the attempt counter by n extra steps without waiting,
// used for the AGENT_EXISTS soft-failure penalty (§4.2.1).
func (b *backoff) Bump(n int) {
	b.attempt += n
}
