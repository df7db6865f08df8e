package orchestrator

import (
	"math"
	"math/rand/v2"
	"time"
)

// BackoffStrategy computes the delay before retry attempt n (1-indexed).
// Strategies are stateless and safe for concurrent use.
type BackoffStrategy interface {
	Delay(attempt int) time.Duration
}

// ExponentialBackoff doubles the base delay each attempt and applies full
// jitter: the returned delay is random in [0, min(Initial * 2^(attempt-1), Max)].
// Jitter prevents thundering herd when many retries fire together.
type ExponentialBackoff struct {
	Initial time.Duration
	Max     time.Duration
}

// NewExponentialBackoff creates an exponential strategy with full jitter.
func NewExponentialBackoff(initial, maxDelay time.Duration) *ExponentialBackoff {
	return &ExponentialBackoff{Initial: initial, Max: maxDelay}
}

// Delay returns a random duration in [0, min(Initial * 2^(attempt-1), Max)].
func (e *ExponentialBackoff) Delay(attempt int) time.Duration {
	base := float64(e.Initial) * math.Pow(2, float64(attempt-1))
	if e.Max > 0 && base > float64(e.Max) {
		base = float64(e.Max)
	}
	return time.Duration(rand.Float64() * base)
}

// NoBackoff retries immediately. Test hook.
type NoBackoff struct{}

// Delay returns zero.
func (NoBackoff) Delay(int) time.Duration { return 0 }
