package delivery

import (
	"math"
	"math/rand"
	"time"
)

// retryDelay returns the wait before the next enqueue attempt using
// exponential backoff with full jitter: random(0, min(max, base * 2^(attempt-1))).
// attempt is the number of attempts already made, so the first retry
// (attempt=1) draws from (0, base].
func retryDelay(attempt int, base, max time.Duration) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	expDelay := float64(base) * math.Pow(2, float64(attempt-1))
	if expDelay > float64(max) {
		expDelay = float64(max)
	}

	jittered := time.Duration(rand.Float64() * expDelay)

	// Floor keeps a hot provider outage from turning into a busy loop.
	if jittered < 100*time.Millisecond {
		jittered = 100 * time.Millisecond
	}
	return jittered
}
