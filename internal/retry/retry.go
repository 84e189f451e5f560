// Package retry computes the next execution delay for a failed job. It is
// a pure function package — no I/O, no Store access — covering the three
// retry policy tags a Job carries.
package retry

import (
	"math/rand"
	"time"

	"github.com/orchestra/corectl/internal/domain"
)

// DefaultMaxCap is the ceiling applied to EXPONENTIAL and JITTER delays
// unless a caller overrides it.
const DefaultMaxCap = time.Hour

// NextDelay computes next_delay(attempt, policy, base). attempt is the
// number of failures already observed (0 on first failure).
func NextDelay(attempt int, policy domain.RetryPolicyTag, base time.Duration) time.Duration {
	return NextDelayCapped(attempt, policy, base, DefaultMaxCap)
}

// NextDelayCapped is NextDelay with an explicit max_cap, for tests and
// operators who want a tighter ceiling than the one-hour default.
func NextDelayCapped(attempt int, policy domain.RetryPolicyTag, base, maxCap time.Duration) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	switch policy {
	case domain.RetryFixed:
		return base
	case domain.RetryJitter:
		capped := expCapped(base, attempt, maxCap)
		// jitter is uniform_random(0, 0.5 * base * 2^attempt); its ceiling
		// tracks the uncapped exponential growth, not the cap, so retries
		// keep spreading apart even once the base delay has saturated
		// max_cap.
		uncapped := expUncapped(base, attempt)
		half := uncapped / 2
		var jitter time.Duration
		if half > 0 {
			jitter = time.Duration(rand.Int63n(int64(half) + 1))
		}
		return capped + jitter
	case domain.RetryExponential:
		return expCapped(base, attempt, maxCap)
	default:
		return expCapped(base, attempt, maxCap)
	}
}

func expUncapped(base time.Duration, attempt int) time.Duration {
	mult := int64(1) << uint(attempt)
	if mult <= 0 {
		mult = 1
	}
	return base * time.Duration(mult)
}

func expCapped(base time.Duration, attempt int, maxCap time.Duration) time.Duration {
	d := expUncapped(base, attempt)
	if d > maxCap || d <= 0 {
		return maxCap
	}
	return d
}

// ShouldDie reports whether the next failure for a job already at the given
// attempt count should terminate it (FAILED -> DEAD) rather than retry
// (FAILED -> RETRYING -> PENDING): true once attempt+1 reaches
// max_attempts.
func ShouldDie(attempt, maxAttempts int) bool {
	return attempt+1 >= maxAttempts
}
