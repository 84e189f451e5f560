package retry

import (
	"testing"
	"time"

	"github.com/orchestra/corectl/internal/domain"
)

func TestNextDelay_Fixed(t *testing.T) {
	base := 5 * time.Second
	for attempt := 0; attempt < 5; attempt++ {
		got := NextDelay(attempt, domain.RetryFixed, base)
		if got != base {
			t.Errorf("attempt %d: expected fixed delay %v, got %v", attempt, base, got)
		}
	}
}

func TestNextDelay_ExponentialGrowsAndCaps(t *testing.T) {
	base := time.Second
	maxCap := 10 * time.Second

	got := NextDelayCapped(0, domain.RetryExponential, base, maxCap)
	if got != base {
		t.Errorf("attempt 0: expected %v, got %v", base, got)
	}
	got = NextDelayCapped(2, domain.RetryExponential, base, maxCap)
	if got != 4*time.Second {
		t.Errorf("attempt 2: expected 4s, got %v", got)
	}
	got = NextDelayCapped(10, domain.RetryExponential, base, maxCap)
	if got != maxCap {
		t.Errorf("attempt 10: expected cap %v, got %v", maxCap, got)
	}
}

func TestNextDelay_JitterWithinBounds(t *testing.T) {
	base := time.Second
	maxCap := time.Minute
	for attempt := 0; attempt < 6; attempt++ {
		uncapped := base * time.Duration(int64(1)<<uint(attempt))
		upperBound := uncapped
		if upperBound > maxCap {
			upperBound = maxCap
		}
		upperBound += uncapped / 2
		for i := 0; i < 20; i++ {
			got := NextDelayCapped(attempt, domain.RetryJitter, base, maxCap)
			if got < 0 || got > upperBound+time.Millisecond {
				t.Fatalf("attempt %d: jitter delay %v outside [0, %v]", attempt, got, upperBound)
			}
		}
	}
}

func TestShouldDie(t *testing.T) {
	if ShouldDie(1, 3) {
		t.Error("attempt 1 of 3 max should not die yet")
	}
	if !ShouldDie(2, 3) {
		t.Error("attempt 2 of 3 max (next failure is the 3rd) should die")
	}
}
