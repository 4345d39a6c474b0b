package transport

import (
	"math"
	"math/rand"
	"time"
)

// RestartPolicy bounds how a UDP channel restarts its listener after failures.
type RestartPolicy struct {
	// InitialDelay is the wait before the first restart.
	InitialDelay time.Duration
	// Multiplier grows the delay for each consecutive failure. Values below 1
	// are treated as 1.
	Multiplier float64
	// MaxDelay caps the delay. Zero means uncapped.
	MaxDelay time.Duration
	// Jitter scales each delay by a random factor in [0.5, 1.5).
	Jitter bool
	// MaxRestarts is the number of consecutive failed listener runs tolerated
	// before the channel gives up and enters StateFailed. Zero or less means
	// no ceiling.
	MaxRestarts int
	// HealthyPeriod is how long a listener run must stay bound for the
	// consecutive failure count to start over. Zero means only a received
	// datagram resets it.
	HealthyPeriod time.Duration
}

// DefaultRestartPolicy returns the policy used when none is configured.
func DefaultRestartPolicy() RestartPolicy {
	return RestartPolicy{
		InitialDelay:  50 * time.Millisecond,
		Multiplier:    2,
		MaxDelay:      5 * time.Second,
		Jitter:        true,
		MaxRestarts:   10,
		HealthyPeriod: 5 * time.Second,
	}
}

// Delay returns the wait before restart attempt N (1-based).
func (p RestartPolicy) Delay(attempt int, rng *rand.Rand) time.Duration {
	if p.InitialDelay <= 0 {
		return 0
	}
	delay := float64(p.InitialDelay)
	if attempt > 1 {
		mult := p.Multiplier
		if mult < 1.0 {
			mult = 1.0
		}
		delay *= math.Pow(mult, float64(attempt-1))
	}
	if p.MaxDelay > 0 && delay > float64(p.MaxDelay) {
		delay = float64(p.MaxDelay)
	}
	if p.Jitter {
		f := 0.5
		if rng != nil {
			f = 0.5 + rng.Float64()
		}
		delay *= f
	}
	return time.Duration(delay)
}

// Healthy reports whether a run that stayed bound for d counts as healthy.
func (p RestartPolicy) Healthy(d time.Duration) bool {
	return p.HealthyPeriod > 0 && d >= p.HealthyPeriod
}

// Exhausted reports whether attempt exceeds the restart ceiling.
func (p RestartPolicy) Exhausted(attempt int) bool {
	return p.MaxRestarts > 0 && attempt > p.MaxRestarts
}
