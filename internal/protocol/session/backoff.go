package session

import (
	"context"
	"math"
	"math/rand"
	"time"
)

// NextBackoffDelay returns how long a session waits before reconnect attempt
// N (1-based). The controller counts attempts from the last successful
// handshake, so a session that was Ready starts again at InitialDelay.
//
// The delay grows by Multiplier per attempt up to MaxDelay. With Jitter set
// it is scaled by a factor in [0.5, 1.5) and clamped to MaxDelay again, so
// several radios dropping together do not redial in lockstep.
func NextBackoffDelay(cfg BackoffConfig, attempt int, rng *rand.Rand) time.Duration {
	if cfg.InitialDelay <= 0 {
		return 0
	}
	if attempt < 1 {
		attempt = 1
	}
	growth := cfg.Multiplier
	if growth < 1 {
		growth = 1
	}
	delay := float64(cfg.InitialDelay) * math.Pow(growth, float64(attempt-1))
	delay = capDelay(cfg, delay)
	if cfg.Jitter && attempt > 1 {
		scale := 0.5
		if rng != nil {
			scale += rng.Float64()
		}
		delay = capDelay(cfg, delay*scale)
	}
	return time.Duration(delay)
}

func capDelay(cfg BackoffConfig, d float64) float64 {
	if cfg.MaxDelay > 0 && d > float64(cfg.MaxDelay) {
		return float64(cfg.MaxDelay)
	}
	return d
}

// sleepBackoff waits d or until ctx ends. It reports whether the full delay
// elapsed.
func sleepBackoff(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
