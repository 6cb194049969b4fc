package session

import (
	"context"
	"math/rand"
	"testing"
	"time"

	"github.com/danmuck/radlink/internal/testutil/testlog"
)

func TestNextBackoffDelayDeterministicNoJitter(t *testing.T) {
	testlog.Start(t)
	cfg := BackoffConfig{
		InitialDelay: 500 * time.Millisecond,
		Multiplier:   2.0,
		MaxDelay:     30 * time.Second,
		Jitter:       false,
	}
	if got := NextBackoffDelay(cfg, 1, nil); got != 500*time.Millisecond {
		t.Fatalf("attempt1 got=%v", got)
	}
	if got := NextBackoffDelay(cfg, 2, nil); got != time.Second {
		t.Fatalf("attempt2 got=%v", got)
	}
	if got := NextBackoffDelay(cfg, 4, nil); got != 4*time.Second {
		t.Fatalf("attempt4 got=%v", got)
	}
	if got := NextBackoffDelay(cfg, 10, nil); got != 30*time.Second {
		t.Fatalf("attempt10 got=%v", got)
	}
}

func TestNextBackoffDelayJitterBounds(t *testing.T) {
	testlog.Start(t)
	cfg := BackoffConfig{InitialDelay: time.Second, Multiplier: 2, MaxDelay: 8 * time.Second, Jitter: true}
	rng := rand.New(rand.NewSource(7))
	for attempt := 2; attempt < 8; attempt++ {
		base := NextBackoffDelay(BackoffConfig{InitialDelay: cfg.InitialDelay, Multiplier: 2, MaxDelay: cfg.MaxDelay}, attempt, nil)
		got := NextBackoffDelay(cfg, attempt, rng)
		if got < base/2 || got > base*3/2 {
			t.Fatalf("attempt%d got=%v outside [%v, %v]", attempt, got, base/2, base*3/2)
		}
		if got > cfg.MaxDelay {
			t.Fatalf("attempt%d got=%v above max %v", attempt, got, cfg.MaxDelay)
		}
	}
	if got := NextBackoffDelay(cfg, 1, rng); got != cfg.InitialDelay {
		t.Fatalf("first attempt should not be jittered, got=%v", got)
	}
}

func TestNextBackoffDelayEdgeCases(t *testing.T) {
	testlog.Start(t)

	if got := NextBackoffDelay(BackoffConfig{}, 3, nil); got != 0 {
		t.Fatalf("zero initial got=%v", got)
	}
	flat := BackoffConfig{InitialDelay: time.Second, Multiplier: 0.5}
	if got := NextBackoffDelay(flat, 5, nil); got != time.Second {
		t.Fatalf("multiplier below one should hold the delay, got=%v", got)
	}
	if got := NextBackoffDelay(flat, 0, nil); got != time.Second {
		t.Fatalf("attempt zero got=%v", got)
	}
}

func TestSleepBackoff(t *testing.T) {
	testlog.Start(t)

	if !sleepBackoff(context.Background(), time.Millisecond) {
		t.Fatalf("expected delay to elapse")
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if sleepBackoff(ctx, time.Hour) {
		t.Fatalf("expected cancelled context to abort the wait")
	}
	if sleepBackoff(ctx, 0) {
		t.Fatalf("expected cancelled context to win over a zero delay")
	}
}

func TestConfigWithDefaultsClampsPoll(t *testing.T) {
	testlog.Start(t)

	if got := (Config{}).WithDefaults().PollInterval; got != time.Second {
		t.Fatalf("default poll=%v", got)
	}
	if got := (Config{PollInterval: 100 * time.Millisecond}).WithDefaults().PollInterval; got != MinPollInterval {
		t.Fatalf("low poll=%v", got)
	}
	if got := (Config{PollInterval: 5 * time.Second}).WithDefaults().PollInterval; got != MaxPollInterval {
		t.Fatalf("high poll=%v", got)
	}
	if got := (Config{PollInterval: 1500 * time.Millisecond}).WithDefaults().PollInterval; got != 1500*time.Millisecond {
		t.Fatalf("in-range poll=%v", got)
	}
}
