package session

import (
	"time"

	"github.com/danmuck/radlink/internal/protocol/register"
	"github.com/danmuck/radlink/internal/state"
)

const (
	MinPollInterval = time.Second
	MaxPollInterval = 2 * time.Second
)

// BackoffConfig defines retry backoff behavior.
type BackoffConfig struct {
	InitialDelay time.Duration
	Multiplier   float64
	MaxDelay     time.Duration
	Jitter       bool
}

// Config defines connection and polling defaults for one device session.
type Config struct {
	ConnectTimeout   time.Duration
	HandshakeTimeout time.Duration
	RequestTimeout   time.Duration
	// RequestRetries is how many times a timed-out request is re-sent.
	RequestRetries int
	PollInterval   time.Duration
	MaxBatch       int
	EventLogSize   int
	// MaxReconnectAttempts of 0 retries forever.
	MaxReconnectAttempts int
	Backoff              BackoffConfig
}

func DefaultConfig() Config {
	return Config{
		ConnectTimeout:   10 * time.Second,
		HandshakeTimeout: 15 * time.Second,
		RequestTimeout:   5 * time.Second,
		RequestRetries:   1,
		PollInterval:     time.Second,
		MaxBatch:         register.DefaultMaxBatch,
		EventLogSize:     state.DefaultEventLogSize,
		Backoff: BackoffConfig{
			InitialDelay: 500 * time.Millisecond,
			Multiplier:   2.0,
			MaxDelay:     30 * time.Second,
			Jitter:       true,
		},
	}
}

// WithDefaults fills zero fields and clamps the poll interval to 1..2s.
func (c Config) WithDefaults() Config {
	def := DefaultConfig()
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = def.ConnectTimeout
	}
	if c.HandshakeTimeout <= 0 {
		c.HandshakeTimeout = def.HandshakeTimeout
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = def.RequestTimeout
	}
	if c.RequestRetries < 0 {
		c.RequestRetries = 0
	}
	switch {
	case c.PollInterval <= 0:
		c.PollInterval = def.PollInterval
	case c.PollInterval < MinPollInterval:
		c.PollInterval = MinPollInterval
	case c.PollInterval > MaxPollInterval:
		c.PollInterval = MaxPollInterval
	}
	if c.MaxBatch <= 0 {
		c.MaxBatch = def.MaxBatch
	}
	if c.EventLogSize <= 0 {
		c.EventLogSize = def.EventLogSize
	}
	if c.Backoff.InitialDelay <= 0 && c.Backoff.MaxDelay <= 0 && c.Backoff.Multiplier == 0 {
		c.Backoff = def.Backoff
	}
	return c
}
