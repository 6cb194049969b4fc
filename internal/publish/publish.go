// Package publish forwards device state updates to Redis pub/sub for
// consumers outside the process.
package publish

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/danmuck/radlink/internal/state"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

var ErrChannelRequired = errors.New("publish: channel required")

const defaultHistory = 256

type Options struct {
	Addr     string
	Password string
	DB       int
	Channel  string
	// History bounds the per-device recent-events list.
	History int
}

// Publisher sends snapshots to Channel and event records to Channel+".events".
type Publisher struct {
	client  *redis.Client
	channel string
	history int

	mu      sync.Mutex
	stopped bool
}

func New(ctx context.Context, opts Options) (*Publisher, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("publish: redis ping %s: %w", opts.Addr, err)
	}
	p, err := NewWithClient(client, opts.Channel, opts.History)
	if err != nil {
		_ = client.Close()
		return nil, err
	}
	log.Info().Str("addr", opts.Addr).Str("channel", opts.Channel).Msg("redis publisher connected")
	return p, nil
}

func NewWithClient(client *redis.Client, channel string, history int) (*Publisher, error) {
	if strings.TrimSpace(channel) == "" {
		return nil, ErrChannelRequired
	}
	if history <= 0 {
		history = defaultHistory
	}
	return &Publisher{client: client, channel: channel, history: history}, nil
}

func (p *Publisher) EventsChannel() string {
	return p.channel + ".events"
}

// EventsKey is the list holding the most recent events for deviceID.
func (p *Publisher) EventsKey(deviceID string) string {
	return fmt.Sprintf("radlink:%s:events", deviceID)
}

// Publish sends one update in a single pipeline.
func (p *Publisher) Publish(ctx context.Context, u state.Update) error {
	snap, err := json.Marshal(u.Snapshot)
	if err != nil {
		return fmt.Errorf("publish: encode snapshot: %w", err)
	}
	pipe := p.client.Pipeline()
	pipe.Publish(ctx, p.channel, snap)
	key := p.EventsKey(u.Snapshot.Device)
	for _, ev := range u.Events {
		body, err := json.Marshal(eventMessage{Device: u.Snapshot.Device, Event: ev})
		if err != nil {
			log.Error().Err(err).Str("device", u.Snapshot.Device).Msg("encode event failed")
			continue
		}
		pipe.Publish(ctx, p.EventsChannel(), body)
		pipe.LPush(ctx, key, body)
	}
	if len(u.Events) > 0 {
		pipe.LTrim(ctx, key, 0, int64(p.history-1))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("publish: %w", err)
	}
	return nil
}

// Attach forwards every cache update until ctx ends or the returned stop
// func is called. Updates are queued so the merging goroutine never blocks
// on Redis; a full queue drops the update.
func (p *Publisher) Attach(ctx context.Context, cache *state.Cache) (stop func()) {
	queue := make(chan state.Update, 64)
	ctx, cancel := context.WithCancel(ctx)
	unsubscribe := cache.Subscribe(func(u state.Update) {
		select {
		case queue <- u:
		default:
			log.Warn().Str("device", u.Snapshot.Device).Msg("publish queue full, update dropped")
		}
	})

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-ctx.Done():
				return
			case u := <-queue:
				if err := p.Publish(ctx, u); err != nil && ctx.Err() == nil {
					log.Warn().Err(err).Str("device", u.Snapshot.Device).Msg("publish failed")
				}
			}
		}
	}()
	return func() {
		unsubscribe()
		cancel()
		wg.Wait()
	}
}

func (p *Publisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stopped {
		return nil
	}
	p.stopped = true
	return p.client.Close()
}
