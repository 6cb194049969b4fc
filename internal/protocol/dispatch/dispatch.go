// Package dispatch serializes command execution over a transport link.
//
// The device is half-duplex at the command level: exactly one request may be
// outstanding. Dispatcher is that gate. Callers queue on it and the receive
// loop runs independently, delivering reassembled frames to the single
// pending slot.
package dispatch

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/danmuck/radlink/internal/observability"
	"github.com/danmuck/radlink/internal/protocol"
	"github.com/danmuck/radlink/internal/protocol/command"
	"github.com/danmuck/radlink/internal/protocol/frame"
	"github.com/danmuck/radlink/internal/transport"
	"github.com/rs/zerolog/log"
)

type Config struct {
	// Device labels logs and metrics.
	Device string
	// Timeout bounds one attempt.
	Timeout time.Duration
	// Retries is how many times a timed-out request is re-sent with a fresh sequence.
	Retries int
	Limits  frame.Limits
}

func DefaultConfig() Config {
	return Config{
		Timeout: 5 * time.Second,
		Retries: 1,
		Limits:  frame.DefaultLimits(),
	}
}

func (c Config) WithDefaults() Config {
	def := DefaultConfig()
	if c.Timeout <= 0 {
		c.Timeout = def.Timeout
	}
	if c.Retries < 0 {
		c.Retries = 0
	}
	if c.Limits.MaxFrameBytes == 0 {
		c.Limits = def.Limits
	}
	return c
}

type result struct {
	payload []byte
	err     error
}

// pending is the single outstanding request.
type pending struct {
	cmd      command.Command
	seq      uint8
	issuedAt time.Time
	slot     chan result
}

type Dispatcher struct {
	cfg  Config
	link transport.Link

	gate sync.Mutex

	mu       sync.Mutex
	pending  *pending
	closeErr error

	seq       atomic.Uint32
	timeouts  atomic.Int32
	unmatched atomic.Uint64

	startOnce sync.Once
	cancel    context.CancelFunc
	doneOnce  sync.Once
	done      chan struct{}
}

func New(link transport.Link, cfg Config) *Dispatcher {
	return &Dispatcher{
		cfg:    cfg.WithDefaults(),
		link:   link,
		cancel: func() {},
		done:   make(chan struct{}),
	}
}

// Start launches the receive loop. It stops when ctx ends, the link fails or
// Close is called.
func (d *Dispatcher) Start(ctx context.Context) {
	d.startOnce.Do(func() {
		rctx, cancel := context.WithCancel(ctx)
		d.mu.Lock()
		d.cancel = cancel
		d.mu.Unlock()
		go d.recvLoop(rctx)
	})
}

// Done is closed once the dispatcher can no longer carry requests.
func (d *Dispatcher) Done() <-chan struct{} {
	return d.done
}

// Err reports why the dispatcher stopped, or nil while it is running.
func (d *Dispatcher) Err() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.closeErr
}

// ConsecutiveTimeouts counts timed-out attempts since the last successful exchange.
func (d *Dispatcher) ConsecutiveTimeouts() int {
	return int(d.timeouts.Load())
}

// Unmatched counts frames that arrived with no matching pending request.
func (d *Dispatcher) Unmatched() uint64 {
	return d.unmatched.Load()
}

// Close aborts any waiter with ErrLinkClosed and closes the link.
func (d *Dispatcher) Close() error {
	d.fail(protocol.ErrLinkClosed)
	d.mu.Lock()
	cancel := d.cancel
	d.mu.Unlock()
	cancel()
	return d.link.Close()
}

func (d *Dispatcher) Execute(ctx context.Context, cmd command.Command, args []byte) ([]byte, error) {
	return d.ExecuteTimeout(ctx, cmd, args, d.cfg.Timeout)
}

// ExecuteTimeout sends cmd and waits for the matching response payload,
// retrying timed-out attempts with a fresh sequence.
func (d *Dispatcher) ExecuteTimeout(ctx context.Context, cmd command.Command, args []byte, timeout time.Duration) ([]byte, error) {
	if timeout <= 0 {
		timeout = d.cfg.Timeout
	}
	d.gate.Lock()
	defer d.gate.Unlock()

	start := time.Now()
	for attempt := 0; attempt <= d.cfg.Retries; attempt++ {
		payload, err := d.roundTrip(ctx, cmd, args, timeout)
		if err == nil {
			d.timeouts.Store(0)
			observability.RecordExchange(d.cfg.Device, cmd.String(), "ok", time.Since(start))
			return payload, nil
		}
		if !errors.Is(err, protocol.ErrTimeout) {
			observability.RecordExchange(d.cfg.Device, cmd.String(), protocol.KindOf(err).String(), time.Since(start))
			return nil, err
		}
		n := d.timeouts.Add(1)
		log.Warn().
			Str("device", d.cfg.Device).
			Str("cmd", cmd.String()).
			Int("attempt", attempt+1).
			Int32("consecutive", n).
			Msg("request timed out")
	}
	observability.RecordExchange(d.cfg.Device, cmd.String(), "timeout", time.Since(start))
	return nil, &protocol.Error{Kind: protocol.KindTransport, Op: cmd.String(), Err: protocol.ErrTimeout}
}

func (d *Dispatcher) roundTrip(ctx context.Context, cmd command.Command, args []byte, timeout time.Duration) ([]byte, error) {
	p := &pending{
		cmd:      cmd,
		seq:      frame.SeqAt(d.seq.Add(1) - 1),
		issuedAt: time.Now(),
		slot:     make(chan result, 1),
	}
	d.mu.Lock()
	if d.closeErr != nil {
		err := d.closeErr
		d.mu.Unlock()
		return nil, err
	}
	d.pending = p
	d.mu.Unlock()

	if err := transport.SendFrame(ctx, d.link, frame.Encode(uint16(cmd), p.seq, args)); err != nil {
		d.clear(p)
		if ctx.Err() != nil {
			return nil, protocol.Wrap(protocol.KindTransport, cmd.String(), ctx.Err())
		}
		return nil, protocol.Wrap(protocol.KindTransport, cmd.String(), err)
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case r := <-p.slot:
		return r.payload, r.err
	case <-timer.C:
		d.clear(p)
		return nil, protocol.ErrTimeout
	case <-ctx.Done():
		d.clear(p)
		return nil, protocol.Wrap(protocol.KindTransport, cmd.String(), ctx.Err())
	}
}

func (d *Dispatcher) clear(p *pending) {
	d.mu.Lock()
	if d.pending == p {
		d.pending = nil
	}
	d.mu.Unlock()
}

func (d *Dispatcher) recvLoop(ctx context.Context) {
	asm := frame.NewAssembler(d.cfg.Limits)
	for {
		chunk, err := d.link.Recv(ctx)
		if err != nil {
			if ctx.Err() != nil {
				d.fail(protocol.ErrLinkClosed)
			} else {
				d.fail(err)
			}
			return
		}
		frames, err := asm.Feed(chunk)
		for _, f := range frames {
			d.deliver(f)
		}
		if err != nil {
			log.Warn().Str("device", d.cfg.Device).Err(err).Msg("malformed frame discarded")
		}
	}
}

func (d *Dispatcher) deliver(f frame.Frame) {
	d.mu.Lock()
	p := d.pending
	if p == nil || uint16(p.cmd) != f.Header.Command || p.seq != f.Header.Seq {
		d.mu.Unlock()
		d.unmatched.Add(1)
		observability.RecordUnmatchedFrame(d.cfg.Device)
		ev := log.Warn().
			Str("device", d.cfg.Device).
			Str("cmd", command.Command(f.Header.Command).String()).
			Uint8("seq", f.Header.Seq).
			Int("len", len(f.Payload))
		if p != nil {
			ev = ev.Str("pending_cmd", p.cmd.String()).Uint8("pending_seq", p.seq)
		}
		ev.Msg("unmatched frame dropped")
		return
	}
	d.pending = nil
	d.mu.Unlock()
	log.Trace().
		Str("device", d.cfg.Device).
		Str("cmd", p.cmd.String()).
		Uint8("seq", p.seq).
		Dur("rtt", time.Since(p.issuedAt)).
		Msg("response matched")
	p.slot <- result{payload: f.Payload}
}

// fail records the terminal error and releases the pending waiter.
func (d *Dispatcher) fail(err error) {
	d.mu.Lock()
	if d.closeErr == nil {
		d.closeErr = protocol.Wrap(protocol.KindTransport, "link", err)
	}
	closeErr := d.closeErr
	p := d.pending
	d.pending = nil
	d.mu.Unlock()
	if p != nil {
		p.slot <- result{err: closeErr}
	}
	d.doneOnce.Do(func() {
		close(d.done)
		if !errors.Is(closeErr, protocol.ErrLinkClosed) {
			log.Warn().Str("device", d.cfg.Device).Err(closeErr).Msg("dispatcher stopped")
		}
	})
}
