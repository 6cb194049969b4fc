package session

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"time"

	"github.com/danmuck/radlink/internal/device"
	"github.com/danmuck/radlink/internal/observability"
	"github.com/danmuck/radlink/internal/protocol"
	"github.com/danmuck/radlink/internal/protocol/dispatch"
	"github.com/danmuck/radlink/internal/protocol/telemetry"
	"github.com/danmuck/radlink/internal/state"
	"github.com/danmuck/radlink/internal/transport"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

var (
	ErrNotReady       = errors.New("session: device not ready")
	ErrAlreadyRunning = errors.New("session: controller already running")
)

const historySize = 64

// Change is one recorded state transition.
type Change struct {
	From  State     `json:"from"`
	To    State     `json:"to"`
	Event string    `json:"event"`
	At    time.Time `json:"at"`
}

// Status is the externally visible session summary.
type Status struct {
	Device         string           `json:"device"`
	SessionID      string           `json:"session_id,omitempty"`
	State          State            `json:"state"`
	Attempt        int              `json:"attempt"`
	LastError      string           `json:"last_error,omitempty"`
	LastErrorKind  string           `json:"last_error_kind,omitempty"`
	Firmware       *device.Firmware `json:"firmware,omitempty"`
	SerialNumber   string           `json:"serial_number,omitempty"`
	HardwareSerial string           `json:"hardware_serial,omitempty"`
	SpectrumFormat int              `json:"spectrum_format"`
	ReadyAt        time.Time        `json:"ready_at,omitempty"`
	Unmatched      uint64           `json:"unmatched_frames"`
}

// Controller runs the lifecycle of one device: connect, handshake, poll,
// degrade and reconnect.
type Controller struct {
	cfg    Config
	dialer transport.Dialer
	id     string
	cache  *state.Cache
	rng    *rand.Rand
	now    func() time.Time

	mu        sync.Mutex
	state     State
	status    Status
	history   []Change
	disp      *dispatch.Dispatcher
	dev       *device.Device
	stop      context.CancelFunc
	running   bool
	protoErrs int
	lastErr   error
	onReady   func(context.Context, *device.Device) error

	failures chan error
}

func NewController(dialer transport.Dialer, cfg Config) *Controller {
	cfg = cfg.WithDefaults()
	id := dialer.Identity()
	return &Controller{
		cfg:      cfg,
		dialer:   dialer,
		id:       id,
		cache:    state.New(id, cfg.EventLogSize),
		rng:      rand.New(rand.NewSource(time.Now().UnixNano())),
		now:      time.Now,
		state:    Disconnected,
		status:   Status{Device: id},
		failures: make(chan error, 8),
	}
}

// OnReady registers fn to run after every successful handshake, before
// polling starts. A failure is logged and does not fail the handshake.
func (c *Controller) OnReady(fn func(context.Context, *device.Device) error) {
	c.mu.Lock()
	c.onReady = fn
	c.mu.Unlock()
}

func (c *Controller) Identity() string {
	return c.id
}

// Cache is the device state owned by this session.
func (c *Controller) Cache() *state.Cache {
	return c.cache
}

func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Controller) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := c.status
	s.State = c.state
	if c.disp != nil {
		s.Unmatched = c.disp.Unmatched()
	}
	if s.Firmware != nil {
		fw := *s.Firmware
		s.Firmware = &fw
	}
	return s
}

// History returns the most recent transitions, oldest first.
func (c *Controller) History() []Change {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Change(nil), c.history...)
}

// Run drives the session until ctx ends, Disconnect is called or the device
// is rejected as unsupported. It returns nil after Disconnect.
func (c *Controller) Run(ctx context.Context) error {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return ErrAlreadyRunning
	}
	runCtx, cancel := context.WithCancel(ctx)
	c.running = true
	c.stop = cancel
	c.mu.Unlock()
	defer func() {
		cancel()
		c.mu.Lock()
		c.running = false
		c.stop = nil
		c.mu.Unlock()
	}()

	c.fire(Ev(EvConnect))
	for {
		if runCtx.Err() != nil {
			c.teardown()
			c.fire(Ev(EvDisconnect))
			if err := ctx.Err(); err != nil {
				return err
			}
			return nil
		}
		switch c.State() {
		case Connecting:
			c.connect(runCtx)
		case Handshaking:
			c.handshake(runCtx)
		case Ready:
			c.serve(runCtx)
		case Degraded:
			c.teardown()
			c.fire(Ev(EvTeardown))
		case Reconnecting:
			c.backoff(runCtx)
		case Failed:
			c.teardown()
			return c.Err()
		case Disconnected:
			c.teardown()
			return nil
		}
	}
}

// Disconnect aborts any outstanding wait and ends Run without retrying.
func (c *Controller) Disconnect() {
	c.mu.Lock()
	stop := c.stop
	c.mu.Unlock()
	if stop != nil {
		stop()
	}
}

// Apply runs fn against the live device. Calls share the request gate with
// polling, so they queue behind an in-flight poll.
func (c *Controller) Apply(ctx context.Context, fn func(*device.Device) error) error {
	c.mu.Lock()
	dev := c.dev
	ready := c.state == Ready || c.state == Degraded
	c.mu.Unlock()
	if !ready || dev == nil {
		return protocol.Wrap(protocol.KindTransport, "apply", ErrNotReady)
	}
	err := fn(dev)
	if err != nil {
		select {
		case c.failures <- err:
		default:
		}
	}
	return err
}

func (c *Controller) connect(ctx context.Context) {
	sid := uuid.NewString()
	c.mu.Lock()
	c.status.SessionID = sid
	c.protoErrs = 0
	c.mu.Unlock()

	dctx, cancel := context.WithTimeout(ctx, c.cfg.ConnectTimeout)
	link, err := c.dialer.Dial(dctx)
	cancel()
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		c.setError(protocol.Wrap(protocol.KindTransport, "dial", err))
		c.fire(Ev(EvTransportError))
		return
	}

	disp := dispatch.New(link, dispatch.Config{
		Device:  c.id,
		Timeout: c.cfg.RequestTimeout,
		Retries: c.cfg.RequestRetries,
	})
	disp.Start(ctx)
	c.cache.MarkStale()

	c.mu.Lock()
	c.disp = disp
	c.dev = device.New(disp, c.cfg.MaxBatch)
	c.mu.Unlock()
	log.Info().Str("device", c.id).Str("session", sid).Int("mtu", link.MTU()).Msg("channel open")
	c.fire(Ev(EvChannelOpen))
}

func (c *Controller) handshake(ctx context.Context) {
	c.mu.Lock()
	dev := c.dev
	c.mu.Unlock()

	hctx, cancel := context.WithTimeout(ctx, c.cfg.HandshakeTimeout)
	defer cancel()

	ev, err := c.startup(hctx, dev)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		c.setError(err)
		c.fire(Ev(ev))
		return
	}
	c.mu.Lock()
	c.status.Attempt = 0
	c.status.ReadyAt = c.now()
	c.status.LastError = ""
	c.status.LastErrorKind = ""
	c.lastErr = nil
	c.mu.Unlock()
	c.fire(Ev(EvHandshakeOK))
}

// startup runs the handshake and the reads every fresh session needs. On
// failure it returns the lifecycle event to fire.
func (c *Controller) startup(ctx context.Context, dev *device.Device) (EventType, error) {
	if err := dev.Handshake(ctx, c.now()); err != nil {
		return EvHandshakeFailed, err
	}
	fw, err := dev.FirmwareVersion(ctx)
	if err != nil {
		return EvHandshakeFailed, err
	}
	c.mu.Lock()
	c.status.Firmware = &fw
	c.mu.Unlock()
	if err := fw.Supported(); err != nil {
		log.Error().Str("device", c.id).Str("firmware", fw.String()).Msg("unsupported firmware")
		return EvFirmwareUnsupported, err
	}

	text, err := dev.Configuration(ctx)
	if err != nil {
		return EvHandshakeFailed, err
	}
	format, err := device.SpectrumFormat(text)
	if err != nil {
		return EvHandshakeFailed, err
	}
	serial, err := dev.SerialNumber(ctx)
	if err != nil {
		return EvHandshakeFailed, err
	}
	hw, err := dev.HardwareSerial(ctx)
	if err != nil {
		return EvHandshakeFailed, err
	}
	cal, err := dev.Calibration(ctx)
	if err != nil {
		return EvHandshakeFailed, err
	}
	limits, err := dev.AlarmLimits(ctx)
	if err != nil {
		return EvHandshakeFailed, err
	}
	c.mu.Lock()
	onReady := c.onReady
	c.mu.Unlock()
	if onReady != nil {
		if err := onReady(ctx, dev); err != nil {
			log.Warn().Str("device", c.id).Err(err).Msg("ready hook failed")
		} else {
			if cal, err = dev.Calibration(ctx); err != nil {
				return EvHandshakeFailed, err
			}
			if limits, err = dev.AlarmLimits(ctx); err != nil {
				return EvHandshakeFailed, err
			}
		}
	}
	c.cache.SetCalibration(cal)
	c.cache.SetAlarmLimits(limits)

	c.mu.Lock()
	c.status.SpectrumFormat = format
	c.status.SerialNumber = serial
	c.status.HardwareSerial = hw
	sid := c.status.SessionID
	c.mu.Unlock()

	log.Info().
		Str("device", c.id).
		Str("session", sid).
		Str("firmware", fw.String()).
		Str("serial", serial).
		Int("spectrum_format", format).
		Msg("handshake complete")
	return EvHandshakeOK, nil
}

func (c *Controller) serve(ctx context.Context) {
	c.mu.Lock()
	disp := c.disp
	c.mu.Unlock()

	ticker := time.NewTicker(c.cfg.PollInterval)
	defer ticker.Stop()

	c.poll(ctx)
	for c.State() == Ready {
		select {
		case <-ctx.Done():
			return
		case <-disp.Done():
			// Disconnect cancels ctx, which also stops the receive loop.
			if ctx.Err() != nil {
				return
			}
			c.setError(disp.Err())
			c.fire(Ev(EvTransportError))
		case err := <-c.failures:
			c.report(ctx, err)
		case <-ticker.C:
			c.poll(ctx)
		}
	}
}

// Poll runs one telemetry read outside the regular schedule.
func (c *Controller) Poll(ctx context.Context) error {
	c.mu.Lock()
	ready := c.state == Ready
	c.mu.Unlock()
	if !ready {
		return protocol.Wrap(protocol.KindTransport, "poll", ErrNotReady)
	}
	return c.poll(ctx)
}

func (c *Controller) poll(ctx context.Context) error {
	c.mu.Lock()
	dev := c.dev
	c.mu.Unlock()
	if dev == nil {
		return protocol.Wrap(protocol.KindTransport, "poll", ErrNotReady)
	}

	buf, err := dev.DataBuf(ctx)
	if err != nil {
		c.report(ctx, err)
		return err
	}
	now := c.now()
	res := telemetry.Decode(buf, telemetry.BaseTime(now))
	if res.Err != nil {
		observability.RecordDecodeError(c.id)
		log.Warn().
			Str("device", c.id).
			Int("consumed", res.Consumed).
			Int("len", len(buf)).
			Err(res.Err).
			Msg("telemetry decode stopped early")
	}
	merged := c.cache.Merge(res.Records, now)
	for kind, n := range merged.Records {
		observability.RecordTelemetry(c.id, kind.String(), n, merged.Dropped[kind])
	}

	c.mu.Lock()
	c.protoErrs = 0
	c.mu.Unlock()
	c.fire(Ev(EvExchangeOK))
	return nil
}

// report classifies a request failure and feeds it to the state machine.
func (c *Controller) report(ctx context.Context, err error) {
	if ctx.Err() != nil || err == nil {
		return
	}
	c.setError(err)
	switch {
	case errors.Is(err, protocol.ErrTimeout):
		c.mu.Lock()
		n := 0
		if c.disp != nil {
			n = c.disp.ConsecutiveTimeouts()
		}
		c.mu.Unlock()
		c.fire(Event{Type: EvTimeout, Consecutive: n})
	case protocol.KindOf(err) == protocol.KindTransport:
		c.fire(Ev(EvTransportError))
	case protocol.KindOf(err) == protocol.KindProtocol:
		c.mu.Lock()
		c.protoErrs++
		n := c.protoErrs
		c.mu.Unlock()
		c.fire(Event{Type: EvProtocolError, Consecutive: n})
	default:
		log.Warn().Str("device", c.id).Str("kind", protocol.KindOf(err).String()).Err(err).Msg("request failed")
	}
}

func (c *Controller) backoff(ctx context.Context) {
	c.mu.Lock()
	c.status.Attempt++
	attempt := c.status.Attempt
	c.mu.Unlock()

	if c.cfg.MaxReconnectAttempts > 0 && attempt > c.cfg.MaxReconnectAttempts {
		log.Error().Str("device", c.id).Int("attempts", attempt-1).Msg("giving up on reconnect")
		c.fire(Ev(EvGiveUp))
		return
	}
	delay := NextBackoffDelay(c.cfg.Backoff, attempt, c.rng)
	log.Info().Str("device", c.id).Int("attempt", attempt).Dur("delay", delay).Msg("reconnect backoff")
	if !sleepBackoff(ctx, delay) {
		return
	}
	c.fire(Ev(EvBackoffElapsed))
}

func (c *Controller) teardown() {
	c.mu.Lock()
	disp := c.disp
	c.disp = nil
	c.dev = nil
	c.mu.Unlock()
	if disp != nil {
		_ = disp.Close()
	}
	for {
		select {
		case <-c.failures:
		default:
			return
		}
	}
}

// Err is the last failure recorded by the session.
func (c *Controller) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastErr
}

func (c *Controller) setError(err error) {
	if err == nil {
		return
	}
	c.mu.Lock()
	c.lastErr = err
	c.status.LastError = err.Error()
	c.status.LastErrorKind = protocol.KindOf(err).String()
	c.mu.Unlock()
}

func (c *Controller) fire(ev Event) {
	c.mu.Lock()
	from := c.state
	to, err := Transition(from, ev)
	if err != nil {
		c.mu.Unlock()
		log.Error().Str("device", c.id).Str("state", from.String()).Str("event", ev.Type.String()).Msg("invalid session transition")
		return
	}
	if to == from {
		c.mu.Unlock()
		return
	}
	c.state = to
	c.history = append(c.history, Change{From: from, To: to, Event: ev.Type.String(), At: c.now()})
	if len(c.history) > historySize {
		c.history = c.history[len(c.history)-historySize:]
	}
	sid := c.status.SessionID
	c.mu.Unlock()

	observability.RecordTransition(c.id, from.String(), to.String())
	log.Info().
		Str("device", c.id).
		Str("session", sid).
		Str("from", from.String()).
		Str("to", to.String()).
		Str("event", ev.Type.String()).
		Msg("session transition")
}
