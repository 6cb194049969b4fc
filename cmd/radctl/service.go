package main

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"strings"
	"syscall"

	"github.com/danmuck/radlink/internal/config"
	"github.com/danmuck/radlink/internal/device"
	"github.com/danmuck/radlink/internal/observability"
	"github.com/danmuck/radlink/internal/protocol/session"
	"github.com/danmuck/radlink/internal/publish"
	"github.com/danmuck/radlink/internal/server"
	"github.com/danmuck/radlink/internal/transport"
	"github.com/danmuck/radlink/internal/transport/ble"
	"github.com/danmuck/radlink/internal/transport/usb"
	"github.com/rs/zerolog/log"
)

const (
	TransportBLE = "ble"
	TransportUSB = "usb"
)

var ErrUnknownTransport = errors.New("radctl: unknown transport")

type ServiceConfig struct {
	DeviceID      string
	Transport     string
	BLEAddress    string
	BLEAdapter    string
	USBSerial     string
	DeviceProfile string
	HTTPAddr      string
	CORSOrigins   []string
	RedisAddr     string
	RedisChannel  string
	Session       session.Config
}

func DefaultServiceConfig() ServiceConfig {
	return ServiceConfig{
		Transport:    TransportUSB,
		BLEAdapter:   "hci0",
		HTTPAddr:     ":9300",
		CORSOrigins:  []string{"http://localhost:3000"},
		RedisChannel: "radlink.state",
		Session:      session.DefaultConfig(),
	}
}

type Service struct {
	cfg      ServiceConfig
	registry *session.Registry
}

func NewService(cfg ServiceConfig) *Service {
	cfg.Session = cfg.Session.WithDefaults()
	return &Service{cfg: cfg, registry: session.NewRegistry()}
}

// dialer builds the transport named by the config. DeviceID, when set,
// replaces the transport's own identity.
func (s *Service) dialer() (transport.Dialer, error) {
	var d transport.Dialer
	switch strings.ToLower(strings.TrimSpace(s.cfg.Transport)) {
	case TransportBLE:
		bd, err := ble.NewDialer(s.cfg.BLEAddress, s.cfg.BLEAdapter)
		if err != nil {
			return nil, err
		}
		d = bd
	case TransportUSB:
		d = usb.NewDialer(s.cfg.USBSerial)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownTransport, s.cfg.Transport)
	}
	if id := strings.TrimSpace(s.cfg.DeviceID); id != "" {
		return transport.DialerFunc{ID: id, Func: d.Dial}, nil
	}
	return d, nil
}

// Run blocks until SIGINT/SIGTERM.
func (s *Service) Run() error {
	observability.InitLogger("radctl")
	observability.RegisterMetrics()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	d, err := s.dialer()
	if err != nil {
		return err
	}
	ctrl, err := s.registry.Open(d, s.cfg.Session)
	if err != nil {
		return err
	}
	defer func() { _ = s.registry.Close(ctrl.Identity()) }()

	if path := strings.TrimSpace(s.cfg.DeviceProfile); path != "" {
		profile, err := config.LoadDeviceConfig(path)
		if err != nil {
			return err
		}
		ctrl.OnReady(func(ctx context.Context, dev *device.Device) error {
			return profile.Apply(ctx, dev)
		})
		log.Info().Str("profile", profile.Name).Str("path", path).Msg("device profile loaded")
	}

	if addr := strings.TrimSpace(s.cfg.RedisAddr); addr != "" {
		pub, err := publish.New(ctx, publish.Options{
			Addr:    addr,
			Channel: s.cfg.RedisChannel,
			History: s.cfg.Session.EventLogSize,
		})
		if err != nil {
			return err
		}
		defer pub.Close()
		detach := pub.Attach(ctx, ctrl.Cache())
		defer detach()
	}

	runErr := make(chan error, 1)
	go func() { runErr <- ctrl.Run(ctx) }()

	httpCtx, stopHTTP := context.WithCancel(ctx)
	defer stopHTTP()
	// Stays nil without an HTTP address, which blocks its select case.
	var httpErr chan error
	if addr := strings.TrimSpace(s.cfg.HTTPAddr); addr != "" {
		httpErr = make(chan error, 1)
		srv := server.New(addr, s.cfg.CORSOrigins, ctrl)
		go func() { httpErr <- srv.Serve(httpCtx) }()
	}

	log.Info().
		Str("device", ctrl.Identity()).
		Str("transport", s.cfg.Transport).
		Str("http", s.cfg.HTTPAddr).
		Msg("radctl started")

	select {
	case err := <-runErr:
		stopHTTP()
		if httpErr != nil {
			if herr := <-httpErr; herr != nil {
				log.Warn().Err(herr).Msg("http shutdown")
			}
		}
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	case err := <-httpErr:
		ctrl.Disconnect()
		<-runErr
		if err == nil {
			return nil
		}
		return fmt.Errorf("radctl: http: %w", err)
	}
}
