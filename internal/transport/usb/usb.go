// Package usb carries spectrometer frames over the device's vendor bulk
// endpoints using libusb through gousb.
package usb

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/danmuck/radlink/internal/transport"
	"github.com/google/gousb"
	"github.com/rs/zerolog/log"
)

const (
	VendorID  gousb.ID = 0x0483
	ProductID gousb.ID = 0xF123

	outEndpoint = 1
	// IN endpoint 0x81; gousb addresses endpoints by number.
	inEndpoint = 1
	readSize   = 256

	drainTimeout = 100 * time.Millisecond
	drainLimit   = 64
)

var ErrDeviceNotFound = errors.New("usb: spectrometer not found")

// Dialer opens the first matching device, or the one with Serial when set.
type Dialer struct {
	Serial string
}

func NewDialer(serial string) *Dialer {
	return &Dialer{Serial: serial}
}

func (d *Dialer) Identity() string {
	if d.Serial == "" {
		return fmt.Sprintf("usb:%s:%s", VendorID, ProductID)
	}
	return "usb:" + d.Serial
}

func (d *Dialer) Dial(ctx context.Context) (transport.Link, error) {
	uctx := gousb.NewContext()
	dev, err := d.open(uctx)
	if err != nil {
		uctx.Close()
		return nil, err
	}
	if err := dev.SetAutoDetach(true); err != nil {
		log.Warn().Err(err).Str("device", d.Identity()).Msg("usb auto-detach unavailable")
	}
	intf, done, err := dev.DefaultInterface()
	if err != nil {
		dev.Close()
		uctx.Close()
		return nil, fmt.Errorf("usb: claim interface: %w", err)
	}
	out, err := intf.OutEndpoint(outEndpoint)
	if err != nil {
		done()
		dev.Close()
		uctx.Close()
		return nil, fmt.Errorf("usb: out endpoint: %w", err)
	}
	in, err := intf.InEndpoint(inEndpoint)
	if err != nil {
		done()
		dev.Close()
		uctx.Close()
		return nil, fmt.Errorf("usb: in endpoint: %w", err)
	}
	l := &Link{
		identity: d.Identity(),
		uctx:     uctx,
		dev:      dev,
		release:  done,
		out:      out,
		in:       in,
		closed:   make(chan struct{}),
	}
	if n := l.drain(ctx); n > 0 {
		log.Debug().Str("device", l.identity).Int("chunks", n).Msg("usb drained stale input")
	}
	log.Info().Str("device", l.identity).Msg("usb link established")
	return l, nil
}

func (d *Dialer) open(uctx *gousb.Context) (*gousb.Device, error) {
	devs, err := uctx.OpenDevices(func(desc *gousb.DeviceDesc) bool {
		return desc.Vendor == VendorID && desc.Product == ProductID
	})
	var match *gousb.Device
	for _, dev := range devs {
		if match == nil && d.serialMatches(dev) {
			match = dev
			continue
		}
		dev.Close()
	}
	if match != nil {
		return match, nil
	}
	if err != nil {
		return nil, fmt.Errorf("usb: enumerate: %w", err)
	}
	return nil, ErrDeviceNotFound
}

func (d *Dialer) serialMatches(dev *gousb.Device) bool {
	if d.Serial == "" {
		return true
	}
	serial, err := dev.SerialNumber()
	return err == nil && serial == d.Serial
}

// Link is an open pair of bulk endpoints.
type Link struct {
	identity string
	uctx     *gousb.Context
	dev      *gousb.Device
	release  func()
	out      *gousb.OutEndpoint
	in       *gousb.InEndpoint

	closeOnce sync.Once
	closed    chan struct{}
}

// MTU is zero: a whole frame goes out in one bulk transfer and libusb
// packetizes it.
func (l *Link) MTU() int {
	return 0
}

func (l *Link) Send(ctx context.Context, chunk []byte) error {
	select {
	case <-l.closed:
		return transport.ErrClosed
	default:
	}
	n, err := l.out.WriteContext(ctx, chunk)
	if err != nil {
		return fmt.Errorf("usb: bulk write: %w", err)
	}
	if n != len(chunk) {
		return fmt.Errorf("usb: short bulk write %d/%d", n, len(chunk))
	}
	return nil
}

func (l *Link) Recv(ctx context.Context) ([]byte, error) {
	buf := make([]byte, readSize)
	for {
		select {
		case <-l.closed:
			return nil, transport.ErrClosed
		default:
		}
		n, err := l.in.ReadContext(ctx, buf)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			return nil, fmt.Errorf("usb: bulk read: %w", err)
		}
		if n > 0 {
			return buf[:n], nil
		}
	}
}

func (l *Link) Close() error {
	var err error
	l.closeOnce.Do(func() {
		close(l.closed)
		l.release()
		err = l.dev.Close()
		l.uctx.Close()
		log.Info().Str("device", l.identity).Msg("usb link closed")
	})
	return err
}

// drain discards responses left over from a previous session.
func (l *Link) drain(ctx context.Context) int {
	buf := make([]byte, readSize)
	count := 0
	for count < drainLimit {
		rctx, cancel := context.WithTimeout(ctx, drainTimeout)
		n, err := l.in.ReadContext(rctx, buf)
		cancel()
		if err != nil || n == 0 {
			return count
		}
		count++
	}
	return count
}
