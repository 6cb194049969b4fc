// Package transport defines the boundary between the protocol engine and the
// physical channel. A Link moves opaque chunks; framing lives above it.
package transport

import (
	"context"
	"errors"
	"fmt"

	"github.com/danmuck/radlink/internal/protocol/frame"
)

var (
	ErrClosed       = errors.New("transport: link closed")
	ErrNotConnected = errors.New("transport: not connected")
)

// Link is one open channel to a device.
// Recv blocks until a chunk arrives, ctx ends, or the link fails.
type Link interface {
	Send(ctx context.Context, chunk []byte) error
	Recv(ctx context.Context) ([]byte, error)
	// MTU is the largest chunk Send accepts. Zero means unlimited.
	MTU() int
	Close() error
}

// Dialer opens links to a single physical device identity.
type Dialer interface {
	Dial(ctx context.Context) (Link, error)
	Identity() string
}

// SendFrame splits an encoded frame into MTU-sized chunks and sends them in order.
func SendFrame(ctx context.Context, link Link, buf []byte) error {
	if link == nil {
		return ErrNotConnected
	}
	for i, chunk := range frame.Chunk(buf, link.MTU()) {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := link.Send(ctx, chunk); err != nil {
			return fmt.Errorf("transport: send chunk %d: %w", i, err)
		}
	}
	return nil
}

// DialerFunc adapts a function to Dialer.
type DialerFunc struct {
	ID   string
	Func func(ctx context.Context) (Link, error)
}

func (d DialerFunc) Dial(ctx context.Context) (Link, error) {
	return d.Func(ctx)
}

func (d DialerFunc) Identity() string {
	return d.ID
}
