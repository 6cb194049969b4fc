// Package register gives typed access to device registers (VSFR) and named
// buffers (VS) on top of raw command execution.
package register

import (
	"bytes"
	"context"
	"fmt"

	"github.com/danmuck/radlink/internal/protocol"
	"github.com/danmuck/radlink/internal/protocol/command"
	"github.com/danmuck/radlink/internal/protocol/wire"
	"github.com/rs/zerolog/log"
)

// DefaultMaxBatch is the device's batch limit: validity comes back as one
// 32-bit mask.
const DefaultMaxBatch = 32

// statusOK is the leading status word of a successful reply.
const statusOK = 1

// Executor runs one command and returns the response payload.
type Executor interface {
	Execute(ctx context.Context, cmd command.Command, args []byte) ([]byte, error)
}

// Pair is one register write.
type Pair struct {
	ID    command.VSFR
	Value Value
}

type Access struct {
	exec     Executor
	maxBatch int
}

// New binds the access layer to exec. maxBatch is fixed for the lifetime of
// the Access and may not exceed DefaultMaxBatch, the width of the reply mask.
// Zero selects DefaultMaxBatch; larger values are capped with a warning.
func New(exec Executor, maxBatch int) *Access {
	limit, capped := batchLimit(maxBatch)
	if capped {
		log.Warn().
			Int("max_batch", maxBatch).
			Int("limit", limit).
			Msg("register batch size above device limit, capping")
	}
	return &Access{exec: exec, maxBatch: limit}
}

func batchLimit(n int) (limit int, capped bool) {
	switch {
	case n <= 0:
		return DefaultMaxBatch, false
	case n > DefaultMaxBatch:
		return DefaultMaxBatch, true
	default:
		return n, false
	}
}

func (a *Access) MaxBatch() int {
	return a.maxBatch
}

func (a *Access) Read(ctx context.Context, id command.VSFR) (Value, error) {
	op := "read " + id.String()
	resp, err := a.exec.Execute(ctx, command.RdVirtSFR, wire.U32s(uint32(id)))
	if err != nil {
		return Value{}, err
	}
	r := wire.NewReader(resp)
	rc := r.U32()
	word := r.U32()
	if r.Err() != nil {
		return Value{}, protocol.Wrap(protocol.KindProtocol, op, fmt.Errorf("%w: %v", protocol.ErrTruncated, r.Err()))
	}
	if rc != statusOK {
		return Value{}, statusError(op, rc)
	}
	return Decode(id.Shape(), word), nil
}

func (a *Access) Write(ctx context.Context, id command.VSFR, v Value) error {
	op := "write " + id.String()
	resp, err := a.exec.Execute(ctx, command.WrVirtSFR, wire.U32s(uint32(id), Encode(id.Shape(), v)))
	if err != nil {
		return err
	}
	return checkStatus(op, resp)
}

// ReadMany reads ids in one round trip. Every id must be accepted.
func (a *Access) ReadMany(ctx context.Context, ids []command.VSFR) ([]Value, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	op := "read batch"
	if len(ids) > a.maxBatch {
		return nil, protocol.Wrap(protocol.KindProtocol, op, fmt.Errorf("%w: n=%d max=%d", protocol.ErrBatchTooLarge, len(ids), a.maxBatch))
	}
	w := wire.NewWriter(4 + 4*len(ids)).U32(uint32(len(ids)))
	for _, id := range ids {
		w.U32(uint32(id))
	}
	resp, err := a.exec.Execute(ctx, command.RdVirtSFRBatch, w.Bytes())
	if err != nil {
		return nil, err
	}
	r := wire.NewReader(resp)
	mask := r.U32()
	if r.Err() != nil {
		return nil, protocol.Wrap(protocol.KindProtocol, op, fmt.Errorf("%w: %v", protocol.ErrTruncated, r.Err()))
	}
	if want := fullMask(len(ids)); mask != want {
		return nil, protocol.Wrap(protocol.KindDevice, op, fmt.Errorf("%w: mask=%#x want=%#x", protocol.ErrBatchRejected, mask, want))
	}
	out := make([]Value, len(ids))
	for i, id := range ids {
		out[i] = Decode(id.Shape(), r.U32())
	}
	if r.Err() != nil {
		return nil, protocol.Wrap(protocol.KindProtocol, op, fmt.Errorf("%w: %v", protocol.ErrTruncated, r.Err()))
	}
	return out, nil
}

// WriteMany writes pairs in one round trip. Every write must be accepted.
func (a *Access) WriteMany(ctx context.Context, pairs []Pair) error {
	if len(pairs) == 0 {
		return nil
	}
	op := "write batch"
	if len(pairs) > a.maxBatch {
		return protocol.Wrap(protocol.KindProtocol, op, fmt.Errorf("%w: n=%d max=%d", protocol.ErrBatchTooLarge, len(pairs), a.maxBatch))
	}
	w := wire.NewWriter(4 + 8*len(pairs)).U32(uint32(len(pairs)))
	for _, p := range pairs {
		w.U32(uint32(p.ID))
	}
	for _, p := range pairs {
		w.U32(Encode(p.ID.Shape(), p.Value))
	}
	resp, err := a.exec.Execute(ctx, command.WrVirtSFRBatch, w.Bytes())
	if err != nil {
		return err
	}
	r := wire.NewReader(resp)
	mask := r.U32()
	if r.Err() != nil {
		return protocol.Wrap(protocol.KindProtocol, op, fmt.Errorf("%w: %v", protocol.ErrTruncated, r.Err()))
	}
	if want := fullMask(len(pairs)); mask != want {
		return protocol.Wrap(protocol.KindDevice, op, fmt.Errorf("%w: mask=%#x want=%#x", protocol.ErrBatchRejected, mask, want))
	}
	return nil
}

// WriteVerified writes v and reads it back. A mismatch is reported as a
// calibration-write warning; the write itself was accepted.
func (a *Access) WriteVerified(ctx context.Context, id command.VSFR, v Value) error {
	if err := a.Write(ctx, id, v); err != nil {
		return err
	}
	got, err := a.Read(ctx, id)
	if err != nil {
		return err
	}
	if want := Encode(id.Shape(), v); Encode(id.Shape(), got) != want {
		return &protocol.Error{
			Kind: protocol.KindCalibrationWrite,
			Op:   "verify " + id.String(),
			Err:  fmt.Errorf("%w: wrote=%#x read=%#x", protocol.ErrReadBackMismatch, want, got.Raw()),
		}
	}
	return nil
}

// ReadBuffer returns the content of a named buffer.
func (a *Access) ReadBuffer(ctx context.Context, vs command.VS) ([]byte, error) {
	op := "read " + vs.String()
	resp, err := a.exec.Execute(ctx, command.RdVirtString, wire.U32s(uint32(vs)))
	if err != nil {
		return nil, err
	}
	r := wire.NewReader(resp)
	status := r.U32()
	if r.Err() != nil {
		return nil, protocol.Wrap(protocol.KindProtocol, op, fmt.Errorf("%w: %v", protocol.ErrTruncated, r.Err()))
	}
	if status != statusOK {
		return nil, statusError(op, status)
	}
	n := int(r.U32())
	if r.Err() != nil {
		return nil, protocol.Wrap(protocol.KindProtocol, op, fmt.Errorf("%w: %v", protocol.ErrTruncated, r.Err()))
	}
	rest := r.Rest()
	switch {
	case len(rest) == n:
	case len(rest) == n+1 && rest[n] == 0:
		// Some firmware pads the reply with a single zero byte.
		rest = rest[:n]
	default:
		return nil, protocol.Wrap(protocol.KindProtocol, op, fmt.Errorf("%w: declared=%d have=%d", protocol.ErrInvalidLength, n, len(rest)))
	}
	out := make([]byte, n)
	copy(out, rest)
	return out, nil
}

func (a *Access) WriteBuffer(ctx context.Context, vs command.VS, data []byte) error {
	op := "write " + vs.String()
	w := wire.NewWriter(8 + len(data)).U32(uint32(vs)).U32(uint32(len(data))).Raw(data)
	resp, err := a.exec.Execute(ctx, command.WrVirtString, w.Bytes())
	if err != nil {
		return err
	}
	return checkStatus(op, resp)
}

// WriteBufferVerified writes data and reads the buffer back.
func (a *Access) WriteBufferVerified(ctx context.Context, vs command.VS, data []byte) error {
	if err := a.WriteBuffer(ctx, vs, data); err != nil {
		return err
	}
	got, err := a.ReadBuffer(ctx, vs)
	if err != nil {
		return err
	}
	if !bytes.Equal(got, data) {
		return &protocol.Error{
			Kind: protocol.KindCalibrationWrite,
			Op:   "verify " + vs.String(),
			Err:  fmt.Errorf("%w: wrote %d bytes, read %d", protocol.ErrReadBackMismatch, len(data), len(got)),
		}
	}
	return nil
}

// ResetSpectrum clears the current spectrum by writing it empty.
func (a *Access) ResetSpectrum(ctx context.Context) error {
	return a.WriteBuffer(ctx, command.VSSpectrum, nil)
}

func checkStatus(op string, resp []byte) error {
	r := wire.NewReader(resp)
	rc := r.U32()
	if r.Err() != nil {
		return protocol.Wrap(protocol.KindProtocol, op, fmt.Errorf("%w: %v", protocol.ErrTruncated, r.Err()))
	}
	if rc != statusOK {
		return statusError(op, rc)
	}
	return nil
}

func statusError(op string, rc uint32) error {
	return &protocol.Error{Kind: protocol.KindDevice, Op: op, Err: fmt.Errorf("%w: status=%d", protocol.ErrDeviceStatus, rc)}
}

func fullMask(n int) uint32 {
	if n >= 32 {
		return ^uint32(0)
	}
	return uint32(1)<<uint(n) - 1
}
