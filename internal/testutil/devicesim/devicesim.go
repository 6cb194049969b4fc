// Package devicesim is an in-memory spectrometer that speaks the wire
// protocol. It implements transport.Dialer and hands out transport.Link
// values so the dispatcher, register layer and session controller can be
// exercised without hardware.
package devicesim

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"strings"
	"sync"

	"github.com/danmuck/radlink/internal/protocol/command"
	"github.com/danmuck/radlink/internal/protocol/frame"
	"github.com/danmuck/radlink/internal/transport"
)

var ErrDialRefused = errors.New("devicesim: dial refused")

// Version is the firmware version reported by GET_VERSION.
type Version struct {
	BootMajor, BootMinor     uint16
	BootDate                 string
	TargetMajor, TargetMinor uint16
	TargetDate               string
}

// Handler overrides the simulated reply for one command. Returning
// ok=false drops the request without a response. Handlers run with the
// device lock held and must not call back into the Device.
type Handler func(args []byte) (payload []byte, ok bool)

// Request records one frame the simulator received.
type Request struct {
	Command command.Command
	Seq     uint8
	Args    []byte
}

// Device holds simulated device state shared by every link it hands out.
type Device struct {
	mu sync.Mutex

	serial   string
	hwSerial []uint32
	firmware Version
	regs     map[command.VSFR]uint32
	bufs     map[command.VS][]byte
	// rejected registers clear their bit in batch validity masks.
	rejected  map[command.VSFR]bool
	overrides map[command.Command]Handler

	statusFailVS map[command.VS]bool
	padStrings   bool
	chunkSize    int

	dropRemaining int
	refuseDials   int
	requests      []Request
	dials         int
	current       *Link
}

func New() *Device {
	d := &Device{
		serial:   "RC-102-000123",
		hwSerial: []uint32{0x00320031, 0x3236470F, 0x37383532},
		firmware: Version{
			BootMajor: 4, BootMinor: 0, BootDate: "Jan 10 2023",
			TargetMajor: 4, TargetMinor: 12, TargetDate: "Mar 21 2024",
		},
		regs:         make(map[command.VSFR]uint32),
		bufs:         make(map[command.VS][]byte),
		rejected:     make(map[command.VSFR]bool),
		overrides:    make(map[command.Command]Handler),
		statusFailVS: make(map[command.VS]bool),
		chunkSize:    frame.BLEUnit,
	}
	d.bufs[command.VSConfiguration] = []byte("DeviceName=RadiaCode-102\nSpecFormatVersion=0\nLang=1\n")
	d.bufs[command.VSSerialNumber] = []byte(d.serial)
	d.bufs[command.VSEnergyCalib] = floats(-7.5, 2.4, 0.0004)
	d.regs[command.ChnToKeVA0] = math.Float32bits(-7.5)
	d.regs[command.ChnToKeVA1] = math.Float32bits(2.4)
	d.regs[command.ChnToKeVA2] = math.Float32bits(0.0004)
	d.regs[command.CRLev1cp10s] = 100
	d.regs[command.CRLev2cp10s] = 500
	d.regs[command.DRLev1uRh] = 40
	d.regs[command.DRLev2uRh] = 120
	d.regs[command.DSLev1uR] = 1000
	d.regs[command.DSLev2uR] = 5000
	return d
}

func (d *Device) Identity() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return "sim:" + d.serial
}

// Dial hands out a fresh link and retires any previous one.
func (d *Device) Dial(ctx context.Context) (transport.Link, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.dials++
	if d.refuseDials > 0 {
		d.refuseDials--
		return nil, ErrDialRefused
	}
	if d.current != nil {
		d.current.closeLocked()
	}
	l := &Link{
		dev:    d,
		asm:    frame.NewAssembler(frame.DefaultLimits()),
		inbox:  make(chan []byte, 4096),
		closed: make(chan struct{}),
	}
	d.current = l
	return l, nil
}

// Dials reports how many times Dial has been called.
func (d *Device) Dials() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials
}

// RefuseDials makes the next n dials fail.
func (d *Device) RefuseDials(n int) {
	d.mu.Lock()
	d.refuseDials = n
	d.mu.Unlock()
}

// DropResponses swallows the next n requests without replying.
func (d *Device) DropResponses(n int) {
	d.mu.Lock()
	d.dropRemaining = n
	d.mu.Unlock()
}

// Drop closes the current link as if the radio went away.
func (d *Device) Drop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.current != nil {
		d.current.closeLocked()
		d.current = nil
	}
}

// Inject pushes raw bytes to the current link as if the device sent them.
func (d *Device) Inject(b []byte) {
	d.mu.Lock()
	l := d.current
	d.mu.Unlock()
	if l != nil {
		l.push(b)
	}
}

func (d *Device) SetFirmware(v Version) {
	d.mu.Lock()
	d.firmware = v
	d.mu.Unlock()
}

func (d *Device) SetRegister(id command.VSFR, raw uint32) {
	d.mu.Lock()
	d.regs[id] = raw
	d.mu.Unlock()
}

func (d *Device) Register(id command.VSFR) uint32 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.regs[id]
}

// Reject marks id as invalid for batch requests.
func (d *Device) Reject(id command.VSFR) {
	d.mu.Lock()
	d.rejected[id] = true
	d.mu.Unlock()
}

func (d *Device) SetBuffer(vs command.VS, data []byte) {
	d.mu.Lock()
	d.bufs[vs] = append([]byte(nil), data...)
	d.mu.Unlock()
}

func (d *Device) Buffer(vs command.VS) []byte {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]byte(nil), d.bufs[vs]...)
}

// AppendData queues telemetry records for the next DATA_BUF read.
func (d *Device) AppendData(data []byte) {
	d.mu.Lock()
	d.bufs[command.VSDataBuf] = append(d.bufs[command.VSDataBuf], data...)
	d.mu.Unlock()
}

// FailBufferStatus makes reads of vs report a non-OK status.
func (d *Device) FailBufferStatus(vs command.VS) {
	d.mu.Lock()
	d.statusFailVS[vs] = true
	d.mu.Unlock()
}

// PadStrings appends a trailing zero byte to every buffer read.
func (d *Device) PadStrings(on bool) {
	d.mu.Lock()
	d.padStrings = on
	d.mu.Unlock()
}

// SetChunkSize sets the size of response chunks; zero sends whole frames.
func (d *Device) SetChunkSize(n int) {
	d.mu.Lock()
	d.chunkSize = n
	d.mu.Unlock()
}

func (d *Device) Handle(cmd command.Command, h Handler) {
	d.mu.Lock()
	d.overrides[cmd] = h
	d.mu.Unlock()
}

func (d *Device) Requests() []Request {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]Request(nil), d.requests...)
}

// CountRequests reports how many requests carried cmd.
func (d *Device) CountRequests(cmd command.Command) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	n := 0
	for _, r := range d.requests {
		if r.Command == cmd {
			n++
		}
	}
	return n
}

// respond builds the reply frame for f, or nil when it is dropped.
func (d *Device) respond(f frame.Frame) []byte {
	d.mu.Lock()
	defer d.mu.Unlock()
	cmd := command.Command(f.Header.Command)
	d.requests = append(d.requests, Request{Command: cmd, Seq: f.Header.Seq, Args: append([]byte(nil), f.Payload...)})
	if d.dropRemaining > 0 {
		d.dropRemaining--
		return nil
	}
	var payload []byte
	ok := true
	if h, found := d.overrides[cmd]; found {
		payload, ok = h(f.Payload)
	} else {
		payload = d.handleLocked(cmd, f.Payload)
	}
	if !ok {
		return nil
	}
	return frame.EncodeFrame(frame.Frame{
		Header:  frame.Header{Command: f.Header.Command, Reserved: f.Header.Reserved, Seq: f.Header.Seq},
		Payload: payload,
	})
}

func (d *Device) handleLocked(cmd command.Command, args []byte) []byte {
	switch cmd {
	case command.SetExchange:
		return []byte{0x01, 0xff, 0x12, 0xff}
	case command.SetTime:
		return u32s(1)
	case command.GetStatus:
		return u32s(0)
	case command.GetVersion:
		return d.versionLocked()
	case command.GetSerial:
		out := u32s(uint32(4 * len(d.hwSerial)))
		return append(out, u32s(d.hwSerial...)...)
	case command.RdVirtSFR:
		if len(args) < 4 {
			return u32s(0)
		}
		id := command.VSFR(binary.LittleEndian.Uint32(args))
		return u32s(1, d.regs[id])
	case command.WrVirtSFR:
		if len(args) < 8 {
			return u32s(0)
		}
		id := command.VSFR(binary.LittleEndian.Uint32(args))
		d.regs[id] = binary.LittleEndian.Uint32(args[4:])
		return u32s(1)
	case command.RdVirtSFRBatch:
		return d.readBatchLocked(args)
	case command.WrVirtSFRBatch:
		return d.writeBatchLocked(args)
	case command.RdVirtString:
		return d.readStringLocked(args)
	case command.WrVirtString:
		return d.writeStringLocked(args)
	default:
		return u32s(0)
	}
}

func (d *Device) versionLocked() []byte {
	v := d.firmware
	out := make([]byte, 0, 32)
	out = binary.LittleEndian.AppendUint16(out, v.BootMinor)
	out = binary.LittleEndian.AppendUint16(out, v.BootMajor)
	out = append(out, byte(len(v.BootDate)))
	out = append(out, v.BootDate...)
	out = binary.LittleEndian.AppendUint16(out, v.TargetMinor)
	out = binary.LittleEndian.AppendUint16(out, v.TargetMajor)
	out = append(out, byte(len(v.TargetDate)))
	out = append(out, v.TargetDate...)
	return out
}

func (d *Device) readBatchLocked(args []byte) []byte {
	if len(args) < 4 {
		return u32s(0)
	}
	n := int(binary.LittleEndian.Uint32(args))
	if len(args) < 4+4*n {
		return u32s(0)
	}
	var mask uint32
	values := make([]uint32, n)
	for i := 0; i < n; i++ {
		id := command.VSFR(binary.LittleEndian.Uint32(args[4+4*i:]))
		if !d.rejected[id] {
			mask |= 1 << uint(i)
		}
		values[i] = d.regs[id]
	}
	return append(u32s(mask), u32s(values...)...)
}

func (d *Device) writeBatchLocked(args []byte) []byte {
	if len(args) < 4 {
		return u32s(0)
	}
	n := int(binary.LittleEndian.Uint32(args))
	if len(args) < 4+8*n {
		return u32s(0)
	}
	var mask uint32
	for i := 0; i < n; i++ {
		id := command.VSFR(binary.LittleEndian.Uint32(args[4+4*i:]))
		val := binary.LittleEndian.Uint32(args[4+4*n+4*i:])
		if d.rejected[id] {
			continue
		}
		d.regs[id] = val
		mask |= 1 << uint(i)
	}
	return u32s(mask)
}

func (d *Device) readStringLocked(args []byte) []byte {
	if len(args) < 4 {
		return u32s(0, 0)
	}
	vs := command.VS(binary.LittleEndian.Uint32(args))
	if d.statusFailVS[vs] {
		return u32s(0, 0)
	}
	data := d.bufs[vs]
	if vs == command.VSDataBuf {
		delete(d.bufs, vs)
	}
	out := u32s(1, uint32(len(data)))
	out = append(out, data...)
	if d.padStrings {
		out = append(out, 0)
	}
	return out
}

func (d *Device) writeStringLocked(args []byte) []byte {
	if len(args) < 8 {
		return u32s(0)
	}
	vs := command.VS(binary.LittleEndian.Uint32(args))
	n := int(binary.LittleEndian.Uint32(args[4:]))
	if len(args) < 8+n {
		return u32s(0)
	}
	d.bufs[vs] = append([]byte(nil), args[8:8+n]...)
	if vs == command.VSEnergyCalib && n == 12 {
		d.regs[command.ChnToKeVA0] = binary.LittleEndian.Uint32(args[8:])
		d.regs[command.ChnToKeVA1] = binary.LittleEndian.Uint32(args[12:])
		d.regs[command.ChnToKeVA2] = binary.LittleEndian.Uint32(args[16:])
	}
	return u32s(1)
}

// Link is one simulated channel.
type Link struct {
	dev    *Device
	asm    *frame.Assembler
	inbox  chan []byte
	once   sync.Once
	closed chan struct{}
	sendMu sync.Mutex
}

func (l *Link) MTU() int {
	return frame.BLEUnit
}

func (l *Link) Send(ctx context.Context, chunk []byte) error {
	select {
	case <-l.closed:
		return transport.ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	default:
	}
	l.sendMu.Lock()
	frames, err := l.asm.Feed(chunk)
	l.sendMu.Unlock()
	if err != nil {
		return fmt.Errorf("devicesim: malformed request: %w", err)
	}
	for _, f := range frames {
		resp := l.dev.respond(f)
		if resp == nil {
			continue
		}
		l.dev.mu.Lock()
		unit := l.dev.chunkSize
		l.dev.mu.Unlock()
		for _, c := range frame.Chunk(resp, unit) {
			l.push(c)
		}
	}
	return nil
}

func (l *Link) Recv(ctx context.Context) ([]byte, error) {
	select {
	case b := <-l.inbox:
		return b, nil
	case <-l.closed:
		return nil, transport.ErrClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (l *Link) Close() error {
	l.dev.mu.Lock()
	defer l.dev.mu.Unlock()
	l.closeLocked()
	if l.dev.current == l {
		l.dev.current = nil
	}
	return nil
}

func (l *Link) closeLocked() {
	l.once.Do(func() { close(l.closed) })
}

func (l *Link) push(b []byte) {
	select {
	case l.inbox <- append([]byte(nil), b...):
	case <-l.closed:
	}
}

// Record encodes one telemetry record header plus payload for AppendData.
func Record(seq, eventID, groupID uint8, tsOffset int32, payload []byte) []byte {
	out := []byte{seq, eventID, groupID}
	out = binary.LittleEndian.AppendUint32(out, uint32(tsOffset))
	return append(out, payload...)
}

// Spectrum encodes a format-0 spectrum buffer.
func Spectrum(durationSec uint32, a0, a1, a2 float32, counts []uint32) []byte {
	out := u32s(durationSec)
	out = append(out, floats(a0, a1, a2)...)
	return append(out, u32s(counts...)...)
}

// Configuration renders key=value lines the way the device stores them.
func Configuration(pairs ...string) []byte {
	var b strings.Builder
	for i := 0; i+1 < len(pairs); i += 2 {
		b.WriteString(pairs[i])
		b.WriteByte('=')
		b.WriteString(pairs[i+1])
		b.WriteByte('\n')
	}
	return []byte(b.String())
}

func u32s(vals ...uint32) []byte {
	out := make([]byte, 0, 4*len(vals))
	for _, v := range vals {
		out = binary.LittleEndian.AppendUint32(out, v)
	}
	return out
}

func floats(vals ...float32) []byte {
	out := make([]byte, 0, 4*len(vals))
	for _, v := range vals {
		out = binary.LittleEndian.AppendUint32(out, math.Float32bits(v))
	}
	return out
}
