package frame

import (
	"encoding/binary"
	"errors"
	"fmt"
)

const (
	// LengthFieldLen is the size of the leading length word.
	LengthFieldLen = 4
	// BodyHeaderLen covers command id, reserved byte and sequence.
	BodyHeaderLen = 4
	HeaderLen     = LengthFieldLen + BodyHeaderLen

	SeqBase  uint8 = 0x80
	SeqCount       = 32

	// BLEUnit is the write unit of the BLE characteristic.
	BLEUnit = 18
)

var (
	ErrShortHeader     = errors.New("frame: short header")
	ErrLengthTooSmall  = errors.New("frame: declared length smaller than body header")
	ErrFrameTooLarge   = errors.New("frame: declared length exceeds limit")
	ErrLengthMismatch  = errors.New("frame: buffer does not match declared length")
	ErrInvalidSequence = errors.New("frame: sequence outside 0x80..0x9f")
)

// Header is the fixed wire header. Length excludes the length word itself.
type Header struct {
	Length   uint32
	Command  uint16
	Reserved uint8
	Seq      uint8
}

// Frame is one complete wire message.
type Frame struct {
	Header  Header
	Payload []byte
}

// Limits constrains reassembly memory use.
type Limits struct {
	MaxFrameBytes uint32
}

func DefaultLimits() Limits {
	return Limits{
		MaxFrameBytes: 1 << 20,
	}
}

// SeqAt maps a monotonically increasing counter onto the 32-value sequence window.
func SeqAt(n uint32) uint8 {
	return SeqBase + uint8(n%SeqCount)
}

func ValidSeq(seq uint8) bool {
	return seq >= SeqBase && seq < SeqBase+SeqCount
}

// Encode builds a request frame for cmd with the given sequence and argument bytes.
func Encode(cmd uint16, seq uint8, args []byte) []byte {
	return EncodeFrame(Frame{
		Header:  Header{Command: cmd, Seq: seq},
		Payload: args,
	})
}

// EncodeFrame serializes f, recomputing the length word from the payload.
func EncodeFrame(f Frame) []byte {
	h := f.Header
	h.Length = uint32(BodyHeaderLen + len(f.Payload))
	buf := make([]byte, HeaderLen+len(f.Payload))
	copy(buf, EncodeHeader(h))
	copy(buf[HeaderLen:], f.Payload)
	return buf
}

func EncodeHeader(h Header) []byte {
	buf := make([]byte, HeaderLen)
	binary.LittleEndian.PutUint32(buf[0:4], h.Length)
	binary.LittleEndian.PutUint16(buf[4:6], h.Command)
	buf[6] = h.Reserved
	buf[7] = h.Seq
	return buf
}

func DecodeHeader(b []byte) (Header, error) {
	if len(b) < HeaderLen {
		return Header{}, ErrShortHeader
	}
	h := Header{
		Length:   binary.LittleEndian.Uint32(b[0:4]),
		Command:  binary.LittleEndian.Uint16(b[4:6]),
		Reserved: b[6],
		Seq:      b[7],
	}
	if h.Length < BodyHeaderLen {
		return Header{}, ErrLengthTooSmall
	}
	return h, nil
}

// Decode parses exactly one complete frame from b.
func Decode(b []byte, limits Limits) (Frame, error) {
	h, err := DecodeHeader(b)
	if err != nil {
		return Frame{}, err
	}
	if limits.MaxFrameBytes > 0 && h.Length > limits.MaxFrameBytes {
		return Frame{}, ErrFrameTooLarge
	}
	if uint64(len(b)) != uint64(LengthFieldLen)+uint64(h.Length) {
		return Frame{}, fmt.Errorf("%w: have=%d declared=%d", ErrLengthMismatch, len(b)-LengthFieldLen, h.Length)
	}
	payload := make([]byte, len(b)-HeaderLen)
	copy(payload, b[HeaderLen:])
	return Frame{Header: h, Payload: payload}, nil
}

// Chunk splits buf into transport units of at most unit bytes.
// unit <= 0 yields buf as a single chunk.
func Chunk(buf []byte, unit int) [][]byte {
	if unit <= 0 || len(buf) <= unit {
		return [][]byte{buf}
	}
	out := make([][]byte, 0, (len(buf)+unit-1)/unit)
	for start := 0; start < len(buf); start += unit {
		end := start + unit
		if end > len(buf) {
			end = len(buf)
		}
		out = append(out, buf[start:end])
	}
	return out
}
