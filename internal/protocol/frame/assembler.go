package frame

import (
	"encoding/binary"
	"fmt"
)

// Assembler rebuilds frames from transport chunks of arbitrary size.
// It is not safe for concurrent use; the dispatcher's receive loop owns it.
type Assembler struct {
	limits Limits
	buf    []byte
}

func NewAssembler(limits Limits) *Assembler {
	return &Assembler{limits: limits}
}

// Feed appends chunk and returns every frame it completes.
// On a malformed length the partial buffer is discarded and the error is
// returned together with any frames completed before it.
func (a *Assembler) Feed(chunk []byte) ([]Frame, error) {
	a.buf = append(a.buf, chunk...)
	var out []Frame
	for len(a.buf) >= LengthFieldLen {
		declared := binary.LittleEndian.Uint32(a.buf[0:LengthFieldLen])
		if declared < BodyHeaderLen {
			a.Reset()
			return out, fmt.Errorf("%w: declared=%d", ErrLengthTooSmall, declared)
		}
		if a.limits.MaxFrameBytes > 0 && declared > a.limits.MaxFrameBytes {
			a.Reset()
			return out, fmt.Errorf("%w: declared=%d max=%d", ErrFrameTooLarge, declared, a.limits.MaxFrameBytes)
		}
		total := LengthFieldLen + int(declared)
		if len(a.buf) < total {
			break
		}
		f, err := Decode(a.buf[:total], a.limits)
		if err != nil {
			a.Reset()
			return out, err
		}
		out = append(out, f)
		rest := len(a.buf) - total
		if rest == 0 {
			a.buf = nil
			break
		}
		next := make([]byte, rest)
		copy(next, a.buf[total:])
		a.buf = next
	}
	return out, nil
}

// Pending reports how many bytes of an incomplete frame are buffered.
func (a *Assembler) Pending() int {
	return len(a.buf)
}

// Reset drops any partial frame. Called whenever the session changes.
func (a *Assembler) Reset() {
	a.buf = nil
}
