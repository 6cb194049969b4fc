package spectrum

import (
	"errors"
	"math"
	"testing"
	"time"

	"github.com/danmuck/radlink/internal/protocol"
	"github.com/danmuck/radlink/internal/protocol/wire"
	"github.com/danmuck/radlink/internal/testutil/testlog"
)

func TestEnergyAtChannel(t *testing.T) {
	testlog.Start(t)

	c := Calibration{A0: 0, A1: 0.5, A2: 0.0001}
	if got := c.Energy(512); math.Abs(got-282.2144) > 1e-4 {
		t.Fatalf("energy got=%v want=282.2144", got)
	}
	ch, ok := c.Channel(282.2144)
	if !ok || math.Abs(ch-512) > 1e-3 {
		t.Fatalf("inverse got=%v ok=%v", ch, ok)
	}
	if _, ok := (Calibration{}).Channel(10); ok {
		t.Fatalf("degenerate calibration should not invert")
	}
}

func TestCalibrationBinaryRoundTrip(t *testing.T) {
	testlog.Start(t)

	in := Calibration{A0: -7.5, A1: 2.4, A2: 0.0004}
	b, _ := in.MarshalBinary()
	var out Calibration
	if err := out.UnmarshalBinary(b); err != nil || out != in {
		t.Fatalf("round trip got=%+v err=%v", out, err)
	}
	if err := out.UnmarshalBinary(b[:8]); !errors.Is(err, protocol.ErrTruncated) {
		t.Fatalf("expected truncation, got %v", err)
	}
}

func TestDecodeV0(t *testing.T) {
	testlog.Start(t)

	buf := wire.NewWriter(32).U32(90).F32(0).F32(3).F32(0).Raw(wire.U32s(5, 0, 7, 1)).Bytes()
	s, err := Decode(buf, FormatV0)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if s.Duration != 90*time.Second || len(s.Counts) != 4 || s.Total() != 13 {
		t.Fatalf("unexpected spectrum %+v", s)
	}
	if got := s.CountsBetween(5, 8); got != 7 {
		t.Fatalf("counts between got=%d want=7", got)
	}
	if e := s.Energies(); e[3] != 9 {
		t.Fatalf("energies wrong %v", e)
	}
}

func TestDecodeRejectsV1AndBadLength(t *testing.T) {
	testlog.Start(t)

	if _, err := Decode(nil, FormatV1); !errors.Is(err, protocol.ErrUnsupportedSpectrum) {
		t.Fatalf("expected unsupported format, got %v", err)
	}
	buf := wire.NewWriter(20).U32(1).F32(0).F32(1).F32(0).Raw([]byte{1, 2}).Bytes()
	if _, err := Decode(buf, FormatV0); !errors.Is(err, protocol.ErrInvalidLength) {
		t.Fatalf("expected invalid length, got %v", err)
	}
	if _, err := Decode([]byte{1, 2, 3}, FormatV0); !errors.Is(err, protocol.ErrTruncated) {
		t.Fatalf("expected truncated header, got %v", err)
	}
}
