// Package spectrum decodes spectrum buffers and applies the device's
// channel-to-energy calibration.
package spectrum

import (
	"fmt"
	"math"
	"time"

	"github.com/danmuck/radlink/internal/protocol"
	"github.com/danmuck/radlink/internal/protocol/wire"
)

const (
	// FormatV0 stores one u32 count per channel.
	FormatV0 = 0
	// FormatV1 is run-length and delta compressed. Not supported.
	FormatV1 = 1

	calibrationLen = 12
)

// Calibration maps a channel to keV: E = A0 + A1*ch + A2*ch^2.
type Calibration struct {
	A0 float32 `json:"a0" toml:"a0"`
	A1 float32 `json:"a1" toml:"a1"`
	A2 float32 `json:"a2" toml:"a2"`
}

func (c Calibration) Energy(channel int) float64 {
	ch := float64(channel)
	return float64(c.A0) + float64(c.A1)*ch + float64(c.A2)*ch*ch
}

// Channel returns the fractional channel for energy keV, or false when the
// calibration cannot be inverted there.
func (c Calibration) Channel(keV float64) (float64, bool) {
	a0, a1, a2 := float64(c.A0), float64(c.A1), float64(c.A2)
	if a2 == 0 {
		if a1 == 0 {
			return 0, false
		}
		return (keV - a0) / a1, true
	}
	disc := a1*a1 - 4*a2*(a0-keV)
	if disc < 0 {
		return 0, false
	}
	return (-a1 + math.Sqrt(disc)) / (2 * a2), true
}

// MarshalBinary encodes the ENERGY_CALIB buffer layout.
func (c Calibration) MarshalBinary() ([]byte, error) {
	return wire.NewWriter(calibrationLen).F32(c.A0).F32(c.A1).F32(c.A2).Bytes(), nil
}

func (c *Calibration) UnmarshalBinary(b []byte) error {
	if len(b) < calibrationLen {
		return protocol.Wrap(protocol.KindProtocol, "decode calibration",
			fmt.Errorf("%w: have %d bytes", protocol.ErrTruncated, len(b)))
	}
	r := wire.NewReader(b)
	c.A0, c.A1, c.A2 = r.F32(), r.F32(), r.F32()
	return nil
}

// Spectrum is an accumulated channel histogram.
type Spectrum struct {
	Duration    time.Duration `json:"duration"`
	Calibration Calibration   `json:"calibration"`
	Counts      []uint32      `json:"counts"`
}

// Decode parses a spectrum buffer written in the given format version.
func Decode(buf []byte, format int) (Spectrum, error) {
	if format != FormatV0 {
		return Spectrum{}, protocol.Wrap(protocol.KindProtocol, "decode spectrum",
			fmt.Errorf("%w: version %d", protocol.ErrUnsupportedSpectrum, format))
	}
	r := wire.NewReader(buf)
	s := Spectrum{Duration: time.Duration(r.U32()) * time.Second}
	s.Calibration = Calibration{A0: r.F32(), A1: r.F32(), A2: r.F32()}
	if r.Err() != nil {
		return Spectrum{}, protocol.Wrap(protocol.KindProtocol, "decode spectrum",
			fmt.Errorf("%w: header: %v", protocol.ErrTruncated, r.Err()))
	}
	if r.Remaining()%4 != 0 {
		return Spectrum{}, protocol.Wrap(protocol.KindProtocol, "decode spectrum",
			fmt.Errorf("%w: %d trailing bytes", protocol.ErrInvalidLength, r.Remaining()%4))
	}
	s.Counts = make([]uint32, r.Remaining()/4)
	for i := range s.Counts {
		s.Counts[i] = r.U32()
	}
	return s, nil
}

func (s Spectrum) Total() uint64 {
	var total uint64
	for _, c := range s.Counts {
		total += uint64(c)
	}
	return total
}

// CountsBetween sums channels whose energy falls in [loKeV, hiKeV).
func (s Spectrum) CountsBetween(loKeV, hiKeV float64) uint64 {
	var total uint64
	for ch, c := range s.Counts {
		e := s.Calibration.Energy(ch)
		if e >= loKeV && e < hiKeV {
			total += uint64(c)
		}
	}
	return total
}

// Energies returns the energy of every channel.
func (s Spectrum) Energies() []float64 {
	out := make([]float64, len(s.Counts))
	for ch := range s.Counts {
		out[ch] = s.Calibration.Energy(ch)
	}
	return out
}
