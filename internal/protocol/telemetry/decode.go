// Package telemetry decodes the real-time data buffer (DATA_BUF) into
// typed records.
//
// A buffer is a run of records, each a 7-byte header followed by a payload
// whose size is fixed by the (event id, group id) pair. Sample blocks carry
// their own count. An unknown pair has no known length, so decoding stops
// there and keeps the records already read.
package telemetry

import (
	"fmt"
	"time"

	"github.com/danmuck/radlink/internal/protocol"
	"github.com/danmuck/radlink/internal/protocol/command"
	"github.com/danmuck/radlink/internal/protocol/wire"
)

// HeaderLen is seq, event id, group id and the i32 offset.
const HeaderLen = 7

// Result is the outcome of decoding one buffer. Records decoded before an
// error are always kept.
type Result struct {
	Records []Record
	// Consumed is the number of bytes fully decoded.
	Consumed int
	// Trailing counts bytes after the last record too short to hold a
	// header. The device pads its buffer this way; it is not an error.
	Trailing int
	Err      error
}

// SampleSize returns the per-sample size for sample-block groups.
func SampleSize(groupID uint8) (int, bool) {
	switch groupID {
	case 1:
		return 8, true
	case 2:
		return 16, true
	case 3:
		return 14, true
	default:
		return 0, false
	}
}

// Decode parses buf. base is BaseTime of the poll that read it.
func Decode(buf []byte, base time.Time) Result {
	var res Result
	r := wire.NewReader(buf)
	for r.Remaining() > 0 {
		start := r.Offset()
		if r.Remaining() < HeaderLen {
			res.Trailing = len(buf) - start
			return res
		}
		h := Header{Seq: r.U8(), EventID: r.U8(), GroupID: r.U8(), Offset: r.I32()}
		h.Time = OffsetTime(base, h.Offset)

		rec, err := decodeBody(r, h)
		if err != nil {
			res.Err = err
			return res
		}
		if r.Err() != nil {
			res.Err = truncated(start, len(buf)-start)
			return res
		}
		res.Records = append(res.Records, rec)
		res.Consumed = r.Offset()
	}
	return res
}

func decodeBody(r *wire.Reader, h Header) (Record, error) {
	switch {
	case h.EventID == 0 && h.GroupID == 0:
		rec := RealTime{Header: h}
		rec.CountRate = r.F32()
		rec.DoseRate = DoseRateMicroSv(r.F32())
		rec.CountRateErr = ErrorPercent(r.U16())
		rec.DoseRateErr = ErrorPercent(r.U16())
		rec.Flags = r.U16()
		rec.RealTimeFlags = r.U8()
		return rec, nil
	case h.EventID == 0 && h.GroupID == 1:
		rec := Raw{Header: h}
		rec.CountRate = r.F32()
		rec.DoseRate = DoseRateMicroSv(r.F32())
		return rec, nil
	case h.EventID == 0 && h.GroupID == 2:
		return DoseRateDB{Header: h, Accumulated: readAccumulated(r)}, nil
	case h.EventID == 0 && h.GroupID == 3:
		rec := Rare{Header: h}
		rec.Duration = time.Duration(r.U32()) * time.Second
		rec.Dose = DoseRateMicroSv(r.F32())
		rec.Temperature = TemperatureC(r.U16())
		rec.Battery = BatteryPercent(r.U16())
		rec.Flags = r.U16()
		return rec, nil
	case h.EventID == 0 && h.GroupID == 4:
		return User{Header: h, Accumulated: readAccumulated(r)}, nil
	case h.EventID == 0 && h.GroupID == 5:
		return Scheduled{Header: h, Accumulated: readAccumulated(r)}, nil
	case h.EventID == 0 && h.GroupID == 6:
		return Accel{Header: h, X: r.U16(), Y: r.U16(), Z: r.U16()}, nil
	case h.EventID == 0 && h.GroupID == 7:
		return Event{Header: h, Event: command.EventID(r.U8()), Param: r.U8(), Flags: r.U16()}, nil
	case h.EventID == 0 && h.GroupID == 8:
		return RawCountRate{Header: h, CountRate: r.F32(), Flags: r.U16()}, nil
	case h.EventID == 0 && h.GroupID == 9:
		return RawDoseRate{Header: h, DoseRate: DoseRateMicroSv(r.F32()), Flags: r.U16()}, nil
	case h.EventID == 1:
		size, ok := SampleSize(h.GroupID)
		if !ok {
			return nil, unknown(h)
		}
		rec := SampleBlock{Header: h, SampleSize: size}
		rec.Count = r.U16()
		rec.Interval = time.Duration(r.U32()) * time.Millisecond
		rec.Samples = r.Bytes(int(rec.Count) * size)
		return rec, nil
	default:
		return nil, unknown(h)
	}
}

func readAccumulated(r *wire.Reader) Accumulated {
	return Accumulated{
		Count:       r.U32(),
		CountRate:   r.F32(),
		DoseRate:    DoseRateMicroSv(r.F32()),
		DoseRateErr: ErrorPercent(r.U16()),
		Flags:       r.U16(),
	}
}

func unknown(h Header) error {
	return protocol.Wrap(protocol.KindProtocol, "decode telemetry",
		fmt.Errorf("%w: eid=%d gid=%d seq=%d", protocol.ErrUnknownRecord, h.EventID, h.GroupID, h.Seq))
}

func truncated(offset, have int) error {
	return protocol.Wrap(protocol.KindProtocol, "decode telemetry",
		fmt.Errorf("%w: record at offset %d has %d bytes", protocol.ErrTruncated, offset, have))
}
