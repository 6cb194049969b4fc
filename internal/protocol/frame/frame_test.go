package frame

import (
	"bytes"
	"encoding/binary"
	"errors"
	"testing"

	"github.com/danmuck/radlink/internal/testutil/testlog"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	testlog.Start(t)

	args := []byte{0x24, 0x08, 0x00, 0x00}
	buf := Encode(0x0824, 0x85, args)
	if got := binary.LittleEndian.Uint32(buf[0:4]); got != uint32(BodyHeaderLen+len(args)) {
		t.Fatalf("length word mismatch: got=%d", got)
	}
	out, err := Decode(buf, DefaultLimits())
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out.Header.Command != 0x0824 || out.Header.Seq != 0x85 || out.Header.Reserved != 0 {
		t.Fatalf("header mismatch: %+v", out.Header)
	}
	if !bytes.Equal(out.Payload, args) {
		t.Fatalf("payload mismatch: %x", out.Payload)
	}
}

func TestEncodeWireLayout(t *testing.T) {
	testlog.Start(t)

	got := Encode(0x0007, 0x80, []byte{0x01, 0xff, 0x12, 0xff})
	want := []byte{0x08, 0, 0, 0, 0x07, 0x00, 0x00, 0x80, 0x01, 0xff, 0x12, 0xff}
	if !bytes.Equal(got, want) {
		t.Fatalf("wire mismatch:\n got=%x\nwant=%x", got, want)
	}
}

func TestZeroPayloadFrame(t *testing.T) {
	testlog.Start(t)

	buf := Encode(0x0005, 0x9f, nil)
	if len(buf) != HeaderLen {
		t.Fatalf("expected bare header, got %d bytes", len(buf))
	}
	a := NewAssembler(DefaultLimits())
	frames, err := a.Feed(buf)
	if err != nil || len(frames) != 1 {
		t.Fatalf("feed: frames=%d err=%v", len(frames), err)
	}
	if len(frames[0].Payload) != 0 || frames[0].Header.Seq != 0x9f {
		t.Fatalf("unexpected frame: %+v", frames[0])
	}
}

func TestAssemblerEverySplitPoint(t *testing.T) {
	testlog.Start(t)

	payload := make([]byte, 41)
	for i := range payload {
		payload[i] = byte(i * 7)
	}
	buf := Encode(0x0826, 0x8a, payload)
	for split := 1; split < len(buf); split++ {
		a := NewAssembler(DefaultLimits())
		first, err := a.Feed(buf[:split])
		if err != nil || len(first) != 0 {
			t.Fatalf("split=%d first feed frames=%d err=%v", split, len(first), err)
		}
		if a.Pending() != split {
			t.Fatalf("split=%d pending=%d", split, a.Pending())
		}
		second, err := a.Feed(buf[split:])
		if err != nil || len(second) != 1 {
			t.Fatalf("split=%d second feed frames=%d err=%v", split, len(second), err)
		}
		if !bytes.Equal(EncodeFrame(second[0]), buf) {
			t.Fatalf("split=%d reassembled frame differs", split)
		}
		if a.Pending() != 0 {
			t.Fatalf("split=%d leftover=%d", split, a.Pending())
		}
	}
}

func TestAssemblerByteByByte(t *testing.T) {
	testlog.Start(t)

	buf := Encode(0x0824, 0x81, []byte{1, 0, 0, 0, 0xaa, 0xbb, 0xcc, 0xdd})
	a := NewAssembler(DefaultLimits())
	var got []Frame
	for i := range buf {
		frames, err := a.Feed(buf[i : i+1])
		if err != nil {
			t.Fatalf("byte %d: %v", i, err)
		}
		got = append(got, frames...)
	}
	if len(got) != 1 || !bytes.Equal(EncodeFrame(got[0]), buf) {
		t.Fatalf("expected one identical frame, got %d", len(got))
	}
}

func TestAssemblerChunkCompletesAndStartsNext(t *testing.T) {
	testlog.Start(t)

	one := Encode(0x0005, 0x80, []byte{1, 2, 3})
	two := Encode(0x000a, 0x81, []byte{4, 5})
	stream := append(append([]byte{}, one...), two...)

	a := NewAssembler(DefaultLimits())
	frames, err := a.Feed(stream[:len(one)+3])
	if err != nil || len(frames) != 1 {
		t.Fatalf("first feed frames=%d err=%v", len(frames), err)
	}
	if a.Pending() != 3 {
		t.Fatalf("expected 3 pending bytes, got %d", a.Pending())
	}
	frames, err = a.Feed(stream[len(one)+3:])
	if err != nil || len(frames) != 1 || frames[0].Header.Command != 0x000a {
		t.Fatalf("second feed frames=%+v err=%v", frames, err)
	}
}

func TestAssemblerOversizeLengthDiscards(t *testing.T) {
	testlog.Start(t)

	a := NewAssembler(Limits{MaxFrameBytes: 64})
	bogus := make([]byte, 6)
	binary.LittleEndian.PutUint32(bogus, 1<<30)
	_, err := a.Feed(bogus)
	if !errors.Is(err, ErrFrameTooLarge) {
		t.Fatalf("expected ErrFrameTooLarge, got %v", err)
	}
	if a.Pending() != 0 {
		t.Fatalf("expected buffer discarded, pending=%d", a.Pending())
	}

	frames, err := a.Feed(Encode(0x0005, 0x80, nil))
	if err != nil || len(frames) != 1 {
		t.Fatalf("assembler should recover: frames=%d err=%v", len(frames), err)
	}
}

func TestAssemblerUndersizeLength(t *testing.T) {
	testlog.Start(t)

	a := NewAssembler(DefaultLimits())
	_, err := a.Feed([]byte{2, 0, 0, 0, 9, 9})
	if !errors.Is(err, ErrLengthTooSmall) {
		t.Fatalf("expected ErrLengthTooSmall, got %v", err)
	}
}

func TestDecodeLengthMismatch(t *testing.T) {
	testlog.Start(t)

	buf := Encode(0x0005, 0x80, []byte{1, 2, 3})
	if _, err := Decode(buf[:len(buf)-1], DefaultLimits()); !errors.Is(err, ErrLengthMismatch) {
		t.Fatalf("expected ErrLengthMismatch, got %v", err)
	}
	if _, err := DecodeHeader(buf[:5]); !errors.Is(err, ErrShortHeader) {
		t.Fatalf("expected ErrShortHeader, got %v", err)
	}
}

func TestChunkBLEUnit(t *testing.T) {
	testlog.Start(t)

	buf := make([]byte, 40)
	chunks := Chunk(buf, BLEUnit)
	if len(chunks) != 3 || len(chunks[0]) != 18 || len(chunks[1]) != 18 || len(chunks[2]) != 4 {
		t.Fatalf("unexpected chunking: %d chunks", len(chunks))
	}
	if got := Chunk(buf, 0); len(got) != 1 || len(got[0]) != 40 {
		t.Fatalf("unit<=0 should yield a single chunk")
	}
}

func TestSeqWindow(t *testing.T) {
	testlog.Start(t)

	if SeqAt(0) != 0x80 || SeqAt(31) != 0x9f || SeqAt(32) != 0x80 {
		t.Fatalf("sequence window wraps incorrectly")
	}
	if ValidSeq(0x7f) || !ValidSeq(0x80) || !ValidSeq(0x9f) || ValidSeq(0xa0) {
		t.Fatalf("ValidSeq bounds wrong")
	}
}
