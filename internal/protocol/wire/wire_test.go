package wire

import (
	"errors"
	"testing"

	"github.com/danmuck/radlink/internal/testutil/testlog"
)

func TestReaderWriterPrimitives(t *testing.T) {
	testlog.Start(t)

	buf := NewWriter(16).U8(7).U16(0xBEEF).U32(0xDEADBEEF).F32(1.5).Raw([]byte{3, 'a', 'b', 'c'}).Bytes()
	r := NewReader(buf)
	if r.U8() != 7 || r.U16() != 0xBEEF || r.U32() != 0xDEADBEEF || r.F32() != 1.5 {
		t.Fatalf("primitive mismatch")
	}
	if s := r.String8(); s != "abc" {
		t.Fatalf("string mismatch %q", s)
	}
	if r.Err() != nil || r.Remaining() != 0 {
		t.Fatalf("unexpected state err=%v remaining=%d", r.Err(), r.Remaining())
	}
}

func TestReaderShortReadSticks(t *testing.T) {
	testlog.Start(t)

	r := NewReader([]byte{1, 2, 3})
	if r.U32() != 0 {
		t.Fatalf("short read should yield zero")
	}
	if !errors.Is(r.Err(), ErrShort) {
		t.Fatalf("expected ErrShort, got %v", r.Err())
	}
	if r.U8() != 0 || r.Offset() != 0 {
		t.Fatalf("reads after failure must not advance")
	}
	if NewReader([]byte{0xfe, 0xff}).I16() != -2 {
		t.Fatalf("signed decode wrong")
	}
}
