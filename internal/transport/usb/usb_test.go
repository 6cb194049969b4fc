package usb

import (
	"testing"

	"github.com/danmuck/radlink/internal/testutil/testlog"
)

func TestDialerIdentity(t *testing.T) {
	testlog.Start(t)

	if got := NewDialer("RC-102-001234").Identity(); got != "usb:RC-102-001234" {
		t.Fatalf("unexpected identity %q", got)
	}
	if got := NewDialer("").Identity(); got != "usb:0483:f123" {
		t.Fatalf("unexpected identity %q", got)
	}
}
