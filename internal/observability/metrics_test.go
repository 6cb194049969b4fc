package observability

import (
	"testing"
	"time"

	"github.com/danmuck/radlink/internal/testutil/testlog"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRegisterMetricsAndRecordersAreSafe(t *testing.T) {
	testlog.Start(t)

	RegisterMetrics()
	RegisterMetrics()

	RecordHTTPRequest("sim:a", "GET", "/health", 200, 12*time.Millisecond)
	RecordExchange("sim:a", "RD_VIRT_SFR", "ok", 24*time.Millisecond)
	RecordExchange("sim:a", "RD_VIRT_SFR", "timeout", 0)
	RecordUnmatchedFrame("sim:a")
	RecordTelemetry("sim:a", "realtime", 3, 1)
	RecordDecodeError("sim:a")
	RecordTransition("sim:a", "ready", "degraded")

	if got := testutil.ToFloat64(telemetryRecords.WithLabelValues("sim:a", "realtime")); got < 3 {
		t.Fatalf("expected realtime records counted, got %v", got)
	}
	if got := testutil.ToFloat64(exchangeRequests.WithLabelValues("sim:a", "RD_VIRT_SFR", "timeout")); got < 1 {
		t.Fatalf("expected timeout counted, got %v", got)
	}
}
