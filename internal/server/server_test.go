package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/danmuck/radlink/internal/protocol/command"
	"github.com/danmuck/radlink/internal/protocol/session"
	"github.com/danmuck/radlink/internal/protocol/wire"
	"github.com/danmuck/radlink/internal/testutil/devicesim"
	"github.com/danmuck/radlink/internal/testutil/testlog"
)

func sessionConfig() session.Config {
	return session.Config{
		ConnectTimeout:   time.Second,
		HandshakeTimeout: 2 * time.Second,
		RequestTimeout:   200 * time.Millisecond,
		Backoff:          session.BackoffConfig{InitialDelay: 5 * time.Millisecond, Multiplier: 2, MaxDelay: 20 * time.Millisecond},
	}
}

// liveServer returns a server backed by a running session on a fresh simulator.
func liveServer(t *testing.T) (*Server, *devicesim.Device, *session.Controller) {
	t.Helper()
	sim := devicesim.New()
	sim.AppendData(devicesim.Record(1, 0, 0, 0,
		wire.NewWriter(15).F32(3.5).F32(0.0000012).U16(40).U16(90).U16(0).U8(0).Bytes()))
	ctrl := session.NewController(sim, sessionConfig())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = ctrl.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	deadline := time.Now().Add(3 * time.Second)
	for ctrl.State() != session.Ready || ctrl.Cache().Snapshot().RealTime == nil {
		if time.Now().After(deadline) {
			t.Fatalf("session not ready: %s", ctrl.State())
		}
		time.Sleep(5 * time.Millisecond)
	}
	return New(":0", nil, ctrl), sim, ctrl
}

func do(t *testing.T, s *Server, method, path string, body any) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	var rdr *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("encode body: %v", err)
		}
		rdr = bytes.NewReader(b)
	} else {
		rdr = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, rdr)
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	s.HTTPRouter().ServeHTTP(rr, req)

	out := map[string]any{}
	if rr.Body.Len() > 0 && rr.Header().Get("Content-Type") != "" && path != "/metrics" {
		if err := json.Unmarshal(rr.Body.Bytes(), &out); err != nil {
			t.Fatalf("decode %s %s: %v body=%s", method, path, err, rr.Body.String())
		}
	}
	return rr, out
}

func TestHealthAndMetrics(t *testing.T) {
	testlog.Start(t)
	s, sim, _ := liveServer(t)

	rr, body := do(t, s, http.MethodGet, "/health", nil)
	if rr.Code != http.StatusOK || body["status"] != "ok" || body["device"] != sim.Identity() {
		t.Fatalf("health code=%d body=%v", rr.Code, body)
	}
	if body["state"] != "ready" {
		t.Fatalf("state=%v", body["state"])
	}

	rr, _ = do(t, s, http.MethodGet, "/metrics", nil)
	if rr.Code != http.StatusOK || !bytes.Contains(rr.Body.Bytes(), []byte("radlink_")) {
		t.Fatalf("metrics code=%d", rr.Code)
	}
}

func TestStateAndSession(t *testing.T) {
	testlog.Start(t)
	s, _, _ := liveServer(t)

	rr, body := do(t, s, http.MethodGet, "/state", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("state code=%d", rr.Code)
	}
	rt, ok := body["realtime"].(map[string]any)
	if !ok || rt["count_rate_cps"] != 3.5 {
		t.Fatalf("realtime=%v", body["realtime"])
	}
	if _, ok := body["rare_fresh"]; !ok {
		t.Fatalf("missing rare_fresh")
	}

	rr, body = do(t, s, http.MethodGet, "/session", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("session code=%d", rr.Code)
	}
	status := body["status"].(map[string]any)
	if status["state"] != "ready" || status["hardware_serial"] != "00320031-3236470F-37383532" {
		t.Fatalf("status=%v", status)
	}
	if hist, ok := body["history"].([]any); !ok || len(hist) < 3 {
		t.Fatalf("history=%v", body["history"])
	}
}

func TestEventsLimit(t *testing.T) {
	testlog.Start(t)
	s, _, _ := liveServer(t)

	rr, body := do(t, s, http.MethodGet, "/events?limit=5", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("events code=%d", rr.Code)
	}
	if _, ok := body["events"].([]any); !ok {
		t.Fatalf("events=%v", body["events"])
	}

	rr, body = do(t, s, http.MethodGet, "/events?limit=abc", nil)
	if rr.Code != http.StatusBadRequest || body["kind"] != "unknown" {
		t.Fatalf("bad limit code=%d body=%v", rr.Code, body)
	}
}

func TestAlarmLimitsRoundTrip(t *testing.T) {
	testlog.Start(t)
	s, sim, _ := liveServer(t)

	rr, body := do(t, s, http.MethodGet, "/alarm-limits", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("get code=%d", rr.Code)
	}
	limits := body["alarm_limits"].(map[string]any)
	if limits["count_rate_1"] != 10.0 {
		t.Fatalf("count_rate_1=%v", limits["count_rate_1"])
	}

	put := map[string]any{
		"count_rate_1": 20.0, "count_rate_2": 80.0, "count_unit": "cps",
		"dose_rate_1": 50.0, "dose_rate_2": 150.0,
		"dose_1": 0.002, "dose_2": 0.01, "dose_unit": "R",
	}
	rr, body = do(t, s, http.MethodPut, "/alarm-limits", put)
	if rr.Code != http.StatusOK {
		t.Fatalf("put code=%d body=%v", rr.Code, body)
	}
	if got := sim.Register(command.CRLev1cp10s); got != 200 {
		t.Fatalf("raw count rate 1=%d", got)
	}
	if got := sim.Register(command.DRLev2uRh); got != 150 {
		t.Fatalf("raw dose rate 2=%d", got)
	}

	put["count_unit"] = "bogus"
	rr, body = do(t, s, http.MethodPut, "/alarm-limits", put)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("invalid put code=%d body=%v", rr.Code, body)
	}
}

func TestCalibrationRoundTrip(t *testing.T) {
	testlog.Start(t)
	s, _, _ := liveServer(t)

	rr, body := do(t, s, http.MethodPut, "/calibration", map[string]any{"a0": 1.5, "a1": 2.5, "a2": 0.001})
	if rr.Code != http.StatusOK {
		t.Fatalf("put code=%d body=%v", rr.Code, body)
	}
	rr, body = do(t, s, http.MethodGet, "/calibration?refresh=true", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("get code=%d", rr.Code)
	}
	cal := body["calibration"].(map[string]any)
	if cal["a0"] != 1.5 || cal["a1"] != 2.5 {
		t.Fatalf("calibration=%v", cal)
	}
}

func TestCalibrationReadBackMismatchIsAWarning(t *testing.T) {
	testlog.Start(t)
	s, sim, ctrl := liveServer(t)
	// Accept buffer writes without storing them, so read-back returns the old values.
	sim.Handle(command.WrVirtString, func([]byte) ([]byte, bool) {
		return []byte{1, 0, 0, 0}, true
	})

	rr, body := do(t, s, http.MethodPut, "/calibration", map[string]any{"a0": 1.5, "a1": 2.5, "a2": 0.001})
	if rr.Code != http.StatusOK {
		t.Fatalf("put code=%d body=%v", rr.Code, body)
	}
	if body["kind"] != "calibration_write" || body["warning"] == nil {
		t.Fatalf("expected calibration warning, got %v", body)
	}
	cal := body["calibration"].(map[string]any)
	if cal["a0"] != -7.5 || cal["a1"] != 2.4 {
		t.Fatalf("expected device values in response, got %v", cal)
	}
	mirrored := ctrl.Cache().Snapshot().Calibration
	if mirrored == nil || mirrored.A0 != -7.5 {
		t.Fatalf("expected cache to mirror the device, got %+v", mirrored)
	}
}

func TestActions(t *testing.T) {
	testlog.Start(t)
	s, sim, _ := liveServer(t)

	before := sim.CountRequests(command.WrVirtString)
	rr, body := do(t, s, http.MethodPost, "/actions/spectrum-reset", nil)
	if rr.Code != http.StatusOK || body["action"] != "spectrum-reset" {
		t.Fatalf("spectrum-reset code=%d body=%v", rr.Code, body)
	}
	if sim.CountRequests(command.WrVirtString) != before+1 {
		t.Fatalf("spectrum reset not sent")
	}

	rr, _ = do(t, s, http.MethodPost, "/actions/dose-reset", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("dose-reset code=%d", rr.Code)
	}

	rr, body = do(t, s, http.MethodPost, "/actions/launch", nil)
	if rr.Code != http.StatusNotFound {
		t.Fatalf("unknown action code=%d body=%v", rr.Code, body)
	}
}

func TestSpectrum(t *testing.T) {
	testlog.Start(t)
	s, sim, _ := liveServer(t)
	sim.SetBuffer(command.VSSpectrum, devicesim.Spectrum(60, -7.5, 2.4, 0.0004, []uint32{1, 2, 3, 4}))

	rr, body := do(t, s, http.MethodGet, "/spectrum", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("spectrum code=%d body=%v", rr.Code, body)
	}
	if body["total"] != 10.0 || body["duration_s"] != 60.0 {
		t.Fatalf("spectrum=%v", body)
	}
}

func TestNotReadyCarriesKind(t *testing.T) {
	testlog.Start(t)
	ctrl := session.NewController(devicesim.New(), sessionConfig())
	s := New(":0", nil, ctrl)

	rr, body := do(t, s, http.MethodGet, "/alarm-limits", nil)
	if rr.Code != http.StatusServiceUnavailable || body["kind"] != "transport" {
		t.Fatalf("code=%d body=%v", rr.Code, body)
	}
	rr, body = do(t, s, http.MethodPost, "/actions/dose-reset", nil)
	if rr.Code != http.StatusServiceUnavailable || body["kind"] != "transport" {
		t.Fatalf("code=%d body=%v", rr.Code, body)
	}
}

func TestServeStopsOnCancel(t *testing.T) {
	testlog.Start(t)
	_, _, ctrl := liveServer(t)
	s := New("127.0.0.1:0", nil, ctrl)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Serve(ctx) }()
	time.Sleep(50 * time.Millisecond)

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("serve after cancel: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("serve did not stop on cancel")
	}
}
