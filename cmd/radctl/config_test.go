package main

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/danmuck/radlink/internal/config"
	"github.com/danmuck/radlink/internal/testutil/testlog"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadServiceConfigOverrides(t *testing.T) {
	testlog.Start(t)
	cfg, err := loadServiceConfig("ex.config.toml")
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.DeviceID != "radiacode.desk" {
		t.Fatalf("unexpected device id: %q", cfg.DeviceID)
	}
	if cfg.Transport != TransportBLE || cfg.BLEAddress != "52:43:01:02:03:04" || cfg.BLEAdapter != "hci1" {
		t.Fatalf("unexpected transport: %+v", cfg)
	}
	if cfg.Session.PollInterval != 1500*time.Millisecond {
		t.Fatalf("unexpected poll interval: %v", cfg.Session.PollInterval)
	}
	if cfg.Session.RequestTimeout != 3*time.Second {
		t.Fatalf("unexpected request timeout: %v", cfg.Session.RequestTimeout)
	}
	if len(cfg.CORSOrigins) != 2 || cfg.CORSOrigins[1] != "http://dash.local" {
		t.Fatalf("unexpected cors origins: %+v", cfg.CORSOrigins)
	}
	if cfg.RedisAddr != "127.0.0.1:6379" || cfg.RedisChannel != "lab.radiation" {
		t.Fatalf("unexpected redis: %q %q", cfg.RedisAddr, cfg.RedisChannel)
	}
	if cfg.Session.EventLogSize != 64 {
		t.Fatalf("unexpected event log size: %d", cfg.Session.EventLogSize)
	}
	if cfg.Session.Backoff.InitialDelay != 250*time.Millisecond || cfg.Session.Backoff.MaxDelay != 10*time.Second {
		t.Fatalf("unexpected backoff: %+v", cfg.Session.Backoff)
	}
	if cfg.Session.Backoff.Multiplier != 2 {
		t.Fatalf("default multiplier lost: %v", cfg.Session.Backoff.Multiplier)
	}
}

func TestLoadServiceConfigKeepsDefaults(t *testing.T) {
	testlog.Start(t)
	cfg, err := loadServiceConfig(writeConfig(t, "usb_serial = \"RC-102-000123\"\n"))
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	def := DefaultServiceConfig()
	if cfg.Transport != def.Transport || cfg.HTTPAddr != def.HTTPAddr || cfg.RedisChannel != def.RedisChannel {
		t.Fatalf("defaults not kept: %+v", cfg)
	}
	if cfg.USBSerial != "RC-102-000123" {
		t.Fatalf("unexpected usb serial: %q", cfg.USBSerial)
	}
	if cfg.Session.PollInterval != time.Second {
		t.Fatalf("unexpected poll interval: %v", cfg.Session.PollInterval)
	}
}

func TestLoadServiceConfigPollClamped(t *testing.T) {
	testlog.Start(t)
	cfg, err := loadServiceConfig(writeConfig(t, "poll_interval = \"10s\"\n"))
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.Session.PollInterval != 2*time.Second {
		t.Fatalf("poll interval not clamped: %v", cfg.Session.PollInterval)
	}
}

func TestLoadServiceConfigErrors(t *testing.T) {
	testlog.Start(t)
	if _, err := loadServiceConfig(writeConfig(t, "transport = \"serial\"\n")); !errors.Is(err, ErrUnknownTransport) {
		t.Fatalf("expected ErrUnknownTransport, got %v", err)
	}
	if _, err := loadServiceConfig(writeConfig(t, "backoff_max = \"soon\"\n")); err == nil {
		t.Fatalf("expected duration parse error")
	}
	if _, err := loadServiceConfig(filepath.Join(t.TempDir(), "missing.toml")); err == nil {
		t.Fatalf("expected missing file error")
	}
}

func TestRadctlTemplateLoads(t *testing.T) {
	testlog.Start(t)
	tmpl, err := config.Template("radctl")
	if err != nil {
		t.Fatalf("template: %v", err)
	}
	cfg, err := loadServiceConfig(writeConfig(t, tmpl))
	if err != nil {
		t.Fatalf("load template: %v", err)
	}
	if cfg.Transport != TransportBLE || cfg.DeviceID != "radiacode" {
		t.Fatalf("unexpected template config: %+v", cfg)
	}
}

func TestServiceDialer(t *testing.T) {
	testlog.Start(t)
	cfg := DefaultServiceConfig()
	cfg.USBSerial = "RC-1"
	d, err := NewService(cfg).dialer()
	if err != nil {
		t.Fatalf("usb dialer: %v", err)
	}
	if d.Identity() != "usb:RC-1" {
		t.Fatalf("identity=%q", d.Identity())
	}

	cfg.DeviceID = "bench"
	d, err = NewService(cfg).dialer()
	if err != nil || d.Identity() != "bench" {
		t.Fatalf("device id override: %v %v", d, err)
	}

	cfg.Transport = TransportBLE
	cfg.BLEAddress = "not-a-mac"
	if _, err := NewService(cfg).dialer(); err == nil {
		t.Fatalf("expected invalid ble address error")
	}
}
