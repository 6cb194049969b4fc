package config

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/danmuck/radlink/internal/device"
	"github.com/danmuck/radlink/internal/protocol/command"
	"github.com/danmuck/radlink/internal/protocol/dispatch"
	"github.com/danmuck/radlink/internal/testutil/devicesim"
	"github.com/danmuck/radlink/internal/testutil/testlog"
)

func writeFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "device.toml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	return path
}

func TestDeviceTemplateLoads(t *testing.T) {
	testlog.Start(t)
	path := filepath.Join(t.TempDir(), "device.toml")
	if err := WriteTemplate(path, "device", false); err != nil {
		t.Fatalf("write template: %v", err)
	}
	cfg, err := LoadDeviceConfig(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Sound.Volume == nil || *cfg.Sound.Volume != 5 {
		t.Fatalf("sound.volume=%v", cfg.Sound.Volume)
	}
	if cfg.AlarmLimits == nil || cfg.AlarmLimits.DoseUnit != "Sv" {
		t.Fatalf("alarm_limits=%+v", cfg.AlarmLimits)
	}
	if cfg.Calibration != nil {
		t.Fatalf("calibration should be unset")
	}
	if err := WriteTemplate(path, "device", false); err == nil {
		t.Fatalf("expected existing file error")
	}
	if err := WriteTemplate(path, "device", true); err != nil {
		t.Fatalf("overwrite: %v", err)
	}
}

func TestTemplateKinds(t *testing.T) {
	testlog.Start(t)
	if _, err := Template("radctl"); err != nil {
		t.Fatalf("radctl: %v", err)
	}
	if _, err := Template(" Device "); err != nil {
		t.Fatalf("device: %v", err)
	}
	if _, err := Template("spectrum"); err == nil {
		t.Fatalf("expected unknown kind error")
	}
}

func TestLoadDeviceConfigDefaultsName(t *testing.T) {
	testlog.Start(t)
	cfg, err := LoadDeviceConfig(writeFile(t, "language = \"ru\"\n"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Name != "radiacode" {
		t.Fatalf("name=%q", cfg.Name)
	}
}

func TestValidateDeviceConfig(t *testing.T) {
	testlog.Start(t)
	cases := map[string]string{
		"language":  "language = \"de\"\n",
		"volume":    "[sound]\nvolume = 12\n",
		"sound ctl": "[sound]\nevents = [\"bogus\"]\n",
		"vibro ctl": "[vibro]\nevents = [\"clicks\"]\n",
		"off time":  "[display]\noff_time = 20\n",
		"direction": "[display]\ndirection = \"up\"\n",
		"leds":      "[leds]\nbrightness = 10\n",
		"limits":    "[alarm_limits]\ncount_rate_1 = 5.0\ncount_rate_2 = 1.0\ncount_unit = \"cps\"\ndose_unit = \"Sv\"\n",
	}
	for name, body := range cases {
		if _, err := LoadDeviceConfig(writeFile(t, body)); err == nil {
			t.Fatalf("%s: expected validation error", name)
		}
	}
}

func TestLoadDeviceConfigParseError(t *testing.T) {
	testlog.Start(t)
	_, err := LoadDeviceConfig(writeFile(t, "name = \n"))
	if err == nil || !strings.Contains(err.Error(), "config parse failed") {
		t.Fatalf("expected parse error, got %v", err)
	}
	_, err = LoadDeviceConfig(filepath.Join(t.TempDir(), "missing.toml"))
	if err == nil || !strings.Contains(err.Error(), "config load failed") {
		t.Fatalf("expected load error, got %v", err)
	}
}

func TestApplyPushesSettings(t *testing.T) {
	testlog.Start(t)
	cfg, err := LoadDeviceConfig(writeFile(t, deviceTemplate))
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	sim := devicesim.New()
	ctx := context.Background()
	link, err := sim.Dial(ctx)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	disp := dispatch.New(link, dispatch.DefaultConfig())
	disp.Start(ctx)
	defer disp.Close()

	if err := cfg.Apply(ctx, device.New(disp, 0)); err != nil {
		t.Fatalf("apply: %v", err)
	}
	if got := sim.Register(command.SoundVol); got != 5 {
		t.Fatalf("sound volume=%d", got)
	}
	wantSound := uint32(device.CtrlButtons | device.CtrlDoseRateAlarm1 | device.CtrlDoseRateAlarm2 | device.CtrlDoseAlarm1 | device.CtrlDoseAlarm2)
	if got := sim.Register(command.SoundCtrl); got != wantSound {
		t.Fatalf("sound ctrl=%#x want=%#x", got, wantSound)
	}
	if got := sim.Register(command.DispOffTime); got != 2 {
		t.Fatalf("display off time code=%d", got)
	}
	if got := sim.Register(command.DeviceLang); got != 1 {
		t.Fatalf("language=%d", got)
	}
	if got := sim.Register(command.CRLev1cp10s); got != 600 {
		t.Fatalf("count rate 1 raw=%d", got)
	}
	if got := sim.Register(command.DRLev1uRh); got != 40 {
		t.Fatalf("dose rate 1 raw=%d", got)
	}
}
