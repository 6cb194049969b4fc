package config

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/danmuck/radlink/internal/device"
	"github.com/danmuck/radlink/internal/protocol/spectrum"
	"github.com/pelletier/go-toml/v2"
)

// DeviceConfig is a settings profile pushed to the device after every
// handshake. Unset fields leave the device value alone.
type DeviceConfig struct {
	Name        string                `toml:"name"`
	Language    string                `toml:"language"`
	Sound       SoundConfig           `toml:"sound"`
	Vibro       VibroConfig           `toml:"vibro"`
	Display     DisplayConfig         `toml:"display"`
	LEDs        LEDConfig             `toml:"leds"`
	AlarmLimits *device.AlarmLimits   `toml:"alarm_limits"`
	Calibration *spectrum.Calibration `toml:"calibration"`
}

type SoundConfig struct {
	On     *bool    `toml:"on"`
	Volume *uint8   `toml:"volume"`
	Events []string `toml:"events"`
}

type VibroConfig struct {
	On     *bool    `toml:"on"`
	Events []string `toml:"events"`
}

type DisplayConfig struct {
	Brightness *uint8 `toml:"brightness"`
	OffTime    *int   `toml:"off_time"`
	Direction  string `toml:"direction"`
}

type LEDConfig struct {
	On         *bool  `toml:"on"`
	Brightness *uint8 `toml:"brightness"`
}

var ctrlNames = map[string]device.Ctrl{
	"buttons":                device.CtrlButtons,
	"clicks":                 device.CtrlClicks,
	"dose_rate_alarm_1":      device.CtrlDoseRateAlarm1,
	"dose_rate_alarm_2":      device.CtrlDoseRateAlarm2,
	"dose_rate_out_of_scale": device.CtrlDoseRateOutOfScale,
	"dose_alarm_1":           device.CtrlDoseAlarm1,
	"dose_alarm_2":           device.CtrlDoseAlarm2,
	"dose_out_of_scale":      device.CtrlDoseOutOfScale,
}

var directionNames = map[string]device.DisplayDirection{
	"auto":  device.DisplayAuto,
	"right": device.DisplayRight,
	"left":  device.DisplayLeft,
}

func LoadDeviceConfig(path string) (DeviceConfig, error) {
	var cfg DeviceConfig
	if err := loadToml(path, &cfg); err != nil {
		return DeviceConfig{}, err
	}
	if cfg.Name == "" {
		cfg.Name = "radiacode"
	}
	if err := ValidateDeviceConfig(cfg); err != nil {
		return DeviceConfig{}, err
	}
	return cfg, nil
}

func loadToml(path string, out any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config load failed (%s): %w", path, err)
	}
	if err := toml.Unmarshal(data, out); err != nil {
		return fmt.Errorf("config parse failed (%s): %w", path, err)
	}
	return nil
}

func ValidateDeviceConfig(cfg DeviceConfig) error {
	if strings.TrimSpace(cfg.Name) == "" {
		return fmt.Errorf("device config missing name")
	}
	switch cfg.Language {
	case "", "en", "ru":
	default:
		return fmt.Errorf("device config language %q not en or ru", cfg.Language)
	}
	if v := cfg.Sound.Volume; v != nil && *v > 9 {
		return fmt.Errorf("sound.volume %d outside 0..9", *v)
	}
	if _, err := ctrls(cfg.Sound.Events); err != nil {
		return fmt.Errorf("sound.events: %w", err)
	}
	vibro, err := ctrls(cfg.Vibro.Events)
	if err != nil {
		return fmt.Errorf("vibro.events: %w", err)
	}
	for _, c := range vibro {
		if c == device.CtrlClicks {
			return fmt.Errorf("vibro.events: clicks not supported")
		}
	}
	if b := cfg.Display.Brightness; b != nil && *b > 9 {
		return fmt.Errorf("display.brightness %d outside 0..9", *b)
	}
	if t := cfg.Display.OffTime; t != nil {
		switch *t {
		case 5, 10, 15, 30:
		default:
			return fmt.Errorf("display.off_time %d not one of 5, 10, 15, 30", *t)
		}
	}
	if d := cfg.Display.Direction; d != "" {
		if _, ok := directionNames[d]; !ok {
			return fmt.Errorf("display.direction %q not auto, right or left", d)
		}
	}
	if b := cfg.LEDs.Brightness; b != nil && *b > 9 {
		return fmt.Errorf("leds.brightness %d outside 0..9", *b)
	}
	if l := cfg.AlarmLimits; l != nil {
		if err := l.Validate(); err != nil {
			return fmt.Errorf("alarm_limits: %w", err)
		}
	}
	return nil
}

func ctrls(names []string) ([]device.Ctrl, error) {
	out := make([]device.Ctrl, 0, len(names))
	for _, name := range names {
		c, ok := ctrlNames[strings.ToLower(strings.TrimSpace(name))]
		if !ok {
			return nil, fmt.Errorf("unknown event %q", name)
		}
		out = append(out, c)
	}
	return out, nil
}

// Apply pushes every set field to dev, stopping at the first failure.
func (cfg DeviceConfig) Apply(ctx context.Context, dev *device.Device) error {
	if cfg.Language != "" {
		if err := dev.SetLanguage(ctx, cfg.Language); err != nil {
			return err
		}
	}
	if cfg.Sound.On != nil {
		if err := dev.SetSoundOn(ctx, *cfg.Sound.On); err != nil {
			return err
		}
	}
	if cfg.Sound.Volume != nil {
		if err := dev.SetSoundVolume(ctx, *cfg.Sound.Volume); err != nil {
			return err
		}
	}
	if cfg.Sound.Events != nil {
		c, _ := ctrls(cfg.Sound.Events)
		if err := dev.SetSoundCtrl(ctx, c...); err != nil {
			return err
		}
	}
	if cfg.Vibro.On != nil {
		if err := dev.SetVibroOn(ctx, *cfg.Vibro.On); err != nil {
			return err
		}
	}
	if cfg.Vibro.Events != nil {
		c, _ := ctrls(cfg.Vibro.Events)
		if err := dev.SetVibroCtrl(ctx, c...); err != nil {
			return err
		}
	}
	if cfg.Display.Brightness != nil {
		if err := dev.SetDisplayBrightness(ctx, *cfg.Display.Brightness); err != nil {
			return err
		}
	}
	if cfg.Display.OffTime != nil {
		if err := dev.SetDisplayOffTime(ctx, *cfg.Display.OffTime); err != nil {
			return err
		}
	}
	if cfg.Display.Direction != "" {
		if err := dev.SetDisplayDirection(ctx, directionNames[cfg.Display.Direction]); err != nil {
			return err
		}
	}
	if cfg.LEDs.On != nil {
		if err := dev.SetLEDsOn(ctx, *cfg.LEDs.On); err != nil {
			return err
		}
	}
	if cfg.LEDs.Brightness != nil {
		if err := dev.SetLEDsBrightness(ctx, *cfg.LEDs.Brightness); err != nil {
			return err
		}
	}
	if cfg.AlarmLimits != nil {
		if err := dev.SetAlarmLimits(ctx, *cfg.AlarmLimits); err != nil {
			return err
		}
	}
	if cfg.Calibration != nil {
		if err := dev.SetCalibration(ctx, *cfg.Calibration); err != nil {
			return err
		}
	}
	return nil
}
