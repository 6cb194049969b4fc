package device

import (
	"context"
	"fmt"

	"github.com/danmuck/radlink/internal/protocol"
	"github.com/danmuck/radlink/internal/protocol/command"
	"github.com/danmuck/radlink/internal/protocol/register"
)

// Ctrl is a bit in the SOUND_CTRL and VIBRO_CTRL masks.
type Ctrl uint32

const (
	CtrlButtons Ctrl = 1 << iota
	CtrlClicks
	CtrlDoseRateAlarm1
	CtrlDoseRateAlarm2
	CtrlDoseRateOutOfScale
	CtrlDoseAlarm1
	CtrlDoseAlarm2
	CtrlDoseOutOfScale
)

// DisplayDirection is the screen orientation.
type DisplayDirection uint8

const (
	DisplayAuto DisplayDirection = iota
	DisplayRight
	DisplayLeft
)

func ctrlMask(ctrls []Ctrl) uint32 {
	var mask uint32
	for _, c := range ctrls {
		mask |= uint32(c)
	}
	return mask
}

func invalid(op string, format string, args ...any) error {
	return protocol.Wrap(protocol.KindDevice, op, fmt.Errorf("%w: "+format, append([]any{ErrInvalidSetting}, args...)...))
}

func (d *Device) SetSoundOn(ctx context.Context, on bool) error {
	return d.regs.Write(ctx, command.SoundOn, register.Bool(on))
}

func (d *Device) SetSoundVolume(ctx context.Context, volume uint8) error {
	if volume > 9 {
		return invalid("set sound volume", "volume %d outside 0..9", volume)
	}
	return d.regs.Write(ctx, command.SoundVol, register.Byte(volume))
}

func (d *Device) SetSoundCtrl(ctx context.Context, ctrls ...Ctrl) error {
	return d.regs.Write(ctx, command.SoundCtrl, register.Uint(ctrlMask(ctrls)))
}

func (d *Device) SetVibroOn(ctx context.Context, on bool) error {
	return d.regs.Write(ctx, command.VibroOn, register.Bool(on))
}

// SetVibroCtrl selects which conditions vibrate. Clicks cannot vibrate.
func (d *Device) SetVibroCtrl(ctx context.Context, ctrls ...Ctrl) error {
	mask := ctrlMask(ctrls)
	if mask&uint32(CtrlClicks) != 0 {
		return invalid("set vibro ctrl", "clicks cannot drive the vibro motor")
	}
	return d.regs.Write(ctx, command.VibroCtrl, register.Uint(mask))
}

func (d *Device) SetDisplayBrightness(ctx context.Context, level uint8) error {
	if level > 9 {
		return invalid("set display brightness", "brightness %d outside 0..9", level)
	}
	return d.regs.Write(ctx, command.DispBrt, register.Byte(level))
}

// SetDisplayOffTime accepts 5, 10, 15 or 30 seconds.
func (d *Device) SetDisplayOffTime(ctx context.Context, seconds int) error {
	var code uint32
	switch seconds {
	case 5, 10, 15:
		code = uint32(seconds/5 - 1)
	case 30:
		code = 3
	default:
		return invalid("set display off time", "%ds not one of 5, 10, 15, 30", seconds)
	}
	return d.regs.Write(ctx, command.DispOffTime, register.Uint(code))
}

func (d *Device) SetDisplayDirection(ctx context.Context, dir DisplayDirection) error {
	if dir > DisplayLeft {
		return invalid("set display direction", "direction %d", dir)
	}
	return d.regs.Write(ctx, command.DispDir, register.Byte(uint8(dir)))
}

func (d *Device) SetLEDsOn(ctx context.Context, on bool) error {
	return d.regs.Write(ctx, command.LedsOn, register.Bool(on))
}

func (d *Device) SetLEDsBrightness(ctx context.Context, level uint8) error {
	if level > 9 {
		return invalid("set leds brightness", "brightness %d outside 0..9", level)
	}
	return d.regs.Write(ctx, command.LedsBrt, register.Byte(level))
}

// SetLanguage accepts "en" or "ru".
func (d *Device) SetLanguage(ctx context.Context, lang string) error {
	switch lang {
	case "en", "ru":
	default:
		return invalid("set language", "language %q", lang)
	}
	return d.regs.Write(ctx, command.DeviceLang, register.Bool(lang == "en"))
}

// PowerOff switches the device off. It cannot be switched on over the link.
func (d *Device) PowerOff(ctx context.Context) error {
	return d.regs.Write(ctx, command.DeviceOn, register.Bool(false))
}
