package device

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/danmuck/radlink/internal/protocol"
	"github.com/danmuck/radlink/internal/protocol/command"
	"github.com/danmuck/radlink/internal/protocol/register"
	"github.com/danmuck/radlink/internal/protocol/spectrum"
	"github.com/danmuck/radlink/internal/protocol/wire"
	"golang.org/x/text/encoding/charmap"
)

const (
	MinTargetMajor = 4
	MinTargetMinor = 8
)

// exchangeInit is the fixed SET_EXCHANGE payload that opens a session.
var exchangeInit = []byte{0x01, 0xff, 0x12, 0xff}

var (
	ErrInvalidSetting = errors.New("device: invalid setting")
	ErrSerialLength   = errors.New("device: serial length not a multiple of 4")
)

type Device struct {
	exec register.Executor
	regs *register.Access
}

func New(exec register.Executor, maxBatch int) *Device {
	return &Device{exec: exec, regs: register.New(exec, maxBatch)}
}

// Registers exposes the underlying register layer.
func (d *Device) Registers() *register.Access {
	return d.regs
}

// Handshake runs the fixed connect sequence: exchange init, local time,
// device time reset.
func (d *Device) Handshake(ctx context.Context, now time.Time) error {
	if _, err := d.exec.Execute(ctx, command.SetExchange, exchangeInit); err != nil {
		return err
	}
	if err := d.SetLocalTime(ctx, now); err != nil {
		return err
	}
	return d.regs.Write(ctx, command.DeviceTime, register.Uint(0))
}

// SetLocalTime sets the device clock to t in t's location.
func (d *Device) SetLocalTime(ctx context.Context, t time.Time) error {
	args := []byte{
		byte(t.Day()), byte(t.Month()), byte(t.Year() - 2000), 0,
		byte(t.Second()), byte(t.Minute()), byte(t.Hour()), 0,
	}
	_, err := d.exec.Execute(ctx, command.SetTime, args)
	return err
}

// DeviceTime reads the device's uptime counter.
func (d *Device) DeviceTime(ctx context.Context) (uint32, error) {
	v, err := d.regs.Read(ctx, command.DeviceTime)
	return v.Uint(), err
}

// Firmware is the GET_VERSION reply.
type Firmware struct {
	BootMajor   uint16 `json:"boot_major"`
	BootMinor   uint16 `json:"boot_minor"`
	BootDate    string `json:"boot_date"`
	TargetMajor uint16 `json:"target_major"`
	TargetMinor uint16 `json:"target_minor"`
	TargetDate  string `json:"target_date"`
}

func (f Firmware) String() string {
	return fmt.Sprintf("boot %d.%d (%s) target %d.%d (%s)",
		f.BootMajor, f.BootMinor, f.BootDate, f.TargetMajor, f.TargetMinor, f.TargetDate)
}

func (f Firmware) AtLeast(major, minor uint16) bool {
	if f.TargetMajor != major {
		return f.TargetMajor > major
	}
	return f.TargetMinor >= minor
}

// Supported rejects target firmware older than MinTargetMajor.MinTargetMinor.
func (f Firmware) Supported() error {
	if f.AtLeast(MinTargetMajor, MinTargetMinor) {
		return nil
	}
	return &protocol.Error{
		Kind: protocol.KindUnsupportedFirmware,
		Op:   "firmware check",
		Err: fmt.Errorf("%w: target %d.%d < %d.%d", protocol.ErrUnsupportedFirmware,
			f.TargetMajor, f.TargetMinor, MinTargetMajor, MinTargetMinor),
	}
}

func (d *Device) FirmwareVersion(ctx context.Context) (Firmware, error) {
	resp, err := d.exec.Execute(ctx, command.GetVersion, nil)
	if err != nil {
		return Firmware{}, err
	}
	r := wire.NewReader(resp)
	var f Firmware
	f.BootMinor, f.BootMajor = r.U16(), r.U16()
	f.BootDate = strings.TrimRight(r.String8(), "\x00")
	f.TargetMinor, f.TargetMajor = r.U16(), r.U16()
	f.TargetDate = strings.TrimRight(r.String8(), "\x00")
	if r.Err() != nil {
		return Firmware{}, truncated("firmware version", r.Err())
	}
	return f, nil
}

// HardwareSerial formats the GET_SERIAL words as %08X groups joined by '-'.
func (d *Device) HardwareSerial(ctx context.Context) (string, error) {
	resp, err := d.exec.Execute(ctx, command.GetSerial, nil)
	if err != nil {
		return "", err
	}
	r := wire.NewReader(resp)
	n := r.U32()
	if r.Err() != nil {
		return "", truncated("hardware serial", r.Err())
	}
	if n%4 != 0 {
		return "", protocol.Wrap(protocol.KindProtocol, "hardware serial", fmt.Errorf("%w: %d", ErrSerialLength, n))
	}
	groups := make([]string, 0, n/4)
	for i := uint32(0); i < n/4; i++ {
		groups = append(groups, fmt.Sprintf("%08X", r.U32()))
	}
	if r.Err() != nil {
		return "", truncated("hardware serial", r.Err())
	}
	return strings.Join(groups, "-"), nil
}

func (d *Device) SerialNumber(ctx context.Context) (string, error) {
	b, err := d.regs.ReadBuffer(ctx, command.VSSerialNumber)
	if err != nil {
		return "", err
	}
	return strings.TrimRight(string(b), "\x00"), nil
}

// Configuration returns the device configuration text, decoded from cp1251.
func (d *Device) Configuration(ctx context.Context) (string, error) {
	b, err := d.regs.ReadBuffer(ctx, command.VSConfiguration)
	if err != nil {
		return "", err
	}
	return DecodeText(b)
}

// DecodeText converts device cp1251 text to UTF-8.
func DecodeText(b []byte) (string, error) {
	out, err := charmap.Windows1251.NewDecoder().Bytes(b)
	if err != nil {
		return "", protocol.Wrap(protocol.KindProtocol, "decode text", err)
	}
	return string(out), nil
}

// ParseConfiguration splits key=value lines. Later keys win.
func ParseConfiguration(text string) map[string]string {
	out := make(map[string]string)
	sc := bufio.NewScanner(strings.NewReader(text))
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		key, val, ok := strings.Cut(line, "=")
		if !ok || key == "" {
			continue
		}
		out[strings.TrimSpace(key)] = strings.TrimSpace(val)
	}
	return out
}

// SpectrumFormat reads SpecFormatVersion from the configuration text.
// A configuration without the key uses format 0.
func SpectrumFormat(text string) (int, error) {
	raw, ok := ParseConfiguration(text)["SpecFormatVersion"]
	if !ok {
		return spectrum.FormatV0, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, protocol.Wrap(protocol.KindProtocol, "spectrum format", fmt.Errorf("%w: %q", protocol.ErrUnexpectedResponse, raw))
	}
	return v, nil
}

// Status returns the GET_STATUS flag word.
func (d *Device) Status(ctx context.Context) (uint32, error) {
	resp, err := d.exec.Execute(ctx, command.GetStatus, nil)
	if err != nil {
		return 0, err
	}
	r := wire.NewReader(resp)
	flags := r.U32()
	if r.Err() != nil {
		return 0, truncated("status", r.Err())
	}
	return flags, nil
}

// DataBuf reads and clears the real-time telemetry buffer.
func (d *Device) DataBuf(ctx context.Context) ([]byte, error) {
	return d.regs.ReadBuffer(ctx, command.VSDataBuf)
}

func (d *Device) Calibration(ctx context.Context) (spectrum.Calibration, error) {
	b, err := d.regs.ReadBuffer(ctx, command.VSEnergyCalib)
	if err != nil {
		return spectrum.Calibration{}, err
	}
	var c spectrum.Calibration
	if err := c.UnmarshalBinary(b); err != nil {
		return spectrum.Calibration{}, err
	}
	return c, nil
}

// SetCalibration writes the energy calibration and verifies it by read-back.
// A KindCalibrationWrite error means the device accepted the write but did
// not confirm it.
func (d *Device) SetCalibration(ctx context.Context, c spectrum.Calibration) error {
	b, _ := c.MarshalBinary()
	return d.regs.WriteBufferVerified(ctx, command.VSEnergyCalib, b)
}

func (d *Device) Spectrum(ctx context.Context, format int) (spectrum.Spectrum, error) {
	return d.readSpectrum(ctx, command.VSSpectrum, format)
}

// SpectrumAccumulated reads the long-running accumulated spectrum.
func (d *Device) SpectrumAccumulated(ctx context.Context, format int) (spectrum.Spectrum, error) {
	return d.readSpectrum(ctx, command.VSSpecAccum, format)
}

func (d *Device) readSpectrum(ctx context.Context, vs command.VS, format int) (spectrum.Spectrum, error) {
	if format != spectrum.FormatV0 {
		return spectrum.Decode(nil, format)
	}
	b, err := d.regs.ReadBuffer(ctx, vs)
	if err != nil {
		return spectrum.Spectrum{}, err
	}
	return spectrum.Decode(b, format)
}

func (d *Device) SpectrumReset(ctx context.Context) error {
	return d.regs.ResetSpectrum(ctx)
}

func (d *Device) DoseReset(ctx context.Context) error {
	return d.regs.Write(ctx, command.DoseReset, register.Bool(true))
}

// Readings are the live values exposed as registers.
type Readings struct {
	CountRate   float64 `json:"count_rate_cps"`
	DoseRate    float64 `json:"dose_rate_usv_h"`
	Dose        float64 `json:"dose_usv"`
	Temperature float32 `json:"temperature_c"`
}

func (d *Device) Readings(ctx context.Context) (Readings, error) {
	vals, err := d.regs.ReadMany(ctx, []command.VSFR{command.CPS, command.DRuRh, command.DSuR, command.TempDegC})
	if err != nil {
		return Readings{}, err
	}
	return Readings{
		CountRate:   float64(vals[0].Uint()),
		DoseRate:    microSvFromMicroR(float64(vals[1].Uint())),
		Dose:        microSvFromMicroR(float64(vals[2].Uint())),
		Temperature: vals[3].Float(),
	}, nil
}

func microSvFromMicroR(uR float64) float64 {
	return uR * 0.01
}

func truncated(op string, err error) error {
	return protocol.Wrap(protocol.KindProtocol, op, fmt.Errorf("%w: %v", protocol.ErrTruncated, err))
}
