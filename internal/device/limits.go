package device

import (
	"context"
	"fmt"
	"math"

	"github.com/danmuck/radlink/internal/protocol"
	"github.com/danmuck/radlink/internal/protocol/command"
	"github.com/danmuck/radlink/internal/protocol/register"
)

const (
	UnitCPS      = "cps"
	UnitCPM      = "cpm"
	UnitSievert  = "Sv"
	UnitRoentgen = "R"
)

// limitRegisters is the batch order shared by reads and writes.
var limitRegisters = []command.VSFR{
	command.CRLev1cp10s, command.CRLev2cp10s,
	command.DRLev1uRh, command.DRLev2uRh,
	command.DSLev1uR, command.DSLev2uR,
	command.DSUnits, command.CRUnits,
}

// AlarmLimits are the two-level alarm thresholds in the units the device
// is set to display. Count rate is in CountUnit; dose rate in micro-units of
// DoseUnit per hour; dose in DoseUnit.
type AlarmLimits struct {
	CountRate1 float64 `json:"count_rate_1" toml:"count_rate_1"`
	CountRate2 float64 `json:"count_rate_2" toml:"count_rate_2"`
	CountUnit  string  `json:"count_unit" toml:"count_unit"`
	DoseRate1  float64 `json:"dose_rate_1" toml:"dose_rate_1"`
	DoseRate2  float64 `json:"dose_rate_2" toml:"dose_rate_2"`
	Dose1      float64 `json:"dose_1" toml:"dose_1"`
	Dose2      float64 `json:"dose_2" toml:"dose_2"`
	DoseUnit   string  `json:"dose_unit" toml:"dose_unit"`
}

func multipliers(doseSv, countCPM bool) (dose, count float64) {
	dose, count = 1, 1
	if doseSv {
		dose = 100
	}
	if countCPM {
		count = 60
	}
	return dose, count
}

// LimitsFromRaw applies the unit multipliers to raw register words ordered
// like limitRegisters.
func LimitsFromRaw(vals []register.Value) AlarmLimits {
	doseSv, countCPM := vals[6].Bool(), vals[7].Bool()
	doseMul, countMul := multipliers(doseSv, countCPM)
	l := AlarmLimits{
		CountRate1: float64(vals[0].Uint()) / 10 * countMul,
		CountRate2: float64(vals[1].Uint()) / 10 * countMul,
		DoseRate1:  float64(vals[2].Uint()) / doseMul,
		DoseRate2:  float64(vals[3].Uint()) / doseMul,
		Dose1:      float64(vals[4].Uint()) / 1e6 / doseMul,
		Dose2:      float64(vals[5].Uint()) / 1e6 / doseMul,
		CountUnit:  UnitCPS,
		DoseUnit:   UnitRoentgen,
	}
	if countCPM {
		l.CountUnit = UnitCPM
	}
	if doseSv {
		l.DoseUnit = UnitSievert
	}
	return l
}

// Validate checks units and that every threshold is non-negative with
// level 2 not below level 1.
func (l AlarmLimits) Validate() error {
	if l.CountUnit != UnitCPS && l.CountUnit != UnitCPM {
		return fmt.Errorf("%w: count unit %q", ErrInvalidSetting, l.CountUnit)
	}
	if l.DoseUnit != UnitSievert && l.DoseUnit != UnitRoentgen {
		return fmt.Errorf("%w: dose unit %q", ErrInvalidSetting, l.DoseUnit)
	}
	pairs := [][2]float64{{l.CountRate1, l.CountRate2}, {l.DoseRate1, l.DoseRate2}, {l.Dose1, l.Dose2}}
	for _, p := range pairs {
		if p[0] < 0 || p[1] < 0 || math.IsNaN(p[0]) || math.IsNaN(p[1]) {
			return fmt.Errorf("%w: negative threshold", ErrInvalidSetting)
		}
		if p[1] < p[0] {
			return fmt.Errorf("%w: level 2 below level 1", ErrInvalidSetting)
		}
	}
	return nil
}

// Raw converts l back into register writes, inverting LimitsFromRaw.
func (l AlarmLimits) Raw() []register.Pair {
	doseSv, countCPM := l.DoseUnit == UnitSievert, l.CountUnit == UnitCPM
	doseMul, countMul := multipliers(doseSv, countCPM)
	word := func(v float64) register.Value {
		return register.Uint(uint32(math.Round(v)))
	}
	vals := []register.Value{
		word(l.CountRate1 * 10 / countMul),
		word(l.CountRate2 * 10 / countMul),
		word(l.DoseRate1 * doseMul),
		word(l.DoseRate2 * doseMul),
		word(l.Dose1 * 1e6 * doseMul),
		word(l.Dose2 * 1e6 * doseMul),
		register.Bool(doseSv),
		register.Bool(countCPM),
	}
	pairs := make([]register.Pair, len(limitRegisters))
	for i, id := range limitRegisters {
		pairs[i] = register.Pair{ID: id, Value: vals[i]}
	}
	return pairs
}

func (d *Device) AlarmLimits(ctx context.Context) (AlarmLimits, error) {
	vals, err := d.regs.ReadMany(ctx, limitRegisters)
	if err != nil {
		return AlarmLimits{}, err
	}
	return LimitsFromRaw(vals), nil
}

func (d *Device) SetAlarmLimits(ctx context.Context, l AlarmLimits) error {
	if err := l.Validate(); err != nil {
		return protocol.Wrap(protocol.KindDevice, "set alarm limits", err)
	}
	return d.regs.WriteMany(ctx, l.Raw())
}
