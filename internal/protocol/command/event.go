package command

import "fmt"

// EventID identifies an Event telemetry record.
type EventID uint8

const (
	EventPowerOff EventID = iota
	EventPowerOn
	EventLowBatteryShutdown
	EventChangeDeviceParams
	EventDoseReset
	EventUserEvent
	EventBatteryEmptyAlarm
	EventChargeStart
	EventChargeStop
	EventDoseRateAlarm1
	EventDoseRateAlarm2
	EventDoseRateOffscale
	EventDoseAlarm1
	EventDoseAlarm2
	EventDoseOffscale
	EventTemperatureTooLow
	EventTemperatureTooHigh
	EventTextMessage
	EventMemorySnapshot
	EventSpectrumReset
	EventCountRateAlarm1
	EventCountRateAlarm2
	EventCountRateOffscale
)

var eventNames = [...]string{
	"POWER_OFF",
	"POWER_ON",
	"LOW_BATTERY_SHUTDOWN",
	"CHANGE_DEVICE_PARAMS",
	"DOSE_RESET",
	"USER_EVENT",
	"BATTERY_EMPTY_ALARM",
	"CHARGE_START",
	"CHARGE_STOP",
	"DOSE_RATE_ALARM1",
	"DOSE_RATE_ALARM2",
	"DOSE_RATE_OFFSCALE",
	"DOSE_ALARM1",
	"DOSE_ALARM2",
	"DOSE_OFFSCALE",
	"TEMPERATURE_TOO_LOW",
	"TEMPERATURE_TOO_HIGH",
	"TEXT_MESSAGE",
	"MEMORY_SNAPSHOT",
	"SPECTRUM_RESET",
	"COUNT_RATE_ALARM1",
	"COUNT_RATE_ALARM2",
	"COUNT_RATE_OFFSCALE",
}

func (e EventID) String() string {
	if int(e) < len(eventNames) {
		return eventNames[e]
	}
	return fmt.Sprintf("EVENT_%d", uint8(e))
}

func (e EventID) MarshalText() ([]byte, error) {
	return []byte(e.String()), nil
}

// IsAlarm reports whether the event signals a threshold crossing.
func (e EventID) IsAlarm() bool {
	switch e {
	case EventDoseRateAlarm1, EventDoseRateAlarm2, EventDoseRateOffscale,
		EventDoseAlarm1, EventDoseAlarm2, EventDoseOffscale,
		EventCountRateAlarm1, EventCountRateAlarm2, EventCountRateOffscale,
		EventTemperatureTooLow, EventTemperatureTooHigh, EventBatteryEmptyAlarm:
		return true
	default:
		return false
	}
}
