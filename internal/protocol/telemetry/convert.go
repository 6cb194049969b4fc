package telemetry

import "time"

// BaseTimeSkew is added to the host clock to get the device's record epoch.
const BaseTimeSkew = 128 * time.Second

// BaseTime returns the reference time for offsets in a buffer read at now.
func BaseTime(now time.Time) time.Time {
	return now.Add(BaseTimeSkew)
}

// OffsetTime converts a 10 ms offset into an absolute time.
func OffsetTime(base time.Time, offset int32) time.Time {
	return base.Add(time.Duration(offset) * 10 * time.Millisecond)
}

// DoseRateMicroSv converts the device dose-rate unit into uSv/h.
// The same factor turns accumulated dose into uSv.
func DoseRateMicroSv(raw float32) float64 {
	return float64(raw) * 10000
}

// ErrorPercent converts an error field in tenths of a percent.
func ErrorPercent(raw uint16) float64 {
	return float64(raw) / 10
}

func TemperatureC(raw uint16) float64 {
	return (float64(raw) - 2000) / 100
}

func BatteryPercent(raw uint16) float64 {
	return float64(raw) / 100
}

// CPS converts counts per 10 s into counts per second.
func CPS(counts10s float64) float64 {
	return counts10s * 0.1
}

// CPM converts counts per 10 s into counts per minute.
func CPM(counts10s float64) float64 {
	return counts10s * 6
}

// MicroSvFromMicroR is the device-documented approximation 1 uR = 0.01 uSv.
func MicroSvFromMicroR(uR float64) float64 {
	return uR * 0.01
}
