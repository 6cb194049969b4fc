package telemetry

import (
	"time"

	"github.com/danmuck/radlink/internal/protocol/command"
)

// Kind is the closed set of record kinds the decoder understands.
type Kind uint8

const (
	KindUnknown Kind = iota
	KindRealTime
	KindRaw
	KindDoseRateDB
	KindRare
	KindUser
	KindScheduled
	KindAccel
	KindEvent
	KindRawCountRate
	KindRawDoseRate
	KindSampleBlock
)

// Kinds lists every decodable kind in table order.
var Kinds = []Kind{
	KindRealTime, KindRaw, KindDoseRateDB, KindRare, KindUser, KindScheduled,
	KindAccel, KindEvent, KindRawCountRate, KindRawDoseRate, KindSampleBlock,
}

func (k Kind) String() string {
	switch k {
	case KindRealTime:
		return "realtime"
	case KindRaw:
		return "raw"
	case KindDoseRateDB:
		return "dose_rate_db"
	case KindRare:
		return "rare"
	case KindUser:
		return "user"
	case KindScheduled:
		return "scheduled"
	case KindAccel:
		return "accel"
	case KindEvent:
		return "event"
	case KindRawCountRate:
		return "raw_count_rate"
	case KindRawDoseRate:
		return "raw_dose_rate"
	case KindSampleBlock:
		return "sample_block"
	default:
		return "unknown"
	}
}

func (k Kind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// Header is common to every record.
type Header struct {
	Seq     uint8 `json:"seq"`
	EventID uint8 `json:"eid"`
	GroupID uint8 `json:"gid"`
	// Offset is the raw timestamp offset in 10 ms units.
	Offset int32     `json:"offset"`
	Time   time.Time `json:"time"`
}

func (h Header) Head() Header { return h }

// Record is one decoded telemetry entry.
type Record interface {
	Head() Header
	Kind() Kind
}

// RealTime is the once-per-second live reading.
type RealTime struct {
	Header
	CountRate     float32 `json:"count_rate_cps"`
	DoseRate      float64 `json:"dose_rate_usv_h"`
	CountRateErr  float64 `json:"count_rate_err_pct"`
	DoseRateErr   float64 `json:"dose_rate_err_pct"`
	Flags         uint16  `json:"flags"`
	RealTimeFlags uint8   `json:"rt_flags"`
}

type Raw struct {
	Header
	CountRate float32 `json:"count_rate_cps"`
	DoseRate  float64 `json:"dose_rate_usv_h"`
}

// Accumulated is the payload shared by dose-rate database, user and
// scheduled records.
type Accumulated struct {
	Count       uint32  `json:"count"`
	CountRate   float32 `json:"count_rate_cps"`
	DoseRate    float64 `json:"dose_rate_usv_h"`
	DoseRateErr float64 `json:"dose_rate_err_pct"`
	Flags       uint16  `json:"flags"`
}

type DoseRateDB struct {
	Header
	Accumulated
}

type User struct {
	Header
	Accumulated
}

type Scheduled struct {
	Header
	Accumulated
}

// Rare carries slow-changing values: accumulated dose, temperature, battery.
type Rare struct {
	Header
	Duration    time.Duration `json:"duration"`
	Dose        float64       `json:"dose_usv"`
	Temperature float64       `json:"temperature_c"`
	Battery     float64       `json:"battery_pct"`
	Flags       uint16        `json:"flags"`
}

type Accel struct {
	Header
	X uint16 `json:"x"`
	Y uint16 `json:"y"`
	Z uint16 `json:"z"`
}

type Event struct {
	Header
	Event command.EventID `json:"event"`
	Param uint8           `json:"param"`
	Flags uint16          `json:"flags"`
}

type RawCountRate struct {
	Header
	CountRate float32 `json:"count_rate_cps"`
	Flags     uint16  `json:"flags"`
}

type RawDoseRate struct {
	Header
	DoseRate float64 `json:"dose_rate_usv_h"`
	Flags    uint16  `json:"flags"`
}

// SampleBlock is a burst of fixed-size samples. Their layout is not
// interpreted; Samples holds Count*SampleSize raw bytes.
type SampleBlock struct {
	Header
	Count      uint16        `json:"count"`
	Interval   time.Duration `json:"interval"`
	SampleSize int           `json:"sample_size"`
	Samples    []byte        `json:"samples"`
}

func (RealTime) Kind() Kind     { return KindRealTime }
func (Raw) Kind() Kind          { return KindRaw }
func (DoseRateDB) Kind() Kind   { return KindDoseRateDB }
func (User) Kind() Kind         { return KindUser }
func (Scheduled) Kind() Kind    { return KindScheduled }
func (Rare) Kind() Kind         { return KindRare }
func (Accel) Kind() Kind        { return KindAccel }
func (Event) Kind() Kind        { return KindEvent }
func (RawCountRate) Kind() Kind { return KindRawCountRate }
func (RawDoseRate) Kind() Kind  { return KindRawDoseRate }
func (SampleBlock) Kind() Kind  { return KindSampleBlock }
