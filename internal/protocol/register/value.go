package register

import (
	"encoding/json"
	"math"
	"strconv"

	"github.com/danmuck/radlink/internal/protocol/command"
)

// Value is a register value in canonical 32-bit form. Narrow signed shapes
// are stored sign-extended so Int works for every integer shape.
type Value struct {
	Shape command.Shape
	raw   uint32
}

func Uint(v uint32) Value {
	return Value{Shape: command.ShapeU32, raw: v}
}

func Int(v int32) Value {
	return Value{Shape: command.ShapeI32, raw: uint32(v)}
}

func Float(v float32) Value {
	return Value{Shape: command.ShapeF32, raw: math.Float32bits(v)}
}

func Bool(v bool) Value {
	if v {
		return Value{Shape: command.ShapeBool, raw: 1}
	}
	return Value{Shape: command.ShapeBool}
}

func Byte(v uint8) Value {
	return Value{Shape: command.ShapeByte, raw: uint32(v)}
}

func (v Value) Raw() uint32 { return v.raw }

func (v Value) Uint() uint32 { return v.raw }

func (v Value) Int() int32 { return int32(v.raw) }

func (v Value) Bool() bool { return v.raw != 0 }

func (v Value) Float() float32 {
	return math.Float32frombits(v.raw)
}

func (v Value) String() string {
	switch v.Shape {
	case command.ShapeF32:
		return strconv.FormatFloat(float64(v.Float()), 'g', -1, 32)
	case command.ShapeBool:
		return strconv.FormatBool(v.Bool())
	case command.ShapeI32, command.ShapeI16:
		return strconv.FormatInt(int64(v.Int()), 10)
	default:
		return strconv.FormatUint(uint64(v.raw), 10)
	}
}

func (v Value) MarshalJSON() ([]byte, error) {
	switch v.Shape {
	case command.ShapeF32:
		return json.Marshal(v.Float())
	case command.ShapeBool:
		return json.Marshal(v.Bool())
	case command.ShapeI32, command.ShapeI16:
		return json.Marshal(v.Int())
	default:
		return json.Marshal(v.raw)
	}
}

// Encode packs v into the wire word for shape, zeroing padding bytes.
func Encode(shape command.Shape, v Value) uint32 {
	switch shape {
	case command.ShapeByte:
		return v.raw & 0xFF
	case command.ShapeBool:
		if v.raw != 0 {
			return 1
		}
		return 0
	case command.ShapeU16, command.ShapeI16:
		return v.raw & 0xFFFF
	default:
		return v.raw
	}
}

// Decode unpacks a wire word for shape, ignoring padding bytes.
func Decode(shape command.Shape, word uint32) Value {
	switch shape {
	case command.ShapeByte:
		return Value{Shape: shape, raw: word & 0xFF}
	case command.ShapeBool:
		if word&0xFF != 0 {
			return Value{Shape: shape, raw: 1}
		}
		return Value{Shape: shape}
	case command.ShapeU16:
		return Value{Shape: shape, raw: word & 0xFFFF}
	case command.ShapeI16:
		return Value{Shape: shape, raw: uint32(int32(int16(word & 0xFFFF)))}
	default:
		return Value{Shape: shape, raw: word}
	}
}
