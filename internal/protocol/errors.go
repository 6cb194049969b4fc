package protocol

import (
	"errors"
	"fmt"
)

// Kind classifies a failure for layers above the protocol engine.
type Kind int

const (
	KindUnknown Kind = iota
	KindTransport
	KindProtocol
	KindDevice
	KindUnsupportedFirmware
	KindCalibrationWrite
)

var (
	ErrTimeout             = errors.New("protocol: request timed out")
	ErrLinkClosed          = errors.New("protocol: link closed")
	ErrUnexpectedResponse  = errors.New("protocol: unexpected response")
	ErrTruncated           = errors.New("protocol: truncated data")
	ErrInvalidLength       = errors.New("protocol: invalid length")
	ErrDeviceStatus        = errors.New("protocol: device returned error status")
	ErrBatchTooLarge       = errors.New("protocol: batch exceeds device limit")
	ErrBatchRejected       = errors.New("protocol: batch partially rejected")
	ErrUnsupportedFirmware = errors.New("protocol: unsupported firmware")
	ErrReadBackMismatch    = errors.New("protocol: read-back mismatch")
	ErrSequenceMismatch    = errors.New("protocol: response sequence mismatch")
	ErrUnknownRecord       = errors.New("protocol: unknown telemetry record")
	ErrUnsupportedSpectrum = errors.New("protocol: unsupported spectrum format")
)

func (k Kind) String() string {
	switch k {
	case KindTransport:
		return "transport"
	case KindProtocol:
		return "protocol"
	case KindDevice:
		return "device"
	case KindUnsupportedFirmware:
		return "unsupported_firmware"
	case KindCalibrationWrite:
		return "calibration_write"
	default:
		return "unknown"
	}
}

func (k Kind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// Error is the structured failure handed to callers outside the engine.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Op == "" {
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("%s (%s): %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Wrap tags err with kind unless it already carries one.
func Wrap(kind Kind, op string, err error) error {
	if err == nil {
		return nil
	}
	var existing *Error
	if errors.As(err, &existing) {
		return err
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

// KindOf reports the kind of err, falling back to the sentinel it wraps.
func KindOf(err error) Kind {
	if err == nil {
		return KindUnknown
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	switch {
	case errors.Is(err, ErrTimeout), errors.Is(err, ErrLinkClosed):
		return KindTransport
	case errors.Is(err, ErrUnsupportedFirmware):
		return KindUnsupportedFirmware
	case errors.Is(err, ErrDeviceStatus), errors.Is(err, ErrBatchRejected):
		return KindDevice
	case errors.Is(err, ErrReadBackMismatch):
		return KindCalibrationWrite
	case errors.Is(err, ErrTruncated), errors.Is(err, ErrInvalidLength), errors.Is(err, ErrUnexpectedResponse),
		errors.Is(err, ErrSequenceMismatch), errors.Is(err, ErrUnknownRecord), errors.Is(err, ErrUnsupportedSpectrum):
		return KindProtocol
	default:
		return KindUnknown
	}
}

// IsFatal reports whether err must not be retried.
func IsFatal(err error) bool {
	return KindOf(err) == KindUnsupportedFirmware
}
