// Package command enumerates the identifiers the spectrometer understands:
// request commands, named buffers (VS) and virtual registers (VSFR).
package command

import "fmt"

// Command is the 16-bit request identifier carried in every frame.
type Command uint16

const (
	GetStatus      Command = 0x0005
	SetExchange    Command = 0x0007
	GetVersion     Command = 0x000A
	GetSerial      Command = 0x000B
	FWImageGetInfo Command = 0x0012
	FWSignature    Command = 0x0101
	RdHWConfig     Command = 0x0807
	RdVirtSFR      Command = 0x0824
	WrVirtSFR      Command = 0x0825
	RdVirtString   Command = 0x0826
	WrVirtString   Command = 0x0827
	RdVirtSFRBatch Command = 0x082A
	WrVirtSFRBatch Command = 0x082B
	RdFlash        Command = 0x081C
	SetTime        Command = 0x0A04
)

var commandNames = map[Command]string{
	GetStatus:      "GET_STATUS",
	SetExchange:    "SET_EXCHANGE",
	GetVersion:     "GET_VERSION",
	GetSerial:      "GET_SERIAL",
	FWImageGetInfo: "FW_IMAGE_GET_INFO",
	FWSignature:    "FW_SIGNATURE",
	RdHWConfig:     "RD_HW_CONFIG",
	RdVirtSFR:      "RD_VIRT_SFR",
	WrVirtSFR:      "WR_VIRT_SFR",
	RdVirtString:   "RD_VIRT_STRING",
	WrVirtString:   "WR_VIRT_STRING",
	RdVirtSFRBatch: "RD_VIRT_SFR_BATCH",
	WrVirtSFRBatch: "WR_VIRT_SFR_BATCH",
	RdFlash:        "RD_FLASH",
	SetTime:        "SET_TIME",
}

func (c Command) String() string {
	if name, ok := commandNames[c]; ok {
		return name
	}
	return fmt.Sprintf("CMD_0x%04X", uint16(c))
}

// VS identifies a named buffer. It is 16 bits wide but sent as a u32.
type VS uint32

const (
	VSConfiguration VS = 2
	VSFWDescriptor  VS = 3
	VSSerialNumber  VS = 8
	VSTextMessage   VS = 0xF
	VSMemSnapshot   VS = 0xE0
	VSDataBuf       VS = 0x100
	VSSFRFile       VS = 0x101
	VSSpectrum      VS = 0x200
	VSEnergyCalib   VS = 0x202
	VSSpecAccum     VS = 0x205
	VSSpecDiff      VS = 0x206
	VSSpecReset     VS = 0x207
)

var vsNames = map[VS]string{
	VSConfiguration: "CONFIGURATION",
	VSFWDescriptor:  "FW_DESCRIPTOR",
	VSSerialNumber:  "SERIAL_NUMBER",
	VSTextMessage:   "TEXT_MESSAGE",
	VSMemSnapshot:   "MEM_SNAPSHOT",
	VSDataBuf:       "DATA_BUF",
	VSSFRFile:       "SFR_FILE",
	VSSpectrum:      "SPECTRUM",
	VSEnergyCalib:   "ENERGY_CALIB",
	VSSpecAccum:     "SPEC_ACCUM",
	VSSpecDiff:      "SPEC_DIFF",
	VSSpecReset:     "SPEC_RESET",
}

func (v VS) String() string {
	if name, ok := vsNames[v]; ok {
		return name
	}
	return fmt.Sprintf("VS_0x%X", uint32(v))
}
