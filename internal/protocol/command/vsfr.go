package command

import "fmt"

// Shape describes how a register value sits in its 32-bit wire word.
// Narrow shapes occupy the low-order bytes; the rest is zero padding.
type Shape uint8

const (
	ShapeU32 Shape = iota
	ShapeI32
	ShapeF32
	ShapeByte
	ShapeBool
	ShapeU16
	ShapeI16
)

func (s Shape) String() string {
	switch s {
	case ShapeU32:
		return "u32"
	case ShapeI32:
		return "i32"
	case ShapeF32:
		return "f32"
	case ShapeByte:
		return "byte"
	case ShapeBool:
		return "bool"
	case ShapeU16:
		return "u16"
	case ShapeI16:
		return "i16"
	default:
		return "unknown"
	}
}

// VSFR is a virtual special function register id.
type VSFR uint32

const (
	DeviceCtrl VSFR = 0x0500
	DeviceLang VSFR = 0x0502
	DeviceOn   VSFR = 0x0503
	DeviceTime VSFR = 0x0504

	DispCtrl     VSFR = 0x0510
	DispBrt      VSFR = 0x0511
	DispContr    VSFR = 0x0512
	DispOffTime  VSFR = 0x0513
	DispOn       VSFR = 0x0514
	DispDir      VSFR = 0x0515
	DispBackltOn VSFR = 0x0516

	SoundCtrl   VSFR = 0x0520
	SoundVol    VSFR = 0x0521
	SoundOn     VSFR = 0x0522
	SoundButton VSFR = 0x0523

	VibroCtrl VSFR = 0x0530
	VibroOn   VSFR = 0x0531

	LedsCtrl VSFR = 0x0540
	Led0Brt  VSFR = 0x0541
	Led1Brt  VSFR = 0x0542
	Led2Brt  VSFR = 0x0543
	Led3Brt  VSFR = 0x0544
	LedsBrt  VSFR = 0x0545
	LedsOn   VSFR = 0x0546

	AlarmMode  VSFR = 0x05E0
	PlaySignal VSFR = 0x05E1

	MSCtrl    VSFR = 0x0600
	MSMode    VSFR = 0x0601
	MSSubMode VSFR = 0x0602
	MSRun     VSFR = 0x0603

	BLETxPwr VSFR = 0x0700

	DRLev1uRh    VSFR = 0x8000
	DRLev2uRh    VSFR = 0x8001
	DSLev1x100uR VSFR = 0x8002
	DSLev2x100uR VSFR = 0x8003
	DSUnits      VSFR = 0x8004
	CPSFilter    VSFR = 0x8005
	RawFilter    VSFR = 0x8006
	DoseReset    VSFR = 0x8007
	CRLev1cp10s  VSFR = 0x8008
	CRLev2cp10s  VSFR = 0x8009
	UseNSvh      VSFR = 0x800C

	ChnToKeVA0 VSFR = 0x8010
	ChnToKeVA1 VSFR = 0x8011
	ChnToKeVA2 VSFR = 0x8012
	CRUnits    VSFR = 0x8013
	DSLev1uR   VSFR = 0x8014
	DSLev2uR   VSFR = 0x8015

	CPS      VSFR = 0x8020
	DRuRh    VSFR = 0x8021
	DSuR     VSFR = 0x8022
	TempDegC VSFR = 0x8024
	AccX     VSFR = 0x8025
	AccY     VSFR = 0x8026
	AccZ     VSFR = 0x8027
	Opt      VSFR = 0x8028
	RawTemp  VSFR = 0x8033
	TempUp   VSFR = 0x8034
	TempDn   VSFR = 0x8035

	VBiasmV        VSFR = 0xC000
	CompLev        VSFR = 0xC001
	CalibMode      VSFR = 0xC002
	DpotRDAC       VSFR = 0xC004
	DpotRDACEEPROM VSFR = 0xC005
	DpotToler      VSFR = 0xC006

	SysMCUID0        VSFR = 0xFFFF0000
	SysMCUID1        VSFR = 0xFFFF0001
	SysMCUID2        VSFR = 0xFFFF0002
	SysDeviceID      VSFR = 0xFFFF0005
	SysSignature     VSFR = 0xFFFF0006
	SysRxSize        VSFR = 0xFFFF0007
	SysTxSize        VSFR = 0xFFFF0008
	SysBootVersion   VSFR = 0xFFFF0009
	SysTargetVersion VSFR = 0xFFFF000A
	SysStatus        VSFR = 0xFFFF000B
	SysMCUVref       VSFR = 0xFFFF000C
	SysMCUTemp       VSFR = 0xFFFF000D
)

type vsfrInfo struct {
	name  string
	shape Shape
}

var vsfrTable = map[VSFR]vsfrInfo{
	DeviceCtrl: {"DEVICE_CTRL", ShapeByte},
	DeviceLang: {"DEVICE_LANG", ShapeBool},
	DeviceOn:   {"DEVICE_ON", ShapeBool},
	DeviceTime: {"DEVICE_TIME", ShapeU32},

	DispCtrl:     {"DISP_CTRL", ShapeByte},
	DispBrt:      {"DISP_BRT", ShapeByte},
	DispContr:    {"DISP_CONTR", ShapeByte},
	DispOffTime:  {"DISP_OFF_TIME", ShapeU32},
	DispOn:       {"DISP_ON", ShapeBool},
	DispDir:      {"DISP_DIR", ShapeByte},
	DispBackltOn: {"DISP_BACKLT_ON", ShapeBool},

	SoundCtrl:   {"SOUND_CTRL", ShapeU16},
	SoundVol:    {"SOUND_VOL", ShapeByte},
	SoundOn:     {"SOUND_ON", ShapeBool},
	SoundButton: {"SOUND_BUTTON", ShapeByte},

	VibroCtrl: {"VIBRO_CTRL", ShapeByte},
	VibroOn:   {"VIBRO_ON", ShapeBool},

	LedsCtrl: {"LEDS_CTRL", ShapeByte},
	Led0Brt:  {"LED0_BRT", ShapeByte},
	Led1Brt:  {"LED1_BRT", ShapeByte},
	Led2Brt:  {"LED2_BRT", ShapeByte},
	Led3Brt:  {"LED3_BRT", ShapeByte},
	LedsBrt:  {"LEDS_BRT", ShapeByte},
	LedsOn:   {"LEDS_ON", ShapeBool},

	AlarmMode:  {"ALARM_MODE", ShapeByte},
	PlaySignal: {"PLAY_SIGNAL", ShapeByte},

	MSCtrl:    {"MS_CTRL", ShapeByte},
	MSMode:    {"MS_MODE", ShapeU32},
	MSSubMode: {"MS_SUB_MODE", ShapeU32},
	MSRun:     {"MS_RUN", ShapeBool},

	BLETxPwr: {"BLE_TX_PWR", ShapeByte},

	DRLev1uRh:    {"DR_LEV1_uR_h", ShapeU32},
	DRLev2uRh:    {"DR_LEV2_uR_h", ShapeU32},
	DSLev1x100uR: {"DS_LEV1_100uR", ShapeU32},
	DSLev2x100uR: {"DS_LEV2_100uR", ShapeU32},
	DSUnits:      {"DS_UNITS", ShapeBool},
	CPSFilter:    {"CPS_FILTER", ShapeByte},
	RawFilter:    {"RAW_FILTER", ShapeByte},
	DoseReset:    {"DOSE_RESET", ShapeBool},
	CRLev1cp10s:  {"CR_LEV1_cp10s", ShapeU32},
	CRLev2cp10s:  {"CR_LEV2_cp10s", ShapeU32},
	UseNSvh:      {"USE_nSv_h", ShapeBool},

	ChnToKeVA0: {"CHN_TO_keV_A0", ShapeF32},
	ChnToKeVA1: {"CHN_TO_keV_A1", ShapeF32},
	ChnToKeVA2: {"CHN_TO_keV_A2", ShapeF32},
	CRUnits:    {"CR_UNITS", ShapeBool},
	DSLev1uR:   {"DS_LEV1_uR", ShapeU32},
	DSLev2uR:   {"DS_LEV2_uR", ShapeU32},

	CPS:      {"CPS", ShapeU32},
	DRuRh:    {"DR_uR_h", ShapeU32},
	DSuR:     {"DS_uR", ShapeU32},
	TempDegC: {"TEMP_degC", ShapeF32},
	AccX:     {"ACC_X", ShapeI16},
	AccY:     {"ACC_Y", ShapeI16},
	AccZ:     {"ACC_Z", ShapeI16},
	Opt:      {"OPT", ShapeU16},
	RawTemp:  {"RAW_TEMP_degC", ShapeF32},
	TempUp:   {"TEMP_UP_degC", ShapeF32},
	TempDn:   {"TEMP_DN_degC", ShapeF32},

	VBiasmV:        {"VBIAS_mV", ShapeU16},
	CompLev:        {"COMP_LEV", ShapeI16},
	CalibMode:      {"CALIB_MODE", ShapeBool},
	DpotRDAC:       {"DPOT_RDAC", ShapeByte},
	DpotRDACEEPROM: {"DPOT_RDAC_EEPROM", ShapeByte},
	DpotToler:      {"DPOT_TOLER", ShapeByte},

	SysMCUID0:        {"SYS_MCU_ID0", ShapeU32},
	SysMCUID1:        {"SYS_MCU_ID1", ShapeU32},
	SysMCUID2:        {"SYS_MCU_ID2", ShapeU32},
	SysDeviceID:      {"SYS_DEVICE_ID", ShapeU32},
	SysSignature:     {"SYS_SIGNATURE", ShapeU32},
	SysRxSize:        {"SYS_RX_SIZE", ShapeU32},
	SysTxSize:        {"SYS_TX_SIZE", ShapeU32},
	SysBootVersion:   {"SYS_BOOT_VERSION", ShapeU32},
	SysTargetVersion: {"SYS_TARGET_VERSION", ShapeU32},
	SysStatus:        {"SYS_STATUS", ShapeU32},
	SysMCUVref:       {"SYS_MCU_VREF", ShapeU32},
	SysMCUTemp:       {"SYS_MCU_TEMP", ShapeU32},
}

// Shape returns the value shape of r. Unknown registers read as raw u32.
func (r VSFR) Shape() Shape {
	if info, ok := vsfrTable[r]; ok {
		return info.shape
	}
	return ShapeU32
}

// Known reports whether r is in the register table.
func (r VSFR) Known() bool {
	_, ok := vsfrTable[r]
	return ok
}

func (r VSFR) String() string {
	if info, ok := vsfrTable[r]; ok {
		return info.name
	}
	return fmt.Sprintf("VSFR_0x%X", uint32(r))
}

// LookupVSFR resolves a register by its device name.
func LookupVSFR(name string) (VSFR, bool) {
	for id, info := range vsfrTable {
		if info.name == name {
			return id, true
		}
	}
	return 0, false
}
