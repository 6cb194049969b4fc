// Package device exposes the spectrometer's typed operations: the connect
// handshake, identity and firmware queries, calibration, alarm limits,
// spectrum access and user-facing settings.
//
// Ownership boundary:
// - wire layouts of command replies (GET_VERSION, GET_SERIAL, SET_TIME)
// - unit scaling between register values and user units
// - validation of setting ranges before anything is sent
//
// Transport, sequencing and retry live in internal/protocol/dispatch.
package device
