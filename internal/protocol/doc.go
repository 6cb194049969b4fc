// Package protocol owns the shared error contract of the device protocol engine.
//
// Ownership boundary:
// - failure kinds surfaced to the session controller and external layers
// - sentinel errors shared by frame/dispatch/register/telemetry
//
// Sub-packages:
// - frame: wire header, encode/chunk, inbound reassembly
// - command: command, VS and VSFR identifiers and register shapes
// - dispatch: one-in-flight request/response correlation
// - register: typed VSFR/VS access
// - telemetry: DATA_BUF record decoding
// - spectrum: spectrum payloads and energy calibration
// - session: backoff, lifecycle state machine, controller
package protocol
