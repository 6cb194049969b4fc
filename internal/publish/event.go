package publish

import "github.com/danmuck/radlink/internal/protocol/telemetry"

type eventMessage struct {
	Device string          `json:"device"`
	Event  telemetry.Event `json:"event"`
}
