package state

import "github.com/danmuck/radlink/internal/protocol/telemetry"

// eventRing keeps the most recent events, overwriting the oldest when full.
type eventRing struct {
	data  []telemetry.Event
	head  int
	count int
}

func newEventRing(capacity int) *eventRing {
	return &eventRing{data: make([]telemetry.Event, capacity)}
}

func (r *eventRing) push(ev telemetry.Event) {
	tail := (r.head + r.count) % len(r.data)
	r.data[tail] = ev
	if r.count == len(r.data) {
		r.head = (r.head + 1) % len(r.data)
		return
	}
	r.count++
}

func (r *eventRing) len() int {
	return r.count
}

func (r *eventRing) last(n int) []telemetry.Event {
	if n <= 0 || n > r.count {
		n = r.count
	}
	out := make([]telemetry.Event, n)
	start := r.head + r.count - n
	for i := 0; i < n; i++ {
		out[i] = r.data[(start+i)%len(r.data)]
	}
	return out
}
