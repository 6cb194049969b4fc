// Package state keeps the latest known device state assembled from decoded
// telemetry and the last successful configuration reads.
//
// Merge is the only writer. Readers take immutable snapshots and may do so
// from any goroutine.
package state

import (
	"sync"
	"time"

	"github.com/danmuck/radlink/internal/device"
	"github.com/danmuck/radlink/internal/protocol/spectrum"
	"github.com/danmuck/radlink/internal/protocol/telemetry"
	"github.com/rs/zerolog/log"
)

const DefaultEventLogSize = 256

// Snapshot is a point-in-time copy of the cache.
type Snapshot struct {
	Device    string    `json:"device"`
	UpdatedAt time.Time `json:"updated_at"`

	RealTime     *telemetry.RealTime     `json:"realtime,omitempty"`
	Raw          *telemetry.Raw          `json:"raw,omitempty"`
	DoseRateDB   *telemetry.DoseRateDB   `json:"dose_rate_db,omitempty"`
	User         *telemetry.User         `json:"user,omitempty"`
	Scheduled    *telemetry.Scheduled    `json:"scheduled,omitempty"`
	Accel        *telemetry.Accel        `json:"accel,omitempty"`
	RawCountRate *telemetry.RawCountRate `json:"raw_count_rate,omitempty"`
	RawDoseRate  *telemetry.RawDoseRate  `json:"raw_dose_rate,omitempty"`

	// Rare survives polls without a rare record. RareAt is the record's own
	// timestamp, or the merge time when the record carried none.
	Rare   *telemetry.Rare `json:"rare,omitempty"`
	RareAt time.Time       `json:"rare_at,omitempty"`

	Dropped      map[string]uint64 `json:"dropped"`
	DroppedTotal uint64            `json:"dropped_total"`
	Records      uint64            `json:"records"`
	EventCount   int               `json:"event_count"`

	AlarmLimits *device.AlarmLimits   `json:"alarm_limits,omitempty"`
	Calibration *spectrum.Calibration `json:"calibration,omitempty"`
	// ConfigStale is set on reconnect until limits and calibration are re-read.
	ConfigStale bool `json:"config_stale"`
}

// RareFresh reports whether the cached rare record was stamped within maxAge
// of the last merge.
func (s Snapshot) RareFresh(maxAge time.Duration) bool {
	return s.Rare != nil && s.UpdatedAt.Sub(s.RareAt) <= maxAge
}

// Update is what subscribers receive after each merge.
type Update struct {
	Snapshot Snapshot
	Events   []telemetry.Event
}

type Cache struct {
	mu     sync.RWMutex
	device string
	snap   Snapshot
	seqs   map[telemetry.Kind]*SeqTracker
	events *eventRing

	subMu   sync.Mutex
	subs    map[int]func(Update)
	nextSub int
}

func New(deviceID string, eventLogSize int) *Cache {
	if eventLogSize <= 0 {
		eventLogSize = DefaultEventLogSize
	}
	return &Cache{
		device: deviceID,
		snap:   Snapshot{Device: deviceID, Dropped: map[string]uint64{}},
		seqs:   make(map[telemetry.Kind]*SeqTracker),
		events: newEventRing(eventLogSize),
		subs:   make(map[int]func(Update)),
	}
}

// MergeResult summarizes one merge for metrics.
type MergeResult struct {
	Records map[telemetry.Kind]int
	Dropped map[telemetry.Kind]int
}

// Merge folds records into the cache in order.
func (c *Cache) Merge(records []telemetry.Record, now time.Time) MergeResult {
	res := MergeResult{Records: map[telemetry.Kind]int{}, Dropped: map[telemetry.Kind]int{}}
	var events []telemetry.Event

	c.mu.Lock()
	for _, rec := range records {
		kind := rec.Kind()
		res.Records[kind]++
		c.snap.Records++
		if gap := c.tracker(kind).Observe(rec.Head().Seq); gap > 0 {
			res.Dropped[kind] += gap
			c.snap.Dropped[kind.String()] += uint64(gap)
			c.snap.DroppedTotal += uint64(gap)
			log.Warn().
				Str("device", c.device).
				Str("kind", kind.String()).
				Uint8("seq", rec.Head().Seq).
				Int("missed", gap).
				Msg("telemetry records dropped")
		}
		switch r := rec.(type) {
		case telemetry.RealTime:
			c.snap.RealTime = &r
		case telemetry.Raw:
			c.snap.Raw = &r
		case telemetry.DoseRateDB:
			c.snap.DoseRateDB = &r
		case telemetry.User:
			c.snap.User = &r
		case telemetry.Scheduled:
			c.snap.Scheduled = &r
		case telemetry.Accel:
			c.snap.Accel = &r
		case telemetry.RawCountRate:
			c.snap.RawCountRate = &r
		case telemetry.RawDoseRate:
			c.snap.RawDoseRate = &r
		case telemetry.Rare:
			c.snap.Rare = &r
			c.snap.RareAt = r.Time
			if c.snap.RareAt.IsZero() {
				c.snap.RareAt = now
			}
		case telemetry.Event:
			c.events.push(r)
			events = append(events, r)
		case telemetry.SampleBlock:
		}
	}
	if len(records) > 0 {
		c.snap.UpdatedAt = now
	}
	c.snap.EventCount = c.events.len()
	snap := c.snapshotLocked()
	c.mu.Unlock()

	if len(records) > 0 {
		c.notify(Update{Snapshot: snap, Events: events})
	}
	return res
}

func (c *Cache) tracker(kind telemetry.Kind) *SeqTracker {
	t, ok := c.seqs[kind]
	if !ok {
		t = &SeqTracker{}
		c.seqs[kind] = t
	}
	return t
}

// SetAlarmLimits mirrors the last successful alarm-limit read or write.
func (c *Cache) SetAlarmLimits(l device.AlarmLimits) {
	c.mu.Lock()
	c.snap.AlarmLimits = &l
	c.snap.ConfigStale = c.snap.Calibration == nil
	c.mu.Unlock()
}

// SetCalibration mirrors the last successful calibration read or write.
func (c *Cache) SetCalibration(cal spectrum.Calibration) {
	c.mu.Lock()
	c.snap.Calibration = &cal
	c.snap.ConfigStale = c.snap.AlarmLimits == nil
	c.mu.Unlock()
}

// MarkStale flags mirrored configuration as untrusted and restarts sequence
// tracking. Called when the session reconnects.
func (c *Cache) MarkStale() {
	c.mu.Lock()
	c.snap.ConfigStale = true
	for _, t := range c.seqs {
		t.Reset()
	}
	c.mu.Unlock()
}

func (c *Cache) Snapshot() Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.snapshotLocked()
}

// snapshotLocked copies everything a reader could alias.
func (c *Cache) snapshotLocked() Snapshot {
	s := c.snap
	s.Dropped = make(map[string]uint64, len(c.snap.Dropped))
	for k, v := range c.snap.Dropped {
		s.Dropped[k] = v
	}
	s.RealTime = clone(c.snap.RealTime)
	s.Raw = clone(c.snap.Raw)
	s.DoseRateDB = clone(c.snap.DoseRateDB)
	s.User = clone(c.snap.User)
	s.Scheduled = clone(c.snap.Scheduled)
	s.Accel = clone(c.snap.Accel)
	s.RawCountRate = clone(c.snap.RawCountRate)
	s.RawDoseRate = clone(c.snap.RawDoseRate)
	s.Rare = clone(c.snap.Rare)
	s.AlarmLimits = clone(c.snap.AlarmLimits)
	s.Calibration = clone(c.snap.Calibration)
	return s
}

func clone[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

// Events returns up to n most recent events, oldest first. n <= 0 returns all.
func (c *Cache) Events(n int) []telemetry.Event {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.events.last(n)
}

// Subscribe registers fn to run after every non-empty merge. fn runs on the
// merging goroutine and must not block. The returned func unsubscribes.
func (c *Cache) Subscribe(fn func(Update)) func() {
	c.subMu.Lock()
	id := c.nextSub
	c.nextSub++
	c.subs[id] = fn
	c.subMu.Unlock()
	return func() {
		c.subMu.Lock()
		delete(c.subs, id)
		c.subMu.Unlock()
	}
}

func (c *Cache) notify(u Update) {
	c.subMu.Lock()
	fns := make([]func(Update), 0, len(c.subs))
	for _, fn := range c.subs {
		fns = append(fns, fn)
	}
	c.subMu.Unlock()
	for _, fn := range fns {
		fn(u)
	}
}
