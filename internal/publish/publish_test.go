package publish

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/danmuck/radlink/internal/protocol/command"
	"github.com/danmuck/radlink/internal/protocol/telemetry"
	"github.com/danmuck/radlink/internal/state"
	"github.com/danmuck/radlink/internal/testutil/testlog"
	"github.com/redis/go-redis/v9"
)

func newPublisher(t *testing.T, history int) (*Publisher, *miniredis.Miniredis, *redis.Client) {
	t.Helper()
	srv := miniredis.RunT(t)
	pub, err := New(context.Background(), Options{Addr: srv.Addr(), Channel: "radlink.state", History: history})
	if err != nil {
		t.Fatalf("new publisher: %v", err)
	}
	t.Cleanup(func() { _ = pub.Close() })
	client := redis.NewClient(&redis.Options{Addr: srv.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return pub, srv, client
}

func subscribe(t *testing.T, client *redis.Client, channels ...string) <-chan *redis.Message {
	t.Helper()
	sub := client.Subscribe(context.Background(), channels...)
	t.Cleanup(func() { _ = sub.Close() })
	for range channels {
		if _, err := sub.Receive(context.Background()); err != nil {
			t.Fatalf("subscribe: %v", err)
		}
	}
	return sub.Channel()
}

func next(t *testing.T, ch <-chan *redis.Message) *redis.Message {
	t.Helper()
	select {
	case msg := <-ch:
		return msg
	case <-time.After(2 * time.Second):
		t.Fatalf("no message")
		return nil
	}
}

func alarm(seq uint8) telemetry.Event {
	return telemetry.Event{Header: telemetry.Header{Seq: seq}, Event: command.EventDoseRateAlarm1, Param: seq}
}

func TestNewRequiresChannel(t *testing.T) {
	testlog.Start(t)
	srv := miniredis.RunT(t)
	_, err := New(context.Background(), Options{Addr: srv.Addr()})
	if !errors.Is(err, ErrChannelRequired) {
		t.Fatalf("expected ErrChannelRequired, got %v", err)
	}
}

func TestNewFailsWithoutRedis(t *testing.T) {
	testlog.Start(t)
	srv := miniredis.RunT(t)
	addr := srv.Addr()
	srv.Close()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if _, err := New(ctx, Options{Addr: addr, Channel: "x"}); err == nil {
		t.Fatalf("expected ping error")
	}
}

func TestPublishSnapshotAndEvents(t *testing.T) {
	testlog.Start(t)
	pub, srv, client := newPublisher(t, 0)
	msgs := subscribe(t, client, "radlink.state", "radlink.state.events")

	u := state.Update{
		Snapshot: state.Snapshot{Device: "sim:RC-1", Records: 3},
		Events:   []telemetry.Event{alarm(7)},
	}
	if err := pub.Publish(context.Background(), u); err != nil {
		t.Fatalf("publish: %v", err)
	}

	got := map[string]string{}
	for i := 0; i < 2; i++ {
		msg := next(t, msgs)
		got[msg.Channel] = msg.Payload
	}

	var snap state.Snapshot
	if err := json.Unmarshal([]byte(got["radlink.state"]), &snap); err != nil {
		t.Fatalf("decode snapshot: %v", err)
	}
	if snap.Device != "sim:RC-1" || snap.Records != 3 {
		t.Fatalf("snapshot=%+v", snap)
	}

	var ev struct {
		Device string `json:"device"`
		Event  struct {
			Event string `json:"event"`
			Param int    `json:"param"`
		} `json:"event"`
	}
	if err := json.Unmarshal([]byte(got["radlink.state.events"]), &ev); err != nil {
		t.Fatalf("decode event: %v", err)
	}
	if ev.Device != "sim:RC-1" || ev.Event.Param != 7 || ev.Event.Event != command.EventDoseRateAlarm1.String() {
		t.Fatalf("event=%+v", ev)
	}

	list, err := srv.List(pub.EventsKey("sim:RC-1"))
	if err != nil || len(list) != 1 {
		t.Fatalf("events list=%v err=%v", list, err)
	}
}

func TestEventHistoryTrimmed(t *testing.T) {
	testlog.Start(t)
	pub, srv, _ := newPublisher(t, 2)
	var events []telemetry.Event
	for i := 0; i < 5; i++ {
		events = append(events, alarm(uint8(i)))
	}
	u := state.Update{Snapshot: state.Snapshot{Device: "dev"}, Events: events}
	if err := pub.Publish(context.Background(), u); err != nil {
		t.Fatalf("publish: %v", err)
	}
	list, err := srv.List(pub.EventsKey("dev"))
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 2 {
		t.Fatalf("history len=%d want=2", len(list))
	}
}

func TestAttachForwardsCacheUpdates(t *testing.T) {
	testlog.Start(t)
	pub, _, client := newPublisher(t, 0)
	msgs := subscribe(t, client, "radlink.state")

	cache := state.New("dev", 0)
	stop := pub.Attach(context.Background(), cache)
	defer stop()

	cache.Merge([]telemetry.Record{
		telemetry.RealTime{Header: telemetry.Header{Seq: 1}, CountRate: 4.5},
	}, time.Now())

	var snap state.Snapshot
	if err := json.Unmarshal([]byte(next(t, msgs).Payload), &snap); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if snap.RealTime == nil || snap.RealTime.CountRate != 4.5 {
		t.Fatalf("realtime=%+v", snap.RealTime)
	}
}
