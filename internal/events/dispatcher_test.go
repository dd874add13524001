package events

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"

	"phonon/internal/calls"
)

func TestDispatcher_SingleHandlerReceivesAllTypes(t *testing.T) {
	d := NewDispatcher(nil)
	got := map[calls.EventType]int{}
	d.Subscribe(func(e calls.Event) { got[e.Type]++ })

	for _, et := range calls.EventTypes {
		d.Emit(calls.Event{Type: et, CallID: "c1", Timestamp: time.Now()})
	}
	if len(got) != 6 {
		t.Fatalf("expected 6 categories, got %d", len(got))
	}
	for _, et := range calls.EventTypes {
		if got[et] != 1 {
			t.Fatalf("expected one %q event, got %d", et, got[et])
		}
	}
}

func TestDispatcher_RegistrationOrderAndPanicIsolation(t *testing.T) {
	d := NewDispatcher(nil)
	var order []int
	d.Subscribe(func(calls.Event) { order = append(order, 1) })
	d.Subscribe(func(calls.Event) { panic("boom") })
	d.Subscribe(func(calls.Event) { order = append(order, 3) })
	d.Subscribe(nil)

	d.Emit(calls.Event{Type: calls.EventStarted, CallID: "c1"})
	if len(order) != 2 || order[0] != 1 || order[1] != 3 {
		t.Fatalf("unexpected order: %v", order)
	}
}

type fakePublisher struct {
	channels []string
	fail     bool
}

func (f *fakePublisher) Publish(ctx context.Context, channel string, message any) *redis.IntCmd {
	f.channels = append(f.channels, channel)
	cmd := redis.NewIntCmd(ctx)
	if f.fail {
		cmd.SetErr(errors.New("down"))
		return cmd
	}
	if _, ok := message.(calls.Event); !ok {
		cmd.SetErr(errors.New("unexpected payload"))
		return cmd
	}
	cmd.SetVal(1)
	return cmd
}

func TestRedisPublisher_PublishesToCallAndGlobalChannels(t *testing.T) {
	fp := &fakePublisher{}
	p := NewRedisPublisher(fp, "test", nil)
	p.Handler()(calls.Event{Type: calls.EventAnswered, CallID: "phn_1"})

	if len(fp.channels) != 2 || fp.channels[0] != "test:phn_1" || fp.channels[1] != "test:all" {
		t.Fatalf("unexpected channels: %v", fp.channels)
	}
}

func TestRedisPublisher_FailureDoesNotPanic(t *testing.T) {
	fp := &fakePublisher{fail: true}
	d := NewDispatcher(nil)
	d.Subscribe(NewRedisPublisher(fp, "", nil).Handler())
	d.Emit(calls.Event{Type: calls.EventEnded, CallID: "c"})
	if len(fp.channels) != 2 || fp.channels[0] != "phonon:calls:c" {
		t.Fatalf("unexpected channels: %v", fp.channels)
	}
}
