package events_test

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/example/latentwalk/api-go/internal/events"
	"github.com/example/latentwalk/api-go/internal/model"
)

func TestHubRoutesByJob(t *testing.T) {
	hub := events.NewHub()
	defer hub.Close()

	a, cancelA := hub.Subscribe("a", 4)
	defer cancelA()
	all, cancelAll := hub.Subscribe("", 4)
	defer cancelAll()

	ctx := context.Background()
	_ = hub.Publish(ctx, events.Event{Type: events.TypeProgress, JobID: "a", FramesDone: 1})
	_ = hub.Publish(ctx, events.Event{Type: events.TypeProgress, JobID: "b", FramesDone: 7})

	if ev := <-a; ev.JobID != "a" || ev.FramesDone != 1 {
		t.Fatalf("unexpected event on a: %+v", ev)
	}
	select {
	case ev := <-a:
		t.Fatalf("job b leaked into a: %+v", ev)
	default:
	}
	if got := []string{(<-all).JobID, (<-all).JobID}; got[0] != "a" || got[1] != "b" {
		t.Fatalf("wildcard subscriber got %v", got)
	}
}

func TestHubDropsForSlowSubscribers(t *testing.T) {
	hub := events.NewHub()
	ch, cancel := hub.Subscribe("a", 1)
	defer cancel()

	done := make(chan struct{})
	go func() {
		for i := 0; i < 100; i++ {
			_ = hub.Publish(context.Background(), events.Event{JobID: "a", FramesDone: i})
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publisher blocked on a full subscriber")
	}
	if ev := <-ch; ev.FramesDone != 0 {
		t.Fatalf("expected the first buffered event, got %+v", ev)
	}
}

func TestHubCancelAndClose(t *testing.T) {
	hub := events.NewHub()
	ch, cancel := hub.Subscribe("a", 1)
	if hub.Subscribers() != 1 {
		t.Fatalf("Subscribers() = %d", hub.Subscribers())
	}
	cancel()
	cancel()
	if _, ok := <-ch; ok {
		t.Fatal("channel should be closed after cancel")
	}
	if hub.Subscribers() != 0 {
		t.Fatalf("Subscribers() = %d after cancel", hub.Subscribers())
	}

	other, _ := hub.Subscribe("b", 1)
	hub.Close()
	if _, ok := <-other; ok {
		t.Fatal("channel should be closed after hub close")
	}
	late, _ := hub.Subscribe("c", 1)
	if _, ok := <-late; ok {
		t.Fatal("subscribing to a closed hub should yield a closed channel")
	}
	if err := hub.Publish(context.Background(), events.Event{JobID: "b"}); err != nil {
		t.Fatalf("Publish after close: %v", err)
	}
}

type failing struct{}

func (failing) Publish(context.Context, events.Event) error { return errors.New("down") }

func TestMultiJoinsErrors(t *testing.T) {
	hub := events.NewHub()
	defer hub.Close()
	ch, cancel := hub.Subscribe("x", 1)
	defer cancel()

	err := events.Multi{failing{}, hub, nil, events.Nop{}}.Publish(context.Background(), events.Event{JobID: "x"})
	if err == nil || err.Error() != "down" {
		t.Fatalf("expected joined error, got %v", err)
	}
	if ev := <-ch; ev.JobID != "x" {
		t.Fatal("healthy member should still receive the event")
	}
}

func TestFromSnapshot(t *testing.T) {
	now := time.Now()
	ev := events.FromSnapshot(events.TypeDone, model.Snapshot{
		ID: "j", Status: model.JobDone, FramesDone: 4, TotalFrames: 4, Progress: 1, UpdatedAt: now,
	}, "")
	if !ev.Terminal() || ev.Progress != 1 || !ev.Time.Equal(now) {
		t.Fatalf("unexpected event %+v", ev)
	}
	raw, _ := json.Marshal(ev)
	var decoded map[string]any
	_ = json.Unmarshal(raw, &decoded)
	if decoded["jobId"] != "j" || decoded["status"] != "done" {
		t.Fatalf("unexpected json %s", raw)
	}
}

func TestRedisPublish(t *testing.T) {
	addr := os.Getenv("LATENTWALK_TEST_REDIS")
	if addr == "" {
		t.Skip("LATENTWALK_TEST_REDIS not set")
	}
	ctx := context.Background()
	client, err := events.Connect(ctx, addr, "")
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	sub := client.Subscribe(ctx, "latentwalk:test")
	defer sub.Close()
	if _, err := sub.Receive(ctx); err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	pub := events.NewRedis(client, "latentwalk:test")
	defer pub.Close()
	if err := pub.Publish(ctx, events.Event{Type: events.TypeStarted, JobID: "r"}); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	msg, err := sub.ReceiveMessage(ctx)
	if err != nil {
		t.Fatalf("ReceiveMessage: %v", err)
	}
	var ev events.Event
	if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil || ev.JobID != "r" {
		t.Fatalf("payload %q (%v)", msg.Payload, err)
	}
}
