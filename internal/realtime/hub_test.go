package realtime

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/afterhours-fm/afterhours/internal/pubsub"
)

func testLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func TestHubRoomForIsLazyAndMemoized(t *testing.T) {
	bus := pubsub.NewGoChannel(testLogger())
	defer bus.Close()
	h := NewHub(bus, testLogger())

	r1 := h.roomFor("topic-a")
	r2 := h.roomFor("topic-a")
	if r1 != r2 {
		t.Fatal("roomFor should return the same Room for the same topic")
	}
	r3 := h.roomFor("topic-b")
	if r3 == r1 {
		t.Fatal("roomFor should create a distinct Room per topic")
	}
}

func TestRoomBroadcastFansOutToAllSubscribers(t *testing.T) {
	bus := pubsub.NewGoChannel(testLogger())
	defer bus.Close()
	h := NewHub(bus, testLogger())
	room := h.roomFor("topic-a")

	sub1 := room.subscribe()
	sub2 := room.subscribe()

	env := pubsub.Envelope{Event: "ping", Timestamp: time.Now()}
	room.broadcast(env)

	select {
	case got := <-sub1.ch:
		if got.Event != "ping" {
			t.Fatalf("sub1 got event %q, want ping", got.Event)
		}
	case <-time.After(time.Second):
		t.Fatal("sub1 never received the broadcast")
	}
	select {
	case got := <-sub2.ch:
		if got.Event != "ping" {
			t.Fatalf("sub2 got event %q, want ping", got.Event)
		}
	case <-time.After(time.Second):
		t.Fatal("sub2 never received the broadcast")
	}
}

func TestRoomUnsubscribeStopsDelivery(t *testing.T) {
	bus := pubsub.NewGoChannel(testLogger())
	defer bus.Close()
	h := NewHub(bus, testLogger())
	room := h.roomFor("topic-a")

	sub := room.subscribe()
	room.unsubscribe(sub.id)

	room.broadcast(pubsub.Envelope{Event: "ping"})

	select {
	case _, ok := <-sub.ch:
		if ok {
			t.Fatal("unsubscribed client should not receive further broadcasts")
		}
	case <-time.After(50 * time.Millisecond):
		// no delivery, as expected; channel remains open but unused.
	}

	room.mu.Lock()
	_, stillThere := room.clients[sub.id]
	room.mu.Unlock()
	if stillThere {
		t.Fatal("unsubscribe should remove the client from the room")
	}
}

func TestRoomBroadcastDropsRatherThanBlocksOnSlowClient(t *testing.T) {
	bus := pubsub.NewGoChannel(testLogger())
	defer bus.Close()
	h := NewHub(bus, testLogger())
	room := h.roomFor("topic-a")

	sub := room.subscribe()
	// fill the buffered channel (capacity 64) without draining it.
	for i := 0; i < 100; i++ {
		room.broadcast(pubsub.Envelope{Event: "ping"})
	}

	if len(sub.ch) != cap(sub.ch) {
		t.Fatalf("buffered channel len = %d, want it full at capacity %d", len(sub.ch), cap(sub.ch))
	}
}

func TestHubPumpRelaysBusMessagesIntoRoom(t *testing.T) {
	bus := pubsub.NewGoChannel(testLogger())
	defer bus.Close()
	h := NewHub(bus, testLogger())
	room := h.roomFor("topic-a")
	sub := room.subscribe()

	if err := bus.Publish(context.Background(), "topic-a", "viewer-update", map[string]int{"count": 3}); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	select {
	case env := <-sub.ch:
		if env.Event != "viewer-update" {
			t.Fatalf("event = %q, want viewer-update", env.Event)
		}
	case <-time.After(time.Second):
		t.Fatal("room never relayed the published bus message")
	}
}
