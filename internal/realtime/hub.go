// Package realtime relays internal/pubsub topic messages to browser-
// connected websocket clients as JSON frames. Grounded on the station's
// internal/radio/stream.go Broadcaster (map of per-client buffered
// channels, nextID counter, slow-client drop-on-full policy), adapted from
// fanning raw MP3 byte chunks to fanning typed event envelopes.
package realtime

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/afterhours-fm/afterhours/internal/pubsub"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

type clientSub struct {
	id uint64
	ch chan pubsub.Envelope
}

// Room fans out every message on one topic to all websocket clients
// subscribed to it. A Hub creates one Room per topic on demand (roomFor).
type Room struct {
	mu      sync.Mutex
	clients map[uint64]clientSub
	nextID  atomic.Uint64
	bus     pubsub.Bus
	topic   string
	log     *slog.Logger
	cancel  context.CancelFunc
}

// Hub manages one Room per topic, created lazily on first subscriber.
type Hub struct {
	mu    sync.Mutex
	rooms map[string]*Room
	bus   pubsub.Bus
	log   *slog.Logger
}

func NewHub(bus pubsub.Bus, log *slog.Logger) *Hub {
	return &Hub{rooms: map[string]*Room{}, bus: bus, log: log}
}

func (h *Hub) roomFor(topic string) *Room {
	h.mu.Lock()
	defer h.mu.Unlock()
	if r, ok := h.rooms[topic]; ok {
		return r
	}
	ctx, cancel := context.WithCancel(context.Background())
	r := &Room{clients: map[uint64]clientSub{}, bus: h.bus, topic: topic, log: h.log, cancel: cancel}
	go r.pump(ctx)
	h.rooms[topic] = r
	return r
}

func (r *Room) pump(ctx context.Context) {
	envs, err := r.bus.Subscribe(ctx, r.topic)
	if err != nil {
		r.log.Warn("realtime: subscribe failed", "topic", r.topic, "err", err)
		return
	}
	for env := range envs {
		r.broadcast(env)
	}
}

func (r *Room) broadcast(env pubsub.Envelope) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range r.clients {
		select {
		case c.ch <- env:
		default:
			// slow client: drop rather than block the fan-out loop.
		}
	}
}

func (r *Room) subscribe() clientSub {
	sub := clientSub{id: r.nextID.Add(1), ch: make(chan pubsub.Envelope, 64)}
	r.mu.Lock()
	r.clients[sub.id] = sub
	r.mu.Unlock()
	return sub
}

func (r *Room) unsubscribe(id uint64) {
	r.mu.Lock()
	delete(r.clients, id)
	r.mu.Unlock()
}

// ServeWS upgrades the request to a websocket and streams every envelope
// published on topic until the client disconnects.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request, topic string) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("realtime: upgrade failed", "err", err)
		return
	}
	defer conn.Close()

	room := h.roomFor(topic)
	sub := room.subscribe()
	defer room.unsubscribe(sub.id)

	conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(10*time.Second)); err != nil {
				return
			}
		case env, ok := <-sub.ch:
			if !ok {
				return
			}
			if err := conn.WriteJSON(env); err != nil {
				return
			}
		}
	}
}
