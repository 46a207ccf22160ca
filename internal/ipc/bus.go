package ipc

import (
	"log/slog"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
)

// subscriberBuffer bounds the per-peer send queue. A peer that falls further
// behind loses signals, not the connection's liveness.
const subscriberBuffer = 8

// Bus carries named, payload-less signals between the daemon and the
// controlling application over a WebSocket channel. Delivery is best-effort
// by design: sends never block, slow peers drop signals, and a missed signal
// is tolerable because both sides independently re-read the shared records on
// their own schedule.
type Bus struct {
	log      *slog.Logger
	upgrader websocket.Upgrader

	mu          sync.RWMutex
	subscribers map[*subscriber]struct{}
	handlers    []func(Signal)
	onDrop      func()
}

type subscriber struct {
	conn *websocket.Conn
	send chan Signal
}

// NewBus returns an empty Bus.
func NewBus(log *slog.Logger) *Bus {
	return &Bus{
		log:         log,
		subscribers: make(map[*subscriber]struct{}),
	}
}

// Notify registers a local handler invoked for every signal received from a
// connected peer. Handlers run on the connection's read goroutine and must be
// quick.
func (b *Bus) Notify(fn func(Signal)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers = append(b.handlers, fn)
}

// OnDrop registers a hook invoked whenever a signal is dropped for a slow
// subscriber.
func (b *Bus) OnDrop(fn func()) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.onDrop = fn
}

// Publish sends sig to every connected peer. Never blocks; with no peers the
// signal simply evaporates.
func (b *Bus) Publish(sig Signal) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for sub := range b.subscribers {
		select {
		case sub.send <- sig:
		default:
			if b.onDrop != nil {
				b.onDrop()
			}
			b.log.Debug("signal dropped for slow subscriber", "signal", string(sig))
		}
	}
}

// SubscriberCount returns the number of connected peers.
func (b *Bus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}

// Handler upgrades GET requests to the signal channel. Incoming text frames
// are parsed as signal names and dispatched to local handlers; outgoing
// signals from Publish are written until the peer goes away.
func (b *Bus) Handler(w http.ResponseWriter, r *http.Request) {
	conn, err := b.upgrader.Upgrade(w, r, nil)
	if err != nil {
		b.log.Warn("signal channel upgrade failed", "error", err)
		return
	}

	sub := &subscriber{conn: conn, send: make(chan Signal, subscriberBuffer)}
	b.mu.Lock()
	b.subscribers[sub] = struct{}{}
	b.mu.Unlock()
	b.log.Info("signal peer connected", "remote", conn.RemoteAddr().String())

	go b.writeLoop(sub)
	b.readLoop(sub)
}

func (b *Bus) writeLoop(sub *subscriber) {
	for sig := range sub.send {
		if err := sub.conn.WriteMessage(websocket.TextMessage, []byte(sig)); err != nil {
			return
		}
	}
}

func (b *Bus) readLoop(sub *subscriber) {
	defer b.unsubscribe(sub)
	for {
		_, msg, err := sub.conn.ReadMessage()
		if err != nil {
			return
		}
		sig := Signal(msg)
		if !sig.Valid() {
			b.log.Warn("unknown signal ignored", "signal", string(msg))
			continue
		}
		b.dispatch(sig)
	}
}

func (b *Bus) dispatch(sig Signal) {
	b.mu.RLock()
	handlers := b.handlers
	b.mu.RUnlock()
	for _, fn := range handlers {
		fn(sig)
	}
}

func (b *Bus) unsubscribe(sub *subscriber) {
	b.mu.Lock()
	if _, ok := b.subscribers[sub]; ok {
		delete(b.subscribers, sub)
		close(sub.send)
	}
	b.mu.Unlock()
	sub.conn.Close()
	b.log.Info("signal peer disconnected", "remote", sub.conn.RemoteAddr().String())
}
