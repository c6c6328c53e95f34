// Package fanout implements the per-entity WebSocket broadcast engine: a
// bounded-depth, per-socket-ordered fan-out from a single writer goroutine
// to every subscriber of one task or workflow.
package fanout

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"spectralnotify/internal/async"
	"spectralnotify/internal/platform/logging"
)

// sendTimeout bounds how long a single write to a subscriber's socket may
// take before the subscriber is evicted; unlike the other tunables it isn't
// exposed as config since it guards the writer goroutine itself rather than
// a policy a deployment would want to change.
const sendTimeout = 5 * time.Second

// Config tunes a Hub's backpressure and heartbeat behavior.
type Config struct {
	// MaxBuffered bounds the per-socket outbound queue. A socket that falls
	// this far behind is evicted rather than allowed to backpressure the
	// writer goroutine shared by every subscriber of the entity.
	MaxBuffered int

	PingInterval time.Duration
	IdleTimeout  time.Duration
}

// DefaultConfig returns the tuning fanout used before it was made
// configurable: a 64-message buffer, 30s ping interval, 90s idle timeout.
func DefaultConfig() Config {
	return Config{MaxBuffered: 64, PingInterval: 30 * time.Second, IdleTimeout: 90 * time.Second}
}

// safeConn wraps a gorilla/websocket connection with a mutex: the library
// does not support concurrent writers, and both the hub's fan-out goroutine
// and the ping ticker write to the same connection.
type safeConn struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (sc *safeConn) writeMessage(messageType int, data []byte, deadline time.Time) error {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	sc.conn.SetWriteDeadline(deadline)
	return sc.conn.WriteMessage(messageType, data)
}

func (sc *safeConn) writeControl(messageType int, data []byte, deadline time.Time) error {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	return sc.conn.WriteControl(messageType, data, deadline)
}

func (sc *safeConn) close() error {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	return sc.conn.Close()
}

// subscriber is one connected WebSocket client of an entity's Hub.
type subscriber struct {
	id   uint64
	sc   *safeConn
	outq chan []byte
	done chan struct{}
}

// Hub fans events out to every subscriber of a single entity instance. The
// subscriber set is a mutex-guarded map; Broadcast copies it under the mutex
// and then enqueues on each subscriber with the mutex released, so a slow
// socket never holds up Subscribe/Unsubscribe.
type Hub struct {
	mu      sync.Mutex
	subs    map[uint64]*subscriber
	nextID  uint64
	logger  logging.Logger
	entity  string // "task:<id>" or "workflow:<id>", for logging only
	cfg     Config

	onEvict func() // optional metrics hook, fired once per evicted subscriber
}

// NewHub creates a Hub for one entity instance. onEvict, if non-nil, is
// called once per subscriber evicted for backpressure, send timeout, or
// ping failure; the broker front-end wires it to the eviction counter. A
// zero Config falls back to DefaultConfig.
func NewHub(entity string, cfg Config, logger logging.Logger, onEvict func()) *Hub {
	if cfg.MaxBuffered <= 0 {
		cfg = DefaultConfig()
	}
	return &Hub{
		subs:    make(map[uint64]*subscriber),
		logger:  logging.OrNop(logger),
		entity:  entity,
		cfg:     cfg,
		onEvict: onEvict,
	}
}

// Subscribe registers conn and starts its write pump and ping/read-deadline
// loop. It blocks until the connection closes (by client disconnect, idle
// timeout, or the hub closing it), so callers run it in its own goroutine
// per connection.
func (h *Hub) Subscribe(conn *websocket.Conn) {
	sc := &safeConn{conn: conn}

	h.mu.Lock()
	id := h.nextID
	h.nextID++
	sub := &subscriber{id: id, sc: sc, outq: make(chan []byte, h.cfg.MaxBuffered), done: make(chan struct{})}
	h.subs[id] = sub
	h.mu.Unlock()

	defer h.unsubscribe(id)

	async.Go(h.logger, "fanout.writePump", func() { h.writePump(sub) })
	h.readPump(sub)
}

func (h *Hub) unsubscribe(id uint64) {
	h.mu.Lock()
	sub, ok := h.subs[id]
	if ok {
		delete(h.subs, id)
	}
	h.mu.Unlock()
	if ok {
		close(sub.done)
		sub.sc.close()
	}
}

// clientFrame is the subset of the client->server subscribe protocol this
// hub understands: a bare `{"type":"ping"}` heartbeat. Anything else is
// read and discarded to keep the read deadline alive.
type clientFrame struct {
	Type string `json:"type"`
}

// readPump keeps the read deadline alive via pong handling, answers client
// pings with a pong frame, and discards any other client-sent frame.
func (h *Hub) readPump(sub *subscriber) {
	sub.sc.conn.SetReadDeadline(time.Now().Add(h.cfg.IdleTimeout))
	sub.sc.conn.SetPongHandler(func(string) error {
		sub.sc.conn.SetReadDeadline(time.Now().Add(h.cfg.IdleTimeout))
		return nil
	})
	for {
		msgType, data, err := sub.sc.conn.ReadMessage()
		if err != nil {
			return
		}
		if msgType != websocket.TextMessage {
			continue
		}
		var frame clientFrame
		if json.Unmarshal(data, &frame) == nil && frame.Type == "ping" {
			pong, _ := json.Marshal(pongFrame{Type: "pong", Timestamp: time.Now().UTC()})
			select {
			case sub.outq <- pong:
			default:
			}
		}
	}
}

// pongFrame is the server's reply to a client ping.
type pongFrame struct {
	Type      string    `json:"type"`
	Timestamp time.Time `json:"timestamp"`
}

// writePump drains the subscriber's outbound queue and sends periodic pings,
// closing the connection with 1011 if a send can't complete within
// sendTimeout.
func (h *Hub) writePump(sub *subscriber) {
	ticker := time.NewTicker(h.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-sub.done:
			return
		case msg, ok := <-sub.outq:
			if !ok {
				return
			}
			if err := sub.sc.writeMessage(websocket.TextMessage, msg, time.Now().Add(sendTimeout)); err != nil {
				h.logger.Debug("fanout: send failed for %s: %v", h.entity, err)
				h.evict(sub, websocket.CloseInternalServerErr, "send timeout")
				return
			}
		case <-ticker.C:
			if err := sub.sc.writeControl(websocket.PingMessage, nil, time.Now().Add(sendTimeout)); err != nil {
				h.evict(sub, websocket.CloseInternalServerErr, "ping failed")
				return
			}
		}
	}
}

// evict removes sub from the subscriber set and closes its connection. It is
// a no-op if sub was already removed (by a prior evict or a normal
// disconnect), so concurrent eviction attempts for the same subscriber never
// double-fire onEvict or double-close the connection.
func (h *Hub) evict(sub *subscriber, closeCode int, reason string) {
	h.mu.Lock()
	_, ok := h.subs[sub.id]
	if ok {
		delete(h.subs, sub.id)
	}
	h.mu.Unlock()
	if !ok {
		return
	}

	if closeCode == websocket.CloseInternalServerErr && h.onEvict != nil {
		h.onEvict()
	}
	sub.sc.writeControl(websocket.CloseMessage, websocket.FormatCloseMessage(closeCode, reason), time.Now().Add(time.Second))
	close(sub.done)
	sub.sc.close()
}

// Broadcast encodes payload as JSON and enqueues it on every current
// subscriber, in the order Broadcast is called (per-socket ordering is
// preserved by each subscriber's own outq channel). A subscriber whose queue
// is full is evicted with close code 1011 rather than blocking the caller.
func (h *Hub) Broadcast(payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	h.mu.Lock()
	targets := make([]*subscriber, 0, len(h.subs))
	for _, sub := range h.subs {
		targets = append(targets, sub)
	}
	h.mu.Unlock()

	for _, sub := range targets {
		select {
		case sub.outq <- data:
		default:
			h.logger.Debug("fanout: evicting slow subscriber of %s", h.entity)
			async.Go(h.logger, "fanout.evict", func() { h.evict(sub, websocket.CloseInternalServerErr, "backpressure: buffer full") })
		}
	}
	return nil
}

// Close disconnects every subscriber with the given close code, used when
// the entity is deleted and on graceful server shutdown.
func (h *Hub) Close(closeCode int, reason string) {
	h.mu.Lock()
	targets := make([]*subscriber, 0, len(h.subs))
	for _, sub := range h.subs {
		targets = append(targets, sub)
	}
	h.mu.Unlock()

	for _, sub := range targets {
		h.evict(sub, closeCode, reason)
	}
}

// SubscriberCount reports the current number of live subscribers.
func (h *Hub) SubscriberCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}
