// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package server

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/bodaay/GitHubFolderDownloader/internal/logging"
)

const (
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = wsPongWait / 2
	wsMaxInbound = 4 << 10
	wsQueueLen   = 256
)

// WSMessage is one frame pushed to dashboard clients. Type is "init",
// "job_update" or "event".
type WSMessage struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

// subscriber is one dashboard connection with its outbound queue.
type subscriber struct {
	conn *websocket.Conn
	out  chan []byte
	once sync.Once
}

func (c *subscriber) closeQueue() {
	c.once.Do(func() { close(c.out) })
}

// WSHub fans job updates and file events out to every subscriber.
// Subscribers only listen; anything they send is discarded.
type WSHub struct {
	mu     sync.RWMutex
	subs   map[*subscriber]struct{}
	frames chan []byte
	quit   chan struct{}
	stop   sync.Once
	log    *zap.Logger
}

// NewWSHub returns a hub; call Run to start delivering frames.
func NewWSHub() *WSHub {
	return &WSHub{
		subs:   make(map[*subscriber]struct{}),
		frames: make(chan []byte, wsQueueLen),
		quit:   make(chan struct{}),
		log:    logging.L().Named("ws"),
	}
}

// Run delivers queued frames until Stop. A subscriber whose queue is full
// is dropped rather than allowed to stall the others.
func (h *WSHub) Run() {
	for {
		select {
		case <-h.quit:
			h.mu.Lock()
			for c := range h.subs {
				delete(h.subs, c)
				c.closeQueue()
			}
			h.mu.Unlock()
			return

		case frame := <-h.frames:
			h.mu.Lock()
			for c := range h.subs {
				select {
				case c.out <- frame:
				default:
					delete(h.subs, c)
					c.closeQueue()
					h.log.Debug("dropped slow subscriber")
				}
			}
			h.mu.Unlock()
		}
	}
}

// Stop ends Run and closes every subscriber. Safe to call more than once.
func (h *WSHub) Stop() {
	h.stop.Do(func() { close(h.quit) })
}

// add registers c; it fails once the hub is stopped.
func (h *WSHub) add(c *subscriber) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	select {
	case <-h.quit:
		return false
	default:
	}
	h.subs[c] = struct{}{}
	h.log.Debug("subscriber joined", zap.Int("subscribers", len(h.subs)))
	return true
}

func (h *WSHub) remove(c *subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.subs[c]; !ok {
		return
	}
	delete(h.subs, c)
	c.closeQueue()
	h.log.Debug("subscriber left", zap.Int("subscribers", len(h.subs)))
}

// Broadcast queues a frame of the given type for every subscriber. Frames
// are dropped when the queue is full or data does not marshal.
func (h *WSHub) Broadcast(msgType string, data any) {
	frame, err := json.Marshal(WSMessage{Type: msgType, Data: data})
	if err != nil {
		h.log.Warn("marshal failed", zap.String("type", msgType), zap.Error(err))
		return
	}
	select {
	case h.frames <- frame:
	default:
		h.log.Warn("hub queue full, frame dropped", zap.String("type", msgType))
	}
}

// BroadcastJob pushes a job snapshot.
func (h *WSHub) BroadcastJob(job *Job) {
	h.Broadcast("job_update", job)
}

// BroadcastEvent pushes a file-level progress event.
func (h *WSHub) BroadcastEvent(event any) {
	h.Broadcast("event", event)
}

// ClientCount returns the number of live subscribers.
func (h *WSHub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// handleWebSocket upgrades the request and subscribes it to the hub. The
// first frame is always "init" with the current job list.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	up := websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			return origin == "" || s.originAllowed(origin)
		},
	}
	conn, err := up.Upgrade(w, r, nil)
	if err != nil {
		s.wsHub.log.Warn("upgrade failed", zap.Error(err))
		return
	}

	c := &subscriber{conn: conn, out: make(chan []byte, wsQueueLen)}
	if first, err := json.Marshal(WSMessage{Type: "init", Data: map[string]any{
		"jobs":    s.jobs.ListJobs(),
		"version": s.config.Version,
	}}); err == nil {
		c.out <- first
	}
	if !s.wsHub.add(c) {
		conn.Close()
		return
	}

	go c.writeLoop(s.wsHub)
	go c.readLoop(s.wsHub)
}

// writeLoop sends queued frames and keeps the connection alive with pings.
func (c *subscriber) writeLoop(h *WSHub) {
	ping := time.NewTicker(wsPingPeriod)
	defer func() {
		ping.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case frame, ok := <-c.out:
			c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, ""))
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				h.log.Debug("write failed", zap.Error(err))
				return
			}
		case <-ping.C:
			c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readLoop discards inbound frames and notices when the peer goes away.
func (c *subscriber) readLoop(h *WSHub) {
	defer func() {
		h.remove(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(wsMaxInbound)
	c.conn.SetReadDeadline(time.Now().Add(wsPongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				h.log.Debug("read failed", zap.Error(err))
			}
			return
		}
	}
}
