package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"
)

const (
	wsWriteWait  = 10 * time.Second
	wsPingPeriod = 25 * time.Second
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// wsClient is one websocket connection. gorilla/websocket allows a single
// concurrent writer, so every write goes through write.
type wsClient struct {
	userID    int
	conn      *websocket.Conn
	writeMu   sync.Mutex
	closeOnce sync.Once
}

func (c *wsClient) write(messageType int, data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
	return c.conn.WriteMessage(messageType, data)
}

func (c *wsClient) writeJSON(v any) error {
	msg, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return c.write(websocket.TextMessage, msg)
}

func (c *wsClient) close() {
	c.closeOnce.Do(func() { _ = c.conn.Close() })
}

// realtimeHub fans messages out to every connection a user has open.
type realtimeHub struct {
	mu      sync.RWMutex
	clients map[int]map[*wsClient]struct{}
}

func newRealtimeHub() *realtimeHub {
	return &realtimeHub{clients: make(map[int]map[*wsClient]struct{})}
}

func (h *realtimeHub) register(c *wsClient) {
	h.mu.Lock()
	if h.clients[c.userID] == nil {
		h.clients[c.userID] = make(map[*wsClient]struct{})
	}
	h.clients[c.userID][c] = struct{}{}
	h.mu.Unlock()
	realtimeClients.Inc()
}

func (h *realtimeHub) unregister(c *wsClient) {
	h.mu.Lock()
	removed := false
	if set := h.clients[c.userID]; set != nil {
		if _, ok := set[c]; ok {
			delete(set, c)
			removed = true
		}
		if len(set) == 0 {
			delete(h.clients, c.userID)
		}
	}
	h.mu.Unlock()
	if removed {
		realtimeClients.Dec()
	}
	c.close()
}

// HasClients reports whether userID has at least one open connection.
func (h *realtimeHub) HasClients(userID int) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[userID]) > 0
}

// WatchedUsers lists the users with at least one open connection, in
// ascending order.
func (h *realtimeHub) WatchedUsers() []int {
	h.mu.RLock()
	ids := make([]int, 0, len(h.clients))
	for id, set := range h.clients {
		if len(set) > 0 {
			ids = append(ids, id)
		}
	}
	h.mu.RUnlock()
	sort.Ints(ids)
	return ids
}

// Broadcast sends payload as JSON to all of userID's connections. Connections
// that fail to accept the write are dropped.
func (h *realtimeHub) Broadcast(userID int, payload any) error {
	msg, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	h.mu.RLock()
	targets := make([]*wsClient, 0, len(h.clients[userID]))
	for c := range h.clients[userID] {
		targets = append(targets, c)
	}
	h.mu.RUnlock()

	var errs []error
	for _, c := range targets {
		if err := c.write(websocket.TextMessage, msg); err != nil {
			log.WithField("user_id", userID).Debugf("[realtimeHub] dropping client: %v", err)
			h.unregister(c)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// closeAll disconnects every client, used on shutdown.
func (h *realtimeHub) closeAll() {
	h.mu.RLock()
	var all []*wsClient
	for _, set := range h.clients {
		for c := range set {
			all = append(all, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range all {
		_ = c.write(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"))
		h.unregister(c)
	}
}

// serve upgrades the request, registers the connection, sends initial (when
// non-nil) and then blocks reading until the client goes away. Pings keep the
// connection open through idle proxies.
func (h *realtimeHub) serve(w http.ResponseWriter, r *http.Request, userID int, initial any) error {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return err
	}
	cl := &wsClient{userID: userID, conn: conn}
	h.register(cl)
	defer h.unregister(cl)

	if initial != nil {
		if err := cl.writeJSON(initial); err != nil {
			return err
		}
	}

	done := make(chan struct{})
	defer close(done)
	go func() {
		t := time.NewTicker(wsPingPeriod)
		defer t.Stop()
		for {
			select {
			case <-done:
				return
			case <-t.C:
				if err := cl.write(websocket.PingMessage, nil); err != nil {
					cl.close()
					return
				}
			}
		}
	}()

	// read loop ends on client close/error
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return nil
		}
	}
}
