package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"chat-coordinator/internal/models"
)

// Hub is the only writer to client connections. It keeps the connection
// table and the room groups used for fan-out, and never inspects payloads.
type Hub struct {
	clients map[string]*Client
	groups  map[string]map[string]struct{}
	mu      sync.RWMutex
	wg      sync.WaitGroup
	log     *slog.Logger
}

// NewHub creates an empty hub.
func NewHub(log *slog.Logger) *Hub {
	return &Hub{
		clients: make(map[string]*Client),
		groups:  make(map[string]map[string]struct{}),
		log:     log,
	}
}

// Register adds a client so it can be addressed.
func (h *Hub) Register(c *Client) {
	h.mu.Lock()
	h.clients[c.ID()] = c
	count := len(h.clients)
	h.mu.Unlock()
	h.log.Info("client registered", "conn_id", c.ID(), "ip", c.info.IP, "clients", count)
}

// Unregister removes the client from the table and every group and closes
// its send channel. It reports false when the client was already gone.
func (h *Hub) Unregister(connID string) bool {
	h.mu.Lock()
	c, ok := h.clients[connID]
	if !ok {
		h.mu.Unlock()
		return false
	}
	delete(h.clients, connID)
	for room, members := range h.groups {
		delete(members, connID)
		if len(members) == 0 {
			delete(h.groups, room)
		}
	}
	count := len(h.clients)
	close(c.send)
	h.mu.Unlock()

	h.log.Info("client unregistered", "conn_id", connID, "clients", count)
	return true
}

// Join adds connID to the fan-out group of room.
func (h *Hub) Join(connID, room string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[connID]; !ok {
		return
	}
	if _, ok := h.groups[room]; !ok {
		h.groups[room] = make(map[string]struct{})
	}
	h.groups[room][connID] = struct{}{}
}

// Leave removes connID from the fan-out group of room.
func (h *Hub) Leave(connID, room string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if members, ok := h.groups[room]; ok {
		delete(members, connID)
		if len(members) == 0 {
			delete(h.groups, room)
		}
	}
}

// Evict drops the whole group of room and returns the connections it held.
func (h *Hub) Evict(room string) []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	members := h.groups[room]
	delete(h.groups, room)
	conns := make([]string, 0, len(members))
	for connID := range members {
		conns = append(conns, connID)
	}
	return conns
}

// Emit sends an event to one connection.
func (h *Hub) Emit(connID, event string, args ...any) {
	payload, ok := h.encode(models.Outbound{Event: event, Args: normalizeArgs(args)})
	if !ok {
		return
	}
	h.mu.RLock()
	c, found := h.clients[connID]
	var failed []*Client
	if found && !h.trySend(c, payload) {
		failed = append(failed, c)
	}
	h.mu.RUnlock()
	h.dropClients(failed)
}

// EmitRoom sends an event to every connection in room except the one
// identified by except (which may be empty).
func (h *Hub) EmitRoom(room, except, event string, args ...any) {
	payload, ok := h.encode(models.Outbound{Event: event, Args: normalizeArgs(args)})
	if !ok {
		return
	}
	h.mu.RLock()
	var failed []*Client
	for connID := range h.groups[room] {
		if connID == except {
			continue
		}
		c, found := h.clients[connID]
		if found && !h.trySend(c, payload) {
			failed = append(failed, c)
		}
	}
	h.mu.RUnlock()
	h.dropClients(failed)
}

// EmitAll sends an event to every connection.
func (h *Hub) EmitAll(event string, args ...any) {
	payload, ok := h.encode(models.Outbound{Event: event, Args: normalizeArgs(args)})
	if !ok {
		return
	}
	h.mu.RLock()
	var failed []*Client
	for _, c := range h.clients {
		if !h.trySend(c, payload) {
			failed = append(failed, c)
		}
	}
	h.mu.RUnlock()
	h.dropClients(failed)
}

// Reply answers the inbound frame of connID that carried ack.
func (h *Hub) Reply(connID string, ack int64, args ...any) {
	payload, ok := h.encode(models.AckReply{Ack: ack, Args: normalizeArgs(args)})
	if !ok {
		return
	}
	h.mu.RLock()
	c, found := h.clients[connID]
	var failed []*Client
	if found && !h.trySend(c, payload) {
		failed = append(failed, c)
	}
	h.mu.RUnlock()
	h.dropClients(failed)
}

// Count returns the number of registered clients.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Serve runs the client's pumps until the connection ends.
func (h *Hub) Serve(c *Client, sink EventSink, onClose func()) {
	h.wg.Add(2)
	go func() {
		defer h.wg.Done()
		c.writePump()
	}()
	go func() {
		defer h.wg.Done()
		c.readPump(h, sink)
		if onClose != nil {
			onClose()
		}
	}()
}

// Shutdown closes every connection and waits for the pumps to finish or for
// ctx to expire.
func (h *Hub) Shutdown(ctx context.Context) error {
	h.mu.RLock()
	clients := make([]*Client, 0, len(h.clients))
	for _, c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.RUnlock()

	for _, c := range clients {
		c.closeConnection()
	}
	h.log.Info("closed client connections", "count", len(clients))

	done := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (h *Hub) encode(v any) ([]byte, bool) {
	payload, err := json.Marshal(v)
	if err != nil {
		h.log.Error("failed to marshal outbound frame", "error", err)
		return nil, false
	}
	return payload, true
}

// trySend queues payload without blocking. Callers hold h.mu so the send
// channel cannot be closed underneath them.
func (h *Hub) trySend(c *Client, payload []byte) bool {
	select {
	case c.send <- payload:
		return true
	default:
		return false
	}
}

func (h *Hub) dropClients(clients []*Client) {
	for _, c := range clients {
		if h.Unregister(c.ID()) {
			h.log.Warn("client removed due to full send buffer", "conn_id", c.ID(), "after", time.Since(c.info.ConnectedAt).String())
			c.closeConnection()
		}
	}
}

func normalizeArgs(args []any) []any {
	if args == nil {
		return []any{}
	}
	return args
}
