// Package realtime is the WebSocket side of chat: the per-process connection
// registry and the gateway that speaks the event protocol.
package realtime

import (
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"marketchat/pkg/metrics"
)

const sendBuffer = 64

// Client is one live connection. A user may hold several.
type Client struct {
	ID     string
	UserID string
	Role   string

	conn      *websocket.Conn
	send      chan any
	done      chan struct{}
	closeOnce sync.Once
	evicted   atomic.Bool
}

func newClient(userID, role string, conn *websocket.Conn) *Client {
	return &Client{
		ID:     uuid.NewString(),
		UserID: userID,
		Role:   role,
		conn:   conn,
		send:   make(chan any, sendBuffer),
		done:   make(chan struct{}),
	}
}

// Enqueue hands v to the write loop without blocking. It reports false if
// the client is gone or its queue is full. A full queue evicts the client:
// it is closed so that it reconnects and resyncs instead of silently
// missing events.
func (c *Client) Enqueue(v any) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.send <- v:
		return true
	case <-c.done:
		return false
	default:
		c.evict()
		return false
	}
}

func (c *Client) evict() {
	if c.evicted.CompareAndSwap(false, true) {
		metrics.RecordClientEvicted()
	}
	c.Close()
}

// Evicted reports whether the client was closed for falling behind.
func (c *Client) Evicted() bool {
	return c.evicted.Load()
}

// Close signals both loops to stop. Safe to call more than once.
func (c *Client) Close() {
	c.closeOnce.Do(func() { close(c.done) })
}

func (c *Client) Done() <-chan struct{} {
	return c.done
}

// Registry tracks live connections: user to connections, connection to
// joined rooms, and room to connections for broadcast.
type Registry struct {
	mu        sync.RWMutex
	users     map[string]map[string]*Client
	clients   map[string]*Client
	connRooms map[string]map[string]struct{}
	roomConns map[string]map[string]*Client
}

func NewRegistry() *Registry {
	return &Registry{
		users:     make(map[string]map[string]*Client),
		clients:   make(map[string]*Client),
		connRooms: make(map[string]map[string]struct{}),
		roomConns: make(map[string]map[string]*Client),
	}
}

func (r *Registry) Register(c *Client) {
	r.mu.Lock()
	conns, ok := r.users[c.UserID]
	if !ok {
		conns = make(map[string]*Client)
		r.users[c.UserID] = conns
	}
	conns[c.ID] = c
	r.clients[c.ID] = c
	r.connRooms[c.ID] = make(map[string]struct{})
	online := len(r.users)
	r.mu.Unlock()

	metrics.RecordConnectionOpened()
	metrics.OnlineUsers.Set(float64(online))
}

// Unregister removes the connection and returns the rooms it had joined.
func (r *Registry) Unregister(connID string) []string {
	r.mu.Lock()
	c, ok := r.clients[connID]
	if !ok {
		r.mu.Unlock()
		return nil
	}
	delete(r.clients, connID)
	if conns, ok := r.users[c.UserID]; ok {
		delete(conns, connID)
		if len(conns) == 0 {
			delete(r.users, c.UserID)
		}
	}
	rooms := make([]string, 0, len(r.connRooms[connID]))
	for roomID := range r.connRooms[connID] {
		rooms = append(rooms, roomID)
		r.removeFromRoomLocked(roomID, connID)
	}
	delete(r.connRooms, connID)
	online := len(r.users)
	r.mu.Unlock()

	metrics.RecordConnectionClosed()
	metrics.OnlineUsers.Set(float64(online))
	return rooms
}

func (r *Registry) removeFromRoomLocked(roomID, connID string) {
	conns, ok := r.roomConns[roomID]
	if !ok {
		return
	}
	delete(conns, connID)
	if len(conns) == 0 {
		delete(r.roomConns, roomID)
	}
}

// Join subscribes the connection to roomID. It reports false for an unknown
// connection.
func (r *Registry) Join(connID, roomID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.clients[connID]
	if !ok {
		return false
	}
	r.connRooms[connID][roomID] = struct{}{}
	conns, ok := r.roomConns[roomID]
	if !ok {
		conns = make(map[string]*Client)
		r.roomConns[roomID] = conns
	}
	conns[connID] = c
	return true
}

// Leave reports whether the connection had been joined to roomID.
func (r *Registry) Leave(connID, roomID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	rooms, ok := r.connRooms[connID]
	if !ok {
		return false
	}
	if _, joined := rooms[roomID]; !joined {
		return false
	}
	delete(rooms, roomID)
	r.removeFromRoomLocked(roomID, connID)
	return true
}

func (r *Registry) InRoom(connID, roomID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.connRooms[connID][roomID]
	return ok
}

func (r *Registry) IsOnline(userID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.users[userID]
	return ok
}

// UserViewingRoom reports whether any of the user's connections has joined
// roomID.
func (r *Registry) UserViewingRoom(userID, roomID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, c := range r.roomConns[roomID] {
		if c.UserID == userID {
			return true
		}
	}
	return false
}

func (r *Registry) OnlineUsers() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.users))
	for id := range r.users {
		ids = append(ids, id)
	}
	return ids
}

// CloseAll signals every live connection to close and returns how many
// were signalled. Each one unregisters itself from its read loop.
func (r *Registry) CloseAll() int {
	r.mu.RLock()
	clients := make([]*Client, 0, len(r.clients))
	for _, c := range r.clients {
		clients = append(clients, c)
	}
	r.mu.RUnlock()

	for _, c := range clients {
		c.Close()
	}
	return len(clients)
}

func (r *Registry) ConnectionCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.clients)
}

// SendToUser queues v on every connection of userID and returns how many
// accepted it. Connections with a full queue are evicted.
func (r *Registry) SendToUser(userID string, v any) int {
	r.mu.RLock()
	targets := make([]*Client, 0, len(r.users[userID]))
	for _, c := range r.users[userID] {
		targets = append(targets, c)
	}
	r.mu.RUnlock()

	sent := 0
	for _, c := range targets {
		if c.Enqueue(v) {
			sent++
		}
	}
	return sent
}

// BroadcastToRoom queues v on every connection joined to roomID, skipping
// connections owned by exceptUserID when it is set. Connections with a full
// queue are evicted.
func (r *Registry) BroadcastToRoom(roomID string, v any, exceptUserID string) int {
	r.mu.RLock()
	targets := make([]*Client, 0, len(r.roomConns[roomID]))
	for _, c := range r.roomConns[roomID] {
		if exceptUserID != "" && c.UserID == exceptUserID {
			continue
		}
		targets = append(targets, c)
	}
	r.mu.RUnlock()

	sent := 0
	for _, c := range targets {
		if c.Enqueue(v) {
			sent++
		}
	}
	return sent
}
