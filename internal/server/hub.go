package server

import "sync"

// Hub is a thread-safe registry of connections keyed by room. It supports
// O(1) lookup by connection ID and room-scoped broadcasting.
type Hub struct {
	mu    sync.RWMutex
	byID  map[string]*Conn            // connection ID -> Conn
	rooms map[string]map[string]*Conn // room ID -> connection ID -> Conn
}

// NewHub creates an empty Hub ready for use.
func NewHub() *Hub {
	return &Hub{
		byID:  make(map[string]*Conn),
		rooms: make(map[string]map[string]*Conn),
	}
}

// Add registers a connection under its room.
func (h *Hub) Add(c *Conn) {
	h.mu.Lock()
	h.byID[c.ID] = c
	room, ok := h.rooms[c.RoomID]
	if !ok {
		room = make(map[string]*Conn)
		h.rooms[c.RoomID] = room
	}
	room[c.ID] = c
	h.mu.Unlock()
}

// Remove removes a connection by ID, closes the underlying network
// connection, and drops the room entry when it becomes empty. Returns true if
// the connection was found and removed, false if it was already gone.
func (h *Hub) Remove(id string) bool {
	h.mu.Lock()
	c, ok := h.byID[id]
	if ok {
		delete(h.byID, id)
		if room, rok := h.rooms[c.RoomID]; rok {
			delete(room, id)
			if len(room) == 0 {
				delete(h.rooms, c.RoomID)
			}
		}
	}
	h.mu.Unlock()

	if ok {
		c.Close()
	}
	return ok
}

// Get returns the connection for the given ID, or nil if not found.
func (h *Hub) Get(id string) *Conn {
	h.mu.RLock()
	c := h.byID[id]
	h.mu.RUnlock()
	return c
}

// Count returns the current number of active connections.
func (h *Hub) Count() int {
	h.mu.RLock()
	n := len(h.byID)
	h.mu.RUnlock()
	return n
}

// RoomCount returns the number of rooms with at least one connection.
func (h *Hub) RoomCount() int {
	h.mu.RLock()
	n := len(h.rooms)
	h.mu.RUnlock()
	return n
}

// Room returns a snapshot of the connections in a room. The returned slice is
// safe to iterate without holding the lock.
func (h *Hub) Room(roomID string) []*Conn {
	h.mu.RLock()
	room := h.rooms[roomID]
	conns := make([]*Conn, 0, len(room))
	for _, c := range room {
		conns = append(conns, c)
	}
	h.mu.RUnlock()
	return conns
}

// All returns a snapshot of every connection across all rooms.
func (h *Hub) All() []*Conn {
	h.mu.RLock()
	conns := make([]*Conn, 0, len(h.byID))
	for _, c := range h.byID {
		conns = append(conns, c)
	}
	h.mu.RUnlock()
	return conns
}

// Broadcast sends a frame to every connection in a room. Errors on individual
// connections are ignored; failed connections are cleaned up when their read
// loop exits.
func (h *Hub) Broadcast(roomID string, frame []byte) {
	for _, c := range h.Room(roomID) {
		_ = c.WriteMessage(frame)
	}
}

// BroadcastExcept sends a frame to every connection in a room except the one
// identified by exceptID. Used for chat fan-out where the sender already
// displayed its own message locally.
func (h *Hub) BroadcastExcept(roomID, exceptID string, frame []byte) {
	for _, c := range h.Room(roomID) {
		if c.ID == exceptID {
			continue
		}
		_ = c.WriteMessage(frame)
	}
}

// CloseRoom removes and closes every connection in a room. Returns the number
// of connections closed.
func (h *Hub) CloseRoom(roomID string) int {
	conns := h.Room(roomID)
	for _, c := range conns {
		h.Remove(c.ID)
	}
	return len(conns)
}
