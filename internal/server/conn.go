package server

import (
	"net"
	"sync"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
)

// Conn represents a single WebSocket client connection bound to a room, with
// a write mutex for serializing outbound frames.
type Conn struct {
	ID           string   // connection ID (UUID)
	RoomID       string   // room this connection joined
	Sender       string   // display name attached to outbound chat messages
	Conn         net.Conn // underlying TCP connection
	CreatedAt    time.Time
	WriteTimeout time.Duration // max time per frame write, 0 means no limit
	writeMu      sync.Mutex    // serializes writes to this connection
}

// WriteMessage sends a WebSocket text frame to this connection. The write
// mutex ensures that concurrent goroutines do not interleave frame bytes, and
// the write deadline keeps one stalled receiver from blocking a room's
// fan-out forever.
func (c *Conn) WriteMessage(data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if c.WriteTimeout > 0 {
		_ = c.Conn.SetWriteDeadline(time.Now().Add(c.WriteTimeout))
		defer func() { _ = c.Conn.SetWriteDeadline(time.Time{}) }()
	}
	return wsutil.WriteServerMessage(c.Conn, ws.OpText, data)
}

// Close closes the underlying network connection.
func (c *Conn) Close() error {
	return c.Conn.Close()
}
