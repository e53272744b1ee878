// Package session owns the single persistent WebSocket connection bound to a
// room. It manages the connection lifecycle (connect, receive, close, error)
// as an explicit state machine, serializes outbound frames, and dispatches
// decoded events to registered handlers in wire order.
package session

import (
	"context"
	"errors"
	"io"
	"log"
	"net"
	"net/url"
	"strings"
	"sync"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"

	"github.com/roomchat/messenger/internal/protocol"
)

// State is the connection lifecycle state. Exactly one connection exists per
// session; the transitions are Disconnected -> Connecting -> Open and from
// Open to Closed (clean shutdown) or Errored (transport failure). There is no
// automatic reconnection: a Closed or Errored session must be reconnected
// explicitly.
type State int

const (
	Disconnected State = iota
	Connecting
	Open
	Closed
	Errored
)

// String returns the lowercase state name.
func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Open:
		return "open"
	case Closed:
		return "closed"
	case Errored:
		return "errored"
	}
	return "unknown"
}

// ErrNotConnected is returned by the send methods when the session is not
// Open. The frame never reaches the transport.
var ErrNotConnected = errors.New("session: not connected")

// Metrics tracks per-session counters.
type Metrics struct {
	MessagesSent     int
	MessagesReceived int
	FramesDiscarded  int
}

// Session is one room's connection. Handlers are registered before Connect
// and invoked from the read loop goroutine, one at a time, in the exact order
// frames arrive on the wire.
type Session struct {
	baseURL string // ws(s)://host, no trailing slash
	user    string // display name announced to the server, may be empty

	mu      sync.Mutex
	state   State
	conn    net.Conn
	roomID  string
	done    chan struct{}
	writeMu sync.Mutex
	metrics Metrics

	onChat    func(sender, content, timestamp string)
	onDeleted func()
	onClosed  func()
	onError   func(err error)

	// dial is swappable in tests; production uses ws.Dial.
	dial func(ctx context.Context, u string) (net.Conn, error)
}

// New creates a session that will connect to baseURL, e.g. "ws://host:8080".
// user is the display name sent on the upgrade so remote peers see the
// sender's messages under it; empty means the server assigns a guest name.
func New(baseURL, user string) *Session {
	return &Session{
		baseURL: strings.TrimRight(baseURL, "/"),
		user:    user,
		state:   Disconnected,
		dial: func(ctx context.Context, u string) (net.Conn, error) {
			conn, _, _, err := ws.Dial(ctx, u)
			return conn, err
		},
	}
}

// OnChat registers the handler for decoded chat messages.
func (s *Session) OnChat(fn func(sender, content, timestamp string)) { s.onChat = fn }

// OnDeleted registers the handler for the room deletion broadcast.
func (s *Session) OnDeleted(fn func()) { s.onDeleted = fn }

// OnClosed registers the handler for a server- or network-initiated close.
func (s *Session) OnClosed(fn func()) { s.onClosed = fn }

// OnError registers the handler for transport errors.
func (s *Session) OnError(fn func(err error)) { s.onError = fn }

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// GetMetrics returns a copy of the session counters.
func (s *Session) GetMetrics() Metrics {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.metrics
}

// Connect opens the connection to /messenger/ws?room_id=<id>. While the
// session is already Connecting or Open the call is a no-op, so repeated
// connect attempts can never produce a second underlying connection. From
// Closed or Errored it opens a fresh connection.
func (s *Session) Connect(ctx context.Context, roomID string) error {
	s.mu.Lock()
	if s.state == Open || s.state == Connecting {
		s.mu.Unlock()
		return nil
	}
	s.state = Connecting
	s.roomID = roomID
	s.mu.Unlock()

	u := s.baseURL + "/messenger/ws?room_id=" + url.QueryEscape(roomID)
	if s.user != "" {
		u += "&user=" + url.QueryEscape(s.user)
	}
	conn, err := s.dial(ctx, u)
	if err != nil {
		s.mu.Lock()
		s.state = Errored
		s.mu.Unlock()
		if s.onError != nil {
			s.onError(err)
		}
		return err
	}

	s.mu.Lock()
	s.conn = conn
	s.state = Open
	s.done = make(chan struct{})
	done := s.done
	s.mu.Unlock()

	go s.readLoop(conn, done)

	log.Printf("session: connected room=%s", roomID)
	return nil
}

// SendChat encodes and sends a chat message. Empty content is rejected by the
// codec before anything touches the wire.
func (s *Session) SendChat(content string) error {
	s.mu.Lock()
	roomID := s.roomID
	s.mu.Unlock()

	data, err := protocol.EncodeChat(roomID, content)
	if err != nil {
		return err
	}
	return s.send(data)
}

// Announce sends the user_joined frame for the bound room.
func (s *Session) Announce() error {
	s.mu.Lock()
	roomID := s.roomID
	s.mu.Unlock()

	data, err := protocol.EncodeUserJoined(roomID)
	if err != nil {
		return err
	}
	return s.send(data)
}

// send writes a frame if and only if the session is Open; otherwise the frame
// is dropped and ErrNotConnected is returned so the caller can surface it.
func (s *Session) send(data []byte) error {
	s.mu.Lock()
	if s.state != Open {
		s.mu.Unlock()
		return ErrNotConnected
	}
	conn := s.conn
	s.mu.Unlock()

	s.writeMu.Lock()
	err := wsutil.WriteClientMessage(conn, ws.OpText, data)
	s.writeMu.Unlock()
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.metrics.MessagesSent++
	s.mu.Unlock()
	return nil
}

// Close shuts the connection down and transitions to Closed. It is safe to
// call in any state, repeatedly.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.state != Open && s.state != Connecting {
		s.mu.Unlock()
		return nil
	}
	s.state = Closed
	conn := s.conn
	if s.done != nil {
		close(s.done)
		s.done = nil
	}
	s.mu.Unlock()

	if conn != nil {
		return conn.Close()
	}
	return nil
}

// readLoop reads frames until the connection dies, decoding each one and
// dispatching it to the registered handlers. Decode failures are logged and
// discarded; the connection stays open.
func (s *Session) readLoop(conn net.Conn, done chan struct{}) {
	for {
		data, err := wsutil.ReadServerText(conn)
		if err != nil {
			select {
			case <-done:
				// Deliberate local close; state is already Closed.
				return
			default:
			}
			s.handleReadError(err)
			return
		}

		s.mu.Lock()
		s.metrics.MessagesReceived++
		s.mu.Unlock()

		msg, err := protocol.Decode(data)
		if err != nil {
			s.mu.Lock()
			s.metrics.FramesDiscarded++
			s.mu.Unlock()
			log.Printf("session: discarding frame: %v", err)
			continue
		}

		switch msg.Type {
		case protocol.TypeChat:
			if s.onChat != nil {
				s.onChat(msg.Sender, msg.Content, msg.Timestamp)
			}
		case protocol.TypeChatDeleted:
			if s.onDeleted != nil {
				s.onDeleted()
			}
		default:
			// Recognized by the codec but not expected inbound.
			log.Printf("session: ignoring inbound %s frame", msg.Type)
		}
	}
}

// handleReadError classifies a failed read: a clean remote close transitions
// to Closed, anything else to Errored. Neither triggers a reconnect.
func (s *Session) handleReadError(err error) {
	var closedErr wsutil.ClosedError
	clean := errors.As(err, &closedErr) || errors.Is(err, io.EOF)

	s.mu.Lock()
	if clean {
		s.state = Closed
	} else {
		s.state = Errored
	}
	if s.done != nil {
		// Prevent Close from double-closing.
		close(s.done)
		s.done = nil
	}
	roomID := s.roomID
	s.mu.Unlock()

	if clean {
		log.Printf("session: connection closed by peer room=%s", roomID)
		if s.onClosed != nil {
			s.onClosed()
		}
		return
	}
	log.Printf("session: transport error room=%s: %v", roomID, err)
	if s.onError != nil {
		s.onError(err)
	}
}
