// Package controller binds the room session, message feed, attachment
// registry client and notification center to the room identifier resolved at
// startup. It is the top-level orchestrator of the realtime core: one
// controller instance owns at most one live session at a time.
package controller

import (
	"context"
	"errors"
	"io"
	"log"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/roomchat/messenger/internal/feed"
	"github.com/roomchat/messenger/internal/notify"
	"github.com/roomchat/messenger/internal/registry"
	"github.com/roomchat/messenger/internal/session"
)

// State is the controller lifecycle: Idle until a room is bound, Active while
// a session is running.
type State int

const (
	Idle State = iota
	Active
)

// LobbyPath is the navigation target after leaving a room.
const LobbyPath = "/messenger/lobby"

// ErrNoRoom is returned by room-bound operations while no room id is set.
var ErrNoRoom = errors.New("controller: no room bound")

// Config carries the endpoints and presentation settings for a controller.
type Config struct {
	// HTTPBaseURL is the registry/room API origin, e.g. "http://host:8080".
	HTTPBaseURL string
	// WSBaseURL is the WebSocket origin, e.g. "ws://host:8080".
	WSBaseURL string
	// SelfLabel is the user's display name: it labels locally echoed
	// messages, rides along on the WebSocket upgrade so remote peers see
	// messages under it, and is recorded as the sender of uploads.
	SelfLabel string
	// Navigate is invoked with a path when the user must leave the room
	// (room deleted, or deleted by the user). Optional.
	Navigate func(path string)
}

// Controller orchestrates one room context.
type Controller struct {
	cfg      Config
	sess     *session.Session
	feed     *feed.Feed
	notices  *notify.Center
	registry *registry.Client

	mu     sync.Mutex
	state  State
	roomID string
	files  []registry.Attachment

	// left flips once per Start so navigation away happens exactly once even
	// if deletion is signalled through more than one path.
	left int32
}

// New creates an Idle controller. Nothing connects until Start.
func New(cfg Config) *Controller {
	if cfg.SelfLabel == "" {
		cfg.SelfLabel = "You"
	}
	return &Controller{
		cfg:      cfg,
		sess:     session.New(cfg.WSBaseURL, cfg.SelfLabel),
		feed:     feed.New(cfg.SelfLabel),
		notices:  notify.NewCenter(),
		registry: registry.NewClient(cfg.HTTPBaseURL),
	}
}

// Feed returns the message feed for render layers.
func (c *Controller) Feed() *feed.Feed { return c.feed }

// Notices returns the notification center for render layers.
func (c *Controller) Notices() *notify.Center { return c.notices }

// State returns the controller state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// RoomID returns the bound room identifier, or "" while Idle.
func (c *Controller) RoomID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.roomID
}

// Start binds the controller to a room and opens the realtime session. An
// empty room id means the page has no room context: the controller stays
// Idle and no connection is attempted. On success the session is Open, the
// join announcement has been sent and the attachment listing is primed.
func (c *Controller) Start(ctx context.Context, roomID string) error {
	if roomID == "" {
		log.Printf("controller: no room id, staying idle")
		return nil
	}

	c.mu.Lock()
	if c.state == Active {
		c.mu.Unlock()
		return nil
	}
	c.roomID = roomID
	c.mu.Unlock()
	atomic.StoreInt32(&c.left, 0)

	c.sess.OnChat(func(sender, content, timestamp string) {
		c.feed.AppendRemote(sender, content, timestamp)
	})
	c.sess.OnDeleted(c.handleRoomDeleted)
	c.sess.OnError(func(err error) {
		c.notices.Notify("Connection error", err.Error(), notify.SeverityDanger)
	})
	c.sess.OnClosed(func() {
		log.Printf("controller: session closed room=%s", roomID)
	})

	if err := c.sess.Connect(ctx, roomID); err != nil {
		return err
	}

	if err := c.sess.Announce(); err != nil {
		log.Printf("controller: join announcement failed room=%s: %v", roomID, err)
	}

	c.RefreshFiles(ctx)

	c.mu.Lock()
	c.state = Active
	c.mu.Unlock()
	return nil
}

// SendMessage trims and sends a chat message, echoing it into the feed
// immediately. The server never echoes the sender's own message back, so
// exactly one feed entry results from one send action. A send while the
// session is not open surfaces NotConnected both to the caller and through
// the notification channel.
func (c *Controller) SendMessage(content string) error {
	content = strings.TrimSpace(content)
	if err := c.sess.SendChat(content); err != nil {
		if errors.Is(err, session.ErrNotConnected) {
			c.notices.Notify("Not connected",
				"The message was not sent: no open connection to the room.",
				notify.SeverityDanger)
		}
		return err
	}
	c.feed.AppendLocal(content)
	return nil
}

// UploadFile sends one file to the registry and refreshes the listing. The
// registry is the source of truth, so the fresh listing is fetched rather
// than patched locally.
func (c *Controller) UploadFile(ctx context.Context, fileName string, r io.Reader) error {
	c.mu.Lock()
	roomID := c.roomID
	c.mu.Unlock()
	if roomID == "" {
		return ErrNoRoom
	}

	msg, err := c.registry.Upload(ctx, roomID, c.cfg.SelfLabel, fileName, r)
	if err != nil {
		if errors.Is(err, registry.ErrNoFileSelected) {
			c.notices.Notify("Error", "No file selected.", notify.SeverityDanger)
		} else {
			c.notices.Notify("Error", err.Error(), notify.SeverityDanger)
		}
		return err
	}

	c.notices.Notify("Success", msg, notify.SeveritySuccess)
	c.RefreshFiles(ctx)
	return nil
}

// RefreshFiles re-fetches the attachment listing. Failures surface as a
// retryable notice; the listing becomes empty rather than stale.
func (c *Controller) RefreshFiles(ctx context.Context) {
	c.mu.Lock()
	roomID := c.roomID
	c.mu.Unlock()
	if roomID == "" {
		return
	}

	files, err := c.registry.List(ctx, roomID)
	if err != nil {
		c.notices.Notify("Files unavailable", err.Error(), notify.SeverityDanger)
	}
	c.mu.Lock()
	c.files = files
	c.mu.Unlock()
}

// Attachments returns the most recently fetched listing in server order.
func (c *Controller) Attachments() []registry.Attachment {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]registry.Attachment, len(c.files))
	copy(out, c.files)
	return out
}

// DownloadURL builds the direct download link for a listed file.
func (c *Controller) DownloadURL(fileName string) (string, error) {
	c.mu.Lock()
	roomID := c.roomID
	c.mu.Unlock()
	if roomID == "" {
		return "", ErrNoRoom
	}
	return c.registry.DownloadURL(roomID, fileName), nil
}

// DeleteRoom deletes the bound room. On success the user is navigated to the
// lobby; on failure the server's error text is shown verbatim.
func (c *Controller) DeleteRoom(ctx context.Context) error {
	c.mu.Lock()
	roomID := c.roomID
	c.mu.Unlock()
	if roomID == "" {
		return ErrNoRoom
	}

	msg, err := c.registry.DeleteRoom(ctx, roomID)
	if err != nil {
		c.notices.Notify("Error", err.Error(), notify.SeverityDanger)
		return err
	}

	c.notices.Notify("Success", msg, notify.SeveritySuccess)
	c.leaveRoom()
	return nil
}

// Stop tears the session down and returns to Idle. It is safe to call when
// no session is active, and repeatedly.
func (c *Controller) Stop() {
	if err := c.sess.Close(); err != nil {
		log.Printf("controller: close session: %v", err)
	}
	c.mu.Lock()
	c.state = Idle
	c.mu.Unlock()
}

// handleRoomDeleted reacts to the server's chat_deleted broadcast: one
// warning notice and one navigation away from the dead room.
func (c *Controller) handleRoomDeleted() {
	c.notices.Notify("Room deleted",
		"The room you are in has been deleted.",
		notify.SeverityWarning)
	c.feed.Clear()
	c.leaveRoom()
}

// leaveRoom navigates to the lobby at most once per Start.
func (c *Controller) leaveRoom() {
	if !atomic.CompareAndSwapInt32(&c.left, 0, 1) {
		return
	}
	if c.cfg.Navigate != nil {
		c.cfg.Navigate(LobbyPath)
	}
}
