package controller

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"

	"github.com/roomchat/messenger/internal/notify"
	"github.com/roomchat/messenger/internal/protocol"
	"github.com/roomchat/messenger/internal/session"
)

// fakeBackend serves both the WebSocket endpoint and the room HTTP API on a
// single httptest server.
type fakeBackend struct {
	srv       *httptest.Server
	upgrades  int32
	listCalls int32
	conns     chan net.Conn
	wsUsers   chan string // user query parameter of each upgrade
	uploads   chan string // sender form value of each upload

	deleteStatus int    // response status for DELETE /messenger/chat
	deleteBody   string // response body for DELETE /messenger/chat
	listBody     string // response body for the files listing
}

func newFakeBackend(t *testing.T) *fakeBackend {
	t.Helper()
	fb := &fakeBackend{
		conns:        make(chan net.Conn, 4),
		wsUsers:      make(chan string, 4),
		uploads:      make(chan string, 4),
		deleteStatus: http.StatusOK,
		deleteBody:   `{"message":"room deleted"}`,
		listBody:     `[]`,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/messenger/ws", func(w http.ResponseWriter, r *http.Request) {
		user := r.URL.Query().Get("user")
		conn, _, _, err := ws.UpgradeHTTP(r, w)
		if err != nil {
			t.Errorf("upgrade failed: %v", err)
			return
		}
		atomic.AddInt32(&fb.upgrades, 1)
		fb.wsUsers <- user
		fb.conns <- conn
	})
	mux.HandleFunc("/messenger/chat/send-file", func(w http.ResponseWriter, r *http.Request) {
		fb.uploads <- r.FormValue("sender")
		io.WriteString(w, `{"message":"file uploaded"}`)
	})
	mux.HandleFunc("/messenger/chat/files", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&fb.listCalls, 1)
		io.WriteString(w, fb.listBody)
	})
	mux.HandleFunc("/messenger/chat", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodDelete {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		w.WriteHeader(fb.deleteStatus)
		io.WriteString(w, fb.deleteBody)
	})

	fb.srv = httptest.NewServer(mux)
	t.Cleanup(fb.srv.Close)
	return fb
}

func (fb *fakeBackend) config() Config {
	return Config{
		HTTPBaseURL: fb.srv.URL,
		WSBaseURL:   "ws" + strings.TrimPrefix(fb.srv.URL, "http"),
		SelfLabel:   "You",
	}
}

func (fb *fakeBackend) accept(t *testing.T) net.Conn {
	t.Helper()
	select {
	case conn := <-fb.conns:
		return conn
	case <-time.After(2 * time.Second):
		t.Fatal("no connection accepted")
		return nil
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

// ---------------------------------------------------------------------------
// Test: No room id means no session
// ---------------------------------------------------------------------------

func TestStart_NoRoomStaysIdle(t *testing.T) {
	fb := newFakeBackend(t)
	c := New(fb.config())

	if err := c.Start(context.Background(), ""); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if c.State() != Idle {
		t.Fatalf("expected Idle, got %v", c.State())
	}
	time.Sleep(30 * time.Millisecond)
	if n := atomic.LoadInt32(&fb.upgrades); n != 0 {
		t.Errorf("expected no connection attempts, got %d", n)
	}
}

// ---------------------------------------------------------------------------
// Test: Start announces the join and primes the listing
// ---------------------------------------------------------------------------

func TestStart_ActiveRoom(t *testing.T) {
	fb := newFakeBackend(t)
	fb.listBody = `[{"file_name":"a.png","file_size":17}]`
	c := New(fb.config())
	defer c.Stop()

	if err := c.Start(context.Background(), "abc123"); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	if c.State() != Active {
		t.Fatalf("expected Active, got %v", c.State())
	}
	if c.RoomID() != "abc123" {
		t.Fatalf("expected room abc123, got %q", c.RoomID())
	}

	conn := fb.accept(t)
	data, err := wsutil.ReadClientText(conn)
	if err != nil {
		t.Fatalf("server read failed: %v", err)
	}
	msg, err := protocol.Decode(data)
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if msg.Type != protocol.TypeUserJoined || msg.RoomID != "abc123" {
		t.Errorf("expected join announcement, got %+v", msg)
	}

	files := c.Attachments()
	if len(files) != 1 || files[0].FileName != "a.png" {
		t.Errorf("unexpected attachments: %+v", files)
	}
	if n := atomic.LoadInt32(&fb.listCalls); n != 1 {
		t.Errorf("expected 1 listing call, got %d", n)
	}
}

// ---------------------------------------------------------------------------
// Test: One send action yields exactly one local feed entry
// ---------------------------------------------------------------------------

func TestSendMessage_LocalEcho(t *testing.T) {
	fb := newFakeBackend(t)
	c := New(fb.config())
	defer c.Stop()

	if err := c.Start(context.Background(), "abc123"); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	conn := fb.accept(t)
	if _, err := wsutil.ReadClientText(conn); err != nil { // join announcement
		t.Fatalf("server read failed: %v", err)
	}

	if err := c.SendMessage("hello"); err != nil {
		t.Fatalf("send failed: %v", err)
	}

	data, err := wsutil.ReadClientText(conn)
	if err != nil {
		t.Fatalf("server read failed: %v", err)
	}
	msg, _ := protocol.Decode(data)
	if msg.Content != "hello" || msg.RoomID != "abc123" {
		t.Errorf("unexpected outbound frame: %+v", msg)
	}

	entries := c.Feed().Entries()
	if len(entries) != 1 {
		t.Fatalf("expected exactly 1 feed entry, got %d", len(entries))
	}
	if entries[0].SenderLabel != "You" || entries[0].Content != "hello" {
		t.Errorf("unexpected local echo: %+v", entries[0])
	}

	// The server never echoes the sender's own message back, so no second
	// entry may appear later.
	time.Sleep(50 * time.Millisecond)
	if got := c.Feed().Len(); got != 1 {
		t.Errorf("expected feed to stay at 1 entry, got %d", got)
	}
}

// ---------------------------------------------------------------------------
// Test: The self label is the identity peers and the registry see
// ---------------------------------------------------------------------------

func TestSelfLabelReachesServer(t *testing.T) {
	fb := newFakeBackend(t)
	cfg := fb.config()
	cfg.SelfLabel = "alice"
	c := New(cfg)
	defer c.Stop()

	if err := c.Start(context.Background(), "abc123"); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	fb.accept(t)

	select {
	case user := <-fb.wsUsers:
		if user != "alice" {
			t.Errorf("expected user=alice on upgrade, got %q", user)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no upgrade recorded")
	}

	if err := c.UploadFile(context.Background(), "a.png", strings.NewReader("png")); err != nil {
		t.Fatalf("upload failed: %v", err)
	}
	select {
	case sender := <-fb.uploads:
		if sender != "alice" {
			t.Errorf("expected upload sender alice, got %q", sender)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no upload recorded")
	}
}

// ---------------------------------------------------------------------------
// Test: Sending without an open session surfaces NotConnected
// ---------------------------------------------------------------------------

func TestSendMessage_NotConnected(t *testing.T) {
	fb := newFakeBackend(t)
	c := New(fb.config())

	err := c.SendMessage("hello")
	if !errors.Is(err, session.ErrNotConnected) {
		t.Fatalf("expected ErrNotConnected, got %v", err)
	}
	if c.Feed().Len() != 0 {
		t.Error("no feed entry may appear for a dropped send")
	}

	notices := c.Notices().Active()
	if len(notices) != 1 || notices[0].Severity != notify.SeverityDanger {
		t.Fatalf("expected 1 danger notice, got %+v", notices)
	}
}

// ---------------------------------------------------------------------------
// Test: chat_deleted produces one warning and one navigation
// ---------------------------------------------------------------------------

func TestRoomDeletedBroadcast(t *testing.T) {
	fb := newFakeBackend(t)
	cfg := fb.config()

	var navs int32
	var lastPath atomic.Value
	cfg.Navigate = func(path string) {
		atomic.AddInt32(&navs, 1)
		lastPath.Store(path)
	}
	c := New(cfg)
	defer c.Stop()

	if err := c.Start(context.Background(), "abc123"); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	conn := fb.accept(t)
	if _, err := wsutil.ReadClientText(conn); err != nil {
		t.Fatalf("server read failed: %v", err)
	}

	if err := wsutil.WriteServerText(conn, []byte(`{"type":"chat_deleted"}`)); err != nil {
		t.Fatalf("server write failed: %v", err)
	}

	waitFor(t, "navigation", func() bool { return atomic.LoadInt32(&navs) == 1 })
	if got := lastPath.Load(); got != LobbyPath {
		t.Errorf("expected navigation to %q, got %v", LobbyPath, got)
	}

	notices := c.Notices().Active()
	warnings := 0
	for _, n := range notices {
		if n.Severity == notify.SeverityWarning {
			warnings++
		}
	}
	if warnings != 1 {
		t.Errorf("expected exactly 1 warning notice, got %d (%+v)", warnings, notices)
	}
	if !c.Feed().Empty() {
		t.Error("feed should be cleared after room deletion")
	}

	time.Sleep(50 * time.Millisecond)
	if got := atomic.LoadInt32(&navs); got != 1 {
		t.Errorf("navigation must happen exactly once, got %d", got)
	}
}

// ---------------------------------------------------------------------------
// Test: Room deletion action
// ---------------------------------------------------------------------------

func TestDeleteRoom_Success(t *testing.T) {
	fb := newFakeBackend(t)
	cfg := fb.config()

	var navs int32
	cfg.Navigate = func(path string) { atomic.AddInt32(&navs, 1) }
	c := New(cfg)
	defer c.Stop()

	if err := c.Start(context.Background(), "abc123"); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	fb.accept(t)

	if err := c.DeleteRoom(context.Background()); err != nil {
		t.Fatalf("delete failed: %v", err)
	}
	if got := atomic.LoadInt32(&navs); got != 1 {
		t.Errorf("expected 1 navigation, got %d", got)
	}

	found := false
	for _, n := range c.Notices().Active() {
		if n.Severity == notify.SeveritySuccess && n.Message == "room deleted" {
			found = true
		}
	}
	if !found {
		t.Errorf("success notice missing: %+v", c.Notices().Active())
	}
}

func TestDeleteRoom_ServerErrorVerbatim(t *testing.T) {
	fb := newFakeBackend(t)
	fb.deleteStatus = http.StatusForbidden
	fb.deleteBody = `{"error":"you have no permission to delete this room"}`
	c := New(fb.config())
	defer c.Stop()

	if err := c.Start(context.Background(), "abc123"); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	fb.accept(t)

	err := c.DeleteRoom(context.Background())
	if err == nil {
		t.Fatal("expected an error")
	}
	if err.Error() != "you have no permission to delete this room" {
		t.Errorf("expected verbatim server error, got %q", err.Error())
	}

	found := false
	for _, n := range c.Notices().Active() {
		if n.Severity == notify.SeverityDanger && n.Message == "you have no permission to delete this room" {
			found = true
		}
	}
	if !found {
		t.Errorf("verbatim danger notice missing: %+v", c.Notices().Active())
	}
}

func TestDeleteRoom_NoRoom(t *testing.T) {
	fb := newFakeBackend(t)
	c := New(fb.config())

	if err := c.DeleteRoom(context.Background()); !errors.Is(err, ErrNoRoom) {
		t.Fatalf("expected ErrNoRoom, got %v", err)
	}
}

// ---------------------------------------------------------------------------
// Test: Stop is idempotent
// ---------------------------------------------------------------------------

func TestStop_Idempotent(t *testing.T) {
	fb := newFakeBackend(t)
	c := New(fb.config())

	c.Stop() // no session yet
	if c.State() != Idle {
		t.Fatal("expected Idle after stop without session")
	}

	if err := c.Start(context.Background(), "abc123"); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	fb.accept(t)

	c.Stop()
	c.Stop()
	if c.State() != Idle {
		t.Fatal("expected Idle after stop")
	}
}
