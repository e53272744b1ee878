// Package server implements the messenger WebSocket and attachment HTTP API.
// It upgrades connections at /messenger/ws, fans chat messages out to rooms,
// and serves the file endpoints under /messenger/chat.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"mime"
	"net"
	"net/http"
	"path/filepath"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
	"github.com/google/uuid"

	"github.com/roomchat/messenger/internal/filestore"
	"github.com/roomchat/messenger/internal/history"
	"github.com/roomchat/messenger/internal/metrics"
	"github.com/roomchat/messenger/internal/protocol"
	"github.com/roomchat/messenger/internal/ratelimit"
)

// HistoryStore is the room history backend. *history.Store satisfies it; tests
// substitute an in-memory fake.
type HistoryStore interface {
	EnsureRoom(ctx context.Context, roomID string) error
	RoomExists(ctx context.Context, roomID string) (bool, error)
	Append(ctx context.Context, roomID string, ev history.Event) error
	Recent(ctx context.Context, roomID string, n int) ([]history.Event, error)
	DeleteRoom(ctx context.Context, roomID string) error
}

// FileStore is the attachment backend. *filestore.Store satisfies it.
type FileStore interface {
	Insert(ctx context.Context, f filestore.StoredFile) error
	List(ctx context.Context, roomID string) ([]filestore.FileInfo, error)
	Get(ctx context.Context, roomID, fileName string) (filestore.StoredFile, error)
	DeleteRoom(ctx context.Context, roomID string) error
}

// Limiter throttles actions. *ratelimit.Limiter satisfies it; a nil Limiter
// disables rate limiting.
type Limiter interface {
	Allow(ctx context.Context, identifier string, rule ratelimit.Rule) (bool, error)
	Reset(ctx context.Context, identifier string, rule ratelimit.Rule) error
}

// Config holds tunable parameters for the messenger server.
type Config struct {
	ListenAddr     string        // address to listen on, e.g. ":8080"
	MaxConnections int           // hard cap on total connections
	MaxUploadBytes int64         // max attachment size in bytes
	HistoryReplay  int           // messages replayed to a joining connection
	WriteTimeout   time.Duration // timeout for WebSocket write operations
}

// DefaultConfig returns a Config with sensible production defaults.
func DefaultConfig() Config {
	return Config{
		ListenAddr:     ":8080",
		MaxConnections: 10000,
		MaxUploadBytes: 50 << 20, // 50MB
		HistoryReplay:  100,
		WriteTimeout:   10 * time.Second,
	}
}

// Server owns the room hub and the HTTP surface. Each WebSocket connection
// gets its own read goroutine; chat frames are validated, persisted and
// fanned out to the connection's room.
type Server struct {
	config     Config
	hub        *Hub
	history    HistoryStore
	files      FileStore
	limiter    Limiter
	httpServer *http.Server
	startedAt  time.Time
}

// New creates a Server with the given configuration and backends. limiter may
// be nil to disable rate limiting.
func New(config Config, historyStore HistoryStore, fileStore FileStore, limiter Limiter) *Server {
	return &Server{
		config:  config,
		hub:     NewHub(),
		history: historyStore,
		files:   fileStore,
		limiter: limiter,
	}
}

// Hub returns the connection hub for external inspection.
func (s *Server) Hub() *Hub {
	return s.hub
}

// Handler returns the HTTP handler with all messenger routes registered. It
// is exposed separately from Start so tests can mount it on httptest.Server.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/messenger/ws", s.handleWS)
	mux.HandleFunc("/messenger/chat/files", s.handleListFiles)
	mux.HandleFunc("/messenger/chat/send-file", s.handleUploadFile)
	mux.HandleFunc("/messenger/chat/download-file", s.handleDownloadFile)
	mux.HandleFunc("/messenger/chat", s.handleDeleteRoom)
	mux.HandleFunc("/health", s.handleHealth)
	return mux
}

// Start begins serving and blocks on http.Server.ListenAndServe.
func (s *Server) Start() error {
	s.startedAt = time.Now()
	s.httpServer = &http.Server{
		Addr:    s.config.ListenAddr,
		Handler: s.Handler(),
	}

	log.Printf("server: listening on %s (max_conns=%d)",
		s.config.ListenAddr, s.config.MaxConnections)

	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server: http server error: %w", err)
	}
	return nil
}

// Shutdown performs a graceful shutdown: it stops the HTTP listener and
// closes all active WebSocket connections.
func (s *Server) Shutdown() error {
	log.Println("server: shutting down...")

	if s.httpServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.httpServer.Shutdown(ctx); err != nil {
			log.Printf("server: http shutdown error: %v", err)
		}
	}

	conns := s.hub.All()
	for _, c := range conns {
		s.hub.Remove(c.ID)
	}
	n := len(conns)
	metrics.ConnectionsTotal.Set(0)
	metrics.RoomsActive.Set(0)

	log.Printf("server: stopped, %d connections closed", n)
	return nil
}

// ---------------------------------------------------------------------------
// WebSocket
// ---------------------------------------------------------------------------

// handleWS upgrades an HTTP request to a WebSocket connection bound to the
// room named by the room_id query parameter, replays recent history, and
// starts the read loop.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	roomID := r.URL.Query().Get("room_id")
	if roomID == "" {
		respondError(w, http.StatusBadRequest, "room_id is required")
		return
	}

	if s.hub.Count() >= s.config.MaxConnections {
		respondError(w, http.StatusServiceUnavailable, "too many connections")
		return
	}

	if !s.allow(r.Context(), remoteHost(r), ratelimit.RuleConnect) {
		respondError(w, http.StatusTooManyRequests, "connection rate limit exceeded")
		return
	}

	sender := r.URL.Query().Get("user")
	if sender == "" {
		sender = "guest-" + uuid.New().String()[:8]
	}

	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	if err := s.history.EnsureRoom(ctx, roomID); err != nil {
		cancel()
		log.Printf("server: ensure room failed room=%s: %v", roomID, err)
		respondError(w, http.StatusInternalServerError, "room unavailable")
		return
	}
	cancel()

	conn, _, _, err := ws.UpgradeHTTP(r, w)
	if err != nil {
		log.Printf("server: upgrade failed room=%s: %v", roomID, err)
		return
	}

	c := &Conn{
		ID:           uuid.New().String(),
		RoomID:       roomID,
		Sender:       sender,
		Conn:         conn,
		CreatedAt:    time.Now(),
		WriteTimeout: s.config.WriteTimeout,
	}
	s.hub.Add(c)
	metrics.ConnectionsTotal.Set(float64(s.hub.Count()))
	metrics.RoomsActive.Set(float64(s.hub.RoomCount()))

	log.Printf("server: new connection id=%s room=%s sender=%s (total=%d)",
		c.ID, roomID, sender, s.hub.Count())

	s.replayHistory(c)

	go s.readLoop(c)
}

// replayHistory sends the most recent stored messages to a freshly joined
// connection as server chat frames.
func (s *Server) replayHistory(c *Conn) {
	if s.config.HistoryReplay <= 0 {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	events, err := s.history.Recent(ctx, c.RoomID, s.config.HistoryReplay)
	if err != nil {
		log.Printf("server: history replay failed room=%s: %v", c.RoomID, err)
		return
	}

	for _, ev := range events {
		frame, err := protocol.EncodeServerChat(ev.Sender, ev.Content, ev.Timestamp)
		if err != nil {
			log.Printf("server: skipping replay record room=%s: %v", c.RoomID, err)
			continue
		}
		if err := c.WriteMessage(frame); err != nil {
			return
		}
	}
}

// readLoop reads client frames until the connection fails, dispatching each
// decoded message. It owns connection cleanup on exit.
func (s *Server) readLoop(c *Conn) {
	defer s.removeConn(c)

	for {
		data, err := wsutil.ReadClientText(c.Conn)
		if err != nil {
			return
		}

		msg, err := protocol.Decode(data)
		if err != nil {
			log.Printf("server: discarding frame id=%s room=%s: %v", c.ID, c.RoomID, err)
			metrics.MessagesTotal.WithLabelValues("rejected").Inc()
			continue
		}

		switch msg.Type {
		case protocol.TypeChat:
			s.handleChat(c, msg)
		case protocol.TypeUserJoined:
			log.Printf("server: user joined id=%s room=%s sender=%s", c.ID, msg.RoomID, c.Sender)
		default:
			log.Printf("server: ignoring message type=%q id=%s", msg.Type, c.ID)
		}
	}
}

// handleChat validates, persists and fans out one inbound chat message. The
// sending connection is excluded from the fan-out since it echoes locally.
func (s *Server) handleChat(c *Conn, msg protocol.Message) {
	metrics.MessagesTotal.WithLabelValues("received").Inc()

	if err := ValidateContent(msg.Content); err != nil {
		log.Printf("server: rejecting message id=%s room=%s: %v", c.ID, c.RoomID, err)
		metrics.MessagesTotal.WithLabelValues("rejected").Inc()
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	if !s.allow(ctx, c.Sender+":"+c.RoomID, ratelimit.RuleMessage) {
		log.Printf("server: rate limited id=%s room=%s sender=%s", c.ID, c.RoomID, c.Sender)
		metrics.MessagesTotal.WithLabelValues("rejected").Inc()
		return
	}

	timestamp := time.Now().Format(time.RFC3339)
	ev := history.Event{Sender: c.Sender, Content: msg.Content, Timestamp: timestamp}
	if err := s.history.Append(ctx, c.RoomID, ev); err != nil {
		log.Printf("server: history append failed room=%s: %v", c.RoomID, err)
	}

	frame, err := protocol.EncodeServerChat(c.Sender, msg.Content, timestamp)
	if err != nil {
		log.Printf("server: encode failed room=%s: %v", c.RoomID, err)
		return
	}

	start := time.Now()
	s.hub.BroadcastExcept(c.RoomID, c.ID, frame)
	metrics.BroadcastLatency.Observe(time.Since(start).Seconds())
	metrics.MessagesTotal.WithLabelValues("broadcast").Inc()
}

// removeConn drops a connection from the hub and updates the gauges. Safe to
// call when the connection was already removed by a room deletion.
func (s *Server) removeConn(c *Conn) {
	if !s.hub.Remove(c.ID) {
		return
	}
	metrics.ConnectionsTotal.Set(float64(s.hub.Count()))
	metrics.RoomsActive.Set(float64(s.hub.RoomCount()))
	log.Printf("server: connection closed id=%s room=%s (total=%d)", c.ID, c.RoomID, s.hub.Count())
}

// allow runs a rate limit check, treating a nil limiter as unlimited.
func (s *Server) allow(ctx context.Context, identifier string, rule ratelimit.Rule) bool {
	if s.limiter == nil {
		return true
	}
	ok, _ := s.limiter.Allow(ctx, identifier, rule)
	return ok
}

// ---------------------------------------------------------------------------
// Attachment endpoints
// ---------------------------------------------------------------------------

// handleListFiles returns the room's attachments as a JSON array, newest
// first.
func (s *Server) handleListFiles(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		respondError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	roomID := r.URL.Query().Get("room_id")
	if roomID == "" {
		respondError(w, http.StatusBadRequest, "room_id is required")
		return
	}

	files, err := s.files.List(r.Context(), roomID)
	if err != nil {
		log.Printf("server: list files failed room=%s: %v", roomID, err)
		respondError(w, http.StatusInternalServerError, "failed to list files")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(files)
}

// handleUploadFile accepts a multipart upload in the "file" field and stores
// it in the room named by the room_id form value.
func (s *Server) handleUploadFile(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		respondError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, s.config.MaxUploadBytes)
	if err := r.ParseMultipartForm(s.config.MaxUploadBytes); err != nil {
		metrics.UploadsTotal.WithLabelValues("rejected").Inc()
		respondError(w, http.StatusRequestEntityTooLarge, "file too large")
		return
	}

	roomID := r.FormValue("room_id")
	if roomID == "" {
		roomID = r.URL.Query().Get("room_id")
	}
	if roomID == "" {
		respondError(w, http.StatusBadRequest, "room_id is required")
		return
	}

	sender := r.FormValue("sender")
	if sender == "" {
		sender = "unknown"
	}

	if !s.allow(r.Context(), sender, ratelimit.RuleUpload) {
		metrics.UploadsTotal.WithLabelValues("rejected").Inc()
		respondError(w, http.StatusTooManyRequests, "upload rate limit exceeded")
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		respondError(w, http.StatusBadRequest, "file field is required")
		return
	}
	defer file.Close()

	name, err := filestore.SanitizeFileName(header.Filename)
	if err != nil {
		metrics.UploadsTotal.WithLabelValues("rejected").Inc()
		respondError(w, http.StatusBadRequest, "invalid file name")
		return
	}

	data, err := io.ReadAll(file)
	if err != nil {
		respondError(w, http.StatusBadRequest, "failed to read file")
		return
	}

	err = s.files.Insert(r.Context(), filestore.StoredFile{
		RoomID:   roomID,
		Sender:   sender,
		FileName: name,
		Data:     data,
	})
	if errors.Is(err, filestore.ErrDuplicate) {
		metrics.UploadsTotal.WithLabelValues("duplicate").Inc()
		respondError(w, http.StatusConflict, "file already exists")
		return
	}
	if err != nil {
		log.Printf("server: upload failed room=%s file=%s: %v", roomID, name, err)
		respondError(w, http.StatusInternalServerError, "failed to store file")
		return
	}

	metrics.UploadsTotal.WithLabelValues("accepted").Inc()
	log.Printf("server: file uploaded room=%s file=%s size=%d", roomID, name, len(data))
	respondMessage(w, http.StatusOK, "file uploaded")
}

// handleDownloadFile streams a stored attachment back to the client.
func (s *Server) handleDownloadFile(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		respondError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	roomID := r.URL.Query().Get("room_id")
	fileName := r.URL.Query().Get("file_name")
	if roomID == "" || fileName == "" {
		respondError(w, http.StatusBadRequest, "room_id and file_name are required")
		return
	}

	f, err := s.files.Get(r.Context(), roomID, fileName)
	if errors.Is(err, filestore.ErrNotFound) {
		respondError(w, http.StatusNotFound, "file not found")
		return
	}
	if err != nil {
		log.Printf("server: download failed room=%s file=%s: %v", roomID, fileName, err)
		respondError(w, http.StatusInternalServerError, "failed to read file")
		return
	}

	contentType := mime.TypeByExtension(filepath.Ext(f.FileName))
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", f.FileName))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(f.Data)
}

// handleDeleteRoom removes a room: history and files are deleted, every
// connection in the room receives a chat_deleted frame and is then closed.
func (s *Server) handleDeleteRoom(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodDelete {
		respondError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	roomID := r.URL.Query().Get("room_id")
	if roomID == "" {
		respondError(w, http.StatusBadRequest, "room_id is required")
		return
	}

	if err := s.history.DeleteRoom(r.Context(), roomID); err != nil {
		log.Printf("server: delete history failed room=%s: %v", roomID, err)
		respondError(w, http.StatusInternalServerError, "failed to delete chat")
		return
	}
	if err := s.files.DeleteRoom(r.Context(), roomID); err != nil {
		log.Printf("server: delete files failed room=%s: %v", roomID, err)
		respondError(w, http.StatusInternalServerError, "failed to delete chat")
		return
	}

	// Notify before closing so every member sees the deletion.
	members := s.hub.Room(roomID)
	s.hub.Broadcast(roomID, protocol.EncodeChatDeleted())
	closed := s.hub.CloseRoom(roomID)
	metrics.ConnectionsTotal.Set(float64(s.hub.Count()))
	metrics.RoomsActive.Set(float64(s.hub.RoomCount()))

	// The room is gone, so its per-sender message counters are stale. Clear
	// them so the same senders start fresh if the room ID is reused.
	if s.limiter != nil {
		seen := make(map[string]bool, len(members))
		for _, m := range members {
			id := m.Sender + ":" + roomID
			if seen[id] {
				continue
			}
			seen[id] = true
			if err := s.limiter.Reset(r.Context(), id, ratelimit.RuleMessage); err != nil {
				log.Printf("server: rate limit reset failed id=%s: %v", id, err)
			}
		}
	}

	log.Printf("server: room deleted room=%s closed=%d", roomID, closed)
	respondMessage(w, http.StatusOK, "chat deleted")
}

// handleHealth responds with the server's health status as JSON, including
// connection and room counts and uptime.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)

	resp := struct {
		Status      string `json:"status"`
		Connections int    `json:"connections"`
		Rooms       int    `json:"rooms"`
		Uptime      string `json:"uptime"`
	}{
		Status:      "ok",
		Connections: s.hub.Count(),
		Rooms:       s.hub.RoomCount(),
		Uptime:      time.Since(s.startedAt).Round(time.Second).String(),
	}

	_ = json.NewEncoder(w).Encode(resp)
}

// ---------------------------------------------------------------------------
// Response helpers
// ---------------------------------------------------------------------------

func respondMessage(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"message": msg})
}

func respondError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

func remoteHost(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
