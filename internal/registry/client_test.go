package registry

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

// ---------------------------------------------------------------------------
// Test: Listing attachments preserves server order
// ---------------------------------------------------------------------------

func TestList(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/messenger/chat/files" {
			t.Errorf("unexpected path %q", r.URL.Path)
		}
		if got := r.URL.Query().Get("room_id"); got != "abc123" {
			t.Errorf("expected room_id abc123, got %q", got)
		}
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `[{"file_name":"b.pdf","file_size":2048},{"file_name":"a.png","file_size":17}]`)
	}))
	defer srv.Close()

	files, err := NewClient(srv.URL).List(context.Background(), "abc123")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(files) != 2 {
		t.Fatalf("expected 2 files, got %d", len(files))
	}
	if files[0].FileName != "b.pdf" || files[0].FileSize != 2048 {
		t.Errorf("unexpected first file: %+v", files[0])
	}
	if files[1].FileName != "a.png" {
		t.Errorf("server order not preserved: %+v", files)
	}
}

// ---------------------------------------------------------------------------
// Test: An empty listing is zero items, not an error
// ---------------------------------------------------------------------------

func TestList_Empty(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `[]`)
	}))
	defer srv.Close()

	files, err := NewClient(srv.URL).List(context.Background(), "abc123")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(files) != 0 {
		t.Fatalf("expected 0 files, got %d", len(files))
	}
}

// ---------------------------------------------------------------------------
// Test: Non-2xx listing surfaces RegistryUnavailable with an empty sequence
// ---------------------------------------------------------------------------

func TestList_Unavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		io.WriteString(w, `{"error":"database down"}`)
	}))
	defer srv.Close()

	files, err := NewClient(srv.URL).List(context.Background(), "abc123")
	if !errors.Is(err, ErrRegistryUnavailable) {
		t.Fatalf("expected ErrRegistryUnavailable, got %v", err)
	}
	if !strings.Contains(err.Error(), "database down") {
		t.Errorf("server error text missing from %q", err.Error())
	}
	if files == nil || len(files) != 0 {
		t.Errorf("expected empty sequence, got %v", files)
	}
}

// ---------------------------------------------------------------------------
// Test: Upload precondition fires before any network call
// ---------------------------------------------------------------------------

func TestUpload_NoFileSelected(t *testing.T) {
	called := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))
	defer srv.Close()

	c := NewClient(srv.URL)
	if _, err := c.Upload(context.Background(), "abc123", "alice", "", strings.NewReader("x")); !errors.Is(err, ErrNoFileSelected) {
		t.Fatalf("expected ErrNoFileSelected, got %v", err)
	}
	if _, err := c.Upload(context.Background(), "abc123", "alice", "a.png", nil); !errors.Is(err, ErrNoFileSelected) {
		t.Fatalf("expected ErrNoFileSelected, got %v", err)
	}
	if called {
		t.Error("precondition failure must not reach the network")
	}
}

// ---------------------------------------------------------------------------
// Test: Upload posts the multipart "file" field and the sender
// ---------------------------------------------------------------------------

func TestUpload(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("expected POST, got %s", r.Method)
		}
		if got := r.FormValue("sender"); got != "alice" {
			t.Errorf("expected sender=alice, got %q", got)
		}
		f, hdr, err := r.FormFile("file")
		if err != nil {
			t.Fatalf("missing multipart file field: %v", err)
		}
		defer f.Close()
		if hdr.Filename != "notes.pdf" {
			t.Errorf("expected file name notes.pdf, got %q", hdr.Filename)
		}
		data, _ := io.ReadAll(f)
		if string(data) != "payload" {
			t.Errorf("unexpected file body %q", data)
		}
		io.WriteString(w, `{"message":"file stored"}`)
	}))
	defer srv.Close()

	msg, err := NewClient(srv.URL).Upload(context.Background(), "abc123", "alice", "notes.pdf", strings.NewReader("payload"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if msg != "file stored" {
		t.Errorf("expected server message, got %q", msg)
	}
}

func TestUpload_ServerRejects(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		io.WriteString(w, `{"error":"unsupported file type"}`)
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL).Upload(context.Background(), "abc123", "alice", "x.exe", strings.NewReader("x"))
	if !errors.Is(err, ErrRegistryUnavailable) {
		t.Fatalf("expected ErrRegistryUnavailable, got %v", err)
	}
	if !strings.Contains(err.Error(), "unsupported file type") {
		t.Errorf("server error text missing from %q", err.Error())
	}
}

// ---------------------------------------------------------------------------
// Test: Download links escape both parameters
// ---------------------------------------------------------------------------

func TestDownloadURL(t *testing.T) {
	c := NewClient("http://host:8080")
	got := c.DownloadURL("room/1", "my file.png")
	want := "http://host:8080/messenger/chat/download-file?room_id=room%2F1&file_name=my+file.png"
	if got != want {
		t.Errorf("DownloadURL = %q, want %q", got, want)
	}
}

// ---------------------------------------------------------------------------
// Test: Room deletion returns server text verbatim
// ---------------------------------------------------------------------------

func TestDeleteRoom(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodDelete {
			t.Errorf("expected DELETE, got %s", r.Method)
		}
		io.WriteString(w, `{"message":"room deleted"}`)
	}))
	defer srv.Close()

	msg, err := NewClient(srv.URL).DeleteRoom(context.Background(), "abc123")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if msg != "room deleted" {
		t.Errorf("expected confirmation, got %q", msg)
	}
}

func TestDeleteRoom_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		io.WriteString(w, `{"error":"you are not a participant of this room"}`)
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL).DeleteRoom(context.Background(), "abc123")
	if err == nil {
		t.Fatal("expected an error")
	}
	if err.Error() != "you are not a participant of this room" {
		t.Errorf("expected verbatim server error, got %q", err.Error())
	}
}
