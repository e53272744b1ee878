// Package registry is the HTTP client for the room file registry: listing
// and uploading attachments and constructing download links. It is
// independent of the live WebSocket connection; the registry itself is the
// source of truth, so the client holds no cache and callers re-list after
// every upload.
package registry

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Attachment is one file known to the registry for a room. The collection
// order is whatever the server returned; the client neither sorts nor dedups.
type Attachment struct {
	FileName string `json:"file_name"`
	FileSize int64  `json:"file_size"`
}

var (
	// ErrRegistryUnavailable marks a failed registry call. It is retryable:
	// re-invoking the operation is the recovery path.
	ErrRegistryUnavailable = errors.New("registry: unavailable")

	// ErrNoFileSelected is returned by Upload before any network call when
	// no file was provided.
	ErrNoFileSelected = errors.New("registry: no file selected")
)

// Client talks to the registry endpoints under a base URL such as
// "http://host:8080".
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient creates a registry client for the given base URL.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 15 * time.Second},
	}
}

// List fetches the attachments for a room. On any failure it surfaces
// ErrRegistryUnavailable and returns an empty sequence; it never panics or
// leaks transport errors past this boundary.
func (c *Client) List(ctx context.Context, roomID string) ([]Attachment, error) {
	u := c.baseURL + "/messenger/chat/files?room_id=" + url.QueryEscape(roomID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return []Attachment{}, fmt.Errorf("%w: %v", ErrRegistryUnavailable, err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return []Attachment{}, fmt.Errorf("%w: %v", ErrRegistryUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return []Attachment{}, fmt.Errorf("%w: %s", ErrRegistryUnavailable, serverError(resp))
	}

	var files []Attachment
	if err := json.NewDecoder(resp.Body).Decode(&files); err != nil {
		return []Attachment{}, fmt.Errorf("%w: decode listing: %v", ErrRegistryUnavailable, err)
	}
	if files == nil {
		files = []Attachment{}
	}
	return files, nil
}

// Upload sends one file to the registry as the multipart "file" field and
// returns the server's confirmation message. sender is recorded with the
// stored file; empty means the registry attributes the upload itself. Calling
// Upload with no file name or no reader fails with ErrNoFileSelected before
// any network activity. After a successful upload the caller must re-invoke
// List to refresh state.
func (c *Client) Upload(ctx context.Context, roomID, sender, fileName string, r io.Reader) (string, error) {
	if fileName == "" || r == nil {
		return "", ErrNoFileSelected
	}

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	if sender != "" {
		if err := mw.WriteField("sender", sender); err != nil {
			return "", fmt.Errorf("registry: build upload: %w", err)
		}
	}
	part, err := mw.CreateFormFile("file", fileName)
	if err != nil {
		return "", fmt.Errorf("registry: build upload: %w", err)
	}
	if _, err := io.Copy(part, r); err != nil {
		return "", fmt.Errorf("registry: read file: %w", err)
	}
	if err := mw.Close(); err != nil {
		return "", fmt.Errorf("registry: build upload: %w", err)
	}

	u := c.baseURL + "/messenger/chat/send-file?room_id=" + url.QueryEscape(roomID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, &body)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrRegistryUnavailable, err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrRegistryUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", fmt.Errorf("%w: %s", ErrRegistryUnavailable, serverError(resp))
	}

	var out struct {
		Message string `json:"message"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("%w: decode response: %v", ErrRegistryUnavailable, err)
	}
	return out.Message, nil
}

// DownloadURL builds the direct download link for a file. Downloads carry no
// client-side logic beyond escaping both parameters.
func (c *Client) DownloadURL(roomID, fileName string) string {
	return c.baseURL + "/messenger/chat/download-file?room_id=" +
		url.QueryEscape(roomID) + "&file_name=" + url.QueryEscape(fileName)
}

// DeleteRoom issues the room deletion action and returns the server's
// confirmation message. On failure the returned error carries the server's
// error text verbatim so it can be shown to the user unchanged.
func (c *Client) DeleteRoom(ctx context.Context, roomID string) (string, error) {
	u := c.baseURL + "/messenger/chat?room_id=" + url.QueryEscape(roomID)
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, u, nil)
	if err != nil {
		return "", fmt.Errorf("registry: delete room: %w", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("registry: delete room: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", errors.New(serverError(resp))
	}

	var out struct {
		Message string `json:"message"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("registry: decode response: %w", err)
	}
	return out.Message, nil
}

// serverError extracts the {"error": ...} body of a failed response, falling
// back to the HTTP status when the body is unusable.
func serverError(resp *http.Response) string {
	var out struct {
		Error string `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err == nil && out.Error != "" {
		return out.Error
	}
	return "unexpected status " + resp.Status
}
