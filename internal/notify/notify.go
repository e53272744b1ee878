// Package notify implements the transient user-facing alert channel. Every
// success and failure from the session, the registry client and room deletion
// surfaces here; nothing is dropped silently past this boundary. Notices
// coexist and each self-dismisses independently after a fixed interval.
package notify

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Severity classifies a notice for the render layer.
type Severity string

const (
	SeverityInfo    Severity = "info"
	SeveritySuccess Severity = "success"
	SeverityWarning Severity = "warning"
	SeverityDanger  Severity = "danger"
)

// DefaultTTL is how long a notice stays active before self-dismissing.
const DefaultTTL = 5 * time.Second

// Notice is a single transient alert.
type Notice struct {
	ID        string
	Title     string
	Message   string
	Severity  Severity
	CreatedAt time.Time
}

// Center holds the active notice set. It is safe for concurrent use.
type Center struct {
	mu       sync.Mutex
	ttl      time.Duration
	active   []Notice
	timers   map[string]*time.Timer
	onNotify func(Notice)
}

// NewCenter creates a Center with the default self-dismiss interval.
func NewCenter() *Center {
	return NewCenterTTL(DefaultTTL)
}

// NewCenterTTL creates a Center whose notices dismiss after ttl. A zero or
// negative ttl keeps notices until Dismiss is called explicitly.
func NewCenterTTL(ttl time.Duration) *Center {
	return &Center{
		ttl:    ttl,
		timers: make(map[string]*time.Timer),
	}
}

// OnNotify registers a callback invoked for every new notice, outside the
// center's lock. Render layers (the CLI) use this to print notices as they
// arrive. Registering a second callback replaces the first.
func (c *Center) OnNotify(fn func(Notice)) {
	c.mu.Lock()
	c.onNotify = fn
	c.mu.Unlock()
}

// Notify enqueues a notice and schedules its self-dismissal. It returns the
// notice so callers can reference its ID.
func (c *Center) Notify(title, message string, severity Severity) Notice {
	n := Notice{
		ID:        uuid.New().String(),
		Title:     title,
		Message:   message,
		Severity:  severity,
		CreatedAt: time.Now(),
	}

	c.mu.Lock()
	c.active = append(c.active, n)
	if c.ttl > 0 {
		c.timers[n.ID] = time.AfterFunc(c.ttl, func() { c.Dismiss(n.ID) })
	}
	fn := c.onNotify
	c.mu.Unlock()

	if fn != nil {
		fn(n)
	}
	return n
}

// Dismiss removes a notice from the active set. Dismissing an unknown or
// already-dismissed ID has no effect.
func (c *Center) Dismiss(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if t, ok := c.timers[id]; ok {
		t.Stop()
		delete(c.timers, id)
	}
	for i, n := range c.active {
		if n.ID == id {
			c.active = append(c.active[:i], c.active[i+1:]...)
			return
		}
	}
}

// Active returns the current notices in arrival order.
func (c *Center) Active() []Notice {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]Notice, len(c.active))
	copy(out, c.active)
	return out
}
