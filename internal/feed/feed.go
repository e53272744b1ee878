// Package feed maintains the ordered, append-only sequence of rendered
// message entries for the active room. All content is HTML-escaped before it
// reaches an entry and timestamps are normalized to a single display layout,
// so render layers can insert entries verbatim.
package feed

import (
	"html"
	"log"
	"sync"
	"time"
)

// TimestampLayout is the display layout for entry timestamps, rendered in
// 24-hour local time.
const TimestampLayout = "2006.01.02, 15:04:05"

// InvalidTimestamp is rendered in place of a timestamp that is absent or
// cannot be parsed. An unreadable clock must not blank or break an entry.
const InvalidTimestamp = "invalid timestamp"

// legacyTimestampLayout is the zoneless day-first layout older room servers
// put on the wire. It is taken to already be in local time.
const legacyTimestampLayout = "02.01.2006, 15:04:05"

// Entry is one rendered message unit. Content is already escaped; entries are
// appended and never mutated.
type Entry struct {
	SenderLabel string
	Content     string
	Timestamp   string
}

// Feed owns the entry sequence for one room. It is safe for concurrent use;
// the session read loop and the caller's goroutine both append.
type Feed struct {
	mu        sync.Mutex
	selfLabel string
	entries   []Entry
	now       func() time.Time
	onAppend  func(Entry)
}

// New creates an empty feed. selfLabel is the sender label applied to the
// local user's own messages.
func New(selfLabel string) *Feed {
	return &Feed{
		selfLabel: selfLabel,
		now:       time.Now,
	}
}

// OnAppend registers a callback invoked for every appended entry, local or
// remote. Render layers use it to display entries as they arrive.
func (f *Feed) OnAppend(fn func(Entry)) {
	f.mu.Lock()
	f.onAppend = fn
	f.mu.Unlock()
}

// AppendLocal appends the user's own message immediately, without waiting for
// any server echo. The server never echoes a sender's message back, so this
// is the one and only entry produced per send action.
func (f *Feed) AppendLocal(content string) Entry {
	f.mu.Lock()
	e := Entry{
		SenderLabel: f.selfLabel,
		Content:     html.EscapeString(content),
		Timestamp:   f.now().Format(TimestampLayout),
	}
	f.entries = append(f.entries, e)
	fn := f.onAppend
	f.mu.Unlock()

	if fn != nil {
		fn(e)
	}
	return e
}

// AppendRemote appends a message received from the server. If any of sender,
// content or timestamp is empty the message is dropped with a warning instead
// of rendering a broken entry; this re-checks the protocol invariant at the
// display boundary. Returns true when an entry was appended.
func (f *Feed) AppendRemote(sender, content, timestamp string) bool {
	if sender == "" || content == "" || timestamp == "" {
		log.Printf("feed: dropping incomplete chat message sender=%q content_len=%d timestamp=%q",
			sender, len(content), timestamp)
		return false
	}

	f.mu.Lock()
	e := Entry{
		SenderLabel: html.EscapeString(sender),
		Content:     html.EscapeString(content),
		Timestamp:   FormatTimestamp(timestamp),
	}
	f.entries = append(f.entries, e)
	fn := f.onAppend
	f.mu.Unlock()

	if fn != nil {
		fn(e)
	}
	return true
}

// Entries returns a snapshot of the feed in append order.
func (f *Feed) Entries() []Entry {
	f.mu.Lock()
	defer f.mu.Unlock()

	out := make([]Entry, len(f.entries))
	copy(out, f.entries)
	return out
}

// Len returns the number of entries.
func (f *Feed) Len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.entries)
}

// Empty reports whether the feed has no entries. This is derived from the
// entry sequence itself, never tracked as a separate flag.
func (f *Feed) Empty() bool {
	return f.Len() == 0
}

// Clear discards all entries. The controller calls this defensively when the
// room is deleted; the feed contents are dead at that point anyway.
func (f *Feed) Clear() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.entries = nil
}

// FormatTimestamp renders a wire timestamp as TimestampLayout in local time.
// Unparsable input renders as the InvalidTimestamp marker.
func FormatTimestamp(ts string) string {
	if t, err := time.Parse(time.RFC3339, ts); err == nil {
		return t.Local().Format(TimestampLayout)
	}
	if t, err := time.ParseInLocation(legacyTimestampLayout, ts, time.Local); err == nil {
		return t.Format(TimestampLayout)
	}
	return InvalidTimestamp
}
