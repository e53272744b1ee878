// Package history stores per-room chat history and room metadata in Redis.
// History is a capped list per room; rooms expire after a period of
// inactivity and every append refreshes the TTL.
package history

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	// RoomPrefix is the Redis key prefix for room metadata hashes.
	RoomPrefix = "room:"

	// historySuffix extends a room key to its history list.
	historySuffix = ":history"

	// MaxHistoryMessages caps the retained history per room; older entries
	// are trimmed on append.
	MaxHistoryMessages = 500

	// RoomTTL is how long an inactive room's keys survive.
	RoomTTL = 7 * 24 * time.Hour
)

// Event is one stored chat message. Timestamp is the RFC3339 string that was
// broadcast on the wire, so replays render identically to live messages.
type Event struct {
	Sender    string `json:"sender"`
	Content   string `json:"content"`
	Timestamp string `json:"timestamp"`
}

// Store manages room history in Redis.
type Store struct {
	rdb *redis.Client
}

// NewStore connects to Redis and verifies the connection.
func NewStore(addr string) (*Store, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr: addr,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("history: redis connection failed: %w", err)
	}

	return &Store{rdb: rdb}, nil
}

// NewStoreWithClient wraps an existing Redis client.
func NewStoreWithClient(rdb *redis.Client) *Store {
	return &Store{rdb: rdb}
}

// EnsureRoom creates the room metadata hash if it does not exist yet and
// refreshes its TTL. Rooms come into being on first connect.
func (s *Store) EnsureRoom(ctx context.Context, roomID string) error {
	key := RoomPrefix + roomID

	pipe := s.rdb.Pipeline()
	pipe.HSetNX(ctx, key, "created_at", time.Now().Unix())
	pipe.Expire(ctx, key, RoomTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("history: ensure room %s: %w", roomID, err)
	}
	return nil
}

// RoomExists reports whether the room metadata key is present.
func (s *Store) RoomExists(ctx context.Context, roomID string) (bool, error) {
	n, err := s.rdb.Exists(ctx, RoomPrefix+roomID).Result()
	if err != nil {
		return false, fmt.Errorf("history: room exists %s: %w", roomID, err)
	}
	return n > 0, nil
}

// Append stores an event at the tail of the room's history, trims the list
// to the retention cap and refreshes the room TTL.
func (s *Store) Append(ctx context.Context, roomID string, e Event) error {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("history: marshal event: %w", err)
	}
	key := RoomPrefix + roomID + historySuffix

	pipe := s.rdb.Pipeline()
	pipe.RPush(ctx, key, data)
	pipe.LTrim(ctx, key, -MaxHistoryMessages, -1)
	pipe.Expire(ctx, key, RoomTTL)
	pipe.Expire(ctx, RoomPrefix+roomID, RoomTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("history: append to %s: %w", roomID, err)
	}
	return nil
}

// Recent returns up to n most recent events in chronological order. Entries
// that fail to unmarshal are skipped with a warning; one corrupt record must
// not hide the rest of the history.
func (s *Store) Recent(ctx context.Context, roomID string, n int) ([]Event, error) {
	key := RoomPrefix + roomID + historySuffix

	raw, err := s.rdb.LRange(ctx, key, int64(-n), -1).Result()
	if err != nil {
		return nil, fmt.Errorf("history: recent %s: %w", roomID, err)
	}

	events := make([]Event, 0, len(raw))
	for _, item := range raw {
		var e Event
		if err := json.Unmarshal([]byte(item), &e); err != nil {
			log.Printf("history: skipping corrupt record room=%s: %v", roomID, err)
			continue
		}
		events = append(events, e)
	}
	return events, nil
}

// DeleteRoom removes the room metadata and its history.
func (s *Store) DeleteRoom(ctx context.Context, roomID string) error {
	err := s.rdb.Del(ctx, RoomPrefix+roomID, RoomPrefix+roomID+historySuffix).Err()
	if err != nil {
		return fmt.Errorf("history: delete room %s: %w", roomID, err)
	}
	return nil
}

// Client exposes the underlying Redis client for components that share the
// connection, such as the rate limiter.
func (s *Store) Client() *redis.Client {
	return s.rdb
}

// Close closes the Redis connection.
func (s *Store) Close() error {
	return s.rdb.Close()
}
