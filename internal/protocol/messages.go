// Package protocol defines the typed JSON envelope exchanged over a room's
// WebSocket connection and the codec for it. Every frame carries a "type"
// discriminator; the recognized types are chat, chat_deleted and user_joined.
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ---------------------------------------------------------------------------
// Message type constants
// ---------------------------------------------------------------------------

const (
	// TypeChat is a text message. Client -> server frames carry content and
	// room_id; server -> client frames carry sender, content and timestamp.
	TypeChat = "chat"

	// TypeChatDeleted announces that the room was deleted. Server -> client
	// only; the codec refuses to encode it.
	TypeChatDeleted = "chat_deleted"

	// TypeUserJoined announces the client's arrival in a room. Client ->
	// server only.
	TypeUserJoined = "user_joined"
)

// ---------------------------------------------------------------------------
// Decode errors
// ---------------------------------------------------------------------------

// Decode errors are non-fatal: the caller logs, discards the frame and keeps
// the connection open.
var (
	// ErrMalformedPayload marks frames that are not well-formed JSON, lack a
	// type discriminator, or carry a chat body with required fields missing.
	ErrMalformedPayload = errors.New("protocol: malformed payload")

	// ErrUnknownMessageType marks frames whose type is not recognized.
	ErrUnknownMessageType = errors.New("protocol: unknown message type")

	// ErrEmptyContent is returned by EncodeChat when the content is empty
	// after trimming. An empty chat message is never put on the wire.
	ErrEmptyContent = errors.New("protocol: empty message content")

	// ErrMissingRoomID is returned by the encoders when no room is bound.
	ErrMissingRoomID = errors.New("protocol: missing room id")
)

// ---------------------------------------------------------------------------
// Message
// ---------------------------------------------------------------------------

// Message is the decoded envelope. Which fields are populated depends on the
// type and direction: a server-form chat carries Sender, Content and
// Timestamp; a client-form chat carries Content and RoomID; user_joined
// carries only RoomID; chat_deleted carries nothing.
type Message struct {
	Type      string
	Sender    string
	Content   string
	Timestamp string
	RoomID    string
}

// chatWire is the wire representation of a chat frame in either direction.
type chatWire struct {
	Type      string `json:"type"`
	Sender    string `json:"sender,omitempty"`
	Content   string `json:"content"`
	Timestamp string `json:"timestamp,omitempty"`
	RoomID    string `json:"room_id,omitempty"`
}

// userJoinedWire is the wire representation of a user_joined frame. The
// roomID key (not room_id) is the historical wire contract for this type.
type userJoinedWire struct {
	Type   string `json:"type"`
	RoomID string `json:"roomID"`
}

// ---------------------------------------------------------------------------
// Decode
// ---------------------------------------------------------------------------

// Decode parses raw frame bytes into a Message. A chat frame must be fully
// populated in at least one direction's form: sender+content+timestamp
// (server form) or content+room_id (client form). Partially populated chat
// frames are rejected as malformed rather than surfaced as broken entries,
// which guards against protocol drift between server and client.
func Decode(data []byte) (Message, error) {
	var env struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &env); err != nil {
		return Message{}, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	if env.Type == "" {
		return Message{}, fmt.Errorf("%w: missing \"type\" field", ErrMalformedPayload)
	}

	switch env.Type {
	case TypeChat:
		var w chatWire
		if err := json.Unmarshal(data, &w); err != nil {
			return Message{}, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
		}
		serverForm := w.Sender != "" && w.Content != "" && w.Timestamp != ""
		clientForm := w.Content != "" && w.RoomID != ""
		if !serverForm && !clientForm {
			return Message{}, fmt.Errorf("%w: incomplete chat message", ErrMalformedPayload)
		}
		return Message{
			Type:      TypeChat,
			Sender:    w.Sender,
			Content:   w.Content,
			Timestamp: w.Timestamp,
			RoomID:    w.RoomID,
		}, nil

	case TypeChatDeleted:
		return Message{Type: TypeChatDeleted}, nil

	case TypeUserJoined:
		var w userJoinedWire
		if err := json.Unmarshal(data, &w); err != nil {
			return Message{}, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
		}
		return Message{Type: TypeUserJoined, RoomID: w.RoomID}, nil

	default:
		return Message{}, fmt.Errorf("%w: %q", ErrUnknownMessageType, env.Type)
	}
}

// ---------------------------------------------------------------------------
// Encode
// ---------------------------------------------------------------------------

// EncodeChat builds the client -> server chat frame for the given room. The
// content is whitespace-trimmed first; content that trims to nothing yields
// ErrEmptyContent and no frame.
func EncodeChat(roomID, content string) ([]byte, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return nil, ErrEmptyContent
	}
	if roomID == "" {
		return nil, ErrMissingRoomID
	}
	data, err := json.Marshal(chatWire{
		Type:    TypeChat,
		Content: content,
		RoomID:  roomID,
	})
	if err != nil {
		return nil, fmt.Errorf("protocol: marshal chat: %w", err)
	}
	return data, nil
}

// EncodeUserJoined builds the client -> server join announcement.
func EncodeUserJoined(roomID string) ([]byte, error) {
	if roomID == "" {
		return nil, ErrMissingRoomID
	}
	data, err := json.Marshal(userJoinedWire{
		Type:   TypeUserJoined,
		RoomID: roomID,
	})
	if err != nil {
		return nil, fmt.Errorf("protocol: marshal user_joined: %w", err)
	}
	return data, nil
}

// EncodeServerChat builds the server -> client chat frame. The timestamp is
// passed through as a preformatted string so the server controls the clock.
func EncodeServerChat(sender, content, timestamp string) ([]byte, error) {
	if sender == "" || content == "" || timestamp == "" {
		return nil, fmt.Errorf("%w: incomplete server chat", ErrMalformedPayload)
	}
	data, err := json.Marshal(chatWire{
		Type:      TypeChat,
		Sender:    sender,
		Content:   content,
		Timestamp: timestamp,
	})
	if err != nil {
		return nil, fmt.Errorf("protocol: marshal server chat: %w", err)
	}
	return data, nil
}

// EncodeChatDeleted builds the server -> client room deletion broadcast.
// Only the server side calls this; the client core never encodes it.
func EncodeChatDeleted() []byte {
	return []byte(`{"type":"chat_deleted"}`)
}
