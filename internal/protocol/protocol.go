// internal/protocol/protocol.go
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

// MaxFrameSize is the hard limit for a single JSON frame in either direction.
// Oversized frames are rejected before any payload parsing happens.
const MaxFrameSize = 64 * 1024

// MaxChatLength is the maximum number of characters (runes) in a chat message.
const MaxChatLength = 500

var (
	// ErrFrameTooLarge indicates an inbound frame exceeded MaxFrameSize.
	ErrFrameTooLarge = errors.New("frame exceeds 64KB limit")

	// ErrMalformed indicates the frame was not a valid JSON envelope.
	ErrMalformed = errors.New("malformed message")

	// ErrMissingType indicates a syntactically valid frame with no "type" field.
	ErrMissingType = errors.New("message has no type")

	// ErrChatTooLong indicates a chat payload over MaxChatLength characters.
	ErrChatTooLong = fmt.Errorf("chat message exceeds %d characters", MaxChatLength)
)

// Client -> server message types.
const (
	MsgJoinRoom     = "join_room"
	MsgLeaveRoom    = "leave_room"
	MsgReady        = "ready"
	MsgStartGame    = "start_game"
	MsgGameAction   = "game_action"
	MsgChat         = "chat"
	MsgQueueRanked  = "queue_ranked"
	MsgCancelQueue  = "cancel_queue"
	MsgFriendInvite = "friend_invite"
	MsgPing         = "ping"
)

// Server -> client message types.
const (
	MsgConnected      = "connected"
	MsgRoomUpdate     = "room_update"
	MsgPlayerJoined   = "player_joined"
	MsgPlayerLeft     = "player_left"
	MsgGameStarted    = "game_started"
	MsgGameOver       = "game_over"
	MsgMatchFound     = "match_found"
	MsgQueueJoined    = "queue_joined"
	MsgQueueCancelled = "queue_cancelled"
	MsgInviteSent     = "invite_sent"
	MsgPong           = "pong"
	MsgError          = "error"
)

// Envelope is a decoded-but-unbound inbound frame. Type routing happens on
// Type; the raw bytes are retained so the payload can be bound to a typed
// struct once the route is known.
type Envelope struct {
	Type string
	raw  json.RawMessage
}

// Decode validates framing rules (size limit, valid JSON object, non-empty
// type) and returns an Envelope ready for Bind.
func Decode(data []byte) (Envelope, error) {
	if len(data) > MaxFrameSize {
		return Envelope{}, ErrFrameTooLarge
	}
	var head struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return Envelope{}, ErrMalformed
	}
	if head.Type == "" {
		return Envelope{}, ErrMissingType
	}
	return Envelope{Type: head.Type, raw: json.RawMessage(data)}, nil
}

// Bind unmarshals the envelope's remaining fields into v.
func (e Envelope) Bind(v interface{}) error {
	if err := json.Unmarshal(e.raw, v); err != nil {
		return ErrMalformed
	}
	return nil
}

// Encode marshals an outbound message and enforces the frame limit on the
// way out as well, so a pathological payload cannot push an oversized frame
// to clients.
func Encode(v interface{}) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode message: %w", err)
	}
	if len(data) > MaxFrameSize {
		return nil, ErrFrameTooLarge
	}
	return data, nil
}
