// internal/client/session.go

// Package client implements the session controller game UIs consume: one
// Session object per app instance, a typed event bus keyed by message
// type, and capped exponential-backoff reconnection. A superseded close
// (the player opened a second session) never triggers auto-reconnect.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/stemplay/realtime/internal/protocol"
)

// State is the session controller's connection phase.
type State string

const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	// StateIdle means authenticated with no room or ticket.
	StateIdle   State = "idle"
	StateInRoom State = "in_room"
	StateQueued State = "queued"
)

var (
	// ErrSuperseded reports that the server closed this session because a
	// newer one took over. Callers must not reconnect automatically.
	ErrSuperseded = errors.New("session superseded by a newer connection")

	// ErrRetriesExhausted is the terminal reconnect failure surfaced to
	// the UI after the attempt cap.
	ErrRetriesExhausted = errors.New("reconnect attempts exhausted")
)

// RetryPolicy controls reconnect pacing: BaseDelay before the first
// retry, multiplied by Multiplier each attempt, up to MaxAttempts.
type RetryPolicy struct {
	BaseDelay   time.Duration
	Multiplier  float64
	MaxAttempts int
}

// DefaultRetryPolicy doubles a 1s delay across 5 attempts.
var DefaultRetryPolicy = RetryPolicy{
	BaseDelay:   time.Second,
	Multiplier:  2,
	MaxAttempts: 5,
}

// Delay returns the pause before the given attempt (1-based).
func (p RetryPolicy) Delay(attempt int) time.Duration {
	d := float64(p.BaseDelay)
	for i := 1; i < attempt; i++ {
		d *= p.Multiplier
	}
	return time.Duration(d)
}

// Handler receives the raw frame of one subscribed message type.
type Handler func(raw json.RawMessage)

// transport is the subset of the websocket the session needs, extracted
// so the reconnect and dispatch logic can be tested without a network.
type transport interface {
	Read(ctx context.Context) ([]byte, error)
	Write(ctx context.Context, data []byte) error
	Close(code websocket.StatusCode, reason string) error
}

type wsTransport struct {
	c *websocket.Conn
}

func (t wsTransport) Read(ctx context.Context) ([]byte, error) {
	_, data, err := t.c.Read(ctx)
	return data, err
}

func (t wsTransport) Write(ctx context.Context, data []byte) error {
	return t.c.Write(ctx, websocket.MessageText, data)
}

func (t wsTransport) Close(code websocket.StatusCode, reason string) error {
	return t.c.Close(code, reason)
}

// Session is one player's connection to the realtime server. Construct
// with NewSession per app instance; it is not process-wide state.
type Session struct {
	retry  RetryPolicy
	logger *logrus.Logger

	dial func(ctx context.Context) (transport, error)

	mu        sync.Mutex
	state     State
	conn      transport
	handlers  map[string]map[int]Handler
	nextSubID int
	stopping  bool
}

// NewSession prepares a session for the given endpoint and token. Run
// must be called to actually connect.
func NewSession(url, token string, retry RetryPolicy, logger *logrus.Logger) *Session {
	s := &Session{
		retry:    retry,
		logger:   logger,
		state:    StateDisconnected,
		handlers: make(map[string]map[int]Handler),
	}
	s.dial = func(ctx context.Context) (transport, error) {
		conn, _, err := websocket.Dial(ctx, url+"?token="+token, &websocket.DialOptions{
			Subprotocols: []string{"realtime"},
		})
		if err != nil {
			return nil, err
		}
		conn.SetReadLimit(protocol.MaxFrameSize + 1024)
		return wsTransport{c: conn}, nil
	}
	return s
}

// State returns the current connection phase.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) setState(st State) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
}

// On subscribes a handler to a message type and returns a subscription
// id for Off.
func (s *Session) On(msgType string, h Handler) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextSubID++
	if s.handlers[msgType] == nil {
		s.handlers[msgType] = make(map[int]Handler)
	}
	s.handlers[msgType][s.nextSubID] = h
	return s.nextSubID
}

// Off removes a subscription.
func (s *Session) Off(msgType string, id int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.handlers[msgType], id)
}

// Run connects and keeps the session alive until ctx is cancelled, the
// client calls Disconnect, the server supersedes this session, or the
// retry attempts are exhausted. The returned error is the terminal reason;
// nil means an intentional or clean shutdown.
func (s *Session) Run(ctx context.Context) error {
	attempt := 0
	for {
		s.setState(StateConnecting)
		conn, err := s.dial(ctx)
		if err == nil {
			attempt = 0
			s.mu.Lock()
			s.conn = conn
			s.mu.Unlock()

			err = s.readLoop(ctx, conn)

			s.mu.Lock()
			s.conn = nil
			stopping := s.stopping
			s.mu.Unlock()
			s.setState(StateDisconnected)

			if stopping || ctx.Err() != nil {
				return nil
			}
			switch websocket.CloseStatus(err) {
			case protocol.CloseSuperseded:
				return ErrSuperseded
			case websocket.StatusNormalClosure, websocket.StatusGoingAway:
				return nil
			}
			s.logger.WithError(err).Warn("connection lost, reconnecting")
		} else if ctx.Err() != nil {
			return nil
		}

		attempt++
		if attempt > s.retry.MaxAttempts {
			s.setState(StateDisconnected)
			return ErrRetriesExhausted
		}
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(s.retry.Delay(attempt)):
		}
	}
}

// Disconnect shuts the session down for good.
func (s *Session) Disconnect() {
	s.mu.Lock()
	s.stopping = true
	conn := s.conn
	s.mu.Unlock()
	if conn != nil {
		conn.Close(websocket.StatusNormalClosure, "client disconnect")
	}
}

func (s *Session) readLoop(ctx context.Context, conn transport) error {
	for {
		data, err := conn.Read(ctx)
		if err != nil {
			return err
		}
		s.dispatch(data)
	}
}

// dispatch routes one inbound frame through the event bus. Unknown
// types are ignored, not fatal.
func (s *Session) dispatch(data []byte) {
	env, err := protocol.Decode(data)
	if err != nil {
		s.logger.WithError(err).Warn("dropping malformed server frame")
		return
	}

	s.trackState(env.Type)

	s.mu.Lock()
	subs := make([]Handler, 0, len(s.handlers[env.Type]))
	for _, h := range s.handlers[env.Type] {
		subs = append(subs, h)
	}
	s.mu.Unlock()

	for _, h := range subs {
		h(json.RawMessage(data))
	}
}

// trackState derives the post-auth phase from server messages.
func (s *Session) trackState(msgType string) {
	switch msgType {
	case protocol.MsgConnected:
		s.setState(StateIdle)
	case protocol.MsgQueueJoined:
		s.setState(StateQueued)
	case protocol.MsgQueueCancelled:
		s.setState(StateIdle)
	case protocol.MsgRoomUpdate, protocol.MsgMatchFound, protocol.MsgGameStarted:
		s.setState(StateInRoom)
	}
}

func (s *Session) send(v interface{}) error {
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	if conn == nil {
		return errors.New("not connected")
	}
	data, err := protocol.Encode(v)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return conn.Write(ctx, data)
}

// --- outbound helpers ---

type typedMsg struct {
	Type string `json:"type"`
}

func (s *Session) JoinRoom(roomID uuid.UUID) error {
	return s.send(struct {
		Type   string    `json:"type"`
		RoomID uuid.UUID `json:"roomId"`
	}{protocol.MsgJoinRoom, roomID})
}

func (s *Session) LeaveRoom() error {
	if err := s.send(typedMsg{protocol.MsgLeaveRoom}); err != nil {
		return err
	}
	s.setState(StateIdle)
	return nil
}

func (s *Session) Ready(ready bool) error {
	return s.send(struct {
		Type  string `json:"type"`
		Ready bool   `json:"ready"`
	}{protocol.MsgReady, ready})
}

func (s *Session) StartGame() error {
	return s.send(typedMsg{protocol.MsgStartGame})
}

func (s *Session) SendAction(action json.RawMessage) error {
	return s.send(struct {
		Type   string          `json:"type"`
		Action json.RawMessage `json:"action"`
	}{protocol.MsgGameAction, action})
}

func (s *Session) SendChat(message string) error {
	return s.send(struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	}{protocol.MsgChat, message})
}

func (s *Session) QueueRanked(p protocol.QueueRankedPayload) error {
	return s.send(struct {
		Type string `json:"type"`
		protocol.QueueRankedPayload
	}{protocol.MsgQueueRanked, p})
}

func (s *Session) CancelQueue() error {
	return s.send(typedMsg{protocol.MsgCancelQueue})
}

func (s *Session) InviteFriend(friendID, roomID uuid.UUID, gameID string) error {
	return s.send(struct {
		Type     string    `json:"type"`
		FriendID uuid.UUID `json:"friendId"`
		RoomID   uuid.UUID `json:"roomId"`
		GameID   string    `json:"gameId"`
	}{protocol.MsgFriendInvite, friendID, roomID, gameID})
}

func (s *Session) Ping() error {
	return s.send(typedMsg{protocol.MsgPing})
}
