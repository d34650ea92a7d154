// internal/session/conn.go
package session

import (
	"context"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/stemplay/realtime/internal/protocol"
)

// outboundQueueSize bounds the per-connection send queue. A full queue means
// the peer is not draining; the connection is dropped rather than letting it
// stall fan-out to the rest of the room.
const outboundQueueSize = 32

// writeTimeout caps a single frame write to the socket.
const writeTimeout = 5 * time.Second

// transport abstracts the underlying socket so the registry, relay, and
// heartbeat supervisor can be exercised in tests without a network.
type transport interface {
	Write(ctx context.Context, data []byte) error
	Ping(ctx context.Context) error
	Close(code websocket.StatusCode, reason string) error
}

type wsTransport struct {
	c *websocket.Conn
}

func (t wsTransport) Write(ctx context.Context, data []byte) error {
	return t.c.Write(ctx, websocket.MessageText, data)
}

func (t wsTransport) Ping(ctx context.Context) error {
	return t.c.Ping(ctx)
}

func (t wsTransport) Close(code websocket.StatusCode, reason string) error {
	return t.c.Close(code, reason)
}

// Conn is one live transport session for an authenticated player. All writes
// go through the bounded outbound queue and are serialized by WritePump, so
// concurrent broadcasts never interleave partial frames.
type Conn struct {
	PlayerID    uuid.UUID
	RemoteAddr  string
	ConnectedAt time.Time

	sock   transport
	logger *logrus.Logger

	outChan chan []byte
	done    chan struct{}

	mu            sync.Mutex
	currentRoomID uuid.UUID
	lastPongAt    time.Time
	missedPongs   int
	closed        bool
	closeCode     websocket.StatusCode
	closeReason   string
}

// NewConn wraps an accepted websocket for the given player.
func NewConn(playerID uuid.UUID, ws *websocket.Conn, remoteAddr string, logger *logrus.Logger) *Conn {
	return newConn(playerID, wsTransport{c: ws}, remoteAddr, logger)
}

func newConn(playerID uuid.UUID, t transport, remoteAddr string, logger *logrus.Logger) *Conn {
	now := time.Now()
	return &Conn{
		PlayerID:    playerID,
		RemoteAddr:  remoteAddr,
		ConnectedAt: now,
		sock:        t,
		logger:      logger,
		outChan:     make(chan []byte, outboundQueueSize),
		done:        make(chan struct{}),
		lastPongAt:  now,
	}
}

// Send marshals v and enqueues it without blocking. If the queue is full the
// connection is dropped; slow consumers must not hold up their room.
func (c *Conn) Send(v interface{}) {
	data, err := protocol.Encode(v)
	if err != nil {
		c.logger.Warnf("conn %s: failed to encode outbound message: %v", c.PlayerID, err)
		return
	}
	select {
	case c.outChan <- data:
	case <-c.done:
	default:
		c.logger.Warnf("conn %s: outbound queue full, dropping connection", c.PlayerID)
		go c.Close(websocket.StatusPolicyViolation, "outbound queue overflow")
	}
}

// SendError is a convenience for the error{message} frame.
func (c *Conn) SendError(msg string) {
	c.Send(protocol.Error(msg))
}

// WritePump drains the outbound queue onto the socket. It runs in its own
// goroutine per connection and exits when the connection closes or the
// context is cancelled.
func (c *Conn) WritePump(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-c.done:
			return
		case data := <-c.outChan:
			writeCtx, cancel := context.WithTimeout(ctx, writeTimeout)
			err := c.sock.Write(writeCtx, data)
			cancel()
			if err != nil {
				c.logger.Warnf("conn %s: write failed: %v", c.PlayerID, err)
				c.Close(websocket.StatusGoingAway, "write failure")
				return
			}
		}
	}
}

// Ping sends a transport-level ping and waits for the pong.
func (c *Conn) Ping(ctx context.Context) error {
	return c.sock.Ping(ctx)
}

// Close tears the connection down exactly once with the given close code.
// Later calls are no-ops so a supersede and a read-loop exit cannot race
// into a double close.
func (c *Conn) Close(code websocket.StatusCode, reason string) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.closeCode = code
	c.closeReason = reason
	c.mu.Unlock()

	close(c.done)
	if err := c.sock.Close(code, reason); err != nil {
		c.logger.Debugf("conn %s: close: %v", c.PlayerID, err)
	}
}

// Closed reports whether Close has been called.
func (c *Conn) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// CloseStatus returns the code and reason passed to Close, or zero values if
// the connection is still live.
func (c *Conn) CloseStatus() (websocket.StatusCode, string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closeCode, c.closeReason
}

// Done is closed when the connection has been torn down.
func (c *Conn) Done() <-chan struct{} {
	return c.done
}

// RoomID returns the room this connection is currently bound to, or
// uuid.Nil if none.
func (c *Conn) RoomID() uuid.UUID {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.currentRoomID
}

// SetRoomID binds or unbinds (uuid.Nil) the connection's current room.
func (c *Conn) SetRoomID(roomID uuid.UUID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.currentRoomID = roomID
}

// MarkPong records a successful liveness pong and resets the miss counter.
func (c *Conn) MarkPong() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lastPongAt = time.Now()
	c.missedPongs = 0
}

// MissPong increments the consecutive miss counter and returns it.
func (c *Conn) MissPong() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.missedPongs++
	return c.missedPongs
}

// LastPongAt returns the time of the last observed liveness pong.
func (c *Conn) LastPongAt() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastPongAt
}
