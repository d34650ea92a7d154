// internal/protocol/codes.go
package protocol

import "github.com/coder/websocket"

// Reserved WebSocket close codes. These occupy the 4000+ application range
// and carry more specific reasons for closure than the standard codes.
const (
	// CloseSuperseded: the same player opened a newer connection; this one
	// is being retired. Clients must NOT auto-reconnect on this code.
	CloseSuperseded websocket.StatusCode = 4000

	// CloseAuthRequired: the token was missing, invalid, or expired.
	CloseAuthRequired websocket.StatusCode = 4001

	// CloseHeartbeatTimeout: the connection missed too many consecutive
	// liveness pongs and was reaped by the heartbeat supervisor.
	CloseHeartbeatTimeout websocket.StatusCode = 4002
)
