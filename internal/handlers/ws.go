// internal/handlers/ws.go
package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/coder/websocket"

	"github.com/stemplay/realtime/internal/middleware"
	"github.com/stemplay/realtime/internal/protocol"
	"github.com/stemplay/realtime/internal/session"
)

const wsSubprotocol = "realtime"

// ServeWS upgrades the request, authenticates the bearer token from the
// query string, registers the connection, and runs the read loop until
// the peer goes away.
func (s *Server) ServeWS(w http.ResponseWriter, r *http.Request) {
	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		Subprotocols:   []string{wsSubprotocol},
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		s.Logger.Warnf("websocket accept failed: %v", err)
		return
	}
	// Headroom over the protocol limit: frames just past 64KB must reach
	// Decode and come back as an error frame, not a fatal transport close.
	ws.SetReadLimit(protocol.MaxFrameSize + 1024)

	playerID, err := s.Auth(r.URL.Query().Get("token"))
	if err != nil {
		writeCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if data, encErr := protocol.Encode(protocol.Error("authentication required")); encErr == nil {
			_ = ws.Write(writeCtx, websocket.MessageText, data)
		}
		ws.Close(protocol.CloseAuthRequired, "invalid or missing token")
		return
	}

	conn := session.NewConn(playerID, ws, r.RemoteAddr, s.Logger)
	s.Registry.Register(conn)
	middleware.LogWebSocketConnect(s.Logger, r.RemoteAddr, playerID.String())

	pumpCtx, cancelPump := context.WithCancel(context.Background())
	defer cancelPump()
	go conn.WritePump(pumpCtx)

	conn.Send(protocol.Connected(playerID))

	var readErr error
	for {
		_, data, err := ws.Read(r.Context())
		if err != nil {
			readErr = err
			break
		}
		s.dispatch(r.Context(), conn, data)
		if conn.Closed() {
			break
		}
	}

	conn.Close(websocket.StatusNormalClosure, "")
	s.DropConnection(conn)
	middleware.LogWebSocketDisconnect(s.Logger, r.RemoteAddr, playerID.String(), readErr)
}

// dispatch decodes one inbound frame and routes it. Anything that goes
// wrong below the protocol level comes back to the sender as an error
// frame; the connection stays open.
func (s *Server) dispatch(ctx context.Context, conn *session.Conn, data []byte) {
	env, err := protocol.Decode(data)
	if err != nil {
		conn.SendError(err.Error())
		return
	}

	switch env.Type {
	case protocol.MsgJoinRoom:
		var p protocol.JoinRoomPayload
		if err := env.Bind(&p); err != nil {
			conn.SendError(err.Error())
			return
		}
		if err := s.JoinRoom(ctx, conn.PlayerID, p.RoomID); err != nil {
			conn.SendError(err.Error())
		}

	case protocol.MsgLeaveRoom:
		if err := s.LeaveRoom(ctx, conn.PlayerID); err != nil {
			conn.SendError(err.Error())
		}

	case protocol.MsgReady:
		var p protocol.ReadyPayload
		if err := env.Bind(&p); err != nil {
			conn.SendError(err.Error())
			return
		}
		if err := s.SetReady(ctx, conn.PlayerID, p.Ready); err != nil {
			conn.SendError(err.Error())
		}

	case protocol.MsgStartGame:
		if err := s.StartGame(ctx, conn.PlayerID); err != nil {
			conn.SendError(err.Error())
		}

	case protocol.MsgGameAction:
		var p protocol.GameActionPayload
		if err := env.Bind(&p); err != nil {
			conn.SendError(err.Error())
			return
		}
		if err := s.GameAction(conn.PlayerID, p.Action); err != nil {
			conn.SendError(err.Error())
		}

	case protocol.MsgChat:
		var p protocol.ChatPayload
		if err := env.Bind(&p); err != nil {
			conn.SendError(err.Error())
			return
		}
		if err := s.Chat(ctx, conn.PlayerID, p.Message); err != nil {
			conn.SendError(err.Error())
		}

	case protocol.MsgQueueRanked:
		var p protocol.QueueRankedPayload
		if err := env.Bind(&p); err != nil {
			conn.SendError(err.Error())
			return
		}
		p.ApplyDefaults()
		position, wait := s.QueueRanked(ctx, conn.PlayerID, p)
		// Ack before the pairing pass so queue_joined always precedes
		// a match_found for this ticket.
		conn.Send(protocol.QueueJoined(p.GameID, int(wait.Seconds()), position))
		s.Queue.Pass()

	case protocol.MsgCancelQueue:
		if err := s.CancelQueue(conn.PlayerID); err != nil {
			conn.SendError(err.Error())
			return
		}
		conn.Send(protocol.QueueCancelled())

	case protocol.MsgFriendInvite:
		var p protocol.FriendInvitePayload
		if err := env.Bind(&p); err != nil {
			conn.SendError(err.Error())
			return
		}
		if err := s.FriendInvite(ctx, conn.PlayerID, p); err != nil {
			conn.SendError(err.Error())
		}

	case protocol.MsgPing:
		conn.Send(protocol.Pong(time.Now()))

	default:
		conn.SendError("unknown message type: " + env.Type)
	}
}
