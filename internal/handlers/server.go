// internal/handlers/server.go
package handlers

import (
	"context"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/stemplay/realtime/internal/auth"
	"github.com/stemplay/realtime/internal/database"
	"github.com/stemplay/realtime/internal/matchmaking"
	"github.com/stemplay/realtime/internal/models"
	"github.com/stemplay/realtime/internal/protocol"
	"github.com/stemplay/realtime/internal/relay"
	"github.com/stemplay/realtime/internal/room"
	"github.com/stemplay/realtime/internal/session"
)

// Recorder receives finished matches for out-of-band persistence.
type Recorder interface {
	Record(res models.MatchResult)
}

// AuthFunc resolves an access token to a player id.
type AuthFunc func(token string) (uuid.UUID, error)

// ProfileFunc loads a player's display profile. Implementations must
// always return something usable; unknown players get a guest profile.
type ProfileFunc func(ctx context.Context, id uuid.UUID) models.PlayerProfile

// Server owns the in-memory state of the realtime layer and orchestrates
// every socket and REST operation over it.
type Server struct {
	Registry *session.Registry
	Rooms    *room.Store
	Queue    *matchmaking.Queue
	Relay    *relay.Relay
	Recorder Recorder
	Logger   *logrus.Logger

	Auth     AuthFunc
	Profiles ProfileFunc
}

func NewServer(reg *session.Registry, rooms *room.Store, queue *matchmaking.Queue, rel *relay.Relay, rec Recorder, logger *logrus.Logger) *Server {
	s := &Server{
		Registry: reg,
		Rooms:    rooms,
		Queue:    queue,
		Relay:    rel,
		Recorder: rec,
		Logger:   logger,
		Auth:     auth.VerifyToken,
		Profiles: LoadProfile,
	}
	queue.OnMatch = s.handleMatch
	return s
}

// LoadProfile reads the player's row, falling back to a guest profile
// when the database is unavailable or has no row.
func LoadProfile(ctx context.Context, id uuid.UUID) models.PlayerProfile {
	if database.DB == nil {
		return models.GuestProfile(id)
	}
	p, err := database.GetPlayerProfile(ctx, id)
	if err != nil {
		return models.GuestProfile(id)
	}
	return p
}

func (s *Server) roomPlayer(ctx context.Context, id uuid.UUID) protocol.RoomPlayer {
	p := s.Profiles(ctx, id)
	return protocol.RoomPlayer{
		ID:          p.ID,
		DisplayName: p.DisplayName,
		Avatar:      p.Avatar,
	}
}

// JoinRoom adds the player to the room and tells everyone about it.
func (s *Server) JoinRoom(ctx context.Context, playerID, roomID uuid.UUID) error {
	r, err := s.Rooms.Get(roomID)
	if err != nil {
		return err
	}
	rp := s.roomPlayer(ctx, playerID)
	if err := r.Join(rp); err != nil {
		return err
	}
	s.bindRoom(playerID, roomID)

	s.Relay.BroadcastRoom(r, protocol.RoomUpdate(r.Snapshot()))
	s.Relay.BroadcastRoom(r, protocol.PlayerJoined(rp), playerID)
	return nil
}

// LeaveRoom removes the player from whatever room they occupy. The same
// path serves explicit leave_room, disconnects, and heartbeat reaps.
func (s *Server) LeaveRoom(ctx context.Context, playerID uuid.UUID) error {
	r, ok := s.Rooms.FindForPlayer(playerID)
	if !ok {
		return room.ErrNotInRoom
	}
	res, err := r.Leave(playerID)
	if err != nil {
		return err
	}
	s.bindRoom(playerID, uuid.Nil)

	if !res.Empty {
		s.Relay.BroadcastRoom(r, protocol.PlayerLeft(playerID))
		s.Relay.BroadcastRoom(r, protocol.RoomUpdate(r.Snapshot()))
	}
	return nil
}

// SetReady flips the player's ready flag and republishes the room.
func (s *Server) SetReady(ctx context.Context, playerID uuid.UUID, ready bool) error {
	r, ok := s.Rooms.FindForPlayer(playerID)
	if !ok {
		return room.ErrNotInRoom
	}
	if err := r.SetReady(playerID, ready); err != nil {
		return err
	}
	s.Relay.BroadcastRoom(r, protocol.RoomUpdate(r.Snapshot()))
	return nil
}

// StartGame transitions the player's room to playing. Exactly one
// game_started goes out even under concurrent start calls; the room
// rejects the second transition before any broadcast happens.
func (s *Server) StartGame(ctx context.Context, playerID uuid.UUID) error {
	r, ok := s.Rooms.FindForPlayer(playerID)
	if !ok {
		return room.ErrNotInRoom
	}
	if err := r.Start(playerID); err != nil {
		return err
	}
	s.Relay.BroadcastRoom(r, protocol.GameStarted(r.Snapshot(), nil))
	return nil
}

// GameAction relays an opaque action to everyone else in the room.
func (s *Server) GameAction(playerID uuid.UUID, action []byte) error {
	r, ok := s.Rooms.FindForPlayer(playerID)
	if !ok {
		return room.ErrNotInRoom
	}
	if err := r.VerifyAction(playerID); err != nil {
		return err
	}
	s.Relay.BroadcastRoom(r, protocol.GameActionRelay(playerID, action), playerID)
	return nil
}

// Chat relays a chat line to the whole room, sender included.
func (s *Server) Chat(ctx context.Context, playerID uuid.UUID, message string) error {
	if utf8.RuneCountInString(message) > protocol.MaxChatLength {
		return protocol.ErrChatTooLong
	}
	r, ok := s.Rooms.FindForPlayer(playerID)
	if !ok {
		return room.ErrNotInRoom
	}
	name := r.DisplayName(playerID)
	if name == "" {
		name = s.roomPlayer(ctx, playerID).DisplayName
	}
	s.Relay.BroadcastRoom(r, protocol.ChatRelay(playerID, name, message))
	return nil
}

// FinishGame drives the room to finished, broadcasts the final scores,
// and hands the result to the recorder. The broadcast is never rolled
// back; persistence retries happen out-of-band.
func (s *Server) FinishGame(ctx context.Context, roomID uuid.UUID, scores []protocol.PlayerScore) error {
	r, err := s.Rooms.Get(roomID)
	if err != nil {
		return err
	}
	if err := r.Finish(); err != nil {
		return err
	}
	s.Relay.BroadcastRoom(r, protocol.GameOver(scores))

	res := models.MatchResult{
		MatchID: uuid.New(),
		RoomID:  r.ID,
		GameID:  r.GameID,
		Mode:    r.Mode,
		EndedAt: time.Now(),
	}
	for _, sc := range scores {
		res.Scores = append(res.Scores, models.MatchScore{
			PlayerID:  sc.PlayerID,
			Score:     sc.Score,
			Placement: sc.Placement,
			IsWinner:  sc.Placement == 1,
		})
	}
	s.Recorder.Record(res)

	s.Rooms.ScheduleEvict(roomID)
	return nil
}

// QueueRanked files a matchmaking ticket for the player. Defaults are
// applied to absent fields before enqueueing.
func (s *Server) QueueRanked(ctx context.Context, playerID uuid.UUID, p protocol.QueueRankedPayload) (position int, estimatedWait time.Duration) {
	p.ApplyDefaults()
	return s.Queue.Enqueue(matchmaking.Ticket{
		PlayerID:       playerID,
		GameID:         p.GameID,
		SkillRating:    p.SkillRating,
		SkillDeviation: p.SkillDeviation,
		Region:         p.Region,
		Mode:           p.Mode,
		MaxPlayers:     p.MaxPlayers,
	})
}

// CancelQueue withdraws the player's ticket.
func (s *Server) CancelQueue(playerID uuid.UUID) error {
	return s.Queue.Dequeue(playerID)
}

// FriendInvite forwards an invite to the friend's live connection and
// acks the sender. An offline friend is an error the sender sees.
func (s *Server) FriendInvite(ctx context.Context, from uuid.UUID, p protocol.FriendInvitePayload) error {
	if !s.Relay.SendTo(p.FriendID, protocol.FriendInviteRelay(from, p.RoomID, p.GameID)) {
		return ErrFriendOffline
	}
	s.Relay.SendTo(from, protocol.InviteSent(p.FriendID))
	return nil
}

// handleMatch turns a consumed set of tickets into a waiting room and
// notifies every matched player. The earliest-enqueued player hosts.
func (s *Server) handleMatch(m matchmaking.Match) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	host := m.Tickets[0]
	r := room.New(m.GameID, s.roomPlayer(ctx, host.PlayerID), room.Options{
		Name:       m.Mode + " match",
		MaxPlayers: len(m.Tickets),
		IsPrivate:  true,
		Mode:       m.Mode,
	})
	for _, t := range m.Tickets[1:] {
		if err := r.Join(s.roomPlayer(ctx, t.PlayerID)); err != nil {
			s.Logger.WithFields(logrus.Fields{
				"room_id":   r.ID,
				"player_id": t.PlayerID,
			}).WithError(err).Error("failed to seat matched player")
		}
	}
	s.Rooms.Insert(r)

	summaries := make([]protocol.PlayerSummary, len(m.Tickets))
	for i, t := range m.Tickets {
		summaries[i] = protocol.PlayerSummary{
			PlayerID:    t.PlayerID,
			DisplayName: r.DisplayName(t.PlayerID),
			SkillRating: t.SkillRating,
			Region:      t.Region,
		}
	}

	matchID := uuid.New()
	snap := r.Snapshot()
	for _, t := range m.Tickets {
		s.bindRoom(t.PlayerID, r.ID)
		s.Relay.SendTo(t.PlayerID, protocol.MatchFound(matchID, snap, summaries))
	}

	s.Logger.WithFields(logrus.Fields{
		"match_id": matchID,
		"room_id":  r.ID,
		"game_id":  m.GameID,
		"players":  len(m.Tickets),
	}).Info("match formed")
}

// DropConnection tears down a dead or departing session: room leave,
// ticket withdrawal, registry removal. Safe to call for players with no
// room or ticket. A superseded connection's cleanup must not disturb the
// newer session, so anything but the currently registered conn is only
// unregistered.
func (s *Server) DropConnection(c *session.Conn) {
	if current, ok := s.Registry.Lookup(c.PlayerID); ok && current != c {
		s.Registry.Unregister(c)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := s.LeaveRoom(ctx, c.PlayerID); err != nil && err != room.ErrNotInRoom {
		s.Logger.WithField("player_id", c.PlayerID).WithError(err).
			Warn("room cleanup on disconnect failed")
	}
	_ = s.Queue.Dequeue(c.PlayerID)
	s.Registry.Unregister(c)
}

func (s *Server) bindRoom(playerID, roomID uuid.UUID) {
	if conn, ok := s.Registry.Lookup(playerID); ok {
		conn.SetRoomID(roomID)
	}
}
