// internal/protocol/messages.go
package protocol

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Room is the wire representation of a room. The room package maintains the
// live aggregate and produces value copies of this struct for broadcasting.
type Room struct {
	ID         uuid.UUID    `json:"id"`
	GameID     string       `json:"gameId"`
	Name       string       `json:"name"`
	HostID     uuid.UUID    `json:"hostId"`
	MaxPlayers int          `json:"maxPlayers"`
	IsPrivate  bool         `json:"isPrivate"`
	State      string       `json:"state"`
	Players    []RoomPlayer `json:"players"`
	CreatedAt  time.Time    `json:"createdAt"`
}

// RoomPlayer is one member of a room, ordered by join time.
type RoomPlayer struct {
	ID          uuid.UUID `json:"id"`
	DisplayName string    `json:"displayName"`
	Avatar      string    `json:"avatar"`
	IsHost      bool      `json:"isHost"`
	IsReady     bool      `json:"isReady"`
}

// PlayerScore is one player's final result in a finished match.
type PlayerScore struct {
	PlayerID  uuid.UUID `json:"playerId"`
	Score     int64     `json:"score"`
	Placement int       `json:"placement"`
}

// PlayerSummary is the skill/region digest sent alongside match_found.
type PlayerSummary struct {
	PlayerID    uuid.UUID `json:"playerId"`
	DisplayName string    `json:"displayName"`
	SkillRating float64   `json:"skillRating"`
	Region      string    `json:"region"`
}

// --- client -> server payloads ---

type JoinRoomPayload struct {
	RoomID uuid.UUID `json:"roomId"`
}

type ReadyPayload struct {
	Ready bool `json:"ready"`
}

type GameActionPayload struct {
	// Action is opaque to the relay layer; minigames interpret it.
	Action json.RawMessage `json:"action"`
}

type ChatPayload struct {
	Message string `json:"message"`
}

type QueueRankedPayload struct {
	GameID         string  `json:"gameId"`
	SkillRating    float64 `json:"skillRating"`
	SkillDeviation float64 `json:"skillDeviation"`
	Region         string  `json:"region"`
	Mode           string  `json:"mode"`
	MaxPlayers     int     `json:"maxPlayers"`
}

// ApplyDefaults fills zero-valued ticket fields with the documented defaults.
func (p *QueueRankedPayload) ApplyDefaults() {
	if p.SkillRating == 0 {
		p.SkillRating = 1000
	}
	if p.SkillDeviation == 0 {
		p.SkillDeviation = 350
	}
	if p.Region == "" {
		p.Region = "us-east"
	}
	if p.Mode == "" {
		p.Mode = "ranked"
	}
	if p.MaxPlayers == 0 {
		p.MaxPlayers = 2
	}
}

type FriendInvitePayload struct {
	FriendID uuid.UUID `json:"friendId"`
	RoomID   uuid.UUID `json:"roomId"`
	GameID   string    `json:"gameId"`
}

// --- server -> client messages ---

type ConnectedMsg struct {
	Type     string    `json:"type"`
	PlayerID uuid.UUID `json:"playerId"`
}

func Connected(playerID uuid.UUID) ConnectedMsg {
	return ConnectedMsg{Type: MsgConnected, PlayerID: playerID}
}

type RoomUpdateMsg struct {
	Type string `json:"type"`
	Room Room   `json:"room"`
}

func RoomUpdate(room Room) RoomUpdateMsg {
	return RoomUpdateMsg{Type: MsgRoomUpdate, Room: room}
}

type PlayerJoinedMsg struct {
	Type   string     `json:"type"`
	Player RoomPlayer `json:"player"`
}

func PlayerJoined(player RoomPlayer) PlayerJoinedMsg {
	return PlayerJoinedMsg{Type: MsgPlayerJoined, Player: player}
}

type PlayerLeftMsg struct {
	Type     string    `json:"type"`
	PlayerID uuid.UUID `json:"playerId"`
}

func PlayerLeft(playerID uuid.UUID) PlayerLeftMsg {
	return PlayerLeftMsg{Type: MsgPlayerLeft, PlayerID: playerID}
}

type GameStartedMsg struct {
	Type string `json:"type"`
	Room Room   `json:"room"`
	// GameState is populated by the minigame layer; the relay does not
	// inspect it.
	GameState json.RawMessage `json:"gameState"`
}

func GameStarted(room Room, gameState json.RawMessage) GameStartedMsg {
	if gameState == nil {
		gameState = json.RawMessage(`{}`)
	}
	return GameStartedMsg{Type: MsgGameStarted, Room: room, GameState: gameState}
}

type GameActionMsg struct {
	Type     string          `json:"type"`
	PlayerID uuid.UUID       `json:"playerId"`
	Result   json.RawMessage `json:"result"`
}

func GameActionRelay(playerID uuid.UUID, action json.RawMessage) GameActionMsg {
	return GameActionMsg{Type: MsgGameAction, PlayerID: playerID, Result: action}
}

type GameOverMsg struct {
	Type   string        `json:"type"`
	Scores []PlayerScore `json:"scores"`
}

func GameOver(scores []PlayerScore) GameOverMsg {
	return GameOverMsg{Type: MsgGameOver, Scores: scores}
}

type ChatMsg struct {
	Type        string    `json:"type"`
	PlayerID    uuid.UUID `json:"playerId"`
	DisplayName string    `json:"displayName"`
	Message     string    `json:"message"`
}

func ChatRelay(playerID uuid.UUID, displayName, message string) ChatMsg {
	return ChatMsg{Type: MsgChat, PlayerID: playerID, DisplayName: displayName, Message: message}
}

type MatchFoundMsg struct {
	Type    string          `json:"type"`
	MatchID uuid.UUID       `json:"matchId"`
	Room    Room            `json:"room"`
	Players []PlayerSummary `json:"players"`
}

func MatchFound(matchID uuid.UUID, room Room, players []PlayerSummary) MatchFoundMsg {
	return MatchFoundMsg{Type: MsgMatchFound, MatchID: matchID, Room: room, Players: players}
}

type QueueJoinedMsg struct {
	Type   string `json:"type"`
	GameID string `json:"gameId"`
	// EstimatedWait is a best-effort hint in seconds, not a contract.
	EstimatedWait int `json:"estimatedWait"`
	Position      int `json:"position"`
}

func QueueJoined(gameID string, estimatedWait, position int) QueueJoinedMsg {
	return QueueJoinedMsg{Type: MsgQueueJoined, GameID: gameID, EstimatedWait: estimatedWait, Position: position}
}

type QueueCancelledMsg struct {
	Type string `json:"type"`
}

func QueueCancelled() QueueCancelledMsg {
	return QueueCancelledMsg{Type: MsgQueueCancelled}
}

type FriendInviteMsg struct {
	Type   string    `json:"type"`
	From   uuid.UUID `json:"from"`
	RoomID uuid.UUID `json:"roomId"`
	GameID string    `json:"gameId"`
}

func FriendInviteRelay(from, roomID uuid.UUID, gameID string) FriendInviteMsg {
	return FriendInviteMsg{Type: MsgFriendInvite, From: from, RoomID: roomID, GameID: gameID}
}

type InviteSentMsg struct {
	Type string    `json:"type"`
	To   uuid.UUID `json:"to"`
}

func InviteSent(to uuid.UUID) InviteSentMsg {
	return InviteSentMsg{Type: MsgInviteSent, To: to}
}

type PongMsg struct {
	Type       string `json:"type"`
	ServerTime int64  `json:"serverTime"`
}

func Pong(now time.Time) PongMsg {
	return PongMsg{Type: MsgPong, ServerTime: now.UnixMilli()}
}

type ErrorMsg struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

func Error(message string) ErrorMsg {
	return ErrorMsg{Type: MsgError, Message: message}
}
