// internal/room/room.go
package room

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/stemplay/realtime/internal/protocol"
)

// State is the lifecycle phase of a room. Transitions only move forward:
// waiting -> playing -> finished.
type State string

const (
	StateWaiting  State = "waiting"
	StatePlaying  State = "playing"
	StateFinished State = "finished"
)

var (
	ErrRoomNotFound    = errors.New("room not found")
	ErrRoomFull        = errors.New("room is full")
	ErrRoomNotJoinable = errors.New("room is not joinable")
	ErrAlreadyStarted  = errors.New("game already started")
	ErrNotHost         = errors.New("only the host can do that")
	ErrPlayersNotReady = errors.New("not all players are ready")
	ErrNotInRoom       = errors.New("player is not in this room")
	ErrNotPlaying      = errors.New("game is not in progress")
)

// Options carries the caller-tunable fields of a new room.
type Options struct {
	Name       string
	MaxPlayers int
	IsPrivate  bool
	// Mode tags the room for result recording ("ranked" games get rating
	// updates). Empty means casual.
	Mode string
}

// Room is one match lobby. All mutation goes through the room's mutex;
// callers broadcast the returned snapshots after the lock is released.
type Room struct {
	ID         uuid.UUID
	GameID     string
	Name       string
	MaxPlayers int
	IsPrivate  bool
	Mode       string
	CreatedAt  time.Time

	mu      sync.Mutex
	hostID  uuid.UUID
	state   State
	players []protocol.RoomPlayer

	// onEmpty is invoked (outside the room lock) when the last player
	// leaves. The store uses it to drop the room immediately.
	onEmpty func(roomID uuid.UUID)
}

// New creates a waiting room with host as the sole, not-ready player.
func New(gameID string, host protocol.RoomPlayer, opts Options) *Room {
	if opts.MaxPlayers < 1 {
		opts.MaxPlayers = 1
	}
	host.IsHost = true
	host.IsReady = false
	return &Room{
		ID:         uuid.New(),
		GameID:     gameID,
		Name:       opts.Name,
		MaxPlayers: opts.MaxPlayers,
		IsPrivate:  opts.IsPrivate,
		Mode:       opts.Mode,
		CreatedAt:  time.Now(),
		hostID:     host.ID,
		state:      StateWaiting,
		players:    []protocol.RoomPlayer{host},
	}
}

// Join appends the player in join order. Re-joining while already a member
// refreshes the stored profile and succeeds.
func (r *Room) Join(p protocol.RoomPlayer) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for i := range r.players {
		if r.players[i].ID == p.ID {
			r.players[i].DisplayName = p.DisplayName
			r.players[i].Avatar = p.Avatar
			return nil
		}
	}
	if r.state != StateWaiting {
		return ErrRoomNotJoinable
	}
	if len(r.players) >= r.MaxPlayers {
		return ErrRoomFull
	}
	p.IsHost = false
	p.IsReady = false
	r.players = append(r.players, p)
	return nil
}

// LeaveResult reports what a leave changed so the caller can broadcast.
type LeaveResult struct {
	NewHostID uuid.UUID
	HostMoved bool
	Empty     bool
}

// Leave removes the player. If the host leaves, the earliest-joined
// remaining player inherits the host role. An emptied room fires onEmpty.
func (r *Room) Leave(playerID uuid.UUID) (LeaveResult, error) {
	r.mu.Lock()

	idx := -1
	for i := range r.players {
		if r.players[i].ID == playerID {
			idx = i
			break
		}
	}
	if idx < 0 {
		r.mu.Unlock()
		return LeaveResult{}, ErrNotInRoom
	}

	r.players = append(r.players[:idx], r.players[idx+1:]...)

	var res LeaveResult
	if len(r.players) == 0 {
		res.Empty = true
	} else if playerID == r.hostID {
		r.players[0].IsHost = true
		r.hostID = r.players[0].ID
		res.HostMoved = true
		res.NewHostID = r.hostID
	}

	onEmpty := r.onEmpty
	r.mu.Unlock()

	if res.Empty && onEmpty != nil {
		onEmpty(r.ID)
	}
	return res, nil
}

// SetReady flips the player's ready flag. No state transition.
func (r *Room) SetReady(playerID uuid.UUID, ready bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for i := range r.players {
		if r.players[i].ID == playerID {
			r.players[i].IsReady = ready
			return nil
		}
	}
	return ErrNotInRoom
}

// Start moves the room to playing. Only the host may start, only from
// waiting, and only once every player is ready. A concurrent second call
// observes the playing state and fails without a second transition.
func (r *Room) Start(playerID uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.state != StateWaiting {
		return ErrAlreadyStarted
	}
	if playerID != r.hostID {
		return ErrNotHost
	}
	for i := range r.players {
		if !r.players[i].IsReady {
			return ErrPlayersNotReady
		}
	}
	r.state = StatePlaying
	return nil
}

// VerifyAction checks that playerID may relay a game action right now.
// The action payload itself is opaque to this layer.
func (r *Room) VerifyAction(playerID uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.state != StatePlaying {
		return ErrNotPlaying
	}
	for i := range r.players {
		if r.players[i].ID == playerID {
			return nil
		}
	}
	return ErrNotInRoom
}

// Finish moves the room to its terminal state.
func (r *Room) Finish() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.state != StatePlaying {
		return ErrNotPlaying
	}
	r.state = StateFinished
	return nil
}

// Snapshot returns the wire representation of the room.
func (r *Room) Snapshot() protocol.Room {
	r.mu.Lock()
	defer r.mu.Unlock()

	players := make([]protocol.RoomPlayer, len(r.players))
	copy(players, r.players)
	return protocol.Room{
		ID:         r.ID,
		GameID:     r.GameID,
		Name:       r.Name,
		HostID:     r.hostID,
		MaxPlayers: r.MaxPlayers,
		IsPrivate:  r.IsPrivate,
		State:      string(r.state),
		Players:    players,
		CreatedAt:  r.CreatedAt,
	}
}

// State returns the current lifecycle phase.
func (r *Room) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// HostID returns the current host.
func (r *Room) HostID() uuid.UUID {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.hostID
}

// Has reports whether playerID is a member.
func (r *Room) Has(playerID uuid.UUID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.players {
		if r.players[i].ID == playerID {
			return true
		}
	}
	return false
}

// PlayerIDs returns the member ids in join order. The relay fans out
// over this set through the connection registry.
func (r *Room) PlayerIDs() []uuid.UUID {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]uuid.UUID, len(r.players))
	for i := range r.players {
		ids[i] = r.players[i].ID
	}
	return ids
}

// DisplayName returns the stored display name for a member, or "" if
// the player is not in the room.
func (r *Room) DisplayName(playerID uuid.UUID) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.players {
		if r.players[i].ID == playerID {
			return r.players[i].DisplayName
		}
	}
	return ""
}

// HasCapacity reports whether a public quick-match join could succeed.
func (r *Room) HasCapacity() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state == StateWaiting && len(r.players) < r.MaxPlayers
}
