// internal/room/store.go
package room

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/stemplay/realtime/internal/protocol"
)

// quickMatchMaxPlayers is the room size used when quick-match has to
// create a fresh room.
const quickMatchMaxPlayers = 4

// Store owns every live room. Rooms that empty out are dropped at once;
// finished rooms linger for evictDelay so late readers still see the
// final state.
type Store struct {
	mu         sync.RWMutex
	rooms      map[uuid.UUID]*Room
	evictDelay time.Duration
	logger     *logrus.Logger
}

func NewStore(evictDelay time.Duration, logger *logrus.Logger) *Store {
	return &Store{
		rooms:      make(map[uuid.UUID]*Room),
		evictDelay: evictDelay,
		logger:     logger,
	}
}

// Create builds a waiting room hosted by host and registers it.
func (s *Store) Create(gameID string, host protocol.RoomPlayer, opts Options) *Room {
	r := New(gameID, host, opts)
	s.Insert(r)
	return r
}

// Insert registers a room built elsewhere (matchmaking assembles its
// own rooms before handing them over).
func (s *Store) Insert(r *Room) {
	r.onEmpty = s.Remove

	s.mu.Lock()
	s.rooms[r.ID] = r
	s.mu.Unlock()

	s.logger.WithFields(logrus.Fields{
		"room_id": r.ID,
		"game_id": r.GameID,
	}).Info("room created")
}

// Get returns the room or ErrRoomNotFound.
func (s *Store) Get(id uuid.UUID) (*Room, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.rooms[id]
	if !ok {
		return nil, ErrRoomNotFound
	}
	return r, nil
}

// Remove deletes the room outright.
func (s *Store) Remove(id uuid.UUID) {
	s.mu.Lock()
	_, ok := s.rooms[id]
	delete(s.rooms, id)
	s.mu.Unlock()

	if ok {
		s.logger.WithField("room_id", id).Info("room removed")
	}
}

// ScheduleEvict removes a finished room after the grace period.
func (s *Store) ScheduleEvict(id uuid.UUID) {
	time.AfterFunc(s.evictDelay, func() {
		s.Remove(id)
	})
}

// List returns snapshots of public rooms, oldest first. Empty filter
// values match everything; private rooms never appear here but remain
// joinable by id.
func (s *Store) List(gameID string, state State) []protocol.Room {
	s.mu.RLock()
	rooms := make([]*Room, 0, len(s.rooms))
	for _, r := range s.rooms {
		rooms = append(rooms, r)
	}
	s.mu.RUnlock()

	out := make([]protocol.Room, 0, len(rooms))
	for _, r := range rooms {
		if r.IsPrivate {
			continue
		}
		if gameID != "" && r.GameID != gameID {
			continue
		}
		snap := r.Snapshot()
		if state != "" && snap.State != string(state) {
			continue
		}
		out = append(out, snap)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// FindForPlayer returns the room the player currently occupies, if any.
func (s *Store) FindForPlayer(playerID uuid.UUID) (*Room, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, r := range s.rooms {
		if r.Has(playerID) {
			return r, true
		}
	}
	return nil, false
}

// QuickMatch joins the oldest public waiting room for gameID that has
// space, creating a new one when none fits. The bool reports whether an
// existing room was joined.
func (s *Store) QuickMatch(gameID string, player protocol.RoomPlayer) (*Room, bool, error) {
	s.mu.RLock()
	candidates := make([]*Room, 0)
	for _, r := range s.rooms {
		if !r.IsPrivate && r.GameID == gameID && r.HasCapacity() {
			candidates = append(candidates, r)
		}
	}
	s.mu.RUnlock()

	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].CreatedAt.Before(candidates[j].CreatedAt)
	})
	// Join rechecks capacity under the room lock, so a race with another
	// quick-match just moves us to the next candidate.
	for _, r := range candidates {
		if err := r.Join(player); err == nil {
			return r, true, nil
		}
	}

	r := s.Create(gameID, player, Options{MaxPlayers: quickMatchMaxPlayers})
	return r, false, nil
}

// Len returns the number of live rooms.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.rooms)
}
