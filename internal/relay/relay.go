// internal/relay/relay.go

// Package relay fans server messages out to the live connections of a
// room's members. Delivery is best-effort per connection: each conn's
// bounded outbound queue absorbs bursts, and a conn that cannot keep up
// is dropped rather than allowed to stall the room.
package relay

import (
	"github.com/google/uuid"

	"github.com/stemplay/realtime/internal/room"
	"github.com/stemplay/realtime/internal/session"
)

type Relay struct {
	reg   *session.Registry
	rooms *room.Store
}

func New(reg *session.Registry, rooms *room.Store) *Relay {
	return &Relay{reg: reg, rooms: rooms}
}

// Broadcast sends v to every member of roomID except the excluded
// players. Members without a live connection are skipped.
func (rl *Relay) Broadcast(roomID uuid.UUID, v interface{}, exclude ...uuid.UUID) {
	r, err := rl.rooms.Get(roomID)
	if err != nil {
		return
	}
	rl.BroadcastRoom(r, v, exclude...)
}

// BroadcastRoom is Broadcast for a room handle the caller already holds.
func (rl *Relay) BroadcastRoom(r *room.Room, v interface{}, exclude ...uuid.UUID) {
	for _, id := range r.PlayerIDs() {
		if excluded(id, exclude) {
			continue
		}
		conn, ok := rl.reg.Lookup(id)
		if !ok {
			continue
		}
		conn.Send(v)
	}
}

// SendTo sends v to a single player's live connection, reporting
// whether one existed.
func (rl *Relay) SendTo(playerID uuid.UUID, v interface{}) bool {
	conn, ok := rl.reg.Lookup(playerID)
	if !ok {
		return false
	}
	conn.Send(v)
	return true
}

func excluded(id uuid.UUID, exclude []uuid.UUID) bool {
	for _, x := range exclude {
		if x == id {
			return true
		}
	}
	return false
}
