// internal/handlers/rooms.go
package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/stemplay/realtime/internal/protocol"
	"github.com/stemplay/realtime/internal/room"
)

type createRoomRequest struct {
	GameID     string `json:"gameId"`
	Name       string `json:"name"`
	MaxPlayers int    `json:"maxPlayers"`
	IsPrivate  bool   `json:"isPrivate"`
}

type matchmakeRequest struct {
	GameID string `json:"gameId"`
}

// requirePlayer authenticates a REST request from its Authorization
// bearer header, falling back to a token query parameter.
func (s *Server) requirePlayer(r *http.Request) (uuid.UUID, error) {
	token := r.URL.Query().Get("token")
	if h := r.Header.Get("Authorization"); strings.HasPrefix(h, "Bearer ") {
		token = strings.TrimPrefix(h, "Bearer ")
	}
	return s.Auth(token)
}

// CreateRoomHandler creates a waiting room hosted by the caller.
func (s *Server) CreateRoomHandler(w http.ResponseWriter, r *http.Request) {
	playerID, err := s.requirePlayer(r)
	if err != nil {
		http.Error(w, "invalid or missing token", http.StatusUnauthorized)
		return
	}

	var req createRoomRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.GameID == "" {
		http.Error(w, "gameId is required", http.StatusBadRequest)
		return
	}
	if req.MaxPlayers < 1 {
		req.MaxPlayers = defaultRoomSize
	}

	rm := s.Rooms.Create(req.GameID, s.roomPlayer(r.Context(), playerID), room.Options{
		Name:       req.Name,
		MaxPlayers: req.MaxPlayers,
		IsPrivate:  req.IsPrivate,
	})
	s.bindRoom(playerID, rm.ID)

	writeJSON(w, http.StatusCreated, map[string]interface{}{"room": rm.Snapshot()})
}

// ListRoomsHandler lists public rooms, with optional gameId and state
// filters. Private rooms never show up here.
func (s *Server) ListRoomsHandler(w http.ResponseWriter, r *http.Request) {
	rooms := s.Rooms.List(
		r.URL.Query().Get("gameId"),
		room.State(r.URL.Query().Get("state")),
	)
	writeJSON(w, http.StatusOK, map[string]interface{}{"rooms": rooms})
}

// JoinRoomHandler joins the caller to the room in the path. Works for
// private rooms too; only listings hide them.
func (s *Server) JoinRoomHandler(w http.ResponseWriter, r *http.Request) {
	playerID, err := s.requirePlayer(r)
	if err != nil {
		http.Error(w, "invalid or missing token", http.StatusUnauthorized)
		return
	}

	roomID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		http.Error(w, "invalid room id", http.StatusBadRequest)
		return
	}

	if err := s.JoinRoom(r.Context(), playerID, roomID); err != nil {
		http.Error(w, err.Error(), roomErrStatus(err))
		return
	}

	rm, err := s.Rooms.Get(roomID)
	if err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"room": rm.Snapshot()})
}

// MyRoomHandler returns the room the caller currently occupies.
func (s *Server) MyRoomHandler(w http.ResponseWriter, r *http.Request) {
	playerID, err := s.requirePlayer(r)
	if err != nil {
		http.Error(w, "invalid or missing token", http.StatusUnauthorized)
		return
	}

	rm, ok := s.Rooms.FindForPlayer(playerID)
	if !ok {
		http.Error(w, "not in a room", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"room": rm.Snapshot()})
}

// MatchmakeHandler quick-matches the caller: join any public waiting
// room for the game, or create a fresh one.
func (s *Server) MatchmakeHandler(w http.ResponseWriter, r *http.Request) {
	playerID, err := s.requirePlayer(r)
	if err != nil {
		http.Error(w, "invalid or missing token", http.StatusUnauthorized)
		return
	}

	var req matchmakeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.GameID == "" {
		http.Error(w, "gameId is required", http.StatusBadRequest)
		return
	}

	rp := s.roomPlayer(r.Context(), playerID)
	rm, joined, err := s.Rooms.QuickMatch(req.GameID, rp)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	s.bindRoom(playerID, rm.ID)

	if joined {
		s.Relay.BroadcastRoom(rm, protocol.RoomUpdate(rm.Snapshot()))
		s.Relay.BroadcastRoom(rm, protocol.PlayerJoined(rp), playerID)
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"room":   rm.Snapshot(),
		"joined": joined,
	})
}

// defaultRoomSize is used when a create request omits maxPlayers.
const defaultRoomSize = 4

func roomErrStatus(err error) int {
	switch {
	case errors.Is(err, room.ErrRoomNotFound):
		return http.StatusNotFound
	case errors.Is(err, room.ErrRoomFull), errors.Is(err, room.ErrRoomNotJoinable):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
