// internal/models/match.go
package models

import (
	"time"

	"github.com/google/uuid"
)

// MatchResult is the final outcome of a finished room, handed to the results
// recorder after the game_over broadcast. The broadcast is never rolled back
// if recording fails; the recorder retries out-of-band.
type MatchResult struct {
	MatchID uuid.UUID    `json:"matchId"`
	RoomID  uuid.UUID    `json:"roomId"`
	GameID  string       `json:"gameId"`
	Mode    string       `json:"mode"`
	Scores  []MatchScore `json:"scores"`
	EndedAt time.Time    `json:"endedAt"`
}

// MatchScore is one player's line in a match result.
type MatchScore struct {
	PlayerID  uuid.UUID `json:"playerId"`
	Score     int64     `json:"score"`
	Placement int       `json:"placement"`
	IsWinner  bool      `json:"isWinner"`
}
