// internal/models/player.go
package models

import "github.com/google/uuid"

// PlayerProfile is the persisted identity a live connection maps back to.
type PlayerProfile struct {
	ID          uuid.UUID `json:"id"`
	Email       string    `json:"email,omitempty"`
	DisplayName string    `json:"displayName"`
	Avatar      string    `json:"avatar"`

	// Glicko-2 style skill estimate used by the matchmaking queue.
	SkillRating     float64 `json:"skillRating"`
	SkillDeviation  float64 `json:"skillDeviation"`
	SkillVolatility float64 `json:"-"`
}

// GuestProfile returns a fallback profile for players with no persisted row,
// so a database outage never blocks joining a room.
func GuestProfile(playerID uuid.UUID) PlayerProfile {
	return PlayerProfile{
		ID:              playerID,
		DisplayName:     "Guest_" + playerID.String()[:4],
		Avatar:          "robot",
		SkillRating:     1000,
		SkillDeviation:  350,
		SkillVolatility: 0.06,
	}
}
