package database

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/stemplay/realtime/internal/models"
)

// GetPlayerProfile loads one player row. Callers fall back to a guest
// profile on pgx.ErrNoRows.
func GetPlayerProfile(ctx context.Context, id uuid.UUID) (models.PlayerProfile, error) {
	var p models.PlayerProfile
	q := `
	SELECT id, display_name, avatar, skill_rating, skill_deviation, skill_volatility
	FROM players
	WHERE id=$1
	`
	err := DB.QueryRow(ctx, q, id).Scan(
		&p.ID, &p.DisplayName, &p.Avatar,
		&p.SkillRating, &p.SkillDeviation, &p.SkillVolatility,
	)
	if err != nil {
		return models.PlayerProfile{}, err
	}
	return p, nil
}

// GetPlayerProfiles loads the given players, substituting a guest profile
// for any id without a row.
func GetPlayerProfiles(ctx context.Context, ids []uuid.UUID) ([]models.PlayerProfile, error) {
	found := make(map[uuid.UUID]models.PlayerProfile, len(ids))
	q := `
	SELECT id, display_name, avatar, skill_rating, skill_deviation, skill_volatility
	FROM players
	WHERE id = ANY($1)
	`
	rows, err := DB.Query(ctx, q, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to query players: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var p models.PlayerProfile
		if err := rows.Scan(
			&p.ID, &p.DisplayName, &p.Avatar,
			&p.SkillRating, &p.SkillDeviation, &p.SkillVolatility,
		); err != nil {
			return nil, fmt.Errorf("failed to scan player: %w", err)
		}
		found[p.ID] = p
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	out := make([]models.PlayerProfile, 0, len(ids))
	for _, id := range ids {
		if p, ok := found[id]; ok {
			out = append(out, p)
		} else {
			out = append(out, models.GuestProfile(id))
		}
	}
	return out, nil
}

// UpdatePlayerRatings writes back post-match Glicko2 numbers in one
// transaction.
func UpdatePlayerRatings(ctx context.Context, profiles []models.PlayerProfile) error {
	return pgx.BeginTxFunc(ctx, DB, pgx.TxOptions{}, func(tx pgx.Tx) error {
		q := `
		UPDATE players
		SET skill_rating=$2, skill_deviation=$3, skill_volatility=$4
		WHERE id=$1
		`
		for _, p := range profiles {
			if _, err := tx.Exec(ctx, q, p.ID, p.SkillRating, p.SkillDeviation, p.SkillVolatility); err != nil {
				return fmt.Errorf("failed to update rating for %s: %w", p.ID, err)
			}
		}
		return nil
	})
}
