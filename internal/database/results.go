package database

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/stemplay/realtime/internal/models"
)

// InsertMatchResult persists a finished match and its per-player scores
// in one transaction.
func InsertMatchResult(ctx context.Context, res models.MatchResult) error {
	return pgx.BeginTxFunc(ctx, DB, pgx.TxOptions{}, func(tx pgx.Tx) error {
		q := `INSERT INTO matches (id, room_id, game_id, mode, ended_at)
		      VALUES ($1, $2, $3, $4, $5)`
		if _, err := tx.Exec(ctx, q, res.MatchID, res.RoomID, res.GameID, res.Mode, res.EndedAt); err != nil {
			return fmt.Errorf("failed to insert match: %w", err)
		}

		q = `INSERT INTO match_scores (match_id, player_id, score, placement, is_winner)
		     VALUES ($1, $2, $3, $4, $5)`
		for _, s := range res.Scores {
			if _, err := tx.Exec(ctx, q, res.MatchID, s.PlayerID, s.Score, s.Placement, s.IsWinner); err != nil {
				return fmt.Errorf("failed to insert score for %s: %w", s.PlayerID, err)
			}
		}
		return nil
	})
}
