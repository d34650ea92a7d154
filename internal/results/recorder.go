// internal/results/recorder.go

// Package results persists finished matches. The recorder writes straight
// to Postgres when it can and falls back to a Redis list otherwise; the
// historian binary drains that list out-of-band. Either way, persistence
// failure never reaches the protocol layer.
package results

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/stemplay/realtime/internal/database"
	"github.com/stemplay/realtime/internal/models"
	"github.com/stemplay/realtime/internal/rating"
)

const (
	persistTimeout = 10 * time.Second
	retryDelay     = 15 * time.Second
	maxAttempts    = 3
)

// resultQueue is the slice of the redis client the recorder uses.
type resultQueue interface {
	RPush(ctx context.Context, key string, values ...interface{}) *redis.IntCmd
}

type Recorder struct {
	rdb       resultQueue
	queueName string
	logger    *logrus.Logger

	// persist is swapped out in tests.
	persist func(ctx context.Context, res models.MatchResult) error
}

func NewRecorder(rdb *redis.Client, queueName string, logger *logrus.Logger) *Recorder {
	return &Recorder{
		rdb:       rdb,
		queueName: queueName,
		logger:    logger,
		persist:   Persist,
	}
}

// Record hands the result off for persistence and returns immediately.
func (r *Recorder) Record(res models.MatchResult) {
	go r.record(res, 1)
}

func (r *Recorder) record(res models.MatchResult, attempt int) {
	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()

	err := r.persist(ctx, res)
	if err == nil {
		return
	}
	r.logger.WithField("match_id", res.MatchID).WithError(err).
		Warn("direct match persist failed, queueing for historian")

	payload, err := json.Marshal(res)
	if err != nil {
		r.logger.WithField("match_id", res.MatchID).WithError(err).
			Error("failed to marshal match result")
		return
	}

	if err := r.rdb.RPush(ctx, r.queueName, payload).Err(); err != nil {
		if attempt >= maxAttempts {
			r.logger.WithField("match_id", res.MatchID).WithError(err).
				Error("dropping match result after repeated persist failures")
			return
		}
		r.logger.WithFields(logrus.Fields{
			"match_id": res.MatchID,
			"attempt":  attempt,
		}).WithError(err).Warn("result queue push failed, will retry")
		time.AfterFunc(retryDelay, func() {
			r.record(res, attempt+1)
		})
	}
}

// Persist inserts the match and, for ranked play, applies Glicko2 rating
// updates. Shared by the recorder's direct path and the historian.
func Persist(ctx context.Context, res models.MatchResult) error {
	if database.DB == nil {
		return errors.New("database not connected")
	}
	if err := database.InsertMatchResult(ctx, res); err != nil {
		return err
	}
	if res.Mode != "ranked" || len(res.Scores) < 2 {
		return nil
	}
	return applyRatings(ctx, res)
}

func applyRatings(ctx context.Context, res models.MatchResult) error {
	ids := make([]uuid.UUID, len(res.Scores))
	placements := make([]int, len(res.Scores))
	for i, s := range res.Scores {
		ids[i] = s.PlayerID
		placements[i] = s.Placement
	}

	profiles, err := database.GetPlayerProfiles(ctx, ids)
	if err != nil {
		return fmt.Errorf("failed to load profiles for rating: %w", err)
	}

	updated := rating.UpdateProfiles(profiles, rating.ScoresFromPlacements(placements))
	return database.UpdatePlayerRatings(ctx, updated)
}
