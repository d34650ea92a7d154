// cmd/historian/main.go is the asynchronous persistence worker: it pops
// match results the game server queued in Redis and writes them to
// Postgres, applying rating updates for ranked games.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/joho/godotenv/autoload"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/stemplay/realtime/internal/config"
	"github.com/stemplay/realtime/internal/database"
	"github.com/stemplay/realtime/internal/models"
	"github.com/stemplay/realtime/internal/results"
)

const (
	popTimeout     = 3 * time.Second
	persistTimeout = 10 * time.Second
	failureBackoff = 5 * time.Second
)

type historian struct {
	rdb       *redis.Client
	queueName string
	logger    *logrus.Logger
}

// run drains the result queue until ctx is cancelled. A result that
// fails to persist goes back on the queue and the loop backs off before
// trying again.
func (h *historian) run(ctx context.Context) {
	for ctx.Err() == nil {
		res, err := h.rdb.BLPop(ctx, popTimeout, h.queueName).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) || ctx.Err() != nil {
				continue
			}
			h.logger.WithError(err).Error("BLPop failed")
			sleep(ctx, failureBackoff)
			continue
		}
		if len(res) < 2 {
			continue
		}

		payload := res[1]
		var mr models.MatchResult
		if err := json.Unmarshal([]byte(payload), &mr); err != nil {
			h.logger.WithError(err).Error("discarding invalid match result payload")
			continue
		}

		pctx, cancel := context.WithTimeout(ctx, persistTimeout)
		err = results.Persist(pctx, mr)
		cancel()
		if err != nil {
			h.logger.WithField("match_id", mr.MatchID).WithError(err).
				Error("persist failed, requeueing")
			if pushErr := h.rdb.RPush(ctx, h.queueName, payload).Err(); pushErr != nil {
				h.logger.WithField("match_id", mr.MatchID).WithError(pushErr).
					Error("requeue failed, match result lost")
			}
			sleep(ctx, failureBackoff)
			continue
		}

		h.logger.WithFields(logrus.Fields{
			"match_id": mr.MatchID,
			"game_id":  mr.GameID,
			"mode":     mr.Mode,
		}).Info("match result persisted")
	}
}

func sleep(ctx context.Context, d time.Duration) {
	select {
	case <-ctx.Done():
	case <-time.After(d):
	}
}

func main() {
	logger := logrus.New()

	cfg := config.Load()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := database.Connect(ctx); err != nil {
		logger.Fatalf("historian needs the database: %v", err)
	}

	h := &historian{
		rdb: redis.NewClient(&redis.Options{
			Addr: cfg.RedisAddr,
			DB:   cfg.RedisDB,
		}),
		queueName: cfg.ResultQueueName,
		logger:    logger,
	}

	logger.Infof("historian draining %q", cfg.ResultQueueName)
	h.run(ctx)
	logger.Info("historian shutdown complete")
}
