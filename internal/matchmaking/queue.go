// internal/matchmaking/queue.go

// Package matchmaking holds ranked tickets in per (gameId, region, mode)
// FIFO buckets and pairs compatible tickets into matches. Two tickets are
// compatible when their rating gap is at most the sum of their effective
// tolerances, where a ticket's tolerance starts at its skill deviation
// and widens by 2.5 points per second waited, so distant ratings
// eventually match instead of queueing forever.
package matchmaking

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

var ErrNoTicket = errors.New("no active matchmaking ticket")

// wideningRate is the tolerance growth in rating points per second waited.
const wideningRate = 2.5

// Ticket is one player's pending matchmaking request.
type Ticket struct {
	PlayerID       uuid.UUID
	GameID         string
	SkillRating    float64
	SkillDeviation float64
	Region         string
	Mode           string
	MaxPlayers     int
	EnqueuedAt     time.Time
}

// tolerance is the ticket's effective rating tolerance at time now.
func (t Ticket) tolerance(now time.Time) float64 {
	waited := now.Sub(t.EnqueuedAt).Seconds()
	if waited < 0 {
		waited = 0
	}
	return t.SkillDeviation + wideningRate*waited
}

func compatible(a, b Ticket, now time.Time) bool {
	gap := a.SkillRating - b.SkillRating
	if gap < 0 {
		gap = -gap
	}
	return gap <= a.tolerance(now)+b.tolerance(now)
}

// Match is a consumed set of tickets, earliest-enqueued first. The first
// ticket's owner hosts the room.
type Match struct {
	GameID  string
	Region  string
	Mode    string
	Tickets []Ticket
}

type bucketKey struct {
	gameID string
	region string
	mode   string
}

// Queue serializes all ticket state behind one mutex. Pairing happens in
// explicit passes: callers run one right after acknowledging an enqueue,
// and a periodic ticker re-runs them so that wait-time widening actually
// unsticks stale tickets. Consumed tickets are removed under the lock;
// OnMatch fires after it is released.
type Queue struct {
	mu       sync.Mutex
	buckets  map[bucketKey][]Ticket
	byPlayer map[uuid.UUID]bucketKey

	passInterval time.Duration
	logger       *logrus.Logger
	now          func() time.Time

	// OnMatch receives each consumed match. Must be set before any
	// enqueue; it runs outside the queue lock.
	OnMatch func(Match)
}

func NewQueue(passInterval time.Duration, logger *logrus.Logger) *Queue {
	return &Queue{
		buckets:      make(map[bucketKey][]Ticket),
		byPlayer:     make(map[uuid.UUID]bucketKey),
		passInterval: passInterval,
		logger:       logger,
		now:          time.Now,
	}
}

// Enqueue files the ticket, replacing any earlier ticket for the same
// player. It never runs a pairing pass itself: callers acknowledge the
// ticket first and then call Pass, so the player always sees the queue
// ack before any match_found. The returned position and wait estimate
// describe the queue as seen at enqueue time; the estimate is a
// best-effort hint, not a promise.
func (q *Queue) Enqueue(t Ticket) (position int, estimatedWait time.Duration) {
	if t.MaxPlayers < 2 {
		t.MaxPlayers = 2
	}
	if t.EnqueuedAt.IsZero() {
		t.EnqueuedAt = q.now()
	}
	key := bucketKey{gameID: t.GameID, region: t.Region, mode: t.Mode}

	q.mu.Lock()
	q.removeLocked(t.PlayerID)
	q.buckets[key] = append(q.buckets[key], t)
	q.byPlayer[t.PlayerID] = key
	position = len(q.buckets[key]) - 1
	estimatedWait = time.Duration(position) * q.passInterval
	q.mu.Unlock()

	q.logger.WithFields(logrus.Fields{
		"player_id": t.PlayerID,
		"game_id":   t.GameID,
		"region":    t.Region,
		"mode":      t.Mode,
		"position":  position,
	}).Info("matchmaking ticket enqueued")

	return position, estimatedWait
}

// Dequeue removes the player's ticket. ErrNoTicket if none is active.
func (q *Queue) Dequeue(playerID uuid.UUID) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if _, ok := q.byPlayer[playerID]; !ok {
		return ErrNoTicket
	}
	q.removeLocked(playerID)
	return nil
}

// Has reports whether the player holds an active ticket.
func (q *Queue) Has(playerID uuid.UUID) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	_, ok := q.byPlayer[playerID]
	return ok
}

// Len returns the number of outstanding tickets.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.byPlayer)
}

// Run re-runs the pairing pass over every bucket at the configured
// interval until ctx is cancelled.
func (q *Queue) Run(ctx context.Context) {
	ticker := time.NewTicker(q.passInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			q.Pass()
		}
	}
}

// Pass runs one pairing pass over every bucket.
func (q *Queue) Pass() {
	q.mu.Lock()
	var matches []Match
	for key := range q.buckets {
		matches = append(matches, q.passBucketLocked(key)...)
	}
	q.mu.Unlock()
	q.dispatch(matches)
}

// passBucketLocked repeatedly extracts matches from one bucket. Scanning
// is oldest-first: the oldest ticket anchors a candidate set, and later
// tickets join it only if they fit the anchor's party size and are
// compatible with every member already collected.
func (q *Queue) passBucketLocked(key bucketKey) []Match {
	var matches []Match
	now := q.now()

	for {
		bucket := q.buckets[key]
		if len(bucket) < 2 {
			break
		}

		set := q.findSetLocked(bucket, now)
		if set == nil {
			break
		}

		m := Match{GameID: key.gameID, Region: key.region, Mode: key.mode}
		taken := make(map[uuid.UUID]bool, len(set))
		for _, t := range set {
			m.Tickets = append(m.Tickets, t)
			taken[t.PlayerID] = true
			delete(q.byPlayer, t.PlayerID)
		}

		remaining := bucket[:0]
		for _, t := range bucket {
			if !taken[t.PlayerID] {
				remaining = append(remaining, t)
			}
		}
		if len(remaining) == 0 {
			delete(q.buckets, key)
		} else {
			q.buckets[key] = remaining
		}
		matches = append(matches, m)
	}
	return matches
}

// findSetLocked returns the first full candidate set anchored at the
// oldest viable ticket, or nil when nothing matches yet.
func (q *Queue) findSetLocked(bucket []Ticket, now time.Time) []Ticket {
	for anchor := 0; anchor < len(bucket)-1; anchor++ {
		want := bucket[anchor].MaxPlayers
		set := []Ticket{bucket[anchor]}
		for j := anchor + 1; j < len(bucket) && len(set) < want; j++ {
			cand := bucket[j]
			if cand.MaxPlayers != want {
				continue
			}
			fits := true
			for _, member := range set {
				if !compatible(member, cand, now) {
					fits = false
					break
				}
			}
			if fits {
				set = append(set, cand)
			}
		}
		if len(set) == want {
			return set
		}
	}
	return nil
}

func (q *Queue) removeLocked(playerID uuid.UUID) {
	key, ok := q.byPlayer[playerID]
	if !ok {
		return
	}
	delete(q.byPlayer, playerID)
	bucket := q.buckets[key]
	for i := range bucket {
		if bucket[i].PlayerID == playerID {
			q.buckets[key] = append(bucket[:i], bucket[i+1:]...)
			break
		}
	}
	if len(q.buckets[key]) == 0 {
		delete(q.buckets, key)
	}
}

func (q *Queue) dispatch(matches []Match) {
	if q.OnMatch == nil {
		return
	}
	for _, m := range matches {
		q.OnMatch(m)
	}
}
