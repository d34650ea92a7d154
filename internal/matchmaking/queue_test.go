// internal/matchmaking/queue_test.go
package matchmaking

import (
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	return logger
}

func testQueue() (*Queue, *[]Match) {
	q := NewQueue(2*time.Second, testLogger())
	matches := &[]Match{}
	var mu sync.Mutex
	q.OnMatch = func(m Match) {
		mu.Lock()
		*matches = append(*matches, m)
		mu.Unlock()
	}
	return q, matches
}

func ticket(rating, deviation float64) Ticket {
	return Ticket{
		PlayerID:       uuid.New(),
		GameID:         "tictactoe",
		SkillRating:    rating,
		SkillDeviation: deviation,
		Region:         "us-east",
		Mode:           "ranked",
		MaxPlayers:     2,
	}
}

func TestCompatiblePairMatchesOnPass(t *testing.T) {
	q, matches := testQueue()

	a := ticket(1000, 200)
	b := ticket(1050, 200)
	q.Enqueue(a)
	q.Enqueue(b)
	require.Empty(t, *matches, "enqueue alone must not dispatch; callers ack first")

	q.Pass()
	require.Len(t, *matches, 1)
	m := (*matches)[0]
	assert.Equal(t, "tictactoe", m.GameID)
	require.Len(t, m.Tickets, 2)
	assert.Equal(t, a.PlayerID, m.Tickets[0].PlayerID, "earliest ticket leads the match")
	assert.Equal(t, b.PlayerID, m.Tickets[1].PlayerID)
	assert.Equal(t, 0, q.Len(), "consumed tickets leave the queue")
}

func TestIncompatiblePairStaysQueued(t *testing.T) {
	q, matches := testQueue()

	q.Enqueue(ticket(1000, 50))
	q.Enqueue(ticket(2000, 50))
	q.Pass()

	assert.Empty(t, *matches)
	assert.Equal(t, 2, q.Len())
}

func TestBucketsIsolateRegionAndMode(t *testing.T) {
	q, matches := testQueue()

	a := ticket(1000, 350)
	b := ticket(1000, 350)
	b.Region = "eu-west"
	c := ticket(1000, 350)
	c.Mode = "casual"

	q.Enqueue(a)
	q.Enqueue(b)
	q.Enqueue(c)
	q.Pass()

	assert.Empty(t, *matches, "tickets in different buckets never pair")
	assert.Equal(t, 3, q.Len())
}

// Widening: a rating gap too large at enqueue time becomes matchable
// after the tickets have waited.
func TestWideningUnsticksDistantRatings(t *testing.T) {
	q, matches := testQueue()
	base := time.Now()
	q.now = func() time.Time { return base }

	q.Enqueue(ticket(1000, 50))
	q.Enqueue(ticket(1400, 50))
	q.Pass()
	require.Empty(t, *matches)

	// gap 400, base tolerance 50+50. Needs 300 more: 2.5/s per ticket
	// covers it after 60s of shared waiting.
	q.now = func() time.Time { return base.Add(61 * time.Second) }
	q.Pass()

	require.Len(t, *matches, 1)
	assert.Equal(t, 0, q.Len())
}

func TestEnqueueReplacesExistingTicket(t *testing.T) {
	q, matches := testQueue()

	a := ticket(1000, 10)
	q.Enqueue(a)

	moved := a
	moved.Region = "eu-west"
	q.Enqueue(moved)
	assert.Equal(t, 1, q.Len(), "re-enqueue must not leave two tickets")

	// A partner in the old bucket no longer sees the player there.
	q.Enqueue(ticket(1000, 10))
	q.Pass()
	assert.Empty(t, *matches)
}

func TestDequeue(t *testing.T) {
	q, matches := testQueue()

	a := ticket(1000, 350)
	q.Enqueue(a)
	require.NoError(t, q.Dequeue(a.PlayerID))
	assert.ErrorIs(t, q.Dequeue(a.PlayerID), ErrNoTicket)

	q.Enqueue(ticket(1010, 350))
	q.Pass()
	assert.Empty(t, *matches, "cancelled ticket must not be paired")
}

func TestEnqueuePositionAndEstimate(t *testing.T) {
	q, _ := testQueue()

	pos, wait := q.Enqueue(ticket(1000, 1))
	assert.Equal(t, 0, pos)
	assert.Equal(t, time.Duration(0), wait)

	pos, wait = q.Enqueue(ticket(5000, 1))
	assert.Equal(t, 1, pos)
	assert.Equal(t, 2*time.Second, wait)
}

func TestFourPlayerParty(t *testing.T) {
	q, matches := testQueue()

	var ids []uuid.UUID
	for i := 0; i < 4; i++ {
		tk := ticket(1000+float64(i*10), 200)
		tk.MaxPlayers = 4
		ids = append(ids, tk.PlayerID)
		q.Enqueue(tk)
	}
	q.Pass()

	require.Len(t, *matches, 1)
	m := (*matches)[0]
	require.Len(t, m.Tickets, 4)
	assert.Equal(t, ids[0], m.Tickets[0].PlayerID)
	assert.Equal(t, 0, q.Len())
}

// A pass never books a ticket into two matches: tickets still queued
// after a pass are disjoint from those consumed into matches.
func TestPassConsumedAndOutstandingDisjoint(t *testing.T) {
	q, matches := testQueue()
	base := time.Now()
	q.now = func() time.Time { return base }

	all := make(map[uuid.UUID]bool)
	for i := 0; i < 9; i++ {
		tk := ticket(1000+float64(i*30), 100)
		all[tk.PlayerID] = true
		q.Enqueue(tk)
	}
	q.Pass()

	consumed := make(map[uuid.UUID]bool)
	for _, m := range *matches {
		for _, tk := range m.Tickets {
			assert.False(t, consumed[tk.PlayerID], "ticket consumed twice")
			consumed[tk.PlayerID] = true
		}
	}

	assert.Equal(t, len(all), len(consumed)+q.Len())
	for id := range consumed {
		assert.False(t, q.Has(id), "consumed ticket still outstanding")
	}
}

func TestConcurrentEnqueueDequeue(t *testing.T) {
	q, _ := testQueue()

	var wg sync.WaitGroup
	for i := 0; i < 40; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			tk := ticket(1000+float64(n), 350)
			q.Enqueue(tk)
			if n%2 == 0 {
				q.Dequeue(tk.PlayerID)
			}
		}(i)
	}
	wg.Wait()

	q.Pass()
	assert.LessOrEqual(t, q.Len(), 1)
}
