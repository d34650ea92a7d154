// internal/session/heartbeat.go
package session

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/stemplay/realtime/internal/protocol"
)

// Supervisor pings every registered connection on a fixed interval and reaps
// connections that miss too many consecutive pongs. Reaping is delegated to
// OnDead, which the server wires to room removal and unregistration, the
// same path an explicit leave_room takes.
type Supervisor struct {
	reg       *Registry
	interval  time.Duration
	missLimit int
	logger    *logrus.Logger

	// OnDead is invoked once for each reaped connection, after it has been
	// closed with CloseHeartbeatTimeout.
	OnDead func(*Conn)
}

// NewSupervisor builds a heartbeat supervisor over the registry.
func NewSupervisor(reg *Registry, interval time.Duration, missLimit int, logger *logrus.Logger) *Supervisor {
	if missLimit < 1 {
		missLimit = 1
	}
	return &Supervisor{
		reg:       reg,
		interval:  interval,
		missLimit: missLimit,
		logger:    logger,
	}
}

// Run blocks, pinging all live connections every interval until ctx is done.
func (s *Supervisor) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, conn := range s.reg.Snapshot() {
				go s.pingOne(ctx, conn)
			}
		}
	}
}

// pingOne sends a single liveness ping. Ping waits for the matching pong, so
// an error here means the peer is unresponsive, not just that the write
// failed.
func (s *Supervisor) pingOne(ctx context.Context, conn *Conn) {
	if conn.Closed() {
		return
	}

	timeout := s.interval / 2
	if timeout > 10*time.Second {
		timeout = 10 * time.Second
	}
	pingCtx, cancel := context.WithTimeout(ctx, timeout)
	err := conn.Ping(pingCtx)
	cancel()

	if err == nil {
		conn.MarkPong()
		return
	}

	misses := conn.MissPong()
	s.logger.Warnf("player %s missed liveness pong %d/%d: %v", conn.PlayerID, misses, s.missLimit, err)
	if misses >= s.missLimit {
		s.reap(conn)
	}
}

func (s *Supervisor) reap(conn *Conn) {
	s.logger.Infof("reaping dead connection for player %s", conn.PlayerID)
	conn.Close(protocol.CloseHeartbeatTimeout, "heartbeat timeout")
	if s.OnDead != nil {
		s.OnDead(conn)
	}
}
