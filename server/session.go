package server

import (
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"collab-lab/domain"
	"collab-lab/errors"
	"collab-lab/observability"
	"collab-lab/protocol"
)

// session is one participant's control connection. Outbound delivery runs on
// its own goroutine behind a bounded queue so a slow reader never blocks a
// broadcast to anyone else. Chat and control traffic must not be silently
// dropped: when the queue stays full past the delivery timeout the send
// fails and the caller cuts the participant loose.
type session struct {
	conn            net.Conn
	log             *slog.Logger
	out             chan domain.Envelope
	done            chan struct{}
	closeOnce       sync.Once
	deliveryTimeout time.Duration
	monitoring      *observability.MonitoringManager
}

func newSession(
	conn net.Conn,
	log *slog.Logger,
	queueSize int,
	deliveryTimeout time.Duration,
	monitoring *observability.MonitoringManager,
) *session {
	s := &session{
		conn:            conn,
		log:             log,
		out:             make(chan domain.Envelope, queueSize),
		done:            make(chan struct{}),
		deliveryTimeout: deliveryTimeout,
		monitoring:      monitoring,
	}
	go s.writeLoop()
	return s
}

// Send queues one envelope for delivery. Blocks at most deliveryTimeout.
func (s *session) Send(env domain.Envelope) error {
	timer := time.NewTimer(s.deliveryTimeout)
	defer timer.Stop()

	select {
	case s.out <- env:
		return nil
	case <-s.done:
		return errors.ErrConnectionLost
	case <-timer.C:
		s.monitoring.IncrDroppedDeliveries()
		return fmt.Errorf("%w: delivery to %s timed out after %s",
			errors.ErrQueueFull, s.conn.RemoteAddr(), s.deliveryTimeout)
	}
}

// Close tears the connection down and unblocks both loops. Idempotent, so
// the read loop, the write loop, and the logout cascade can all race on it.
func (s *session) Close() {
	s.closeOnce.Do(func() {
		close(s.done)
		_ = s.conn.Close()
	})
}

func (s *session) writeLoop() {
	for {
		select {
		case <-s.done:
			return
		case env := <-s.out:
			if err := protocol.WriteEnvelope(s.conn, env); err != nil {
				s.log.Debug("Outbound write failed, closing session",
					"remote", s.conn.RemoteAddr().String(), "error", err)
				s.Close()
				return
			}
		}
	}
}
