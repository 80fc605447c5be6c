package server

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"

	"collab-lab/contract"
	"collab-lab/domain"
	"collab-lab/observability"
	"collab-lab/protocol"
)

// maxShareBlob caps one screen frame. Full-screen JPEG captures stay far
// below this; anything larger is a broken or hostile producer.
const maxShareBlob = 16 << 20

// PresenterNotifier lets the screen-share relay announce a presenter that
// vanished without sending PRESENT_STOP on the control channel.
type PresenterNotifier interface {
	BroadcastPresentStop(uid domain.UID, username string)
}

// ScreenShareServer relays length-prefixed screen blobs from the single
// active producer to every connected consumer. Exclusivity lives in the
// registry's presenter slot, so a PRESENT_START on the control channel and
// a producer handshake here contend for the same lock.
type ScreenShareServer struct {
	host       string
	port       int
	log        *slog.Logger
	registry   contract.IRegistry
	notifier   PresenterNotifier
	monitoring *observability.MonitoringManager

	mu        sync.Mutex
	ln        net.Listener
	producer  net.Conn
	consumers map[net.Conn]struct{}
}

func NewScreenShareServer(
	host string,
	port int,
	log *slog.Logger,
	registry contract.IRegistry,
	notifier PresenterNotifier,
	monitoring *observability.MonitoringManager,
) *ScreenShareServer {
	return &ScreenShareServer{
		host:       host,
		port:       port,
		log:        log,
		registry:   registry,
		notifier:   notifier,
		monitoring: monitoring,
		consumers:  make(map[net.Conn]struct{}),
	}
}

func (s *ScreenShareServer) Run(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.host, s.port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("screen-share listener on %s: %w", addr, err)
	}
	s.mu.Lock()
	s.ln = ln
	s.mu.Unlock()

	go func() {
		<-ctx.Done()
		_ = ln.Close()
	}()

	s.log.Info("Screen-share relay listening", "addr", addr)

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("screen-share accept: %w", err)
		}
		go s.handleConn(conn)
	}
}

// Addr reports the bound listener address, for tests that listen on port 0.
func (s *ScreenShareServer) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln == nil {
		return nil
	}
	return s.ln.Addr()
}

func (s *ScreenShareServer) handleConn(conn net.Conn) {
	hello, err := protocol.ReadShareHello(conn)
	if err != nil {
		s.log.Debug("Screen-share handshake failed", "error", err)
		_ = conn.Close()
		return
	}

	switch hello.Role {
	case protocol.RoleProducer:
		s.handleProducer(conn, hello.UID)
	case protocol.RoleConsumer:
		s.handleConsumer(conn, hello.UID)
	default:
		s.log.Warn("Screen-share hello with unknown role", "role", hello.Role)
		_ = conn.Close()
	}
}

func (s *ScreenShareServer) handleProducer(conn net.Conn, uid domain.UID) {
	// The presenter slot is the exclusivity lock. A reconnecting holder may
	// re-claim it; anyone else gets BUSY. Claiming the slot and swapping the
	// producer socket happen under one lock so the replaced connection's
	// teardown always observes the swap.
	s.mu.Lock()
	if err := s.registry.StartPresenting(uid); err != nil {
		s.mu.Unlock()
		s.log.Info("Producer rejected", "uid", uid, "error", err)
		_ = protocol.WriteShareStatus(conn, protocol.StatusBusy)
		_ = conn.Close()
		return
	}
	stale := s.producer
	s.producer = conn
	s.mu.Unlock()

	if stale != nil {
		// Stale socket from a previous claim by the same uid.
		_ = stale.Close()
	}

	if err := protocol.WriteShareStatus(conn, protocol.StatusOK); err != nil {
		s.endShare(conn, uid)
		return
	}

	p, _ := s.registry.Get(uid)
	s.log.Info("Producer streaming", "uid", uid, "username", p.Username)

	for {
		blob, err := protocol.ReadFrame(conn, maxShareBlob)
		if err != nil {
			if err != io.EOF {
				s.log.Debug("Producer stream ended", "uid", uid, "error", err)
			}
			break
		}
		s.monitoring.IncrShareFrames()
		s.fanOut(blob)
	}

	s.endShare(conn, uid)
}

func (s *ScreenShareServer) handleConsumer(conn net.Conn, uid domain.UID) {
	if _, ok := s.registry.Get(uid); !ok {
		s.log.Debug("Consumer with unknown uid rejected", "uid", uid)
		_ = protocol.WriteShareStatus(conn, protocol.StatusBusy)
		_ = conn.Close()
		return
	}
	// Registered before the OK goes out, so a blob streamed the instant the
	// client sees the status cannot be missed.
	s.mu.Lock()
	s.consumers[conn] = struct{}{}
	s.mu.Unlock()

	if err := protocol.WriteShareStatus(conn, protocol.StatusOK); err != nil {
		s.mu.Lock()
		delete(s.consumers, conn)
		s.mu.Unlock()
		_ = conn.Close()
		return
	}

	// Consumers never send after the hello. Blocking on a read detects the
	// disconnect without a keepalive protocol.
	var one [1]byte
	_, _ = conn.Read(one[:])

	s.mu.Lock()
	delete(s.consumers, conn)
	s.mu.Unlock()
	_ = conn.Close()
}

// fanOut writes one blob to every consumer. A consumer that errors is
// dropped immediately so one dead socket cannot stall the stream.
func (s *ScreenShareServer) fanOut(blob []byte) {
	s.mu.Lock()
	conns := make([]net.Conn, 0, len(s.consumers))
	for c := range s.consumers {
		conns = append(conns, c)
	}
	s.mu.Unlock()

	for _, c := range conns {
		if err := protocol.WriteFrame(c, blob); err != nil {
			s.mu.Lock()
			delete(s.consumers, c)
			s.mu.Unlock()
			_ = c.Close()
		}
	}
}

// endShare runs when the producer stream terminates for any reason: release
// the presenter slot, close every consumer, and tell the control channel if
// the slot was still held. A socket that has already been replaced by a
// reconnect of the same uid must not tear anything down: the new connection
// owns the consumers and the presenter slot now.
func (s *ScreenShareServer) endShare(conn net.Conn, uid domain.UID) {
	_ = conn.Close()

	s.mu.Lock()
	if s.producer != conn {
		s.mu.Unlock()
		return
	}
	s.producer = nil
	for c := range s.consumers {
		_ = c.Close()
		delete(s.consumers, c)
	}
	s.mu.Unlock()

	p, known := s.registry.Get(uid)
	if err := s.registry.StopPresenting(uid); err == nil && known {
		s.notifier.BroadcastPresentStop(uid, p.Username)
	}
	s.log.Info("Screen share ended", "uid", uid)
}
