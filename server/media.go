package server

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"collab-lab/contract"
	"collab-lab/domain"
	"collab-lab/observability"
	"collab-lab/protocol"
)

const mediaReadTimeout = 1 * time.Second

// MediaRelay fans inbound UDP media datagrams out to every other participant
// with the matching media flag enabled. One instance per kind (video, audio),
// each on its own port and socket. The sender's source address doubles as its
// return endpoint: the first datagram from a uid teaches the relay where to
// send that participant's inbound stream.
type MediaRelay struct {
	kind       contract.MediaKind
	host       string
	port       int
	bufferSize int
	log        *slog.Logger
	registry   contract.IRegistry
	monitoring *observability.MonitoringManager

	mu   sync.Mutex
	conn *net.UDPConn
}

func NewMediaRelay(
	kind contract.MediaKind,
	host string,
	port int,
	bufferSize int,
	log *slog.Logger,
	registry contract.IRegistry,
	monitoring *observability.MonitoringManager,
) *MediaRelay {
	return &MediaRelay{
		kind:       kind,
		host:       host,
		port:       port,
		bufferSize: bufferSize,
		log:        log,
		registry:   registry,
		monitoring: monitoring,
	}
}

func (r *MediaRelay) Run(ctx context.Context) error {
	addr := &net.UDPAddr{IP: net.ParseIP(r.host), Port: r.port}
	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return fmt.Errorf("%s relay on port %d: %w", r.kindName(), r.port, err)
	}
	defer conn.Close()
	r.mu.Lock()
	r.conn = conn
	r.mu.Unlock()

	r.log.Info("Media relay listening", "kind", r.kindName(), "port", r.port)

	buf := make([]byte, r.bufferSize)
	for {
		if ctx.Err() != nil {
			return nil
		}
		if err := conn.SetReadDeadline(time.Now().Add(mediaReadTimeout)); err != nil {
			return fmt.Errorf("%s relay deadline: %w", r.kindName(), err)
		}
		n, src, err := conn.ReadFromUDP(buf)
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				continue
			}
			return fmt.Errorf("%s relay read: %w", r.kindName(), err)
		}

		uid, ok := r.senderUID(buf[:n])
		if !ok {
			r.monitoring.IncrParseErrors()
			continue
		}
		// Unknown uid: the datagram is dropped, never relayed.
		if !r.registry.ObserveMediaAddr(uid, r.kind, src) {
			r.log.Debug("Datagram from unregistered uid dropped",
				"kind", r.kindName(), "uid", uid, "src", src.String())
			continue
		}

		for _, target := range r.registry.MediaTargets(r.kind, uid) {
			if _, err := conn.WriteToUDP(buf[:n], target); err != nil {
				r.log.Debug("Media relay write failed",
					"kind", r.kindName(), "target", target.String(), "error", err)
			}
		}
		r.countPacket()
	}
}

// Addr reports the bound socket address, for tests that listen on port 0.
func (r *MediaRelay) Addr() net.Addr {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.conn == nil {
		return nil
	}
	return r.conn.LocalAddr()
}

// senderUID validates the datagram header for this relay's kind and extracts
// the sender. Payload bytes are never inspected.
func (r *MediaRelay) senderUID(datagram []byte) (domain.UID, bool) {
	switch r.kind {
	case contract.MediaVideo:
		pkt, err := protocol.ParseVideoPacket(datagram)
		if err != nil {
			return 0, false
		}
		return pkt.SenderUID, true
	default:
		pkt, err := protocol.ParseAudioPacket(datagram)
		if err != nil {
			return 0, false
		}
		return pkt.SenderUID, true
	}
}

func (r *MediaRelay) countPacket() {
	if r.kind == contract.MediaVideo {
		r.monitoring.IncrVideoPackets()
		return
	}
	r.monitoring.IncrAudioPackets()
}

func (r *MediaRelay) kindName() string {
	if r.kind == contract.MediaVideo {
		return "video"
	}
	return "audio"
}
