package server

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"

	"collab-lab/contract"
	"collab-lab/domain"
	"collab-lab/errors"
	"collab-lab/observability"
	"collab-lab/protocol"
	"collab-lab/storage"
)

// DownloadServer serves one file per TCP connection:
//
//	client -> DownloadRequest frame (filename, resume offset)
//	server -> DownloadResponse frame (remaining size or rejection)
//	server -> raw bytes from the offset to end-of-file, then close
//
// A resume offset equal to the stored size is a valid zero-byte completion;
// one beyond it is INVALID_RANGE.
type DownloadServer struct {
	host         string
	port         int
	maxFrameSize uint32
	log          *slog.Logger
	registry     contract.IRegistry
	store        *storage.Store
	catalog      storage.ICatalog
	transfers    *TransferTracker
	monitoring   *observability.MonitoringManager

	mu sync.Mutex
	ln net.Listener
}

func NewDownloadServer(
	host string,
	port int,
	maxFrameSize uint32,
	log *slog.Logger,
	registry contract.IRegistry,
	store *storage.Store,
	catalog storage.ICatalog,
	transfers *TransferTracker,
	monitoring *observability.MonitoringManager,
) *DownloadServer {
	return &DownloadServer{
		host:         host,
		port:         port,
		maxFrameSize: maxFrameSize,
		log:          log,
		registry:     registry,
		store:        store,
		catalog:      catalog,
		transfers:    transfers,
		monitoring:   monitoring,
	}
}

func (s *DownloadServer) Run(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.host, s.port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("download listener on %s: %w", addr, err)
	}
	s.mu.Lock()
	s.ln = ln
	s.mu.Unlock()

	go func() {
		<-ctx.Done()
		_ = ln.Close()
	}()

	s.log.Info("Download listener ready", "addr", addr)

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("download accept: %w", err)
		}
		go s.handleConn(conn)
	}
}

// Addr reports the bound listener address, for tests that listen on port 0.
func (s *DownloadServer) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln == nil {
		return nil
	}
	return s.ln.Addr()
}

func (s *DownloadServer) handleConn(conn net.Conn) {
	defer conn.Close()

	req, err := readTransferFrame[protocol.DownloadRequest](conn, s.maxFrameSize)
	if err != nil {
		s.monitoring.IncrParseErrors()
		s.log.Debug("Download request unreadable", "error", err)
		return
	}

	uid := domain.UID(req.UID)
	if _, ok := s.registry.Get(uid); !ok {
		s.reject(conn, errors.ErrNotLoggedIn)
		return
	}

	info, err := s.catalog.GetFile(req.Filename)
	if err != nil {
		s.reject(conn, err)
		return
	}

	reader, remaining, err := s.store.OpenAt(info.StoredName, req.ResumeOffset)
	if err != nil {
		s.reject(conn, err)
		return
	}
	defer reader.Close()

	session := domain.NewDownloadSession(req.Filename, req.ResumeOffset, uid)
	s.transfers.Register(uid, session.ID, conn)
	defer s.transfers.Deregister(uid, session.ID)

	if err := s.writeResponse(conn, protocol.DownloadResponse{OK: true, Size: remaining}); err != nil {
		return
	}

	sent, err := io.Copy(conn, reader)
	s.monitoring.AddBytesDownloaded(uint64(sent))
	if err != nil {
		s.log.Debug("Download interrupted",
			"file", req.Filename, "uid", uid, "sent", sent, "error", err)
		return
	}
	s.log.Info("Download complete",
		"file", req.Filename, "uid", uid, "offset", req.ResumeOffset, "sent", sent)
}

func (s *DownloadServer) reject(conn net.Conn, err error) {
	s.log.Info("Download rejected", "error", err)
	_ = s.writeResponse(conn, protocol.DownloadResponse{
		OK:      false,
		Code:    errors.Code(err),
		Message: err.Error(),
	})
}

func (s *DownloadServer) writeResponse(conn net.Conn, resp protocol.DownloadResponse) error {
	payload, err := json.Marshal(resp)
	if err != nil {
		return err
	}
	return protocol.WriteFrame(conn, payload)
}
