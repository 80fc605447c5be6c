package server

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"

	"collab-lab/contract"
	"collab-lab/domain"
	"collab-lab/errors"
	"collab-lab/observability"
	"collab-lab/protocol"
	"collab-lab/storage"
)

// FileAnnouncer broadcasts FILE_AVAILABLE on the control channel once an
// upload has been promoted into the catalog.
type FileAnnouncer interface {
	BroadcastFileAvailable(info domain.FileInfo)
}

// UploadServer accepts one upload per TCP connection:
//
//	client -> UploadHeader frame (filename, size, sha256)
//	server -> UploadResult frame (go-ahead or rejection)
//	client -> exactly Size raw bytes
//	server -> UploadResult frame (file id or error)
//
// Bytes land in a staging file and are promoted into the served directory
// only after the checksum verifies, so a partial or corrupted upload can
// never appear in the file list.
type UploadServer struct {
	host          string
	port          int
	maxUploadSize int64
	maxFrameSize  uint32
	log           *slog.Logger
	registry      contract.IRegistry
	store         *storage.Store
	catalog       storage.ICatalog
	transfers     *TransferTracker
	announcer     FileAnnouncer
	monitoring    *observability.MonitoringManager

	mu sync.Mutex
	ln net.Listener
}

func NewUploadServer(
	host string,
	port int,
	maxUploadSize int64,
	maxFrameSize uint32,
	log *slog.Logger,
	registry contract.IRegistry,
	store *storage.Store,
	catalog storage.ICatalog,
	transfers *TransferTracker,
	announcer FileAnnouncer,
	monitoring *observability.MonitoringManager,
) *UploadServer {
	return &UploadServer{
		host:          host,
		port:          port,
		maxUploadSize: maxUploadSize,
		maxFrameSize:  maxFrameSize,
		log:           log,
		registry:      registry,
		store:         store,
		catalog:       catalog,
		transfers:     transfers,
		announcer:     announcer,
		monitoring:    monitoring,
	}
}

func (s *UploadServer) Run(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.host, s.port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("upload listener on %s: %w", addr, err)
	}
	s.mu.Lock()
	s.ln = ln
	s.mu.Unlock()

	go func() {
		<-ctx.Done()
		_ = ln.Close()
	}()

	s.log.Info("Upload listener ready", "addr", addr)

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("upload accept: %w", err)
		}
		go s.handleConn(conn)
	}
}

// Addr reports the bound listener address, for tests that listen on port 0.
func (s *UploadServer) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln == nil {
		return nil
	}
	return s.ln.Addr()
}

func (s *UploadServer) handleConn(conn net.Conn) {
	defer conn.Close()

	header, err := readTransferFrame[protocol.UploadHeader](conn, s.maxFrameSize)
	if err != nil {
		s.monitoring.IncrParseErrors()
		s.log.Debug("Upload header unreadable", "error", err)
		return
	}

	uid := domain.UID(header.UID)
	participant, ok := s.registry.Get(uid)
	if !ok {
		s.reject(conn, errors.ErrNotLoggedIn, 0)
		return
	}
	if err := storage.SanitizeFilename(header.Filename); err != nil {
		s.reject(conn, err, 0)
		return
	}
	if header.Size <= 0 || header.Size > s.maxUploadSize {
		s.reject(conn, fmt.Errorf("%w: %d bytes (limit %d)",
			errors.ErrFileTooLarge, header.Size, s.maxUploadSize), 0)
		return
	}

	session := domain.NewUploadSession(header.Filename, header.Size, header.Checksum, uid)
	s.transfers.Register(uid, session.ID, conn)
	defer s.transfers.Deregister(uid, session.ID)

	received, err := s.receive(conn, session.ID, header)
	if err != nil {
		s.store.Discard(session.ID)
		s.reject(conn, err, received)
		return
	}

	info, err := s.promote(session.ID, header, participant.Username)
	if err != nil {
		s.store.Discard(session.ID)
		s.reject(conn, err, received)
		return
	}

	s.monitoring.IncrFilesUploaded()
	s.monitoring.AddBytesUploaded(uint64(received))
	s.log.Info("Upload complete",
		"file", info.Filename, "size", info.Size, "uploader", info.Uploader)

	s.writeResult(conn, protocol.UploadResult{
		OK:       true,
		FileID:   info.ID,
		Received: received,
	})
	s.announcer.BroadcastFileAvailable(info)
}

// receive streams exactly header.Size bytes into staging while hashing them,
// then compares against the declared checksum.
func (s *UploadServer) receive(conn net.Conn, sessionID string, header protocol.UploadHeader) (int64, error) {
	staging, err := s.store.CreateStaging(sessionID)
	if err != nil {
		return 0, err
	}
	defer staging.Close()

	// Go-ahead: the client must not start streaming before the header has
	// been validated.
	if err := s.writeResult(conn, protocol.UploadResult{OK: true}); err != nil {
		return 0, err
	}

	hasher := sha256.New()
	received, err := io.CopyN(io.MultiWriter(staging, hasher), conn, header.Size)
	if err != nil {
		return received, fmt.Errorf("%w: upload truncated at %d of %d bytes",
			errors.ErrConnectionLost, received, header.Size)
	}
	if err := staging.Sync(); err != nil {
		return received, err
	}

	got := hex.EncodeToString(hasher.Sum(nil))
	if !strings.EqualFold(got, header.Checksum) {
		return received, fmt.Errorf("%w: declared %s, computed %s",
			errors.ErrIntegrity, header.Checksum, got)
	}
	return received, nil
}

func (s *UploadServer) promote(sessionID string, header protocol.UploadHeader, uploader string) (domain.FileInfo, error) {
	fileID := uuid.NewString()
	storedName := fileID + "_" + header.Filename

	path, err := s.store.Promote(sessionID, storedName)
	if err != nil {
		return domain.FileInfo{}, err
	}

	mime := "application/octet-stream"
	if detected, err := mimetype.DetectFile(path); err == nil {
		mime = detected.String()
	}

	info := domain.FileInfo{
		ID:         fileID,
		Filename:   header.Filename,
		StoredName: storedName,
		Size:       header.Size,
		Checksum:   strings.ToLower(header.Checksum),
		MimeType:   mime,
		Uploader:   uploader,
		UploadedAt: time.Now().UTC(),
	}
	if err := s.catalog.PutFile(info); err != nil {
		return domain.FileInfo{}, err
	}
	return info, nil
}

func (s *UploadServer) reject(conn net.Conn, err error, received int64) {
	s.log.Info("Upload rejected", "error", err)
	_ = s.writeResult(conn, protocol.UploadResult{
		OK:       false,
		Code:     errors.Code(err),
		Message:  err.Error(),
		Received: received,
	})
}

func (s *UploadServer) writeResult(conn net.Conn, result protocol.UploadResult) error {
	payload, err := json.Marshal(result)
	if err != nil {
		return err
	}
	return protocol.WriteFrame(conn, payload)
}

// readTransferFrame reads one length-prefixed JSON frame and decodes it.
func readTransferFrame[T any](conn net.Conn, maxSize uint32) (T, error) {
	var out T
	payload, err := protocol.ReadFrame(conn, maxSize)
	if err != nil {
		return out, err
	}
	if err := json.Unmarshal(payload, &out); err != nil {
		return out, fmt.Errorf("%w: %v", errors.ErrMalformedFrame, err)
	}
	return out, nil
}
