package server

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"net"
	"sync"

	"github.com/go-playground/validator/v10"

	"collab-lab/contract"
	"collab-lab/domain"
	"collab-lab/errors"
	"collab-lab/internal"
	"collab-lab/observability"
	"collab-lab/protocol"
	"collab-lab/services"
	"collab-lab/storage"
)

// ControlServer owns the TCP control channel: one framed JSON connection per
// participant, with every mutation of shared state funneled through the
// registry. It also implements contract.Disconnector so the reaper, the
// media relays, and the transfer servers can run the same logout cascade.
type ControlServer struct {
	cfg        internal.Config
	log        *slog.Logger
	registry   contract.IRegistry
	chat       services.IChatService
	catalog    storage.ICatalog
	transfers  *TransferTracker
	limiter    *ipLimiter
	validate   *validator.Validate
	monitoring *observability.MonitoringManager

	mu sync.Mutex
	ln net.Listener
}

func NewControlServer(
	cfg internal.Config,
	log *slog.Logger,
	registry contract.IRegistry,
	chat services.IChatService,
	catalog storage.ICatalog,
	transfers *TransferTracker,
	monitoring *observability.MonitoringManager,
) *ControlServer {
	return &ControlServer{
		cfg:        cfg,
		log:        log,
		registry:   registry,
		chat:       chat,
		catalog:    catalog,
		transfers:  transfers,
		limiter:    newIPLimiter(cfg.RateLimitWindow, cfg.RateLimitAttempts),
		validate:   validator.New(),
		monitoring: monitoring,
	}
}

func (s *ControlServer) Run(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.ControlPort)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("control listener on %s: %w", addr, err)
	}
	s.mu.Lock()
	s.ln = ln
	s.mu.Unlock()

	go func() {
		<-ctx.Done()
		_ = ln.Close()
	}()

	s.log.Info("Control channel listening", "addr", addr)

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("control accept: %w", err)
		}
		go s.handleConn(ctx, conn)
	}
}

// Addr reports the bound listener address, for tests that listen on port 0.
func (s *ControlServer) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln == nil {
		return nil
	}
	return s.ln.Addr()
}

func (s *ControlServer) handleConn(ctx context.Context, conn net.Conn) {
	ip := remoteIP(conn)
	if !s.limiter.Allow(ip) {
		s.log.Warn("Connection rate limited", "ip", ip)
		env, _ := domain.NewEnvelope(domain.TypeError, 0, domain.ErrorPayload{
			Code:    errors.Code(errors.ErrRateLimited),
			Message: errors.ErrRateLimited.Error(),
		})
		_ = protocol.WriteEnvelope(conn, env)
		_ = conn.Close()
		return
	}

	s.monitoring.IncrConnections()
	sess := newSession(conn, s.log, s.cfg.OutboundQueueSize, s.cfg.DeliveryTimeout, s.monitoring)

	var uid domain.UID
	defer func() {
		if uid != 0 {
			s.Disconnect(uid, "connection closed")
		} else {
			sess.Close()
		}
	}()

	for {
		if ctx.Err() != nil {
			return
		}
		env, err := protocol.ReadEnvelope(conn, uint32(s.cfg.MaxFrameSize))
		if err != nil {
			if stderrors.Is(err, errors.ErrMalformedFrame) {
				s.monitoring.IncrParseErrors()
				s.replyError(sess, err)
			}
			return
		}

		if uid == 0 {
			if env.Type != domain.TypeLogin {
				s.replyError(sess, errors.ErrNotLoggedIn)
				return
			}
			newUID, ok := s.handleLogin(sess, env)
			if !ok {
				continue // login failed, the client may retry on the same conn
			}
			uid = newUID
			continue
		}

		s.registry.Touch(uid)
		if env.Type == domain.TypeLogout {
			s.log.Info("Participant logged out", "uid", uid)
			return
		}
		if err := s.dispatch(sess, uid, env); err != nil {
			s.log.Warn("Handler failed, dropping connection",
				"uid", uid, "type", env.Type, "error", err)
			return
		}
	}
}

// dispatch routes one post-login message. A non-nil return tears the
// connection down; recoverable request errors are reported to the sender
// as ERROR envelopes and return nil.
func (s *ControlServer) dispatch(sess *session, uid domain.UID, env domain.Envelope) error {
	switch env.Type {
	case domain.TypeHeartbeat:
		return s.sendTo(sess, domain.TypeHeartbeatAck, 0, nil)

	case domain.TypeChatMessage:
		return s.handleChat(sess, uid, env)

	case domain.TypeUnicast:
		return s.handleUnicast(sess, uid, env)

	case domain.TypeGetParticipants:
		return s.sendTo(sess, domain.TypeParticipantList, 0,
			domain.ParticipantList{Participants: s.registry.List()})

	case domain.TypeGetHistory:
		return s.sendTo(sess, domain.TypeHistory, 0,
			domain.HistoryPayload{Messages: s.chat.History()})

	case domain.TypePresentStart:
		return s.handlePresentStart(sess, uid)

	case domain.TypePresentStop:
		return s.handlePresentStop(sess, uid)

	case domain.TypeMediaState:
		var state domain.MediaState
		if err := env.Decode(&state); err != nil {
			s.replyError(sess, errors.ErrMalformedFrame)
			return nil
		}
		s.registry.SetMediaState(uid, state.Video, state.Audio)
		return nil

	case domain.TypeFileUploadRequest:
		return s.sendTo(sess, domain.TypeFileUploadResponse, 0,
			domain.FileUploadResponse{Port: s.cfg.UploadPort})

	case domain.TypeFileDownloadRequest, domain.TypeFileListRequest:
		return s.handleFileList(sess, env.Type)

	default:
		s.log.Warn("Unknown message type", "uid", uid, "type", env.Type)
		s.replyError(sess, errors.ErrMalformedFrame)
		return errors.ErrMalformedFrame
	}
}

func (s *ControlServer) handleLogin(sess *session, env domain.Envelope) (domain.UID, bool) {
	var req domain.LoginRequest
	if err := env.Decode(&req); err != nil {
		s.sendLoginFailed(sess, errors.ErrMalformedFrame)
		return 0, false
	}
	if err := s.validate.Struct(req); err != nil {
		s.log.Info("Login rejected", "username", req.Username, "error", err)
		s.sendLoginFailed(sess,
			fmt.Errorf("%w: username must be 1 to 32 characters", errors.ErrMalformedFrame))
		return 0, false
	}

	uid, err := s.registry.Add(req.Username, sess)
	if err != nil {
		s.log.Info("Login rejected", "username", req.Username, "error", err)
		s.sendLoginFailed(sess, err)
		return 0, false
	}

	s.log.Info("Participant logged in", "uid", uid, "username", req.Username)

	// The new participant gets LOGIN_SUCCESS then the current roster.
	// Everyone else learns about the join.
	_ = s.sendTo(sess, domain.TypeLoginSuccess, uid,
		domain.LoginSuccess{UID: uid, Username: req.Username})
	_ = s.sendTo(sess, domain.TypeParticipantList, 0,
		domain.ParticipantList{Participants: s.registry.List()})
	s.broadcast(domain.TypeUserJoined, uid,
		domain.UserEvent{UID: uid, Username: req.Username}, uid)

	return uid, true
}

func (s *ControlServer) handleChat(sess *session, uid domain.UID, env domain.Envelope) error {
	var msg domain.ChatMessage
	if err := env.Decode(&msg); err != nil {
		s.replyError(sess, errors.ErrMalformedFrame)
		return nil
	}
	p, ok := s.registry.Get(uid)
	if !ok {
		return errors.ErrConnectionLost
	}

	entry, err := s.chat.Post(uid, p.Username, msg.Content)
	if err != nil {
		s.replyError(sess, err)
		return nil
	}

	s.monitoring.IncrMessagesRouted()
	// The sender receives its own message back. Clients rely on the echo as
	// the delivery confirmation.
	s.broadcast(domain.TypeChatMessage, uid,
		domain.ChatMessage{Username: entry.Username, Content: entry.Content})
	return nil
}

func (s *ControlServer) handleUnicast(sess *session, uid domain.UID, env domain.Envelope) error {
	var msg domain.UnicastMessage
	if err := env.Decode(&msg); err != nil {
		s.replyError(sess, errors.ErrMalformedFrame)
		return nil
	}
	p, ok := s.registry.Get(uid)
	if !ok {
		return errors.ErrConnectionLost
	}

	cleaned, err := s.chat.PrepareUnicast(msg.Content)
	if err != nil {
		s.replyError(sess, err)
		return nil
	}

	targetUID, ok := s.registry.FindByUsername(msg.Target)
	if !ok {
		s.replyError(sess, fmt.Errorf("%w: no participant named %q",
			errors.ErrNotFound, msg.Target))
		return nil
	}
	targetSink, ok := s.registry.Sink(targetUID)
	if !ok {
		s.replyError(sess, errors.ErrNotFound)
		return nil
	}

	out, err := domain.NewEnvelope(domain.TypeUnicast, uid, domain.UnicastMessage{
		Target:   msg.Target,
		Username: p.Username,
		Content:  cleaned,
	})
	if err != nil {
		return err
	}
	s.monitoring.IncrMessagesRouted()
	if err := targetSink.Send(out); err != nil {
		s.log.Warn("Unicast delivery failed", "target", targetUID, "error", err)
		s.Disconnect(targetUID, "outbound queue stalled")
	}
	return nil
}

func (s *ControlServer) handlePresentStart(sess *session, uid domain.UID) error {
	if err := s.registry.StartPresenting(uid); err != nil {
		s.replyError(sess, err)
		return nil
	}
	p, _ := s.registry.Get(uid)
	s.log.Info("Presenter claimed", "uid", uid, "username", p.Username)
	s.broadcast(domain.TypePresentStartBroadcast, uid, domain.PresentEvent{
		UID:      uid,
		Username: p.Username,
		Port:     s.cfg.ScreenSharePort,
	})
	return nil
}

func (s *ControlServer) handlePresentStop(sess *session, uid domain.UID) error {
	if err := s.registry.StopPresenting(uid); err != nil {
		s.replyError(sess, err)
		return nil
	}
	p, _ := s.registry.Get(uid)
	s.log.Info("Presenter released", "uid", uid)
	s.broadcast(domain.TypePresentStopBroadcast, uid,
		domain.PresentEvent{UID: uid, Username: p.Username})
	return nil
}

func (s *ControlServer) handleFileList(sess *session, reqType string) error {
	files, err := s.catalog.ListFiles()
	if err != nil {
		s.log.Error("File list lookup failed", "error", err)
		s.replyError(sess, err)
		return nil
	}
	resp := domain.FileListResponse{Files: files}
	if reqType == domain.TypeFileDownloadRequest {
		resp.Port = s.cfg.DownloadPort
	}
	return s.sendTo(sess, domain.TypeFileListResponse, 0, resp)
}

// Disconnect runs the logout cascade. Safe to call from any goroutine and
// idempotent per uid: the registry removal decides whether the rest runs.
func (s *ControlServer) Disconnect(uid domain.UID, reason string) {
	sink, hasSink := s.registry.Sink(uid)
	p, ok := s.registry.Remove(uid)
	if !ok {
		return
	}
	s.log.Info("Participant disconnected",
		"uid", uid, "username", p.Username, "reason", reason)

	// Closing the sink ends the write loop and the TCP connection, so a
	// reaped participant stops being served the moment it leaves the
	// registry.
	if hasSink {
		sink.Close()
	}
	s.transfers.AbortAll(uid)

	if p.IsPresenting {
		s.broadcast(domain.TypePresentStopBroadcast, uid,
			domain.PresentEvent{UID: uid, Username: p.Username})
	}
	s.broadcast(domain.TypeUserLeft, uid,
		domain.UserEvent{UID: uid, Username: p.Username})
}

// BroadcastFileAvailable is called by the upload server after a file has
// been promoted into the catalog.
func (s *ControlServer) BroadcastFileAvailable(info domain.FileInfo) {
	s.broadcast(domain.TypeFileAvailable, 0, domain.FileAvailable{
		Filename: info.Filename,
		Uploader: info.Uploader,
		Size:     info.Size,
	})
}

// BroadcastPresentStop is called by the screen-share relay when a producer
// connection drops without a PRESENT_STOP.
func (s *ControlServer) BroadcastPresentStop(uid domain.UID, username string) {
	s.broadcast(domain.TypePresentStopBroadcast, uid,
		domain.PresentEvent{UID: uid, Username: username})
}

// broadcast fans one envelope out to every registered participant except
// those listed in exclude. Sinks that cannot keep up are disconnected.
func (s *ControlServer) broadcast(msgType string, uid domain.UID, payload any, exclude ...domain.UID) {
	env, err := domain.NewEnvelope(msgType, uid, payload)
	if err != nil {
		s.log.Error("Broadcast marshal failed", "type", msgType, "error", err)
		return
	}
	for _, target := range s.registry.ListUIDs(exclude...) {
		sink, ok := s.registry.Sink(target)
		if !ok {
			continue
		}
		if err := sink.Send(env); err != nil {
			s.log.Warn("Broadcast delivery failed, disconnecting",
				"uid", target, "type", msgType, "error", err)
			go s.Disconnect(target, "outbound queue stalled")
		}
	}
}

func (s *ControlServer) sendTo(sess *session, msgType string, uid domain.UID, payload any) error {
	env, err := domain.NewEnvelope(msgType, uid, payload)
	if err != nil {
		return err
	}
	return sess.Send(env)
}

func (s *ControlServer) replyError(sess *session, err error) {
	env, mErr := domain.NewEnvelope(domain.TypeError, 0, domain.ErrorPayload{
		Code:    errors.Code(err),
		Message: err.Error(),
	})
	if mErr != nil {
		return
	}
	_ = sess.Send(env)
}

func (s *ControlServer) sendLoginFailed(sess *session, err error) {
	env, mErr := domain.NewEnvelope(domain.TypeLoginFailed, 0, domain.LoginFailed{
		Code:   errors.Code(err),
		Reason: err.Error(),
	})
	if mErr != nil {
		return
	}
	_ = sess.Send(env)
}

func remoteIP(conn net.Conn) string {
	host, _, err := net.SplitHostPort(conn.RemoteAddr().String())
	if err != nil {
		return conn.RemoteAddr().String()
	}
	return host
}
