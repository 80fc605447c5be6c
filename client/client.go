// Package client implements the relay's wire protocol from the participant
// side: control channel, file transfer, and screen-share connections. The
// viewer command and the end-to-end suite are built on it.
package client

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"time"

	"collab-lab/domain"
	"collab-lab/errors"
	"collab-lab/protocol"
)

const defaultMaxFrame = protocol.DefaultMaxFrameSize

// Client is one control-channel connection. It is not safe for concurrent
// readers: callers own the receive loop.
type Client struct {
	conn     net.Conn
	uid      domain.UID
	username string
}

func Dial(addr string, timeout time.Duration) (*Client, error) {
	conn, err := net.DialTimeout("tcp", addr, timeout)
	if err != nil {
		return nil, fmt.Errorf("dialing control channel %s: %w", addr, err)
	}
	return &Client{conn: conn}, nil
}

func (c *Client) UID() domain.UID  { return c.uid }
func (c *Client) Username() string { return c.username }

func (c *Client) Close() error { return c.conn.Close() }

// Login authenticates and consumes the LOGIN_SUCCESS + PARTICIPANT_LIST
// pair. A LOGIN_FAILED answer is surfaced as the matching taxonomy error.
func (c *Client) Login(username string) (domain.ParticipantList, error) {
	if err := c.Send(domain.TypeLogin, domain.LoginRequest{Username: username}); err != nil {
		return domain.ParticipantList{}, err
	}

	env, err := c.Recv()
	if err != nil {
		return domain.ParticipantList{}, err
	}
	switch env.Type {
	case domain.TypeLoginSuccess:
		var ok domain.LoginSuccess
		if err := env.Decode(&ok); err != nil {
			return domain.ParticipantList{}, err
		}
		c.uid = ok.UID
		c.username = ok.Username
	case domain.TypeLoginFailed:
		var failed domain.LoginFailed
		if err := env.Decode(&failed); err != nil {
			return domain.ParticipantList{}, err
		}
		return domain.ParticipantList{}, fmt.Errorf("login rejected (%s): %s",
			failed.Code, failed.Reason)
	default:
		return domain.ParticipantList{}, fmt.Errorf(
			"unexpected reply to login: %s", env.Type)
	}

	env, err = c.Recv()
	if err != nil {
		return domain.ParticipantList{}, err
	}
	if env.Type != domain.TypeParticipantList {
		return domain.ParticipantList{}, fmt.Errorf(
			"expected roster after login, got %s", env.Type)
	}
	var roster domain.ParticipantList
	if err := env.Decode(&roster); err != nil {
		return domain.ParticipantList{}, err
	}
	return roster, nil
}

func (c *Client) Send(msgType string, payload any) error {
	env, err := domain.NewEnvelope(msgType, c.uid, payload)
	if err != nil {
		return err
	}
	return protocol.WriteEnvelope(c.conn, env)
}

func (c *Client) Recv() (domain.Envelope, error) {
	return protocol.ReadEnvelope(c.conn, defaultMaxFrame)
}

// RecvTimeout reads one envelope with a deadline, for tests and polling UIs.
func (c *Client) RecvTimeout(timeout time.Duration) (domain.Envelope, error) {
	if err := c.conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
		return domain.Envelope{}, err
	}
	defer c.conn.SetReadDeadline(time.Time{})
	return c.Recv()
}

func (c *Client) Chat(content string) error {
	return c.Send(domain.TypeChatMessage, domain.ChatMessage{Content: content})
}

func (c *Client) Unicast(target, content string) error {
	return c.Send(domain.TypeUnicast, domain.UnicastMessage{
		Target:  target,
		Content: content,
	})
}

func (c *Client) Heartbeat() error {
	return c.Send(domain.TypeHeartbeat, nil)
}

func (c *Client) RequestParticipants() error {
	return c.Send(domain.TypeGetParticipants, nil)
}

func (c *Client) RequestHistory() error {
	return c.Send(domain.TypeGetHistory, nil)
}

func (c *Client) RequestUploadPort() error {
	return c.Send(domain.TypeFileUploadRequest, nil)
}

func (c *Client) RequestFileList(forDownload bool) error {
	if forDownload {
		return c.Send(domain.TypeFileDownloadRequest, nil)
	}
	return c.Send(domain.TypeFileListRequest, nil)
}

func (c *Client) StartPresenting() error {
	return c.Send(domain.TypePresentStart, nil)
}

func (c *Client) StopPresenting() error {
	return c.Send(domain.TypePresentStop, nil)
}

func (c *Client) SetMediaState(video, audio bool) error {
	return c.Send(domain.TypeMediaState, domain.MediaState{Video: video, Audio: audio})
}

func (c *Client) Logout() error {
	return c.Send(domain.TypeLogout, nil)
}

// Upload pushes size bytes from r to the upload listener and waits for the
// final verdict. The checksum must be the lowercase hex SHA-256 of the
// content.
func Upload(addr string, uid domain.UID, filename string, r io.Reader, size int64, checksum string) (protocol.UploadResult, error) {
	var result protocol.UploadResult

	conn, err := net.DialTimeout("tcp", addr, 10*time.Second)
	if err != nil {
		return result, fmt.Errorf("dialing upload listener %s: %w", addr, err)
	}
	defer conn.Close()

	header, err := json.Marshal(protocol.UploadHeader{
		Filename: filename,
		Size:     size,
		Checksum: checksum,
		UID:      uint32(uid),
	})
	if err != nil {
		return result, err
	}
	if err := protocol.WriteFrame(conn, header); err != nil {
		return result, err
	}

	goAhead, err := readTransferResult[protocol.UploadResult](conn)
	if err != nil {
		return result, err
	}
	if !goAhead.OK {
		return goAhead, fmt.Errorf("upload rejected (%s): %s", goAhead.Code, goAhead.Message)
	}

	if _, err := io.CopyN(conn, r, size); err != nil {
		return result, fmt.Errorf("streaming upload: %w", err)
	}

	return readTransferResult[protocol.UploadResult](conn)
}

// Download pulls a file from offset onward into w and returns the byte count
// written. The server closing the connection marks end-of-stream.
func Download(addr string, uid domain.UID, filename string, offset int64, w io.Writer) (int64, error) {
	conn, err := net.DialTimeout("tcp", addr, 10*time.Second)
	if err != nil {
		return 0, fmt.Errorf("dialing download listener %s: %w", addr, err)
	}
	defer conn.Close()

	req, err := json.Marshal(protocol.DownloadRequest{
		Filename:     filename,
		ResumeOffset: offset,
		UID:          uint32(uid),
	})
	if err != nil {
		return 0, err
	}
	if err := protocol.WriteFrame(conn, req); err != nil {
		return 0, err
	}

	resp, err := readTransferResult[protocol.DownloadResponse](conn)
	if err != nil {
		return 0, err
	}
	if !resp.OK {
		return 0, fmt.Errorf("download rejected (%s): %s", resp.Code, resp.Message)
	}

	n, err := io.Copy(w, conn)
	if err != nil {
		return n, fmt.Errorf("receiving download: %w", err)
	}
	if n != resp.Size {
		return n, fmt.Errorf("%w: announced %d bytes, received %d",
			errors.ErrConnectionLost, resp.Size, n)
	}
	return n, nil
}

// Checksum computes the lowercase hex SHA-256 digest Upload expects.
func Checksum(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// DialShare opens a screen-share connection in the given role and performs
// the hello/status handshake.
func DialShare(addr string, role uint32, uid domain.UID) (net.Conn, error) {
	conn, err := net.DialTimeout("tcp", addr, 10*time.Second)
	if err != nil {
		return nil, fmt.Errorf("dialing screen-share relay %s: %w", addr, err)
	}
	if err := protocol.WriteShareHello(conn, protocol.ShareHello{Role: role, UID: uid}); err != nil {
		conn.Close()
		return nil, err
	}
	status, err := protocol.ReadShareStatus(conn)
	if err != nil {
		conn.Close()
		return nil, err
	}
	if status != protocol.StatusOK {
		conn.Close()
		return nil, fmt.Errorf("%w: relay answered %s",
			errors.ErrPresenterBusy, string(status[:]))
	}
	return conn, nil
}

func readTransferResult[T any](conn net.Conn) (T, error) {
	var out T
	payload, err := protocol.ReadFrame(conn, defaultMaxFrame)
	if err != nil {
		return out, err
	}
	if err := json.Unmarshal(payload, &out); err != nil {
		return out, fmt.Errorf("%w: %v", errors.ErrMalformedFrame, err)
	}
	return out, nil
}
