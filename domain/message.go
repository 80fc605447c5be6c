package domain

import (
	"encoding/json"
	"time"
)

// Control channel message types. Clients and server exchange these inside
// length-prefixed JSON envelopes on the control connection.
const (
	TypeLogin           = "LOGIN"
	TypeLogout          = "LOGOUT"
	TypeLoginSuccess    = "LOGIN_SUCCESS"
	TypeLoginFailed     = "LOGIN_FAILED"
	TypeChatMessage     = "CHAT_MESSAGE"
	TypeUnicast         = "UNICAST"
	TypeUserJoined      = "USER_JOINED"
	TypeUserLeft        = "USER_LEFT"
	TypeGetParticipants = "GET_PARTICIPANTS"
	TypeParticipantList = "PARTICIPANT_LIST"
	TypePresentStart    = "PRESENT_START"
	TypePresentStop     = "PRESENT_STOP"
	TypePresentStartBroadcast = "PRESENT_START_BROADCAST"
	TypePresentStopBroadcast  = "PRESENT_STOP_BROADCAST"
	TypeFileUploadRequest   = "FILE_UPLOAD_REQUEST"
	TypeFileUploadResponse  = "FILE_UPLOAD_RESPONSE"
	TypeFileDownloadRequest = "FILE_DOWNLOAD_REQUEST"
	TypeFileListRequest     = "FILE_LIST_REQUEST"
	TypeFileListResponse    = "FILE_LIST_RESPONSE"
	TypeFileAvailable       = "FILE_AVAILABLE"
	TypeHeartbeat           = "HEARTBEAT"
	TypeHeartbeatAck        = "HEARTBEAT_ACK"
	TypeGetHistory          = "GET_HISTORY"
	TypeHistory             = "HISTORY"
	TypeMediaState          = "MEDIA_STATE"
	TypeError               = "ERROR"
)

// Envelope is the framed unit on the control channel. Data is left raw so
// each handler decodes only the payload shape it expects.
type Envelope struct {
	Type      string          `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	UID       UID             `json:"uid,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// NewEnvelope builds an envelope with the current time and a marshaled
// payload. A nil payload produces an empty Data field.
func NewEnvelope(msgType string, uid UID, payload any) (Envelope, error) {
	env := Envelope{Type: msgType, Timestamp: time.Now().UTC(), UID: uid}
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return Envelope{}, err
		}
		env.Data = data
	}
	return env, nil
}

// Decode unmarshals the envelope payload into dst.
func (e Envelope) Decode(dst any) error {
	return json.Unmarshal(e.Data, dst)
}

type LoginRequest struct {
	Username string `json:"username" validate:"required,min=1,max=32"`
}

type LoginSuccess struct {
	UID      UID    `json:"uid"`
	Username string `json:"username"`
}

type LoginFailed struct {
	Code   string `json:"code"`
	Reason string `json:"reason"`
}

type ChatMessage struct {
	Username string `json:"username,omitempty"`
	Content  string `json:"content" validate:"required,max=4096"`
}

type UnicastMessage struct {
	Target   string `json:"target" validate:"required"`
	Username string `json:"username,omitempty"`
	Content  string `json:"content" validate:"required,max=4096"`
}

type UserEvent struct {
	UID      UID    `json:"uid"`
	Username string `json:"username"`
}

type ParticipantList struct {
	Participants []ParticipantSummary `json:"participants"`
}

type PresentEvent struct {
	UID      UID    `json:"uid"`
	Username string `json:"username"`
	Port     int    `json:"screen_share_port,omitempty"`
}

type FileUploadResponse struct {
	Port int `json:"port"`
}

type FileListResponse struct {
	Port  int        `json:"port,omitempty"`
	Files []FileInfo `json:"files"`
}

type FileAvailable struct {
	Filename string `json:"filename"`
	Uploader string `json:"uploader"`
	Size     int64  `json:"size"`
}

type HistoryPayload struct {
	Messages []HistoryEntry `json:"messages"`
}

type MediaState struct {
	Video bool `json:"video"`
	Audio bool `json:"audio"`
}

type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
