package domain

import (
	"time"

	"github.com/google/uuid"
)

type TransferDirection int

const (
	TransferUpload TransferDirection = iota
	TransferDownload
)

// TransferSession tracks one active file operation. Upload sessions stage
// into a temporary file named after the session id so concurrent uploads of
// the same filename never collide.
type TransferSession struct {
	ID               string
	Direction        TransferDirection
	Filename         string
	DeclaredSize     int64
	Checksum         string
	ResumeOffset     int64
	BytesTransferred int64
	OwnerUID         UID
	StartedAt        time.Time
}

func NewUploadSession(filename string, size int64, checksum string, owner UID) *TransferSession {
	return &TransferSession{
		ID:           uuid.NewString(),
		Direction:    TransferUpload,
		Filename:     filename,
		DeclaredSize: size,
		Checksum:     checksum,
		OwnerUID:     owner,
		StartedAt:    time.Now(),
	}
}

func NewDownloadSession(filename string, offset int64, owner UID) *TransferSession {
	return &TransferSession{
		ID:           uuid.NewString(),
		Direction:    TransferDownload,
		Filename:     filename,
		ResumeOffset: offset,
		OwnerUID:     owner,
		StartedAt:    time.Now(),
	}
}

// FileInfo describes one promoted upload in the catalog.
type FileInfo struct {
	ID         string    `json:"file_id"`
	Filename   string    `json:"filename"`
	StoredName string    `json:"stored_name"`
	Size       int64     `json:"size"`
	Checksum   string    `json:"checksum"`
	MimeType   string    `json:"mime_type"`
	Uploader   string    `json:"uploader"`
	UploadedAt time.Time `json:"uploaded_at"`
}
