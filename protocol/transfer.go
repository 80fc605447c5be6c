package protocol

// Framed request/response objects of the file transfer listeners. These ride
// inside the same 4-byte length-prefixed JSON frames as control envelopes,
// but without the envelope wrapper.

// UploadHeader opens an upload connection; exactly Size raw bytes follow it.
type UploadHeader struct {
	Filename string `json:"filename"`
	Size     int64  `json:"size"`
	Checksum string `json:"checksum"`
	Uploader string `json:"uploader,omitempty"`
	UID      uint32 `json:"uid"`
}

// UploadResult closes an upload connection.
type UploadResult struct {
	OK       bool   `json:"ok"`
	FileID   string `json:"file_id,omitempty"`
	Code     string `json:"code,omitempty"`
	Message  string `json:"message,omitempty"`
	Received int64  `json:"received,omitempty"`
}

// DownloadRequest opens a download connection; the server answers with a
// DownloadResponse frame, then raw bytes from ResumeOffset to end-of-file.
// Connection close signals end-of-stream.
type DownloadRequest struct {
	Filename     string `json:"filename"`
	ResumeOffset int64  `json:"resumeOffset"`
	UID          uint32 `json:"uid"`
}

type DownloadResponse struct {
	OK      bool   `json:"ok"`
	Size    int64  `json:"size,omitempty"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message,omitempty"`
}
