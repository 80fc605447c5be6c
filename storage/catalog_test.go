package storage

import (
	"log/slog"
	"testing"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/stretchr/testify/require"

	"collab-lab/domain"
	"collab-lab/errors"
	"collab-lab/internal/logs"
)

func newTestCatalog(t *testing.T) *Catalog {
	t.Helper()
	db, err := badger.Open(badger.DefaultOptions(t.TempDir()).WithLoggingLevel(badger.ERROR))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return NewCatalog(db, logs.GetLoggerFromLevel(slog.LevelDebug))
}

func TestCatalog_PutAndGetFile(t *testing.T) {
	req := require.New(t)
	catalog := newTestCatalog(t)

	info := domain.FileInfo{
		ID:         "abc",
		Filename:   "report.pdf",
		StoredName: "abc_report.pdf",
		Size:       1024,
		Checksum:   "deadbeef",
		MimeType:   "application/pdf",
		Uploader:   "alice",
		UploadedAt: time.Now().UTC().Truncate(time.Second),
	}
	req.NoError(catalog.PutFile(info))

	got, err := catalog.GetFile("report.pdf")
	req.NoError(err)
	req.Equal(info, got)
}

func TestCatalog_GetFile_NotFound(t *testing.T) {
	req := require.New(t)
	catalog := newTestCatalog(t)

	_, err := catalog.GetFile("missing.txt")

	req.ErrorIs(err, errors.ErrNotFound)
}

func TestCatalog_ReuploadReplacesEntry(t *testing.T) {
	req := require.New(t)
	catalog := newTestCatalog(t)

	req.NoError(catalog.PutFile(domain.FileInfo{ID: "v1", Filename: "notes.txt", Size: 10}))
	req.NoError(catalog.PutFile(domain.FileInfo{ID: "v2", Filename: "notes.txt", Size: 20}))

	got, err := catalog.GetFile("notes.txt")
	req.NoError(err)
	req.Equal("v2", got.ID)

	files, err := catalog.ListFiles()
	req.NoError(err)
	req.Len(files, 1)
}

func TestCatalog_MessageHistoryRoundTrip(t *testing.T) {
	req := require.New(t)
	catalog := newTestCatalog(t)

	base := time.Now().UTC().Truncate(time.Second)
	for i := 0; i < 5; i++ {
		req.NoError(catalog.AppendMessage(domain.HistoryEntry{
			UID:      domain.UID(i + 1),
			Username: "alice",
			Content:  "hello",
			At:       base.Add(time.Duration(i) * time.Second),
		}))
	}

	// When only the last three are requested
	entries, err := catalog.RecentMessages(3)
	req.NoError(err)

	// Then they come back in chronological order
	req.Len(entries, 3)
	req.Equal(domain.UID(3), entries[0].UID)
	req.Equal(domain.UID(5), entries[2].UID)
	req.True(entries[0].At.Before(entries[2].At))
}

func TestCatalog_WarmHistory(t *testing.T) {
	req := require.New(t)
	catalog := newTestCatalog(t)
	history := domain.NewHistory(10)

	req.NoError(catalog.AppendMessage(domain.HistoryEntry{UID: 1, Username: "alice", Content: "hi", At: time.Now()}))
	catalog.WarmHistory(history, 10)

	req.Equal(1, history.Len())
}
