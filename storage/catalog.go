package storage

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/dgraph-io/badger/v4"

	"collab-lab/domain"
	"collab-lab/errors"
)

// Key layout:
//   file:<filename>            -> FileInfo (latest upload wins)
//   msg:<unixnano>:<uid>       -> HistoryEntry

type ICatalog interface {
	PutFile(info domain.FileInfo) error
	GetFile(filename string) (domain.FileInfo, error)
	ListFiles() ([]domain.FileInfo, error)
	AppendMessage(entry domain.HistoryEntry) error
	RecentMessages(limit int) ([]domain.HistoryEntry, error)
}

// Catalog persists uploaded-file metadata and chat history in BadgerDB so a
// restarted relay still serves the file list and recent history.
type Catalog struct {
	db  *badger.DB
	log *slog.Logger
}

func NewCatalog(db *badger.DB, log *slog.Logger) *Catalog {
	return &Catalog{db: db, log: log}
}

// PutFile records one promoted upload. Re-uploading a filename replaces the
// previous catalog entry; the content store keeps both blobs because stored
// names embed the catalog id.
func (c *Catalog) PutFile(info domain.FileInfo) error {
	key := []byte("file:" + info.Filename)
	data, err := json.Marshal(info)
	if err != nil {
		return fmt.Errorf("encoding file info: %w", err)
	}

	return c.db.Update(func(txn *badger.Txn) error {
		return txn.Set(key, data)
	})
}

func (c *Catalog) GetFile(filename string) (domain.FileInfo, error) {
	var info domain.FileInfo
	err := c.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte("file:" + filename))
		if err != nil {
			return err
		}
		return item.Value(func(v []byte) error {
			return json.Unmarshal(v, &info)
		})
	})
	if err == badger.ErrKeyNotFound {
		return domain.FileInfo{}, fmt.Errorf("%w: %s", errors.ErrNotFound, filename)
	}
	if err != nil {
		return domain.FileInfo{}, fmt.Errorf("reading catalog: %w", err)
	}
	return info, nil
}

func (c *Catalog) ListFiles() ([]domain.FileInfo, error) {
	var files []domain.FileInfo
	err := c.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = true
		it := txn.NewIterator(opts)
		defer it.Close()

		prefix := []byte("file:")
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			err := it.Item().Value(func(v []byte) error {
				var info domain.FileInfo
				if err := json.Unmarshal(v, &info); err != nil {
					return fmt.Errorf("decoding file info: %w", err)
				}
				files = append(files, info)
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("listing catalog: %w", err)
	}
	return files, nil
}

// AppendMessage persists one chat message with a time-ordered key.
func (c *Catalog) AppendMessage(entry domain.HistoryEntry) error {
	key := []byte(fmt.Sprintf("msg:%020d:%d", entry.At.UnixNano(), entry.UID))
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("encoding history entry: %w", err)
	}

	return c.db.Update(func(txn *badger.Txn) error {
		return txn.Set(key, data)
	})
}

// RecentMessages returns up to limit persisted messages, newest last.
func (c *Catalog) RecentMessages(limit int) ([]domain.HistoryEntry, error) {
	var entries []domain.HistoryEntry
	err := c.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Reverse = true
		it := txn.NewIterator(opts)
		defer it.Close()

		prefix := []byte("msg:")
		// Reverse iteration starts past the last msg: key.
		seek := []byte("msg;")
		for it.Seek(seek); it.ValidForPrefix(prefix) && len(entries) < limit; it.Next() {
			err := it.Item().Value(func(v []byte) error {
				var entry domain.HistoryEntry
				if err := json.Unmarshal(v, &entry); err != nil {
					return fmt.Errorf("decoding history entry: %w", err)
				}
				entries = append(entries, entry)
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("reading history: %w", err)
	}

	// Newest-first from the reverse scan; flip to chronological order.
	for i, j := 0, len(entries)-1; i < j; i, j = i+1, j-1 {
		entries[i], entries[j] = entries[j], entries[i]
	}
	return entries, nil
}

// WarmHistory replays persisted messages into the in-memory ring at startup.
func (c *Catalog) WarmHistory(history *domain.History, limit int) {
	entries, err := c.RecentMessages(limit)
	if err != nil {
		c.log.Warn("Failed to warm chat history", "error", err)
		return
	}
	for _, entry := range entries {
		history.Append(entry)
	}
	if len(entries) > 0 {
		c.log.Info("Warmed chat history", "messages", len(entries), "oldest", entries[0].At.Format(time.RFC3339))
	}
}
