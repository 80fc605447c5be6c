package server

import (
	"io"
	"sync"

	"collab-lab/domain"
)

// TransferTracker remembers the in-flight upload and download connections of
// each participant so a logout cascade can abort them.
type TransferTracker struct {
	mu      sync.Mutex
	byOwner map[domain.UID]map[string]io.Closer
}

func NewTransferTracker() *TransferTracker {
	return &TransferTracker{byOwner: make(map[domain.UID]map[string]io.Closer)}
}

func (t *TransferTracker) Register(uid domain.UID, sessionID string, c io.Closer) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.byOwner[uid] == nil {
		t.byOwner[uid] = make(map[string]io.Closer)
	}
	t.byOwner[uid][sessionID] = c
}

func (t *TransferTracker) Deregister(uid domain.UID, sessionID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.byOwner[uid], sessionID)
	if len(t.byOwner[uid]) == 0 {
		delete(t.byOwner, uid)
	}
}

// AbortAll closes every tracked transfer owned by uid.
func (t *TransferTracker) AbortAll(uid domain.UID) {
	t.mu.Lock()
	conns := t.byOwner[uid]
	delete(t.byOwner, uid)
	t.mu.Unlock()

	for _, c := range conns {
		_ = c.Close()
	}
}
