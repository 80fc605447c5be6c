package runtime

import (
	"net"
	"sync"
	"time"

	"github.com/samber/lo"

	"collab-lab/contract"
	"collab-lab/domain"
	"collab-lab/errors"
)

// Registry is the authoritative directory of connected participants. Every
// cross-cutting invariant lives here behind one mutex: username uniqueness,
// presenter exclusivity, and the uid allocation. Relay components read
// through its query methods and never hold private copies.
type Registry struct {
	mu            sync.RWMutex
	nextUID       domain.UID
	participants  map[domain.UID]*entry
	usernameToUID map[string]domain.UID
	order         []domain.UID // insertion order for List snapshots
	presenter     domain.UID   // 0 when nobody presents
}

type entry struct {
	participant domain.Participant
	sink        contract.MessageSink
}

func NewRegistry() *Registry {
	return &Registry{
		nextUID:       1,
		participants:  make(map[domain.UID]*entry),
		usernameToUID: make(map[string]domain.UID),
	}
}

// Add registers a new participant under a fresh uid. Username comparison is
// case-sensitive; concurrent logins with the same username cannot both
// succeed because allocation happens under the lock.
func (r *Registry) Add(username string, sink contract.MessageSink) (domain.UID, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, taken := r.usernameToUID[username]; taken {
		return 0, errors.ErrDuplicateUsername
	}

	uid := r.nextUID
	r.nextUID++

	now := time.Now()
	r.participants[uid] = &entry{
		participant: domain.Participant{
			UID:          uid,
			Username:     username,
			JoinedAt:     now,
			LastSeen:     now,
			VideoEnabled: true,
			AudioEnabled: true,
		},
		sink: sink,
	}
	r.usernameToUID[username] = uid
	r.order = append(r.order, uid)
	return uid, nil
}

// Remove deletes a participant and reports whether it existed. Removing an
// unknown uid is a no-op so the heartbeat reaper and an explicit logout can
// race without error. Presenter state held by the removed uid is revoked.
func (r *Registry) Remove(uid domain.UID) (domain.Participant, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.participants[uid]
	if !ok {
		return domain.Participant{}, false
	}

	delete(r.participants, uid)
	delete(r.usernameToUID, e.participant.Username)
	r.order = lo.Without(r.order, uid)
	if r.presenter == uid {
		r.presenter = 0
	}
	return e.participant, true
}

func (r *Registry) Get(uid domain.UID) (domain.Participant, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.participants[uid]
	if !ok {
		return domain.Participant{}, false
	}
	return e.participant, true
}

func (r *Registry) FindByUsername(username string) (domain.UID, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	uid, ok := r.usernameToUID[username]
	return uid, ok
}

// List returns participant summaries in insertion order. The slice is a
// snapshot; broadcasts walk it without holding the registry lock.
func (r *Registry) List() []domain.ParticipantSummary {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return lo.FilterMap(r.order, func(uid domain.UID, _ int) (domain.ParticipantSummary, bool) {
		e, ok := r.participants[uid]
		if !ok {
			return domain.ParticipantSummary{}, false
		}
		return e.participant.Summary(), true
	})
}

func (r *Registry) Sink(uid domain.UID) (contract.MessageSink, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.participants[uid]
	if !ok {
		return nil, false
	}
	return e.sink, true
}

// ListUIDs snapshots every registered uid in join order except the excluded
// ones. Broadcast loops iterate this and look each sink up individually, so
// a disconnect racing the loop simply skips the departed participant.
func (r *Registry) ListUIDs(exclude ...domain.UID) []domain.UID {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return lo.Without(append([]domain.UID(nil), r.order...), exclude...)
}

// StartPresenting grants the presenter slot to uid. Re-claiming an already
// held slot is allowed (producer reconnect); any other holder wins.
func (r *Registry) StartPresenting(uid domain.UID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.participants[uid]
	if !ok {
		return errors.ErrNotFound
	}
	if r.presenter != 0 && r.presenter != uid {
		return errors.ErrPresenterBusy
	}

	r.presenter = uid
	e.participant.IsPresenting = true
	return nil
}

func (r *Registry) StopPresenting(uid domain.UID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.presenter != uid {
		return errors.ErrNotPresenting
	}
	r.presenter = 0
	if e, ok := r.participants[uid]; ok {
		e.participant.IsPresenting = false
	}
	return nil
}

func (r *Registry) Presenter() (domain.UID, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return r.presenter, r.presenter != 0
}

func (r *Registry) SetMediaState(uid domain.UID, video, audio bool) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.participants[uid]
	if !ok {
		return false
	}
	e.participant.VideoEnabled = video
	e.participant.AudioEnabled = audio
	return true
}

// ObserveMediaAddr records the UDP endpoint a participant's media packets
// arrive from. Returns false for unknown uids so the relays can drop the
// packet silently.
func (r *Registry) ObserveMediaAddr(uid domain.UID, kind contract.MediaKind, addr *net.UDPAddr) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.participants[uid]
	if !ok {
		return false
	}
	switch kind {
	case contract.MediaVideo:
		e.participant.VideoAddr = addr
	case contract.MediaAudio:
		e.participant.AudioAddr = addr
	}
	e.participant.LastSeen = time.Now()
	return true
}

// MediaTargets snapshots the UDP endpoints eligible for one fan-out: every
// participant except the sender whose flag for the kind is set and whose
// endpoint is known.
func (r *Registry) MediaTargets(kind contract.MediaKind, sender domain.UID) []*net.UDPAddr {
	r.mu.RLock()
	defer r.mu.RUnlock()

	targets := make([]*net.UDPAddr, 0, len(r.participants))
	for uid, e := range r.participants {
		if uid == sender {
			continue
		}
		switch kind {
		case contract.MediaVideo:
			if e.participant.VideoEnabled && e.participant.VideoAddr != nil {
				targets = append(targets, e.participant.VideoAddr)
			}
		case contract.MediaAudio:
			if e.participant.AudioEnabled && e.participant.AudioAddr != nil {
				targets = append(targets, e.participant.AudioAddr)
			}
		}
	}
	return targets
}

// Touch refreshes the liveness timestamp; called for every received frame.
func (r *Registry) Touch(uid domain.UID) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if e, ok := r.participants[uid]; ok {
		e.participant.LastSeen = time.Now()
	}
}

// Expired returns the uids whose last activity predates the cutoff.
func (r *Registry) Expired(cutoff time.Time) []domain.UID {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var expired []domain.UID
	for uid, e := range r.participants {
		if e.participant.LastSeen.Before(cutoff) {
			expired = append(expired, uid)
		}
	}
	return expired
}

func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.participants)
}
