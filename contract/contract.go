package contract

import (
	"context"
	"net"
	"reflect"
	"time"

	"collab-lab/domain"
)

type ISupervisor interface {
	Add(worker ...Worker) ISupervisor
	Run(ctx context.Context)
	Start(ctx context.Context, worker Worker)
	Stop()
}

type WorkerName string

// Worker doesn't protect itself.
// Can be silly, focused.
type Worker interface {
	Run(ctx context.Context) error
}

// GetWorkerName uses reflection to retrieve the type name of the worker.
// This is used for logging and supervision purposes during worker
// initialization or lifecycle events, avoiding the need for manual naming
// in the Worker interface.
func GetWorkerName(w Worker) string {
	if w == nil {
		return "NilWorker"
	}
	t := reflect.TypeOf(w)
	for t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	return t.Name()
}

// MessageSink is one participant's outbound control-channel path. Send must
// never block indefinitely: a sink that cannot accept the envelope within its
// delivery budget reports the failure so the caller can cut the participant
// loose without stalling the broadcast.
type MessageSink interface {
	Send(env domain.Envelope) error
	Close()
}

// MediaKind selects which relay a media operation applies to.
type MediaKind int

const (
	MediaVideo MediaKind = iota
	MediaAudio
)

// IRegistry is the single serialization point for participant state.
// Username uniqueness and presenter exclusivity are enforced here, not in
// individual handlers.
type IRegistry interface {
	Add(username string, sink MessageSink) (domain.UID, error)
	Remove(uid domain.UID) (domain.Participant, bool)
	Get(uid domain.UID) (domain.Participant, bool)
	FindByUsername(username string) (domain.UID, bool)
	List() []domain.ParticipantSummary

	Sink(uid domain.UID) (MessageSink, bool)
	ListUIDs(exclude ...domain.UID) []domain.UID

	StartPresenting(uid domain.UID) error
	StopPresenting(uid domain.UID) error
	Presenter() (domain.UID, bool)

	SetMediaState(uid domain.UID, video, audio bool) bool
	ObserveMediaAddr(uid domain.UID, kind MediaKind, addr *net.UDPAddr) bool
	MediaTargets(kind MediaKind, sender domain.UID) []*net.UDPAddr

	Touch(uid domain.UID)
	Expired(cutoff time.Time) []domain.UID
}

// Disconnector runs the full logout cascade for one participant: registry
// removal, presenter revocation, transfer aborts, USER_LEFT broadcast.
type Disconnector interface {
	Disconnect(uid domain.UID, reason string)
}
