package server

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"collab-lab/client"
	"collab-lab/domain"
	"collab-lab/observability"
	"collab-lab/protocol"
	"collab-lab/runtime"
)

type recordingNotifier struct {
	mu      sync.Mutex
	stopped []domain.UID
}

func (n *recordingNotifier) BroadcastPresentStop(uid domain.UID, _ string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.stopped = append(n.stopped, uid)
}

func (n *recordingNotifier) stops() []domain.UID {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]domain.UID(nil), n.stopped...)
}

func startShareServer(t *testing.T, registry *runtime.Registry) (*ScreenShareServer, *recordingNotifier) {
	t.Helper()
	notifier := &recordingNotifier{}
	share := NewScreenShareServer("127.0.0.1", 0, testLogger(), registry, notifier,
		observability.NewMonitoringManager(testLogger()))
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go func() { _ = share.Run(ctx) }()
	waitForAddr(t, func() bool { return share.Addr() != nil })
	return share, notifier
}

func TestScreenShare_ProducerToConsumer(t *testing.T) {
	// Given a registered presenter and viewer
	registry := runtime.NewRegistry()
	presenter, err := registry.Add("alice", nopSink{})
	require.NoError(t, err)
	viewer, err := registry.Add("bob", nopSink{})
	require.NoError(t, err)
	share, _ := startShareServer(t, registry)

	// When both sides complete their handshakes and a blob is streamed
	producer, err := client.DialShare(share.Addr().String(), protocol.RoleProducer, presenter)
	require.NoError(t, err)
	t.Cleanup(func() { producer.Close() })

	consumer, err := client.DialShare(share.Addr().String(), protocol.RoleConsumer, viewer)
	require.NoError(t, err)
	t.Cleanup(func() { consumer.Close() })

	blob := []byte("one screen capture")
	require.NoError(t, protocol.WriteFrame(producer, blob))

	// Then the consumer receives the blob unchanged
	require.NoError(t, consumer.SetReadDeadline(time.Now().Add(3*time.Second)))
	got, err := protocol.ReadFrame(consumer, 16<<20)
	require.NoError(t, err)
	require.Equal(t, blob, got)
}

func TestScreenShare_SecondProducerRefused(t *testing.T) {
	// Given an active producer
	registry := runtime.NewRegistry()
	first, err := registry.Add("alice", nopSink{})
	require.NoError(t, err)
	second, err := registry.Add("bob", nopSink{})
	require.NoError(t, err)
	share, _ := startShareServer(t, registry)

	producer, err := client.DialShare(share.Addr().String(), protocol.RoleProducer, first)
	require.NoError(t, err)
	t.Cleanup(func() { producer.Close() })

	// When a second participant tries to produce
	_, err = client.DialShare(share.Addr().String(), protocol.RoleProducer, second)

	// Then the relay answers BUSY
	require.Error(t, err)
	require.Contains(t, err.Error(), "BUSY")
}

func TestScreenShare_ProducerReconnectKeepsSlot(t *testing.T) {
	// Given a producer whose first socket went stale
	registry := runtime.NewRegistry()
	presenter, err := registry.Add("alice", nopSink{})
	require.NoError(t, err)
	viewer, err := registry.Add("bob", nopSink{})
	require.NoError(t, err)
	share, notifier := startShareServer(t, registry)

	first, err := client.DialShare(share.Addr().String(), protocol.RoleProducer, presenter)
	require.NoError(t, err)
	t.Cleanup(func() { first.Close() })

	// When the same uid reconnects as producer
	second, err := client.DialShare(share.Addr().String(), protocol.RoleProducer, presenter)
	require.NoError(t, err)
	t.Cleanup(func() { second.Close() })

	// Then the replaced socket's teardown must not revoke the new claim
	require.Never(t, func() bool {
		holder, held := registry.Presenter()
		return !held || holder != presenter
	}, 500*time.Millisecond, 20*time.Millisecond)
	require.Empty(t, notifier.stops())

	// And the new connection still streams to consumers
	consumer, err := client.DialShare(share.Addr().String(), protocol.RoleConsumer, viewer)
	require.NoError(t, err)
	t.Cleanup(func() { consumer.Close() })

	blob := []byte("fresh capture")
	require.NoError(t, protocol.WriteFrame(second, blob))
	require.NoError(t, consumer.SetReadDeadline(time.Now().Add(3*time.Second)))
	got, err := protocol.ReadFrame(consumer, 16<<20)
	require.NoError(t, err)
	require.Equal(t, blob, got)
}

func TestScreenShare_UnknownProducerRefused(t *testing.T) {
	// Given an empty registry
	registry := runtime.NewRegistry()
	share, _ := startShareServer(t, registry)

	// When an unregistered uid tries to produce
	_, err := client.DialShare(share.Addr().String(), protocol.RoleProducer, 42)

	// Then the handshake is refused
	require.Error(t, err)
}

func TestScreenShare_ProducerExitClosesConsumers(t *testing.T) {
	// Given a streaming producer with one consumer
	registry := runtime.NewRegistry()
	presenter, err := registry.Add("alice", nopSink{})
	require.NoError(t, err)
	viewer, err := registry.Add("bob", nopSink{})
	require.NoError(t, err)
	share, notifier := startShareServer(t, registry)

	producer, err := client.DialShare(share.Addr().String(), protocol.RoleProducer, presenter)
	require.NoError(t, err)
	consumer, err := client.DialShare(share.Addr().String(), protocol.RoleConsumer, viewer)
	require.NoError(t, err)
	t.Cleanup(func() { consumer.Close() })

	// When the producer connection drops
	require.NoError(t, producer.Close())

	// Then the consumer stream ends
	require.NoError(t, consumer.SetReadDeadline(time.Now().Add(3*time.Second)))
	_, err = protocol.ReadFrame(consumer, 16<<20)
	require.Error(t, err)

	// And the presenter slot is released and announced
	require.Eventually(t, func() bool {
		_, held := registry.Presenter()
		return !held
	}, 3*time.Second, 20*time.Millisecond)
	require.Eventually(t, func() bool {
		return len(notifier.stops()) == 1 && notifier.stops()[0] == presenter
	}, 3*time.Second, 20*time.Millisecond)
}
