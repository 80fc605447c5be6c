package server

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"collab-lab/domain"
	"collab-lab/errors"
	"collab-lab/observability"
	"collab-lab/protocol"
)

func testEnvelope(t *testing.T) domain.Envelope {
	t.Helper()
	env, err := domain.NewEnvelope(domain.TypeChatMessage, 1,
		domain.ChatMessage{Username: "alice", Content: "hi"})
	require.NoError(t, err)
	return env
}

func TestSession_DeliversQueuedEnvelopes(t *testing.T) {
	// Given a session whose peer reads promptly
	server, peer := net.Pipe()
	sess := newSession(server, testLogger(), 4, time.Second,
		observability.NewMonitoringManager(testLogger()))
	t.Cleanup(sess.Close)
	t.Cleanup(func() { peer.Close() })

	// When an envelope is queued
	require.NoError(t, sess.Send(testEnvelope(t)))

	// Then the peer receives it framed
	require.NoError(t, peer.SetReadDeadline(time.Now().Add(3*time.Second)))
	env, err := protocol.ReadEnvelope(peer, protocol.DefaultMaxFrameSize)
	require.NoError(t, err)
	require.Equal(t, domain.TypeChatMessage, env.Type)
}

func TestSession_StalledConsumerTimesOut(t *testing.T) {
	// Given a peer that never reads, wedging the write loop
	server, peer := net.Pipe()
	sess := newSession(server, testLogger(), 2, 100*time.Millisecond,
		observability.NewMonitoringManager(testLogger()))
	t.Cleanup(sess.Close)
	t.Cleanup(func() { peer.Close() })

	// When the queue fills past capacity
	env := testEnvelope(t)
	var sendErr error
	for i := 0; i < 8; i++ {
		if sendErr = sess.Send(env); sendErr != nil {
			break
		}
	}

	// Then the send fails with the queue-full error instead of blocking
	require.Error(t, sendErr)
	require.ErrorIs(t, sendErr, errors.ErrQueueFull)
}

func TestSession_SendAfterClose(t *testing.T) {
	// Given a closed session
	server, peer := net.Pipe()
	sess := newSession(server, testLogger(), 4, time.Second,
		observability.NewMonitoringManager(testLogger()))
	t.Cleanup(func() { peer.Close() })
	sess.Close()

	// When a send is attempted
	err := sess.Send(testEnvelope(t))

	// Then it reports the lost connection
	require.ErrorIs(t, err, errors.ErrConnectionLost)
}
