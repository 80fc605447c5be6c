package services

import (
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"collab-lab/domain"
	"collab-lab/errors"
	"collab-lab/internal/logs"
	"collab-lab/moderation"
)

func newTestChatService(t *testing.T, censored ...string) *ChatService {
	t.Helper()
	moderator, err := moderation.NewModerator(censored, '*')
	require.NoError(t, err)
	log := logs.GetLoggerFromLevel(slog.LevelDebug)
	return NewChatService(log, moderator, domain.NewHistory(3), nil, 4096)
}

func TestChatService_Post_RecordsHistory(t *testing.T) {
	req := require.New(t)
	service := newTestChatService(t)

	entry, err := service.Post(1, "alice", "  hello world  ")

	req.NoError(err)
	req.Equal("hello world", entry.Content)
	req.Equal("alice", entry.Username)
	req.Len(service.History(), 1)
}

func TestChatService_Post_EmptyContent(t *testing.T) {
	req := require.New(t)
	service := newTestChatService(t)

	_, err := service.Post(1, "alice", "   ")

	req.ErrorIs(err, errors.ErrEmptyContent)
	req.Empty(service.History())
}

func TestChatService_Post_TooLong(t *testing.T) {
	req := require.New(t)
	service := newTestChatService(t)

	_, err := service.Post(1, "alice", strings.Repeat("x", 5000))

	req.Error(err)
}

func TestChatService_Post_CensorsContent(t *testing.T) {
	req := require.New(t)
	service := newTestChatService(t, "secret")

	entry, err := service.Post(1, "alice", "a secret plan")

	req.NoError(err)
	req.Equal("a ****** plan", entry.Content)
}

func TestChatService_HistoryIsBounded(t *testing.T) {
	req := require.New(t)
	service := newTestChatService(t)

	for _, msg := range []string{"one", "two", "three", "four"} {
		_, err := service.Post(1, "alice", msg)
		req.NoError(err)
	}

	history := service.History()
	req.Len(history, 3)
	req.Equal("two", history[0].Content)
	req.Equal("four", history[2].Content)
}

func TestChatService_PrepareUnicast_DoesNotRecord(t *testing.T) {
	req := require.New(t)
	service := newTestChatService(t, "secret")

	content, err := service.PrepareUnicast("psst secret")

	req.NoError(err)
	req.Equal("psst ******", content)
	req.Empty(service.History())
}
