package services

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"collab-lab/domain"
	"collab-lab/errors"
	"collab-lab/moderation"
	"collab-lab/storage"
)

type IChatService interface {
	Post(uid domain.UID, username, content string) (domain.HistoryEntry, error)
	PrepareUnicast(content string) (string, error)
	History() []domain.HistoryEntry
}

// ChatService validates, moderates, records, and persists chat traffic. The
// control server calls it from the CHAT_MESSAGE and UNICAST handlers; it
// never touches sockets itself.
type ChatService struct {
	log       *slog.Logger
	validate  *validator.Validate
	moderator *moderation.Moderator
	history   *domain.History
	catalog   storage.ICatalog
	maxLength int
}

func NewChatService(
	log *slog.Logger,
	moderator *moderation.Moderator,
	history *domain.History,
	catalog storage.ICatalog,
	maxLength int,
) *ChatService {
	return &ChatService{
		log:       log,
		validate:  validator.New(),
		moderator: moderator,
		history:   history,
		catalog:   catalog,
		maxLength: maxLength,
	}
}

// Post runs the full pipeline for one broadcast chat message and returns the
// entry that should be fanned out (content possibly censored).
func (s *ChatService) Post(uid domain.UID, username, content string) (domain.HistoryEntry, error) {
	cleaned, err := s.clean(content)
	if err != nil {
		return domain.HistoryEntry{}, err
	}

	entry := domain.HistoryEntry{
		UID:      uid,
		Username: username,
		Content:  cleaned,
		At:       time.Now().UTC(),
	}
	s.history.Append(entry)

	if s.catalog != nil {
		if err := s.catalog.AppendMessage(entry); err != nil {
			// Persistence is best-effort; delivery must not depend on disk.
			s.log.Error("Failed to persist chat message", "error", err)
		}
	}
	return entry, nil
}

// PrepareUnicast validates and moderates a private message without recording
// it in the shared history.
func (s *ChatService) PrepareUnicast(content string) (string, error) {
	return s.clean(content)
}

func (s *ChatService) History() []domain.HistoryEntry {
	return s.history.Recent()
}

func (s *ChatService) clean(content string) (string, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return "", errors.ErrEmptyContent
	}
	if err := s.validate.Var(content, fmt.Sprintf("max=%d", s.maxLength)); err != nil {
		return "", fmt.Errorf("%w: content exceeds %d characters", errors.ErrMalformedFrame, s.maxLength)
	}
	if s.moderator != nil {
		content = s.moderator.Censor(content)
	}
	return content, nil
}
