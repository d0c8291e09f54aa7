package chat

import (
	"context"
	"errors"
	"strings"

	"taskchat/internal/models"
)

// ErrRateLimited signals that the user's per-minute request budget is spent.
var ErrRateLimited = errors.New("rate limit exceeded")

// fallbackReply is stored when the model produced no text, so a completed
// turn always leaves an assistant message behind.
const fallbackReply = "I've processed your request."

const titleMaxLen = 80

// Agent produces the assistant reply for one turn. history is the full
// conversation including the just-stored user message, oldest first.
type Agent interface {
	Reply(ctx context.Context, userID int64, history []*models.Message) (string, error)
}

// Service drives one chat turn: admission, conversation resolution, message
// persistence, and the agent call.
type Service struct {
	store   *Store
	limiter *RateLimiter
	agent   Agent
}

func NewService(store *Store, limiter *RateLimiter, agent Agent) *Service {
	return &Service{store: store, limiter: limiter, agent: agent}
}

// Store exposes the conversation store for read-only endpoints.
func (s *Service) Store() *Store {
	return s.store
}

// SendMessage runs one turn and returns the stored assistant message.
// conversationID <= 0 starts a new conversation. A denied admission mutates
// nothing; a turn that fails after the user message was stored keeps that
// message so a client retry continues the same thread.
func (s *Service) SendMessage(ctx context.Context, userID, conversationID int64, text string) (*models.Message, error) {
	if !s.limiter.Allow(userID) {
		return nil, ErrRateLimited
	}
	conv, err := s.store.GetOrCreate(ctx, userID, conversationID, titleExcerpt(text))
	if err != nil {
		return nil, err
	}
	if _, err := s.store.Append(ctx, conv.ID, userID, models.RoleUser, text); err != nil {
		return nil, err
	}
	history, err := s.store.History(ctx, conv.ID, userID)
	if err != nil {
		return nil, err
	}
	reply, err := s.agent.Reply(ctx, userID, history)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(reply) == "" {
		reply = fallbackReply
	}
	return s.store.Append(ctx, conv.ID, userID, models.RoleAssistant, reply)
}

// titleExcerpt derives a conversation title from its first message.
func titleExcerpt(text string) string {
	text = strings.TrimSpace(text)
	runes := []rune(text)
	if len(runes) > titleMaxLen {
		return string(runes[:titleMaxLen])
	}
	return text
}
