package chat

import (
	"context"
	"errors"
	"strings"
	"testing"

	"taskchat/internal/models"
)

type fakeAgent struct {
	reply   string
	err     error
	history []*models.Message
	calls   int
}

func (f *fakeAgent) Reply(ctx context.Context, userID int64, history []*models.Message) (string, error) {
	f.calls++
	f.history = history
	if f.err != nil {
		return "", f.err
	}
	return f.reply, nil
}

func TestSendMessageStoresBothSides(t *testing.T) {
	db := newTestDB(t)
	userID := insertUser(t, db, "alice")
	agent := &fakeAgent{reply: "Done, I created the task."}
	svc := NewService(NewStore(db), NewRateLimiter(DefaultRateLimit), agent)

	msg, err := svc.SendMessage(context.Background(), userID, 0, "add buy milk to my list")
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if msg.Role != models.RoleAssistant || msg.Content != agent.reply {
		t.Fatalf("unexpected assistant message: %+v", msg)
	}
	if msg.ConversationID <= 0 {
		t.Fatalf("expected conversation id on reply")
	}

	// The agent sees the user message as the newest history entry.
	if len(agent.history) != 1 || agent.history[0].Content != "add buy milk to my list" {
		t.Fatalf("unexpected agent history: %+v", agent.history)
	}

	history, err := svc.Store().History(context.Background(), msg.ConversationID, userID)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(history) != 2 {
		t.Fatalf("expected user and assistant messages, got %d", len(history))
	}
	if history[0].Role != models.RoleUser || history[1].Role != models.RoleAssistant {
		t.Fatalf("unexpected roles: %s, %s", history[0].Role, history[1].Role)
	}
}

func TestSendMessageSeedsTitleFromFirstMessage(t *testing.T) {
	db := newTestDB(t)
	userID := insertUser(t, db, "bob")
	svc := NewService(NewStore(db), NewRateLimiter(DefaultRateLimit), &fakeAgent{reply: "ok"})

	long := strings.Repeat("x", 200)
	msg, err := svc.SendMessage(context.Background(), userID, 0, long)
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	conv, _, err := svc.Store().GetWithMessages(context.Background(), userID, msg.ConversationID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if conv.Title == nil || len([]rune(*conv.Title)) != titleMaxLen {
		t.Fatalf("expected truncated title, got %v", conv.Title)
	}
}

func TestSendMessageFallbackOnEmptyReply(t *testing.T) {
	db := newTestDB(t)
	userID := insertUser(t, db, "carol")
	svc := NewService(NewStore(db), NewRateLimiter(DefaultRateLimit), &fakeAgent{reply: "   "})

	msg, err := svc.SendMessage(context.Background(), userID, 0, "hi")
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if msg.Content != fallbackReply {
		t.Fatalf("expected fallback reply, got %q", msg.Content)
	}
}

func TestSendMessageRateLimited(t *testing.T) {
	db := newTestDB(t)
	userID := insertUser(t, db, "dave")
	agent := &fakeAgent{reply: "ok"}
	svc := NewService(NewStore(db), NewRateLimiter(1), agent)

	if _, err := svc.SendMessage(context.Background(), userID, 0, "one"); err != nil {
		t.Fatalf("first send: %v", err)
	}
	_, err := svc.SendMessage(context.Background(), userID, 0, "two")
	if !errors.Is(err, ErrRateLimited) {
		t.Fatalf("expected ErrRateLimited, got %v", err)
	}
	if agent.calls != 1 {
		t.Fatalf("denied request must not reach the agent, calls=%d", agent.calls)
	}

	// Nothing new was persisted for the denied turn.
	summaries, err := svc.Store().ListSummaries(context.Background(), userID)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(summaries) != 1 || summaries[0].MessageCount != 2 {
		t.Fatalf("denied turn must not mutate state: %+v", summaries)
	}
}

func TestSendMessageKeepsUserMessageOnAgentFailure(t *testing.T) {
	db := newTestDB(t)
	userID := insertUser(t, db, "erin")
	agentErr := errors.New("model unavailable")
	svc := NewService(NewStore(db), NewRateLimiter(DefaultRateLimit), &fakeAgent{err: agentErr})

	_, err := svc.SendMessage(context.Background(), userID, 0, "please fail")
	if !errors.Is(err, agentErr) {
		t.Fatalf("expected agent error, got %v", err)
	}

	summaries, err := svc.Store().ListSummaries(context.Background(), userID)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(summaries) != 1 || summaries[0].MessageCount != 1 {
		t.Fatalf("user message should survive the failed turn: %+v", summaries)
	}
}

func TestSendMessageUnknownConversation(t *testing.T) {
	db := newTestDB(t)
	userID := insertUser(t, db, "frank")
	svc := NewService(NewStore(db), NewRateLimiter(DefaultRateLimit), &fakeAgent{reply: "ok"})

	if _, err := svc.SendMessage(context.Background(), userID, 9999, "hi"); err == nil {
		t.Fatalf("expected error for unknown conversation")
	}
}

func TestTitleExcerpt(t *testing.T) {
	if got := titleExcerpt("  hello  "); got != "hello" {
		t.Fatalf("expected trimmed title, got %q", got)
	}
	if got := titleExcerpt(""); got != "" {
		t.Fatalf("expected empty title, got %q", got)
	}
}
