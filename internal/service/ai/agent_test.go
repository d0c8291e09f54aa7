package ai

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"

	"taskchat/internal/models"
)

type fakeStep struct {
	resp *schema.Message
	err  error
}

type fakeModel struct {
	steps    []fakeStep
	calls    int
	requests [][]*schema.Message
	tools    []*schema.ToolInfo
}

func (f *fakeModel) Generate(ctx context.Context, msgs []*schema.Message, opts ...model.Option) (*schema.Message, error) {
	f.requests = append(f.requests, msgs)
	idx := f.calls
	f.calls++
	if idx >= len(f.steps) {
		return nil, errors.New("unexpected generate call")
	}
	return f.steps[idx].resp, f.steps[idx].err
}

func (f *fakeModel) Stream(ctx context.Context, msgs []*schema.Message, opts ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	return schema.StreamReaderFromArray([]*schema.Message{schema.AssistantMessage("", nil)}), nil
}

func (f *fakeModel) WithTools(tools []*schema.ToolInfo) (model.ToolCallingChatModel, error) {
	f.tools = tools
	return f, nil
}

func newTestAgent(t *testing.T, fake *fakeModel) (*Agent, int64) {
	t.Helper()
	reg, _, userID := newTestRegistry(t)
	agent, err := NewAgent(fake, reg, time.Second)
	if err != nil {
		t.Fatalf("new agent: %v", err)
	}
	agent.backoffUnit = time.Millisecond
	return agent, userID
}

func userTurn(content string) []*models.Message {
	return []*models.Message{{Role: models.RoleUser, Content: content}}
}

func TestReplyWithoutTools(t *testing.T) {
	fake := &fakeModel{steps: []fakeStep{
		{resp: schema.AssistantMessage("Hello! What can I do for you?", nil)},
	}}
	agent, userID := newTestAgent(t, fake)

	reply, err := agent.Reply(context.Background(), userID, userTurn("hi"))
	if err != nil {
		t.Fatalf("reply: %v", err)
	}
	if reply != "Hello! What can I do for you?" {
		t.Fatalf("unexpected reply: %q", reply)
	}
	if fake.calls != 1 {
		t.Fatalf("expected a single generate call, got %d", fake.calls)
	}
	if len(fake.tools) != 6 {
		t.Fatalf("expected 6 bound tools, got %d", len(fake.tools))
	}

	// First request carries the system message then the history.
	req := fake.requests[0]
	if len(req) != 2 || req[0].Role != schema.System || req[1].Role != schema.User {
		t.Fatalf("unexpected request shape: %+v", req)
	}
}

func TestReplyExecutesToolRound(t *testing.T) {
	call := schema.ToolCall{
		ID: "call-1",
		Function: schema.FunctionCall{
			Name:      "create_task",
			Arguments: `{"user_id": 42, "title": "buy milk"}`,
		},
	}
	first := schema.AssistantMessage("", nil)
	first.ToolCalls = []schema.ToolCall{call}
	fake := &fakeModel{steps: []fakeStep{
		{resp: first},
		{resp: schema.AssistantMessage("I added buy milk to your list.", nil)},
	}}
	agent, userID := newTestAgent(t, fake)

	reply, err := agent.Reply(context.Background(), userID, userTurn("add buy milk"))
	if err != nil {
		t.Fatalf("reply: %v", err)
	}
	if reply != "I added buy milk to your list." {
		t.Fatalf("unexpected reply: %q", reply)
	}
	if fake.calls != 2 {
		t.Fatalf("expected two generate calls, got %d", fake.calls)
	}

	// Second request ends with assistant tool-call turn, then the tool result.
	req := fake.requests[1]
	last := req[len(req)-1]
	if last.Role != schema.Tool || last.ToolCallID != "call-1" {
		t.Fatalf("expected tool result message, got %+v", last)
	}
	var payload struct {
		ToolName string `json:"tool_name"`
		Success  bool   `json:"success"`
		Result   struct {
			Title string `json:"title"`
		} `json:"result"`
	}
	if err := json.Unmarshal([]byte(last.Content), &payload); err != nil {
		t.Fatalf("decode tool result: %v", err)
	}
	if payload.ToolName != "create_task" || !payload.Success {
		t.Fatalf("expected success wrapper, got %s", last.Content)
	}
	if payload.Result.Title != "buy milk" {
		t.Fatalf("tool result should carry the created task: %s", last.Content)
	}
}

func TestReplyIsolatesBadToolCall(t *testing.T) {
	first := schema.AssistantMessage("", nil)
	first.ToolCalls = []schema.ToolCall{{
		ID:       "call-1",
		Function: schema.FunctionCall{Name: "drop_tables", Arguments: "{}"},
	}}
	fake := &fakeModel{steps: []fakeStep{
		{resp: first},
		{resp: schema.AssistantMessage("That didn't work, sorry.", nil)},
	}}
	agent, userID := newTestAgent(t, fake)

	reply, err := agent.Reply(context.Background(), userID, userTurn("do something odd"))
	if err != nil {
		t.Fatalf("a failed tool call must not fail the turn: %v", err)
	}
	if reply != "That didn't work, sorry." {
		t.Fatalf("unexpected reply: %q", reply)
	}

	last := fake.requests[1][len(fake.requests[1])-1]
	if !strings.Contains(last.Content, `"success":false`) {
		t.Fatalf("expected structured failure payload, got %s", last.Content)
	}
	if !strings.Contains(last.Content, "drop_tables") {
		t.Fatalf("failure payload should name the tool, got %s", last.Content)
	}
}

func TestReplyIgnoresSecondRoundToolCalls(t *testing.T) {
	first := schema.AssistantMessage("", nil)
	first.ToolCalls = []schema.ToolCall{{
		ID:       "call-1",
		Function: schema.FunctionCall{Name: "list_tasks", Arguments: "{}"},
	}}
	second := schema.AssistantMessage("Here are your tasks.", nil)
	second.ToolCalls = []schema.ToolCall{{
		ID:       "call-2",
		Function: schema.FunctionCall{Name: "list_tasks", Arguments: "{}"},
	}}
	fake := &fakeModel{steps: []fakeStep{{resp: first}, {resp: second}}}
	agent, userID := newTestAgent(t, fake)

	reply, err := agent.Reply(context.Background(), userID, userTurn("show tasks"))
	if err != nil {
		t.Fatalf("reply: %v", err)
	}
	if reply != "Here are your tasks." {
		t.Fatalf("unexpected reply: %q", reply)
	}
	if fake.calls != 2 {
		t.Fatalf("second-round tool calls must not trigger more generations, calls=%d", fake.calls)
	}
}

func TestReplyRetriesTimeouts(t *testing.T) {
	fake := &fakeModel{steps: []fakeStep{
		{err: context.DeadlineExceeded},
		{err: context.DeadlineExceeded},
		{resp: schema.AssistantMessage("finally", nil)},
	}}
	agent, userID := newTestAgent(t, fake)

	reply, err := agent.Reply(context.Background(), userID, userTurn("hi"))
	if err != nil {
		t.Fatalf("reply: %v", err)
	}
	if reply != "finally" {
		t.Fatalf("unexpected reply: %q", reply)
	}
	if fake.calls != 3 {
		t.Fatalf("expected three attempts, got %d", fake.calls)
	}
}

func TestReplyGivesUpAfterRetries(t *testing.T) {
	fake := &fakeModel{steps: []fakeStep{
		{err: context.DeadlineExceeded},
		{err: context.DeadlineExceeded},
		{err: context.DeadlineExceeded},
	}}
	agent, userID := newTestAgent(t, fake)

	_, err := agent.Reply(context.Background(), userID, userTurn("hi"))
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
	if fake.calls != 3 {
		t.Fatalf("expected exactly three attempts, got %d", fake.calls)
	}
}

func TestReplyFailsFastOnNonTimeout(t *testing.T) {
	fake := &fakeModel{steps: []fakeStep{
		{err: errors.New("bad api key")},
	}}
	agent, userID := newTestAgent(t, fake)

	_, err := agent.Reply(context.Background(), userID, userTurn("hi"))
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
	if fake.calls != 1 {
		t.Fatalf("non-timeout errors must not be retried, calls=%d", fake.calls)
	}
}
