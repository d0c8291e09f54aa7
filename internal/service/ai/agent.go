package ai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net"
	"os"
	"time"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"

	"taskchat/internal/models"
)

// ErrUnavailable reports that the model could not produce a response, after
// retries where the failure was timeout-class.
var ErrUnavailable = errors.New("model unavailable")

const (
	defaultMaxRetries = 3

	systemPrompt = `You are a task management assistant. Help users manage their tasks through natural conversation.

You can list, create, update, complete, and delete tasks using the provided tools.
When the user asks to see their tasks, call list_tasks.
When the user wants to add something, call create_task.
When the user wants to change a task, call update_task.
When the user says they finished something, call complete_task.
When the user wants to remove a task, call delete_task.

After performing an action, confirm what you did in plain language.
If a tool reports a failure, tell the user and ask for clarification instead of retrying on your own.
Keep replies short and concrete.`
)

// Agent drives one conversational turn against the model: at most one round
// of tool calls, then a final text reply.
type Agent struct {
	model      model.ToolCallingChatModel
	registry   *Registry
	timeout    time.Duration
	maxRetries int

	// backoffUnit scales the retry waits; tests shrink it.
	backoffUnit time.Duration
}

// NewAgent binds the registry's tool schemas to the model.
func NewAgent(m model.ToolCallingChatModel, registry *Registry, timeout time.Duration) (*Agent, error) {
	bound, err := m.WithTools(registry.Infos())
	if err != nil {
		return nil, fmt.Errorf("bind tools: %w", err)
	}
	return &Agent{
		model:       bound,
		registry:    registry,
		timeout:     timeout,
		maxRetries:  defaultMaxRetries,
		backoffUnit: time.Second,
	}, nil
}

// Reply produces the assistant reply for the given history. If the model
// requests tool calls, each is executed once and the results are fed back for
// a single follow-up generation; tool calls in the follow-up are not honored.
func (a *Agent) Reply(ctx context.Context, userID int64, history []*models.Message) (string, error) {
	msgs := make([]*schema.Message, 0, len(history)+1)
	msgs = append(msgs, schema.SystemMessage(systemPrompt))
	for _, m := range history {
		switch m.Role {
		case models.RoleUser:
			msgs = append(msgs, schema.UserMessage(m.Content))
		case models.RoleAssistant:
			msgs = append(msgs, schema.AssistantMessage(m.Content, nil))
		}
	}

	resp, err := a.generateWithRetry(ctx, msgs)
	if err != nil {
		return "", err
	}
	if len(resp.ToolCalls) == 0 {
		return resp.Content, nil
	}

	msgs = append(msgs, resp)
	for _, call := range resp.ToolCalls {
		msgs = append(msgs, schema.ToolMessage(a.runToolCall(ctx, userID, call), call.ID))
	}

	final, err := a.generateWithRetry(ctx, msgs)
	if err != nil {
		return "", err
	}
	// One tool round per turn: any further calls are dropped and only the
	// text content is kept.
	return final.Content, nil
}

// runToolCall dispatches a single call and never fails the turn. Both
// outcomes come back as a structured payload so the model can tell them
// apart uniformly.
func (a *Agent) runToolCall(ctx context.Context, userID int64, call schema.ToolCall) string {
	out, err := a.registry.Dispatch(ctx, userID, call.Function.Name, call.Function.Arguments)
	if err != nil {
		log.Printf("tool %s failed for user %d: %v", call.Function.Name, userID, err)
		failure, _ := json.Marshal(map[string]any{
			"tool_name": call.Function.Name,
			"success":   false,
			"error":     err.Error(),
		})
		return string(failure)
	}
	success, _ := json.Marshal(map[string]any{
		"tool_name": call.Function.Name,
		"success":   true,
		"result":    json.RawMessage(out),
	})
	return string(success)
}

func (a *Agent) generateWithRetry(ctx context.Context, msgs []*schema.Message) (*schema.Message, error) {
	var lastErr error
	for attempt := 1; attempt <= a.maxRetries; attempt++ {
		callCtx, cancel := context.WithTimeout(ctx, a.timeout)
		resp, err := a.model.Generate(callCtx, msgs)
		cancel()
		if err == nil {
			return resp, nil
		}
		if !isTimeout(err) {
			log.Printf("model call failed: %v", err)
			return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
		lastErr = err
		if attempt < a.maxRetries {
			wait := a.backoffUnit << attempt
			log.Printf("model call timed out (attempt %d/%d), retrying in %s", attempt, a.maxRetries, wait)
			select {
			case <-time.After(wait):
			case <-ctx.Done():
				return nil, fmt.Errorf("%w: %v", ErrUnavailable, ctx.Err())
			}
		}
	}
	log.Printf("model call timed out after %d attempts: %v", a.maxRetries, lastErr)
	return nil, fmt.Errorf("%w: %v", ErrUnavailable, lastErr)
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	return os.IsTimeout(err)
}
