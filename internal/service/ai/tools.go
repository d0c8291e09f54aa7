package ai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cloudwego/eino/components/tool"
	"github.com/cloudwego/eino/components/tool/utils"
	"github.com/cloudwego/eino/schema"

	"taskchat/internal/models"
	"taskchat/internal/service/task"
)

var (
	// ErrToolNotFound reports a dispatch for a name outside the fixed set.
	ErrToolNotFound = errors.New("tool not found")
	// ErrInvalidArguments reports an argument payload that failed to parse.
	ErrInvalidArguments = errors.New("invalid tool arguments")
)

// Registry is the closed set of task tools exposed to the model: exactly the
// six task operations, no dynamic registration.
type Registry struct {
	tools map[string]tool.InvokableTool
	infos []*schema.ToolInfo
}

// taskPayload is the projection of a task returned to the model.
type taskPayload struct {
	ID          int64  `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description"`
	IsComplete  bool   `json:"is_complete"`
	CreatedAt   string `json:"created_at"`
	UpdatedAt   string `json:"updated_at"`
}

func toTaskPayload(t *models.Task) *taskPayload {
	if t == nil {
		return nil
	}
	return &taskPayload{
		ID:          t.ID,
		Title:       t.Title,
		Description: t.Description,
		IsComplete:  t.IsComplete,
		CreatedAt:   t.CreatedAt.Format(time.RFC3339),
		UpdatedAt:   t.UpdatedAt.Format(time.RFC3339),
	}
}

type listTasksParams struct {
	UserID int64 `json:"user_id"`
}

type taskIDParams struct {
	UserID int64 `json:"user_id"`
	TaskID int64 `json:"task_id"`
}

type createTaskParams struct {
	UserID      int64  `json:"user_id"`
	Title       string `json:"title"`
	Description string `json:"description"`
}

type updateTaskParams struct {
	UserID      int64   `json:"user_id"`
	TaskID      int64   `json:"task_id"`
	Title       *string `json:"title"`
	Description *string `json:"description"`
}

// NewRegistry wires the six task tools over the task service.
func NewRegistry(tasks *task.Service) *Registry {
	userIDParam := &schema.ParameterInfo{
		Desc:     "Authenticated user ID",
		Type:     schema.Integer,
		Required: true,
	}
	taskIDParam := &schema.ParameterInfo{
		Desc:     "Task ID",
		Type:     schema.Integer,
		Required: true,
	}

	listInfo := &schema.ToolInfo{
		Name: "list_tasks",
		Desc: "List all tasks for the authenticated user",
		ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{
			"user_id": userIDParam,
		}),
	}
	getInfo := &schema.ToolInfo{
		Name: "get_task",
		Desc: "Get a single task by ID",
		ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{
			"user_id": userIDParam,
			"task_id": taskIDParam,
		}),
	}
	createInfo := &schema.ToolInfo{
		Name: "create_task",
		Desc: "Create a new task",
		ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{
			"user_id": userIDParam,
			"title": {
				Desc:     "Task title",
				Type:     schema.String,
				Required: true,
			},
			"description": {
				Desc: "Task description (optional)",
				Type: schema.String,
			},
		}),
	}
	updateInfo := &schema.ToolInfo{
		Name: "update_task",
		Desc: "Update an existing task",
		ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{
			"user_id": userIDParam,
			"task_id": taskIDParam,
			"title": {
				Desc: "New title (optional)",
				Type: schema.String,
			},
			"description": {
				Desc: "New description (optional)",
				Type: schema.String,
			},
		}),
	}
	deleteInfo := &schema.ToolInfo{
		Name: "delete_task",
		Desc: "Delete a task",
		ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{
			"user_id": userIDParam,
			"task_id": taskIDParam,
		}),
	}
	completeInfo := &schema.ToolInfo{
		Name: "complete_task",
		Desc: "Toggle task completion status",
		ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{
			"user_id": userIDParam,
			"task_id": taskIDParam,
		}),
	}

	listTool := utils.NewTool(listInfo, func(ctx context.Context, p *listTasksParams) ([]*taskPayload, error) {
		items, err := tasks.List(ctx, p.UserID)
		if err != nil {
			return nil, err
		}
		payloads := make([]*taskPayload, 0, len(items))
		for _, t := range items {
			payloads = append(payloads, toTaskPayload(t))
		}
		return payloads, nil
	})
	getTool := utils.NewTool(getInfo, func(ctx context.Context, p *taskIDParams) (*taskPayload, error) {
		t, err := tasks.Get(ctx, p.UserID, p.TaskID)
		if err != nil {
			return nil, err
		}
		return toTaskPayload(t), nil
	})
	createTool := utils.NewTool(createInfo, func(ctx context.Context, p *createTaskParams) (*taskPayload, error) {
		t, err := tasks.Create(ctx, p.UserID, task.CreateInput{Title: p.Title, Description: p.Description})
		if err != nil {
			return nil, err
		}
		return toTaskPayload(t), nil
	})
	updateTool := utils.NewTool(updateInfo, func(ctx context.Context, p *updateTaskParams) (*taskPayload, error) {
		t, err := tasks.Update(ctx, p.UserID, p.TaskID, task.UpdateInput{Title: p.Title, Description: p.Description})
		if err != nil {
			return nil, err
		}
		return toTaskPayload(t), nil
	})
	deleteTool := utils.NewTool(deleteInfo, func(ctx context.Context, p *taskIDParams) (bool, error) {
		return tasks.Delete(ctx, p.UserID, p.TaskID)
	})
	completeTool := utils.NewTool(completeInfo, func(ctx context.Context, p *taskIDParams) (*taskPayload, error) {
		t, err := tasks.ToggleComplete(ctx, p.UserID, p.TaskID)
		if err != nil {
			return nil, err
		}
		return toTaskPayload(t), nil
	})

	return &Registry{
		tools: map[string]tool.InvokableTool{
			"list_tasks":    listTool,
			"get_task":      getTool,
			"create_task":   createTool,
			"update_task":   updateTool,
			"delete_task":   deleteTool,
			"complete_task": completeTool,
		},
		infos: []*schema.ToolInfo{listInfo, getInfo, createInfo, updateInfo, deleteInfo, completeInfo},
	}
}

// Infos returns the tool schemas presented to the model.
func (r *Registry) Infos() []*schema.ToolInfo {
	return r.infos
}

// Dispatch parses rawArgs, stamps the authenticated user id over whatever
// the model supplied, and invokes the named tool. The result is the tool's
// JSON output; null/false mean not-found-or-not-owned.
func (r *Registry) Dispatch(ctx context.Context, userID int64, name, rawArgs string) (string, error) {
	tl, ok := r.tools[name]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrToolNotFound, name)
	}
	args := map[string]any{}
	if s := strings.TrimSpace(rawArgs); s != "" {
		if err := json.Unmarshal([]byte(s), &args); err != nil {
			return "", fmt.Errorf("%w: %v", ErrInvalidArguments, err)
		}
	}
	// Identity flows from the authenticated session, never from model text.
	args["user_id"] = userID
	payload, err := json.Marshal(args)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidArguments, err)
	}
	return tl.InvokableRun(ctx, string(payload))
}
