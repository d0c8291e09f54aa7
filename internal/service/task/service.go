package task

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"taskchat/internal/models"
)

// CreateInput carries the fields for a new task.
type CreateInput struct {
	Title       string
	Description string
}

// UpdateInput carries optional new values; nil fields are left unchanged.
type UpdateInput struct {
	Title       *string
	Description *string
}

// Service provides user-scoped task CRUD. Lookups that miss — including
// tasks owned by another user — return nil (or false for Delete) rather
// than an error.
type Service struct {
	db *sql.DB
}

func NewService(db *sql.DB) *Service {
	return &Service{db: db}
}

// List returns all tasks for the user, newest first.
func (s *Service) List(ctx context.Context, userID int64) ([]*models.Task, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, user_id, title, description, is_complete, created_at, updated_at
		 FROM tasks WHERE user_id = ? ORDER BY created_at DESC`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	defer rows.Close()

	var tasks []*models.Task
	for rows.Next() {
		t := new(models.Task)
		if err := rows.Scan(&t.ID, &t.UserID, &t.Title, &t.Description, &t.IsComplete, &t.CreatedAt, &t.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

// Get returns the task if it exists and is owned by the user, nil otherwise.
func (s *Service) Get(ctx context.Context, userID, taskID int64) (*models.Task, error) {
	t := new(models.Task)
	err := s.db.QueryRowContext(ctx,
		`SELECT id, user_id, title, description, is_complete, created_at, updated_at
		 FROM tasks WHERE id = ? AND user_id = ?`,
		taskID, userID,
	).Scan(&t.ID, &t.UserID, &t.Title, &t.Description, &t.IsComplete, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get task: %w", err)
	}
	return t, nil
}

// Create inserts a new task for the user and returns the record.
func (s *Service) Create(ctx context.Context, userID int64, in CreateInput) (*models.Task, error) {
	title := strings.TrimSpace(in.Title)
	if title == "" {
		return nil, errors.New("title is required")
	}
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO tasks (user_id, title, description, is_complete, created_at, updated_at)
		 VALUES (?, ?, ?, 0, ?, ?)`,
		userID, title, in.Description, now, now,
	)
	if err != nil {
		return nil, fmt.Errorf("create task: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("task id: %w", err)
	}
	return &models.Task{
		ID:          id,
		UserID:      userID,
		Title:       title,
		Description: in.Description,
		CreatedAt:   now,
		UpdatedAt:   now,
	}, nil
}

// Update applies the provided fields and returns the updated task, or nil if
// the task is absent or not owned by the user.
func (s *Service) Update(ctx context.Context, userID, taskID int64, in UpdateInput) (*models.Task, error) {
	current, err := s.Get(ctx, userID, taskID)
	if err != nil {
		return nil, err
	}
	if current == nil {
		return nil, nil
	}
	if in.Title != nil {
		title := strings.TrimSpace(*in.Title)
		if title == "" {
			return nil, errors.New("title cannot be empty")
		}
		current.Title = title
	}
	if in.Description != nil {
		current.Description = *in.Description
	}
	now := time.Now().UTC()
	if _, err := s.db.ExecContext(ctx,
		`UPDATE tasks SET title = ?, description = ?, updated_at = ? WHERE id = ? AND user_id = ?`,
		current.Title, current.Description, now, taskID, userID,
	); err != nil {
		return nil, fmt.Errorf("update task: %w", err)
	}
	current.UpdatedAt = now
	return current, nil
}

// Delete removes the task, reporting false if it is absent or not owned.
func (s *Service) Delete(ctx context.Context, userID, taskID int64) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM tasks WHERE id = ? AND user_id = ?`, taskID, userID,
	)
	if err != nil {
		return false, fmt.Errorf("delete task: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("task rows affected: %w", err)
	}
	return affected > 0, nil
}

// ToggleComplete flips the completion flag. Two calls return the task to its
// original state; this is a toggle, not an idempotent set.
func (s *Service) ToggleComplete(ctx context.Context, userID, taskID int64) (*models.Task, error) {
	current, err := s.Get(ctx, userID, taskID)
	if err != nil {
		return nil, err
	}
	if current == nil {
		return nil, nil
	}
	now := time.Now().UTC()
	if _, err := s.db.ExecContext(ctx,
		`UPDATE tasks SET is_complete = ?, updated_at = ? WHERE id = ? AND user_id = ?`,
		!current.IsComplete, now, taskID, userID,
	); err != nil {
		return nil, fmt.Errorf("toggle task: %w", err)
	}
	current.IsComplete = !current.IsComplete
	current.UpdatedAt = now
	return current, nil
}
