package chat

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"taskchat/internal/models"
)

// Store persists conversations and their messages. Every query filters by
// user_id; a conversation that exists but belongs to another user is
// indistinguishable from one that does not exist (sql.ErrNoRows either way).
type Store struct {
	db *sql.DB
}

func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// GetOrCreate returns the conversation identified by conversationID for the
// user, or creates a fresh one when conversationID <= 0. title is only used
// on creation and may be empty.
func (s *Store) GetOrCreate(ctx context.Context, userID, conversationID int64, title string) (*models.Conversation, error) {
	if userID <= 0 {
		return nil, errors.New("user_id is required")
	}
	if conversationID <= 0 {
		return s.create(ctx, userID, title)
	}
	var conv models.Conversation
	err := s.db.QueryRowContext(ctx,
		`SELECT id, user_id, title, created_at, updated_at FROM conversations WHERE id = ? AND user_id = ?`,
		conversationID, userID,
	).Scan(&conv.ID, &conv.UserID, &conv.Title, &conv.CreatedAt, &conv.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("get conversation: %w", err)
	}
	return &conv, nil
}

func (s *Store) create(ctx context.Context, userID int64, title string) (*models.Conversation, error) {
	now := time.Now().UTC()
	var titleVal *string
	if t := strings.TrimSpace(title); t != "" {
		titleVal = &t
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO conversations (user_id, title, created_at, updated_at) VALUES (?, ?, ?, ?)`,
		userID, titleVal, now, now,
	)
	if err != nil {
		return nil, fmt.Errorf("create conversation: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("conversation id: %w", err)
	}
	return &models.Conversation{ID: id, UserID: userID, Title: titleVal, CreatedAt: now, UpdatedAt: now}, nil
}

// Append stores a new message and touches the conversation's updated_at.
func (s *Store) Append(ctx context.Context, conversationID, userID int64, role models.Role, content string) (*models.Message, error) {
	if conversationID <= 0 {
		return nil, errors.New("conversation_id is required")
	}
	if userID <= 0 {
		return nil, errors.New("user_id is required")
	}
	content = strings.TrimSpace(content)
	if content == "" {
		return nil, errors.New("content cannot be empty")
	}
	now := time.Now().UTC()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	res, err := tx.ExecContext(ctx,
		`INSERT INTO messages (conversation_id, user_id, role, content, created_at) VALUES (?, ?, ?, ?, ?)`,
		conversationID, userID, role, content, now,
	)
	if err != nil {
		return nil, fmt.Errorf("insert message: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("message id: %w", err)
	}
	if _, err = tx.ExecContext(ctx, `UPDATE conversations SET updated_at = ? WHERE id = ?`, now, conversationID); err != nil {
		return nil, fmt.Errorf("touch conversation: %w", err)
	}
	if err = tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit message: %w", err)
	}
	return &models.Message{
		ID:             id,
		ConversationID: conversationID,
		UserID:         userID,
		Role:           role,
		Content:        content,
		CreatedAt:      now,
	}, nil
}

// History returns the conversation's messages in chronological order,
// filtered by both conversation and user.
func (s *Store) History(ctx context.Context, conversationID, userID int64) ([]*models.Message, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, conversation_id, user_id, role, content, created_at
		 FROM messages WHERE conversation_id = ? AND user_id = ?
		 ORDER BY created_at ASC, id ASC`,
		conversationID, userID,
	)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	var messages []*models.Message
	for rows.Next() {
		m := new(models.Message)
		if err := rows.Scan(&m.ID, &m.ConversationID, &m.UserID, &m.Role, &m.Content, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		messages = append(messages, m)
	}
	return messages, rows.Err()
}

// ListSummaries returns the user's conversations, most recent first, each
// annotated with its message count.
func (s *Store) ListSummaries(ctx context.Context, userID int64) ([]models.ConversationSummary, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT c.id, c.user_id, c.title, c.created_at, c.updated_at, COUNT(m.id)
		 FROM conversations c
		 LEFT JOIN messages m ON m.conversation_id = c.id
		 WHERE c.user_id = ?
		 GROUP BY c.id
		 ORDER BY c.updated_at DESC`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	defer rows.Close()

	var summaries []models.ConversationSummary
	for rows.Next() {
		var cs models.ConversationSummary
		if err := rows.Scan(&cs.ID, &cs.UserID, &cs.Title, &cs.CreatedAt, &cs.UpdatedAt, &cs.MessageCount); err != nil {
			return nil, fmt.Errorf("scan conversation: %w", err)
		}
		summaries = append(summaries, cs)
	}
	return summaries, rows.Err()
}

// GetWithMessages returns one conversation and its ordered messages. It is
// a pure read: a non-positive id misses instead of creating anything.
func (s *Store) GetWithMessages(ctx context.Context, userID, conversationID int64) (*models.Conversation, []*models.Message, error) {
	if conversationID <= 0 {
		return nil, nil, sql.ErrNoRows
	}
	conv, err := s.GetOrCreate(ctx, userID, conversationID, "")
	if err != nil {
		return nil, nil, err
	}
	messages, err := s.History(ctx, conversationID, userID)
	if err != nil {
		return conv, nil, err
	}
	return conv, messages, nil
}

// Delete removes the conversation and all its messages in one transaction.
func (s *Store) Delete(ctx context.Context, userID, conversationID int64) error {
	if conversationID <= 0 {
		return errors.New("invalid conversation id")
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	res, err := tx.ExecContext(ctx, `DELETE FROM conversations WHERE id = ? AND user_id = ?`, conversationID, userID)
	if err != nil {
		return fmt.Errorf("delete conversation: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("conversation rows affected: %w", err)
	}
	if affected == 0 {
		tx.Rollback()
		return sql.ErrNoRows
	}
	if _, err = tx.ExecContext(ctx, `DELETE FROM messages WHERE conversation_id = ?`, conversationID); err != nil {
		return fmt.Errorf("delete messages: %w", err)
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit delete conversation: %w", err)
	}
	return nil
}
