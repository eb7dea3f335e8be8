package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ChatMessage is one turn in the visible conversation. The assistant row is
// created empty and updated in place while tokens stream.
type ChatMessage struct {
	ID          string                 `json:"id"`
	SessionID   string                 `json:"session_id"`
	Role        string                 `json:"role"`
	Content     string                 `json:"content"`
	IsStreaming bool                   `json:"is_streaming"`
	Metadata    map[string]interface{} `json:"metadata,omitempty"`
	CreatedAt   time.Time              `json:"created_at"`
}

// CreateMessage inserts a chat message row and returns its ID.
func (s *Store) CreateMessage(ctx context.Context, m *ChatMessage) (string, error) {
	if m.ID == "" {
		m.ID = uuid.New().String()
	}
	meta, err := json.Marshal(m.Metadata)
	if err != nil {
		return "", fmt.Errorf("marshal message metadata: %w", err)
	}
	_, err = s.db.Exec(ctx, `
		INSERT INTO chat_messages (id, session_id, role, content, is_streaming, metadata, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, NOW())`,
		m.ID, m.SessionID, m.Role, m.Content, m.IsStreaming, meta,
	)
	if err != nil {
		return "", fmt.Errorf("create message: %w", err)
	}
	return m.ID, nil
}

// UpdateMessageContent overwrites a streaming message's content snapshot.
// Callers throttle; this write happens far less often than once per token.
func (s *Store) UpdateMessageContent(ctx context.Context, id, content string) error {
	_, err := s.db.Exec(ctx,
		`UPDATE chat_messages SET content = $2 WHERE id = $1`, id, content)
	if err != nil {
		return fmt.Errorf("update message %s: %w", id, err)
	}
	return nil
}

// FinalizeMessage sets the final content and clears is_streaming. The flag
// flips to false exactly once, on success or error.
func (s *Store) FinalizeMessage(ctx context.Context, id, content string) error {
	_, err := s.db.Exec(ctx, `
		UPDATE chat_messages
		SET content = $2, is_streaming = FALSE
		WHERE id = $1`, id, content)
	if err != nil {
		return fmt.Errorf("finalize message %s: %w", id, err)
	}
	return nil
}

// ListMessages retrieves a session's conversation ordered by creation time.
func (s *Store) ListMessages(ctx context.Context, sessionID string) ([]*ChatMessage, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, session_id, role, content, is_streaming, COALESCE(metadata, '{}'::jsonb), created_at
		FROM chat_messages
		WHERE session_id = $1
		ORDER BY created_at ASC`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	var msgs []*ChatMessage
	for rows.Next() {
		var m ChatMessage
		var meta []byte
		if err := rows.Scan(&m.ID, &m.SessionID, &m.Role, &m.Content, &m.IsStreaming, &meta, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		json.Unmarshal(meta, &m.Metadata)
		msgs = append(msgs, &m)
	}
	return msgs, nil
}
