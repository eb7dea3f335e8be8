package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"
)

// Session lifecycle states. The loop only produces running, completed and
// failed; paused is reachable through the API but never set by the core.
const (
	SessionRunning   = "running"
	SessionCompleted = "completed"
	SessionFailed    = "failed"
	SessionPaused    = "paused"
)

// ErrSessionNotFound is returned when a session ID doesn't exist.
var ErrSessionNotFound = errors.New("session not found")

// Session is one end-to-end agent run.
type Session struct {
	ID          string                 `json:"id"`
	UserID      string                 `json:"user_id"`
	Status      string                 `json:"status"`
	CurrentStep string                 `json:"current_step"`
	Progress    int                    `json:"progress"`
	Title       string                 `json:"title"`
	Metadata    map[string]interface{} `json:"metadata,omitempty"`
	CompletedAt *time.Time             `json:"completed_at,omitempty"`
	CreatedAt   time.Time              `json:"created_at"`
	UpdatedAt   time.Time              `json:"updated_at"`
}

// UpsertSession inserts or refreshes a session row keyed by id. Safe under
// duplicate delivery.
func (s *Store) UpsertSession(ctx context.Context, sess *Session) error {
	meta, err := json.Marshal(sess.Metadata)
	if err != nil {
		return fmt.Errorf("marshal session metadata: %w", err)
	}
	_, err = s.db.Exec(ctx, `
		INSERT INTO agent_sessions (id, user_id, status, current_step, progress, title, metadata, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, NOW(), NOW())
		ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status,
			current_step = EXCLUDED.current_step,
			progress = GREATEST(agent_sessions.progress, EXCLUDED.progress),
			title = EXCLUDED.title,
			metadata = EXCLUDED.metadata,
			updated_at = NOW()`,
		sess.ID, sess.UserID, sess.Status, sess.CurrentStep, sess.Progress, sess.Title, meta,
	)
	if err != nil {
		return fmt.Errorf("upsert session %s: %w", sess.ID, err)
	}
	return nil
}

// UpdateSessionProgress advances the session's step label and progress.
// Progress is monotonic: a stale lower value never wins.
func (s *Store) UpdateSessionProgress(ctx context.Context, id, currentStep string, progress int) error {
	_, err := s.db.Exec(ctx, `
		UPDATE agent_sessions
		SET current_step = $2,
		    progress = GREATEST(progress, $3),
		    updated_at = NOW()
		WHERE id = $1`,
		id, currentStep, progress,
	)
	if err != nil {
		return fmt.Errorf("update session %s progress: %w", id, err)
	}
	return nil
}

// SetSessionMetadata merges keys into the session's metadata JSON.
func (s *Store) SetSessionMetadata(ctx context.Context, id string, meta map[string]interface{}) error {
	data, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}
	_, err = s.db.Exec(ctx, `
		UPDATE agent_sessions
		SET metadata = COALESCE(metadata, '{}'::jsonb) || $2::jsonb,
		    updated_at = NOW()
		WHERE id = $1`,
		id, data,
	)
	if err != nil {
		return fmt.Errorf("set session %s metadata: %w", id, err)
	}
	return nil
}

// FinalizeSession transitions the session to a terminal state exactly once.
// The completed_at guard makes a second finalize a no-op.
func (s *Store) FinalizeSession(ctx context.Context, id, status string, progress int, errMsg string) error {
	meta := map[string]interface{}{}
	if errMsg != "" {
		meta["error"] = errMsg
	}
	data, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("marshal finalize metadata: %w", err)
	}
	tag, err := s.db.Exec(ctx, `
		UPDATE agent_sessions
		SET status = $2,
		    progress = GREATEST(progress, $3),
		    metadata = COALESCE(metadata, '{}'::jsonb) || $4::jsonb,
		    completed_at = NOW(),
		    updated_at = NOW()
		WHERE id = $1 AND completed_at IS NULL`,
		id, status, progress, data,
	)
	if err != nil {
		return fmt.Errorf("finalize session %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		s.logger.Warn("session already finalized", zap.String("session", id))
	}
	return nil
}

// GetSession retrieves a single session by ID.
func (s *Store) GetSession(ctx context.Context, id string) (*Session, error) {
	row := s.db.QueryRow(ctx, `
		SELECT id, user_id, status, current_step, progress, title,
		       COALESCE(metadata, '{}'::jsonb), completed_at, created_at, updated_at
		FROM agent_sessions WHERE id = $1`, id)

	var sess Session
	var meta []byte
	err := row.Scan(
		&sess.ID, &sess.UserID, &sess.Status, &sess.CurrentStep, &sess.Progress,
		&sess.Title, &meta, &sess.CompletedAt, &sess.CreatedAt, &sess.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get session %s: %w", id, err)
	}
	if len(meta) > 0 {
		json.Unmarshal(meta, &sess.Metadata)
	}
	return &sess, nil
}
