package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Execution log entry statuses.
const (
	StepStarted   = "started"
	StepCompleted = "completed"
	StepFailed    = "failed"
	StepSkipped   = "skipped"
)

// LogEntry is one attempted step: a reasoning turn or a tool invocation.
// Entries are append-only; every started entry is followed by exactly one
// terminal entry for the same step.
type LogEntry struct {
	ID           string                 `json:"id"`
	SessionID    string                 `json:"session_id"`
	StepName     string                 `json:"step_name"`
	Status       string                 `json:"status"`
	ToolName     string                 `json:"tool_name,omitempty"`
	InputData    map[string]interface{} `json:"input_data,omitempty"`
	OutputData   map[string]interface{} `json:"output_data,omitempty"`
	ErrorMessage string                 `json:"error_message,omitempty"`
	DurationMs   int64                  `json:"duration_ms,omitempty"`
	CreatedAt    time.Time              `json:"created_at"`
}

// InsertLogEntry appends one entry. Each call is a fresh row; no dedup needed.
// Assigns the entry ID and timestamp if unset.
func (s *Store) InsertLogEntry(ctx context.Context, e *LogEntry) error {
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}
	input, err := json.Marshal(e.InputData)
	if err != nil {
		return fmt.Errorf("marshal input_data: %w", err)
	}
	output, err := json.Marshal(e.OutputData)
	if err != nil {
		return fmt.Errorf("marshal output_data: %w", err)
	}

	_, err = s.db.Exec(ctx, `
		INSERT INTO execution_log (id, session_id, step_name, status, tool_name, input_data, output_data, error_message, duration_ms, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		e.ID, e.SessionID, e.StepName, e.Status, e.ToolName, input, output, e.ErrorMessage, e.DurationMs, e.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert log entry: %w", err)
	}
	return nil
}

// ListLogEntries returns a session's full log ordered by creation time.
// This is the polling fallback for clients without the realtime feed.
func (s *Store) ListLogEntries(ctx context.Context, sessionID string) ([]*LogEntry, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, session_id, step_name, status, COALESCE(tool_name, ''),
		       COALESCE(input_data, '{}'::jsonb), COALESCE(output_data, '{}'::jsonb),
		       COALESCE(error_message, ''), COALESCE(duration_ms, 0), created_at
		FROM execution_log
		WHERE session_id = $1
		ORDER BY created_at ASC`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("list log entries: %w", err)
	}
	defer rows.Close()

	var entries []*LogEntry
	for rows.Next() {
		var e LogEntry
		var input, output []byte
		if err := rows.Scan(
			&e.ID, &e.SessionID, &e.StepName, &e.Status, &e.ToolName,
			&input, &output, &e.ErrorMessage, &e.DurationMs, &e.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan log entry: %w", err)
		}
		json.Unmarshal(input, &e.InputData)
		json.Unmarshal(output, &e.OutputData)
		entries = append(entries, &e)
	}
	return entries, nil
}
