package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// Report is a synthesized research report for one brand audit.
type Report struct {
	ID              string    `json:"id"`
	SessionID       string    `json:"session_id"`
	BrandName       string    `json:"brand_name"`
	Summary         string    `json:"summary"`
	Findings        []string  `json:"findings"`
	Recommendations []string  `json:"recommendations"`
	CreatedAt       time.Time `json:"created_at"`
}

// ErrReportNotFound is returned when a report ID doesn't exist.
var ErrReportNotFound = errors.New("report not found")

// SaveReport persists a report and returns its ID.
func (s *Store) SaveReport(ctx context.Context, r *Report) (string, error) {
	if r.ID == "" {
		r.ID = uuid.New().String()
	}
	findings, err := json.Marshal(r.Findings)
	if err != nil {
		return "", fmt.Errorf("marshal findings: %w", err)
	}
	recs, err := json.Marshal(r.Recommendations)
	if err != nil {
		return "", fmt.Errorf("marshal recommendations: %w", err)
	}
	_, err = s.db.Exec(ctx, `
		INSERT INTO research_reports (id, session_id, brand_name, summary, findings, recommendations, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, NOW())`,
		r.ID, r.SessionID, r.BrandName, r.Summary, findings, recs,
	)
	if err != nil {
		return "", fmt.Errorf("save report: %w", err)
	}
	return r.ID, nil
}

// GetReport retrieves a report by ID.
func (s *Store) GetReport(ctx context.Context, id string) (*Report, error) {
	row := s.db.QueryRow(ctx, `
		SELECT id, session_id, brand_name, summary, findings, recommendations, created_at
		FROM research_reports WHERE id = $1`, id)

	var r Report
	var findings, recs []byte
	err := row.Scan(&r.ID, &r.SessionID, &r.BrandName, &r.Summary, &findings, &recs, &r.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrReportNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get report %s: %w", id, err)
	}
	json.Unmarshal(findings, &r.Findings)
	json.Unmarshal(recs, &r.Recommendations)
	return &r, nil
}
