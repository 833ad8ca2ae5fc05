package repository

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mailmerge/mailmerge/internal/database"
	"github.com/mailmerge/mailmerge/internal/model"
)

// RunRepository stores one row per completed dispatch
type RunRepository struct {
	db *database.Postgres
}

// NewRunRepository creates a new RunRepository
func NewRunRepository(db *database.Postgres) *RunRepository {
	return &RunRepository{db: db}
}

const (
	insertRunQuery = `
		INSERT INTO runs (id, mode, label, sent, drafted, skipped, errors, attempted,
		    remaining, export_path, detail, started_at, finished_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`
	listRunsQuery = `
		SELECT id, mode, label, sent, drafted, attempted, remaining, export_path,
		       detail, started_at, finished_at
		FROM runs
		ORDER BY finished_at DESC
		LIMIT $1
	`
)

type runDetail struct {
	Skipped  []string         `json:"skipped"`
	Errors   []model.RowError `json:"errors"`
	Warnings []string         `json:"warnings,omitempty"`
}

// Create inserts a run summary
func (r *RunRepository) Create(ctx context.Context, s *model.Summary) error {
	detail, err := json.Marshal(runDetail{Skipped: s.Skipped, Errors: s.Errors, Warnings: s.Warnings})
	if err != nil {
		detail = []byte("{}")
	}

	_, err = r.db.ExecContext(ctx, insertRunQuery,
		s.RunID,
		string(s.Mode),
		s.Label,
		s.Sent,
		s.Drafted,
		len(s.Skipped),
		len(s.Errors),
		s.Attempted,
		s.Remaining,
		s.ExportPath,
		detail,
		s.StartedAt,
		s.FinishedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create run: %w", err)
	}
	return nil
}

// List returns the most recent runs, newest first
func (r *RunRepository) List(ctx context.Context, limit int) ([]*model.Summary, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	rows, err := r.db.QueryContext(ctx, listRunsQuery, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	var runs []*model.Summary
	for rows.Next() {
		var (
			s      model.Summary
			mode   string
			detail []byte
		)
		if err := rows.Scan(
			&s.RunID,
			&mode,
			&s.Label,
			&s.Sent,
			&s.Drafted,
			&s.Attempted,
			&s.Remaining,
			&s.ExportPath,
			&detail,
			&s.StartedAt,
			&s.FinishedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		s.Mode = model.Mode(mode)

		var d runDetail
		if len(detail) > 0 {
			_ = json.Unmarshal(detail, &d)
		}
		s.Skipped = d.Skipped
		s.Errors = d.Errors
		s.Warnings = d.Warnings
		runs = append(runs, &s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate runs: %w", err)
	}
	return runs, nil
}
