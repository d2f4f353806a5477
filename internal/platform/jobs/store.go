package jobs

import (
	"context"
	"encoding/json"
	"fmt"

	"hrpay/internal/domain/apperr"
	"hrpay/internal/platform/db"
	"hrpay/internal/platform/querier"
)

type PgStore struct {
	DB querier.Querier
}

func NewPgStore(q querier.Querier) *PgStore {
	return &PgStore{DB: q}
}

func (s *PgStore) CreateRun(ctx context.Context, run Run) error {
	_, err := s.DB.Exec(ctx, `
    INSERT INTO job_runs (id, job_type, period, status, summary, triggered_by, started_at)
    VALUES ($1,$2,$3,$4,'{}'::jsonb,$5,$6)
  `, run.ID, run.JobType, run.Period, run.Status, run.TriggeredBy, run.StartedAt)
	return err
}

func (s *PgStore) CompleteRun(ctx context.Context, run Run) error {
	summary, err := json.Marshal(run.Summary)
	if err != nil {
		return err
	}
	_, err = s.DB.Exec(ctx, `
    UPDATE job_runs
    SET status = $1, summary = $2, error = $3, completed_at = $4
    WHERE id = $5
  `, run.Status, summary, run.Error, run.CompletedAt, run.ID)
	return err
}

const runColumns = "id, job_type, period, status, summary, triggered_by, error, started_at, completed_at"

func (s *PgStore) GetRun(ctx context.Context, id string) (Run, error) {
	run, err := scanRun(s.DB.QueryRow(ctx, "SELECT "+runColumns+" FROM job_runs WHERE id = $1", id))
	if db.IsNoRows(err) {
		return Run{}, apperr.NotFound("job_run_not_found", "job run not found")
	}
	return run, err
}

func (s *PgStore) ListRuns(ctx context.Context, filter Filter) ([]Run, error) {
	query := "SELECT " + runColumns + " FROM job_runs"
	args := []any{}
	if filter.JobType != "" {
		query += " WHERE job_type = $1"
		args = append(args, filter.JobType)
	}
	query += fmt.Sprintf(" ORDER BY started_at DESC LIMIT $%d OFFSET $%d", len(args)+1, len(args)+2)
	args = append(args, filter.Limit, filter.Offset)

	rows, err := s.DB.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, run)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (Run, error) {
	var (
		run     Run
		summary []byte
	)
	if err := row.Scan(&run.ID, &run.JobType, &run.Period, &run.Status, &summary, &run.TriggeredBy, &run.Error, &run.StartedAt, &run.CompletedAt); err != nil {
		return Run{}, err
	}
	if len(summary) > 0 {
		if err := json.Unmarshal(summary, &run.Summary); err != nil {
			return Run{}, fmt.Errorf("decode job summary: %w", err)
		}
	}
	return run, nil
}
