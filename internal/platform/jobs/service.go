// Package jobs runs synchronous batch jobs and keeps a JobRunLog for each run.
// A job works through items one at a time; a failing item is recorded and the
// job moves on, so one bad employee never aborts a batch.
package jobs

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

type Status string

const (
	StatusRunning Status = "running"
	StatusSuccess Status = "success"
	StatusFailed  Status = "failed"
	StatusPartial Status = "partial"
)

const (
	JobLeaveAccrual       = "accrual"
	JobYearEnd            = "year_end"
	JobCarryForwardExpiry = "carry_forward_expiry"
	JobPayrollCalculation = "payroll_calculation"
	maxRecordedFailures   = 200
)

type Failure struct {
	Subject string `json:"subject"`
	Reason  string `json:"reason"`
}

type Summary struct {
	Processed int       `json:"processed"`
	Failed    int       `json:"failed"`
	Skipped   int       `json:"skipped"`
	Failures  []Failure `json:"failures,omitempty"`
}

type Run struct {
	ID          string     `json:"id"`
	JobType     string     `json:"jobType"`
	Period      string     `json:"period"`
	Status      Status     `json:"status"`
	Summary     Summary    `json:"summary"`
	TriggeredBy string     `json:"triggeredBy"`
	Error       string     `json:"error,omitempty"`
	StartedAt   time.Time  `json:"startedAt"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
}

type Filter struct {
	JobType string
	Limit   int
	Offset  int
}

type Store interface {
	CreateRun(ctx context.Context, run Run) error
	CompleteRun(ctx context.Context, run Run) error
	GetRun(ctx context.Context, id string) (Run, error)
	ListRuns(ctx context.Context, filter Filter) ([]Run, error)
}

// Batch collects per-item outcomes while a job runs.
type Batch struct {
	summary Summary
}

func (b *Batch) Succeed() {
	b.summary.Processed++
}

func (b *Batch) Skip() {
	b.summary.Skipped++
}

func (b *Batch) Fail(subject string, err error) {
	b.summary.Failed++
	if len(b.summary.Failures) < maxRecordedFailures {
		b.summary.Failures = append(b.summary.Failures, Failure{Subject: subject, Reason: err.Error()})
	}
}

func (b *Batch) Summary() Summary {
	return b.summary
}

type JobFunc func(ctx context.Context, batch *Batch) error

type Runner struct {
	Store  Store
	OnDone func(run Run)
	now    func() time.Time
}

func NewRunner(store Store) *Runner {
	return &Runner{Store: store, now: time.Now}
}

// Run executes fn and persists its JobRunLog. The returned error is only the
// job's own fatal error; item failures are reported through the summary.
func (r *Runner) Run(ctx context.Context, jobType, period, triggeredBy string, fn JobFunc) (Run, error) {
	run := Run{
		ID:          uuid.NewString(),
		JobType:     jobType,
		Period:      period,
		Status:      StatusRunning,
		TriggeredBy: triggeredBy,
		StartedAt:   r.now().UTC(),
	}
	if err := r.Store.CreateRun(ctx, run); err != nil {
		zap.L().Warn("job run insert failed", zap.String("jobType", jobType), zap.Error(err))
	}

	batch := &Batch{}
	err := fn(ctx, batch)

	completed := r.now().UTC()
	run.CompletedAt = &completed
	run.Summary = batch.Summary()
	run.Status = StatusFor(run.Summary, err)
	if err != nil {
		run.Error = err.Error()
	}

	if updErr := r.Store.CompleteRun(ctx, run); updErr != nil {
		zap.L().Warn("job run update failed", zap.String("runId", run.ID), zap.Error(updErr))
	}
	zap.L().Info("job run finished",
		zap.String("runId", run.ID),
		zap.String("jobType", jobType),
		zap.String("period", period),
		zap.String("status", string(run.Status)),
		zap.Int("processed", run.Summary.Processed),
		zap.Int("failed", run.Summary.Failed),
		zap.Int("skipped", run.Summary.Skipped),
	)
	if r.OnDone != nil {
		r.OnDone(run)
	}
	return run, err
}

func StatusFor(summary Summary, err error) Status {
	switch {
	case err != nil:
		return StatusFailed
	case summary.Failed > 0 && summary.Processed == 0:
		return StatusFailed
	case summary.Failed > 0:
		return StatusPartial
	default:
		return StatusSuccess
	}
}
