package payroll

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"hrpay/internal/domain/apperr"
	"hrpay/internal/domain/attendance"
	"hrpay/internal/domain/audit"
	"hrpay/internal/domain/calendar"
	"hrpay/internal/domain/directory"
	"hrpay/internal/domain/ledger"
	"hrpay/internal/domain/workflow"
	"hrpay/internal/platform/events"
	"hrpay/internal/platform/jobs"
)

const encashmentScanLimit = 1000

type Employees interface {
	ListActiveEmployees(ctx context.Context, from, to time.Time) ([]directory.Employee, error)
	GetEmployee(ctx context.Context, id string) (directory.Employee, error)
}

type TimeSource interface {
	Impact(ctx context.Context, employeeID string, start, end time.Time) (attendance.Impact, error)
}

type LeaveSource interface {
	UnpaidDays(ctx context.Context, employeeID string, period calendar.Range) (decimal.Decimal, error)
}

type LedgerSource interface {
	Transactions(ctx context.Context, filter ledger.Filter) ([]ledger.Transaction, error)
}

type Approvals interface {
	Start(ctx context.Context, entityType workflow.EntityType, entityID, positionCode string, actor workflow.Actor) (workflow.Instance, error)
	Advance(ctx context.Context, entityType workflow.EntityType, entityID string, cmd workflow.Command) (workflow.Instance, error)
	Get(ctx context.Context, entityType workflow.EntityType, entityID string) (workflow.Instance, error)
}

// Sources are the collaborators a payslip reads its inputs from.
type Sources struct {
	Employees Employees
	Time      TimeSource
	Leave     LeaveSource
	Ledger    LedgerSource
}

type Service struct {
	Store    Store
	Sources  Sources
	Workflow Approvals
	Jobs     *jobs.Runner
	Audit    audit.Recorder
	Events   events.Publisher
	now      func() time.Time
}

func NewService(store Store, sources Sources, approvals Approvals, runner *jobs.Runner, recorder audit.Recorder, publisher events.Publisher) *Service {
	if publisher == nil {
		publisher = events.Noop{}
	}
	return &Service{
		Store:    store,
		Sources:  sources,
		Workflow: approvals,
		Jobs:     runner,
		Audit:    recorder,
		Events:   publisher,
		now:      time.Now,
	}
}

func (s *Service) TaxBrackets(ctx context.Context) ([]TaxBracket, error) {
	return s.Store.TaxBrackets(ctx)
}

func (s *Service) ReplaceTaxBrackets(ctx context.Context, brackets []TaxBracket, actorID string) ([]TaxBracket, error) {
	if err := NormalizeTaxBrackets(brackets); err != nil {
		return nil, err
	}
	before, err := s.Store.TaxBrackets(ctx)
	if err != nil {
		return nil, err
	}
	if err := s.Store.ReplaceTaxBrackets(ctx, brackets); err != nil {
		return nil, err
	}
	audit.RecordOrWarn(ctx, s.Audit, audit.Entry{ActorID: actorID, Action: "payroll.config.tax_brackets", EntityType: "payroll_config", EntityID: "tax_brackets", Before: before, After: brackets})
	return brackets, nil
}

func (s *Service) InsuranceBrackets(ctx context.Context) ([]InsuranceBracket, error) {
	return s.Store.InsuranceBrackets(ctx)
}

func (s *Service) ReplaceInsuranceBrackets(ctx context.Context, brackets []InsuranceBracket, actorID string) ([]InsuranceBracket, error) {
	if err := NormalizeInsuranceBrackets(brackets); err != nil {
		return nil, err
	}
	before, err := s.Store.InsuranceBrackets(ctx)
	if err != nil {
		return nil, err
	}
	if err := s.Store.ReplaceInsuranceBrackets(ctx, brackets); err != nil {
		return nil, err
	}
	audit.RecordOrWarn(ctx, s.Audit, audit.Entry{ActorID: actorID, Action: "payroll.config.insurance_brackets", EntityType: "payroll_config", EntityID: "insurance_brackets", Before: before, After: brackets})
	return brackets, nil
}

// Settings falls back to DefaultSettings until settings are first saved.
func (s *Service) Settings(ctx context.Context) (Settings, error) {
	settings, found, err := s.Store.Settings(ctx)
	if err != nil {
		return Settings{}, err
	}
	if !found {
		return DefaultSettings(), nil
	}
	return settings, nil
}

func (s *Service) UpdateSettings(ctx context.Context, settings Settings, actorID string) (Settings, error) {
	if err := settings.Normalize(); err != nil {
		return Settings{}, err
	}
	before, err := s.Settings(ctx)
	if err != nil {
		return Settings{}, err
	}
	settings.UpdatedAt = s.now().UTC()
	if err := s.Store.SaveSettings(ctx, settings); err != nil {
		return Settings{}, err
	}
	audit.RecordOrWarn(ctx, s.Audit, audit.Entry{ActorID: actorID, Action: "payroll.config.settings", EntityType: "payroll_config", EntityID: "settings", Before: before, After: settings})
	return settings, nil
}

func (s *Service) CreateAdjustment(ctx context.Context, adj Adjustment, actorID string) (Adjustment, error) {
	if _, err := calendar.ParseMonth(adj.Period); err != nil {
		return Adjustment{}, err
	}
	switch adj.Kind {
	case AdjustmentAllowance, AdjustmentSigningBonus:
		if !adj.Amount.IsPositive() {
			return Adjustment{}, apperr.Validation("invalid_amount", fmt.Sprintf("%s amounts must be positive", adj.Kind))
		}
	case AdjustmentRefund:
		if adj.Amount.IsZero() {
			return Adjustment{}, apperr.Validation("invalid_amount", "amount must not be zero")
		}
	default:
		return Adjustment{}, apperr.Validation("invalid_adjustment_kind", fmt.Sprintf("unknown adjustment kind %q", adj.Kind))
	}
	if _, err := s.Sources.Employees.GetEmployee(ctx, adj.EmployeeID); err != nil {
		return Adjustment{}, err
	}
	adj.ID = uuid.NewString()
	adj.Description = strings.TrimSpace(adj.Description)
	adj.CreatedBy = actorID
	adj.CreatedAt = s.now().UTC()
	if err := s.Store.CreateAdjustment(ctx, adj); err != nil {
		return Adjustment{}, err
	}
	audit.RecordOrWarn(ctx, s.Audit, audit.Entry{ActorID: actorID, Action: "payroll.adjustment.created", EntityType: "payroll_adjustment", EntityID: adj.ID, After: adj})
	return adj, nil
}

func (s *Service) ListAdjustments(ctx context.Context, employeeID, period string) ([]Adjustment, error) {
	if strings.TrimSpace(employeeID) == "" {
		return nil, apperr.Validation("employee_required", "employeeId is required")
	}
	if _, err := calendar.ParseMonth(period); err != nil {
		return nil, err
	}
	return s.Store.ListAdjustments(ctx, employeeID, period)
}

// DraftRun opens the run for a month with one pending payslip per employee
// on staff during it.
func (s *Service) DraftRun(ctx context.Context, period, actorID string) (Run, error) {
	span, err := calendar.ParseMonth(period)
	if err != nil {
		return Run{}, err
	}
	employees, err := s.Sources.Employees.ListActiveEmployees(ctx, span.Start, span.End)
	if err != nil {
		return Run{}, err
	}

	now := s.now().UTC()
	run := Run{
		ID:                   uuid.NewString(),
		Period:               period,
		Status:               RunDraft,
		InitiatedBy:          actorID,
		EmployeeCount:        len(employees),
		TotalNetDisbursement: decimal.Zero,
		CreatedAt:            now,
		UpdatedAt:            now,
	}
	slips := make([]Payslip, 0, len(employees))
	for _, emp := range employees {
		slips = append(slips, Payslip{
			ID:         uuid.NewString(),
			RunID:      run.ID,
			EmployeeID: emp.ID,
			Currency:   emp.Currency,
			BaseSalary: emp.BaseSalary,
			Status:     PayslipPending,
		})
	}
	if err := s.Store.CreateRun(ctx, run, slips); err != nil {
		return Run{}, err
	}
	audit.RecordOrWarn(ctx, s.Audit, audit.Entry{ActorID: actorID, Action: "payroll.run.draft", EntityType: "payroll_run", EntityID: run.ID, After: run})
	s.publish(ctx, run)
	return run, nil
}

// GetRun attaches the approval history when the run has been submitted.
func (s *Service) GetRun(ctx context.Context, id string) (Run, error) {
	run, err := s.Store.GetRun(ctx, id)
	if err != nil {
		return Run{}, err
	}
	if run.WorkflowInstanceID != "" {
		inst, err := s.Workflow.Get(ctx, workflow.EntityPayrollRun, approvalKey(run))
		if err != nil {
			zap.L().Warn("load payroll approval history failed", zap.String("runId", run.ID), zap.Error(err))
		} else {
			run.ApprovalHistory = inst.History
		}
	}
	return run, nil
}

// ApprovalKey is the workflow entity id of the run's latest submission.
func (s *Service) ApprovalKey(ctx context.Context, runID string) (string, error) {
	run, err := s.Store.GetRun(ctx, runID)
	if err != nil {
		return "", err
	}
	return approvalKey(run), nil
}

func (s *Service) ListRuns(ctx context.Context, filter RunFilter) ([]Run, int, error) {
	return s.Store.ListRuns(ctx, filter)
}

func (s *Service) Payslips(ctx context.Context, runID string) ([]Payslip, error) {
	if _, err := s.Store.GetRun(ctx, runID); err != nil {
		return nil, err
	}
	return s.Store.ListPayslips(ctx, runID)
}

// DisbursementLine pairs a payslip with the account it is paid into.
type DisbursementLine struct {
	Payslip
	FullName    string `json:"fullName"`
	BankAccount string `json:"bankAccount"`
}

// Disbursement lists the payslips of a run with the payee bank details.
func (s *Service) Disbursement(ctx context.Context, runID string) ([]DisbursementLine, error) {
	slips, err := s.Payslips(ctx, runID)
	if err != nil {
		return nil, err
	}
	lines := make([]DisbursementLine, 0, len(slips))
	for _, slip := range slips {
		emp, err := s.Sources.Employees.GetEmployee(ctx, slip.EmployeeID)
		if err != nil {
			return nil, err
		}
		lines = append(lines, DisbursementLine{Payslip: slip, FullName: emp.FullName, BankAccount: emp.BankAccount})
	}
	return lines, nil
}

type config struct {
	settings  Settings
	tax       []TaxBracket
	insurance []InsuranceBracket
}

func (s *Service) loadConfig(ctx context.Context) (config, error) {
	settings, err := s.Settings(ctx)
	if err != nil {
		return config{}, err
	}
	tax, err := s.Store.TaxBrackets(ctx)
	if err != nil {
		return config{}, err
	}
	if err := NormalizeTaxBrackets(tax); err != nil {
		return config{}, err
	}
	insurance, err := s.Store.InsuranceBrackets(ctx)
	if err != nil {
		return config{}, err
	}
	if err := NormalizeInsuranceBrackets(insurance); err != nil {
		return config{}, err
	}
	return config{settings: settings, tax: tax, insurance: insurance}, nil
}

// Calculate computes every payslip of a draft run, including the already
// calculated payslips of a reopened run. A payslip whose inputs cannot be
// fetched is marked error and the run ends partial; calculating a partial run
// again retries only those payslips.
func (s *Service) Calculate(ctx context.Context, runID, actorID string) (Run, jobs.Run, error) {
	run, err := s.Store.GetRun(ctx, runID)
	if err != nil {
		return Run{}, jobs.Run{}, err
	}
	if err := runStatus.Transition(run.Status, RunCalculated); err != nil {
		return Run{}, jobs.Run{}, err
	}
	span, err := calendar.ParseMonth(run.Period)
	if err != nil {
		return Run{}, jobs.Run{}, err
	}
	cfg, err := s.loadConfig(ctx)
	if err != nil {
		return Run{}, jobs.Run{}, err
	}
	slips, err := s.Store.ListPayslips(ctx, runID)
	if err != nil {
		return Run{}, jobs.Run{}, err
	}

	recompute := run.Status == RunDraft
	job, err := s.Jobs.Run(ctx, jobs.JobPayrollCalculation, run.Period, actorID, func(ctx context.Context, batch *jobs.Batch) error {
		for i := range slips {
			if slips[i].Status == PayslipCalculated && !recompute {
				batch.Skip()
				continue
			}
			if err := s.calculateSlip(ctx, &slips[i], span, cfg); err != nil {
				batch.Fail(slips[i].EmployeeID, err)
				continue
			}
			batch.Succeed()
		}
		return nil
	})
	if err != nil {
		return Run{}, job, err
	}

	target := RunCalculated
	for _, slip := range slips {
		if slip.Status != PayslipCalculated {
			target = RunPartial
			break
		}
	}
	run.LastJobRunID = job.ID
	updated, err := s.transition(ctx, run, target, actorID, nil)
	return updated, job, err
}

func (s *Service) calculateSlip(ctx context.Context, slip *Payslip, span calendar.Range, cfg config) error {
	now := s.now().UTC()
	in, inputErr := s.gatherInput(ctx, slip.EmployeeID, span, cfg)
	if inputErr != nil {
		if err := payslipStatus.Transition(slip.Status, PayslipError); err != nil {
			return err
		}
		failed := *slip
		failed.Status = PayslipError
		failed.ErrorReason = inputErr.Error()
		failed.CalculatedAt = &now
		if err := s.Store.SavePayslip(ctx, failed); err != nil {
			return err
		}
		*slip = failed
		return inputErr
	}

	if err := payslipStatus.Transition(slip.Status, PayslipCalculated); err != nil {
		return err
	}
	computed := ComputePayslip(in)
	computed.ID, computed.RunID = slip.ID, slip.RunID
	computed.CalculatedAt = &now
	if err := s.Store.SavePayslip(ctx, computed); err != nil {
		return err
	}
	*slip = computed
	if computed.MinimumWageAlert {
		zap.L().Warn("net salary below minimum wage",
			zap.String("runId", slip.RunID),
			zap.String("employeeId", slip.EmployeeID),
			zap.String("netSalary", computed.NetSalary.String()),
		)
	}
	return nil
}

// gatherInput fetches the time and leave inputs of one employee concurrently.
func (s *Service) gatherInput(ctx context.Context, employeeID string, span calendar.Range, cfg config) (Input, error) {
	emp, err := s.Sources.Employees.GetEmployee(ctx, employeeID)
	if err != nil {
		return Input{}, err
	}
	adjustments, err := s.Store.ListAdjustments(ctx, employeeID, span.Start.Format(calendar.MonthLayout))
	if err != nil {
		return Input{}, err
	}
	in := Input{
		Employee:          emp,
		Period:            span,
		Settings:          cfg.settings,
		TaxBrackets:       cfg.tax,
		InsuranceBrackets: cfg.insurance,
		Adjustments:       adjustments,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		impact, err := s.Sources.Time.Impact(gctx, employeeID, span.Start, span.End)
		if err != nil {
			return apperr.UpstreamUnavailable("time management", err)
		}
		in.Time = impact
		return nil
	})
	g.Go(func() error {
		impact, err := s.leaveImpact(gctx, employeeID, span)
		if err != nil {
			return apperr.UpstreamUnavailable("leave ledger", err)
		}
		in.Leave = impact
		return nil
	})
	if err := g.Wait(); err != nil {
		return Input{}, err
	}
	return in, nil
}

func (s *Service) leaveImpact(ctx context.Context, employeeID string, span calendar.Range) (LeaveImpact, error) {
	unpaid, err := s.Sources.Leave.UnpaidDays(ctx, employeeID, span)
	if err != nil {
		return LeaveImpact{}, err
	}
	txs, err := s.Sources.Ledger.Transactions(ctx, ledger.Filter{
		EmployeeID: employeeID,
		Types:      []ledger.TransactionType{ledger.TypeEncashment},
		From:       span.Start,
		To:         span.End.AddDate(0, 0, 1),
		Limit:      encashmentScanLimit,
	})
	if err != nil {
		return LeaveImpact{}, err
	}
	encashed := decimal.Zero
	for _, tx := range txs {
		encashed = encashed.Sub(tx.Amount)
	}
	return LeaveImpact{UnpaidDays: unpaid, EncashedDays: encashed}, nil
}

// Submit opens an approval workflow for a calculated run. Every submission
// gets its own workflow instance so a reopened run can be submitted again.
func (s *Service) Submit(ctx context.Context, runID string, actor workflow.Actor) (Run, error) {
	run, err := s.Store.GetRun(ctx, runID)
	if err != nil {
		return Run{}, err
	}
	if err := runStatus.Transition(run.Status, RunPendingApproval); err != nil {
		return Run{}, err
	}
	run.Submissions++
	inst, err := s.Workflow.Start(ctx, workflow.EntityPayrollRun, approvalKey(run), workflow.AnyPosition, actor)
	if errors.Is(err, apperr.Conflict("workflow_already_started", "")) {
		// an earlier submit started the instance but did not record it
		inst, err = s.Workflow.Get(ctx, workflow.EntityPayrollRun, approvalKey(run))
	}
	if err != nil {
		return Run{}, err
	}
	run.WorkflowInstanceID = inst.ID
	run.ApprovalHistory = inst.History
	return s.transition(ctx, run, RunPendingApproval, actor.ID, nil)
}

// Decide passes an approval action to the run's workflow. The run follows
// the workflow once it reaches a terminal state.
func (s *Service) Decide(ctx context.Context, runID string, cmd workflow.Command) (Run, workflow.Instance, error) {
	run, err := s.Store.GetRun(ctx, runID)
	if err != nil {
		return Run{}, workflow.Instance{}, err
	}
	if run.Status != RunPendingApproval {
		return Run{}, workflow.Instance{}, apperr.Conflict("run_not_pending_approval", fmt.Sprintf("payroll run is %s", run.Status)).
			WithDetail("status", string(run.Status))
	}
	inst, err := s.Workflow.Advance(ctx, workflow.EntityPayrollRun, approvalKey(run), cmd)
	if errors.Is(err, apperr.Conflict("workflow_closed", "")) {
		inst, err = s.Workflow.Get(ctx, workflow.EntityPayrollRun, approvalKey(run))
	}
	if err != nil {
		return Run{}, workflow.Instance{}, err
	}
	run.ApprovalHistory = inst.History

	switch inst.Status {
	case workflow.StatusApproved:
		run, err = s.transition(ctx, run, RunApproved, cmd.Actor.ID, nil)
	case workflow.StatusRejected:
		run, err = s.transition(ctx, run, RunRejected, cmd.Actor.ID, nil)
	}
	if err != nil {
		return Run{}, workflow.Instance{}, err
	}
	return run, inst, nil
}

// Finalize pays an approved run: its payslips become paid and the total net
// disbursement is fixed.
func (s *Service) Finalize(ctx context.Context, runID, actorID string) (Run, error) {
	run, err := s.Store.GetRun(ctx, runID)
	if err != nil {
		return Run{}, err
	}
	if err := runStatus.Transition(run.Status, RunPaid); err != nil {
		return Run{}, err
	}
	slips, err := s.Store.ListPayslips(ctx, runID)
	if err != nil {
		return Run{}, err
	}
	total := decimal.Zero
	for _, slip := range slips {
		if slip.Status == PayslipCalculated {
			total = total.Add(slip.NetSalary)
		}
	}
	now := s.now().UTC()
	run.TotalNetDisbursement = total
	run.FinalizedAt = &now
	return s.transition(ctx, run, RunPaid, actorID, &PayslipMove{From: PayslipCalculated, To: PayslipPaid})
}

// Reopen returns a rejected run to draft. Its payslips keep their calculated
// status until the next Calculate recomputes them.
func (s *Service) Reopen(ctx context.Context, runID, actorID string) (Run, error) {
	run, err := s.Store.GetRun(ctx, runID)
	if err != nil {
		return Run{}, err
	}
	run.WorkflowInstanceID = ""
	return s.transition(ctx, run, RunDraft, actorID, nil)
}

func (s *Service) transition(ctx context.Context, run Run, target RunStatus, actorID string, move *PayslipMove) (Run, error) {
	from := run.Status
	if err := runStatus.Transition(from, target); err != nil {
		return Run{}, err
	}
	run.Status = target
	run.UpdatedAt = s.now().UTC()
	ok, err := s.Store.UpdateRun(ctx, run, from, move)
	if err != nil {
		return Run{}, err
	}
	if !ok {
		return Run{}, apperr.Conflict("concurrent_modification", "payroll run changed concurrently, reload and retry")
	}
	audit.RecordOrWarn(ctx, s.Audit, audit.Entry{
		ActorID:    actorID,
		Action:     "payroll.run." + string(target),
		EntityType: "payroll_run",
		EntityID:   run.ID,
		Before:     map[string]RunStatus{"status": from},
		After:      run,
	})
	s.publish(ctx, run)
	return run, nil
}

func (s *Service) publish(ctx context.Context, run Run) {
	if err := s.Events.Publish(ctx, events.Event{
		Type:          events.PayrollRunTransition,
		AggregateType: "payroll_run",
		AggregateID:   run.ID,
		OccurredAt:    run.UpdatedAt,
		Payload:       run,
	}); err != nil {
		zap.L().Warn("publish payroll run event failed", zap.String("runId", run.ID), zap.Error(err))
	}
}

func approvalKey(run Run) string {
	if run.Submissions <= 1 {
		return run.ID
	}
	return fmt.Sprintf("%s/%d", run.ID, run.Submissions)
}
