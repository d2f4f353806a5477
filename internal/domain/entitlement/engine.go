package entitlement

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"hrpay/internal/domain/apperr"
	"hrpay/internal/domain/calendar"
	"hrpay/internal/domain/directory"
	"hrpay/internal/domain/ledger"
	"hrpay/internal/platform/events"
	"hrpay/internal/platform/jobs"
)

type Engine struct {
	Store     Store
	Employees EmployeeSource
	Ledger    Ledger
	Jobs      *jobs.Runner
	Events    events.Publisher
	now       func() time.Time
}

func NewEngine(store Store, employees EmployeeSource, ledgerSvc Ledger, runner *jobs.Runner, publisher events.Publisher) *Engine {
	if publisher == nil {
		publisher = events.Noop{}
	}
	return &Engine{Store: store, Employees: employees, Ledger: ledgerSvc, Jobs: runner, Events: publisher, now: time.Now}
}

type outcome int

const (
	outcomeSkipped outcome = iota
	outcomeApplied
)

func (e *Engine) CreateRule(ctx context.Context, rule Rule) (Rule, error) {
	if err := rule.Normalize(); err != nil {
		return Rule{}, err
	}
	rule.ID = uuid.NewString()
	rule.CreatedAt = e.now().UTC()
	if err := e.Store.CreateRule(ctx, rule); err != nil {
		return Rule{}, err
	}
	return rule, nil
}

func (e *Engine) ListRules(ctx context.Context) ([]Rule, error) {
	return e.Store.ListRules(ctx)
}

func (e *Engine) GetRule(ctx context.Context, id string) (Rule, error) {
	return e.Store.GetRule(ctx, id)
}

// RuleFor returns the first rule for leaveTypeID that the employment type is
// eligible for.
func (e *Engine) RuleFor(ctx context.Context, employmentType, leaveTypeID string) (Rule, error) {
	rules, err := e.Store.ListRules(ctx)
	if err != nil {
		return Rule{}, err
	}
	for _, rule := range rules {
		if rule.LeaveTypeID == leaveTypeID && rule.Matches(employmentType) {
			return rule, nil
		}
	}
	return Rule{}, apperr.NotFound("no_entitlement_rule", fmt.Sprintf("no entitlement rule for %s employees and leave type %s", employmentType, leaveTypeID))
}

// RunAccrual runs one of the entitlement jobs over every employee active in
// period. period is YYYY-MM for accrual and carry-forward expiry, YYYY for
// year end.
func (e *Engine) RunAccrual(ctx context.Context, jobType, period, actorID string) (jobs.Run, error) {
	var fn jobs.JobFunc
	switch jobType {
	case jobs.JobLeaveAccrual:
		month, err := calendar.ParseMonth(period)
		if err != nil {
			return jobs.Run{}, err
		}
		fn = func(ctx context.Context, batch *jobs.Batch) error {
			return e.runMonthlyAccrual(ctx, batch, month, period, actorID)
		}
	case jobs.JobYearEnd:
		year, err := calendar.ParseYear(period)
		if err != nil {
			return jobs.Run{}, err
		}
		fn = func(ctx context.Context, batch *jobs.Batch) error {
			return e.runYearEnd(ctx, batch, year, actorID)
		}
	case jobs.JobCarryForwardExpiry:
		month, err := calendar.ParseMonth(period)
		if err != nil {
			return jobs.Run{}, err
		}
		fn = func(ctx context.Context, batch *jobs.Batch) error {
			return e.runCarryForwardExpiry(ctx, batch, month, actorID)
		}
	default:
		return jobs.Run{}, apperr.Validation("invalid_job_type", fmt.Sprintf("unknown job type %q", jobType))
	}

	run, err := e.Jobs.Run(ctx, jobType, period, actorID, fn)
	if pubErr := e.Events.Publish(ctx, events.Event{
		Type:          events.AccrualJobCompleted,
		AggregateType: "job_run",
		AggregateID:   run.ID,
		OccurredAt:    e.now().UTC(),
		Payload:       run,
	}); pubErr != nil {
		zap.L().Warn("publish job event failed", zap.String("runId", run.ID), zap.Error(pubErr))
	}
	return run, err
}

// forEachEmployee applies fn once per leave type for each employee, using
// the first matching rule in creation order as RuleFor does. An employee
// with no matching rule is a failed item.
func (e *Engine) forEachEmployee(ctx context.Context, batch *jobs.Batch, span calendar.Range, fn func(directory.Employee, Rule) (outcome, error)) error {
	rules, err := e.Store.ListRules(ctx)
	if err != nil {
		return fmt.Errorf("list rules: %w", err)
	}
	employees, err := e.Employees.ListActiveEmployees(ctx, span.Start, span.End)
	if err != nil {
		return apperr.UpstreamUnavailable("employee directory", err)
	}

	for _, emp := range employees {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		matched := governingRules(rules, emp.EmploymentType)
		if len(matched) == 0 {
			batch.Fail(emp.ID, apperr.Validation("no_entitlement_rule", fmt.Sprintf("no entitlement rule for employment type %q", emp.EmploymentType)))
			continue
		}

		applied := false
		var itemErr error
		for _, rule := range matched {
			res, err := fn(emp, rule)
			if err != nil {
				itemErr = fmt.Errorf("rule %s: %w", rule.ID, err)
				break
			}
			applied = applied || res == outcomeApplied
		}
		switch {
		case itemErr != nil:
			batch.Fail(emp.ID, itemErr)
		case applied:
			batch.Succeed()
		default:
			batch.Skip()
		}
	}
	return nil
}

func (e *Engine) runMonthlyAccrual(ctx context.Context, batch *jobs.Batch, month calendar.Range, period, actorID string) error {
	return e.forEachEmployee(ctx, batch, month, func(emp directory.Employee, rule Rule) (outcome, error) {
		return e.accrue(ctx, emp, rule, month, period, actorID)
	})
}

// governingRules keeps the first rule per leave type that matches
// employmentType.
func governingRules(rules []Rule, employmentType string) []Rule {
	var matched []Rule
	seen := make(map[string]bool)
	for _, rule := range rules {
		if seen[rule.LeaveTypeID] || !rule.Matches(employmentType) {
			continue
		}
		seen[rule.LeaveTypeID] = true
		matched = append(matched, rule)
	}
	return matched
}

func (e *Engine) accrue(ctx context.Context, emp directory.Employee, rule Rule, month calendar.Range, period, actorID string) (outcome, error) {
	if !rule.AccrualFrequency.accruesIn(month.Start.Month()) {
		return outcomeSkipped, nil
	}
	perYear, spanMonths := rule.AccrualFrequency.periods()
	span := calendar.Range{Start: month.Start, End: month.Start.AddDate(0, spanMonths, -1)}

	employed, ok := span.Intersect(employmentRange(emp, span))
	if !ok {
		return outcomeSkipped, nil
	}
	if emp.TenureMonths(span.End) < rule.MinTenureMonths {
		return outcomeSkipped, nil
	}

	txID := fmt.Sprintf("accrual:%s:%s:%s", rule.ID, emp.ID, period)
	if _, found, err := e.Ledger.Find(ctx, txID); err != nil {
		return outcomeSkipped, err
	} else if found {
		return outcomeApplied, nil
	}

	amount := rule.DefaultEntitlementDays.Div(decimal.NewFromInt(perYear))
	if rule.IsProrated && employed.Days() < span.Days() {
		amount = amount.Mul(decimal.NewFromInt(int64(employed.Days()))).Div(decimal.NewFromInt(int64(span.Days())))
	}
	amount = amount.Round(2)

	bal, err := e.Ledger.ConfigureCaps(ctx, emp.ID, rule.LeaveTypeID, rule.MaxBalanceCap, rule.carryForwardCap())
	if err != nil {
		return outcomeSkipped, err
	}
	if room, capped := bal.Headroom(); capped && amount.GreaterThan(room) {
		amount = room
	}
	if !amount.IsPositive() {
		return outcomeSkipped, nil
	}

	_, err = e.Ledger.Apply(ctx, ledger.Entry{
		ID:          txID,
		EmployeeID:  emp.ID,
		LeaveTypeID: rule.LeaveTypeID,
		Amount:      amount,
		Type:        ledger.TypeAccrual,
		PerformedBy: actorID,
		Reason:      fmt.Sprintf("%s accrual for %s (%s)", rule.AccrualFrequency, period, rule.Name),
	})
	if err != nil {
		return outcomeSkipped, err
	}
	return outcomeApplied, nil
}

func (e *Engine) runYearEnd(ctx context.Context, batch *jobs.Batch, year calendar.Range, actorID string) error {
	return e.forEachEmployee(ctx, batch, year, func(emp directory.Employee, rule Rule) (outcome, error) {
		return e.closeYear(ctx, emp, rule, year.Start.Year(), actorID)
	})
}

// closeYear carries the unused balance forward under the rule's policy. The
// forfeited remainder is ledgered as an expiry and the carried amount is
// stored as a lot whose expiry is evaluated by the carry-forward job.
func (e *Engine) closeYear(ctx context.Context, emp directory.Employee, rule Rule, year int, actorID string) (outcome, error) {
	txID := fmt.Sprintf("year_end:%s:%s:%d", rule.ID, emp.ID, year)
	if _, found, err := e.Ledger.Find(ctx, txID); err != nil {
		return outcomeSkipped, err
	} else if found {
		return outcomeApplied, nil
	}

	bal, err := e.Ledger.Balance(ctx, emp.ID, rule.LeaveTypeID)
	if err != nil {
		return outcomeSkipped, err
	}
	unused := bal.AvailableBalance
	carry := rule.CarryAmount(unused)
	forfeited := unused.Sub(carry)

	if months := rule.carryExpiryMonths(); carry.IsPositive() && months > 0 {
		lot := Lot{
			ID:          uuid.NewString(),
			EmployeeID:  emp.ID,
			LeaveTypeID: rule.LeaveTypeID,
			RuleID:      rule.ID,
			Year:        year,
			CarriedDays: carry,
			ExpiresOn:   time.Date(year+1, time.January, 1, 0, 0, 0, 0, time.UTC).AddDate(0, months, 0),
		}
		if _, err := e.Store.CreateLot(ctx, lot); err != nil {
			return outcomeSkipped, fmt.Errorf("record carry-forward lot: %w", err)
		}
	}

	if !forfeited.IsPositive() {
		return outcomeApplied, nil
	}
	_, err = e.Ledger.Apply(ctx, ledger.Entry{
		ID:          txID,
		EmployeeID:  emp.ID,
		LeaveTypeID: rule.LeaveTypeID,
		Amount:      forfeited.Neg(),
		Type:        ledger.TypeExpiry,
		PerformedBy: actorID,
		Reason:      fmt.Sprintf("year end %d: %s carried, %s forfeited (%s policy)", year, carry.String(), forfeited.String(), rule.CarryForwardPolicy),
	})
	if err != nil {
		return outcomeSkipped, err
	}
	return outcomeApplied, nil
}

// runCarryForwardExpiry expires what is left of each lot due by the end of
// month. Takes since January 1 are assumed to draw carried days first.
func (e *Engine) runCarryForwardExpiry(ctx context.Context, batch *jobs.Batch, month calendar.Range, actorID string) error {
	lots, err := e.Store.DueLots(ctx, month.End)
	if err != nil {
		return fmt.Errorf("list due lots: %w", err)
	}
	for _, lot := range lots {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		expired, err := e.expireLot(ctx, lot, actorID)
		if err != nil {
			batch.Fail(lot.EmployeeID+":"+lot.LeaveTypeID, err)
			continue
		}
		if expired.IsPositive() {
			batch.Succeed()
		} else {
			batch.Skip()
		}
	}
	return nil
}

func (e *Engine) expireLot(ctx context.Context, lot Lot, actorID string) (decimal.Decimal, error) {
	txs, err := e.Ledger.Transactions(ctx, ledger.Filter{
		EmployeeID:  lot.EmployeeID,
		LeaveTypeID: lot.LeaveTypeID,
		Types:       []ledger.TransactionType{ledger.TypeTake, ledger.TypeEncashment},
		From:        time.Date(lot.Year+1, time.January, 1, 0, 0, 0, 0, time.UTC),
		To:          lot.ExpiresOn,
		Limit:       10000,
	})
	if err != nil {
		return decimal.Zero, err
	}
	consumed := decimal.Zero
	for _, tx := range txs {
		consumed = consumed.Sub(tx.Amount)
	}
	remaining := lot.CarriedDays.Sub(consumed)

	bal, err := e.Ledger.Balance(ctx, lot.EmployeeID, lot.LeaveTypeID)
	if err != nil {
		return decimal.Zero, err
	}
	remaining = decimal.Min(remaining, bal.AvailableBalance)

	if remaining.IsPositive() {
		_, err = e.Ledger.Apply(ctx, ledger.Entry{
			ID:          "cf_expiry:" + lot.ID,
			EmployeeID:  lot.EmployeeID,
			LeaveTypeID: lot.LeaveTypeID,
			Amount:      remaining.Neg(),
			Type:        ledger.TypeExpiry,
			PerformedBy: actorID,
			Reason:      fmt.Sprintf("carried days from %d expired on %s", lot.Year, lot.ExpiresOn.Format(calendar.DateLayout)),
		})
		if err != nil {
			return decimal.Zero, err
		}
	} else {
		remaining = decimal.Zero
	}
	if err := e.Store.MarkLotProcessed(ctx, lot.ID, remaining, e.now().UTC()); err != nil {
		return decimal.Zero, err
	}
	return remaining, nil
}

func employmentRange(emp directory.Employee, span calendar.Range) calendar.Range {
	r := calendar.Range{Start: calendar.Day(emp.HireDate), End: span.End}
	if emp.TerminationDate != nil {
		r.End = calendar.Day(*emp.TerminationDate)
	}
	return r
}
