package leave

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"hrpay/internal/domain/apperr"
	"hrpay/internal/domain/audit"
	"hrpay/internal/domain/calendar"
	"hrpay/internal/domain/directory"
	"hrpay/internal/domain/entitlement"
	"hrpay/internal/domain/ledger"
	"hrpay/internal/domain/workflow"
	"hrpay/internal/platform/events"
)

type Ledger interface {
	Apply(ctx context.Context, entry ledger.Entry) (ledger.Result, error)
	ApplyBatch(ctx context.Context, entries []ledger.Entry) ([]ledger.Result, error)
}

type Rules interface {
	RuleFor(ctx context.Context, employmentType, leaveTypeID string) (entitlement.Rule, error)
}

type Employees interface {
	GetEmployee(ctx context.Context, id string) (directory.Employee, error)
}

type Approvals interface {
	Start(ctx context.Context, entityType workflow.EntityType, entityID, positionCode string, actor workflow.Actor) (workflow.Instance, error)
	Advance(ctx context.Context, entityType workflow.EntityType, entityID string, cmd workflow.Command) (workflow.Instance, error)
	Get(ctx context.Context, entityType workflow.EntityType, entityID string) (workflow.Instance, error)
}

type Service struct {
	Store     Store
	Ledger    Ledger
	Rules     Rules
	Employees Employees
	Workflow  Approvals
	Audit     audit.Recorder
	Events    events.Publisher
	now       func() time.Time
}

func NewService(store Store, ledgerSvc Ledger, rules Rules, employees Employees, approvals Approvals, recorder audit.Recorder, publisher events.Publisher) *Service {
	if publisher == nil {
		publisher = events.Noop{}
	}
	return &Service{
		Store:     store,
		Ledger:    ledgerSvc,
		Rules:     rules,
		Employees: employees,
		Workflow:  approvals,
		Audit:     recorder,
		Events:    publisher,
		now:       time.Now,
	}
}

func (s *Service) ListTypes(ctx context.Context) ([]LeaveType, error) {
	return s.Store.ListTypes(ctx)
}

func (s *Service) CreateType(ctx context.Context, payload LeaveType, actorID string) (LeaveType, error) {
	payload.ID = uuid.NewString()
	payload.Code = strings.ToUpper(strings.TrimSpace(payload.Code))
	payload.CreatedAt = s.now().UTC()
	if err := s.Store.CreateType(ctx, payload); err != nil {
		return LeaveType{}, err
	}
	audit.RecordOrWarn(ctx, s.Audit, audit.Entry{ActorID: actorID, Action: "leave.type.created", EntityType: "leave_type", EntityID: payload.ID, After: payload})
	return payload, nil
}

func (s *Service) ListHolidays(ctx context.Context, from, to time.Time) ([]Holiday, error) {
	return s.Store.ListHolidays(ctx, from, to)
}

func (s *Service) CreateHoliday(ctx context.Context, holiday Holiday, actorID string) (Holiday, error) {
	holiday.ID = uuid.NewString()
	holiday.Date = calendar.Day(holiday.Date)
	if err := s.Store.CreateHoliday(ctx, holiday); err != nil {
		return Holiday{}, err
	}
	audit.RecordOrWarn(ctx, s.Audit, audit.Entry{ActorID: actorID, Action: "leave.holiday.created", EntityType: "holiday", EntityID: holiday.ID, After: holiday})
	return holiday, nil
}

func (s *Service) Get(ctx context.Context, id string) (Request, error) {
	return s.Store.GetRequest(ctx, id)
}

func (s *Service) List(ctx context.Context, filter Filter) ([]Request, int, error) {
	return s.Store.ListRequests(ctx, filter)
}

// Submit reserves the request's working days, opens its approval and stores
// it as pending. A reservation is released again if a later step fails.
func (s *Service) Submit(ctx context.Context, in SubmitInput, actor workflow.Actor) (Request, error) {
	if strings.TrimSpace(in.EmployeeID) == "" || strings.TrimSpace(in.LeaveTypeID) == "" {
		return Request{}, apperr.Validation("invalid_request", "employeeId and leaveTypeId are required")
	}
	in.StartDate, in.EndDate = calendar.Day(in.StartDate), calendar.Day(in.EndDate)
	requested, err := CalculateRequestDays(in.StartDate, in.EndDate, in.StartHalf, in.EndHalf)
	if err != nil {
		return Request{}, apperr.Validation("invalid_dates", err.Error())
	}

	emp, err := s.Employees.GetEmployee(ctx, in.EmployeeID)
	if err != nil {
		return Request{}, err
	}
	if !emp.EmployedOn(in.StartDate) || !emp.EmployedOn(in.EndDate) {
		return Request{}, apperr.Validation("not_employed", "the employee is not on staff for the whole request")
	}
	leaveType, err := s.Store.GetType(ctx, in.LeaveTypeID)
	if err != nil {
		return Request{}, err
	}
	holidays, err := s.Store.HolidayDates(ctx, in.StartDate, in.EndDate)
	if err != nil {
		return Request{}, err
	}
	net, err := NetWorkingDays(in.StartDate, in.EndDate, in.StartHalf, in.EndHalf, holidays)
	if err != nil {
		return Request{}, apperr.Validation("invalid_dates", err.Error())
	}
	if !net.IsPositive() {
		return Request{}, apperr.Validation("no_working_days", "the request covers no working days")
	}

	overlaps, err := s.Store.CountOverlapping(ctx, in.EmployeeID, in.StartDate, in.EndDate)
	if err != nil {
		return Request{}, err
	}
	if overlaps > 0 {
		return Request{}, apperr.Conflict("overlapping_request", "another pending or approved request covers these dates")
	}

	req := Request{
		ID:            uuid.NewString(),
		EmployeeID:    in.EmployeeID,
		LeaveTypeID:   in.LeaveTypeID,
		StartDate:     in.StartDate,
		EndDate:       in.EndDate,
		StartHalf:     in.StartHalf,
		EndHalf:       in.EndHalf,
		RequestedDays: requested,
		NetDays:       net,
		Paid:          leaveType.IsPaid,
		Reason:        strings.TrimSpace(in.Reason),
		Status:        StatusPending,
		CreatedAt:     s.now().UTC(),
	}
	if req.Paid {
		rule, err := s.Rules.RuleFor(ctx, emp.EmploymentType, req.LeaveTypeID)
		if apperr.IsNotFound(err) {
			return Request{}, apperr.Validation("no_entitlement_rule", fmt.Sprintf("no entitlement rule covers %s leave for this employee", leaveType.Code))
		}
		if err != nil {
			return Request{}, err
		}
		req.RuleID = rule.ID
		if _, err := s.Ledger.Apply(ctx, s.entry(req, "reserve", ledger.TypeReserveRelease, net.Neg(), actor.ID)); err != nil {
			return Request{}, err
		}
	}

	inst, err := s.Workflow.Start(ctx, workflow.EntityLeaveRequest, req.ID, emp.PositionCode, actor)
	if err != nil {
		s.releaseAfterFailure(ctx, req, actor.ID)
		return Request{}, err
	}
	req.WorkflowInstanceID = inst.ID
	if err := s.Store.CreateRequest(ctx, req); err != nil {
		s.releaseAfterFailure(ctx, req, actor.ID)
		return Request{}, err
	}

	audit.RecordOrWarn(ctx, s.Audit, audit.Entry{ActorID: actor.ID, Action: "leave.request.submitted", EntityType: "leave_request", EntityID: req.ID, After: req})
	return req, nil
}

// Decide passes an approval action to the request's workflow and settles the
// ledger once the workflow reaches a terminal state.
func (s *Service) Decide(ctx context.Context, id string, cmd workflow.Command) (Request, workflow.Instance, error) {
	req, err := s.Store.GetRequest(ctx, id)
	if err != nil {
		return Request{}, workflow.Instance{}, err
	}
	if req.Status != StatusPending {
		return Request{}, workflow.Instance{}, apperr.Conflict("request_not_pending", fmt.Sprintf("leave request is %s", req.Status)).
			WithDetail("status", string(req.Status))
	}

	inst, err := s.Workflow.Advance(ctx, workflow.EntityLeaveRequest, id, cmd)
	if errors.Is(err, apperr.Conflict("workflow_closed", "")) {
		// the workflow finished but settling the request did not; finish it now
		inst, err = s.Workflow.Get(ctx, workflow.EntityLeaveRequest, id)
	}
	if err != nil {
		return Request{}, workflow.Instance{}, err
	}

	settled, err := s.settle(ctx, req, inst, cmd.Actor.ID)
	if err != nil {
		return Request{}, workflow.Instance{}, err
	}
	return settled, inst, nil
}

func (s *Service) settle(ctx context.Context, req Request, inst workflow.Instance, actorID string) (Request, error) {
	var target Status
	switch inst.Status {
	case workflow.StatusApproved:
		target = StatusApproved
	case workflow.StatusRejected:
		target = StatusRejected
	default:
		return req, nil
	}
	if err := requestStatus.Transition(req.Status, target); err != nil {
		return Request{}, err
	}

	if req.Paid {
		release := s.entry(req, "release", ledger.TypeReserveRelease, req.NetDays, actorID)
		var err error
		if target == StatusApproved {
			// one unit so the days move from reserved to taken without a gap
			_, err = s.Ledger.ApplyBatch(ctx, []ledger.Entry{release, s.entry(req, "take", ledger.TypeTake, req.NetDays.Neg(), actorID)})
		} else {
			_, err = s.Ledger.Apply(ctx, release)
		}
		if err != nil {
			return Request{}, err
		}
	}
	return s.transition(ctx, req, target, actorID)
}

// Cancel withdraws a pending request and releases its reservation.
func (s *Service) Cancel(ctx context.Context, id, actorID string) (Request, error) {
	req, err := s.Store.GetRequest(ctx, id)
	if err != nil {
		return Request{}, err
	}
	if err := requestStatus.Transition(req.Status, StatusCancelled); err != nil {
		return Request{}, err
	}
	if req.Paid {
		if _, err := s.Ledger.Apply(ctx, s.entry(req, "release", ledger.TypeReserveRelease, req.NetDays, actorID)); err != nil {
			return Request{}, err
		}
	}
	return s.transition(ctx, req, StatusCancelled, actorID)
}

// Reverse gives back the days of an approved request with a retro credit.
func (s *Service) Reverse(ctx context.Context, id, actorID, reason string) (Request, error) {
	req, err := s.Store.GetRequest(ctx, id)
	if err != nil {
		return Request{}, err
	}
	if err := requestStatus.Transition(req.Status, StatusReversed); err != nil {
		return Request{}, err
	}
	if req.Paid {
		entry := s.entry(req, "retro", ledger.TypeRetro, req.NetDays, actorID)
		if strings.TrimSpace(reason) != "" {
			entry.Reason = reason
		}
		if _, err := s.Ledger.Apply(ctx, entry); err != nil {
			return Request{}, err
		}
	}
	return s.transition(ctx, req, StatusReversed, actorID)
}

// UnpaidDays sums the working days of approved unpaid leave inside period.
// Half days count only when the request starts or ends inside it.
func (s *Service) UnpaidDays(ctx context.Context, employeeID string, period calendar.Range) (decimal.Decimal, error) {
	requests, err := s.Store.ApprovedUnpaid(ctx, employeeID, period.Start, period.End)
	if err != nil {
		return decimal.Zero, err
	}
	holidays, err := s.Store.HolidayDates(ctx, period.Start, period.End)
	if err != nil {
		return decimal.Zero, err
	}
	total := decimal.Zero
	for _, req := range requests {
		span, ok := period.Intersect(calendar.Range{Start: req.StartDate, End: req.EndDate})
		if !ok {
			continue
		}
		startHalf := req.StartHalf && span.Start.Equal(req.StartDate)
		endHalf := req.EndHalf && span.End.Equal(req.EndDate)
		if span.Start.Equal(span.End) && startHalf && endHalf {
			startHalf, endHalf = false, false
		}
		days, err := NetWorkingDays(span.Start, span.End, startHalf, endHalf, holidays)
		if err != nil {
			return decimal.Zero, fmt.Errorf("leave request %s: %w", req.ID, err)
		}
		total = total.Add(days)
	}
	return total, nil
}

func (s *Service) transition(ctx context.Context, req Request, target Status, actorID string) (Request, error) {
	decidedAt := s.now().UTC()
	ok, err := s.Store.UpdateStatus(ctx, req.ID, req.Status, target, decidedAt)
	if err != nil {
		return Request{}, err
	}
	if !ok {
		return Request{}, apperr.Conflict("concurrent_modification", "leave request changed concurrently, reload and retry")
	}
	before := req.Status
	req.Status = target
	req.DecidedAt = &decidedAt

	audit.RecordOrWarn(ctx, s.Audit, audit.Entry{
		ActorID:    actorID,
		Action:     "leave.request." + string(target),
		EntityType: "leave_request",
		EntityID:   req.ID,
		Before:     map[string]Status{"status": before},
		After:      req,
	})
	if err := s.Events.Publish(ctx, events.Event{
		Type:          events.LeaveRequestDecided,
		AggregateType: "leave_request",
		AggregateID:   req.ID,
		OccurredAt:    decidedAt,
		Payload:       req,
	}); err != nil {
		zap.L().Warn("publish leave request event failed", zap.String("requestId", req.ID), zap.Error(err))
	}
	return req, nil
}

// entry builds the ledger entry for one step of a request. IDs are derived
// from the request so retries replay instead of double counting.
func (s *Service) entry(req Request, step string, typ ledger.TransactionType, amount decimal.Decimal, actorID string) ledger.Entry {
	return ledger.Entry{
		ID:          step + ":" + req.ID,
		EmployeeID:  req.EmployeeID,
		LeaveTypeID: req.LeaveTypeID,
		Amount:      amount,
		Type:        typ,
		RequestID:   req.ID,
		PerformedBy: actorID,
		Reason: fmt.Sprintf("%s leave %s to %s", step, req.StartDate.Format(calendar.DateLayout),
			req.EndDate.Format(calendar.DateLayout)),
	}
}

func (s *Service) releaseAfterFailure(ctx context.Context, req Request, actorID string) {
	if !req.Paid {
		return
	}
	if _, err := s.Ledger.Apply(ctx, s.entry(req, "release", ledger.TypeReserveRelease, req.NetDays, actorID)); err != nil {
		zap.L().Error("release reservation after failed submit",
			zap.String("requestId", req.ID),
			zap.String("employeeId", req.EmployeeID),
			zap.Error(err),
		)
	}
}
