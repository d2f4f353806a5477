// Package reports builds the read-only dashboards: what an employee has
// left to take, what waits on an approver, and what HR and finance carry.
package reports

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
)

type LiabilityLine struct {
	LeaveTypeID   string          `json:"leaveTypeId"`
	Employees     int             `json:"employees"`
	AvailableDays decimal.Decimal `json:"availableDays"`
	ReservedDays  decimal.Decimal `json:"reservedDays"`
}

type RunTotals struct {
	RunID         string          `json:"runId"`
	Period        string          `json:"period"`
	Status        string          `json:"status"`
	EmployeeCount int             `json:"employeeCount"`
	TotalNet      decimal.Decimal `json:"totalNetDisbursement"`
	WageAlerts    int             `json:"minimumWageAlerts"`
}

type EmployeeDashboard struct {
	EmployeeID      string          `json:"employeeId"`
	AvailableDays   decimal.Decimal `json:"availableDays"`
	PendingRequests int             `json:"pendingRequests"`
	Payslips        int             `json:"payslips"`
}

type ApproverDashboard struct {
	Role             string `json:"role"`
	PendingApprovals int    `json:"pendingApprovals"`
	PendingLeave     int    `json:"pendingLeave"`
}

type HRDashboard struct {
	PendingLeave int             `json:"pendingLeave"`
	Liability    []LiabilityLine `json:"leaveLiability"`
	RecentRuns   []RunTotals     `json:"recentPayrollRuns"`
	FailedJobs   int             `json:"failedJobsLast30Days"`
	GeneratedAt  time.Time       `json:"generatedAt"`
}

// Source answers the aggregate queries behind the dashboards.
type Source interface {
	EmployeeSummary(ctx context.Context, employeeID string) (EmployeeDashboard, error)
	PendingLeave(ctx context.Context) (int, error)
	PendingApprovals(ctx context.Context, role string) (int, error)
	LeaveLiability(ctx context.Context) ([]LiabilityLine, error)
	RecentRuns(ctx context.Context, limit int) ([]RunTotals, error)
	FailedJobRuns(ctx context.Context, since time.Time) (int, error)
}

type Service struct {
	Source Source
	now    func() time.Time
	flight singleflight.Group
}

func NewService(source Source) *Service {
	return &Service{Source: source, now: time.Now}
}

func (s *Service) Employee(ctx context.Context, employeeID string) (EmployeeDashboard, error) {
	return s.Source.EmployeeSummary(ctx, employeeID)
}

func (s *Service) Approver(ctx context.Context, role string) (ApproverDashboard, error) {
	out := ApproverDashboard{Role: role}
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		n, err := s.Source.PendingApprovals(gctx, role)
		out.PendingApprovals = n
		return err
	})
	g.Go(func() error {
		n, err := s.Source.PendingLeave(gctx)
		out.PendingLeave = n
		return err
	})
	if err := g.Wait(); err != nil {
		return ApproverDashboard{}, err
	}
	return out, nil
}

// HR collapses concurrent dashboard loads into one set of queries.
func (s *Service) HR(ctx context.Context) (HRDashboard, error) {
	v, err, _ := s.flight.Do("hr", func() (any, error) {
		return s.loadHR(ctx)
	})
	if err != nil {
		return HRDashboard{}, err
	}
	return v.(HRDashboard), nil
}

// loadHR runs the four aggregates concurrently; any failure fails the
// dashboard.
func (s *Service) loadHR(ctx context.Context) (HRDashboard, error) {
	now := s.now().UTC()
	out := HRDashboard{GeneratedAt: now}
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		n, err := s.Source.PendingLeave(gctx)
		out.PendingLeave = n
		return err
	})
	g.Go(func() error {
		lines, err := s.Source.LeaveLiability(gctx)
		out.Liability = lines
		return err
	})
	g.Go(func() error {
		runs, err := s.Source.RecentRuns(gctx, 6)
		out.RecentRuns = runs
		return err
	})
	g.Go(func() error {
		n, err := s.Source.FailedJobRuns(gctx, now.AddDate(0, 0, -30))
		out.FailedJobs = n
		return err
	})
	if err := g.Wait(); err != nil {
		return HRDashboard{}, err
	}
	if out.Liability == nil {
		out.Liability = []LiabilityLine{}
	}
	if out.RecentRuns == nil {
		out.RecentRuns = []RunTotals{}
	}
	return out, nil
}
