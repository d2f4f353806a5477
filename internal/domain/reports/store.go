package reports

import (
	"context"
	"time"

	"hrpay/internal/domain/leave"
	"hrpay/internal/domain/payroll"
	"hrpay/internal/domain/workflow"
	"hrpay/internal/platform/jobs"
	"hrpay/internal/platform/querier"
)

type Store struct {
	DB querier.Querier
}

func NewStore(db querier.Querier) *Store {
	return &Store{DB: db}
}

func (s *Store) EmployeeSummary(ctx context.Context, employeeID string) (EmployeeDashboard, error) {
	out := EmployeeDashboard{EmployeeID: employeeID}
	if err := s.DB.QueryRow(ctx,
		"SELECT COALESCE(SUM(available_balance), 0) FROM leave_balances WHERE employee_id = $1",
		employeeID).Scan(&out.AvailableDays); err != nil {
		return EmployeeDashboard{}, err
	}
	if err := s.DB.QueryRow(ctx,
		"SELECT COUNT(1) FROM leave_requests WHERE employee_id = $1 AND status = $2",
		employeeID, leave.StatusPending).Scan(&out.PendingRequests); err != nil {
		return EmployeeDashboard{}, err
	}
	if err := s.DB.QueryRow(ctx, `
    SELECT COUNT(1) FROM payslips p JOIN payroll_runs r ON r.id = p.run_id
    WHERE p.employee_id = $1 AND r.status = $2
  `, employeeID, payroll.RunPaid).Scan(&out.Payslips); err != nil {
		return EmployeeDashboard{}, err
	}
	return out, nil
}

func (s *Store) PendingLeave(ctx context.Context) (int, error) {
	var n int
	err := s.DB.QueryRow(ctx, "SELECT COUNT(1) FROM leave_requests WHERE status = $1", leave.StatusPending).Scan(&n)
	return n, err
}

// PendingApprovals counts open workflow instances whose current step sits
// with role.
func (s *Store) PendingApprovals(ctx context.Context, role string) (int, error) {
	var n int
	err := s.DB.QueryRow(ctx,
		"SELECT COUNT(1) FROM workflow_instances WHERE status = $1 AND current_role = $2",
		workflow.StatusPending, role).Scan(&n)
	return n, err
}

func (s *Store) LeaveLiability(ctx context.Context) ([]LiabilityLine, error) {
	rows, err := s.DB.Query(ctx, `
    SELECT leave_type_id, COUNT(DISTINCT employee_id), COALESCE(SUM(available_balance), 0), COALESCE(SUM(reserved_days), 0)
    FROM leave_balances
    GROUP BY leave_type_id
    ORDER BY leave_type_id
  `)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []LiabilityLine
	for rows.Next() {
		var line LiabilityLine
		if err := rows.Scan(&line.LeaveTypeID, &line.Employees, &line.AvailableDays, &line.ReservedDays); err != nil {
			return nil, err
		}
		out = append(out, line)
	}
	return out, rows.Err()
}

func (s *Store) RecentRuns(ctx context.Context, limit int) ([]RunTotals, error) {
	rows, err := s.DB.Query(ctx, `
    SELECT r.id, r.period, r.status, r.employee_count, r.total_net_disbursement,
      COUNT(p.id) FILTER (WHERE p.minimum_wage_alert)
    FROM payroll_runs r
    LEFT JOIN payslips p ON p.run_id = r.id
    GROUP BY r.id
    ORDER BY r.period DESC
    LIMIT $1
  `, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []RunTotals
	for rows.Next() {
		var run RunTotals
		if err := rows.Scan(&run.RunID, &run.Period, &run.Status, &run.EmployeeCount, &run.TotalNet, &run.WageAlerts); err != nil {
			return nil, err
		}
		out = append(out, run)
	}
	return out, rows.Err()
}

func (s *Store) FailedJobRuns(ctx context.Context, since time.Time) (int, error) {
	var n int
	err := s.DB.QueryRow(ctx,
		"SELECT COUNT(1) FROM job_runs WHERE status IN ($1, $2) AND started_at >= $3",
		jobs.StatusFailed, jobs.StatusPartial, since).Scan(&n)
	return n, err
}
