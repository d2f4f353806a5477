package leave

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

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

func (s *PgStore) ListTypes(ctx context.Context) ([]LeaveType, error) {
	rows, err := s.DB.Query(ctx, `
    SELECT id, name, code, is_paid, requires_doc, created_at
    FROM leave_types
    ORDER BY name
  `)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var types []LeaveType
	for rows.Next() {
		var t LeaveType
		if err := rows.Scan(&t.ID, &t.Name, &t.Code, &t.IsPaid, &t.RequiresDoc, &t.CreatedAt); err != nil {
			return nil, err
		}
		types = append(types, t)
	}
	return types, rows.Err()
}

func (s *PgStore) GetType(ctx context.Context, id string) (LeaveType, error) {
	var t LeaveType
	err := s.DB.QueryRow(ctx, `
    SELECT id, name, code, is_paid, requires_doc, created_at FROM leave_types WHERE id = $1
  `, id).Scan(&t.ID, &t.Name, &t.Code, &t.IsPaid, &t.RequiresDoc, &t.CreatedAt)
	if db.IsNoRows(err) {
		return LeaveType{}, apperr.NotFound("leave_type_not_found", "leave type not found")
	}
	return t, err
}

func (s *PgStore) CreateType(ctx context.Context, payload LeaveType) error {
	_, err := s.DB.Exec(ctx, `
    INSERT INTO leave_types (id, name, code, is_paid, requires_doc, created_at)
    VALUES ($1,$2,$3,$4,$5,$6)
  `, payload.ID, payload.Name, payload.Code, payload.IsPaid, payload.RequiresDoc, payload.CreatedAt)
	if db.IsUniqueViolation(err) {
		return apperr.Conflict("leave_type_exists", fmt.Sprintf("leave type %s already exists", payload.Code))
	}
	return err
}

func (s *PgStore) ListHolidays(ctx context.Context, from, to time.Time) ([]Holiday, error) {
	rows, err := s.DB.Query(ctx, `
    SELECT id, date, name
    FROM holidays
    WHERE date BETWEEN $1 AND $2
    ORDER BY date
  `, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Holiday
	for rows.Next() {
		var h Holiday
		if err := rows.Scan(&h.ID, &h.Date, &h.Name); err != nil {
			return nil, err
		}
		out = append(out, h)
	}
	return out, rows.Err()
}

func (s *PgStore) HolidayDates(ctx context.Context, from, to time.Time) ([]time.Time, error) {
	holidays, err := s.ListHolidays(ctx, from, to)
	if err != nil {
		return nil, err
	}
	dates := make([]time.Time, len(holidays))
	for i, h := range holidays {
		dates[i] = h.Date
	}
	return dates, nil
}

func (s *PgStore) CreateHoliday(ctx context.Context, holiday Holiday) error {
	_, err := s.DB.Exec(ctx, "INSERT INTO holidays (id, date, name) VALUES ($1,$2,$3)", holiday.ID, holiday.Date, holiday.Name)
	if db.IsUniqueViolation(err) {
		return apperr.Conflict("holiday_exists", "a holiday already exists on that date")
	}
	return err
}

const requestColumns = `r.id, r.employee_id, r.leave_type_id, COALESCE(r.rule_id, ''), r.start_date, r.end_date, r.start_half, r.end_half,
  r.requested_days, r.net_days, r.paid, r.reason, r.status, r.workflow_instance_id, r.created_at, r.decided_at`

func (s *PgStore) CreateRequest(ctx context.Context, req Request) error {
	_, err := s.DB.Exec(ctx, `
    INSERT INTO leave_requests (id, employee_id, leave_type_id, rule_id, start_date, end_date, start_half, end_half,
      requested_days, net_days, paid, reason, status, workflow_instance_id, created_at)
    VALUES ($1,$2,$3,NULLIF($4,''),$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)
  `, req.ID, req.EmployeeID, req.LeaveTypeID, req.RuleID, req.StartDate, req.EndDate, req.StartHalf, req.EndHalf,
		req.RequestedDays, req.NetDays, req.Paid, req.Reason, req.Status, req.WorkflowInstanceID, req.CreatedAt)
	return err
}

func (s *PgStore) GetRequest(ctx context.Context, id string) (Request, error) {
	req, err := scanRequest(s.DB.QueryRow(ctx, "SELECT "+requestColumns+" FROM leave_requests r WHERE r.id = $1", id))
	if db.IsNoRows(err) {
		return Request{}, apperr.NotFound("leave_request_not_found", "leave request not found")
	}
	return req, err
}

func (s *PgStore) ListRequests(ctx context.Context, filter Filter) ([]Request, int, error) {
	where := " WHERE 1=1"
	var args []any
	if filter.EmployeeID != "" {
		args = append(args, filter.EmployeeID)
		where += fmt.Sprintf(" AND r.employee_id = $%d", len(args))
	}
	if filter.Status != "" {
		args = append(args, filter.Status)
		where += fmt.Sprintf(" AND r.status = $%d", len(args))
	}

	var total int
	if err := s.DB.QueryRow(ctx, "SELECT COUNT(1) FROM leave_requests r"+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := "SELECT " + requestColumns + " FROM leave_requests r" + where +
		fmt.Sprintf(" ORDER BY r.created_at DESC LIMIT $%d OFFSET $%d", len(args)+1, len(args)+2)
	rows, err := s.DB.Query(ctx, query, append(args, filter.Limit, filter.Offset)...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var out []Request
	for rows.Next() {
		req, err := scanRequest(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, req)
	}
	return out, total, rows.Err()
}

func (s *PgStore) CountOverlapping(ctx context.Context, employeeID string, start, end time.Time) (int, error) {
	var count int
	err := s.DB.QueryRow(ctx, `
    SELECT COUNT(1)
    FROM leave_requests
    WHERE employee_id = $1
      AND status IN ('pending', 'approved')
      AND start_date <= $3 AND end_date >= $2
  `, employeeID, start, end).Scan(&count)
	return count, err
}

func (s *PgStore) UpdateStatus(ctx context.Context, id string, from, to Status, at time.Time) (bool, error) {
	tag, err := s.DB.Exec(ctx, `
    UPDATE leave_requests SET status = $1, decided_at = $2 WHERE id = $3 AND status = $4
  `, to, at, id, from)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (s *PgStore) ApprovedUnpaid(ctx context.Context, employeeID string, from, to time.Time) ([]Request, error) {
	rows, err := s.DB.Query(ctx, `
    SELECT `+requestColumns+`
    FROM leave_requests r
    WHERE r.employee_id = $1
      AND r.status = 'approved'
      AND NOT r.paid
      AND r.start_date <= $3 AND r.end_date >= $2
    ORDER BY r.start_date
  `, employeeID, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Request
	for rows.Next() {
		req, err := scanRequest(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, req)
	}
	return out, rows.Err()
}

func scanRequest(row pgx.Row) (Request, error) {
	var r Request
	err := row.Scan(&r.ID, &r.EmployeeID, &r.LeaveTypeID, &r.RuleID, &r.StartDate, &r.EndDate, &r.StartHalf, &r.EndHalf,
		&r.RequestedDays, &r.NetDays, &r.Paid, &r.Reason, &r.Status, &r.WorkflowInstanceID, &r.CreatedAt, &r.DecidedAt)
	return r, err
}
