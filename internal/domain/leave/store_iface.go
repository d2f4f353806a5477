package leave

import (
	"context"
	"time"
)

type Store interface {
	ListTypes(ctx context.Context) ([]LeaveType, error)
	GetType(ctx context.Context, id string) (LeaveType, error)
	CreateType(ctx context.Context, payload LeaveType) error
	ListHolidays(ctx context.Context, from, to time.Time) ([]Holiday, error)
	HolidayDates(ctx context.Context, from, to time.Time) ([]time.Time, error)
	CreateHoliday(ctx context.Context, holiday Holiday) error
	CreateRequest(ctx context.Context, req Request) error
	GetRequest(ctx context.Context, id string) (Request, error)
	ListRequests(ctx context.Context, filter Filter) ([]Request, int, error)
	// CountOverlapping counts pending or approved requests of the employee
	// that share at least one day with start..end.
	CountOverlapping(ctx context.Context, employeeID string, start, end time.Time) (int, error)
	// UpdateStatus moves a request from one status to another and reports
	// false when the stored status is no longer from.
	UpdateStatus(ctx context.Context, id string, from, to Status, at time.Time) (bool, error)
	ApprovedUnpaid(ctx context.Context, employeeID string, from, to time.Time) ([]Request, error)
}
