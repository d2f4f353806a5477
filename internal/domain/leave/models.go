// Package leave runs the leave request lifecycle. A request reserves its
// working days on the ledger when submitted; the approval workflow decides
// whether the reservation turns into a take or is released.
package leave

import (
	"time"

	"github.com/shopspring/decimal"

	"hrpay/internal/domain/fsm"
)

type Status string

const (
	StatusPending   Status = "pending"
	StatusApproved  Status = "approved"
	StatusRejected  Status = "rejected"
	StatusCancelled Status = "cancelled"
	StatusReversed  Status = "reversed"
)

var requestStatus = fsm.New("leave request", map[Status][]Status{
	StatusPending:  {StatusApproved, StatusRejected, StatusCancelled},
	StatusApproved: {StatusReversed},
})

type LeaveType struct {
	ID          string    `json:"id"`
	Name        string    `json:"name" validate:"required"`
	Code        string    `json:"code" validate:"required,max=32"`
	IsPaid      bool      `json:"isPaid"`
	RequiresDoc bool      `json:"requiresDoc"`
	CreatedAt   time.Time `json:"createdAt"`
}

type Holiday struct {
	ID   string    `json:"id"`
	Date time.Time `json:"date"`
	Name string    `json:"name"`
}

type Request struct {
	ID                 string          `json:"id"`
	EmployeeID         string          `json:"employeeId"`
	LeaveTypeID        string          `json:"leaveTypeId"`
	RuleID             string          `json:"ruleId,omitempty"`
	StartDate          time.Time       `json:"startDate"`
	EndDate            time.Time       `json:"endDate"`
	StartHalf          bool            `json:"startHalf"`
	EndHalf            bool            `json:"endHalf"`
	RequestedDays      decimal.Decimal `json:"requestedDays"`
	NetDays            decimal.Decimal `json:"netDays"`
	Paid               bool            `json:"paid"`
	Reason             string          `json:"reason"`
	Status             Status          `json:"status"`
	WorkflowInstanceID string          `json:"workflowInstanceId"`
	CreatedAt          time.Time       `json:"createdAt"`
	DecidedAt          *time.Time      `json:"decidedAt,omitempty"`
}

type Filter struct {
	EmployeeID string
	Status     Status
	Limit      int
	Offset     int
}

type SubmitInput struct {
	EmployeeID  string
	LeaveTypeID string
	StartDate   time.Time
	EndDate     time.Time
	StartHalf   bool
	EndHalf     bool
	Reason      string
}
