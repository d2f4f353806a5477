// Package payroll computes payslips and drives payroll runs from draft to
// paid. Money is decimal throughout and rounded to two places only when a
// payslip is produced.
package payroll

import (
	"time"

	"github.com/shopspring/decimal"

	"hrpay/internal/domain/fsm"
	"hrpay/internal/domain/workflow"
)

type RunStatus string

const (
	RunDraft           RunStatus = "draft"
	RunCalculated      RunStatus = "calculated"
	RunPartial         RunStatus = "partial"
	RunPendingApproval RunStatus = "pending_approval"
	RunApproved        RunStatus = "approved"
	RunRejected        RunStatus = "rejected"
	RunPaid            RunStatus = "paid"
)

var runStatus = fsm.New("payroll run", map[RunStatus][]RunStatus{
	RunDraft:           {RunCalculated, RunPartial},
	RunPartial:         {RunCalculated, RunPartial},
	RunCalculated:      {RunPendingApproval},
	RunPendingApproval: {RunApproved, RunRejected},
	RunRejected:        {RunDraft},
	RunApproved:        {RunPaid},
})

type PayslipStatus string

const (
	PayslipPending    PayslipStatus = "pending"
	PayslipCalculated PayslipStatus = "calculated"
	PayslipPaid       PayslipStatus = "paid"
	PayslipError      PayslipStatus = "error"
)

// Payslip status never moves back to pending. A calculated payslip of a
// reopened run is recalculated in place, and becomes error if its inputs can
// no longer be fetched.
var payslipStatus = fsm.New("payslip", map[PayslipStatus][]PayslipStatus{
	PayslipPending:    {PayslipCalculated, PayslipError},
	PayslipError:      {PayslipCalculated, PayslipError},
	PayslipCalculated: {PayslipPaid, PayslipCalculated, PayslipError},
})

type PayCalendar string

const (
	CalendarDays    PayCalendar = "calendar"
	CalendarFixed30 PayCalendar = "fixed_30"
	CalendarWorking PayCalendar = "working_days"
)

// TaxBracket rates are percentages. A nil MaxIncome is open ended.
type TaxBracket struct {
	MinIncome decimal.Decimal  `json:"minIncome"`
	MaxIncome *decimal.Decimal `json:"maxIncome,omitempty"`
	Rate      decimal.Decimal  `json:"rate"`
}

type InsuranceBracket struct {
	MinSalary    decimal.Decimal  `json:"minSalary"`
	MaxSalary    *decimal.Decimal `json:"maxSalary,omitempty"`
	EmployeeRate decimal.Decimal  `json:"employeeRate"`
	EmployerRate decimal.Decimal  `json:"employerRate"`
}

type Settings struct {
	Currency                  string          `json:"currency" validate:"required,len=3"`
	PayCalendar               PayCalendar     `json:"payCalendar" validate:"required,oneof=calendar fixed_30 working_days"`
	MinimumWage               decimal.Decimal `json:"minimumWage"`
	StandardHoursPerDay       decimal.Decimal `json:"standardHoursPerDay"`
	OvertimeDefaultMultiplier decimal.Decimal `json:"overtimeDefaultMultiplier"`
	UpdatedAt                 time.Time       `json:"updatedAt"`
}

type AdjustmentKind string

const (
	AdjustmentAllowance    AdjustmentKind = "allowance"
	AdjustmentSigningBonus AdjustmentKind = "signing_bonus"
	AdjustmentRefund       AdjustmentKind = "refund"
)

// Adjustment is a one-off earning entered for an employee and pay period.
type Adjustment struct {
	ID          string          `json:"id"`
	EmployeeID  string          `json:"employeeId" validate:"required"`
	Period      string          `json:"period" validate:"required"`
	Kind        AdjustmentKind  `json:"kind" validate:"required,oneof=allowance signing_bonus refund"`
	Description string          `json:"description"`
	Amount      decimal.Decimal `json:"amount"`
	CreatedBy   string          `json:"createdBy"`
	CreatedAt   time.Time       `json:"createdAt"`
}

type AppliedBracket struct {
	MinIncome     decimal.Decimal  `json:"minIncome"`
	MaxIncome     *decimal.Decimal `json:"maxIncome,omitempty"`
	Rate          decimal.Decimal  `json:"rate"`
	TaxableAmount decimal.Decimal  `json:"taxableAmount"`
	Tax           decimal.Decimal  `json:"tax"`
}

type Payslip struct {
	ID                 string            `json:"id"`
	RunID              string            `json:"runId"`
	EmployeeID         string            `json:"employeeId"`
	Currency           string            `json:"currency"`
	BaseSalary         decimal.Decimal   `json:"baseSalary"`
	Allowances         decimal.Decimal   `json:"allowances"`
	OvertimePay        decimal.Decimal   `json:"overtimePay"`
	SigningBonus       decimal.Decimal   `json:"signingBonus"`
	LeaveEncashment    decimal.Decimal   `json:"leaveEncashment"`
	Refunds            decimal.Decimal   `json:"refunds"`
	GrossSalary        decimal.Decimal   `json:"grossSalary"`
	UnpaidDays         decimal.Decimal   `json:"unpaidDays"`
	LeaveDeductions    decimal.Decimal   `json:"leaveDeductions"`
	TimePenalties      decimal.Decimal   `json:"timePenalties"`
	TaxDeduction       decimal.Decimal   `json:"taxDeduction"`
	InsuranceDeduction decimal.Decimal   `json:"insuranceDeduction"`
	EmployerInsurance  decimal.Decimal   `json:"employerInsurance"`
	TotalDeductions    decimal.Decimal   `json:"totalDeductions"`
	NetSalary          decimal.Decimal   `json:"netSalary"`
	AppliedTaxBrackets []AppliedBracket  `json:"appliedTaxBrackets"`
	InsuranceBracket   *InsuranceBracket `json:"insuranceBracket,omitempty"`
	MinimumWageAlert   bool              `json:"minimumWageAlert"`
	Status             PayslipStatus     `json:"status"`
	ErrorReason        string            `json:"errorReason,omitempty"`
	CalculatedAt       *time.Time        `json:"calculatedAt,omitempty"`
}

type Run struct {
	ID                   string                  `json:"runId"`
	Period               string                  `json:"period"`
	Status               RunStatus               `json:"status"`
	InitiatedBy          string                  `json:"initiatedBy"`
	EmployeeCount        int                     `json:"employeeCount"`
	TotalNetDisbursement decimal.Decimal         `json:"totalNetDisbursement"`
	Submissions          int                     `json:"submissions"`
	WorkflowInstanceID   string                  `json:"workflowInstanceId,omitempty"`
	LastJobRunID         string                  `json:"lastJobRunId,omitempty"`
	ApprovalHistory      []workflow.HistoryEntry `json:"approvalHistory"`
	CreatedAt            time.Time               `json:"createdAt"`
	UpdatedAt            time.Time               `json:"updatedAt"`
	FinalizedAt          *time.Time              `json:"finalizedAt,omitempty"`
}

type RunFilter struct {
	Status RunStatus
	Limit  int
	Offset int
}
