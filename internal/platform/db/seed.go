package db

import (
	"context"

	"go.uber.org/zap"

	"hrpay/internal/domain/auth"
	"hrpay/internal/platform/querier"
)

type seedPosition struct {
	code, title, role, reportsTo string
}

var seedPositions = []seedPosition{
	{code: "ceo", title: "Chief Executive", role: auth.RoleAdmin},
	{code: "hr-director", title: "HR Director", role: auth.RoleHR, reportsTo: "ceo"},
	{code: "finance-director", title: "Finance Director", role: auth.RoleFinance, reportsTo: "ceo"},
	{code: "payroll-officer", title: "Payroll Officer", role: auth.RolePayrollOfficer, reportsTo: "finance-director"},
	{code: "team-lead", title: "Team Lead", role: auth.RoleManager, reportsTo: "hr-director"},
	{code: "staff", title: "Staff", role: auth.RoleEmployee, reportsTo: "team-lead"},
}

type seedLeaveType struct {
	id, name       string
	paid, document bool
}

var seedLeaveTypes = []seedLeaveType{
	{id: "annual", name: "Annual Leave", paid: true},
	{id: "sick", name: "Sick Leave", paid: true, document: true},
	{id: "unpaid", name: "Unpaid Leave"},
}

type seedWorkflow struct {
	id, entityType, steps string
	escalateHours         int
}

// Steps are stored as the JSON the workflow store writes.
var seedWorkflows = []seedWorkflow{
	{
		id:            "default-leave-request",
		entityType:    "leave_request",
		steps:         `[{"stepNumber":1,"role":"manager","slaHours":48,"canDelegate":true,"canOverride":false},{"stepNumber":2,"role":"hr","slaHours":48,"canDelegate":true,"canOverride":true}]`,
		escalateHours: 72,
	},
	{
		id:            "default-payroll-run",
		entityType:    "payroll_run",
		steps:         `[{"stepNumber":1,"role":"hr","slaHours":24,"canDelegate":false,"canOverride":false},{"stepNumber":2,"role":"finance","slaHours":24,"canDelegate":true,"canOverride":true}]`,
		escalateHours: 48,
	},
}

// Seed installs the reference data a fresh database needs: the position
// tree, the standard leave types and a catch-all approval workflow for each
// entity type. Rows that already exist are left alone.
func Seed(ctx context.Context, db querier.TxQuerier) error {
	return InTx(ctx, db, func(tx querier.Querier) error {
		if err := ensurePositions(ctx, tx); err != nil {
			return err
		}
		if err := ensureLeaveTypes(ctx, tx); err != nil {
			return err
		}
		if err := ensureWorkflows(ctx, tx); err != nil {
			return err
		}
		zap.L().Info("seed data ensured",
			zap.Int("positions", len(seedPositions)),
			zap.Int("leaveTypes", len(seedLeaveTypes)),
			zap.Int("workflows", len(seedWorkflows)))
		return nil
	})
}

// ensurePositions inserts parents before children so reports_to resolves.
func ensurePositions(ctx context.Context, tx querier.Querier) error {
	for _, p := range seedPositions {
		if _, err := tx.Exec(ctx, `
      INSERT INTO positions (code, title, role, reports_to) VALUES ($1, $2, $3, NULLIF($4, ''))
      ON CONFLICT (code) DO NOTHING
    `, p.code, p.title, p.role, p.reportsTo); err != nil {
			return err
		}
	}
	return nil
}

func ensureLeaveTypes(ctx context.Context, tx querier.Querier) error {
	for _, lt := range seedLeaveTypes {
		if _, err := tx.Exec(ctx, `
      INSERT INTO leave_types (id, name, code, is_paid, requires_doc) VALUES ($1, $2, $1, $3, $4)
      ON CONFLICT DO NOTHING
    `, lt.id, lt.name, lt.paid, lt.document); err != nil {
			return err
		}
	}
	return nil
}

func ensureWorkflows(ctx context.Context, tx querier.Querier) error {
	for _, wf := range seedWorkflows {
		if _, err := tx.Exec(ctx, `
      INSERT INTO approval_workflows (id, entity_type, position_code, steps, auto_escalate_hours)
      VALUES ($1, $2, '*', $3::jsonb, $4)
      ON CONFLICT DO NOTHING
    `, wf.id, wf.entityType, wf.steps, wf.escalateHours); err != nil {
			return err
		}
	}
	return nil
}
