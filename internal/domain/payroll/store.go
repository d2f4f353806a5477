package payroll

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"

	"hrpay/internal/domain/apperr"
	"hrpay/internal/platform/db"
	"hrpay/internal/platform/querier"
)

type PgStore struct {
	DB querier.TxQuerier
}

func NewPgStore(q querier.TxQuerier) *PgStore {
	return &PgStore{DB: q}
}

func (s *PgStore) TaxBrackets(ctx context.Context) ([]TaxBracket, error) {
	rows, err := s.DB.Query(ctx, `SELECT min_income, max_income, rate FROM payroll_tax_brackets ORDER BY position`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []TaxBracket{}
	for rows.Next() {
		var b TaxBracket
		var maxIncome decimal.NullDecimal
		if err := rows.Scan(&b.MinIncome, &maxIncome, &b.Rate); err != nil {
			return nil, err
		}
		b.MaxIncome = fromNull(maxIncome)
		out = append(out, b)
	}
	return out, rows.Err()
}

func (s *PgStore) ReplaceTaxBrackets(ctx context.Context, brackets []TaxBracket) error {
	return db.InTx(ctx, s.DB, func(tx querier.Querier) error {
		if _, err := tx.Exec(ctx, `DELETE FROM payroll_tax_brackets`); err != nil {
			return err
		}
		for i, b := range brackets {
			if _, err := tx.Exec(ctx, `
        INSERT INTO payroll_tax_brackets (position, min_income, max_income, rate) VALUES ($1,$2,$3,$4)
      `, i+1, b.MinIncome, toNull(b.MaxIncome), b.Rate); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *PgStore) InsuranceBrackets(ctx context.Context) ([]InsuranceBracket, error) {
	rows, err := s.DB.Query(ctx, `
    SELECT min_salary, max_salary, employee_rate, employer_rate FROM payroll_insurance_brackets ORDER BY position
  `)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []InsuranceBracket{}
	for rows.Next() {
		var b InsuranceBracket
		var maxSalary decimal.NullDecimal
		if err := rows.Scan(&b.MinSalary, &maxSalary, &b.EmployeeRate, &b.EmployerRate); err != nil {
			return nil, err
		}
		b.MaxSalary = fromNull(maxSalary)
		out = append(out, b)
	}
	return out, rows.Err()
}

func (s *PgStore) ReplaceInsuranceBrackets(ctx context.Context, brackets []InsuranceBracket) error {
	return db.InTx(ctx, s.DB, func(tx querier.Querier) error {
		if _, err := tx.Exec(ctx, `DELETE FROM payroll_insurance_brackets`); err != nil {
			return err
		}
		for i, b := range brackets {
			if _, err := tx.Exec(ctx, `
        INSERT INTO payroll_insurance_brackets (position, min_salary, max_salary, employee_rate, employer_rate)
        VALUES ($1,$2,$3,$4,$5)
      `, i+1, b.MinSalary, toNull(b.MaxSalary), b.EmployeeRate, b.EmployerRate); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *PgStore) Settings(ctx context.Context) (Settings, bool, error) {
	var out Settings
	err := s.DB.QueryRow(ctx, `
    SELECT currency, pay_calendar, minimum_wage, standard_hours_per_day, overtime_default_multiplier, updated_at
    FROM payroll_settings WHERE id = 1
  `).Scan(&out.Currency, &out.PayCalendar, &out.MinimumWage, &out.StandardHoursPerDay, &out.OvertimeDefaultMultiplier, &out.UpdatedAt)
	if db.IsNoRows(err) {
		return Settings{}, false, nil
	}
	if err != nil {
		return Settings{}, false, err
	}
	return out, true, nil
}

func (s *PgStore) SaveSettings(ctx context.Context, settings Settings) error {
	_, err := s.DB.Exec(ctx, `
    INSERT INTO payroll_settings (id, currency, pay_calendar, minimum_wage, standard_hours_per_day, overtime_default_multiplier, updated_at)
    VALUES (1,$1,$2,$3,$4,$5,$6)
    ON CONFLICT (id) DO UPDATE SET currency = EXCLUDED.currency, pay_calendar = EXCLUDED.pay_calendar,
      minimum_wage = EXCLUDED.minimum_wage, standard_hours_per_day = EXCLUDED.standard_hours_per_day,
      overtime_default_multiplier = EXCLUDED.overtime_default_multiplier, updated_at = EXCLUDED.updated_at
  `, settings.Currency, settings.PayCalendar, settings.MinimumWage, settings.StandardHoursPerDay,
		settings.OvertimeDefaultMultiplier, settings.UpdatedAt)
	return err
}

func (s *PgStore) CreateAdjustment(ctx context.Context, adj Adjustment) error {
	_, err := s.DB.Exec(ctx, `
    INSERT INTO payroll_adjustments (id, employee_id, period, kind, description, amount, created_by, created_at)
    VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
  `, adj.ID, adj.EmployeeID, adj.Period, adj.Kind, adj.Description, adj.Amount, adj.CreatedBy, adj.CreatedAt)
	return err
}

func (s *PgStore) ListAdjustments(ctx context.Context, employeeID, period string) ([]Adjustment, error) {
	rows, err := s.DB.Query(ctx, `
    SELECT id, employee_id, period, kind, description, amount, created_by, created_at
    FROM payroll_adjustments WHERE employee_id = $1 AND period = $2 ORDER BY created_at, id
  `, employeeID, period)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []Adjustment{}
	for rows.Next() {
		var a Adjustment
		if err := rows.Scan(&a.ID, &a.EmployeeID, &a.Period, &a.Kind, &a.Description, &a.Amount, &a.CreatedBy, &a.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

const runColumns = `id, period, status, initiated_by, employee_count, total_net_disbursement, submissions,
  COALESCE(workflow_instance_id, ''), COALESCE(last_job_run_id, ''), created_at, updated_at, finalized_at`

func (s *PgStore) CreateRun(ctx context.Context, run Run, payslips []Payslip) error {
	err := db.InTx(ctx, s.DB, func(tx querier.Querier) error {
		if _, err := tx.Exec(ctx, `
      INSERT INTO payroll_runs (id, period, status, initiated_by, employee_count, total_net_disbursement,
        submissions, created_at, updated_at)
      VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
    `, run.ID, run.Period, run.Status, run.InitiatedBy, run.EmployeeCount, run.TotalNetDisbursement,
			run.Submissions, run.CreatedAt, run.UpdatedAt); err != nil {
			return err
		}
		for _, slip := range payslips {
			if err := insertPayslip(ctx, tx, slip); err != nil {
				return err
			}
		}
		return nil
	})
	if db.IsUniqueViolation(err) {
		return apperr.Conflict("payroll_run_exists", fmt.Sprintf("a payroll run for %s already exists", run.Period)).
			WithDetail("period", run.Period)
	}
	return err
}

func (s *PgStore) GetRun(ctx context.Context, id string) (Run, error) {
	run, err := scanRun(s.DB.QueryRow(ctx, "SELECT "+runColumns+" FROM payroll_runs WHERE id = $1", id))
	if db.IsNoRows(err) {
		return Run{}, apperr.NotFound("payroll_run_not_found", "payroll run not found")
	}
	return run, err
}

func (s *PgStore) ListRuns(ctx context.Context, filter RunFilter) ([]Run, int, error) {
	var total int
	if err := s.DB.QueryRow(ctx, `
    SELECT COUNT(1) FROM payroll_runs WHERE ($1 = '' OR status = $1)
  `, filter.Status).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := s.DB.Query(ctx, "SELECT "+runColumns+` FROM payroll_runs
    WHERE ($1 = '' OR status = $1) ORDER BY period DESC LIMIT $2 OFFSET $3
  `, filter.Status, filter.Limit, filter.Offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	out := []Run{}
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, run)
	}
	return out, total, rows.Err()
}

func (s *PgStore) UpdateRun(ctx context.Context, run Run, expected RunStatus, move *PayslipMove) (bool, error) {
	updated := false
	err := db.InTx(ctx, s.DB, func(tx querier.Querier) error {
		tag, err := tx.Exec(ctx, `
      UPDATE payroll_runs SET status = $3, employee_count = $4, total_net_disbursement = $5, submissions = $6,
        workflow_instance_id = NULLIF($7, ''), last_job_run_id = NULLIF($8, ''), updated_at = $9, finalized_at = $10
      WHERE id = $1 AND status = $2
    `, run.ID, expected, run.Status, run.EmployeeCount, run.TotalNetDisbursement, run.Submissions,
			run.WorkflowInstanceID, run.LastJobRunID, run.UpdatedAt, run.FinalizedAt)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return nil
		}
		if move != nil {
			if _, err := tx.Exec(ctx, `
        UPDATE payslips SET status = $3 WHERE run_id = $1 AND status = $2
      `, run.ID, move.From, move.To); err != nil {
				return err
			}
		}
		updated = true
		return nil
	})
	return updated, err
}

const payslipColumns = `id, run_id, employee_id, currency, base_salary, allowances, overtime_pay, signing_bonus,
  leave_encashment, refunds, gross_salary, unpaid_days, leave_deductions, time_penalties, tax_deduction,
  insurance_deduction, employer_insurance, total_deductions, net_salary, applied_tax_brackets, insurance_bracket,
  minimum_wage_alert, status, error_reason, calculated_at`

func (s *PgStore) ListPayslips(ctx context.Context, runID string) ([]Payslip, error) {
	rows, err := s.DB.Query(ctx, "SELECT "+payslipColumns+" FROM payslips WHERE run_id = $1 ORDER BY employee_id", runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []Payslip{}
	for rows.Next() {
		slip, err := scanPayslip(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, slip)
	}
	return out, rows.Err()
}

func (s *PgStore) SavePayslip(ctx context.Context, slip Payslip) error {
	brackets, insurance, err := payslipJSON(slip)
	if err != nil {
		return err
	}
	tag, err := s.DB.Exec(ctx, `
    UPDATE payslips SET currency = $3, base_salary = $4, allowances = $5, overtime_pay = $6, signing_bonus = $7,
      leave_encashment = $8, refunds = $9, gross_salary = $10, unpaid_days = $11, leave_deductions = $12,
      time_penalties = $13, tax_deduction = $14, insurance_deduction = $15, employer_insurance = $16,
      total_deductions = $17, net_salary = $18, applied_tax_brackets = $19, insurance_bracket = $20,
      minimum_wage_alert = $21, status = $22, error_reason = $23, calculated_at = $24
    WHERE run_id = $1 AND employee_id = $2
  `, slip.RunID, slip.EmployeeID, slip.Currency, slip.BaseSalary, slip.Allowances, slip.OvertimePay, slip.SigningBonus,
		slip.LeaveEncashment, slip.Refunds, slip.GrossSalary, slip.UnpaidDays, slip.LeaveDeductions,
		slip.TimePenalties, slip.TaxDeduction, slip.InsuranceDeduction, slip.EmployerInsurance,
		slip.TotalDeductions, slip.NetSalary, brackets, insurance,
		slip.MinimumWageAlert, slip.Status, slip.ErrorReason, slip.CalculatedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("payslip_not_found", "payslip not found")
	}
	return nil
}

func insertPayslip(ctx context.Context, tx querier.Querier, slip Payslip) error {
	brackets, insurance, err := payslipJSON(slip)
	if err != nil {
		return err
	}
	_, err = tx.Exec(ctx, `
    INSERT INTO payslips (id, run_id, employee_id, currency, base_salary, allowances, overtime_pay, signing_bonus,
      leave_encashment, refunds, gross_salary, unpaid_days, leave_deductions, time_penalties, tax_deduction,
      insurance_deduction, employer_insurance, total_deductions, net_salary, applied_tax_brackets, insurance_bracket,
      minimum_wage_alert, status, error_reason, calculated_at)
    VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21,$22,$23,$24,$25)
  `, slip.ID, slip.RunID, slip.EmployeeID, slip.Currency, slip.BaseSalary, slip.Allowances, slip.OvertimePay,
		slip.SigningBonus, slip.LeaveEncashment, slip.Refunds, slip.GrossSalary, slip.UnpaidDays, slip.LeaveDeductions,
		slip.TimePenalties, slip.TaxDeduction, slip.InsuranceDeduction, slip.EmployerInsurance, slip.TotalDeductions,
		slip.NetSalary, brackets, insurance, slip.MinimumWageAlert, slip.Status, slip.ErrorReason, slip.CalculatedAt)
	if db.IsUniqueViolation(err) {
		return apperr.Conflict("duplicate_payslip", "a payslip already exists for this run and employee").
			WithDetail("employeeId", slip.EmployeeID)
	}
	return err
}

func payslipJSON(slip Payslip) ([]byte, []byte, error) {
	brackets := slip.AppliedTaxBrackets
	if brackets == nil {
		brackets = []AppliedBracket{}
	}
	bracketsJSON, err := json.Marshal(brackets)
	if err != nil {
		return nil, nil, err
	}
	var insuranceJSON []byte
	if slip.InsuranceBracket != nil {
		if insuranceJSON, err = json.Marshal(slip.InsuranceBracket); err != nil {
			return nil, nil, err
		}
	}
	return bracketsJSON, insuranceJSON, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (Run, error) {
	var run Run
	err := row.Scan(&run.ID, &run.Period, &run.Status, &run.InitiatedBy, &run.EmployeeCount, &run.TotalNetDisbursement,
		&run.Submissions, &run.WorkflowInstanceID, &run.LastJobRunID, &run.CreatedAt, &run.UpdatedAt, &run.FinalizedAt)
	return run, err
}

func scanPayslip(row rowScanner) (Payslip, error) {
	var slip Payslip
	var brackets, insurance []byte
	err := row.Scan(&slip.ID, &slip.RunID, &slip.EmployeeID, &slip.Currency, &slip.BaseSalary, &slip.Allowances,
		&slip.OvertimePay, &slip.SigningBonus, &slip.LeaveEncashment, &slip.Refunds, &slip.GrossSalary, &slip.UnpaidDays,
		&slip.LeaveDeductions, &slip.TimePenalties, &slip.TaxDeduction, &slip.InsuranceDeduction, &slip.EmployerInsurance,
		&slip.TotalDeductions, &slip.NetSalary, &brackets, &insurance, &slip.MinimumWageAlert, &slip.Status,
		&slip.ErrorReason, &slip.CalculatedAt)
	if err != nil {
		return Payslip{}, err
	}
	if len(brackets) > 0 {
		if err := json.Unmarshal(brackets, &slip.AppliedTaxBrackets); err != nil {
			return Payslip{}, fmt.Errorf("decode applied tax brackets: %w", err)
		}
	}
	if len(insurance) > 0 {
		slip.InsuranceBracket = &InsuranceBracket{}
		if err := json.Unmarshal(insurance, slip.InsuranceBracket); err != nil {
			return Payslip{}, fmt.Errorf("decode insurance bracket: %w", err)
		}
	}
	return slip, nil
}

func toNull(d *decimal.Decimal) decimal.NullDecimal {
	if d == nil {
		return decimal.NullDecimal{}
	}
	return decimal.NullDecimal{Decimal: *d, Valid: true}
}

func fromNull(d decimal.NullDecimal) *decimal.Decimal {
	if !d.Valid {
		return nil
	}
	value := d.Decimal
	return &value
}
