package payroll

import "context"

// PayslipMove changes every payslip of a run in From to To, in the same
// transaction as the run update.
type PayslipMove struct {
	From PayslipStatus
	To   PayslipStatus
}

type Store interface {
	TaxBrackets(ctx context.Context) ([]TaxBracket, error)
	ReplaceTaxBrackets(ctx context.Context, brackets []TaxBracket) error
	InsuranceBrackets(ctx context.Context) ([]InsuranceBracket, error)
	ReplaceInsuranceBrackets(ctx context.Context, brackets []InsuranceBracket) error
	// Settings reports found=false while the settings row was never saved.
	Settings(ctx context.Context) (Settings, bool, error)
	SaveSettings(ctx context.Context, settings Settings) error

	CreateAdjustment(ctx context.Context, adj Adjustment) error
	ListAdjustments(ctx context.Context, employeeID, period string) ([]Adjustment, error)

	// CreateRun inserts the run with its pending payslips atomically.
	CreateRun(ctx context.Context, run Run, payslips []Payslip) error
	GetRun(ctx context.Context, id string) (Run, error)
	ListRuns(ctx context.Context, filter RunFilter) ([]Run, int, error)
	// UpdateRun stores run when its stored status is expected.
	UpdateRun(ctx context.Context, run Run, expected RunStatus, move *PayslipMove) (bool, error)
	ListPayslips(ctx context.Context, runID string) ([]Payslip, error)
	SavePayslip(ctx context.Context, slip Payslip) error
}
