package payrollhandler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/gocarina/gocsv"
	"go.uber.org/zap"

	"hrpay/internal/domain/auth"
	"hrpay/internal/domain/payroll"
	"hrpay/internal/domain/workflow"
	"hrpay/internal/platform/crypto"
	"hrpay/internal/platform/jobs"
	"hrpay/internal/transport/http/api"
	"hrpay/internal/transport/http/middleware"
	"hrpay/internal/transport/http/shared"
)

type Handler struct {
	Service *payroll.Service
	Perms   middleware.PermissionChecker
}

func NewHandler(service *payroll.Service, perms middleware.PermissionChecker) *Handler {
	return &Handler{Service: service, Perms: perms}
}

func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/payroll", func(r chi.Router) {
		r.With(middleware.RequirePermission(auth.PermPayrollRead, h.Perms)).Get("/config/tax-brackets", h.handleGetTaxBrackets)
		r.With(middleware.RequirePermission(auth.PermPayrollConfig, h.Perms)).Put("/config/tax-brackets", h.handleReplaceTaxBrackets)
		r.With(middleware.RequirePermission(auth.PermPayrollRead, h.Perms)).Get("/config/insurance-brackets", h.handleGetInsuranceBrackets)
		r.With(middleware.RequirePermission(auth.PermPayrollConfig, h.Perms)).Put("/config/insurance-brackets", h.handleReplaceInsuranceBrackets)
		r.With(middleware.RequirePermission(auth.PermPayrollRead, h.Perms)).Get("/config/settings", h.handleGetSettings)
		r.With(middleware.RequirePermission(auth.PermPayrollConfig, h.Perms)).Put("/config/settings", h.handleUpdateSettings)

		r.With(middleware.RequirePermission(auth.PermPayrollRead, h.Perms)).Get("/adjustments", h.handleListAdjustments)
		r.With(middleware.RequirePermission(auth.PermPayrollRun, h.Perms)).Post("/adjustments", h.handleCreateAdjustment)

		r.With(middleware.RequirePermission(auth.PermPayrollRead, h.Perms)).Get("/runs", h.handleListRuns)
		r.With(middleware.RequirePermission(auth.PermPayrollRun, h.Perms)).Post("/runs", h.handleDraftRun)
		r.With(middleware.RequirePermission(auth.PermPayrollRead, h.Perms)).Get("/runs/{runID}", h.handleGetRun)
		r.With(middleware.RequirePermission(auth.PermPayrollRead, h.Perms)).Get("/runs/{runID}/payslips", h.handleListPayslips)
		r.With(middleware.RequirePermission(auth.PermPayrollFinalize, h.Perms)).Get("/runs/{runID}/payslips/export", h.handleExportPayslips)
		r.With(middleware.RequirePermission(auth.PermPayrollRun, h.Perms)).Post("/runs/{runID}/calculate", h.handleCalculate)
		r.With(middleware.RequirePermission(auth.PermPayrollRun, h.Perms)).Post("/runs/{runID}/submit", h.handleSubmit)
		r.With(middleware.RequirePermission(auth.PermPayrollApprove, h.Perms)).Post("/runs/{runID}/approve", h.handleAction(workflow.ActionApprove))
		r.With(middleware.RequirePermission(auth.PermPayrollApprove, h.Perms)).Post("/runs/{runID}/reject", h.handleAction(workflow.ActionReject))
		r.With(middleware.RequirePermission(auth.PermPayrollApprove, h.Perms)).Post("/runs/{runID}/delegate", h.handleAction(workflow.ActionDelegate))
		r.With(middleware.RequirePermission(auth.PermPayrollFinalize, h.Perms)).Post("/runs/{runID}/override", h.handleAction(workflow.ActionOverride))
		r.With(middleware.RequirePermission(auth.PermPayrollFinalize, h.Perms)).Post("/runs/{runID}/finalize", h.handleFinalize)
		r.With(middleware.RequirePermission(auth.PermPayrollRun, h.Perms)).Post("/runs/{runID}/reopen", h.handleReopen)
	})
}

func (h *Handler) handleGetTaxBrackets(w http.ResponseWriter, r *http.Request) {
	brackets, err := h.Service.TaxBrackets(r.Context())
	if err != nil {
		api.FailError(w, err, middleware.GetRequestID(r.Context()))
		return
	}
	api.Success(w, brackets, middleware.GetRequestID(r.Context()))
}

type taxBracketsPayload struct {
	Brackets []payroll.TaxBracket `json:"brackets" validate:"required,min=1"`
}

func (h *Handler) handleReplaceTaxBrackets(w http.ResponseWriter, r *http.Request) {
	requestID := middleware.GetRequestID(r.Context())
	user, ok := shared.CurrentUser(w, r)
	if !ok {
		return
	}
	var payload taxBracketsPayload
	if !shared.DecodeJSON(w, r, &payload, requestID) {
		return
	}
	brackets, err := h.Service.ReplaceTaxBrackets(r.Context(), payload.Brackets, user.UserID)
	if err != nil {
		api.FailError(w, err, requestID)
		return
	}
	api.Success(w, brackets, requestID)
}

func (h *Handler) handleGetInsuranceBrackets(w http.ResponseWriter, r *http.Request) {
	brackets, err := h.Service.InsuranceBrackets(r.Context())
	if err != nil {
		api.FailError(w, err, middleware.GetRequestID(r.Context()))
		return
	}
	api.Success(w, brackets, middleware.GetRequestID(r.Context()))
}

type insuranceBracketsPayload struct {
	Brackets []payroll.InsuranceBracket `json:"brackets" validate:"required,min=1"`
}

func (h *Handler) handleReplaceInsuranceBrackets(w http.ResponseWriter, r *http.Request) {
	requestID := middleware.GetRequestID(r.Context())
	user, ok := shared.CurrentUser(w, r)
	if !ok {
		return
	}
	var payload insuranceBracketsPayload
	if !shared.DecodeJSON(w, r, &payload, requestID) {
		return
	}
	brackets, err := h.Service.ReplaceInsuranceBrackets(r.Context(), payload.Brackets, user.UserID)
	if err != nil {
		api.FailError(w, err, requestID)
		return
	}
	api.Success(w, brackets, requestID)
}

func (h *Handler) handleGetSettings(w http.ResponseWriter, r *http.Request) {
	settings, err := h.Service.Settings(r.Context())
	if err != nil {
		api.FailError(w, err, middleware.GetRequestID(r.Context()))
		return
	}
	api.Success(w, settings, middleware.GetRequestID(r.Context()))
}

func (h *Handler) handleUpdateSettings(w http.ResponseWriter, r *http.Request) {
	requestID := middleware.GetRequestID(r.Context())
	user, ok := shared.CurrentUser(w, r)
	if !ok {
		return
	}
	var payload payroll.Settings
	if !shared.DecodeJSON(w, r, &payload, requestID) {
		return
	}
	settings, err := h.Service.UpdateSettings(r.Context(), payload, user.UserID)
	if err != nil {
		api.FailError(w, err, requestID)
		return
	}
	api.Success(w, settings, requestID)
}

func (h *Handler) handleListAdjustments(w http.ResponseWriter, r *http.Request) {
	requestID := middleware.GetRequestID(r.Context())
	query := r.URL.Query()
	v := shared.NewValidator()
	v.Required("employeeId", query.Get("employeeId"), "is required")
	v.Required("period", query.Get("period"), "is required")
	if v.Reject(w, requestID) {
		return
	}
	adjustments, err := h.Service.ListAdjustments(r.Context(), query.Get("employeeId"), query.Get("period"))
	if err != nil {
		api.FailError(w, err, requestID)
		return
	}
	api.Success(w, adjustments, requestID)
}

func (h *Handler) handleCreateAdjustment(w http.ResponseWriter, r *http.Request) {
	requestID := middleware.GetRequestID(r.Context())
	user, ok := shared.CurrentUser(w, r)
	if !ok {
		return
	}
	var payload payroll.Adjustment
	if !shared.DecodeJSON(w, r, &payload, requestID) {
		return
	}
	created, err := h.Service.CreateAdjustment(r.Context(), payload, user.UserID)
	if err != nil {
		api.FailError(w, err, requestID)
		return
	}
	api.Created(w, created, requestID)
}

func (h *Handler) handleListRuns(w http.ResponseWriter, r *http.Request) {
	requestID := middleware.GetRequestID(r.Context())
	status := r.URL.Query().Get("status")
	v := shared.NewValidator()
	v.Enum("status", status, []string{
		string(payroll.RunDraft), string(payroll.RunCalculated), string(payroll.RunPartial),
		string(payroll.RunPendingApproval), string(payroll.RunApproved), string(payroll.RunRejected), string(payroll.RunPaid),
	}, "unknown status")
	if v.Reject(w, requestID) {
		return
	}
	page := shared.ParsePagination(r, 24, 120)
	runs, total, err := h.Service.ListRuns(r.Context(), payroll.RunFilter{
		Status: payroll.RunStatus(status),
		Limit:  page.Limit,
		Offset: page.Offset,
	})
	if err != nil {
		api.FailError(w, err, requestID)
		return
	}
	api.SuccessList(w, runs, page.Meta(total), requestID)
}

type draftRunPayload struct {
	Period string `json:"period" validate:"required"`
}

func (h *Handler) handleDraftRun(w http.ResponseWriter, r *http.Request) {
	requestID := middleware.GetRequestID(r.Context())
	user, ok := shared.CurrentUser(w, r)
	if !ok {
		return
	}
	var payload draftRunPayload
	if !shared.DecodeJSON(w, r, &payload, requestID) {
		return
	}
	run, err := h.Service.DraftRun(r.Context(), payload.Period, user.UserID)
	if err != nil {
		api.FailError(w, err, requestID)
		return
	}
	api.Created(w, run, requestID)
}

func (h *Handler) handleGetRun(w http.ResponseWriter, r *http.Request) {
	run, err := h.Service.GetRun(r.Context(), chi.URLParam(r, "runID"))
	if err != nil {
		api.FailError(w, err, middleware.GetRequestID(r.Context()))
		return
	}
	api.Success(w, run, middleware.GetRequestID(r.Context()))
}

func (h *Handler) handleListPayslips(w http.ResponseWriter, r *http.Request) {
	slips, err := h.Service.Payslips(r.Context(), chi.URLParam(r, "runID"))
	if err != nil {
		api.FailError(w, err, middleware.GetRequestID(r.Context()))
		return
	}
	api.Success(w, slips, middleware.GetRequestID(r.Context()))
}

type exportRow struct {
	EmployeeID       string `csv:"employee_id"`
	FullName         string `csv:"full_name"`
	BankAccount      string `csv:"bank_account"`
	Currency         string `csv:"currency"`
	GrossSalary      string `csv:"gross_salary"`
	TotalDeductions  string `csv:"total_deductions"`
	NetSalary        string `csv:"net_salary"`
	Status           string `csv:"status"`
	MinimumWageAlert bool   `csv:"minimum_wage_alert"`
}

// handleExportPayslips writes the disbursement sheet of a run as CSV. Bank
// accounts are masked.
func (h *Handler) handleExportPayslips(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "runID")
	lines, err := h.Service.Disbursement(r.Context(), runID)
	if err != nil {
		api.FailError(w, err, middleware.GetRequestID(r.Context()))
		return
	}

	rows := make([]exportRow, 0, len(lines))
	for _, line := range lines {
		rows = append(rows, exportRow{
			EmployeeID:       line.EmployeeID,
			FullName:         line.FullName,
			BankAccount:      crypto.Mask(line.BankAccount),
			Currency:         line.Currency,
			GrossSalary:      line.GrossSalary.StringFixed(2),
			TotalDeductions:  line.TotalDeductions.StringFixed(2),
			NetSalary:        line.NetSalary.StringFixed(2),
			Status:           string(line.Status),
			MinimumWageAlert: line.MinimumWageAlert,
		})
	}

	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", "attachment; filename=payroll-"+runID+".csv")
	if err := gocsv.Marshal(rows, w); err != nil {
		zap.L().Warn("payslip export failed", zap.String("runId", runID), zap.Error(err))
	}
}

type calculateResponse struct {
	Run payroll.Run `json:"run"`
	Job jobs.Run    `json:"job"`
}

func (h *Handler) handleCalculate(w http.ResponseWriter, r *http.Request) {
	requestID := middleware.GetRequestID(r.Context())
	user, ok := shared.CurrentUser(w, r)
	if !ok {
		return
	}
	run, job, err := h.Service.Calculate(r.Context(), chi.URLParam(r, "runID"), user.UserID)
	if err != nil {
		api.FailError(w, err, requestID)
		return
	}
	api.Success(w, calculateResponse{Run: run, Job: job}, requestID)
}

func (h *Handler) handleSubmit(w http.ResponseWriter, r *http.Request) {
	requestID := middleware.GetRequestID(r.Context())
	user, ok := shared.CurrentUser(w, r)
	if !ok {
		return
	}
	run, err := h.Service.Submit(r.Context(), chi.URLParam(r, "runID"), shared.Actor(user))
	if err != nil {
		api.FailError(w, err, requestID)
		return
	}
	api.Success(w, run, requestID)
}

type actionPayload struct {
	Comment    string                      `json:"comment" validate:"max=1000"`
	Delegation *workflow.DelegationRequest `json:"delegation"`
}

type decisionResponse struct {
	Run      payroll.Run       `json:"run"`
	Workflow workflow.Instance `json:"workflow"`
}

func (h *Handler) handleAction(action workflow.Action) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		requestID := middleware.GetRequestID(r.Context())
		user, ok := shared.CurrentUser(w, r)
		if !ok {
			return
		}
		var payload actionPayload
		if r.ContentLength != 0 && !shared.DecodeJSON(w, r, &payload, requestID) {
			return
		}
		if action == workflow.ActionDelegate && payload.Delegation == nil {
			shared.FailValidation(w, requestID, []shared.ValidationIssue{{Field: "delegation", Reason: "is required"}})
			return
		}
		run, inst, err := h.Service.Decide(r.Context(), chi.URLParam(r, "runID"), workflow.Command{
			Action:     action,
			Actor:      shared.Actor(user),
			Comment:    payload.Comment,
			Delegation: payload.Delegation,
		})
		if err != nil {
			api.FailError(w, err, requestID)
			return
		}
		api.Success(w, decisionResponse{Run: run, Workflow: inst}, requestID)
	}
}

func (h *Handler) handleFinalize(w http.ResponseWriter, r *http.Request) {
	requestID := middleware.GetRequestID(r.Context())
	user, ok := shared.CurrentUser(w, r)
	if !ok {
		return
	}
	run, err := h.Service.Finalize(r.Context(), chi.URLParam(r, "runID"), user.UserID)
	if err != nil {
		api.FailError(w, err, requestID)
		return
	}
	api.Success(w, run, requestID)
}

func (h *Handler) handleReopen(w http.ResponseWriter, r *http.Request) {
	requestID := middleware.GetRequestID(r.Context())
	user, ok := shared.CurrentUser(w, r)
	if !ok {
		return
	}
	run, err := h.Service.Reopen(r.Context(), chi.URLParam(r, "runID"), user.UserID)
	if err != nil {
		api.FailError(w, err, requestID)
		return
	}
	api.Success(w, run, requestID)
}
