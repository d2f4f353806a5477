package reportshandler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"hrpay/internal/domain/auth"
	"hrpay/internal/domain/reports"
	"hrpay/internal/transport/http/api"
	"hrpay/internal/transport/http/middleware"
	"hrpay/internal/transport/http/shared"
)

type Handler struct {
	Service *reports.Service
	Perms   middleware.PermissionChecker
}

func NewHandler(service *reports.Service, perms middleware.PermissionChecker) *Handler {
	return &Handler{Service: service, Perms: perms}
}

func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/reports", func(r chi.Router) {
		r.With(middleware.RequirePermission(auth.PermLeaveRead, h.Perms)).Get("/dashboard/employee", h.handleEmployeeDashboard)
		r.With(middleware.RequirePermission(auth.PermReportsTeam, h.Perms)).Get("/dashboard/approver", h.handleApproverDashboard)
		r.With(middleware.RequirePermission(auth.PermReportsOrg, h.Perms)).Get("/dashboard/hr", h.handleHRDashboard)
	})
}

func (h *Handler) handleEmployeeDashboard(w http.ResponseWriter, r *http.Request) {
	requestID := middleware.GetRequestID(r.Context())
	user, ok := shared.CurrentUser(w, r)
	if !ok {
		return
	}
	employeeID := r.URL.Query().Get("employeeId")
	if employeeID == "" {
		employeeID = user.EmployeeID
	}
	employeeID, ok = shared.ScopeEmployee(w, r, user, employeeID)
	if !ok {
		return
	}
	if employeeID == "" {
		shared.FailValidation(w, requestID, []shared.ValidationIssue{{Field: "employeeId", Reason: "is required"}})
		return
	}
	out, err := h.Service.Employee(r.Context(), employeeID)
	if err != nil {
		api.FailError(w, err, requestID)
		return
	}
	api.Success(w, out, requestID)
}

func (h *Handler) handleApproverDashboard(w http.ResponseWriter, r *http.Request) {
	requestID := middleware.GetRequestID(r.Context())
	user, ok := shared.CurrentUser(w, r)
	if !ok {
		return
	}
	out, err := h.Service.Approver(r.Context(), user.Role)
	if err != nil {
		api.FailError(w, err, requestID)
		return
	}
	api.Success(w, out, requestID)
}

func (h *Handler) handleHRDashboard(w http.ResponseWriter, r *http.Request) {
	requestID := middleware.GetRequestID(r.Context())
	out, err := h.Service.HR(r.Context())
	if err != nil {
		api.FailError(w, err, requestID)
		return
	}
	api.Success(w, out, requestID)
}
