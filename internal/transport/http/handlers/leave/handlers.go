package leavehandler

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"hrpay/internal/domain/auth"
	"hrpay/internal/domain/leave"
	"hrpay/internal/domain/workflow"
	"hrpay/internal/transport/http/api"
	"hrpay/internal/transport/http/middleware"
	"hrpay/internal/transport/http/shared"
)

type Handler struct {
	Service *leave.Service
	Perms   middleware.PermissionChecker
}

func NewHandler(service *leave.Service, perms middleware.PermissionChecker) *Handler {
	return &Handler{Service: service, Perms: perms}
}

func (h *Handler) RegisterRoutes(r chi.Router) {
	r.With(middleware.RequirePermission(auth.PermLeaveRead, h.Perms)).Get("/leave/types", h.handleListTypes)
	r.With(middleware.RequirePermission(auth.PermEntitlementManage, h.Perms)).Post("/leave/types", h.handleCreateType)
	r.With(middleware.RequirePermission(auth.PermLeaveRead, h.Perms)).Get("/leave/holidays", h.handleListHolidays)
	r.With(middleware.RequirePermission(auth.PermEntitlementManage, h.Perms)).Post("/leave/holidays", h.handleCreateHoliday)
	r.With(middleware.RequirePermission(auth.PermLeaveRead, h.Perms)).Get("/leave/requests", h.handleListRequests)
	r.With(middleware.RequirePermission(auth.PermLeaveRead, h.Perms)).Get("/leave/requests/{requestID}", h.handleGetRequest)
	r.With(middleware.RequirePermission(auth.PermLeaveWrite, h.Perms)).Post("/leave/requests", h.handleCreateRequest)
	r.With(middleware.RequirePermission(auth.PermLeaveApprove, h.Perms)).Post("/leave/requests/{requestID}/approve", h.handleAction(workflow.ActionApprove))
	r.With(middleware.RequirePermission(auth.PermLeaveApprove, h.Perms)).Post("/leave/requests/{requestID}/reject", h.handleAction(workflow.ActionReject))
	r.With(middleware.RequirePermission(auth.PermLeaveApprove, h.Perms)).Post("/leave/requests/{requestID}/delegate", h.handleAction(workflow.ActionDelegate))
	r.With(middleware.RequirePermission(auth.PermLedgerOverride, h.Perms)).Post("/leave/requests/{requestID}/override", h.handleAction(workflow.ActionOverride))
	r.With(middleware.RequirePermission(auth.PermLeaveWrite, h.Perms)).Post("/leave/requests/{requestID}/cancel", h.handleCancelRequest)
	r.With(middleware.RequirePermission(auth.PermLedgerAdjust, h.Perms)).Post("/leave/requests/{requestID}/reverse", h.handleReverseRequest)
}

func (h *Handler) handleListTypes(w http.ResponseWriter, r *http.Request) {
	types, err := h.Service.ListTypes(r.Context())
	if err != nil {
		api.FailError(w, err, middleware.GetRequestID(r.Context()))
		return
	}
	api.Success(w, types, middleware.GetRequestID(r.Context()))
}

type leaveTypePayload struct {
	Name        string `json:"name" validate:"required,max=128"`
	Code        string `json:"code" validate:"required,max=32"`
	IsPaid      bool   `json:"isPaid"`
	RequiresDoc bool   `json:"requiresDoc"`
}

func (h *Handler) handleCreateType(w http.ResponseWriter, r *http.Request) {
	requestID := middleware.GetRequestID(r.Context())
	user, ok := shared.CurrentUser(w, r)
	if !ok {
		return
	}
	var payload leaveTypePayload
	if !shared.DecodeJSON(w, r, &payload, requestID) {
		return
	}
	created, err := h.Service.CreateType(r.Context(), leave.LeaveType{
		Name:        payload.Name,
		Code:        payload.Code,
		IsPaid:      payload.IsPaid,
		RequiresDoc: payload.RequiresDoc,
	}, user.UserID)
	if err != nil {
		api.FailError(w, err, requestID)
		return
	}
	api.Created(w, created, requestID)
}

func (h *Handler) handleListHolidays(w http.ResponseWriter, r *http.Request) {
	requestID := middleware.GetRequestID(r.Context())
	v := shared.NewValidator()
	from := v.OptionalDate("from", r.URL.Query().Get("from"))
	to := v.OptionalDate("to", r.URL.Query().Get("to"))
	v.DateOrder("from", from, "to", to)
	if v.Reject(w, requestID) {
		return
	}
	if from.IsZero() {
		year := time.Now().UTC().Year()
		from = time.Date(year, time.January, 1, 0, 0, 0, 0, time.UTC)
	}
	if to.IsZero() {
		to = from.AddDate(1, 0, -1)
	}
	holidays, err := h.Service.ListHolidays(r.Context(), from, to)
	if err != nil {
		api.FailError(w, err, requestID)
		return
	}
	api.Success(w, holidays, requestID)
}

type holidayPayload struct {
	Date string `json:"date" validate:"required"`
	Name string `json:"name" validate:"required,max=128"`
}

func (h *Handler) handleCreateHoliday(w http.ResponseWriter, r *http.Request) {
	requestID := middleware.GetRequestID(r.Context())
	user, ok := shared.CurrentUser(w, r)
	if !ok {
		return
	}
	var payload holidayPayload
	if !shared.DecodeJSON(w, r, &payload, requestID) {
		return
	}
	v := shared.NewValidator()
	date, _ := v.Date("date", payload.Date)
	if v.Reject(w, requestID) {
		return
	}
	created, err := h.Service.CreateHoliday(r.Context(), leave.Holiday{Date: date, Name: payload.Name}, user.UserID)
	if err != nil {
		api.FailError(w, err, requestID)
		return
	}
	api.Created(w, created, requestID)
}

func (h *Handler) handleListRequests(w http.ResponseWriter, r *http.Request) {
	requestID := middleware.GetRequestID(r.Context())
	user, ok := shared.CurrentUser(w, r)
	if !ok {
		return
	}
	employeeID, ok := shared.ScopeEmployee(w, r, user, r.URL.Query().Get("employeeId"))
	if !ok {
		return
	}
	status := r.URL.Query().Get("status")
	v := shared.NewValidator()
	v.Enum("status", status, []string{
		string(leave.StatusPending), string(leave.StatusApproved), string(leave.StatusRejected),
		string(leave.StatusCancelled), string(leave.StatusReversed),
	}, "unknown status")
	if v.Reject(w, requestID) {
		return
	}

	page := shared.ParsePagination(r, 50, 200)
	requests, total, err := h.Service.List(r.Context(), leave.Filter{
		EmployeeID: employeeID,
		Status:     leave.Status(strings.ToLower(status)),
		Limit:      page.Limit,
		Offset:     page.Offset,
	})
	if err != nil {
		api.FailError(w, err, requestID)
		return
	}
	api.SuccessList(w, requests, page.Meta(total), requestID)
}

func (h *Handler) handleGetRequest(w http.ResponseWriter, r *http.Request) {
	requestID := middleware.GetRequestID(r.Context())
	req, ok := h.loadVisible(w, r)
	if !ok {
		return
	}
	api.Success(w, req, requestID)
}

type leaveRequestPayload struct {
	EmployeeID  string `json:"employeeId"`
	LeaveTypeID string `json:"leaveTypeId" validate:"required"`
	StartDate   string `json:"startDate" validate:"required"`
	EndDate     string `json:"endDate" validate:"required"`
	StartHalf   bool   `json:"startHalf"`
	EndHalf     bool   `json:"endHalf"`
	Reason      string `json:"reason" validate:"max=1000"`
}

func (h *Handler) handleCreateRequest(w http.ResponseWriter, r *http.Request) {
	requestID := middleware.GetRequestID(r.Context())
	user, ok := shared.CurrentUser(w, r)
	if !ok {
		return
	}
	var payload leaveRequestPayload
	if !shared.DecodeJSON(w, r, &payload, requestID) {
		return
	}
	employeeID := payload.EmployeeID
	if employeeID == "" {
		employeeID = user.EmployeeID
	}
	employeeID, ok = shared.ScopeEmployee(w, r, user, employeeID)
	if !ok {
		return
	}

	v := shared.NewValidator()
	v.Required("employeeId", employeeID, "is required")
	start, _ := v.Date("startDate", payload.StartDate)
	end, _ := v.Date("endDate", payload.EndDate)
	v.DateOrder("startDate", start, "endDate", end)
	if v.Reject(w, requestID) {
		return
	}

	created, err := h.Service.Submit(r.Context(), leave.SubmitInput{
		EmployeeID:  employeeID,
		LeaveTypeID: payload.LeaveTypeID,
		StartDate:   start,
		EndDate:     end,
		StartHalf:   payload.StartHalf,
		EndHalf:     payload.EndHalf,
		Reason:      payload.Reason,
	}, shared.Actor(user))
	if err != nil {
		api.FailError(w, err, requestID)
		return
	}
	api.Created(w, created, requestID)
}

type actionPayload struct {
	Comment    string                      `json:"comment" validate:"max=1000"`
	Delegation *workflow.DelegationRequest `json:"delegation"`
}

type decisionResponse struct {
	Request  leave.Request     `json:"request"`
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

		req, inst, err := h.Service.Decide(r.Context(), chi.URLParam(r, "requestID"), workflow.Command{
			Action:     action,
			Actor:      shared.Actor(user),
			Comment:    payload.Comment,
			Delegation: payload.Delegation,
		})
		if err != nil {
			api.FailError(w, err, requestID)
			return
		}
		api.Success(w, decisionResponse{Request: req, Workflow: inst}, requestID)
	}
}

func (h *Handler) handleCancelRequest(w http.ResponseWriter, r *http.Request) {
	requestID := middleware.GetRequestID(r.Context())
	user, ok := shared.CurrentUser(w, r)
	if !ok {
		return
	}
	if _, ok := h.loadVisible(w, r); !ok {
		return
	}
	cancelled, err := h.Service.Cancel(r.Context(), chi.URLParam(r, "requestID"), user.UserID)
	if err != nil {
		api.FailError(w, err, requestID)
		return
	}
	api.Success(w, cancelled, requestID)
}

type reversePayload struct {
	Reason string `json:"reason" validate:"required,max=500"`
}

func (h *Handler) handleReverseRequest(w http.ResponseWriter, r *http.Request) {
	requestID := middleware.GetRequestID(r.Context())
	user, ok := shared.CurrentUser(w, r)
	if !ok {
		return
	}
	var payload reversePayload
	if !shared.DecodeJSON(w, r, &payload, requestID) {
		return
	}
	reversed, err := h.Service.Reverse(r.Context(), chi.URLParam(r, "requestID"), user.UserID, payload.Reason)
	if err != nil {
		api.FailError(w, err, requestID)
		return
	}
	api.Success(w, reversed, requestID)
}

// loadVisible fetches the path's request and hides other employees' requests
// from plain employees.
func (h *Handler) loadVisible(w http.ResponseWriter, r *http.Request) (leave.Request, bool) {
	requestID := middleware.GetRequestID(r.Context())
	user, ok := shared.CurrentUser(w, r)
	if !ok {
		return leave.Request{}, false
	}
	req, err := h.Service.Get(r.Context(), chi.URLParam(r, "requestID"))
	if err != nil {
		api.FailError(w, err, requestID)
		return leave.Request{}, false
	}
	if user.Role == auth.RoleEmployee && req.EmployeeID != user.EmployeeID {
		api.Fail(w, http.StatusNotFound, "leave_request_not_found", "leave request not found", requestID)
		return leave.Request{}, false
	}
	return req, true
}
