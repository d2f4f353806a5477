package ledgerhandler

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"hrpay/internal/domain/auth"
	"hrpay/internal/domain/ledger"
	"hrpay/internal/transport/http/api"
	"hrpay/internal/transport/http/middleware"
	"hrpay/internal/transport/http/shared"
)

type Handler struct {
	Service *ledger.Service
	Perms   middleware.PermissionChecker
}

func NewHandler(service *ledger.Service, perms middleware.PermissionChecker) *Handler {
	return &Handler{Service: service, Perms: perms}
}

func (h *Handler) RegisterRoutes(r chi.Router) {
	r.With(middleware.RequirePermission(auth.PermLedgerRead, h.Perms)).Get("/leave/balances", h.handleListBalances)
	r.With(middleware.RequirePermission(auth.PermLedgerRead, h.Perms)).Get("/leave/balances/{employeeID}/{leaveTypeID}", h.handleGetBalance)
	r.With(middleware.RequirePermission(auth.PermLedgerOverride, h.Perms)).Get("/leave/balances/{employeeID}/{leaveTypeID}/verify", h.handleVerify)
	r.With(middleware.RequirePermission(auth.PermLedgerOverride, h.Perms)).Post("/leave/balances/{employeeID}/{leaveTypeID}/rebuild", h.handleRebuild)
	r.With(middleware.RequirePermission(auth.PermEntitlementManage, h.Perms)).Put("/leave/balances/{employeeID}/{leaveTypeID}/caps", h.handleConfigureCaps)
	r.With(middleware.RequirePermission(auth.PermLedgerRead, h.Perms)).Get("/leave/transactions", h.handleListTransactions)
	r.With(middleware.RequirePermission(auth.PermLedgerAdjust, h.Perms)).Post("/leave/transactions", h.handleApply)
}

func (h *Handler) handleListBalances(w http.ResponseWriter, r *http.Request) {
	requestID := middleware.GetRequestID(r.Context())
	user, ok := shared.CurrentUser(w, r)
	if !ok {
		return
	}
	employeeID, ok := shared.ScopeEmployee(w, r, user, r.URL.Query().Get("employeeId"))
	if !ok {
		return
	}
	if employeeID == "" {
		shared.FailValidation(w, requestID, []shared.ValidationIssue{{Field: "employeeId", Reason: "is required"}})
		return
	}
	balances, err := h.Service.Balances(r.Context(), employeeID)
	if err != nil {
		api.FailError(w, err, requestID)
		return
	}
	api.Success(w, balances, requestID)
}

func (h *Handler) handleGetBalance(w http.ResponseWriter, r *http.Request) {
	requestID := middleware.GetRequestID(r.Context())
	user, ok := shared.CurrentUser(w, r)
	if !ok {
		return
	}
	employeeID, ok := shared.ScopeEmployee(w, r, user, chi.URLParam(r, "employeeID"))
	if !ok {
		return
	}
	balance, err := h.Service.Balance(r.Context(), employeeID, chi.URLParam(r, "leaveTypeID"))
	if err != nil {
		api.FailError(w, err, requestID)
		return
	}
	api.Success(w, balance, requestID)
}

func (h *Handler) handleVerify(w http.ResponseWriter, r *http.Request) {
	requestID := middleware.GetRequestID(r.Context())
	drift, err := h.Service.Verify(r.Context(), chi.URLParam(r, "employeeID"), chi.URLParam(r, "leaveTypeID"))
	if err != nil {
		api.FailError(w, err, requestID)
		return
	}
	api.Success(w, drift, requestID)
}

func (h *Handler) handleRebuild(w http.ResponseWriter, r *http.Request) {
	requestID := middleware.GetRequestID(r.Context())
	drift, err := h.Service.Rebuild(r.Context(), chi.URLParam(r, "employeeID"), chi.URLParam(r, "leaveTypeID"))
	if err != nil {
		api.FailError(w, err, requestID)
		return
	}
	api.Success(w, drift, requestID)
}

type capsPayload struct {
	MaxBalanceCap   decimal.Decimal `json:"maxBalanceCap"`
	CarryForwardCap decimal.Decimal `json:"carryForwardCap"`
}

func (h *Handler) handleConfigureCaps(w http.ResponseWriter, r *http.Request) {
	requestID := middleware.GetRequestID(r.Context())
	var payload capsPayload
	if !shared.DecodeJSON(w, r, &payload, requestID) {
		return
	}
	balance, err := h.Service.ConfigureCaps(r.Context(), chi.URLParam(r, "employeeID"), chi.URLParam(r, "leaveTypeID"),
		payload.MaxBalanceCap, payload.CarryForwardCap)
	if err != nil {
		api.FailError(w, err, requestID)
		return
	}
	api.Success(w, balance, requestID)
}

func (h *Handler) handleListTransactions(w http.ResponseWriter, r *http.Request) {
	requestID := middleware.GetRequestID(r.Context())
	user, ok := shared.CurrentUser(w, r)
	if !ok {
		return
	}
	query := r.URL.Query()
	employeeID, ok := shared.ScopeEmployee(w, r, user, query.Get("employeeId"))
	if !ok {
		return
	}

	v := shared.NewValidator()
	from := v.OptionalDate("from", query.Get("from"))
	to := v.OptionalDate("to", query.Get("to"))
	v.DateOrder("from", from, "to", to)
	var types []ledger.TransactionType
	if raw := query.Get("type"); raw != "" {
		for _, part := range strings.Split(raw, ",") {
			typ := ledger.TransactionType(strings.TrimSpace(part))
			if !typ.Valid() {
				v.Add("type", "unknown transaction type "+string(typ))
				continue
			}
			types = append(types, typ)
		}
	}
	if v.Reject(w, requestID) {
		return
	}

	if !to.IsZero() {
		// the store bound is exclusive; the query parameter is inclusive
		to = to.AddDate(0, 0, 1)
	}
	page := shared.ParsePagination(r, 100, 500)
	txs, err := h.Service.Transactions(r.Context(), ledger.Filter{
		EmployeeID:  employeeID,
		LeaveTypeID: query.Get("leaveTypeId"),
		Types:       types,
		From:        from,
		To:          to,
		Limit:       page.Limit,
		Offset:      page.Offset,
	})
	if err != nil {
		api.FailError(w, err, requestID)
		return
	}
	api.Success(w, txs, requestID)
}

type applyPayload struct {
	TransactionID   string          `json:"transactionId" validate:"required,max=128"`
	EmployeeID      string          `json:"employeeId" validate:"required"`
	LeaveTypeID     string          `json:"leaveTypeId" validate:"required"`
	Amount          decimal.Decimal `json:"amount"`
	TransactionType string          `json:"transactionType" validate:"required"`
	RequestID       string          `json:"requestId"`
	Reason          string          `json:"reason" validate:"required,max=500"`
	Override        bool            `json:"override"`
}

// handleApply posts a manual ledger transaction. The caller picks the
// transaction id, so a retried post is answered from the ledger's replay.
func (h *Handler) handleApply(w http.ResponseWriter, r *http.Request) {
	requestID := middleware.GetRequestID(r.Context())
	user, ok := shared.CurrentUser(w, r)
	if !ok {
		return
	}
	var payload applyPayload
	if !shared.DecodeJSON(w, r, &payload, requestID) {
		return
	}
	if payload.Override {
		allowed, err := h.Perms.Allowed(user.Role, auth.PermLedgerOverride)
		if err != nil || !allowed {
			api.FailWithDetails(w, http.StatusForbidden, "forbidden", "override requires an elevated role",
				map[string]any{"required": auth.PermLedgerOverride}, requestID)
			return
		}
	}

	res, err := h.Service.Apply(r.Context(), ledger.Entry{
		ID:          payload.TransactionID,
		EmployeeID:  payload.EmployeeID,
		LeaveTypeID: payload.LeaveTypeID,
		Amount:      payload.Amount,
		Type:        ledger.TransactionType(payload.TransactionType),
		RequestID:   payload.RequestID,
		PerformedBy: user.UserID,
		Reason:      payload.Reason,
		Override:    payload.Override,
	})
	if err != nil {
		api.FailError(w, err, requestID)
		return
	}
	if res.Replayed {
		api.Success(w, res, requestID)
		return
	}
	api.Created(w, res, requestID)
}
