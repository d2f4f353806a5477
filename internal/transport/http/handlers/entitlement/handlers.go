package entitlementhandler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"hrpay/internal/domain/auth"
	"hrpay/internal/domain/entitlement"
	"hrpay/internal/transport/http/api"
	"hrpay/internal/transport/http/middleware"
	"hrpay/internal/transport/http/shared"
)

type Handler struct {
	Engine *entitlement.Engine
	Perms  middleware.PermissionChecker
}

func NewHandler(engine *entitlement.Engine, perms middleware.PermissionChecker) *Handler {
	return &Handler{Engine: engine, Perms: perms}
}

func (h *Handler) RegisterRoutes(r chi.Router) {
	r.With(middleware.RequirePermission(auth.PermEntitlementRead, h.Perms)).Get("/leave/rules", h.handleListRules)
	r.With(middleware.RequirePermission(auth.PermEntitlementManage, h.Perms)).Post("/leave/rules", h.handleCreateRule)
	r.With(middleware.RequirePermission(auth.PermEntitlementRead, h.Perms)).Get("/leave/rules/{ruleID}", h.handleGetRule)
}

func (h *Handler) handleListRules(w http.ResponseWriter, r *http.Request) {
	rules, err := h.Engine.ListRules(r.Context())
	if err != nil {
		api.FailError(w, err, middleware.GetRequestID(r.Context()))
		return
	}
	api.Success(w, rules, middleware.GetRequestID(r.Context()))
}

func (h *Handler) handleGetRule(w http.ResponseWriter, r *http.Request) {
	rule, err := h.Engine.GetRule(r.Context(), chi.URLParam(r, "ruleID"))
	if err != nil {
		api.FailError(w, err, middleware.GetRequestID(r.Context()))
		return
	}
	api.Success(w, rule, middleware.GetRequestID(r.Context()))
}

func (h *Handler) handleCreateRule(w http.ResponseWriter, r *http.Request) {
	requestID := middleware.GetRequestID(r.Context())
	var payload entitlement.Rule
	if !shared.DecodeJSON(w, r, &payload, requestID) {
		return
	}
	rule, err := h.Engine.CreateRule(r.Context(), payload)
	if err != nil {
		api.FailError(w, err, requestID)
		return
	}
	api.Created(w, rule, requestID)
}
