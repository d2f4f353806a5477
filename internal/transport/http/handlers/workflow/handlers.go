package workflowhandler

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"hrpay/internal/domain/auth"
	"hrpay/internal/domain/workflow"
	"hrpay/internal/transport/http/api"
	"hrpay/internal/transport/http/middleware"
	"hrpay/internal/transport/http/shared"
)

// KeyResolver maps the id of an entity to the entity id its current
// approval instance is stored under.
type KeyResolver func(ctx context.Context, entityID string) (string, error)

type Handler struct {
	Engine    *workflow.Engine
	Perms     middleware.PermissionChecker
	Resolvers map[workflow.EntityType]KeyResolver
}

func NewHandler(engine *workflow.Engine, perms middleware.PermissionChecker) *Handler {
	return &Handler{Engine: engine, Perms: perms, Resolvers: map[workflow.EntityType]KeyResolver{}}
}

func (h *Handler) WithResolver(entityType workflow.EntityType, resolve KeyResolver) *Handler {
	h.Resolvers[entityType] = resolve
	return h
}

func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/workflows", func(r chi.Router) {
		r.With(middleware.RequirePermission(auth.PermWorkflowRead, h.Perms)).Get("/", h.handleListDefinitions)
		r.With(middleware.RequirePermission(auth.PermWorkflowManage, h.Perms)).Post("/", h.handleCreateDefinition)
		r.With(middleware.RequirePermission(auth.PermWorkflowRead, h.Perms)).Get("/{workflowID}", h.handleGetDefinition)
		r.With(middleware.RequirePermission(auth.PermWorkflowRead, h.Perms)).Get("/instances/{entityType}/{entityID}", h.handleGetInstance)
	})
}

func (h *Handler) handleListDefinitions(w http.ResponseWriter, r *http.Request) {
	requestID := middleware.GetRequestID(r.Context())
	entityType := workflow.EntityType(r.URL.Query().Get("entityType"))
	defs, err := h.Engine.ListDefinitions(r.Context(), entityType)
	if err != nil {
		api.FailError(w, err, requestID)
		return
	}
	api.Success(w, defs, requestID)
}

func (h *Handler) handleGetDefinition(w http.ResponseWriter, r *http.Request) {
	def, err := h.Engine.GetDefinition(r.Context(), chi.URLParam(r, "workflowID"))
	if err != nil {
		api.FailError(w, err, middleware.GetRequestID(r.Context()))
		return
	}
	api.Success(w, def, middleware.GetRequestID(r.Context()))
}

type definitionPayload struct {
	EntityType        string        `json:"entityType" validate:"required,oneof=leave_request payroll_run"`
	PositionCode      string        `json:"positionCode" validate:"omitempty,max=64"`
	Steps             []stepPayload `json:"steps" validate:"required,min=1,dive"`
	AutoEscalateHours int           `json:"autoEscalateHours" validate:"gte=0"`
}

type stepPayload struct {
	StepNumber  int    `json:"stepNumber" validate:"gte=0"`
	Role        string `json:"role" validate:"required"`
	SLAHours    int    `json:"slaHours" validate:"gte=0"`
	CanDelegate bool   `json:"canDelegate"`
	CanOverride bool   `json:"canOverride"`
}

func (h *Handler) handleCreateDefinition(w http.ResponseWriter, r *http.Request) {
	requestID := middleware.GetRequestID(r.Context())
	var payload definitionPayload
	if !shared.DecodeJSON(w, r, &payload, requestID) {
		return
	}
	def := workflow.Definition{
		EntityType:        workflow.EntityType(payload.EntityType),
		PositionCode:      payload.PositionCode,
		AutoEscalateHours: payload.AutoEscalateHours,
	}
	for _, step := range payload.Steps {
		def.Steps = append(def.Steps, workflow.Step{
			StepNumber:  step.StepNumber,
			Role:        step.Role,
			SLAHours:    step.SLAHours,
			CanDelegate: step.CanDelegate,
			CanOverride: step.CanOverride,
		})
	}
	created, err := h.Engine.CreateDefinition(r.Context(), def)
	if err != nil {
		api.FailError(w, err, requestID)
		return
	}
	api.Created(w, created, requestID)
}

// handleGetInstance evaluates pending escalations before answering, so the
// returned state reflects elapsed SLAs.
func (h *Handler) handleGetInstance(w http.ResponseWriter, r *http.Request) {
	requestID := middleware.GetRequestID(r.Context())
	entityType := workflow.EntityType(chi.URLParam(r, "entityType"))
	entityID := chi.URLParam(r, "entityID")
	if resolve, ok := h.Resolvers[entityType]; ok {
		key, err := resolve(r.Context(), entityID)
		if err != nil {
			api.FailError(w, err, requestID)
			return
		}
		entityID = key
	}
	inst, err := h.Engine.Get(r.Context(), entityType, entityID)
	if err != nil {
		api.FailError(w, err, requestID)
		return
	}
	api.Success(w, inst, requestID)
}
