package jobshandler

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"hrpay/internal/domain/auth"
	"hrpay/internal/platform/jobs"
	"hrpay/internal/transport/http/api"
	"hrpay/internal/transport/http/middleware"
	"hrpay/internal/transport/http/shared"
)

type AccrualRunner interface {
	RunAccrual(ctx context.Context, jobType, period, actorID string) (jobs.Run, error)
}

type Handler struct {
	Accrual AccrualRunner
	Runs    jobs.Store
	Perms   middleware.PermissionChecker
}

func NewHandler(accrual AccrualRunner, runs jobs.Store, perms middleware.PermissionChecker) *Handler {
	return &Handler{Accrual: accrual, Runs: runs, Perms: perms}
}

func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/jobs", func(r chi.Router) {
		r.With(middleware.RequirePermission(auth.PermJobsRun, h.Perms)).Post("/run-accrual", h.handleRunAccrual)
		r.With(middleware.RequirePermission(auth.PermJobsRead, h.Perms)).Get("/runs", h.handleListRuns)
		r.With(middleware.RequirePermission(auth.PermJobsRead, h.Perms)).Get("/runs/{runID}", h.handleGetRun)
	})
}

type runAccrualPayload struct {
	JobType string `json:"jobType" validate:"required,oneof=accrual year_end carry_forward_expiry"`
	Period  string `json:"period" validate:"required"`
}

// handleRunAccrual runs the batch synchronously. A job that failed as a whole
// still answers with its run log so the caller can see what was processed.
func (h *Handler) handleRunAccrual(w http.ResponseWriter, r *http.Request) {
	requestID := middleware.GetRequestID(r.Context())
	user, ok := shared.CurrentUser(w, r)
	if !ok {
		return
	}
	var payload runAccrualPayload
	if !shared.DecodeJSON(w, r, &payload, requestID) {
		return
	}
	run, err := h.Accrual.RunAccrual(r.Context(), payload.JobType, payload.Period, user.UserID)
	if err != nil && run.ID == "" {
		api.FailError(w, err, requestID)
		return
	}
	api.Success(w, run, requestID)
}

func (h *Handler) handleListRuns(w http.ResponseWriter, r *http.Request) {
	requestID := middleware.GetRequestID(r.Context())
	page := shared.ParsePagination(r, 50, 200)
	runs, err := h.Runs.ListRuns(r.Context(), jobs.Filter{
		JobType: r.URL.Query().Get("jobType"),
		Limit:   page.Limit,
		Offset:  page.Offset,
	})
	if err != nil {
		api.FailError(w, err, requestID)
		return
	}
	api.Success(w, runs, requestID)
}

func (h *Handler) handleGetRun(w http.ResponseWriter, r *http.Request) {
	run, err := h.Runs.GetRun(r.Context(), chi.URLParam(r, "runID"))
	if err != nil {
		api.FailError(w, err, middleware.GetRequestID(r.Context()))
		return
	}
	api.Success(w, run, middleware.GetRequestID(r.Context()))
}
