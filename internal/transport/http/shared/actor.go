package shared

import (
	"net/http"

	"hrpay/internal/domain/auth"
	"hrpay/internal/domain/workflow"
	"hrpay/internal/transport/http/api"
	"hrpay/internal/transport/http/middleware"
)

// CurrentUser writes a 401 when the request carries no user.
func CurrentUser(w http.ResponseWriter, r *http.Request) (auth.UserContext, bool) {
	user, ok := middleware.GetUser(r.Context())
	if !ok {
		api.Fail(w, http.StatusUnauthorized, "unauthorized", "authentication required", middleware.GetRequestID(r.Context()))
		return auth.UserContext{}, false
	}
	return user, true
}

func Actor(user auth.UserContext) workflow.Actor {
	return workflow.Actor{ID: user.UserID, Role: user.Role}
}

// ScopeEmployee limits plain employees to their own records. Any other role
// may name an employee explicitly.
func ScopeEmployee(w http.ResponseWriter, r *http.Request, user auth.UserContext, employeeID string) (string, bool) {
	if user.Role != auth.RoleEmployee {
		return employeeID, true
	}
	if employeeID != "" && employeeID != user.EmployeeID {
		api.Fail(w, http.StatusForbidden, "forbidden", "employees may only access their own records", middleware.GetRequestID(r.Context()))
		return "", false
	}
	return user.EmployeeID, true
}
