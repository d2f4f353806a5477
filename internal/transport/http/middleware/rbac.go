package middleware

import (
	"net/http"

	"go.uber.org/zap"

	"hrpay/internal/transport/http/api"
)

// PermissionChecker is satisfied by *auth.RBAC.
type PermissionChecker interface {
	Allowed(role, permission string) (bool, error)
}

func RequirePermission(permission string, checker PermissionChecker) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			requestID := GetRequestID(r.Context())
			user, ok := GetUser(r.Context())
			if !ok {
				api.Fail(w, http.StatusUnauthorized, "unauthorized", "authentication required", requestID)
				return
			}

			allowed, err := checker.Allowed(user.Role, permission)
			if err != nil {
				zap.L().Error("permission check failed", zap.String("requestId", requestID), zap.String("permission", permission), zap.Error(err))
				api.Fail(w, http.StatusInternalServerError, "permission_error", "permission check failed", requestID)
				return
			}
			if !allowed {
				api.FailWithDetails(w, http.StatusForbidden, "forbidden", "insufficient permissions",
					map[string]any{"required": permission}, requestID)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
