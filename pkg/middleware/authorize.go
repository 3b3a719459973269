package middleware

import (
	"net/http"

	"civic-issue-tracker/pkg/response"
)

// RequireRole ensures the authenticated user has one of the allowed roles.
func RequireRole(allowedRoles ...string) func(http.Handler) http.Handler {
	allowed := make(map[string]bool, len(allowedRoles))
	for _, r := range allowedRoles {
		allowed[r] = true
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims, ok := ClaimsFrom(r.Context())
			if !ok {
				response.Error(w, http.StatusUnauthorized, "Unauthorized", "")
				return
			}

			if !allowed[claims.Role] {
				response.Error(w, http.StatusForbidden, "Forbidden", "Insufficient role")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
