package api

import (
	"net/http"
	"slices"
	"strings"
)

// AdminRole is the role required on authenticated endpoints.
const AdminRole = "admin"

// requireAdmin rejects requests that an authenticating proxy did not
// confirm for an admin. It is a no-op when authentication is disabled.
func (s *Server) requireAdmin(next http.HandlerFunc) http.HandlerFunc {
	if !s.authenticate {
		return next
	}
	return func(w http.ResponseWriter, r *http.Request) {
		if !strings.EqualFold(r.Header.Get("X-Identity-Status"), "Confirmed") {
			WriteError(w, http.StatusUnauthorized, "Authentication required")
			return
		}

		roles := strings.Split(r.Header.Get("X-Roles"), ",")
		for i := range roles {
			roles[i] = strings.TrimSpace(roles[i])
		}
		if !slices.Contains(roles, AdminRole) {
			s.logger.Error("role not in user role list", "role", AdminRole, "roles", roles)
			WriteError(w, http.StatusForbidden, "Access denied")
			return
		}
		next(w, r)
	}
}
