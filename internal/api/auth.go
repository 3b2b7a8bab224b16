// Package api implements the HTTP surface of the planning service.
package api

import (
	"net/http"
	"strings"
)

type Principal struct {
	Role   string // admin, dispatcher, technician
	UserID string
}

// getPrincipal extracts the caller from the Authorization header.
// - If a Bearer token is present, the configured verifier decides (dev/hmac/jwks).
// - Else falls back to X-Role / X-User-Id headers for local development.
func (s *Server) getPrincipal(r *http.Request) Principal {
	authz := r.Header.Get("Authorization")
	if strings.HasPrefix(strings.ToLower(authz), "bearer ") && s.Auth != nil {
		tok := strings.TrimSpace(authz[len("Bearer "):])
		if pr, err := s.Auth.Verify(tok); err == nil {
			return Principal{Role: pr.Role, UserID: pr.UserID}
		}
	}
	role := r.Header.Get("X-Role")
	if role == "" {
		role = "admin"
	}
	return Principal{Role: strings.ToLower(role), UserID: r.Header.Get("X-User-Id")}
}

// IsAdmin reports whether the principal has the admin role.
func (p Principal) IsAdmin() bool { return p.Role == "admin" }

// CanPlan reports whether the principal may run or apply plannings.
func (p Principal) CanPlan() bool { return p.Role == "admin" || p.Role == "dispatcher" }
