// TradeAudit - Trading Platform Audit and Telemetry Service
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tradeaudit

package authz

import (
	"net/http"

	"github.com/tomtom215/tradeaudit/internal/auth"
	"github.com/tomtom215/tradeaudit/internal/logging"
)

// DenyWriter renders a 401 (no subject) or 403 (insufficient role).
type DenyWriter func(w http.ResponseWriter, r *http.Request, status int)

// Middleware provides authorization middleware using Casbin.
type Middleware struct {
	enforcer *Enforcer
	deny     DenyWriter
}

// NewMiddleware creates a new authorization middleware. A nil deny writes a
// plain-text status.
func NewMiddleware(enforcer *Enforcer, deny DenyWriter) *Middleware {
	if deny == nil {
		deny = func(w http.ResponseWriter, _ *http.Request, status int) {
			http.Error(w, http.StatusText(status), status)
		}
	}
	return &Middleware{enforcer: enforcer, deny: deny}
}

// Enforcer returns the underlying enforcer for handlers that make
// finer-grained decisions.
func (m *Middleware) Enforcer() *Enforcer {
	return m.enforcer
}

// RequirePermission admits the request only if the subject's role allows
// action on object. It must run after auth.Middleware.Authenticate.
func (m *Middleware) RequirePermission(object, action string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			subject := auth.SubjectFromContext(r.Context())
			if subject == nil {
				m.deny(w, r, http.StatusUnauthorized)
				return
			}

			allowed, err := m.enforcer.Enforce(subject.Role, object, action)
			if err != nil {
				logging.CtxErr(r.Context(), err).Msg("Authorization error")
				m.deny(w, r, http.StatusForbidden)
				return
			}
			if !allowed {
				logging.Ctx(r.Context()).Info().
					Str("user_id", subject.UserID).
					Str("role", subject.Role).
					Str("object", object).
					Str("action", action).
					Msg("Permission denied")
				m.deny(w, r, http.StatusForbidden)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
