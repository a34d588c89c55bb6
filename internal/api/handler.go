// TradeAudit - Trading Platform Audit and Telemetry Service
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tradeaudit

package api

import (
	"context"
	"net/http"
	"time"

	"github.com/tomtom215/tradeaudit/internal/audit"
	"github.com/tomtom215/tradeaudit/internal/auth"
	"github.com/tomtom215/tradeaudit/internal/authz"
	"github.com/tomtom215/tradeaudit/internal/config"
	"github.com/tomtom215/tradeaudit/internal/telemetry"
	ws "github.com/tomtom215/tradeaudit/internal/websocket"
)

// HealthCheck probes one dependency. A nil error means healthy.
type HealthCheck func(ctx context.Context) error

// HandlerDeps wires a Handler. Audit, Telemetry and Enforcer are required;
// Hub and Critical may be nil, in which case their endpoints answer 503.
type HandlerDeps struct {
	Config       *config.Config
	Audit        *audit.Service
	Telemetry    *telemetry.Service
	Critical     CriticalReader
	Enforcer     *authz.Enforcer
	Hub          *ws.Hub
	HealthChecks map[string]HealthCheck
	Version      string
}

// Handler serves every API endpoint.
type Handler struct {
	config    *config.Config
	audit     *audit.Service
	telemetry *telemetry.Service
	critical  CriticalReader
	enforcer  *authz.Enforcer
	wsHub     *ws.Hub
	checks    map[string]HealthCheck
	version   string
	startTime time.Time
	now       func() time.Time
}

// NewHandler panics on missing required dependencies; they are wiring
// errors caught at startup.
func NewHandler(deps HandlerDeps) *Handler {
	if deps.Audit == nil || deps.Telemetry == nil || deps.Enforcer == nil {
		panic("api: NewHandler requires Audit, Telemetry and Enforcer")
	}
	cfg := deps.Config
	if cfg == nil {
		cfg = &config.Config{}
	}
	return &Handler{
		config:    cfg,
		audit:     deps.Audit,
		telemetry: deps.Telemetry,
		critical:  deps.Critical,
		enforcer:  deps.Enforcer,
		wsHub:     deps.Hub,
		checks:    deps.HealthChecks,
		version:   deps.Version,
		startTime: time.Now(),
		now:       time.Now,
	}
}

// actorFromRequest identifies the caller for audited reads.
func actorFromRequest(r *http.Request) audit.Actor {
	actor := audit.Actor{Request: audit.RequestContextFromHTTP(r)}
	if subject := auth.SubjectFromContext(r.Context()); subject != nil {
		actor.UserID = subject.UserID
		actor.Role = subject.Role
	}
	return actor
}

// can checks a permission for the authenticated caller.
func (h *Handler) can(r *http.Request, object, action string) bool {
	return h.enforcer.Can(auth.SubjectFromContext(r.Context()), object, action)
}
