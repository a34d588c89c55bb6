// TradeAudit - Trading Platform Audit and Telemetry Service
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tradeaudit

package authz

import (
	_ "embed"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/casbin/casbin/v2"
	"github.com/casbin/casbin/v2/model"
	fileadapter "github.com/casbin/casbin/v2/persist/file-adapter"

	"github.com/tomtom215/tradeaudit/internal/auth"
)

//go:embed model.conf
var embeddedModel string

//go:embed policy.csv
var embeddedPolicy string

// Roles, lowest privilege first.
const (
	RoleTrader            = "trader"
	RoleComplianceOfficer = "compliance_officer"
	RoleAdmin             = "admin"
	RoleSuperAdmin        = "super_admin"
)

// Roles lists every known role in ascending privilege.
var Roles = []string{RoleTrader, RoleComplianceOfficer, RoleAdmin, RoleSuperAdmin}

// Objects and actions referenced by the HTTP layer.
const (
	ObjectOwnLogs        = "audit:own_logs"
	ObjectAuditLogs      = "audit:logs"
	ObjectAuditVerify    = "audit:verify"
	ObjectAuditStats     = "audit:stats"
	ObjectAuditReports   = "audit:reports"
	ObjectAuditArchive   = "audit:archive"
	ObjectAuditCritical  = "audit:critical"
	ObjectTelemetryAdmin = "telemetry:admin"

	ActionRead     = "read"
	ActionExecute  = "execute"
	ActionGenerate = "generate"
)

// ReportObject is the policy object guarding one report type.
func ReportObject(reportType string) string {
	return "report:" + reportType
}

// EnforcerConfig holds configuration for the Casbin enforcer.
type EnforcerConfig struct {
	// ModelPath and PolicyPath override the embedded files when set.
	ModelPath  string
	PolicyPath string

	CacheEnabled bool
	CacheTTL     time.Duration
}

// DefaultEnforcerConfig uses the embedded model and policy with caching.
func DefaultEnforcerConfig() EnforcerConfig {
	return EnforcerConfig{
		CacheEnabled: true,
		CacheTTL:     5 * time.Minute,
	}
}

// Enforcer answers role/object/action questions. Policies are loaded once
// at construction.
type Enforcer struct {
	enforcer *casbin.SyncedEnforcer
	cache    *decisionCache
}

// NewEnforcer loads the model and policy.
func NewEnforcer(cfg EnforcerConfig) (*Enforcer, error) {
	var m model.Model
	var err error
	if cfg.ModelPath != "" && fileExists(cfg.ModelPath) {
		m, err = model.NewModelFromFile(cfg.ModelPath)
	} else {
		m, err = model.NewModelFromString(embeddedModel)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load casbin model: %w", err)
	}

	var enforcer *casbin.SyncedEnforcer
	if cfg.PolicyPath != "" && fileExists(cfg.PolicyPath) {
		enforcer, err = casbin.NewSyncedEnforcer(m, fileadapter.NewAdapter(cfg.PolicyPath))
	} else {
		enforcer, err = casbin.NewSyncedEnforcer(m)
		if err == nil {
			err = loadPolicy(enforcer, embeddedPolicy)
		}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create casbin enforcer: %w", err)
	}

	e := &Enforcer{enforcer: enforcer}
	if cfg.CacheEnabled {
		e.cache = newDecisionCache(cfg.CacheTTL)
	}
	return e, nil
}

// loadPolicy parses CSV policy lines of the form "p, sub, obj, act" and
// "g, role, parent".
func loadPolicy(enforcer *casbin.SyncedEnforcer, policy string) error {
	for _, line := range strings.Split(policy, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		parts := strings.Split(line, ",")
		for i := range parts {
			parts[i] = strings.TrimSpace(parts[i])
		}

		switch {
		case parts[0] == "p" && len(parts) == 4:
			if _, err := enforcer.AddPolicy(parts[1], parts[2], parts[3]); err != nil {
				return fmt.Errorf("failed to add policy %v: %w", parts[1:], err)
			}
		case parts[0] == "g" && len(parts) == 3:
			if _, err := enforcer.AddGroupingPolicy(parts[1], parts[2]); err != nil {
				return fmt.Errorf("failed to add grouping policy %v: %w", parts[1:], err)
			}
		default:
			return fmt.Errorf("malformed policy line %q", line)
		}
	}
	return nil
}

// Enforce reports whether role may perform action on object.
func (e *Enforcer) Enforce(role, object, action string) (bool, error) {
	if e.cache != nil {
		if allowed, ok := e.cache.get(role, object, action); ok {
			AuthzCacheHits.Inc()
			return allowed, nil
		}
		AuthzCacheMisses.Inc()
	}

	allowed, err := e.enforcer.Enforce(role, object, action)
	if err != nil {
		return false, fmt.Errorf("enforcement failed: %w", err)
	}
	RecordAuthzDecision(role, object, action, allowed)

	if e.cache != nil {
		e.cache.set(role, object, action, allowed)
	}
	return allowed, nil
}

// Can is Enforce for an authenticated subject; nil subjects and evaluation
// errors deny.
func (e *Enforcer) Can(s *auth.Subject, object, action string) bool {
	if s == nil || s.Role == "" {
		return false
	}
	allowed, err := e.Enforce(s.Role, object, action)
	return err == nil && allowed
}

// ImpliedRoles returns role plus every role it inherits from.
func (e *Enforcer) ImpliedRoles(role string) []string {
	implicit, err := e.enforcer.GetImplicitRolesForUser(role)
	if err != nil {
		return []string{role}
	}
	return append([]string{role}, implicit...)
}

// IsKnownRole reports whether role appears in Roles.
func IsKnownRole(role string) bool {
	for _, r := range Roles {
		if r == role {
			return true
		}
	}
	return false
}

// ClearCache drops memoized decisions.
func (e *Enforcer) ClearCache() {
	if e.cache != nil {
		e.cache.clear()
	}
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
