// TradeAudit - Trading Platform Audit and Telemetry Service
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tradeaudit

package authz

import (
	"os"
	"path/filepath"
	"sort"
	"testing"
	"time"

	"github.com/tomtom215/tradeaudit/internal/auth"
)

func setupEnforcer(t *testing.T) *Enforcer {
	t.Helper()
	enforcer, err := NewEnforcer(DefaultEnforcerConfig())
	if err != nil {
		t.Fatalf("NewEnforcer() error = %v", err)
	}
	return enforcer
}

func assertEnforce(t *testing.T, e *Enforcer, role, object, action string, want bool) {
	t.Helper()
	got, err := e.Enforce(role, object, action)
	if err != nil {
		t.Fatalf("Enforce(%s, %s, %s) error = %v", role, object, action, err)
	}
	if got != want {
		t.Errorf("Enforce(%s, %s, %s) = %v, want %v", role, object, action, got, want)
	}
}

func TestEnforcer_PermissionMatrix(t *testing.T) {
	t.Parallel()
	e := setupEnforcer(t)

	type perm struct{ object, action string }
	matrix := []struct {
		p       perm
		minRole string
	}{
		{perm{ObjectOwnLogs, ActionRead}, RoleTrader},
		{perm{ObjectAuditLogs, ActionRead}, RoleComplianceOfficer},
		{perm{ObjectAuditVerify, ActionExecute}, RoleComplianceOfficer},
		{perm{ObjectAuditStats, ActionRead}, RoleComplianceOfficer},
		{perm{ObjectAuditReports, ActionRead}, RoleComplianceOfficer},
		{perm{ReportObject("daily_activity"), ActionGenerate}, RoleComplianceOfficer},
		{perm{ReportObject("user_access"), ActionGenerate}, RoleComplianceOfficer},
		{perm{ReportObject("trade_summary"), ActionGenerate}, RoleComplianceOfficer},
		{perm{ReportObject("audit_trail"), ActionGenerate}, RoleAdmin},
		{perm{ReportObject("failed_auth"), ActionGenerate}, RoleAdmin},
		{perm{ObjectTelemetryAdmin, ActionRead}, RoleAdmin},
		{perm{ObjectAuditCritical, ActionRead}, RoleAdmin},
		{perm{ObjectAuditArchive, ActionExecute}, RoleSuperAdmin},
	}

	rank := map[string]int{}
	for i, r := range Roles {
		rank[r] = i
	}

	for _, m := range matrix {
		for _, role := range Roles {
			want := rank[role] >= rank[m.minRole]
			assertEnforce(t, e, role, m.p.object, m.p.action, want)
		}
	}
}

func TestEnforcer_UnknownRoleAndAction(t *testing.T) {
	t.Parallel()
	e := setupEnforcer(t)
	assertEnforce(t, e, "viewer", ObjectAuditLogs, ActionRead, false)
	assertEnforce(t, e, RoleSuperAdmin, ObjectAuditLogs, "delete", false)
	assertEnforce(t, e, RoleSuperAdmin, ReportObject("pnl"), ActionGenerate, false)
}

func TestEnforcer_Can(t *testing.T) {
	t.Parallel()
	e := setupEnforcer(t)
	if e.Can(nil, ObjectAuditLogs, ActionRead) {
		t.Error("nil subject allowed")
	}
	if e.Can(&auth.Subject{UserID: "u"}, ObjectOwnLogs, ActionRead) {
		t.Error("subject without role allowed")
	}
	if !e.Can(&auth.Subject{UserID: "u", Role: RoleAdmin}, ObjectAuditStats, ActionRead) {
		t.Error("admin denied audit:stats")
	}
}

func TestEnforcer_ImpliedRoles(t *testing.T) {
	t.Parallel()
	e := setupEnforcer(t)
	got := e.ImpliedRoles(RoleAdmin)
	sort.Strings(got)
	want := []string{RoleAdmin, RoleComplianceOfficer, RoleTrader}
	if len(got) != len(want) {
		t.Fatalf("ImpliedRoles(admin) = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("ImpliedRoles(admin) = %v, want %v", got, want)
			break
		}
	}
}

func TestEnforcer_Cache(t *testing.T) {
	t.Parallel()
	e := setupEnforcer(t)
	assertEnforce(t, e, RoleTrader, ObjectAuditLogs, ActionRead, false)
	assertEnforce(t, e, RoleTrader, ObjectAuditLogs, ActionRead, false)
	if n := e.cache.len(); n != 1 {
		t.Errorf("cache entries = %d, want 1", n)
	}
	e.ClearCache()
	if n := e.cache.len(); n != 0 {
		t.Errorf("cache entries after clear = %d, want 0", n)
	}
}

func TestDecisionCache_Expiry(t *testing.T) {
	t.Parallel()
	c := newDecisionCache(time.Minute)
	now := time.Date(2026, 5, 4, 0, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }

	c.set("admin", "audit:logs", "read", true)
	if allowed, ok := c.get("admin", "audit:logs", "read"); !ok || !allowed {
		t.Fatalf("get = %v, %v", allowed, ok)
	}
	now = now.Add(2 * time.Minute)
	if _, ok := c.get("admin", "audit:logs", "read"); ok {
		t.Error("expired entry served")
	}
}

func TestNewEnforcer_PolicyFileOverride(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	policyPath := filepath.Join(dir, "policy.csv")
	if err := os.WriteFile(policyPath, []byte("p, trader, audit:logs, read\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	e, err := NewEnforcer(EnforcerConfig{PolicyPath: policyPath})
	if err != nil {
		t.Fatalf("NewEnforcer() error = %v", err)
	}
	assertEnforce(t, e, RoleTrader, ObjectAuditLogs, ActionRead, true)
	assertEnforce(t, e, RoleSuperAdmin, ObjectAuditArchive, ActionExecute, false)
}

func TestLoadPolicy_Malformed(t *testing.T) {
	t.Parallel()
	e := setupEnforcer(t)
	if err := loadPolicy(e.enforcer, "p, only-two\n"); err == nil {
		t.Error("expected error for malformed line")
	}
}

func TestIsKnownRole(t *testing.T) {
	t.Parallel()
	for _, r := range Roles {
		if !IsKnownRole(r) {
			t.Errorf("IsKnownRole(%q) = false", r)
		}
	}
	if IsKnownRole("root") {
		t.Error("IsKnownRole(root) = true")
	}
}
