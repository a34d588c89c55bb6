// TradeAudit - Trading Platform Audit and Telemetry Service
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tradeaudit

package api

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/tomtom215/tradeaudit/internal/audit"
	"github.com/tomtom215/tradeaudit/internal/authz"
)

func withCriticalStore(t *testing.T) (envOption, *audit.CriticalStore) {
	t.Helper()
	store, err := audit.OpenInMemoryCriticalStore()
	if err != nil {
		t.Fatalf("OpenInMemoryCriticalStore: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return func(d *HandlerDeps) { d.Critical = store }, store
}

func TestCriticalEntries(t *testing.T) {
	t.Parallel()
	opt, store := withCriticalStore(t)
	env := newTestEnv(t, opt)

	for _, id := range []string{"crit-1", "crit-2", "crit-3"} {
		rec := &audit.Record{ID: id, Action: audit.ActionTradeExecuted, EntityType: audit.EntityTrade, CreatedAt: time.Now().UTC()}
		if err := store.Put(context.Background(), rec); err != nil {
			t.Fatalf("Put: %v", err)
		}
	}

	rec := env.do(t, http.MethodGet, "/api/v1/audit/critical?limit=2", "admin-1", authz.RoleAdmin, nil)
	var listing CriticalEntries
	decodeData(t, rec, &listing)
	if listing.Total != 3 || len(listing.Entries) != 2 {
		t.Fatalf("listing = %d entries of %d, want 2 of 3", len(listing.Entries), listing.Total)
	}
	if listing.Entries[0].Record.ID != "crit-1" {
		t.Errorf("first entry = %s, want oldest first", listing.Entries[0].Record.ID)
	}

	rec = env.do(t, http.MethodGet, "/api/v1/audit/critical?since=2200-01-01", "admin-1", authz.RoleAdmin, nil)
	listing = CriticalEntries{}
	decodeData(t, rec, &listing)
	if listing.Entries == nil || len(listing.Entries) != 0 || listing.Total != 3 {
		t.Errorf("future since = %+v, want empty entries and total 3", listing)
	}

	rec = env.do(t, http.MethodGet, "/api/v1/audit/critical/crit-2", "super-1", authz.RoleSuperAdmin, nil)
	var entry audit.CriticalEntry
	decodeData(t, rec, &entry)
	if entry.Record == nil || entry.Record.ID != "crit-2" || entry.EscalatedAt.IsZero() {
		t.Errorf("entry = %+v", entry)
	}
}

func TestCriticalEntries_Errors(t *testing.T) {
	t.Parallel()
	opt, _ := withCriticalStore(t)
	env := newTestEnv(t, opt)
	bare := newTestEnv(t)

	tests := []struct {
		name   string
		env    *testEnv
		path   string
		role   string
		status int
		code   string
	}{
		{"compliance officer denied", env, "/api/v1/audit/critical", authz.RoleComplianceOfficer, http.StatusForbidden, ErrCodeForbidden},
		{"trader denied", env, "/api/v1/audit/critical/crit-1", authz.RoleTrader, http.StatusForbidden, ErrCodeForbidden},
		{"bad since", env, "/api/v1/audit/critical?since=yesterday", authz.RoleAdmin, http.StatusBadRequest, ErrCodeValidation},
		{"limit too large", env, "/api/v1/audit/critical?limit=1001", authz.RoleAdmin, http.StatusBadRequest, ErrCodeValidation},
		{"unknown id", env, "/api/v1/audit/critical/missing", authz.RoleAdmin, http.StatusNotFound, ErrCodeNotFound},
		{"store not configured", bare, "/api/v1/audit/critical", authz.RoleAdmin, http.StatusServiceUnavailable, ErrCodeServiceUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := tt.env.do(t, http.MethodGet, tt.path, "user-1", tt.role, nil)
			expectError(t, rec, tt.status, tt.code)
		})
	}
}
