// TradeAudit - Trading Platform Audit and Telemetry Service
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tradeaudit

package api

import (
	"net/http"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/tomtom215/tradeaudit/internal/audit"
	"github.com/tomtom215/tradeaudit/internal/authz"
)

const (
	officerID = "officer-1"
	traderID  = "trader-1"
)

func TestSearchAuditLogs_EnvelopeAndPagination(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	for i := 0; i < 3; i++ {
		env.logEntry(t, traderID, audit.ActionOrderCreated, audit.EntityOrder, "ord-1")
	}

	rec := env.do(t, http.MethodGet, "/api/v1/audit/logs?limit=2&entityType=order", officerID, authz.RoleComplianceOfficer, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}

	var result audit.SearchResult
	e := decodeData(t, rec, &result)
	if len(result.Logs) != 2 {
		t.Fatalf("len(logs) = %d, want 2", len(result.Logs))
	}
	for _, l := range result.Logs {
		if !l.IntegrityValid {
			t.Errorf("record %s integrityValid = false", l.ID)
		}
	}
	if result.Pagination.Total != 3 || result.Pagination.TotalPages != 2 {
		t.Errorf("pagination = %+v, want total 3 over 2 pages", result.Pagination)
	}
	if e.Meta == nil || e.Meta.Pagination == nil || e.Meta.Pagination.Total != 3 {
		t.Errorf("meta.pagination = %+v, want total 3", e.Meta)
	}
	if e.Meta.RequestID == "" {
		t.Error("meta.requestId is empty")
	}
	if got := rec.Header().Get("X-Request-ID"); got != e.Meta.RequestID {
		t.Errorf("X-Request-ID = %q, meta.requestId = %q", got, e.Meta.RequestID)
	}
}

func TestSearchAuditLogs_Validation(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)

	tests := []struct {
		name      string
		query     string
		wantField string
	}{
		{"page zero", "page=0", "page"},
		{"limit too large", "limit=101", "limit"},
		{"limit zero", "limit=0", "limit"},
		{"limit not a number", "limit=ten", "limit"},
		{"unknown entity type", "entityType=WIDGET", "entityType"},
		{"unknown action", "action=DANCED", "action"},
		{"bad start date", "startDate=yesterday", "startDate"},
		{"end before start", "startDate=2026-05-02&endDate=2026-05-01", "endDate"},
		{"bad ip", "ipAddress=300.1.1.1", "ipAddress"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := env.do(t, http.MethodGet, "/api/v1/audit/logs?"+tt.query, officerID, authz.RoleComplianceOfficer, nil)
			fields := expectError(t, rec, http.StatusBadRequest, ErrCodeValidation)
			if !containsString(fields, tt.wantField) {
				t.Errorf("details fields = %v, want %q", fields, tt.wantField)
			}
		})
	}
}

func TestSearchAuditLogs_AcceptsBoundaryLimits(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)

	for _, q := range []string{"limit=1", "limit=100", "page=3&limit=50", "startDate=2026-01-01T00:00:00Z&endDate=2026-02-01"} {
		rec := env.do(t, http.MethodGet, "/api/v1/audit/logs?"+q, officerID, authz.RoleComplianceOfficer, nil)
		if rec.Code != http.StatusOK {
			t.Errorf("%s: status = %d, body %s", q, rec.Code, rec.Body.String())
		}
	}
}

func TestSearchAuditLogs_Authorization(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/api/v1/audit/logs", "", "", nil)
	expectError(t, rec, http.StatusUnauthorized, ErrCodeUnauthorized)

	rec = env.do(t, http.MethodGet, "/api/v1/audit/logs", traderID, authz.RoleTrader, nil)
	expectError(t, rec, http.StatusForbidden, ErrCodeForbidden)
}

func TestUserAuditLogs(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	env.logEntry(t, traderID, audit.ActionUserLogin, audit.EntityUser, traderID)
	env.logEntry(t, "trader-2", audit.ActionUserLogin, audit.EntityUser, "trader-2")

	tests := []struct {
		name       string
		path       string
		userID     string
		role       string
		wantStatus int
		wantLimit  int
	}{
		{"trader reads own", "/api/v1/audit/users/trader-1/logs", traderID, authz.RoleTrader, http.StatusOK, 100},
		{"trader reads other", "/api/v1/audit/users/trader-2/logs", traderID, authz.RoleTrader, http.StatusForbidden, 0},
		{"officer reads other", "/api/v1/audit/users/trader-2/logs?limit=500", officerID, authz.RoleComplianceOfficer, http.StatusOK, 500},
		{"limit above cap", "/api/v1/audit/users/trader-2/logs?limit=501", officerID, authz.RoleComplianceOfficer, http.StatusBadRequest, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := env.do(t, http.MethodGet, tt.path, tt.userID, tt.role, nil)
			if rec.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d (body %s)", rec.Code, tt.wantStatus, rec.Body.String())
			}
			if tt.wantStatus != http.StatusOK {
				return
			}
			var result audit.SearchResult
			decodeData(t, rec, &result)
			if result.Pagination.Limit != tt.wantLimit {
				t.Errorf("limit = %d, want %d", result.Pagination.Limit, tt.wantLimit)
			}
			if len(result.Logs) == 0 {
				t.Fatal("expected at least one record")
			}
			for _, l := range result.Logs {
				if l.UserID == nil || !strings.HasPrefix(*l.UserID, "trader-") {
					t.Errorf("unexpected record owner %v", l.UserID)
				}
			}
		})
	}
}

func TestEntityAuditLogs(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	env.logEntry(t, traderID, audit.ActionTradeExecuted, audit.EntityTrade, "trd-9")
	env.logEntry(t, traderID, audit.ActionTradeSettled, audit.EntityTrade, "trd-9")
	env.logEntry(t, traderID, audit.ActionTradeExecuted, audit.EntityTrade, "trd-10")

	rec := env.do(t, http.MethodGet, "/api/v1/audit/entities/trade/trd-9/logs", officerID, authz.RoleComplianceOfficer, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	var result audit.SearchResult
	decodeData(t, rec, &result)
	if result.Pagination.Total != 2 {
		t.Errorf("total = %d, want 2", result.Pagination.Total)
	}
	if result.Pagination.Limit != scopedDefaultLimit {
		t.Errorf("limit = %d, want %d", result.Pagination.Limit, scopedDefaultLimit)
	}

	rec = env.do(t, http.MethodGet, "/api/v1/audit/entities/WIDGET/w-1/logs", officerID, authz.RoleComplianceOfficer, nil)
	fields := expectError(t, rec, http.StatusBadRequest, ErrCodeValidation)
	if !containsString(fields, "entityType") {
		t.Errorf("details fields = %v, want entityType", fields)
	}
}

func TestVerifyIntegrity(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	rec := env.logEntry(t, traderID, audit.ActionOrderExecuted, audit.EntityOrder, "ord-7")

	tests := []struct {
		name      string
		body      any
		wantValid bool
		wantField string
	}{
		{"stored record", VerifyIntegrityRequest{AuditLogID: rec.ID}, true, ""},
		{"unknown id", VerifyIntegrityRequest{AuditLogID: uuid.NewString()}, false, ""},
		{"not a uuid", VerifyIntegrityRequest{AuditLogID: "12345"}, false, "auditLogId"},
		{"missing id", map[string]string{}, false, "auditLogId"},
		{"unknown field", map[string]string{"id": rec.ID}, false, "body"},
		{"malformed json", "{", false, "body"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := env.do(t, http.MethodPost, "/api/v1/audit/verify-integrity", officerID, authz.RoleComplianceOfficer, tt.body)
			if tt.wantField != "" {
				fields := expectError(t, resp, http.StatusBadRequest, ErrCodeValidation)
				if !containsString(fields, tt.wantField) {
					t.Errorf("details fields = %v, want %q", fields, tt.wantField)
				}
				return
			}
			var out VerifyIntegrityResponse
			decodeData(t, resp, &out)
			if out.IntegrityValid != tt.wantValid {
				t.Errorf("integrityValid = %v, want %v", out.IntegrityValid, tt.wantValid)
			}
			if out.VerifiedAt.IsZero() {
				t.Error("verifiedAt not set")
			}
		})
	}
}

func TestReportTypes_FilteredByRole(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)

	tests := []struct {
		role string
		want []audit.ReportType
	}{
		{authz.RoleComplianceOfficer, []audit.ReportType{audit.ReportDailyActivity, audit.ReportUserAccess, audit.ReportTradeSummary}},
		{authz.RoleAdmin, []audit.ReportType{
			audit.ReportDailyActivity, audit.ReportUserAccess, audit.ReportTradeSummary,
			audit.ReportAuditTrail, audit.ReportFailedAuth,
		}},
	}

	for _, tt := range tests {
		t.Run(tt.role, func(t *testing.T) {
			rec := env.do(t, http.MethodGet, "/api/v1/audit/reports/types", "u-"+tt.role, tt.role, nil)
			var defs []audit.ReportDefinition
			decodeData(t, rec, &defs)
			if len(defs) != len(tt.want) {
				t.Fatalf("got %d report types, want %d", len(defs), len(tt.want))
			}
			for i, d := range defs {
				if d.Type != tt.want[i] {
					t.Errorf("defs[%d] = %s, want %s", i, d.Type, tt.want[i])
				}
				if d.MinimumRole == "" {
					t.Errorf("defs[%d] has no minimumRole", i)
				}
			}
		})
	}

	rec := env.do(t, http.MethodGet, "/api/v1/audit/reports/types", traderID, authz.RoleTrader, nil)
	expectError(t, rec, http.StatusForbidden, ErrCodeForbidden)
}

func TestGenerateReport(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	env.logEntry(t, traderID, audit.ActionUserLogin, audit.EntityUser, traderID)

	start := time.Now().UTC().Add(-time.Hour).Format(time.RFC3339)
	end := time.Now().UTC().Add(time.Hour).Format(time.RFC3339)
	req := func(reportType, format string) GenerateReportRequest {
		return GenerateReportRequest{ReportType: reportType, StartDate: start, EndDate: end, Format: format}
	}

	tests := []struct {
		name       string
		role       string
		body       GenerateReportRequest
		wantStatus int
		wantCode   string
	}{
		{"unknown type", authz.RoleAdmin, req("weekly_pnl", "json"), http.StatusBadRequest, ErrCodeValidation},
		{"unknown format", authz.RoleAdmin, req("daily_activity", "xml"), http.StatusBadRequest, ErrCodeValidation},
		{"pdf not implemented", authz.RoleAdmin, req("daily_activity", "pdf"), http.StatusNotImplemented, ErrCodeNotImplemented},
		{"officer below audit_trail minimum", authz.RoleComplianceOfficer, req("audit_trail", "json"), http.StatusForbidden, ErrCodeForbidden},
		{"trader below every minimum", authz.RoleTrader, req("daily_activity", "json"), http.StatusForbidden, ErrCodeForbidden},
		{"inverted period", authz.RoleAdmin, GenerateReportRequest{ReportType: "daily_activity", StartDate: end, EndDate: start}, http.StatusBadRequest, ErrCodeValidation},
		{"missing dates", authz.RoleAdmin, GenerateReportRequest{ReportType: "daily_activity"}, http.StatusBadRequest, ErrCodeValidation},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := env.do(t, http.MethodPost, "/api/v1/audit/reports/generate", "u-"+tt.role, tt.role, tt.body)
			expectError(t, rec, tt.wantStatus, tt.wantCode)
		})
	}

	t.Run("json defaults", func(t *testing.T) {
		rec := env.do(t, http.MethodPost, "/api/v1/audit/reports/generate", "admin-1", authz.RoleAdmin, req("audit_trail", ""))
		var report audit.Report
		decodeData(t, rec, &report)
		if report.ReportType != audit.ReportAuditTrail {
			t.Errorf("reportType = %s, want audit_trail", report.ReportType)
		}
		if report.GeneratedBy != "admin-1" {
			t.Errorf("generatedBy = %q, want admin-1", report.GeneratedBy)
		}
	})

	t.Run("csv download", func(t *testing.T) {
		rec := env.do(t, http.MethodPost, "/api/v1/audit/reports/generate", officerID, authz.RoleComplianceOfficer, req("DAILY_ACTIVITY", "CSV"))
		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
		}
		if ct := rec.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/csv") {
			t.Errorf("Content-Type = %q, want text/csv", ct)
		}
		disposition := regexp.MustCompile(`^attachment; filename="daily_activity_\d{8}T\d{6}Z\.csv"$`)
		if cd := rec.Header().Get("Content-Disposition"); !disposition.MatchString(cd) {
			t.Errorf("Content-Disposition = %q", cd)
		}
		if !strings.Contains(rec.Body.String(), "daily_activity") {
			t.Errorf("csv body does not name the report: %q", rec.Body.String())
		}
	})
}

func TestArchiveLogs(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/api/v1/audit/archive", "root-1", authz.RoleSuperAdmin, ArchiveRequest{DaysToKeep: 364})
	fields := expectError(t, rec, http.StatusBadRequest, ErrCodeValidation)
	if !containsString(fields, "daysToKeep") {
		t.Errorf("details fields = %v, want daysToKeep", fields)
	}

	rec = env.do(t, http.MethodPost, "/api/v1/audit/archive", "admin-1", authz.RoleAdmin, ArchiveRequest{DaysToKeep: 400})
	expectError(t, rec, http.StatusForbidden, ErrCodeForbidden)

	rec = env.do(t, http.MethodPost, "/api/v1/audit/archive", "root-1", authz.RoleSuperAdmin, ArchiveRequest{DaysToKeep: 365})
	var out ArchiveResponse
	decodeData(t, rec, &out)
	if out.DaysToKeep != 365 || out.ArchivedCount != 0 {
		t.Errorf("archive response = %+v", out)
	}
}

func TestAuditStats(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	env.logEntry(t, traderID, audit.ActionUserLogin, audit.EntityUser, traderID)
	env.logEntry(t, traderID, audit.ActionOrderCreated, audit.EntityOrder, "ord-1")

	rec := env.do(t, http.MethodGet, "/api/v1/audit/stats", officerID, authz.RoleComplianceOfficer, nil)
	var stats audit.Stats
	decodeData(t, rec, &stats)
	if stats.Total != 2 {
		t.Errorf("total = %d, want 2", stats.Total)
	}
	if stats.Integrity.Verified != 2 || stats.Integrity.Failed != 0 {
		t.Errorf("integrity = %+v, want 2 verified", stats.Integrity)
	}
	if window := stats.Period.End.Sub(stats.Period.Start); window != defaultStatsWindow {
		t.Errorf("default window = %s, want %s", window, defaultStatsWindow)
	}

	rec = env.do(t, http.MethodGet, "/api/v1/audit/stats?startDate=2026-03-01&endDate=2026-02-01", officerID, authz.RoleComplianceOfficer, nil)
	expectError(t, rec, http.StatusBadRequest, ErrCodeValidation)
}
