// TradeAudit - Trading Platform Audit and Telemetry Service
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tradeaudit

package audit

import (
	"context"
	"errors"
	"fmt"
	"net/http/httptest"
	"sync"
	"testing"
	"time"
)

// stepClock advances by step on every call so records get distinct times.
type stepClock struct {
	mu   sync.Mutex
	now  time.Time
	step time.Duration
}

func newStepClock(start time.Time, step time.Duration) *stepClock {
	return &stepClock{now: start, step: step}
}

func (c *stepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(c.step)
	return c.now
}

type testEnv struct {
	svc       *Service
	store     *MemoryStore
	escalator *MemoryEscalator
	alerter   *MemoryAlerter
	trading   *MemoryTradingSource
	clock     *stepClock
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	env := &testEnv{
		store:     NewMemoryStore(),
		escalator: NewMemoryEscalator(),
		alerter:   &MemoryAlerter{},
		trading:   NewMemoryTradingSource(),
		clock:     newStepClock(time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC), time.Second),
	}
	env.svc = NewService(ServiceConfig{
		Store:             env.store,
		Codec:             testCodec(t),
		Escalator:         env.escalator,
		Alerter:           env.alerter,
		Trading:           env.trading,
		Clock:             env.clock.Now,
		WriteRetryBackoff: time.Millisecond,
	})
	return env
}

func (env *testEnv) mustLog(t *testing.T, e Entry) *Record {
	t.Helper()
	rec, err := env.svc.Log(context.Background(), e)
	if err != nil {
		t.Fatalf("Log(%s): %v", e.Action, err)
	}
	return rec
}

func TestLog_AssemblesRecord(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)

	req := httptest.NewRequest("POST", "/orders", nil)
	req.Header.Set("X-Forwarded-For", "203.0.113.7, 10.0.0.1")
	req.Header.Set("User-Agent", "trader-ui/1.0")

	rec := env.mustLog(t, Entry{
		UserID:     strPtr("u1"),
		Action:     ActionOrderUpdated,
		EntityType: EntityOrder,
		EntityID:   strPtr("o1"),
		Metadata:   map[string]any{"reason": "price change"},
		OldValue:   map[string]any{"price": 100},
		NewValue:   map[string]any{"price": 101},
		Request:    RequestContextFromHTTP(req),
	})

	if rec.ID == "" || rec.Checksum == "" {
		t.Fatalf("expected id and checksum to be set: %+v", rec)
	}
	if rec.IPAddress != "203.0.113.7" {
		t.Errorf("IPAddress = %q, want first forwarded hop", rec.IPAddress)
	}
	if rec.UserAgent != "trader-ui/1.0" {
		t.Errorf("UserAgent = %q", rec.UserAgent)
	}
	for _, key := range []string{"reason", "oldValue", "newValue", "capturedAt"} {
		if _, ok := rec.Metadata[key]; !ok {
			t.Errorf("metadata missing %q: %v", key, rec.Metadata)
		}
	}
	if rec.CreatedAt.Nanosecond()%int(time.Millisecond) != 0 {
		t.Errorf("createdAt not truncated to milliseconds: %v", rec.CreatedAt)
	}

	stored, err := env.store.Get(context.Background(), rec.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !env.svc.codec.Verify(stored) {
		t.Error("stored record does not verify")
	}
}

func TestLog_InvalidEntry(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)

	tests := []Entry{
		{Action: "NOT_AN_ACTION", EntityType: EntityUser},
		{Action: ActionUserLogin, EntityType: "PLANET"},
	}
	for _, e := range tests {
		_, err := env.svc.Log(context.Background(), e)
		if !errors.Is(err, ErrInvalidEntry) {
			t.Errorf("Log(%+v) error = %v, want ErrInvalidEntry", e, err)
		}
	}
	if n, _ := env.store.Count(context.Background(), Filter{}); n != 0 {
		t.Errorf("invalid entries were stored: %d", n)
	}
}

func TestLog_CriticalEscalation(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)

	critical := env.mustLog(t, Entry{UserID: strPtr("u1"), Action: ActionAccountDeleted, EntityType: EntityUser, EntityID: strPtr("u1")})
	env.mustLog(t, Entry{UserID: strPtr("u1"), Action: ActionProfileUpdated, EntityType: EntityUser, EntityID: strPtr("u1")})

	if n, _ := env.store.Count(context.Background(), Filter{}); n != 2 {
		t.Fatalf("primary store has %d records, want 2", n)
	}
	escalated := env.escalator.Records()
	if len(escalated) != 1 {
		t.Fatalf("escalated %d records, want 1", len(escalated))
	}
	if escalated[0].ID != critical.ID {
		t.Errorf("escalated %s, want %s", escalated[0].ID, critical.ID)
	}
}

func TestLog_PrimaryFailureAlertsAndStillEscalates(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	env.store.SetCreateError(errors.New("disk full"))

	rec, err := env.svc.Log(context.Background(), Entry{
		UserID:     strPtr("admin"),
		Action:     ActionRoleChanged,
		EntityType: EntityUser,
		EntityID:   strPtr("u7"),
	})
	if !errors.Is(err, ErrPrimaryWriteFailed) {
		t.Fatalf("error = %v, want ErrPrimaryWriteFailed", err)
	}
	if rec == nil {
		t.Fatal("expected the assembled record even on failure")
	}

	alerts := env.alerter.Alerts()
	if len(alerts) != 1 || alerts[0].Record.ID != rec.ID {
		t.Fatalf("alerts = %+v, want one alert for %s", alerts, rec.ID)
	}
	if len(env.escalator.Records()) != 1 {
		t.Error("critical record was not escalated when the primary write failed")
	}
}

func TestLog_EscalationFailureDoesNotFailLog(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	env.escalator.SetError(errors.New("badger closed"))

	if _, err := env.svc.Log(context.Background(), Entry{Action: ActionTradeConfirmed, EntityType: EntityTrade, EntityID: strPtr("t1")}); err != nil {
		t.Fatalf("Log: %v", err)
	}
	if n, _ := env.store.Count(context.Background(), Filter{}); n != 1 {
		t.Errorf("primary store has %d records, want 1", n)
	}
}

func TestVerifyIntegrity(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	tests := []struct {
		name   string
		mutate func(r *Record)
		want   bool
	}{
		{"untouched", nil, true},
		{"user id", func(r *Record) { r.UserID = strPtr("mallory") }, false},
		{"action", func(r *Record) { r.Action = ActionUserLogout }, false},
		{"entity type", func(r *Record) { r.EntityType = EntitySession }, false},
		{"entity id", func(r *Record) { r.EntityID = strPtr("s2") }, false},
		{"metadata", func(r *Record) { r.Metadata["device"] = "tampered" }, false},
		{"created at", func(r *Record) { r.CreatedAt = r.CreatedAt.Add(-time.Hour) }, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			rec := env.mustLog(t, Entry{
				UserID:     strPtr("alice"),
				Action:     ActionUserLogin,
				EntityType: EntityUser,
				EntityID:   strPtr("s1"),
				Metadata:   map[string]any{"device": "laptop"},
			})
			if tt.mutate != nil {
				env.store.mutate(rec.ID, tt.mutate)
			}
			got, err := env.svc.VerifyIntegrity(ctx, rec.ID)
			if err != nil {
				t.Fatalf("VerifyIntegrity: %v", err)
			}
			if got != tt.want {
				t.Errorf("VerifyIntegrity() = %v, want %v", got, tt.want)
			}
			if reported := len(env.alerter.Tampered()) == 1; reported == tt.want {
				t.Errorf("integrity alert raised = %v for valid = %v", reported, tt.want)
			}
		})
	}

	t.Run("unknown id", func(t *testing.T) {
		env := newTestEnv(t)
		got, err := env.svc.VerifyIntegrity(ctx, "01900000-0000-7000-8000-000000000000")
		if err != nil || got {
			t.Errorf("VerifyIntegrity(unknown) = %v, %v; want false, nil", got, err)
		}
	})
}

func TestSearchAuditLogs_Pagination(t *testing.T) {
	t.Parallel()

	tests := []struct {
		n, limit     int
		wantPages    int64
		wantLastPage int
	}{
		{n: 23, limit: 5, wantPages: 5, wantLastPage: 3},
		{n: 20, limit: 5, wantPages: 4, wantLastPage: 5},
		{n: 1, limit: 50, wantPages: 1, wantLastPage: 1},
	}

	for _, tt := range tests {
		env := newTestEnv(t)
		for i := 0; i < tt.n; i++ {
			env.mustLog(t, Entry{UserID: strPtr("bob"), Action: ActionRFQCreated, EntityType: EntityRFQ})
		}

		res, err := env.svc.SearchAuditLogs(context.Background(), Actor{UserID: "auditor"}, SearchParams{
			UserID: "bob",
			Page:   int(tt.wantPages),
			Limit:  tt.limit,
		})
		if err != nil {
			t.Fatalf("SearchAuditLogs: %v", err)
		}
		if res.Pagination.Total != int64(tt.n) {
			t.Errorf("n=%d: total = %d", tt.n, res.Pagination.Total)
		}
		if res.Pagination.TotalPages != tt.wantPages {
			t.Errorf("n=%d: totalPages = %d, want %d", tt.n, res.Pagination.TotalPages, tt.wantPages)
		}
		if len(res.Logs) != tt.wantLastPage {
			t.Errorf("n=%d: last page has %d logs, want %d", tt.n, len(res.Logs), tt.wantLastPage)
		}
	}
}

func TestSearchAuditLogs_EndToEnd(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	ctx := context.Background()

	a := env.mustLog(t, Entry{UserID: strPtr("carol"), Action: ActionUserLogin, EntityType: EntitySession})
	b := env.mustLog(t, Entry{UserID: strPtr("carol"), Action: ActionRFQCreated, EntityType: EntityRFQ})
	c := env.mustLog(t, Entry{UserID: strPtr("carol"), Action: ActionUserLogout, EntityType: EntitySession})
	if !(a.CreatedAt.Before(b.CreatedAt) && b.CreatedAt.Before(c.CreatedAt)) {
		t.Fatal("clock did not advance between records")
	}

	res, err := env.svc.SearchAuditLogs(ctx, Actor{UserID: "auditor"}, SearchParams{UserID: "carol", Limit: 2})
	if err != nil {
		t.Fatalf("SearchAuditLogs: %v", err)
	}
	if len(res.Logs) != 2 {
		t.Fatalf("got %d logs, want 2", len(res.Logs))
	}
	if res.Logs[0].ID != c.ID || res.Logs[1].ID != b.ID {
		t.Errorf("order = [%s %s], want [C B]", res.Logs[0].Action, res.Logs[1].Action)
	}
	for _, l := range res.Logs {
		if !l.IntegrityValid {
			t.Errorf("record %s should verify", l.ID)
		}
	}
	if res.Pagination.Total != 3 || res.Pagination.TotalPages != 2 {
		t.Errorf("pagination = %+v, want total 3, pages 2", res.Pagination)
	}

	access, _ := env.store.Search(ctx, Filter{Action: ActionAuditLogAccess})
	if len(access) != 1 {
		t.Fatalf("expected one AUDIT_LOG_ACCESS record, got %d", len(access))
	}
	if access[0].UserID == nil || *access[0].UserID != "auditor" || access[0].EntityType != EntityAuditLog {
		t.Errorf("unexpected access record: %+v", access[0])
	}
	if len(env.escalator.Records()) != 1 {
		t.Error("AUDIT_LOG_ACCESS should be escalated as critical")
	}
}

func TestSearchAuditLogs_DateRangeIsHalfOpen(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)

	first := env.mustLog(t, Entry{Action: ActionUserLogin, EntityType: EntityUser})
	second := env.mustLog(t, Entry{Action: ActionUserLogin, EntityType: EntityUser})

	start := first.CreatedAt
	end := second.CreatedAt
	res, err := env.svc.SearchAuditLogs(context.Background(), Actor{}, SearchParams{
		Action:    ActionUserLogin,
		StartDate: &start,
		EndDate:   &end,
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Logs) != 1 || res.Logs[0].ID != first.ID {
		t.Errorf("expected only the record at the start bound, got %d logs", len(res.Logs))
	}
}

func TestSearchParams_Normalize(t *testing.T) {
	t.Parallel()
	tests := []struct {
		in        SearchParams
		wantPage  int
		wantLimit int
	}{
		{SearchParams{}, 1, DefaultPageSize},
		{SearchParams{Page: -3, Limit: 1000}, 1, MaxPageSize},
		{SearchParams{Page: 2, Limit: 1000, MaxLimit: 500}, 2, 500},
		{SearchParams{Page: 4, Limit: 7}, 4, 7},
	}
	for _, tt := range tests {
		p := tt.in
		p.Normalize()
		if p.Page != tt.wantPage || p.Limit != tt.wantLimit {
			t.Errorf("Normalize(%+v) = page %d limit %d, want %d %d", tt.in, p.Page, p.Limit, tt.wantPage, tt.wantLimit)
		}
	}
}

func TestArchiveOldLogs(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	env := newTestEnv(t)

	if _, err := env.svc.ArchiveOldLogs(ctx, Actor{UserID: "root"}, 364); !errors.Is(err, ErrRetentionTooShort) {
		t.Fatalf("daysToKeep=364: error = %v, want ErrRetentionTooShort", err)
	}

	env.mustLog(t, Entry{Action: ActionUserLogin, EntityType: EntityUser})
	env.mustLog(t, Entry{Action: ActionUserLogin, EntityType: EntityUser})
	// Jump the clock past the retention window.
	env.clock.mu.Lock()
	env.clock.now = env.clock.now.Add(400 * 24 * time.Hour)
	env.clock.mu.Unlock()
	recent := env.mustLog(t, Entry{Action: ActionUserLogin, EntityType: EntityUser})

	moved, err := env.svc.ArchiveOldLogs(ctx, Actor{UserID: "root"}, MinRetentionDays)
	if err != nil {
		t.Fatalf("ArchiveOldLogs: %v", err)
	}
	if moved != 2 {
		t.Errorf("moved = %d, want 2", moved)
	}
	if env.store.Archived() != 2 {
		t.Errorf("archived = %d, want 2", env.store.Archived())
	}
	if _, err := env.store.Get(ctx, recent.ID); err != nil {
		t.Errorf("recent record should remain: %v", err)
	}

	archivedLogs, _ := env.store.Search(ctx, Filter{Action: ActionAuditLogArchived})
	if len(archivedLogs) != 1 {
		t.Fatalf("expected one AUDIT_LOG_ARCHIVED record, got %d", len(archivedLogs))
	}
	if got := archivedLogs[0].Metadata["archivedCount"]; fmt.Sprint(got) != "2" {
		t.Errorf("archivedCount metadata = %v", got)
	}
}

func TestStats(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	env := newTestEnv(t)

	start := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		env.mustLog(t, Entry{UserID: strPtr("dave"), Action: ActionOrderCreated, EntityType: EntityOrder})
	}
	tampered := env.mustLog(t, Entry{UserID: strPtr("erin"), Action: ActionUserLogin, EntityType: EntitySession})
	env.store.mutate(tampered.ID, func(r *Record) { r.Action = ActionUserLogout })

	stats, err := env.svc.Stats(ctx, start, start.Add(time.Hour))
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if stats.Total != 4 {
		t.Errorf("total = %d, want 4", stats.Total)
	}
	if stats.ByAction[string(ActionOrderCreated)] != 3 {
		t.Errorf("byAction = %v", stats.ByAction)
	}
	if stats.ByEntityType[string(EntityOrder)] != 3 || stats.ByEntityType[string(EntitySession)] != 1 {
		t.Errorf("byEntityType = %v", stats.ByEntityType)
	}
	if len(stats.TopUsers) != 2 || stats.TopUsers[0].UserID != "dave" {
		t.Errorf("topUsers = %+v", stats.TopUsers)
	}
	if stats.Integrity.Verified != 3 || stats.Integrity.Failed != 1 {
		t.Errorf("integrity = %+v, want 3 verified, 1 failed", stats.Integrity)
	}
}
