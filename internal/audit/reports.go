// TradeAudit - Trading Platform Audit and Telemetry Service
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tradeaudit

package audit

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"time"
)

// ReportType names one of the compliance reports.
type ReportType string

const (
	ReportDailyActivity ReportType = "daily_activity"
	ReportUserAccess    ReportType = "user_access"
	ReportTradeSummary  ReportType = "trade_summary"
	ReportAuditTrail    ReportType = "audit_trail"
	ReportFailedAuth    ReportType = "failed_auth"
)

// Roles referenced by the report catalog. Authorization itself is enforced
// by the authz package; these names only document the minimum.
const (
	RoleComplianceOfficer = "compliance_officer"
	RoleAdmin             = "admin"
	RoleSuperAdmin        = "super_admin"
)

const (
	topN = 10

	// SuspiciousFailureThreshold is exceeded (strictly) by a suspicious IP.
	SuspiciousFailureThreshold = 10

	// MaxAuditTrailRecords bounds the audit_trail listing.
	MaxAuditTrailRecords = 10000
)

// ReportParams selects a report. The period is half-open: [StartDate, EndDate).
type ReportParams struct {
	Type      ReportType
	StartDate time.Time
	EndDate   time.Time
	UserID    string
	Format    ReportFormat
}

// Period is a half-open time window.
type Period struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// Report is a generated compliance report. Data holds one of the *Report
// body types below.
type Report struct {
	ReportType  ReportType `json:"reportType"`
	GeneratedAt time.Time  `json:"generatedAt"`
	GeneratedBy string     `json:"generatedBy"`
	Period      Period     `json:"period"`
	Data        any        `json:"data"`
}

// ReportDefinition is one catalog entry.
type ReportDefinition struct {
	Type        ReportType `json:"type"`
	Name        string     `json:"name"`
	Description string     `json:"description"`
	MinimumRole string     `json:"minimumRole"`

	build func(ctx context.Context, s *Service, p ReportParams) (any, error)
}

var reportCatalog = []ReportDefinition{
	{
		Type:        ReportDailyActivity,
		Name:        "Daily Activity Report",
		Description: "Action counts by entity type, distinct users and the most active users",
		MinimumRole: RoleComplianceOfficer,
		build:       buildDailyActivity,
	},
	{
		Type:        ReportUserAccess,
		Name:        "User Access Report",
		Description: "Logins and logouts, distinct users, logins by hour of day and by user",
		MinimumRole: RoleComplianceOfficer,
		build:       buildUserAccess,
	},
	{
		Type:        ReportTradeSummary,
		Name:        "Trade Summary Report",
		Description: "Trade count, notional volume, fill rate, volume by product and top traders",
		MinimumRole: RoleComplianceOfficer,
		build:       buildTradeSummary,
	},
	{
		Type:        ReportAuditTrail,
		Name:        "Audit Trail Report",
		Description: "Full audit log listing for the period with integrity status",
		MinimumRole: RoleAdmin,
		build:       buildAuditTrail,
	},
	{
		Type:        ReportFailedAuth,
		Name:        "Failed Authentication Report",
		Description: "Failed logins and password resets, failures by IP and suspicious IPs",
		MinimumRole: RoleAdmin,
		build:       buildFailedAuth,
	},
}

// ReportCatalog returns every report definition in display order.
func ReportCatalog() []ReportDefinition {
	out := make([]ReportDefinition, len(reportCatalog))
	copy(out, reportCatalog)
	return out
}

// LookupReport finds a catalog entry by type.
func LookupReport(t ReportType) (ReportDefinition, bool) {
	for _, def := range reportCatalog {
		if def.Type == t {
			return def, true
		}
	}
	return ReportDefinition{}, false
}

// ActionCount is one action x entity type bucket.
type ActionCount struct {
	Action     Action     `json:"action"`
	EntityType EntityType `json:"entityType"`
	Count      int64      `json:"count"`
}

// DailyActivityReport is the body of daily_activity.
type DailyActivityReport struct {
	Activity    []ActionCount `json:"activity"`
	UniqueUsers int64         `json:"uniqueUsers"`
	TopUsers    []UserStat    `json:"topUsers"`
}

func buildDailyActivity(ctx context.Context, s *Service, p ReportParams) (any, error) {
	f := periodFilter(p)

	groups, err := s.store.CountBy(ctx, f, GroupAction, GroupEntityType)
	if err != nil {
		return nil, fmt.Errorf("group by action and entity: %w", err)
	}
	activity := make([]ActionCount, len(groups))
	for i, g := range groups {
		activity[i] = ActionCount{Action: Action(g.Keys[0]), EntityType: EntityType(g.Keys[1]), Count: g.Count}
	}

	unique, err := s.store.DistinctUsers(ctx, f)
	if err != nil {
		return nil, fmt.Errorf("count distinct users: %w", err)
	}
	top, err := s.topUsers(ctx, f, topN)
	if err != nil {
		return nil, err
	}
	return &DailyActivityReport{Activity: activity, UniqueUsers: unique, TopUsers: top}, nil
}

// UserAccessReport is the body of user_access.
type UserAccessReport struct {
	LoginCount   int64      `json:"loginCount"`
	LogoutCount  int64      `json:"logoutCount"`
	UniqueUsers  int64      `json:"uniqueUsers"`
	LoginsByHour [24]int64  `json:"loginsByHour"`
	LoginsByUser []UserStat `json:"loginsByUser"`
}

func buildUserAccess(ctx context.Context, s *Service, p ReportParams) (any, error) {
	logins := periodFilter(p)
	logins.Action = ActionUserLogin
	logouts := periodFilter(p)
	logouts.Action = ActionUserLogout
	both := periodFilter(p)
	both.Actions = []Action{ActionUserLogin, ActionUserLogout}

	var r UserAccessReport
	var err error
	if r.LoginCount, err = s.store.Count(ctx, logins); err != nil {
		return nil, fmt.Errorf("count logins: %w", err)
	}
	if r.LogoutCount, err = s.store.Count(ctx, logouts); err != nil {
		return nil, fmt.Errorf("count logouts: %w", err)
	}
	if r.UniqueUsers, err = s.store.DistinctUsers(ctx, both); err != nil {
		return nil, fmt.Errorf("count distinct users: %w", err)
	}

	byHour, err := s.store.CountBy(ctx, logins, GroupHourOfDay)
	if err != nil {
		return nil, fmt.Errorf("group logins by hour: %w", err)
	}
	for _, g := range byHour {
		h, err := strconv.Atoi(g.Keys[0])
		if err != nil || h < 0 || h > 23 {
			continue
		}
		r.LoginsByHour[h] = g.Count
	}

	byUser, err := s.store.CountBy(ctx, logins, GroupUserID)
	if err != nil {
		return nil, fmt.Errorf("group logins by user: %w", err)
	}
	r.LoginsByUser = make([]UserStat, len(byUser))
	for i, g := range byUser {
		r.LoginsByUser[i] = UserStat{UserID: g.Keys[0], Count: g.Count}
	}
	return &r, nil
}

// ProductVolume is per-product trade activity.
type ProductVolume struct {
	Product    string  `json:"product"`
	TradeCount int64   `json:"tradeCount"`
	Volume     float64 `json:"volume"`
}

// TraderVolume is per-trader notional volume.
type TraderVolume struct {
	TraderID   string  `json:"traderId"`
	TradeCount int64   `json:"tradeCount"`
	Volume     float64 `json:"volume"`
}

// TradeSummaryReport is the body of trade_summary.
type TradeSummaryReport struct {
	TradeCount  int64           `json:"tradeCount"`
	TotalVolume float64         `json:"totalVolume"`
	OrderCount  int64           `json:"orderCount"`
	FillRate    float64         `json:"fillRate"`
	ByProduct   []ProductVolume `json:"byProduct"`
	TopTraders  []TraderVolume  `json:"topTraders"`
}

func buildTradeSummary(ctx context.Context, s *Service, p ReportParams) (any, error) {
	trades, err := s.trading.Trades(ctx, p.StartDate, p.EndDate)
	if err != nil {
		return nil, fmt.Errorf("load trades: %w", err)
	}
	orders, err := s.trading.OrderCount(ctx, p.StartDate, p.EndDate)
	if err != nil {
		return nil, fmt.Errorf("count orders: %w", err)
	}
	return summarizeTrades(trades, orders), nil
}

func summarizeTrades(trades []Trade, orders int64) *TradeSummaryReport {
	r := &TradeSummaryReport{
		TradeCount: int64(len(trades)),
		OrderCount: orders,
		ByProduct:  []ProductVolume{},
		TopTraders: []TraderVolume{},
	}

	products := map[string]*ProductVolume{}
	traders := map[string]*TraderVolume{}
	for _, t := range trades {
		notional := t.Notional()
		r.TotalVolume += notional

		pv, ok := products[t.Product]
		if !ok {
			pv = &ProductVolume{Product: t.Product}
			products[t.Product] = pv
		}
		pv.TradeCount++
		pv.Volume += notional

		if t.TraderID == "" {
			continue
		}
		tv, ok := traders[t.TraderID]
		if !ok {
			tv = &TraderVolume{TraderID: t.TraderID}
			traders[t.TraderID] = tv
		}
		tv.TradeCount++
		tv.Volume += notional
	}

	if orders > 0 {
		r.FillRate = float64(r.TradeCount) / float64(orders)
	}

	for _, pv := range products {
		r.ByProduct = append(r.ByProduct, *pv)
	}
	sort.Slice(r.ByProduct, func(i, j int) bool {
		if r.ByProduct[i].Volume != r.ByProduct[j].Volume {
			return r.ByProduct[i].Volume > r.ByProduct[j].Volume
		}
		return r.ByProduct[i].Product < r.ByProduct[j].Product
	})

	for _, tv := range traders {
		r.TopTraders = append(r.TopTraders, *tv)
	}
	sort.Slice(r.TopTraders, func(i, j int) bool {
		if r.TopTraders[i].Volume != r.TopTraders[j].Volume {
			return r.TopTraders[i].Volume > r.TopTraders[j].Volume
		}
		return r.TopTraders[i].TraderID < r.TopTraders[j].TraderID
	})
	if len(r.TopTraders) > topN {
		r.TopTraders = r.TopTraders[:topN]
	}
	return r
}

// AuditTrailReport is the body of audit_trail.
type AuditTrailReport struct {
	UserID        string           `json:"userId,omitempty"`
	Logs          []VerifiedRecord `json:"logs"`
	VerifiedCount int64            `json:"verifiedCount"`
	FailedCount   int64            `json:"failedCount"`
	Truncated     bool             `json:"truncated"`
}

func buildAuditTrail(ctx context.Context, s *Service, p ReportParams) (any, error) {
	f := periodFilter(p)
	f.UserID = p.UserID

	total, err := s.store.Count(ctx, f)
	if err != nil {
		return nil, fmt.Errorf("count audit records: %w", err)
	}
	f.Limit = MaxAuditTrailRecords
	records, err := s.store.Search(ctx, f)
	if err != nil {
		return nil, fmt.Errorf("load audit records: %w", err)
	}

	logs, verified, failed := s.annotate(ctx, records)
	return &AuditTrailReport{
		UserID:        p.UserID,
		Logs:          logs,
		VerifiedCount: verified,
		FailedCount:   failed,
		Truncated:     total > int64(len(records)),
	}, nil
}

// IPFailures counts failed logins from one address.
type IPFailures struct {
	IPAddress string `json:"ipAddress"`
	Count     int64  `json:"count"`
}

// FailedAuthReport is the body of failed_auth.
type FailedAuthReport struct {
	FailedLoginCount   int64        `json:"failedLoginCount"`
	PasswordResetCount int64        `json:"passwordResetCount"`
	FailuresByIP       []IPFailures `json:"failuresByIp"`
	SuspiciousIPs      []IPFailures `json:"suspiciousIps"`
}

func buildFailedAuth(ctx context.Context, s *Service, p ReportParams) (any, error) {
	failed := periodFilter(p)
	failed.Action = ActionLoginFailed
	resets := periodFilter(p)
	resets.Action = ActionPasswordResetRequested

	r := &FailedAuthReport{FailuresByIP: []IPFailures{}, SuspiciousIPs: []IPFailures{}}
	var err error
	if r.FailedLoginCount, err = s.store.Count(ctx, failed); err != nil {
		return nil, fmt.Errorf("count failed logins: %w", err)
	}
	if r.PasswordResetCount, err = s.store.Count(ctx, resets); err != nil {
		return nil, fmt.Errorf("count password resets: %w", err)
	}

	byIP, err := s.store.CountBy(ctx, failed, GroupIPAddress)
	if err != nil {
		return nil, fmt.Errorf("group failed logins by ip: %w", err)
	}
	for _, g := range byIP {
		entry := IPFailures{IPAddress: g.Keys[0], Count: g.Count}
		r.FailuresByIP = append(r.FailuresByIP, entry)
		if entry.Count > SuspiciousFailureThreshold {
			r.SuspiciousIPs = append(r.SuspiciousIPs, entry)
		}
	}
	return r, nil
}

func periodFilter(p ReportParams) Filter {
	start, end := p.StartDate, p.EndDate
	return Filter{Start: &start, End: &end}
}
