// TradeAudit - Trading Platform Audit and Telemetry Service
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tradeaudit

package audit

import (
	"net"
	"net/http"
	"strings"
	"time"
)

// Action identifies what happened. The set is closed; use Valid to check
// values arriving from outside the process.
type Action string

const (
	ActionUserRegistered         Action = "USER_REGISTERED"
	ActionUserLogin              Action = "USER_LOGIN"
	ActionUserLogout             Action = "USER_LOGOUT"
	ActionLoginFailed            Action = "LOGIN_FAILED"
	ActionPasswordChanged        Action = "PASSWORD_CHANGED"
	ActionPasswordResetRequested Action = "PASSWORD_RESET_REQUESTED"
	ActionPasswordResetCompleted Action = "PASSWORD_RESET_COMPLETED"
	ActionSessionTerminated      Action = "SESSION_TERMINATED"
	ActionProfileUpdated         Action = "PROFILE_UPDATED"
	ActionPreferencesUpdated     Action = "PREFERENCES_UPDATED"
	ActionAccountDeleted         Action = "ACCOUNT_DELETED"
	ActionRoleChanged            Action = "ROLE_CHANGED"
	ActionPermissionChanged      Action = "PERMISSION_CHANGED"
	ActionRFQCreated             Action = "RFQ_CREATED"
	ActionRFQUpdated             Action = "RFQ_UPDATED"
	ActionRFQCancelled           Action = "RFQ_CANCELLED"
	ActionRFQExpired             Action = "RFQ_EXPIRED"
	ActionRFQResponseSubmitted   Action = "RFQ_RESPONSE_SUBMITTED"
	ActionRFQResponseAccepted    Action = "RFQ_RESPONSE_ACCEPTED"
	ActionRFQResponseRejected    Action = "RFQ_RESPONSE_REJECTED"
	ActionOrderCreated           Action = "ORDER_CREATED"
	ActionOrderUpdated           Action = "ORDER_UPDATED"
	ActionOrderCancelled         Action = "ORDER_CANCELLED"
	ActionOrderExecuted          Action = "ORDER_EXECUTED"
	ActionTradeExecuted          Action = "TRADE_EXECUTED"
	ActionTradeConfirmed         Action = "TRADE_CONFIRMED"
	ActionTradeSettled           Action = "TRADE_SETTLED"
	ActionMarketBroadcastCreated Action = "MARKET_BROADCAST_CREATED"
	ActionMarketBroadcastUpdated Action = "MARKET_BROADCAST_UPDATED"
	ActionMarketBroadcastDeleted Action = "MARKET_BROADCAST_DELETED"
	ActionAuditLogAccess         Action = "AUDIT_LOG_ACCESS"
	ActionComplianceReportAccess Action = "COMPLIANCE_REPORT_ACCESS"
	ActionAdminAction            Action = "ADMIN_ACTION"
	ActionAuditLogArchived       Action = "AUDIT_LOG_ARCHIVED"
)

var knownActions = map[Action]struct{}{
	ActionUserRegistered: {}, ActionUserLogin: {}, ActionUserLogout: {}, ActionLoginFailed: {},
	ActionPasswordChanged: {}, ActionPasswordResetRequested: {}, ActionPasswordResetCompleted: {},
	ActionSessionTerminated: {}, ActionProfileUpdated: {}, ActionPreferencesUpdated: {},
	ActionAccountDeleted: {}, ActionRoleChanged: {}, ActionPermissionChanged: {},
	ActionRFQCreated: {}, ActionRFQUpdated: {}, ActionRFQCancelled: {}, ActionRFQExpired: {},
	ActionRFQResponseSubmitted: {}, ActionRFQResponseAccepted: {}, ActionRFQResponseRejected: {},
	ActionOrderCreated: {}, ActionOrderUpdated: {}, ActionOrderCancelled: {}, ActionOrderExecuted: {},
	ActionTradeExecuted: {}, ActionTradeConfirmed: {}, ActionTradeSettled: {},
	ActionMarketBroadcastCreated: {}, ActionMarketBroadcastUpdated: {}, ActionMarketBroadcastDeleted: {},
	ActionAuditLogAccess: {}, ActionComplianceReportAccess: {}, ActionAdminAction: {},
	ActionAuditLogArchived: {},
}

// Valid reports whether a is one of the declared actions.
func (a Action) Valid() bool {
	_, ok := knownActions[a]
	return ok
}

// IsCritical reports whether records with this action must also be escalated
// to the independent critical store.
func (a Action) IsCritical() bool {
	switch a {
	case ActionAccountDeleted,
		ActionRoleChanged,
		ActionPermissionChanged,
		ActionOrderExecuted,
		ActionTradeConfirmed,
		ActionAuditLogAccess,
		ActionComplianceReportAccess:
		return true
	default:
		return false
	}
}

// ParseAction converts an external value, rejecting unknown actions.
func ParseAction(s string) (Action, bool) {
	a := Action(strings.ToUpper(strings.TrimSpace(s)))
	return a, a.Valid()
}

// EntityType names the class of domain object an action concerns.
type EntityType string

const (
	EntityUser            EntityType = "USER"
	EntitySession         EntityType = "SESSION"
	EntityRFQ             EntityType = "RFQ"
	EntityRFQResponse     EntityType = "RFQ_RESPONSE"
	EntityOrder           EntityType = "ORDER"
	EntityTrade           EntityType = "TRADE"
	EntityMarketBroadcast EntityType = "MARKET_BROADCAST"
	EntityReport          EntityType = "REPORT"
	EntityAuditLog        EntityType = "AUDIT_LOG"
)

// EntityTypes lists every entity type in declaration order.
var EntityTypes = []EntityType{
	EntityUser, EntitySession, EntityRFQ, EntityRFQResponse, EntityOrder,
	EntityTrade, EntityMarketBroadcast, EntityReport, EntityAuditLog,
}

// Valid reports whether e is one of the declared entity types.
func (e EntityType) Valid() bool {
	for _, known := range EntityTypes {
		if e == known {
			return true
		}
	}
	return false
}

// ParseEntityType accepts either case ("order" or "ORDER").
func ParseEntityType(s string) (EntityType, bool) {
	e := EntityType(strings.ToUpper(strings.TrimSpace(s)))
	return e, e.Valid()
}

// Record is one immutable audit fact.
type Record struct {
	ID         string         `json:"id"`
	UserID     *string        `json:"userId"`
	Action     Action         `json:"action"`
	EntityType EntityType     `json:"entityType"`
	EntityID   *string        `json:"entityId"`
	Metadata   map[string]any `json:"metadata"`
	IPAddress  string         `json:"ipAddress,omitempty"`
	UserAgent  string         `json:"userAgent,omitempty"`
	Checksum   string         `json:"checksum"`
	CreatedAt  time.Time      `json:"createdAt"`

	// unreadable is set when the stored metadata could not be decoded. The
	// raw text is kept under UnreadableMetadataKey and the record never
	// verifies.
	unreadable bool
}

// UnreadableMetadataKey holds the raw stored text of metadata that failed to
// decode.
const UnreadableMetadataKey = "unreadableMetadata"

// VerifiedRecord is a Record annotated with its checksum verification outcome.
type VerifiedRecord struct {
	*Record
	IntegrityValid bool `json:"integrityValid"`
}

// Entry is the input to Service.Log.
type Entry struct {
	UserID     *string
	Action     Action
	EntityType EntityType
	EntityID   *string
	Metadata   map[string]any
	OldValue   any
	NewValue   any
	Request    *RequestContext
}

// RequestContext carries the client identity of the originating request.
type RequestContext struct {
	IPAddress string
	UserAgent string
}

// RequestContextFromHTTP extracts the client IP and user agent. The first hop
// of X-Forwarded-For wins, then X-Real-IP, then the socket address.
func RequestContextFromHTTP(r *http.Request) *RequestContext {
	if r == nil {
		return nil
	}
	return &RequestContext{
		IPAddress: clientIP(r),
		UserAgent: r.UserAgent(),
	}
}

func clientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		if ip := strings.TrimSpace(first); ip != "" {
			return ip
		}
	}
	if xri := strings.TrimSpace(r.Header.Get("X-Real-IP")); xri != "" {
		return xri
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// Actor identifies the caller of a read operation that is itself audited.
type Actor struct {
	UserID  string
	Role    string
	Request *RequestContext
}

func (a Actor) userIDPtr() *string {
	if a.UserID == "" {
		return nil
	}
	id := a.UserID
	return &id
}

// Default and maximum page sizes for SearchAuditLogs.
const (
	DefaultPageSize = 50
	MaxPageSize     = 100
)

// SearchParams filters SearchAuditLogs. Zero values mean "no filter".
// The createdAt range is half-open: [StartDate, EndDate).
type SearchParams struct {
	UserID     string
	Action     Action
	EntityType EntityType
	EntityID   string
	IPAddress  string
	StartDate  *time.Time
	EndDate    *time.Time
	Page       int
	Limit      int
	// MaxLimit overrides MaxPageSize for callers with a larger cap.
	MaxLimit int
}

// Normalize applies the page and limit defaults and caps.
func (p *SearchParams) Normalize() {
	if p.Page < 1 {
		p.Page = 1
	}
	maxLimit := p.MaxLimit
	if maxLimit <= 0 {
		maxLimit = MaxPageSize
	}
	if p.Limit < 1 {
		p.Limit = DefaultPageSize
	}
	if p.Limit > maxLimit {
		p.Limit = maxLimit
	}
}

func (p *SearchParams) filter() Filter {
	return Filter{
		UserID:     p.UserID,
		Action:     p.Action,
		EntityType: p.EntityType,
		EntityID:   p.EntityID,
		IPAddress:  p.IPAddress,
		Start:      p.StartDate,
		End:        p.EndDate,
		Offset:     (p.Page - 1) * p.Limit,
		Limit:      p.Limit,
	}
}

// Pagination describes one page of a search.
type Pagination struct {
	Page       int   `json:"page"`
	Limit      int   `json:"limit"`
	Total      int64 `json:"total"`
	TotalPages int64 `json:"totalPages"`
}

// NewPagination computes TotalPages by ceiling division.
func NewPagination(page, limit int, total int64) Pagination {
	var pages int64
	if limit > 0 {
		pages = (total + int64(limit) - 1) / int64(limit)
	}
	return Pagination{Page: page, Limit: limit, Total: total, TotalPages: pages}
}

// SearchResult is the output of SearchAuditLogs.
type SearchResult struct {
	Logs       []VerifiedRecord `json:"logs"`
	Pagination Pagination       `json:"pagination"`
}
