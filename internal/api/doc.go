// TradeAudit - Trading Platform Audit and Telemetry Service
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tradeaudit

/*
Package api provides the HTTP REST layer for TradeAudit.

Routes:

	GET  /health, /health/live, /health/ready
	GET  /metrics                                   Prometheus
	GET  /swagger/*                                 OpenAPI UI

	GET  /api/v1/audit/logs                         audit:logs read
	GET  /api/v1/audit/users/{userId}/logs          audit:logs read, or audit:own_logs for the caller's own id
	GET  /api/v1/audit/entities/{type}/{id}/logs    audit:logs read
	POST /api/v1/audit/verify-integrity             audit:verify execute
	GET  /api/v1/audit/stats                        audit:stats read
	POST /api/v1/audit/archive                      audit:archive execute
	GET  /api/v1/audit/critical                     audit:critical read
	GET  /api/v1/audit/critical/{id}                audit:critical read
	GET  /api/v1/audit/reports/types                audit:reports read, filtered per report
	POST /api/v1/audit/reports/generate             audit:reports read + report:<type> generate

	POST /api/v1/telemetry/track                    unauthenticated, rate limited per IP
	GET  /api/v1/telemetry/realtime                 telemetry:admin
	GET  /api/v1/telemetry/aggregated               telemetry:admin
	GET  /api/v1/telemetry/export                   telemetry:admin
	GET  /api/v1/telemetry/dead-letters             telemetry:admin
	POST /api/v1/telemetry/dead-letters/{id}/requeue telemetry:admin
	GET  /api/v1/telemetry/stream                   telemetry:admin, WebSocket

Every JSON response uses the APIResponse envelope:

	{"success": true, "data": {...}, "meta": {"requestId": "...", "timestamp": "...", "pagination": {...}}}
	{"success": false, "error": {"code": "VALIDATION_ERROR", "message": "...", "details": [...]}, "meta": {...}}

Validation failures carry a field-level list in error.details. Service
errors are mapped to status codes in respondServiceError; handlers never
choose a status for a service error themselves.

CSV report and export downloads bypass the envelope and set
Content-Disposition: attachment; filename="<name>_<yyyymmddThhmmssZ>.csv".
*/
package api
