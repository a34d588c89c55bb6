// TradeAudit - Trading Platform Audit and Telemetry Service
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tradeaudit

// Package authz provides role-based authorization using Casbin.
//
// # Architecture
//
//	Request -> auth.Authenticate -> RequirePermission -> Handler
//
// # RBAC Model
//
// The embedded model.conf matches the request role against policy subjects
// through the role graph, objects with keyMatch and actions exactly or by "*".
//
// Role hierarchy (each role inherits every permission below it):
//
//	super_admin > admin > compliance_officer > trader
//
// Objects:
//
//	audit:own_logs          read      trader
//	audit:logs              read      compliance_officer
//	audit:verify            execute   compliance_officer
//	audit:stats             read      compliance_officer
//	audit:reports           read      compliance_officer
//	report:daily_activity   generate  compliance_officer
//	report:user_access      generate  compliance_officer
//	report:trade_summary    generate  compliance_officer
//	report:audit_trail      generate  admin
//	report:failed_auth      generate  admin
//	telemetry:admin         *         admin
//	audit:archive           execute   super_admin
//
// The policy is embedded; EnforcerConfig.ModelPath and PolicyPath override it
// for deployments that need a different matrix. Decisions are cached per
// (role, object, action).
package authz
