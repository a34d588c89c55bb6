// TradeAudit - Trading Platform Audit and Telemetry Service
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tradeaudit

// Package query builds parameterized SQL WHERE clauses for the DuckDB
// stores.
//
// Every value is bound through a placeholder. Column names are fixed strings
// chosen by store code, so request input never reaches the SQL text:
//
//	wb := query.NewWhereBuilder().
//	    AddEquals("entity_type", string(f.EntityType)).
//	    AddIn("action", actions).
//	    AddTimeRange("created_at", f.Start, f.End)
//	where, args := wb.BuildWithPrefix()
//	rows, err := db.QueryContext(ctx, "SELECT ... FROM audit_logs"+where, args...)
//
// Time windows are half-open: the start bound is inclusive and the end
// bound exclusive, matching how reports and exports partition periods.
package query
