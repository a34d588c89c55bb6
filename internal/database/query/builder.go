// TradeAudit - Trading Platform Audit and Telemetry Service
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tradeaudit

package query

import (
	"strings"
	"time"
)

// WhereBuilder constructs SQL WHERE clauses with parameterized arguments.
// Column names are always supplied by the caller's code, never by request
// input; only values are bound.
//
// Example usage:
//
//	wb := query.NewWhereBuilder()
//	wb.AddEquals("user_id", userID)
//	wb.AddTimeRange("created_at", start, end)
//	where, args := wb.BuildWithPrefix()
//	// " WHERE user_id = ? AND created_at >= ? AND created_at < ?"
type WhereBuilder struct {
	clauses []string
	args    []interface{}
}

// NewWhereBuilder creates a new WhereBuilder instance.
func NewWhereBuilder() *WhereBuilder {
	return &WhereBuilder{
		clauses: []string{},
		args:    []interface{}{},
	}
}

// AddClause adds a raw condition with its arguments, e.g.
// AddClause("user_id IS NOT NULL").
func (wb *WhereBuilder) AddClause(clause string, args ...interface{}) *WhereBuilder {
	wb.clauses = append(wb.clauses, clause)
	wb.args = append(wb.args, args...)
	return wb
}

// AddEquals adds "column = ?". Empty values are skipped so optional
// filters can be passed straight through.
func (wb *WhereBuilder) AddEquals(column, value string) *WhereBuilder {
	if value == "" {
		return wb
	}
	return wb.AddClause(column+" = ?", value)
}

// AddIn adds "column IN (?, ...)". An empty list is skipped.
func (wb *WhereBuilder) AddIn(column string, values []string) *WhereBuilder {
	if len(values) == 0 {
		return wb
	}
	placeholders := make([]string, len(values))
	for i, v := range values {
		placeholders[i] = "?"
		wb.args = append(wb.args, v)
	}
	wb.clauses = append(wb.clauses, column+" IN ("+strings.Join(placeholders, ", ")+")")
	return wb
}

// AddTimeRange adds the half-open window [start, end) on column. Either
// bound may be nil. Bound values are converted to UTC.
func (wb *WhereBuilder) AddTimeRange(column string, start, end *time.Time) *WhereBuilder {
	if start != nil {
		wb.AddClause(column+" >= ?", start.UTC())
	}
	if end != nil {
		wb.AddClause(column+" < ?", end.UTC())
	}
	return wb
}

// AddNotBlank requires column to be non-null and non-empty.
func (wb *WhereBuilder) AddNotBlank(column string) *WhereBuilder {
	return wb.AddClause(column + " IS NOT NULL AND " + column + " <> ''")
}

// Build joins the clauses with AND. Returns ("1=1", []) if no clauses
// were added.
func (wb *WhereBuilder) Build() (string, []interface{}) {
	if len(wb.clauses) == 0 {
		return "1=1", []interface{}{}
	}
	return strings.Join(wb.clauses, " AND "), wb.args
}

// BuildWithPrefix returns " WHERE <clauses>", or an empty string when no
// clauses were added, ready to append after a FROM clause.
func (wb *WhereBuilder) BuildWithPrefix() (string, []interface{}) {
	if len(wb.clauses) == 0 {
		return "", []interface{}{}
	}
	return " WHERE " + strings.Join(wb.clauses, " AND "), wb.args
}

// Count returns the number of clauses added to the builder.
func (wb *WhereBuilder) Count() int {
	return len(wb.clauses)
}

// IsEmpty returns true if no clauses have been added.
func (wb *WhereBuilder) IsEmpty() bool {
	return len(wb.clauses) == 0
}
