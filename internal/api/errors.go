// TradeAudit - Trading Platform Audit and Telemetry Service
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tradeaudit

package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/tomtom215/tradeaudit/internal/audit"
	"github.com/tomtom215/tradeaudit/internal/auth"
	"github.com/tomtom215/tradeaudit/internal/logging"
	"github.com/tomtom215/tradeaudit/internal/telemetry"
	"github.com/tomtom215/tradeaudit/internal/validation"
)

// respondServiceError translates a service error into the envelope. Every
// handler funnels its errors through here so the mapping lives in one place.
func respondServiceError(w http.ResponseWriter, r *http.Request, err error) {
	rw := NewResponseWriter(w, r)

	var verr *validation.RequestValidationError
	switch {
	case errors.As(err, &verr):
		rw.ValidationError("Request validation failed", verr.FieldDetails())

	case errors.Is(err, audit.ErrUnknownReportType):
		rw.ValidationError("Unknown report type", fieldDetail("reportType", "oneof", err))
	case errors.Is(err, audit.ErrUnsupportedFormat):
		rw.ValidationError("Unsupported report format", fieldDetail("format", "oneof", err))
	case errors.Is(err, audit.ErrFormatNotImplemented):
		rw.Error(http.StatusNotImplemented, ErrCodeNotImplemented, "Report format is not implemented yet")
	case errors.Is(err, audit.ErrInvalidPeriod):
		rw.ValidationError("Invalid report period", fieldDetail("endDate", "gtfield", err))
	case errors.Is(err, audit.ErrRetentionTooShort):
		rw.ValidationError("Retention period too short", fieldDetail("daysToKeep", "gte", err))
	case errors.Is(err, audit.ErrInvalidEntry):
		rw.ValidationError("Invalid audit entry", fieldDetail("entry", "invalid", err))
	case errors.Is(err, audit.ErrRecordNotFound):
		rw.NotFound("Audit record not found")
	case errors.Is(err, audit.ErrCriticalStoreClosed):
		rw.ServiceUnavailable("Critical store is closed")

	case errors.Is(err, telemetry.ErrUnknownCategory):
		rw.ValidationError("Unknown telemetry type", fieldDetail("type", "oneof", err))
	case errors.Is(err, telemetry.ErrInvalidWindow):
		rw.ValidationError("Invalid export window", fieldDetail("endDate", "gtfield", err))
	case errors.Is(err, telemetry.ErrWindowTooLarge):
		rw.ValidationError("Export window too large", fieldDetail("endDate", "max", err))
	case errors.Is(err, telemetry.ErrJobNotFound):
		rw.NotFound("Dead-letter job not found")
	case errors.Is(err, telemetry.ErrQueueClosed):
		rw.ServiceUnavailable("Telemetry queue is shutting down")

	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		logging.CtxErr(r.Context(), err).Str("path", r.URL.Path).Msg("Request aborted")
		rw.ServiceUnavailable("Request was canceled or timed out")

	default:
		logging.CtxErr(r.Context(), err).Str("path", r.URL.Path).Msg("Request failed")
		rw.InternalError("An internal error occurred")
	}
}

// respondValidation writes a single-field validation failure.
func respondValidation(w http.ResponseWriter, r *http.Request, verr *validation.RequestValidationError) {
	NewResponseWriter(w, r).ValidationError("Request validation failed", verr.FieldDetails())
}

func fieldDetail(field, tag string, err error) []map[string]any {
	return []map[string]any{{"field": field, "tag": tag, "message": err.Error()}}
}

// writeAuthError is the auth.ErrorWriter for authenticated routes.
func writeAuthError(w http.ResponseWriter, r *http.Request, err error) {
	message := "Invalid or expired token"
	if errors.Is(err, auth.ErrNoCredentials) {
		message = "Authentication required"
	}
	NewResponseWriter(w, r).Unauthorized(message)
}

// writeDenied is the authz.DenyWriter for permission-checked routes.
func writeDenied(w http.ResponseWriter, r *http.Request, status int) {
	rw := NewResponseWriter(w, r)
	if status == http.StatusUnauthorized {
		rw.Unauthorized("Authentication required")
		return
	}
	rw.Forbidden("Insufficient permissions")
}
