// TradeAudit - Trading Platform Audit and Telemetry Service
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tradeaudit

package api

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"github.com/tomtom215/tradeaudit/internal/audit"
	"github.com/tomtom215/tradeaudit/internal/validation"
)

// maxBodyBytes bounds every JSON request body.
const maxBodyBytes = 1 << 20

// Limits for the per-user and per-entity log listings.
const (
	scopedDefaultLimit = 100
	scopedMaxLimit     = 500
)

// Query and body DTOs. Validation runs on the struct tags; checks that need
// domain knowledge (enums, dates) happen in the parse functions below.

type searchLogsQuery struct {
	UserID     string `json:"userId" validate:"omitempty,max=255"`
	Action     string `json:"action" validate:"omitempty,max=64"`
	EntityType string `json:"entityType" validate:"omitempty,max=64"`
	EntityID   string `json:"entityId" validate:"omitempty,max=255"`
	IPAddress  string `json:"ipAddress" validate:"omitempty,ip"`
	Page       int    `json:"page" validate:"min=1"`
	Limit      int    `json:"limit" validate:"min=1,max=100"`
}

type scopedLogsQuery struct {
	Page  int `json:"page" validate:"min=1"`
	Limit int `json:"limit" validate:"min=1,max=500"`
}

// VerifyIntegrityRequest is the body of POST /audit/verify-integrity.
type VerifyIntegrityRequest struct {
	AuditLogID string `json:"auditLogId" validate:"required,uuid"`
}

// VerifyIntegrityResponse reports the outcome for one record.
type VerifyIntegrityResponse struct {
	AuditLogID     string    `json:"auditLogId"`
	IntegrityValid bool      `json:"integrityValid"`
	VerifiedAt     time.Time `json:"verifiedAt"`
}

// GenerateReportRequest is the body of POST /audit/reports/generate.
type GenerateReportRequest struct {
	ReportType string `json:"reportType" validate:"required,max=64"`
	StartDate  string `json:"startDate" validate:"required"`
	EndDate    string `json:"endDate" validate:"required"`
	UserID     string `json:"userId,omitempty" validate:"omitempty,max=255"`
	Format     string `json:"format,omitempty" validate:"omitempty,max=16"`
}

// ArchiveRequest is the body of POST /audit/archive.
type ArchiveRequest struct {
	DaysToKeep int `json:"daysToKeep" validate:"required,gte=365"`
}

// ArchiveResponse reports how many records moved to cold storage.
type ArchiveResponse struct {
	ArchivedCount int64 `json:"archivedCount"`
	DaysToKeep    int   `json:"daysToKeep"`
}

// TrackRequest is the body of POST /telemetry/track.
type TrackRequest struct {
	SessionID string        `json:"sessionId,omitempty" validate:"omitempty,max=128"`
	Events    []TrackEvent  `json:"events" validate:"max=500,dive"`
	Metrics   []TrackMetric `json:"metrics" validate:"max=500,dive"`
}

// TrackEvent is one interaction event as sent by a client.
type TrackEvent struct {
	EventType  string         `json:"eventType" validate:"required,oneof=page_view click api_call websocket error navigation form_submit"`
	EventName  string         `json:"eventName" validate:"required,max=255"`
	Path       string         `json:"path,omitempty" validate:"omitempty,max=2048"`
	Method     string         `json:"method,omitempty" validate:"omitempty,max=16"`
	StatusCode *int           `json:"statusCode,omitempty" validate:"omitempty,gte=100,lte=599"`
	Duration   *float64       `json:"duration,omitempty" validate:"omitempty,gte=0"`
	SessionID  string         `json:"sessionId,omitempty" validate:"omitempty,max=128"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

// TrackMetric is one performance measurement as sent by a client.
type TrackMetric struct {
	MetricType string         `json:"metricType" validate:"required,oneof=page_load api_response websocket_latency render_time memory_usage cpu_usage"`
	MetricName string         `json:"metricName" validate:"required,max=255"`
	Value      *float64       `json:"value" validate:"required"`
	Unit       string         `json:"unit,omitempty" validate:"omitempty,max=32"`
	Path       string         `json:"path,omitempty" validate:"omitempty,max=2048"`
	SessionID  string         `json:"sessionId,omitempty" validate:"omitempty,max=128"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

// TrackResponse acknowledges an ingestion request.
type TrackResponse struct {
	Accepted bool `json:"accepted"`
	Events   int  `json:"events"`
	Metrics  int  `json:"metrics"`
}

type exportQuery struct {
	Type   string `json:"type" validate:"required,oneof=events metrics"`
	Format string `json:"format" validate:"oneof=json csv"`
}

// decodeJSONBody decodes a bounded JSON body into dst. Unknown fields are
// rejected so typos surface as 400s instead of silently defaulting.
func decodeJSONBody(w http.ResponseWriter, r *http.Request, dst any) *validation.RequestValidationError {
	return decodeBody(w, r, dst, true)
}

// decodeLenientJSONBody ignores unknown fields. Client telemetry SDKs send
// extra attributes that the server fills in itself.
func decodeLenientJSONBody(w http.ResponseWriter, r *http.Request, dst any) *validation.RequestValidationError {
	return decodeBody(w, r, dst, false)
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst any, strict bool) *validation.RequestValidationError {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if strict {
		dec.DisallowUnknownFields()
	}
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return validation.NewFieldError("body", "required", "request body is required")
		}
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return validation.NewFieldError("body", "max", fmt.Sprintf("request body must be at most %d bytes", maxBodyBytes))
		}
		return validation.NewFieldError("body", "json", "request body is not valid JSON: "+err.Error())
	}
	return nil
}

// intParam reads an optional integer query parameter.
func intParam(q url.Values, name string, def int) (int, *validation.RequestValidationError) {
	raw := strings.TrimSpace(q.Get(name))
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return def, validation.NewFieldError(name, "number", name+" must be a number")
	}
	return n, nil
}

// timeLayouts are the ISO-8601 shapes accepted for date parameters.
var timeLayouts = []string{time.RFC3339Nano, "2006-01-02T15:04:05", "2006-01-02"}

// parseTime parses an ISO-8601 timestamp or date. Values without a zone are
// taken as UTC.
func parseTime(field, raw string) (time.Time, *validation.RequestValidationError) {
	raw = strings.TrimSpace(raw)
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, validation.NewFieldError(field, "datetime", field+" must be an ISO-8601 date or timestamp")
}

// optionalRange parses startDate/endDate query parameters. Either may be
// absent; when both are present end must be after start.
func optionalRange(q url.Values) (start, end *time.Time, verr *validation.RequestValidationError) {
	if raw := q.Get("startDate"); raw != "" {
		t, err := parseTime("startDate", raw)
		verr = validation.Join(verr, err)
		start = &t
	}
	if raw := q.Get("endDate"); raw != "" {
		t, err := parseTime("endDate", raw)
		verr = validation.Join(verr, err)
		end = &t
	}
	if verr == nil && start != nil && end != nil && !end.After(*start) {
		verr = validation.NewFieldError("endDate", "gtfield", "endDate must be after startDate")
	}
	return start, end, verr
}

// requiredRange parses a mandatory [start, end) window.
func requiredRange(startRaw, endRaw string) (start, end time.Time, verr *validation.RequestValidationError) {
	if strings.TrimSpace(startRaw) == "" {
		verr = validation.Join(verr, validation.NewFieldError("startDate", "required", "startDate is required"))
	} else {
		var err *validation.RequestValidationError
		start, err = parseTime("startDate", startRaw)
		verr = validation.Join(verr, err)
	}
	if strings.TrimSpace(endRaw) == "" {
		verr = validation.Join(verr, validation.NewFieldError("endDate", "required", "endDate is required"))
	} else {
		var err *validation.RequestValidationError
		end, err = parseTime("endDate", endRaw)
		verr = validation.Join(verr, err)
	}
	if verr == nil && !end.After(start) {
		verr = validation.NewFieldError("endDate", "gtfield", "endDate must be after startDate")
	}
	return start, end, verr
}

// parseEntityType rejects values outside the entity enum.
func parseEntityType(raw string) (audit.EntityType, *validation.RequestValidationError) {
	e, ok := audit.ParseEntityType(raw)
	if !ok {
		names := make([]string, len(audit.EntityTypes))
		for i, known := range audit.EntityTypes {
			names[i] = string(known)
		}
		return "", validation.NewFieldError("entityType", "oneof",
			"entityType must be one of: "+strings.Join(names, ", "))
	}
	return e, nil
}

// parseSearchParams builds audit search parameters from the /audit/logs
// query string.
func parseSearchParams(q url.Values) (audit.SearchParams, *validation.RequestValidationError) {
	page, pageErr := intParam(q, "page", 1)
	limit, limitErr := intParam(q, "limit", audit.DefaultPageSize)
	dto := searchLogsQuery{
		UserID:     strings.TrimSpace(q.Get("userId")),
		Action:     strings.TrimSpace(q.Get("action")),
		EntityType: strings.TrimSpace(q.Get("entityType")),
		EntityID:   strings.TrimSpace(q.Get("entityId")),
		IPAddress:  strings.TrimSpace(q.Get("ipAddress")),
		Page:       page,
		Limit:      limit,
	}
	verr := validation.Join(pageErr, limitErr)
	if verr == nil {
		verr = validation.ValidateStruct(&dto)
	}

	p := audit.SearchParams{
		UserID:    dto.UserID,
		EntityID:  dto.EntityID,
		IPAddress: dto.IPAddress,
		Page:      dto.Page,
		Limit:     dto.Limit,
	}
	if dto.Action != "" {
		action, ok := audit.ParseAction(dto.Action)
		if !ok {
			verr = validation.Join(verr, validation.NewFieldError("action", "oneof", "action must be a known audit action"))
		}
		p.Action = action
	}
	if dto.EntityType != "" {
		e, err := parseEntityType(dto.EntityType)
		verr = validation.Join(verr, err)
		p.EntityType = e
	}
	start, end, err := optionalRange(q)
	verr = validation.Join(verr, err)
	p.StartDate, p.EndDate = start, end

	return p, verr
}

// parseScopedPaging reads page and limit for the per-user and per-entity
// listings, which allow larger pages than the general search.
func parseScopedPaging(q url.Values) (page, limit int, verr *validation.RequestValidationError) {
	page, pageErr := intParam(q, "page", 1)
	limit, limitErr := intParam(q, "limit", scopedDefaultLimit)
	if verr = validation.Join(pageErr, limitErr); verr != nil {
		return 0, 0, verr
	}
	dto := scopedLogsQuery{Page: page, Limit: limit}
	if verr = validation.ValidateStruct(&dto); verr != nil {
		return 0, 0, verr
	}
	return dto.Page, dto.Limit, nil
}
