// TradeAudit - Trading Platform Audit and Telemetry Service
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tradeaudit

package api

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/tomtom215/tradeaudit/internal/audit"
	"github.com/tomtom215/tradeaudit/internal/auth"
	"github.com/tomtom215/tradeaudit/internal/authz"
	"github.com/tomtom215/tradeaudit/internal/logging"
	"github.com/tomtom215/tradeaudit/internal/validation"
)

// defaultStatsWindow is used by /audit/stats when no range is given.
const defaultStatsWindow = 30 * 24 * time.Hour

func paginationMeta(p audit.Pagination) *PaginationMeta {
	return &PaginationMeta{Page: p.Page, Limit: p.Limit, Total: p.Total, TotalPages: p.TotalPages}
}

// SearchAuditLogs lists audit records matching the query filters.
//
// @Summary Search audit logs
// @Description Filters by user, action, entity, IP and a half-open createdAt window. Each record carries an integrityValid flag.
// @Tags Audit
// @Produce json
// @Param userId query string false "Actor user id"
// @Param action query string false "Audit action"
// @Param entityType query string false "Entity type"
// @Param entityId query string false "Entity id"
// @Param ipAddress query string false "Client IP"
// @Param startDate query string false "Inclusive lower bound (ISO-8601)"
// @Param endDate query string false "Exclusive upper bound (ISO-8601)"
// @Param page query int false "Page (>= 1)" default(1)
// @Param limit query int false "Page size (1-100)" default(50)
// @Success 200 {object} APIResponse{data=audit.SearchResult}
// @Failure 400 {object} APIResponse "Validation error"
// @Failure 403 {object} APIResponse "Insufficient permissions"
// @Security BearerAuth
// @Router /audit/logs [get]
func (h *Handler) SearchAuditLogs(w http.ResponseWriter, r *http.Request) {
	params, verr := parseSearchParams(r.URL.Query())
	if verr != nil {
		respondValidation(w, r, verr)
		return
	}
	h.search(w, r, params)
}

// UserAuditLogs lists records produced by one user. A trader may read only
// their own trail; reading anyone else's requires audit:logs.
//
// @Summary Audit logs for a user
// @Tags Audit
// @Produce json
// @Param userId path string true "User id"
// @Param page query int false "Page (>= 1)" default(1)
// @Param limit query int false "Page size (1-500)" default(100)
// @Success 200 {object} APIResponse{data=audit.SearchResult}
// @Failure 400 {object} APIResponse "Validation error"
// @Failure 403 {object} APIResponse "Insufficient permissions"
// @Security BearerAuth
// @Router /audit/users/{userId}/logs [get]
func (h *Handler) UserAuditLogs(w http.ResponseWriter, r *http.Request) {
	userID := strings.TrimSpace(chi.URLParam(r, "userId"))
	if userID == "" {
		respondValidation(w, r, validation.NewFieldError("userId", "required", "userId is required"))
		return
	}

	subject := auth.SubjectFromContext(r.Context())
	allowed := h.can(r, authz.ObjectAuditLogs, authz.ActionRead)
	if !allowed && subject != nil && subject.UserID == userID {
		allowed = h.can(r, authz.ObjectOwnLogs, authz.ActionRead)
	}
	if !allowed {
		NewResponseWriter(w, r).Forbidden("Insufficient permissions")
		return
	}

	page, limit, verr := parseScopedPaging(r.URL.Query())
	if verr != nil {
		respondValidation(w, r, verr)
		return
	}
	h.search(w, r, audit.SearchParams{UserID: userID, Page: page, Limit: limit, MaxLimit: scopedMaxLimit})
}

// EntityAuditLogs lists records about one entity.
//
// @Summary Audit logs for an entity
// @Tags Audit
// @Produce json
// @Param entityType path string true "Entity type" Enums(USER, SESSION, RFQ, RFQ_RESPONSE, ORDER, TRADE, MARKET_BROADCAST, REPORT, AUDIT_LOG)
// @Param entityId path string true "Entity id"
// @Param page query int false "Page (>= 1)" default(1)
// @Param limit query int false "Page size (1-500)" default(100)
// @Success 200 {object} APIResponse{data=audit.SearchResult}
// @Failure 400 {object} APIResponse "Validation error"
// @Security BearerAuth
// @Router /audit/entities/{entityType}/{entityId}/logs [get]
func (h *Handler) EntityAuditLogs(w http.ResponseWriter, r *http.Request) {
	entityType, verr := parseEntityType(chi.URLParam(r, "entityType"))
	if verr != nil {
		respondValidation(w, r, verr)
		return
	}
	entityID := strings.TrimSpace(chi.URLParam(r, "entityId"))
	if entityID == "" {
		respondValidation(w, r, validation.NewFieldError("entityId", "required", "entityId is required"))
		return
	}
	page, limit, verr := parseScopedPaging(r.URL.Query())
	if verr != nil {
		respondValidation(w, r, verr)
		return
	}
	h.search(w, r, audit.SearchParams{
		EntityType: entityType,
		EntityID:   entityID,
		Page:       page,
		Limit:      limit,
		MaxLimit:   scopedMaxLimit,
	})
}

func (h *Handler) search(w http.ResponseWriter, r *http.Request, params audit.SearchParams) {
	result, err := h.audit.SearchAuditLogs(r.Context(), actorFromRequest(r), params)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	NewResponseWriter(w, r).SuccessWithPagination(result, paginationMeta(result.Pagination))
}

// VerifyIntegrity recomputes the checksum of one record.
//
// @Summary Verify record integrity
// @Description Unknown ids verify as false rather than 404.
// @Tags Audit
// @Accept json
// @Produce json
// @Param request body VerifyIntegrityRequest true "Record to verify"
// @Success 200 {object} APIResponse{data=VerifyIntegrityResponse}
// @Failure 400 {object} APIResponse "Validation error"
// @Security BearerAuth
// @Router /audit/verify-integrity [post]
func (h *Handler) VerifyIntegrity(w http.ResponseWriter, r *http.Request) {
	var req VerifyIntegrityRequest
	if verr := decodeJSONBody(w, r, &req); verr != nil {
		respondValidation(w, r, verr)
		return
	}
	if verr := validation.ValidateStruct(&req); verr != nil {
		respondValidation(w, r, verr)
		return
	}

	valid, err := h.audit.VerifyIntegrity(r.Context(), req.AuditLogID)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	WriteSuccess(w, r, VerifyIntegrityResponse{
		AuditLogID:     req.AuditLogID,
		IntegrityValid: valid,
		VerifiedAt:     h.now().UTC(),
	})
}

// ReportTypes returns the report catalog filtered to what the caller may run.
//
// @Summary List report types
// @Tags Reports
// @Produce json
// @Success 200 {object} APIResponse{data=[]audit.ReportDefinition}
// @Security BearerAuth
// @Router /audit/reports/types [get]
func (h *Handler) ReportTypes(w http.ResponseWriter, r *http.Request) {
	catalog := audit.ReportCatalog()
	visible := make([]audit.ReportDefinition, 0, len(catalog))
	for _, def := range catalog {
		if h.can(r, authz.ReportObject(string(def.Type)), authz.ActionGenerate) {
			visible = append(visible, def)
		}
	}
	WriteSuccess(w, r, visible)
}

// GenerateReport builds a compliance report. JSON reports are returned in
// the envelope; CSV is returned as a file download.
//
// @Summary Generate compliance report
// @Tags Reports
// @Accept json
// @Produce json
// @Produce text/csv
// @Param request body GenerateReportRequest true "Report parameters"
// @Success 200 {object} APIResponse{data=audit.Report}
// @Failure 400 {object} APIResponse "Unknown report type or format"
// @Failure 403 {object} APIResponse "Role below the report minimum"
// @Failure 501 {object} APIResponse "Format not implemented"
// @Security BearerAuth
// @Router /audit/reports/generate [post]
func (h *Handler) GenerateReport(w http.ResponseWriter, r *http.Request) {
	var req GenerateReportRequest
	if verr := decodeJSONBody(w, r, &req); verr != nil {
		respondValidation(w, r, verr)
		return
	}
	if verr := validation.ValidateStruct(&req); verr != nil {
		respondValidation(w, r, verr)
		return
	}
	start, end, verr := requiredRange(req.StartDate, req.EndDate)
	if verr != nil {
		respondValidation(w, r, verr)
		return
	}

	params := audit.ReportParams{
		Type:      audit.ReportType(strings.ToLower(strings.TrimSpace(req.ReportType))),
		StartDate: start,
		EndDate:   end,
		UserID:    strings.TrimSpace(req.UserID),
		Format:    audit.ReportFormat(strings.ToLower(strings.TrimSpace(req.Format))),
	}
	if params.Format == "" {
		params.Format = audit.FormatJSON
	}

	// Shape errors come before the permission check so an unknown type is
	// a 400 for everyone.
	if _, ok := audit.LookupReport(params.Type); !ok {
		respondServiceError(w, r, audit.ErrUnknownReportType)
		return
	}
	if err := audit.CheckFormat(params.Format); err != nil {
		respondServiceError(w, r, err)
		return
	}
	if !h.can(r, authz.ReportObject(string(params.Type)), authz.ActionGenerate) {
		NewResponseWriter(w, r).Forbidden("Insufficient permissions for this report")
		return
	}

	report, err := h.audit.GenerateComplianceReport(r.Context(), actorFromRequest(r), params)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}

	if params.Format == audit.FormatJSON {
		WriteSuccess(w, r, report)
		return
	}

	body, contentType, err := audit.RenderReport(report, params.Format)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", `attachment; filename="`+audit.ReportFilename(report, params.Format)+`"`)
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(body); err != nil {
		logging.CtxErr(r.Context(), err).Msg("Failed to write report download")
	}
}

// ArchiveLogs moves old records to cold storage.
//
// @Summary Archive old audit logs
// @Tags Audit
// @Accept json
// @Produce json
// @Param request body ArchiveRequest true "Retention in days (>= 365)"
// @Success 200 {object} APIResponse{data=ArchiveResponse}
// @Failure 400 {object} APIResponse "Retention below 365 days"
// @Failure 403 {object} APIResponse "Requires super_admin"
// @Security BearerAuth
// @Router /audit/archive [post]
func (h *Handler) ArchiveLogs(w http.ResponseWriter, r *http.Request) {
	var req ArchiveRequest
	if verr := decodeJSONBody(w, r, &req); verr != nil {
		respondValidation(w, r, verr)
		return
	}
	if verr := validation.ValidateStruct(&req); verr != nil {
		respondValidation(w, r, verr)
		return
	}

	moved, err := h.audit.ArchiveOldLogs(r.Context(), actorFromRequest(r), req.DaysToKeep)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	WriteSuccess(w, r, ArchiveResponse{ArchivedCount: moved, DaysToKeep: req.DaysToKeep})
}

// AuditStats summarizes a window of audit activity.
//
// @Summary Audit statistics
// @Tags Audit
// @Produce json
// @Param startDate query string false "Inclusive lower bound (default: 30 days ago)"
// @Param endDate query string false "Exclusive upper bound (default: now)"
// @Success 200 {object} APIResponse{data=audit.Stats}
// @Failure 400 {object} APIResponse "Validation error"
// @Security BearerAuth
// @Router /audit/stats [get]
func (h *Handler) AuditStats(w http.ResponseWriter, r *http.Request) {
	start, end, verr := optionalRange(r.URL.Query())
	if verr != nil {
		respondValidation(w, r, verr)
		return
	}

	now := h.now().UTC()
	if end == nil {
		end = &now
	}
	if start == nil {
		s := end.Add(-defaultStatsWindow)
		start = &s
	}
	if !end.After(*start) {
		respondValidation(w, r, validation.NewFieldError("endDate", "gtfield", "endDate must be after startDate"))
		return
	}

	stats, err := h.audit.Stats(r.Context(), *start, *end)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	WriteSuccess(w, r, stats)
}
