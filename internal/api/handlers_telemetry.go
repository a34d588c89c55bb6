// TradeAudit - Trading Platform Audit and Telemetry Service
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tradeaudit

package api

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/tomtom215/tradeaudit/internal/audit"
	"github.com/tomtom215/tradeaudit/internal/auth"
	"github.com/tomtom215/tradeaudit/internal/logging"
	"github.com/tomtom215/tradeaudit/internal/telemetry"
	"github.com/tomtom215/tradeaudit/internal/validation"
	ws "github.com/tomtom215/tradeaudit/internal/websocket"
)

// Query bounds for the read endpoints.
const (
	defaultRealtimeMinutes = 5
	maxRealtimeMinutes     = 24 * 60
	defaultAggregateHours  = 24
	maxAggregateHours      = 30 * 24
	defaultDeadLetterLimit = 50
	maxDeadLetterLimit     = 500
)

// Track ingests a batch of events and metrics. Persistence happens off the
// request path, so a syntactically valid batch is always acknowledged.
//
// @Summary Ingest telemetry
// @Description Unauthenticated. A bearer token, when present, attributes the batch to its user.
// @Tags Telemetry
// @Accept json
// @Produce json
// @Param request body TrackRequest true "Events and metrics"
// @Success 200 {object} APIResponse{data=TrackResponse}
// @Failure 400 {object} APIResponse "Malformed batch"
// @Failure 429 {object} APIResponse "Rate limited"
// @Router /telemetry/track [post]
func (h *Handler) Track(w http.ResponseWriter, r *http.Request) {
	var req TrackRequest
	if verr := decodeLenientJSONBody(w, r, &req); verr != nil {
		respondValidation(w, r, verr)
		return
	}
	if verr := validation.ValidateStruct(&req); verr != nil {
		respondValidation(w, r, verr)
		return
	}

	var userID *string
	if subject := auth.SubjectFromContext(r.Context()); subject != nil {
		id := subject.UserID
		userID = &id
	}
	client := audit.RequestContextFromHTTP(r)
	ctx := r.Context()

	for i := range req.Events {
		in := &req.Events[i]
		h.telemetry.TrackEvent(ctx, telemetry.Event{
			EventType:  telemetry.EventType(in.EventType),
			EventName:  in.EventName,
			Path:       in.Path,
			Method:     strings.ToUpper(in.Method),
			StatusCode: in.StatusCode,
			Duration:   in.Duration,
			SessionID:  firstNonEmpty(in.SessionID, req.SessionID),
			UserID:     userID,
			Metadata:   in.Metadata,
			UserAgent:  client.UserAgent,
			IPAddress:  client.IPAddress,
		})
	}
	for i := range req.Metrics {
		in := &req.Metrics[i]
		h.telemetry.TrackMetric(ctx, telemetry.Metric{
			MetricType: telemetry.MetricType(in.MetricType),
			MetricName: in.MetricName,
			Value:      *in.Value,
			Unit:       in.Unit,
			Path:       in.Path,
			SessionID:  firstNonEmpty(in.SessionID, req.SessionID),
			UserID:     userID,
			Metadata:   in.Metadata,
		})
	}

	WriteSuccess(w, r, TrackResponse{Accepted: true, Events: len(req.Events), Metrics: len(req.Metrics)})
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

// RealtimeMetrics serves the trailing window from the fast store.
//
// @Summary Real-time telemetry
// @Tags Telemetry
// @Produce json
// @Param minutes query int false "Trailing window in minutes (1-1440)" default(5)
// @Success 200 {object} APIResponse{data=telemetry.Realtime}
// @Failure 400 {object} APIResponse "Validation error"
// @Security BearerAuth
// @Router /telemetry/realtime [get]
func (h *Handler) RealtimeMetrics(w http.ResponseWriter, r *http.Request) {
	minutes, verr := boundedIntParam(r, "minutes", defaultRealtimeMinutes, 1, maxRealtimeMinutes)
	if verr != nil {
		respondValidation(w, r, verr)
		return
	}
	WriteSuccess(w, r, h.telemetry.GetRealtimeMetrics(r.Context(), minutes))
}

// AggregatedMetrics summarizes durable telemetry.
//
// @Summary Aggregated telemetry
// @Tags Telemetry
// @Produce json
// @Param hours query int false "Trailing window in hours (1-720)" default(24)
// @Success 200 {object} APIResponse{data=telemetry.Aggregated}
// @Failure 400 {object} APIResponse "Validation error"
// @Security BearerAuth
// @Router /telemetry/aggregated [get]
func (h *Handler) AggregatedMetrics(w http.ResponseWriter, r *http.Request) {
	hours, verr := boundedIntParam(r, "hours", defaultAggregateHours, 1, maxAggregateHours)
	if verr != nil {
		respondValidation(w, r, verr)
		return
	}
	agg, err := h.telemetry.GetAggregatedMetrics(r.Context(), hours)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	WriteSuccess(w, r, agg)
}

// ExportTelemetry returns durable events or metrics for a window.
//
// @Summary Export telemetry
// @Tags Telemetry
// @Produce json
// @Produce text/csv
// @Param type query string true "events or metrics" Enums(events, metrics)
// @Param startDate query string true "Inclusive lower bound (ISO-8601)"
// @Param endDate query string true "Exclusive upper bound (ISO-8601)"
// @Param format query string false "json or csv" Enums(json, csv) default(json)
// @Success 200 {object} APIResponse
// @Failure 400 {object} APIResponse "Validation error"
// @Security BearerAuth
// @Router /telemetry/export [get]
func (h *Handler) ExportTelemetry(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	dto := exportQuery{
		Type:   strings.ToLower(strings.TrimSpace(q.Get("type"))),
		Format: strings.ToLower(strings.TrimSpace(q.Get("format"))),
	}
	if dto.Format == "" {
		dto.Format = "json"
	}
	verr := validation.ValidateStruct(&dto)
	start, end, rangeErr := requiredRange(q.Get("startDate"), q.Get("endDate"))
	if verr = validation.Join(verr, rangeErr); verr != nil {
		respondValidation(w, r, verr)
		return
	}

	category := telemetry.Category(dto.Type)
	data, err := h.telemetry.Export(r.Context(), category, start, end)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}

	if dto.Format == "json" {
		WriteSuccess(w, r, data)
		return
	}

	filename := dto.Type + "_" + start.Format("20060102T150405Z") + "_" + end.Format("20060102T150405Z") + ".csv"
	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="`+filename+`"`)
	w.WriteHeader(http.StatusOK)
	if err := telemetry.WriteCSV(w, data); err != nil {
		logging.CtxErr(r.Context(), err).Str("category", dto.Type).Msg("Failed to write telemetry export")
	}
}

// DeadLetters lists telemetry jobs that exhausted their retries.
//
// @Summary List dead-lettered telemetry jobs
// @Tags Telemetry
// @Produce json
// @Param limit query int false "Maximum jobs (1-500)" default(50)
// @Success 200 {object} APIResponse{data=[]telemetry.Job}
// @Security BearerAuth
// @Router /telemetry/dead-letters [get]
func (h *Handler) DeadLetters(w http.ResponseWriter, r *http.Request) {
	limit, verr := boundedIntParam(r, "limit", defaultDeadLetterLimit, 1, maxDeadLetterLimit)
	if verr != nil {
		respondValidation(w, r, verr)
		return
	}
	jobs, err := h.telemetry.DeadLetters(r.Context(), limit)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	if jobs == nil {
		jobs = []*telemetry.Job{}
	}
	WriteSuccess(w, r, jobs)
}

// RequeueDeadLetter gives a dead job a fresh retry budget.
//
// @Summary Requeue a dead-lettered job
// @Tags Telemetry
// @Produce json
// @Param jobId path string true "Job id"
// @Success 200 {object} APIResponse
// @Failure 404 {object} APIResponse "Unknown job"
// @Security BearerAuth
// @Router /telemetry/dead-letters/{jobId}/requeue [post]
func (h *Handler) RequeueDeadLetter(w http.ResponseWriter, r *http.Request) {
	jobID := strings.TrimSpace(chi.URLParam(r, "jobId"))
	if jobID == "" {
		respondValidation(w, r, validation.NewFieldError("jobId", "required", "jobId is required"))
		return
	}
	if err := h.telemetry.RequeueDeadLetter(r.Context(), jobID); err != nil {
		respondServiceError(w, r, err)
		return
	}
	logging.Ctx(r.Context()).Info().Str("job_id", jobID).Msg("Dead-lettered telemetry job requeued")
	WriteSuccess(w, r, map[string]any{"jobId": jobID, "requeued": true})
}

// TelemetryStream upgrades to a WebSocket that receives every flushed
// telemetry batch.
//
// @Summary Live telemetry feed
// @Tags Telemetry
// @Security BearerAuth
// @Router /telemetry/stream [get]
func (h *Handler) TelemetryStream(w http.ResponseWriter, r *http.Request) {
	if h.wsHub == nil {
		logging.Warn().Msg("WebSocket connection rejected: hub not initialized")
		NewResponseWriter(w, r).ServiceUnavailable("Live telemetry feed unavailable")
		return
	}

	upgrader := h.getUpgrader()
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logging.CtxErr(r.Context(), err).Msg("WebSocket upgrade error")
		return
	}

	var userID string
	if subject := auth.SubjectFromContext(r.Context()); subject != nil {
		userID = subject.UserID
	}
	client := ws.NewClient(h.wsHub, conn, userID)
	h.wsHub.Register <- client
	client.Start()
}

func (h *Handler) getUpgrader() websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:   1024,
		WriteBufferSize:  1024,
		CheckOrigin:      h.checkWebSocketOrigin,
		HandshakeTimeout: 10 * time.Second,
	}
}

// checkWebSocketOrigin admits requests without an Origin (non-browser
// clients authenticate with a bearer token) and browser requests from a
// configured CORS origin.
func (h *Handler) checkWebSocketOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, allowed := range h.config.Security.CORSOrigins {
		if allowed == "*" || strings.EqualFold(allowed, origin) {
			return true
		}
	}
	logging.Warn().Str("origin", sanitizeLogValue(origin)).Msg("WebSocket connection rejected from unauthorized origin")
	return false
}

// sanitizeLogValue strips control characters and bounds length so client
// supplied headers cannot forge log lines.
func sanitizeLogValue(s string) string {
	const maxLen = 256
	if len(s) > maxLen {
		s = s[:maxLen]
	}
	return strings.Map(func(r rune) rune {
		if r < 0x20 || r == 0x7f {
			return -1
		}
		return r
	}, s)
}

// boundedIntParam reads an integer query parameter and enforces [lo, hi].
func boundedIntParam(r *http.Request, name string, def, lo, hi int) (int, *validation.RequestValidationError) {
	n, verr := intParam(r.URL.Query(), name, def)
	if verr != nil {
		return 0, verr
	}
	if n < lo || n > hi {
		return 0, validation.NewFieldError(name, "range", fmt.Sprintf("%s must be between %d and %d", name, lo, hi))
	}
	return n, nil
}
