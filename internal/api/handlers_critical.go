// TradeAudit - Trading Platform Audit and Telemetry Service
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tradeaudit

package api

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/tomtom215/tradeaudit/internal/audit"
	"github.com/tomtom215/tradeaudit/internal/validation"
)

const (
	defaultCriticalLimit = 100
	maxCriticalLimit     = 1000
)

// CriticalReader is the read side of *audit.CriticalStore.
type CriticalReader interface {
	Get(ctx context.Context, id string) (*audit.CriticalEntry, error)
	List(ctx context.Context, since time.Time, limit int) ([]audit.CriticalEntry, error)
	Count(ctx context.Context) (int64, error)
}

// CriticalEntries is the /audit/critical listing.
type CriticalEntries struct {
	Entries []audit.CriticalEntry `json:"entries"`
	Total   int64                 `json:"total"`
}

// ListCriticalEntries lists escalated critical records held outside the
// primary audit database, oldest first.
//
// @Summary List escalated critical records
// @Description Reads the independent critical store. Useful when the primary database was unavailable or has been tampered with.
// @Tags Audit
// @Produce json
// @Param since query string false "Escalated at or after (ISO-8601)"
// @Param limit query int false "Maximum entries (1-1000)" default(100)
// @Success 200 {object} APIResponse{data=CriticalEntries}
// @Failure 400 {object} APIResponse "Validation error"
// @Failure 403 {object} APIResponse "Insufficient permissions"
// @Failure 503 {object} APIResponse "Critical store not configured"
// @Security BearerAuth
// @Router /audit/critical [get]
func (h *Handler) ListCriticalEntries(w http.ResponseWriter, r *http.Request) {
	if h.critical == nil {
		NewResponseWriter(w, r).ServiceUnavailable("Critical store is not configured")
		return
	}

	var since time.Time
	if raw := r.URL.Query().Get("since"); raw != "" {
		t, verr := parseTime("since", raw)
		if verr != nil {
			respondValidation(w, r, verr)
			return
		}
		since = t
	}
	limit, verr := boundedIntParam(r, "limit", defaultCriticalLimit, 1, maxCriticalLimit)
	if verr != nil {
		respondValidation(w, r, verr)
		return
	}

	entries, err := h.critical.List(r.Context(), since, limit)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	total, err := h.critical.Count(r.Context())
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	if entries == nil {
		entries = []audit.CriticalEntry{}
	}
	WriteSuccess(w, r, CriticalEntries{Entries: entries, Total: total})
}

// GetCriticalEntry returns the latest escalation of one audit record.
//
// @Summary Escalated copy of one audit record
// @Tags Audit
// @Produce json
// @Param id path string true "Audit record id"
// @Success 200 {object} APIResponse{data=audit.CriticalEntry}
// @Failure 404 {object} APIResponse "Record was never escalated"
// @Failure 503 {object} APIResponse "Critical store not configured"
// @Security BearerAuth
// @Router /audit/critical/{id} [get]
func (h *Handler) GetCriticalEntry(w http.ResponseWriter, r *http.Request) {
	if h.critical == nil {
		NewResponseWriter(w, r).ServiceUnavailable("Critical store is not configured")
		return
	}
	id := strings.TrimSpace(chi.URLParam(r, "id"))
	if id == "" {
		respondValidation(w, r, validation.NewFieldError("id", "required", "id is required"))
		return
	}
	entry, err := h.critical.Get(r.Context(), id)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	WriteSuccess(w, r, entry)
}
