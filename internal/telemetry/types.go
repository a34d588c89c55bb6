// TradeAudit - Trading Platform Audit and Telemetry Service
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tradeaudit

package telemetry

import (
	"time"

	"github.com/goccy/go-json"
)

// EventType classifies an interaction event.
type EventType string

const (
	EventPageView   EventType = "page_view"
	EventClick      EventType = "click"
	EventAPICall    EventType = "api_call"
	EventWebSocket  EventType = "websocket"
	EventError      EventType = "error"
	EventNavigation EventType = "navigation"
	EventFormSubmit EventType = "form_submit"
)

// EventTypes lists every event type.
var EventTypes = []EventType{
	EventPageView, EventClick, EventAPICall, EventWebSocket,
	EventError, EventNavigation, EventFormSubmit,
}

func (t EventType) Valid() bool {
	for _, known := range EventTypes {
		if t == known {
			return true
		}
	}
	return false
}

// MetricType classifies a performance measurement.
type MetricType string

const (
	MetricPageLoad         MetricType = "page_load"
	MetricAPIResponse      MetricType = "api_response"
	MetricWebSocketLatency MetricType = "websocket_latency"
	MetricRenderTime       MetricType = "render_time"
	MetricMemoryUsage      MetricType = "memory_usage"
	MetricCPUUsage         MetricType = "cpu_usage"
)

// MetricTypes lists every metric type.
var MetricTypes = []MetricType{
	MetricPageLoad, MetricAPIResponse, MetricWebSocketLatency,
	MetricRenderTime, MetricMemoryUsage, MetricCPUUsage,
}

func (t MetricType) Valid() bool {
	for _, known := range MetricTypes {
		if t == known {
			return true
		}
	}
	return false
}

// Event is a discrete interaction fact.
type Event struct {
	ID         string         `json:"id"`
	EventType  EventType      `json:"eventType"`
	EventName  string         `json:"eventName"`
	Path       string         `json:"path,omitempty"`
	Method     string         `json:"method,omitempty"`
	StatusCode *int           `json:"statusCode,omitempty"`
	Duration   *float64       `json:"duration,omitempty"`
	SessionID  string         `json:"sessionId,omitempty"`
	UserID     *string        `json:"userId,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	UserAgent  string         `json:"userAgent,omitempty"`
	IPAddress  string         `json:"ipAddress,omitempty"`
	CreatedAt  time.Time      `json:"createdAt"`
}

// Metric is a discrete performance measurement.
type Metric struct {
	ID         string         `json:"id"`
	MetricType MetricType     `json:"metricType"`
	MetricName string         `json:"metricName"`
	Value      float64        `json:"value"`
	Unit       string         `json:"unit,omitempty"`
	Path       string         `json:"path,omitempty"`
	SessionID  string         `json:"sessionId,omitempty"`
	UserID     *string        `json:"userId,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	CreatedAt  time.Time      `json:"createdAt"`
}

// Category keys the buffer and the fast store.
type Category string

const (
	CategoryEvents  Category = "events"
	CategoryMetrics Category = "metrics"
)

// Categories lists both categories in flush order.
var Categories = []Category{CategoryEvents, CategoryMetrics}

func (c Category) Valid() bool {
	return c == CategoryEvents || c == CategoryMetrics
}

// Entry is one buffered item: the encoded event or metric and the time it was
// captured.
type Entry struct {
	CapturedAt time.Time       `json:"capturedAt"`
	Data       json.RawMessage `json:"data"`
}

// Realtime is the trailing-window view served from the fast store.
type Realtime struct {
	Events  []Event  `json:"events"`
	Metrics []Metric `json:"metrics"`
}

// TimeRange echoes a queried window.
type TimeRange struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// PathCount is a page-view tally for one path.
type PathCount struct {
	Path  string `json:"path"`
	Count int64  `json:"count"`
}

// Aggregated summarizes durable telemetry for a window.
type Aggregated struct {
	TotalEvents     int64       `json:"totalEvents"`
	APICalls        int64       `json:"apiCalls"`
	Errors          int64       `json:"errors"`
	ErrorRate       float64     `json:"errorRate"`
	AvgResponseTime float64     `json:"avgResponseTime"`
	MinResponseTime float64     `json:"minResponseTime"`
	MaxResponseTime float64     `json:"maxResponseTime"`
	TopPages        []PathCount `json:"topPages"`
	TimeRange       TimeRange   `json:"timeRange"`
}
