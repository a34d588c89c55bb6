// TradeAudit - Trading Platform Audit and Telemetry Service
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tradeaudit

package telemetry

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/goccy/go-json"

	"github.com/tomtom215/tradeaudit/internal/csvutil"
)

var (
	eventCSVHeader  = []string{"id", "eventType", "eventName", "path", "method", "statusCode", "duration", "sessionId", "userId", "userAgent", "ipAddress", "metadata", "createdAt"}
	metricCSVHeader = []string{"id", "metricType", "metricName", "value", "unit", "path", "sessionId", "userId", "metadata", "createdAt"}
)

// WriteCSV renders an Export result ([]Event or []Metric) as CSV with a
// header row.
func WriteCSV(w io.Writer, data any) error {
	cw := csvutil.NewWriter(csv.NewWriter(w))
	switch rows := data.(type) {
	case []Event:
		if err := cw.Write(eventCSVHeader); err != nil {
			return err
		}
		for i := range rows {
			e := &rows[i]
			if err := cw.Write([]string{
				e.ID,
				string(e.EventType),
				e.EventName,
				e.Path,
				e.Method,
				optInt(e.StatusCode),
				optFloat(e.Duration),
				e.SessionID,
				optString(e.UserID),
				e.UserAgent,
				e.IPAddress,
				metadataCell(e.Metadata),
				e.CreatedAt.UTC().Format(time.RFC3339Nano),
			}); err != nil {
				return err
			}
		}
	case []Metric:
		if err := cw.Write(metricCSVHeader); err != nil {
			return err
		}
		for i := range rows {
			m := &rows[i]
			if err := cw.Write([]string{
				m.ID,
				string(m.MetricType),
				m.MetricName,
				strconv.FormatFloat(m.Value, 'f', -1, 64),
				m.Unit,
				m.Path,
				m.SessionID,
				optString(m.UserID),
				metadataCell(m.Metadata),
				m.CreatedAt.UTC().Format(time.RFC3339Nano),
			}); err != nil {
				return err
			}
		}
	default:
		return fmt.Errorf("telemetry: cannot render %T as CSV", data)
	}
	cw.Flush()
	return cw.Error()
}

func optInt(p *int) string {
	if p == nil {
		return ""
	}
	return strconv.Itoa(*p)
}

func optFloat(p *float64) string {
	if p == nil {
		return ""
	}
	return strconv.FormatFloat(*p, 'f', -1, 64)
}

func optString(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}

func metadataCell(m map[string]any) string {
	if len(m) == 0 {
		return ""
	}
	b, err := json.Marshal(m)
	if err != nil {
		return ""
	}
	return string(b)
}
