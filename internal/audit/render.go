// TradeAudit - Trading Platform Audit and Telemetry Service
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tradeaudit

package audit

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/goccy/go-json"

	"github.com/tomtom215/tradeaudit/internal/csvutil"
)

// ReportFormat selects the rendering of a report.
type ReportFormat string

const (
	FormatJSON ReportFormat = "json"
	FormatCSV  ReportFormat = "csv"
	FormatPDF  ReportFormat = "pdf"
)

// filenameTimeLayout is the generation timestamp embedded in download names.
const filenameTimeLayout = "20060102T150405Z"

// CheckFormat accepts json and csv. pdf is recognized but not implemented.
func CheckFormat(f ReportFormat) error {
	switch f {
	case FormatJSON, FormatCSV:
		return nil
	case FormatPDF:
		return fmt.Errorf("%w: %s", ErrFormatNotImplemented, f)
	default:
		return fmt.Errorf("%w: %q", ErrUnsupportedFormat, f)
	}
}

// RenderReport encodes the whole report in memory and returns it with its
// content type. Nothing is returned on error.
func RenderReport(r *Report, f ReportFormat) ([]byte, string, error) {
	if err := CheckFormat(f); err != nil {
		return nil, "", err
	}
	switch f {
	case FormatCSV:
		b, err := renderCSV(r)
		if err != nil {
			return nil, "", err
		}
		return b, "text/csv; charset=utf-8", nil
	default:
		b, err := json.MarshalIndent(r, "", "  ")
		if err != nil {
			return nil, "", fmt.Errorf("encode report: %w", err)
		}
		return b, "application/json", nil
	}
}

// ReportFilename is "<reportType>_<yyyymmddThhmmssZ>.<ext>".
func ReportFilename(r *Report, f ReportFormat) string {
	return fmt.Sprintf("%s_%s.%s", r.ReportType, r.GeneratedAt.UTC().Format(filenameTimeLayout), f)
}

// renderCSV flattens the report into section,key,value rows. Header fields go
// under the "report" section; each top-level field of the body is a section
// and nested paths are dot-joined keys.
func renderCSV(r *Report) ([]byte, error) {
	var buf bytes.Buffer
	w := csvutil.NewWriter(csv.NewWriter(&buf))

	rows := [][]string{
		{"section", "key", "value"},
		{"report", "reportType", string(r.ReportType)},
		{"report", "generatedAt", FormatTimestamp(r.GeneratedAt)},
		{"report", "generatedBy", r.GeneratedBy},
		{"report", "periodStart", FormatTimestamp(r.Period.Start)},
		{"report", "periodEnd", FormatTimestamp(r.Period.End)},
	}

	body, err := toGeneric(r.Data)
	if err != nil {
		return nil, err
	}
	if obj, ok := body.(map[string]any); ok {
		for _, section := range sortedKeys(obj) {
			rows = flatten(rows, section, "", obj[section])
		}
	} else if body != nil {
		rows = flatten(rows, "data", "", body)
	}

	if err := w.WriteAll(rows); err != nil {
		return nil, fmt.Errorf("write csv: %w", err)
	}
	return buf.Bytes(), nil
}

func toGeneric(v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode report body: %w", err)
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var out any
	if err := dec.Decode(&out); err != nil {
		return nil, fmt.Errorf("decode report body: %w", err)
	}
	return out, nil
}

func flatten(rows [][]string, section, key string, v any) [][]string {
	switch val := v.(type) {
	case map[string]any:
		if len(val) == 0 {
			return append(rows, []string{section, key, ""})
		}
		for _, k := range sortedKeys(val) {
			rows = flatten(rows, section, joinPath(key, k), val[k])
		}
		return rows
	case []any:
		if len(val) == 0 {
			return append(rows, []string{section, key, ""})
		}
		for i, item := range val {
			rows = flatten(rows, section, joinPath(key, strconv.Itoa(i)), item)
		}
		return rows
	default:
		return append(rows, []string{section, key, scalarString(val)})
	}
}

func scalarString(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case json.Number:
		return val.String()
	case bool:
		return strconv.FormatBool(val)
	default:
		return fmt.Sprint(val)
	}
}

func joinPath(prefix, k string) string {
	if prefix == "" {
		return k
	}
	return strings.Join([]string{prefix, k}, ".")
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
