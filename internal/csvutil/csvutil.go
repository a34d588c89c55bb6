// TradeAudit - Trading Platform Audit and Telemetry Service
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tradeaudit

// Package csvutil hardens CSV downloads against spreadsheet formula
// injection.
package csvutil

import (
	"encoding/csv"
	"strconv"
)

// EscapeFormula prefixes a single quote to cells a spreadsheet would evaluate
// as a formula. Plain numbers such as "-3.5" are left alone.
func EscapeFormula(cell string) string {
	if cell == "" {
		return cell
	}
	switch cell[0] {
	case '=', '+', '-', '@', '\t', '\r':
		if _, err := strconv.ParseFloat(cell, 64); err == nil {
			return cell
		}
		return "'" + cell
	}
	return cell
}

// Writer is a csv.Writer that escapes every cell it writes.
type Writer struct {
	*csv.Writer
}

// NewWriter wraps w.
func NewWriter(w *csv.Writer) *Writer {
	return &Writer{Writer: w}
}

// Write escapes record in place and writes it.
func (w *Writer) Write(record []string) error {
	for i := range record {
		record[i] = EscapeFormula(record[i])
	}
	return w.Writer.Write(record)
}

// WriteAll writes every record then flushes.
func (w *Writer) WriteAll(records [][]string) error {
	for _, r := range records {
		if err := w.Write(r); err != nil {
			return err
		}
	}
	w.Flush()
	return w.Error()
}
