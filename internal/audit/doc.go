// TradeAudit - Trading Platform Audit and Telemetry Service
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tradeaudit

// Package audit provides tamper-evident audit logging and compliance reporting
// for the trading platform.
//
// # Overview
//
// Every audit record carries an HMAC-SHA256 checksum over the canonical JSON of
// its identity fields:
//
//	{action, entityId, entityType, metadata, timestamp, userId}
//
// Keys are emitted in sorted order at every nesting level and the timestamp is
// formatted as ISO-8601 UTC with millisecond precision, so the checksum can be
// recomputed byte-for-byte from the stored record. A mismatch means the record
// was modified after it was written.
//
// # Write Path
//
//	Service.Log() -> Codec.Compute -> Store.Create (synchronous, retried)
//	                                      |
//	                           failure -> Alerter (log + metric + alert topic)
//	     critical action -> Escalator (Badger critical store + alert topic)
//
// The primary write is synchronous because compliance evidence cannot be
// eventually consistent. A failed write is never swallowed: the Alerter fires
// and Log returns ErrPrimaryWriteFailed, but callers are expected to continue
// their business operation. Critical actions (account deletion, role and
// permission changes, order execution, trade confirmation, audit log access,
// compliance report access) are escalated whether or not the primary write
// succeeded.
//
// # Read Path
//
// Searches and reports are audited themselves: SearchAuditLogs writes an
// AUDIT_LOG_ACCESS record and GenerateComplianceReport writes a
// COMPLIANCE_REPORT_ACCESS record. Each returned record is annotated with its
// integrity outcome.
//
// # Usage Example
//
//	codec, err := audit.NewCodec(cfg.Audit.HashSecret)
//	if err != nil {
//	    return err
//	}
//	svc := audit.NewService(audit.ServiceConfig{
//	    Store:     audit.NewDuckDBStore(db),
//	    Codec:     codec,
//	    Escalator: audit.NewMultiEscalator(criticalStore, alertEscalator),
//	    Alerter:   alerter,
//	    Trading:   audit.NewDuckDBTradingSource(db),
//	})
//
//	_, _ = svc.Log(ctx, audit.Entry{
//	    UserID:     &userID,
//	    Action:     audit.ActionOrderExecuted,
//	    EntityType: audit.EntityOrder,
//	    EntityID:   &orderID,
//	    NewValue:   map[string]any{"status": "FILLED"},
//	    Request:    audit.RequestContextFromHTTP(r),
//	})
package audit
