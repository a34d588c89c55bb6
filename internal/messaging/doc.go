// TradeAudit - Trading Platform Audit and Telemetry Service
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tradeaudit

/*
Package messaging carries audit alerts from the audit service to operators.

The audit package publishes three kinds of alert on Watermill topics:

	audit.critical          every CRITICAL-severity record
	audit.write_failed      records that never reached the primary store
	audit.integrity_failed  stored records whose checksum no longer matches

This package provides the transport those topics travel on and the consumer
that turns them into webhook notifications.

# Transports

Two transports are supported, selected by MESSAGING_TRANSPORT:

  - gochannel: an in-process Watermill GoChannel. Alerts are lost on restart,
    which is acceptable for single-node development setups.
  - nats: NATS JetStream through watermill-nats. All audit topics are bound to
    one file-backed stream (AUDIT_ALERTS, subjects audit.>). With
    NATS_EMBEDDED=true an in-process nats-server is started first.

# Delivery

AlertRouter subscribes to the alert topics and hands each message to a
Notifier. Failed deliveries are retried with exponential backoff and then
moved to the poison topic so a broken webhook never blocks the stream.

WebhookNotifier signs every body with HMAC-SHA256. The signing key is derived
from the audit hash secret with HKDF, so the checksum key itself never leaves
the process. Receivers verify the X-TradeAudit-Signature header:

	X-TradeAudit-Signature: sha256=<hex(HMAC(key, body))>

Deliveries are rate limited (ALERTS_PER_MINUTE). Alerts over the limit are
logged and counted as throttled; the records themselves remain in the
critical store.
*/
package messaging
