// TradeAudit - Trading Platform Audit and Telemetry Service
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tradeaudit

/*
Package websocket streams flushed telemetry batches to connected operators.

A Hub owns the set of clients and fans every broadcast out to them. Each
Client runs a read pump (keepalive and ping handling) and a write pump
(JSON frames plus periodic pings). A client whose send buffer is full is
dropped rather than allowed to slow the hub down.

Wiring:

	hub := websocket.NewHub()
	go hub.RunWithContext(ctx)
	telemetrySvc.OnFlush(func(c telemetry.Category, batch []telemetry.Entry) {
	    hub.BroadcastBatch(string(c), items(batch))
	})

Message types:

  - telemetry_batch: one flushed batch for a category
  - ping / pong: application-level keepalive
*/
package websocket
