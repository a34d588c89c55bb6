// TradeAudit - Trading Platform Audit and Telemetry Service
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tradeaudit

/*
Package services provides suture.Service wrappers for components whose
lifecycle is not already a Serve(ctx) method.

Components that own their loop (telemetry.Service, websocket.Hub,
messaging.AlertRouter) are added to the tree directly. This package covers
the rest:

HTTPServerService:
  - Wraps *http.Server; ListenAndServe runs in a goroutine
  - Context cancellation triggers Shutdown with a bounded drain timeout
  - http.ErrServerClosed is treated as a clean exit

GCService:
  - Calls RunGC on a Badger-backed store at a fixed interval
  - Errors are logged and retried on the next tick

Every wrapper implements fmt.Stringer so suture's event hook can name it in
restart and timeout logs.
*/
package services
