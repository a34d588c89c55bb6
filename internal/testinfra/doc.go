// TradeAudit - Trading Platform Audit and Telemetry Service
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tradeaudit

// Package testinfra provides shared test infrastructure.
//
// # Redis Container
//
// Integration tests (build tag "integration") start a throwaway Redis with
// testcontainers-go:
//
//	func TestRedisStore(t *testing.T) {
//	    testinfra.SkipIfNoDocker(t)
//	    redis := testinfra.NewRedisContainer(t)
//	    store := telemetry.NewRedisStore(redis.Client, config.RedisConfig{}, breaker.DefaultSettings())
//	    ...
//	}
//
// # Webhook Receiver
//
// MockWebhookServer captures alert deliveries so notifier tests can assert on
// headers, signatures and bodies without leaving the process.
package testinfra
