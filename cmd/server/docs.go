// TradeAudit - Trading Platform Audit and Telemetry Service
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tradeaudit

// General API information for swag. Regenerate docs/ with:
//
//	swag init -g cmd/server/docs.go -o docs
//
// @title TradeAudit API
// @version 1.0
// @description Tamper-evident audit trail, compliance reporting and telemetry ingestion for a trading platform.
// @description
// @description ## Authentication
// @description
// @description Audit and telemetry administration endpoints require a JWT, sent as
// @description `Authorization: Bearer <token>` or in the `token` cookie. Telemetry
// @description tracking accepts anonymous requests.
// @description
// @description ## Rate Limiting
// @description
// @description Authenticated endpoints are limited per client IP. Anonymous tracking
// @description has its own, stricter limit.
//
// @license.name AGPL-3.0-or-later
// @license.url https://www.gnu.org/licenses/agpl-3.0.html
//
// @BasePath /api/v1
//
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization
package main
