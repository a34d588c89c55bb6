// TradeAudit - Trading Platform Audit and Telemetry Service
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tradeaudit

/*
Package auth validates bearer tokens and places the caller in the request
context.

Tokens are issued by the trading platform's identity service and signed with
HS256 using the shared JWT_SECRET. This service never issues tokens to end
users; JWTManager.GenerateToken exists for operators and tests.

Claims:

	sub       user id
	username  display name
	role      trader | compliance_officer | admin | super_admin
	iss       must equal JWT_ISSUER when configured
	exp       required

Middleware:

  - Authenticate rejects requests without a valid token (401).
  - OptionalAuthenticate serves anonymous requests and attaches the subject
    when a valid token is present. It is used by the telemetry track endpoint.

Handlers read the caller with SubjectFromContext. Permission checks live in
the authz package.
*/
package auth
