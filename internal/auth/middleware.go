// TradeAudit - Trading Platform Audit and Telemetry Service
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tradeaudit

package auth

import (
	"errors"
	"net/http"
	"strings"

	"github.com/tomtom215/tradeaudit/internal/logging"
)

// TokenCookie is read when no Authorization header is present. Browsers
// cannot set headers on WebSocket upgrades.
const TokenCookie = "token"

var (
	ErrNoCredentials   = errors.New("missing bearer token")
	ErrMalformedHeader = errors.New("invalid authorization header")
)

// ErrorWriter renders an authentication failure.
type ErrorWriter func(w http.ResponseWriter, r *http.Request, err error)

// Middleware authenticates requests with bearer tokens.
type Middleware struct {
	jwtManager   *JWTManager
	unauthorized ErrorWriter
}

// NewMiddleware builds the middleware. A nil onError falls back to a plain
// 401 response.
func NewMiddleware(jwtManager *JWTManager, onError ErrorWriter) *Middleware {
	if onError == nil {
		onError = func(w http.ResponseWriter, _ *http.Request, _ error) {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
		}
	}
	return &Middleware{jwtManager: jwtManager, unauthorized: onError}
}

// Authenticate rejects requests without a valid token.
func (m *Middleware) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		subject, err := m.subject(r)
		if err != nil {
			logging.Ctx(r.Context()).Debug().Err(err).Str("path", r.URL.Path).Msg("Authentication failed")
			m.unauthorized(w, r, err)
			return
		}
		next.ServeHTTP(w, r.WithContext(ContextWithSubject(r.Context(), subject)))
	})
}

// OptionalAuthenticate attaches the subject when a valid token is present
// and otherwise serves the request anonymously.
func (m *Middleware) OptionalAuthenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		subject, err := m.subject(r)
		if err != nil {
			if !errors.Is(err, ErrNoCredentials) {
				logging.Ctx(r.Context()).Debug().Err(err).Msg("Ignoring invalid optional token")
			}
			next.ServeHTTP(w, r)
			return
		}
		next.ServeHTTP(w, r.WithContext(ContextWithSubject(r.Context(), subject)))
	})
}

func (m *Middleware) subject(r *http.Request) (*Subject, error) {
	token, err := extractToken(r)
	if err != nil {
		return nil, err
	}
	claims, err := m.jwtManager.ValidateToken(token)
	if err != nil {
		return nil, err
	}
	return SubjectFromClaims(claims), nil
}

// extractToken reads "Authorization: Bearer <token>" or the token cookie.
func extractToken(r *http.Request) (string, error) {
	header := r.Header.Get("Authorization")
	if header == "" {
		cookie, err := r.Cookie(TokenCookie)
		if err != nil || cookie.Value == "" {
			return "", ErrNoCredentials
		}
		return cookie.Value, nil
	}

	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") || strings.TrimSpace(token) == "" {
		return "", ErrMalformedHeader
	}
	return strings.TrimSpace(token), nil
}
