// TradeAudit - Trading Platform Audit and Telemetry Service
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tradeaudit

package auth

import (
	"context"
	"time"
)

// Subject is the authenticated caller placed in the request context.
type Subject struct {
	UserID    string    `json:"userId"`
	Username  string    `json:"username"`
	Role      string    `json:"role"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// SubjectFromClaims normalizes validated claims.
func SubjectFromClaims(claims *Claims) *Subject {
	if claims == nil {
		return nil
	}
	s := &Subject{
		UserID:   claims.Subject,
		Username: claims.Username,
		Role:     claims.Role,
	}
	if claims.ExpiresAt != nil {
		s.ExpiresAt = claims.ExpiresAt.Time
	}
	return s
}

// HasRole reports whether the subject holds exactly role.
func (s *Subject) HasRole(role string) bool {
	return s != nil && role != "" && s.Role == role
}

type contextKey string

const subjectContextKey contextKey = "auth-subject"

// ContextWithSubject stores s in ctx.
func ContextWithSubject(ctx context.Context, s *Subject) context.Context {
	return context.WithValue(ctx, subjectContextKey, s)
}

// SubjectFromContext returns the subject placed by Authenticate or
// OptionalAuthenticate, or nil.
func SubjectFromContext(ctx context.Context) *Subject {
	s, _ := ctx.Value(subjectContextKey).(*Subject)
	return s
}
