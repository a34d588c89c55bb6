// TradeAudit - Trading Platform Audit and Telemetry Service
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tradeaudit

package auth

import (
	"context"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func TestSubjectFromClaims(t *testing.T) {
	t.Parallel()
	if SubjectFromClaims(nil) != nil {
		t.Error("SubjectFromClaims(nil) should be nil")
	}

	exp := time.Date(2026, 5, 4, 12, 0, 0, 0, time.UTC)
	s := SubjectFromClaims(&Claims{
		Username:         "carol",
		Role:             "compliance_officer",
		RegisteredClaims: jwt.RegisteredClaims{Subject: "u-9", ExpiresAt: jwt.NewNumericDate(exp)},
	})
	if s.UserID != "u-9" || s.Username != "carol" || s.Role != "compliance_officer" || !s.ExpiresAt.Equal(exp) {
		t.Errorf("subject = %+v", s)
	}
	if !s.HasRole("compliance_officer") || s.HasRole("admin") || s.HasRole("") {
		t.Error("HasRole mismatch")
	}
}

func TestSubjectContext(t *testing.T) {
	t.Parallel()
	if SubjectFromContext(context.Background()) != nil {
		t.Error("empty context should carry no subject")
	}
	want := &Subject{UserID: "u-1", Role: "trader"}
	if got := SubjectFromContext(ContextWithSubject(context.Background(), want)); got != want {
		t.Errorf("SubjectFromContext() = %+v", got)
	}

	var nilSubject *Subject
	if nilSubject.HasRole("trader") {
		t.Error("nil subject has no roles")
	}
}
