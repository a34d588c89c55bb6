// TradeAudit - Trading Platform Audit and Telemetry Service
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tradeaudit

package auth

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/tomtom215/tradeaudit/internal/config"
)

const testSecret = "this_is_a_very_long_secret_key_for_testing_purposes_12345"

func newTestManager(t *testing.T, issuer string) *JWTManager {
	t.Helper()
	m, err := NewJWTManager(config.SecurityConfig{JWTSecret: testSecret, JWTIssuer: issuer})
	if err != nil {
		t.Fatalf("NewJWTManager() error = %v", err)
	}
	return m
}

func TestNewJWTManager(t *testing.T) {
	t.Parallel()
	if _, err := NewJWTManager(config.SecurityConfig{}); !errors.Is(err, ErrMissingSecret) {
		t.Errorf("NewJWTManager(empty) error = %v, want ErrMissingSecret", err)
	}
	if m, err := NewJWTManager(config.SecurityConfig{JWTSecret: testSecret}); err != nil || m == nil {
		t.Errorf("NewJWTManager() = %v, %v", m, err)
	}
}

func TestGenerateAndValidateToken(t *testing.T) {
	t.Parallel()
	manager := newTestManager(t, "")

	tests := []struct {
		name     string
		userID   string
		username string
		role     string
	}{
		{"trader", "u-1", "alice", "trader"},
		{"compliance officer", "u-2", "bob", "compliance_officer"},
		{"super admin", "u-3", "root", "super_admin"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			token, err := manager.GenerateToken(tt.userID, tt.username, tt.role, time.Hour)
			if err != nil {
				t.Fatalf("GenerateToken() error = %v", err)
			}
			claims, err := manager.ValidateToken(token)
			if err != nil {
				t.Fatalf("ValidateToken() error = %v", err)
			}
			if claims.UserID() != tt.userID || claims.Username != tt.username || claims.Role != tt.role {
				t.Errorf("claims = %+v", claims)
			}
		})
	}
}

func TestValidateToken_Rejects(t *testing.T) {
	t.Parallel()
	manager := newTestManager(t, "trading-idp")
	other := newTestManager(t, "someone-else")

	sign := func(method jwt.SigningMethod, key any, claims *Claims) string {
		t.Helper()
		s, err := jwt.NewWithClaims(method, claims).SignedString(key)
		if err != nil {
			t.Fatal(err)
		}
		return s
	}
	valid := func() *Claims {
		return &Claims{
			Username: "alice",
			Role:     "trader",
			RegisteredClaims: jwt.RegisteredClaims{
				Subject:   "u-1",
				Issuer:    "trading-idp",
				ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
			},
		}
	}

	expired := valid()
	expired.ExpiresAt = jwt.NewNumericDate(time.Now().Add(-time.Minute))
	noSub := valid()
	noSub.Subject = ""
	noRole := valid()
	noRole.Role = ""
	noExp := valid()
	noExp.ExpiresAt = nil

	wrongIssuer, _ := other.GenerateToken("u-1", "alice", "trader", time.Hour)
	good := sign(jwt.SigningMethodHS256, []byte(testSecret), valid())

	tests := []struct {
		name  string
		token string
	}{
		{"expired", sign(jwt.SigningMethodHS256, []byte(testSecret), expired)},
		{"wrong secret", sign(jwt.SigningMethodHS256, []byte("another-secret-of-reasonable-length!"), valid())},
		{"hs512", sign(jwt.SigningMethodHS512, []byte(testSecret), valid())},
		{"none alg", sign(jwt.SigningMethodNone, jwt.UnsafeAllowNoneSignatureType, valid())},
		{"missing subject", sign(jwt.SigningMethodHS256, []byte(testSecret), noSub)},
		{"missing role", sign(jwt.SigningMethodHS256, []byte(testSecret), noRole)},
		{"missing exp", sign(jwt.SigningMethodHS256, []byte(testSecret), noExp)},
		{"wrong issuer", wrongIssuer},
		{"tampered", good[:len(good)-2] + "xx"},
		{"garbage", "not.a.token"},
		{"empty", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if claims, err := manager.ValidateToken(tt.token); err == nil {
				t.Errorf("ValidateToken() accepted %s token: %+v", tt.name, claims)
			}
		})
	}

	if _, err := manager.ValidateToken(good); err != nil {
		t.Errorf("ValidateToken(good) error = %v", err)
	}
}

func TestGenerateToken_DefaultTTL(t *testing.T) {
	t.Parallel()
	manager := newTestManager(t, "")
	token, err := manager.GenerateToken("u-1", "alice", "trader", 0)
	if err != nil {
		t.Fatal(err)
	}
	claims, err := manager.ValidateToken(token)
	if err != nil {
		t.Fatal(err)
	}
	ttl := time.Until(claims.ExpiresAt.Time)
	if ttl <= 0 || ttl > DefaultTokenTTL {
		t.Errorf("ttl = %s, want (0, %s]", ttl, DefaultTokenTTL)
	}
	if strings.Count(token, ".") != 2 {
		t.Errorf("token %q is not a compact JWS", token)
	}
}
