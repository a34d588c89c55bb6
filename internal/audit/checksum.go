// TradeAudit - Trading Platform Audit and Telemetry Service
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tradeaudit

package audit

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/goccy/go-json"
)

// TimestampFormat is the ISO-8601 layout hashed into every checksum.
const TimestampFormat = "2006-01-02T15:04:05.000Z"

// ErrMissingSecret is returned by NewCodec for an empty secret.
var ErrMissingSecret = errors.New("audit hash secret must not be empty")

// ChecksumFields is the exact tuple covered by a record checksum.
type ChecksumFields struct {
	UserID     *string
	Action     Action
	EntityType EntityType
	EntityID   *string
	Metadata   map[string]any
	Timestamp  time.Time
}

// canonicalPayload fixes key order alphabetically. Nested metadata keys are
// sorted by the encoder.
type canonicalPayload struct {
	Action     Action     `json:"action"`
	EntityID   *string    `json:"entityId"`
	EntityType EntityType `json:"entityType"`
	Metadata   any        `json:"metadata"`
	Timestamp  string     `json:"timestamp"`
	UserID     *string    `json:"userId"`
}

// Codec computes and verifies record checksums with a process-wide key.
// It is safe for concurrent use.
type Codec struct {
	key []byte
}

// NewCodec returns a Codec keyed with secret.
func NewCodec(secret string) (*Codec, error) {
	if secret == "" {
		return nil, ErrMissingSecret
	}
	return &Codec{key: []byte(secret)}, nil
}

// Compute returns the hex HMAC-SHA256 of the canonical serialization of f.
func (c *Codec) Compute(f ChecksumFields) (string, error) {
	payload, err := CanonicalBytes(f)
	if err != nil {
		return "", err
	}
	mac := hmac.New(sha256.New, c.key)
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil)), nil
}

// Verify recomputes the checksum of rec and compares it in constant time.
// A nil record, an empty checksum or a serialization failure all verify false.
func (c *Codec) Verify(rec *Record) bool {
	if rec == nil || rec.Checksum == "" || rec.unreadable {
		return false
	}
	expected, err := c.Compute(fieldsOf(rec))
	if err != nil {
		return false
	}
	return hmac.Equal([]byte(expected), []byte(rec.Checksum))
}

// CanonicalBytes returns the deterministic JSON encoding hashed by Compute.
func CanonicalBytes(f ChecksumFields) ([]byte, error) {
	var metadata any
	if f.Metadata != nil {
		normalized, err := NormalizeMetadata(f.Metadata)
		if err != nil {
			return nil, err
		}
		metadata = normalized
	}

	payload := canonicalPayload{
		Action:     f.Action,
		EntityID:   f.EntityID,
		EntityType: f.EntityType,
		Metadata:   metadata,
		Timestamp:  FormatTimestamp(f.Timestamp),
		UserID:     f.UserID,
	}
	b, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("canonical encode: %w", err)
	}
	return b, nil
}

// NormalizeMetadata round-trips m through JSON so that the in-memory value
// hashed at write time equals the value decoded from storage later. Numbers
// keep their literal text as json.Number.
func NormalizeMetadata(m map[string]any) (map[string]any, error) {
	if m == nil {
		return nil, nil
	}
	raw, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("encode metadata: %w", err)
	}
	return DecodeMetadata(raw)
}

// DecodeMetadata decodes stored metadata JSON. "null" and empty input yield nil.
func DecodeMetadata(raw []byte) (map[string]any, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil, nil
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var out map[string]any
	if err := dec.Decode(&out); err != nil {
		return nil, fmt.Errorf("decode metadata: %w", err)
	}
	return out, nil
}

// FormatTimestamp renders t in the hashed layout.
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format(TimestampFormat)
}

func fieldsOf(rec *Record) ChecksumFields {
	return ChecksumFields{
		UserID:     rec.UserID,
		Action:     rec.Action,
		EntityType: rec.EntityType,
		EntityID:   rec.EntityID,
		Metadata:   rec.Metadata,
		Timestamp:  rec.CreatedAt,
	}
}
