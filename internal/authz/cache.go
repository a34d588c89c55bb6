// TradeAudit - Trading Platform Audit and Telemetry Service
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tradeaudit

package authz

import (
	"sync"
	"time"
)

// decisionCache memoizes (role, object, action) decisions. The key space is
// bounded by the policy, so entries expire lazily on read.
type decisionCache struct {
	ttl   time.Duration
	now   func() time.Time
	mu    sync.RWMutex
	items map[decisionKey]decision
}

type decisionKey struct {
	role, object, action string
}

type decision struct {
	allowed   bool
	expiresAt time.Time
}

func newDecisionCache(ttl time.Duration) *decisionCache {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &decisionCache{
		ttl:   ttl,
		now:   time.Now,
		items: make(map[decisionKey]decision),
	}
}

func (c *decisionCache) get(role, object, action string) (allowed, ok bool) {
	c.mu.RLock()
	d, found := c.items[decisionKey{role, object, action}]
	c.mu.RUnlock()
	if !found || c.now().After(d.expiresAt) {
		return false, false
	}
	return d.allowed, true
}

func (c *decisionCache) set(role, object, action string, allowed bool) {
	c.mu.Lock()
	c.items[decisionKey{role, object, action}] = decision{allowed: allowed, expiresAt: c.now().Add(c.ttl)}
	c.mu.Unlock()
}

func (c *decisionCache) clear() {
	c.mu.Lock()
	c.items = make(map[decisionKey]decision)
	c.mu.Unlock()
}

func (c *decisionCache) len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.items)
}
