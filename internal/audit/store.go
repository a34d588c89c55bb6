// TradeAudit - Trading Platform Audit and Telemetry Service
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tradeaudit

package audit

import (
	"context"
	"errors"
	"sort"
	"strconv"
	"sync"
	"time"
)

// ErrRecordNotFound is returned by Store.Get for an unknown id.
var ErrRecordNotFound = errors.New("audit record not found")

// Filter selects records. Zero-valued fields do not filter. The createdAt
// range is half-open: [Start, End). Limit <= 0 returns every match.
type Filter struct {
	UserID     string
	Action     Action
	Actions    []Action
	EntityType EntityType
	EntityID   string
	IPAddress  string
	Start      *time.Time
	End        *time.Time
	Offset     int
	Limit      int
}

// GroupKey names a column usable in CountBy.
type GroupKey string

const (
	GroupAction     GroupKey = "action"
	GroupEntityType GroupKey = "entity_type"
	GroupUserID     GroupKey = "user_id"
	GroupIPAddress  GroupKey = "ip_address"
	GroupHourOfDay  GroupKey = "hour_of_day"
)

// GroupCount is one row of a grouped count. Keys follow the order of the
// requested GroupKeys.
type GroupCount struct {
	Keys  []string
	Count int64
}

// Store is the durable, append-biased audit record store.
type Store interface {
	// Create persists a new record. Records are never updated in place.
	Create(ctx context.Context, rec *Record) error

	// Get returns ErrRecordNotFound when id is unknown.
	Get(ctx context.Context, id string) (*Record, error)

	// Search returns matches ordered by createdAt DESC, id DESC.
	Search(ctx context.Context, f Filter) ([]*Record, error)

	// Count ignores Offset and Limit.
	Count(ctx context.Context, f Filter) (int64, error)

	// CountBy groups matches by keys, ordered by count DESC. Rows where any
	// grouped value is absent are skipped.
	CountBy(ctx context.Context, f Filter, keys ...GroupKey) ([]GroupCount, error)

	// DistinctUsers counts distinct non-empty user ids among matches.
	DistinctUsers(ctx context.Context, f Filter) (int64, error)

	// Archive moves records created before olderThan to cold storage and
	// returns how many moved.
	Archive(ctx context.Context, olderThan time.Time) (int64, error)
}

// MemoryStore is an in-process Store for development and tests.
type MemoryStore struct {
	mu       sync.RWMutex
	records  []*Record
	byID     map[string]*Record
	archived []*Record

	// failCreate, when set, is returned by Create.
	failCreate error
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{byID: make(map[string]*Record)}
}

// SetCreateError makes subsequent Create calls fail with err (nil clears it).
func (s *MemoryStore) SetCreateError(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failCreate = err
}

func (s *MemoryStore) Create(_ context.Context, rec *Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.failCreate != nil {
		return s.failCreate
	}
	if _, exists := s.byID[rec.ID]; exists {
		return errors.New("duplicate audit record id")
	}
	c := cloneRecord(rec)
	s.records = append(s.records, c)
	s.byID[c.ID] = c
	return nil
}

func (s *MemoryStore) Get(_ context.Context, id string) (*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.byID[id]
	if !ok {
		return nil, ErrRecordNotFound
	}
	return cloneRecord(rec), nil
}

func (s *MemoryStore) Search(_ context.Context, f Filter) ([]*Record, error) {
	s.mu.RLock()
	matches := s.matching(f)
	s.mu.RUnlock()

	sort.Slice(matches, func(i, j int) bool {
		if !matches[i].CreatedAt.Equal(matches[j].CreatedAt) {
			return matches[i].CreatedAt.After(matches[j].CreatedAt)
		}
		return matches[i].ID > matches[j].ID
	})

	if f.Offset > 0 {
		if f.Offset >= len(matches) {
			return []*Record{}, nil
		}
		matches = matches[f.Offset:]
	}
	if f.Limit > 0 && len(matches) > f.Limit {
		matches = matches[:f.Limit]
	}

	out := make([]*Record, len(matches))
	for i, rec := range matches {
		out[i] = cloneRecord(rec)
	}
	return out, nil
}

func (s *MemoryStore) Count(_ context.Context, f Filter) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return int64(len(s.matching(f))), nil
}

func (s *MemoryStore) CountBy(_ context.Context, f Filter, keys ...GroupKey) ([]GroupCount, error) {
	s.mu.RLock()
	matches := s.matching(f)
	s.mu.RUnlock()

	type bucket struct {
		keys  []string
		count int64
	}
	buckets := make(map[string]*bucket)
	var order []string

	for _, rec := range matches {
		values := make([]string, 0, len(keys))
		skip := false
		for _, k := range keys {
			v, ok := groupValue(rec, k)
			if !ok {
				skip = true
				break
			}
			values = append(values, v)
		}
		if skip {
			continue
		}
		id := joinKey(values)
		b, ok := buckets[id]
		if !ok {
			b = &bucket{keys: values}
			buckets[id] = b
			order = append(order, id)
		}
		b.count++
	}

	out := make([]GroupCount, 0, len(order))
	for _, id := range order {
		out = append(out, GroupCount{Keys: buckets[id].keys, Count: buckets[id].count})
	}
	sortGroupCounts(out)
	return out, nil
}

func (s *MemoryStore) DistinctUsers(_ context.Context, f Filter) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	seen := make(map[string]struct{})
	for _, rec := range s.matching(f) {
		if rec.UserID != nil && *rec.UserID != "" {
			seen[*rec.UserID] = struct{}{}
		}
	}
	return int64(len(seen)), nil
}

func (s *MemoryStore) Archive(_ context.Context, olderThan time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	kept := s.records[:0]
	var moved int64
	for _, rec := range s.records {
		if rec.CreatedAt.Before(olderThan) {
			s.archived = append(s.archived, rec)
			delete(s.byID, rec.ID)
			moved++
			continue
		}
		kept = append(kept, rec)
	}
	s.records = kept
	return moved, nil
}

// Archived returns how many records sit in cold storage.
func (s *MemoryStore) Archived() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.archived)
}

// mutate edits a stored record in place. Only tests use it, to simulate tampering.
func (s *MemoryStore) mutate(id string, fn func(*Record)) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.byID[id]
	if ok {
		fn(rec)
	}
	return ok
}

// matching must be called with mu held.
func (s *MemoryStore) matching(f Filter) []*Record {
	var out []*Record
	for _, rec := range s.records {
		if matchesFilter(rec, f) {
			out = append(out, rec)
		}
	}
	return out
}

func matchesFilter(rec *Record, f Filter) bool {
	if f.UserID != "" && (rec.UserID == nil || *rec.UserID != f.UserID) {
		return false
	}
	if f.Action != "" && rec.Action != f.Action {
		return false
	}
	if len(f.Actions) > 0 && !containsAction(f.Actions, rec.Action) {
		return false
	}
	if f.EntityType != "" && rec.EntityType != f.EntityType {
		return false
	}
	if f.EntityID != "" && (rec.EntityID == nil || *rec.EntityID != f.EntityID) {
		return false
	}
	if f.IPAddress != "" && rec.IPAddress != f.IPAddress {
		return false
	}
	if f.Start != nil && rec.CreatedAt.Before(*f.Start) {
		return false
	}
	if f.End != nil && !rec.CreatedAt.Before(*f.End) {
		return false
	}
	return true
}

func containsAction(list []Action, a Action) bool {
	for _, x := range list {
		if x == a {
			return true
		}
	}
	return false
}

func groupValue(rec *Record, k GroupKey) (string, bool) {
	switch k {
	case GroupAction:
		return string(rec.Action), true
	case GroupEntityType:
		return string(rec.EntityType), true
	case GroupUserID:
		if rec.UserID == nil || *rec.UserID == "" {
			return "", false
		}
		return *rec.UserID, true
	case GroupIPAddress:
		if rec.IPAddress == "" {
			return "", false
		}
		return rec.IPAddress, true
	case GroupHourOfDay:
		return strconv.Itoa(rec.CreatedAt.UTC().Hour()), true
	default:
		return "", false
	}
}

func joinKey(values []string) string {
	n := 0
	for _, v := range values {
		n += len(v) + 1
	}
	b := make([]byte, 0, n)
	for _, v := range values {
		b = append(b, v...)
		b = append(b, 0)
	}
	return string(b)
}

// sortGroupCounts orders by count DESC, then keys ASC for stable output.
func sortGroupCounts(gc []GroupCount) {
	sort.SliceStable(gc, func(i, j int) bool {
		if gc[i].Count != gc[j].Count {
			return gc[i].Count > gc[j].Count
		}
		return joinKey(gc[i].Keys) < joinKey(gc[j].Keys)
	})
}

func cloneRecord(rec *Record) *Record {
	c := *rec
	if rec.UserID != nil {
		v := *rec.UserID
		c.UserID = &v
	}
	if rec.EntityID != nil {
		v := *rec.EntityID
		c.EntityID = &v
	}
	if rec.Metadata != nil {
		c.Metadata = make(map[string]any, len(rec.Metadata))
		for k, v := range rec.Metadata {
			c.Metadata[k] = v
		}
	}
	return &c
}
