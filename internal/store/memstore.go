package store

import (
	"context"
	"sort"
	"strings"
	"sync"
)

// MemStore is an in-memory, mutex-guarded Store used by every internal
// package's tests so none of them require a live Redis. It replicates
// RedisStore's hash/set/ordered-set semantics with one difference:
// OrderedAppend keeps every appended element, even when its payload is
// already present, where RedisStore's ZADD replaces the existing member.
type MemStore struct {
	mu      sync.Mutex
	hashes  map[string]map[string]string
	sets    map[string]map[string]struct{}
	zsets   map[string][]Element
	closed  bool
}

// NewMemStore constructs an empty in-memory store.
func NewMemStore() *MemStore {
	return &MemStore{
		hashes: make(map[string]map[string]string),
		sets:   make(map[string]map[string]struct{}),
		zsets:  make(map[string][]Element),
	}
}

func (m *MemStore) HashGet(_ context.Context, key, field string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	h, ok := m.hashes[key]
	if !ok {
		return "", false, nil
	}
	v, ok := h[field]
	return v, ok, nil
}

func (m *MemStore) HashGetAll(_ context.Context, key string) (map[string]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]string)
	for k, v := range m.hashes[key] {
		out[k] = v
	}
	return out, nil
}

func (m *MemStore) HashSet(_ context.Context, key string, fields map[string]string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	h, ok := m.hashes[key]
	if !ok {
		h = make(map[string]string)
		m.hashes[key] = h
	}
	for k, v := range fields {
		h[k] = v
	}
	return nil
}

func (m *MemStore) HashDelete(_ context.Context, key string, fields ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	h, ok := m.hashes[key]
	if !ok {
		return nil
	}
	for _, f := range fields {
		delete(h, f)
	}
	if len(h) == 0 {
		delete(m.hashes, key)
	}
	return nil
}

func (m *MemStore) SetAdd(_ context.Context, key string, members ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sets[key]
	if !ok {
		s = make(map[string]struct{})
		m.sets[key] = s
	}
	for _, mem := range members {
		s[mem] = struct{}{}
	}
	return nil
}

func (m *MemStore) SetRemove(_ context.Context, key string, members ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sets[key]
	if !ok {
		return nil
	}
	for _, mem := range members {
		delete(s, mem)
	}
	if len(s) == 0 {
		delete(m.sets, key)
	}
	return nil
}

func (m *MemStore) SetMembers(_ context.Context, key string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.sets[key]
	out := make([]string, 0, len(s))
	for mem := range s {
		out = append(out, mem)
	}
	sort.Strings(out)
	return out, nil
}

func (m *MemStore) SetCardinality(_ context.Context, key string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return int64(len(m.sets[key])), nil
}

func (m *MemStore) OrderedAppend(_ context.Context, key string, score float64, payload string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.zsets[key] = append(m.zsets[key], Element{Score: score, Payload: payload})
	return nil
}

func (m *MemStore) RangeByRank(_ context.Context, key string, minScore, maxScore float64) ([]Element, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Element
	for _, e := range m.zsets[key] {
		if e.Score >= minScore && e.Score <= maxScore {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Score < out[j].Score })
	return out, nil
}

func (m *MemStore) RemoveByScoreRange(_ context.Context, key string, minScore, maxScore float64) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	elems := m.zsets[key]
	kept := elems[:0:0]
	var removed int64
	for _, e := range elems {
		if e.Score >= minScore && e.Score <= maxScore {
			removed++
			continue
		}
		kept = append(kept, e)
	}
	if len(kept) == 0 {
		delete(m.zsets, key)
	} else {
		m.zsets[key] = kept
	}
	return removed, nil
}

func (m *MemStore) ScanByPrefix(_ context.Context, prefix string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []string
	for k := range m.hashes {
		if strings.HasPrefix(k, prefix) {
			out = append(out, k)
		}
	}
	for k := range m.sets {
		if strings.HasPrefix(k, prefix) {
			out = append(out, k)
		}
	}
	for k := range m.zsets {
		if strings.HasPrefix(k, prefix) {
			out = append(out, k)
		}
	}
	sort.Strings(out)
	return out, nil
}

// Batch runs fn directly against m: MemStore has no pipelining distinction,
// every call already takes the same mutex.
func (m *MemStore) Batch(ctx context.Context, fn func(b Store) error) error {
	return fn(m)
}

func (m *MemStore) HealthCheck(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrUnavailable
	}
	return nil
}

func (m *MemStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}
