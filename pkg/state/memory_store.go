package state

import (
	"context"
	"maps"
	"sort"
	"sync"
)

// MemoryStore keeps one record per scope in memory, keyed by Ref.Identifier.
// It is the store a tree uses when none is configured.
type MemoryStore[T any] struct {
	mu      sync.RWMutex
	records map[string]memoryRecord[T]
	clone   func(T) T
}

type memoryRecord[T any] struct {
	ref      Ref
	snapshot T
	meta     Meta
}

// MemoryOption configures a MemoryStore.
type MemoryOption[T any] func(*MemoryStore[T])

// WithSnapshotClone copies snapshots on the way in and out so callers never
// share them with the store.
func WithSnapshotClone[T any](clone func(T) T) MemoryOption[T] {
	return func(s *MemoryStore[T]) {
		s.clone = clone
	}
}

// NewMemoryStore returns an empty store.
func NewMemoryStore[T any](opts ...MemoryOption[T]) *MemoryStore[T] {
	s := &MemoryStore[T]{records: map[string]memoryRecord[T]{}}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

func (s *MemoryStore[T]) Load(_ context.Context, ref Ref) (T, Meta, bool, error) {
	var zero T
	key, err := ref.Identifier()
	if err != nil {
		return zero, Meta{}, false, err
	}
	s.mu.RLock()
	record, ok := s.records[key]
	s.mu.RUnlock()
	if !ok {
		return zero, Meta{}, false, nil
	}
	return s.copy(record.snapshot), cloneMeta(record.meta), true, nil
}

func (s *MemoryStore[T]) Save(_ context.Context, ref Ref, snapshot T, meta Meta) (Meta, error) {
	key, err := ref.Identifier()
	if err != nil {
		return Meta{}, err
	}
	record := memoryRecord[T]{ref: ref, snapshot: s.copy(snapshot), meta: cloneMeta(meta)}
	s.mu.Lock()
	s.records[key] = record
	s.mu.Unlock()
	return cloneMeta(meta), nil
}

func (s *MemoryStore[T]) Delete(_ context.Context, ref Ref) error {
	key, err := ref.Identifier()
	if err != nil {
		return err
	}
	s.mu.Lock()
	delete(s.records, key)
	s.mu.Unlock()
	return nil
}

// Len reports how many scopes have a record.
func (s *MemoryStore[T]) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

// Refs lists the stored scopes ordered by identifier.
func (s *MemoryStore[T]) Refs() []Ref {
	s.mu.RLock()
	keys := make([]string, 0, len(s.records))
	for key := range s.records {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	refs := make([]Ref, len(keys))
	for i, key := range keys {
		refs[i] = s.records[key].ref
	}
	s.mu.RUnlock()
	return refs
}

func (s *MemoryStore[T]) copy(snapshot T) T {
	if s.clone == nil {
		return snapshot
	}
	return s.clone(snapshot)
}

func cloneMeta(meta Meta) Meta {
	out := meta
	if meta.Extra != nil {
		out.Extra = maps.Clone(meta.Extra)
	}
	return out
}
