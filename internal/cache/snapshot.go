package cache

import (
	"time"

	"github.com/matheus3301/deskcache/internal/model"
)

// Snapshot is an immutable, fully built view of one collection. Once
// published it is never modified; a commit replaces it with a new one.
type Snapshot[T model.Keyed] struct {
	items       []T
	index       map[string]int
	CommittedAt time.Time
}

// newSnapshot builds a snapshot from items in the given order. When a key
// repeats, the later record wins but keeps the position of the first.
func newSnapshot[T model.Keyed](items []T, at time.Time) *Snapshot[T] {
	s := &Snapshot[T]{
		items:       make([]T, 0, len(items)),
		index:       make(map[string]int, len(items)),
		CommittedAt: at,
	}
	for _, it := range items {
		k := it.Key()
		if i, ok := s.index[k]; ok {
			s.items[i] = it
			continue
		}
		s.index[k] = len(s.items)
		s.items = append(s.items, it)
	}
	return s
}

// Len returns the number of records.
func (s *Snapshot[T]) Len() int {
	if s == nil {
		return 0
	}
	return len(s.items)
}

// Items returns the records in insertion order. The returned slice is a
// copy and may be modified by the caller.
func (s *Snapshot[T]) Items() []T {
	if s == nil {
		return nil
	}
	out := make([]T, len(s.items))
	copy(out, s.items)
	return out
}

// Each calls fn for every record in insertion order until fn returns false.
func (s *Snapshot[T]) Each(fn func(T) bool) {
	if s == nil {
		return
	}
	for _, it := range s.items {
		if !fn(it) {
			return
		}
	}
}

// Lookup returns the record with the given key.
func (s *Snapshot[T]) Lookup(key string) (T, bool) {
	var zero T
	if s == nil {
		return zero, false
	}
	i, ok := s.index[key]
	if !ok {
		return zero, false
	}
	return s.items[i], true
}
