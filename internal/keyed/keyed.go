// Package keyed provides the id-keyed collection that backs both the
// conversation directory and the log synchronizer. Storage is a map, so a
// value can never appear twice; ordering is computed on read.
//
// A Set also tracks snapshot windows. Between BeginSnapshot and ApplySnapshot,
// every id touched by an incremental change is remembered. When the snapshot
// lands, those ids keep the incremental state and every untouched id takes the
// snapshot's state, including removal of ids the snapshot no longer contains.
package keyed

import "sort"

// Token identifies one snapshot window.
type Token uint64

// Set is a keyed collection. It is not safe for concurrent use; owners
// serialize access.
type Set[K comparable, V any] struct {
	items   map[K]V
	window  Token
	open    bool
	touched map[K]struct{}
}

// New returns an empty Set.
func New[K comparable, V any]() *Set[K, V] {
	return &Set[K, V]{items: make(map[K]V)}
}

// Len returns the number of values.
func (s *Set[K, V]) Len() int { return len(s.items) }

// Get returns the value stored under k.
func (s *Set[K, V]) Get(k K) (V, bool) {
	v, ok := s.items[k]
	return v, ok
}

// Upsert stores v under k, replacing any previous value.
func (s *Set[K, V]) Upsert(k K, v V) {
	s.items[k] = v
	s.touch(k)
}

// Remove deletes k. Removing an absent key is a no-op that still counts as a
// touch while a window is open, so a late snapshot cannot resurrect it.
func (s *Set[K, V]) Remove(k K) bool {
	_, ok := s.items[k]
	delete(s.items, k)
	s.touch(k)
	return ok
}

// BeginSnapshot opens a new window, superseding any open one.
func (s *Set[K, V]) BeginSnapshot() Token {
	s.window++
	s.open = true
	s.touched = make(map[K]struct{})
	return s.window
}

// ApplySnapshot merges rows fetched during the window identified by tok.
// It returns false and changes nothing when tok is not the current window.
func (s *Set[K, V]) ApplySnapshot(tok Token, rows []V, key func(V) K) bool {
	if !s.open || tok != s.window {
		return false
	}
	seen := make(map[K]struct{}, len(rows))
	for _, v := range rows {
		k := key(v)
		seen[k] = struct{}{}
		if _, hit := s.touched[k]; hit {
			continue
		}
		s.items[k] = v
	}
	for k := range s.items {
		if _, ok := seen[k]; ok {
			continue
		}
		if _, hit := s.touched[k]; hit {
			continue
		}
		delete(s.items, k)
	}
	s.open = false
	s.touched = nil
	return true
}

// AbortSnapshot closes the window identified by tok without applying anything.
func (s *Set[K, V]) AbortSnapshot(tok Token) {
	if s.open && tok == s.window {
		s.open = false
		s.touched = nil
	}
}

// Reset drops every value and invalidates any open window.
func (s *Set[K, V]) Reset() {
	s.items = make(map[K]V)
	s.window++
	s.open = false
	s.touched = nil
}

// Values returns the values ordered by less.
func (s *Set[K, V]) Values(less func(a, b V) bool) []V {
	out := make([]V, 0, len(s.items))
	for _, v := range s.items {
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool { return less(out[i], out[j]) })
	return out
}

func (s *Set[K, V]) touch(k K) {
	if s.open {
		s.touched[k] = struct{}{}
	}
}
