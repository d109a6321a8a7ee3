// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package aggregation

// RemoveResult reports what RemoveIfPresent did to an entry.
type RemoveResult int

const (
	// NotPresent means the key had no entry.
	NotPresent RemoveResult = iota
	// PartiallyRemoved means one count was dropped and the key remains.
	PartiallyRemoved
	// Removed means the last count was dropped and the key is gone.
	Removed
)

// CountSet is an insertion-ordered multiset.
//
// Each key is stored once with a positive count. Keys live in a dense slice so
// iteration order is deterministic; removal swaps the last key into the freed
// slot. The zero value is an empty set ready for use.
//
// Thread Safety: Not safe for concurrent use. Callers hold the owning node's
// lock.
type CountSet[K comparable] struct {
	index  map[K]int
	keys   []K
	counts []int
}

// Len returns the number of distinct keys.
func (s *CountSet[K]) Len() int {
	return len(s.keys)
}

// Has reports whether key is present.
func (s *CountSet[K]) Has(key K) bool {
	_, ok := s.index[key]
	return ok
}

// Count returns the count of key, or 0 when absent.
func (s *CountSet[K]) Count(key K) int {
	if i, ok := s.index[key]; ok {
		return s.counts[i]
	}
	return 0
}

// Add adds one count of key and reports whether key was newly inserted.
func (s *CountSet[K]) Add(key K) bool {
	return s.AddCount(key, 1)
}

// AddCount adds n counts of key and reports whether key was newly inserted.
// Non-positive n is a no-op.
func (s *CountSet[K]) AddCount(key K, n int) bool {
	if n <= 0 {
		return false
	}
	if i, ok := s.index[key]; ok {
		s.counts[i] += n
		return false
	}
	if s.index == nil {
		s.index = make(map[K]int)
	}
	s.index[key] = len(s.keys)
	s.keys = append(s.keys, key)
	s.counts = append(s.counts, n)
	return true
}

// AddIfPresent adds one count of key only when it is already present.
func (s *CountSet[K]) AddIfPresent(key K) bool {
	i, ok := s.index[key]
	if ok {
		s.counts[i]++
	}
	return ok
}

// RemoveCount drops n counts of key and reports whether the key disappeared.
// Dropping more counts than present removes the key.
func (s *CountSet[K]) RemoveCount(key K, n int) bool {
	i, ok := s.index[key]
	if !ok || n <= 0 {
		return false
	}
	if s.counts[i] > n {
		s.counts[i] -= n
		return false
	}
	s.removeAt(i)
	return true
}

// RemoveIfPresent drops one count of key.
func (s *CountSet[K]) RemoveIfPresent(key K) RemoveResult {
	i, ok := s.index[key]
	switch {
	case !ok:
		return NotPresent
	case s.counts[i] > 1:
		s.counts[i]--
		return PartiallyRemoved
	default:
		s.removeAt(i)
		return Removed
	}
}

// RemoveAll drops key entirely and returns the count it had.
func (s *CountSet[K]) RemoveAll(key K) int {
	i, ok := s.index[key]
	if !ok {
		return 0
	}
	count := s.counts[i]
	s.removeAt(i)
	return count
}

// Keys returns a snapshot of the keys in iteration order.
func (s *CountSet[K]) Keys() []K {
	if len(s.keys) == 0 {
		return nil
	}
	out := make([]K, len(s.keys))
	copy(out, s.keys)
	return out
}

// Each calls fn for every key with its count, stopping when fn returns false.
func (s *CountSet[K]) Each(fn func(key K, count int) bool) {
	for i, key := range s.keys {
		if !fn(key, s.counts[i]) {
			return
		}
	}
}

func (s *CountSet[K]) removeAt(i int) {
	key := s.keys[i]
	last := len(s.keys) - 1
	if i != last {
		moved := s.keys[last]
		s.keys[i] = moved
		s.counts[i] = s.counts[last]
		s.index[moved] = i
	}
	var zero K
	s.keys[last] = zero
	s.keys = s.keys[:last]
	s.counts = s.counts[:last]
	delete(s.index, key)
}
