package core

import "sync"

// SyncMap is an implementation of a map that is safe for concurrent usage.
type SyncMap[K comparable, V any] struct {
	m  map[K]V
	mu sync.RWMutex
}

func NewSyncMap[K comparable, V any]() *SyncMap[K, V] {
	return &SyncMap[K, V]{
		m: make(map[K]V),
	}
}

// Update retrieves the value for a key and applies f to it under the write lock.
// The returned value is stored when keep is true, otherwise the key is deleted.
func (s *SyncMap[K, V]) Update(key K, f func(value V, ok bool) (V, bool)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	value, ok := s.m[key]
	next, keep := f(value, ok)
	if keep {
		s.m[key] = next
	} else {
		delete(s.m, key)
	}
}

// View calls f with the value for a key under the read lock.
// f must not retain mutable parts of the value after it returns.
func (s *SyncMap[K, V]) View(key K, f func(value V, ok bool)) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	value, ok := s.m[key]
	f(value, ok)
}

func (s *SyncMap[K, V]) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.m)
}

func (s *SyncMap[K, V]) RRange(f func(key K, value V) bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for k, v := range s.m {
		if !f(k, v) {
			break
		}
	}
}
