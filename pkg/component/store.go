package component

import (
	"sort"
	"sync"
)

// Store is a Subscribable key/value state. Templates read it through
// Lookup; Set and Update notify subscribers after the change.
type Store struct {
	mu     sync.RWMutex
	values map[string]any
	subs   map[int]func()
	next   int
}

var _ Subscribable = (*Store)(nil)

// NewStore returns a store holding a copy of initial.
func NewStore(initial map[string]any) *Store {
	values := make(map[string]any, len(initial))
	for k, v := range initial {
		values[k] = v
	}
	return &Store{values: values, subs: make(map[int]func())}
}

// Lookup implements expr.Resolver.
func (s *Store) Lookup(name string) (any, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.values[name]
	return v, ok
}

// Get returns the value stored under name.
func (s *Store) Get(name string) any {
	v, _ := s.Lookup(name)
	return v
}

// Set stores a value and notifies subscribers.
func (s *Store) Set(name string, v any) {
	s.mu.Lock()
	s.values[name] = v
	s.mu.Unlock()
	s.notify()
}

// Update applies fn to the values under the lock and notifies subscribers.
func (s *Store) Update(fn func(values map[string]any)) {
	s.mu.Lock()
	fn(s.values)
	s.mu.Unlock()
	s.notify()
}

// Replace swaps all values and notifies subscribers.
func (s *Store) Replace(values map[string]any) {
	cp := make(map[string]any, len(values))
	for k, v := range values {
		cp[k] = v
	}
	s.mu.Lock()
	s.values = cp
	s.mu.Unlock()
	s.notify()
}

// Snapshot returns a copy of the values.
func (s *Store) Snapshot() map[string]any {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cp := make(map[string]any, len(s.values))
	for k, v := range s.values {
		cp[k] = v
	}
	return cp
}

// Keys returns the stored names, sorted.
func (s *Store) Keys() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	keys := make([]string, 0, len(s.values))
	for k := range s.values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Subscribe implements Subscribable.
func (s *Store) Subscribe(fn func()) func() {
	s.mu.Lock()
	id := s.next
	s.next++
	s.subs[id] = fn
	s.mu.Unlock()
	return func() {
		s.mu.Lock()
		delete(s.subs, id)
		s.mu.Unlock()
	}
}

func (s *Store) notify() {
	s.mu.RLock()
	fns := make([]func(), 0, len(s.subs))
	for _, fn := range s.subs {
		fns = append(fns, fn)
	}
	s.mu.RUnlock()
	for _, fn := range fns {
		fn()
	}
}
