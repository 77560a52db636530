package store

import (
	"context"
	"maps"
	"sync"
)

// MemoryStore keeps session state in process memory.
type MemoryStore struct {
	mu       sync.Mutex
	sessions map[string]Values
}

func NewMemory() *MemoryStore {
	return &MemoryStore{sessions: make(map[string]Values)}
}

func (s *MemoryStore) Load(_ context.Context, session string) (Values, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v := maps.Clone(s.sessions[session])
	if v == nil {
		v = Values{}
	}
	if err := CheckVersion(v); err != nil {
		return nil, err
	}
	return v, nil
}

func (s *MemoryStore) Update(_ context.Context, session string, fn UpdateFunc) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	current := s.sessions[session]
	if err := CheckVersion(current); err != nil {
		return err
	}
	view := maps.Clone(current)
	if view == nil {
		view = Values{}
	}
	m, err := fn(view)
	if err != nil {
		return err
	}
	m = stamp(m)
	if m.Empty() {
		return nil
	}
	next := maps.Clone(current)
	if next == nil {
		next = Values{}
	}
	apply(next, m)
	if len(next) == 0 {
		delete(s.sessions, session)
		return nil
	}
	s.sessions[session] = next
	return nil
}

// Len returns the number of sessions holding state.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

func (s *MemoryStore) Close() error { return nil }
