package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"soap-evaluator/internal/store"
)

// Manager owns one Orchestrator per session and resumes each exactly once.
type Manager struct {
	log  *slog.Logger
	deps Deps

	mu       sync.Mutex
	sessions map[string]*Orchestrator
}

func NewManager(deps Deps) *Manager {
	return &Manager{
		log:      deps.Log,
		deps:     deps,
		sessions: make(map[string]*Orchestrator),
	}
}

// Create starts a new empty session.
func (m *Manager) Create(ctx context.Context) (*Orchestrator, error) {
	return m.open(ctx, uuid.NewString(), true)
}

// Get returns the orchestrator of a known session, resuming it from the
// store on first access. Unknown sessions yield ErrSessionUnknown.
func (m *Manager) Get(ctx context.Context, id string) (*Orchestrator, error) {
	return m.open(ctx, id, false)
}

func (m *Manager) open(ctx context.Context, id string, create bool) (*Orchestrator, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if o, ok := m.sessions[id]; ok {
		return o, nil
	}
	if !create {
		values, err := m.deps.Store.Load(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("load session %s: %w", id, wrapStorage("load", err))
		}
		// Sessions exist in the store once a transcript has been uploaded.
		if _, ok := values.Get(store.KeyEpoch); !ok {
			return nil, ErrSessionUnknown
		}
	}

	o := New(id, m.deps)
	if _, err := o.Resume(ctx); err != nil {
		o.Close()
		return nil, err
	}
	m.sessions[id] = o
	return o, nil
}

// Drop tears down a session and deletes its stored state.
func (m *Manager) Drop(ctx context.Context, id string) error {
	m.mu.Lock()
	o, ok := m.sessions[id]
	delete(m.sessions, id)
	m.mu.Unlock()

	if ok {
		o.Close()
	}
	err := m.deps.Store.Update(ctx, id, func(store.Values) (store.Mutation, error) {
		return store.Mutation{Delete: store.AllKeys}, nil
	})
	if err != nil {
		return wrapStorage("delete", err)
	}
	m.log.Info("session dropped", "session_id", id)
	return nil
}

// Close tears down every session.
func (m *Manager) Close() {
	m.mu.Lock()
	sessions := m.sessions
	m.sessions = make(map[string]*Orchestrator)
	m.mu.Unlock()

	for _, o := range sessions {
		o.Close()
	}
}
