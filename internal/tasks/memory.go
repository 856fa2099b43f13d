package tasks

import (
	"context"
	"sort"
	"sync"

	"github.com/example/visit-scheduler/internal/domain/identity"
)

// MemoryStore is a process-local Store used by tests and dev mode. Same
// last-writer-wins semantics as the Postgres store, no durability.
type MemoryStore struct {
	mu     sync.Mutex
	states map[string]State
	runs   []Run
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{states: make(map[string]State)}
}

func (m *MemoryStore) Get(_ context.Context, id identity.Identity) (State, bool, error) {
	if err := id.Validate(); err != nil {
		return State{}, false, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.states[id.TaskID()]
	return st, ok, nil
}

func (m *MemoryStore) Put(_ context.Context, st State) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.states[st.TaskID()] = st
	return nil
}

func (m *MemoryStore) List(context.Context) ([]State, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]State, 0, len(m.states))
	for _, st := range m.states {
		out = append(out, st)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TaskID() < out[j].TaskID() })
	return out, nil
}

func (m *MemoryStore) ListOwner(_ context.Context, owner string) ([]State, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []State
	for _, st := range m.states {
		if st.Config.Identity.Owner == owner {
			out = append(out, st)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TaskID() < out[j].TaskID() })
	return out, nil
}

func (m *MemoryStore) RecordRun(_ context.Context, run Run) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.runs = append(m.runs, run)
	return nil
}

// Runs returns a copy of the recorded run history.
func (m *MemoryStore) Runs() []Run {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Run, len(m.runs))
	copy(out, m.runs)
	return out
}
