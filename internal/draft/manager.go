package draft

import (
	"sort"
	"sync"

	"github.com/google/uuid"
)

// Manager keeps the open workflows of the HTTP API by ID
type Manager struct {
	mu        sync.RWMutex
	deps      *Deps
	workflows map[string]*Workflow
}

// NewManager creates a manager whose workflows share deps
func NewManager(deps *Deps) *Manager {
	return &Manager{
		deps:      deps,
		workflows: make(map[string]*Workflow),
	}
}

// Create starts a new idle workflow
func (m *Manager) Create() *Workflow {
	wf := NewWorkflow(uuid.New().String(), m.deps)

	m.mu.Lock()
	m.workflows[wf.draft.ID] = wf
	m.mu.Unlock()

	return wf
}

// Get returns the workflow with id
func (m *Manager) Get(id string) (*Workflow, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	wf, ok := m.workflows[id]
	if !ok {
		return nil, ErrNotFound
	}
	return wf, nil
}

// List returns snapshots of all workflows, newest first
func (m *Manager) List() []Draft {
	m.mu.RLock()
	drafts := make([]Draft, 0, len(m.workflows))
	for _, wf := range m.workflows {
		drafts = append(drafts, wf.Snapshot())
	}
	m.mu.RUnlock()

	sort.Slice(drafts, func(i, j int) bool {
		return drafts[i].CreatedAt.After(drafts[j].CreatedAt)
	})
	return drafts
}

// Delete discards a workflow
func (m *Manager) Delete(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.workflows[id]; !ok {
		return ErrNotFound
	}
	delete(m.workflows, id)
	return nil
}
