package flowstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/flowmesh/flowmesh/pkg/types"
)

// MemoryStore implements Store using in-memory storage.
// Suitable for testing and local development.
type MemoryStore struct {
	mu        sync.RWMutex
	workflows map[string]*types.Workflow
}

// NewMemoryStore creates a new in-memory workflow store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		workflows: make(map[string]*types.Workflow),
	}
}

// Create saves a new workflow.
func (s *MemoryStore) Create(ctx context.Context, req *CreateRequest) (*types.Workflow, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	id := req.ID
	if id == "" {
		id = uuid.New().String()
	}

	if _, exists := s.workflows[id]; exists {
		return nil, ErrWorkflowExists
	}

	now := time.Now().UTC()
	wf := &types.Workflow{
		ID:          id,
		Name:        req.Name,
		Description: req.Description,
		Agents:      req.Agents,
		Edges:       req.Edges,
		CreatedBy:   req.CreatedBy,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	s.workflows[id] = wf

	copy := *wf
	return &copy, nil
}

// Get retrieves a workflow by ID.
func (s *MemoryStore) Get(ctx context.Context, id string) (*types.Workflow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	wf, ok := s.workflows[id]
	if !ok {
		return nil, ErrWorkflowNotFound
	}

	// Return a copy to prevent external mutation
	copy := *wf
	return &copy, nil
}

// Update modifies an existing workflow.
func (s *MemoryStore) Update(ctx context.Context, id string, req *UpdateRequest) (*types.Workflow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	wf, ok := s.workflows[id]
	if !ok {
		return nil, ErrWorkflowNotFound
	}

	// Apply updates
	if req.Name != nil {
		wf.Name = *req.Name
	}
	if req.Description != nil {
		wf.Description = *req.Description
	}
	if req.Agents != nil {
		wf.Agents = req.Agents
	}
	if req.Edges != nil {
		wf.Edges = req.Edges
	}
	wf.UpdatedAt = time.Now().UTC()

	// Return a copy
	copy := *wf
	return &copy, nil
}

// Delete removes a workflow.
func (s *MemoryStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.workflows[id]; !ok {
		return ErrWorkflowNotFound
	}

	delete(s.workflows, id)
	return nil
}

// List returns all workflows matching the options, newest first.
func (s *MemoryStore) List(ctx context.Context, opts *ListOptions) ([]*types.Workflow, error) {
	if opts == nil {
		opts = &ListOptions{}
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var workflows []*types.Workflow
	for _, wf := range s.workflows {
		// Filter by creator if specified
		if opts.CreatedBy != "" && wf.CreatedBy != opts.CreatedBy {
			continue
		}

		// Return a copy
		copy := *wf
		workflows = append(workflows, &copy)
	}

	sort.Slice(workflows, func(i, j int) bool {
		if workflows[i].CreatedAt.Equal(workflows[j].CreatedAt) {
			return workflows[i].ID > workflows[j].ID
		}
		return workflows[i].CreatedAt.After(workflows[j].CreatedAt)
	})

	// Apply offset and limit
	if opts.Offset > 0 {
		if opts.Offset >= len(workflows) {
			return []*types.Workflow{}, nil
		}
		workflows = workflows[opts.Offset:]
	}

	if opts.Limit > 0 && opts.Limit < len(workflows) {
		workflows = workflows[:opts.Limit]
	}

	return workflows, nil
}

// Close is a no-op for the memory store.
func (s *MemoryStore) Close() error {
	return nil
}

// Verify interface compliance
var _ Store = (*MemoryStore)(nil)
