// Package flowstore provides workflow definition persistence.
package flowstore

import (
	"context"
	"errors"

	"github.com/flowmesh/flowmesh/pkg/types"
)

// Common errors returned by Store implementations.
var (
	ErrWorkflowNotFound = errors.New("workflow not found")
	ErrWorkflowExists   = errors.New("workflow already exists")
)

// CreateRequest is the input for creating a new workflow.
type CreateRequest struct {
	ID          string               `json:"id,omitempty"` // Optional, auto-generated if empty
	Name        string               `json:"name"`
	Description string               `json:"description,omitempty"`
	Agents      []types.AgentNode    `json:"agents"`
	Edges       []types.WorkflowEdge `json:"edges"`
	CreatedBy   string               `json:"created_by,omitempty"`
}

// UpdateRequest is the input for updating an existing workflow.
// Nil fields are left unchanged; a non-nil empty Agents or Edges slice clears
// the corresponding list.
type UpdateRequest struct {
	Name        *string              `json:"name,omitempty"`
	Description *string              `json:"description,omitempty"`
	Agents      []types.AgentNode    `json:"agents,omitempty"`
	Edges       []types.WorkflowEdge `json:"edges,omitempty"`
}

// ListOptions configures list queries.
type ListOptions struct {
	Limit     int
	Offset    int
	CreatedBy string // Filter by creator
}

// Store defines the interface for workflow persistence.
// Implementations must be safe for concurrent use.
type Store interface {
	// Create saves a new workflow. Returns ErrWorkflowExists if ID is taken.
	Create(ctx context.Context, req *CreateRequest) (*types.Workflow, error)

	// Get retrieves a workflow by ID. Returns ErrWorkflowNotFound if not found.
	Get(ctx context.Context, id string) (*types.Workflow, error)

	// Update modifies an existing workflow. Returns ErrWorkflowNotFound if not found.
	Update(ctx context.Context, id string, req *UpdateRequest) (*types.Workflow, error)

	// Delete removes a workflow. Returns ErrWorkflowNotFound if not found.
	Delete(ctx context.Context, id string) error

	// List returns all workflows matching the options, newest first.
	List(ctx context.Context, opts *ListOptions) ([]*types.Workflow, error)

	// Close releases any resources.
	Close() error
}

// Validate checks if a CreateRequest is valid. A workflow with no agents is
// allowed; executing it produces a trivially completed record.
func (r *CreateRequest) Validate() error {
	if r.Name == "" {
		return errors.New("workflow name is required")
	}
	seen := make(map[string]struct{}, len(r.Agents))
	for _, agent := range r.Agents {
		if agent.ID == "" {
			return errors.New("agent id is required")
		}
		if _, dup := seen[agent.ID]; dup {
			return errors.New("duplicate agent id: " + agent.ID)
		}
		seen[agent.ID] = struct{}{}
	}
	return nil
}
