package flowstore

import (
	"context"
	"testing"

	"github.com/flowmesh/flowmesh/pkg/types"
)

func TestMemoryStore_Create(t *testing.T) {
	store := NewMemoryStore()
	defer store.Close()
	ctx := context.Background()

	t.Run("creates new workflow", func(t *testing.T) {
		req := &CreateRequest{
			Name:        "Test Workflow",
			Description: "A test workflow",
			Agents: []types.AgentNode{
				{ID: "a", Type: "echo", Name: "Echo"},
			},
			Edges: []types.WorkflowEdge{},
		}

		wf, err := store.Create(ctx, req)
		if err != nil {
			t.Fatalf("Create failed: %v", err)
		}

		if wf.ID == "" {
			t.Error("expected ID to be generated")
		}
		if wf.Name != req.Name {
			t.Errorf("expected Name %q, got %q", req.Name, wf.Name)
		}
		if len(wf.Agents) != 1 {
			t.Errorf("expected 1 agent, got %d", len(wf.Agents))
		}
		if wf.CreatedAt.IsZero() {
			t.Error("CreatedAt should be set")
		}
		if wf.UpdatedAt.IsZero() {
			t.Error("UpdatedAt should be set")
		}
	})

	t.Run("creates workflow with custom ID", func(t *testing.T) {
		req := &CreateRequest{
			ID:   "custom-workflow-id",
			Name: "Custom ID Workflow",
		}

		wf, err := store.Create(ctx, req)
		if err != nil {
			t.Fatalf("Create failed: %v", err)
		}

		if wf.ID != "custom-workflow-id" {
			t.Errorf("expected ID %q, got %q", "custom-workflow-id", wf.ID)
		}
	})

	t.Run("returns error for duplicate ID", func(t *testing.T) {
		req := &CreateRequest{
			ID:   "duplicate-workflow",
			Name: "Duplicate Workflow",
		}

		_, err := store.Create(ctx, req)
		if err != nil {
			t.Fatalf("First create failed: %v", err)
		}

		_, err = store.Create(ctx, req)
		if err != ErrWorkflowExists {
			t.Errorf("expected ErrWorkflowExists, got %v", err)
		}
	})

	t.Run("validates required fields", func(t *testing.T) {
		tests := []struct {
			name string
			req  *CreateRequest
		}{
			{"missing Name", &CreateRequest{}},
			{"agent without ID", &CreateRequest{
				Name:   "Bad Agents",
				Agents: []types.AgentNode{{Type: "echo"}},
			}},
			{"duplicate agent IDs", &CreateRequest{
				Name: "Dup Agents",
				Agents: []types.AgentNode{
					{ID: "a", Type: "echo"},
					{ID: "a", Type: "echo"},
				},
			}},
		}

		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				_, err := store.Create(ctx, tt.req)
				if err == nil {
					t.Error("expected validation error")
				}
			})
		}
	})
}

func TestMemoryStore_Get(t *testing.T) {
	store := NewMemoryStore()
	defer store.Close()
	ctx := context.Background()

	created, _ := store.Create(ctx, &CreateRequest{
		ID:   "get-test-workflow",
		Name: "Get Test Workflow",
	})

	t.Run("gets existing workflow", func(t *testing.T) {
		wf, err := store.Get(ctx, "get-test-workflow")
		if err != nil {
			t.Fatalf("Get failed: %v", err)
		}

		if wf.ID != created.ID {
			t.Errorf("expected ID %q, got %q", created.ID, wf.ID)
		}
	})

	t.Run("returns error for non-existent workflow", func(t *testing.T) {
		_, err := store.Get(ctx, "non-existent")
		if err != ErrWorkflowNotFound {
			t.Errorf("expected ErrWorkflowNotFound, got %v", err)
		}
	})
}

func TestMemoryStore_Update(t *testing.T) {
	store := NewMemoryStore()
	defer store.Close()
	ctx := context.Background()

	store.Create(ctx, &CreateRequest{
		ID:          "update-test-workflow",
		Name:        "Update Test Workflow",
		Description: "Original description",
		Agents:      []types.AgentNode{{ID: "a", Type: "echo"}},
	})

	t.Run("updates existing workflow", func(t *testing.T) {
		newName := "Updated Name"
		newDesc := "Updated description"
		updateReq := &UpdateRequest{
			Name:        &newName,
			Description: &newDesc,
		}

		wf, err := store.Update(ctx, "update-test-workflow", updateReq)
		if err != nil {
			t.Fatalf("Update failed: %v", err)
		}

		if wf.Name != newName {
			t.Errorf("expected Name %q, got %q", newName, wf.Name)
		}
		if wf.Description != newDesc {
			t.Errorf("expected Description %q, got %q", newDesc, wf.Description)
		}
		if len(wf.Agents) != 1 {
			t.Error("agents should be unchanged when not supplied")
		}
	})

	t.Run("updates graph", func(t *testing.T) {
		updateReq := &UpdateRequest{
			Agents: []types.AgentNode{
				{ID: "a", Type: "echo"},
				{ID: "b", Type: "template"},
			},
			Edges: []types.WorkflowEdge{{Source: "a", Target: "b"}},
		}

		wf, err := store.Update(ctx, "update-test-workflow", updateReq)
		if err != nil {
			t.Fatalf("Update failed: %v", err)
		}

		if len(wf.Agents) != 2 {
			t.Errorf("expected 2 agents, got %d", len(wf.Agents))
		}
		if len(wf.Edges) != 1 {
			t.Errorf("expected 1 edge, got %d", len(wf.Edges))
		}
	})

	t.Run("returns error for non-existent workflow", func(t *testing.T) {
		_, err := store.Update(ctx, "non-existent", &UpdateRequest{})
		if err != ErrWorkflowNotFound {
			t.Errorf("expected ErrWorkflowNotFound, got %v", err)
		}
	})
}

func TestMemoryStore_Delete(t *testing.T) {
	store := NewMemoryStore()
	defer store.Close()
	ctx := context.Background()

	store.Create(ctx, &CreateRequest{
		ID:   "delete-test-workflow",
		Name: "Delete Test Workflow",
	})

	t.Run("deletes existing workflow", func(t *testing.T) {
		err := store.Delete(ctx, "delete-test-workflow")
		if err != nil {
			t.Fatalf("Delete failed: %v", err)
		}

		_, err = store.Get(ctx, "delete-test-workflow")
		if err != ErrWorkflowNotFound {
			t.Error("workflow should be deleted")
		}
	})

	t.Run("returns error for non-existent workflow", func(t *testing.T) {
		err := store.Delete(ctx, "non-existent")
		if err != ErrWorkflowNotFound {
			t.Errorf("expected ErrWorkflowNotFound, got %v", err)
		}
	})
}

func TestMemoryStore_List(t *testing.T) {
	store := NewMemoryStore()
	defer store.Close()
	ctx := context.Background()

	// Create test workflows
	requests := []CreateRequest{
		{ID: "wf1", Name: "Workflow 1", CreatedBy: "user1"},
		{ID: "wf2", Name: "Workflow 2", CreatedBy: "user2"},
		{ID: "wf3", Name: "Workflow 3", CreatedBy: "user1"},
	}
	for _, r := range requests {
		req := r
		store.Create(ctx, &req)
	}

	t.Run("lists all workflows", func(t *testing.T) {
		list, err := store.List(ctx, nil)
		if err != nil {
			t.Fatalf("List failed: %v", err)
		}

		if len(list) != 3 {
			t.Errorf("expected 3 workflows, got %d", len(list))
		}
	})

	t.Run("filters by creator", func(t *testing.T) {
		list, err := store.List(ctx, &ListOptions{
			CreatedBy: "user1",
		})
		if err != nil {
			t.Fatalf("List failed: %v", err)
		}

		if len(list) != 2 {
			t.Errorf("expected 2 workflows by user1, got %d", len(list))
		}
	})

	t.Run("applies limit", func(t *testing.T) {
		list, err := store.List(ctx, &ListOptions{Limit: 2})
		if err != nil {
			t.Fatalf("List failed: %v", err)
		}

		if len(list) != 2 {
			t.Errorf("expected 2 workflows with limit, got %d", len(list))
		}
	})

	t.Run("applies offset", func(t *testing.T) {
		allList, _ := store.List(ctx, nil)
		offsetList, _ := store.List(ctx, &ListOptions{Offset: 1})

		if len(offsetList) != len(allList)-1 {
			t.Errorf("offset list should have %d items, got %d", len(allList)-1, len(offsetList))
		}
	})
}

func TestCreateRequest_Validate(t *testing.T) {
	tests := []struct {
		name    string
		req     CreateRequest
		wantErr bool
	}{
		{
			name: "valid request",
			req: CreateRequest{
				Name:   "Test Workflow",
				Agents: []types.AgentNode{{ID: "a", Type: "echo"}},
			},
			wantErr: false,
		},
		{
			name:    "empty graph is allowed",
			req:     CreateRequest{Name: "Empty"},
			wantErr: false,
		},
		{
			name:    "missing Name",
			req:     CreateRequest{},
			wantErr: true,
		},
		{
			name: "duplicate agent ids",
			req: CreateRequest{
				Name: "Test Workflow",
				Agents: []types.AgentNode{
					{ID: "a", Type: "echo"},
					{ID: "a", Type: "echo"},
				},
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.req.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
