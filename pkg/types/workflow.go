// Package types provides shared types for the orchestrator service.
package types

import (
	"time"
)

// Position is an editor hint for rendering a node on a canvas.
// The engine never reads it.
type Position struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// AgentNode is one step in a workflow. Type selects the agent implementation
// in the agent directory at execution time; Config is opaque to the engine and
// decoded by the agent itself.
type AgentNode struct {
	ID          string                 `json:"id"`
	Type        string                 `json:"type"`
	Name        string                 `json:"name"`
	Description string                 `json:"description,omitempty"`
	Config      map[string]interface{} `json:"config,omitempty"`
	Position    *Position              `json:"position,omitempty"`
}

// WorkflowEdge is a directed arc between two node ids (source → target).
// DataMapping is persisted for the editor layer; the engine threads outputs
// as-is and does not apply it.
type WorkflowEdge struct {
	Source      string            `json:"source"`
	Target      string            `json:"target"`
	DataMapping map[string]string `json:"data_mapping,omitempty"`
}

// Workflow is the immutable node+edge definition of an orchestration task.
// Edges referencing unknown node ids are tolerated here and dropped during
// order resolution.
type Workflow struct {
	ID          string         `json:"id"`
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Agents      []AgentNode    `json:"agents"`
	Edges       []WorkflowEdge `json:"edges,omitempty"`
	CreatedBy   string         `json:"created_by,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
}

// Node returns the node with the given id, or nil.
func (w *Workflow) Node(id string) *AgentNode {
	for i := range w.Agents {
		if w.Agents[i].ID == id {
			return &w.Agents[i]
		}
	}
	return nil
}
