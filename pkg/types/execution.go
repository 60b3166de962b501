package types

import (
	"time"
)

// ExecutionStatus represents the state of a workflow execution, and of a
// single agent execution within it (which only ever reaches completed or
// failed).
type ExecutionStatus string

const (
	ExecutionStatusPending   ExecutionStatus = "pending"
	ExecutionStatusRunning   ExecutionStatus = "running"
	ExecutionStatusCompleted ExecutionStatus = "completed"
	ExecutionStatusFailed    ExecutionStatus = "failed"
)

// Terminal reports whether the status is a final one.
func (s ExecutionStatus) Terminal() bool {
	return s == ExecutionStatusCompleted || s == ExecutionStatusFailed
}

// AgentMetrics holds the measured cost of one agent invocation.
type AgentMetrics struct {
	AgentID     string          `json:"agent_id"`
	AgentName   string          `json:"agent_name"`
	StartedAt   time.Time       `json:"started_at"`
	CompletedAt time.Time       `json:"completed_at"`
	Status      ExecutionStatus `json:"status"`
	TokensUsed  int             `json:"tokens_used"`
	Cost        float64         `json:"cost"`
	LatencyMS   int64           `json:"latency_ms"`
}

// ExecutionMetrics is the aggregate over the executed prefix of a run.
// Agents carries the per-node metrics in execution order.
type ExecutionMetrics struct {
	TotalTokens    int            `json:"total_tokens"`
	TotalCost      float64        `json:"total_cost"`
	TotalLatencyMS int64          `json:"total_latency_ms"`
	Agents         []AgentMetrics `json:"agents"`
}

// AgentExecution is the finalized result of one node invocation. It is
// appended to the execution record in order and never mutated afterward.
type AgentExecution struct {
	AgentID   string                   `json:"agent_id"`
	AgentName string                   `json:"agent_name"`
	Status    ExecutionStatus          `json:"status"`
	Output    interface{}              `json:"output,omitempty"`
	Sources   []map[string]interface{} `json:"sources,omitempty"`
	Metrics   AgentMetrics             `json:"metrics"`
	Error     string                   `json:"error,omitempty"`
}

// Execution is the record of one workflow run: overall status, per-agent
// results in execution order (truncated at the first failure), aggregate
// metrics, and timestamps. Owned by the engine while running, read-only
// afterward.
type Execution struct {
	ID              string            `json:"id"`
	WorkflowID      string            `json:"workflow_id"`
	Status          ExecutionStatus   `json:"status"`
	Input           interface{}       `json:"input,omitempty"`
	Results         interface{}       `json:"results,omitempty"`
	AgentExecutions []AgentExecution  `json:"agent_executions"`
	Metrics         *ExecutionMetrics `json:"metrics,omitempty"`
	Error           string            `json:"error,omitempty"`
	StartedAt       time.Time         `json:"started_at"`
	CompletedAt     *time.Time        `json:"completed_at,omitempty"`
	CreatedAt       time.Time         `json:"created_at"`
	UpdatedAt       time.Time         `json:"updated_at"`
}

// ExecutionMeta is a lightweight representation of an execution for listing.
type ExecutionMeta struct {
	ID          string          `json:"id"`
	WorkflowID  string          `json:"workflow_id"`
	Status      ExecutionStatus `json:"status"`
	Error       string          `json:"error,omitempty"`
	TotalTokens int             `json:"total_tokens"`
	TotalCost   float64         `json:"total_cost"`
	StartedAt   time.Time       `json:"started_at"`
	CompletedAt *time.Time      `json:"completed_at,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

// Meta projects the execution to its listing form.
func (e *Execution) Meta() ExecutionMeta {
	m := ExecutionMeta{
		ID:          e.ID,
		WorkflowID:  e.WorkflowID,
		Status:      e.Status,
		Error:       e.Error,
		StartedAt:   e.StartedAt,
		CompletedAt: e.CompletedAt,
		CreatedAt:   e.CreatedAt,
		UpdatedAt:   e.UpdatedAt,
	}
	if e.Metrics != nil {
		m.TotalTokens = e.Metrics.TotalTokens
		m.TotalCost = e.Metrics.TotalCost
	}
	return m
}
