// Package agent defines the uniform execute contract for workflow task units
// and the directory that constructs them from a string type identifier.
package agent

import (
	"context"
)

// Result is what every agent invocation produces. Ordinary business failures
// are reported with Success=false and Error set; they are never returned as a
// Go error.
type Result struct {
	Success    bool
	Output     interface{}
	Sources    []map[string]interface{}
	TokensUsed int
	Cost       float64
	Error      string
}

// ExecContext identifies the invocation to the agent so it can tag its own
// logs and telemetry. The engine fills it for every node.
type ExecContext struct {
	WorkflowID  string
	ExecutionID string
	NodeID      string
}

// Agent is a pluggable unit of work. Execute returns a non-nil error only for
// environment or programming faults (network exhaustion, bad state); the
// engine converts those into failed results rather than crashing the run.
type Agent interface {
	Execute(ctx context.Context, input interface{}, ec ExecContext) (Result, error)
}

// Factory constructs a fresh agent instance for one node invocation.
// Instances are never reused across nodes or executions.
type Factory func(id string, config map[string]interface{}) (Agent, error)

// Info describes a registered agent type for the catalog endpoint.
type Info struct {
	Type        string `json:"type"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Category    string `json:"category,omitempty"`
}
