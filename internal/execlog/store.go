// Package execlog stores the structured diagnostic log the engine emits
// while executing a workflow. It is a per-execution append-only record, not
// an audit trail.
package execlog

import (
	"context"
	"time"
)

// Level is the severity of an execution log entry.
type Level string

const (
	LevelInfo  Level = "INFO"
	LevelError Level = "ERROR"
)

// Entry is one execution log line. Component identifies the emitter; the
// engine uses the node id for per-agent lines and "engine" for its own.
type Entry struct {
	Timestamp   time.Time `json:"timestamp"`
	ExecutionID string    `json:"execution_id"`
	Level       Level     `json:"level"`
	Component   string    `json:"component"`
	Message     string    `json:"message"`
}

// Store is the execution log sink. Implementations must be safe for
// concurrent appends from multiple executions.
type Store interface {
	// Append records one entry. Entries for an execution id are retained in
	// append order.
	Append(ctx context.Context, e Entry) error

	// List returns every entry whose execution id matches exactly, in append
	// order.
	List(ctx context.Context, executionID string) ([]Entry, error)

	// Close releases any resources.
	Close() error
}
