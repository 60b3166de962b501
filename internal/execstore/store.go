// Package execstore provides execution record persistence and event streaming.
package execstore

import (
	"context"
	"errors"
	"time"

	"github.com/flowmesh/flowmesh/pkg/types"
)

// Common errors returned by Store implementations.
var (
	ErrExecutionNotFound = errors.New("execution not found")
	ErrExecutionExists   = errors.New("execution already exists")
)

// Store defines the interface for execution persistence and event streaming.
// Implementations must be safe for concurrent use.
type Store interface {
	// Execution lifecycle
	// Create saves a new execution record. Returns ErrExecutionExists if the
	// ID is taken.
	Create(ctx context.Context, exec *types.Execution) error

	// Get retrieves the full execution record.
	Get(ctx context.Context, executionID string) (*types.Execution, error)

	// List returns execution metadata matching the options, newest first.
	List(ctx context.Context, opts *ListOptions) ([]*types.ExecutionMeta, error)

	// UpdateStatus transitions the execution's status and optional timestamps.
	UpdateStatus(ctx context.Context, executionID string, status types.ExecutionStatus, startedAt, completedAt *time.Time) error

	// Update replaces the stored record with the given one. The engine calls
	// this once with the finalized record; reaching a terminal status closes
	// any subscriber channels.
	Update(ctx context.Context, exec *types.Execution) error

	// Event streaming
	// AppendEvent adds an event to the execution's event stream and returns
	// the created event.
	AppendEvent(ctx context.Context, executionID string, input *types.EventInput) (*types.Event, error)

	// EventsSince returns events after the given event ID (exclusive).
	// If lastEventID is empty, returns all events from the beginning.
	EventsSince(ctx context.Context, executionID string, lastEventID string) ([]*types.Event, error)

	// Subscribe returns a channel that receives new events for the execution.
	// The cleanup function must be called when done to release resources.
	// The channel is closed when the execution reaches a terminal status.
	Subscribe(ctx context.Context, executionID string) (<-chan *types.Event, func(), error)

	// Diagnostics
	AdapterInfo(ctx context.Context) (map[string]interface{}, error)

	// Cleanup
	Close() error
}

// ListOptions filters and pages execution listings.
type ListOptions struct {
	// WorkflowID filters to executions of one workflow ("" = all).
	WorkflowID string

	// Status filters to executions in one state ("" = all).
	Status types.ExecutionStatus

	Limit  int
	Offset int
}

// Config holds configuration for Store implementations.
type Config struct {
	// Maximum number of events to keep per execution (ring buffer)
	EventMaxLen int64

	// TTL for executions in seconds (0 = no expiry)
	TTLSeconds int64
}

// DefaultConfig returns sensible defaults for Store configuration.
func DefaultConfig() *Config {
	return &Config{
		EventMaxLen: 5000,
		TTLSeconds:  7 * 24 * 60 * 60, // 7 days
	}
}
