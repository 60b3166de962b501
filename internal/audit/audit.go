// Package audit records security-relevant actions for later review.
package audit

import (
	"context"
	"strconv"
	"sync"
	"time"
)

// Actions recorded by the API layer.
const (
	ActionUserLogin         = "user.login"
	ActionWorkflowCreated   = "workflow.created"
	ActionWorkflowUpdated   = "workflow.updated"
	ActionWorkflowDeleted   = "workflow.deleted"
	ActionWorkflowExecuted  = "workflow.executed"
	ActionExecutionArchived = "execution.archived"
)

// Entry is a single audit record.
type Entry struct {
	ID           string                 `json:"id"`
	Actor        string                 `json:"actor,omitempty"`
	Action       string                 `json:"action"`
	ResourceType string                 `json:"resource_type"`
	ResourceID   string                 `json:"resource_id"`
	Details      map[string]interface{} `json:"details,omitempty"`
	IPAddress    string                 `json:"ip_address,omitempty"`
	Success      bool                   `json:"success"`
	Error        string                 `json:"error,omitempty"`
	Timestamp    time.Time              `json:"timestamp"`
}

// ListOptions filters and paginates audit queries.
type ListOptions struct {
	Actor        string
	Action       string
	ResourceType string
	ResourceID   string
	Limit        int
	Offset       int
}

// Recorder accepts and serves audit entries.
type Recorder interface {
	// Record appends an entry. The ID and, when unset, the timestamp
	// are assigned by the recorder.
	Record(ctx context.Context, entry Entry) error

	// List returns matching entries, newest first.
	List(ctx context.Context, opts *ListOptions) ([]Entry, error)
}

// MemoryRecorder keeps a bounded in-memory ring of audit entries.
// Oldest entries are dropped once the capacity is reached.
type MemoryRecorder struct {
	mu         sync.RWMutex
	entries    []Entry
	nextID     int64
	maxEntries int
}

const defaultMaxEntries = 10000

// NewMemoryRecorder creates a recorder retaining at most maxEntries
// entries. Zero or negative values select the default capacity.
func NewMemoryRecorder(maxEntries int) *MemoryRecorder {
	if maxEntries <= 0 {
		maxEntries = defaultMaxEntries
	}
	return &MemoryRecorder{
		entries:    make([]Entry, 0, 64),
		nextID:     1,
		maxEntries: maxEntries,
	}
}

// Record appends an entry to the ring.
func (r *MemoryRecorder) Record(ctx context.Context, entry Entry) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry.ID = strconv.FormatInt(r.nextID, 10)
	r.nextID++
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now().UTC()
	}

	r.entries = append(r.entries, entry)
	if len(r.entries) > r.maxEntries {
		r.entries = r.entries[len(r.entries)-r.maxEntries:]
	}

	return nil
}

// List returns matching entries, newest first.
func (r *MemoryRecorder) List(ctx context.Context, opts *ListOptions) ([]Entry, error) {
	if opts == nil {
		opts = &ListOptions{}
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	// Entries are stored oldest first, so walk backwards
	matched := make([]Entry, 0, len(r.entries))
	for i := len(r.entries) - 1; i >= 0; i-- {
		e := r.entries[i]
		if opts.Actor != "" && e.Actor != opts.Actor {
			continue
		}
		if opts.Action != "" && e.Action != opts.Action {
			continue
		}
		if opts.ResourceType != "" && e.ResourceType != opts.ResourceType {
			continue
		}
		if opts.ResourceID != "" && e.ResourceID != opts.ResourceID {
			continue
		}
		matched = append(matched, e)
	}

	if opts.Offset > 0 {
		if opts.Offset >= len(matched) {
			return []Entry{}, nil
		}
		matched = matched[opts.Offset:]
	}
	if opts.Limit > 0 && opts.Limit < len(matched) {
		matched = matched[:opts.Limit]
	}

	return matched, nil
}

// Size returns the number of retained entries.
func (r *MemoryRecorder) Size() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// Verify interface compliance
var _ Recorder = (*MemoryRecorder)(nil)
