package execstore

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/flowmesh/flowmesh/pkg/types"
)

// memoryExecution holds all state for a single execution in memory.
type memoryExecution struct {
	mu          sync.RWMutex
	record      types.Execution
	events      []*types.Event
	nextSeq     int64
	maxEvents   int64
	subscribers map[chan *types.Event]struct{}
}

// MemoryStore is an in-memory implementation of Store.
// Suitable for development and testing. Data is lost on restart.
type MemoryStore struct {
	mu         sync.RWMutex
	executions map[string]*memoryExecution
	config     *Config
}

// NewMemoryStore creates a new in-memory Store.
func NewMemoryStore(cfg *Config) *MemoryStore {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	return &MemoryStore{
		executions: make(map[string]*memoryExecution),
		config:     cfg,
	}
}

func (s *MemoryStore) Create(ctx context.Context, exec *types.Execution) error {
	if exec == nil || exec.ID == "" {
		return fmt.Errorf("execution record with ID is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.executions[exec.ID]; exists {
		return ErrExecutionExists
	}

	s.executions[exec.ID] = &memoryExecution{
		record:      *exec,
		events:      make([]*types.Event, 0),
		nextSeq:     1,
		maxEvents:   s.config.EventMaxLen,
		subscribers: make(map[chan *types.Event]struct{}),
	}

	return nil
}

func (s *MemoryStore) Get(ctx context.Context, executionID string) (*types.Execution, error) {
	s.mu.RLock()
	exec, ok := s.executions[executionID]
	s.mu.RUnlock()

	if !ok {
		return nil, ErrExecutionNotFound
	}

	exec.mu.RLock()
	defer exec.mu.RUnlock()

	// Return a copy to prevent external mutation
	record := exec.record
	return &record, nil
}

func (s *MemoryStore) List(ctx context.Context, opts *ListOptions) ([]*types.ExecutionMeta, error) {
	if opts == nil {
		opts = &ListOptions{}
	}

	s.mu.RLock()
	all := make([]*memoryExecution, 0, len(s.executions))
	for _, exec := range s.executions {
		all = append(all, exec)
	}
	s.mu.RUnlock()

	var metas []*types.ExecutionMeta
	for _, exec := range all {
		exec.mu.RLock()
		meta := exec.record.Meta()
		exec.mu.RUnlock()

		if opts.WorkflowID != "" && meta.WorkflowID != opts.WorkflowID {
			continue
		}
		if opts.Status != "" && meta.Status != opts.Status {
			continue
		}
		metas = append(metas, &meta)
	}

	// Newest first, ID as tie-break for a stable order
	sort.Slice(metas, func(i, j int) bool {
		if metas[i].CreatedAt.Equal(metas[j].CreatedAt) {
			return metas[i].ID > metas[j].ID
		}
		return metas[i].CreatedAt.After(metas[j].CreatedAt)
	})

	if opts.Offset > 0 {
		if opts.Offset >= len(metas) {
			return []*types.ExecutionMeta{}, nil
		}
		metas = metas[opts.Offset:]
	}

	if opts.Limit > 0 && opts.Limit < len(metas) {
		metas = metas[:opts.Limit]
	}

	return metas, nil
}

func (s *MemoryStore) UpdateStatus(ctx context.Context, executionID string, status types.ExecutionStatus, startedAt, completedAt *time.Time) error {
	s.mu.RLock()
	exec, ok := s.executions[executionID]
	s.mu.RUnlock()

	if !ok {
		return ErrExecutionNotFound
	}

	exec.mu.Lock()
	exec.record.Status = status
	exec.record.UpdatedAt = time.Now().UTC()
	if startedAt != nil {
		exec.record.StartedAt = *startedAt
	}
	if completedAt != nil {
		exec.record.CompletedAt = completedAt
	}
	if status.Terminal() {
		exec.closeSubscribersLocked()
	}
	exec.mu.Unlock()

	return nil
}

func (s *MemoryStore) Update(ctx context.Context, record *types.Execution) error {
	if record == nil || record.ID == "" {
		return fmt.Errorf("execution record with ID is required")
	}

	s.mu.RLock()
	exec, ok := s.executions[record.ID]
	s.mu.RUnlock()

	if !ok {
		return ErrExecutionNotFound
	}

	exec.mu.Lock()
	exec.record = *record
	exec.record.UpdatedAt = time.Now().UTC()
	if exec.record.Status.Terminal() {
		exec.closeSubscribersLocked()
	}
	exec.mu.Unlock()

	return nil
}

// closeSubscribersLocked closes all subscriber channels. The caller must hold
// the execution's write lock.
func (e *memoryExecution) closeSubscribersLocked() {
	for ch := range e.subscribers {
		close(ch)
	}
	e.subscribers = make(map[chan *types.Event]struct{})
}

func (s *MemoryStore) AppendEvent(ctx context.Context, executionID string, input *types.EventInput) (*types.Event, error) {
	s.mu.RLock()
	exec, ok := s.executions[executionID]
	s.mu.RUnlock()

	if !ok {
		return nil, ErrExecutionNotFound
	}

	exec.mu.Lock()

	eventID := fmt.Sprintf("%d", exec.nextSeq)
	exec.nextSeq++

	dataJSON, err := json.Marshal(input.Data)
	if err != nil {
		exec.mu.Unlock()
		return nil, fmt.Errorf("failed to marshal event data: %w", err)
	}

	event := &types.Event{
		ID:          eventID,
		ExecutionID: executionID,
		Type:        input.Type,
		NodeID:      input.NodeID,
		Timestamp:   time.Now().UTC(),
		Data:        dataJSON,
	}

	// Append to ring buffer
	if int64(len(exec.events)) >= exec.maxEvents {
		exec.events = exec.events[1:]
	}
	exec.events = append(exec.events, event)
	exec.record.UpdatedAt = time.Now().UTC()

	// Copy subscribers to notify outside the lock
	subs := make([]chan *types.Event, 0, len(exec.subscribers))
	for ch := range exec.subscribers {
		subs = append(subs, ch)
	}
	exec.mu.Unlock()

	// Notify subscribers (non-blocking)
	for _, ch := range subs {
		select {
		case ch <- event:
		default:
			// Subscriber too slow, skip
		}
	}

	return event, nil
}

func (s *MemoryStore) EventsSince(ctx context.Context, executionID string, lastEventID string) ([]*types.Event, error) {
	s.mu.RLock()
	exec, ok := s.executions[executionID]
	s.mu.RUnlock()

	if !ok {
		return nil, ErrExecutionNotFound
	}

	exec.mu.RLock()
	defer exec.mu.RUnlock()

	if lastEventID == "" {
		result := make([]*types.Event, len(exec.events))
		copy(result, exec.events)
		return result, nil
	}

	// Find events after lastEventID
	var result []*types.Event
	found := false
	for _, evt := range exec.events {
		if found {
			result = append(result, evt)
		}
		if evt.ID == lastEventID {
			found = true
		}
	}

	return result, nil
}

func (s *MemoryStore) Subscribe(ctx context.Context, executionID string) (<-chan *types.Event, func(), error) {
	s.mu.RLock()
	exec, ok := s.executions[executionID]
	s.mu.RUnlock()

	if !ok {
		return nil, nil, ErrExecutionNotFound
	}

	ch := make(chan *types.Event, 100)

	exec.mu.Lock()
	if exec.record.Status.Terminal() {
		// Nothing more will be published, hand back a closed channel
		exec.mu.Unlock()
		close(ch)
		return ch, func() {}, nil
	}
	exec.subscribers[ch] = struct{}{}
	exec.mu.Unlock()

	cleanup := func() {
		exec.mu.Lock()
		delete(exec.subscribers, ch)
		exec.mu.Unlock()
		// Don't close the channel here - the publisher side owns that
	}

	return ch, cleanup, nil
}

func (s *MemoryStore) AdapterInfo(ctx context.Context) (map[string]interface{}, error) {
	s.mu.RLock()
	count := len(s.executions)
	s.mu.RUnlock()

	return map[string]interface{}{
		"adapter":         "memory",
		"execution_count": count,
		"max_events":      s.config.EventMaxLen,
	}, nil
}

func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, exec := range s.executions {
		exec.mu.Lock()
		for ch := range exec.subscribers {
			close(ch)
		}
		exec.subscribers = nil
		exec.mu.Unlock()
	}

	return nil
}

// Verify interface compliance
var _ Store = (*MemoryStore)(nil)
