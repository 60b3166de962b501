package execstore

import (
	"context"
	"time"

	"github.com/flowmesh/flowmesh/internal/metrics"
	"github.com/flowmesh/flowmesh/pkg/types"
)

// Instrument wraps a Store so every operation is counted in the
// store_operations_total metric under the "executions" store label.
func Instrument(next Store) Store {
	return &instrumentedStore{next: next}
}

type instrumentedStore struct {
	next Store
}

func (s *instrumentedStore) Create(ctx context.Context, exec *types.Execution) error {
	err := s.next.Create(ctx, exec)
	observe("create", err)
	return err
}

func (s *instrumentedStore) Get(ctx context.Context, executionID string) (*types.Execution, error) {
	exec, err := s.next.Get(ctx, executionID)
	observe("get", err)
	return exec, err
}

func (s *instrumentedStore) List(ctx context.Context, opts *ListOptions) ([]*types.ExecutionMeta, error) {
	metas, err := s.next.List(ctx, opts)
	observe("list", err)
	return metas, err
}

func (s *instrumentedStore) UpdateStatus(ctx context.Context, executionID string, status types.ExecutionStatus, startedAt, completedAt *time.Time) error {
	err := s.next.UpdateStatus(ctx, executionID, status, startedAt, completedAt)
	observe("update_status", err)
	return err
}

func (s *instrumentedStore) Update(ctx context.Context, exec *types.Execution) error {
	err := s.next.Update(ctx, exec)
	observe("update", err)
	return err
}

func (s *instrumentedStore) AppendEvent(ctx context.Context, executionID string, input *types.EventInput) (*types.Event, error) {
	event, err := s.next.AppendEvent(ctx, executionID, input)
	observe("append_event", err)
	return event, err
}

func (s *instrumentedStore) EventsSince(ctx context.Context, executionID string, lastEventID string) ([]*types.Event, error) {
	events, err := s.next.EventsSince(ctx, executionID, lastEventID)
	observe("events_since", err)
	return events, err
}

func (s *instrumentedStore) Subscribe(ctx context.Context, executionID string) (<-chan *types.Event, func(), error) {
	ch, cancel, err := s.next.Subscribe(ctx, executionID)
	observe("subscribe", err)
	return ch, cancel, err
}

func (s *instrumentedStore) AdapterInfo(ctx context.Context) (map[string]interface{}, error) {
	return s.next.AdapterInfo(ctx)
}

func (s *instrumentedStore) Close() error {
	return s.next.Close()
}

func observe(operation string, err error) {
	result := "success"
	if err != nil {
		result = "error"
	}
	metrics.StoreOperations.WithLabelValues("executions", operation, result).Inc()
}
