package flowstore

import (
	"context"

	"github.com/flowmesh/flowmesh/internal/metrics"
	"github.com/flowmesh/flowmesh/pkg/types"
)

// Instrument wraps a Store so every operation is counted in the
// store_operations_total metric under the "workflows" store label.
func Instrument(next Store) Store {
	return &instrumentedStore{next: next}
}

type instrumentedStore struct {
	next Store
}

func (s *instrumentedStore) Create(ctx context.Context, req *CreateRequest) (*types.Workflow, error) {
	wf, err := s.next.Create(ctx, req)
	observe("create", err)
	return wf, err
}

func (s *instrumentedStore) Get(ctx context.Context, id string) (*types.Workflow, error) {
	wf, err := s.next.Get(ctx, id)
	observe("get", err)
	return wf, err
}

func (s *instrumentedStore) Update(ctx context.Context, id string, req *UpdateRequest) (*types.Workflow, error) {
	wf, err := s.next.Update(ctx, id, req)
	observe("update", err)
	return wf, err
}

func (s *instrumentedStore) Delete(ctx context.Context, id string) error {
	err := s.next.Delete(ctx, id)
	observe("delete", err)
	return err
}

func (s *instrumentedStore) List(ctx context.Context, opts *ListOptions) ([]*types.Workflow, error) {
	workflows, err := s.next.List(ctx, opts)
	observe("list", err)
	return workflows, err
}

func (s *instrumentedStore) Close() error {
	return s.next.Close()
}

func observe(operation string, err error) {
	result := "success"
	if err != nil {
		result = "error"
	}
	metrics.StoreOperations.WithLabelValues("workflows", operation, result).Inc()
}
